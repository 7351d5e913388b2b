// Package result provides the uniform envelope returned by every workflow
// operation. Operations never return a Go error across the service boundary;
// failures are reported as an error-status Result carrying a Kind.
package result

// Status is the caller-facing outcome of an operation.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusInfo    Status = "info"
)

// Kind classifies an error result so transports can map it to a response code.
type Kind string

const (
	KindNone          Kind = ""
	KindValidation    Kind = "validation"
	KindNotFound      Kind = "not_found"
	KindConflict      Kind = "conflict"
	KindExpired       Kind = "expired"
	KindTransactional Kind = "transactional"
	KindDispatch      Kind = "dispatch"
	KindInternal      Kind = "internal"
)

// Result is the tagged outcome of an operation.
type Result[T any] struct {
	Status  Status `json:"status"`
	Kind    Kind   `json:"kind,omitempty"`
	Message string `json:"message"`
	Data    T      `json:"data,omitempty"`
}

// Ok returns a success result carrying data.
func Ok[T any](message string, data T) Result[T] {
	return Result[T]{Status: StatusSuccess, Message: message, Data: data}
}

// Info returns an informational result, used for idempotent no-ops.
func Info[T any](message string) Result[T] {
	return Result[T]{Status: StatusInfo, Message: message}
}

// Err returns an error result of the given kind.
func Err[T any](kind Kind, message string) Result[T] {
	return Result[T]{Status: StatusError, Kind: kind, Message: message}
}

// IsOK reports whether the operation succeeded.
func (r Result[T]) IsOK() bool { return r.Status == StatusSuccess }

// IsError reports whether the operation failed.
func (r Result[T]) IsError() bool { return r.Status == StatusError }

// Empty is the data type for results that carry no payload.
type Empty struct{}
