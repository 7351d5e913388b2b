package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"signflow/backend/pkg/result"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthStatus represents the health check response
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
	Database  string    `json:"database"`
}

// HandleHealth reports service and database health. An unreachable database
// yields 503 so load balancers stop routing to the instance.
func (s *Server) HandleHealth(c echo.Context) error {
	status := HealthStatus{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Service:   "signflow",
		Version:   Version,
		Database:  "ok",
	}
	code := http.StatusOK
	if s.db != nil {
		if err := s.db.Ping(c.Request().Context()); err != nil {
			s.logger.Error("health check failed", "error", err)
			status.Status = "degraded"
			status.Database = "unreachable"
			code = http.StatusServiceUnavailable
		}
	}
	return c.JSON(code, status)
}

// ProblemDetails represents an RFC 7807 Problem Details response
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Kind     string `json:"kind,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// writeError writes an RFC 7807 Problem Details JSON error response
func writeError(c echo.Context, status int, kind result.Kind, detail string) error {
	problem := ProblemDetails{
		Type:     "about:blank",
		Title:    http.StatusText(status),
		Status:   status,
		Detail:   detail,
		Kind:     string(kind),
		Instance: c.Request().URL.Path,
	}
	c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
	c.Response().WriteHeader(status)
	return json.NewEncoder(c.Response()).Encode(problem)
}

// statusFor maps a result kind onto an HTTP status code.
func statusFor(kind result.Kind) int {
	switch kind {
	case result.KindValidation:
		return http.StatusBadRequest
	case result.KindNotFound:
		return http.StatusNotFound
	case result.KindConflict:
		return http.StatusConflict
	case result.KindExpired:
		return http.StatusGone
	case result.KindDispatch:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respond writes a service result. Success uses okStatus; informational
// no-ops are 200 with the envelope; errors become Problem Details.
func respond[T any](c echo.Context, res result.Result[T], okStatus int) error {
	switch res.Status {
	case result.StatusError:
		return writeError(c, statusFor(res.Kind), res.Kind, res.Message)
	case result.StatusInfo:
		return c.JSON(http.StatusOK, res)
	default:
		return c.JSON(okStatus, res)
	}
}

// errorHandler renders framework errors (routing, binding, body limits) as
// Problem Details so every failure has the same shape.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status := http.StatusInternalServerError
	detail := http.StatusText(status)
	if he, ok := err.(*echo.HTTPError); ok {
		status = he.Code
		if msg, ok := he.Message.(string); ok {
			detail = msg
		} else {
			detail = http.StatusText(status)
		}
	}
	kind := result.KindInternal
	if status < http.StatusInternalServerError {
		kind = result.KindValidation
		if status == http.StatusNotFound {
			kind = result.KindNotFound
		}
	}
	_ = writeError(c, status, kind, detail)
}
