// Package queue runs fire-and-forget background work on a bounded worker pool.
//
// Tasks carry identifiers only. Handlers reload whatever state they need, so a
// task that runs late or twice observes the current rows rather than a stale
// snapshot.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"

	"signflow/backend/internal/logging"
)

var (
	// ErrClosed is returned by Enqueue after Close.
	ErrClosed = errors.New("queue is closed")
	// ErrFull is returned when the buffer has no room for another task.
	ErrFull = errors.New("queue is full")
)

// Kind selects the handler for a task.
type Kind string

const (
	KindDispatch    Kind = "dispatch"
	KindRemind      Kind = "remind"
	KindExpirySweep Kind = "expiry_sweep"
)

// Task identifies a unit of background work.
type Task struct {
	Kind        Kind
	WorkflowID  string
	RecipientID string
}

func (t Task) String() string {
	return fmt.Sprintf("%s(workflow=%s recipient=%s)", t.Kind, t.WorkflowID, t.RecipientID)
}

// Handler processes one task.
type Handler func(ctx context.Context, task Task) error

// Queue buffers tasks and runs them with at most Workers concurrent handlers.
type Queue struct {
	logger   *logging.Logger
	workers  int
	tasks    chan Task
	handlers map[Kind]Handler

	mu      sync.Mutex
	idle    *sync.Cond
	pending int
	closed  bool
	started bool

	done chan struct{}
}

// New creates a Queue. Register handlers before calling Start.
func New(logger *logging.Logger, workers, buffer int) *Queue {
	if workers < 1 {
		workers = 1
	}
	if buffer < 1 {
		buffer = 1
	}
	q := &Queue{
		logger:   logger.With("component", "queue"),
		workers:  workers,
		tasks:    make(chan Task, buffer),
		handlers: make(map[Kind]Handler),
		done:     make(chan struct{}),
	}
	q.idle = sync.NewCond(&q.mu)
	return q
}

// Handle registers the handler for kind, replacing any previous one.
func (q *Queue) Handle(kind Kind, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[kind] = h
}

// Start begins consuming tasks. Handlers receive ctx; cancelling it does not
// stop the queue, Close does.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	go func() {
		defer close(q.done)
		p := pool.New().WithMaxGoroutines(q.workers)
		for task := range q.tasks {
			p.Go(func() { q.run(ctx, task) })
		}
		p.Wait()
	}()
}

// Enqueue schedules task without blocking.
func (q *Queue) Enqueue(task Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.tasks <- task:
		q.pending++
		return nil
	default:
		return ErrFull
	}
}

// Flush blocks until every enqueued task has finished or ctx ends.
func (q *Queue) Flush(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.idle.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for q.pending > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		q.idle.Wait()
	}
	return nil
}

// Close stops accepting tasks and waits for queued ones to finish.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	started := q.started
	close(q.tasks)
	q.mu.Unlock()

	if started {
		<-q.done
	}
}

func (q *Queue) run(ctx context.Context, task Task) {
	defer q.finish()

	q.mu.Lock()
	h, ok := q.handlers[task.Kind]
	q.mu.Unlock()
	if !ok {
		q.logger.Error("no handler registered", "task", task.String())
		return
	}

	var err error
	var pc panics.Catcher
	pc.Try(func() { err = h(ctx, task) })
	if r := pc.Recovered(); r != nil {
		err = r.AsError()
	}
	if err != nil {
		q.logger.Error("background task failed",
			"kind", task.Kind,
			"workflow_id", task.WorkflowID,
			"recipient_id", task.RecipientID,
			"error", err,
		)
	}
}

func (q *Queue) finish() {
	q.mu.Lock()
	q.pending--
	if q.pending == 0 {
		q.idle.Broadcast()
	}
	q.mu.Unlock()
}
