// Package dispatch runs blocking driver steps on a pool of background
// workers and hands each outcome back on a single foreground goroutine.
package dispatch

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/tomyedwab/odbcbridge/odbc"
)

const (
	defaultDepth = 256
)

var (
	ErrQueueFull   = errors.New("dispatch: queue is full")
	ErrQueueClosed = errors.New("dispatch: queue is closed")
)

// Operation is one scheduled unit of work. InvokeBackground runs on a
// worker; CompleteForeground receives its outcome on the foreground
// goroutine. done=false with a nil error means the work is still pending
// and must be scheduled again.
type Operation interface {
	InvokeBackground() (done bool, err error)
	CompleteForeground(done bool, err error)
}

// Config holds configuration options for a Queue.
type Config struct {
	Workers int          // Optional, defaults to runtime.NumCPU()
	Depth   int          // Optional, defaults to 256 pending operations
	Logger  *slog.Logger // Optional, defaults to slog.Default()
	// Post is an optional hand-off that runs a completion on the caller's
	// own loop. By default completions run in order on one goroutine
	// owned by the queue.
	Post func(func())
}

// Queue is the background executor. Schedule never blocks.
type Queue struct {
	logger *slog.Logger
	work   chan Operation
	post   func(func())

	// Completions waiting for the foreground goroutine, when Post is unset.
	completions chan func()

	mu     sync.RWMutex
	closed bool

	workers    sync.WaitGroup
	foreground sync.WaitGroup
}

// New starts the workers and, unless Config.Post is set, the foreground
// goroutine.
func New(config Config) *Queue {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	workers := config.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	depth := config.Depth
	if depth <= 0 {
		depth = defaultDepth
	}

	q := &Queue{
		logger: logger.With("component", "Dispatcher"),
		work:   make(chan Operation, depth),
		post:   config.Post,
	}
	if q.post == nil {
		q.completions = make(chan func(), depth)
		q.post = func(f func()) { q.completions <- f }
		q.foreground.Add(1)
		go q.foregroundLoop()
	}

	q.workers.Add(workers)
	for i := 0; i < workers; i++ {
		go q.workerLoop(i)
	}
	q.logger.Debug("Dispatcher started", "workers", workers, "depth", depth)
	return q
}

// Schedule submits op for one background invocation. It fails with a
// scheduling error when the queue is full or closed.
func (q *Queue) Schedule(op Operation) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return odbc.NewSchedulingError("unable to schedule operation", ErrQueueClosed)
	}
	select {
	case q.work <- op:
		return nil
	default:
		return odbc.NewSchedulingError("unable to schedule operation", ErrQueueFull)
	}
}

// Close stops accepting work, lets the workers finish what is queued and
// waits for every completion to be delivered.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.work)
	q.mu.Unlock()

	q.logger.Debug("Stopping dispatcher...")
	q.workers.Wait()
	if q.completions != nil {
		close(q.completions)
		q.foreground.Wait()
	}
	q.logger.Debug("Dispatcher stopped.")
}

func (q *Queue) workerLoop(id int) {
	defer q.workers.Done()
	for op := range q.work {
		done, err := q.invoke(id, op)
		q.post(func() { q.complete(op, done, err) })
	}
}

func (q *Queue) invoke(worker int, op Operation) (done bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("Operation panicked", "worker", worker, "panic", r)
			done, err = false, fmt.Errorf("dispatch: operation panicked: %v", r)
		}
	}()
	return op.InvokeBackground()
}

func (q *Queue) complete(op Operation, done bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("Completion callback panicked", "panic", r)
		}
	}()
	op.CompleteForeground(done, err)
}

func (q *Queue) foregroundLoop() {
	defer q.foreground.Done()
	for f := range q.completions {
		f()
	}
}
