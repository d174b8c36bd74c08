package dstore

import (
	"context"
	"sync"
)

// completionQueue is a thread-safe FIFO of callbacks posted by adapters
// completing work on other goroutines.
type completionQueue struct {
	mu     sync.Mutex
	fns    []func()
	signal chan struct{}
}

func newCompletionQueue() *completionQueue {
	return &completionQueue{
		fns:    make([]func(), 0, 16),
		signal: make(chan struct{}, 1),
	}
}

func (q *completionQueue) push(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.fns = append(q.fns, fn)

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *completionQueue) take() []func() {
	q.mu.Lock()
	defer q.mu.Unlock()

	fns := q.fns
	q.fns = make([]func(), 0, 16)
	return fns
}

func (q *completionQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.fns)
}

// Enqueue posts fn to run on the goroutine driving the store.
// It is safe to call from any goroutine.
func (s *Store) Enqueue(fn func()) {
	if fn == nil {
		return
	}
	s.queue.push(fn)
}

// Pending reports how many posted callbacks have not run yet.
func (s *Store) Pending() int {
	return s.queue.len()
}

// Drain runs posted callbacks on the caller's goroutine until the queue is
// empty. Each round of callbacks shares one batch.
func (s *Store) Drain() error {
	var err error
	for {
		fns := s.queue.take()
		if len(fns) == 0 {
			return err
		}

		runErr := s.Run(func() error {
			for _, fn := range fns {
				fn()
			}
			return nil
		})
		if err == nil {
			err = runErr
		}
	}
}

// RunLoop drains posted callbacks as they arrive until ctx is done.
// Errors from commits triggered by callbacks are logged.
func (s *Store) RunLoop(ctx context.Context) error {
	for {
		if err := s.Drain(); err != nil {
			s.logger.Error("drain failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.queue.signal:
		}
	}
}
