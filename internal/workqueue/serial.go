package workqueue

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Serial.Do after Close.
var ErrClosed = errors.New("workqueue: closed")

// Serial executes submitted functions one at a time in submission order.
type Serial struct {
	jobs chan serialJob
	done chan struct{}

	mu     sync.RWMutex
	closed bool
}

type serialJob struct {
	ctx    context.Context
	fn     func(ctx context.Context) error
	result chan error
}

func NewSerial() *Serial {
	s := &Serial{
		jobs: make(chan serialJob),
		done: make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *Serial) loop() {
	defer close(s.done)
	for job := range s.jobs {
		if err := job.ctx.Err(); err != nil {
			job.result <- err
			continue
		}
		job.result <- job.fn(job.ctx)
	}
}

// Do runs fn after every previously submitted function and returns its error.
// If ctx ends while fn is still waiting its turn, Do returns ctx.Err() and fn
// never runs.
func (s *Serial) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	job := serialJob{ctx: ctx, fn: fn, result: make(chan error, 1)}
	select {
	case s.jobs <- job:
		s.mu.RUnlock()
	case <-ctx.Done():
		s.mu.RUnlock()
		return ctx.Err()
	}
	return <-job.result
}

// Close rejects new work and waits for the running function to return.
func (s *Serial) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.closed = true
	close(s.jobs)
	s.mu.Unlock()
	<-s.done
}
