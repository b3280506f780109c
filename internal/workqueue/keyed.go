// Package workqueue runs work items with ordering guarantees.
package workqueue

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Job is a unit of work. The context is cancelled when the queue stops.
type Job func(ctx context.Context)

// Keyed runs jobs with the same key strictly in submission order and jobs
// with different keys concurrently. A lane is created on first use and
// removed once it has drained.
type Keyed struct {
	log *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	lanes   map[string]*lane
	stopped bool
	wg      sync.WaitGroup
}

type lane struct {
	pending []Job
}

func NewKeyed(log *zap.Logger) *Keyed {
	ctx, cancel := context.WithCancel(context.Background())
	return &Keyed{
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		lanes:  make(map[string]*lane),
	}
}

// Enqueue appends job to the lane of key. It returns false once the queue is stopped.
func (q *Keyed) Enqueue(key string, job Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return false
	}
	if l, ok := q.lanes[key]; ok {
		l.pending = append(l.pending, job)
		return true
	}
	l := &lane{pending: []Job{job}}
	q.lanes[key] = l
	q.wg.Add(1)
	go q.drain(key, l)
	return true
}

func (q *Keyed) drain(key string, l *lane) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		if q.stopped || len(l.pending) == 0 {
			delete(q.lanes, key)
			q.mu.Unlock()
			return
		}
		job := l.pending[0]
		l.pending[0] = nil
		l.pending = l.pending[1:]
		q.mu.Unlock()

		q.run(key, job)
	}
}

func (q *Keyed) run(key string, job Job) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("job panicked", zap.String("key", key), zap.String("panic", fmt.Sprint(r)))
		}
	}()
	job(q.ctx)
}

// Len returns the number of live lanes.
func (q *Keyed) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lanes)
}

// Stop drops all queued jobs, cancels the context handed to running jobs and
// waits for them to return.
func (q *Keyed) Stop() {
	q.mu.Lock()
	q.stopped = true
	for _, l := range q.lanes {
		l.pending = nil
	}
	q.mu.Unlock()
	q.cancel()
	q.wg.Wait()
}
