// Package queue provides the bounded FIFO job queue. A full queue rejects
// immediately instead of making producers wait.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"cortexguard/scanhub/internal/model"
)

var (
	ErrQueueFull   = errors.New("queue full")
	ErrQueueClosed = errors.New("queue closed")
)

type Queue struct {
	items chan model.Job

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func New(maxDepth int) (*Queue, error) {
	if maxDepth < 1 {
		return nil, fmt.Errorf("queue depth must be positive, got %d", maxDepth)
	}
	return &Queue{
		items: make(chan model.Job, maxDepth),
		done:  make(chan struct{}),
	}, nil
}

// Enqueue adds job to the tail or fails with ErrQueueFull without waiting.
func (q *Queue) Enqueue(job model.Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.items <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Dequeue blocks until a job is available, the queue is closed and drained,
// or ctx ends.
func (q *Queue) Dequeue(ctx context.Context) (model.Job, error) {
	select {
	case job := <-q.items:
		return job, nil
	case <-ctx.Done():
		return model.Job{}, ctx.Err()
	case <-q.done:
		select {
		case job := <-q.items:
			return job, nil
		default:
			return model.Job{}, ErrQueueClosed
		}
	}
}

// Close stops accepting jobs. Jobs already queued can still be dequeued.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

func (q *Queue) Depth() int { return len(q.items) }

func (q *Queue) MaxDepth() int { return cap(q.items) }
