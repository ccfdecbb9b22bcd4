// Package worker drains the job queue with a fixed number of background
// workers and records every job's terminal result.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"cortexguard/scanhub/internal/model"
	"cortexguard/scanhub/internal/queue"
	"cortexguard/scanhub/internal/repository"
	"cortexguard/scanhub/internal/simulate"
)

var ErrJobPanicked = errors.New("job panicked")

// Scanner performs the work for one job.
type Scanner interface {
	Scan(ctx context.Context) (simulate.Outcome, error)
}

// Observer is notified about job outcomes.
type Observer interface {
	JobStarted()
	JobCompleted(verdict model.Verdict, elapsed time.Duration)
	JobFailed(elapsed time.Duration)
}

type noopObserver struct{}

func (noopObserver) JobStarted()                               {}
func (noopObserver) JobCompleted(model.Verdict, time.Duration) {}
func (noopObserver) JobFailed(time.Duration)                   {}

type Pool struct {
	size     int
	queue    *queue.Queue
	scanner  Scanner
	store    repository.ResultStore
	observer Observer
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	group  *errgroup.Group
}

func NewPool(size int, q *queue.Queue, scanner Scanner, store repository.ResultStore, observer Observer, logger *zap.Logger) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("worker count must be positive, got %d", size)
	}
	if observer == nil {
		observer = noopObserver{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		size:     size,
		queue:    q,
		scanner:  scanner,
		store:    store,
		observer: observer,
		logger:   logger,
	}, nil
}

func (p *Pool) Size() int { return p.size }

// Start launches the workers. They run until Stop is called or ctx ends.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.group != nil {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.group, ctx = errgroup.WithContext(ctx)
	for i := 0; i < p.size; i++ {
		p.group.Go(func() error {
			p.loop(ctx, i)
			return nil
		})
	}
	p.logger.Info("workers started", zap.Int("workers", p.size))
}

// Stop closes the queue and waits for the workers to drain it. If ctx ends
// first, in-flight jobs are cancelled and recorded as errors.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	group, cancel := p.group, p.cancel
	p.mu.Unlock()
	p.queue.Close()
	if group == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- group.Wait() }()
	select {
	case err := <-done:
		cancel()
		return err
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	}
}

func (p *Pool) loop(ctx context.Context, worker int) {
	for {
		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if !errors.Is(err, queue.ErrQueueClosed) && ctx.Err() == nil {
				p.logger.Error("dequeue failed", zap.Int("worker", worker), zap.Error(err))
			}
			return
		}
		p.process(ctx, worker, job)
	}
}

// process never lets a single job's failure escape into the worker loop.
func (p *Pool) process(ctx context.Context, worker int, job model.Job) {
	start := time.Now()
	base := model.PendingResult(job.Request, job.EnqueuedAt).Processing(start)
	p.observer.JobStarted()

	out, err := p.run(ctx, base)
	elapsed := time.Since(start)

	// The terminal write must land even when shutdown cancelled the scan.
	writeCtx := context.WithoutCancel(ctx)
	if err != nil {
		p.observer.JobFailed(elapsed)
		p.logger.Warn("job failed",
			zap.Int("worker", worker),
			zap.String("job_id", job.Request.ID.String()),
			zap.Error(err))
		if perr := p.store.Put(writeCtx, base.Failed(err.Error(), elapsed, time.Now())); perr != nil {
			p.logger.Error("record failure", zap.String("job_id", job.Request.ID.String()), zap.Error(perr))
		}
		return
	}

	if perr := p.store.Put(writeCtx, base.Done(out.Verdict, elapsed, time.Now())); perr != nil {
		p.observer.JobFailed(elapsed)
		p.logger.Error("record result", zap.String("job_id", job.Request.ID.String()), zap.Error(perr))
		return
	}
	p.observer.JobCompleted(out.Verdict, elapsed)
}

func (p *Pool) run(ctx context.Context, base model.ScanResult) (out simulate.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrJobPanicked, r)
		}
	}()
	if err := p.store.Put(ctx, base); err != nil {
		return out, fmt.Errorf("mark processing: %w", err)
	}
	return p.scanner.Scan(ctx)
}
