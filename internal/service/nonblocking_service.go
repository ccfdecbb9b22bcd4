package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cortexguard/scanhub/internal/metrics"
	"cortexguard/scanhub/internal/model"
	"cortexguard/scanhub/internal/queue"
	"cortexguard/scanhub/internal/repository"
)

// Accepted acknowledges an enqueued scan.
type Accepted struct {
	RequestID  uuid.UUID
	EnqueuedAt time.Time
}

type NonBlockingService interface {
	Submit(ctx context.Context, req model.ScanRequest) (*Accepted, error)
	Status(ctx context.Context, id uuid.UUID) (model.ScanResult, error)
}

type nonBlockingService struct {
	queue    *queue.Queue
	results  repository.ResultStore
	recorder *metrics.Recorder
	logger   *zap.Logger
}

// NewNonBlockingService accepts scans into q without any admission limiter.
// The workers draining q are started separately.
func NewNonBlockingService(q *queue.Queue, results repository.ResultStore, recorder *metrics.Recorder, logger *zap.Logger) NonBlockingService {
	recorder.TrackQueue(q.Depth)
	return &nonBlockingService{
		queue:    q,
		results:  results,
		recorder: recorder,
		logger:   logger,
	}
}

func (s *nonBlockingService) Submit(ctx context.Context, req model.ScanRequest) (*Accepted, error) {
	if s.queue.Depth() >= s.queue.MaxDepth() {
		return nil, s.reject(req, ErrQueueFull)
	}

	job := model.NewJob(req)
	if err := s.results.Put(ctx, model.PendingResult(req, job.EnqueuedAt)); err != nil {
		return nil, fmt.Errorf("seed pending result: %w", err)
	}
	if err := s.queue.Enqueue(job); err != nil {
		if derr := s.results.Delete(ctx, req.ID); derr != nil {
			s.logger.Error("drop pending result", zap.String("request_id", req.ID.String()), zap.Error(derr))
		}
		return nil, s.reject(req, err)
	}
	return &Accepted{RequestID: req.ID, EnqueuedAt: job.EnqueuedAt}, nil
}

func (s *nonBlockingService) reject(req model.ScanRequest, err error) error {
	if errors.Is(err, ErrQueueFull) {
		s.recorder.Rejected(ReasonQueueFull)
		s.logger.Debug("rejected queue full",
			zap.String("request_id", req.ID.String()),
			zap.Int("max_depth", s.queue.MaxDepth()))
	}
	return err
}

func (s *nonBlockingService) Status(ctx context.Context, id uuid.UUID) (model.ScanResult, error) {
	return s.results.Get(ctx, id)
}
