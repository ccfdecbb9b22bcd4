package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"cortexguard/scanhub/internal/limiter"
	"cortexguard/scanhub/internal/metrics"
	"cortexguard/scanhub/internal/model"
)

// blockingService owns an isolated limiter. Callers that cannot be admitted
// within the admission timeout are rejected before any work starts; admitted
// scans are cut off at the scan deadline and give their slot back.
type blockingService struct {
	limiter          *limiter.Limiter
	scanner          Scanner
	admissionTimeout time.Duration
	scanDeadline     time.Duration
	recorder         *metrics.Recorder
	logger           *zap.Logger
}

func NewBlockingService(
	isolated *limiter.Limiter,
	scanner Scanner,
	admissionTimeout time.Duration,
	scanDeadline time.Duration,
	recorder *metrics.Recorder,
	logger *zap.Logger,
) SyncScanService {
	return &blockingService{
		limiter:          isolated,
		scanner:          scanner,
		admissionTimeout: admissionTimeout,
		scanDeadline:     scanDeadline,
		recorder:         recorder,
		logger:           logger,
	}
}

func (s *blockingService) Scan(ctx context.Context, req model.ScanRequest) (*ScanOutcome, error) {
	started := time.Now()
	tok, err := s.limiter.Acquire(ctx, s.admissionTimeout)
	if err != nil {
		if errors.Is(err, ErrAdmissionTimeout) {
			s.recorder.Rejected(ReasonOverCapacity)
			s.logger.Debug("rejected over capacity",
				zap.String("request_id", req.ID.String()),
				zap.Duration("admission_timeout", s.admissionTimeout))
		}
		return nil, err
	}
	defer tok.Release()
	s.recorder.Admitted(tok.Waited())
	defer s.recorder.Released()

	scanCtx, cancel := context.WithTimeoutCause(ctx, s.scanDeadline, ErrScanDeadlineExceeded)
	defer cancel()

	t0 := time.Now()
	out, err := s.scanner.Scan(scanCtx)
	elapsed := time.Since(t0)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.Is(context.Cause(scanCtx), ErrScanDeadlineExceeded):
			s.recorder.Rejected(ReasonScanDeadlineExceeded)
			s.logger.Warn("scan deadline exceeded",
				zap.String("request_id", req.ID.String()),
				zap.Duration("scan_deadline", s.scanDeadline))
			return nil, fmt.Errorf("%w after %s", ErrScanDeadlineExceeded, s.scanDeadline)
		default:
			s.recorder.Failed()
			return nil, fmt.Errorf("scan %s: %w", req.ID, err)
		}
	}

	s.recorder.Completed(out.Verdict, elapsed)
	return &ScanOutcome{
		RequestID:  req.ID,
		Verdict:    out.Verdict,
		Latency:    elapsed,
		Waited:     tok.Waited(),
		ModelMode:  s.scanner.Mode(),
		StartedAt:  started,
		FinishedAt: time.Now(),
	}, nil
}
