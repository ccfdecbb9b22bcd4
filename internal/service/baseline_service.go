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
	"cortexguard/scanhub/internal/simulate"
)

// baselineService funnels every traffic class into one shared limiter with no
// admission timeout. Only the overall request deadline bounds the caller; once
// admitted, the scan keeps its slot until it finishes even if nobody waits
// for the answer any more.
type baselineService struct {
	shared   *limiter.Limiter
	scanner  Scanner
	deadline time.Duration
	class    TrafficClass
	recorder *metrics.Recorder
	logger   *zap.Logger
}

func NewBaselineService(
	shared *limiter.Limiter,
	scanner Scanner,
	requestDeadline time.Duration,
	class TrafficClass,
	recorder *metrics.Recorder,
	logger *zap.Logger,
) SyncScanService {
	return &baselineService{
		shared:   shared,
		scanner:  scanner,
		deadline: requestDeadline,
		class:    class,
		recorder: recorder,
		logger:   logger,
	}
}

type scanned struct {
	out     simulate.Outcome
	err     error
	elapsed time.Duration
}

func (s *baselineService) Scan(ctx context.Context, req model.ScanRequest) (*ScanOutcome, error) {
	started := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.deadline)
	defer cancel()

	tok, err := s.shared.Acquire(ctx, limiter.WaitForever)
	if err != nil {
		return nil, s.callerGone(ctx, req, "waiting for shared capacity")
	}
	s.recorder.Admitted(tok.Waited())

	done := make(chan scanned, 1)
	go func() {
		defer tok.Release()
		defer s.recorder.Released()
		t0 := time.Now()
		out, err := s.scanner.Scan(context.WithoutCancel(ctx))
		done <- scanned{out: out, err: err, elapsed: time.Since(t0)}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			s.recorder.Failed()
			return nil, fmt.Errorf("scan %s: %w", req.ID, r.err)
		}
		s.recorder.Completed(r.out.Verdict, r.elapsed)
		return &ScanOutcome{
			RequestID:  req.ID,
			Verdict:    r.out.Verdict,
			Latency:    r.elapsed,
			Waited:     tok.Waited(),
			ModelMode:  s.scanner.Mode(),
			StartedAt:  started,
			FinishedAt: time.Now(),
		}, nil
	case <-ctx.Done():
		return nil, s.callerGone(ctx, req, "scanning")
	}
}

func (s *baselineService) callerGone(ctx context.Context, req model.ScanRequest, phase string) error {
	if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ctx.Err()
	}
	s.recorder.Rejected(ReasonRequestDeadlineExceeded)
	s.logger.Warn("request deadline exceeded",
		zap.String("request_id", req.ID.String()),
		zap.String("class", string(s.class)),
		zap.String("phase", phase),
		zap.Int("in_use", s.shared.InUse()),
		zap.Int("waiting", s.shared.Waiting()))
	return fmt.Errorf("%w while %s after %s", ErrRequestDeadlineExceeded, phase, s.deadline)
}
