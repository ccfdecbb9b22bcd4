package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"cortexguard/scanhub/internal/config"
	"cortexguard/scanhub/internal/handler"
	"cortexguard/scanhub/internal/limiter"
	"cortexguard/scanhub/internal/metrics"
	"cortexguard/scanhub/internal/queue"
	"cortexguard/scanhub/internal/repository"
	"cortexguard/scanhub/internal/service"
	"cortexguard/scanhub/internal/simulate"
	"cortexguard/scanhub/internal/worker"
)

// variant is a wired service variant: its routes and the teardown for any
// background machinery it started.
type variant struct {
	routes  handler.Routes
	closers []func(ctx context.Context)
}

func (v *variant) shutdown(ctx context.Context) {
	for i := len(v.closers) - 1; i >= 0; i-- {
		v.closers[i](ctx)
	}
}

func buildVariant(ctx context.Context, cfg *config.Config, sim *simulate.Simulator, reg prometheus.Registerer, logger *zap.Logger) (*variant, error) {
	v := &variant{routes: handler.Routes{
		Sync:  map[string]*handler.ScanHandler{},
		Async: map[string]*handler.AsyncScanHandler{},
	}}

	switch cfg.Server.Variant {
	case config.VariantBaseline:
		shared, err := limiter.New("shared", cfg.Baseline.SharedConcurrency)
		if err != nil {
			return nil, err
		}
		rec := metrics.NewRecorder(config.VariantBaseline, reg)
		deadline := cfg.Baseline.RequestDeadlineDuration()
		blocking := handler.NewScanHandler(
			service.NewBaselineService(shared, sim, deadline, service.TrafficBlocking, rec, logger), logger)
		nonBlocking := handler.NewScanHandler(
			service.NewBaselineService(shared, sim, deadline, service.TrafficNonBlocking, rec, logger), logger)
		v.routes.Sync["/scan"] = blocking
		v.routes.Sync["/scan/blocking"] = blocking
		v.routes.Sync["/scan/nonblocking"] = nonBlocking
		v.routes.Ops = handler.NewOpsHandler(cfg.Server.Variant, rec)

	case config.VariantBlocking:
		h, rec, err := buildBlocking(cfg, sim, reg, logger)
		if err != nil {
			return nil, err
		}
		v.routes.Sync["/scan"] = h
		v.routes.Ops = handler.NewOpsHandler(cfg.Server.Variant, rec)

	case config.VariantNonBlocking:
		h, rec, err := v.buildNonBlocking(ctx, cfg, sim, reg, logger)
		if err != nil {
			return nil, err
		}
		v.routes.Async["/scan"] = h
		v.routes.Status = h
		v.routes.Ops = handler.NewOpsHandler(cfg.Server.Variant, rec)

	case config.VariantFixed:
		bh, brec, err := buildBlocking(cfg, sim, reg, logger)
		if err != nil {
			return nil, err
		}
		nh, nrec, err := v.buildNonBlocking(ctx, cfg, sim, reg, logger)
		if err != nil {
			return nil, err
		}
		v.routes.Sync["/scan/blocking"] = bh
		v.routes.Async["/scan/nonblocking"] = nh
		v.routes.Status = nh
		v.routes.Ops = handler.NewOpsHandler(cfg.Server.Variant, brec, nrec)

	default:
		return nil, fmt.Errorf("unknown service variant %q", cfg.Server.Variant)
	}
	return v, nil
}

func buildBlocking(cfg *config.Config, sim *simulate.Simulator, reg prometheus.Registerer, logger *zap.Logger) (*handler.ScanHandler, *metrics.Recorder, error) {
	isolated, err := limiter.New("blocking", cfg.Blocking.MaxConcurrency)
	if err != nil {
		return nil, nil, err
	}
	rec := metrics.NewRecorder(config.VariantBlocking, reg)
	svc := service.NewBlockingService(isolated, sim,
		cfg.Blocking.AdmissionTimeoutDuration(), cfg.Blocking.ScanDeadlineDuration(), rec, logger)
	logger.Info("blocking path ready",
		zap.Int("max_concurrency", cfg.Blocking.MaxConcurrency),
		zap.Duration("admission_timeout", cfg.Blocking.AdmissionTimeoutDuration()),
		zap.Duration("scan_deadline", cfg.Blocking.ScanDeadlineDuration()))
	return handler.NewScanHandler(svc, logger), rec, nil
}

func (v *variant) buildNonBlocking(ctx context.Context, cfg *config.Config, sim *simulate.Simulator, reg prometheus.Registerer, logger *zap.Logger) (*handler.AsyncScanHandler, *metrics.Recorder, error) {
	q, err := queue.New(cfg.NonBlocking.MaxQueueDepth)
	if err != nil {
		return nil, nil, err
	}
	store := repository.NewMemoryResultStore(cfg.NonBlocking.ResultTTLDuration(), logger)
	store.Start()
	v.closers = append(v.closers, func(context.Context) { store.Stop() })

	rec := metrics.NewRecorder(config.VariantNonBlocking, reg)
	svc := service.NewNonBlockingService(q, store, rec, logger)

	pool, err := worker.NewPool(cfg.NonBlocking.Workers, q, sim, store, rec, logger)
	if err != nil {
		return nil, nil, err
	}
	// Workers outlive the signal context; shutdown stops them explicitly.
	pool.Start(context.WithoutCancel(ctx))
	v.closers = append(v.closers, func(ctx context.Context) {
		if err := pool.Stop(ctx); err != nil {
			logger.Warn("workers did not drain before shutdown deadline", zap.Error(err))
		}
	})
	logger.Info("non-blocking path ready",
		zap.Int("workers", pool.Size()),
		zap.Int("max_queue_depth", q.MaxDepth()),
		zap.Duration("result_ttl", cfg.NonBlocking.ResultTTLDuration()))
	return handler.NewAsyncScanHandler(svc, logger), rec, nil
}
