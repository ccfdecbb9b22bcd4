package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"cortexguard/scanhub/internal/config"
	"cortexguard/scanhub/internal/handler"
	"cortexguard/scanhub/internal/simulate"
)

func main() {
	flags := pflag.NewFlagSet("scanhub", pflag.ExitOnError)
	configPath := flags.String("config", "config.yaml", "path to the YAML config file")
	flags.String("variant", "", "service variant: baseline, blocking, nonblocking or fixed")
	_ = flags.Parse(os.Args[1:])

	// 1. Load configuration
	cfg, err := config.Load(*configPath, flags)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// 2. Initialize logger
	logger, err := newLogger(cfg.Log)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Metrics registry
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// 4. Scan simulator, warmed before the listener opens
	sim, err := simulate.New(cfg.Model.Simulation(), simulate.NewRand(cfg.Model.Seed), simulate.WithLogger(logger))
	if err != nil {
		logger.Fatal("failed to init scan simulator", zap.Error(err))
	}
	if err := sim.Warmup(ctx); err != nil {
		logger.Fatal("model warm-up interrupted", zap.Error(err))
	}
	logger.Info("scan simulator ready",
		zap.String("mode", string(sim.Mode())),
		zap.Uint64("seed", cfg.Model.Seed))

	// 5. Wire the selected variant
	app, err := buildVariant(ctx, cfg, sim, reg, logger)
	if err != nil {
		logger.Fatal("failed to build service variant", zap.Error(err), zap.String("variant", cfg.Server.Variant))
	}

	// 6. Setup router
	app.routes.Metrics = promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
	router := handler.SetupRouter(cfg, logger, app.routes)

	// 7. Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 8. Start server with graceful shutdown
	go func() {
		logger.Info("server starting", zap.String("addr", addr), zap.String("variant", cfg.Server.Variant))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// 9. Wait for interrupt signal
	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	app.shutdown(shutdownCtx)
	logger.Info("server exited gracefully")
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zcfg := zap.NewDevelopmentConfig()
	if cfg.Format == "json" {
		zcfg = zap.NewProductionConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zcfg.Level = level
	return zcfg.Build()
}
