// Package simulate stands in for the ML scan: it produces a verdict and a
// suspension whose length depends on the model mode.
package simulate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"cortexguard/scanhub/internal/model"
)

type Mode string

const (
	// ModeCold pays the full load cost on every scan.
	ModeCold Mode = "cold"
	// ModeWarm pays the load cost once at startup and a short cost per scan.
	ModeWarm Mode = "warm"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeCold, ModeWarm:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown model mode %q", s)
}

type Config struct {
	Mode            Mode
	ColdLoadMin     time.Duration
	ColdLoadMax     time.Duration
	WarmStartupLoad time.Duration
	WarmScanMin     time.Duration
	WarmScanMax     time.Duration
	DenyProbability float64
}

func (c Config) Validate() error {
	if _, err := ParseMode(string(c.Mode)); err != nil {
		return err
	}
	if c.ColdLoadMin < 0 || c.ColdLoadMax < c.ColdLoadMin {
		return fmt.Errorf("invalid cold load range [%s, %s]", c.ColdLoadMin, c.ColdLoadMax)
	}
	if c.WarmScanMin < 0 || c.WarmScanMax < c.WarmScanMin {
		return fmt.Errorf("invalid warm scan range [%s, %s]", c.WarmScanMin, c.WarmScanMax)
	}
	if c.WarmStartupLoad < 0 {
		return fmt.Errorf("invalid warm startup load %s", c.WarmStartupLoad)
	}
	if c.DenyProbability < 0 || c.DenyProbability > 1 {
		return fmt.Errorf("deny probability %v outside [0, 1]", c.DenyProbability)
	}
	return nil
}

// Outcome is one unit of simulated work.
type Outcome struct {
	Verdict model.Verdict
	Delay   time.Duration
}

type Simulator struct {
	cfg    Config
	rng    *Rand
	waiter Waiter
	logger *zap.Logger

	warmOnce sync.Once
	warmErr  error
}

type Option func(*Simulator)

func WithWaiter(w Waiter) Option {
	return func(s *Simulator) { s.waiter = w }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Simulator) { s.logger = l }
}

func New(cfg Config, rng *Rand, opts ...Option) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		return nil, fmt.Errorf("simulator requires a generator")
	}
	s := &Simulator{
		cfg:    cfg,
		rng:    rng,
		waiter: TimerWaiter{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Simulator) Mode() Mode { return s.cfg.Mode }

// Warmup pays the one-time startup load in warm mode. Later calls return the
// first call's result without waiting again.
func (s *Simulator) Warmup(ctx context.Context) error {
	if s.cfg.Mode != ModeWarm {
		return nil
	}
	s.warmOnce.Do(func() {
		s.logger.Info("loading model", zap.Duration("startup_load", s.cfg.WarmStartupLoad))
		start := time.Now()
		s.warmErr = s.waiter.Wait(ctx, s.cfg.WarmStartupLoad)
		if s.warmErr == nil {
			s.logger.Info("model loaded and warm", zap.Duration("elapsed", time.Since(start)))
		}
	})
	return s.warmErr
}

// Draw takes the next verdict and delay from the shared generator without waiting.
func (s *Simulator) Draw() Outcome {
	lo, hi := s.cfg.WarmScanMin, s.cfg.WarmScanMax
	if s.cfg.Mode == ModeCold {
		lo, hi = s.cfg.ColdLoadMin, s.cfg.ColdLoadMax
	}
	d, deny := s.rng.draw(lo, hi, s.cfg.DenyProbability)
	v := model.VerdictAllow
	if deny {
		v = model.VerdictDeny
	}
	return Outcome{Verdict: v, Delay: d}
}

// Scan draws an outcome and suspends for its delay. It returns ctx.Err() if
// ctx ends first. Scan holds no lock while suspended.
func (s *Simulator) Scan(ctx context.Context) (Outcome, error) {
	out := s.Draw()
	if err := s.waiter.Wait(ctx, out.Delay); err != nil {
		return out, err
	}
	return out, nil
}
