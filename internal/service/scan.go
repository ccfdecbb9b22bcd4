package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"cortexguard/scanhub/internal/model"
	"cortexguard/scanhub/internal/simulate"
)

// TrafficClass names the caller's latency tolerance.
type TrafficClass string

const (
	TrafficBlocking    TrafficClass = "blocking"
	TrafficNonBlocking TrafficClass = "nonblocking"
)

// Scanner runs one unit of simulated scan work.
type Scanner interface {
	Scan(ctx context.Context) (simulate.Outcome, error)
	Mode() simulate.Mode
}

// ScanOutcome is a synchronous scan's answer.
type ScanOutcome struct {
	RequestID  uuid.UUID
	Verdict    model.Verdict
	Latency    time.Duration
	Waited     time.Duration
	ModelMode  simulate.Mode
	StartedAt  time.Time
	FinishedAt time.Time
}

// SyncScanService answers a scan inline.
type SyncScanService interface {
	Scan(ctx context.Context, req model.ScanRequest) (*ScanOutcome, error)
}
