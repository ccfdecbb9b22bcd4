package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"cortexguard/scanhub/internal/model"
)

var (
	ErrNotFound       = errors.New("result not found")
	ErrTerminalStatus = errors.New("result already in terminal status")
)

// ResultStore keeps asynchronous scan results for a limited time.
// Implementations: in-memory TTL store (results are process-local).
type ResultStore interface {
	// Put upserts result. Overwriting a done or error result fails with ErrTerminalStatus.
	Put(ctx context.Context, result model.ScanResult) error
	// Get returns ErrNotFound for unknown or expired ids.
	Get(ctx context.Context, id uuid.UUID) (model.ScanResult, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Len() int
}
