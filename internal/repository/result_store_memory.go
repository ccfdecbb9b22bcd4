package repository

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"

	"cortexguard/scanhub/internal/model"
)

const lockStripes = 64

// MemoryResultStore indexes results by id with a TTL that restarts on every
// Put. Writes to one id are serialized by a striped lock so ids on other
// stripes never wait on each other.
type MemoryResultStore struct {
	cache  *ttlcache.Cache[uuid.UUID, model.ScanResult]
	locks  [lockStripes]sync.Mutex
	logger *zap.Logger

	startOnce sync.Once
	stopOnce  sync.Once
}

func NewMemoryResultStore(ttl time.Duration, logger *zap.Logger) *MemoryResultStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &MemoryResultStore{
		cache: ttlcache.New(
			ttlcache.WithTTL[uuid.UUID, model.ScanResult](ttl),
			ttlcache.WithDisableTouchOnHit[uuid.UUID, model.ScanResult](),
		),
		logger: logger,
	}
	s.cache.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[uuid.UUID, model.ScanResult]) {
		if reason == ttlcache.EvictionReasonExpired {
			s.logger.Debug("result expired",
				zap.String("id", item.Key().String()),
				zap.String("status", string(item.Value().Status)))
		}
	})
	return s
}

// Start launches the background expiry sweep. Expired entries are hidden
// from Get whether or not the sweep has removed them yet.
func (s *MemoryResultStore) Start() {
	s.startOnce.Do(func() { go s.cache.Start() })
}

func (s *MemoryResultStore) Stop() {
	s.stopOnce.Do(s.cache.Stop)
}

func (s *MemoryResultStore) lockFor(id uuid.UUID) *sync.Mutex {
	h := fnv.New32a()
	h.Write(id[:])
	return &s.locks[h.Sum32()%lockStripes]
}

func (s *MemoryResultStore) Put(_ context.Context, result model.ScanResult) error {
	mu := s.lockFor(result.ID)
	mu.Lock()
	defer mu.Unlock()

	if cur, ok := s.lookup(result.ID); ok && !cur.Status.CanTransitionTo(result.Status) {
		return fmt.Errorf("%w: %s cannot become %s", ErrTerminalStatus, cur.Status, result.Status)
	}
	s.cache.Set(result.ID, result, ttlcache.DefaultTTL)
	return nil
}

func (s *MemoryResultStore) Get(_ context.Context, id uuid.UUID) (model.ScanResult, error) {
	if r, ok := s.lookup(id); ok {
		return r, nil
	}
	return model.ScanResult{}, ErrNotFound
}

func (s *MemoryResultStore) Delete(_ context.Context, id uuid.UUID) error {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()
	s.cache.Delete(id)
	return nil
}

// Len counts entries not yet swept, including expired ones awaiting removal.
func (s *MemoryResultStore) Len() int {
	return s.cache.Len()
}

func (s *MemoryResultStore) lookup(id uuid.UUID) (model.ScanResult, bool) {
	item := s.cache.Get(id)
	if item == nil || item.IsExpired() {
		return model.ScanResult{}, false
	}
	return item.Value(), true
}

var _ ResultStore = (*MemoryResultStore)(nil)
