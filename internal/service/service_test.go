package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"cortexguard/scanhub/internal/limiter"
	"cortexguard/scanhub/internal/metrics"
	"cortexguard/scanhub/internal/model"
	"cortexguard/scanhub/internal/queue"
	"cortexguard/scanhub/internal/repository"
	"cortexguard/scanhub/internal/simulate"
	"cortexguard/scanhub/internal/worker"
)

func newSimulator(t *testing.T, delay time.Duration) *simulate.Simulator {
	t.Helper()
	sim, err := simulate.New(simulate.Config{
		Mode:        simulate.ModeWarm,
		WarmScanMin: delay,
		WarmScanMax: delay,
	}, simulate.NewRand(42))
	require.NoError(t, err)
	return sim
}

func newLimiter(t *testing.T, name string, capacity int) *limiter.Limiter {
	t.Helper()
	l, err := limiter.New(name, capacity)
	require.NoError(t, err)
	return l
}

func scanRequest() model.ScanRequest {
	return model.NewScanRequest("scan me", nil)
}

func TestBlockingAdmissionScenario(t *testing.T) {
	t.Parallel()

	rec := metrics.NewRecorder("blocking", nil)
	svc := NewBlockingService(
		newLimiter(t, "blocking", 2),
		newSimulator(t, 200*time.Millisecond),
		50*time.Millisecond,
		time.Second,
		rec,
		zaptest.NewLogger(t),
	)

	type result struct {
		out     *ScanOutcome
		err     error
		elapsed time.Duration
	}
	results := make(chan result, 3)
	for i := 0; i < 3; i++ {
		go func() {
			start := time.Now()
			out, err := svc.Scan(context.Background(), scanRequest())
			results <- result{out: out, err: err, elapsed: time.Since(start)}
		}()
	}

	var ok int
	for i := 0; i < 3; i++ {
		r := <-results
		if r.err != nil {
			require.ErrorIs(t, r.err, ErrAdmissionTimeout)
			assert.Equal(t, ReasonOverCapacity, Reason(r.err))
			assert.GreaterOrEqual(t, r.elapsed, 50*time.Millisecond)
			assert.Less(t, r.elapsed, 150*time.Millisecond, "rejection must not wait for the scan")
			continue
		}
		ok++
		assert.Equal(t, model.VerdictAllow, r.out.Verdict)
		assert.GreaterOrEqual(t, r.out.Latency, 200*time.Millisecond)
	}
	assert.Equal(t, 2, ok)

	snap := rec.Snapshot()
	assert.EqualValues(t, 2, snap.Completed)
	assert.EqualValues(t, 1, snap.Rejected)
	assert.Zero(t, snap.Inflight)
}

func TestBlockingScanDeadlineFreesSlot(t *testing.T) {
	t.Parallel()

	l := newLimiter(t, "blocking", 1)
	svc := NewBlockingService(l, newSimulator(t, time.Second), 10*time.Millisecond, 30*time.Millisecond,
		metrics.NewRecorder("blocking", nil), zaptest.NewLogger(t))

	start := time.Now()
	_, err := svc.Scan(context.Background(), scanRequest())
	require.ErrorIs(t, err, ErrScanDeadlineExceeded)
	assert.Less(t, time.Since(start), 300*time.Millisecond)
	assert.Zero(t, l.InUse(), "the slot is returned as soon as the scan deadline fires")
}

func TestBaselineDeadlineLeavesWorkRunning(t *testing.T) {
	t.Parallel()

	shared := newLimiter(t, "shared", 1)
	rec := metrics.NewRecorder("baseline", nil)
	svc := NewBaselineService(shared, newSimulator(t, 200*time.Millisecond), 50*time.Millisecond,
		TrafficBlocking, rec, zaptest.NewLogger(t))

	start := time.Now()
	_, err := svc.Scan(context.Background(), scanRequest())
	require.ErrorIs(t, err, ErrRequestDeadlineExceeded)
	assert.Equal(t, ReasonRequestDeadlineExceeded, Reason(err))
	assert.Less(t, time.Since(start), 150*time.Millisecond)

	assert.Equal(t, 1, shared.InUse(), "abandoned scan keeps holding the shared slot")
	assert.Eventually(t, func() bool { return shared.InUse() == 0 }, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 1, rec.Snapshot().Rejected)
}

func TestBaselineSucceedsWithinDeadline(t *testing.T) {
	t.Parallel()

	svc := NewBaselineService(newLimiter(t, "shared", 2), newSimulator(t, 10*time.Millisecond), time.Second,
		TrafficNonBlocking, metrics.NewRecorder("baseline", nil), zaptest.NewLogger(t))
	req := scanRequest()
	out, err := svc.Scan(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, req.ID, out.RequestID)
	assert.Equal(t, simulate.ModeWarm, out.ModelMode)
}

// Fast requests that share a limiter with slow ones queue behind them and
// pay for the slow requests' cost, not their own.
func TestBaselineHeadOfLineBlocking(t *testing.T) {
	t.Parallel()

	const slowCost = 300 * time.Millisecond
	shared := newLimiter(t, "shared", 24)
	rec := metrics.NewRecorder("baseline", nil)
	logger := zaptest.NewLogger(t)
	slow := NewBaselineService(shared, newSimulator(t, slowCost), 5*time.Second, TrafficBlocking, rec, logger)
	fast := NewBaselineService(shared, newSimulator(t, 5*time.Millisecond), 5*time.Second, TrafficNonBlocking, rec, logger)

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := slow.Scan(context.Background(), scanRequest())
			assert.NoError(t, err)
		}()
	}
	require.Eventually(t, func() bool { return shared.InUse() == 24 && shared.Waiting() == 6 }, time.Second, time.Millisecond)

	out, err := fast.Scan(context.Background(), scanRequest())
	require.NoError(t, err)
	assert.Less(t, out.Latency, 100*time.Millisecond, "own cost stays small")
	assert.Greater(t, out.Waited, slowCost/2, "wait is dominated by the slow requests ahead")
	wg.Wait()
}

func TestNonBlockingBackpressureScenario(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q, err := queue.New(5)
	require.NoError(t, err)
	store := repository.NewMemoryResultStore(time.Minute, zaptest.NewLogger(t))
	rec := metrics.NewRecorder("nonblocking", nil)
	svc := NewNonBlockingService(q, store, rec, zaptest.NewLogger(t))

	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		acc, err := svc.Submit(ctx, scanRequest())
		require.NoError(t, err)
		ids = append(ids, acc.RequestID)

		res, err := svc.Status(ctx, acc.RequestID)
		require.NoError(t, err)
		assert.Equal(t, model.ScanStatusPending, res.Status)
	}

	rejected := scanRequest()
	start := time.Now()
	_, err = svc.Submit(ctx, rejected)
	require.ErrorIs(t, err, ErrQueueFull)
	assert.Less(t, time.Since(start), 10*time.Millisecond)
	_, err = svc.Status(ctx, rejected.ID)
	require.ErrorIs(t, err, ErrNotFound, "rejected scans leave no result behind")
	assert.Equal(t, 5, rec.Snapshot().QueueDepth)

	pool, err := worker.NewPool(1, q, newSimulator(t, 100*time.Millisecond), store, rec, zaptest.NewLogger(t))
	require.NoError(t, err)
	pool.Start(ctx)
	defer func() { _ = pool.Stop(ctx) }()

	require.Eventually(t, func() bool {
		for _, id := range ids {
			r, err := svc.Status(ctx, id)
			if err != nil || r.Status != model.ScanStatusDone {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)

	snap := rec.Snapshot()
	assert.EqualValues(t, 5, snap.ProcessedJobs)
	assert.EqualValues(t, 1, snap.Rejected)
	assert.Zero(t, snap.QueueDepth)
}

func TestNonBlockingStatusUnknownID(t *testing.T) {
	t.Parallel()

	q, err := queue.New(1)
	require.NoError(t, err)
	svc := NewNonBlockingService(q, repository.NewMemoryResultStore(time.Minute, nil),
		metrics.NewRecorder("nonblocking", nil), zaptest.NewLogger(t))
	_, err = svc.Status(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, ReasonNotFound, Reason(err))
}

func TestNonBlockingRejectsAfterShutdown(t *testing.T) {
	t.Parallel()

	q, err := queue.New(3)
	require.NoError(t, err)
	svc := NewNonBlockingService(q, repository.NewMemoryResultStore(time.Minute, nil),
		metrics.NewRecorder("nonblocking", nil), zaptest.NewLogger(t))
	q.Close()
	_, err = svc.Submit(context.Background(), scanRequest())
	require.ErrorIs(t, err, ErrShuttingDown)
	assert.Equal(t, ReasonShuttingDown, Reason(err))
}
