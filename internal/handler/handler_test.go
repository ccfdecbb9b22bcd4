package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"cortexguard/scanhub/internal/config"
	"cortexguard/scanhub/internal/handler/middleware"
	"cortexguard/scanhub/internal/limiter"
	"cortexguard/scanhub/internal/metrics"
	"cortexguard/scanhub/internal/model"
	"cortexguard/scanhub/internal/queue"
	"cortexguard/scanhub/internal/repository"
	"cortexguard/scanhub/internal/service"
	"cortexguard/scanhub/internal/simulate"
	"cortexguard/scanhub/internal/worker"
	"cortexguard/scanhub/pkg/response"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Mode: "test", Variant: config.VariantFixed},
		CORS: config.CORSConfig{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST"},
			AllowedHeaders: []string{"Content-Type"},
		},
	}
}

func simulator(t *testing.T, delay time.Duration) *simulate.Simulator {
	t.Helper()
	sim, err := simulate.New(simulate.Config{
		Mode:        simulate.ModeWarm,
		WarmScanMin: delay,
		WarmScanMax: delay,
	}, simulate.NewRand(1))
	require.NoError(t, err)
	return sim
}

type fixture struct {
	engine   *gin.Engine
	isolated *limiter.Limiter
	queue    *queue.Queue
	pool     *worker.Pool
}

// newFixture wires the fixed variant: an isolated blocking path plus a
// queued non-blocking path with its workers left stopped.
func newFixture(t *testing.T, admissionTimeout time.Duration, maxDepth int) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	reg := prometheus.NewRegistry()

	isolated, err := limiter.New("blocking", 1)
	require.NoError(t, err)
	blockingRec := metrics.NewRecorder(config.VariantBlocking, reg)
	blocking := service.NewBlockingService(isolated, simulator(t, 5*time.Millisecond), admissionTimeout,
		time.Second, blockingRec, logger)

	q, err := queue.New(maxDepth)
	require.NoError(t, err)
	store := repository.NewMemoryResultStore(time.Minute, logger)
	nonBlockingRec := metrics.NewRecorder(config.VariantNonBlocking, reg)
	nonBlocking := service.NewNonBlockingService(q, store, nonBlockingRec, logger)
	pool, err := worker.NewPool(1, q, simulator(t, 5*time.Millisecond), store, nonBlockingRec, logger)
	require.NoError(t, err)

	async := NewAsyncScanHandler(nonBlocking, logger)
	engine := SetupRouter(testConfig(), logger, Routes{
		Sync:    map[string]*ScanHandler{"/scan/blocking": NewScanHandler(blocking, logger)},
		Async:   map[string]*AsyncScanHandler{"/scan/nonblocking": async},
		Status:  async,
		Ops:     NewOpsHandler(config.VariantFixed, blockingRec, nonBlockingRec),
		Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})
	return &fixture{engine: engine, isolated: isolated, queue: q, pool: pool}
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func (f *fixture) doWithRequestID(path, requestID, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.HeaderRequestID, requestID)
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestBlockingScanReturnsVerdict(t *testing.T) {
	f := newFixture(t, 100*time.Millisecond, 4)

	w := f.do(http.MethodPost, "/scan/blocking", `{"text":"hello","metadata":{"source":"test"}}`)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode[ScanResponse](t, w)
	assert.Contains(t, []string{"allow", "deny"}, string(body.Verdict))
	assert.GreaterOrEqual(t, body.Latency, 5.0)
	assert.Equal(t, simulate.ModeWarm, body.ModelMode)
	assert.Equal(t, w.Header().Get(middleware.HeaderRequestID), body.RequestID)
	assert.False(t, body.FinishedAt.Before(body.StartedAt))
}

func TestScanRejectsInvalidBody(t *testing.T) {
	f := newFixture(t, 100*time.Millisecond, 4)

	for name, body := range map[string]string{
		"missing text": `{}`,
		"empty text":   `{"text":""}`,
		"too long":     `{"text":"` + strings.Repeat("a", 100001) + `"}`,
		"not json":     `text=hello`,
	} {
		t.Run(name, func(t *testing.T) {
			w := f.do(http.MethodPost, "/scan/blocking", body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "invalid_request", decode[response.ErrorResponse](t, w).Reason)
		})
	}
}

func TestBlockingScanOverCapacity(t *testing.T) {
	f := newFixture(t, 0, 4)

	tok, err := f.isolated.Acquire(context.Background(), 0)
	require.NoError(t, err)
	defer tok.Release()

	w := f.do(http.MethodPost, "/scan/blocking", `{"text":"hello"}`)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	body := decode[response.ErrorResponse](t, w)
	assert.Equal(t, service.ReasonOverCapacity, body.Reason)
	assert.Equal(t, w.Header().Get(middleware.HeaderRequestID), body.RequestID)
}

func TestNonBlockingSubmitAndPoll(t *testing.T) {
	f := newFixture(t, 100*time.Millisecond, 4)

	w := f.do(http.MethodPost, "/scan/nonblocking", `{"text":"hello"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	acc := decode[AcceptedResponse](t, w)
	assert.Equal(t, "accepted", acc.Status)
	assert.Equal(t, "/scan/status/"+acc.ID, w.Header().Get("Location"))

	w = f.do(http.MethodGet, "/scan/status/"+acc.ID, "")
	require.Equal(t, http.StatusOK, w.Code)
	pending := decode[StatusResponse](t, w)
	assert.Equal(t, "pending", string(pending.Status))
	assert.Nil(t, pending.Latency)
	assert.Empty(t, pending.Verdict)

	ctx := context.Background()
	f.pool.Start(ctx)
	defer func() { _ = f.pool.Stop(ctx) }()

	var done StatusResponse
	require.Eventually(t, func() bool {
		w := f.do(http.MethodGet, "/scan/status/"+acc.ID, "")
		if w.Code != http.StatusOK {
			return false
		}
		done = decode[StatusResponse](t, w)
		return done.Status == "done"
	}, 2*time.Second, 10*time.Millisecond)
	assert.NotEmpty(t, done.Verdict)
	require.NotNil(t, done.Latency)
	assert.NotNil(t, done.FinishedAt)
}

func TestNonBlockingQueueFull(t *testing.T) {
	f := newFixture(t, 100*time.Millisecond, 1)

	require.Equal(t, http.StatusAccepted, f.do(http.MethodPost, "/scan/nonblocking", `{"text":"a"}`).Code)
	w := f.do(http.MethodPost, "/scan/nonblocking", `{"text":"b"}`)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, service.ReasonQueueFull, decode[response.ErrorResponse](t, w).Reason)
}

func TestNonBlockingShuttingDown(t *testing.T) {
	f := newFixture(t, 100*time.Millisecond, 2)
	f.queue.Close()

	w := f.do(http.MethodPost, "/scan/nonblocking", `{"text":"a"}`)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, service.ReasonShuttingDown, decode[response.ErrorResponse](t, w).Reason)
}

func TestStatusUnknownID(t *testing.T) {
	f := newFixture(t, 100*time.Millisecond, 1)

	for _, id := range []string{"0b6b4a1e-4d1c-4c5e-9a43-2f6f8a1f3c10", "not-a-uuid"} {
		w := f.do(http.MethodGet, "/scan/status/"+id, "")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, service.ReasonNotFound, decode[response.ErrorResponse](t, w).Reason)
	}
}

func TestOpsEndpoints(t *testing.T) {
	f := newFixture(t, 100*time.Millisecond, 4)
	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/scan/blocking", `{"text":"hello"}`).Code)

	w := f.do(http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","service":"fixed"}`, w.Body.String())

	w = f.do(http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[map[string]metrics.Snapshot](t, w)
	assert.EqualValues(t, 1, stats["blocking"].Completed)
	assert.Zero(t, stats["nonblocking"].Completed)

	w = f.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `scanhub_scans_completed_total{variant="blocking"`)
}

func TestRecoveryReturnsErrorBody(t *testing.T) {
	f := newFixture(t, 100*time.Millisecond, 1)
	f.engine.GET("/boom", func(*gin.Context) { panic("boom") })

	req := httptest.NewRequest(http.MethodGet, "/boom", bytes.NewReader(nil))
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusInternalServerError, w.Code)
	body := decode[response.ErrorResponse](t, w)
	assert.Equal(t, "internal_error", body.Reason)
	assert.NotEmpty(t, body.RequestID)
}

func TestScanIDsAreServerGenerated(t *testing.T) {
	f := newFixture(t, 100*time.Millisecond, 4)
	const clientID = "0b6b4a1e-4d1c-4c5e-9a43-2f6f8a1f3c10"

	first := f.doWithRequestID("/scan/nonblocking", clientID, `{"text":"a"}`)
	second := f.doWithRequestID("/scan/nonblocking", clientID, `{"text":"b"}`)
	require.Equal(t, http.StatusAccepted, first.Code)
	require.Equal(t, http.StatusAccepted, second.Code)

	a := decode[AcceptedResponse](t, first)
	b := decode[AcceptedResponse](t, second)
	assert.NotEqual(t, a.ID, b.ID)
	assert.NotEqual(t, clientID, a.ID)
	assert.NotEqual(t, clientID, b.ID)
	assert.Equal(t, a.ID, first.Header().Get(middleware.HeaderRequestID))
	assert.Equal(t, 2, f.queue.Depth())

	ctx := context.Background()
	f.pool.Start(ctx)
	defer func() { _ = f.pool.Stop(ctx) }()
	for _, id := range []string{a.ID, b.ID} {
		require.Eventually(t, func() bool {
			w := f.do(http.MethodGet, "/scan/status/"+id, "")
			return w.Code == http.StatusOK && decode[StatusResponse](t, w).Status == "done"
		}, 2*time.Second, 10*time.Millisecond)
	}

	third := f.doWithRequestID("/scan/nonblocking", clientID, `{"text":"c"}`)
	require.Equal(t, http.StatusAccepted, third.Code)
	assert.NotEqual(t, clientID, decode[AcceptedResponse](t, third).ID)

	blocking := f.doWithRequestID("/scan/blocking", clientID, `{"text":"d"}`)
	require.Equal(t, http.StatusOK, blocking.Code)
	assert.NotEqual(t, clientID, decode[ScanResponse](t, blocking).RequestID)
}

type failingScanService struct{}

func (failingScanService) Scan(context.Context, model.ScanRequest) (*service.ScanOutcome, error) {
	return nil, errors.New("model backend unavailable")
}

func TestScanUnexpectedErrorIsInternal(t *testing.T) {
	logger := zaptest.NewLogger(t)
	engine := SetupRouter(testConfig(), logger, Routes{
		Sync: map[string]*ScanHandler{"/scan": NewScanHandler(failingScanService{}, logger)},
	})

	req := httptest.NewRequest(http.MethodPost, "/scan", strings.NewReader(`{"text":"hello"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusInternalServerError, w.Code)
	body := decode[response.ErrorResponse](t, w)
	assert.Equal(t, service.ReasonInternal, body.Reason)
	assert.Equal(t, "scan failed", body.Error)
	assert.Equal(t, w.Header().Get(middleware.HeaderRequestID), body.RequestID)
}
