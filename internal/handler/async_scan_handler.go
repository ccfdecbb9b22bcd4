package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"cortexguard/scanhub/internal/model"
	"cortexguard/scanhub/internal/service"
	"cortexguard/scanhub/pkg/response"
)

type AsyncScanHandler struct {
	scanService service.NonBlockingService
	logger      *zap.Logger
}

func NewAsyncScanHandler(scanService service.NonBlockingService, logger *zap.Logger) *AsyncScanHandler {
	return &AsyncScanHandler{scanService: scanService, logger: logger}
}

type AcceptedResponse struct {
	ID         string    `json:"id"`
	Status     string    `json:"status"`
	Message    string    `json:"message"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

type StatusResponse struct {
	ID         string           `json:"id"`
	Status     model.ScanStatus `json:"status"`
	Verdict    model.Verdict    `json:"verdict,omitempty"`
	Latency    *float64         `json:"latency,omitempty"`
	Reason     string           `json:"reason,omitempty"`
	EnqueuedAt time.Time        `json:"enqueued_at"`
	StartedAt  *time.Time       `json:"started_at,omitempty"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
}

func (h *AsyncScanHandler) Submit(c *gin.Context) {
	started := time.Now()

	var body ScanRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	req := newScanRequest(c, body)

	acc, err := h.scanService.Submit(c.Request.Context(), req)
	if err != nil {
		if service.Reason(err) == service.ReasonInternal {
			h.logger.Error("submit scan", zap.String("request_id", req.ID.String()), zap.Error(err))
		}
		reject(c, req.ID, err, started)
		return
	}

	c.Header("Location", "/scan/status/"+acc.RequestID.String())
	response.Accepted(c, AcceptedResponse{
		ID:         acc.RequestID.String(),
		Status:     "accepted",
		Message:    "scan queued, poll /scan/status/" + acc.RequestID.String(),
		EnqueuedAt: acc.EnqueuedAt,
	})
}

func (h *AsyncScanHandler) Status(c *gin.Context) {
	started := time.Now()

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.NotFound(c, c.Param("id"), "unknown scan id")
		return
	}

	res, err := h.scanService.Status(c.Request.Context(), id)
	if err != nil {
		reject(c, id, err, started)
		return
	}

	out := StatusResponse{
		ID:         res.ID.String(),
		Status:     res.Status,
		Verdict:    res.Verdict,
		Reason:     res.Reason,
		EnqueuedAt: res.EnqueuedAt,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
	}
	if res.Status.IsTerminal() {
		ms := millis(res.Latency)
		out.Latency = &ms
	}
	response.Success(c, out)
}
