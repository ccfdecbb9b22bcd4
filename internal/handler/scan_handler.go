package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"cortexguard/scanhub/internal/model"
	"cortexguard/scanhub/internal/service"
	"cortexguard/scanhub/internal/simulate"
	"cortexguard/scanhub/pkg/response"
)

type ScanHandler struct {
	scanService service.SyncScanService
	logger      *zap.Logger
}

func NewScanHandler(scanService service.SyncScanService, logger *zap.Logger) *ScanHandler {
	return &ScanHandler{scanService: scanService, logger: logger}
}

type ScanResponse struct {
	RequestID  string        `json:"request_id"`
	Verdict    model.Verdict `json:"verdict"`
	Latency    float64       `json:"latency"`
	WaitedMS   float64       `json:"waited_ms"`
	ModelMode  simulate.Mode `json:"model_mode"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

func (h *ScanHandler) Scan(c *gin.Context) {
	started := time.Now()

	var body ScanRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	req := newScanRequest(c, body)

	out, err := h.scanService.Scan(c.Request.Context(), req)
	if err != nil {
		if service.Reason(err) == service.ReasonInternal && c.Request.Context().Err() == nil {
			h.logger.Error("scan failed", zap.String("request_id", req.ID.String()), zap.Error(err))
		}
		reject(c, req.ID, err, started)
		return
	}

	response.Success(c, ScanResponse{
		RequestID:  out.RequestID.String(),
		Verdict:    out.Verdict,
		Latency:    millis(out.Latency),
		WaitedMS:   millis(out.Waited),
		ModelMode:  out.ModelMode,
		StartedAt:  out.StartedAt,
		FinishedAt: out.FinishedAt,
	})
}
