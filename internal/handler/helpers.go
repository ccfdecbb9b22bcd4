package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"cortexguard/scanhub/internal/handler/middleware"
	"cortexguard/scanhub/internal/model"
	"cortexguard/scanhub/internal/service"
	"cortexguard/scanhub/pkg/response"
)

// ScanRequestBody is the payload accepted by every scan route.
type ScanRequestBody struct {
	Text     string         `json:"text" binding:"required,min=1,max=100000"`
	Metadata map[string]any `json:"metadata"`
}

// newScanRequest reuses the server id assigned by the request logger so the
// X-Request-ID header and the body agree.
func newScanRequest(c *gin.Context, body ScanRequestBody) model.ScanRequest {
	req := model.NewScanRequest(body.Text, body.Metadata)
	if id, err := uuid.Parse(c.GetString(middleware.ContextKeyRequestID)); err == nil {
		req.ID = id
	}
	return req
}

func statusFor(reason string) int {
	switch reason {
	case service.ReasonOverCapacity:
		return http.StatusTooManyRequests
	case service.ReasonQueueFull, service.ReasonShuttingDown:
		return http.StatusServiceUnavailable
	case service.ReasonScanDeadlineExceeded, service.ReasonRequestDeadlineExceeded:
		return http.StatusGatewayTimeout
	case service.ReasonNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func reject(c *gin.Context, requestID uuid.UUID, err error, startedAt time.Time) {
	reason := service.Reason(err)
	status := statusFor(reason)
	if status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable {
		c.Header("Retry-After", "1")
	}
	if status == http.StatusInternalServerError {
		response.InternalError(c, requestID.String(), "scan failed")
		return
	}
	response.Error(c, status, requestID.String(), reason, err.Error(), startedAt)
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
