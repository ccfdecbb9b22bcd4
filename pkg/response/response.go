package response

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// ErrorResponse is the body of every rejection and failure.
type ErrorResponse struct {
	RequestID  string    `json:"request_id,omitempty"`
	Error      string    `json:"error"`
	Reason     string    `json:"reason"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

func Accepted(c *gin.Context, data interface{}) {
	c.JSON(http.StatusAccepted, data)
}

func Error(c *gin.Context, httpStatus int, requestID, reason, message string, startedAt time.Time) {
	c.JSON(httpStatus, ErrorResponse{
		RequestID:  requestID,
		Error:      message,
		Reason:     reason,
		StartedAt:  startedAt,
		FinishedAt: time.Now(),
	})
}

func BadRequest(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, "", "invalid_request", message, time.Now())
}

func NotFound(c *gin.Context, requestID, message string) {
	Error(c, http.StatusNotFound, requestID, "not_found", message, time.Now())
}

func InternalError(c *gin.Context, requestID, message string) {
	Error(c, http.StatusInternalServerError, requestID, "internal_error", message, time.Now())
}
