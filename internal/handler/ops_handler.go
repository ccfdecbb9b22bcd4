package handler

import (
	"github.com/gin-gonic/gin"

	"cortexguard/scanhub/internal/metrics"
	"cortexguard/scanhub/pkg/response"
)

// OpsHandler serves liveness and the per-variant counters.
type OpsHandler struct {
	service   string
	recorders []*metrics.Recorder
}

func NewOpsHandler(service string, recorders ...*metrics.Recorder) *OpsHandler {
	return &OpsHandler{service: service, recorders: recorders}
}

func (h *OpsHandler) Health(c *gin.Context) {
	response.Success(c, gin.H{"status": "ok", "service": h.service})
}

// Stats returns a single snapshot when one variant is served and a map keyed
// by variant otherwise.
func (h *OpsHandler) Stats(c *gin.Context) {
	if len(h.recorders) == 1 {
		response.Success(c, h.recorders[0].Snapshot())
		return
	}
	out := make(map[string]metrics.Snapshot, len(h.recorders))
	for _, r := range h.recorders {
		out[r.Variant()] = r.Snapshot()
	}
	response.Success(c, out)
}
