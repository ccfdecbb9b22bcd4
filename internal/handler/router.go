package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"cortexguard/scanhub/internal/config"
	"cortexguard/scanhub/internal/handler/middleware"
)

// Routes lists the handlers a variant mounts. Sync and Async map a POST path
// to its handler; Status, when set, serves GET /scan/status/:id.
type Routes struct {
	Sync    map[string]*ScanHandler
	Async   map[string]*AsyncScanHandler
	Status  *AsyncScanHandler
	Ops     *OpsHandler
	Metrics http.Handler
}

func SetupRouter(cfg *config.Config, logger *zap.Logger, routes Routes) *gin.Engine {
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.CORS(cfg.CORS))

	if routes.Ops != nil {
		r.GET("/healthz", routes.Ops.Health)
		r.GET("/stats", routes.Ops.Stats)
	}
	if routes.Metrics != nil {
		r.GET("/metrics", gin.WrapH(routes.Metrics))
	}

	for path, h := range routes.Sync {
		r.POST(path, h.Scan)
	}
	for path, h := range routes.Async {
		r.POST(path, h.Submit)
	}
	if routes.Status != nil {
		r.GET("/scan/status/:id", routes.Status.Status)
	}

	return r
}
