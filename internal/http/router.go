package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/xuan1250/Transfer2Read-sub004/internal/http/handlers"
	httpMW "github.com/xuan1250/Transfer2Read-sub004/internal/http/middleware"
	"github.com/xuan1250/Transfer2Read-sub004/internal/platform/logger"
)

type RouterConfig struct {
	Log *logger.Logger

	HealthHandler *httpH.HealthHandler
	JobHandler    *httpH.JobHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.CORS())
	r.Use(otelgin.Middleware("transfer2read"))

	if cfg.HealthHandler != nil {
		r.GET("/api/health", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api")
	{
		if cfg.JobHandler != nil {
			api.POST("/conversions", cfg.JobHandler.Submit)
			api.GET("/conversions/:id", cfg.JobHandler.Get)
			api.POST("/conversions/:id/cancel", cfg.JobHandler.Cancel)
		}
	}

	return r
}
