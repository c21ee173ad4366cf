package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/withdrawal-aggregator/internal/http/handlers"
	httpMW "github.com/yungbote/withdrawal-aggregator/internal/http/middleware"
	"github.com/yungbote/withdrawal-aggregator/internal/observability"
	"github.com/yungbote/withdrawal-aggregator/internal/pkg/logger"
)

type RouterConfig struct {
	ServiceName string
	Log         *logger.Logger
	Metrics     *observability.Metrics

	HealthHandler *httpH.HealthHandler
	GroupHandler  *httpH.GroupHandler
	QueueHandler  *httpH.QueueHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthz", cfg.HealthHandler.HealthCheck)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapF(cfg.Metrics.WriteHTTP))
	}

	v1 := r.Group("/v1")
	{
		if cfg.GroupHandler != nil {
			v1.GET("/groups", cfg.GroupHandler.ListGroups)
			v1.GET("/groups/:id", cfg.GroupHandler.GetGroup)
			v1.DELETE("/groups/:id", cfg.GroupHandler.DeleteGroup)
		}
		if cfg.QueueHandler != nil {
			v1.GET("/queue/stats", cfg.QueueHandler.Stats)
			v1.GET("/queue/failed", cfg.QueueHandler.Failed)
		}
	}

	return r
}
