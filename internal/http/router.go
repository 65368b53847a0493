package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/schema-registry/internal/http/handlers"
	httpMW "github.com/yungbote/schema-registry/internal/http/middleware"
	"github.com/yungbote/schema-registry/internal/observability"
	"github.com/yungbote/schema-registry/internal/platform/logger"
)

type RouterConfig struct {
	Log         *logger.Logger
	ServiceName string
	CORSOrigins []string
	Metrics     *observability.Metrics

	HealthHandler   *httpH.HealthHandler
	RegistryHandler *httpH.RegistryHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "schema-registry"
	}
	r.Use(otelgin.Middleware(serviceName))
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.AttachActor())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics, "/metrics", "/healthcheck", "/readyz"))
	r.Use(httpMW.CORS(cfg.CORSOrigins...))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
		r.GET("/readyz", cfg.HealthHandler.Ready)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapF(cfg.Metrics.WriteHTTP))
	}

	api := r.Group("/api")
	if cfg.RegistryHandler != nil {
		target := api.Group("/targets/:target_id")
		target.POST("/schemas/publish", cfg.RegistryHandler.Publish)
		target.POST("/schemas/check", cfg.RegistryHandler.Check)
		target.POST("/schemas/delete", cfg.RegistryHandler.Delete)
		target.POST("/checks/:check_id/approve", cfg.RegistryHandler.ApproveCheck)
		target.GET("/versions/:version_id", cfg.RegistryHandler.GetVersion)
	}

	return r
}
