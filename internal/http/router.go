package http

import (
	"github.com/gin-gonic/gin"

	"github.com/studyforge/studyforge-backend/internal/observability"
	"github.com/studyforge/studyforge-backend/internal/platform/logger"

	httpH "github.com/studyforge/studyforge-backend/internal/http/handlers"
	httpMW "github.com/studyforge/studyforge-backend/internal/http/middleware"
)

type RouterConfig struct {
	Log     *logger.Logger
	Metrics *observability.Metrics

	HealthHandler   *httpH.HealthHandler
	DocumentHandler *httpH.DocumentHandler
	JobHandler      *httpH.JobHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.CORS())

	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapF(cfg.Metrics.WriteHTTP))
	}

	api := r.Group("/api")
	{
		if cfg.DocumentHandler != nil {
			api.POST("/documents/:id/ingest", cfg.DocumentHandler.Ingest)
			api.GET("/documents/:id/chunks", cfg.DocumentHandler.ListChunks)
		}

		if cfg.JobHandler != nil {
			api.POST("/jobs", cfg.JobHandler.CreateJob)
			api.GET("/jobs", cfg.JobHandler.ListJobs)
			api.GET("/jobs/:id", cfg.JobHandler.GetJob)
			api.POST("/jobs/:id/start", cfg.JobHandler.StartJob)
			api.POST("/jobs/:id/pause", cfg.JobHandler.PauseJob)
			api.POST("/jobs/:id/resume", cfg.JobHandler.ResumeJob)
			api.POST("/jobs/:id/cancel", cfg.JobHandler.CancelJob)
			api.POST("/jobs/:id/restart", cfg.JobHandler.RestartJob)
		}
	}

	return r
}
