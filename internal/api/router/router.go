package router

import (
	"github.com/cuongbtq/media-fetch/internal/api/handler"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies, rateLimit RateLimitConfig) *gin.Engine {
	r := gin.New()
	// Route on the escaped path so an encoded slash stays inside :filename
	// and is rejected by the artifact resolver
	r.UseRawPath = true

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	healthHandler := handler.NewHealthHandler(deps)
	r.GET("/", healthHandler.Root)
	r.GET("/health", healthHandler.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	jobHandler := handler.NewJobHandler(deps)
	limited := RateLimitMiddleware(rateLimit)

	// Legacy single-call route, kept for existing clients
	r.GET("/fast-audio", limited, jobHandler.FastAudio)

	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			jobs.POST("", limited, jobHandler.SubmitJob)
			jobs.GET("/:job_id", jobHandler.GetJob)
		}

		v1.GET("/files/:filename", jobHandler.DownloadFile)
	}

	return r
}
