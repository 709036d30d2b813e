package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxsplit/voxsplit-be/internal/api/handler"
)

// Options configures the router beyond handler dependencies
type Options struct {
	// MaxUploadBytes caps the job creation request body
	MaxUploadBytes int64
	// Registry backs the /metrics endpoint
	Registry *prometheus.Registry
}

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies, opts Options) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "voxsplit-backend",
		})
	})

	if opts.Registry != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{})))
	}

	// Initialize job handler
	jobHandler := handler.NewJobHandler(deps)

	api := r.Group("/api")
	{
		jobs := api.Group("/jobs")
		{
			// POST /api/jobs - Upload a track and run the separation agent
			jobs.POST("", BodyLimitMiddleware(opts.MaxUploadBytes), jobHandler.CreateJob)

			// GET /api/jobs/:job_id/vocals - Download the vocals artifact
			jobs.GET("/:job_id/vocals", jobHandler.GetVocals)

			// GET /api/jobs/:job_id/instrumental - Download the instrumental artifact
			jobs.GET("/:job_id/instrumental", jobHandler.GetInstrumental)
		}
	}

	return r
}
