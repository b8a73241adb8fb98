package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cuongbtq/narra-sync/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "narra-sync-api",
		})
	})

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	batchHandler := handler.NewBatchHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		batches := v1.Group("/batches")
		{
			// POST /api/v1/batches/voice - Synthesize a list of sentences
			batches.POST("/voice", batchHandler.CreateVoiceBatch)

			// POST /api/v1/batches/images - Generate an image per scene
			batches.POST("/images", batchHandler.CreateImageBatch)
		}

		// POST /api/v1/scenes/regenerate - Regenerate one scene image
		v1.POST("/scenes/regenerate", batchHandler.RegenerateScene)

		// GET /api/v1/speakers - List speech engine voices
		v1.GET("/speakers", batchHandler.ListSpeakers)
	}

	return r
}
