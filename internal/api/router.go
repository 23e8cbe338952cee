// internal/api/router.go
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// RouterOptions tune the engine built by SetupRouter.
type RouterOptions struct {
	DebugMode bool
	// RunLimit caps run and generate requests per client per minute; zero disables it.
	RunLimit int
}

// SetupRouter wires every route of the review and run control API.
func SetupRouter(handler *Handler, hub *ProgressHub, opts RouterOptions) *gin.Engine {
	if !opts.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(RequestMetrics(handler.Metrics))
	r.Use(corsMiddleware())
	if opts.DebugMode {
		r.Use(gin.Logger())
	}

	costly := func(c *gin.Context) { c.Next() }
	if opts.RunLimit > 0 {
		costly = RateLimitByIP(NewRateLimiter(), opts.RunLimit, time.Minute)
	}

	r.GET("/ws/progress", hub.Serve)

	api := r.Group("/api")
	{
		api.GET("/health", handler.Health)
		api.GET("/metrics", handler.GetMetrics)
		api.GET("/progress", handler.GetProgress)
		api.GET("/ws/status", func(c *gin.Context) {
			c.JSON(http.StatusOK, hub.Status())
		})

		chapters := api.Group("/chapters/:index")
		{
			chapters.GET("", handler.GetChapter)

			scriptGroup := chapters.Group("/script")
			{
				scriptGroup.GET("", handler.GetScript)
				scriptGroup.POST("", costly, handler.GenerateScript)
				scriptGroup.PUT("", handler.UpdateScript)
				scriptGroup.POST("/regenerate", costly, handler.RegenerateScript)
				scriptGroup.POST("/approve", handler.ApproveScript)
				scriptGroup.POST("/reject", handler.RejectScript)
				scriptGroup.GET("/preview", handler.PreviewScript)
			}

			chapters.POST("/run", costly, handler.RunChapter)
			chapters.POST("/cancel", handler.CancelChapter)
			chapters.GET("/jobs", handler.GetJobs)
			chapters.GET("/artifact", handler.GetArtifact)
		}
	}

	return r
}
