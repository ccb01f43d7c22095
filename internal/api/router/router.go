package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/marbindrakon/simple-aircraft-manager-sub000/internal/api/handler"
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
		if deps.DBClient != nil {
			if err := deps.DBClient.HealthCheck(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":  "unhealthy",
					"service": "import-service",
					"error":   err.Error(),
				})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "import-service",
		})
	})

	// Initialize import handler
	importHandler := handler.NewImportHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		imports := v1.Group("/imports")
		{
			// POST /api/v1/imports - Start an import for an existing aircraft
			imports.POST("", importHandler.SubmitImport)

			// POST /api/v1/imports/aircraft - Whole-record import, creating the aircraft
			imports.POST("/aircraft", importHandler.SubmitAircraftImport)

			// GET /api/v1/imports/:job_id - Poll job progress with a cursor
			imports.GET("/:job_id", importHandler.GetImport)
		}
	}

	return r
}
