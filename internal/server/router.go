package server

import (
	"os"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/soleforge/soleforge-backend/internal/handlers"
	"github.com/soleforge/soleforge-backend/internal/middleware"
)

type RouterConfig struct {
	AuthHandler       *handlers.AuthHandler
	AuthMiddleware    *middleware.AuthMiddleware
	ProjectHandler    *handlers.ProjectHandler
	GenerationHandler *handlers.GenerationHandler
	AuditHandler      *handlers.AuditHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()
	router.Use(otelgin.Middleware("soleforge-backend"))

	origins := []string{"http://localhost:3000", "http://localhost:5173"}
	if env := os.Getenv("CORS_ALLOW_ORIGINS"); env != "" {
		origins = strings.Split(env, ",")
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	// Public
	router.GET("/healthcheck", handlers.HealthCheck)
	router.POST("/register", cfg.AuthHandler.Register)
	router.POST("/login", cfg.AuthHandler.Login)

	// Protected
	protected := router.Group("/api")
	protected.Use(cfg.AuthMiddleware.RequireAuth())

	protected.POST("/refresh", cfg.AuthHandler.Refresh)
	protected.POST("/logout", cfg.AuthHandler.Logout)

	protected.POST("/projects", cfg.ProjectHandler.Create)
	protected.GET("/projects", cfg.ProjectHandler.List)
	protected.GET("/projects/:projectId", cfg.ProjectHandler.Get)

	gens := protected.Group("/projects/:projectId")
	gens.POST("/generations", cfg.GenerationHandler.Generate)
	gens.POST("/generations/import", cfg.GenerationHandler.Import)
	gens.POST("/generations/factory-feedback", cfg.GenerationHandler.FactoryFeedback)
	gens.POST("/generations/merge", cfg.GenerationHandler.Merge)
	gens.GET("/generations", cfg.GenerationHandler.List)
	gens.GET("/generations/:generationId/lineage", cfg.GenerationHandler.Lineage)
	gens.POST("/generations/:generationId/activate", cfg.GenerationHandler.SetActive)
	gens.POST("/generations/:generationId/confirm-draft", cfg.GenerationHandler.ConfirmDraft)
	gens.POST("/generations/:generationId/geometry", cfg.GenerationHandler.EnsureGeometry)
	gens.POST("/generations/:generationId/geometry/builds", cfg.GenerationHandler.EnqueueBuild)
	gens.GET("/builds/:jobId", cfg.GenerationHandler.BuildStatus)
	gens.POST("/builds/:jobId/cancel", cfg.GenerationHandler.CancelBuild)

	protected.GET("/generations/:generationId/ai-actions", cfg.AuditHandler.ListByGeneration)
	protected.GET("/ai-actions", cfg.AuditHandler.ListMine)

	return router
}
