package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/kbvault/kbvault/internal/app"
	"github.com/kbvault/kbvault/internal/app/maintenance"
	"github.com/kbvault/kbvault/internal/handlers"
	"github.com/kbvault/kbvault/internal/middleware"
	"github.com/kbvault/kbvault/internal/monitoring"
	"github.com/kbvault/kbvault/internal/monitoring/checks"
	"github.com/kbvault/kbvault/internal/services"
	"github.com/kbvault/kbvault/internal/storage"
)

// Dependencies are the long-lived components the HTTP layer serves.
type Dependencies struct {
	DB      *gorm.DB
	Tree    *storage.Tree
	Folders *services.FolderService
	// Auditor is optional; without it the consistency endpoint is not registered.
	Auditor *maintenance.Auditor
}

// NewRouter builds the Gin engine, wires middleware and registers the folder routes.
func NewRouter(cfg *app.Config, deps Dependencies) (*gin.Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if deps.DB == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if deps.Tree == nil {
		return nil, fmt.Errorf("storage tree must be provided")
	}
	if deps.Folders == nil {
		return nil, fmt.Errorf("folder service must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.Actor(cfg.Server.ActorHeader))

	if cfg.Monitoring.Health.Enabled {
		r.GET("/health", handlers.Health(newHealthManager(deps)))
	}

	api := r.Group("/api")
	api.Use(middleware.RequireActor())

	registerFolderRoutes(api, handlers.NewFolderHandler(deps.Folders))

	if h := handlers.NewMaintenanceHandler(deps.Auditor); h != nil {
		api.GET("/maintenance/consistency", h.Consistency)
	}

	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := cfg.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}

func newHealthManager(deps Dependencies) *monitoring.HealthManager {
	manager := monitoring.NewHealthManager()
	manager.Register(checks.Database(deps.DB, 0))
	manager.Register(checks.StorageRoot(deps.Tree))
	if deps.Auditor != nil {
		manager.RegisterAdvisory(checks.Consistency(deps.Auditor, 0, nil))
	}
	return manager
}

func registerFolderRoutes(api *gin.RouterGroup, h *handlers.FolderHandler) {
	folders := api.Group("/folders")
	{
		folders.GET("", h.List)
		folders.GET("/tree", h.Tree)
		folders.GET("/lookup", h.Lookup)
		folders.POST("", h.Create)
		folders.PATCH("/:id/name", h.Rename)
		folders.PATCH("/:id/parent", h.Move)
		folders.GET("/:id/events", h.Events)
	}
}
