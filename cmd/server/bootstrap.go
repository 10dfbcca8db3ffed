package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/kbvault/kbvault/internal/api"
	"github.com/kbvault/kbvault/internal/app"
	"github.com/kbvault/kbvault/internal/app/maintenance"
	"github.com/kbvault/kbvault/internal/database"
	"github.com/kbvault/kbvault/internal/services"
	"github.com/kbvault/kbvault/internal/storage"
	"github.com/kbvault/kbvault/pkg/logger"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB      *gorm.DB
	Tree    *storage.Tree
	Folders *services.FolderService
	Auditor *maintenance.Auditor
	Router  *gin.Engine
}

// bootstrapRuntime initialises the database, the storage tree, services, and the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	// enable gin debug mod
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	stack.Tree, err = initialiseStorage(cfg.Storage, afero.NewOsFs())
	if err != nil {
		return nil, err
	}

	events, err := services.NewFolderEventLog(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise folder event log: %w", err)
	}

	index, err := services.NewFolderIndex(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise folder index: %w", err)
	}
	treeCache, err := services.NewFolderTreeCache(index, cfg.Cache.FingerprintMode())
	if err != nil {
		return nil, fmt.Errorf("initialise folder tree cache: %w", err)
	}

	stack.Folders, err = services.NewFolderService(stack.DB, stack.Tree,
		services.WithTreeCache(treeCache),
		services.WithEventLog(events),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise folder service: %w", err)
	}

	if cfg.Maintenance.Enabled {
		materials, err := services.NewMaterialLocationSync(stack.DB)
		if err != nil {
			return nil, fmt.Errorf("initialise material sync: %w", err)
		}
		stack.Auditor, err = maintenance.NewAuditor(index, materials, stack.Tree,
			maintenance.WithEventLog(events),
			maintenance.WithEventRetentionDays(cfg.Maintenance.EventRetentionDays),
			maintenance.WithAuditSchedule(cfg.Maintenance.AuditSchedule),
			maintenance.WithCleanupSchedule(cfg.Maintenance.CleanupSchedule),
		)
		if err != nil {
			return nil, fmt.Errorf("initialise auditor: %w", err)
		}
		if err := stack.Auditor.Start(); err != nil {
			return nil, fmt.Errorf("start maintenance jobs: %w", err)
		}
		if _, err := stack.Auditor.Audit(ctx); err != nil {
			log.Warn("initial consistency audit failed", zap.Error(err))
		}
	}

	stack.Router, err = api.NewRouter(cfg, api.Dependencies{
		DB:      stack.DB,
		Tree:    stack.Tree,
		Folders: stack.Folders,
		Auditor: stack.Auditor,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// Shutdown gracefully stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Auditor != nil {
		stopCtx := s.Auditor.Stop()
		if stopCtx != nil {
			ctx = stopCtx
		}
		<-ctx.Done()
	}

	if s.DB != nil {
		closeDatabase(s.DB, log)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.Database.ConnectionConfig()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.Prepare(db); err != nil {
		_ = database.Close(db)
		return nil, fmt.Errorf("prepare database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}

// initialiseStorage builds the folder tree and makes sure the storage root and the uncategorized
// directory exist. Relative paths resolve against the working directory.
func initialiseStorage(cfg app.StorageConfig, fs afero.Fs) (*storage.Tree, error) {
	tree, err := storage.NewTree(fs, storage.Options{
		Root:             cfg.Root,
		UncategorizedDir: cfg.UncategorizedDir,
		DirMode:          cfg.DirMode,
	})
	if err != nil {
		return nil, fmt.Errorf("initialise storage tree: %w", err)
	}
	if err := tree.Prepare(); err != nil {
		return nil, fmt.Errorf("prepare storage tree: %w", err)
	}

	logger.WithModule("storage").Info("storage ready", zap.String("root", tree.Root()))
	return tree, nil
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if err := database.Close(db); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
