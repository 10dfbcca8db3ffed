package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/kbvault/kbvault/internal/models"
	"github.com/kbvault/kbvault/pkg/metrics"
)

// MaterialLocationSync keeps the denormalized folder_path of material rows in line with folder
// renames and moves.
type MaterialLocationSync struct {
	db *gorm.DB
}

// NewMaterialLocationSync constructs a MaterialLocationSync.
func NewMaterialLocationSync(db *gorm.DB) (*MaterialLocationSync, error) {
	if db == nil {
		return nil, errors.New("material sync: db is required")
	}
	return &MaterialLocationSync{db: db}, nil
}

// WithTx returns a sync bound to tx.
func (m *MaterialLocationSync) WithTx(tx *gorm.DB) *MaterialLocationSync {
	return &MaterialLocationSync{db: tx}
}

// Sync moves every material filed exactly at oldPath to newPath. Materials in sub-folders are
// left alone; the propagator calls Sync once per descendant.
func (m *MaterialLocationSync) Sync(ctx context.Context, oldPath, newPath string, now time.Time) (int64, error) {
	ctx = ensureContext(ctx)

	if oldPath == "" || oldPath == newPath {
		return 0, nil
	}

	result := m.db.WithContext(ctx).
		Model(&models.Material{}).
		Where("folder_path = ?", oldPath).
		Updates(map[string]any{
			"folder_path":  newPath,
			"updated_date": now,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("material sync: %s: %w", oldPath, result.Error)
	}
	if result.RowsAffected > 0 {
		metrics.MaterialsRelocated.Add(float64(result.RowsAffected))
	}
	return result.RowsAffected, nil
}

// DanglingFolderPaths lists the distinct material folder paths that no folder row owns.
func (m *MaterialLocationSync) DanglingFolderPaths(ctx context.Context) ([]string, error) {
	ctx = ensureContext(ctx)

	var paths []string
	err := m.db.WithContext(ctx).
		Model(&models.Material{}).
		Distinct("folder_path").
		Where("folder_path <> ''").
		Where("folder_path NOT IN (?)", m.db.Model(&models.Folder{}).Select("path")).
		Order("folder_path ASC").
		Pluck("folder_path", &paths).Error
	if err != nil {
		return nil, fmt.Errorf("material sync: dangling paths: %w", err)
	}
	return paths, nil
}
