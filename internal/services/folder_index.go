package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/kbvault/kbvault/internal/models"
	apperrors "github.com/kbvault/kbvault/pkg/errors"
)

// FingerprintMode selects the aggregate used to decide whether the cached folder tree is stale.
type FingerprintMode string

const (
	// FingerprintCreated uses MAX(created_date) only. Renames and moves leave it unchanged, so the
	// cached tree keeps its old shape until another folder is created.
	FingerprintCreated FingerprintMode = "created"
	// FingerprintModified also folds in MAX(updated_date) and the row count, which every rename
	// and move bumps.
	FingerprintModified FingerprintMode = "modified"
)

// ParseFingerprintMode validates a configured fingerprint mode. Empty selects FingerprintCreated.
func ParseFingerprintMode(value string) (FingerprintMode, error) {
	switch FingerprintMode(strings.ToLower(strings.TrimSpace(value))) {
	case "", FingerprintCreated:
		return FingerprintCreated, nil
	case FingerprintModified:
		return FingerprintModified, nil
	default:
		return "", fmt.Errorf("unsupported fingerprint mode %q", value)
	}
}

// FolderIndex is the relational store of folder rows.
type FolderIndex struct {
	db *gorm.DB
}

// NewFolderIndex constructs a FolderIndex.
func NewFolderIndex(db *gorm.DB) (*FolderIndex, error) {
	if db == nil {
		return nil, errors.New("folder index: db is required")
	}
	return &FolderIndex{db: db}, nil
}

// WithTx returns an index bound to tx.
func (i *FolderIndex) WithTx(tx *gorm.DB) *FolderIndex {
	return &FolderIndex{db: tx}
}

// GetByID loads a folder by identifier.
func (i *FolderIndex) GetByID(ctx context.Context, id string) (*models.Folder, error) {
	ctx = ensureContext(ctx)

	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperrors.ErrNotFound.WithMessage("Folder not found")
	}

	var folder models.Folder
	err := i.db.WithContext(ctx).Where("id = ?", id).Take(&folder).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound.WithMessage("Folder not found")
	}
	if err != nil {
		return nil, fmt.Errorf("folder index: get %s: %w", id, err)
	}
	return &folder, nil
}

// FindByPath loads the folder stored at path. The second result is false when no row matches.
func (i *FolderIndex) FindByPath(ctx context.Context, path string) (*models.Folder, bool, error) {
	ctx = ensureContext(ctx)

	var folder models.Folder
	err := i.db.WithContext(ctx).Where("path = ?", path).Take(&folder).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("folder index: find path: %w", err)
	}
	return &folder, true, nil
}

// ListAll performs a full scan ordered by path.
func (i *FolderIndex) ListAll(ctx context.Context) ([]models.Folder, error) {
	ctx = ensureContext(ctx)

	var folders []models.Folder
	if err := i.db.WithContext(ctx).Order("path ASC").Find(&folders).Error; err != nil {
		return nil, fmt.Errorf("folder index: list folders: %w", err)
	}
	return folders, nil
}

// ListChildren returns the direct children of parentID. An empty parentID lists root folders.
func (i *FolderIndex) ListChildren(ctx context.Context, parentID string) ([]models.Folder, error) {
	ctx = ensureContext(ctx)

	var folders []models.Folder
	if err := i.db.WithContext(ctx).
		Where("parent_id = ?", strings.TrimSpace(parentID)).
		Order("name ASC").
		Find(&folders).Error; err != nil {
		return nil, fmt.Errorf("folder index: list children: %w", err)
	}
	return folders, nil
}

// Insert stores a new folder row. A path collision is reported as ErrDestinationExists.
func (i *FolderIndex) Insert(ctx context.Context, folder *models.Folder) error {
	ctx = ensureContext(ctx)

	if err := i.db.WithContext(ctx).Create(folder).Error; err != nil {
		if isUniqueConstraintError(err) {
			return apperrors.ErrDestinationExists.WithInternal(err)
		}
		return fmt.Errorf("folder index: insert: %w", err)
	}
	return nil
}

// UpdatePath rewrites the materialized path of a single row.
func (i *FolderIndex) UpdatePath(ctx context.Context, id, path string, updated time.Time) error {
	return i.update(ctx, id, map[string]any{
		"path":         path,
		"updated_date": updated,
	})
}

// UpdateLocation rewrites the name, parent and path of a row after a rename or move.
func (i *FolderIndex) UpdateLocation(ctx context.Context, id, name, parentID, path string, updated time.Time) error {
	return i.update(ctx, id, map[string]any{
		"name":         name,
		"parent_id":    parentID,
		"path":         path,
		"updated_date": updated,
	})
}

func (i *FolderIndex) update(ctx context.Context, id string, values map[string]any) error {
	ctx = ensureContext(ctx)

	result := i.db.WithContext(ctx).Model(&models.Folder{}).Where("id = ?", id).Updates(values)
	if result.Error != nil {
		if isUniqueConstraintError(result.Error) {
			return apperrors.ErrDestinationExists.WithInternal(result.Error)
		}
		return fmt.Errorf("folder index: update %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrNotFound.WithMessage("Folder not found")
	}
	return nil
}

// Fingerprint returns the cheap aggregate summary used to invalidate the tree cache. An empty
// index yields an empty fingerprint.
func (i *FolderIndex) Fingerprint(ctx context.Context, mode FingerprintMode) (string, error) {
	ctx = ensureContext(ctx)

	query := i.db.WithContext(ctx).Model(&models.Folder{})
	switch mode {
	case FingerprintModified:
		var (
			created sql.NullString
			updated sql.NullString
			count   int64
		)
		row := query.Select("MAX(created_date), MAX(updated_date), COUNT(*)").Row()
		if err := row.Scan(&created, &updated, &count); err != nil {
			return "", fmt.Errorf("folder index: fingerprint: %w", err)
		}
		return fmt.Sprintf("%s|%s|%d", created.String, updated.String, count), nil
	default:
		var created sql.NullString
		row := query.Select("MAX(created_date)").Row()
		if err := row.Scan(&created); err != nil {
			return "", fmt.Errorf("folder index: fingerprint: %w", err)
		}
		return created.String, nil
	}
}
