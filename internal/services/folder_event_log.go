package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/kbvault/kbvault/internal/models"
)

// Folder event results.
const (
	EventResultSuccess = "success"
	EventResultNoop    = "noop"
	EventResultError   = "error"
)

// FolderEventEntry captures a single folder mutation outcome to persist.
type FolderEventEntry struct {
	FolderID string
	Action   string
	Actor    string
	OldPath  string
	NewPath  string
	Result   string
	Metadata map[string]any
}

// FolderEventLog persists and retrieves folder events.
type FolderEventLog struct {
	db *gorm.DB
}

// NewFolderEventLog constructs a FolderEventLog using the provided database handle.
func NewFolderEventLog(db *gorm.DB) (*FolderEventLog, error) {
	if db == nil {
		return nil, errors.New("folder event log: db is required")
	}
	return &FolderEventLog{db: db}, nil
}

// Record stores an event, marshalling metadata into JSON form.
func (l *FolderEventLog) Record(ctx context.Context, entry FolderEventEntry) error {
	ctx = ensureContext(ctx)

	if strings.TrimSpace(entry.Action) == "" {
		return errors.New("folder event log: action is required")
	}
	if strings.TrimSpace(entry.Result) == "" {
		return errors.New("folder event log: result is required")
	}

	var payload datatypes.JSON
	if len(entry.Metadata) > 0 {
		encoded, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("folder event log: marshal metadata: %w", err)
		}
		payload = datatypes.JSON(encoded)
	}

	event := models.FolderEvent{
		FolderID: strings.TrimSpace(entry.FolderID),
		Action:   strings.TrimSpace(entry.Action),
		Actor:    strings.TrimSpace(entry.Actor),
		OldPath:  entry.OldPath,
		NewPath:  entry.NewPath,
		Result:   strings.TrimSpace(entry.Result),
		Metadata: payload,
	}

	if err := l.db.WithContext(ctx).Create(&event).Error; err != nil {
		return fmt.Errorf("folder event log: record: %w", err)
	}
	return nil
}

// ListByFolder returns the most recent events for a folder, newest first.
func (l *FolderEventLog) ListByFolder(ctx context.Context, folderID string, limit int) ([]models.FolderEvent, error) {
	ctx = ensureContext(ctx)

	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var events []models.FolderEvent
	if err := l.db.WithContext(ctx).
		Where("folder_id = ?", strings.TrimSpace(folderID)).
		Order("created_at DESC").
		Limit(limit).
		Find(&events).Error; err != nil {
		return nil, fmt.Errorf("folder event log: list: %w", err)
	}
	return events, nil
}

// CleanupOlderThan removes events older than the supplied retention window (in days).
func (l *FolderEventLog) CleanupOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	ctx = ensureContext(ctx)

	if retentionDays <= 0 {
		return 0, errors.New("folder event log: retentionDays must be positive")
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	result := l.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.FolderEvent{})
	if result.Error != nil {
		return 0, fmt.Errorf("folder event log: cleanup: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func recordEvent(log *FolderEventLog, ctx context.Context, entry FolderEventEntry) {
	if log == nil {
		return
	}
	_ = log.Record(ctx, entry)
}
