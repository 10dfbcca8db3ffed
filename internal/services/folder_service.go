package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/kbvault/kbvault/internal/auditctx"
	"github.com/kbvault/kbvault/internal/models"
	"github.com/kbvault/kbvault/internal/storage"
	apperrors "github.com/kbvault/kbvault/pkg/errors"
	"github.com/kbvault/kbvault/pkg/logger"
	"github.com/kbvault/kbvault/pkg/metrics"
	"github.com/kbvault/kbvault/pkg/pathsafe"
)

// FolderService keeps the folder index, material locations and the physical directory tree in
// step across create, rename and move.
//
// Mutators are serialized within the process. Separate processes sharing the same store and
// storage root are not coordinated, and overlapping renames from two of them can interleave.
type FolderService struct {
	db         *gorm.DB
	index      *FolderIndex
	materials  *MaterialLocationSync
	tree       *storage.Tree
	propagator *PathPropagator
	cache      *FolderTreeCache
	events     *FolderEventLog
	log        *zap.Logger
	now        func() time.Time

	mu sync.Mutex
}

// FolderServiceOption customises a FolderService.
type FolderServiceOption func(*FolderService)

// WithTreeCache injects the cache serving GetFolders.
func WithTreeCache(cache *FolderTreeCache) FolderServiceOption {
	return func(s *FolderService) {
		s.cache = cache
	}
}

// WithEventLog records every mutation outcome to log.
func WithEventLog(log *FolderEventLog) FolderServiceOption {
	return func(s *FolderService) {
		s.events = log
	}
}

// WithClock overrides the time source used for created/updated timestamps.
func WithClock(now func() time.Time) FolderServiceOption {
	return func(s *FolderService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger overrides the service logger.
func WithLogger(log *zap.Logger) FolderServiceOption {
	return func(s *FolderService) {
		if log != nil {
			s.log = log
		}
	}
}

// NewFolderService constructs a FolderService. Without WithTreeCache a cache using the
// created-date fingerprint is built.
func NewFolderService(db *gorm.DB, tree *storage.Tree, opts ...FolderServiceOption) (*FolderService, error) {
	if db == nil {
		return nil, errors.New("folder service: db is required")
	}
	if tree == nil {
		return nil, errors.New("folder service: storage tree is required")
	}

	index, err := NewFolderIndex(db)
	if err != nil {
		return nil, err
	}
	materials, err := NewMaterialLocationSync(db)
	if err != nil {
		return nil, err
	}

	svc := &FolderService{
		db:        db,
		index:     index,
		materials: materials,
		tree:      tree,
		log:       logger.WithModule("folders"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}

	if svc.cache == nil {
		svc.cache, err = NewFolderTreeCache(index, FingerprintCreated)
		if err != nil {
			return nil, err
		}
	}
	svc.propagator, err = NewPathPropagator(tree, index, materials, svc.log)
	if err != nil {
		return nil, err
	}
	return svc, nil
}

// Cache exposes the tree cache, mainly so callers can Reset it.
func (s *FolderService) Cache() *FolderTreeCache {
	return s.cache
}

// CreateFolder sanitizes name, stores a new folder under parentID (empty for a root folder) and
// creates its directory. When the directory cannot be created the row stays in the index and
// ErrPhysicalCreateFailed is returned.
func (s *FolderService) CreateFolder(ctx context.Context, name, parentID, createdBy string) (*models.Folder, error) {
	ctx = ensureContext(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	folder, err := s.createFolder(ctx, name, strings.TrimSpace(parentID), strings.TrimSpace(createdBy))
	s.finish(ctx, models.FolderActionCreate, folder, "", err, nil)
	return folder, err
}

func (s *FolderService) createFolder(ctx context.Context, name, parentID, createdBy string) (*models.Folder, error) {
	clean := pathsafe.Sanitize(name)
	if clean == "" {
		return nil, apperrors.ErrInvalidName
	}

	parentPath := ""
	if parentID != "" {
		parent, err := s.index.GetByID(ctx, parentID)
		if err != nil {
			return nil, err
		}
		parentPath = parent.Path
	}

	now := s.now().UTC()
	folder := &models.Folder{
		ID:          uuid.NewString(),
		Name:        clean,
		ParentID:    parentID,
		Path:        pathsafe.Join(parentPath, clean),
		CreatedBy:   createdBy,
		CreatedDate: now,
		UpdatedDate: now,
	}
	if err := s.index.Insert(ctx, folder); err != nil {
		return nil, err
	}

	if err := s.tree.EnsureDir(folder.Path); err != nil {
		s.log.Error("folder stored but directory creation failed",
			zap.String("folder_id", folder.ID),
			zap.String("path", folder.Path),
			zap.Error(err),
		)
		return folder, apperrors.ErrPhysicalCreateFailed.WithInternal(err)
	}
	return folder, nil
}

// UpdateFolderName renames a folder in place. Renaming to the current sanitized name returns the
// folder untouched without any storage access.
func (s *FolderService) UpdateFolderName(ctx context.Context, folderID, newName string) (*models.Folder, error) {
	ctx = ensureContext(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	var oldPath string
	folder, report, err := func() (*models.Folder, *PropagationReport, error) {
		folder, err := s.index.GetByID(ctx, folderID)
		if err != nil {
			return nil, nil, err
		}
		oldPath = folder.Path

		clean := pathsafe.Sanitize(newName)
		if clean == "" {
			return folder, nil, apperrors.ErrInvalidName
		}
		if clean == folder.Name {
			return folder, nil, errNoop
		}

		arena, err := s.loadArena(ctx)
		if err != nil {
			return folder, nil, err
		}
		parentPath := ""
		if folder.ParentID != "" {
			parent, ok := arena.folder(folder.ParentID)
			if !ok {
				return folder, nil, apperrors.ErrNotFound.WithMessage("Parent folder not found")
			}
			parentPath = parent.Path
		}
		return s.relocate(ctx, arena, folder, clean, folder.ParentID, parentPath, false)
	}()

	s.finish(ctx, models.FolderActionRename, folder, oldPath, err, report)
	if errors.Is(err, errNoop) {
		return folder, nil
	}
	return folder, err
}

// MoveFolder re-parents a folder. An empty targetParentID moves it to the root. Moving a folder
// into itself or its own subtree is rejected before anything is read from storage.
func (s *FolderService) MoveFolder(ctx context.Context, folderID, targetParentID string) (*models.Folder, error) {
	ctx = ensureContext(ctx)
	folderID = strings.TrimSpace(folderID)
	targetParentID = strings.TrimSpace(targetParentID)

	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		folder  *models.Folder
		oldPath string
	)
	report, err := func() (*PropagationReport, error) {
		if targetParentID != "" && targetParentID == folderID {
			return nil, apperrors.ErrSelfParent
		}

		arena, err := s.loadArena(ctx)
		if err != nil {
			return nil, err
		}
		if arena.isDescendant(folderID, targetParentID) {
			return nil, apperrors.ErrCyclicMove
		}

		current, ok := arena.folder(folderID)
		if !ok {
			return nil, apperrors.ErrNotFound.WithMessage("Folder not found")
		}
		folder = &current
		oldPath = current.Path
		if targetParentID == current.ParentID {
			return nil, errNoop
		}

		targetPath := ""
		if targetParentID != "" {
			target, ok := arena.folder(targetParentID)
			if !ok {
				return nil, apperrors.ErrNotFound.WithMessage("Target folder not found")
			}
			targetPath = target.Path
		}

		var report *PropagationReport
		folder, report, err = s.relocate(ctx, arena, folder, current.Name, targetParentID, targetPath, true)
		return report, err
	}()

	s.finish(ctx, models.FolderActionMove, folder, oldPath, err, report)
	if errors.Is(err, errNoop) {
		return folder, nil
	}
	return folder, err
}

// relocate moves the folder's directory to parentPath/name and then rewrites the index in one
// transaction. If the transaction fails the directory is renamed back and ErrPartialFailure is
// returned.
func (s *FolderService) relocate(ctx context.Context, arena *folderArena, folder *models.Folder, name, parentID, parentPath string, ensureParent bool) (*models.Folder, *PropagationReport, error) {
	oldPath := folder.Path
	newPath := pathsafe.Join(parentPath, name)

	if owner, ok := arena.pathOwner(newPath); ok && owner != folder.ID {
		return folder, nil, apperrors.ErrDestinationExists
	}
	exists, err := s.tree.DirExists(newPath)
	if err != nil {
		return folder, nil, apperrors.ErrPhysicalRenameFailed.WithInternal(err)
	}
	if exists {
		return folder, nil, apperrors.ErrDestinationExists
	}

	// Storage is only touched once the destination is known to be free.
	if ensureParent {
		if err := s.tree.EnsureParentDir(newPath); err != nil {
			return folder, nil, apperrors.ErrPhysicalRenameFailed.WithInternal(err)
		}
	}

	if err := s.tree.RenameDir(oldPath, newPath); err != nil {
		return folder, nil, apperrors.ErrPhysicalRenameFailed.WithInternal(err)
	}

	now := s.now().UTC()
	var report PropagationReport
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		report, err = s.propagator.Propagate(ctx, tx, arena, folder.ID, oldPath, newPath, now)
		if err != nil {
			return err
		}
		moved, err := s.materials.WithTx(tx).Sync(ctx, oldPath, newPath, now)
		if err != nil {
			return err
		}
		report.Materials += moved
		return s.index.WithTx(tx).UpdateLocation(ctx, folder.ID, name, parentID, newPath, now)
	})
	if txErr != nil {
		rollbackErr := s.tree.RenameDir(newPath, oldPath)
		if rollbackErr != nil {
			s.log.Error("directory rename could not be reverted; storage and index disagree",
				zap.String("folder_id", folder.ID),
				zap.String("index_path", oldPath),
				zap.String("storage_path", newPath),
				zap.Error(rollbackErr),
			)
		}
		return folder, &report, apperrors.ErrPartialFailure.WithInternal(
			fmt.Errorf("folder service: update index: %w", multierr.Append(txErr, rollbackErr)),
		)
	}

	updated := *folder
	updated.Name = name
	updated.ParentID = parentID
	updated.Path = newPath
	updated.UpdatedDate = now

	s.log.Info("folder relocated",
		zap.String("folder_id", folder.ID),
		zap.String("old_path", oldPath),
		zap.String("new_path", newPath),
		zap.Int("descendants", arena.descendantCount(folder.ID)),
		zap.Int("folders_rewritten", report.Folders),
		zap.Int64("materials_rewritten", report.Materials),
		zap.Int("propagation_failures", len(multierr.Errors(report.Failures))),
	)
	return &updated, &report, nil
}

// GetFolders returns the folder hierarchy through the tree cache.
func (s *FolderService) GetFolders(ctx context.Context) ([]*FolderNode, error) {
	tree, err := s.cache.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("folder service: get tree: %w", err)
	}
	return tree, nil
}

// GetFoldersFlat returns every folder row, uncached.
func (s *FolderService) GetFoldersFlat(ctx context.Context) ([]models.Folder, error) {
	folders, err := s.index.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("folder service: list folders: %w", err)
	}
	return folders, nil
}

// GetFolderIDByPath resolves a logical path to a folder id. An unknown path yields "".
func (s *FolderService) GetFolderIDByPath(ctx context.Context, path string) (string, error) {
	path = normalisePath(path)
	if path == "" {
		return "", nil
	}
	folder, ok, err := s.index.FindByPath(ctx, path)
	if err != nil {
		return "", fmt.Errorf("folder service: lookup path: %w", err)
	}
	if !ok {
		return "", nil
	}
	return folder.ID, nil
}

// Events returns the recorded events for a folder, newest first.
func (s *FolderService) Events(ctx context.Context, folderID string, limit int) ([]models.FolderEvent, error) {
	if s.events == nil {
		return []models.FolderEvent{}, nil
	}
	return s.events.ListByFolder(ctx, folderID, limit)
}

// errNoop marks a mutation that had nothing to do.
var errNoop = errors.New("folder service: no change")

func (s *FolderService) loadArena(ctx context.Context) (*folderArena, error) {
	folders, err := s.index.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("folder service: load folders: %w", err)
	}
	return newFolderArena(folders), nil
}

// finish records metrics, logs and the folder event for a mutation outcome.
func (s *FolderService) finish(ctx context.Context, action string, folder *models.Folder, oldPath string, err error, report *PropagationReport) {
	operation := strings.TrimPrefix(action, "folder.")
	entry := FolderEventEntry{
		Action:  action,
		Actor:   auditctx.ActorID(ctx, ""),
		OldPath: oldPath,
	}
	if folder != nil {
		entry.FolderID = folder.ID
		entry.NewPath = folder.Path
		if entry.Actor == "" && action == models.FolderActionCreate {
			entry.Actor = folder.CreatedBy
		}
	}

	metadata := map[string]any{}
	if report != nil {
		metadata["folders_rewritten"] = report.Folders
		metadata["materials_rewritten"] = report.Materials
		if failures := report.FailureMessages(); len(failures) > 0 {
			metadata["propagation_failures"] = failures
		}
	}

	switch {
	case err == nil:
		entry.Result = EventResultSuccess
	case errors.Is(err, errNoop):
		entry.Result = EventResultNoop
	default:
		entry.Result = EventResultError
		appErr := apperrors.FromError(err)
		metadata["code"] = appErr.Code
		metadata["error"] = err.Error()
		s.log.Warn("folder operation failed",
			zap.String("operation", operation),
			zap.String("folder_id", entry.FolderID),
			zap.String("code", appErr.Code),
			zap.Error(err),
		)
	}
	entry.Metadata = metadata

	metrics.FolderOperations.WithLabelValues(operation, entry.Result).Inc()
	recordEvent(s.events, ctx, entry)
}
