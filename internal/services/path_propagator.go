package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/kbvault/kbvault/internal/models"
	"github.com/kbvault/kbvault/internal/storage"
	"github.com/kbvault/kbvault/pkg/metrics"
	"github.com/kbvault/kbvault/pkg/pathsafe"
)

// folderArena is an id-keyed view of one full scan of the folder index. Rename and move walk it
// instead of querying the store at each level of the subtree.
type folderArena struct {
	byID     map[string]models.Folder
	byPath   map[string]string
	children map[string][]string
}

func newFolderArena(folders []models.Folder) *folderArena {
	arena := &folderArena{
		byID:     make(map[string]models.Folder, len(folders)),
		byPath:   make(map[string]string, len(folders)),
		children: make(map[string][]string),
	}
	for _, folder := range folders {
		arena.byID[folder.ID] = folder
		arena.byPath[folder.Path] = folder.ID
		arena.children[folder.ParentID] = append(arena.children[folder.ParentID], folder.ID)
	}
	for parent := range arena.children {
		slices.SortFunc(arena.children[parent], func(a, b string) int {
			return strings.Compare(arena.byID[a].Name, arena.byID[b].Name)
		})
	}
	return arena
}

func (a *folderArena) folder(id string) (models.Folder, bool) {
	folder, ok := a.byID[id]
	return folder, ok
}

// pathOwner returns the id of the folder stored at path, if any.
func (a *folderArena) pathOwner(path string) (string, bool) {
	id, ok := a.byPath[path]
	return id, ok
}

// isDescendant reports whether candidateID lies in the subtree below ancestorID. The walk climbs
// parent links from the candidate and stops on a repeated id, so a corrupted index cannot loop.
func (a *folderArena) isDescendant(ancestorID, candidateID string) bool {
	if ancestorID == "" || candidateID == "" || ancestorID == candidateID {
		return false
	}
	seen := make(map[string]struct{})
	current, ok := a.byID[candidateID]
	for ok && current.ParentID != "" {
		if current.ParentID == ancestorID {
			return true
		}
		if _, dup := seen[current.ParentID]; dup {
			return false
		}
		seen[current.ParentID] = struct{}{}
		current, ok = a.byID[current.ParentID]
	}
	return false
}

// descendantCount returns the number of folders below id.
func (a *folderArena) descendantCount(id string) int {
	count := 0
	stack := slices.Clone(a.children[id])
	for len(stack) > 0 {
		last := len(stack) - 1
		next := stack[last]
		stack = stack[:last]
		count++
		stack = append(stack, a.children[next]...)
	}
	return count
}

// PropagationReport summarizes a descendant rewrite.
type PropagationReport struct {
	Folders   int
	Materials int64
	// Failures aggregates descendant directories that could not be reconciled. They do not fail
	// the operation.
	Failures error
}

// FailureMessages flattens Failures for logging and event metadata.
func (r PropagationReport) FailureMessages() []string {
	errs := multierr.Errors(r.Failures)
	out := make([]string, 0, len(errs))
	for _, err := range errs {
		out = append(out, err.Error())
	}
	return out
}

// PathPropagator rewrites the paths of every descendant of a renamed or moved folder, in the
// index, on materials and on storage.
type PathPropagator struct {
	tree      *storage.Tree
	index     *FolderIndex
	materials *MaterialLocationSync
	log       *zap.Logger
}

// NewPathPropagator constructs a PathPropagator.
func NewPathPropagator(tree *storage.Tree, index *FolderIndex, materials *MaterialLocationSync, log *zap.Logger) (*PathPropagator, error) {
	if tree == nil {
		return nil, errors.New("path propagator: storage tree is required")
	}
	if index == nil {
		return nil, errors.New("path propagator: folder index is required")
	}
	if materials == nil {
		return nil, errors.New("path propagator: material sync is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &PathPropagator{tree: tree, index: index, materials: materials, log: log}, nil
}

// Propagate walks the subtree below folderID in pre-order. Each child gets its path rebased from
// the parent's old path onto the parent's new path, its directory reconciled, its row updated and
// its materials re-pointed. Store errors abort the walk so the caller's transaction rolls back;
// directory failures are collected into the report.
func (p *PathPropagator) Propagate(ctx context.Context, tx *gorm.DB, arena *folderArena, folderID, oldPath, newPath string, now time.Time) (PropagationReport, error) {
	ctx = ensureContext(ctx)

	var report PropagationReport
	if oldPath == newPath {
		return report, nil
	}

	index := p.index.WithTx(tx)
	materials := p.materials.WithTx(tx)

	var walk func(parentID, parentOld, parentNew string) error
	walk = func(parentID, parentOld, parentNew string) error {
		for _, childID := range arena.children[parentID] {
			if err := ctx.Err(); err != nil {
				return err
			}
			child := arena.byID[childID]

			childNew, ok := pathsafe.Rebase(child.Path, parentOld, parentNew)
			if !ok {
				p.log.Warn("child path does not extend parent path; rebuilding from name",
					zap.String("folder_id", child.ID),
					zap.String("path", child.Path),
					zap.String("parent_path", parentOld),
				)
				childNew = pathsafe.Join(parentNew, child.Name)
			}

			if err := p.reconcile(child.Path, childNew); err != nil {
				report.Failures = multierr.Append(report.Failures, err)
				metrics.PropagationFailures.Inc()
				p.log.Warn("descendant directory not reconciled",
					zap.String("folder_id", child.ID),
					zap.String("old_path", child.Path),
					zap.String("new_path", childNew),
					zap.Error(err),
				)
			}

			if err := index.UpdatePath(ctx, child.ID, childNew, now); err != nil {
				return fmt.Errorf("update descendant %s: %w", child.ID, err)
			}
			moved, err := materials.Sync(ctx, child.Path, childNew, now)
			if err != nil {
				return err
			}
			report.Folders++
			report.Materials += moved

			if err := walk(child.ID, child.Path, childNew); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(folderID, oldPath, newPath); err != nil {
		return report, err
	}
	return report, nil
}

// reconcile makes sure the directory for a descendant lives at newPath. Usually the parent rename
// already carried it there; otherwise it is renamed from its old location.
func (p *PathPropagator) reconcile(oldPath, newPath string) error {
	atNew, err := p.tree.DirExists(newPath)
	if err != nil {
		return err
	}
	if atNew {
		return nil
	}

	atOld, err := p.tree.DirExists(oldPath)
	if err != nil {
		return err
	}
	if !atOld {
		return fmt.Errorf("directory for %q missing at both %q and %q", newPath, oldPath, newPath)
	}

	if err := p.tree.EnsureParentDir(newPath); err != nil {
		return err
	}
	return p.tree.RenameDir(oldPath, newPath)
}
