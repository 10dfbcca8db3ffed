// Package storage maps logical folder paths onto the physical directory tree under the configured
// storage root.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/kbvault/kbvault/pkg/pathsafe"
)

const defaultDirMode os.FileMode = 0o755

var (
	// ErrInvalidPath reports an empty logical path or one with "." / ".." segments.
	ErrInvalidPath = errors.New("storage: invalid logical path")
	// ErrOutsideRoot reports a logical path that would resolve outside the storage root.
	ErrOutsideRoot = errors.New("storage: path escapes storage root")
)

// Options configures a Tree.
type Options struct {
	// Root is the directory holding one sub-directory per folder path.
	Root string
	// UncategorizedDir holds materials that are not filed under any folder. It must live
	// outside Root so it can never collide with a folder name.
	UncategorizedDir string
	DirMode          os.FileMode
}

// Tree resolves logical slash-separated folder paths to directories under a root and performs
// the directory operations the folder index needs. It never consults the index.
type Tree struct {
	fs            afero.Fs
	root          string
	uncategorized string
	dirMode       os.FileMode
}

// NewTree constructs a Tree. The root is not touched, so a Tree can be built while the backing
// drive is offline.
func NewTree(fs afero.Fs, opts Options) (*Tree, error) {
	if fs == nil {
		return nil, errors.New("storage: filesystem is required")
	}
	root := strings.TrimSpace(opts.Root)
	if root == "" {
		return nil, errors.New("storage: root is required")
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}

	uncategorized := strings.TrimSpace(opts.UncategorizedDir)
	if uncategorized == "" {
		uncategorized = filepath.Join(filepath.Dir(absRoot), "uncategorized")
	}
	absUncategorized, err := filepath.Abs(uncategorized)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve uncategorized dir: %w", err)
	}
	if within(absRoot, absUncategorized) {
		return nil, fmt.Errorf("storage: uncategorized dir %q must not be inside root %q", absUncategorized, absRoot)
	}

	mode := opts.DirMode
	if mode == 0 {
		mode = defaultDirMode
	}

	return &Tree{
		fs:            fs,
		root:          absRoot,
		uncategorized: absUncategorized,
		dirMode:       mode,
	}, nil
}

// Root returns the absolute storage root.
func (t *Tree) Root() string {
	return t.root
}

// Resolve maps a logical path to its absolute directory under the root.
func (t *Tree) Resolve(logicalPath string) (string, error) {
	segments := pathsafe.Segments(logicalPath)
	if len(segments) == 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, logicalPath)
	}
	for _, segment := range segments {
		if segment == "." || segment == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidPath, logicalPath)
		}
	}

	physical := filepath.Join(append([]string{t.root}, segments...)...)
	if !within(t.root, physical) || physical == t.root {
		return "", fmt.Errorf("%w: %q", ErrOutsideRoot, logicalPath)
	}
	return physical, nil
}

// EnsureDir creates the directory for logicalPath along with any missing parents.
func (t *Tree) EnsureDir(logicalPath string) error {
	physical, err := t.Resolve(logicalPath)
	if err != nil {
		return err
	}
	if err := t.fs.MkdirAll(physical, t.dirMode); err != nil {
		return fmt.Errorf("storage: mkdir %q: %w", physical, err)
	}
	return nil
}

// EnsureParentDir creates the directory that will contain logicalPath. For a top-level path
// that is the storage root itself.
func (t *Tree) EnsureParentDir(logicalPath string) error {
	physical, err := t.Resolve(logicalPath)
	if err != nil {
		return err
	}
	parent := filepath.Dir(physical)
	if err := t.fs.MkdirAll(parent, t.dirMode); err != nil {
		return fmt.Errorf("storage: mkdir %q: %w", parent, err)
	}
	return nil
}

// DirExists reports whether the directory for logicalPath exists.
func (t *Tree) DirExists(logicalPath string) (bool, error) {
	physical, err := t.Resolve(logicalPath)
	if err != nil {
		return false, err
	}
	exists, err := afero.DirExists(t.fs, physical)
	if err != nil {
		return false, fmt.Errorf("storage: stat %q: %w", physical, err)
	}
	return exists, nil
}

// RenameDir moves the directory for oldPath to newPath. The caller is responsible for checking
// that newPath is free; some platforms silently replace an empty destination.
func (t *Tree) RenameDir(oldPath, newPath string) error {
	from, err := t.Resolve(oldPath)
	if err != nil {
		return err
	}
	to, err := t.Resolve(newPath)
	if err != nil {
		return err
	}
	if from == to {
		return nil
	}
	if err := t.fs.Rename(from, to); err != nil {
		return fmt.Errorf("storage: rename %q to %q: %w", from, to, err)
	}
	return nil
}

// MaterialDir returns the directory that stores files of a material filed under folderPath.
// Uncategorized materials live in the fixed uncategorized directory.
func (t *Tree) MaterialDir(folderPath string) (string, error) {
	if folderPath == "" {
		return t.uncategorized, nil
	}
	return t.Resolve(folderPath)
}

// CheckRoot verifies that the storage root is reachable.
func (t *Tree) CheckRoot() error {
	exists, err := afero.DirExists(t.fs, t.root)
	if err != nil {
		return fmt.Errorf("storage: stat root %q: %w", t.root, err)
	}
	if !exists {
		return fmt.Errorf("storage: root %q does not exist", t.root)
	}
	return nil
}

// Prepare creates the storage root and the uncategorized directory when missing.
func (t *Tree) Prepare() error {
	for _, dir := range []string{t.root, t.uncategorized} {
		if err := t.fs.MkdirAll(dir, t.dirMode); err != nil {
			return fmt.Errorf("storage: mkdir %q: %w", dir, err)
		}
	}
	return nil
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
