package services

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/kbvault/kbvault/internal/models"
	"github.com/kbvault/kbvault/pkg/metrics"
)

// FolderNode is a folder with its children nested below it.
type FolderNode struct {
	models.Folder
	Children []*FolderNode `json:"children,omitempty"`
}

// FolderTreeCache serves the folder hierarchy and rebuilds it only when the index fingerprint
// moves. Returned trees are shared between callers and must be treated as read-only.
type FolderTreeCache struct {
	index *FolderIndex
	mode  FingerprintMode

	mu          sync.RWMutex
	data        []*FolderNode
	fingerprint string
	populated   bool

	group singleflight.Group
}

// NewFolderTreeCache constructs an empty cache over index.
func NewFolderTreeCache(index *FolderIndex, mode FingerprintMode) (*FolderTreeCache, error) {
	if index == nil {
		return nil, errors.New("folder tree cache: folder index is required")
	}
	if mode == "" {
		mode = FingerprintCreated
	}
	return &FolderTreeCache{index: index, mode: mode}, nil
}

// Mode returns the fingerprint mode in use.
func (c *FolderTreeCache) Mode() FingerprintMode {
	return c.mode
}

// Get returns the folder tree, rebuilding it from a full scan when the fingerprint differs from
// the one the cached tree was built under.
func (c *FolderTreeCache) Get(ctx context.Context) ([]*FolderNode, error) {
	ctx = ensureContext(ctx)

	fingerprint, err := c.index.Fingerprint(ctx, c.mode)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	if c.populated && c.fingerprint == fingerprint {
		data := c.data
		c.mu.RUnlock()
		metrics.TreeCacheLookups.WithLabelValues("hit").Inc()
		return data, nil
	}
	c.mu.RUnlock()
	metrics.TreeCacheLookups.WithLabelValues("miss").Inc()

	// The rebuild is shared by every waiter, so one caller's cancellation must not fail the rest.
	buildCtx := context.WithoutCancel(ctx)
	result, err, _ := c.group.Do(fingerprint, func() (any, error) {
		folders, err := c.index.ListAll(buildCtx)
		if err != nil {
			return nil, err
		}
		tree := buildFolderTree(folders)

		c.mu.Lock()
		c.data = tree
		c.fingerprint = fingerprint
		c.populated = true
		c.mu.Unlock()

		return tree, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]*FolderNode), nil
}

// Reset drops the cached tree so the next Get rebuilds it.
func (c *FolderTreeCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data = nil
	c.fingerprint = ""
	c.populated = false
}

// buildFolderTree groups rows by parent. Rows with an empty parent are roots; rows whose parent
// is missing from the scan are surfaced as roots too rather than dropped.
func buildFolderTree(folders []models.Folder) []*FolderNode {
	nodes := make(map[string]*FolderNode, len(folders))
	for _, folder := range folders {
		nodes[folder.ID] = &FolderNode{Folder: folder}
	}

	roots := make([]*FolderNode, 0)
	for _, folder := range folders {
		node := nodes[folder.ID]
		if folder.ParentID != "" {
			if parent, ok := nodes[folder.ParentID]; ok && parent != node {
				parent.Children = append(parent.Children, node)
				continue
			}
		}
		roots = append(roots, node)
	}

	sortNodes(roots)
	return roots
}

func sortNodes(nodes []*FolderNode) {
	slices.SortFunc(nodes, func(a, b *FolderNode) int {
		return strings.Compare(a.Name, b.Name)
	})
	for _, node := range nodes {
		sortNodes(node.Children)
	}
}
