package services

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/kbvault/kbvault/internal/database/testutil"
	"github.com/kbvault/kbvault/internal/models"
	"github.com/kbvault/kbvault/internal/storage"
	"github.com/kbvault/kbvault/internal/storage/storagetest"
)

// stepClock hands out strictly increasing timestamps one second apart.
type stepClock struct {
	mu      sync.Mutex
	current time.Time
}

func newStepClock() *stepClock {
	return &stepClock{current: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(time.Second)
	return c.current
}

type folderFixture struct {
	t      *testing.T
	db     *gorm.DB
	fs     *storagetest.FaultFs
	tree   *storage.Tree
	cache  *FolderTreeCache
	events *FolderEventLog
	clock  *stepClock
	svc    *FolderService
}

func newFolderFixture(t *testing.T, mode FingerprintMode) *folderFixture {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	fs := storagetest.NewFaultFs(afero.NewOsFs())
	base := t.TempDir()
	tree, err := storage.NewTree(fs, storage.Options{
		Root:             filepath.Join(base, "folders"),
		UncategorizedDir: filepath.Join(base, "uncategorized"),
	})
	require.NoError(t, err)
	require.NoError(t, tree.Prepare())

	index, err := NewFolderIndex(db)
	require.NoError(t, err)
	cache, err := NewFolderTreeCache(index, mode)
	require.NoError(t, err)
	events, err := NewFolderEventLog(db)
	require.NoError(t, err)

	clock := newStepClock()
	svc, err := NewFolderService(db, tree,
		WithTreeCache(cache),
		WithEventLog(events),
		WithClock(clock.Now),
	)
	require.NoError(t, err)

	fs.Reset()
	return &folderFixture{t: t, db: db, fs: fs, tree: tree, cache: cache, events: events, clock: clock, svc: svc}
}

func (f *folderFixture) create(name, parentID string) *models.Folder {
	f.t.Helper()
	folder, err := f.svc.CreateFolder(context.Background(), name, parentID, "tester")
	require.NoError(f.t, err)
	return folder
}

func (f *folderFixture) addMaterial(title, folderPath string) *models.Material {
	f.t.Helper()
	now := f.clock.Now()
	material := &models.Material{
		Title:       title,
		FileName:    title + ".pdf",
		FolderPath:  folderPath,
		CreatedBy:   "tester",
		CreatedDate: now,
		UpdatedDate: now,
	}
	require.NoError(f.t, f.db.Create(material).Error)
	return material
}

func (f *folderFixture) folder(id string) models.Folder {
	f.t.Helper()
	var folder models.Folder
	require.NoError(f.t, f.db.Where("id = ?", id).Take(&folder).Error)
	return folder
}

func (f *folderFixture) material(id string) models.Material {
	f.t.Helper()
	var material models.Material
	require.NoError(f.t, f.db.Where("id = ?", id).Take(&material).Error)
	return material
}

func (f *folderFixture) physical(logical string) string {
	f.t.Helper()
	path, err := f.tree.Resolve(logical)
	require.NoError(f.t, err)
	return path
}

func (f *folderFixture) requireDir(logical string) {
	f.t.Helper()
	info, err := os.Stat(f.physical(logical))
	require.NoError(f.t, err, "expected directory for %q", logical)
	require.True(f.t, info.IsDir())
}

func (f *folderFixture) requireNoDir(logical string) {
	f.t.Helper()
	_, err := os.Stat(f.physical(logical))
	require.True(f.t, os.IsNotExist(err), "expected no directory for %q", logical)
}

func (f *folderFixture) paths() map[string]string {
	f.t.Helper()
	folders, err := f.svc.GetFoldersFlat(context.Background())
	require.NoError(f.t, err)
	out := make(map[string]string, len(folders))
	for _, folder := range folders {
		out[folder.ID] = folder.Path
	}
	return out
}

func nodeNames(nodes []*FolderNode) []string {
	names := make([]string, 0, len(nodes))
	for _, node := range nodes {
		names = append(names, node.Name)
	}
	return names
}
