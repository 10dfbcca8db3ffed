package services

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/kbvault/kbvault/internal/auditctx"
	"github.com/kbvault/kbvault/internal/models"
	"github.com/kbvault/kbvault/internal/storage/storagetest"
	apperrors "github.com/kbvault/kbvault/pkg/errors"
)

func TestNewFolderServiceValidation(t *testing.T) {
	_, err := NewFolderService(nil, nil)
	require.Error(t, err)

	f := newFolderFixture(t, FingerprintCreated)
	_, err = NewFolderService(f.db, nil)
	require.Error(t, err)

	svc, err := NewFolderService(f.db, f.tree)
	require.NoError(t, err)
	require.Equal(t, FingerprintCreated, svc.Cache().Mode())
}

func TestCreateFolderRootAndChild(t *testing.T) {
	f := newFolderFixture(t, FingerprintCreated)

	security := f.create("Security", "")
	require.Equal(t, "Security", security.Path)
	require.True(t, security.IsRoot())
	require.Equal(t, "tester", security.CreatedBy)
	require.False(t, security.CreatedDate.IsZero())

	malware := f.create("Malware", security.ID)
	require.Equal(t, "Malware", malware.Name)
	require.Equal(t, security.ID, malware.ParentID)
	require.Equal(t, "Security/Malware", malware.Path)

	f.requireDir("Security")
	f.requireDir("Security/Malware")

	stored := f.folder(malware.ID)
	require.Equal(t, "Security/Malware", stored.Path)
}

func TestCreateFolderSanitizesName(t *testing.T) {
	f := newFolderFixture(t, FingerprintCreated)

	folder := f.create("<bad>:name", "")
	require.Equal(t, "badname", folder.Name)
	require.Equal(t, "badname", folder.Path)
	f.requireDir("badname")
}

func TestCreateFolderRejectsEmptyName(t *testing.T) {
	f := newFolderFixture(t, FingerprintCreated)

	for _, name := range []string{"", "   ", "...", `<>:"|?*`} {
		folder, err := f.svc.CreateFolder(context.Background(), name, "", "tester")
		require.ErrorIs(t, err, apperrors.ErrInvalidName, "name %q", name)
		require.Nil(t, folder)
	}
	require.Empty(t, f.paths())
	require.Zero(t, f.fs.TotalCalls())
}

func TestCreateFolderMissingParent(t *testing.T) {
	f := newFolderFixture(t, FingerprintCreated)

	_, err := f.svc.CreateFolder(context.Background(), "Child", "does-not-exist", "tester")
	require.ErrorIs(t, err, apperrors.ErrNotFound)
	require.Empty(t, f.paths())
}

func TestCreateFolderDuplicateSibling(t *testing.T) {
	f := newFolderFixture(t, FingerprintCreated)

	security := f.create("Security", "")
	f.create("Malware", security.ID)

	_, err := f.svc.CreateFolder(context.Background(), " Malware ", security.ID, "tester")
	require.ErrorIs(t, err, apperrors.ErrDestinationExists)
	require.Len(t, f.paths(), 2)
}

func TestCreateFolderPhysicalFailureLeavesRow(t *testing.T) {
	f := newFolderFixture(t, FingerprintCreated)
	f.fs.FailMkdirWhen(func(path string) bool {
		return filepath.Base(path) == "Offline"
	})

	folder, err := f.svc.CreateFolder(context.Background(), "Offline", "", "tester")
	require.ErrorIs(t, err, apperrors.ErrPhysicalCreateFailed)
	require.ErrorIs(t, err, storagetest.ErrInjected)
	require.NotNil(t, folder)

	id, err := f.svc.GetFolderIDByPath(context.Background(), "Offline")
	require.NoError(t, err)
	require.Equal(t, folder.ID, id)
	f.requireNoDir("Offline")
}

func TestUpdateFolderNameSameNameIsNoop(t *testing.T) {
	f := newFolderFixture(t, FingerprintCreated)
	security := f.create("Security", "")
	f.fs.Reset()

	folder, err := f.svc.UpdateFolderName(context.Background(), security.ID, " Security. ")
	require.NoError(t, err)
	require.Equal(t, "Security", folder.Name)
	require.Equal(t, "Security", folder.Path)
	require.Zero(t, f.fs.TotalCalls())
	require.True(t, security.UpdatedDate.Equal(f.folder(security.ID).UpdatedDate))
}

func TestUpdateFolderNameValidation(t *testing.T) {
	f := newFolderFixture(t, FingerprintCreated)
	security := f.create("Security", "")

	_, err := f.svc.UpdateFolderName(context.Background(), "missing", "Other")
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = f.svc.UpdateFolderName(context.Background(), security.ID, "???")
	require.ErrorIs(t, err, apperrors.ErrInvalidName)
	require.Equal(t, "Security", f.folder(security.ID).Path)
}

func TestUpdateFolderNamePropagatesToSubtreeAndMaterials(t *testing.T) {
	f := newFolderFixture(t, FingerprintCreated)

	security := f.create("Security", "")
	malware := f.create("Malware", security.ID)
	samples := f.create("Samples", malware.ID)
	ops := f.create("SecurityOps", "")

	rootDoc := f.addMaterial("policy", "Security")
	malwareDoc := f.addMaterial("triage", "Security/Malware")
	sampleDoc := f.addMaterial("hashes", "Security/Malware/Samples")
	opsDoc := f.addMaterial("runbook", "SecurityOps")
	looseDoc := f.addMaterial("loose", "")

	require.NoError(t, os.WriteFile(filepath.Join(f.physical("Security/Malware"), "triage.pdf"), []byte("pdf"), 0o644))

	renamed, err := f.svc.UpdateFolderName(context.Background(), security.ID, "Sécurité ")
	require.NoError(t, err)
	require.Equal(t, "Sécurité", renamed.Name)
	require.Equal(t, "Sécurité", renamed.Path)

	require.Equal(t, "Sécurité", f.folder(security.ID).Path)
	require.Equal(t, "Sécurité", f.folder(security.ID).Name)
	require.Equal(t, "Sécurité/Malware", f.folder(malware.ID).Path)
	require.Equal(t, "Sécurité/Malware/Samples", f.folder(samples.ID).Path)
	require.Equal(t, "SecurityOps", f.folder(ops.ID).Path)
	require.True(t, f.folder(malware.ID).UpdatedDate.After(malware.UpdatedDate))

	require.Equal(t, "Sécurité", f.material(rootDoc.ID).FolderPath)
	require.Equal(t, "Sécurité/Malware", f.material(malwareDoc.ID).FolderPath)
	require.Equal(t, "Sécurité/Malware/Samples", f.material(sampleDoc.ID).FolderPath)
	require.Equal(t, "SecurityOps", f.material(opsDoc.ID).FolderPath)
	require.Equal(t, "", f.material(looseDoc.ID).FolderPath)

	f.requireNoDir("Security")
	f.requireDir("Sécurité/Malware/Samples")
	f.requireDir("SecurityOps")
	_, err = os.Stat(filepath.Join(f.physical("Sécurité/Malware"), "triage.pdf"))
	require.NoError(t, err)

	id, err := f.svc.GetFolderIDByPath(context.Background(), "Sécurité/Malware")
	require.NoError(t, err)
	require.Equal(t, malware.ID, id)
	id, err = f.svc.GetFolderIDByPath(context.Background(), "Security/Malware")
	require.NoError(t, err)
	require.Empty(t, id)
}

func TestUpdateFolderNameDestinationExistsInIndex(t *testing.T) {
	f := newFolderFixture(t, FingerprintCreated)
	security := f.create("Security", "")
	f.create("Archive", "")
	f.fs.Reset()

	_, err := f.svc.UpdateFolderName(context.Background(), security.ID, "Archive")
	require.ErrorIs(t, err, apperrors.ErrDestinationExists)
	require.Equal(t, "Security", f.folder(security.ID).Path)
	require.Zero(t, f.fs.Calls("rename"))
	f.requireDir("Security")
}

func TestUpdateFolderNameDestinationExistsOnDisk(t *testing.T) {
	f := newFolderFixture(t, FingerprintCreated)
	security := f.create("Security", "")
	require.NoError(t, os.MkdirAll(f.physical("Sécurité"), 0o755))
	f.fs.Reset()

	_, err := f.svc.UpdateFolderName(context.Background(), security.ID, "Sécurité")
	require.ErrorIs(t, err, apperrors.ErrDestinationExists)
	require.Equal(t, "Security", f.folder(security.ID).Path)
	require.Zero(t, f.fs.Calls("rename"))
}

func TestUpdateFolderNamePhysicalRenameFailureKeepsIndex(t *testing.T) {
	f := newFolderFixture(t, FingerprintCreated)
	security := f.create("Security", "")
	malware := f.create("Malware", security.ID)
	doc := f.addMaterial("triage", "Security/Malware")

	f.fs.FailRenameFrom(string(filepath.Separator) + "Security")

	_, err := f.svc.UpdateFolderName(context.Background(), security.ID, "Sécurité")
	require.ErrorIs(t, err, apperrors.ErrPhysicalRenameFailed)
	require.ErrorIs(t, err, storagetest.ErrInjected)

	require.Equal(t, "Security", f.folder(security.ID).Path)
	require.Equal(t, "Security/Malware", f.folder(malware.ID).Path)
	require.Equal(t, "Security/Malware", f.material(doc.ID).FolderPath)
	f.requireDir("Security/Malware")
}

func TestUpdateFolderNameIndexFailureRenamesDirectoryBack(t *testing.T) {
	f := newFolderFixture(t, FingerprintCreated)
	security := f.create("Security", "")
	malware := f.create("Malware", security.ID)
	doc := f.addMaterial("triage", "Security/Malware")

	injected := errors.New("index unavailable")
	require.NoError(t, f.db.Callback().Update().Before("gorm:update").Register("test:fail_folder_update", func(tx *gorm.DB) {
		if tx.Statement.Table == "folders" {
			_ = tx.AddError(injected)
		}
	}))

	_, err := f.svc.UpdateFolderName(context.Background(), security.ID, "Sécurité")
	require.ErrorIs(t, err, apperrors.ErrPartialFailure)
	require.ErrorIs(t, err, injected)

	require.Equal(t, "Security", f.folder(security.ID).Path)
	require.Equal(t, "Security/Malware", f.folder(malware.ID).Path)
	require.Equal(t, "Security/Malware", f.material(doc.ID).FolderPath)
	f.requireDir("Security/Malware")
	f.requireNoDir("Sécurité")
	require.Equal(t, 2, f.fs.Calls("rename"))
}

func TestUpdateFolderNameToleratesMissingDescendantDirectory(t *testing.T) {
	f := newFolderFixture(t, FingerprintCreated)
	security := f.create("Security", "")
	malware := f.create("Malware", security.ID)
	require.NoError(t, os.RemoveAll(f.physical("Security/Malware")))

	_, err := f.svc.UpdateFolderName(context.Background(), security.ID, "Sécurité")
	require.NoError(t, err)
	require.Equal(t, "Sécurité/Malware", f.folder(malware.ID).Path)

	events, err := f.svc.Events(context.Background(), security.ID, 10)
	require.NoError(t, err)

	var rename *models.FolderEvent
	for i := range events {
		if events[i].Action == models.FolderActionRename {
			rename = &events[i]
		}
	}
	require.NotNil(t, rename)
	require.Equal(t, EventResultSuccess, rename.Result)

	var metadata map[string]any
	require.NoError(t, json.Unmarshal(rename.Metadata, &metadata))
	require.Len(t, metadata["propagation_failures"], 1)
	require.EqualValues(t, 1, metadata["folders_rewritten"])
}

func TestMoveFolderRejectsSelfParent(t *testing.T) {
	f := newFolderFixture(t, FingerprintCreated)
	security := f.create("Security", "")

	_, err := f.svc.MoveFolder(context.Background(), security.ID, security.ID)
	require.ErrorIs(t, err, apperrors.ErrSelfParent)
}

func TestMoveFolderRejectsCycles(t *testing.T) {
	f := newFolderFixture(t, FingerprintCreated)
	security := f.create("Security", "")
	malware := f.create("Malware", security.ID)
	samples := f.create("Samples", malware.ID)
	before := f.paths()
	f.fs.Reset()

	_, err := f.svc.MoveFolder(context.Background(), security.ID, malware.ID)
	require.ErrorIs(t, err, apperrors.ErrCyclicMove)

	_, err = f.svc.MoveFolder(context.Background(), security.ID, samples.ID)
	require.ErrorIs(t, err, apperrors.ErrCyclicMove)

	require.Equal(t, before, f.paths())
	require.Zero(t, f.fs.TotalCalls())
}

func TestMoveFolderSameParentIsNoop(t *testing.T) {
	f := newFolderFixture(t, FingerprintCreated)
	security := f.create("Security", "")
	malware := f.create("Malware", security.ID)
	f.fs.Reset()

	folder, err := f.svc.MoveFolder(context.Background(), malware.ID, security.ID)
	require.NoError(t, err)
	require.Equal(t, "Security/Malware", folder.Path)
	require.Zero(t, f.fs.TotalCalls())

	folder, err = f.svc.MoveFolder(context.Background(), security.ID, "")
	require.NoError(t, err)
	require.Equal(t, "Security", folder.Path)
}

func TestMoveFolderNotFound(t *testing.T) {
	f := newFolderFixture(t, FingerprintCreated)
	security := f.create("Security", "")

	_, err := f.svc.MoveFolder(context.Background(), "missing", security.ID)
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = f.svc.MoveFolder(context.Background(), security.ID, "missing")
	require.ErrorIs(t, err, apperrors.ErrNotFound)
	require.Equal(t, "Security", f.folder(security.ID).Path)
}

func TestMoveFolderToRoot(t *testing.T) {
	f := newFolderFixture(t, FingerprintCreated)
	security := f.create("Security", "")
	malware := f.create("Malware", security.ID)
	samples := f.create("Samples", malware.ID)
	doc := f.addMaterial("hashes", "Security/Malware/Samples")

	moved, err := f.svc.MoveFolder(context.Background(), malware.ID, "")
	require.NoError(t, err)
	require.Equal(t, "Malware", moved.Path)
	require.Equal(t, "", moved.ParentID)

	stored := f.folder(malware.ID)
	require.True(t, stored.IsRoot())
	require.Equal(t, "Malware", stored.Path)
	require.Equal(t, "Malware/Samples", f.folder(samples.ID).Path)
	require.Equal(t, "Malware/Samples", f.material(doc.ID).FolderPath)

	f.requireDir("Malware/Samples")
	f.requireNoDir("Security/Malware")
	f.requireDir("Security")
}

func TestMoveFolderIntoBranchWithoutDirectory(t *testing.T) {
	f := newFolderFixture(t, FingerprintCreated)
	security := f.create("Security", "")
	archive := f.create("Archive", "")
	require.NoError(t, os.RemoveAll(f.physical("Archive")))

	moved, err := f.svc.MoveFolder(context.Background(), security.ID, archive.ID)
	require.NoError(t, err)
	require.Equal(t, "Archive/Security", moved.Path)
	require.Equal(t, archive.ID, f.folder(security.ID).ParentID)
	f.requireDir("Archive/Security")
}

func TestMoveFolderDestinationExists(t *testing.T) {
	f := newFolderFixture(t, FingerprintCreated)
	security := f.create("Security", "")
	malware := f.create("Malware", security.ID)
	f.create("Malware", "")

	_, err := f.svc.MoveFolder(context.Background(), malware.ID, "")
	require.ErrorIs(t, err, apperrors.ErrDestinationExists)
	require.Equal(t, "Security/Malware", f.folder(malware.ID).Path)
	f.requireDir("Security/Malware")
}

func TestMoveFolderDestinationExistsLeavesStorageUntouched(t *testing.T) {
	f := newFolderFixture(t, FingerprintCreated)
	target := f.create("Target", "")
	f.create("X", target.ID)
	x := f.create("X", "")
	require.NoError(t, os.RemoveAll(f.physical("Target")))
	f.fs.Reset()

	_, err := f.svc.MoveFolder(context.Background(), x.ID, target.ID)
	require.ErrorIs(t, err, apperrors.ErrDestinationExists)
	require.Zero(t, f.fs.Calls("mkdirall"))
	require.Zero(t, f.fs.Calls("mkdir"))
	require.Zero(t, f.fs.Calls("rename"))
	f.requireNoDir("Target")
	f.requireDir("X")
	require.Equal(t, "X", f.folder(x.ID).Path)
}

func TestMoveFolderRecordsActor(t *testing.T) {
	f := newFolderFixture(t, FingerprintCreated)
	security := f.create("Security", "")
	archive := f.create("Archive", "")

	ctx := auditctx.WithActor(context.Background(), auditctx.Actor{ID: "alice"})
	_, err := f.svc.MoveFolder(ctx, security.ID, archive.ID)
	require.NoError(t, err)

	events, err := f.events.ListByFolder(context.Background(), security.ID, 10)
	require.NoError(t, err)

	var found bool
	for _, event := range events {
		if event.Action == models.FolderActionMove {
			found = true
			require.Equal(t, "alice", event.Actor)
			require.Equal(t, "Security", event.OldPath)
			require.Equal(t, "Archive/Security", event.NewPath)
			require.Equal(t, EventResultSuccess, event.Result)
		}
	}
	require.True(t, found)
}

func TestGetFoldersReflectsCreate(t *testing.T) {
	f := newFolderFixture(t, FingerprintCreated)
	ctx := context.Background()

	tree, err := f.svc.GetFolders(ctx)
	require.NoError(t, err)
	require.Empty(t, tree)

	security := f.create("Security", "")
	f.create("Malware", security.ID)

	tree, err = f.svc.GetFolders(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"Security"}, nodeNames(tree))
	require.Equal(t, []string{"Malware"}, nodeNames(tree[0].Children))

	f.create("Archive", "")
	tree, err = f.svc.GetFolders(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"Archive", "Security"}, nodeNames(tree))
}

func TestGetFoldersStaysStaleAfterRenameWithCreatedFingerprint(t *testing.T) {
	f := newFolderFixture(t, FingerprintCreated)
	ctx := context.Background()
	security := f.create("Security", "")
	f.create("Malware", security.ID)

	tree, err := f.svc.GetFolders(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"Security"}, nodeNames(tree))

	_, err = f.svc.UpdateFolderName(ctx, security.ID, "Sécurité")
	require.NoError(t, err)

	tree, err = f.svc.GetFolders(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"Security"}, nodeNames(tree))
	require.Equal(t, "Security/Malware", tree[0].Children[0].Path)

	flat, err := f.svc.GetFoldersFlat(ctx)
	require.NoError(t, err)
	require.Equal(t, "Sécurité", flat[0].Path)

	f.create("Archive", "")
	tree, err = f.svc.GetFolders(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"Archive", "Sécurité"}, nodeNames(tree))
	require.Equal(t, "Sécurité/Malware", tree[1].Children[0].Path)
}

func TestGetFoldersRefreshesAfterRenameWithModifiedFingerprint(t *testing.T) {
	f := newFolderFixture(t, FingerprintModified)
	ctx := context.Background()
	security := f.create("Security", "")
	f.create("Malware", security.ID)

	_, err := f.svc.GetFolders(ctx)
	require.NoError(t, err)

	_, err = f.svc.UpdateFolderName(ctx, security.ID, "Sécurité")
	require.NoError(t, err)

	tree, err := f.svc.GetFolders(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"Sécurité"}, nodeNames(tree))
	require.Equal(t, "Sécurité/Malware", tree[0].Children[0].Path)
}

func TestGetFolderIDByPath(t *testing.T) {
	f := newFolderFixture(t, FingerprintCreated)
	ctx := context.Background()
	security := f.create("Security", "")
	malware := f.create("Malware", security.ID)

	id, err := f.svc.GetFolderIDByPath(ctx, "Security/Malware")
	require.NoError(t, err)
	require.Equal(t, malware.ID, id)

	id, err = f.svc.GetFolderIDByPath(ctx, " /Security/Malware/ ")
	require.NoError(t, err)
	require.Equal(t, malware.ID, id)

	id, err = f.svc.GetFolderIDByPath(ctx, "Security/Unknown")
	require.NoError(t, err)
	require.Empty(t, id)

	id, err = f.svc.GetFolderIDByPath(ctx, "")
	require.NoError(t, err)
	require.Empty(t, id)
}
