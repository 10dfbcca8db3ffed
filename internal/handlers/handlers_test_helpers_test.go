package handlers

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/kbvault/kbvault/internal/database/testutil"
	"github.com/kbvault/kbvault/internal/middleware"
	"github.com/kbvault/kbvault/internal/services"
	"github.com/kbvault/kbvault/internal/storage"
)

const testActor = "analyst-1"

type handlerEnv struct {
	db      *gorm.DB
	tree    *storage.Tree
	base    string
	folders *services.FolderService
	router  *gin.Engine
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func newHandlerEnv(t *testing.T) *handlerEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	base := t.TempDir()
	tree, err := storage.NewTree(afero.NewOsFs(), storage.Options{
		Root:             filepath.Join(base, "folders"),
		UncategorizedDir: filepath.Join(base, "uncategorized"),
	})
	require.NoError(t, err)
	require.NoError(t, tree.Prepare())

	events, err := services.NewFolderEventLog(db)
	require.NoError(t, err)
	folders, err := services.NewFolderService(db, tree, services.WithEventLog(events))
	require.NoError(t, err)

	router := gin.New()
	router.Use(middleware.Actor(middleware.DefaultActorHeader))

	h := NewFolderHandler(folders)
	group := router.Group("/api/folders")
	group.GET("", h.List)
	group.GET("/tree", h.Tree)
	group.GET("/lookup", h.Lookup)
	group.POST("", h.Create)
	group.PATCH("/:id/name", h.Rename)
	group.PATCH("/:id/parent", h.Move)
	group.GET("/:id/events", h.Events)

	return &handlerEnv{db: db, tree: tree, base: base, folders: folders, router: router}
}

func (e *handlerEnv) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.DefaultActorHeader, testActor)

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out
}
