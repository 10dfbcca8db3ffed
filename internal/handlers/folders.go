package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kbvault/kbvault/internal/middleware"
	"github.com/kbvault/kbvault/internal/services"
	"github.com/kbvault/kbvault/pkg/response"
)

// FolderHandler exposes the folder index over HTTP.
type FolderHandler struct {
	svc *services.FolderService
}

// NewFolderHandler constructs a folder handler.
func NewFolderHandler(svc *services.FolderService) *FolderHandler {
	return &FolderHandler{svc: svc}
}

type createFolderPayload struct {
	Name     string `json:"name" validate:"max=255,foldername"`
	ParentID string `json:"parent_id" validate:"omitempty,max=36"`
}

type renameFolderPayload struct {
	Name string `json:"name" validate:"max=255,foldername"`
}

type moveFolderPayload struct {
	// ParentID is the new parent; empty moves the folder to the root.
	ParentID string `json:"parent_id" validate:"omitempty,max=36"`
}

// Tree returns the cached folder hierarchy.
func (h *FolderHandler) Tree(c *gin.Context) {
	tree, err := h.svc.GetFolders(requestContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, tree)
}

// List returns every folder as a flat list.
func (h *FolderHandler) List(c *gin.Context) {
	folders, err := h.svc.GetFoldersFlat(requestContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, folders)
}

// Lookup resolves ?path= to a folder id. Unknown paths yield a null id.
func (h *FolderHandler) Lookup(c *gin.Context) {
	id, err := h.svc.GetFolderIDByPath(requestContext(c), c.Query("path"))
	if err != nil {
		response.Error(c, err)
		return
	}

	var payload *string
	if id != "" {
		payload = &id
	}
	response.Success(c, http.StatusOK, gin.H{"id": payload})
}

// Create stores a new folder and its directory.
func (h *FolderHandler) Create(c *gin.Context) {
	var payload createFolderPayload
	if !bindAndValidate(c, &payload) {
		return
	}

	createdBy := c.GetString(middleware.CtxUserIDKey)
	folder, err := h.svc.CreateFolder(requestContext(c), payload.Name, strings.TrimSpace(payload.ParentID), createdBy)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, folder)
}

// Rename changes a folder's name.
func (h *FolderHandler) Rename(c *gin.Context) {
	var payload renameFolderPayload
	if !bindAndValidate(c, &payload) {
		return
	}

	folder, err := h.svc.UpdateFolderName(requestContext(c), c.Param("id"), payload.Name)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, folder)
}

// Move re-parents a folder.
func (h *FolderHandler) Move(c *gin.Context) {
	var payload moveFolderPayload
	if !bindAndValidate(c, &payload) {
		return
	}

	folder, err := h.svc.MoveFolder(requestContext(c), c.Param("id"), payload.ParentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, folder)
}

// Events lists the recorded mutations of a folder, newest first.
func (h *FolderHandler) Events(c *gin.Context) {
	events, err := h.svc.Events(requestContext(c), c.Param("id"), parseIntQuery(c, "limit", 50))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, events)
}
