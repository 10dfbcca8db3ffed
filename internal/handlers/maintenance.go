package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kbvault/kbvault/internal/app/maintenance"
	appErrors "github.com/kbvault/kbvault/pkg/errors"
	"github.com/kbvault/kbvault/pkg/response"
)

// MaintenanceHandler exposes the storage consistency audit.
type MaintenanceHandler struct {
	auditor *maintenance.Auditor
}

// NewMaintenanceHandler constructs a maintenance handler. Returns nil without an auditor.
func NewMaintenanceHandler(auditor *maintenance.Auditor) *MaintenanceHandler {
	if auditor == nil {
		return nil
	}
	return &MaintenanceHandler{auditor: auditor}
}

// Consistency returns the last audit report. ?refresh=true runs a fresh audit first.
func (h *MaintenanceHandler) Consistency(c *gin.Context) {
	if c.Query("refresh") == "true" {
		report, err := h.auditor.Audit(requestContext(c))
		if err != nil {
			response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
			return
		}
		response.Success(c, http.StatusOK, report)
		return
	}

	report, ok := h.auditor.LastReport()
	if !ok {
		response.Error(c, appErrors.ErrNotFound.WithMessage("No consistency audit has run yet"))
		return
	}
	response.Success(c, http.StatusOK, report)
}
