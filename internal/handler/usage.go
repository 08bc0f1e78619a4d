package handler

import (
	"net/http"

	"github.com/capitalize-ai/unified-inbox/internal/middleware"
	"github.com/capitalize-ai/unified-inbox/internal/service"
	"github.com/capitalize-ai/unified-inbox/pkg/logger"
)

// UsageHandler reports tenant quota usage.
type UsageHandler struct {
	usage  *service.UsageMeter
	logger *logger.Logger
}

// NewUsageHandler creates a new usage handler.
func NewUsageHandler(usage *service.UsageMeter, log *logger.Logger) *UsageHandler {
	return &UsageHandler{usage: usage, logger: log}
}

// Get handles GET /api/v1/usage
func (h *UsageHandler) Get(w http.ResponseWriter, r *http.Request) {
	snap, err := h.usage.Snapshot(r.Context(), middleware.GetTenantID(r.Context()))
	if err != nil {
		writeServiceError(w, r, h.logger, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
