package handler

import (
	"net/http"

	"github.com/capitalize-ai/unified-inbox/internal/middleware"
	"github.com/capitalize-ai/unified-inbox/internal/service"
	"github.com/capitalize-ai/unified-inbox/pkg/logger"
)

// SuggestionHandler serves AI reply suggestions.
type SuggestionHandler struct {
	service *service.SuggestionService
	logger  *logger.Logger
}

// NewSuggestionHandler creates a new suggestion handler.
func NewSuggestionHandler(svc *service.SuggestionService, log *logger.Logger) *SuggestionHandler {
	return &SuggestionHandler{service: svc, logger: log}
}

// Suggest handles POST /api/v1/conversations/{id}/suggestions
func (h *SuggestionHandler) Suggest(w http.ResponseWriter, r *http.Request) {
	id, ok := conversationID(w, r)
	if !ok {
		return
	}

	resp, err := h.service.Suggest(r.Context(), middleware.GetTenantID(r.Context()), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err, nil)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
