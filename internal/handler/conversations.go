// Package handler provides HTTP handlers for the API.
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/capitalize-ai/unified-inbox/internal/middleware"
	"github.com/capitalize-ai/unified-inbox/internal/model"
	"github.com/capitalize-ai/unified-inbox/internal/service"
	"github.com/capitalize-ai/unified-inbox/pkg/logger"
)

// ConversationHandler handles conversation endpoints.
type ConversationHandler struct {
	service *service.ConversationService
	logger  *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(svc *service.ConversationService, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		service: svc,
		logger:  log,
	}
}

// conversationID reads and validates the {id} route parameter.
func conversationID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateConversationID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return id, true
}

// List handles GET /api/v1/conversations?status=open|archived
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)

	var (
		resp *model.ListConversationsResponse
		err  error
	)
	switch model.ConversationStatus(r.URL.Query().Get("status")) {
	case "", model.ConversationOpen:
		resp, err = h.service.ListOpen(ctx, tenantID)
	case model.ConversationArchived:
		resp, err = h.service.ListArchived(ctx, tenantID)
	default:
		writeError(w, http.StatusBadRequest, "status must be open or archived")
		return
	}
	if err != nil {
		writeServiceError(w, r, h.logger, err, nil)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Get handles GET /api/v1/conversations/{id}
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := conversationID(w, r)
	if !ok {
		return
	}

	conv, err := h.service.Get(r.Context(), middleware.GetTenantID(r.Context()), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err, nil)
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// Update handles PATCH /api/v1/conversations/{id}
func (h *ConversationHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := conversationID(w, r)
	if !ok {
		return
	}

	var req model.UpdateConversationRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	conv, err := h.service.Update(r.Context(), middleware.GetTenantID(r.Context()), id, &req)
	if err != nil {
		writeServiceError(w, r, h.logger, err, nil)
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// Delete handles DELETE /api/v1/conversations/{id}
func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := conversationID(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), middleware.GetTenantID(r.Context()), id); err != nil {
		writeServiceError(w, r, h.logger, err, nil)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Archive handles POST /api/v1/conversations/{id}/archive
func (h *ConversationHandler) Archive(w http.ResponseWriter, r *http.Request) {
	id, ok := conversationID(w, r)
	if !ok {
		return
	}

	var req model.ArchiveConversationRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	conv, err := h.service.Archive(r.Context(), middleware.GetTenantID(r.Context()), id, req.Type)
	if err != nil {
		writeServiceError(w, r, h.logger, err, nil)
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// Reopen handles POST /api/v1/conversations/{id}/reopen
func (h *ConversationHandler) Reopen(w http.ResponseWriter, r *http.Request) {
	id, ok := conversationID(w, r)
	if !ok {
		return
	}

	conv, err := h.service.Reopen(r.Context(), middleware.GetTenantID(r.Context()), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err, nil)
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// MarkRead handles POST /api/v1/conversations/{id}/read
func (h *ConversationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id, ok := conversationID(w, r)
	if !ok {
		return
	}

	if err := h.service.MarkRead(r.Context(), middleware.GetTenantID(r.Context()), id); err != nil {
		writeServiceError(w, r, h.logger, err, nil)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
