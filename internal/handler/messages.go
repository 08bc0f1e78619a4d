package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/capitalize-ai/unified-inbox/internal/middleware"
	"github.com/capitalize-ai/unified-inbox/internal/model"
	"github.com/capitalize-ai/unified-inbox/internal/service"
	"github.com/capitalize-ai/unified-inbox/pkg/logger"
)

// MessageHandler handles message endpoints.
type MessageHandler struct {
	messageService *service.MessageService
	logger         *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(msgSvc *service.MessageService, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		messageService: msgSvc,
		logger:         log,
	}
}

// List handles GET /api/v1/conversations/{id}/messages
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	id, ok := conversationID(w, r)
	if !ok {
		return
	}

	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	resp, err := h.messageService.List(r.Context(), middleware.GetTenantID(r.Context()), id, limit)
	if err != nil {
		writeServiceError(w, r, h.logger, err, nil)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Send handles POST /api/v1/conversations/{id}/messages
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	id, ok := conversationID(w, r)
	if !ok {
		return
	}

	var req model.SendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg, err := h.messageService.Reply(r.Context(), middleware.GetTenantID(r.Context()), id, &req)
	if err != nil {
		writeServiceError(w, r, h.logger, err, msg)
		return
	}

	writeJSON(w, http.StatusCreated, &model.SendMessageResponse{Message: msg})
}

// Retry handles POST /api/v1/messages/{messageID}/retry
func (h *MessageHandler) Retry(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "messageID")
	if err := middleware.ValidateMessageID(messageID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg, err := h.messageService.Retry(r.Context(), middleware.GetTenantID(r.Context()), messageID)
	if err != nil {
		writeServiceError(w, r, h.logger, err, msg)
		return
	}

	writeJSON(w, http.StatusOK, &model.SendMessageResponse{Message: msg})
}
