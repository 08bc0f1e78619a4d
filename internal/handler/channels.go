package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/unified-inbox/internal/middleware"
	"github.com/capitalize-ai/unified-inbox/internal/model"
	"github.com/capitalize-ai/unified-inbox/internal/service"
	"github.com/capitalize-ai/unified-inbox/pkg/logger"
)

// ChannelHandler connects and disconnects messaging channels.
type ChannelHandler struct {
	service *service.ChannelService
	logger  *logger.Logger
}

// NewChannelHandler creates a new channel handler.
func NewChannelHandler(svc *service.ChannelService, log *logger.Logger) *ChannelHandler {
	return &ChannelHandler{service: svc, logger: log}
}

func channelParam(w http.ResponseWriter, r *http.Request) (model.Channel, bool) {
	ch, err := middleware.ValidateChannel(chi.URLParam(r, "channel"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return ch, true
}

// List handles GET /api/v1/channels
func (h *ChannelHandler) List(w http.ResponseWriter, r *http.Request) {
	views, err := h.service.List(r.Context(), middleware.GetTenantID(r.Context()))
	if err != nil {
		writeServiceError(w, r, h.logger, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"channels": views})
}

// Authorize handles POST /api/v1/channels/{channel}/authorize
func (h *ChannelHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	ch, ok := channelParam(w, r)
	if !ok {
		return
	}

	url, err := h.service.AuthorizeURL(r.Context(), middleware.GetTenantID(r.Context()), ch)
	if err != nil {
		writeServiceError(w, r, h.logger, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, &model.AuthorizeResponse{URL: url})
}

// Callback handles GET /oauth/{channel}/callback. The tenant comes from the
// signed state, so the route is public.
func (h *ChannelHandler) Callback(w http.ResponseWriter, r *http.Request) {
	ch, ok := channelParam(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	if reason := q.Get("error"); reason != "" {
		h.logger.Info("oauth authorization declined",
			zap.String("channel", string(ch)),
			zap.String("reason", reason),
		)
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "authorization declined", Code: "authorization_declined"})
		return
	}
	if q.Get("code") == "" {
		writeError(w, http.StatusBadRequest, "missing code")
		return
	}

	view, err := h.service.Complete(r.Context(), ch, q.Get("state"), q.Get("code"))
	if err != nil {
		writeServiceError(w, r, h.logger, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Connect handles POST /api/v1/channels/{channel}/connect for channels that
// use a static token.
func (h *ChannelHandler) Connect(w http.ResponseWriter, r *http.Request) {
	ch, ok := channelParam(w, r)
	if !ok {
		return
	}

	var req model.ConnectTokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	view, err := h.service.ConnectStatic(r.Context(), middleware.GetTenantID(r.Context()), ch, &req)
	if err != nil {
		writeServiceError(w, r, h.logger, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

// Disconnect handles DELETE /api/v1/channels/{channel}
func (h *ChannelHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	ch, ok := channelParam(w, r)
	if !ok {
		return
	}

	if err := h.service.Disconnect(r.Context(), middleware.GetTenantID(r.Context()), ch); err != nil {
		writeServiceError(w, r, h.logger, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
