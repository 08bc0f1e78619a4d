package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/unified-inbox/internal/middleware"
	"github.com/capitalize-ai/unified-inbox/internal/model"
	"github.com/capitalize-ai/unified-inbox/internal/service"
	"github.com/capitalize-ai/unified-inbox/pkg/logger"
	"github.com/capitalize-ai/unified-inbox/pkg/metrics"
)

const defaultHeartbeat = 30 * time.Second

// EventSubscriber follows live conversation events.
type EventSubscriber interface {
	SubscribeConversation(ctx context.Context, tenantID, conversationID string) (<-chan *model.InboxEvent, func(), error)
}

// StreamHandler handles SSE streaming endpoints.
type StreamHandler struct {
	messageService *service.MessageService
	events         EventSubscriber
	heartbeat      time.Duration
	logger         *logger.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(msgSvc *service.MessageService, events EventSubscriber, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		messageService: msgSvc,
		events:         events,
		heartbeat:      defaultHeartbeat,
		logger:         log,
	}
}

// ReplayCompleteEvent represents the completion of message replay.
type ReplayCompleteEvent struct {
	MessageCount int `json:"message_count"`
}

// Stream handles GET /api/v1/conversations/{id}/stream. Stored messages are
// replayed first, then live events follow.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)
	id, ok := conversationID(w, r)
	if !ok {
		return
	}
	log := logger.FromContext(ctx, h.logger)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Subscribe before replaying so nothing stored in between is missed.
	live, stop, err := h.events.SubscribeConversation(ctx, tenantID, id)
	if err != nil {
		log.Error("failed to subscribe to conversation events", zap.String("conversation_id", id), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "live events unavailable")
		return
	}
	defer stop()

	history, err := h.messageService.List(ctx, tenantID, id, 0)
	if err != nil {
		writeServiceError(w, r, h.logger, err, nil)
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)
	// Streams outlive the server write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	_ = sendSSEEvent(w, flusher, "connected", map[string]string{"conversation_id": id})

	replayed := make(map[string]model.DeliveryStatus, len(history.Messages))
	for _, msg := range history.Messages {
		replayed[msg.ID] = msg.DeliveryStatus
		if err := sendSSEEvent(w, flusher, "message", msg); err != nil {
			return
		}
	}
	_ = sendSSEEvent(w, flusher, "replay_complete", &ReplayCompleteEvent{MessageCount: len(history.Messages)})

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("stream client disconnected", zap.String("conversation_id", id))
			return

		case event, open := <-live:
			if !open {
				return
			}
			if event.Message != nil {
				if status, seen := replayed[event.Message.ID]; seen && status == event.Message.DeliveryStatus {
					continue
				}
			}
			if err := sendSSEEvent(w, flusher, string(event.Type), event); err != nil {
				return
			}

		case <-heartbeat.C:
			if err := sendSSEEvent(w, flusher, "heartbeat", &model.HeartbeatEvent{Timestamp: time.Now().UTC()}); err != nil {
				return
			}
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return err
	}
	flusher.Flush()

	return nil
}
