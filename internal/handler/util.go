package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/capitalize-ai/unified-inbox/internal/model"
	"github.com/capitalize-ai/unified-inbox/internal/service"
	"github.com/capitalize-ai/unified-inbox/pkg/logger"
)

const maxBodyBytes = 1 << 20

// ErrorResponse is the body of every failed API call.
type ErrorResponse struct {
	Error    string             `json:"error"`
	Code     string             `json:"code,omitempty"`
	Platform model.Channel      `json:"platform,omitempty"`
	Usage    *model.UsageStatus `json:"usage,omitempty"`
	Message  *model.Message     `json:"message,omitempty"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// decodeJSON reads a bounded JSON request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// writeServiceError maps service errors onto HTTP responses. msg is attached
// when a delivery failed after the message was stored.
func writeServiceError(w http.ResponseWriter, r *http.Request, fallback *logger.Logger, err error, msg *model.Message) {
	var (
		reconnect *service.ReconnectRequiredError
		quota     *service.QuotaExceededError
		sendErr   *service.SendFailedError
	)
	switch {
	case errors.As(err, &reconnect):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:    reconnect.Error(),
			Code:     "reconnect_required",
			Platform: reconnect.Platform,
			Message:  msg,
		})
	case errors.As(err, &quota):
		st := quota.Status
		writeJSON(w, http.StatusTooManyRequests, ErrorResponse{
			Error: quota.Error(),
			Code:  "quota_exceeded",
			Usage: &st,
		})
	case errors.As(err, &sendErr):
		writeJSON(w, http.StatusBadGateway, ErrorResponse{
			Error:   sendErr.Error(),
			Code:    "send_failed",
			Message: msg,
		})
	case errors.Is(err, service.ErrNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "not found", Code: "not_found"})
	case errors.Is(err, service.ErrNotRetryable):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "not_retryable"})
	case errors.Is(err, service.ErrConflict):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "conflict"})
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, service.ErrInvalidState):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "invalid_input"})
	case errors.Is(err, service.ErrUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: err.Error(), Code: "unavailable"})
	default:
		logger.FromContext(r.Context(), fallback).Error("request failed",
			zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
