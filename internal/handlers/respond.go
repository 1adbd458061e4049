// Package handlers contains HTTP request handlers for the triage API.
// Handlers parse requests, call services, and return JSON responses.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mindcare/triage-server/internal/services"
)

const maxBodyBytes = 64 << 10

// shown to requesters instead of any technical detail
const requesterFallbackMessage = "我们暂时没能处理你的消息，请稍后再试。如果你现在有危险，请立即拨打 120 或心理援助热线 400-161-9995。"

// Helper: respond with JSON
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Helper: respond with error
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondServiceError maps engine errors onto status codes. Requester routes
// never see raw error text.
func respondServiceError(w http.ResponseWriter, logger *zap.SugaredLogger, err error, requester bool) {
	status, message := http.StatusInternalServerError, "Internal error"
	switch {
	case errors.Is(err, services.ErrInvalidInput):
		status, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, services.ErrNotFound):
		status, message = http.StatusNotFound, err.Error()
	case errors.Is(err, services.ErrInvalidState):
		status, message = http.StatusConflict, err.Error()
	case errors.Is(err, services.ErrLockTimeout):
		status, message = http.StatusServiceUnavailable, "Case is busy, retry shortly"
	case errors.Is(err, services.ErrNotificationFailure):
		status, message = http.StatusBadGateway, err.Error()
	default:
		logger.Errorw("Request failed", "error", err)
	}

	if requester {
		switch status {
		case http.StatusBadRequest:
			message = "请输入你想说的话"
		case http.StatusNotFound:
			message = "没有找到这次咨询"
		case http.StatusConflict:
			message = "这次咨询已经结束，如需帮助请重新开始一次咨询"
		default:
			message = requesterFallbackMessage
		}
	}
	respondJSON(w, status, map[string]string{"error": message})
}

// decodeBody reads a bounded JSON body into dst.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

// uuidParam parses a chi URL parameter as a UUID.
func uuidParam(r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	return id, err == nil
}
