package orchestration

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/solacehealth/therapy-ai-platform/pkg/logging"
)

// Handler exposes the orchestration pipeline over HTTP.
type Handler struct {
	service *Service
	logger  *logging.Logger
}

// NewHandler creates the HTTP handler for the therapy endpoint.
func NewHandler(service *Service, logger *logging.Logger) *Handler {
	if service == nil {
		panic("orchestration: service cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: service, logger: logger}
}

// Respond handles one user message.
// POST /v1/therapy/respond
func (h *Handler) Respond(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	resp, err := h.service.Respond(r.Context(), req)
	if err != nil {
		if errors.Is(err, ErrInvalidRequest) {
			jsonError(w, "message, userId, and sessionId are required", http.StatusBadRequest)
			return
		}
		// Should not happen: the service degrades to the fallback response for
		// everything except invalid input. Keep the person supported anyway.
		h.logger.Error("orchestration failed", "error", err, "session_id", req.SessionID)
		writeJSON(w, http.StatusInternalServerError, internalErrorPayload())
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// internalErrorPayload still hands the caller a supportive message to show,
// as a plain string alongside the error.
func internalErrorPayload() map[string]string {
	return map[string]string{
		"error":    "internal error",
		"response": fallbackResponseText,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func jsonError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
