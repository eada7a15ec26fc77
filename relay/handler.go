package relay

import (
	"encoding/json"
	"net/http"

	log "github.com/sirupsen/logrus"
)

// Handler is the notification-relay endpoint: it accepts an action and a
// chat ID and forwards them to the delivery backend.
type Handler struct {
	backend Backend
}

func NewHandler(backend Backend) *Handler {
	return &Handler{backend: backend}
}

type relayRequest struct {
	// Action is a pointer so an absent field is distinguishable from the
	// zero value; decode rejects unknown strings, this rejects omission.
	Action *Action `json:"action"`
	ChatID string  `json:"chatId"`
}

type testResponse struct {
	Success bool `json:"success"`
}

type validateResponse struct {
	IsValid bool `json:"isValid"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	req := &relayRequest{}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		log.WithError(err).Debugf("Rejected malformed relay request")
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.Action == nil {
		writeJSONError(w, http.StatusBadRequest, "action is required")
		return
	}

	if req.ChatID == "" {
		writeJSONError(w, http.StatusBadRequest, "chatId is required")
		return
	}

	// The action set is closed; decode already rejected anything else.
	switch *req.Action {
	case ActionTest:
		h.handleTest(w, r, req.ChatID)
	case ActionValidate:
		h.handleValidate(w, r, req.ChatID)
	}
}

func (h *Handler) handleTest(w http.ResponseWriter, r *http.Request, chatID string) {
	success, err := h.backend.SendTest(r.Context(), chatID)
	if err != nil {
		log.WithFields(log.Fields{
			"chatId": chatID,
			"error":  err,
		}).Errorf("Test notification failed")

		writeJSON(w, http.StatusBadGateway, &testResponse{Success: false})
		return
	}

	writeJSON(w, http.StatusOK, &testResponse{Success: success})
}

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request, chatID string) {
	isValid, err := h.backend.Validate(r.Context(), chatID)
	if err != nil {
		log.WithFields(log.Fields{
			"chatId": chatID,
			"error":  err,
		}).Errorf("Chat validation failed")

		writeJSON(w, http.StatusBadGateway, &validateResponse{IsValid: false})
		return
	}

	writeJSON(w, http.StatusOK, &validateResponse{IsValid: isValid})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithError(err).Error("Failed to write relay response")
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		log.WithError(err).Error("Failed to write relay error response")
	}
}
