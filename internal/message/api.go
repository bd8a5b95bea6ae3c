package message

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/raktlink/platform/internal/notify"
	"github.com/raktlink/platform/internal/shared/auth"
	"github.com/raktlink/platform/internal/shared/errors"
	"github.com/raktlink/platform/internal/shared/types"
)

const maxContentLength = 2000

// Handler pushes direct messages between users over the realtime hub.
// Messages are not persisted; an offline recipient misses them.
type Handler struct {
	dispatcher *notify.Dispatcher
}

// NewHandler creates a new message handler
func NewHandler(dispatcher *notify.Dispatcher) *Handler {
	return &Handler{dispatcher: dispatcher}
}

// Routes registers the message routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.SendMessage)
	return r
}

type SendMessageRequest struct {
	RecipientID string `json:"recipientId"`
	Content     string `json:"content"`
}

// SendMessage delivers a direct message to the recipient's room
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	recipientID, err := types.ParseID(req.RecipientID)
	if err != nil {
		writeError(w, errors.BadRequest("invalid recipient ID"))
		return
	}
	if recipientID == user.ID {
		writeError(w, errors.BadRequest("cannot message yourself"))
		return
	}
	if req.Content == "" || len(req.Content) > maxContentLength {
		writeError(w, errors.Validation("invalid message", map[string]string{
			"content": "must be between 1 and 2000 characters",
		}))
		return
	}

	h.dispatcher.DirectMessage(user.ID, user.Name, recipientID, req.Content)

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")

	if appErr, ok := err.(*errors.AppError); ok {
		w.WriteHeader(appErr.HTTPStatus)
		json.NewEncoder(w).Encode(map[string]any{
			"error":   appErr.Message,
			"code":    appErr.Code,
			"details": appErr.Details,
		})
		return
	}

	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
}
