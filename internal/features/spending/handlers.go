package spending

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"serotonyl.ru/credit-engine/internal/api/respond"
)

// Handler принимает списания от сервиса файлов и чата.
type Handler struct {
	service *Service
}

// NewHandler создаёт обработчик списаний.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes регистрирует маршруты /spend.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/spend/download", h.Download)
	r.Post("/spend/chat-message", h.ChatMessage)
}

type downloadRequest struct {
	AccountID  string `json:"account_id"`
	ResourceID string `json:"resource_id"`
	SizeBytes  int64  `json:"size_bytes"`
}

// Download — POST /spend/download
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.BadRequest(w, "%v", err)
		return
	}
	charge, err := h.service.ChargeDownload(r.Context(), req.AccountID, req.ResourceID, req.SizeBytes)
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, charge)
}

type chatMessageRequest struct {
	AccountID string `json:"account_id"`
	MessageID string `json:"message_id"`
}

// ChatMessage — POST /spend/chat-message
func (h *Handler) ChatMessage(w http.ResponseWriter, r *http.Request) {
	var req chatMessageRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.BadRequest(w, "%v", err)
		return
	}
	charge, err := h.service.ChargeChatMessage(r.Context(), req.AccountID, req.MessageID)
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, charge)
}
