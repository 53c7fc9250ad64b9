// Package admin — handlers.go: HTTP-обработчики админ-операций.
// Ключ передаётся в заголовке X-Admin-Key, клиент определяется по адресу.
package admin

import (
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"

	"serotonyl.ru/credit-engine/internal/api/respond"
)

// KeyHeader — заголовок с ключом администратора.
const KeyHeader = "X-Admin-Key"

// Handler обрабатывает админ-запросы.
type Handler struct {
	service *Service
}

// NewHandler создаёт обработчик админ-запросов.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes регистрирует маршруты /admin.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/admin", func(r chi.Router) {
		r.Post("/adjustments", h.Adjust)
		r.Get("/audit/{accountID}", h.Audit)
	})
}

// Adjust — POST /admin/adjustments {account_id, amount, reason, operation_id}
func (h *Handler) Adjust(w http.ResponseWriter, r *http.Request) {
	var req AdjustRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.BadRequest(w, "%v", err)
		return
	}

	adj, err := h.service.Adjust(r.Context(), r.Header.Get(KeyHeader), clientID(r), req)
	if err != nil {
		respond.Error(w, err)
		return
	}

	status := http.StatusCreated
	if adj.Duplicate {
		status = http.StatusOK
	}
	respond.JSON(w, status, adj)
}

// Audit — GET /admin/audit/{accountID}
func (h *Handler) Audit(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.Audit(r.Context(), r.Header.Get(KeyHeader), clientID(r), chi.URLParam(r, "accountID"))
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, report)
}

// clientID — адрес клиента без порта. За прокси адрес уже
// подставлен middleware.RealIP.
func clientID(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
