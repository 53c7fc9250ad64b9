// Package ledger — handlers.go отдаёт счета и журнал по HTTP:
// создание счёта, баланс, уровень, история и проведение транзакций.
package ledger

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"serotonyl.ru/credit-engine/internal/api/respond"
)

// Handler обрабатывает запросы к счетам и журналу.
type Handler struct {
	service *Service
}

// NewHandler создаёт обработчик журнала.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes регистрирует маршруты счетов.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/accounts", h.CreateAccount)
	r.Route("/accounts/{accountID}", func(r chi.Router) {
		r.Get("/", h.GetAccount)
		r.Get("/balance", h.GetBalance)
		r.Get("/level", h.GetLevel)
		r.Get("/transactions", h.History)
		r.Get("/transactions/lookup", h.FindByReference)
	})
	r.Post("/transactions", h.ProcessTransaction)
}

type createAccountRequest struct {
	AccountID string `json:"account_id"`
}

// CreateAccount — POST /accounts. 201 для нового счёта, 200 для существующего.
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.BadRequest(w, "%v", err)
		return
	}

	acc, created, err := h.service.EnsureAccount(r.Context(), req.AccountID)
	if err != nil {
		respond.Error(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	respond.JSON(w, status, acc)
}

// GetAccount — GET /accounts/{accountID}
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	acc, err := h.service.GetAccount(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, acc)
}

// GetBalance — GET /accounts/{accountID}/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "accountID")
	balance, err := h.service.GetBalance(r.Context(), id)
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{
		"account_id": id,
		"balance":    balance,
	})
}

// GetLevel — GET /accounts/{accountID}/level
func (h *Handler) GetLevel(w http.ResponseWriter, r *http.Request) {
	progress, err := h.service.GetLevel(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, progress)
}

// History — GET /accounts/{accountID}/transactions?category=...&limit=N
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	limit, err := respond.QueryInt64(r, "limit", 0)
	if err != nil {
		respond.BadRequest(w, "%v", err)
		return
	}
	filter := ListFilter{Limit: int(limit)}
	if raw := r.URL.Query().Get("category"); raw != "" {
		filter.Category, err = ParseCategory(raw)
		if err != nil {
			respond.Error(w, err)
			return
		}
	}

	txs, err := h.service.History(r.Context(), chi.URLParam(r, "accountID"), filter)
	if err != nil {
		respond.Error(w, err)
		return
	}
	if txs == nil {
		txs = []Transaction{}
	}
	respond.JSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

// FindByReference — GET /accounts/{accountID}/transactions/lookup?reference_key=...
func (h *Handler) FindByReference(w http.ResponseWriter, r *http.Request) {
	t, err := h.service.FindByReference(r.Context(),
		chi.URLParam(r, "accountID"), r.URL.Query().Get("reference_key"))
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, t)
}

// ProcessTransaction — POST /transactions.
// 201 для новой транзакции, 200 для повтора с тем же ключом.
func (h *Handler) ProcessTransaction(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := respond.Decode(r, &req); err != nil {
		respond.BadRequest(w, "%v", err)
		return
	}

	res, err := h.service.ProcessTransaction(r.Context(), req)
	if err != nil {
		respond.Error(w, err)
		return
	}

	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	respond.JSON(w, status, res)
}
