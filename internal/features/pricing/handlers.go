package pricing

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"serotonyl.ru/credit-engine/internal/api/respond"
)

// Handler отдаёт предварительный расчёт цен (только чтение).
type Handler struct {
	calc *Calculator
}

// NewHandler создаёт обработчик цен.
func NewHandler(calc *Calculator) *Handler {
	return &Handler{calc: calc}
}

// Routes регистрирует маршруты /pricing.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/pricing/download", h.DownloadQuote)
	r.Get("/pricing/purchase", h.PurchaseQuote)
}

// DownloadQuote — GET /pricing/download?size_bytes=N
func (h *Handler) DownloadQuote(w http.ResponseWriter, r *http.Request) {
	size, err := respond.QueryInt64(r, "size_bytes", -1)
	if err != nil || size < 0 {
		respond.BadRequest(w, "нужен параметр size_bytes >= 0")
		return
	}
	respond.JSON(w, http.StatusOK, map[string]int64{
		"size_bytes": size,
		"cost":       h.calc.DownloadCost(size),
	})
}

// PurchaseQuote — GET /pricing/purchase?size_bytes=N&stored=true
func (h *Handler) PurchaseQuote(w http.ResponseWriter, r *http.Request) {
	size, err := respond.QueryInt64(r, "size_bytes", -1)
	if err != nil || size < 0 {
		respond.BadRequest(w, "нужен параметр size_bytes >= 0")
		return
	}
	stored, err := respond.QueryBool(r, "stored", true)
	if err != nil {
		respond.BadRequest(w, "%v", err)
		return
	}
	respond.JSON(w, http.StatusOK, h.calc.QuotePurchase(size, stored))
}
