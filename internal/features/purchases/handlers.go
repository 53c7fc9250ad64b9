package purchases

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"serotonyl.ru/credit-engine/internal/api/respond"
)

// Handler обрабатывает покупки ресурсов.
type Handler struct {
	service *Service
}

// NewHandler создаёт обработчик покупок.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes регистрирует маршруты /purchases.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/purchases", func(r chi.Router) {
		r.Post("/", h.Purchase)
		r.Post("/settle", h.Settle)
		r.Get("/{buyerID}", h.List)
		r.Get("/{buyerID}/{resourceID}", h.Get)
	})
}

// Purchase — POST /purchases {buyer_id, resource_id, owner_id, size_bytes, stored}
func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	var req PurchaseRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.BadRequest(w, "%v", err)
		return
	}
	receipt, err := h.service.Purchase(r.Context(), req)
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusCreated, receipt)
}

type settleRequest struct {
	BuyerID        string           `json:"buyer_id"`
	ResourceID     string           `json:"resource_id"`
	OwnerID        string           `json:"owner_id"`
	Cost           int64            `json:"cost"`
	CommissionRate *decimal.Decimal `json:"commission_rate,omitempty"`
}

// Settle — POST /purchases/settle {buyer_id, resource_id, owner_id, cost, commission_rate?}.
// Без commission_rate берётся ставка из конфигурации.
func (h *Handler) Settle(w http.ResponseWriter, r *http.Request) {
	var body settleRequest
	if err := respond.Decode(r, &body); err != nil {
		respond.BadRequest(w, "%v", err)
		return
	}

	rate := h.service.cfg.CommissionRate
	if body.CommissionRate != nil {
		rate = *body.CommissionRate
		if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
			respond.BadRequest(w, "commission_rate должен быть в диапазоне [0, 1]")
			return
		}
	}

	receipt, err := h.service.Settle(r.Context(), SettleRequest{
		BuyerID:        body.BuyerID,
		ResourceID:     body.ResourceID,
		OwnerID:        body.OwnerID,
		Cost:           body.Cost,
		CommissionRate: rate,
	})
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusCreated, receipt)
}

// List — GET /purchases/{buyerID}?limit=N
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	limit, err := respond.QueryInt64(r, "limit", 0)
	if err != nil {
		respond.BadRequest(w, "%v", err)
		return
	}
	records, err := h.service.ListPurchases(r.Context(), chi.URLParam(r, "buyerID"), int(limit))
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"purchases": records})
}

// Get — GET /purchases/{buyerID}/{resourceID}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	record, err := h.service.GetPurchase(r.Context(), chi.URLParam(r, "buyerID"), chi.URLParam(r, "resourceID"))
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, record)
}
