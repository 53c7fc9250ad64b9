package rewards

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"serotonyl.ru/credit-engine/internal/api/respond"
)

// Handler принимает события, за которые положены награды.
// Вызывается доверенными сервисами (загрузки, соцграф, чат, авторизация).
type Handler struct {
	service *Service
	queue   Queue
}

// NewHandler создаёт обработчик наград.
func NewHandler(service *Service, queue Queue) *Handler {
	return &Handler{service: service, queue: queue}
}

// Routes регистрирует маршруты /rewards.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/rewards", func(r chi.Router) {
		r.Post("/upload", h.Upload)
		r.Post("/upvotes", h.Upvotes)
		r.Post("/followers", h.Followers)
		r.Post("/chat-bonus", h.ChatBonus)
		r.Post("/daily-login", h.DailyLogin)
		r.Post("/welcome", h.Welcome)
		r.Post("/referral", h.Referral)
		r.Get("/queue", h.QueueStatus)
	})
}

type rewardRequest struct {
	AccountID     string    `json:"account_id"`
	ResourceID    string    `json:"resource_id,omitempty"`
	PostID        string    `json:"post_id,omitempty"`
	Count         int64     `json:"count,omitempty"`
	FollowerCount int64     `json:"follower_count,omitempty"`
	SessionID     string    `json:"session_id,omitempty"`
	ReferredID    string    `json:"referred_id,omitempty"`
	At            time.Time `json:"at,omitempty"`
}

// Upload — POST /rewards/upload {account_id, resource_id}
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, func(req rewardRequest) (Outcome, error) {
		return h.service.RewardUpload(r.Context(), req.AccountID, req.ResourceID)
	})
}

// Upvotes — POST /rewards/upvotes {account_id, post_id, count}
func (h *Handler) Upvotes(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, func(req rewardRequest) (Outcome, error) {
		return h.service.RewardUpvotes(r.Context(), req.AccountID, req.PostID, req.Count)
	})
}

// Followers — POST /rewards/followers {account_id, follower_count}
func (h *Handler) Followers(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, func(req rewardRequest) (Outcome, error) {
		return h.service.RewardFollowerMilestone(r.Context(), req.AccountID, req.FollowerCount)
	})
}

// ChatBonus — POST /rewards/chat-bonus {account_id, session_id}
func (h *Handler) ChatBonus(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, func(req rewardRequest) (Outcome, error) {
		return h.service.RewardChatBonus(r.Context(), req.AccountID, req.SessionID)
	})
}

// DailyLogin — POST /rewards/daily-login {account_id, at?}
func (h *Handler) DailyLogin(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, func(req rewardRequest) (Outcome, error) {
		return h.service.RewardDailyLogin(r.Context(), req.AccountID, req.At)
	})
}

// Welcome — POST /rewards/welcome {account_id}
func (h *Handler) Welcome(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, func(req rewardRequest) (Outcome, error) {
		return h.service.RewardWelcome(r.Context(), req.AccountID)
	})
}

// Referral — POST /rewards/referral {account_id (пригласивший), referred_id}
func (h *Handler) Referral(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, func(req rewardRequest) (Outcome, error) {
		return h.service.RewardReferral(r.Context(), req.AccountID, req.ReferredID)
	})
}

// QueueStatus — GET /rewards/queue
func (h *Handler) QueueStatus(w http.ResponseWriter, r *http.Request) {
	n, err := h.queue.Pending(r.Context())
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]int{"pending": n})
}

// handle разбирает тело и отдаёт итог: 202 для отложенной награды, 200 для остальных.
func (h *Handler) handle(w http.ResponseWriter, r *http.Request, fn func(rewardRequest) (Outcome, error)) {
	var req rewardRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.BadRequest(w, "%v", err)
		return
	}

	out, err := fn(req)
	if err != nil {
		respond.Error(w, err)
		return
	}

	status := http.StatusOK
	if out.Queued {
		status = http.StatusAccepted
	}
	respond.JSON(w, status, out)
}
