// Package broker связывает движок с RabbitMQ: принимает события наград
// из очереди и публикует уведомления в topic-обменник.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"serotonyl.ru/credit-engine/internal/features/rewards"
)

// Типы событий наград
const (
	EventResourceUploaded = "resource.uploaded"
	EventPostUpvoted      = "post.upvoted"
	EventFollowersChanged = "followers.changed"
	EventChatSession      = "chat.session"
	EventUserLogin        = "user.login"
	EventUserRegistered   = "user.registered"
	EventUserReferred     = "user.referred"
)

// ErrUnknownEvent — тип события не поддерживается.
var ErrUnknownEvent = errors.New("неизвестный тип события")

// RewardEvent — сообщение из очереди наград.
//
// SubjectID зависит от типа: ресурс, пост, сессия чата или приглашённый.
// Count — число голосов или подписчиков.
type RewardEvent struct {
	Type       string    `json:"type"`
	AccountID  string    `json:"account_id"`
	SubjectID  string    `json:"subject_id,omitempty"`
	Count      int64     `json:"count,omitempty"`
	OccurredAt time.Time `json:"occurred_at,omitempty"`
}

// DecodeEvent разбирает тело сообщения.
func DecodeEvent(body []byte) (RewardEvent, error) {
	var ev RewardEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return RewardEvent{}, fmt.Errorf("некорректное событие: %w", err)
	}
	if ev.Type == "" || ev.AccountID == "" {
		return RewardEvent{}, fmt.Errorf("некорректное событие: нет type или account_id")
	}
	return ev, nil
}

// Rewarder — политики наград, вызываемые событиями.
type Rewarder interface {
	RewardUpload(ctx context.Context, accountID, resourceID string) (rewards.Outcome, error)
	RewardUpvotes(ctx context.Context, accountID, postID string, count int64) (rewards.Outcome, error)
	RewardFollowerMilestone(ctx context.Context, accountID string, followerCount int64) (rewards.Outcome, error)
	RewardChatBonus(ctx context.Context, accountID, sessionID string) (rewards.Outcome, error)
	RewardDailyLogin(ctx context.Context, accountID string, at time.Time) (rewards.Outcome, error)
	RewardWelcome(ctx context.Context, accountID string) (rewards.Outcome, error)
	RewardReferral(ctx context.Context, referrerID, referredID string) (rewards.Outcome, error)
}

// Dispatcher передаёт событие нужной политике наград.
type Dispatcher struct {
	rewards Rewarder
}

// NewDispatcher создаёт диспетчер событий.
func NewDispatcher(r Rewarder) *Dispatcher {
	return &Dispatcher{rewards: r}
}

// Dispatch применяет событие. Повтор того же события безопасен:
// политики наград идемпотентны по своим ключам.
func (d *Dispatcher) Dispatch(ctx context.Context, ev RewardEvent) (rewards.Outcome, error) {
	switch ev.Type {
	case EventResourceUploaded:
		return d.rewards.RewardUpload(ctx, ev.AccountID, ev.SubjectID)
	case EventPostUpvoted:
		return d.rewards.RewardUpvotes(ctx, ev.AccountID, ev.SubjectID, ev.Count)
	case EventFollowersChanged:
		return d.rewards.RewardFollowerMilestone(ctx, ev.AccountID, ev.Count)
	case EventChatSession:
		return d.rewards.RewardChatBonus(ctx, ev.AccountID, ev.SubjectID)
	case EventUserLogin:
		return d.rewards.RewardDailyLogin(ctx, ev.AccountID, ev.OccurredAt)
	case EventUserRegistered:
		return d.rewards.RewardWelcome(ctx, ev.AccountID)
	case EventUserReferred:
		return d.rewards.RewardReferral(ctx, ev.AccountID, ev.SubjectID)
	}
	return rewards.Outcome{}, fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Type)
}
