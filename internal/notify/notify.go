// Package notify описывает уведомления пользователям: повышение уровня,
// начисленные награды, продажи. Доставка — забота реализации Notifier.
package notify

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// EventType — тип уведомления.
type EventType string

const (
	EventLevelUp           EventType = "level_up"
	EventRewardIssued      EventType = "reward_issued"
	EventFollowerMilestone EventType = "follower_milestone"
	EventPurchaseReceipt   EventType = "purchase_receipt"
	EventCommission        EventType = "commission"
	EventAdjustment        EventType = "admin_adjustment"
)

// Event — уведомление для одного пользователя.
type Event struct {
	Type       EventType         `json:"type"`
	AccountID  string            `json:"account_id"`
	Message    string            `json:"message"`
	Data       map[string]string `json:"data,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Notifier доставляет уведомления.
// Ошибка доставки не должна отменять уже проведённую операцию:
// вызывающий код только логирует её.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// LogNotifier пишет уведомления в лог. Используется, когда брокер выключен.
type LogNotifier struct{}

// Notify логирует событие.
func (LogNotifier) Notify(_ context.Context, ev Event) error {
	log.WithFields(log.Fields{
		"type":    ev.Type,
		"account": ev.AccountID,
	}).Info(ev.Message)
	return nil
}

// Send отправляет уведомление, проставляя время и логируя ошибку доставки.
func Send(ctx context.Context, n Notifier, ev Event) {
	if n == nil {
		return
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	if err := n.Notify(ctx, ev); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"type":    ev.Type,
			"account": ev.AccountID,
		}).Warn("Не удалось отправить уведомление")
	}
}

// Recorder запоминает уведомления. Нужен в тестах.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Notify(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Events возвращает копию накопленных уведомлений.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType возвращает уведомления указанного типа.
func (r *Recorder) OfType(t EventType) []Event {
	var out []Event
	for _, ev := range r.Events() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}
