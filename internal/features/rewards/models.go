// Package rewards — политики наград: за загрузки, голоса, подписчиков, чат,
// ежедневный вход, приветствие и приглашения. Начисление — отдельный шаг
// после основной операции: сбой хранилища ставит награду в очередь повторов
// и не откатывает то, ради чего награда выдаётся.
package rewards

import (
	"context"
	"time"

	"serotonyl.ru/credit-engine/internal/features/ledger"
)

// Processor — обработчик транзакций, через который идут все начисления.
type Processor interface {
	ProcessTransaction(ctx context.Context, req ledger.Request) (ledger.Result, error)
	FindByReference(ctx context.Context, accountID, referenceKey string) (ledger.Transaction, error)
}

// Outcome — итог применения политики.
type Outcome struct {
	// Amount — сумма награды (для Queued — сумма, которая будет начислена)
	Amount int64 `json:"amount"`
	// Transaction — записанная транзакция; nil для Skipped и Queued
	Transaction *ledger.Transaction `json:"transaction,omitempty"`
	Balance     int64               `json:"balance"`
	LevelUp     bool                `json:"level_up"`
	// Duplicate — награда с этим ключом уже была начислена
	Duplicate bool `json:"duplicate"`
	// Queued — хранилище недоступно, награда отложена в очередь повторов
	Queued bool `json:"queued"`
	// Skipped — награда не положена (например, порог подписчиков не достигнут)
	Skipped bool `json:"skipped"`
}

// Статусы записи в очереди повторов
const (
	StatusPending = "pending"
	StatusDone    = "done"
	StatusDead    = "dead"
)

// QueuedReward — отложенное начисление.
type QueuedReward struct {
	ID            int64
	Request       ledger.Request
	Status        string
	Attempts      int
	LastError     string
	NextAttemptAt time.Time
	CreatedAt     time.Time
}

// RetryPolicy — параметры повторов отложенных наград.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Batch       int
}

// DefaultRetryPolicy — значения, совпадающие с конфигурацией по умолчанию.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 8,
		BaseDelay:   30 * time.Second,
		MaxDelay:    time.Hour,
		Batch:       100,
	}
}

// Backoff возвращает задержку перед попыткой номер attempt+1:
// BaseDelay * 2^attempt, но не больше MaxDelay.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return d
}

// RetryStats — итог одного прохода по очереди.
type RetryStats struct {
	Processed   int `json:"processed"`
	Succeeded   int `json:"succeeded"`
	Rescheduled int `json:"rescheduled"`
	Dead        int `json:"dead"`
}
