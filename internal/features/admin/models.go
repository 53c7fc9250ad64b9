// Package admin — ручные корректировки баланса администратором.
// Ключ администратора проверяется по хешу Argon2id, неудачные попытки
// ограничены скользящим окном.
// models.go описывает запросы и хранилище попыток.
package admin

import (
	"context"
	"time"

	"serotonyl.ru/credit-engine/internal/features/ledger"
)

// AdjustRequest — ручная корректировка баланса.
// Положительная сумма начисляет бонус, отрицательная списывает штраф.
type AdjustRequest struct {
	AccountID   string `json:"account_id"`
	Amount      int64  `json:"amount"`
	Reason      string `json:"reason"`
	OperationID string `json:"operation_id"` // повтор с тем же ID ничего не меняет
}

// Adjustment — результат корректировки.
type Adjustment struct {
	Transaction ledger.Transaction `json:"transaction"`
	Balance     int64              `json:"balance"`
	Duplicate   bool               `json:"duplicate"`
}

// AttemptStore хранит попытки входа по клиенту (IP или иной идентификатор).
type AttemptStore interface {
	LogAttempt(ctx context.Context, clientID string, success bool) error
	// RecentFailures — число неудачных попыток клиента с момента since
	RecentFailures(ctx context.Context, clientID string, since time.Time) (int, error)
}

// MaxReasonLength — максимальная длина причины корректировки.
const MaxReasonLength = 500
