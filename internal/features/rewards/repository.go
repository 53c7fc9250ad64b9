// Package rewards — repository.go хранит очередь отложенных наград
// в таблице reward_queue PostgreSQL.
package rewards

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/credit-engine/internal/common"
	"serotonyl.ru/credit-engine/internal/db/postgres"
	"serotonyl.ru/credit-engine/internal/features/ledger"
)

// PostgresQueue — очередь наград в PostgreSQL. Переживает перезапуск процесса.
type PostgresQueue struct {
	db *pgxpool.Pool
}

// NewPostgresQueue создаёт очередь поверх пула.
func NewPostgresQueue(db *pgxpool.Pool) *PostgresQueue {
	return &PostgresQueue{db: db}
}

// Enqueue ставит награду в очередь. Ожидающая награда не дублируется;
// завершённая или похороненная запись возвращается в pending.
func (q *PostgresQueue) Enqueue(ctx context.Context, req ledger.Request, cause error) error {
	metadata, err := json.Marshal(req.Metadata)
	if err != nil || req.Metadata == nil {
		metadata = []byte("{}")
	}
	lastError := ""
	if cause != nil {
		lastError = cause.Error()
	}

	_, err = q.db.Exec(ctx, `
		INSERT INTO reward_queue (account_id, amount, kind, category, description,
			reference_key, metadata, last_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8)
		ON CONFLICT (account_id, reference_key) DO UPDATE
		SET amount = EXCLUDED.amount,
			kind = EXCLUDED.kind,
			category = EXCLUDED.category,
			description = EXCLUDED.description,
			metadata = EXCLUDED.metadata,
			last_error = EXCLUDED.last_error,
			status = 'pending',
			attempts = 0,
			next_attempt_at = NOW(),
			updated_at = NOW()
		WHERE reward_queue.status <> 'pending'
	`, req.AccountID, req.Amount, string(req.Kind), string(req.Category), req.Description,
		req.ReferenceKey, string(metadata), lastError)
	if err != nil {
		return queueError("ошибка постановки награды в очередь", err)
	}
	return nil
}

// Due возвращает записи, срок попытки которых наступил.
func (q *PostgresQueue) Due(ctx context.Context, now time.Time, limit int) ([]QueuedReward, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, account_id, amount, kind, category, description, reference_key,
			metadata, status, attempts, last_error, next_attempt_at, created_at
		FROM reward_queue
		WHERE status = $1 AND next_attempt_at <= $2
		ORDER BY next_attempt_at, id
		LIMIT $3
	`, StatusPending, now, limit)
	if err != nil {
		return nil, queueError("ошибка чтения очереди наград", err)
	}
	defer rows.Close()

	var items []QueuedReward
	for rows.Next() {
		var (
			item           QueuedReward
			kind, category string
			metadata       []byte
		)
		err := rows.Scan(&item.ID, &item.Request.AccountID, &item.Request.Amount, &kind, &category,
			&item.Request.Description, &item.Request.ReferenceKey, &metadata,
			&item.Status, &item.Attempts, &item.LastError, &item.NextAttemptAt, &item.CreatedAt)
		if err != nil {
			return nil, queueError("ошибка сканирования очереди наград", err)
		}
		item.Request.Kind = ledger.Kind(kind)
		item.Request.Category = ledger.Category(category)
		if len(metadata) > 0 {
			var m map[string]string
			if json.Unmarshal(metadata, &m) == nil && len(m) > 0 {
				item.Request.Metadata = m
			}
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, queueError("ошибка чтения очереди наград", err)
	}
	return items, nil
}

// Complete закрывает запись после успешного начисления.
func (q *PostgresQueue) Complete(ctx context.Context, id int64) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE reward_queue SET status = $2, updated_at = NOW() WHERE id = $1
	`, id, StatusDone)
	if err != nil {
		return queueError("ошибка закрытия записи очереди", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("запись очереди %d не найдена", id)
	}
	return nil
}

// Fail учитывает неудачную попытку и переносит следующую на next.
func (q *PostgresQueue) Fail(ctx context.Context, id int64, lastError string, next time.Time, dead bool) error {
	status := StatusPending
	if dead {
		status = StatusDead
	}
	tag, err := q.db.Exec(ctx, `
		UPDATE reward_queue
		SET attempts = attempts + 1, last_error = $2, next_attempt_at = $3,
			status = $4, updated_at = NOW()
		WHERE id = $1
	`, id, lastError, next, status)
	if err != nil {
		return queueError("ошибка обновления записи очереди", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("запись очереди %d не найдена", id)
	}
	return nil
}

// Pending возвращает число записей, ожидающих попытки.
func (q *PostgresQueue) Pending(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRow(ctx, `SELECT COUNT(*) FROM reward_queue WHERE status = $1`, StatusPending).Scan(&n)
	if err != nil {
		return 0, queueError("ошибка подсчёта очереди наград", err)
	}
	return n, nil
}

// queueError помечает временные сбои как ErrStorageUnavailable,
// остальные ошибки возвращает как есть.
func queueError(op string, err error) error {
	if postgres.IsTransient(err) {
		return common.StorageError(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
