// Package admin — repository.go хранит попытки входа: в PostgreSQL
// (таблица admin_login_attempts) или в памяти для встроенного режима.
package admin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresAttempts работает с таблицей admin_login_attempts.
type PostgresAttempts struct {
	db *pgxpool.Pool
}

// NewPostgresAttempts создаёт хранилище попыток.
func NewPostgresAttempts(db *pgxpool.Pool) *PostgresAttempts {
	return &PostgresAttempts{db: db}
}

// LogAttempt записывает попытку входа.
func (r *PostgresAttempts) LogAttempt(ctx context.Context, clientID string, success bool) error {
	query := `INSERT INTO admin_login_attempts (client_id, success) VALUES ($1, $2)`
	if _, err := r.db.Exec(ctx, query, clientID, success); err != nil {
		return fmt.Errorf("ошибка записи попытки входа: %w", err)
	}
	return nil
}

// RecentFailures возвращает количество неудачных попыток с момента since.
func (r *PostgresAttempts) RecentFailures(ctx context.Context, clientID string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM admin_login_attempts
		WHERE client_id = $1 AND success = FALSE AND attempt_time >= $2
	`
	var count int
	if err := r.db.QueryRow(ctx, query, clientID, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта попыток входа: %w", err)
	}
	return count, nil
}

// MemoryAttempts — попытки входа в памяти процесса.
// Успешная попытка сбрасывает счётчик неудач клиента.
type MemoryAttempts struct {
	mu       sync.Mutex
	failures map[string][]time.Time
	now      func() time.Time
}

// NewMemoryAttempts создаёт пустое хранилище.
func NewMemoryAttempts() *MemoryAttempts {
	return &MemoryAttempts{
		failures: make(map[string][]time.Time),
		now:      time.Now,
	}
}

func (m *MemoryAttempts) LogAttempt(_ context.Context, clientID string, success bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if success {
		delete(m.failures, clientID)
		return nil
	}
	m.failures[clientID] = append(m.failures[clientID], m.now())
	return nil
}

func (m *MemoryAttempts) RecentFailures(_ context.Context, clientID string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Старые попытки выпадают из окна и больше не нужны
	kept := m.failures[clientID][:0]
	for _, at := range m.failures[clientID] {
		if !at.Before(since) {
			kept = append(kept, at)
		}
	}
	if len(kept) == 0 {
		delete(m.failures, clientID)
		return 0, nil
	}
	m.failures[clientID] = kept
	return len(kept), nil
}
