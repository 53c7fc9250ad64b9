// Package ledger — repository.go выполняет все операции с таблицами accounts
// и transactions в PostgreSQL. Все изменения баланса выполняются в транзакциях БД.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/credit-engine/internal/common"
	"serotonyl.ru/credit-engine/internal/db/postgres"
)

const pgAccountColumns = `id, balance, level_rank, level_name, created_at, updated_at`

const pgTransactionColumns = `id, account_id, amount, kind, category, description,
	reference_key, metadata, balance_after, created_at`

// pgQuerier — общий интерфейс пула и транзакции pgx.
type pgQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository — хранилище журнала в PostgreSQL.
type PostgresRepository struct {
	db     *pgxpool.Pool
	levels LevelComputer
}

// NewPostgresRepository создаёт репозиторий журнала.
func NewPostgresRepository(db *pgxpool.Pool, lc LevelComputer) *PostgresRepository {
	return &PostgresRepository{db: db, levels: lc}
}

// CreateAccount создаёт счёт с нулевым балансом и первым уровнем.
// Повторный вызов для существующего счёта ничего не меняет.
func (r *PostgresRepository) CreateAccount(ctx context.Context, accountID string) (Account, bool, error) {
	lvl := r.levels.Compute(0)

	acc, err := scanPgAccount(r.db.QueryRow(ctx, `
		INSERT INTO accounts (id, balance, level_rank, level_name)
		VALUES ($1, 0, $2, $3)
		ON CONFLICT (id) DO NOTHING
		RETURNING `+pgAccountColumns,
		accountID, lvl.Rank, lvl.Name,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		existing, err := r.GetAccount(ctx, accountID)
		return existing, false, err
	}
	if err != nil {
		return Account{}, false, r.fail("ошибка создания счёта", err)
	}
	return acc, true, nil
}

// GetAccount возвращает счёт.
func (r *PostgresRepository) GetAccount(ctx context.Context, accountID string) (Account, error) {
	acc, err := scanPgAccount(r.db.QueryRow(ctx,
		`SELECT `+pgAccountColumns+` FROM accounts WHERE id = $1`, accountID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, fmt.Errorf("%w: %s", common.ErrAccountNotFound, accountID)
	}
	if err != nil {
		return Account{}, r.fail("ошибка получения счёта", err)
	}
	return acc, nil
}

// GetBalance возвращает текущий баланс.
func (r *PostgresRepository) GetBalance(ctx context.Context, accountID string) (int64, error) {
	var balance int64
	err := r.db.QueryRow(ctx, `SELECT balance FROM accounts WHERE id = $1`, accountID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", common.ErrAccountNotFound, accountID)
	}
	if err != nil {
		return 0, r.fail("ошибка получения баланса", err)
	}
	return balance, nil
}

// GetCumulativeEarned возвращает сумму Earn-транзакций счёта.
func (r *PostgresRepository) GetCumulativeEarned(ctx context.Context, accountID string) (int64, error) {
	if _, err := r.GetBalance(ctx, accountID); err != nil {
		return 0, err
	}
	earned, err := pgCumulativeEarned(ctx, r.db, accountID)
	if err != nil {
		return 0, r.fail("ошибка подсчёта заработанного", err)
	}
	return earned, nil
}

// Append атомарно применяет пачку запросов.
//
// Алгоритм:
//  1. Блокируем строки счетов (FOR UPDATE) по возрастанию ID
//  2. Для каждого запроса ищем запись с тем же ключом — повтор возвращаем как есть
//  3. Считаем новый баланс; уход в минус отклоняет всю пачку
//  4. Вставляем транзакцию (ON CONFLICT DO NOTHING — вставка и есть резервирование ключа)
//  5. Пачка, где повтор смешан с новыми записями, откатывается целиком
//  6. Пересчитываем уровень по сумме Earn и сохраняем счёт
func (r *PostgresRepository) Append(ctx context.Context, reqs []Request) ([]Applied, error) {
	if len(reqs) == 0 {
		return nil, nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, r.fail("ошибка начала транзакции", err)
	}
	defer tx.Rollback(ctx)

	// Шаг 1: блокировки в едином порядке
	state := newBatchState()
	for _, id := range lockOrder(reqs) {
		acc, err := scanPgAccount(tx.QueryRow(ctx,
			`SELECT `+pgAccountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", common.ErrAccountNotFound, id)
		}
		if err != nil {
			return nil, r.fail("ошибка блокировки счёта", err)
		}
		state.add(acc)
	}

	applied := make([]Applied, 0, len(reqs))
	for _, req := range reqs {
		acc := state.accounts[req.AccountID]

		// Шаг 2: повтор по ключу
		existing, err := pgFindByReference(ctx, tx, req.AccountID, req.ReferenceKey)
		if err == nil {
			applied = append(applied, Applied{Transaction: existing, Duplicate: true})
			continue
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, r.fail("ошибка проверки ключа", err)
		}

		// Шаг 3: новый баланс считается только здесь
		newBalance := acc.Balance + req.Kind.Signed(req.Amount)
		if newBalance < 0 {
			return nil, &common.InsufficientCreditsError{
				AccountID: acc.ID,
				Required:  req.Amount,
				Available: acc.Balance,
			}
		}

		// Шаг 4: вставка
		t := Transaction{
			ID:           uuid.NewString(),
			AccountID:    req.AccountID,
			Amount:       req.Amount,
			Kind:         req.Kind,
			Category:     req.Category,
			Description:  req.Description,
			ReferenceKey: req.ReferenceKey,
			Metadata:     req.Metadata,
			BalanceAfter: newBalance,
		}
		err = tx.QueryRow(ctx, `
			INSERT INTO transactions (id, account_id, amount, kind, category, description,
				reference_key, metadata, balance_after)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9)
			ON CONFLICT (account_id, reference_key) DO NOTHING
			RETURNING created_at
		`, t.ID, t.AccountID, t.Amount, string(t.Kind), string(t.Category), t.Description,
			t.ReferenceKey, encodeMetadata(t.Metadata), t.BalanceAfter,
		).Scan(&t.CreatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			existing, err := pgFindByReference(ctx, tx, req.AccountID, req.ReferenceKey)
			if err != nil {
				return nil, r.fail("ошибка чтения записанной транзакции", err)
			}
			applied = append(applied, Applied{Transaction: existing, Duplicate: true})
			continue
		}
		if err != nil {
			return nil, r.fail("ошибка записи транзакции", err)
		}

		acc.Balance = newBalance
		state.touched[acc.ID] = true
		applied = append(applied, Applied{Transaction: t})
	}
	if err := checkPartialDuplicate(applied); err != nil {
		return nil, err
	}

	// Шаг 6: баланс и уровень сохраняются вместе с транзакциями
	for id, acc := range state.accounts {
		earned, err := pgCumulativeEarned(ctx, tx, id)
		if err != nil {
			return nil, r.fail("ошибка подсчёта заработанного", err)
		}
		state.earned[id] = earned
		if !state.touched[id] {
			continue
		}
		lvl := r.levels.Compute(earned)
		acc.LevelRank, acc.LevelName = lvl.Rank, lvl.Name

		err = tx.QueryRow(ctx, `
			UPDATE accounts
			SET balance = $2, level_rank = $3, level_name = $4, updated_at = NOW()
			WHERE id = $1
			RETURNING updated_at
		`, id, acc.Balance, acc.LevelRank, acc.LevelName).Scan(&acc.UpdatedAt)
		if postgres.IsCheckViolation(err) {
			return nil, fmt.Errorf("баланс %s ушёл бы в минус: %w", id, common.ErrInsufficientCredits)
		}
		if err != nil {
			return nil, r.fail("ошибка обновления счёта", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, r.fail("ошибка фиксации транзакции", err)
	}
	return state.finish(applied), nil
}

// FindByReference ищет транзакцию по ключу идемпотентности.
func (r *PostgresRepository) FindByReference(ctx context.Context, accountID, referenceKey string) (Transaction, error) {
	t, err := pgFindByReference(ctx, r.db, accountID, referenceKey)
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, ErrTransactionNotFound
	}
	if err != nil {
		return Transaction{}, r.fail("ошибка поиска транзакции", err)
	}
	return t, nil
}

// ListTransactions возвращает последние транзакции счёта (новые первыми).
func (r *PostgresRepository) ListTransactions(ctx context.Context, accountID string, filter ListFilter) ([]Transaction, error) {
	query := `SELECT ` + pgTransactionColumns + ` FROM transactions WHERE account_id = $1`
	args := []any{accountID}
	if filter.Category != "" {
		query += ` AND category = $2`
		args = append(args, string(filter.Category))
	}
	query += fmt.Sprintf(` ORDER BY seq DESC LIMIT %d`, normalizeLimit(filter.Limit))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, r.fail("ошибка получения транзакций", err)
	}
	defer rows.Close()

	var txs []Transaction
	for rows.Next() {
		t, err := scanPgTransaction(rows)
		if err != nil {
			return nil, r.fail("ошибка сканирования транзакции", err)
		}
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, r.fail("ошибка чтения транзакций", err)
	}
	return txs, nil
}

// LedgerSum возвращает сумму транзакций счёта со знаком.
func (r *PostgresRepository) LedgerSum(ctx context.Context, accountID string) (int64, error) {
	var sum int64
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(CASE WHEN kind IN ('earn', 'bonus') THEN amount ELSE -amount END), 0)
		FROM transactions WHERE account_id = $1
	`, accountID).Scan(&sum)
	if err != nil {
		return 0, r.fail("ошибка подсчёта суммы журнала", err)
	}
	return sum, nil
}

// ListAccountIDs возвращает ID всех счетов.
func (r *PostgresRepository) ListAccountIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM accounts ORDER BY id`)
	if err != nil {
		return nil, r.fail("ошибка получения счетов", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, r.fail("ошибка чтения счетов", err)
	}
	return ids, nil
}

// fail оборачивает ошибку драйвера. Ссылка на несуществующий счёт —
// ошибка клиента. Временный сбой помечается ErrStorageUnavailable и может
// повторяться; отмена контекста и прочие ошибки возвращаются как есть.
func (r *PostgresRepository) fail(op string, err error) error {
	if postgres.IsForeignKeyViolation(err) {
		return fmt.Errorf("%s: %w", op, common.ErrAccountNotFound)
	}
	if postgres.IsTransient(err) {
		return common.StorageError(op, err)
	}
	if !errors.Is(err, context.Canceled) {
		log.WithError(err).WithField("op", op).Error("Непредвиденная ошибка PostgreSQL")
	}
	return fmt.Errorf("%s: %w", op, err)
}

func pgFindByReference(ctx context.Context, q pgQuerier, accountID, referenceKey string) (Transaction, error) {
	return scanPgTransaction(q.QueryRow(ctx,
		`SELECT `+pgTransactionColumns+` FROM transactions WHERE account_id = $1 AND reference_key = $2`,
		accountID, referenceKey))
}

func pgCumulativeEarned(ctx context.Context, q pgQuerier, accountID string) (int64, error) {
	var earned int64
	err := q.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE account_id = $1 AND kind = $2
	`, accountID, string(KindEarn)).Scan(&earned)
	return earned, err
}

func scanPgAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Balance, &a.LevelRank, &a.LevelName, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func scanPgTransaction(row pgx.Row) (Transaction, error) {
	var (
		t        Transaction
		kind     string
		category string
		metadata []byte
	)
	err := row.Scan(&t.ID, &t.AccountID, &t.Amount, &kind, &category, &t.Description,
		&t.ReferenceKey, &metadata, &t.BalanceAfter, &t.CreatedAt)
	if err != nil {
		return Transaction{}, err
	}
	t.Kind = Kind(kind)
	t.Category = Category(category)
	t.Metadata = decodeMetadata(metadata)
	return t, nil
}
