package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/credit-engine/internal/common"
	"serotonyl.ru/credit-engine/internal/db/sqlite"
)

// sqlQuerier — общий интерфейс *sql.DB и *sql.Tx.
type sqlQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqlRowScanner interface {
	Scan(dest ...any) error
}

// SQLiteRepository — хранилище журнала во встроенной SQLite.
// Блокировок строк нет: единственное соединение само выстраивает
// транзакции записи в очередь.
type SQLiteRepository struct {
	db     *sql.DB
	levels LevelComputer
	now    func() time.Time
}

// NewSQLiteRepository создаёт репозиторий поверх базы из sqlite.Open.
func NewSQLiteRepository(db *sql.DB, lc LevelComputer) *SQLiteRepository {
	return &SQLiteRepository{db: db, levels: lc, now: time.Now}
}

// CreateAccount создаёт счёт; для существующего возвращает его без изменений.
func (r *SQLiteRepository) CreateAccount(ctx context.Context, accountID string) (Account, bool, error) {
	lvl := r.levels.Compute(0)
	now := sqlite.FormatTime(r.now())

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO accounts (id, balance, level_rank, level_name, created_at, updated_at)
		VALUES (?, 0, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`, accountID, lvl.Rank, lvl.Name, now, now)
	if err != nil {
		return Account{}, false, r.fail("ошибка создания счёта", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Account{}, false, r.fail("ошибка создания счёта", err)
	}

	acc, err := r.GetAccount(ctx, accountID)
	return acc, n == 1, err
}

func (r *SQLiteRepository) GetAccount(ctx context.Context, accountID string) (Account, error) {
	acc, err := sqliteGetAccount(ctx, r.db, accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, fmt.Errorf("%w: %s", common.ErrAccountNotFound, accountID)
	}
	if err != nil {
		return Account{}, r.fail("ошибка получения счёта", err)
	}
	return acc, nil
}

func (r *SQLiteRepository) GetBalance(ctx context.Context, accountID string) (int64, error) {
	acc, err := r.GetAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return acc.Balance, nil
}

func (r *SQLiteRepository) GetCumulativeEarned(ctx context.Context, accountID string) (int64, error) {
	if _, err := r.GetAccount(ctx, accountID); err != nil {
		return 0, err
	}
	earned, err := sqliteCumulativeEarned(ctx, r.db, accountID)
	if err != nil {
		return 0, r.fail("ошибка подсчёта заработанного", err)
	}
	return earned, nil
}

// Append применяет пачку запросов в одной транзакции SQLite.
// Порядок шагов тот же, что у PostgresRepository.Append.
func (r *SQLiteRepository) Append(ctx context.Context, reqs []Request) ([]Applied, error) {
	if len(reqs) == 0 {
		return nil, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, r.fail("ошибка начала транзакции", err)
	}
	defer tx.Rollback()

	state := newBatchState()
	for _, id := range lockOrder(reqs) {
		acc, err := sqliteGetAccount(ctx, tx, id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", common.ErrAccountNotFound, id)
		}
		if err != nil {
			return nil, r.fail("ошибка чтения счёта", err)
		}
		state.add(acc)
	}

	now := r.now()
	applied := make([]Applied, 0, len(reqs))
	for _, req := range reqs {
		acc := state.accounts[req.AccountID]

		existing, err := sqliteFindByReference(ctx, tx, req.AccountID, req.ReferenceKey)
		if err == nil {
			applied = append(applied, Applied{Transaction: existing, Duplicate: true})
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, r.fail("ошибка проверки ключа", err)
		}

		newBalance := acc.Balance + req.Kind.Signed(req.Amount)
		if newBalance < 0 {
			return nil, &common.InsufficientCreditsError{
				AccountID: acc.ID,
				Required:  req.Amount,
				Available: acc.Balance,
			}
		}

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
			CreatedAt:    now.UTC(),
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO transactions (id, account_id, amount, kind, category, description,
				reference_key, metadata, balance_after, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, t.ID, t.AccountID, t.Amount, string(t.Kind), string(t.Category), t.Description,
			t.ReferenceKey, encodeMetadata(t.Metadata), t.BalanceAfter, sqlite.FormatTime(t.CreatedAt))
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

	for id, acc := range state.accounts {
		earned, err := sqliteCumulativeEarned(ctx, tx, id)
		if err != nil {
			return nil, r.fail("ошибка подсчёта заработанного", err)
		}
		state.earned[id] = earned
		if !state.touched[id] {
			continue
		}
		lvl := r.levels.Compute(earned)
		acc.LevelRank, acc.LevelName = lvl.Rank, lvl.Name
		acc.UpdatedAt = now.UTC()

		_, err = tx.ExecContext(ctx, `
			UPDATE accounts SET balance = ?, level_rank = ?, level_name = ?, updated_at = ?
			WHERE id = ?
		`, acc.Balance, acc.LevelRank, acc.LevelName, sqlite.FormatTime(acc.UpdatedAt), id)
		if sqlite.IsCheckViolation(err) {
			return nil, fmt.Errorf("баланс %s ушёл бы в минус: %w", id, common.ErrInsufficientCredits)
		}
		if err != nil {
			return nil, r.fail("ошибка обновления счёта", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, r.fail("ошибка фиксации транзакции", err)
	}
	return state.finish(applied), nil
}

func (r *SQLiteRepository) FindByReference(ctx context.Context, accountID, referenceKey string) (Transaction, error) {
	t, err := sqliteFindByReference(ctx, r.db, accountID, referenceKey)
	if errors.Is(err, sql.ErrNoRows) {
		return Transaction{}, ErrTransactionNotFound
	}
	if err != nil {
		return Transaction{}, r.fail("ошибка поиска транзакции", err)
	}
	return t, nil
}

func (r *SQLiteRepository) ListTransactions(ctx context.Context, accountID string, filter ListFilter) ([]Transaction, error) {
	query := `SELECT ` + sqliteTransactionColumns + ` FROM transactions WHERE account_id = ?`
	args := []any{accountID}
	if filter.Category != "" {
		query += ` AND category = ?`
		args = append(args, string(filter.Category))
	}
	query += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, normalizeLimit(filter.Limit))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, r.fail("ошибка получения транзакций", err)
	}
	defer rows.Close()

	var txs []Transaction
	for rows.Next() {
		t, err := scanSQLiteTransaction(rows)
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

func (r *SQLiteRepository) LedgerSum(ctx context.Context, accountID string) (int64, error) {
	var sum int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(CASE WHEN kind IN ('earn', 'bonus') THEN amount ELSE -amount END), 0)
		FROM transactions WHERE account_id = ?
	`, accountID).Scan(&sum)
	if err != nil {
		return 0, r.fail("ошибка подсчёта суммы журнала", err)
	}
	return sum, nil
}

func (r *SQLiteRepository) ListAccountIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM accounts ORDER BY id`)
	if err != nil {
		return nil, r.fail("ошибка получения счетов", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, r.fail("ошибка сканирования счёта", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, r.fail("ошибка чтения счетов", err)
	}
	return ids, nil
}

func (r *SQLiteRepository) fail(op string, err error) error {
	if sqlite.IsForeignKeyViolation(err) {
		return fmt.Errorf("%s: %w", op, common.ErrAccountNotFound)
	}
	if sqlite.IsTransient(err) {
		return common.StorageError(op, err)
	}
	if !errors.Is(err, context.Canceled) {
		log.WithError(err).WithField("op", op).Error("Непредвиденная ошибка SQLite")
	}
	return fmt.Errorf("%s: %w", op, err)
}

const sqliteTransactionColumns = `id, account_id, amount, kind, category, description,
	reference_key, metadata, balance_after, created_at`

func sqliteGetAccount(ctx context.Context, q sqlQuerier, accountID string) (Account, error) {
	var (
		a                Account
		created, updated string
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, balance, level_rank, level_name, created_at, updated_at
		FROM accounts WHERE id = ?
	`, accountID).Scan(&a.ID, &a.Balance, &a.LevelRank, &a.LevelName, &created, &updated)
	if err != nil {
		return Account{}, err
	}
	if a.CreatedAt, err = sqlite.ParseTime(created); err != nil {
		return Account{}, err
	}
	if a.UpdatedAt, err = sqlite.ParseTime(updated); err != nil {
		return Account{}, err
	}
	return a, nil
}

func sqliteFindByReference(ctx context.Context, q sqlQuerier, accountID, referenceKey string) (Transaction, error) {
	return scanSQLiteTransaction(q.QueryRowContext(ctx,
		`SELECT `+sqliteTransactionColumns+` FROM transactions WHERE account_id = ? AND reference_key = ?`,
		accountID, referenceKey))
}

func sqliteCumulativeEarned(ctx context.Context, q sqlQuerier, accountID string) (int64, error) {
	var earned int64
	err := q.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE account_id = ? AND kind = ?`,
		accountID, string(KindEarn)).Scan(&earned)
	return earned, err
}

func scanSQLiteTransaction(row sqlRowScanner) (Transaction, error) {
	var (
		t                 Transaction
		kind, category    string
		metadata, created string
	)
	err := row.Scan(&t.ID, &t.AccountID, &t.Amount, &kind, &category, &t.Description,
		&t.ReferenceKey, &metadata, &t.BalanceAfter, &created)
	if err != nil {
		return Transaction{}, err
	}
	if t.CreatedAt, err = sqlite.ParseTime(created); err != nil {
		return Transaction{}, err
	}
	t.Kind = Kind(kind)
	t.Category = Category(category)
	t.Metadata = decodeMetadata([]byte(metadata))
	return t, nil
}
