// Package ledgertest собирает журнал для тестов других пакетов: поверх SQLite
// в памяти или поверх PostgreSQL из TEST_DATABASE_URL.
package ledgertest

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/credit-engine/internal/db/postgres"
	"serotonyl.ru/credit-engine/internal/db/sqlite"
	"serotonyl.ru/credit-engine/internal/features/ledger"
	"serotonyl.ru/credit-engine/internal/features/levels"
	"serotonyl.ru/credit-engine/internal/notify"
)

// Env — журнал с таблицей уровней по умолчанию и записью уведомлений.
type Env struct {
	DB       *sql.DB       // только для SQLite
	Pool     *pgxpool.Pool // только для PostgreSQL
	Store    ledger.Store
	Levels   *levels.Calculator
	Notifier *notify.Recorder
	Service  *ledger.Service

	funded int
}

// New открывает пустую базу; она закрывается вместе с тестом.
func New(t testing.TB) *Env {
	t.Helper()

	db, err := sqlite.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	calc := levels.MustDefault()
	store := ledger.NewSQLiteRepository(db, calc)
	rec := &notify.Recorder{}

	return &Env{
		DB:       db,
		Store:    store,
		Levels:   calc,
		Notifier: rec,
		Service:  ledger.NewService(store, calc, rec),
	}
}

// DatabaseURLEnv — переменная с адресом тестовой базы PostgreSQL.
const DatabaseURLEnv = "TEST_DATABASE_URL"

// OpenPostgres подключается к тестовой базе и применяет миграции.
// Без TEST_DATABASE_URL тест пропускается.
func OpenPostgres(t testing.TB) *pgxpool.Pool {
	t.Helper()

	url := os.Getenv(DatabaseURLEnv)
	if url == "" {
		t.Skipf("%s не задан, тест PostgreSQL пропущен", DatabaseURLEnv)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, postgres.RunMigrations(ctx, pool))
	return pool
}

// NewPostgres собирает журнал поверх тестовой базы PostgreSQL.
// База общая для всех запусков, поэтому счета в таких тестах
// называются через ID.
func NewPostgres(t testing.TB) *Env {
	t.Helper()

	pool := OpenPostgres(t)
	calc := levels.MustDefault()
	store := ledger.NewPostgresRepository(pool, calc)
	rec := &notify.Recorder{}

	return &Env{
		Pool:     pool,
		Store:    store,
		Levels:   calc,
		Notifier: rec,
		Service:  ledger.NewService(store, calc, rec),
	}
}

// ID возвращает уникальный для запуска идентификатор с префиксом name.
func ID(name string) string {
	return name + "-" + uuid.NewString()[:8]
}

// Account создаёт счёт с нулевым балансом.
func (e *Env) Account(t testing.TB, id string) ledger.Account {
	t.Helper()
	acc, _, err := e.Service.EnsureAccount(context.Background(), id)
	require.NoError(t, err)
	return acc
}

// Fund пополняет счёт бонусом. Бонус не влияет на уровень.
func (e *Env) Fund(t testing.TB, id string, amount int64) {
	t.Helper()
	e.funded++
	_, err := e.Service.ProcessTransaction(context.Background(), ledger.Request{
		AccountID:    id,
		Amount:       amount,
		Kind:         ledger.KindBonus,
		Category:     ledger.CategoryAdminAdjustment,
		Description:  "пополнение для теста",
		ReferenceKey: fmt.Sprintf("test-fund:%d", e.funded),
	})
	require.NoError(t, err)
}

// Balance возвращает баланс счёта.
func (e *Env) Balance(t testing.TB, id string) int64 {
	t.Helper()
	b, err := e.Service.GetBalance(context.Background(), id)
	require.NoError(t, err)
	return b
}

// RequireConsistent проверяет, что баланс совпадает с суммой журнала.
func (e *Env) RequireConsistent(t testing.TB, id string) {
	t.Helper()
	report, err := e.Service.Audit(context.Background(), id)
	require.NoError(t, err)
	require.Truef(t, report.Consistent, "баланс %d, сумма журнала %d", report.Balance, report.LedgerSum)
}
