package ledger_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/credit-engine/internal/common"
	"serotonyl.ru/credit-engine/internal/db/postgres"
	"serotonyl.ru/credit-engine/internal/features/ledger"
	"serotonyl.ru/credit-engine/internal/features/ledger/ledgertest"
)

// Тесты PostgresRepository запускаются только с TEST_DATABASE_URL.

func TestPostgresAppend_DuplicateReturnsOriginal(t *testing.T) {
	env := ledgertest.NewPostgres(t)
	ctx := context.Background()
	alice := ledgertest.ID("alice")
	env.Account(t, alice)

	req := earn(alice, 120, ledger.CategoryResourceUpload, "upload:r1")
	first, err := env.Service.ProcessTransaction(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)
	assert.True(t, first.LevelUp)

	again, err := env.Service.ProcessTransaction(ctx, req)
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, first.Transaction.ID, again.Transaction.ID)
	assert.Equal(t, int64(120), env.Balance(t, alice))
	env.RequireConsistent(t, alice)
}

func TestPostgresAppend_ConcurrentSpends(t *testing.T) {
	env := ledgertest.NewPostgres(t)
	ctx := context.Background()
	bob := ledgertest.ID("bob")
	env.Account(t, bob)
	env.Fund(t, bob, 100)

	// GIVEN: 10 параллельных списаний по 30 при балансе 100
	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		ok, rejected int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.Service.ProcessTransaction(ctx, spend(bob, 30, ledgertest.ID("download")))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
			} else if assert.ErrorIs(t, err, common.ErrInsufficientCredits) {
				rejected++
			}
		}()
	}
	wg.Wait()

	// THEN: проходят ровно три, баланс не уходит в минус
	assert.Equal(t, 3, ok)
	assert.Equal(t, 7, rejected)
	assert.Equal(t, int64(10), env.Balance(t, bob))
	env.RequireConsistent(t, bob)
}

func TestPostgresAppend_CrossingBatchesDoNotDeadlock(t *testing.T) {
	env := ledgertest.NewPostgres(t)
	ctx := context.Background()
	a, b := ledgertest.ID("acc-a"), ledgertest.ID("acc-b")
	env.Account(t, a)
	env.Account(t, b)
	env.Fund(t, a, 1000)
	env.Fund(t, b, 1000)

	// Встречные пачки: a→b и b→a одновременно
	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := env.Service.ProcessBatch(ctx, []ledger.Request{
				spend(a, 5, ledgertest.ID("purchase")),
				earn(b, 5, ledger.CategoryResourceCommission, ledgertest.ID("commission")),
			})
			errs <- err
		}()
		go func() {
			defer wg.Done()
			_, err := env.Service.ProcessBatch(ctx, []ledger.Request{
				spend(b, 5, ledgertest.ID("purchase")),
				earn(a, 5, ledger.CategoryResourceCommission, ledgertest.ID("commission")),
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int64(1000), env.Balance(t, a))
	assert.Equal(t, int64(1000), env.Balance(t, b))
	env.RequireConsistent(t, a)
	env.RequireConsistent(t, b)
}

func TestPostgresAppend_PartialDuplicateRollsBack(t *testing.T) {
	env := ledgertest.NewPostgres(t)
	ctx := context.Background()
	buyer, owner1, owner2 := ledgertest.ID("buyer"), ledgertest.ID("owner1"), ledgertest.ID("owner2")
	for _, id := range []string{buyer, owner1, owner2} {
		env.Account(t, id)
	}
	env.Fund(t, buyer, 100)

	_, err := env.Service.ProcessBatch(ctx, []ledger.Request{
		spend(buyer, 40, "purchase:r1"),
		earn(owner1, 8, ledger.CategoryResourceCommission, "commission:r1:"+buyer),
	})
	require.NoError(t, err)

	_, err = env.Service.ProcessBatch(ctx, []ledger.Request{
		spend(buyer, 40, "purchase:r1"),
		earn(owner2, 8, ledger.CategoryResourceCommission, "commission:r1:"+buyer),
	})
	require.ErrorIs(t, err, common.ErrDuplicateReference)
	assert.Zero(t, env.Balance(t, owner2))
	assert.Equal(t, int64(60), env.Balance(t, buyer))
}

func TestPostgresAppend_MissingAccount(t *testing.T) {
	env := ledgertest.NewPostgres(t)

	_, err := env.Service.ProcessTransaction(context.Background(),
		earn(ledgertest.ID("ghost"), 5, ledger.CategoryResourceUpload, "upload:x"))
	require.ErrorIs(t, err, common.ErrAccountNotFound)
	assert.False(t, common.IsRetryable(err))
}

func TestPostgresBalanceCheckConstraint(t *testing.T) {
	env := ledgertest.NewPostgres(t)
	ctx := context.Background()
	carol := ledgertest.ID("carol")
	env.Account(t, carol)

	// Даже в обход сервиса баланс не может стать отрицательным
	_, err := env.Pool.Exec(ctx, `UPDATE accounts SET balance = -1 WHERE id = $1`, carol)
	require.Error(t, err)
	assert.True(t, postgres.IsCheckViolation(err))
	assert.False(t, postgres.IsTransient(err))
}

func TestPostgresAppend_CanceledIsNotRetryable(t *testing.T) {
	env := ledgertest.NewPostgres(t)
	dave := ledgertest.ID("dave")
	env.Account(t, dave)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := env.Service.ProcessTransaction(ctx,
		earn(dave, 10, ledger.CategoryResourceUpload, "upload:1"))
	require.Error(t, err)
	assert.False(t, common.IsRetryable(err))
}
