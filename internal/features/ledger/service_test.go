package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/credit-engine/internal/common"
	"serotonyl.ru/credit-engine/internal/features/ledger"
	"serotonyl.ru/credit-engine/internal/features/ledger/ledgertest"
	"serotonyl.ru/credit-engine/internal/notify"
)

func earn(account string, amount int64, category ledger.Category, key string) ledger.Request {
	return ledger.Request{
		AccountID:    account,
		Amount:       amount,
		Kind:         ledger.KindEarn,
		Category:     category,
		ReferenceKey: key,
	}
}

func spend(account string, amount int64, key string) ledger.Request {
	return ledger.Request{
		AccountID:    account,
		Amount:       amount,
		Kind:         ledger.KindSpend,
		Category:     ledger.CategoryFileDownload,
		ReferenceKey: key,
	}
}

func TestEnsureAccount_Idempotent(t *testing.T) {
	env := ledgertest.New(t)
	ctx := context.Background()

	acc, created, err := env.Service.EnsureAccount(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Zero(t, acc.Balance)
	assert.Equal(t, 1, acc.LevelRank)
	assert.Equal(t, "Newcomer", acc.LevelName)

	_, created, err = env.Service.EnsureAccount(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, created)
}

func TestEnsureAccount_InvalidIdentifier(t *testing.T) {
	env := ledgertest.New(t)

	for _, id := range []string{"", " ", "-leading", "has space", "кириллица"} {
		_, _, err := env.Service.EnsureAccount(context.Background(), id)
		assert.ErrorIs(t, err, common.ErrInvalidIdentifier, "id=%q", id)
	}
}

func TestProcessTransaction_UploadUpvotesLevelUp(t *testing.T) {
	env := ledgertest.New(t)
	ctx := context.Background()
	env.Account(t, "alice")

	// GIVEN: награда за загрузку
	res, err := env.Service.ProcessTransaction(ctx, earn("alice", 20, ledger.CategoryResourceUpload, "upload:r1"))
	require.NoError(t, err)
	assert.Equal(t, int64(20), res.Balance)
	assert.Equal(t, 1, res.Level.Rank)
	assert.False(t, res.LevelUp)

	// WHEN: 45 голосов по 2 кредита
	res, err = env.Service.ProcessTransaction(ctx, earn("alice", 90, ledger.CategoryUpvoteReceived, "upvotes:p1"))
	require.NoError(t, err)

	// THEN: 110 кредитов и второй уровень
	assert.Equal(t, int64(110), res.Balance)
	assert.Equal(t, int64(110), res.Transaction.BalanceAfter)
	assert.Equal(t, 2, res.Level.Rank)
	assert.Equal(t, "Contributor", res.Level.Name)
	assert.True(t, res.LevelUp)

	acc, err := env.Service.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, acc.LevelRank)

	events := env.Notifier.OfType(notify.EventLevelUp)
	require.Len(t, events, 1)
	assert.Equal(t, "alice", events[0].AccountID)

	// Списание больше баланса отклоняется целиком
	_, err = env.Service.ProcessTransaction(ctx, spend("alice", 200, "download:big"))
	var insufficient *common.InsufficientCreditsError
	require.ErrorAs(t, err, &insufficient)
	assert.ErrorIs(t, err, common.ErrInsufficientCredits)
	assert.Equal(t, int64(200), insufficient.Required)
	assert.Equal(t, int64(110), insufficient.Available)
	assert.Equal(t, int64(110), env.Balance(t, "alice"))

	// Повтор награды за ту же загрузку ничего не меняет
	res, err = env.Service.ProcessTransaction(ctx, earn("alice", 20, ledger.CategoryResourceUpload, "upload:r1"))
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, int64(110), res.Balance)
	assert.Equal(t, int64(20), res.Transaction.BalanceAfter)

	env.RequireConsistent(t, "alice")
}

func TestProcessTransaction_DuplicateReturnsOriginal(t *testing.T) {
	env := ledgertest.New(t)
	ctx := context.Background()
	env.Account(t, "bob")
	env.Fund(t, "bob", 50)

	first, err := env.Service.ProcessTransaction(ctx, spend("bob", 10, "download:r1"))
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	// Сумма в повторе игнорируется: ключ уже занят
	second, err := env.Service.ProcessTransaction(ctx, spend("bob", 30, "download:r1"))
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Transaction.ID, second.Transaction.ID)
	assert.Equal(t, int64(10), second.Transaction.Amount)
	assert.Equal(t, int64(40), env.Balance(t, "bob"))

	// Повтор проходит, даже если баланса уже не хватило бы на новое списание
	env.Fund(t, "bob", 1)
	_, err = env.Service.ProcessTransaction(ctx, spend("bob", 41, "download:r2"))
	require.NoError(t, err)
	again, err := env.Service.ProcessTransaction(ctx, spend("bob", 41, "download:r2"))
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Zero(t, env.Balance(t, "bob"))
}

func TestProcessTransaction_SameKeyDifferentAccounts(t *testing.T) {
	env := ledgertest.New(t)
	ctx := context.Background()
	env.Account(t, "a1")
	env.Account(t, "a2")

	for _, id := range []string{"a1", "a2"} {
		res, err := env.Service.ProcessTransaction(ctx, earn(id, 20, ledger.CategoryResourceUpload, "upload:shared"))
		require.NoError(t, err)
		assert.False(t, res.Duplicate)
	}
	assert.Equal(t, int64(20), env.Balance(t, "a1"))
	assert.Equal(t, int64(20), env.Balance(t, "a2"))
}

func TestProcessTransaction_Validation(t *testing.T) {
	env := ledgertest.New(t)
	ctx := context.Background()
	env.Account(t, "carol")

	cases := []struct {
		name string
		req  ledger.Request
		want error
	}{
		{"нулевая сумма", ledger.Request{AccountID: "carol", Amount: 0, Kind: ledger.KindEarn, Category: ledger.CategoryResourceUpload, ReferenceKey: "k"}, common.ErrInvalidAmount},
		{"отрицательная сумма", ledger.Request{AccountID: "carol", Amount: -5, Kind: ledger.KindEarn, Category: ledger.CategoryResourceUpload, ReferenceKey: "k"}, common.ErrInvalidAmount},
		{"неизвестный вид", ledger.Request{AccountID: "carol", Amount: 5, Kind: "gift", Category: ledger.CategoryResourceUpload, ReferenceKey: "k"}, common.ErrInvalidKind},
		{"неизвестная категория", ledger.Request{AccountID: "carol", Amount: 5, Kind: ledger.KindEarn, Category: "lottery", ReferenceKey: "k"}, common.ErrInvalidCategory},
		{"пустой ключ", ledger.Request{AccountID: "carol", Amount: 5, Kind: ledger.KindEarn, Category: ledger.CategoryResourceUpload}, common.ErrInvalidIdentifier},
		{"пустой счёт", ledger.Request{Amount: 5, Kind: ledger.KindEarn, Category: ledger.CategoryResourceUpload, ReferenceKey: "k"}, common.ErrInvalidIdentifier},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.Service.ProcessTransaction(ctx, tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
	assert.Zero(t, env.Balance(t, "carol"))
}

func TestProcessTransaction_AccountNotFound(t *testing.T) {
	env := ledgertest.New(t)

	_, err := env.Service.ProcessTransaction(context.Background(),
		earn("ghost", 10, ledger.CategoryResourceUpload, "upload:x"))
	assert.ErrorIs(t, err, common.ErrAccountNotFound)
	assert.True(t, common.IsClientError(err))
}

func TestProcessTransaction_BonusDoesNotRaiseLevel(t *testing.T) {
	env := ledgertest.New(t)
	ctx := context.Background()
	env.Account(t, "dave")

	res, err := env.Service.ProcessTransaction(ctx, ledger.Request{
		AccountID:    "dave",
		Amount:       500,
		Kind:         ledger.KindBonus,
		Category:     ledger.CategoryWelcomeBonus,
		ReferenceKey: "welcome:dave",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(500), res.Balance)
	assert.Equal(t, 1, res.Level.Rank)
	assert.Zero(t, res.Level.CumulativeEarned)
}

func TestProcessTransaction_SpendDoesNotLowerLevel(t *testing.T) {
	env := ledgertest.New(t)
	ctx := context.Background()
	env.Account(t, "erin")

	_, err := env.Service.ProcessTransaction(ctx, earn("erin", 300, ledger.CategoryResourceUpload, "upload:a"))
	require.NoError(t, err)

	res, err := env.Service.ProcessTransaction(ctx, spend("erin", 250, "download:a"))
	require.NoError(t, err)
	assert.Equal(t, int64(50), res.Balance)
	assert.Equal(t, 3, res.Level.Rank)

	lvl, err := env.Service.GetLevel(ctx, "erin")
	require.NoError(t, err)
	assert.Equal(t, 3, lvl.Rank)
	assert.Equal(t, int64(300), lvl.CumulativeEarned)
}

func TestProcessTransaction_ConcurrentSpendsNeverOverdraw(t *testing.T) {
	env := ledgertest.New(t)
	ctx := context.Background()
	env.Account(t, "frank")
	env.Fund(t, "frank", 100)

	const workers = 20
	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		succeeded    int
		insufficient int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := env.Service.ProcessTransaction(ctx, spend("frank", 10, fmt.Sprintf("download:%d", i)))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, common.ErrInsufficientCredits):
				insufficient++
			default:
				t.Errorf("неожиданная ошибка: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	assert.Equal(t, 10, insufficient)
	assert.Zero(t, env.Balance(t, "frank"))
	env.RequireConsistent(t, "frank")
}

func TestProcessBatch_AllOrNothing(t *testing.T) {
	env := ledgertest.New(t)
	ctx := context.Background()
	env.Account(t, "buyer")
	env.Account(t, "seller")
	env.Fund(t, "buyer", 10)

	// Второй запрос не проходит — первый тоже не должен записаться
	_, err := env.Service.ProcessBatch(ctx, []ledger.Request{
		earn("seller", 5, ledger.CategoryResourceCommission, "commission:r1:buyer"),
		spend("buyer", 50, "purchase:r1"),
	})
	require.ErrorIs(t, err, common.ErrInsufficientCredits)

	assert.Zero(t, env.Balance(t, "seller"))
	assert.Equal(t, int64(10), env.Balance(t, "buyer"))

	_, err = env.Service.FindByReference(ctx, "seller", "commission:r1:buyer")
	assert.ErrorIs(t, err, ledger.ErrTransactionNotFound)
}

func TestProcessBatch_PartialDuplicateRollsBack(t *testing.T) {
	env := ledgertest.New(t)
	ctx := context.Background()
	env.Account(t, "buyer")
	env.Account(t, "owner1")
	env.Account(t, "owner2")
	env.Fund(t, "buyer", 100)

	first := []ledger.Request{
		spend("buyer", 40, "purchase:r1"),
		earn("owner1", 8, ledger.CategoryResourceCommission, "commission:r1:buyer"),
	}
	_, err := env.Service.ProcessBatch(ctx, first)
	require.NoError(t, err)

	// GIVEN: запись покупателя уже есть, запись автора новая
	// WHEN: пачка применяется
	_, err = env.Service.ProcessBatch(ctx, []ledger.Request{
		spend("buyer", 40, "purchase:r1"),
		earn("owner2", 8, ledger.CategoryResourceCommission, "commission:r1:buyer"),
	})

	// THEN: ничего не записано
	require.ErrorIs(t, err, common.ErrDuplicateReference)
	assert.True(t, common.IsClientError(err))
	assert.Zero(t, env.Balance(t, "owner2"))
	assert.Equal(t, int64(60), env.Balance(t, "buyer"))
	_, err = env.Service.FindByReference(ctx, "owner2", "commission:r1:buyer")
	assert.ErrorIs(t, err, ledger.ErrTransactionNotFound)
	env.RequireConsistent(t, "owner2")

	// Повтор всей пачки целиком — успех с прежними записями
	results, err := env.Service.ProcessBatch(ctx, first)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].Duplicate)
	assert.True(t, results[1].Duplicate)
	assert.Equal(t, int64(8), env.Balance(t, "owner1"))
}

func TestProcessBatch_MissingAccountRollsBack(t *testing.T) {
	env := ledgertest.New(t)
	ctx := context.Background()
	env.Account(t, "buyer")
	env.Fund(t, "buyer", 100)

	_, err := env.Service.ProcessBatch(ctx, []ledger.Request{
		spend("buyer", 50, "purchase:r1"),
		earn("nobody", 10, ledger.CategoryResourceCommission, "commission:r1:buyer"),
	})
	require.ErrorIs(t, err, common.ErrAccountNotFound)
	assert.Equal(t, int64(100), env.Balance(t, "buyer"))
}

func TestHistory(t *testing.T) {
	env := ledgertest.New(t)
	ctx := context.Background()
	env.Account(t, "gina")

	for i := 0; i < 3; i++ {
		_, err := env.Service.ProcessTransaction(ctx, ledger.Request{
			AccountID:    "gina",
			Amount:       int64(10 * (i + 1)),
			Kind:         ledger.KindEarn,
			Category:     ledger.CategoryResourceUpload,
			ReferenceKey: fmt.Sprintf("upload:%d", i),
			Metadata:     map[string]string{"resource_id": fmt.Sprint(i)},
		})
		require.NoError(t, err)
	}
	_, err := env.Service.ProcessTransaction(ctx, spend("gina", 5, "download:x"))
	require.NoError(t, err)

	txs, err := env.Service.History(ctx, "gina", ledger.ListFilter{})
	require.NoError(t, err)
	require.Len(t, txs, 4)
	assert.Equal(t, ledger.KindSpend, txs[0].Kind)
	assert.Equal(t, int64(-5), txs[0].SignedAmount())
	assert.Equal(t, "2", txs[1].Metadata["resource_id"])

	uploads, err := env.Service.History(ctx, "gina", ledger.ListFilter{Category: ledger.CategoryResourceUpload, Limit: 2})
	require.NoError(t, err)
	require.Len(t, uploads, 2)
	assert.Equal(t, "upload:2", uploads[0].ReferenceKey)

	_, err = env.Service.History(ctx, "nobody", ledger.ListFilter{})
	assert.ErrorIs(t, err, common.ErrAccountNotFound)

	_, err = env.Service.History(ctx, "gina", ledger.ListFilter{Category: "casino"})
	assert.ErrorIs(t, err, common.ErrInvalidCategory)
}

func TestAuditAll_ReportsDrift(t *testing.T) {
	env := ledgertest.New(t)
	ctx := context.Background()
	env.Account(t, "ok")
	env.Account(t, "drifted")
	env.Fund(t, "ok", 30)
	env.Fund(t, "drifted", 30)

	// Ручная правка баланса в обход журнала
	_, err := env.DB.ExecContext(ctx, `UPDATE accounts SET balance = 999 WHERE id = 'drifted'`)
	require.NoError(t, err)

	broken, err := env.Service.AuditAll(ctx)
	require.NoError(t, err)
	require.Len(t, broken, 1)
	assert.Equal(t, "drifted", broken[0].AccountID)
	assert.Equal(t, int64(999), broken[0].Balance)
	assert.Equal(t, int64(30), broken[0].LedgerSum)
}

func TestProcessTransaction_CanceledIsNotRetryable(t *testing.T) {
	env := ledgertest.New(t)
	env.Account(t, "alice")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := env.Service.ProcessTransaction(ctx,
		earn("alice", 10, ledger.CategoryResourceUpload, "upload:1"))
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, common.IsRetryable(err))
	assert.Zero(t, env.Balance(t, "alice"))
}

// failingStore имитирует недоступное хранилище.
type failingStore struct {
	ledger.Store
	appends int
}

func (f *failingStore) Append(context.Context, []ledger.Request) ([]ledger.Applied, error) {
	f.appends++
	return nil, common.StorageError("ошибка записи транзакции", errors.New("connection refused"))
}

func TestProcessTransaction_StorageFailureIsRetryable(t *testing.T) {
	env := ledgertest.New(t)
	store := &failingStore{Store: env.Store}
	svc := ledger.NewService(store, env.Levels, env.Notifier)

	_, err := svc.ProcessTransaction(context.Background(),
		earn("alice", 10, ledger.CategoryResourceUpload, "upload:1"))
	require.Error(t, err)
	assert.True(t, common.IsRetryable(err))
	assert.False(t, common.IsClientError(err))
	// Внутри движка повторов нет
	assert.Equal(t, 1, store.appends)
}
