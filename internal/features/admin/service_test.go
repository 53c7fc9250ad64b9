package admin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/credit-engine/internal/common"
	"serotonyl.ru/credit-engine/internal/config"
	"serotonyl.ru/credit-engine/internal/features/ledger"
	"serotonyl.ru/credit-engine/internal/features/ledger/ledgertest"
	"serotonyl.ru/credit-engine/internal/notify"
)

const testKey = "correct horse battery staple"

var (
	hashOnce sync.Once
	testHash string
)

func keyHash(t *testing.T) string {
	hashOnce.Do(func() {
		h, err := HashKey(testKey)
		require.NoError(t, err)
		testHash = h
	})
	return testHash
}

type fixture struct {
	env      *ledgertest.Env
	attempts *MemoryAttempts
	svc      *Service
	clock    time.Time
}

func newFixture(t *testing.T, hash string) *fixture {
	env := ledgertest.New(t)
	f := &fixture{
		env:      env,
		attempts: NewMemoryAttempts(),
		clock:    time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	cfg := &config.Config{AdminKeyHash: hash, AdminMaxAttempts: 3, AdminLockout: time.Hour}
	f.svc = NewService(env.Service, f.attempts, cfg, env.Notifier)
	f.svc.now = func() time.Time { return f.clock }
	f.attempts.now = func() time.Time { return f.clock }
	return f
}

func TestHashKey_Verifies(t *testing.T) {
	hash := keyHash(t)

	assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=65536,t=3,p=2$"))
	assert.True(t, verifyArgon2id(testKey, hash))
	assert.False(t, verifyArgon2id("wrong", hash))
	assert.False(t, verifyArgon2id(testKey, "not-a-hash"))

	_, err := HashKey("")
	assert.Error(t, err)
}

func TestAdjust_BonusAndPenalty(t *testing.T) {
	f := newFixture(t, keyHash(t))
	ctx := context.Background()
	f.env.Account(t, "alice")

	adj, err := f.svc.Adjust(ctx, testKey, "10.0.0.1", AdjustRequest{
		AccountID: "alice", Amount: 100, Reason: "компенсация", OperationID: "op-1",
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.KindBonus, adj.Transaction.Kind)
	assert.Equal(t, "admin:op-1", adj.Transaction.ReferenceKey)
	assert.Equal(t, int64(100), adj.Balance)

	adj, err = f.svc.Adjust(ctx, testKey, "10.0.0.1", AdjustRequest{
		AccountID: "alice", Amount: -30, Reason: "спам", OperationID: "op-2",
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.KindPenalty, adj.Transaction.Kind)
	assert.Equal(t, int64(30), adj.Transaction.Amount)
	assert.Equal(t, int64(70), adj.Balance)

	// Повтор операции ничего не меняет
	adj, err = f.svc.Adjust(ctx, testKey, "10.0.0.1", AdjustRequest{
		AccountID: "alice", Amount: -30, Reason: "спам", OperationID: "op-2",
	})
	require.NoError(t, err)
	assert.True(t, adj.Duplicate)
	assert.Equal(t, int64(70), f.env.Balance(t, "alice"))

	// Штраф больше баланса не проходит
	_, err = f.svc.Adjust(ctx, testKey, "10.0.0.1", AdjustRequest{
		AccountID: "alice", Amount: -500, Reason: "ошибка", OperationID: "op-3",
	})
	assert.ErrorIs(t, err, common.ErrInsufficientCredits)

	// Корректировка не влияет на уровень
	lvl, err := f.env.Service.GetLevel(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, lvl.CumulativeEarned)

	assert.Len(t, f.env.Notifier.OfType(notify.EventAdjustment), 2)
	f.env.RequireConsistent(t, "alice")
}

func TestAdjust_Validation(t *testing.T) {
	f := newFixture(t, keyHash(t))
	ctx := context.Background()
	f.env.Account(t, "bob")

	_, err := f.svc.Adjust(ctx, testKey, "c", AdjustRequest{AccountID: "bob", Amount: 0, Reason: "x", OperationID: "op"})
	assert.ErrorIs(t, err, common.ErrInvalidAmount)

	_, err = f.svc.Adjust(ctx, testKey, "c", AdjustRequest{AccountID: "bob", Amount: 5, Reason: "  ", OperationID: "op"})
	assert.ErrorIs(t, err, common.ErrInvalidIdentifier)

	_, err = f.svc.Adjust(ctx, testKey, "c", AdjustRequest{AccountID: "bob", Amount: 5, Reason: "x"})
	assert.ErrorIs(t, err, common.ErrInvalidIdentifier)

	_, err = f.svc.Adjust(ctx, testKey, "c", AdjustRequest{AccountID: "ghost", Amount: 5, Reason: "x", OperationID: "op"})
	assert.ErrorIs(t, err, common.ErrAccountNotFound)
}

func TestAuthorize_LockoutAfterFailures(t *testing.T) {
	f := newFixture(t, keyHash(t))
	ctx := context.Background()

	// GIVEN: три неверных ключа подряд
	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, f.svc.Authorize(ctx, "guess", "10.0.0.9"), common.ErrNotAdmin)
		f.clock = f.clock.Add(time.Minute)
	}

	// WHEN: верный ключ в пределах окна
	err := f.svc.Authorize(ctx, testKey, "10.0.0.9")

	// THEN: клиент заблокирован, другие клиенты нет
	assert.ErrorIs(t, err, common.ErrTooManyAttempts)
	assert.NoError(t, f.svc.Authorize(ctx, testKey, "10.0.0.10"))

	// Окно истекло для первой попытки — снова можно
	f.clock = f.clock.Add(58 * time.Minute)
	assert.NoError(t, f.svc.Authorize(ctx, testKey, "10.0.0.9"))
}

func TestAuthorize_Disabled(t *testing.T) {
	f := newFixture(t, "")

	err := f.svc.Authorize(context.Background(), testKey, "c")
	assert.ErrorIs(t, err, common.ErrAdminDisabled)
}

func TestHandler_Admin(t *testing.T) {
	f := newFixture(t, keyHash(t))
	f.env.Account(t, "carol")

	r := chi.NewRouter()
	NewHandler(f.svc).Routes(r)
	do := func(method, path, key, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		if key != "" {
			req.Header.Set(KeyHeader, key)
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	body := `{"account_id":"carol","amount":40,"reason":"тест","operation_id":"op-1"}`
	rec := do(http.MethodPost, "/admin/adjustments", testKey, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(http.MethodPost, "/admin/adjustments", testKey, body)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(http.MethodPost, "/admin/adjustments", "wrong", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(http.MethodGet, "/admin/audit/carol", testKey, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"account_id":"carol","balance":40,"ledger_sum":40,"consistent":true}`, rec.Body.String())
}
