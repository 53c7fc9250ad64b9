package rewards

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/credit-engine/internal/features/ledger"
	"serotonyl.ru/credit-engine/internal/features/ledger/ledgertest"
)

// findQueued ищет запись очереди по ключу среди всех созревших.
func findQueued(t *testing.T, q *PostgresQueue, accountID string) (QueuedReward, bool) {
	t.Helper()
	due, err := q.Due(context.Background(), time.Now().Add(time.Hour), 10_000)
	require.NoError(t, err)
	for _, item := range due {
		if item.Request.AccountID == accountID {
			return item, true
		}
	}
	return QueuedReward{}, false
}

func TestPostgresQueue_Lifecycle(t *testing.T) {
	pool := ledgertest.OpenPostgres(t)
	q := NewPostgresQueue(pool)
	ctx := context.Background()

	account := ledgertest.ID("queue")
	req := ledger.Request{
		AccountID:    account,
		Amount:       20,
		Kind:         ledger.KindEarn,
		Category:     ledger.CategoryResourceUpload,
		ReferenceKey: "upload:r1",
		Metadata:     map[string]string{"resource_id": "r1"},
	}

	// GIVEN: награда поставлена дважды — запись одна
	require.NoError(t, q.Enqueue(ctx, req, errors.New("connection reset")))
	require.NoError(t, q.Enqueue(ctx, req, nil))

	item, ok := findQueued(t, q, account)
	require.True(t, ok)
	assert.Equal(t, "r1", item.Request.Metadata["resource_id"])
	assert.Equal(t, "connection reset", item.LastError)

	// WHEN: запись похоронена
	require.NoError(t, q.Fail(ctx, item.ID, "timeout", time.Now(), true))
	_, ok = findQueued(t, q, account)
	assert.False(t, ok)

	// THEN: повторная постановка возвращает её в очередь с нулём попыток
	require.NoError(t, q.Enqueue(ctx, req, errors.New("connection refused")))
	revived, ok := findQueued(t, q, account)
	require.True(t, ok)
	assert.Equal(t, item.ID, revived.ID)
	assert.Equal(t, StatusPending, revived.Status)
	assert.Zero(t, revived.Attempts)
	assert.Equal(t, "connection refused", revived.LastError)

	require.NoError(t, q.Complete(ctx, revived.ID))
	_, ok = findQueued(t, q, account)
	assert.False(t, ok)

	assert.Error(t, q.Complete(ctx, -1))
}
