package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/credit-engine/internal/features/ledger"
	"serotonyl.ru/credit-engine/internal/features/rewards"
)

type fakeRetrier struct {
	calls int
	err   error
}

func (f *fakeRetrier) RetryPending(context.Context) (rewards.RetryStats, error) {
	f.calls++
	return rewards.RetryStats{Processed: 1, Dead: 1}, f.err
}

type fakeAuditor struct {
	calls int
}

func (f *fakeAuditor) AuditAll(context.Context) ([]ledger.AuditReport, error) {
	f.calls++
	return []ledger.AuditReport{{AccountID: "a", Balance: 5, LedgerSum: 3}}, nil
}

func TestScheduler_RejectsBadSchedule(t *testing.T) {
	s := NewScheduler(&fakeRetrier{}, &fakeAuditor{})

	err := s.Start(context.Background(), "каждую минуту", "0 3 * * *")
	assert.Error(t, err)

	err = s.Start(context.Background(), "@every 1m", "25 * *")
	assert.Error(t, err)
}

func TestScheduler_JobsCallServices(t *testing.T) {
	retrier := &fakeRetrier{}
	auditor := &fakeAuditor{}
	s := NewScheduler(retrier, auditor)

	require.NoError(t, s.Start(context.Background(), "@every 1h", "0 3 * * *"))
	defer s.Stop()

	s.retryRewards(context.Background())
	retrier.err = errors.New("queue down")
	s.retryRewards(context.Background())
	s.audit(context.Background())

	assert.Equal(t, 2, retrier.calls)
	assert.Equal(t, 1, auditor.calls)
	assert.Len(t, s.cron.Entries(), 2)
}
