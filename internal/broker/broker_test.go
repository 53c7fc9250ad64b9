package broker

import (
	"context"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/credit-engine/internal/config"
	"serotonyl.ru/credit-engine/internal/features/ledger/ledgertest"
	"serotonyl.ru/credit-engine/internal/features/rewards"
	"serotonyl.ru/credit-engine/internal/notify"
)

func newDispatcher(t *testing.T) (*ledgertest.Env, *Dispatcher) {
	env := ledgertest.New(t)
	svc := rewards.NewService(env.Service, rewards.NewMemoryQueue(),
		config.DefaultEconomy().Rewards, rewards.DefaultRetryPolicy(), env.Notifier)
	return env, NewDispatcher(svc)
}

func TestDispatch_RoutesEveryEventType(t *testing.T) {
	env, d := newDispatcher(t)
	ctx := context.Background()
	env.Account(t, "alice")
	env.Account(t, "bob")

	cases := []struct {
		ev   RewardEvent
		want int64
	}{
		{RewardEvent{Type: EventResourceUploaded, AccountID: "alice", SubjectID: "r1"}, 20},
		{RewardEvent{Type: EventPostUpvoted, AccountID: "alice", SubjectID: "p1", Count: 3}, 6},
		{RewardEvent{Type: EventFollowersChanged, AccountID: "alice", Count: 12}, 5},
		{RewardEvent{Type: EventUserLogin, AccountID: "alice", OccurredAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}, 5},
		{RewardEvent{Type: EventUserRegistered, AccountID: "alice"}, 50},
		{RewardEvent{Type: EventUserReferred, AccountID: "alice", SubjectID: "bob"}, 25},
	}
	var total int64
	for _, tc := range cases {
		out, err := d.Dispatch(ctx, tc.ev)
		require.NoError(t, err, tc.ev.Type)
		assert.Equal(t, tc.want, out.Amount, tc.ev.Type)
		total += tc.want
	}

	out, err := d.Dispatch(ctx, RewardEvent{Type: EventChatSession, AccountID: "alice", SubjectID: "s1"})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, out.Amount, int64(1))
	total += out.Amount

	assert.Equal(t, total, env.Balance(t, "alice"))

	_, err = d.Dispatch(ctx, RewardEvent{Type: "casino.spin", AccountID: "alice"})
	assert.ErrorIs(t, err, ErrUnknownEvent)
}

func TestDecodeEvent(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"type":"post.upvoted","account_id":"a","subject_id":"p","count":4}`))
	require.NoError(t, err)
	assert.Equal(t, RewardEvent{Type: EventPostUpvoted, AccountID: "a", SubjectID: "p", Count: 4}, ev)

	_, err = DecodeEvent([]byte(`{"type":"post.upvoted"}`))
	assert.Error(t, err)

	_, err = DecodeEvent([]byte(`not json`))
	assert.Error(t, err)
}

// fakeAck запоминает, как было подтверждено сообщение.
type fakeAck struct {
	mu      sync.Mutex
	acked   int
	nacked  int
	requeue bool
}

func (a *fakeAck) Ack(uint64, bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked++
	return nil
}

func (a *fakeAck) Nack(_ uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacked++
	a.requeue = requeue
	return nil
}

func (a *fakeAck) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func TestConsumerHandle_AckAndNack(t *testing.T) {
	env, d := newDispatcher(t)
	env.Account(t, "carol")
	c := &Consumer{dispatcher: d}

	deliver := func(body string) *fakeAck {
		ack := &fakeAck{}
		c.handle(context.Background(), amqp.Delivery{Acknowledger: ack, Body: []byte(body)}, 0)
		return ack
	}

	// Успех и повтор того же события подтверждаются
	ack := deliver(`{"type":"resource.uploaded","account_id":"carol","subject_id":"r1"}`)
	assert.Equal(t, 1, ack.acked)
	ack = deliver(`{"type":"resource.uploaded","account_id":"carol","subject_id":"r1"}`)
	assert.Equal(t, 1, ack.acked)
	assert.Equal(t, int64(20), env.Balance(t, "carol"))

	// Битое сообщение и ошибка клиента отбрасываются без повтора
	for _, body := range []string{
		`{oops`,
		`{"type":"unknown","account_id":"carol"}`,
		`{"type":"resource.uploaded","account_id":"ghost","subject_id":"r1"}`,
	} {
		ack = deliver(body)
		assert.Equal(t, 1, ack.nacked, body)
		assert.False(t, ack.requeue, body)
	}
}

func TestRoutingKey(t *testing.T) {
	assert.Equal(t, "notify.level_up", RoutingKey(notify.EventLevelUp))
	assert.Equal(t, "notify.commission", RoutingKey(notify.EventCommission))
}
