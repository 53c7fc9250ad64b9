package rewards

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"serotonyl.ru/credit-engine/internal/features/ledger"
)

// Queue — очередь отложенных начислений.
// Запись уникальна по (счёт, ключ): повторная постановка ожидающей награды
// ничего не меняет, а завершённая или похороненная запись снова становится
// pending с нулём попыток.
type Queue interface {
	Enqueue(ctx context.Context, req ledger.Request, cause error) error
	// Due возвращает не больше limit записей в статусе pending со сроком <= now.
	Due(ctx context.Context, now time.Time, limit int) ([]QueuedReward, error)
	Complete(ctx context.Context, id int64) error
	// Fail учитывает неудачную попытку; dead=true хоронит запись.
	Fail(ctx context.Context, id int64, lastError string, next time.Time, dead bool) error
	// Pending возвращает число записей, ожидающих попытки.
	Pending(ctx context.Context) (int, error)
}

// MemoryQueue — очередь в памяти процесса. Используется во встроенном
// режиме SQLite и в тестах; после перезапуска содержимое теряется.
type MemoryQueue struct {
	mu     sync.Mutex
	nextID int64
	items  map[int64]*QueuedReward
	keys   map[string]int64
	now    func() time.Time
}

// NewMemoryQueue создаёт пустую очередь.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		items: make(map[int64]*QueuedReward),
		keys:  make(map[string]int64),
		now:   time.Now,
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, req ledger.Request, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := req.AccountID + "\x00" + req.ReferenceKey
	now := q.now()
	if id, ok := q.keys[key]; ok {
		item := q.items[id]
		if item.Status != StatusPending {
			item.Request = req
			item.Status = StatusPending
			item.Attempts = 0
			item.NextAttemptAt = now
			if cause != nil {
				item.LastError = cause.Error()
			}
		}
		return nil
	}

	q.nextID++
	item := &QueuedReward{
		ID:            q.nextID,
		Request:       req,
		Status:        StatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
	}
	if cause != nil {
		item.LastError = cause.Error()
	}
	q.items[item.ID] = item
	q.keys[key] = item.ID
	return nil
}

func (q *MemoryQueue) Due(_ context.Context, now time.Time, limit int) ([]QueuedReward, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var due []QueuedReward
	for _, item := range q.items {
		if item.Status == StatusPending && !item.NextAttemptAt.After(now) {
			due = append(due, *item)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].NextAttemptAt.Equal(due[j].NextAttemptAt) {
			return due[i].ID < due[j].ID
		}
		return due[i].NextAttemptAt.Before(due[j].NextAttemptAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (q *MemoryQueue) Complete(_ context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[id]
	if !ok {
		return fmt.Errorf("запись очереди %d не найдена", id)
	}
	item.Status = StatusDone
	return nil
}

func (q *MemoryQueue) Fail(_ context.Context, id int64, lastError string, next time.Time, dead bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[id]
	if !ok {
		return fmt.Errorf("запись очереди %d не найдена", id)
	}
	item.Attempts++
	item.LastError = lastError
	item.NextAttemptAt = next
	if dead {
		item.Status = StatusDead
	}
	return nil
}

func (q *MemoryQueue) Pending(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, item := range q.items {
		if item.Status == StatusPending {
			n++
		}
	}
	return n, nil
}

// Get возвращает копию записи по ID.
func (q *MemoryQueue) Get(id int64) (QueuedReward, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[id]
	if !ok {
		return QueuedReward{}, false
	}
	return *item, true
}
