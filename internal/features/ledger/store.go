package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"serotonyl.ru/credit-engine/internal/common"
	"serotonyl.ru/credit-engine/internal/features/levels"
)

// Store — хранилище счетов и журнала транзакций.
//
// Append — единственная операция, меняющая баланс. Внутри одной атомарной
// единицы она проверяет ключ идемпотентности, считает новый баланс по
// заблокированной строке счёта, отклоняет уход в минус, записывает транзакции
// и пересчитывает уровень по сумме Earn-транзакций.
type Store interface {
	// CreateAccount создаёт счёт с нулевым балансом; created=false, если он уже был.
	CreateAccount(ctx context.Context, accountID string) (acc Account, created bool, err error)
	GetAccount(ctx context.Context, accountID string) (Account, error)
	GetBalance(ctx context.Context, accountID string) (int64, error)
	// GetCumulativeEarned — сумма только Earn-транзакций (Bonus не учитывается).
	GetCumulativeEarned(ctx context.Context, accountID string) (int64, error)
	// Append применяет пачку запросов целиком или не применяет ничего.
	Append(ctx context.Context, reqs []Request) ([]Applied, error)
	FindByReference(ctx context.Context, accountID, referenceKey string) (Transaction, error)
	ListTransactions(ctx context.Context, accountID string, filter ListFilter) ([]Transaction, error)
	// LedgerSum — сумма всех транзакций со знаком.
	LedgerSum(ctx context.Context, accountID string) (int64, error)
	ListAccountIDs(ctx context.Context) ([]string, error)
}

// ErrTransactionNotFound — транзакции с таким ключом нет.
var ErrTransactionNotFound = common.ErrTransactionNotFound

// LevelComputer считает уровень по сумме заработанного.
type LevelComputer interface {
	Compute(cumulativeEarned int64) levels.Progress
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

// lockOrder возвращает счета пачки по возрастанию ID — в этом порядке
// берутся блокировки, чтобы встречные расчёты не создавали дедлок.
func lockOrder(reqs []Request) []string {
	seen := make(map[string]struct{}, len(reqs))
	ids := make([]string, 0, len(reqs))
	for _, r := range reqs {
		if _, ok := seen[r.AccountID]; ok {
			continue
		}
		seen[r.AccountID] = struct{}{}
		ids = append(ids, r.AccountID)
	}
	sort.Strings(ids)
	return ids
}

func encodeMetadata(m map[string]string) string {
	if len(m) == 0 {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		// map[string]string всегда сериализуется
		return "{}"
	}
	return string(b)
}

func decodeMetadata(raw []byte) map[string]string {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal(raw, &m); err != nil || len(m) == 0 {
		return nil
	}
	return m
}

// checkPartialDuplicate отклоняет пачку, где часть записей уже есть в журнале,
// а часть новая. Пачка применяется целиком или не применяется; повтором
// считается только пачка, все записи которой уже записаны.
func checkPartialDuplicate(applied []Applied) error {
	if len(applied) < 2 {
		return nil
	}
	var dup, fresh bool
	var key string
	for _, a := range applied {
		if a.Duplicate {
			dup = true
			key = a.Transaction.ReferenceKey
		} else {
			fresh = true
		}
	}
	if dup && fresh {
		return fmt.Errorf("%w: пачка частично записана ранее (%s)", common.ErrDuplicateReference, key)
	}
	return nil
}

// batchState — состояние счетов внутри одной атомарной пачки.
type batchState struct {
	accounts map[string]*Account
	prevRank map[string]int
	earned   map[string]int64
	touched  map[string]bool
}

func newBatchState() *batchState {
	return &batchState{
		accounts: make(map[string]*Account),
		prevRank: make(map[string]int),
		earned:   make(map[string]int64),
		touched:  make(map[string]bool),
	}
}

func (b *batchState) add(acc Account) {
	a := acc
	b.accounts[acc.ID] = &a
	b.prevRank[acc.ID] = acc.LevelRank
}

// finish проставляет итоговое состояние счетов в результаты пачки.
func (b *batchState) finish(applied []Applied) []Applied {
	for i := range applied {
		id := applied[i].Transaction.AccountID
		applied[i].Account = *b.accounts[id]
		applied[i].PreviousRank = b.prevRank[id]
		applied[i].CumulativeEarned = b.earned[id]
	}
	return applied
}
