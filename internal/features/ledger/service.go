// Package ledger — service.go содержит обработчик транзакций:
// проверку запросов, применение через Store, уведомления о новых уровнях и сверку журнала.
package ledger

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/credit-engine/internal/common"
	"serotonyl.ru/credit-engine/internal/features/levels"
	"serotonyl.ru/credit-engine/internal/metrics"
	"serotonyl.ru/credit-engine/internal/notify"
)

// Service — единственная точка входа для изменения балансов.
type Service struct {
	store    Store           // Хранилище журнала
	levels   LevelComputer   // Таблица уровней
	notifier notify.Notifier // Уведомления о повышении уровня
}

// NewService создаёт обработчик транзакций.
func NewService(store Store, lc LevelComputer, notifier notify.Notifier) *Service {
	return &Service{store: store, levels: lc, notifier: notifier}
}

// EnsureAccount создаёт счёт, если его ещё нет.
// Возвращает счёт и признак того, что он создан этим вызовом.
func (s *Service) EnsureAccount(ctx context.Context, accountID string) (Account, bool, error) {
	if err := common.ValidateIdentifier("account_id", accountID); err != nil {
		return Account{}, false, err
	}

	acc, created, err := s.store.CreateAccount(ctx, accountID)
	if err != nil {
		return Account{}, false, err
	}
	if created {
		log.WithField("account", accountID).Info("Создан новый счёт")
	}
	return acc, created, nil
}

// GetAccount возвращает счёт.
func (s *Service) GetAccount(ctx context.Context, accountID string) (Account, error) {
	if err := common.ValidateIdentifier("account_id", accountID); err != nil {
		return Account{}, err
	}
	return s.store.GetAccount(ctx, accountID)
}

// GetBalance возвращает текущий баланс.
func (s *Service) GetBalance(ctx context.Context, accountID string) (int64, error) {
	if err := common.ValidateIdentifier("account_id", accountID); err != nil {
		return 0, err
	}
	return s.store.GetBalance(ctx, accountID)
}

// GetLevel возвращает уровень и прогресс до следующего.
func (s *Service) GetLevel(ctx context.Context, accountID string) (levels.Progress, error) {
	if err := common.ValidateIdentifier("account_id", accountID); err != nil {
		return levels.Progress{}, err
	}
	earned, err := s.store.GetCumulativeEarned(ctx, accountID)
	if err != nil {
		return levels.Progress{}, err
	}
	return s.levels.Compute(earned), nil
}

// History возвращает последние транзакции счёта, новые первыми.
func (s *Service) History(ctx context.Context, accountID string, filter ListFilter) ([]Transaction, error) {
	if err := common.ValidateIdentifier("account_id", accountID); err != nil {
		return nil, err
	}
	if filter.Category != "" && !filter.Category.Valid() {
		return nil, fmt.Errorf("%w: %q", common.ErrInvalidCategory, filter.Category)
	}
	// Пустая история и отсутствующий счёт — разные ответы
	if _, err := s.store.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return s.store.ListTransactions(ctx, accountID, filter)
}

// FindByReference ищет транзакцию по ключу идемпотентности.
// Если записи нет — возвращает ErrTransactionNotFound.
func (s *Service) FindByReference(ctx context.Context, accountID, referenceKey string) (Transaction, error) {
	if err := common.ValidateIdentifier("account_id", accountID); err != nil {
		return Transaction{}, err
	}
	if err := common.ValidateReferenceKey(referenceKey); err != nil {
		return Transaction{}, err
	}
	return s.store.FindByReference(ctx, accountID, referenceKey)
}

// ProcessTransaction применяет одну транзакцию.
//
// Повтор с тем же ключом — успех: возвращается исходная транзакция
// с Duplicate=true, баланс не меняется.
//
// Возвращает:
//   - ErrInsufficientCredits (как *common.InsufficientCreditsError) — списание ушло бы в минус
//   - ErrAccountNotFound — счёта нет
//   - ErrStorageUnavailable — сбой хранилища, запрос можно повторить с тем же ключом
func (s *Service) ProcessTransaction(ctx context.Context, req Request) (Result, error) {
	results, err := s.ProcessBatch(ctx, []Request{req})
	if err != nil {
		return Result{}, err
	}
	return results[0], nil
}

// ProcessBatch применяет несколько транзакций атомарно: либо все, либо ни одной.
// Результаты идут в порядке запросов.
func (s *Service) ProcessBatch(ctx context.Context, reqs []Request) ([]Result, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	for _, req := range reqs {
		if err := req.Validate(); err != nil {
			return nil, err
		}
	}

	applied, err := s.store.Append(ctx, reqs)
	if err != nil {
		s.recordFailure(reqs, err)
		return nil, err
	}

	results := make([]Result, len(applied))
	notified := make(map[string]bool)
	for i, a := range applied {
		levelUp := !a.Duplicate && a.Account.LevelRank > a.PreviousRank
		results[i] = Result{
			Transaction: a.Transaction,
			Duplicate:   a.Duplicate,
			Balance:     a.Account.Balance,
			Level:       s.levels.Compute(a.CumulativeEarned),
			LevelUp:     levelUp,
		}

		tx := a.Transaction
		if a.Duplicate {
			metrics.RecordTransaction(string(tx.Kind), string(tx.Category), metrics.ResultDuplicate, tx.Amount)
			log.WithFields(log.Fields{
				"account":   tx.AccountID,
				"reference": tx.ReferenceKey,
			}).Debug("Повторный запрос, транзакция уже записана")
			continue
		}

		metrics.RecordTransaction(string(tx.Kind), string(tx.Category), metrics.ResultApplied, tx.Amount)
		log.WithFields(log.Fields{
			"account":  tx.AccountID,
			"kind":     tx.Kind,
			"category": tx.Category,
			"amount":   tx.Amount,
			"balance":  tx.BalanceAfter,
		}).Info("Транзакция проведена")

		if levelUp && !notified[tx.AccountID] {
			notified[tx.AccountID] = true
			s.notifyLevelUp(ctx, a)
		}
	}
	return results, nil
}

// Audit сверяет кешированный баланс счёта с суммой журнала.
func (s *Service) Audit(ctx context.Context, accountID string) (AuditReport, error) {
	if err := common.ValidateIdentifier("account_id", accountID); err != nil {
		return AuditReport{}, err
	}
	balance, err := s.store.GetBalance(ctx, accountID)
	if err != nil {
		return AuditReport{}, err
	}
	sum, err := s.store.LedgerSum(ctx, accountID)
	if err != nil {
		return AuditReport{}, err
	}
	return AuditReport{
		AccountID:  accountID,
		Balance:    balance,
		LedgerSum:  sum,
		Consistent: balance == sum,
	}, nil
}

// AuditAll сверяет все счета и возвращает только несходящиеся.
func (s *Service) AuditAll(ctx context.Context) ([]AuditReport, error) {
	ids, err := s.store.ListAccountIDs(ctx)
	if err != nil {
		return nil, err
	}

	var broken []AuditReport
	for _, id := range ids {
		report, err := s.Audit(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("ошибка сверки счёта %s: %w", id, err)
		}
		if !report.Consistent {
			log.WithFields(log.Fields{
				"account":    id,
				"balance":    report.Balance,
				"ledger_sum": report.LedgerSum,
			}).Error("Баланс не совпадает с журналом")
			broken = append(broken, report)
		}
	}

	metrics.SetAuditInconsistent(len(broken))
	log.WithFields(log.Fields{
		"accounts":     len(ids),
		"inconsistent": len(broken),
	}).Info("Сверка журнала завершена")
	return broken, nil
}

func (s *Service) notifyLevelUp(ctx context.Context, a Applied) {
	metrics.RecordLevelUp()
	notify.Send(ctx, s.notifier, notify.Event{
		Type:      notify.EventLevelUp,
		AccountID: a.Account.ID,
		Message:   fmt.Sprintf("Новый уровень: %s (%d)", a.Account.LevelName, a.Account.LevelRank),
		Data: map[string]string{
			"level_rank":    fmt.Sprint(a.Account.LevelRank),
			"level_name":    a.Account.LevelName,
			"previous_rank": fmt.Sprint(a.PreviousRank),
		},
	})
}

func (s *Service) recordFailure(reqs []Request, err error) {
	result := metrics.ResultFailed
	if !common.IsRetryable(err) {
		result = metrics.ResultRejected
	}
	for _, req := range reqs {
		metrics.RecordTransaction(string(req.Kind), string(req.Category), result, req.Amount)
	}

	var insufficient *common.InsufficientCreditsError
	if errors.As(err, &insufficient) {
		log.WithFields(log.Fields{
			"account":   insufficient.AccountID,
			"required":  insufficient.Required,
			"available": insufficient.Available,
		}).Info("Списание отклонено: недостаточно кредитов")
	}
}
