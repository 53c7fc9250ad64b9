// Package admin — service.go проверяет ключ администратора и проводит корректировки.
package admin

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/credit-engine/internal/common"
	"serotonyl.ru/credit-engine/internal/config"
	"serotonyl.ru/credit-engine/internal/features/ledger"
	"serotonyl.ru/credit-engine/internal/notify"
)

// Ledger — операции журнала, доступные администратору.
type Ledger interface {
	ProcessTransaction(ctx context.Context, req ledger.Request) (ledger.Result, error)
	Audit(ctx context.Context, accountID string) (ledger.AuditReport, error)
}

// Service проводит админ-операции.
type Service struct {
	ledger      Ledger
	attempts    AttemptStore
	keyHash     string
	maxAttempts int
	lockout     time.Duration
	notifier    notify.Notifier
	now         func() time.Time
}

// NewService создаёт сервис админ-операций.
// Пустой cfg.AdminKeyHash отключает все операции.
func NewService(l Ledger, attempts AttemptStore, cfg *config.Config, notifier notify.Notifier) *Service {
	return &Service{
		ledger:      l,
		attempts:    attempts,
		keyHash:     cfg.AdminKeyHash,
		maxAttempts: cfg.AdminMaxAttempts,
		lockout:     cfg.AdminLockout,
		notifier:    notifier,
		now:         time.Now,
	}
}

// Authorize проверяет ключ администратора.
// Защита от перебора: cfg.AdminMaxAttempts неудач за cfg.AdminLockout
// блокируют клиента до конца окна.
func (s *Service) Authorize(ctx context.Context, key, clientID string) error {
	if s.keyHash == "" {
		return common.ErrAdminDisabled
	}

	failures, err := s.attempts.RecentFailures(ctx, clientID, s.now().Add(-s.lockout))
	if err != nil {
		return common.StorageError("ошибка проверки попыток входа", err)
	}
	if failures >= s.maxAttempts {
		log.WithField("client", clientID).Warn("Клиент заблокирован после неудачных попыток входа")
		return common.ErrTooManyAttempts
	}

	match := key != "" && verifyArgon2id(key, s.keyHash)

	if err := s.attempts.LogAttempt(ctx, clientID, match); err != nil {
		log.WithError(err).Warn("Не удалось записать попытку входа")
	}

	if !match {
		log.WithFields(log.Fields{
			"client":   clientID,
			"failures": failures + 1,
		}).Warn("Неверный ключ администратора")
		return common.ErrNotAdmin
	}
	return nil
}

// Adjust начисляет (Amount > 0) или списывает (Amount < 0) кредиты вручную.
// Повтор с тем же OperationID возвращает исходную запись.
func (s *Service) Adjust(ctx context.Context, key, clientID string, req AdjustRequest) (Adjustment, error) {
	if err := s.Authorize(ctx, key, clientID); err != nil {
		return Adjustment{}, err
	}
	if err := common.ValidateIdentifier("operation_id", req.OperationID); err != nil {
		return Adjustment{}, err
	}
	if req.Amount == 0 {
		return Adjustment{}, fmt.Errorf("%w: корректировка на 0", common.ErrInvalidAmount)
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" || len([]rune(reason)) > MaxReasonLength {
		return Adjustment{}, fmt.Errorf("%w: reason должен быть от 1 до %d символов",
			common.ErrInvalidIdentifier, MaxReasonLength)
	}

	kind, amount := ledger.KindBonus, req.Amount
	if amount < 0 {
		kind, amount = ledger.KindPenalty, -amount
	}

	res, err := s.ledger.ProcessTransaction(ctx, ledger.Request{
		AccountID:    req.AccountID,
		Amount:       amount,
		Kind:         kind,
		Category:     ledger.CategoryAdminAdjustment,
		Description:  reason,
		ReferenceKey: "admin:" + req.OperationID,
		Metadata: map[string]string{
			"operation_id": req.OperationID,
			"client_id":    clientID,
		},
	})
	if err != nil {
		return Adjustment{}, err
	}

	adj := Adjustment{Transaction: res.Transaction, Balance: res.Balance, Duplicate: res.Duplicate}
	if res.Duplicate {
		return adj, nil
	}

	log.WithFields(log.Fields{
		"account":   req.AccountID,
		"amount":    req.Amount,
		"operation": req.OperationID,
		"client":    clientID,
	}).Info("Корректировка баланса администратором")

	notify.Send(ctx, s.notifier, notify.Event{
		Type:      notify.EventAdjustment,
		AccountID: req.AccountID,
		Message: fmt.Sprintf("Корректировка баланса: %s (%s). Баланс: %s",
			common.FormatCreditsAmount(req.Amount), reason, common.FormatBalance(res.Balance)),
		Data: map[string]string{
			"operation_id": req.OperationID,
			"amount":       strconv.FormatInt(req.Amount, 10),
		},
	})
	return adj, nil
}

// Audit сверяет баланс счёта с суммой журнала.
func (s *Service) Audit(ctx context.Context, key, clientID, accountID string) (ledger.AuditReport, error) {
	if err := s.Authorize(ctx, key, clientID); err != nil {
		return ledger.AuditReport{}, err
	}
	return s.ledger.Audit(ctx, accountID)
}
