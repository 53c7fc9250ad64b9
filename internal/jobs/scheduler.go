// Package jobs управляет фоновыми задачами (cron).
// scheduler.go настраивает расписание: повтор отложенных наград
// и ночную сверку журнала.
package jobs

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/credit-engine/internal/common"
	"serotonyl.ru/credit-engine/internal/features/ledger"
	"serotonyl.ru/credit-engine/internal/features/rewards"
)

// RewardRetrier проводит отложенные награды.
type RewardRetrier interface {
	RetryPending(ctx context.Context) (rewards.RetryStats, error)
}

// Auditor сверяет балансы с журналом.
type Auditor interface {
	AuditAll(ctx context.Context) ([]ledger.AuditReport, error)
}

// Scheduler управляет фоновыми задачами.
type Scheduler struct {
	cron    *cron.Cron
	rewards RewardRetrier
	auditor Auditor
}

// NewScheduler создаёт планировщик задач с московским часовым поясом.
// Запуск задачи пропускается, если предыдущий ещё идёт.
func NewScheduler(rewards RewardRetrier, auditor Auditor) *Scheduler {
	c := cron.New(
		cron.WithLocation(common.MoscowLocation()),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	return &Scheduler{cron: c, rewards: rewards, auditor: auditor}
}

// Start регистрирует задачи и запускает планировщик.
//
// Параметры:
//   - retrySchedule: расписание повтора наград (например, "@every 1m")
//   - auditSchedule: расписание сверки журнала (например, "0 3 * * *")
func (s *Scheduler) Start(ctx context.Context, retrySchedule, auditSchedule string) error {
	if _, err := s.cron.AddFunc(retrySchedule, func() { s.retryRewards(ctx) }); err != nil {
		return fmt.Errorf("некорректное расписание повтора наград %q: %w", retrySchedule, err)
	}
	if _, err := s.cron.AddFunc(auditSchedule, func() { s.audit(ctx) }); err != nil {
		return fmt.Errorf("некорректное расписание сверки %q: %w", auditSchedule, err)
	}

	s.cron.Start()
	log.Info("Планировщик задач запущен (Europe/Moscow)")
	return nil
}

func (s *Scheduler) retryRewards(ctx context.Context) {
	log.Debug("[CRON] Повтор отложенных наград")
	stats, err := s.rewards.RetryPending(ctx)
	if err != nil {
		log.WithError(err).Error("[CRON] Ошибка повтора наград")
		return
	}
	if stats.Dead > 0 {
		log.WithField("dead", stats.Dead).Warn("[CRON] Часть наград не будет начислена")
	}
}

func (s *Scheduler) audit(ctx context.Context) {
	log.Info("[CRON] Сверка балансов с журналом")
	broken, err := s.auditor.AuditAll(ctx)
	if err != nil {
		log.WithError(err).Error("[CRON] Ошибка сверки")
		return
	}
	for _, r := range broken {
		log.WithFields(log.Fields{
			"account":    r.AccountID,
			"balance":    r.Balance,
			"ledger_sum": r.LedgerSum,
		}).Error("[CRON] Баланс расходится с журналом")
	}
}

// Stop останавливает планировщик и ждёт завершения запущенных задач.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info("Планировщик задач остановлен")
}
