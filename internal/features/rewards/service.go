// Package rewards — service.go содержит политики наград и повтор отложенных начислений.
package rewards

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/credit-engine/internal/common"
	"serotonyl.ru/credit-engine/internal/config"
	"serotonyl.ru/credit-engine/internal/features/ledger"
	"serotonyl.ru/credit-engine/internal/metrics"
	"serotonyl.ru/credit-engine/internal/notify"
)

// Service выдаёт награды по таблице config.Rewards.
type Service struct {
	processor Processor       // Обработчик транзакций
	queue     Queue           // Очередь повторов
	cfg       config.Rewards  // Суммы наград
	retry     RetryPolicy     // Параметры повторов
	notifier  notify.Notifier // Уведомления о вехах
	draw      drawFunc        // Случайный выбор для чат-бонуса
	now       func() time.Time
}

// NewService создаёт сервис наград.
func NewService(processor Processor, queue Queue, cfg config.Rewards, retry RetryPolicy, notifier notify.Notifier) *Service {
	return &Service{
		processor: processor,
		queue:     queue,
		cfg:       cfg,
		retry:     retry,
		notifier:  notifier,
		draw:      defaultDraw,
		now:       time.Now,
	}
}

// Award начисляет награду через обработчик транзакций.
//
// Ошибки клиента (нет счёта, неверный запрос) возвращаются как есть.
// Временный сбой хранилища не возвращается: запрос ставится в очередь
// повторов, и результат помечается Queued. Ошибка возвращается, только если
// не удалось записать и в очередь.
func (s *Service) Award(ctx context.Context, req ledger.Request) (Outcome, error) {
	res, err := s.processor.ProcessTransaction(ctx, req)
	if err == nil {
		tx := res.Transaction
		return Outcome{
			Amount:      tx.Amount,
			Transaction: &tx,
			Balance:     res.Balance,
			LevelUp:     res.LevelUp,
			Duplicate:   res.Duplicate,
		}, nil
	}

	if !common.IsRetryable(err) {
		return Outcome{}, err
	}

	if qerr := s.queue.Enqueue(ctx, req, err); qerr != nil {
		log.WithError(qerr).WithFields(log.Fields{
			"account":   req.AccountID,
			"reference": req.ReferenceKey,
		}).Error("Награда потеряна: не удалось поставить в очередь")
		return Outcome{}, fmt.Errorf("%w (очередь: %v)", err, qerr)
	}

	metrics.RecordRewardQueued()
	log.WithError(err).WithFields(log.Fields{
		"account":   req.AccountID,
		"reference": req.ReferenceKey,
		"amount":    req.Amount,
	}).Warn("Хранилище недоступно, награда отложена")
	return Outcome{Amount: req.Amount, Queued: true}, nil
}

// RewardUpload — награда за загрузку ресурса. Один раз на ресурс.
func (s *Service) RewardUpload(ctx context.Context, accountID, resourceID string) (Outcome, error) {
	if err := common.ValidateIdentifier("resource_id", resourceID); err != nil {
		return Outcome{}, err
	}
	return s.Award(ctx, ledger.Request{
		AccountID:    accountID,
		Amount:       s.cfg.Upload,
		Kind:         ledger.KindEarn,
		Category:     ledger.CategoryResourceUpload,
		Description:  "Награда за загрузку ресурса",
		ReferenceKey: "upload:" + resourceID,
		Metadata:     map[string]string{"resource_id": resourceID},
	})
}

// RewardUpvotes — награда за голоса под постом: count * PerUpvote.
// Начисляется один раз на пост; count <= 0 ничего не начисляет.
func (s *Service) RewardUpvotes(ctx context.Context, accountID, postID string, count int64) (Outcome, error) {
	if err := common.ValidateIdentifier("post_id", postID); err != nil {
		return Outcome{}, err
	}
	if count < 0 {
		return Outcome{}, fmt.Errorf("%w: count=%d", common.ErrInvalidAmount, count)
	}
	if count == 0 {
		return Outcome{Skipped: true}, nil
	}
	return s.Award(ctx, ledger.Request{
		AccountID:    accountID,
		Amount:       count * s.cfg.PerUpvote,
		Kind:         ledger.KindEarn,
		Category:     ledger.CategoryUpvoteReceived,
		Description:  fmt.Sprintf("Голоса за пост: %d", count),
		ReferenceKey: "upvotes:" + postID,
		Metadata: map[string]string{
			"post_id": postID,
			"count":   fmt.Sprint(count),
		},
	})
}

// RewardFollowerMilestone — награда за число подписчиков.
//
// Сумма: floor(count / threshold) * PerFollowerMilestone.
// Ключ привязан к достигнутой вехе floor(count / threshold) * threshold,
// поэтому каждая веха оплачивается один раз, а колебания числа подписчиков
// внутри вехи ничего не начисляют.
func (s *Service) RewardFollowerMilestone(ctx context.Context, accountID string, followerCount int64) (Outcome, error) {
	if followerCount < 0 {
		return Outcome{}, fmt.Errorf("%w: follower_count=%d", common.ErrInvalidAmount, followerCount)
	}

	threshold := s.cfg.FollowerThreshold
	milestones := followerCount / threshold
	if milestones == 0 {
		return Outcome{Skipped: true}, nil
	}
	reportingPoint := milestones * threshold

	out, err := s.Award(ctx, ledger.Request{
		AccountID:    accountID,
		Amount:       milestones * s.cfg.PerFollowerMilestone,
		Kind:         ledger.KindEarn,
		Category:     ledger.CategoryFollowerMilestone,
		Description:  fmt.Sprintf("Подписчиков: %d", reportingPoint),
		ReferenceKey: fmt.Sprintf("followers:%d", reportingPoint),
		Metadata: map[string]string{
			"follower_count":  fmt.Sprint(followerCount),
			"reporting_point": fmt.Sprint(reportingPoint),
		},
	})
	if err != nil {
		return Outcome{}, err
	}

	if !out.Duplicate && !out.Queued {
		notify.Send(ctx, s.notifier, notify.Event{
			Type:      notify.EventFollowerMilestone,
			AccountID: accountID,
			Message: fmt.Sprintf("У вас %d подписчиков! Начислено %s",
				reportingPoint, common.FormatCreditsAmount(out.Amount)),
			Data: map[string]string{
				"reporting_point": fmt.Sprint(reportingPoint),
				"amount":          fmt.Sprint(out.Amount),
			},
		})
	}
	return out, nil
}

// RewardChatBonus — случайный бонус за сессию в чате, один раз на сессию.
// Повтор с тем же sessionID возвращает первую выпавшую сумму.
func (s *Service) RewardChatBonus(ctx context.Context, accountID, sessionID string) (Outcome, error) {
	if err := common.ValidateIdentifier("session_id", sessionID); err != nil {
		return Outcome{}, err
	}
	amount := drawChatBonus(s.cfg.ChatBonus, s.cfg.ChatBonusMax, s.draw)
	return s.Award(ctx, ledger.Request{
		AccountID:    accountID,
		Amount:       amount,
		Kind:         ledger.KindBonus,
		Category:     ledger.CategoryChatBonus,
		Description:  "Бонус за общение в чате",
		ReferenceKey: "chatbonus:" + sessionID,
		Metadata:     map[string]string{"session_id": sessionID},
	})
}

// RewardDailyLogin — награда за первый вход за день (по Москве).
// Сумма растёт с длиной стрика по таблице DailyLogin и дальше не меняется.
func (s *Service) RewardDailyLogin(ctx context.Context, accountID string, at time.Time) (Outcome, error) {
	if err := common.ValidateIdentifier("account_id", accountID); err != nil {
		return Outcome{}, err
	}
	if at.IsZero() {
		at = s.now()
	}

	day, err := s.streakDay(ctx, accountID, at)
	if err != nil {
		return Outcome{}, err
	}

	return s.Award(ctx, ledger.Request{
		AccountID:    accountID,
		Amount:       dailyLoginAmount(s.cfg.DailyLogin, day),
		Kind:         ledger.KindBonus,
		Category:     ledger.CategoryDailyLogin,
		Description:  fmt.Sprintf("Ежедневный вход: %d %s подряд", day, common.PluralizeDays(day)),
		ReferenceKey: loginKey(at),
		Metadata: map[string]string{
			"streak_day": fmt.Sprint(day),
			"date":       common.FormatDate(at),
		},
	})
}

// RewardWelcome — приветственный бонус, один раз на счёт.
func (s *Service) RewardWelcome(ctx context.Context, accountID string) (Outcome, error) {
	return s.Award(ctx, ledger.Request{
		AccountID:    accountID,
		Amount:       s.cfg.Welcome,
		Kind:         ledger.KindBonus,
		Category:     ledger.CategoryWelcomeBonus,
		Description:  "Приветственный бонус",
		ReferenceKey: "welcome:" + accountID,
	})
}

// RewardReferral — бонус пригласившему, один раз за каждого приглашённого.
func (s *Service) RewardReferral(ctx context.Context, referrerID, referredID string) (Outcome, error) {
	if err := common.ValidateIdentifier("referred_id", referredID); err != nil {
		return Outcome{}, err
	}
	if referrerID == referredID {
		return Outcome{}, common.ErrSelfReferral
	}
	return s.Award(ctx, ledger.Request{
		AccountID:    referrerID,
		Amount:       s.cfg.Referral,
		Kind:         ledger.KindBonus,
		Category:     ledger.CategoryReferralBonus,
		Description:  "Бонус за приглашение",
		ReferenceKey: "referral:" + referredID,
		Metadata:     map[string]string{"referred_id": referredID},
	})
}

// RetryPending проводит отложенные награды, срок которых наступил.
//
// Успех и повтор по ключу закрывают запись. Ошибка клиента хоронит её сразу:
// повтор ничего не изменит. Временный сбой переносит попытку с экспоненциальной
// задержкой; после MaxAttempts попыток запись хоронится.
func (s *Service) RetryPending(ctx context.Context) (RetryStats, error) {
	var stats RetryStats

	due, err := s.queue.Due(ctx, s.now(), s.retry.Batch)
	if err != nil {
		return stats, fmt.Errorf("ошибка чтения очереди наград: %w", err)
	}

	for _, item := range due {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Processed++

		res, err := s.processor.ProcessTransaction(ctx, item.Request)
		switch {
		case err == nil:
			if err := s.queue.Complete(ctx, item.ID); err != nil {
				return stats, err
			}
			stats.Succeeded++
			metrics.RecordRewardRetry(metrics.ResultApplied)
			if !res.Duplicate {
				s.notifyDeferred(ctx, res)
			}

		case common.IsRetryable(err) && item.Attempts+1 < s.retry.MaxAttempts:
			next := s.now().Add(s.retry.Backoff(item.Attempts))
			if err := s.queue.Fail(ctx, item.ID, err.Error(), next, false); err != nil {
				return stats, err
			}
			stats.Rescheduled++
			metrics.RecordRewardRetry(metrics.ResultFailed)

		default:
			if err := s.queue.Fail(ctx, item.ID, err.Error(), s.now(), true); err != nil {
				return stats, err
			}
			stats.Dead++
			metrics.RecordRewardRetry(metrics.ResultRejected)
			log.WithError(err).WithFields(log.Fields{
				"account":   item.Request.AccountID,
				"reference": item.Request.ReferenceKey,
				"attempts":  item.Attempts + 1,
			}).Error("Отложенная награда не будет начислена")
		}
	}

	if stats.Processed > 0 {
		log.WithFields(log.Fields{
			"processed":   stats.Processed,
			"succeeded":   stats.Succeeded,
			"rescheduled": stats.Rescheduled,
			"dead":        stats.Dead,
		}).Info("Проход по очереди наград завершён")
	}
	return stats, nil
}

// notifyDeferred сообщает о награде, которая была отложена и наконец начислена.
func (s *Service) notifyDeferred(ctx context.Context, res ledger.Result) {
	tx := res.Transaction
	notify.Send(ctx, s.notifier, notify.Event{
		Type:      notify.EventRewardIssued,
		AccountID: tx.AccountID,
		Message: fmt.Sprintf("Отложенная награда начислена: %s. Баланс: %s",
			common.FormatCreditsAmount(tx.Amount), common.FormatBalance(res.Balance)),
		Data: map[string]string{
			"reference_key": tx.ReferenceKey,
			"category":      string(tx.Category),
		},
	})
}
