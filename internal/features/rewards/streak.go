package rewards

import (
	"context"
	"errors"
	"time"

	"serotonyl.ru/credit-engine/internal/common"
)

// loginKey — ключ награды за вход в указанный день (по Москве).
func loginKey(day time.Time) string {
	return "login:" + common.FormatDate(day)
}

// streakDay считает день стрика для входа at: 1 + число подряд идущих
// предыдущих дней, за которые уже есть награда за вход.
// Смотрим не дальше длины таблицы: дальше сумма всё равно не растёт.
func (s *Service) streakDay(ctx context.Context, accountID string, at time.Time) (int, error) {
	day := common.GetMoscowDate(at)
	streak := 1
	for streak < len(s.cfg.DailyLogin) {
		day = day.AddDate(0, 0, -1)
		_, err := s.processor.FindByReference(ctx, accountID, loginKey(day))
		if errors.Is(err, common.ErrTransactionNotFound) {
			break
		}
		if err != nil {
			return 0, err
		}
		streak++
	}
	return streak, nil
}

// dailyLoginAmount возвращает награду за день стрика.
// День 1 — первая строка таблицы; после конца таблицы сумма не меняется.
func dailyLoginAmount(table []int64, day int) int64 {
	if day < 1 {
		day = 1
	}
	if day > len(table) {
		return table[len(table)-1]
	}
	return table[day-1]
}
