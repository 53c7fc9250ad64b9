package rewards

import (
	"math/rand/v2"

	"serotonyl.ru/credit-engine/internal/config"
)

// drawFunc возвращает случайное число из [0, n).
type drawFunc func(n int) int

// drawChatBonus выбирает корзину по весам и возвращает её сумму, не больше limit.
//
// Пример (веса по умолчанию 60/25/10/5):
//
//	r в [0, 60)  → 1
//	r в [60, 85) → 3
//	r в [85, 95) → 5
//	r в [95, 100) → 10
func drawChatBonus(buckets []config.ChatBonusBucket, limit int64, draw drawFunc) int64 {
	total := 0
	for _, b := range buckets {
		total += b.Weight
	}
	if total <= 0 {
		return 0
	}

	r := draw(total)
	amount := buckets[len(buckets)-1].Amount
	for _, b := range buckets {
		if r < b.Weight {
			amount = b.Amount
			break
		}
		r -= b.Weight
	}

	if amount > limit {
		return limit
	}
	return amount
}

func defaultDraw(n int) int {
	return rand.IntN(n)
}
