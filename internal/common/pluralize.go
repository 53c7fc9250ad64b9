// Package common — pluralize.go содержит форматирование сумм для уведомлений
// и описаний транзакций.
package common

import "fmt"

// FormatCreditsAmount создаёт строку вида "+100 кредитов" или "-50 кредитов".
//
// Примеры:
//
//	FormatCreditsAmount(100) → "+100 кредитов"
//	FormatCreditsAmount(-50) → "-50 кредитов"
//	FormatCreditsAmount(1)   → "+1 кредит"
func FormatCreditsAmount(amount int64) string {
	if amount >= 0 {
		return fmt.Sprintf("+%s %s", FormatNumber(amount), PluralizeCredits(amount))
	}
	return fmt.Sprintf("%s %s", FormatNumber(amount), PluralizeCredits(amount))
}

// FormatNumber форматирует число с разделителями тысяч (пробелами).
// Пример: FormatNumber(2350) → "2 350"
func FormatNumber(n int64) string {
	if n < 0 {
		return "-" + FormatNumber(-n)
	}
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	return fmt.Sprintf("%s %03d", FormatNumber(n/1000), n%1000)
}
