// Package pricing — чистые функции расчёта стоимости: скачивание файла,
// покупка ресурса и комиссия автора. С журналом транзакций не работает.
package pricing

import (
	"github.com/shopspring/decimal"

	"serotonyl.ru/credit-engine/internal/config"
)

// Calculator считает стоимость по неизменяемым параметрам цен.
type Calculator struct {
	cfg config.Pricing
}

// NewCalculator создаёт калькулятор стоимости.
func NewCalculator(cfg config.Pricing) *Calculator {
	return &Calculator{cfg: cfg}
}

// DownloadCost возвращает стоимость скачивания файла.
//
// До MinSizeBytes включительно — минимальная цена, от MaxSizeBytes — максимальная,
// между ними — линейная интерполяция с округлением до целого (половина — от нуля).
//
// Пример (по умолчанию 1–10 кредитов на 1–10 МиБ):
//
//	DownloadCost(512 KiB)  → 1
//	DownloadCost(5.5 MiB)  → 6
//	DownloadCost(10 MiB)   → 10
func (c *Calculator) DownloadCost(sizeBytes int64) int64 {
	p := c.cfg
	if sizeBytes <= p.MinSizeBytes {
		return p.MinDownloadCost
	}
	if sizeBytes >= p.MaxSizeBytes {
		return p.MaxDownloadCost
	}

	// min + (max - min) * (size - minSize) / (maxSize - minSize)
	costSpan := decimal.NewFromInt(p.MaxDownloadCost - p.MinDownloadCost)
	offset := decimal.NewFromInt(sizeBytes - p.MinSizeBytes)
	sizeSpan := decimal.NewFromInt(p.MaxSizeBytes - p.MinSizeBytes)

	cost := decimal.NewFromInt(p.MinDownloadCost).Add(costSpan.Mul(offset).Div(sizeSpan))
	return cost.Round(0).IntPart()
}

// PurchaseCost возвращает цену покупки ресурса.
// Внешние ссылки (файл не лежит в хранилище) бесплатны.
func (c *Calculator) PurchaseCost(sizeBytes int64, isStoredFile bool) int64 {
	if !isStoredFile {
		return 0
	}
	return c.cfg.PurchaseBaseFee + c.DownloadCost(sizeBytes)
}

// Commission возвращает долю автора: round(cost × rate).
func Commission(cost int64, rate decimal.Decimal) int64 {
	if cost <= 0 || !rate.IsPositive() {
		return 0
	}
	return decimal.NewFromInt(cost).Mul(rate).Round(0).IntPart()
}

// CommissionRate возвращает ставку комиссии по умолчанию.
func (c *Calculator) CommissionRate() decimal.Decimal {
	return c.cfg.CommissionRate
}

// ChatMessageCost возвращает цену одного сообщения AI-чату.
func (c *Calculator) ChatMessageCost() int64 {
	return c.cfg.ChatMessageCost
}

// Quote — предварительный расчёт покупки для показа в интерфейсе.
type Quote struct {
	SizeBytes    int64  `json:"size_bytes"`
	Stored       bool   `json:"stored"`
	DownloadCost int64  `json:"download_cost"`
	PurchaseCost int64  `json:"purchase_cost"`
	Commission   int64  `json:"commission"`
	Rate         string `json:"commission_rate"`
}

// QuotePurchase считает все суммы покупки без записи в журнал.
func (c *Calculator) QuotePurchase(sizeBytes int64, isStoredFile bool) Quote {
	cost := c.PurchaseCost(sizeBytes, isStoredFile)
	return Quote{
		SizeBytes:    sizeBytes,
		Stored:       isStoredFile,
		DownloadCost: c.DownloadCost(sizeBytes),
		PurchaseCost: cost,
		Commission:   Commission(cost, c.cfg.CommissionRate),
		Rate:         c.cfg.CommissionRate.String(),
	}
}
