// Package purchases — покупка ресурсов: списание с покупателя и комиссия
// автору одной атомарной пачкой.
package purchases

import (
	"time"

	"github.com/shopspring/decimal"

	"serotonyl.ru/credit-engine/internal/features/ledger"
)

// SettleRequest — расчёт покупки с уже известной ценой.
type SettleRequest struct {
	BuyerID        string
	ResourceID     string
	OwnerID        string
	Cost           int64
	CommissionRate decimal.Decimal
}

// PurchaseRequest — покупка по размеру файла; цена считается по таблице цен.
type PurchaseRequest struct {
	BuyerID    string `json:"buyer_id"`
	ResourceID string `json:"resource_id"`
	OwnerID    string `json:"owner_id"`
	SizeBytes  int64  `json:"size_bytes"`
	// Stored — файл лежит в хранилище; внешние ссылки бесплатны
	Stored bool `json:"stored"`
}

// Receipt — чек покупки.
type Receipt struct {
	CorrelationID string              `json:"correlation_id,omitempty"`
	BuyerID       string              `json:"buyer_id"`
	OwnerID       string              `json:"owner_id"`
	ResourceID    string              `json:"resource_id"`
	Cost          int64               `json:"cost"`
	Commission    int64               `json:"commission"`
	BuyerBalance  int64               `json:"buyer_balance"`
	Purchase      *ledger.Transaction `json:"purchase,omitempty"`
	CommissionTx  *ledger.Transaction `json:"commission_transaction,omitempty"`
	PurchasedAt   time.Time           `json:"purchased_at"`
}

// Record — покупка, восстановленная из журнала по записи покупателя
// и записи комиссии автора.
type Record struct {
	CorrelationID string    `json:"correlation_id"`
	BuyerID       string    `json:"buyer_id"`
	OwnerID       string    `json:"owner_id"`
	ResourceID    string    `json:"resource_id"`
	Cost          int64     `json:"cost"`
	Commission    int64     `json:"commission"`
	PurchasedAt   time.Time `json:"purchased_at"`
}

// Ключи метаданных записи покупки
const (
	metaResourceID    = "resource_id"
	metaOwnerID       = "owner_id"
	metaBuyerID       = "buyer_id"
	metaCorrelationID = "correlation_id"
	metaCommission    = "commission"
)

func purchaseKey(resourceID string) string {
	return "purchase:" + resourceID
}

func commissionKey(resourceID, buyerID string) string {
	return "commission:" + resourceID + ":" + buyerID
}
