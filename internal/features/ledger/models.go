// Package ledger — журнал кредитов: счета, неизменяемые транзакции
// и атомарное применение операций.
// models.go описывает счета, транзакции и закрытые перечисления видов и категорий.
package ledger

import (
	"fmt"
	"time"

	"serotonyl.ru/credit-engine/internal/common"
	"serotonyl.ru/credit-engine/internal/features/levels"
)

// Kind — вид транзакции. Earn и Bonus увеличивают баланс, Spend и Penalty уменьшают.
type Kind string

const (
	KindEarn    Kind = "earn"
	KindSpend   Kind = "spend"
	KindBonus   Kind = "bonus"
	KindPenalty Kind = "penalty"
)

// Valid сообщает, входит ли вид в перечисление.
func (k Kind) Valid() bool {
	switch k {
	case KindEarn, KindSpend, KindBonus, KindPenalty:
		return true
	}
	return false
}

// IsDebit — вид уменьшает баланс.
func (k Kind) IsDebit() bool {
	return k == KindSpend || k == KindPenalty
}

// Signed возвращает сумму со знаком для этого вида.
func (k Kind) Signed(amount int64) int64 {
	if k.IsDebit() {
		return -amount
	}
	return amount
}

// Category — за что начислены или списаны кредиты.
type Category string

const (
	CategoryResourceUpload     Category = "resource_upload"
	CategoryUpvoteReceived     Category = "upvote_received"
	CategoryFollowerMilestone  Category = "follower_milestone"
	CategoryChatBonus          Category = "chat_bonus"
	CategoryDailyLogin         Category = "daily_login"
	CategoryWelcomeBonus       Category = "welcome_bonus"
	CategoryFileDownload       Category = "file_download"
	CategoryChatMessage        Category = "chat_message"
	CategoryReferralBonus      Category = "referral_bonus"
	CategoryAdminAdjustment    Category = "admin_adjustment"
	CategoryResourcePurchase   Category = "resource_purchase"
	CategoryResourceCommission Category = "resource_commission"
)

// Categories — все категории в порядке объявления.
var Categories = []Category{
	CategoryResourceUpload,
	CategoryUpvoteReceived,
	CategoryFollowerMilestone,
	CategoryChatBonus,
	CategoryDailyLogin,
	CategoryWelcomeBonus,
	CategoryFileDownload,
	CategoryChatMessage,
	CategoryReferralBonus,
	CategoryAdminAdjustment,
	CategoryResourcePurchase,
	CategoryResourceCommission,
}

// Valid сообщает, входит ли категория в перечисление.
func (c Category) Valid() bool {
	switch c {
	case CategoryResourceUpload, CategoryUpvoteReceived, CategoryFollowerMilestone,
		CategoryChatBonus, CategoryDailyLogin, CategoryWelcomeBonus,
		CategoryFileDownload, CategoryChatMessage, CategoryReferralBonus,
		CategoryAdminAdjustment, CategoryResourcePurchase, CategoryResourceCommission:
		return true
	}
	return false
}

// ParseCategory разбирает категорию из строки.
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", common.ErrInvalidCategory, s)
	}
	return c, nil
}

// Account — счёт пользователя. Меняется только через Store.Append.
type Account struct {
	ID        string    `json:"id"`
	Balance   int64     `json:"balance"`
	LevelRank int       `json:"level_rank"`
	LevelName string    `json:"level_name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Transaction — неизменяемая запись журнала.
type Transaction struct {
	ID           string            `json:"id"`
	AccountID    string            `json:"account_id"`
	Amount       int64             `json:"amount"`
	Kind         Kind              `json:"kind"`
	Category     Category          `json:"category"`
	Description  string            `json:"description"`
	ReferenceKey string            `json:"reference_key"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	BalanceAfter int64             `json:"balance_after"`
	CreatedAt    time.Time         `json:"created_at"`
}

// SignedAmount — сумма со знаком (+ для начислений, - для списаний).
func (t Transaction) SignedAmount() int64 {
	return t.Kind.Signed(t.Amount)
}

// Request — запрос на применение одной транзакции.
// Нового баланса в запросе нет: он всегда считается внутри хранилища.
type Request struct {
	AccountID    string            `json:"account_id"`
	Amount       int64             `json:"amount"`
	Kind         Kind              `json:"kind"`
	Category     Category          `json:"category"`
	Description  string            `json:"description"`
	ReferenceKey string            `json:"reference_key"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Validate проверяет запрос до обращения к хранилищу.
func (r Request) Validate() error {
	if err := common.ValidateIdentifier("account_id", r.AccountID); err != nil {
		return err
	}
	if r.Amount <= 0 {
		return fmt.Errorf("%w: %d", common.ErrInvalidAmount, r.Amount)
	}
	if !r.Kind.Valid() {
		return fmt.Errorf("%w: %q", common.ErrInvalidKind, r.Kind)
	}
	if !r.Category.Valid() {
		return fmt.Errorf("%w: %q", common.ErrInvalidCategory, r.Category)
	}
	return common.ValidateReferenceKey(r.ReferenceKey)
}

// Applied — результат применения одного запроса внутри Store.Append.
type Applied struct {
	Transaction Transaction
	// Duplicate — ключ уже был записан; Transaction — исходная запись
	Duplicate bool
	// Account — состояние счёта после всей пачки
	Account Account
	// PreviousRank — ранг до пачки
	PreviousRank int
	// CumulativeEarned — сумма Earn-транзакций счёта после пачки
	CumulativeEarned int64
}

// Result — ответ обработчика транзакций.
type Result struct {
	Transaction Transaction     `json:"transaction"`
	Duplicate   bool            `json:"duplicate"`
	Balance     int64           `json:"balance"`
	Level       levels.Progress `json:"level"`
	LevelUp     bool            `json:"level_up"`
}

// ListFilter — параметры выборки истории.
type ListFilter struct {
	Category Category
	Limit    int
}

// AuditReport — сверка кешированного баланса с суммой журнала.
type AuditReport struct {
	AccountID  string `json:"account_id"`
	Balance    int64  `json:"balance"`
	LedgerSum  int64  `json:"ledger_sum"`
	Consistent bool   `json:"consistent"`
}
