package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"

	"serotonyl.ru/credit-engine/internal/features/levels"
)

// MiB — один мебибайт, единица порогов стоимости скачивания.
const MiB = 1024 * 1024

// Economy — таблицы экономики: уровни, цены и награды.
// Значение передаётся в сервисы по значению и дальше не меняется.
type Economy struct {
	Levels  []levels.Level `toml:"levels"`
	Pricing Pricing        `toml:"pricing"`
	Rewards Rewards        `toml:"rewards"`
}

// Pricing — параметры стоимости скачиваний, покупок и чата.
type Pricing struct {
	MinDownloadCost   int64           `toml:"min_download_cost"`
	MaxDownloadCost   int64           `toml:"max_download_cost"`
	MinSizeBytes      int64           `toml:"min_size_bytes"`
	MaxSizeBytes      int64           `toml:"max_size_bytes"`
	PurchaseBaseFee   int64           `toml:"purchase_base_fee"`
	CommissionRate    decimal.Decimal `toml:"commission_rate"`
	AllowSelfPurchase bool            `toml:"allow_self_purchase"`
	ChatMessageCost   int64           `toml:"chat_message_cost"`
}

// ChatBonusBucket — корзина случайного чат-бонуса: вес и сумма.
type ChatBonusBucket struct {
	Weight int   `toml:"weight"`
	Amount int64 `toml:"amount"`
}

// Rewards — суммы наград по политикам.
type Rewards struct {
	Upload               int64             `toml:"upload"`
	PerUpvote            int64             `toml:"per_upvote"`
	FollowerThreshold    int64             `toml:"follower_threshold"`
	PerFollowerMilestone int64             `toml:"per_follower_milestone"`
	Welcome              int64             `toml:"welcome"`
	Referral             int64             `toml:"referral"`
	DailyLogin           []int64           `toml:"daily_login"` // индекс = день стрика - 1
	ChatBonus            []ChatBonusBucket `toml:"chat_bonus"`
	ChatBonusMax         int64             `toml:"chat_bonus_max"`
}

// DefaultEconomy возвращает таблицы по умолчанию.
func DefaultEconomy() Economy {
	table := make([]levels.Level, len(levels.DefaultTable))
	copy(table, levels.DefaultTable)

	return Economy{
		Levels: table,
		Pricing: Pricing{
			MinDownloadCost: 1,
			MaxDownloadCost: 10,
			MinSizeBytes:    1 * MiB,
			MaxSizeBytes:    10 * MiB,
			PurchaseBaseFee: 5,
			CommissionRate:  decimal.RequireFromString("0.20"),
			ChatMessageCost: 1,
		},
		Rewards: Rewards{
			Upload:               20,
			PerUpvote:            2,
			FollowerThreshold:    10,
			PerFollowerMilestone: 5,
			Welcome:              50,
			Referral:             25,
			DailyLogin:           []int64{5, 10, 15, 20, 25, 30, 35},
			// Четыре корзины: вероятность убывает, сумма растёт
			ChatBonus: []ChatBonusBucket{
				{Weight: 60, Amount: 1},
				{Weight: 25, Amount: 3},
				{Weight: 10, Amount: 5},
				{Weight: 5, Amount: 10},
			},
			ChatBonusMax: 10,
		},
	}
}

// LoadEconomy накладывает TOML-файл на значения по умолчанию.
// Поля, которых нет в файле, остаются по умолчанию.
func LoadEconomy(path string) (Economy, error) {
	economy := DefaultEconomy()
	if path == "" {
		return economy, nil
	}
	if _, err := toml.DecodeFile(path, &economy); err != nil {
		return Economy{}, fmt.Errorf("ошибка чтения таблиц экономики %s: %w", path, err)
	}
	return economy, nil
}

// Validate проверяет согласованность таблиц.
func (e Economy) Validate() error {
	if _, err := levels.NewCalculator(e.Levels); err != nil {
		return fmt.Errorf("таблица уровней: %w", err)
	}

	p := e.Pricing
	if p.MinDownloadCost < 0 || p.MaxDownloadCost < p.MinDownloadCost {
		return fmt.Errorf("pricing: max_download_cost должен быть >= min_download_cost >= 0")
	}
	if p.MinSizeBytes <= 0 || p.MaxSizeBytes <= p.MinSizeBytes {
		return fmt.Errorf("pricing: max_size_bytes должен быть > min_size_bytes > 0")
	}
	if p.PurchaseBaseFee < 0 || p.ChatMessageCost < 0 {
		return fmt.Errorf("pricing: цены не могут быть отрицательными")
	}
	if p.CommissionRate.IsNegative() || p.CommissionRate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("pricing: commission_rate должен быть в диапазоне [0, 1]")
	}

	r := e.Rewards
	if r.FollowerThreshold <= 0 {
		return fmt.Errorf("rewards: follower_threshold должен быть > 0")
	}
	if len(r.DailyLogin) == 0 {
		return fmt.Errorf("rewards: таблица daily_login пуста")
	}
	if len(r.ChatBonus) == 0 {
		return fmt.Errorf("rewards: нет корзин chat_bonus")
	}
	for i, b := range r.ChatBonus {
		if b.Weight <= 0 || b.Amount <= 0 {
			return fmt.Errorf("rewards: корзина chat_bonus #%d должна иметь положительные вес и сумму", i+1)
		}
	}
	if r.ChatBonusMax <= 0 {
		return fmt.Errorf("rewards: chat_bonus_max должен быть > 0")
	}
	return nil
}
