// Package levels вычисляет уровень пользователя по сумме заработанных кредитов.
// Уровень никогда не хранится как самостоятельный счётчик: он всегда
// пересчитывается из журнала транзакций.
package levels

import (
	"errors"
	"fmt"
)

// Level — одна строка таблицы уровней.
type Level struct {
	Rank            int    `toml:"rank" json:"rank"`
	Name            string `toml:"name" json:"name"`
	CreditsRequired int64  `toml:"credits_required" json:"credits_required"`
}

// Progress — вычисленный уровень и прогресс до следующего.
type Progress struct {
	Rank               int    `json:"rank"`
	Name               string `json:"name"`
	CreditsRequired    int64  `json:"credits_required"`
	CumulativeEarned   int64  `json:"cumulative_earned"`
	CreditsToNext      int64  `json:"credits_to_next"`
	ProgressPercentage int    `json:"progress_percentage"`
	NextName           string `json:"next_name,omitempty"`
	MaxRank            bool   `json:"max_rank"`
}

// DefaultTable — таблица уровней по умолчанию (ранги 1–10).
var DefaultTable = []Level{
	{Rank: 1, Name: "Newcomer", CreditsRequired: 0},
	{Rank: 2, Name: "Contributor", CreditsRequired: 100},
	{Rank: 3, Name: "Regular", CreditsRequired: 300},
	{Rank: 4, Name: "Enthusiast", CreditsRequired: 600},
	{Rank: 5, Name: "Expert", CreditsRequired: 1000},
	{Rank: 6, Name: "Veteran", CreditsRequired: 1500},
	{Rank: 7, Name: "Mentor", CreditsRequired: 2200},
	{Rank: 8, Name: "Master", CreditsRequired: 3000},
	{Rank: 9, Name: "Legend", CreditsRequired: 4000},
	{Rank: 10, Name: "Icon", CreditsRequired: 5000},
}

// Calculator — неизменяемая таблица уровней.
type Calculator struct {
	table []Level
}

// NewCalculator проверяет таблицу и создаёт калькулятор.
//
// Требования к таблице:
//   - не пустая, первый уровень начинается с 0 кредитов
//   - ранги идут подряд с 1
//   - пороги строго возрастают
func NewCalculator(table []Level) (*Calculator, error) {
	if len(table) == 0 {
		return nil, errors.New("таблица уровней пуста")
	}
	if table[0].CreditsRequired != 0 {
		return nil, fmt.Errorf("первый уровень должен начинаться с 0, а не с %d", table[0].CreditsRequired)
	}
	for i, lvl := range table {
		if lvl.Rank != i+1 {
			return nil, fmt.Errorf("уровень %q: ожидался ранг %d, получен %d", lvl.Name, i+1, lvl.Rank)
		}
		if i > 0 && lvl.CreditsRequired <= table[i-1].CreditsRequired {
			return nil, fmt.Errorf("уровень %q: порог %d не больше предыдущего", lvl.Name, lvl.CreditsRequired)
		}
	}

	// Копируем, чтобы изменения исходного среза не затронули калькулятор
	own := make([]Level, len(table))
	copy(own, table)
	return &Calculator{table: own}, nil
}

// MustDefault возвращает калькулятор с таблицей по умолчанию.
func MustDefault() *Calculator {
	c, err := NewCalculator(DefaultTable)
	if err != nil {
		panic(err)
	}
	return c
}

// Compute возвращает уровень для суммы заработанных кредитов.
// Функция тотальная: отрицательная или нулевая сумма даёт ранг 1 и прогресс 0.
//
// Пример (таблица по умолчанию):
//
//	Compute(110) → ранг 2, до следующего 190, прогресс 5%
func (c *Calculator) Compute(cumulativeEarned int64) Progress {
	idx := 0
	for i, lvl := range c.table {
		if lvl.CreditsRequired <= cumulativeEarned {
			idx = i
		}
	}

	current := c.table[idx]
	p := Progress{
		Rank:             current.Rank,
		Name:             current.Name,
		CreditsRequired:  current.CreditsRequired,
		CumulativeEarned: cumulativeEarned,
	}

	if idx == len(c.table)-1 {
		p.MaxRank = true
		p.ProgressPercentage = 100
		return p
	}

	next := c.table[idx+1]
	p.NextName = next.Name
	p.CreditsToNext = next.CreditsRequired - cumulativeEarned

	span := next.CreditsRequired - current.CreditsRequired
	done := cumulativeEarned - current.CreditsRequired
	p.ProgressPercentage = clampPercent(done * 100 / span)
	return p
}

func clampPercent(v int64) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return int(v)
}
