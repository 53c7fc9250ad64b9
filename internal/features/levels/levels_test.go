package levels

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompute_Thresholds(t *testing.T) {
	c := MustDefault()

	cases := []struct {
		earned   int64
		rank     int
		toNext   int64
		progress int
	}{
		{-50, 1, 150, 0},
		{0, 1, 100, 0},
		{20, 1, 80, 20},
		{99, 1, 1, 99},
		{100, 2, 200, 0},
		{110, 2, 190, 5},
		{300, 3, 300, 0},
		{4999, 9, 1, 99},
	}
	for _, tc := range cases {
		p := c.Compute(tc.earned)
		assert.Equal(t, tc.rank, p.Rank, "earned=%d", tc.earned)
		assert.Equal(t, tc.toNext, p.CreditsToNext, "earned=%d", tc.earned)
		assert.Equal(t, tc.progress, p.ProgressPercentage, "earned=%d", tc.earned)
		assert.False(t, p.MaxRank)
	}
}

func TestCompute_MaxRank(t *testing.T) {
	c := MustDefault()

	for _, earned := range []int64{5000, 5001, 1_000_000} {
		p := c.Compute(earned)
		assert.Equal(t, 10, p.Rank)
		assert.Equal(t, "Icon", p.Name)
		assert.Zero(t, p.CreditsToNext)
		assert.Equal(t, 100, p.ProgressPercentage)
		assert.True(t, p.MaxRank)
	}
}

func TestCompute_Monotonic(t *testing.T) {
	c := MustDefault()

	prev := c.Compute(-1).Rank
	for earned := int64(0); earned <= 6000; earned += 7 {
		rank := c.Compute(earned).Rank
		require.GreaterOrEqual(t, rank, prev, "ранг упал на %d", earned)
		prev = rank
	}
}

func TestNewCalculator_RejectsBadTables(t *testing.T) {
	_, err := NewCalculator(nil)
	assert.Error(t, err)

	_, err = NewCalculator([]Level{{Rank: 1, Name: "a", CreditsRequired: 10}})
	assert.Error(t, err, "первый порог не 0")

	_, err = NewCalculator([]Level{
		{Rank: 1, Name: "a", CreditsRequired: 0},
		{Rank: 2, Name: "b", CreditsRequired: 0},
	})
	assert.Error(t, err, "пороги не возрастают")

	_, err = NewCalculator([]Level{
		{Rank: 1, Name: "a", CreditsRequired: 0},
		{Rank: 3, Name: "b", CreditsRequired: 10},
	})
	assert.Error(t, err, "пропуск ранга")
}

func TestNewCalculator_CopiesTable(t *testing.T) {
	table := []Level{
		{Rank: 1, Name: "a", CreditsRequired: 0},
		{Rank: 2, Name: "b", CreditsRequired: 10},
	}
	c, err := NewCalculator(table)
	require.NoError(t, err)

	table[1].CreditsRequired = 1000
	assert.Equal(t, 2, c.Compute(10).Rank)
}
