package common

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPluralizeCredits(t *testing.T) {
	cases := map[int64]string{
		0:   "кредитов",
		1:   "кредит",
		2:   "кредита",
		5:   "кредитов",
		11:  "кредитов",
		12:  "кредитов",
		21:  "кредит",
		22:  "кредита",
		101: "кредит",
		-3:  "кредита",
	}
	for n, want := range cases {
		assert.Equal(t, want, PluralizeCredits(n), "n=%d", n)
	}
}

func TestFormatCreditsAmount(t *testing.T) {
	assert.Equal(t, "+100 кредитов", FormatCreditsAmount(100))
	assert.Equal(t, "-50 кредитов", FormatCreditsAmount(-50))
	assert.Equal(t, "+1 кредит", FormatCreditsAmount(1))
	assert.Equal(t, "+2 350 кредитов", FormatCreditsAmount(2350))
	assert.Equal(t, "1 000 000", FormatNumber(1000000))
}

func TestInsufficientCreditsError_Unwraps(t *testing.T) {
	err := fmt.Errorf("списание: %w", &InsufficientCreditsError{AccountID: "a1", Required: 200, Available: 110})

	assert.True(t, errors.Is(err, ErrInsufficientCredits))
	var target *InsufficientCreditsError
	require.True(t, errors.As(err, &target))
	assert.Equal(t, int64(110), target.Available)
	assert.True(t, IsClientError(err))
	assert.False(t, IsRetryable(err))
}

func TestStorageError_KeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := StorageError("ошибка записи транзакции", cause)

	assert.True(t, errors.Is(err, ErrStorageUnavailable))
	assert.True(t, errors.Is(err, cause))
	assert.True(t, IsRetryable(err))
	assert.False(t, IsClientError(err))
}

func TestValidateIdentifier(t *testing.T) {
	for _, ok := range []string{"user-1", "42", "a", "res_9.v2:draft"} {
		assert.NoError(t, ValidateIdentifier("id", ok), ok)
	}
	for _, bad := range []string{"", "-leading", "has space", "semi;colon", string(make([]byte, 65))} {
		assert.ErrorIs(t, ValidateIdentifier("id", bad), ErrInvalidIdentifier, bad)
	}
}

func TestFormatDate_UsesMoscowDay(t *testing.T) {
	// 22:30 UTC — уже следующий день по Москве
	ts := time.Date(2026, time.March, 10, 22, 30, 0, 0, time.UTC)
	assert.Equal(t, "2026-03-11", FormatDate(ts))
	assert.Equal(t, 11, GetMoscowDate(ts).Day())
}
