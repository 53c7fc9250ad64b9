package pricing

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/credit-engine/internal/config"
)

const mib = config.MiB

func newCalc() *Calculator {
	return NewCalculator(config.DefaultEconomy().Pricing)
}

func TestDownloadCost_Anchors(t *testing.T) {
	c := newCalc()

	assert.Equal(t, int64(1), c.DownloadCost(0))
	assert.Equal(t, int64(1), c.DownloadCost(mib/2))
	assert.Equal(t, int64(1), c.DownloadCost(mib))
	assert.Equal(t, int64(10), c.DownloadCost(10*mib))
	assert.Equal(t, int64(10), c.DownloadCost(500*mib))
}

func TestDownloadCost_LinearMidpoint(t *testing.T) {
	c := newCalc()

	// 5.5 МиБ — ровно середина между 1 и 10 МиБ: 5.5 → 6
	assert.Equal(t, int64(6), c.DownloadCost(11*mib/2))
	// 2 МиБ: 1 + 9 * 1/9 = 2
	assert.Equal(t, int64(2), c.DownloadCost(2*mib))
}

func TestDownloadCost_NonDecreasing(t *testing.T) {
	c := newCalc()

	prev := c.DownloadCost(0)
	for size := int64(0); size <= 12*mib; size += 37 * 1024 {
		cost := c.DownloadCost(size)
		require.GreaterOrEqual(t, cost, prev, "size=%d", size)
		prev = cost
	}
}

func TestPurchaseCost(t *testing.T) {
	c := newCalc()

	assert.Zero(t, c.PurchaseCost(50*mib, false), "внешняя ссылка бесплатна")
	assert.Equal(t, int64(5+1), c.PurchaseCost(mib/2, true))
	assert.Equal(t, int64(5+10), c.PurchaseCost(20*mib, true))
}

func TestCommission(t *testing.T) {
	rate := decimal.RequireFromString("0.20")

	assert.Equal(t, int64(30), Commission(150, rate))
	assert.Equal(t, int64(3), Commission(15, rate))
	assert.Equal(t, int64(1), Commission(3, rate), "0.6 округляется до 1")
	assert.Equal(t, int64(0), Commission(2, rate), "0.4 округляется до 0")
	assert.Zero(t, Commission(0, rate))
	assert.Zero(t, Commission(100, decimal.Zero))
}

func TestHandler_PurchaseQuote(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(newCalc()).Routes(r)

	req := httptest.NewRequest(http.MethodGet, "/pricing/purchase?size_bytes=20971520&stored=true", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var q Quote
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &q))
	assert.Equal(t, int64(15), q.PurchaseCost)
	assert.Equal(t, int64(3), q.Commission)
	assert.Equal(t, "0.2", q.Rate)
}

func TestHandler_DownloadQuote_BadSize(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(newCalc()).Routes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/pricing/download?size_bytes=abc", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
