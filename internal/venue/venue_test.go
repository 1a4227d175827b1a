package venue

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignDeterministic(t *testing.T) {
	got := Sign("s3cr3t", "1700000000000", "GET", "/api/v2/mix/account/accounts?productType=USDT-FUTURES", "")
	again := Sign("s3cr3t", "1700000000000", "GET", "/api/v2/mix/account/accounts?productType=USDT-FUTURES", "")
	assert.Equal(t, got, again, "signature must be byte-identical for fixed inputs")
	assert.NotEmpty(t, got)
}

func TestSignVariesWithInput(t *testing.T) {
	a := Sign("s3cr3t", "1700000000000", "GET", "/path", "")
	b := Sign("s3cr3t", "1700000000001", "GET", "/path", "")
	assert.NotEqual(t, a, b)
}

func TestBuildQueryOmitsTrailingMarkOnEmpty(t *testing.T) {
	assert.Equal(t, "", buildQuery(nil))
	assert.Equal(t, "", buildQuery(map[string]string{}))
}

func TestBuildQuerySortsKeys(t *testing.T) {
	qs := buildQuery(map[string]string{"symbol": "BTCUSDT", "productType": "USDT-FUTURES"})
	assert.Equal(t, "productType=USDT-FUTURES&symbol=BTCUSDT", qs)
}

func TestParsePositionSizeFallbackChain(t *testing.T) {
	cases := []struct {
		name                               string
		total, available, openDelegateSize string
		want                               decimal.Decimal
	}{
		{"total wins", "1.5", "2.0", "3.0", decimal.RequireFromString("1.5")},
		{"falls back to available", "0", "2.0", "3.0", decimal.RequireFromString("2.0")},
		{"falls back to openDelegateSize", "", "", "3.0", decimal.RequireFromString("3.0")},
		{"all zero yields zero", "0", "0", "0", decimal.Zero},
		{"unparsable treated as absent", "not-a-number", "1.0", "", decimal.RequireFromString("1.0")},
		{"everything empty yields zero", "", "", "", decimal.Zero},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ParsePositionSize(tc.total, tc.available, tc.openDelegateSize)
			assert.True(t, tc.want.Equal(got), "got %s want %s", got, tc.want)
		})
	}
}

func TestRoundPriceHalfToEven(t *testing.T) {
	spec := InstrumentSpec{PriceDecimals: 2}
	assert.True(t, decimal.RequireFromString("1.24").Equal(RoundPrice(decimal.RequireFromString("1.235"), spec)))
	assert.True(t, decimal.RequireFromString("1.24").Equal(RoundPrice(decimal.RequireFromString("1.245"), spec)))
}

func TestQuantizeSizeFloorsToStepAndValidatesBounds(t *testing.T) {
	spec := InstrumentSpec{
		SizeDecimals: 3,
		MinSize:      decimal.RequireFromString("0.01"),
		MaxSize:      decimal.RequireFromString("100"),
		StepSize:     decimal.RequireFromString("0.01"),
	}
	got, err := QuantizeSize("BTCUSDT", decimal.RequireFromString("0.0172"), spec)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("0.01").Equal(got), "got %s", got)

	_, err = QuantizeSize("BTCUSDT", decimal.RequireFromString("0.001"), spec)
	var invalid *InvalidSize
	require.ErrorAs(t, err, &invalid)
}

func TestDefaultInstrumentSpecByPrefix(t *testing.T) {
	btc := defaultInstrumentSpec("BTCUSDT")
	assert.EqualValues(t, 6, btc.PriceDecimals)
	assert.EqualValues(t, 4, btc.SizeDecimals)

	eth := defaultInstrumentSpec("ETHUSDT")
	assert.EqualValues(t, 5, eth.PriceDecimals)

	other := defaultInstrumentSpec("SOLUSDT")
	assert.EqualValues(t, 4, other.PriceDecimals)
	assert.EqualValues(t, 4, other.SizeDecimals)
}

func TestQuoteCurrency(t *testing.T) {
	assert.Equal(t, "USDC", QuoteCurrency("BTCUSDC"))
	assert.Equal(t, "USDT", QuoteCurrency("BTCUSDT"))
}
