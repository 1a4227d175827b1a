package journal

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/fxengine/internal/position"
)

func TestLoadMissingFileReturnsEmptyMap(t *testing.T) {
	j := New(filepath.Join(t.TempDir(), "active_positions.json"), zerolog.Nop())
	records, err := j.Load()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "active_positions.json")
	j := New(path, zerolog.Nop())

	records := map[string]*position.Record{
		"BTCUSDT": {
			Symbol:          "BTCUSDT",
			Side:            position.Long,
			Size:            decimal.RequireFromString("0.01"),
			EntryPrice:      decimal.RequireFromString("50000"),
			StopLossPrice:   decimal.RequireFromString("49000"),
			TakeProfitPrice: decimal.RequireFromString("51500"),
			MainOrderID:     "ord-1",
			OpenedAt:        "t0",
		},
	}
	require.NoError(t, j.Save(records))

	loaded, err := j.Load()
	require.NoError(t, err)
	require.Contains(t, loaded, "BTCUSDT")
	assert.True(t, records["BTCUSDT"].EntryPrice.Equal(loaded["BTCUSDT"].EntryPrice))
	assert.Equal(t, position.Long, loaded["BTCUSDT"].Side)
}

func TestSaveOverwritesFullFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "active_positions.json")
	j := New(path, zerolog.Nop())

	first := map[string]*position.Record{
		"BTCUSDT": {Symbol: "BTCUSDT", Size: decimal.RequireFromString("0.01")},
		"ETHUSDT": {Symbol: "ETHUSDT", Size: decimal.RequireFromString("0.1")},
	}
	require.NoError(t, j.Save(first))

	second := map[string]*position.Record{
		"ETHUSDT": {Symbol: "ETHUSDT", Size: decimal.RequireFromString("0.1")},
	}
	require.NoError(t, j.Save(second))

	loaded, err := j.Load()
	require.NoError(t, err)
	assert.NotContains(t, loaded, "BTCUSDT")
	assert.Contains(t, loaded, "ETHUSDT")
}
