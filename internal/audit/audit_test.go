package audit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledLogIsNoOp(t *testing.T) {
	l := Open("", "")
	assert.False(t, l.IsEnabled())

	require.NoError(t, l.RecordClosure("BTCUSDT", "long", decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero, "manual"))
	require.NoError(t, l.RecordSnapshot("daily_reset", "", decimal.Zero))

	history, err := l.GetHistory(10)
	require.NoError(t, err)
	assert.Nil(t, history)
}

func TestSQLiteRoundTripsClosureAndSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	l := Open("", path)
	require.True(t, l.IsEnabled())
	defer l.Close()

	err := l.RecordClosure("BTCUSDT", "long",
		decimal.RequireFromString("50000"), decimal.RequireFromString("51500"),
		decimal.RequireFromString("0.01"), decimal.RequireFromString("3"), "take_profit")
	require.NoError(t, err)

	err = l.RecordSnapshot("breaker_tripped", "daily loss 4.00% >= 4.00%", decimal.RequireFromString("-40"))
	require.NoError(t, err)

	history, err := l.GetHistory(10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "BTCUSDT", history[0].Symbol)
	assert.Equal(t, "take_profit", history[0].Reason)

	snaps, err := l.GetSnapshots(10)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "breaker_tripped", snaps[0].Kind)

	_, statErr := os.Stat(path)
	assert.NoError(t, statErr)
}
