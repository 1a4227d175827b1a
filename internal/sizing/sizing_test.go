package sizing

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/fxengine/internal/position"
	"github.com/web3guy0/fxengine/internal/venue"
)

type fakeLookup struct{ spec venue.InstrumentSpec }

func (f fakeLookup) GetInstrument(ctx context.Context, symbol string) (venue.InstrumentSpec, error) {
	return f.spec, nil
}

func btcSpec() venue.InstrumentSpec {
	return venue.InstrumentSpec{
		Symbol:        "BTCUSDT",
		PriceDecimals: 2,
		SizeDecimals:  3,
		MinSize:       decimal.RequireFromString("0.001"),
		MaxSize:       decimal.RequireFromString("100"),
		StepSize:      decimal.RequireFromString("0.001"),
	}
}

func TestCalculateHappyPathLong(t *testing.T) {
	lookup := fakeLookup{spec: btcSpec()}
	b, err := Calculate(context.Background(), lookup, "BTCUSDT", position.Long,
		decimal.RequireFromString("50000"),
		decimal.RequireFromString("1000"),
		decimal.RequireFromString("0.01"),
		decimal.RequireFromString("0.02"),
	)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("0.01").Equal(b.Size), "size=%s", b.Size)
	assert.True(t, decimal.RequireFromString("49000").Equal(b.StopLossPrice), "sl=%s", b.StopLossPrice)
	assert.True(t, decimal.RequireFromString("51500").Equal(b.TakeProfit), "tp=%s", b.TakeProfit)
}

func TestCalculateShortMirrorsBracket(t *testing.T) {
	lookup := fakeLookup{spec: btcSpec()}
	b, err := Calculate(context.Background(), lookup, "BTCUSDT", position.Short,
		decimal.RequireFromString("50000"),
		decimal.RequireFromString("1000"),
		decimal.RequireFromString("0.01"),
		decimal.RequireFromString("0.02"),
	)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("51000").Equal(b.StopLossPrice))
	assert.True(t, decimal.RequireFromString("48500").Equal(b.TakeProfit))
}

func TestCalculateRejectsNonPositiveEquity(t *testing.T) {
	lookup := fakeLookup{spec: btcSpec()}
	_, err := Calculate(context.Background(), lookup, "BTCUSDT", position.Long,
		decimal.RequireFromString("50000"), decimal.Zero,
		decimal.RequireFromString("0.01"), decimal.RequireFromString("0.02"))
	assert.ErrorIs(t, err, ErrInsufficientEquity)
}

func TestCalculateUsesLowPriceFloor(t *testing.T) {
	spec := venue.InstrumentSpec{
		PriceDecimals: 6, SizeDecimals: 0,
		MinSize: decimal.Zero, MaxSize: decimal.RequireFromString("1000000"),
		StepSize: decimal.NewFromInt(1),
	}
	lookup := fakeLookup{spec: spec}
	b, err := Calculate(context.Background(), lookup, "PEPEUSDT", position.Long,
		decimal.RequireFromString("0.005"),
		decimal.RequireFromString("1"),
		decimal.RequireFromString("0.0000001"),
		decimal.RequireFromString("0.02"),
	)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(1).Equal(b.Size), "expected low-price floor of 1, got %s", b.Size)
}
