// Package sizing implements the risk-budget-to-contract-quantity and
// stop-loss/take-profit price derivation (spec C5).
package sizing

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/fxengine/internal/position"
	"github.com/web3guy0/fxengine/internal/venue"
)

// rewardRatio is the fixed take-profit-to-stop-loss multiple (spec §4.5).
var rewardRatio = decimal.NewFromFloat(1.5)

// floorDefault and floorLowPrice are the min_floor defaults: 0.01 contracts
// generally, 1.0 for instruments priced below 0.01.
var (
	floorDefault  = decimal.RequireFromString("0.01")
	floorLowPrice = decimal.NewFromInt(1)
	lowPriceBound = decimal.RequireFromString("0.01")
)

// ErrInsufficientEquity is raised when equity is missing or <= 0.
var ErrInsufficientEquity = errors.New("insufficient equity")

// Bracket is the computed quantity plus protective prices for one signal.
type Bracket struct {
	Size          decimal.Decimal
	StopLossPrice decimal.Decimal
	TakeProfit    decimal.Decimal
}

// Calculate derives size, stop-loss and take-profit for a signal at price p
// on the given side, per spec §4.5:
//
//	risk_amount = equity * risk_fraction
//	raw_size    = risk_amount / (p * stop_loss_fraction)
//	size        = venue_quantize(symbol, max(raw_size, min_floor))
func Calculate(ctx context.Context, lookup InstrumentLookup, symbol string, side position.Side, price, equity, riskFraction, stopLossFraction decimal.Decimal) (Bracket, error) {
	if equity.LessThanOrEqual(decimal.Zero) {
		return Bracket{}, ErrInsufficientEquity
	}

	riskAmount := equity.Mul(riskFraction)
	denominator := price.Mul(stopLossFraction)
	if denominator.IsZero() {
		return Bracket{}, errors.New("sizing: zero denominator (price or stop_loss_fraction is zero)")
	}
	rawSize := riskAmount.Div(denominator)

	minFloor := floorDefault
	if price.LessThan(lowPriceBound) {
		minFloor = floorLowPrice
	}
	candidate := decimal.Max(rawSize, minFloor)

	spec, err := lookup.GetInstrument(ctx, symbol)
	if err != nil {
		var notFound *venue.NotFound
		if !errors.As(err, &notFound) {
			return Bracket{}, err
		}
	}

	size, err := venue.QuantizeSize(symbol, candidate, spec)
	if err != nil {
		return Bracket{}, err
	}

	var sl, tp decimal.Decimal
	if side == position.Long {
		sl = price.Mul(decimal.NewFromInt(1).Sub(stopLossFraction))
		tp = price.Mul(decimal.NewFromInt(1).Add(stopLossFraction.Mul(rewardRatio)))
	} else {
		sl = price.Mul(decimal.NewFromInt(1).Add(stopLossFraction))
		tp = price.Mul(decimal.NewFromInt(1).Sub(stopLossFraction.Mul(rewardRatio)))
	}

	return Bracket{
		Size:          size,
		StopLossPrice: venue.RoundPrice(sl, spec),
		TakeProfit:    venue.RoundPrice(tp, spec),
	}, nil
}

// InstrumentLookup is the narrow interface sizing needs from the venue
// client, kept local so tests can fake it without a real Client.
type InstrumentLookup interface {
	GetInstrument(ctx context.Context, symbol string) (venue.InstrumentSpec, error)
}
