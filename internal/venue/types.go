package venue

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// InstrumentSpec is the cached precision/limit contract for one symbol.
type InstrumentSpec struct {
	Symbol        string
	PriceDecimals int32
	SizeDecimals  int32
	MinSize       decimal.Decimal
	MaxSize       decimal.Decimal
	StepSize      decimal.Decimal
}

// defaultInstrumentSpec returns the fallback spec used when a contract
// lookup fails or the venue hasn't returned a matching entry yet, per
// spec's defaults table: {BTC: 6/4, ETH: 5/4, low-value SATS-like: 8/4,
// other: 4/4}, min 0, max 2^32 (standing in for unbounded), step 1.
func defaultInstrumentSpec(symbol string) InstrumentSpec {
	priceDecimals, sizeDecimals := int32(4), int32(4)
	upper := strings.ToUpper(symbol)
	switch {
	case strings.HasPrefix(upper, "BTC"):
		priceDecimals, sizeDecimals = 6, 4
	case strings.HasPrefix(upper, "ETH"):
		priceDecimals, sizeDecimals = 5, 4
	case strings.HasPrefix(upper, "SATS"), strings.HasPrefix(upper, "1000SATS"), strings.HasPrefix(upper, "PEPE"), strings.HasPrefix(upper, "SHIB"):
		priceDecimals, sizeDecimals = 8, 4
	}
	return InstrumentSpec{
		Symbol:        symbol,
		PriceDecimals: priceDecimals,
		SizeDecimals:  sizeDecimals,
		MinSize:       decimal.Zero,
		MaxSize:       decimal.NewFromInt(1 << 32),
		StepSize:      decimal.NewFromInt(1),
	}
}

// QuoteCurrency derives the quote currency by pattern: USDC if the symbol
// contains that substring, else USDT.
func QuoteCurrency(symbol string) string {
	if strings.Contains(strings.ToUpper(symbol), "USDC") {
		return "USDC"
	}
	return "USDT"
}

// Ticker is the {last, open_utc} pair returned by get_ticker.
type Ticker struct {
	Last    decimal.Decimal
	OpenUTC decimal.Decimal
}

// PositionSnapshot is a venue-reported open position row.
type PositionSnapshot struct {
	Symbol       string
	HoldSide     string // "long" | "short"
	Size         decimal.Decimal
	OpenPriceAvg decimal.Decimal
	UnrealizedPL decimal.Decimal
}

// HistoryPosition is a closed-position record with realized pnl.
type HistoryPosition struct {
	Symbol      string
	RealizedPnL decimal.Decimal
	ClosedAt    string
}

// ParsePositionSize probes the fallback chain total -> available ->
// openDelegateSize, parsing the first non-zero, non-empty value as a
// decimal. Parse failure or exhaustion yields zero (spec §4.1).
func ParsePositionSize(total, available, openDelegateSize string) decimal.Decimal {
	for _, raw := range []string{total, available, openDelegateSize} {
		if raw == "" {
			continue
		}
		v, err := decimal.NewFromString(raw)
		if err != nil {
			continue
		}
		if !v.IsZero() {
			return v
		}
	}
	return decimal.Zero
}

// parseDecimal parses a venue numeric string, defaulting to zero on
// failure — many Bitget fields arrive as empty strings rather than absent.
func parseDecimal(raw string) decimal.Decimal {
	if raw == "" {
		return decimal.Zero
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return v
}

func normalizeHoldSide(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "long" || s == "short" {
		return s
	}
	return s
}

func parseInt32(raw string, fallback int32) int32 {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return int32(n)
}
