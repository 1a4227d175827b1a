package venue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// ListInstruments fetches the full USDT-perp contract list and refreshes
// the instrument cache.
func (c *Client) ListInstruments(ctx context.Context) ([]InstrumentSpec, error) {
	data, err := c.doRequest(ctx, "GET", pathContracts, map[string]string{"productType": productType}, nil)
	if err != nil {
		return nil, err
	}

	var raw []struct {
		Symbol         string `json:"symbol"`
		MinTradeNum    string `json:"minTradeNum"`
		MaxTradeNum    string `json:"maxOrderNum"`
		PricePlace     string `json:"pricePlace"`
		VolumePlace    string `json:"volumePlace"`
		SizeMultiplier string `json:"sizeMultiplier"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode contracts: %w", err)
	}

	specs := make([]InstrumentSpec, 0, len(raw))
	c.instrumentsMu.Lock()
	for _, r := range raw {
		step := parseDecimal(r.SizeMultiplier)
		if step.IsZero() {
			step = decimal.NewFromInt(1)
		}
		maxSize := parseDecimal(r.MaxTradeNum)
		spec := InstrumentSpec{
			Symbol:        r.Symbol,
			PriceDecimals: parseInt32(r.PricePlace, 4),
			SizeDecimals:  parseInt32(r.VolumePlace, 4),
			MinSize:       parseDecimal(r.MinTradeNum),
			MaxSize:       maxSize,
			StepSize:      step,
		}
		c.instruments[r.Symbol] = spec
		specs = append(specs, spec)
	}
	c.instrumentsMu.Unlock()
	return specs, nil
}

// GetInstrument returns the cached spec for symbol, refreshing from the
// venue on a cache miss, and falling back to defaultInstrumentSpec if the
// venue has no matching contract (spec §3 default table).
func (c *Client) GetInstrument(ctx context.Context, symbol string) (InstrumentSpec, error) {
	c.instrumentsMu.RLock()
	spec, ok := c.instruments[symbol]
	c.instrumentsMu.RUnlock()
	if ok {
		return spec, nil
	}

	if _, err := c.ListInstruments(ctx); err != nil {
		return defaultInstrumentSpec(symbol), err
	}

	c.instrumentsMu.RLock()
	spec, ok = c.instruments[symbol]
	c.instrumentsMu.RUnlock()
	if !ok {
		return defaultInstrumentSpec(symbol), &NotFound{Symbol: symbol}
	}
	return spec, nil
}

// GetTicker fetches {last, open_utc} for symbol. last is mandatory.
func (c *Client) GetTicker(ctx context.Context, symbol string) (Ticker, error) {
	data, err := c.doRequest(ctx, "GET", pathTicker, map[string]string{
		"symbol": symbol, "productType": productType,
	}, nil)
	if err != nil {
		return Ticker{}, err
	}

	var raw []struct {
		LastPr  string `json:"lastPr"`
		OpenUtc string `json:"openUtc"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Ticker{}, fmt.Errorf("decode ticker: %w", err)
	}
	if len(raw) == 0 {
		return Ticker{}, &NotFound{Symbol: symbol}
	}
	return Ticker{Last: parseDecimal(raw[0].LastPr), OpenUTC: parseDecimal(raw[0].OpenUtc)}, nil
}

// GetBalance returns account_equity for quote, or 0.0 when no matching
// sub-account exists.
func (c *Client) GetBalance(ctx context.Context, quote string) (decimal.Decimal, error) {
	data, err := c.doRequest(ctx, "GET", pathAccounts, map[string]string{"productType": productType}, nil)
	if err != nil {
		return decimal.Zero, err
	}

	var raw []struct {
		MarginCoin    string `json:"marginCoin"`
		AccountEquity string `json:"accountEquity"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return decimal.Zero, fmt.Errorf("decode accounts: %w", err)
	}
	for _, acc := range raw {
		if acc.MarginCoin == quote {
			return parseDecimal(acc.AccountEquity), nil
		}
	}
	return decimal.Zero, nil
}

// orderResponse is the shape common to place/modify order endpoints.
type orderResponse struct {
	OrderID string `json:"orderId"`
}

// PlaceMarketOrder submits a market entry order. reduceOnly is always
// false in the admission path (one-way mode never reduces on entry).
func (c *Client) PlaceMarketOrder(ctx context.Context, symbol, side string, size decimal.Decimal, reduceOnly bool, clientOID string) (string, error) {
	body := map[string]interface{}{
		"symbol":      symbol,
		"productType": productType,
		"marginMode":  "crossed",
		"marginCoin":  QuoteCurrency(symbol),
		"size":        size.String(),
		"side":        side,
		"orderType":   "market",
	}
	if reduceOnly {
		body["reduceOnly"] = "YES"
	}
	if clientOID != "" {
		body["clientOid"] = clientOID
	}

	data, err := c.doRequest(ctx, "POST", pathPlaceOrder, nil, body)
	if err != nil {
		return "", err
	}
	var resp orderResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("decode place-order response: %w", err)
	}
	return resp.OrderID, nil
}

// PlanType is the TPSL plan kind (spec §4.1).
type PlanType string

const (
	PlanStopLoss   PlanType = "pos_loss"
	PlanTakeProfit PlanType = "pos_profit"
	PlanTrailing   PlanType = "track_plan"
)

// TriggerSource selects whether the plan watches mark price or last price.
type TriggerSource string

const (
	TriggerMark TriggerSource = "mark_price"
	TriggerLast TriggerSource = "fill_price"
)

// PlaceTPSL submits a conditional stop-loss/take-profit/trailing order.
func (c *Client) PlaceTPSL(ctx context.Context, symbol string, plan PlanType, triggerPrice decimal.Decimal, executeMarket bool, executePrice decimal.Decimal, holdSide string, size decimal.Decimal, triggerSource TriggerSource) (string, error) {
	body := map[string]interface{}{
		"symbol":       symbol,
		"productType":  productType,
		"marginCoin":   QuoteCurrency(symbol),
		"planType":     string(plan),
		"triggerPrice": triggerPrice.String(),
		"holdSide":     holdSide,
		"size":         size.String(),
		"triggerType":  string(triggerSource),
	}
	if executeMarket {
		body["executePrice"] = "0"
	} else {
		body["executePrice"] = executePrice.String()
	}

	data, err := c.doRequest(ctx, "POST", pathPlaceTPSL, nil, body)
	if err != nil {
		return "", err
	}
	var resp orderResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("decode place-tpsl response: %w", err)
	}
	return resp.OrderID, nil
}

// ModifyTPSL updates an existing plan order's trigger/execute price and/or
// size.
func (c *Client) ModifyTPSL(ctx context.Context, orderID, symbol string, newTriggerPrice decimal.Decimal, newExecutePrice *decimal.Decimal, newSize *decimal.Decimal) (string, error) {
	body := map[string]interface{}{
		"symbol":       symbol,
		"productType":  productType,
		"marginCoin":   QuoteCurrency(symbol),
		"orderId":      orderID,
		"triggerPrice": newTriggerPrice.String(),
	}
	if newExecutePrice != nil {
		body["executePrice"] = newExecutePrice.String()
	}
	if newSize != nil {
		body["size"] = newSize.String()
	}

	data, err := c.doRequest(ctx, "POST", pathModifyTPSL, nil, body)
	if err != nil {
		return "", err
	}
	var resp orderResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("decode modify-tpsl response: %w", err)
	}
	return resp.OrderID, nil
}

// CancelTPSL cancels a plan order. Best-effort: an already-cancelled or
// already-triggered order is not treated specially by this method — callers
// that consider that a non-fatal case (close_position, §4.6) must inspect
// the returned BusinessError themselves.
func (c *Client) CancelTPSL(ctx context.Context, orderID, symbol string, plan PlanType) error {
	body := map[string]interface{}{
		"symbol":      symbol,
		"productType": productType,
		"marginCoin":  QuoteCurrency(symbol),
		"orderId":     orderID,
		"planType":    string(plan),
	}
	_, err := c.doRequest(ctx, "POST", pathCancelTPSL, nil, body)
	return err
}

// GetPositions returns venue-position snapshots, optionally filtered by
// symbol. An empty symbol fetches all open positions.
func (c *Client) GetPositions(ctx context.Context, symbol string) ([]PositionSnapshot, error) {
	query := map[string]string{"productType": productType}
	if symbol != "" {
		query["symbol"] = symbol
	}
	data, err := c.doRequest(ctx, "GET", pathAllPositions, query, nil)
	if err != nil {
		return nil, err
	}

	var raw []struct {
		Symbol           string `json:"symbol"`
		HoldSide         string `json:"holdSide"`
		Total            string `json:"total"`
		Available        string `json:"available"`
		OpenDelegateSize string `json:"openDelegateSize"`
		OpenPriceAvg     string `json:"openPriceAvg"`
		UnrealizedPL     string `json:"unrealizedPL"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}

	out := make([]PositionSnapshot, 0, len(raw))
	for _, r := range raw {
		out = append(out, PositionSnapshot{
			Symbol:       r.Symbol,
			HoldSide:     normalizeHoldSide(r.HoldSide),
			Size:         ParsePositionSize(r.Total, r.Available, r.OpenDelegateSize),
			OpenPriceAvg: parseDecimal(r.OpenPriceAvg),
			UnrealizedPL: parseDecimal(r.UnrealizedPL),
		})
	}
	return out, nil
}

// GetHistoryPositions returns closed-position records with realized pnl,
// most recent first, optionally filtered by symbol.
func (c *Client) GetHistoryPositions(ctx context.Context, symbol string, limit int) ([]HistoryPosition, error) {
	if limit <= 0 {
		limit = 20
	}
	query := map[string]string{
		"productType": productType,
		"limit":       fmt.Sprintf("%d", limit),
	}
	if symbol != "" {
		query["symbol"] = symbol
	}
	data, err := c.doRequest(ctx, "GET", pathHistoryPos, query, nil)
	if err != nil {
		return nil, err
	}

	var raw struct {
		List []struct {
			Symbol string `json:"symbol"`
			Pnl    string `json:"pnl"`
			CTime  string `json:"cTime"`
			UTime  string `json:"uTime"`
		} `json:"list"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode history positions: %w", err)
	}

	out := make([]HistoryPosition, 0, len(raw.List))
	for _, r := range raw.List {
		closedAt := r.UTime
		if closedAt == "" {
			closedAt = r.CTime
		}
		out = append(out, HistoryPosition{
			Symbol:      r.Symbol,
			RealizedPnL: parseDecimal(r.Pnl),
			ClosedAt:    closedAt,
		})
	}
	return out, nil
}
