package trademanager

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/fxengine/internal/monitor"
	"github.com/web3guy0/fxengine/internal/notifier"
	"github.com/web3guy0/fxengine/internal/position"
	"github.com/web3guy0/fxengine/internal/venue"
)

type fakeVenueClient struct {
	mu       sync.Mutex
	orderSeq int
	spec     venue.InstrumentSpec
}

func (f *fakeVenueClient) GetInstrument(ctx context.Context, symbol string) (venue.InstrumentSpec, error) {
	return f.spec, nil
}
func (f *fakeVenueClient) PlaceMarketOrder(ctx context.Context, symbol, side string, size decimal.Decimal, reduceOnly bool, clientOID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orderSeq++
	return "order-main", nil
}
func (f *fakeVenueClient) PlaceTPSL(ctx context.Context, symbol string, plan venue.PlanType, triggerPrice decimal.Decimal, executeMarket bool, executePrice decimal.Decimal, holdSide string, size decimal.Decimal, triggerSource venue.TriggerSource) (string, error) {
	return "order-" + string(plan), nil
}
func (f *fakeVenueClient) ModifyTPSL(ctx context.Context, orderID, symbol string, newTrigger decimal.Decimal, newExecute, newSize *decimal.Decimal) (string, error) {
	return orderID, nil
}
func (f *fakeVenueClient) CancelTPSL(ctx context.Context, orderID, symbol string, plan venue.PlanType) error {
	return nil
}
func (f *fakeVenueClient) GetPositions(ctx context.Context, symbol string) ([]venue.PositionSnapshot, error) {
	return nil, nil
}

type fakeBalance struct{ equity decimal.Decimal }

func (f fakeBalance) Get(ctx context.Context) (decimal.Decimal, bool) { return f.equity, true }

type allowGates struct{}

func (allowGates) Evaluate(ctx context.Context, symbol string, signalPrice decimal.Decimal, positions map[string]*position.Record) error {
	return nil
}

type noopJournal struct{}

func (noopJournal) Save(records map[string]*position.Record) error { return nil }

type fakeSupervisor struct {
	mu      sync.Mutex
	spawned []string
}

func (f *fakeSupervisor) Spawn(cb monitor.Callback, symbol string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spawned = append(f.spawned, symbol)
}
func (f *fakeSupervisor) Cancel(symbol string) {}
func (f *fakeSupervisor) CancelAll()           {}

type noopNotifier struct{}

func (noopNotifier) Emit(notifier.Event) {}

func newManager() (*Manager, *fakeVenueClient) {
	spec := venue.InstrumentSpec{
		PriceDecimals: 2, SizeDecimals: 3,
		MinSize: decimal.RequireFromString("0.001"), MaxSize: decimal.RequireFromString("100"),
		StepSize: decimal.RequireFromString("0.001"),
	}
	v := &fakeVenueClient{spec: spec}
	cfg := Config{
		RiskFraction:     decimal.RequireFromString("0.01"),
		StopLossFraction: decimal.RequireFromString("0.02"),
	}
	m := New(v, fakeBalance{equity: decimal.RequireFromString("1000")}, allowGates{}, noopJournal{},
		&fakeSupervisor{}, noopNotifier{}, cfg, nil, zerolog.Nop())
	return m, v
}

func TestSubmitSignalHappyPath(t *testing.T) {
	m, _ := newManager()
	orderID, err := m.SubmitSignal(context.Background(), position.Signal{
		Symbol: "BTCUSDT", SignalType: "StrongBuy", Price: decimal.RequireFromString("50000"), Timestamp: "t0",
	})
	require.NoError(t, err)
	assert.Equal(t, "order-main", orderID)

	rec, ok := m.Position("BTCUSDT")
	require.True(t, ok)
	assert.True(t, decimal.RequireFromString("0.01").Equal(rec.Size))
	assert.True(t, decimal.RequireFromString("49000").Equal(rec.StopLossPrice))
	assert.True(t, decimal.RequireFromString("51500").Equal(rec.TakeProfitPrice))
}

func TestSubmitSignalDuplicateRejected(t *testing.T) {
	m, _ := newManager()
	ctx := context.Background()
	sig := position.Signal{Symbol: "BTCUSDT", SignalType: "Buy", Price: decimal.RequireFromString("50000"), Timestamp: "t0"}
	_, err := m.SubmitSignal(ctx, sig)
	require.NoError(t, err)

	_, err = m.SubmitSignal(ctx, sig)
	require.Error(t, err)
}

func TestRoundTripSubmitThenClose(t *testing.T) {
	m, _ := newManager()
	ctx := context.Background()
	_, err := m.SubmitSignal(ctx, position.Signal{Symbol: "ETHUSDT", SignalType: "Sell", Price: decimal.RequireFromString("3000"), Timestamp: "t0"})
	require.NoError(t, err)

	_, ok := m.Position("ETHUSDT")
	require.True(t, ok)

	_, err = m.ClosePosition(ctx, "ETHUSDT")
	require.NoError(t, err)

	_, ok = m.Position("ETHUSDT")
	assert.False(t, ok)
}

func TestClosePositionIdempotentOnAlreadyClosed(t *testing.T) {
	m, _ := newManager()
	result, err := m.ClosePosition(context.Background(), "NOPEUSDT")
	require.NoError(t, err)
	assert.Equal(t, "already closed", result)
}

func TestCommitTrailingStopRejectsRegression(t *testing.T) {
	m, _ := newManager()
	ctx := context.Background()
	_, err := m.SubmitSignal(ctx, position.Signal{Symbol: "BTCUSDT", SignalType: "Buy", Price: decimal.RequireFromString("50000"), Timestamp: "t0"})
	require.NoError(t, err)

	err = m.CommitTrailingStop(ctx, "BTCUSDT", decimal.RequireFromString("48000"))
	assert.Error(t, err, "a lower SL for a long must be rejected")
}

func TestUpdateBracketRejectsRegressingStopLossDirectly(t *testing.T) {
	m, _ := newManager()
	ctx := context.Background()
	_, err := m.SubmitSignal(ctx, position.Signal{Symbol: "BTCUSDT", SignalType: "Buy", Price: decimal.RequireFromString("50000"), Timestamp: "t0"})
	require.NoError(t, err)

	regressed := decimal.RequireFromString("48000")
	err = m.UpdateBracket(ctx, "BTCUSDT", &regressed, nil)
	assert.Error(t, err, "update_bracket itself must enforce I5, not just its CommitTrailingStop caller")
}
