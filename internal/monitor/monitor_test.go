package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/fxengine/internal/notifier"
	"github.com/web3guy0/fxengine/internal/position"
	"github.com/web3guy0/fxengine/internal/venue"
)

type fakeVenue struct {
	positions []venue.PositionSnapshot
	posErr    error
	history   []venue.HistoryPosition
	histErr   error
	ticker    venue.Ticker
	tickerErr error
}

func (f fakeVenue) GetPositions(ctx context.Context, symbol string) ([]venue.PositionSnapshot, error) {
	return f.positions, f.posErr
}
func (f fakeVenue) GetHistoryPositions(ctx context.Context, symbol string, limit int) ([]venue.HistoryPosition, error) {
	return f.history, f.histErr
}
func (f fakeVenue) GetTicker(ctx context.Context, symbol string) (venue.Ticker, error) {
	return f.ticker, f.tickerErr
}

type recordingNotifier struct{ events []notifier.Event }

func (r *recordingNotifier) Emit(e notifier.Event) { r.events = append(r.events, e) }

type fakeCallback struct {
	record    *position.Record
	present   bool
	retired   bool
	committed decimal.Decimal
}

func (f *fakeCallback) Position(symbol string) (*position.Record, bool) { return f.record, f.present }
func (f *fakeCallback) Retire(symbol string)                            { f.retired = true; f.present = false }
func (f *fakeCallback) CommitTrailingStop(ctx context.Context, symbol string, newSL decimal.Decimal) error {
	f.committed = newSL
	f.record.StopLossPrice = newSL
	return nil
}

func longRecord() *position.Record {
	return &position.Record{
		Symbol: "BTCUSDT", Side: position.Long,
		Size: decimal.RequireFromString("0.01"),
		EntryPrice: decimal.RequireFromString("50000"),
		StopLossPrice: decimal.RequireFromString("49000"),
		TakeProfitPrice: decimal.RequireFromString("51500"),
	}
}

func TestUpdateTrailingStopCommitsWhenFavorable(t *testing.T) {
	rec := longRecord()
	cb := &fakeCallback{record: rec, present: true}
	v := fakeVenue{ticker: venue.Ticker{Last: decimal.RequireFromString("51000")}}
	sup := NewSupervisor(v, &recordingNotifier{}, nil, Config{StopLossFraction: decimal.RequireFromString("0.02")}, zerolog.Nop())

	err := sup.updateTrailingStop(context.Background(), cb, "BTCUSDT", rec)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("50388").Equal(cb.committed), "got %s", cb.committed)
}

func TestUpdateTrailingStopNeverRegresses(t *testing.T) {
	rec := longRecord()
	rec.StopLossPrice = decimal.RequireFromString("50388")
	cb := &fakeCallback{record: rec, present: true}
	v := fakeVenue{ticker: venue.Ticker{Last: decimal.RequireFromString("50500")}}
	sup := NewSupervisor(v, &recordingNotifier{}, nil, Config{StopLossFraction: decimal.RequireFromString("0.02")}, zerolog.Nop())

	err := sup.updateTrailingStop(context.Background(), cb, "BTCUSDT", rec)
	require.NoError(t, err)
	assert.True(t, cb.committed.IsZero(), "must not commit a regressing SL")
}

func TestClassifyClosureFromHistoryTakeProfit(t *testing.T) {
	rec := longRecord()
	v := fakeVenue{history: []venue.HistoryPosition{{Symbol: "BTCUSDT", RealizedPnL: decimal.RequireFromString("12.34")}}}
	sup := NewSupervisor(v, &recordingNotifier{}, nil, Config{}, zerolog.Nop())

	reason, exitPrice, _, realizedPnL := sup.classifyClosure(context.Background(), "BTCUSDT", rec)
	assert.Equal(t, "take_profit", reason)
	assert.True(t, decimal.RequireFromString("51234").Equal(exitPrice), "got %s", exitPrice)
	assert.True(t, decimal.RequireFromString("12.34").Equal(realizedPnL), "got %s", realizedPnL)
}

func TestClassifyClosureFromHistoryStopLoss(t *testing.T) {
	rec := longRecord()
	v := fakeVenue{history: []venue.HistoryPosition{{Symbol: "BTCUSDT", RealizedPnL: decimal.RequireFromString("-8.0")}}}
	sup := NewSupervisor(v, &recordingNotifier{}, nil, Config{}, zerolog.Nop())

	reason, exitPrice, _, realizedPnL := sup.classifyClosure(context.Background(), "BTCUSDT", rec)
	assert.Equal(t, "stop_loss", reason)
	assert.True(t, decimal.RequireFromString("49200").Equal(exitPrice), "got %s", exitPrice)
	assert.True(t, decimal.RequireFromString("-8.0").Equal(realizedPnL), "got %s", realizedPnL)
}

func TestClassifyClosureFromHistoryExitPriceAboveEntryOnShortLoss(t *testing.T) {
	rec := longRecord()
	rec.Side = position.Short
	v := fakeVenue{history: []venue.HistoryPosition{{Symbol: "BTCUSDT", RealizedPnL: decimal.RequireFromString("-8.0")}}}
	sup := NewSupervisor(v, &recordingNotifier{}, nil, Config{}, zerolog.Nop())

	_, exitPrice, _, _ := sup.classifyClosure(context.Background(), "BTCUSDT", rec)
	assert.True(t, decimal.RequireFromString("50800").Equal(exitPrice), "got %s", exitPrice)
}

func TestPollRetiresOnZeroSize(t *testing.T) {
	rec := longRecord()
	cb := &fakeCallback{record: rec, present: true}
	v := fakeVenue{
		positions: nil,
		history:   []venue.HistoryPosition{{Symbol: "BTCUSDT", RealizedPnL: decimal.RequireFromString("5")}},
	}
	notif := &recordingNotifier{}
	sup := NewSupervisor(v, notif, nil, Config{StopLossFraction: decimal.RequireFromString("0.02")}, zerolog.Nop())

	closed, err := sup.poll(cb, "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, closed)
	assert.True(t, cb.retired)
	require.Len(t, notif.events, 1)
	assert.Equal(t, notifier.EventClosed, notif.events[0].Kind)
}

type fakeDailySink struct{ total decimal.Decimal }

func (f *fakeDailySink) UpdatePnL(delta decimal.Decimal) { f.total = f.total.Add(delta) }

func TestRetireFeedsRealizedPnLToDailyLossSink(t *testing.T) {
	rec := longRecord()
	cb := &fakeCallback{record: rec, present: true}
	v := fakeVenue{history: []venue.HistoryPosition{{Symbol: "BTCUSDT", RealizedPnL: decimal.RequireFromString("-8.0")}}}
	sup := NewSupervisor(v, &recordingNotifier{}, nil, Config{}, zerolog.Nop())
	sink := &fakeDailySink{}
	sup.SetDailyLossSink(sink)

	_, err := sup.retire(context.Background(), cb, "BTCUSDT", rec)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("-8.0").Equal(sink.total), "got %s", sink.total)
}

func TestSleepSlicesObservesCancellation(t *testing.T) {
	sup := NewSupervisor(fakeVenue{}, &recordingNotifier{}, nil, Config{}, zerolog.Nop())
	h := &handle{cancel: make(chan struct{})}
	close(h.cancel)
	cancelled := sup.sleepSlices(h, 30*time.Second, 5*time.Second)
	assert.True(t, cancelled)
}
