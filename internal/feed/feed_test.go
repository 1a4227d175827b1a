package feed

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestLastReportsAbsentWhenNeverTicked(t *testing.T) {
	f := New(zerolog.Nop())
	price, fresh := f.Last("BTCUSDT")
	assert.True(t, price.IsZero())
	assert.False(t, fresh)
}

func TestLastReportsFreshWithinWindow(t *testing.T) {
	f := New(zerolog.Nop())
	f.prices["BTCUSDT"] = tick{price: decimal.RequireFromString("50000"), at: time.Now()}

	price, fresh := f.Last("BTCUSDT")
	assert.True(t, decimal.RequireFromString("50000").Equal(price))
	assert.True(t, fresh)
}

func TestLastReportsStaleAfterWindow(t *testing.T) {
	f := New(zerolog.Nop())
	f.prices["BTCUSDT"] = tick{price: decimal.RequireFromString("50000"), at: time.Now().Add(-11 * time.Second)}

	_, fresh := f.Last("BTCUSDT")
	assert.False(t, fresh)
}

func TestUnsubscribeClearsCachedPrice(t *testing.T) {
	f := New(zerolog.Nop())
	f.mu.Lock()
	f.wanted["BTCUSDT"] = true
	f.prices["BTCUSDT"] = tick{price: decimal.RequireFromString("50000"), at: time.Now()}
	f.mu.Unlock()

	f.Unsubscribe("BTCUSDT")

	_, fresh := f.Last("BTCUSDT")
	assert.False(t, fresh)
}

func TestHandleMessageIgnoresNonTickerChannel(t *testing.T) {
	f := New(zerolog.Nop())
	f.handleMessage([]byte(`{"arg":{"channel":"trade","instId":"BTCUSDT"},"data":[{"instId":"BTCUSDT","lastPr":"123"}]}`))
	_, fresh := f.Last("BTCUSDT")
	assert.False(t, fresh)
}

func TestHandleMessageUpdatesPriceOnTickerPush(t *testing.T) {
	f := New(zerolog.Nop())
	f.handleMessage([]byte(`{"arg":{"channel":"ticker","instId":"BTCUSDT"},"data":[{"instId":"BTCUSDT","lastPr":"50123.5"}]}`))
	price, fresh := f.Last("BTCUSDT")
	assert.True(t, fresh)
	assert.True(t, decimal.RequireFromString("50123.5").Equal(price))
}

func TestBackoffDelayGrowsAndCaps(t *testing.T) {
	d1 := backoffDelay(1)
	d5 := backoffDelay(5)
	assert.True(t, d1 >= baseBackoff)
	assert.True(t, d5 <= maxBackoff+time.Second)
}
