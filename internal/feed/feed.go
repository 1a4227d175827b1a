// Package feed implements the ticker feed (spec C11): a background
// gorilla/websocket subscriber against Bitget's public ticker channel,
// maintaining a low-latency last-price cache for every symbol with an open
// position. It is a pure latency optimization over C1's REST GetTicker and
// never itself places or mutates venue state.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	publicWSURL = "wss://ws.bitget.com/v2/ws/public"

	// staleAfter is the freshness horizon a cached tick must satisfy
	// before Last reports fresh=true (spec §4.11/§8).
	staleAfter = 10 * time.Second

	dialTimeout   = 10 * time.Second
	writeWait     = 5 * time.Second
	pingPeriod    = 20 * time.Second
	baseBackoff   = 1 * time.Second
	maxBackoff    = 30 * time.Second
)

type tick struct {
	price decimal.Decimal
	at    time.Time
}

// Feed subscribes to live last prices for a dynamic set of symbols.
type Feed struct {
	log zerolog.Logger

	mu      sync.Mutex
	prices  map[string]tick
	wanted  map[string]bool

	connMu sync.Mutex
	conn   *websocket.Conn

	stop   chan struct{}
	closed sync.Once
}

// New constructs a Feed. Call Run in its own goroutine to start streaming.
func New(log zerolog.Logger) *Feed {
	return &Feed{
		log:    log.With().Str("component", "ticker_feed").Logger(),
		prices: make(map[string]tick),
		wanted: make(map[string]bool),
		stop:   make(chan struct{}),
	}
}

// Subscribe adds symbol to the desired subscription set. Safe to call
// repeatedly as positions open.
func (f *Feed) Subscribe(symbol string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.wanted[symbol] {
		return
	}
	f.wanted[symbol] = true
	f.resubscribeLocked(symbol)
}

// Unsubscribe drops symbol from the desired set as its position closes.
func (f *Feed) Unsubscribe(symbol string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.wanted, symbol)
	delete(f.prices, symbol)
}

// Last returns the cached price for symbol and whether it is fresh (spec
// C11 staleness: fresh=false once 10s have elapsed since the last tick,
// regardless of connection state).
func (f *Feed) Last(symbol string) (price decimal.Decimal, fresh bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.prices[symbol]
	if !ok {
		return decimal.Zero, false
	}
	return t.price, time.Since(t.at) < staleAfter
}

// Run drives the reconnect loop until ctx is cancelled or Close is called.
func (f *Feed) Run(ctx context.Context) {
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-f.stop:
			return
		default:
		}

		if err := f.connectAndRead(ctx); err != nil {
			f.log.Warn().Err(err).Msg("ticker feed disconnected, reconnecting")
		}
		attempt++
		delay := backoffDelay(attempt)
		select {
		case <-ctx.Done():
			return
		case <-f.stop:
			return
		case <-time.After(delay):
		}
	}
}

// Close stops the reconnect loop and tears down any open connection.
func (f *Feed) Close() {
	f.closed.Do(func() { close(f.stop) })
	f.connMu.Lock()
	if f.conn != nil {
		f.conn.Close()
	}
	f.connMu.Unlock()
}

func backoffDelay(attempt int) time.Duration {
	d := baseBackoff * time.Duration(1<<uint(attempt-1))
	if d > maxBackoff {
		d = maxBackoff
	}
	return d + time.Duration(rand.Int63n(int64(time.Second)))
}

func (f *Feed) connectAndRead(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.DialContext(ctx, publicWSURL, nil)
	if err != nil {
		return fmt.Errorf("feed: dial: %w", err)
	}
	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()
	defer func() {
		f.connMu.Lock()
		f.conn = nil
		f.connMu.Unlock()
		conn.Close()
	}()

	f.mu.Lock()
	symbols := make([]string, 0, len(f.wanted))
	for s := range f.wanted {
		symbols = append(symbols, s)
	}
	f.mu.Unlock()
	for _, s := range symbols {
		if err := f.sendSubscribe(conn, s); err != nil {
			return err
		}
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	readErrCh := make(chan error, 1)
	msgCh := make(chan []byte, 16)
	go func() {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				readErrCh <- err
				return
			}
			msgCh <- msg
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-f.stop:
			return nil
		case err := <-readErrCh:
			return err
		case msg := <-msgCh:
			f.handleMessage(msg)
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
				return err
			}
		}
	}
}

func (f *Feed) resubscribeLocked(symbol string) {
	f.connMu.Lock()
	conn := f.conn
	f.connMu.Unlock()
	if conn == nil {
		return
	}
	_ = f.sendSubscribe(conn, symbol)
}

type subscribeArg struct {
	InstType string `json:"instType"`
	Channel  string `json:"channel"`
	InstID   string `json:"instId"`
}

type subscribeRequest struct {
	Op   string         `json:"op"`
	Args []subscribeArg `json:"args"`
}

func (f *Feed) sendSubscribe(conn *websocket.Conn, symbol string) error {
	req := subscribeRequest{
		Op: "subscribe",
		Args: []subscribeArg{{
			InstType: "USDT-FUTURES",
			Channel:  "ticker",
			InstID:   symbol,
		}},
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, payload)
}

type tickerPush struct {
	Arg struct {
		Channel string `json:"channel"`
		InstID  string `json:"instId"`
	} `json:"arg"`
	Data []struct {
		InstID     string `json:"instId"`
		LastPr     string `json:"lastPr"`
	} `json:"data"`
}

func (f *Feed) handleMessage(raw []byte) {
	if string(raw) == "pong" {
		return
	}
	var push tickerPush
	if err := json.Unmarshal(raw, &push); err != nil {
		return
	}
	if push.Arg.Channel != "ticker" || len(push.Data) == 0 {
		return
	}
	for _, d := range push.Data {
		price, err := decimal.NewFromString(d.LastPr)
		if err != nil || d.InstID == "" {
			continue
		}
		f.mu.Lock()
		f.prices[d.InstID] = tick{price: price, at: time.Now()}
		f.mu.Unlock()
	}
}
