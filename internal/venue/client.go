// Package venue implements the authenticated Bitget USDT-perpetual REST
// client: HMAC-SHA256 request signing, connection-error retry with
// exponential backoff and jitter, instrument-precision caching, and
// price/size rounding. Nothing else in the module performs network I/O.
package venue

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	baseURL     = "https://api.bitget.com"
	productType = "USDT-FUTURES"

	pathContracts    = "/api/v2/mix/market/contracts"
	pathTicker       = "/api/v2/mix/market/ticker"
	pathTickers      = "/api/v2/mix/market/tickers"
	pathCandles      = "/api/v2/mix/market/candles"
	pathAccounts     = "/api/v2/mix/account/accounts"
	pathPlaceOrder   = "/api/v2/mix/order/place-order"
	pathModifyOrder  = "/api/v2/mix/order/modify-order"
	pathPlaceTPSL    = "/api/v2/mix/order/place-tpsl-order"
	pathModifyTPSL   = "/api/v2/mix/order/modify-tpsl-order"
	pathCancelTPSL   = "/api/v2/mix/order/cancel-tpsl-order"
	pathPlanPending  = "/api/v2/mix/order/orders-plan-pending"
	pathAllPositions = "/api/v2/mix/position/all-position"
	pathHistoryPos   = "/api/v2/mix/position/history-position"

	successCode = "00000"

	maxAttempts    = 3
	baseDelay      = 1 * time.Second
	requestTimeout = 30 * time.Second
)

// Client is the authenticated Bitget venue client. Safe for concurrent use.
type Client struct {
	apiKey     string
	secretKey  string
	passphrase string

	httpClient *http.Client
	log        zerolog.Logger

	// sleeper is overridden in tests to avoid real delays.
	sleeper func(time.Duration)
	// randJitter is overridden in tests for determinism.
	randJitter func() float64

	instrumentsMu sync.RWMutex
	instruments   map[string]InstrumentSpec
}

// NewClient constructs a Client. Credentials are read once by the caller
// (config loading) and never re-read in hot paths.
func NewClient(apiKey, secretKey, passphrase string, log zerolog.Logger) *Client {
	return &Client{
		apiKey:     apiKey,
		secretKey:  secretKey,
		passphrase: passphrase,
		httpClient: &http.Client{Timeout: requestTimeout},
		log:        log.With().Str("component", "venue").Logger(),
		sleeper:    time.Sleep,
		randJitter: rand.Float64,
		instruments: make(map[string]InstrumentSpec),
	}
}

// Sign computes base64(HMAC_SHA256(secret, timestamp||method||path||body)).
// Exported so signature-determinism can be tested directly against fixed
// inputs without performing a network round trip.
func Sign(secret, timestamp, method, path, body string) string {
	preHash := timestamp + method + path + body
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(preHash))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// buildQuery renders params as a deterministic, sorted, URL-encoded query
// string with no leading "?". Returns "" for an empty/nil map — the spec
// requires the empty case to be omitted entirely, not a trailing "?".
func buildQuery(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(params[k]))
	}
	return strings.Join(parts, "&")
}

type bitgetResponse struct {
	Code        string          `json:"code"`
	Msg         string          `json:"msg"`
	Data        json.RawMessage `json:"data"`
	RequestTime int64           `json:"requestTime"`
}

// doRequest executes one signed request with the retry policy of spec §4.1:
// only connection errors and timeouts are retried, up to maxAttempts, with
// delay base_delay*2^(k-1)+U(0,1)s before retry k; HTTP 429/500/502/503/504
// get one additional attempt folded into the same loop without inflating
// the connection-retry budget. Application errors (non-"00000") are never
// retried.
func (c *Client) doRequest(ctx context.Context, method, path string, query map[string]string, payload interface{}) (json.RawMessage, error) {
	var bodyBytes []byte
	if payload != nil {
		var err error
		bodyBytes, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
	}

	qs := buildQuery(query)
	signPath := path
	if qs != "" {
		signPath = path + "?" + qs
	}

	var lastErr error
	httpRetryUsed := false
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
		body := ""
		if len(bodyBytes) > 0 {
			body = string(bodyBytes)
		}
		signature := Sign(c.secretKey, timestamp, method, signPath, body)

		reqURL := baseURL + signPath
		var reader io.Reader
		if len(bodyBytes) > 0 {
			reader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("ACCESS-KEY", c.apiKey)
		req.Header.Set("ACCESS-SIGN", signature)
		req.Header.Set("ACCESS-TIMESTAMP", timestamp)
		req.Header.Set("ACCESS-PASSPHRASE", c.passphrase)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("locale", "en-US")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if !isTransient(err) {
				return nil, &TransportError{Kind: "connection", Message: err.Error()}
			}
			c.sleepBeforeRetry(ctx, attempt)
			continue
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			c.sleepBeforeRetry(ctx, attempt)
			continue
		}

		if isRetryableStatus(resp.StatusCode) && !httpRetryUsed {
			httpRetryUsed = true
			lastErr = &TransportError{Kind: "http_status", Message: fmt.Sprintf("status %d", resp.StatusCode)}
			c.sleeper(baseDelay)
			continue
		}

		var parsed bitgetResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return nil, fmt.Errorf("decode response: %w (body=%s)", err, string(respBody))
		}
		if parsed.Code != successCode {
			return nil, &BusinessError{Code: parsed.Code, Message: parsed.Msg}
		}
		return parsed.Data, nil
	}

	var te *TransportError
	if errors.As(lastErr, &te) {
		return nil, te
	}
	return nil, &TransportError{Kind: "exhausted", Message: lastErr.Error()}
}

func (c *Client) sleepBeforeRetry(ctx context.Context, attempt int) {
	delay := baseDelay*time.Duration(1<<uint(attempt-1)) + time.Duration(c.randJitter()*float64(time.Second))
	select {
	case <-ctx.Done():
	default:
		c.sleeper(delay)
	}
}

// isTransient reports whether an http.Client.Do failure is a connection
// error or timeout (the only conditions §4.1 allows to be retried). Do
// only fails below the HTTP layer, so any error reaching here is already
// a dial/timeout/connection-reset condition.
func isTransient(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded)
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// RoundPrice applies half-to-even (banker's) rounding to price_decimals,
// the Open Question resolution documented in DESIGN.md.
func RoundPrice(price decimal.Decimal, spec InstrumentSpec) decimal.Decimal {
	return price.RoundBank(spec.PriceDecimals)
}

// QuantizeSize floors size to the nearest multiple of step_size, then
// rounds to size_decimals, and validates the result against [min, max]
// (I6 / InvalidSize).
func QuantizeSize(symbol string, size decimal.Decimal, spec InstrumentSpec) (decimal.Decimal, error) {
	step := spec.StepSize
	if step.IsZero() {
		step = decimal.NewFromInt(1)
	}
	steps := size.Div(step).Floor()
	quantized := steps.Mul(step).RoundBank(spec.SizeDecimals)

	if quantized.LessThan(spec.MinSize) {
		return decimal.Zero, &InvalidSize{Symbol: symbol, Size: quantized.String(), Reason: "below min_size"}
	}
	if !spec.MaxSize.IsZero() && quantized.GreaterThan(spec.MaxSize) {
		return decimal.Zero, &InvalidSize{Symbol: symbol, Size: quantized.String(), Reason: "above max_size"}
	}
	return quantized, nil
}
