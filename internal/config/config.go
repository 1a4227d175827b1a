// Package config loads the validated [execution] parameter block once at
// startup (spec C9) plus the venue secrets and optional integrations this
// expansion wires in (Telegram, audit-log database, journal path). Nothing
// outside this package re-reads the environment in a hot path.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/pelletier/go-toml/v2"
	"github.com/shopspring/decimal"
)

// searchPaths is the ordered list of config file locations, per spec §6.
var searchPaths = []string{
	"./config/config.toml",
	"../config/config.toml",
	"../../config/config.toml",
}

// executionTOML mirrors the [execution] TOML table verbatim, keyed exactly
// as spec §4.9 names them.
type executionTOML struct {
	MaxConcurrentPositions     int     `toml:"max_concurrent_positions"`
	StopLossPercent            float64 `toml:"stop_loss_percent"`
	RiskPercentage             float64 `toml:"risk_percentage"`
	UseDynamicRisk             bool    `toml:"use_dynamic_risk"`
	MaxPortfolioRiskPercentage float64 `toml:"max_portfolio_risk_percentage"`
	MaxDailyLossPercentage     float64 `toml:"max_daily_loss_percentage"`
	MaxCircuitBreakerDuration  int     `toml:"max_circuit_breaker_duration"`
	PaperTrading               bool    `toml:"paper_trading"`
	MaxPriceDeviation          float64 `toml:"max_price_deviation"`
}

type fileTOML struct {
	Execution executionTOML `toml:"execution"`
}

// Config is the fully validated, process-lifetime configuration.
type Config struct {
	MaxConcurrentPositions   int
	StopLossFraction         decimal.Decimal
	RiskFraction             decimal.Decimal
	UseDynamicRisk           bool
	MaxPortfolioRiskFraction decimal.Decimal
	MaxDailyLossFraction     decimal.Decimal
	CircuitBreakerDuration   int // seconds
	PaperTrading             bool
	MaxPriceDeviation        decimal.Decimal

	// Venue secrets (spec §6), read once from the environment.
	BitgetAPIKey     string
	BitgetSecretKey  string
	BitgetPassphrase string

	// Notifier/audit wiring (SPEC_FULL §4.12/§4.13), all optional.
	TelegramBotToken string
	TelegramChatID   int64
	DatabaseURL      string
	AuditSQLitePath  string

	JournalPath string
}

// Load searches searchPaths for the first readable config.toml, decodes its
// [execution] table, applies spec §4.9's validations, and merges in
// environment secrets. godotenv.Load() is expected to have already been
// called by the caller (cmd/fxengine/main.go) before Load runs.
func Load() (*Config, error) {
	data, path, err := readFirstExisting(searchPaths)
	if err != nil {
		return nil, err
	}

	var parsed fileTOML
	if err := toml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	exec := parsed.Execution

	cfg := &Config{
		MaxConcurrentPositions:   exec.MaxConcurrentPositions,
		StopLossFraction:         decimal.NewFromFloat(exec.StopLossPercent),
		RiskFraction:             decimal.NewFromFloat(exec.RiskPercentage),
		UseDynamicRisk:           exec.UseDynamicRisk,
		MaxPortfolioRiskFraction: orDefaultFloat(exec.MaxPortfolioRiskPercentage, 0.05),
		MaxDailyLossFraction:     orDefaultFloat(exec.MaxDailyLossPercentage, 0.03),
		CircuitBreakerDuration:   orDefaultInt(exec.MaxCircuitBreakerDuration, 3600),
		PaperTrading:             exec.PaperTrading,
		MaxPriceDeviation:        decimal.NewFromFloat(exec.MaxPriceDeviation),

		BitgetAPIKey:     os.Getenv("BITGET_API_KEY"),
		BitgetSecretKey:  os.Getenv("BITGET_SECRET_KEY"),
		BitgetPassphrase: os.Getenv("BITGET_PASSPHRASE"),

		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		AuditSQLitePath:  getEnv("AUDIT_SQLITE_PATH", "data/audit.db"),

		JournalPath: getEnv("JOURNAL_PATH", "data/active_positions.json"),
	}

	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("config: invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	one := decimal.NewFromInt(1)
	zero := decimal.Zero

	if c.MaxConcurrentPositions <= 0 {
		return fmt.Errorf("config: max_concurrent_positions must be > 0")
	}
	if !(c.StopLossFraction.GreaterThan(zero) && c.StopLossFraction.LessThan(one)) {
		return fmt.Errorf("config: stop_loss_percent must satisfy 0 < x < 1")
	}
	if !(c.RiskFraction.GreaterThan(zero) && c.RiskFraction.LessThan(one)) {
		return fmt.Errorf("config: risk_percentage must satisfy 0 < x < 1")
	}
	if !(c.MaxPortfolioRiskFraction.GreaterThan(zero) && c.MaxPortfolioRiskFraction.LessThanOrEqual(one)) {
		return fmt.Errorf("config: max_portfolio_risk_percentage must satisfy 0 < x <= 1")
	}
	if !(c.MaxDailyLossFraction.GreaterThan(zero) && c.MaxDailyLossFraction.LessThanOrEqual(one)) {
		return fmt.Errorf("config: max_daily_loss_percentage must satisfy 0 < x <= 1")
	}
	if c.CircuitBreakerDuration <= 0 {
		return fmt.Errorf("config: max_circuit_breaker_duration must be > 0")
	}
	if !c.PaperTrading {
		if c.BitgetAPIKey == "" || c.BitgetSecretKey == "" || c.BitgetPassphrase == "" {
			return fmt.Errorf("config: BITGET_API_KEY/BITGET_SECRET_KEY/BITGET_PASSPHRASE are required outside paper trading")
		}
	}
	return nil
}

func readFirstExisting(paths []string) (data []byte, path string, err error) {
	var lastErr error
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err == nil {
			return data, p, nil
		}
		lastErr = err
	}
	return nil, "", fmt.Errorf("config: no config.toml found in %v: %w", paths, lastErr)
}

func orDefaultFloat(v float64, def float64) decimal.Decimal {
	if v == 0 {
		return decimal.NewFromFloat(def)
	}
	return decimal.NewFromFloat(v)
}

func orDefaultInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
