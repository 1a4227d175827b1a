// Package audit implements the audit log (spec C12): a durable,
// read-after-write trail of retired positions and risk-gate state
// transitions, backed by gorm over Postgres or embedded SQLite, following
// the teacher's enable/disable persistence pattern (storage.Database).
//
// The audit log is purely additive. Nothing on the admission path reads
// from it; it exists for after-the-fact operator inspection, distinct from
// the Journal's crash-recovery role.
package audit

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Record is one row per retired position (spec §4.12).
type Record struct {
	ID         uint `gorm:"primaryKey"`
	Symbol     string
	Side       string
	EntryPrice decimal.Decimal `gorm:"type:numeric(24,8)"`
	ExitPrice  decimal.Decimal `gorm:"type:numeric(24,8)"`
	Size       decimal.Decimal `gorm:"type:numeric(24,8)"`
	PnLPercent decimal.Decimal `gorm:"type:numeric(24,8)"`
	Reason     string
	ClosedAt   time.Time `gorm:"index"`
}

func (Record) TableName() string { return "audit_records" }

// Snapshot is one row per risk-state transition that is recorded. Risk
// Gates write one row per circuit-breaker trip (Kind "breaker_tripped");
// breaker expiry and daily-loss resets are not recorded.
type Snapshot struct {
	ID        uint `gorm:"primaryKey"`
	Kind      string // free-form; Risk Gates write "breaker_tripped"
	Reason    string
	DailyPnL  decimal.Decimal `gorm:"type:numeric(24,8)"`
	CreatedAt time.Time       `gorm:"index"`
}

func (Snapshot) TableName() string { return "risk_snapshots" }

// Log is the audit log handle. A nil *gorm.DB means the log is disabled
// (no DATABASE_URL and no sqlitePath reachable); every method is then a
// no-op, mirroring storage.Database.enabled in the teacher.
type Log struct {
	db *gorm.DB
}

// Open constructs a Log. If databaseURL is non-empty it connects to
// Postgres; otherwise it opens the embedded SQLite file at sqlitePath. A
// connection failure degrades to a disabled, logging no-op rather than
// aborting startup — the audit trail is never load-bearing for trading.
func Open(databaseURL, sqlitePath string) *Log {
	cfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}

	var db *gorm.DB
	var err error
	switch {
	case databaseURL != "":
		db, err = gorm.Open(postgres.Open(databaseURL), cfg)
	case sqlitePath != "":
		db, err = gorm.Open(sqlite.Open(sqlitePath), cfg)
	default:
		log.Warn().Msg("audit log disabled: no DATABASE_URL or sqlite path configured")
		return &Log{}
	}
	if err != nil {
		log.Warn().Err(err).Msg("audit log disabled: could not open database")
		return &Log{}
	}

	if err := db.AutoMigrate(&Record{}, &Snapshot{}); err != nil {
		log.Warn().Err(err).Msg("audit log disabled: migration failed")
		return &Log{}
	}

	log.Info().Msg("audit log connected")
	return &Log{db: db}
}

// IsEnabled reports whether the log is backed by a live database.
func (l *Log) IsEnabled() bool { return l.db != nil }

// RecordClosure persists one retired-position row (written by the Position
// Monitor, C7). Its signature matches monitor.AuditSink so *Log can be
// wired in directly.
func (l *Log) RecordClosure(symbol, side string, entry, exit, size, pnlPercent decimal.Decimal, reason string) error {
	if l.db == nil {
		return nil
	}
	rec := Record{
		Symbol: symbol, Side: side,
		EntryPrice: entry, ExitPrice: exit, Size: size, PnLPercent: pnlPercent,
		Reason: reason, ClosedAt: time.Now(),
	}
	if err := l.db.Create(&rec).Error; err != nil {
		log.Error().Err(err).Str("symbol", rec.Symbol).Msg("failed to persist audit record")
		return err
	}
	return nil
}

// RecordSnapshot persists one risk-state-transition row (written by Risk
// Gates, C3, when the circuit breaker trips). Its signature
// matches risk.AuditSink so *Log can be wired in directly.
func (l *Log) RecordSnapshot(kind, reason string, dailyPnL decimal.Decimal) error {
	if l.db == nil {
		return nil
	}
	snap := Snapshot{Kind: kind, Reason: reason, DailyPnL: dailyPnL, CreatedAt: time.Now()}
	if err := l.db.Create(&snap).Error; err != nil {
		log.Error().Err(err).Str("kind", snap.Kind).Msg("failed to persist risk snapshot")
		return err
	}
	return nil
}

// GetHistory returns the most recent limit audit records, newest first.
func (l *Log) GetHistory(limit int) ([]Record, error) {
	if l.db == nil {
		return nil, nil
	}
	var records []Record
	err := l.db.Order("closed_at DESC").Limit(limit).Find(&records).Error
	return records, err
}

// GetSnapshots returns the most recent limit risk snapshots, newest first.
func (l *Log) GetSnapshots(limit int) ([]Snapshot, error) {
	if l.db == nil {
		return nil, nil
	}
	var snaps []Snapshot
	err := l.db.Order("created_at DESC").Limit(limit).Find(&snaps).Error
	return snaps, err
}

// Close releases the underlying connection, if any.
func (l *Log) Close() {
	if l.db == nil {
		return
	}
	if sqlDB, err := l.db.DB(); err == nil {
		sqlDB.Close()
	}
}
