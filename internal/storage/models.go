package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// PeakRecord is the persisted all-time high for one watched symbol.
// PeakPrice never decreases once seeded; only the monitoring engine
// raises it, and only through the guarded update in SetPeak.
type PeakRecord struct {
	Symbol         string
	PeakPrice      decimal.Decimal
	PeakObservedAt time.Time
	UpdatedAt      time.Time
}

// AlertRecord captures an emitted drawdown alert for auditing.
type AlertRecord struct {
	AlertID          string
	Symbol           string
	AssetName        string
	DrawdownPct      decimal.Decimal
	ThresholdPct     decimal.Decimal
	PriceAtAlert     decimal.Decimal
	PeakAtAlert      decimal.Decimal
	RaisedAt         time.Time
	NotificationSent bool
	CreatedAt        time.Time
}

// ExecutionRecord summarises one monitoring pass.
type ExecutionRecord struct {
	ID              int64
	StartedAt       time.Time
	DurationSeconds float64
	AssetsChecked   int
	PeaksUpdated    int
	AlertsSent      int
	AssetsFailed    int
	AssetsSkipped   int
	Status          string
	CreatedAt       time.Time
}

// DeviceToken is a registered push recipient. Tokens are written by the
// mobile app; this service only reads active ones.
type DeviceToken struct {
	Token     string
	Platform  string
	Active    bool
	CreatedAt time.Time
}

// Observation is a derived per-pass audit row. The engine never reads
// these back; they feed the status and export diagnostics.
type Observation struct {
	ID          int64
	Symbol      string
	Price       decimal.Decimal
	Peak        decimal.Decimal
	DrawdownPct decimal.Decimal
	ObservedAt  time.Time
}
