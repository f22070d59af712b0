package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	getPeakSQL = `SELECT
        symbol,
        peak_price,
        peak_observed_at,
        updated_at
    FROM peaks
    WHERE symbol = $1;`

	// The guard on peak_price makes the write a per-symbol compare-and-set:
	// an existing record is only ever raised, never lowered, and an absent
	// record is never created here (peaks are seeded administratively).
	setPeakSQL = `UPDATE peaks
    SET peak_price = $2,
        peak_observed_at = $3,
        updated_at = $3
    WHERE symbol = $1
      AND peak_price < $2;`

	listPeaksSQL = `SELECT
        symbol,
        peak_price,
        peak_observed_at,
        updated_at
    FROM peaks
    ORDER BY symbol;`

	insertAlertSQL = `INSERT INTO drawdown_alerts (
        alert_id,
        symbol,
        asset_name,
        drawdown_pct,
        threshold_pct,
        price_at_alert,
        peak_at_alert,
        raised_at,
        notification_sent
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    )
    ON CONFLICT (alert_id) DO UPDATE
    SET drawdown_pct      = EXCLUDED.drawdown_pct,
        threshold_pct     = EXCLUDED.threshold_pct,
        price_at_alert    = EXCLUDED.price_at_alert,
        peak_at_alert     = EXCLUDED.peak_at_alert,
        raised_at         = EXCLUDED.raised_at,
        notification_sent = EXCLUDED.notification_sent;`

	listRecentAlertsSQL = `SELECT
        alert_id,
        symbol,
        asset_name,
        drawdown_pct,
        threshold_pct,
        price_at_alert,
        peak_at_alert,
        raised_at,
        notification_sent,
        created_at
    FROM drawdown_alerts
    ORDER BY raised_at DESC
    LIMIT $1;`

	latestAlertForSymbolSQL = `SELECT
        alert_id,
        symbol,
        asset_name,
        drawdown_pct,
        threshold_pct,
        price_at_alert,
        peak_at_alert,
        raised_at,
        notification_sent,
        created_at
    FROM drawdown_alerts
    WHERE symbol = $1
    ORDER BY raised_at DESC
    LIMIT 1;`

	insertExecutionSQL = `INSERT INTO execution_logs (
        started_at,
        duration_seconds,
        assets_checked,
        peaks_updated,
        alerts_sent,
        assets_failed,
        assets_skipped,
        status
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    RETURNING id;`

	listRecentExecutionsSQL = `SELECT
        id,
        started_at,
        duration_seconds,
        assets_checked,
        peaks_updated,
        alerts_sent,
        assets_failed,
        assets_skipped,
        status,
        created_at
    FROM execution_logs
    ORDER BY started_at DESC
    LIMIT $1;`

	listActiveTokensSQL = `SELECT token
    FROM device_tokens
    WHERE active = TRUE
    ORDER BY created_at;`

	listDeviceTokensSQL = `SELECT
        token,
        platform,
        active,
        created_at
    FROM device_tokens
    ORDER BY created_at;`

	insertObservationSQL = `INSERT INTO observations (
        symbol,
        price,
        peak,
        drawdown_pct,
        observed_at
    ) VALUES (
        $1,$2,$3,$4,$5
    );`

	listObservationsBetweenSQL = `SELECT
        id,
        symbol,
        price,
        peak,
        drawdown_pct,
        observed_at
    FROM observations
    WHERE symbol = $1
      AND observed_at >= $2
      AND observed_at < $3
    ORDER BY observed_at;`

	deleteObservationsBeforeSQL = `DELETE FROM observations WHERE observed_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// PeakStore defines read/write access to per-symbol peak records.
type PeakStore interface {
	GetPeak(ctx context.Context, symbol string) (PeakRecord, bool, error)
	SetPeak(ctx context.Context, symbol string, price decimal.Decimal, observedAt time.Time) error
}

// AlertStore defines operations for the append-only alert log.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) error
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
	LatestAlertForSymbol(ctx context.Context, symbol string) (AlertRecord, bool, error)
}

// ExecutionStore defines operations for per-pass execution records.
type ExecutionStore interface {
	InsertExecution(ctx context.Context, record ExecutionRecord) (int64, error)
	ListRecentExecutions(ctx context.Context, limit int) ([]ExecutionRecord, error)
}

// DeviceTokenStore exposes push recipients. Tokens are managed externally.
type DeviceTokenStore interface {
	ListActiveTokens(ctx context.Context) ([]string, error)
	ListDeviceTokens(ctx context.Context) ([]DeviceToken, error)
}

// ObservationStore records the derived per-pass audit trail.
type ObservationStore interface {
	InsertObservation(ctx context.Context, obs Observation) error
	ListObservationsBetween(ctx context.Context, symbol string, from, to time.Time) ([]Observation, error)
	DeleteObservationsBefore(ctx context.Context, olderThan time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to peaks, alerts, executions, tokens, and observations.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// Unlock is best effort; the lock dies with the session anyway.
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// GetPeak loads the peak record for one symbol. The second return value
// is false when no record has been seeded for the symbol.
func (s *Store) GetPeak(ctx context.Context, symbol string) (PeakRecord, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return PeakRecord{}, false, err
	}

	var rec PeakRecord
	var peakStr string
	row := pool.QueryRow(ctx, getPeakSQL, symbol)
	if scanErr := row.Scan(&rec.Symbol, &peakStr, &rec.PeakObservedAt, &rec.UpdatedAt); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return PeakRecord{}, false, nil
		}
		return PeakRecord{}, false, fmt.Errorf("get peak: %w", scanErr)
	}

	rec.PeakPrice, err = decimal.NewFromString(peakStr)
	if err != nil {
		return PeakRecord{}, false, fmt.Errorf("parse peak price: %w", err)
	}
	return rec, true, nil
}

// SetPeak raises the stored peak for a symbol. Returns pgx.ErrNoRows when
// the record is absent or the stored peak is already at or above price.
func (s *Store) SetPeak(ctx context.Context, symbol string, price decimal.Decimal, observedAt time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	cmdTag, execErr := pool.Exec(ctx, setPeakSQL, symbol, price.String(), observedAt)
	if execErr != nil {
		return fmt.Errorf("set peak: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ListPeaks lists all seeded peak records ordered by symbol.
func (s *Store) ListPeaks(ctx context.Context) ([]PeakRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listPeaksSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list peaks: %w", queryErr)
	}
	defer rows.Close()

	peaks := make([]PeakRecord, 0)
	for rows.Next() {
		var rec PeakRecord
		var peakStr string
		if err := rows.Scan(&rec.Symbol, &peakStr, &rec.PeakObservedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.PeakPrice, err = decimal.NewFromString(peakStr)
		if err != nil {
			return nil, fmt.Errorf("parse peak price: %w", err)
		}
		peaks = append(peaks, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return peaks, nil
}

// InsertAlert persists an alert emission. Same-second re-emissions for a
// symbol share an alert_id and resolve last-write-wins.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, insertAlertSQL,
		alert.AlertID,
		alert.Symbol,
		alert.AssetName,
		alert.DrawdownPct.String(),
		alert.ThresholdPct.String(),
		alert.PriceAtAlert.String(),
		alert.PeakAtAlert.String(),
		alert.RaisedAt,
		alert.NotificationSent,
	)
	if execErr != nil {
		return fmt.Errorf("insert alert: %w", execErr)
	}
	return nil
}

// ListRecentAlerts lists most recent alerts.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		rec, scanErr := scanAlert(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// LatestAlertForSymbol returns the most recent alert for one symbol.
func (s *Store) LatestAlertForSymbol(ctx context.Context, symbol string) (AlertRecord, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, false, err
	}

	rows, queryErr := pool.Query(ctx, latestAlertForSymbolSQL, symbol)
	if queryErr != nil {
		return AlertRecord{}, false, fmt.Errorf("latest alert for symbol: %w", queryErr)
	}
	defer rows.Close()

	if !rows.Next() {
		return AlertRecord{}, false, rows.Err()
	}
	rec, scanErr := scanAlert(rows)
	if scanErr != nil {
		return AlertRecord{}, false, scanErr
	}
	return rec, true, rows.Err()
}

// InsertExecution persists a pass summary and returns its id.
func (s *Store) InsertExecution(ctx context.Context, record ExecutionRecord) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	var id int64
	row := pool.QueryRow(ctx, insertExecutionSQL,
		record.StartedAt,
		record.DurationSeconds,
		record.AssetsChecked,
		record.PeaksUpdated,
		record.AlertsSent,
		record.AssetsFailed,
		record.AssetsSkipped,
		record.Status,
	)
	if scanErr := row.Scan(&id); scanErr != nil {
		return 0, fmt.Errorf("insert execution: %w", scanErr)
	}
	return id, nil
}

// ListRecentExecutions lists the most recent pass summaries.
func (s *Store) ListRecentExecutions(ctx context.Context, limit int) ([]ExecutionRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentExecutionsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent executions: %w", queryErr)
	}
	defer rows.Close()

	records := make([]ExecutionRecord, 0, limit)
	for rows.Next() {
		var rec ExecutionRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.StartedAt,
			&rec.DurationSeconds,
			&rec.AssetsChecked,
			&rec.PeaksUpdated,
			&rec.AlertsSent,
			&rec.AssetsFailed,
			&rec.AssetsSkipped,
			&rec.Status,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// ListActiveTokens returns the tokens of currently active devices.
func (s *Store) ListActiveTokens(ctx context.Context) ([]string, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listActiveTokensSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list active tokens: %w", queryErr)
	}
	defer rows.Close()

	tokens := make([]string, 0)
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return tokens, nil
}

// ListDeviceTokens returns all registered devices, active or not.
func (s *Store) ListDeviceTokens(ctx context.Context) ([]DeviceToken, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listDeviceTokensSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list device tokens: %w", queryErr)
	}
	defer rows.Close()

	tokens := make([]DeviceToken, 0)
	for rows.Next() {
		var rec DeviceToken
		if err := rows.Scan(&rec.Token, &rec.Platform, &rec.Active, &rec.CreatedAt); err != nil {
			return nil, err
		}
		tokens = append(tokens, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return tokens, nil
}

// InsertObservation appends one derived audit row.
func (s *Store) InsertObservation(ctx context.Context, obs Observation) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, insertObservationSQL,
		obs.Symbol,
		obs.Price.String(),
		obs.Peak.String(),
		obs.DrawdownPct.String(),
		obs.ObservedAt,
	)
	if execErr != nil {
		return fmt.Errorf("insert observation: %w", execErr)
	}
	return nil
}

// ListObservationsBetween lists one symbol's observations within a time window.
func (s *Store) ListObservationsBetween(ctx context.Context, symbol string, from, to time.Time) ([]Observation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listObservationsBetweenSQL, symbol, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list observations between: %w", queryErr)
	}
	defer rows.Close()

	observations := make([]Observation, 0)
	for rows.Next() {
		var obs Observation
		var priceStr, peakStr, drawdownStr string
		if err := rows.Scan(&obs.ID, &obs.Symbol, &priceStr, &peakStr, &drawdownStr, &obs.ObservedAt); err != nil {
			return nil, err
		}
		var convErr error
		obs.Price, convErr = decimal.NewFromString(priceStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse observation price: %w", convErr)
		}
		obs.Peak, convErr = decimal.NewFromString(peakStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse observation peak: %w", convErr)
		}
		obs.DrawdownPct, convErr = decimal.NewFromString(drawdownStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse observation drawdown: %w", convErr)
		}
		observations = append(observations, obs)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return observations, nil
}

// DeleteObservationsBefore prunes historical observations.
func (s *Store) DeleteObservationsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteObservationsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete observations before: %w", execErr)
	}
	return nil
}

func scanAlert(rows pgx.Rows) (AlertRecord, error) {
	var rec AlertRecord
	var drawdownStr, thresholdStr, priceStr, peakStr string

	if err := rows.Scan(
		&rec.AlertID,
		&rec.Symbol,
		&rec.AssetName,
		&drawdownStr,
		&thresholdStr,
		&priceStr,
		&peakStr,
		&rec.RaisedAt,
		&rec.NotificationSent,
		&rec.CreatedAt,
	); err != nil {
		return AlertRecord{}, err
	}

	var convErr error
	rec.DrawdownPct, convErr = decimal.NewFromString(drawdownStr)
	if convErr != nil {
		return AlertRecord{}, fmt.Errorf("parse drawdown pct: %w", convErr)
	}
	rec.ThresholdPct, convErr = decimal.NewFromString(thresholdStr)
	if convErr != nil {
		return AlertRecord{}, fmt.Errorf("parse threshold pct: %w", convErr)
	}
	rec.PriceAtAlert, convErr = decimal.NewFromString(priceStr)
	if convErr != nil {
		return AlertRecord{}, fmt.Errorf("parse price at alert: %w", convErr)
	}
	rec.PeakAtAlert, convErr = decimal.NewFromString(peakStr)
	if convErr != nil {
		return AlertRecord{}, fmt.Errorf("parse peak at alert: %w", convErr)
	}
	return rec, nil
}
