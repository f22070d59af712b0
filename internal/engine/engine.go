package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"drawdown-alerts/internal/notify"
	"drawdown-alerts/internal/quote"
	"drawdown-alerts/internal/storage"
)

// Asset is one static watchlist entry.
type Asset struct {
	Symbol string
	Name   string
	Class  quote.AssetClass
}

// Pass statuses, persisted verbatim on execution records.
const (
	StatusSuccess = "SUCCESS"
	StatusPartial = "PARTIAL"
	StatusFailed  = "FAILED"
)

// Outcome tags the result of evaluating one asset within a pass.
type Outcome int

const (
	// OutcomeChecked means the asset was fully evaluated.
	OutcomeChecked Outcome = iota
	// OutcomeSkipped means no peak record has been seeded for the asset.
	OutcomeSkipped
	// OutcomeFailed means the quote fetch or peak read failed.
	OutcomeFailed
)

// AssetResult carries the per-asset outcome of a pass.
type AssetResult struct {
	Asset       Asset
	Outcome     Outcome
	Price       decimal.Decimal
	Peak        decimal.Decimal
	Drawdown    decimal.Decimal
	PeakUpdated bool
	Alerted     bool
	Err         error
}

// Summary aggregates one monitoring pass.
type Summary struct {
	StartedAt     time.Time
	Duration      time.Duration
	AssetsChecked int
	PeaksUpdated  int
	AlertsSent    int
	AssetsFailed  int
	AssetsSkipped int
	Status        string
	Results       []AssetResult
}

// Options tune engine behaviour. ThresholdPct is the positive drawdown
// magnitude (15 means alert at -15%). Cooldown of zero re-fires an alert
// on every breached pass, matching the observed production behaviour.
type Options struct {
	ThresholdPct decimal.Decimal
	Cooldown     time.Duration
	Sound        string
}

// Engine runs drawdown monitoring passes over a watchlist. It holds no
// state between passes; everything durable lives in the stores.
type Engine struct {
	opts      Options
	quotes    quote.Fetcher
	peaks     storage.PeakStore
	alerts    storage.AlertStore
	execs     storage.ExecutionStore
	tokens    storage.DeviceTokenStore
	history   storage.ObservationStore
	notifier  notify.Dispatcher
	threshold decimal.Decimal
	logger    zerolog.Logger

	now func() time.Time
}

// New constructs the monitoring engine. alerts, execs, tokens, history,
// and notifier may each be nil; the corresponding step degrades to a
// logged no-op so one missing collaborator never stops a pass.
func New(opts Options, quotes quote.Fetcher, peaks storage.PeakStore, alerts storage.AlertStore, execs storage.ExecutionStore, tokens storage.DeviceTokenStore, history storage.ObservationStore, notifier notify.Dispatcher, logger zerolog.Logger) *Engine {
	return &Engine{
		opts:      opts,
		quotes:    quotes,
		peaks:     peaks,
		alerts:    alerts,
		execs:     execs,
		tokens:    tokens,
		history:   history,
		notifier:  notifier,
		threshold: opts.ThresholdPct.Abs().Neg(),
		logger:    logger.With().Str("component", "engine").Logger(),
		now:       time.Now,
	}
}

// RunPass executes one monitoring pass over the watchlist in order.
// Failures on one asset never abort processing of subsequent assets.
func (e *Engine) RunPass(ctx context.Context, watchlist []Asset) (Summary, error) {
	startedAt := e.now().UTC()
	summary := Summary{StartedAt: startedAt}

	if e.quotes == nil || e.peaks == nil {
		summary.Status = StatusFailed
		err := errors.New("engine: quote fetcher and peak store are required")
		e.recordExecution(ctx, &summary)
		return summary, err
	}
	if len(watchlist) == 0 {
		summary.Status = StatusFailed
		err := errors.New("engine: empty watchlist")
		e.recordExecution(ctx, &summary)
		return summary, err
	}

	for _, asset := range watchlist {
		result := e.evaluateAsset(ctx, asset)
		summary.Results = append(summary.Results, result)

		switch result.Outcome {
		case OutcomeChecked:
			summary.AssetsChecked++
		case OutcomeSkipped:
			summary.AssetsSkipped++
		case OutcomeFailed:
			summary.AssetsFailed++
		}
		if result.PeakUpdated {
			summary.PeaksUpdated++
		}
		if result.Alerted {
			summary.AlertsSent++
		}
	}

	summary.Duration = e.now().UTC().Sub(startedAt)
	if summary.AssetsFailed > 0 {
		summary.Status = StatusPartial
	} else {
		summary.Status = StatusSuccess
	}

	e.recordExecution(ctx, &summary)

	e.logger.Info().
		Int("assets_checked", summary.AssetsChecked).
		Int("peaks_updated", summary.PeaksUpdated).
		Int("alerts_sent", summary.AlertsSent).
		Int("assets_failed", summary.AssetsFailed).
		Int("assets_skipped", summary.AssetsSkipped).
		Str("status", summary.Status).
		Dur("duration", summary.Duration).
		Msg("monitoring pass completed")

	return summary, nil
}

func (e *Engine) evaluateAsset(ctx context.Context, asset Asset) AssetResult {
	result := AssetResult{Asset: asset}

	sample, err := e.quotes.FetchQuote(ctx, asset.Symbol, asset.Class)
	if err != nil {
		e.logger.Warn().Err(err).Str("symbol", asset.Symbol).Msg("quote fetch failed")
		result.Outcome = OutcomeFailed
		result.Err = fmt.Errorf("fetch quote for %s: %w", asset.Symbol, err)
		return result
	}

	peakRec, found, err := e.peaks.GetPeak(ctx, asset.Symbol)
	if err != nil {
		e.logger.Error().Err(err).Str("symbol", asset.Symbol).Msg("peak read failed")
		result.Outcome = OutcomeFailed
		result.Err = fmt.Errorf("load peak for %s: %w", asset.Symbol, err)
		return result
	}
	if !found {
		// Peak seeding is an explicit administrative action; an absent
		// record means this asset cannot be evaluated yet.
		e.logger.Debug().Str("symbol", asset.Symbol).Msg("no peak seeded; skipping asset")
		result.Outcome = OutcomeSkipped
		return result
	}

	now := e.now().UTC()

	// Drawdown is always measured against the most current known peak,
	// so the in-memory peak is raised even when the store write fails.
	effectivePeak := peakRec.PeakPrice
	if sample.Price.GreaterThan(effectivePeak) {
		if err := e.peaks.SetPeak(ctx, asset.Symbol, sample.Price, now); err != nil {
			e.logger.Error().Err(err).Str("symbol", asset.Symbol).Msg("peak update failed")
		} else {
			e.logger.Info().Str("symbol", asset.Symbol).
				Str("old_peak", effectivePeak.String()).
				Str("new_peak", sample.Price.String()).
				Msg("new high recorded")
			result.PeakUpdated = true
		}
		effectivePeak = sample.Price
	}

	drawdown := sample.Price.Sub(effectivePeak).Div(effectivePeak).Mul(decimal.NewFromInt(100))

	result.Outcome = OutcomeChecked
	result.Price = sample.Price
	result.Peak = effectivePeak
	result.Drawdown = drawdown

	if e.history != nil {
		obs := storage.Observation{
			Symbol:      asset.Symbol,
			Price:       sample.Price,
			Peak:        effectivePeak,
			DrawdownPct: drawdown,
			ObservedAt:  now,
		}
		if err := e.history.InsertObservation(ctx, obs); err != nil {
			e.logger.Error().Err(err).Str("symbol", asset.Symbol).Msg("failed to record observation")
		}
	}

	if drawdown.LessThanOrEqual(e.threshold) {
		if e.inCooldown(ctx, asset.Symbol, now) {
			e.logger.Info().Str("symbol", asset.Symbol).
				Str("drawdown_pct", drawdown.StringFixed(2)).
				Msg("breach within cooldown window; alert suppressed")
			return result
		}
		e.raiseAlert(ctx, asset, sample.Price, effectivePeak, drawdown, now)
		result.Alerted = true
	}

	return result
}

func (e *Engine) inCooldown(ctx context.Context, symbol string, now time.Time) bool {
	if e.opts.Cooldown <= 0 || e.alerts == nil {
		return false
	}
	latest, found, err := e.alerts.LatestAlertForSymbol(ctx, symbol)
	if err != nil {
		e.logger.Error().Err(err).Str("symbol", symbol).Msg("cooldown lookup failed")
		return false
	}
	return found && now.Sub(latest.RaisedAt) < e.opts.Cooldown
}

// raiseAlert dispatches a push to all currently active device tokens and
// appends the alert record. A batch dispatch failure does not prevent the
// record; the record carries the dispatch outcome.
func (e *Engine) raiseAlert(ctx context.Context, asset Asset, price, peak, drawdown decimal.Decimal, now time.Time) {
	sent := e.dispatchPush(ctx, asset, drawdown)

	if e.alerts == nil {
		return
	}

	record := storage.AlertRecord{
		AlertID:          alertID(now, asset.Symbol),
		Symbol:           asset.Symbol,
		AssetName:        asset.Name,
		DrawdownPct:      drawdown,
		ThresholdPct:     e.opts.ThresholdPct,
		PriceAtAlert:     price,
		PeakAtAlert:      peak,
		RaisedAt:         now,
		NotificationSent: sent,
	}
	if err := e.alerts.InsertAlert(ctx, record); err != nil {
		e.logger.Error().Err(err).Str("symbol", asset.Symbol).Msg("failed to persist alert record")
		return
	}

	e.logger.Info().Str("symbol", asset.Symbol).
		Str("alert_id", record.AlertID).
		Str("drawdown_pct", drawdown.StringFixed(2)).
		Bool("notification_sent", sent).
		Msg("drawdown alert raised")
}

func (e *Engine) dispatchPush(ctx context.Context, asset Asset, drawdown decimal.Decimal) bool {
	if e.notifier == nil || e.tokens == nil {
		return false
	}

	tokens, err := e.tokens.ListActiveTokens(ctx)
	if err != nil {
		e.logger.Error().Err(err).Msg("failed to list device tokens")
		return false
	}
	if len(tokens) == 0 {
		e.logger.Warn().Str("symbol", asset.Symbol).Msg("no active device tokens; notification not sent")
		return false
	}

	msg := notify.Message{
		To:    tokens,
		Sound: e.opts.Sound,
		Title: "Drawdown Alert",
		Body:  fmt.Sprintf("%s has reached %s%% drawdown from peak!", asset.Name, drawdown.Abs().StringFixed(1)),
		Data: map[string]string{
			"type":      "drawdown",
			"asset":     asset.Symbol,
			"drawdown":  drawdown.String(),
			"threshold": e.opts.ThresholdPct.String(),
		},
	}
	if err := e.notifier.Dispatch(ctx, msg); err != nil {
		e.logger.Error().Err(err).Str("symbol", asset.Symbol).Msg("failed to dispatch notification")
		return false
	}
	return true
}

func (e *Engine) recordExecution(ctx context.Context, summary *Summary) {
	if e.execs == nil {
		return
	}

	record := storage.ExecutionRecord{
		StartedAt:       summary.StartedAt,
		DurationSeconds: summary.Duration.Seconds(),
		AssetsChecked:   summary.AssetsChecked,
		PeaksUpdated:    summary.PeaksUpdated,
		AlertsSent:      summary.AlertsSent,
		AssetsFailed:    summary.AssetsFailed,
		AssetsSkipped:   summary.AssetsSkipped,
		Status:          summary.Status,
	}
	if _, err := e.execs.InsertExecution(ctx, record); err != nil {
		e.logger.Error().Err(err).Msg("failed to persist execution record")
	}
}
