package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"drawdown-alerts/internal/engine"
	"drawdown-alerts/internal/notify"
	"drawdown-alerts/internal/quote"
	"drawdown-alerts/internal/storage"
)

// SimulateDrawdown 以静态的价格和峰值走一遍完整的引擎流程。
// Peaks live in memory; with --dry-run no store or push relay is touched.
func (a *App) SimulateDrawdown(ctx context.Context, opts SimulateOptions) error {
	if opts.Price.Sign() <= 0 || opts.Peak.Sign() <= 0 {
		return errors.New("price and peak must be greater than zero")
	}

	asset := engine.Asset{
		Symbol: opts.Symbol,
		Name:   opts.Name,
		Class:  quote.AssetClass(opts.Class),
	}
	if asset.Name == "" {
		asset.Name = asset.Symbol
	}

	peaks := newMemoryPeakStore()
	peaks.seed(asset.Symbol, opts.Peak, time.Now().UTC())

	static := &staticQuoteFetcher{price: opts.Price}

	var (
		notifier notify.Dispatcher
		tokens   storage.DeviceTokenStore
		alerts   storage.AlertStore
	)
	if !opts.DryRun {
		store, closeStore, err := a.openStore(ctx)
		if err != nil {
			return err
		}
		if closeStore != nil {
			defer closeStore()
		}
		if store != nil {
			tokens = store
			alerts = store
		}
		notifier = a.newNotifier()
	}

	eng := engine.New(a.engineOptions(), static, peaks, alerts, nil, tokens, nil, notifier, a.Logger)

	summary, err := eng.RunPass(ctx, []engine.Asset{asset})
	if err != nil {
		return err
	}

	result := summary.Results[0]
	fmt.Fprintf(os.Stdout, "symbol: %s\n", asset.Symbol)
	fmt.Fprintf(os.Stdout, "price: %s\n", result.Price.StringFixed(2))
	fmt.Fprintf(os.Stdout, "effective peak: %s\n", result.Peak.StringFixed(2))
	fmt.Fprintf(os.Stdout, "drawdown: %s%%\n", result.Drawdown.StringFixed(2))
	fmt.Fprintf(os.Stdout, "peak updated: %t\n", result.PeakUpdated)
	fmt.Fprintf(os.Stdout, "alert raised: %t\n", result.Alerted)
	return nil
}

type staticQuoteFetcher struct {
	price decimal.Decimal
}

func (s *staticQuoteFetcher) FetchQuote(ctx context.Context, symbol string, class quote.AssetClass) (quote.Sample, error) {
	return quote.Sample{
		Symbol:     symbol,
		Price:      s.price,
		ObservedAt: time.Now().UTC(),
	}, nil
}

type memoryPeakStore struct {
	records map[string]storage.PeakRecord
}

func newMemoryPeakStore() *memoryPeakStore {
	return &memoryPeakStore{records: make(map[string]storage.PeakRecord)}
}

func (m *memoryPeakStore) seed(symbol string, peak decimal.Decimal, observedAt time.Time) {
	m.records[symbol] = storage.PeakRecord{
		Symbol:         symbol,
		PeakPrice:      peak,
		PeakObservedAt: observedAt,
		UpdatedAt:      observedAt,
	}
}

func (m *memoryPeakStore) GetPeak(ctx context.Context, symbol string) (storage.PeakRecord, bool, error) {
	rec, ok := m.records[symbol]
	return rec, ok, nil
}

func (m *memoryPeakStore) SetPeak(ctx context.Context, symbol string, price decimal.Decimal, observedAt time.Time) error {
	rec, ok := m.records[symbol]
	if !ok || !price.GreaterThan(rec.PeakPrice) {
		return errors.New("peak record absent or not below price")
	}
	rec.PeakPrice = price
	rec.PeakObservedAt = observedAt
	rec.UpdatedAt = observedAt
	m.records[symbol] = rec
	return nil
}

var _ quote.Fetcher = (*staticQuoteFetcher)(nil)
var _ storage.PeakStore = (*memoryPeakStore)(nil)
