package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"drawdown-alerts/internal/notify"
	"drawdown-alerts/internal/quote"
	"drawdown-alerts/internal/storage"
)

type fakeQuotes struct {
	prices map[string]decimal.Decimal
	errs   map[string]error
}

func (f *fakeQuotes) FetchQuote(ctx context.Context, symbol string, class quote.AssetClass) (quote.Sample, error) {
	if err, ok := f.errs[symbol]; ok {
		return quote.Sample{}, err
	}
	price, ok := f.prices[symbol]
	if !ok {
		return quote.Sample{}, errors.New("no price configured")
	}
	return quote.Sample{Symbol: symbol, Price: price, ObservedAt: time.Now().UTC()}, nil
}

type fakePeaks struct {
	records  map[string]storage.PeakRecord
	setCalls int
	failSet  bool
}

func (f *fakePeaks) GetPeak(ctx context.Context, symbol string) (storage.PeakRecord, bool, error) {
	rec, ok := f.records[symbol]
	return rec, ok, nil
}

func (f *fakePeaks) SetPeak(ctx context.Context, symbol string, price decimal.Decimal, observedAt time.Time) error {
	f.setCalls++
	if f.failSet {
		return errors.New("set peak failed")
	}
	rec := f.records[symbol]
	rec.Symbol = symbol
	rec.PeakPrice = price
	rec.PeakObservedAt = observedAt
	rec.UpdatedAt = observedAt
	f.records[symbol] = rec
	return nil
}

type fakeAlerts struct {
	records    []storage.AlertRecord
	failInsert bool
}

func (f *fakeAlerts) InsertAlert(ctx context.Context, alert storage.AlertRecord) error {
	if f.failInsert {
		return errors.New("insert alert failed")
	}
	f.records = append(f.records, alert)
	return nil
}

func (f *fakeAlerts) ListRecentAlerts(ctx context.Context, limit int) ([]storage.AlertRecord, error) {
	return f.records, nil
}

func (f *fakeAlerts) LatestAlertForSymbol(ctx context.Context, symbol string) (storage.AlertRecord, bool, error) {
	for i := len(f.records) - 1; i >= 0; i-- {
		if f.records[i].Symbol == symbol {
			return f.records[i], true, nil
		}
	}
	return storage.AlertRecord{}, false, nil
}

type fakeExecs struct {
	records []storage.ExecutionRecord
}

func (f *fakeExecs) InsertExecution(ctx context.Context, record storage.ExecutionRecord) (int64, error) {
	f.records = append(f.records, record)
	return int64(len(f.records)), nil
}

func (f *fakeExecs) ListRecentExecutions(ctx context.Context, limit int) ([]storage.ExecutionRecord, error) {
	return f.records, nil
}

type fakeTokens struct {
	tokens []string
	err    error
}

func (f *fakeTokens) ListActiveTokens(ctx context.Context) ([]string, error) {
	return f.tokens, f.err
}

func (f *fakeTokens) ListDeviceTokens(ctx context.Context) ([]storage.DeviceToken, error) {
	return nil, nil
}

type fakeNotifier struct {
	messages []notify.Message
	fail     bool
}

func (f *fakeNotifier) Dispatch(ctx context.Context, msg notify.Message) error {
	if f.fail {
		return errors.New("dispatch failed")
	}
	f.messages = append(f.messages, msg)
	return nil
}

func dec(v string) decimal.Decimal {
	d, err := decimal.NewFromString(v)
	if err != nil {
		panic(err)
	}
	return d
}

func seededPeaks(pairs map[string]string) *fakePeaks {
	records := make(map[string]storage.PeakRecord, len(pairs))
	for symbol, peak := range pairs {
		records[symbol] = storage.PeakRecord{
			Symbol:         symbol,
			PeakPrice:      dec(peak),
			PeakObservedAt: time.Now().UTC().Add(-24 * time.Hour),
			UpdatedAt:      time.Now().UTC().Add(-24 * time.Hour),
		}
	}
	return &fakePeaks{records: records}
}

func newTestEngine(quotes quote.Fetcher, peaks storage.PeakStore, alerts storage.AlertStore, execs storage.ExecutionStore, tokens storage.DeviceTokenStore, notifier notify.Dispatcher) *Engine {
	opts := Options{ThresholdPct: dec("15"), Sound: "default"}
	return New(opts, quotes, peaks, alerts, execs, tokens, nil, notifier, zerolog.Nop())
}

func oneAsset() []Asset {
	return []Asset{{Symbol: "VOO", Name: "Vanguard S&P 500", Class: quote.ClassEquityETF}}
}

func TestRunPassDrawdownExact(t *testing.T) {
	quotes := &fakeQuotes{prices: map[string]decimal.Decimal{"VOO": dec("80")}}
	peaks := seededPeaks(map[string]string{"VOO": "100"})
	alerts := &fakeAlerts{}
	tokens := &fakeTokens{tokens: []string{"ExponentPushToken[abc]"}}
	notifier := &fakeNotifier{}

	eng := newTestEngine(quotes, peaks, alerts, &fakeExecs{}, tokens, notifier)
	summary, err := eng.RunPass(context.Background(), oneAsset())
	if err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}

	if summary.AssetsChecked != 1 {
		t.Fatalf("assets checked = %d, want 1", summary.AssetsChecked)
	}
	if got := summary.Results[0].Drawdown; !got.Equal(dec("-20")) {
		t.Fatalf("drawdown = %s, want -20", got)
	}
	if summary.AlertsSent != 1 {
		t.Fatalf("alerts sent = %d, want 1", summary.AlertsSent)
	}
	if len(alerts.records) != 1 {
		t.Fatalf("alert records = %d, want 1", len(alerts.records))
	}
	rec := alerts.records[0]
	if !rec.NotificationSent {
		t.Fatal("notification_sent should be true")
	}
	if !rec.PriceAtAlert.Equal(dec("80")) || !rec.PeakAtAlert.Equal(dec("100")) {
		t.Fatalf("alert record price/peak = %s/%s", rec.PriceAtAlert, rec.PeakAtAlert)
	}
	if summary.Status != StatusSuccess {
		t.Fatalf("status = %s, want SUCCESS", summary.Status)
	}
}

func TestThresholdTieBreak(t *testing.T) {
	// -15.0 must breach at threshold 15; -14.99 must not.
	cases := []struct {
		price  string
		breach bool
	}{
		{"85", true},
		{"85.01", false},
	}

	for _, tc := range cases {
		quotes := &fakeQuotes{prices: map[string]decimal.Decimal{"VOO": dec(tc.price)}}
		peaks := seededPeaks(map[string]string{"VOO": "100"})
		alerts := &fakeAlerts{}

		eng := newTestEngine(quotes, peaks, alerts, nil, &fakeTokens{}, &fakeNotifier{})
		summary, err := eng.RunPass(context.Background(), oneAsset())
		if err != nil {
			t.Fatalf("price %s: RunPass failed: %v", tc.price, err)
		}

		alerted := summary.AlertsSent == 1
		if alerted != tc.breach {
			t.Fatalf("price %s: alerted = %t, want %t", tc.price, alerted, tc.breach)
		}
	}
}

func TestNewPeakZeroDrawdown(t *testing.T) {
	quotes := &fakeQuotes{prices: map[string]decimal.Decimal{"VOO": dec("120")}}
	peaks := seededPeaks(map[string]string{"VOO": "100"})
	alerts := &fakeAlerts{}

	eng := newTestEngine(quotes, peaks, alerts, nil, &fakeTokens{}, &fakeNotifier{})
	summary, err := eng.RunPass(context.Background(), oneAsset())
	if err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}

	if summary.PeaksUpdated != 1 {
		t.Fatalf("peaks updated = %d, want 1", summary.PeaksUpdated)
	}
	if !peaks.records["VOO"].PeakPrice.Equal(dec("120")) {
		t.Fatalf("stored peak = %s, want 120", peaks.records["VOO"].PeakPrice)
	}
	if got := summary.Results[0].Drawdown; !got.IsZero() {
		t.Fatalf("drawdown after new peak = %s, want 0", got)
	}
	if summary.AlertsSent != 0 {
		t.Fatalf("alerts sent = %d, want 0", summary.AlertsSent)
	}
}

func TestIdempotentRerunAtOrBelowPeak(t *testing.T) {
	quotes := &fakeQuotes{prices: map[string]decimal.Decimal{"VOO": dec("90")}}
	peaks := seededPeaks(map[string]string{"VOO": "100"})

	eng := newTestEngine(quotes, peaks, &fakeAlerts{}, nil, &fakeTokens{}, &fakeNotifier{})

	first, err := eng.RunPass(context.Background(), oneAsset())
	if err != nil {
		t.Fatalf("first pass failed: %v", err)
	}
	second, err := eng.RunPass(context.Background(), oneAsset())
	if err != nil {
		t.Fatalf("second pass failed: %v", err)
	}

	if peaks.setCalls != 0 {
		t.Fatalf("peak writes = %d, want 0", peaks.setCalls)
	}
	if !peaks.records["VOO"].PeakPrice.Equal(dec("100")) {
		t.Fatalf("peak changed to %s", peaks.records["VOO"].PeakPrice)
	}
	if !first.Results[0].Drawdown.Equal(second.Results[0].Drawdown) {
		t.Fatalf("drawdown differs across identical passes: %s vs %s",
			first.Results[0].Drawdown, second.Results[0].Drawdown)
	}
}

func TestFailureIsolationPartial(t *testing.T) {
	quotes := &fakeQuotes{
		prices: map[string]decimal.Decimal{"VOO": dec("80"), "ETH": dec("70")},
		errs:   map[string]error{"BTC": errors.New("network error")},
	}
	peaks := seededPeaks(map[string]string{"VOO": "100", "BTC": "50000", "ETH": "100"})
	alerts := &fakeAlerts{}
	execs := &fakeExecs{}

	watchlist := []Asset{
		{Symbol: "VOO", Name: "Vanguard S&P 500", Class: quote.ClassEquityETF},
		{Symbol: "BTC", Name: "Bitcoin", Class: quote.ClassCrypto},
		{Symbol: "ETH", Name: "Ethereum", Class: quote.ClassCrypto},
	}

	eng := newTestEngine(quotes, peaks, alerts, execs, &fakeTokens{tokens: []string{"tok"}}, &fakeNotifier{})
	summary, err := eng.RunPass(context.Background(), watchlist)
	if err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}

	if summary.Status != StatusPartial {
		t.Fatalf("status = %s, want PARTIAL", summary.Status)
	}
	if summary.AssetsChecked != 2 || summary.AssetsFailed != 1 {
		t.Fatalf("checked/failed = %d/%d, want 2/1", summary.AssetsChecked, summary.AssetsFailed)
	}
	if len(alerts.records) != 2 {
		t.Fatalf("alert records = %d, want 2 (VOO and ETH)", len(alerts.records))
	}
	if len(execs.records) != 1 || execs.records[0].Status != StatusPartial {
		t.Fatalf("execution record missing or wrong status: %+v", execs.records)
	}
}

func TestAbsentPeakSkip(t *testing.T) {
	quotes := &fakeQuotes{prices: map[string]decimal.Decimal{"VOO": dec("10")}}
	peaks := &fakePeaks{records: map[string]storage.PeakRecord{}}
	alerts := &fakeAlerts{}

	eng := newTestEngine(quotes, peaks, alerts, nil, &fakeTokens{}, &fakeNotifier{})
	summary, err := eng.RunPass(context.Background(), oneAsset())
	if err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}

	if summary.AssetsSkipped != 1 || summary.AssetsChecked != 0 {
		t.Fatalf("skipped/checked = %d/%d, want 1/0", summary.AssetsSkipped, summary.AssetsChecked)
	}
	if peaks.setCalls != 0 {
		t.Fatalf("peak writes = %d, want 0", peaks.setCalls)
	}
	if len(alerts.records) != 0 {
		t.Fatalf("alert records = %d, want 0", len(alerts.records))
	}
	if summary.Status != StatusSuccess {
		t.Fatalf("status = %s, want SUCCESS (skips are not errors)", summary.Status)
	}
}

func TestNotificationFailureStillRecordsAlert(t *testing.T) {
	quotes := &fakeQuotes{prices: map[string]decimal.Decimal{"VOO": dec("70")}}
	peaks := seededPeaks(map[string]string{"VOO": "100"})
	alerts := &fakeAlerts{}
	notifier := &fakeNotifier{fail: true}

	eng := newTestEngine(quotes, peaks, alerts, nil, &fakeTokens{tokens: []string{"tok"}}, notifier)
	summary, err := eng.RunPass(context.Background(), oneAsset())
	if err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}

	if summary.AlertsSent != 1 {
		t.Fatalf("alerts sent = %d, want 1", summary.AlertsSent)
	}
	if len(alerts.records) != 1 {
		t.Fatalf("alert records = %d, want 1", len(alerts.records))
	}
	if alerts.records[0].NotificationSent {
		t.Fatal("notification_sent should be false after dispatch failure")
	}
}

func TestAlertInsertFailureIsSoft(t *testing.T) {
	quotes := &fakeQuotes{prices: map[string]decimal.Decimal{"VOO": dec("70")}}
	peaks := seededPeaks(map[string]string{"VOO": "100"})
	alerts := &fakeAlerts{failInsert: true}

	eng := newTestEngine(quotes, peaks, alerts, nil, &fakeTokens{}, &fakeNotifier{})
	summary, err := eng.RunPass(context.Background(), oneAsset())
	if err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}
	if summary.Status != StatusSuccess {
		t.Fatalf("status = %s, want SUCCESS", summary.Status)
	}
	if summary.AlertsSent != 1 {
		t.Fatalf("alerts sent = %d, want 1", summary.AlertsSent)
	}
}

func TestPeakWriteFailureStillUsesEffectivePeak(t *testing.T) {
	quotes := &fakeQuotes{prices: map[string]decimal.Decimal{"VOO": dec("120")}}
	peaks := seededPeaks(map[string]string{"VOO": "100"})
	peaks.failSet = true

	eng := newTestEngine(quotes, peaks, &fakeAlerts{}, nil, &fakeTokens{}, &fakeNotifier{})
	summary, err := eng.RunPass(context.Background(), oneAsset())
	if err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}

	if summary.PeaksUpdated != 0 {
		t.Fatalf("peaks updated = %d, want 0 after write failure", summary.PeaksUpdated)
	}
	if got := summary.Results[0].Drawdown; !got.IsZero() {
		t.Fatalf("drawdown = %s, want 0 against the in-memory peak", got)
	}
}

func TestEmptyWatchlistFails(t *testing.T) {
	execs := &fakeExecs{}
	eng := newTestEngine(&fakeQuotes{}, &fakePeaks{records: map[string]storage.PeakRecord{}}, &fakeAlerts{}, execs, &fakeTokens{}, &fakeNotifier{})

	summary, err := eng.RunPass(context.Background(), nil)
	if err == nil {
		t.Fatal("empty watchlist should return an error")
	}
	if summary.Status != StatusFailed {
		t.Fatalf("status = %s, want FAILED", summary.Status)
	}
	if len(execs.records) != 1 || execs.records[0].Status != StatusFailed {
		t.Fatalf("failed pass should still be recorded: %+v", execs.records)
	}
}

func TestCooldownSuppressesRepeatAlert(t *testing.T) {
	quotes := &fakeQuotes{prices: map[string]decimal.Decimal{"VOO": dec("70")}}
	peaks := seededPeaks(map[string]string{"VOO": "100"})
	alerts := &fakeAlerts{records: []storage.AlertRecord{{
		Symbol:   "VOO",
		RaisedAt: time.Now().UTC().Add(-10 * time.Minute),
	}}}

	opts := Options{ThresholdPct: dec("15"), Cooldown: time.Hour}
	eng := New(opts, quotes, peaks, alerts, nil, &fakeTokens{}, nil, &fakeNotifier{}, zerolog.Nop())

	summary, err := eng.RunPass(context.Background(), oneAsset())
	if err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}
	if summary.AlertsSent != 0 {
		t.Fatalf("alerts sent = %d, want 0 inside cooldown", summary.AlertsSent)
	}
	if len(alerts.records) != 1 {
		t.Fatalf("alert records = %d, want only the pre-existing one", len(alerts.records))
	}
}

func TestPushPayloadContents(t *testing.T) {
	quotes := &fakeQuotes{prices: map[string]decimal.Decimal{"VOO": dec("80")}}
	peaks := seededPeaks(map[string]string{"VOO": "100"})
	notifier := &fakeNotifier{}

	eng := newTestEngine(quotes, peaks, &fakeAlerts{}, nil, &fakeTokens{tokens: []string{"tok-1", "tok-2"}}, notifier)
	if _, err := eng.RunPass(context.Background(), oneAsset()); err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}

	if len(notifier.messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(notifier.messages))
	}
	msg := notifier.messages[0]
	if len(msg.To) != 2 {
		t.Fatalf("recipients = %d, want 2", len(msg.To))
	}
	if msg.Data["type"] != "drawdown" || msg.Data["asset"] != "VOO" {
		t.Fatalf("payload data wrong: %#v", msg.Data)
	}
	if msg.Data["threshold"] != "15" {
		t.Fatalf("threshold = %s, want 15", msg.Data["threshold"])
	}
}
