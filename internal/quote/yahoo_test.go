package quote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func chartPayload(price, previousClose float64) map[string]any {
	return map[string]any{
		"chart": map[string]any{
			"result": []any{
				map[string]any{
					"meta": map[string]any{
						"regularMarketPrice": price,
						"chartPreviousClose": previousClose,
					},
				},
			},
		},
	}
}

func TestYahooFetchETF(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/v8/finance/chart/VOO") {
			t.Errorf("路径应包含 chart/VOO, 实际 %s", r.URL.Path)
		}
		if strings.Contains(r.URL.Path, "-USD") {
			t.Errorf("ETF 符号不应带 -USD 后缀: %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(chartPayload(500.25, 495.00))
	}))
	defer srv.Close()

	y := NewYahoo(YahooOptions{BaseURL: srv.URL, Timeout: time.Second}, zerolog.Nop())
	sample, err := y.FetchQuote(context.Background(), "VOO", ClassEquityETF)
	if err != nil {
		t.Fatalf("FetchQuote failed: %v", err)
	}

	if !sample.Price.Equal(decimal.NewFromFloat(500.25)) {
		t.Fatalf("price = %s, want 500.25", sample.Price)
	}
	if !sample.PreviousClose.Equal(decimal.NewFromFloat(495.00)) {
		t.Fatalf("previous close = %s, want 495", sample.PreviousClose)
	}
	if sample.ChangePercent.IsZero() {
		t.Fatal("change percent should be non-zero")
	}
}

func TestYahooFetchCryptoUsesUSDPair(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/v8/finance/chart/BTC-USD") {
			t.Errorf("crypto 符号应请求 BTC-USD, 实际 %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(chartPayload(60000, 61000))
	}))
	defer srv.Close()

	y := NewYahoo(YahooOptions{BaseURL: srv.URL, Timeout: time.Second}, zerolog.Nop())
	sample, err := y.FetchQuote(context.Background(), "BTC", ClassCrypto)
	if err != nil {
		t.Fatalf("FetchQuote failed: %v", err)
	}
	if sample.Symbol != "BTC" {
		t.Fatalf("sample symbol = %s, want BTC (not the pair)", sample.Symbol)
	}
}

func TestYahooFetchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"description": "No data found"})
	}))
	defer srv.Close()

	y := NewYahoo(YahooOptions{BaseURL: srv.URL, Timeout: time.Second}, zerolog.Nop())
	if _, err := y.FetchQuote(context.Background(), "NOPE", ClassEquityETF); err == nil {
		t.Fatal("HTTP 404 应返回错误")
	}
}

func TestYahooFetchEmptyResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"chart": map[string]any{"result": []any{}}})
	}))
	defer srv.Close()

	y := NewYahoo(YahooOptions{BaseURL: srv.URL, Timeout: time.Second}, zerolog.Nop())
	if _, err := y.FetchQuote(context.Background(), "VOO", ClassEquityETF); err == nil {
		t.Fatal("empty result 应返回错误")
	}
}
