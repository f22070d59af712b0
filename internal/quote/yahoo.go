package quote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const chartPath = "/v8/finance/chart/"

// YahooOptions parameterise the Yahoo Finance chart fetcher.
type YahooOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Yahoo fetches daily chart quotes from the Yahoo Finance API.
type Yahoo struct {
	opts    YahooOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewYahoo constructs a Yahoo Finance fetcher.
func NewYahoo(opts YahooOptions, logger zerolog.Logger) *Yahoo {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://query1.finance.yahoo.com"
	}

	return &Yahoo{
		opts:    opts,
		logger:  logger.With().Str("component", "yahoo_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// FetchQuote retrieves the regular market price and previous close for one
// symbol. Crypto symbols are quoted against USD via the "-USD" pair suffix.
func (y *Yahoo) FetchQuote(ctx context.Context, symbol string, class AssetClass) (Sample, error) {
	if symbol == "" {
		return Sample{}, errors.New("symbol required")
	}

	querySymbol := symbol
	if class == ClassCrypto {
		querySymbol = symbol + "-USD"
	}

	endpoint := y.baseURL + chartPath + querySymbol + "?interval=1d&range=1d"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Sample{}, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(y.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "etfguardian/1.0")
	}

	resp, err := y.client.Do(req)
	if err != nil {
		return Sample{}, err
	}
	defer resp.Body.Close()

	payloadBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return Sample{}, err
	}

	if resp.StatusCode != http.StatusOK {
		return Sample{}, parseHTTPError(resp.StatusCode, payloadBytes)
	}

	var chartRes chartResponse
	if err := json.Unmarshal(payloadBytes, &chartRes); err != nil {
		return Sample{}, err
	}

	if chartRes.Chart.Error != nil && chartRes.Chart.Error.Description != "" {
		return Sample{}, fmt.Errorf("yahoo chart error: %s", chartRes.Chart.Error.Description)
	}
	if len(chartRes.Chart.Result) == 0 {
		return Sample{}, errors.New("yahoo chart returned no result")
	}

	meta := chartRes.Chart.Result[0].Meta
	if meta.RegularMarketPrice == 0 {
		return Sample{}, errors.New("yahoo chart returned no market price")
	}

	price := decimal.NewFromFloat(meta.RegularMarketPrice)
	previousClose := decimal.NewFromFloat(meta.ChartPreviousClose)

	changePercent := decimal.Zero
	if !previousClose.IsZero() {
		changePercent = price.Sub(previousClose).Div(previousClose).Mul(decimal.NewFromInt(100))
	}

	return Sample{
		Symbol:        symbol,
		Price:         price,
		PreviousClose: previousClose,
		ChangePercent: changePercent,
		ObservedAt:    time.Now().UTC(),
	}, nil
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				ChartPreviousClose float64 `json:"chartPreviousClose"`
				Currency           string  `json:"currency"`
				Symbol             string  `json:"symbol"`
			} `json:"meta"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

type errorResponse struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	Message     string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Description != "" {
			return fmt.Errorf("yahoo api error (%d): %s", status, apiErr.Description)
		}
		if apiErr.Message != "" {
			return fmt.Errorf("yahoo api error (%d): %s", status, apiErr.Message)
		}
		if apiErr.Code != "" {
			return fmt.Errorf("yahoo api error (%d): %s", status, apiErr.Code)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("yahoo api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("yahoo api error (%d)", status)
}

var _ Fetcher = (*Yahoo)(nil)
