package quote

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// AssetClass partitions the watchlist into quote-routing groups.
type AssetClass string

const (
	ClassEquityETF AssetClass = "EQUITY_ETF"
	ClassCrypto    AssetClass = "CRYPTO"
)

// Sample is one fresh price observation. Never persisted as-is.
type Sample struct {
	Symbol        string
	Price         decimal.Decimal
	PreviousClose decimal.Decimal
	ChangePercent decimal.Decimal
	ObservedAt    time.Time
}

// Fetcher retrieves the current market quote for one symbol.
type Fetcher interface {
	FetchQuote(ctx context.Context, symbol string, class AssetClass) (Sample, error)
}

// Selector routes crypto symbols with a configured on-chain feed to the
// Chainlink fetcher and everything else to the market fetcher.
type Selector struct {
	market  Fetcher
	onchain *Chainlink
}

// NewSelector builds a routing fetcher. onchain may be nil.
func NewSelector(market Fetcher, onchain *Chainlink) *Selector {
	return &Selector{market: market, onchain: onchain}
}

// FetchQuote dispatches to the appropriate source.
func (s *Selector) FetchQuote(ctx context.Context, symbol string, class AssetClass) (Sample, error) {
	if class == ClassCrypto && s.onchain != nil && s.onchain.HasFeed(symbol) {
		return s.onchain.FetchQuote(ctx, symbol, class)
	}
	return s.market.FetchQuote(ctx, symbol, class)
}

var _ Fetcher = (*Selector)(nil)
