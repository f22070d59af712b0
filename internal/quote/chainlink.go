package quote

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	aggregatorABIJSON = `[{"inputs":[],"name":"latestRoundData","outputs":[{"internalType":"uint80","name":"roundId","type":"uint80"},{"internalType":"int256","name":"answer","type":"int256"},{"internalType":"uint256","name":"startedAt","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"},{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"},{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"}]`
)

var aggregatorABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(aggregatorABIJSON))
	if err != nil {
		panic("failed to parse aggregator ABI: " + err.Error())
	}
	aggregatorABI = parsed
}

// ChainlinkOptions parameterise the on-chain feed fetcher.
type ChainlinkOptions struct {
	RPCURL  string
	Feeds   map[string]string
	Timeout time.Duration
}

// Chainlink reads USD price feeds from Chainlink aggregator contracts.
// It serves crypto symbols that have a configured feed address; samples
// carry no previous close, so daily change is reported as zero.
type Chainlink struct {
	opts      ChainlinkOptions
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex

	decimalsMux  sync.Mutex
	feedDecimals map[string]int32
}

// NewChainlink builds an on-chain quote fetcher.
func NewChainlink(opts ChainlinkOptions, logger zerolog.Logger) *Chainlink {
	return &Chainlink{
		opts:         opts,
		logger:       logger.With().Str("component", "chainlink_fetcher").Logger(),
		feedDecimals: make(map[string]int32),
	}
}

// HasFeed reports whether a feed address is configured for symbol.
func (c *Chainlink) HasFeed(symbol string) bool {
	if c == nil {
		return false
	}
	_, ok := c.opts.Feeds[symbol]
	return ok
}

// FetchQuote reads latestRoundData from the symbol's aggregator.
func (c *Chainlink) FetchQuote(ctx context.Context, symbol string, class AssetClass) (Sample, error) {
	if c.opts.RPCURL == "" {
		return Sample{}, errors.New("ethereum rpc url not configured")
	}
	feedAddr, ok := c.opts.Feeds[symbol]
	if !ok {
		return Sample{}, fmt.Errorf("no price feed configured for %s", symbol)
	}

	timeout := c.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := c.getClient(ctx)
	if err != nil {
		return Sample{}, err
	}

	addr := common.HexToAddress(feedAddr)

	scale, err := c.feedScale(ctx, client, addr, feedAddr)
	if err != nil {
		return Sample{}, err
	}

	payload, err := aggregatorABI.Pack("latestRoundData")
	if err != nil {
		return Sample{}, err
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return Sample{}, err
	}

	outputs, err := aggregatorABI.Unpack("latestRoundData", res)
	if err != nil {
		return Sample{}, err
	}
	if len(outputs) != 5 {
		return Sample{}, errors.New("unexpected latestRoundData response")
	}

	answer, ok := outputs[1].(*big.Int)
	if !ok {
		return Sample{}, errors.New("failed to decode latestRoundData answer")
	}
	if answer.Sign() <= 0 {
		return Sample{}, errors.New("feed answer not positive")
	}

	observedAt := time.Now().UTC()
	if updatedAt, ok := outputs[3].(*big.Int); ok && updatedAt.IsInt64() && updatedAt.Int64() > 0 {
		observedAt = time.Unix(updatedAt.Int64(), 0).UTC()
	}

	price := decimal.NewFromBigInt(answer, -scale)

	return Sample{
		Symbol:     symbol,
		Price:      price,
		ObservedAt: observedAt,
	}, nil
}

func (c *Chainlink) feedScale(ctx context.Context, client *ethclient.Client, addr common.Address, feedAddr string) (int32, error) {
	c.decimalsMux.Lock()
	cached, ok := c.feedDecimals[feedAddr]
	c.decimalsMux.Unlock()
	if ok {
		return cached, nil
	}

	payload, err := aggregatorABI.Pack("decimals")
	if err != nil {
		return 0, err
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return 0, err
	}

	outputs, err := aggregatorABI.Unpack("decimals", res)
	if err != nil {
		return 0, err
	}
	if len(outputs) != 1 {
		return 0, errors.New("unexpected decimals response")
	}

	raw, ok := outputs[0].(uint8)
	if !ok {
		return 0, errors.New("failed to decode decimals output")
	}

	scale := int32(raw)
	c.decimalsMux.Lock()
	c.feedDecimals[feedAddr] = scale
	c.decimalsMux.Unlock()
	return scale, nil
}

func (c *Chainlink) getClient(ctx context.Context) (*ethclient.Client, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	client, err := ethclient.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	c.client = client
	return client, nil
}

var _ Fetcher = (*Chainlink)(nil)
