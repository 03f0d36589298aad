// Package pricing converts native-currency amounts into subscription token
// amounts using Binance's public average price endpoint.
package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/paybeaver/beaver-indexer/internal/chains"
	"github.com/paybeaver/beaver-indexer/internal/logger"
)

// DefaultBaseURL is Binance's public REST API.
const DefaultBaseURL = "https://api.binance.com"

// UnsupportedTokenError reports a token with no known trading pair against
// the chain's native currency. Payments for such tokens are skipped, never
// attempted with a zero compensation.
type UnsupportedTokenError struct {
	Chain chains.Chain
	Token string
}

func (e *UnsupportedTokenError) Error() string {
	return fmt.Sprintf("no price pair for token %s on chain %s", e.Token, e.Chain)
}

// pairs maps chain -> lowercase token address -> Binance symbol quoting the
// token against the chain's native currency. Testnet tokens reuse mainnet
// pairs.
var pairs = map[chains.Chain]map[string]string{
	chains.Sepolia: {
		"0xaa8e23fb1079ea71e0a56f48a2aa51851d8433d0": "ETHUSDT",
	},
	chains.Mumbai: {
		"0x52d800ca262522580cebad275395ca6e7598c014": "MATICUSDC",
	},
}

// BinanceOracle prices tokens through Binance's avgPrice endpoint.
type BinanceOracle struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewBinanceOracle returns an oracle. An empty baseURL selects
// DefaultBaseURL.
func NewBinanceOracle(baseURL string) *BinanceOracle {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &BinanceOracle{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger.Log,
	}
}

type avgPriceResponse struct {
	Price string `json:"price"`
}

// TokenPerNative returns how many units of token one unit of the chain's
// native currency buys, both sides in human denominations. Tokens without a
// configured pair surface as *UnsupportedTokenError.
func (o *BinanceOracle) TokenPerNative(ctx context.Context, chain chains.Chain, tokenAddress string) (decimal.Decimal, error) {
	chainPairs, ok := pairs[chain]
	if !ok {
		return decimal.Zero, &UnsupportedTokenError{Chain: chain, Token: tokenAddress}
	}
	symbol, ok := chainPairs[strings.ToLower(tokenAddress)]
	if !ok {
		return decimal.Zero, &UnsupportedTokenError{Chain: chain, Token: tokenAddress}
	}

	url := fmt.Sprintf("%s/api/v3/avgPrice?symbol=%s", o.baseURL, symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("building price request: %w", err)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetching price for %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("fetching price for %s: exchange returned status %d", symbol, resp.StatusCode)
	}

	var parsed avgPriceResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return decimal.Zero, fmt.Errorf("decoding price response for %s: %w", symbol, err)
	}
	price, err := decimal.NewFromString(parsed.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("price %q for %s is not a number: %w", parsed.Price, symbol, err)
	}
	o.logger.Debug("fetched token price",
		zap.String("symbol", symbol),
		zap.String("price", price.String()),
	)
	return price, nil
}
