package fetcher

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

const coinmarketcapBaseURL = "https://pro-api.coinmarketcap.com"

// CoinMarketCap reads global market metrics. It requires an API key.
type CoinMarketCap struct {
	src    *jsonSource
	hasKey bool
}

// NewCoinMarketCap constructs a dominance fetcher authenticated with opts.APIKey.
func NewCoinMarketCap(opts Options, logger zerolog.Logger) *CoinMarketCap {
	src := newJSONSource("coinmarketcap", coinmarketcapBaseURL, opts, logger)
	if opts.APIKey != "" {
		src.headers["X-CMC_PRO_API_KEY"] = opts.APIKey
	}
	return &CoinMarketCap{src: src, hasKey: opts.APIKey != ""}
}

// Dominance returns BTC and ETH dominance percentages.
func (c *CoinMarketCap) Dominance(ctx context.Context) (float64, float64, error) {
	if !c.hasKey {
		return 0, 0, errNoAPIKey
	}
	obj, raw, err := c.src.getObject(ctx, "/v1/global-metrics/quotes/latest", nil)
	if err != nil {
		return 0, 0, err
	}
	btc, err := numberAt(c.src.provider, raw, obj, "data", "btc_dominance")
	if err != nil {
		return 0, 0, err
	}
	eth, err := numberAt(c.src.provider, raw, obj, "data", "eth_dominance")
	if err != nil {
		return 0, 0, err
	}
	return btc, eth, nil
}

var errNoAPIKey = &missingKeyError{}

type missingKeyError struct{}

func (*missingKeyError) Error() string   { return "coinmarketcap api key not configured" }
func (*missingKeyError) Permanent() bool { return true }

// IsMissingAPIKey reports whether err stems from an unconfigured API key.
func IsMissingAPIKey(err error) bool {
	return errors.Is(err, errNoAPIKey)
}

var _ DominanceFetcher = (*CoinMarketCap)(nil)
