package fetcher

import (
	"context"
	"net/url"

	"github.com/rs/zerolog"
)

const coingeckoBaseURL = "https://api.coingecko.com"

// CoinGecko reads simple USD prices keyed by coin id (e.g. "bitcoin").
type CoinGecko struct {
	src *jsonSource
}

// NewCoinGecko constructs a CoinGecko fetcher.
func NewCoinGecko(opts Options, logger zerolog.Logger) *CoinGecko {
	return &CoinGecko{src: newJSONSource("coingecko", coingeckoBaseURL, opts, logger)}
}

// Price returns the USD price for the coin id.
func (c *CoinGecko) Price(ctx context.Context, id string) (float64, error) {
	obj, raw, err := c.src.getObject(ctx, "/api/v3/simple/price", simpleQuery(id, false))
	if err != nil {
		return 0, err
	}
	return numberAt(c.src.provider, raw, obj, id, "usd")
}

// PriceWithChange returns the USD price and the 24h percent change.
func (c *CoinGecko) PriceWithChange(ctx context.Context, id string) (float64, float64, error) {
	obj, raw, err := c.src.getObject(ctx, "/api/v3/simple/price", simpleQuery(id, true))
	if err != nil {
		return 0, 0, err
	}
	price, err := numberAt(c.src.provider, raw, obj, id, "usd")
	if err != nil {
		return 0, 0, err
	}
	change, err := numberAt(c.src.provider, raw, obj, id, "usd_24h_change")
	if err != nil {
		return 0, 0, err
	}
	return price, change, nil
}

func simpleQuery(id string, withChange bool) url.Values {
	query := url.Values{}
	query.Set("ids", id)
	query.Set("vs_currencies", "usd")
	if withChange {
		query.Set("include_24hr_change", "true")
	}
	return query
}

var (
	_ PriceFetcher  = (*CoinGecko)(nil)
	_ ChangeFetcher = (*CoinGecko)(nil)
)
