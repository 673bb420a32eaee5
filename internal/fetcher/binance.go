package fetcher

import (
	"context"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
)

const binanceBaseURL = "https://api.binance.com"

// Binance reads spot ticker prices quoted in USDT.
type Binance struct {
	src *jsonSource
}

// NewBinance constructs a Binance ticker fetcher.
func NewBinance(opts Options, logger zerolog.Logger) *Binance {
	return &Binance{src: newJSONSource("binance", binanceBaseURL, opts, logger)}
}

// Price returns the last traded price of <symbol>USDT.
func (b *Binance) Price(ctx context.Context, symbol string) (float64, error) {
	query := url.Values{}
	query.Set("symbol", strings.ToUpper(symbol)+"USDT")

	obj, raw, err := b.src.getObject(ctx, "/api/v3/ticker/price", query)
	if err != nil {
		return 0, err
	}
	return numberAt(b.src.provider, raw, obj, "price")
}

var _ PriceFetcher = (*Binance)(nil)
