package fetcher

import (
	"context"
	"fmt"
	"net/http"
)

// PriceFunc fetches the current USD price for one asset.
type PriceFunc func(ctx context.Context) (float64, error)

// PriceFetcher returns the USD price for a provider-specific asset id.
type PriceFetcher interface {
	Price(ctx context.Context, id string) (float64, error)
}

// ChangeFetcher additionally returns the 24h percent change.
type ChangeFetcher interface {
	PriceWithChange(ctx context.Context, id string) (price float64, change24h float64, err error)
}

// DominanceFetcher returns BTC and ETH market dominance percentages.
type DominanceFetcher interface {
	Dominance(ctx context.Context) (btc float64, eth float64, err error)
}

// Bind fixes the asset id of a PriceFetcher.
func Bind(f PriceFetcher, id string) PriceFunc {
	return func(ctx context.Context) (float64, error) {
		return f.Price(ctx, id)
	}
}

// FieldError reports a response that is not a JSON object, or lacks the
// expected numeric field. It is never retried.
type FieldError struct {
	Provider string
	Field    string
	Reason   string
	Payload  string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: field %q %s (payload: %s)", e.Provider, e.Field, e.Reason, e.Payload)
}

func (e *FieldError) Permanent() bool { return true }

// UpstreamError carries an error payload returned by the provider itself.
type UpstreamError struct {
	Provider string
	Status   int
	Code     int64
	Message  string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s api error (http %d, code %d): %s", e.Provider, e.Status, e.Code, e.Message)
}

// Permanent is false only when the HTTP status itself signals throttling or
// a server-side fault.
func (e *UpstreamError) Permanent() bool {
	return !transientStatus(e.Status)
}

// StatusError is a non-2xx response without a recognisable error payload.
type StatusError struct {
	Provider string
	Status   int
	Body     string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s api error (http %d)", e.Provider, e.Status)
	}
	return fmt.Sprintf("%s api error (http %d): %s", e.Provider, e.Status, e.Body)
}

func (e *StatusError) Permanent() bool {
	return !transientStatus(e.Status)
}

func transientStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}
