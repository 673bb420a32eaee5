package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
)

// MaxHistory is the number of observations retained per asset.
const MaxHistory = 3

// Observation is one bucket-crossing decision for an asset.
type Observation struct {
	Rate float64 `json:"rate"`
	Grew bool    `json:"grew"`
}

// Store keeps the per-asset rolling history and TTL-bound scalars.
type Store interface {
	// History returns at most MaxHistory observations, newest first.
	History(ctx context.Context, key string) ([]Observation, error)
	// Push prepends obs and trims the list to MaxHistory entries.
	Push(ctx context.Context, key string, obs Observation) error
	// Scalar returns the value and whether it was present and unexpired.
	Scalar(ctx context.Context, key string) (float64, bool, error)
	SetScalar(ctx context.Context, key string, value float64, ttl time.Duration) error
}

func encodeObservation(obs Observation) (string, error) {
	data, err := sonic.Marshal(obs)
	if err != nil {
		return "", fmt.Errorf("encode observation: %w", err)
	}
	return string(data), nil
}

func decodeObservation(raw string) (Observation, error) {
	var obs Observation
	if err := sonic.UnmarshalString(raw, &obs); err != nil {
		return Observation{}, fmt.Errorf("decode observation %q: %w", raw, err)
	}
	return obs, nil
}
