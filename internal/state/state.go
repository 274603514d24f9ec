// Package state is the shared keyed store used to coordinate a sync run
// across HTTP requests, queue consumers and cron ticks.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// DefaultTTL bounds how long coordination keys outlive an abandoned run.
const DefaultTTL = 24 * time.Hour

// UpdateFunc receives the current value (nil when absent) and returns the
// value to store.
type UpdateFunc func(current []byte) ([]byte, error)

type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Update applies fn while holding the key exclusively so concurrent
	// writers cannot lose increments.
	Update(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc) error
}

// GetJSON decodes the value at key into dst and reports whether it existed.
func GetJSON(ctx context.Context, s Store, key string, dst any) (bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func SetJSON(ctx context.Context, s Store, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Set(ctx, key, raw, ttl)
}

// UpdateJSON decodes the current value into a fresh T, lets fn mutate it and
// stores the result atomically.
func UpdateJSON[T any](ctx context.Context, s Store, key string, ttl time.Duration, fn func(v *T) error) error {
	return s.Update(ctx, key, ttl, func(current []byte) ([]byte, error) {
		var v T
		if len(current) > 0 {
			if err := json.Unmarshal(current, &v); err != nil {
				return nil, fmt.Errorf("decode %s: %w", key, err)
			}
		}
		if err := fn(&v); err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
}
