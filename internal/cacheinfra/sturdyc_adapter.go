package cacheinfra

import (
	"context"
	"errors"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/viccon/sturdyc"
)

// Config holds the configuration for the sturdyc cache adapter.
type Config struct {
	// Capacity defines the maximum number of entries that the cache can store.
	Capacity int

	// NumShards determines the number of cache shards for concurrent access.
	// Default: 64
	NumShards int

	// TTL bounds how long a derived value is kept. Values are keyed by store
	// generation and never go stale, so the TTL only caps memory held by
	// generations nobody reads anymore.
	TTL time.Duration

	// EvictionPercentage specifies what percentage of entries to evict
	// when the cache reaches its capacity. Must be between 1-100.
	EvictionPercentage int

	// MissingRecordStorage remembers lookups that found nothing, so a route
	// that does not exist is not resolved again within the same generation.
	MissingRecordStorage bool

	// EvictionInterval sets how often the cache checks for expired entries.
	// Zero value uses the default interval.
	EvictionInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults for most use cases.
func DefaultConfig() Config {
	return Config{
		Capacity:             20000,
		NumShards:            64,
		TTL:                  10 * time.Minute,
		EvictionPercentage:   10,
		MissingRecordStorage: true,
	}
}

// ToSturdycOptions converts the optional parts of Config to sturdyc options.
// Capacity, NumShards, TTL and EvictionPercentage go to sturdyc.New directly.
func (c Config) ToSturdycOptions() []sturdyc.Option {
	var options []sturdyc.Option
	if c.MissingRecordStorage {
		options = append(options, sturdyc.WithMissingRecordStorage())
	}
	if c.EvictionInterval > 0 {
		options = append(options, sturdyc.WithEvictionInterval(c.EvictionInterval))
	}
	return options
}

// Validate checks if the configuration values are valid.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Capacity, validation.Required, validation.Min(1)),
		validation.Field(&c.NumShards, validation.Required, validation.Min(1)),
		validation.Field(&c.TTL, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.EvictionPercentage, validation.Required, validation.Min(1), validation.Max(100)),
		validation.Field(&c.EvictionInterval, validation.Min(time.Duration(0))),
	)
}

// SturdycService wraps a sturdyc client.
type SturdycService struct {
	client   *sturdyc.Client[any]
	notFound error
}

// NewSturdycService validates cfg and builds the client. notFound is the
// caller's "no value" sentinel: a fetch returning it is stored as a missing
// record, and a remembered miss is reported back as notFound.
func NewSturdycService(cfg Config, notFound error) (*SturdycService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client := sturdyc.New[any](
		cfg.Capacity,
		cfg.NumShards,
		cfg.TTL,
		cfg.EvictionPercentage,
		cfg.ToSturdycOptions()...,
	)
	return &SturdycService{client: client, notFound: notFound}, nil
}

// absent stands in for a nil result. sturdyc type-asserts what a fetch
// returns, and a nil interface fails that assertion.
type absent struct{}

// GetOrFetch returns the cached value for key or runs fetchFn once to fill it.
// Concurrent callers for the same key share one fetch.
func (s *SturdycService) GetOrFetch(ctx context.Context, key string, fetchFn func(context.Context) (any, error)) (any, error) {
	v, err := s.client.GetOrFetch(ctx, key, func(ctx context.Context) (any, error) {
		v, err := fetchFn(ctx)
		if err != nil && s.notFound != nil && errors.Is(err, s.notFound) {
			return absent{}, sturdyc.ErrNotFound
		}
		if v == nil {
			v = absent{}
		}
		return v, err
	})
	if _, ok := v.(absent); ok {
		v = nil
	}
	if err != nil && s.notFound != nil &&
		(errors.Is(err, sturdyc.ErrMissingRecord) || errors.Is(err, sturdyc.ErrNotFound)) {
		return nil, s.notFound
	}
	return v, err
}

// Delete removes a single entry.
func (s *SturdycService) Delete(_ context.Context, key string) error {
	s.client.Delete(key)
	return nil
}

// DeleteByPrefix removes every entry whose key starts with prefix. It is used
// to drop all values derived from a reclaimed generation.
func (s *SturdycService) DeleteByPrefix(_ context.Context, prefix string) error {
	for _, key := range s.client.ScanKeys() {
		if strings.HasPrefix(key, prefix) {
			s.client.Delete(key)
		}
	}
	return nil
}

// Size reports the number of entries currently held.
func (s *SturdycService) Size() int {
	return s.client.Size()
}
