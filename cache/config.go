package cache

import (
	"context"
	"time"

	"github.com/goliatone/go-content-cache/internal/cacheinfra"
)

// Config exposes the derived value cache options.
type Config struct {
	Capacity             int
	NumShards            int
	TTL                  time.Duration
	EvictionPercentage   int
	MissingRecordStorage bool
	EvictionInterval     time.Duration
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() Config {
	return convertFromInternal(cacheinfra.DefaultConfig())
}

// Validate checks whether the configuration values are valid.
func (c Config) Validate() error {
	return c.toInternal().Validate()
}

// NewCacheService constructs the sturdyc backed cache service.
func NewCacheService(cfg Config) (CacheService, error) {
	svc, err := cacheinfra.NewSturdycService(cfg.toInternal(), ErrNotFound)
	if err != nil {
		return nil, err
	}
	return &serviceAdapter{svc: svc}, nil
}

// serviceAdapter narrows the infra service to CacheService; it lives here
// because internal/cacheinfra cannot import FetchFn without a cycle.
type serviceAdapter struct {
	svc *cacheinfra.SturdycService
}

func (a *serviceAdapter) GetOrFetch(ctx context.Context, key string, fetchFn FetchFn[any]) (any, error) {
	return a.svc.GetOrFetch(ctx, key, fetchFn)
}

func (a *serviceAdapter) Delete(ctx context.Context, key string) error {
	return a.svc.Delete(ctx, key)
}

func (a *serviceAdapter) DeleteByPrefix(ctx context.Context, prefix string) error {
	return a.svc.DeleteByPrefix(ctx, prefix)
}

func (c Config) toInternal() cacheinfra.Config {
	return cacheinfra.Config{
		Capacity:             c.Capacity,
		NumShards:            c.NumShards,
		TTL:                  c.TTL,
		EvictionPercentage:   c.EvictionPercentage,
		MissingRecordStorage: c.MissingRecordStorage,
		EvictionInterval:     c.EvictionInterval,
	}
}

func convertFromInternal(c cacheinfra.Config) Config {
	return Config{
		Capacity:             c.Capacity,
		NumShards:            c.NumShards,
		TTL:                  c.TTL,
		EvictionPercentage:   c.EvictionPercentage,
		MissingRecordStorage: c.MissingRecordStorage,
		EvictionInterval:     c.EvictionInterval,
	}
}
