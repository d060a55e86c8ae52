package cache

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by a fetch function to record that the key has no
	// value. Backends that support it remember the miss.
	ErrNotFound = errors.New("cache: value not found")

	// ErrInvalidResultType is returned when a cached value does not have the
	// type the caller asked for.
	ErrInvalidResultType = errors.New("cache: invalid result type")
)

// KeySerializer builds a cache key scoped to one store generation from a
// method name and its arguments.
type KeySerializer interface {
	SerializeKey(generation uint64, method string, args ...any) string
	GenerationPrefix(generation uint64) string
}

// FetchFn computes a value when the cache does not hold it.
type FetchFn[T any] func(ctx context.Context) (T, error)

// CacheService is the read-through cache behind derived snapshot values.
type CacheService interface {
	GetOrFetch(ctx context.Context, key string, fetchFn FetchFn[any]) (any, error)
	Delete(ctx context.Context, key string) error
	DeleteByPrefix(ctx context.Context, prefix string) error
}

// GetOrFetch is the typed wrapper around CacheService.GetOrFetch.
func GetOrFetch[T any](ctx context.Context, service CacheService, key string, fetchFn FetchFn[T]) (T, error) {
	var zero T
	result, err := service.GetOrFetch(ctx, key, func(ctx context.Context) (any, error) {
		return fetchFn(ctx)
	})
	if err != nil {
		return zero, err
	}
	if result == nil {
		return zero, nil
	}
	typed, ok := result.(T)
	if !ok {
		return zero, ErrInvalidResultType
	}
	return typed, nil
}
