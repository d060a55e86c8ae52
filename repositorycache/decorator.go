package repositorycache

import (
	"context"
	"sync/atomic"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/rs/zerolog"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-content-cache/cache"
)

var _ repository.Repository[any] = (*CachedRepository[any])(nil)

// listResult wraps the tuple result from List so it can be cached as one value.
type listResult[T any] struct {
	Records []T
	Total   int
}

// CachedRepository decorates a repository with a read-through cache.
//
// Cached keys are scoped by an epoch. Every successful write, and every call
// to Invalidate, moves to a new epoch and purges the keys of the previous one,
// so a read racing a write can at worst cache a value nobody will look up.
// Reads that carry criteria are not cached.
type CachedRepository[T any] struct {
	base  repository.Repository[T]
	cache cache.CacheService
	keys   cache.KeySerializer
	epoch  atomic.Uint64
	logger zerolog.Logger
}

type Option func(*options)

type options struct {
	logger zerolog.Logger
}

// WithLogger reports purges that fail after a write.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// New wraps base. A nil keySerializer uses a generation serializer namespaced
// by the record type, e.g. "node_row" for *NodeRow.
func New[T any](base repository.Repository[T], cacheService cache.CacheService, keySerializer cache.KeySerializer, opts ...Option) *CachedRepository[T] {
	if keySerializer == nil {
		keySerializer = cache.NewGenerationKeySerializer(namespaceFor[T]())
	}
	o := options{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	return &CachedRepository[T]{
		base:   base,
		cache:  cacheService,
		keys:   keySerializer,
		logger: o.logger,
	}
}

// Epoch is the current invalidation epoch.
func (c *CachedRepository[T]) Epoch() uint64 { return c.epoch.Load() }

// Invalidate drops every cached read. Callers that write around the decorator,
// for example in a transaction on the raw bun.IDB, call it after commit.
func (c *CachedRepository[T]) Invalidate(ctx context.Context) error {
	old := c.epoch.Add(1) - 1
	return c.cache.DeleteByPrefix(ctx, c.keys.GenerationPrefix(old))
}

func (c *CachedRepository[T]) key(method string, args ...any) string {
	return c.keys.SerializeKey(c.epoch.Load(), method, args...)
}

func (c *CachedRepository[T]) Get(ctx context.Context, criteria ...repository.SelectCriteria) (T, error) {
	if len(criteria) > 0 {
		return c.base.Get(ctx, criteria...)
	}
	return cache.GetOrFetch(ctx, c.cache, c.key("Get"), func(ctx context.Context) (T, error) {
		return c.base.Get(ctx)
	})
}

func (c *CachedRepository[T]) GetByID(ctx context.Context, id string, criteria ...repository.SelectCriteria) (T, error) {
	if len(criteria) > 0 {
		return c.base.GetByID(ctx, id, criteria...)
	}
	return cache.GetOrFetch(ctx, c.cache, c.key("GetByID", id), func(ctx context.Context) (T, error) {
		return c.base.GetByID(ctx, id)
	})
}

func (c *CachedRepository[T]) GetByIdentifier(ctx context.Context, identifier string, criteria ...repository.SelectCriteria) (T, error) {
	if len(criteria) > 0 {
		return c.base.GetByIdentifier(ctx, identifier, criteria...)
	}
	return cache.GetOrFetch(ctx, c.cache, c.key("GetByIdentifier", identifier), func(ctx context.Context) (T, error) {
		return c.base.GetByIdentifier(ctx, identifier)
	})
}

func (c *CachedRepository[T]) List(ctx context.Context, criteria ...repository.SelectCriteria) ([]T, int, error) {
	if len(criteria) > 0 {
		return c.base.List(ctx, criteria...)
	}
	res, err := cache.GetOrFetch(ctx, c.cache, c.key("List"), func(ctx context.Context) (listResult[T], error) {
		records, total, err := c.base.List(ctx)
		return listResult[T]{Records: records, Total: total}, err
	})
	if err != nil {
		return nil, 0, err
	}
	return res.Records, res.Total, nil
}

func (c *CachedRepository[T]) Count(ctx context.Context, criteria ...repository.SelectCriteria) (int, error) {
	if len(criteria) > 0 {
		return c.base.Count(ctx, criteria...)
	}
	return cache.GetOrFetch(ctx, c.cache, c.key("Count"), func(ctx context.Context) (int, error) {
		return c.base.Count(ctx)
	})
}

// written invalidates after a successful write and passes err through. The
// write has already happened, so a failed purge is logged rather than
// returned. Readers have moved to the new epoch either way.
func (c *CachedRepository[T]) written(ctx context.Context, err error) error {
	if err == nil {
		if perr := c.Invalidate(ctx); perr != nil {
			c.logger.Warn().Err(perr).Uint64("epoch", c.Epoch()).Msg("purge cached rows after write")
		}
	}
	return err
}

func (c *CachedRepository[T]) Create(ctx context.Context, record T, criteria ...repository.InsertCriteria) (T, error) {
	result, err := c.base.Create(ctx, record, criteria...)
	return result, c.written(ctx, err)
}

func (c *CachedRepository[T]) CreateTx(ctx context.Context, tx bun.IDB, record T, criteria ...repository.InsertCriteria) (T, error) {
	result, err := c.base.CreateTx(ctx, tx, record, criteria...)
	return result, c.written(ctx, err)
}

func (c *CachedRepository[T]) CreateMany(ctx context.Context, records []T, criteria ...repository.InsertCriteria) ([]T, error) {
	result, err := c.base.CreateMany(ctx, records, criteria...)
	return result, c.written(ctx, err)
}

func (c *CachedRepository[T]) CreateManyTx(ctx context.Context, tx bun.IDB, records []T, criteria ...repository.InsertCriteria) ([]T, error) {
	result, err := c.base.CreateManyTx(ctx, tx, records, criteria...)
	return result, c.written(ctx, err)
}

func (c *CachedRepository[T]) GetOrCreate(ctx context.Context, record T) (T, error) {
	result, err := c.base.GetOrCreate(ctx, record)
	return result, c.written(ctx, err)
}

func (c *CachedRepository[T]) GetOrCreateTx(ctx context.Context, tx bun.IDB, record T) (T, error) {
	result, err := c.base.GetOrCreateTx(ctx, tx, record)
	return result, c.written(ctx, err)
}

func (c *CachedRepository[T]) Update(ctx context.Context, record T, criteria ...repository.UpdateCriteria) (T, error) {
	result, err := c.base.Update(ctx, record, criteria...)
	return result, c.written(ctx, err)
}

func (c *CachedRepository[T]) UpdateTx(ctx context.Context, tx bun.IDB, record T, criteria ...repository.UpdateCriteria) (T, error) {
	result, err := c.base.UpdateTx(ctx, tx, record, criteria...)
	return result, c.written(ctx, err)
}

func (c *CachedRepository[T]) UpdateMany(ctx context.Context, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	result, err := c.base.UpdateMany(ctx, records, criteria...)
	return result, c.written(ctx, err)
}

func (c *CachedRepository[T]) UpdateManyTx(ctx context.Context, tx bun.IDB, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	result, err := c.base.UpdateManyTx(ctx, tx, records, criteria...)
	return result, c.written(ctx, err)
}

func (c *CachedRepository[T]) Upsert(ctx context.Context, record T, criteria ...repository.UpdateCriteria) (T, error) {
	result, err := c.base.Upsert(ctx, record, criteria...)
	return result, c.written(ctx, err)
}

func (c *CachedRepository[T]) UpsertTx(ctx context.Context, tx bun.IDB, record T, criteria ...repository.UpdateCriteria) (T, error) {
	result, err := c.base.UpsertTx(ctx, tx, record, criteria...)
	return result, c.written(ctx, err)
}

func (c *CachedRepository[T]) UpsertMany(ctx context.Context, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	result, err := c.base.UpsertMany(ctx, records, criteria...)
	return result, c.written(ctx, err)
}

func (c *CachedRepository[T]) UpsertManyTx(ctx context.Context, tx bun.IDB, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	result, err := c.base.UpsertManyTx(ctx, tx, records, criteria...)
	return result, c.written(ctx, err)
}

func (c *CachedRepository[T]) Delete(ctx context.Context, record T) error {
	return c.written(ctx, c.base.Delete(ctx, record))
}

func (c *CachedRepository[T]) DeleteTx(ctx context.Context, tx bun.IDB, record T) error {
	return c.written(ctx, c.base.DeleteTx(ctx, tx, record))
}

func (c *CachedRepository[T]) DeleteMany(ctx context.Context, criteria ...repository.DeleteCriteria) error {
	return c.written(ctx, c.base.DeleteMany(ctx, criteria...))
}

func (c *CachedRepository[T]) DeleteManyTx(ctx context.Context, tx bun.IDB, criteria ...repository.DeleteCriteria) error {
	return c.written(ctx, c.base.DeleteManyTx(ctx, tx, criteria...))
}

func (c *CachedRepository[T]) DeleteWhere(ctx context.Context, criteria ...repository.DeleteCriteria) error {
	return c.written(ctx, c.base.DeleteWhere(ctx, criteria...))
}

func (c *CachedRepository[T]) DeleteWhereTx(ctx context.Context, tx bun.IDB, criteria ...repository.DeleteCriteria) error {
	return c.written(ctx, c.base.DeleteWhereTx(ctx, tx, criteria...))
}

func (c *CachedRepository[T]) ForceDelete(ctx context.Context, record T) error {
	return c.written(ctx, c.base.ForceDelete(ctx, record))
}

func (c *CachedRepository[T]) ForceDeleteTx(ctx context.Context, tx bun.IDB, record T) error {
	return c.written(ctx, c.base.ForceDeleteTx(ctx, tx, record))
}

// Reads inside a transaction may see uncommitted rows and are never cached.

func (c *CachedRepository[T]) GetTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) (T, error) {
	return c.base.GetTx(ctx, tx, criteria...)
}

func (c *CachedRepository[T]) GetByIDTx(ctx context.Context, tx bun.IDB, id string, criteria ...repository.SelectCriteria) (T, error) {
	return c.base.GetByIDTx(ctx, tx, id, criteria...)
}

func (c *CachedRepository[T]) ListTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) ([]T, int, error) {
	return c.base.ListTx(ctx, tx, criteria...)
}

func (c *CachedRepository[T]) CountTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) (int, error) {
	return c.base.CountTx(ctx, tx, criteria...)
}

func (c *CachedRepository[T]) GetByIdentifierTx(ctx context.Context, tx bun.IDB, identifier string, criteria ...repository.SelectCriteria) (T, error) {
	return c.base.GetByIdentifierTx(ctx, tx, identifier, criteria...)
}

func (c *CachedRepository[T]) Raw(ctx context.Context, sql string, args ...any) ([]T, error) {
	return c.base.Raw(ctx, sql, args...)
}

func (c *CachedRepository[T]) RawTx(ctx context.Context, tx bun.IDB, sql string, args ...any) ([]T, error) {
	return c.base.RawTx(ctx, tx, sql, args...)
}

func (c *CachedRepository[T]) Handlers() repository.ModelHandlers[T] {
	return c.base.Handlers()
}
