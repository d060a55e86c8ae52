// Package repositorycache decorates a go-repository-bun repository with a
// read-through cache.
//
// Reads without criteria (Get, GetByID, GetByIdentifier, List, Count) are
// served from a cache.CacheService. Reads with criteria and reads inside a
// transaction go straight to the base repository. Every successful write moves
// the decorator to a new epoch; keys of older epochs are purged and never read
// again.
//
//	rows := repository.NewRepository[*NodeRow](db, handlers)
//	cached := repositorycache.New(rows, cacheService, nil)
//
//	row, err := cached.GetByID(ctx, key.String())
//
// Code that writes around the decorator calls Invalidate once its transaction
// has committed.
package repositorycache
