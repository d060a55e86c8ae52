// Package cache memoizes values derived from a content store generation.
//
// Snapshots are immutable, so anything computed from one (a route, a lookup
// by route) stays valid for as long as its generation lives. Keys are scoped by
// generation:
//
//	serializer := cache.NewGenerationKeySerializer("routes")
//	key := serializer.SerializeKey(gen, "GetRoute", id, preview)
//	route, err := cache.GetOrFetch(ctx, svc, key, func(ctx context.Context) (string, error) {
//		return resolve(id)
//	})
//
// When a generation is reclaimed its entries are dropped in one call:
//
//	svc.DeleteByPrefix(ctx, serializer.GenerationPrefix(gen))
//
// A fetch function returning ErrNotFound records a miss; later lookups of the
// same key return ErrNotFound without running the fetch again.
package cache
