package snapshot

import (
	"sync/atomic"

	"github.com/goliatone/go-content-cache/internal/contentstore"
)

// generation is a published store plus its reference count. The manager holds
// one reference while the generation is current and every live snapshot holds
// one more. Once the count reaches zero the generation is reclaimed and can
// never be acquired again.
type generation struct {
	id    uint64
	store *contentstore.Store
	refs  atomic.Int64
}

func newGeneration(id uint64, store *contentstore.Store) *generation {
	g := &generation{id: id, store: store}
	g.refs.Store(1)
	return g
}

// acquire takes a reference unless the generation was already reclaimed.
func (g *generation) acquire() bool {
	for {
		n := g.refs.Load()
		if n <= 0 {
			return false
		}
		if g.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// release drops a reference and reports whether it was the last one.
func (g *generation) release() bool {
	return g.refs.Add(-1) == 0
}
