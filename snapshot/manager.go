package snapshot

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"

	"github.com/goliatone/go-content-cache/cache"
	"github.com/goliatone/go-content-cache/content"
	"github.com/goliatone/go-content-cache/internal/contentstore"
)

// LoadFunc produces a complete store, typically from the persisted database.
type LoadFunc func(ctx context.Context) (*contentstore.Store, error)

// ReclaimHook is called once per generation after its last reference is gone.
type ReclaimHook func(generation uint64)

// Stats is a point in time view of the manager.
type Stats struct {
	Generation      uint64 `json:"generation"`
	Seq             uint64 `json:"seq"`
	Nodes           int    `json:"nodes"`
	LiveGenerations int    `json:"live_generations"`
	Applied         int64  `json:"applied"`
	Skipped         int64  `json:"skipped"`
	Failed          int64  `json:"failed"`
	Rebuilds        int64  `json:"rebuilds"`
	Reclaimed       int64  `json:"reclaimed"`
}

// Manager owns the current generation. Writers are serialized by a mutex;
// readers never take it and only touch the atomic current pointer and the
// generation reference counts.
type Manager struct {
	mu      sync.Mutex
	current atomic.Pointer[generation]
	nextID  uint64

	live *xsync.MapOf[uint64, *generation]

	applied   *xsync.Counter
	skipped   *xsync.Counter
	failed    *xsync.Counter
	rebuilds  *xsync.Counter
	reclaimed *xsync.Counter

	derived cache.CacheService
	keys    cache.KeySerializer
	hooks   []ReclaimHook
	logger  zerolog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithDerivedCache memoizes route lookups in svc. Entries of a generation are
// purged when it is reclaimed.
func WithDerivedCache(svc cache.CacheService) Option {
	return func(m *Manager) {
		m.derived = svc
	}
}

// WithKeySerializer overrides the key layout used for derived values.
func WithKeySerializer(keys cache.KeySerializer) Option {
	return func(m *Manager) {
		if keys != nil {
			m.keys = keys
		}
	}
}

// WithReclaimHook registers fn to run when a generation is reclaimed.
func WithReclaimHook(fn ReclaimHook) Option {
	return func(m *Manager) {
		if fn != nil {
			m.hooks = append(m.hooks, fn)
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager returns a manager with no published generation. CreateSnapshot
// fails with content.ErrNotReady until Publish, Rebuild or ApplyChange on a
// seeded manager succeeds.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		live:      xsync.NewMapOf[uint64, *generation](),
		applied:   xsync.NewCounter(),
		skipped:   xsync.NewCounter(),
		failed:    xsync.NewCounter(),
		rebuilds:  xsync.NewCounter(),
		reclaimed: xsync.NewCounter(),
		keys:      cache.NewGenerationKeySerializer("snapshot"),
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Ready reports whether a generation has been published.
func (m *Manager) Ready() bool {
	return m.current.Load() != nil
}

// Seq is the sequence number of the current generation, zero before the first
// publish.
func (m *Manager) Seq() uint64 {
	if g := m.current.Load(); g != nil {
		return g.store.Seq()
	}
	return 0
}

// ApplyChange folds rec into the current generation and publishes the result.
// A duplicate record is a no-op. An inconsistent record leaves the current
// generation untouched and returns content.ErrInconsistentChange.
func (m *Manager) ApplyChange(ctx context.Context, rec content.ChangeRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	prev, err := m.applyLocked(rec)
	m.releaseReplaced(prev)
	return err
}

func (m *Manager) applyLocked(rec content.ChangeRecord) (*generation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.current.Load()
	if cur == nil {
		return nil, content.ErrNotReady
	}

	next, err := cur.store.WithChange(rec)
	if err != nil {
		m.failed.Inc()
		return nil, err
	}
	if next == cur.store {
		m.skipped.Inc()
		m.logger.Debug().
			Uint64("seq", rec.Seq).
			Int("content_id", rec.ContentID).
			Str("op", rec.Op.String()).
			Msg("duplicate change skipped")
		return nil, nil
	}

	m.applied.Inc()
	return m.publishLocked(next), nil
}

// Rebuild replaces the current generation with the result of load. The writer
// lock is held for the whole load so no change can interleave with it. On
// failure the current generation keeps serving.
func (m *Manager) Rebuild(ctx context.Context, load LoadFunc) error {
	prev, err := m.rebuildLocked(ctx, load)
	m.releaseReplaced(prev)
	return err
}

func (m *Manager) rebuildLocked(ctx context.Context, load LoadFunc) (*generation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	store, err := load(ctx)
	if err != nil {
		return nil, err
	}
	m.rebuilds.Inc()
	prev := m.publishLocked(store)
	m.logger.Info().
		Uint64("generation", m.nextID).
		Uint64("seq", store.Seq()).
		Int("nodes", store.Len()).
		Msg("store rebuilt")
	return prev, nil
}

// Publish makes store the current generation.
func (m *Manager) Publish(store *contentstore.Store) {
	m.mu.Lock()
	prev := m.publishLocked(store)
	m.mu.Unlock()
	m.releaseReplaced(prev)
}

// publishLocked installs store and returns the generation it replaced. The
// caller drops the writer lock before releasing it, so reclaim hooks may call
// back into the manager.
func (m *Manager) publishLocked(store *contentstore.Store) *generation {
	m.nextID++
	g := newGeneration(m.nextID, store)
	m.live.Store(g.id, g)
	return m.current.Swap(g)
}

func (m *Manager) releaseReplaced(prev *generation) {
	if prev != nil {
		m.release(prev)
	}
}

// CreateSnapshot pins the current generation. The caller must Release the
// snapshot when done.
func (m *Manager) CreateSnapshot(preview bool) (*Snapshot, error) {
	for {
		g := m.current.Load()
		if g == nil {
			return nil, content.ErrNotReady
		}
		// A failed acquire means g was replaced and reclaimed between the load
		// and the CAS; the next load sees its successor.
		if g.acquire() {
			return &Snapshot{m: m, gen: g, preview: preview}, nil
		}
	}
}

func (m *Manager) release(g *generation) {
	if !g.release() {
		return
	}
	m.live.Delete(g.id)
	m.reclaimed.Inc()
	if m.derived != nil {
		if err := m.derived.DeleteByPrefix(context.Background(), m.keys.GenerationPrefix(g.id)); err != nil {
			m.logger.Warn().Err(err).Uint64("generation", g.id).Msg("purge derived values")
		}
	}
	for _, hook := range m.hooks {
		hook(g.id)
	}
	m.logger.Debug().Uint64("generation", g.id).Msg("generation reclaimed")
}

// LiveGenerations lists the ids of generations that are still referenced.
func (m *Manager) LiveGenerations() []uint64 {
	ids := make([]uint64, 0, m.live.Size())
	m.live.Range(func(id uint64, _ *generation) bool {
		ids = append(ids, id)
		return true
	})
	return ids
}

func (m *Manager) Stats() Stats {
	st := Stats{
		LiveGenerations: m.live.Size(),
		Applied:         m.applied.Value(),
		Skipped:         m.skipped.Value(),
		Failed:          m.failed.Value(),
		Rebuilds:        m.rebuilds.Value(),
		Reclaimed:       m.reclaimed.Value(),
	}
	if g := m.current.Load(); g != nil {
		st.Generation = g.id
		st.Seq = g.store.Seq()
		st.Nodes = g.store.Len()
	}
	return st
}
