package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-content-cache/cache"
	"github.com/goliatone/go-content-cache/content"
	"github.com/goliatone/go-content-cache/internal/contentstore"
)

func page(id, parent, sort int, name string) *content.Node {
	return content.NewNode(content.NodeInit{
		ID:        id,
		ParentID:  parent,
		SortOrder: sort,
		Published: &content.ContentData{Name: name},
	})
}

func insert(seq uint64, n *content.Node) content.ChangeRecord {
	return content.ChangeRecord{Seq: seq, ContentID: n.ID(), Op: content.OpInsert, Node: n}
}

// seeded returns a manager publishing A(1) -> B(2) -> C(3) and R(4) at seq 4.
func seeded(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	store, err := contentstore.Build(content.Tree{
		Seq: 4,
		Nodes: []*content.Node{
			page(1, content.RootParentID, 0, "Home"),
			page(2, 1, 0, "About Us"),
			page(3, 2, 0, "Team"),
			page(4, content.RootParentID, 1, "Other Site"),
		},
	})
	require.NoError(t, err)
	m := NewManager(opts...)
	m.Publish(store)
	return m
}

func childIDs(t *testing.T, s *Snapshot, id int) []int {
	t.Helper()
	seq, err := s.GetChildren(id)
	require.NoError(t, err)
	var out []int
	for n := range seq {
		out = append(out, n.ID())
	}
	return out
}

func TestManager_NotReady(t *testing.T) {
	m := NewManager()

	assert.False(t, m.Ready())
	_, err := m.CreateSnapshot(false)
	assert.ErrorIs(t, err, content.ErrNotReady)
	assert.ErrorIs(t, m.ApplyChange(context.Background(), insert(1, page(1, content.RootParentID, 0, "x"))), content.ErrNotReady)
}

func TestManager_SnapshotIsolation(t *testing.T) {
	m := seeded(t)
	ctx := context.Background()

	before, err := m.CreateSnapshot(false)
	require.NoError(t, err)
	defer before.Release()

	require.NoError(t, m.ApplyChange(ctx, content.ChangeRecord{Seq: 5, ContentID: 2, Op: content.OpMove, ParentID: 4}))

	after, err := m.CreateSnapshot(false)
	require.NoError(t, err)
	defer after.Release()

	assert.Equal(t, []int{2}, childIDs(t, before, 1))
	assert.Empty(t, childIDs(t, before, 4))
	c, err := before.GetNode(3)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, c.Path())

	assert.Empty(t, childIDs(t, after, 1))
	assert.Equal(t, []int{2}, childIDs(t, after, 4))
	c, err = after.GetNode(3)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 2, 3}, c.Path())

	assert.Equal(t, uint64(4), before.Seq())
	assert.Equal(t, uint64(5), after.Seq())
	assert.Less(t, before.Generation(), after.Generation())
}

func TestManager_ReferenceLifecycle(t *testing.T) {
	var reclaimed []uint64
	m := seeded(t, WithReclaimHook(func(gen uint64) { reclaimed = append(reclaimed, gen) }))
	ctx := context.Background()

	s1, err := m.CreateSnapshot(false)
	require.NoError(t, err)
	s2, err := m.CreateSnapshot(true)
	require.NoError(t, err)
	first := s1.Generation()
	require.Equal(t, first, s2.Generation())

	require.NoError(t, m.ApplyChange(ctx, insert(5, page(5, 4, 0, "News"))))
	assert.ElementsMatch(t, []uint64{first, first + 1}, m.LiveGenerations())
	assert.Empty(t, reclaimed)

	require.NoError(t, s1.Release())
	assert.Empty(t, reclaimed, "generation still pinned by s2")

	require.NoError(t, s2.Release())
	assert.Equal(t, []uint64{first}, reclaimed)
	assert.Equal(t, []uint64{first + 1}, m.LiveGenerations())

	// The current generation is never reclaimed while it is current.
	s3, err := m.CreateSnapshot(false)
	require.NoError(t, err)
	require.NoError(t, s3.Release())
	assert.Equal(t, []uint64{first}, reclaimed)
	assert.Equal(t, int64(1), m.Stats().Reclaimed)
}

func TestSnapshot_ReleasedSnapshotFails(t *testing.T) {
	m := seeded(t)
	s, err := m.CreateSnapshot(false)
	require.NoError(t, err)
	require.NoError(t, s.Release())

	_, err = s.GetNode(1)
	assert.ErrorIs(t, err, content.ErrSnapshotReleased)
	_, err = s.GetChildren(1)
	assert.ErrorIs(t, err, content.ErrSnapshotReleased)
	_, err = s.GetAtRoot(content.KindContent)
	assert.ErrorIs(t, err, content.ErrSnapshotReleased)
	_, err = s.GetRoute(context.Background(), 1)
	assert.ErrorIs(t, err, content.ErrSnapshotReleased)
	assert.ErrorIs(t, s.Release(), content.ErrSnapshotReleased)
}

func TestManager_DuplicateAndInconsistentChanges(t *testing.T) {
	m := seeded(t)
	ctx := context.Background()
	gen := m.Stats().Generation

	require.NoError(t, m.ApplyChange(ctx, insert(3, page(9, 1, 0, "late"))))
	assert.Equal(t, gen, m.Stats().Generation, "duplicate must not publish")

	err := m.ApplyChange(ctx, content.ChangeRecord{Seq: 5, ContentID: 99, Op: content.OpRemove})
	assert.True(t, content.IsInconsistent(err))
	assert.Equal(t, gen, m.Stats().Generation)

	err = m.ApplyChange(ctx, content.ChangeRecord{Seq: 6, ContentID: 1, Op: content.OpMove, ParentID: 3})
	assert.True(t, content.IsInconsistent(err), "moving a node under its descendant")

	st := m.Stats()
	assert.Equal(t, int64(0), st.Applied)
	assert.Equal(t, int64(1), st.Skipped)
	assert.Equal(t, int64(2), st.Failed)
	assert.Equal(t, uint64(4), st.Seq)
	assert.Equal(t, 4, st.Nodes)
}

func TestManager_RebuildFailureKeepsCurrent(t *testing.T) {
	m := seeded(t)
	ctx := context.Background()
	gen := m.Stats().Generation

	boom := content.StoreUnavailable(errors.New("dial tcp: refused"), "load tree")
	err := m.Rebuild(ctx, func(context.Context) (*contentstore.Store, error) { return nil, boom })
	assert.True(t, content.IsStoreUnavailable(err))
	assert.Equal(t, gen, m.Stats().Generation)

	err = m.Rebuild(ctx, func(context.Context) (*contentstore.Store, error) {
		return contentstore.Build(content.Tree{Seq: 10, Nodes: []*content.Node{page(7, content.RootParentID, 0, "Fresh")}})
	})
	require.NoError(t, err)
	st := m.Stats()
	assert.Equal(t, gen+1, st.Generation)
	assert.Equal(t, uint64(10), st.Seq)
	assert.Equal(t, 1, st.Nodes)
	assert.Equal(t, int64(1), st.Rebuilds)
}

func TestManager_ConcurrentWritersSerialize(t *testing.T) {
	m := seeded(t)
	ctx := context.Background()

	const writers = 32
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			n := page(100+i, 4, 0, fmt.Sprintf("n%d", i))
			assert.NoError(t, m.ApplyChange(ctx, content.ChangeRecord{ContentID: n.ID(), Op: content.OpInsert, Node: n}))
		}(i)
	}
	wg.Wait()

	s, err := m.CreateSnapshot(false)
	require.NoError(t, err)
	defer s.Release()

	kids := childIDs(t, s, 4)
	assert.Len(t, kids, writers)
	for i, id := range kids {
		n, err := s.GetNode(id)
		require.NoError(t, err)
		assert.Equal(t, i, n.SortOrder())
	}
	require.NoError(t, s.gen.store.Validate())
	assert.Equal(t, int64(writers), m.Stats().Applied)
}

func TestManager_ReadersSeeConsistentGenerations(t *testing.T) {
	m := seeded(t)
	ctx := context.Background()

	done := make(chan struct{})
	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				s, err := m.CreateSnapshot(false)
				if !assert.NoError(t, err) {
					return
				}
				a := s.gen.store.Validate()
				seq := s.Seq()
				b := s.gen.store.Validate()
				assert.NoError(t, a)
				assert.NoError(t, b)
				assert.Equal(t, seq, s.Seq())
				assert.NoError(t, s.Release())
			}
		}()
	}

	for i := 0; i < 200; i++ {
		parent := 1
		if i%2 == 1 {
			parent = 4
		}
		rec := content.ChangeRecord{Seq: uint64(5 + i), ContentID: 2, Op: content.OpMove, ParentID: parent, SortOrder: i % 3}
		require.NoError(t, m.ApplyChange(ctx, rec))
	}
	close(done)
	wg.Wait()

	// Only the current generation is left once all readers released.
	assert.Len(t, m.LiveGenerations(), 1)
}

func TestSnapshot_PreviewVisibility(t *testing.T) {
	m := seeded(t)
	ctx := context.Background()

	draftOnly := content.NewNode(content.NodeInit{
		ID: 10, ParentID: 1, SortOrder: 0,
		Draft: &content.ContentData{Name: "Coming Soon"},
	})
	require.NoError(t, m.ApplyChange(ctx, insert(5, draftOnly)))

	published, err := m.CreateSnapshot(false)
	require.NoError(t, err)
	defer published.Release()
	preview, err := m.CreateSnapshot(true)
	require.NoError(t, err)
	defer preview.Release()

	_, err = published.GetNode(10)
	assert.True(t, content.IsNotFound(err))
	assert.Equal(t, []int{2}, childIDs(t, published, 1))

	n, err := preview.GetNode(10)
	require.NoError(t, err)
	assert.Equal(t, "Coming Soon", n.DataFor(true).Name)
	assert.Equal(t, []int{10, 2}, childIDs(t, preview, 1))
}

func TestSnapshot_Ancestors(t *testing.T) {
	m := seeded(t)
	s, err := m.CreateSnapshot(false)
	require.NoError(t, err)
	defer s.Release()

	anc, err := s.GetAncestors(3)
	require.NoError(t, err)
	var ids []int
	for _, n := range anc {
		ids = append(ids, n.ID())
	}
	assert.Equal(t, []int{1, 2}, ids)

	_, err = s.GetAncestors(42)
	assert.True(t, content.IsNotFound(err))

	roots, err := s.GetAtRoot(content.KindContent)
	require.NoError(t, err)
	var rootIDs []int
	for n := range roots {
		rootIDs = append(rootIDs, n.ID())
	}
	assert.Equal(t, []int{1, 4}, rootIDs)
}

func TestSnapshot_AncestorsFollowVisibility(t *testing.T) {
	m := seeded(t)
	ctx := context.Background()

	draftOnly := content.NewNode(content.NodeInit{
		ID: 10, ParentID: 1, SortOrder: 0,
		Draft: &content.ContentData{Name: "Coming Soon"},
	})
	require.NoError(t, m.ApplyChange(ctx, insert(5, draftOnly)))
	require.NoError(t, m.ApplyChange(ctx, insert(6, page(11, 10, 0, "Teaser"))))

	ids := func(preview bool) []int {
		s, err := m.CreateSnapshot(preview)
		require.NoError(t, err)
		defer s.Release()
		anc, err := s.GetAncestors(11)
		require.NoError(t, err)
		var out []int
		for _, n := range anc {
			out = append(out, n.ID())
		}
		return out
	}

	assert.Equal(t, []int{1}, ids(false))
	assert.Equal(t, []int{1, 10}, ids(true))
}

func TestManager_ReclaimHookCanCallManager(t *testing.T) {
	var m *Manager
	results := make(chan error, 8)
	m = seeded(t, WithReclaimHook(func(uint64) {
		// Seq 1 is already folded in, so this only takes the writer lock.
		results <- m.ApplyChange(context.Background(), insert(1, page(1, content.RootParentID, 0, "Home")))
	}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.ApplyChange(context.Background(), insert(5, page(5, 1, 1, "Contact")))
		m.Publish(m.current.Load().store)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reclaim hook deadlocked on the writer lock")
	}
	require.Len(t, results, 2)
	for i := 0; i < 2; i++ {
		assert.NoError(t, <-results)
	}
	assert.Equal(t, int64(2), m.Stats().Reclaimed)
	assert.Equal(t, int64(2), m.Stats().Skipped)
}

func TestSnapshot_Routes(t *testing.T) {
	derived, err := cache.NewCacheService(cache.DefaultConfig())
	require.NoError(t, err)
	m := seeded(t, WithDerivedCache(derived))
	ctx := context.Background()
	require.NoError(t, m.ApplyChange(ctx, insert(5, page(5, 4, 0, "News"))))

	s, err := m.CreateSnapshot(false)
	require.NoError(t, err)
	defer s.Release()

	routes := map[int]string{1: "/", 2: "/about-us", 3: "/about-us/team", 4: "4/", 5: "4/news"}
	for id, want := range routes {
		got, err := s.GetRoute(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got, "route of %d", id)

		n, err := s.GetByRoute(ctx, content.KindContent, want)
		require.NoError(t, err, "resolve %q", want)
		assert.Equal(t, id, n.ID())
	}

	_, err = s.GetByRoute(ctx, content.KindContent, "/about-us/nobody")
	assert.True(t, content.IsNotFound(err))
	// Cached miss answers the same.
	_, err = s.GetByRoute(ctx, content.KindContent, "/about-us/nobody")
	assert.True(t, content.IsNotFound(err))

	_, err = s.GetRoute(ctx, 42)
	assert.True(t, content.IsNotFound(err))
}

func TestSnapshot_RoutesFollowMoves(t *testing.T) {
	derived, err := cache.NewCacheService(cache.DefaultConfig())
	require.NoError(t, err)
	purged := make(chan uint64, 4)
	m := seeded(t, WithDerivedCache(derived), WithReclaimHook(func(gen uint64) { purged <- gen }))
	ctx := context.Background()

	old, err := m.CreateSnapshot(false)
	require.NoError(t, err)
	r, err := old.GetRoute(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "/about-us/team", r)

	require.NoError(t, m.ApplyChange(ctx, content.ChangeRecord{Seq: 5, ContentID: 2, Op: content.OpMove, ParentID: 4}))

	cur, err := m.CreateSnapshot(false)
	require.NoError(t, err)
	defer cur.Release()
	r, err = cur.GetRoute(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "4/about-us/team", r)

	r, err = old.GetRoute(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "/about-us/team", r, "old snapshot keeps its routes")

	require.NoError(t, old.Release())
	assert.Equal(t, old.Generation(), <-purged)
}
