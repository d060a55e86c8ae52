package snapshot

import (
	"context"
	"errors"
	"iter"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/goliatone/go-content-cache/cache"
	"github.com/goliatone/go-content-cache/content"
	"github.com/goliatone/go-content-cache/internal/contentstore"
)

// Snapshot is a read view pinned to one generation. Every read returns the
// same answer for the life of the snapshot, regardless of changes published
// after it was created. A Snapshot may be shared between goroutines.
type Snapshot struct {
	m        *Manager
	gen      *generation
	preview  bool
	released atomic.Bool
}

func (s *Snapshot) Generation() uint64 { return s.gen.id }
func (s *Snapshot) Seq() uint64 { return s.gen.store.Seq() }
func (s *Snapshot) Preview() bool { return s.preview }

// Release drops the snapshot's hold on its generation. Reads afterwards, and
// a second Release, fail with content.ErrSnapshotReleased.
func (s *Snapshot) Release() error {
	if !s.released.CompareAndSwap(false, true) {
		return content.ErrSnapshotReleased
	}
	s.m.release(s.gen)
	return nil
}

func (s *Snapshot) store() (*contentstore.Store, error) {
	if s.released.Load() {
		return nil, content.ErrSnapshotReleased
	}
	return s.gen.store, nil
}

// GetNode returns the node with id. Nodes with no data visible in the
// snapshot's mode are reported as not found.
func (s *Snapshot) GetNode(id int) (*content.Node, error) {
	st, err := s.store()
	if err != nil {
		return nil, err
	}
	n, ok := st.GetNode(id)
	if !ok || !n.VisibleIn(s.preview) {
		return nil, content.NotFound(id)
	}
	return n, nil
}

// GetChildren yields the visible children of id in sort order.
func (s *Snapshot) GetChildren(id int) (iter.Seq[*content.Node], error) {
	st, err := s.store()
	if err != nil {
		return nil, err
	}
	return s.visible(st.GetChildren(id)), nil
}

// GetAtRoot yields the visible roots of kind in sort order.
func (s *Snapshot) GetAtRoot(kind content.ItemKind) (iter.Seq[*content.Node], error) {
	st, err := s.store()
	if err != nil {
		return nil, err
	}
	return s.visible(st.GetAtRoot(kind)), nil
}

// GetAncestors returns the visible ancestors of id from the root down.
func (s *Snapshot) GetAncestors(id int) ([]*content.Node, error) {
	if _, err := s.GetNode(id); err != nil {
		return nil, err
	}
	st, err := s.store()
	if err != nil {
		return nil, err
	}
	all := st.GetAncestors(id)
	out := make([]*content.Node, 0, len(all))
	for _, n := range all {
		if n.VisibleIn(s.preview) {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *Snapshot) visible(seq iter.Seq[*content.Node]) iter.Seq[*content.Node] {
	return func(yield func(*content.Node) bool) {
		for n := range seq {
			if !n.VisibleIn(s.preview) {
				continue
			}
			if !yield(n) {
				return
			}
		}
	}
}

// GetRoute returns the route of a visible node. Nodes under the first root of
// their kind get "/seg/seg"; the first root itself is "/". Nodes under any
// other root are prefixed with that root's id: "1234/seg/seg".
func (s *Snapshot) GetRoute(ctx context.Context, id int) (string, error) {
	if _, err := s.store(); err != nil {
		return "", err
	}
	return memoize(ctx, s, "GetRoute", func() (string, error) {
		return s.route(id)
	}, id)
}

// GetByRoute resolves a route produced by GetRoute back to its node.
func (s *Snapshot) GetByRoute(ctx context.Context, kind content.ItemKind, route string) (*content.Node, error) {
	if _, err := s.store(); err != nil {
		return nil, err
	}
	id, err := memoize(ctx, s, "GetByRoute", func() (int, error) {
		return s.resolve(kind, route)
	}, int(kind), route)
	if err != nil {
		return nil, err
	}
	return s.GetNode(id)
}

func (s *Snapshot) route(id int) (string, error) {
	n, err := s.GetNode(id)
	if err != nil {
		return "", err
	}
	st := s.gen.store
	path := n.Path()

	segments := make([]string, 0, len(path)-1)
	for _, pid := range path[1:] {
		p, ok := st.GetNode(pid)
		if !ok || !p.VisibleIn(s.preview) {
			return "", content.NotFound(id)
		}
		segments = append(segments, p.DataFor(s.preview).Segment())
	}
	root, ok := st.GetNode(path[0])
	if !ok || !root.VisibleIn(s.preview) {
		return "", content.NotFound(id)
	}

	route := "/" + strings.Join(segments, "/")
	if first := s.firstRoot(n.Kind()); first == nil || first.ID() != root.ID() {
		route = strconv.Itoa(root.ID()) + route
	}
	return route, nil
}

func (s *Snapshot) resolve(kind content.ItemKind, route string) (int, error) {
	var start *content.Node
	rest := route
	if i := strings.IndexByte(route, '/'); i > 0 {
		rootID, err := strconv.Atoi(route[:i])
		if err != nil {
			return 0, content.ErrNotFound
		}
		n, err := s.GetNode(rootID)
		if err != nil || !n.IsRoot() || n.Kind() != kind {
			return 0, content.NotFound(rootID)
		}
		start, rest = n, route[i:]
	} else {
		start = s.firstRoot(kind)
	}
	if start == nil || !strings.HasPrefix(rest, "/") {
		return 0, content.ErrNotFound
	}

	cur := start
	for _, seg := range strings.Split(strings.Trim(rest, "/"), "/") {
		if seg == "" {
			continue
		}
		next := s.childBySegment(cur.ID(), seg)
		if next == nil {
			return 0, content.ErrNotFound
		}
		cur = next
	}
	return cur.ID(), nil
}

func (s *Snapshot) firstRoot(kind content.ItemKind) *content.Node {
	for n := range s.visible(s.gen.store.GetAtRoot(kind)) {
		return n
	}
	return nil
}

func (s *Snapshot) childBySegment(parentID int, segment string) *content.Node {
	for n := range s.visible(s.gen.store.GetChildren(parentID)) {
		if strings.EqualFold(n.DataFor(s.preview).Segment(), segment) {
			return n
		}
	}
	return nil
}

// memoize runs fn through the derived cache when one is configured. Misses
// are stored as well, so an unknown route is resolved once per generation.
func memoize[T any](ctx context.Context, s *Snapshot, method string, fn func() (T, error), args ...any) (T, error) {
	if s.m.derived == nil {
		return fn()
	}
	key := s.m.keys.SerializeKey(s.gen.id, method, append(args, s.preview)...)
	v, err := cache.GetOrFetch(ctx, s.m.derived, key, func(context.Context) (T, error) {
		v, err := fn()
		if content.IsNotFound(err) {
			var zero T
			return zero, cache.ErrNotFound
		}
		return v, err
	})
	if errors.Is(err, cache.ErrNotFound) {
		var zero T
		return zero, content.ErrNotFound
	}
	return v, err
}
