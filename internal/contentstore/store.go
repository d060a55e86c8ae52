package contentstore

import (
	"fmt"
	"iter"
	"sort"

	"github.com/benbjohnson/immutable"

	"github.com/goliatone/go-content-cache/content"
)

// Store is one generation of the content tree.
//
// Both indexes are persistent maps: a change produces a new Store that shares
// every untouched entry with its predecessor. A Store is never mutated after
// it is returned, so it can be read from any number of goroutines.
type Store struct {
	nodes *immutable.Map[int, *content.Node]
	// children maps a parent id to its ordered child ids. Roots are indexed
	// under rootKey(kind) so that each kind keeps its own root ordering.
	children *immutable.Map[int, []int]
	seq      uint64
}

// Empty returns a store with no nodes at sequence zero.
func Empty() *Store {
	return &Store{
		nodes:    immutable.NewMap[int, *content.Node](nil),
		children: immutable.NewMap[int, []int](nil),
	}
}

// rootKey is the child index key for the roots of a kind: -1 for content,
// -2 for media, -3 for members.
func rootKey(kind content.ItemKind) int {
	return content.RootParentID - int(kind)
}

func parentKey(n *content.Node) int {
	if n.IsRoot() {
		return rootKey(n.Kind())
	}
	return n.ParentID()
}

// Seq is the sequence number of the last change folded into this generation.
func (s *Store) Seq() uint64 { return s.seq }

// Len is the number of nodes across all kinds.
func (s *Store) Len() int { return s.nodes.Len() }

// GetNode is a constant time lookup by id.
func (s *Store) GetNode(id int) (*content.Node, bool) {
	return s.nodes.Get(id)
}

// GetChildren yields the children of id in sort order. The sequence can be
// ranged over any number of times.
func (s *Store) GetChildren(id int) iter.Seq[*content.Node] {
	return s.yieldIDs(id)
}

// GetAtRoot yields the roots of a kind in sort order.
func (s *Store) GetAtRoot(kind content.ItemKind) iter.Seq[*content.Node] {
	return s.yieldIDs(rootKey(kind))
}

func (s *Store) yieldIDs(key int) iter.Seq[*content.Node] {
	ids, _ := s.children.Get(key)
	return func(yield func(*content.Node) bool) {
		for _, id := range ids {
			n, ok := s.nodes.Get(id)
			if !ok {
				continue
			}
			if !yield(n) {
				return
			}
		}
	}
}

// GetAncestors returns the ancestors of id from the root down, excluding the
// node itself. It returns nil when id is unknown.
func (s *Store) GetAncestors(id int) []*content.Node {
	n, ok := s.nodes.Get(id)
	if !ok {
		return nil
	}
	path := n.Path()
	out := make([]*content.Node, 0, len(path))
	for _, aid := range path[:len(path)-1] {
		if a, ok := s.nodes.Get(aid); ok {
			out = append(out, a)
		}
	}
	return out
}

// All yields every node depth first, kind by kind, siblings in sort order.
func (s *Store) All() iter.Seq[*content.Node] {
	return func(yield func(*content.Node) bool) {
		for _, kind := range []content.ItemKind{content.KindContent, content.KindMedia, content.KindMember} {
			if !s.walk(rootKey(kind), yield) {
				return
			}
		}
	}
}

func (s *Store) walk(key int, yield func(*content.Node) bool) bool {
	ids, _ := s.children.Get(key)
	for _, id := range ids {
		n, ok := s.nodes.Get(id)
		if !ok {
			continue
		}
		if !yield(n) {
			return false
		}
		if !s.walk(id, yield) {
			return false
		}
	}
	return true
}

// Build assembles a generation from a full load. Siblings are ordered by sort
// order then id and renumbered from zero.
func Build(tree content.Tree) (*Store, error) {
	byParent := make(map[int][]*content.Node)
	seen := make(map[int]bool, len(tree.Nodes))
	for _, n := range tree.Nodes {
		if n == nil {
			continue
		}
		if n.ID() <= 0 {
			return nil, content.InconsistentTree(n.ID(), "node id must be positive")
		}
		if seen[n.ID()] {
			return nil, content.InconsistentTree(n.ID(), fmt.Sprintf("duplicate node %d", n.ID()))
		}
		seen[n.ID()] = true
		k := parentKey(n)
		byParent[k] = append(byParent[k], n)
	}

	nodes := immutable.NewMapBuilder[int, *content.Node](nil)
	children := immutable.NewMapBuilder[int, []int](nil)
	placed := 0

	type pending struct {
		key  int
		kind content.ItemKind
		path []int
	}
	queue := []pending{
		{key: rootKey(content.KindContent), kind: content.KindContent},
		{key: rootKey(content.KindMedia), kind: content.KindMedia},
		{key: rootKey(content.KindMember), kind: content.KindMember},
	}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		kids := byParent[p.key]
		if len(kids) == 0 {
			continue
		}
		sort.SliceStable(kids, func(i, j int) bool {
			if kids[i].SortOrder() != kids[j].SortOrder() {
				return kids[i].SortOrder() < kids[j].SortOrder()
			}
			return kids[i].ID() < kids[j].ID()
		})
		ids := make([]int, 0, len(kids))
		for i, k := range kids {
			if k.Kind() != p.kind {
				return nil, content.InconsistentTree(k.ID(), fmt.Sprintf("%s node %d under %s parent", k.Kind(), k.ID(), p.kind))
			}
			path := append(append(make([]int, 0, len(p.path)+1), p.path...), k.ID())
			nodes.Set(k.ID(), k.WithSortOrder(i).WithPath(path))
			ids = append(ids, k.ID())
			placed++
			queue = append(queue, pending{key: k.ID(), kind: k.Kind(), path: path})
		}
		children.Set(p.key, ids)
	}

	if placed != len(seen) {
		for _, n := range tree.Nodes {
			if n == nil {
				continue
			}
			if _, ok := nodes.Get(n.ID()); !ok {
				return nil, content.InconsistentTree(n.ID(), fmt.Sprintf("node %d is not reachable from a root (parent %d)", n.ID(), n.ParentID()))
			}
		}
	}

	return &Store{nodes: nodes.Map(), children: children.Map(), seq: tree.Seq}, nil
}

// Validate checks the structural invariants of the generation: every path is
// its parent's path plus its own id, no path repeats an id, the child index
// only references existing nodes, and sibling sort orders are contiguous.
func (s *Store) Validate() error {
	itr := s.nodes.Iterator()
	for !itr.Done() {
		id, n, _ := itr.Next()
		path := n.Path()
		if len(path) == 0 || path[len(path)-1] != id {
			return fmt.Errorf("node %d: path %v does not end with its id", id, path)
		}
		seen := make(map[int]bool, len(path))
		for _, p := range path {
			if seen[p] {
				return fmt.Errorf("node %d: cycle in path %v", id, path)
			}
			seen[p] = true
		}
		if n.IsRoot() {
			if len(path) != 1 {
				return fmt.Errorf("root %d: path %v", id, path)
			}
		} else {
			parent, ok := s.nodes.Get(n.ParentID())
			if !ok {
				return fmt.Errorf("node %d: dangling parent %d", id, n.ParentID())
			}
			pp := parent.Path()
			if len(pp)+1 != len(path) {
				return fmt.Errorf("node %d: path %v is not parent path %v plus id", id, path, pp)
			}
			for i := range pp {
				if pp[i] != path[i] {
					return fmt.Errorf("node %d: path %v is not parent path %v plus id", id, path, pp)
				}
			}
		}
		siblings, _ := s.children.Get(parentKey(n))
		if n.SortOrder() < 0 || n.SortOrder() >= len(siblings) || siblings[n.SortOrder()] != id {
			return fmt.Errorf("node %d: sort order %d does not match its position among %v", id, n.SortOrder(), siblings)
		}
	}

	citr := s.children.Iterator()
	for !citr.Done() {
		key, ids, _ := citr.Next()
		for _, id := range ids {
			if _, ok := s.nodes.Get(id); !ok {
				return fmt.Errorf("child index %d references missing node %d", key, id)
			}
		}
	}
	return nil
}
