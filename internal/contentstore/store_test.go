package contentstore

import (
	"fmt"
	"math/rand"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-content-cache/content"
)

func page(id, parent, sort int) *content.Node {
	return content.NewNode(content.NodeInit{
		ID:        id,
		ParentID:  parent,
		SortOrder: sort,
		Published: &content.ContentData{Name: fmt.Sprintf("page %d", id)},
	})
}

func insert(seq uint64, n *content.Node) content.ChangeRecord {
	return content.ChangeRecord{Seq: seq, ContentID: n.ID(), Op: content.OpInsert, Node: n}
}

func mustApply(t *testing.T, s *Store, recs ...content.ChangeRecord) *Store {
	t.Helper()
	for _, rec := range recs {
		next, err := s.WithChange(rec)
		require.NoError(t, err, "applying %s", rec)
		require.NoError(t, next.Validate(), "after %s", rec)
		s = next
	}
	return s
}

func ids(seq func(func(*content.Node) bool)) []int {
	var out []int
	for n := range seq {
		out = append(out, n.ID())
	}
	return out
}

func nodeIDs(nodes []*content.Node) []int {
	out := make([]int, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.ID())
	}
	return out
}

// abcr builds A(1) -> B(2) -> C(3) plus a second root R(4).
func abcr(t *testing.T) *Store {
	return mustApply(t, Empty(),
		insert(1, page(1, content.RootParentID, 0)),
		insert(2, page(2, 1, 0)),
		insert(3, page(3, 2, 0)),
		insert(4, page(4, content.RootParentID, 1)),
	)
}

func TestStore_InsertAndRead(t *testing.T) {
	s := abcr(t)

	assert.Equal(t, uint64(4), s.Seq())
	assert.Equal(t, 4, s.Len())
	assert.Equal(t, []int{1, 4}, ids(s.GetAtRoot(content.KindContent)))
	assert.Equal(t, []int{2}, ids(s.GetChildren(1)))
	assert.Equal(t, []int{1, 2}, nodeIDs(s.GetAncestors(3)))

	c, ok := s.GetNode(3)
	require.True(t, ok)
	assert.Equal(t, []int{1, 2, 3}, c.Path())
	assert.Equal(t, 3, c.Level())
}

func TestStore_GetChildrenIsRestartable(t *testing.T) {
	s := mustApply(t, Empty(),
		insert(1, page(1, content.RootParentID, 0)),
		insert(2, page(2, 1, 0)),
		insert(3, page(3, 1, 1)),
	)
	children := s.GetChildren(1)
	assert.Equal(t, []int{2, 3}, ids(children))
	assert.Equal(t, []int{2, 3}, ids(children))

	for n := range children {
		assert.Equal(t, 2, n.ID())
		break
	}
}

func TestStore_MoveSubtree(t *testing.T) {
	s := abcr(t)

	s = mustApply(t, s, content.ChangeRecord{Seq: 5, ContentID: 2, Op: content.OpMove, ParentID: 4})

	assert.Empty(t, ids(s.GetChildren(1)))
	assert.Equal(t, []int{2}, ids(s.GetChildren(4)))
	assert.Equal(t, []int{4, 2}, nodeIDs(s.GetAncestors(3)))

	c, _ := s.GetNode(3)
	assert.Equal(t, "-1,4,2,3", c.PathString())
}

func TestStore_MoveKeepsSiblingOrderContiguous(t *testing.T) {
	s := mustApply(t, Empty(),
		insert(1, page(1, content.RootParentID, 0)),
		insert(2, page(2, 1, 0)),
		insert(3, page(3, 1, 1)),
		insert(4, page(4, 1, 2)),
		insert(5, page(5, content.RootParentID, 1)),
		insert(6, page(6, 5, 0)),
		insert(7, page(7, 5, 1)),
	)

	s = mustApply(t, s, content.ChangeRecord{Seq: 8, ContentID: 3, Op: content.OpMove, ParentID: 5, SortOrder: 1})

	assert.Equal(t, []int{2, 4}, ids(s.GetChildren(1)))
	assert.Equal(t, []int{6, 3, 7}, ids(s.GetChildren(5)))
	for i, id := range []int{6, 3, 7} {
		n, _ := s.GetNode(id)
		assert.Equal(t, i, n.SortOrder(), "node %d", id)
	}
	four, _ := s.GetNode(4)
	assert.Equal(t, 1, four.SortOrder())
}

func TestStore_MoveIntoOwnSubtreeFails(t *testing.T) {
	s := abcr(t)

	_, err := s.WithChange(content.ChangeRecord{Seq: 5, ContentID: 1, Op: content.OpMove, ParentID: 3})
	require.Error(t, err)
	assert.True(t, content.IsInconsistent(err))

	_, err = s.WithChange(content.ChangeRecord{Seq: 5, ContentID: 2, Op: content.OpMove, ParentID: 2})
	assert.True(t, content.IsInconsistent(err))
}

func TestStore_InconsistentChanges(t *testing.T) {
	s := abcr(t)

	tests := []struct {
		name string
		rec  content.ChangeRecord
	}{
		{name: "insert under missing parent", rec: insert(5, page(9, 99, 0))},
		{name: "update missing target", rec: content.ChangeRecord{Seq: 5, ContentID: 99, Op: content.OpUpdate, Node: page(99, 1, 0)}},
		{name: "remove missing target", rec: content.ChangeRecord{Seq: 5, ContentID: 99, Op: content.OpRemove}},
		{name: "move missing target", rec: content.ChangeRecord{Seq: 5, ContentID: 99, Op: content.OpMove, ParentID: 1}},
		{name: "move under missing parent", rec: content.ChangeRecord{Seq: 5, ContentID: 3, Op: content.OpMove, ParentID: 99}},
		{name: "publish missing target", rec: content.ChangeRecord{Seq: 5, ContentID: 99, Op: content.OpPublishStatusChange}},
		{name: "insert without node", rec: content.ChangeRecord{Seq: 5, ContentID: 9, Op: content.OpInsert}},
		{name: "media under content", rec: insert(5, content.NewNode(content.NodeInit{ID: 9, ParentID: 1, Kind: content.KindMedia}))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, err := s.WithChange(tt.rec)
			require.Error(t, err)
			assert.Nil(t, next)
			assert.True(t, content.IsInconsistent(err))
		})
	}

	// the failed changes left the generation untouched
	require.NoError(t, s.Validate())
	assert.Equal(t, 4, s.Len())
}

func TestStore_RemoveCascades(t *testing.T) {
	s := abcr(t)
	s = mustApply(t, s, insert(5, page(5, 1, 1)))

	s = mustApply(t, s, content.ChangeRecord{Seq: 6, ContentID: 2, Op: content.OpRemove})

	for _, id := range []int{2, 3} {
		_, ok := s.GetNode(id)
		assert.False(t, ok, "node %d should be gone", id)
	}
	assert.Equal(t, []int{5}, ids(s.GetChildren(1)))
	five, _ := s.GetNode(5)
	assert.Equal(t, 0, five.SortOrder())
	assert.Equal(t, 3, s.Len())
}

func TestStore_DuplicateDeliveryIsNoop(t *testing.T) {
	s := abcr(t)
	move := content.ChangeRecord{Seq: 5, ContentID: 2, Op: content.OpMove, ParentID: 4}

	once := mustApply(t, s, move)
	twice, err := once.WithChange(move)
	require.NoError(t, err)
	assert.Same(t, once, twice)

	// an older record is also skipped
	stale, err := once.WithChange(content.ChangeRecord{Seq: 2, ContentID: 99, Op: content.OpRemove})
	require.NoError(t, err)
	assert.Same(t, once, stale)
}

func TestStore_UnsequencedInsertIsIdempotent(t *testing.T) {
	s := abcr(t)
	rec := content.ChangeRecord{ContentID: 5, Op: content.OpInsert, Node: page(5, 1, 1)}

	once := mustApply(t, s, rec)
	twice := mustApply(t, once, rec)

	assert.Equal(t, dump(once), dump(twice))
}

func TestStore_UpdateReplacesDataAndRepositions(t *testing.T) {
	s := abcr(t)
	updated := content.NewNode(content.NodeInit{
		ID:        3,
		ParentID:  4,
		SortOrder: 0,
		Published: &content.ContentData{Name: "renamed"},
	})

	s = mustApply(t, s, content.ChangeRecord{Seq: 5, ContentID: 3, Op: content.OpUpdate, Node: updated})

	c, _ := s.GetNode(3)
	assert.Equal(t, "renamed", c.Published().Name)
	assert.Equal(t, []int{1}, nodeIDs(s.GetAncestors(2)))
	assert.Equal(t, []int{4, 3}, c.Path())
	assert.Empty(t, ids(s.GetChildren(2)))
}

func TestStore_PublishStatusChange(t *testing.T) {
	s := abcr(t)
	s = mustApply(t, s, content.ChangeRecord{Seq: 5, ContentID: 3, Op: content.OpPublishStatusChange})

	c, _ := s.GetNode(3)
	assert.False(t, c.HasPublished())

	live := &content.ContentData{Name: "live"}
	s = mustApply(t, s, content.ChangeRecord{Seq: 6, ContentID: 3, Op: content.OpPublishStatusChange, Published: live})
	c, _ = s.GetNode(3)
	assert.Same(t, live, c.Published())
}

func TestStore_GenerationsShareUntouchedNodes(t *testing.T) {
	before := abcr(t)
	after := mustApply(t, before, insert(5, page(5, 4, 0)))

	a1, _ := before.GetNode(1)
	a2, _ := after.GetNode(1)
	assert.Same(t, a1, a2)

	_, ok := before.GetNode(5)
	assert.False(t, ok, "earlier generation must not see later inserts")
}

func TestStore_KindsHaveSeparateRoots(t *testing.T) {
	media := content.NewNode(content.NodeInit{ID: 10, Kind: content.KindMedia, Published: &content.ContentData{Name: "Images"}})
	member := content.NewNode(content.NodeInit{ID: 20, Kind: content.KindMember, Published: &content.ContentData{Name: "jane"}})

	s := mustApply(t, abcr(t), insert(5, media), insert(6, member))

	assert.Equal(t, []int{1, 4}, ids(s.GetAtRoot(content.KindContent)))
	assert.Equal(t, []int{10}, ids(s.GetAtRoot(content.KindMedia)))
	assert.Equal(t, []int{20}, ids(s.GetAtRoot(content.KindMember)))
	m, _ := s.GetNode(10)
	assert.Equal(t, 0, m.SortOrder())
}

func TestBuild(t *testing.T) {
	tree := content.Tree{
		Seq: 42,
		Nodes: []*content.Node{
			page(3, 2, 0),
			page(2, 1, 5),
			page(5, 1, 1),
			page(1, content.RootParentID, 0),
		},
	}

	s, err := Build(tree)
	require.NoError(t, err)
	require.NoError(t, s.Validate())

	assert.Equal(t, uint64(42), s.Seq())
	assert.Equal(t, []int{5, 2}, ids(s.GetChildren(1)))
	assert.Equal(t, []int{1, 5, 2, 3}, ids(s.All()))
}

func TestBuild_RejectsBrokenTrees(t *testing.T) {
	tests := []struct {
		name  string
		nodes []*content.Node
	}{
		{name: "dangling parent", nodes: []*content.Node{page(1, content.RootParentID, 0), page(2, 99, 0)}},
		{name: "cycle", nodes: []*content.Node{page(1, 2, 0), page(2, 1, 0)}},
		{name: "duplicate", nodes: []*content.Node{page(1, content.RootParentID, 0), page(1, content.RootParentID, 1)}},
		{name: "non positive id", nodes: []*content.Node{page(0, content.RootParentID, 0)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(content.Tree{Nodes: tt.nodes})
			require.Error(t, err)
			assert.True(t, content.IsInconsistent(err))
		})
	}
}

// dump renders a generation canonically for equality checks.
func dump(s *Store) []string {
	var out []string
	for n := range s.All() {
		name := ""
		if n.Published() != nil {
			name = n.Published().Name
		}
		out = append(out, fmt.Sprintf("%s sort=%d %q", n.PathString(), n.SortOrder(), name))
	}
	return out
}

// TestStore_RandomOperationsKeepInvariants drives a long random sequence of
// structural changes and validates the tree after each one.
func TestStore_RandomOperationsKeepInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	s := Empty()
	nextID := 1
	var seq uint64

	live := func() []int {
		var out []int
		for n := range s.All() {
			out = append(out, n.ID())
		}
		return out
	}

	for i := 0; i < 500; i++ {
		seq++
		existing := live()
		var rec content.ChangeRecord
		switch op := rng.Intn(4); {
		case op == 0 || len(existing) < 3:
			parent := content.RootParentID
			if len(existing) > 0 && rng.Intn(4) > 0 {
				parent = existing[rng.Intn(len(existing))]
			}
			rec = insert(seq, page(nextID, parent, rng.Intn(4)))
			nextID++
		case op == 1:
			target := existing[rng.Intn(len(existing))]
			parent := existing[rng.Intn(len(existing))]
			n, _ := s.GetNode(parent)
			if slices.Contains(n.Path(), target) {
				parent = content.RootParentID
			}
			rec = content.ChangeRecord{Seq: seq, ContentID: target, Op: content.OpMove, ParentID: parent, SortOrder: rng.Intn(3)}
		case op == 2:
			rec = content.ChangeRecord{Seq: seq, ContentID: existing[rng.Intn(len(existing))], Op: content.OpRemove}
		default:
			target := existing[rng.Intn(len(existing))]
			rec = content.ChangeRecord{Seq: seq, ContentID: target, Op: content.OpPublishStatusChange}
		}
		s = mustApply(t, s, rec)
	}
}
