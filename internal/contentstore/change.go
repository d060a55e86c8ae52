package contentstore

import (
	"fmt"
	"slices"

	"github.com/benbjohnson/immutable"

	"github.com/goliatone/go-content-cache/content"
)

// WithChange returns the generation that follows s once rec is applied.
//
// A record whose Seq is at or below s.Seq() has already been applied and s is
// returned unchanged. A record that references a missing target or parent, or
// that would create a cycle, fails with content.ErrInconsistentChange; the
// caller must then rebuild from the persisted store.
func (s *Store) WithChange(rec content.ChangeRecord) (*Store, error) {
	if rec.Seq != 0 && rec.Seq <= s.seq {
		return s, nil
	}
	if err := rec.Validate(); err != nil {
		return nil, content.InconsistentChange(rec, err.Error())
	}

	t := &txn{rec: rec, nodes: s.nodes, children: s.children}
	var err error
	switch rec.Op {
	case content.OpInsert:
		err = t.insert(rec.Node)
	case content.OpUpdate:
		err = t.update(rec.Node)
	case content.OpMove:
		err = t.move(rec.ContentID, rec.ParentID, rec.SortOrder)
	case content.OpRemove:
		err = t.remove(rec.ContentID)
	case content.OpPublishStatusChange:
		err = t.publish(rec.ContentID, rec.Published)
	}
	if err != nil {
		return nil, err
	}

	seq := s.seq
	if rec.Seq > seq {
		seq = rec.Seq
	}
	return &Store{nodes: t.nodes, children: t.children, seq: seq}, nil
}

// txn accumulates the maps of the next generation.
type txn struct {
	rec      content.ChangeRecord
	nodes    *immutable.Map[int, *content.Node]
	children *immutable.Map[int, []int]
}

func (t *txn) fail(format string, args ...any) error {
	return content.InconsistentChange(t.rec, fmt.Sprintf(format, args...))
}

func (t *txn) get(id int) (*content.Node, bool) {
	return t.nodes.Get(id)
}

func (t *txn) set(n *content.Node) {
	t.nodes = t.nodes.Set(n.ID(), n)
}

// parentPath resolves the destination parent of a node of the given kind.
func (t *txn) parentPath(kind content.ItemKind, parentID int) ([]int, int, error) {
	if parentID == content.RootParentID {
		return nil, rootKey(kind), nil
	}
	parent, ok := t.get(parentID)
	if !ok {
		return nil, 0, t.fail("parent %d does not exist", parentID)
	}
	if parent.Kind() != kind {
		return nil, 0, t.fail("parent %d is %s, node is %s", parentID, parent.Kind(), kind)
	}
	return parent.Path(), parentID, nil
}

func (t *txn) insert(n *content.Node) error {
	if existing, ok := t.get(n.ID()); ok {
		// Re-delivered or upserted insert: same as an update.
		return t.apply(existing, n)
	}
	parentPath, key, err := t.parentPath(n.Kind(), n.ParentID())
	if err != nil {
		return err
	}
	t.set(n.WithPath(append(parentPath, n.ID())))
	t.place(key, n.ID(), n.SortOrder())
	return nil
}

func (t *txn) update(n *content.Node) error {
	existing, ok := t.get(n.ID())
	if !ok {
		return t.fail("node %d does not exist", n.ID())
	}
	return t.apply(existing, n)
}

// apply brings existing in line with incoming: position first, then data.
func (t *txn) apply(existing, incoming *content.Node) error {
	if existing.Kind() != incoming.Kind() {
		return t.fail("node %d changes kind from %s to %s", existing.ID(), existing.Kind(), incoming.Kind())
	}
	if existing.ParentID() != incoming.ParentID() || existing.SortOrder() != incoming.SortOrder() {
		if err := t.move(existing.ID(), incoming.ParentID(), incoming.SortOrder()); err != nil {
			return err
		}
		existing, _ = t.get(existing.ID())
	}
	t.set(existing.WithData(incoming))
	return nil
}

func (t *txn) move(id, parentID, sortOrder int) error {
	n, ok := t.get(id)
	if !ok {
		return t.fail("node %d does not exist", id)
	}
	parentPath, newKey, err := t.parentPath(n.Kind(), parentID)
	if err != nil {
		return err
	}
	if slices.Contains(parentPath, id) {
		return t.fail("moving %d under %d creates a cycle", id, parentID)
	}

	oldKey := parentKey(n)
	t.unplace(oldKey, id)
	moved := n.WithParent(parentID)
	t.set(moved)
	t.place(newKey, id, sortOrder)
	t.repath(id, parentPath)
	return nil
}

// repath recomputes the path of id and its whole subtree under parentPath.
func (t *txn) repath(id int, parentPath []int) {
	n, ok := t.get(id)
	if !ok {
		return
	}
	path := append(append(make([]int, 0, len(parentPath)+1), parentPath...), id)
	t.set(n.WithPath(path))
	kids, _ := t.children.Get(id)
	for _, kid := range kids {
		t.repath(kid, path)
	}
}

func (t *txn) remove(id int) error {
	n, ok := t.get(id)
	if !ok {
		return t.fail("node %d does not exist", id)
	}
	t.unplace(parentKey(n), id)
	t.drop(id)
	return nil
}

// drop deletes id and its descendants from both indexes.
func (t *txn) drop(id int) {
	kids, _ := t.children.Get(id)
	for _, kid := range kids {
		t.drop(kid)
	}
	t.children = t.children.Delete(id)
	t.nodes = t.nodes.Delete(id)
}

func (t *txn) publish(id int, data *content.ContentData) error {
	n, ok := t.get(id)
	if !ok {
		return t.fail("node %d does not exist", id)
	}
	t.set(n.WithPublished(data))
	return nil
}

// place inserts id among the children of key at min(sortOrder, len) and
// renumbers the siblings.
func (t *txn) place(key, id, sortOrder int) {
	ids, _ := t.children.Get(key)
	pos := sortOrder
	if pos < 0 {
		pos = 0
	}
	if pos > len(ids) {
		pos = len(ids)
	}
	next := make([]int, 0, len(ids)+1)
	next = append(next, ids[:pos]...)
	next = append(next, id)
	next = append(next, ids[pos:]...)
	t.children = t.children.Set(key, next)
	t.renumber(next)
}

// unplace removes id from the children of key and renumbers the rest.
func (t *txn) unplace(key, id int) {
	ids, _ := t.children.Get(key)
	idx := slices.Index(ids, id)
	if idx < 0 {
		return
	}
	next := make([]int, 0, len(ids)-1)
	next = append(next, ids[:idx]...)
	next = append(next, ids[idx+1:]...)
	if len(next) == 0 {
		t.children = t.children.Delete(key)
		return
	}
	t.children = t.children.Set(key, next)
	t.renumber(next)
}

func (t *txn) renumber(ids []int) {
	for i, id := range ids {
		n, ok := t.get(id)
		if !ok {
			continue
		}
		if n.SortOrder() != i {
			t.set(n.WithSortOrder(i))
		}
	}
}
