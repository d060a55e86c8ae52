package contentrepo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-content-cache/content"
)

// ErrInvalidMutation is returned for writes that would break the tree: a
// parent of another kind, a move under a descendant, publishing without a
// draft.
var ErrInvalidMutation = errors.New("invalid content mutation")

func invalid(id int, format string, args ...any) error {
	return goerrors.Wrap(ErrInvalidMutation, goerrors.CategoryValidation, fmt.Sprintf(format, args...)).
		WithTextCode("INVALID_MUTATION").
		WithMetadata(map[string]any{"content_id": id})
}

// write runs fn in a transaction and wakes local subscribers once it has
// committed.
func (r *Repo) write(ctx context.Context, fn func(ctx context.Context, tx bun.Tx) error) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	err := r.db.RunInTx(ctx, nil, fn)
	if err != nil {
		return r.classify(err, "write")
	}
	if r.cached != nil {
		if ierr := r.cached.Invalidate(ctx); ierr != nil {
			r.logger.Warn().Err(ierr).Msg("purge row cache after write")
		}
	}
	r.notify()
	return nil
}

// classify keeps domain errors and reports everything else as the store
// being unavailable.
func (r *Repo) classify(err error, op string) error {
	switch {
	case errors.Is(err, ErrInvalidMutation),
		errors.Is(err, content.ErrNotFound),
		errors.Is(err, content.ErrStoreUnavailable),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return content.StoreUnavailable(err, op)
}

func (r *Repo) nextCounter(ctx context.Context, tx bun.IDB, name string) (int64, error) {
	if _, err := tx.NewUpdate().
		Model((*counterRow)(nil)).
		Set("value = value + 1").
		Where("name = ?", name).
		Exec(ctx); err != nil {
		return 0, err
	}
	var v int64
	err := tx.NewSelect().
		Model((*counterRow)(nil)).
		Column("value").
		Where("name = ?", name).
		Scan(ctx, &v)
	return v, err
}

func (r *Repo) getRow(ctx context.Context, tx bun.IDB, id int) (*NodeRow, error) {
	row := new(NodeRow)
	err := tx.NewSelect().Model(row).Where("node_id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, content.NotFound(id)
	}
	if err != nil {
		return nil, err
	}
	return row, nil
}

// siblings returns the ids under parentID (roots of kind for RootParentID)
// in sort order.
func (r *Repo) siblings(ctx context.Context, tx bun.IDB, kind, parentID int) ([]int, error) {
	var ids []int
	q := tx.NewSelect().
		Model((*NodeRow)(nil)).
		Column("node_id").
		Where("parent_id = ?", parentID).
		OrderExpr("sort_order ASC, node_id ASC")
	if parentID == content.RootParentID {
		q = q.Where("kind = ?", kind)
	}
	err := q.Scan(ctx, &ids)
	return ids, err
}

// renumber writes contiguous sort orders for ids.
func (r *Repo) renumber(ctx context.Context, tx bun.IDB, ids []int, now time.Time) error {
	for i, id := range ids {
		if _, err := tx.NewUpdate().
			Model((*NodeRow)(nil)).
			Set("sort_order = ?", i).
			Set("updated_at = ?", now).
			Where("node_id = ?", id).
			Where("sort_order <> ?", i).
			Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

// place puts id among the children of parentID at min(sortOrder, n) and
// renumbers. It returns the final position.
func (r *Repo) place(ctx context.Context, tx bun.IDB, kind, parentID, id, sortOrder int, now time.Time) (int, error) {
	ids, err := r.siblings(ctx, tx, kind, parentID)
	if err != nil {
		return 0, err
	}
	ids = removeID(ids, id)
	pos := min(max(sortOrder, 0), len(ids))
	next := make([]int, 0, len(ids)+1)
	next = append(next, ids[:pos]...)
	next = append(next, id)
	next = append(next, ids[pos:]...)
	return pos, r.renumber(ctx, tx, next, now)
}

func (r *Repo) unplace(ctx context.Context, tx bun.IDB, kind, parentID, id int, now time.Time) error {
	ids, err := r.siblings(ctx, tx, kind, parentID)
	if err != nil {
		return err
	}
	return r.renumber(ctx, tx, removeID(ids, id), now)
}

func removeID(ids []int, id int) []int {
	out := ids[:0:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// checkParent verifies parentID can hold a node of kind, and that it is not
// id itself or one of its descendants.
func (r *Repo) checkParent(ctx context.Context, tx bun.IDB, id, kind, parentID int) error {
	if parentID == content.RootParentID {
		return nil
	}
	parent, err := r.getRow(ctx, tx, parentID)
	if err != nil {
		return err
	}
	if parent.Kind != kind {
		return invalid(id, "parent %d is %s, node is %s", parentID, content.ItemKind(parent.Kind), content.ItemKind(kind))
	}
	for cur := parent; ; {
		if cur.NodeID == id {
			return invalid(id, "moving %d under %d creates a cycle", id, parentID)
		}
		if cur.ParentID == content.RootParentID {
			return nil
		}
		if cur, err = r.getRow(ctx, tx, cur.ParentID); err != nil {
			return err
		}
	}
}

func (r *Repo) appendChange(ctx context.Context, tx bun.IDB, row *ChangeRow) error {
	seq, err := r.nextCounter(ctx, tx, counterSeq)
	if err != nil {
		return err
	}
	row.Seq = seq
	_, err = tx.NewInsert().Model(row).Exec(ctx)
	return err
}

// Save inserts node, or updates it when a node with the same id exists. A
// node with id 0 is given the next free id. Both data variants are stored as
// given; a changed parent or sort order moves the node. The saved node is
// returned.
func (r *Repo) Save(ctx context.Context, node *content.Node) (*content.Node, error) {
	if node == nil {
		return nil, invalid(0, "node is required")
	}
	var saved *content.Node
	err := r.write(ctx, func(ctx context.Context, tx bun.Tx) error {
		now := time.Now().UTC()
		published, err := encodeData(node.Published())
		if err != nil {
			return err
		}
		draft, err := encodeData(node.Draft())
		if err != nil {
			return err
		}

		kind := int(node.Kind())
		existing, err := r.getRow(ctx, tx, node.ID())
		if err != nil && !content.IsNotFound(err) {
			return err
		}
		if node.ID() == 0 {
			existing = nil
		}

		op := content.OpInsert
		var row *NodeRow
		if existing == nil {
			id := node.ID()
			if id == 0 {
				next, err := r.nextCounter(ctx, tx, counterNode)
				if err != nil {
					return err
				}
				id = int(next)
			} else if err := r.bumpNodeCounter(ctx, tx, id); err != nil {
				return err
			}
			if err := r.checkParent(ctx, tx, id, kind, node.ParentID()); err != nil {
				return err
			}
			key := node.Key()
			if key == uuid.Nil {
				key = uuid.New()
			}
			row = &NodeRow{
				ID:            key,
				NodeID:        id,
				Kind:          kind,
				ParentID:      node.ParentID(),
				SortOrder:     1 << 30,
				ContentTypeID: node.ContentTypeID(),
				Variations:    int(node.Variations()),
				Published:     published,
				Draft:         draft,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			if _, err := r.rows().CreateTx(ctx, tx, row); err != nil {
				return err
			}
		} else {
			op = content.OpUpdate
			if existing.Kind != kind {
				return invalid(existing.NodeID, "node %d changes kind from %s to %s", existing.NodeID, content.ItemKind(existing.Kind), node.Kind())
			}
			row = existing
			if row.ParentID != node.ParentID() {
				if err := r.checkParent(ctx, tx, row.NodeID, kind, node.ParentID()); err != nil {
					return err
				}
				if err := r.unplace(ctx, tx, kind, row.ParentID, row.NodeID, now); err != nil {
					return err
				}
			}
			row.ParentID = node.ParentID()
			row.ContentTypeID = node.ContentTypeID()
			row.Variations = int(node.Variations())
			row.Published = published
			row.Draft = draft
			row.UpdatedAt = now
			if _, err := tx.NewUpdate().
				Model(row).
				Column("parent_id", "content_type_id", "variations", "published", "draft", "updated_at").
				WherePK().
				Exec(ctx); err != nil {
				return err
			}
		}

		pos, err := r.place(ctx, tx, kind, row.ParentID, row.NodeID, node.SortOrder(), now)
		if err != nil {
			return err
		}
		row.SortOrder = pos

		saved, err = rowToNode(row)
		if err != nil {
			return err
		}
		payload, err := encodeNode(saved)
		if err != nil {
			return err
		}
		return r.appendChange(ctx, tx, &ChangeRow{
			NodeID:      row.NodeID,
			Op:          op.String(),
			ParentID:    row.ParentID,
			SortOrder:   pos,
			Payload:     payload,
			CommittedAt: now,
		})
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// bumpNodeCounter keeps the id counter above explicitly chosen ids.
func (r *Repo) bumpNodeCounter(ctx context.Context, tx bun.IDB, id int) error {
	_, err := tx.NewUpdate().
		Model((*counterRow)(nil)).
		Set("value = ?", id).
		Where("name = ?", counterNode).
		Where("value < ?", id).
		Exec(ctx)
	return err
}

// Publish makes the draft of id its published data.
func (r *Repo) Publish(ctx context.Context, id int) error {
	return r.write(ctx, func(ctx context.Context, tx bun.Tx) error {
		row, err := r.getRow(ctx, tx, id)
		if err != nil {
			return err
		}
		if len(row.Draft) == 0 {
			return invalid(id, "node %d has no draft to publish", id)
		}
		return r.setPublished(ctx, tx, row, row.Draft)
	})
}

// Unpublish removes the published data of id. The draft is kept.
func (r *Repo) Unpublish(ctx context.Context, id int) error {
	return r.write(ctx, func(ctx context.Context, tx bun.Tx) error {
		row, err := r.getRow(ctx, tx, id)
		if err != nil {
			return err
		}
		return r.setPublished(ctx, tx, row, nil)
	})
}

func (r *Repo) setPublished(ctx context.Context, tx bun.Tx, row *NodeRow, published []byte) error {
	now := time.Now().UTC()
	row.Published = published
	row.UpdatedAt = now
	if _, err := tx.NewUpdate().
		Model(row).
		Column("published", "updated_at").
		WherePK().
		Exec(ctx); err != nil {
		return err
	}
	return r.appendChange(ctx, tx, &ChangeRow{
		NodeID:      row.NodeID,
		Op:          content.OpPublishStatusChange.String(),
		ParentID:    row.ParentID,
		SortOrder:   row.SortOrder,
		Payload:     published,
		CommittedAt: now,
	})
}

// Move puts id under parentID at min(sortOrder, n) among its new siblings.
func (r *Repo) Move(ctx context.Context, id, parentID, sortOrder int) error {
	if parentID == 0 {
		parentID = content.RootParentID
	}
	return r.write(ctx, func(ctx context.Context, tx bun.Tx) error {
		now := time.Now().UTC()
		row, err := r.getRow(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := r.checkParent(ctx, tx, id, row.Kind, parentID); err != nil {
			return err
		}
		if err := r.unplace(ctx, tx, row.Kind, row.ParentID, id, now); err != nil {
			return err
		}
		if _, err := tx.NewUpdate().
			Model((*NodeRow)(nil)).
			Set("parent_id = ?", parentID).
			Set("updated_at = ?", now).
			Where("node_id = ?", id).
			Exec(ctx); err != nil {
			return err
		}
		pos, err := r.place(ctx, tx, row.Kind, parentID, id, sortOrder, now)
		if err != nil {
			return err
		}
		return r.appendChange(ctx, tx, &ChangeRow{
			NodeID:      id,
			Op:          content.OpMove.String(),
			ParentID:    parentID,
			SortOrder:   pos,
			CommittedAt: now,
		})
	})
}

// Delete removes id and all its descendants.
func (r *Repo) Delete(ctx context.Context, id int) error {
	return r.write(ctx, func(ctx context.Context, tx bun.Tx) error {
		now := time.Now().UTC()
		row, err := r.getRow(ctx, tx, id)
		if err != nil {
			return err
		}

		doomed := []int{id}
		for frontier := []int{id}; len(frontier) > 0; {
			var kids []int
			if err := tx.NewSelect().
				Model((*NodeRow)(nil)).
				Column("node_id").
				Where("parent_id IN (?)", bun.In(frontier)).
				Scan(ctx, &kids); err != nil {
				return err
			}
			doomed = append(doomed, kids...)
			frontier = kids
		}

		if _, err := tx.NewDelete().
			Model((*NodeRow)(nil)).
			Where("node_id IN (?)", bun.In(doomed)).
			Exec(ctx); err != nil {
			return err
		}
		if err := r.unplace(ctx, tx, row.Kind, row.ParentID, id, now); err != nil {
			return err
		}
		return r.appendChange(ctx, tx, &ChangeRow{
			NodeID:      id,
			Op:          content.OpRemove.String(),
			ParentID:    row.ParentID,
			SortOrder:   row.SortOrder,
			CommittedAt: now,
		})
	})
}
