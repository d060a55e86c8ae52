package contentrepo

import (
	"context"
	"database/sql"
	"errors"
	"strconv"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-content-cache/content"
)

// LoadFullTree reads every node and the last committed sequence number in one
// read transaction, so the tree and its Seq agree.
func (r *Repo) LoadFullTree(ctx context.Context) (content.Tree, error) {
	var tree content.Tree
	err := r.db.RunInTx(ctx, loadTxOptions(r.provider), func(ctx context.Context, tx bun.Tx) error {
		var rows []*NodeRow
		if err := tx.NewSelect().
			Model(&rows).
			OrderExpr("kind ASC, parent_id ASC, sort_order ASC, node_id ASC").
			Scan(ctx); err != nil {
			return err
		}
		var seq int64
		if err := tx.NewSelect().
			Model((*counterRow)(nil)).
			Column("value").
			Where("name = ?", counterSeq).
			Scan(ctx, &seq); err != nil {
			return err
		}

		tree.Seq = uint64(seq)
		tree.Nodes = make([]*content.Node, 0, len(rows))
		for _, row := range rows {
			n, err := rowToNode(row)
			if err != nil {
				return err
			}
			tree.Nodes = append(tree.Nodes, n)
		}
		return nil
	})
	if err != nil {
		return content.Tree{}, r.classify(err, "load tree")
	}
	return tree, nil
}

// loadTxOptions gives Postgres one snapshot for both reads of a full load;
// under READ COMMITTED a commit between them would pair old rows with a newer
// Seq. A SQLite transaction already reads from a single snapshot.
func loadTxOptions(provider Provider) *sql.TxOptions {
	if provider == ProviderPostgres {
		return &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	}
	return nil
}

// ChangesSince returns up to limit change records with Seq above after, in
// Seq order.
func (r *Repo) ChangesSince(ctx context.Context, after uint64, limit int) ([]content.ChangeRecord, error) {
	if limit <= 0 {
		limit = r.cfg.BatchSize
	}
	var rows []*ChangeRow
	if err := r.db.NewSelect().
		Model(&rows).
		Where("seq > ?", int64(after)).
		Order("seq ASC").
		Limit(limit).
		Scan(ctx); err != nil {
		return nil, r.classify(err, "read changes")
	}
	out := make([]content.ChangeRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := changeToRecord(row)
		if err != nil {
			return nil, content.StoreUnavailable(err, "decode change "+strconv.FormatInt(row.Seq, 10))
		}
		out = append(out, rec)
	}
	return out, nil
}

// Node reads one node straight from the database, drafts included.
func (r *Repo) Node(ctx context.Context, id int) (*content.Node, error) {
	row, err := r.GetRow(ctx, id)
	if err != nil {
		return nil, err
	}
	return rowToNode(row)
}

// GetRow looks a row up by node id through the repository.
func (r *Repo) GetRow(ctx context.Context, id int) (*NodeRow, error) {
	row, err := r.rows().GetByIdentifier(ctx, strconv.Itoa(id))
	if err != nil {
		return nil, r.lookupError(err, id)
	}
	return row, nil
}

// Lookup finds a node by its stable key.
func (r *Repo) Lookup(ctx context.Context, key uuid.UUID) (*content.Node, error) {
	row, err := r.rows().GetByID(ctx, key.String())
	if err != nil {
		return nil, r.lookupError(err, 0)
	}
	return rowToNode(row)
}

// Count is the number of stored nodes across all kinds.
func (r *Repo) Count(ctx context.Context) (int, error) {
	n, err := r.rows().Count(ctx)
	if err != nil {
		return 0, r.classify(err, "count nodes")
	}
	return n, nil
}

func (r *Repo) lookupError(err error, id int) error {
	if errors.Is(err, sql.ErrNoRows) {
		return content.NotFound(id)
	}
	return r.classify(err, "lookup node")
}
