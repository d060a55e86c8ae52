package contentrepo

import (
	"time"

	"github.com/google/uuid"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// NodeRow is the persisted form of a content node. The primary key is the
// node's stable key; NodeID is the integer id the cache indexes by.
type NodeRow struct {
	bun.BaseModel `bun:"table:content_nodes,alias:cn"`

	ID            uuid.UUID `bun:"id,pk,type:uuid"`
	NodeID        int       `bun:"node_id,notnull,unique"`
	Kind          int       `bun:"kind,notnull"`
	ParentID      int       `bun:"parent_id,notnull"`
	SortOrder     int       `bun:"sort_order,notnull"`
	ContentTypeID int       `bun:"content_type_id,notnull"`
	Variations    int       `bun:"variations,notnull"`
	Published     []byte    `bun:"published"`
	Draft         []byte    `bun:"draft"`
	CreatedAt     time.Time `bun:"created_at,notnull"`
	UpdatedAt     time.Time `bun:"updated_at,notnull"`
}

// ChangeRow is one entry of the change log. Seq is allocated from the "seq"
// counter inside the writing transaction, so log order is commit order.
type ChangeRow struct {
	bun.BaseModel `bun:"table:content_changes,alias:cc"`

	Seq         int64     `bun:"seq,pk"`
	NodeID      int       `bun:"node_id,notnull"`
	Op          string    `bun:"op,notnull"`
	ParentID    int       `bun:"parent_id,notnull"`
	SortOrder   int       `bun:"sort_order,notnull"`
	Payload     []byte    `bun:"payload"`
	CommittedAt time.Time `bun:"committed_at,notnull"`
}

type counterRow struct {
	bun.BaseModel `bun:"table:content_counters,alias:ctr"`

	Name  string `bun:"name,pk"`
	Value int64  `bun:"value,notnull"`
}

const (
	counterSeq  = "seq"
	counterNode = "node"
)

// NewNodeRepository builds the go-repository-bun repository for content_nodes.
// Identifier lookups go by node_id.
func NewNodeRepository(db *bun.DB) repository.Repository[*NodeRow] {
	return repository.NewRepository[*NodeRow](db, repository.ModelHandlers[*NodeRow]{
		NewRecord: func() *NodeRow {
			return &NodeRow{}
		},
		GetID: func(r *NodeRow) uuid.UUID {
			if r == nil {
				return uuid.Nil
			}
			return r.ID
		},
		SetID: func(r *NodeRow, id uuid.UUID) {
			r.ID = id
		},
		GetIdentifier: func() string {
			return "node_id"
		},
	})
}
