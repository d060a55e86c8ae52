package content

import (
	"fmt"
	"time"
)

// Operation is the kind of mutation a ChangeRecord carries.
type Operation uint8

const (
	OpInsert Operation = iota + 1
	OpUpdate
	OpMove
	OpRemove
	OpPublishStatusChange
)

var operationNames = map[Operation]string{
	OpInsert:              "insert",
	OpUpdate:              "update",
	OpMove:                "move",
	OpRemove:              "remove",
	OpPublishStatusChange: "publish-status",
}

func (o Operation) String() string {
	if name, ok := operationNames[o]; ok {
		return name
	}
	return fmt.Sprintf("operation(%d)", uint8(o))
}

// ParseOperation is the inverse of Operation.String.
func ParseOperation(s string) (Operation, error) {
	for op, name := range operationNames {
		if name == s {
			return op, nil
		}
	}
	return 0, fmt.Errorf("unknown operation %q", s)
}

// ChangeRecord describes one committed mutation of the persisted store.
//
// Seq is the commit sequence number. Records are applied strictly in Seq order
// and a record whose Seq is not above the store's high-water mark is a
// duplicate. A zero Seq opts out of duplicate detection.
type ChangeRecord struct {
	Seq       uint64
	ContentID int
	Op        Operation

	// Node is the full item for Insert and Update.
	Node *Node

	// ParentID and SortOrder are the destination of a Move.
	ParentID  int
	SortOrder int

	// Published replaces the published variant on PublishStatusChange.
	// Nil unpublishes.
	Published *ContentData

	CommittedAt time.Time
}

// Validate rejects records that are malformed on their own, before any store
// state is consulted.
func (r ChangeRecord) Validate() error {
	if r.ContentID <= 0 {
		return fmt.Errorf("change %d: content id must be positive", r.Seq)
	}
	switch r.Op {
	case OpInsert, OpUpdate:
		if r.Node == nil {
			return fmt.Errorf("change %d: %s of %d carries no node", r.Seq, r.Op, r.ContentID)
		}
		if r.Node.ID() != r.ContentID {
			return fmt.Errorf("change %d: node id %d does not match content id %d", r.Seq, r.Node.ID(), r.ContentID)
		}
	case OpMove:
		if r.ParentID == 0 {
			return fmt.Errorf("change %d: move of %d has no destination", r.Seq, r.ContentID)
		}
	case OpRemove, OpPublishStatusChange:
	default:
		return fmt.Errorf("change %d: %s", r.Seq, r.Op)
	}
	return nil
}

func (r ChangeRecord) String() string {
	return fmt.Sprintf("#%d %s %d", r.Seq, r.Op, r.ContentID)
}

// Tree is a full load of the persisted store: every node plus the sequence
// number of the last change the load reflects.
type Tree struct {
	Nodes []*Node
	Seq   uint64
}
