package content

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// RootParentID is the parent id carried by nodes at the top of a tree.
const RootParentID = -1

// ItemKind separates the three trees the cache materializes.
type ItemKind uint8

const (
	KindContent ItemKind = iota
	KindMedia
	KindMember
)

func (k ItemKind) String() string {
	switch k {
	case KindContent:
		return "content"
	case KindMedia:
		return "media"
	case KindMember:
		return "member"
	default:
		return "unknown(" + strconv.Itoa(int(k)) + ")"
	}
}

// ParseItemKind is the inverse of ItemKind.String.
func ParseItemKind(s string) (ItemKind, error) {
	switch s {
	case "content":
		return KindContent, nil
	case "media":
		return KindMedia, nil
	case "member":
		return KindMember, nil
	default:
		return 0, fmt.Errorf("unknown item kind %q", s)
	}
}

// Variations describes whether a content type stores values per culture.
type Variations uint8

const (
	VariesNothing Variations = iota
	VariesByCulture
)

// NodeInit carries the values a Node is constructed from.
type NodeInit struct {
	ID            int
	Key           uuid.UUID
	Kind          ItemKind
	ParentID      int
	SortOrder     int
	ContentTypeID int
	Variations    Variations
	Published     *ContentData
	Draft         *ContentData
}

// Node is one content, media or member item at a point in time.
// A Node never changes once constructed; the With* methods return copies.
type Node struct {
	id            int
	key           uuid.UUID
	kind          ItemKind
	parentID      int
	sortOrder     int
	contentTypeID int
	variations    Variations
	published     *ContentData
	draft         *ContentData
	path          []int
}

// NewNode builds a Node. The path is left empty until a store places the node
// in a tree. A zero ParentID is read as RootParentID.
func NewNode(init NodeInit) *Node {
	parent := init.ParentID
	if parent == 0 {
		parent = RootParentID
	}
	return &Node{
		id:            init.ID,
		key:           init.Key,
		kind:          init.Kind,
		parentID:      parent,
		sortOrder:     init.SortOrder,
		contentTypeID: init.ContentTypeID,
		variations:    init.Variations,
		published:     init.Published,
		draft:         init.Draft,
	}
}

func (n *Node) ID() int { return n.id }
func (n *Node) Key() uuid.UUID { return n.key }
func (n *Node) Kind() ItemKind { return n.kind }
func (n *Node) ParentID() int { return n.parentID }
func (n *Node) SortOrder() int { return n.sortOrder }
func (n *Node) ContentTypeID() int { return n.contentTypeID }
func (n *Node) Variations() Variations { return n.variations }
func (n *Node) Published() *ContentData { return n.published }
func (n *Node) Draft() *ContentData { return n.draft }
func (n *Node) HasPublished() bool { return n.published != nil }
func (n *Node) IsRoot() bool { return n.parentID == RootParentID }

// Level is the depth of the node, 1 for roots. Zero means the node has not
// been placed in a tree yet.
func (n *Node) Level() int { return len(n.path) }

// Path returns the ids from the root down to and including the node.
func (n *Node) Path() []int {
	out := make([]int, len(n.path))
	copy(out, n.path)
	return out
}

// PathString renders the path the way it is persisted, prefixed with the
// virtual root: "-1,1050,1060".
func (n *Node) PathString() string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(RootParentID))
	for _, id := range n.path {
		b.WriteByte(',')
		b.WriteString(strconv.Itoa(id))
	}
	return b.String()
}

// Property reads a published property value. Use Draft().Property for the
// draft variant.
func (n *Node) Property(alias, culture string) (any, bool) {
	if n.published == nil {
		return nil, false
	}
	return n.published.Property(alias, n.effectiveCulture(culture))
}

// DataFor returns the variant a reader sees: the draft in preview mode when
// there is one, the published data otherwise.
func (n *Node) DataFor(preview bool) *ContentData {
	if preview && n.draft != nil {
		return n.draft
	}
	return n.published
}

// VisibleIn reports whether the node exists for a reader in the given mode.
func (n *Node) VisibleIn(preview bool) bool {
	return n.DataFor(preview) != nil
}

func (n *Node) effectiveCulture(culture string) string {
	if n.variations == VariesNothing {
		return ""
	}
	return culture
}

func (n *Node) clone() *Node {
	c := *n
	return &c
}

// WithParent returns a copy re-parented under parentID.
func (n *Node) WithParent(parentID int) *Node {
	c := n.clone()
	c.parentID = parentID
	return c
}

func (n *Node) WithSortOrder(sortOrder int) *Node {
	if n.sortOrder == sortOrder {
		return n
	}
	c := n.clone()
	c.sortOrder = sortOrder
	return c
}

// WithPath returns a copy carrying the given root-to-self path.
func (n *Node) WithPath(path []int) *Node {
	c := n.clone()
	c.path = make([]int, len(path))
	copy(c.path, path)
	return c
}

func (n *Node) WithPublished(data *ContentData) *Node {
	c := n.clone()
	c.published = data
	return c
}

func (n *Node) WithDraft(data *ContentData) *Node {
	c := n.clone()
	c.draft = data
	return c
}

// WithData copies the data carried by other (type, variants) onto a copy of n,
// keeping n's position in the tree.
func (n *Node) WithData(other *Node) *Node {
	c := n.clone()
	c.key = other.key
	c.kind = other.kind
	c.contentTypeID = other.contentTypeID
	c.variations = other.variations
	c.published = other.published
	c.draft = other.draft
	return c
}

// Equal compares identity, position and data.
func (n *Node) Equal(o *Node) bool {
	if n == o {
		return true
	}
	if n == nil || o == nil {
		return false
	}
	if n.id != o.id || n.key != o.key || n.kind != o.kind || n.parentID != o.parentID ||
		n.sortOrder != o.sortOrder || n.contentTypeID != o.contentTypeID || n.variations != o.variations {
		return false
	}
	if len(n.path) != len(o.path) {
		return false
	}
	for i := range n.path {
		if n.path[i] != o.path[i] {
			return false
		}
	}
	return n.published.Equal(o.published) && n.draft.Equal(o.draft)
}
