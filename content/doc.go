// Package content defines the values the content cache is built from.
//
// # Nodes
//
// A Node is one content, media or member item at a point in time. Nodes are
// immutable: every With* method returns a copy, and a store generation swaps
// the copy in. A node carries up to two variants of its data:
//
//   - Published: what site visitors see.
//   - Draft: what editors see in preview.
//
// A node with neither variant is kept in the tree (it still has children) but
// is invisible to readers.
//
// # Properties and cultures
//
// Property values are keyed by alias and culture. Reads for a culture with no
// explicit value fall back to the invariant value (empty culture). Nodes whose
// content type does not vary by culture ignore the requested culture.
//
//	v, ok := node.Property("title", "da-DK")
//
// # Change records
//
// A ChangeRecord is one committed mutation. Records carry a sequence number
// assigned by the persisted store at commit time; the cache applies them in
// that order and skips any record it has already applied.
//
// # Errors
//
// Errors are built with github.com/goliatone/go-errors and wrap the package
// sentinels, so errors.Is works against ErrInconsistentChange,
// ErrSnapshotReleased, ErrStoreUnavailable, ErrNotReady and ErrNotFound.
package content
