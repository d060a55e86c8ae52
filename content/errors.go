package content

import (
	"errors"

	goerrors "github.com/goliatone/go-errors"
)

// Sentinels are plain errors so errors.Is can match them through the
// categorized wrappers below.
var (
	// ErrInconsistentChange means a change cannot be applied to the current
	// tree. The cache must be rebuilt from the persisted store.
	ErrInconsistentChange = errors.New("inconsistent change")

	// ErrSnapshotReleased is returned when a snapshot is used after Release.
	ErrSnapshotReleased = errors.New("snapshot already released")

	// ErrStoreUnavailable means the persisted store could not be reached.
	ErrStoreUnavailable = errors.New("content store unavailable")

	// ErrNotReady is returned before the first successful load.
	ErrNotReady = errors.New("content cache not ready")

	ErrNotFound = errors.New("content not found")
)

// InconsistentChange wraps ErrInconsistentChange with the offending record.
func InconsistentChange(rec ChangeRecord, reason string) error {
	return goerrors.Wrap(ErrInconsistentChange, goerrors.CategoryConflict, rec.String()+": "+reason).
		WithTextCode("INCONSISTENT_CHANGE").
		WithMetadata(map[string]any{
			"seq":        rec.Seq,
			"content_id": rec.ContentID,
			"op":         rec.Op.String(),
		})
}

// StoreUnavailable wraps a driver error as ErrStoreUnavailable. The cause is
// kept in the metadata; errors.Is matches the sentinel.
func StoreUnavailable(cause error, message string) error {
	return goerrors.Wrap(ErrStoreUnavailable, goerrors.CategoryExternal, message+": "+cause.Error()).
		WithTextCode("STORE_UNAVAILABLE").
		WithMetadata(map[string]any{"cause": cause.Error()})
}

// NotFound wraps ErrNotFound with the missing id.
func NotFound(id int) error {
	return goerrors.Wrap(ErrNotFound, goerrors.CategoryNotFound, "content not found").
		WithTextCode("NOT_FOUND").
		WithMetadata(map[string]any{"content_id": id})
}

func IsInconsistent(err error) bool { return errors.Is(err, ErrInconsistentChange) }
func IsStoreUnavailable(err error) bool { return errors.Is(err, ErrStoreUnavailable) }
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
func IsSnapshotReleased(err error) bool { return errors.Is(err, ErrSnapshotReleased) }

// InconsistentTree wraps ErrInconsistentChange for a full load that cannot be
// assembled into a tree (dangling parent, cycle, duplicate id).
func InconsistentTree(id int, reason string) error {
	return goerrors.Wrap(ErrInconsistentChange, goerrors.CategoryConflict, "tree load: "+reason).
		WithTextCode("INCONSISTENT_TREE").
		WithMetadata(map[string]any{"content_id": id})
}
