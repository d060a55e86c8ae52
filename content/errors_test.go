package content

import (
	"errors"
	"fmt"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrors_ConstructorsMatchSentinels(t *testing.T) {
	rec := ChangeRecord{Seq: 4, ContentID: 9, Op: OpUpdate}

	tests := []struct {
		name     string
		err      error
		sentinel error
		match    func(error) bool
		category goerrors.Category
		code     string
	}{
		{"inconsistent change", InconsistentChange(rec, "unknown node"), ErrInconsistentChange, IsInconsistent, goerrors.CategoryConflict, "INCONSISTENT_CHANGE"},
		{"inconsistent tree", InconsistentTree(3, "dangling parent"), ErrInconsistentChange, IsInconsistent, goerrors.CategoryConflict, "INCONSISTENT_TREE"},
		{"store unavailable", StoreUnavailable(errors.New("connection refused"), "ping"), ErrStoreUnavailable, IsStoreUnavailable, goerrors.CategoryExternal, "STORE_UNAVAILABLE"},
		{"not found", NotFound(7), ErrNotFound, IsNotFound, goerrors.CategoryNotFound, "NOT_FOUND"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.err, tt.sentinel)
			assert.True(t, tt.match(tt.err))

			var gerr *goerrors.Error
			require.True(t, errors.As(tt.err, &gerr))
			assert.Equal(t, tt.category, gerr.Category)
			assert.Equal(t, tt.code, gerr.TextCode)
		})
	}
}

func TestErrors_MatchThroughFurtherWrapping(t *testing.T) {
	err := fmt.Errorf("apply: %w", InconsistentChange(ChangeRecord{Seq: 1, ContentID: 2, Op: OpMove}, "cycle"))
	assert.True(t, IsInconsistent(err))
	assert.False(t, IsNotFound(err))
	assert.False(t, IsStoreUnavailable(err))

	assert.True(t, IsSnapshotReleased(fmt.Errorf("read: %w", ErrSnapshotReleased)))
	assert.ErrorIs(t, fmt.Errorf("view: %w", ErrNotReady), ErrNotReady)
}

func TestErrors_MetadataCarriesContext(t *testing.T) {
	var gerr *goerrors.Error
	require.True(t, errors.As(NotFound(12), &gerr))
	assert.Equal(t, 12, gerr.Metadata["content_id"])

	require.True(t, errors.As(StoreUnavailable(errors.New("timeout"), "load"), &gerr))
	assert.Equal(t, "timeout", gerr.Metadata["cause"])
	assert.Contains(t, gerr.Error(), "load: timeout")
}
