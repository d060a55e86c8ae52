package contentrepo

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-content-cache/content"
)

func TestLoadTxOptions(t *testing.T) {
	pg := loadTxOptions(ProviderPostgres)
	require.NotNil(t, pg)
	assert.Equal(t, sql.LevelRepeatableRead, pg.Isolation)
	assert.True(t, pg.ReadOnly)

	assert.Nil(t, loadTxOptions(ProviderSQLite))
}

func TestRepo_LoadFullTreeSeqMatchesRowsUnderWrites(t *testing.T) {
	repo := openTest(t)
	ctx := context.Background()

	// Only inserts, so a consistent load has exactly Seq nodes.
	const inserts = 40
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < inserts; i++ {
			_, err := repo.Save(ctx, draftPage(0, content.RootParentID, i, "page"))
			if err != nil {
				t.Error(err)
				return
			}
		}
	}()

	for i := 0; i < inserts; i++ {
		tree, err := repo.LoadFullTree(ctx)
		require.NoError(t, err)
		assert.Len(t, tree.Nodes, int(tree.Seq))
	}
	wg.Wait()

	tree, err := repo.LoadFullTree(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(inserts), tree.Seq)
	assert.Len(t, tree.Nodes, inserts)
}
