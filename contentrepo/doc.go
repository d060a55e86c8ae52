// Package contentrepo is the relational store the content cache is loaded
// from and kept in step with.
//
// Nodes live in content_nodes with their published and draft variants encoded
// as msgpack. Every mutation (Save, Publish, Unpublish, Move, Delete) runs in
// one transaction that updates the rows and appends a record to
// content_changes, so the change log replays to exactly the tree LoadFullTree
// returns:
//
//	repo, err := contentrepo.Open(ctx, contentrepo.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	tree, err := repo.LoadFullTree(ctx)
//	...
//	stop, err := repo.SubscribeToChanges(ctx, tree.Seq, func(rec content.ChangeRecord) {
//		// rec.Seq == tree.Seq+1, tree.Seq+2, ...
//	})
//
// The provider is picked from the DSN: postgres URLs and key=value strings go
// to lib/pq with the bun postgres dialect, anything else to go-sqlite3. A
// database that cannot be reached is reported as content.ErrStoreUnavailable.
package contentrepo
