// Package snapshot publishes content store generations and hands out pinned
// read views of them.
//
// A Manager serializes writers (ApplyChange, Rebuild, Publish) behind one
// mutex and swaps the current generation atomically. Readers call
// CreateSnapshot, which never blocks on a writer, and Release the snapshot when
// done. A generation is reclaimed once it is no longer current and its last
// snapshot has been released; derived values cached for it are purged then.
package snapshot
