// Package core provides the envsync sync operations.
//
// A Syncer composes the version history, the reference manager and the
// conflict resolver:
//   - Pull: merge the branch head into the working copy, never touching history
//   - Push: record the working copy as a new version on a branch
//   - Rollback: restore a past version into the working copy
//   - Merge: fold one branch's head into another as a new version
//
// The branch is always passed in by the caller. Operations on one project
// are serialized, and every cipher and diff step runs before the first
// write so a failed or cancelled operation leaves nothing behind.
package core
