// Package errors defines the error kinds shared by every envsync component.
//
// Kinds are sentinel values compared with errors.Is. Components wrap them with
// an OpError that names the operation, the project and the branch, tag or key
// involved, so callers can report failures without ever seeing key material.
//
// Only ErrNoChanges may be treated as a silent no-op. Integrity, malformed
// payload and dangling reference errors always abort the current operation.
package errors
