// Package git provides git hygiene checks for the envsync working copy.
//
// Checks performed:
//   - Whether the plaintext working copy is tracked by git (should not be)
//   - Whether the working copy is in .gitignore (should be)
//   - Whether the encrypted history database is tracked (informational)
//
// These checks help users avoid accidentally committing unencrypted secrets.
package git
