// Package history is the append-only version log of a project.
//
// Create is the only way a version comes into existence. It decrypts the
// branch head, computes the change summary against it, seals the new content
// under a fresh IV and only then writes: first the version record, then the
// branch head. Versions are never modified afterwards.
package history
