// Package storage persists version records, branches and tags.
//
// Records are stored as JSON. Version content is an encrypted blob and is
// never decrypted here. Two backends implement Store:
//   - Bolt: a single bbolt file, the default. Layout:
//     versions: version id -> record
//     projects/<project id>/log: big-endian sequence -> version id
//     projects/<project id>/branches: name -> branch
//     projects/<project id>/tags: name -> tag
//   - Badger: a badger directory (or in-memory), same records under
//     prefixed keys.
//
// Stores do not check branch or tag name uniqueness. AppendVersion refuses to
// overwrite an existing version id, which keeps history append-only.
package storage
