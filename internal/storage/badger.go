package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/dgraph-io/badger/v4"

	errs "github.com/illarion/envsync/internal/errors"
)

// Badger is the badger-backed Store.
type Badger struct {
	db *badger.DB
}

var _ Store = (*Badger)(nil)

// OpenBadger opens or creates a badger directory at dir.
func OpenBadger(dir string) (*Badger, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	return openBadger(opts)
}

// OpenBadgerInMemory opens a badger store that lives only in memory.
func OpenBadgerInMemory() (*Badger, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	return openBadger(opts)
}

func openBadger(opts badger.Options) (*Badger, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger: %w", err)
	}
	return &Badger{db: db}, nil
}

func versionKey(id string) []byte {
	return []byte("version:" + id)
}

// projectSegment length-prefixes the id so no project's keys are a prefix
// of another's.
func projectSegment(projectID string) string {
	return strconv.Itoa(len(projectID)) + ":" + projectID + ":"
}

func seqKey(projectID string) []byte {
	return []byte("seq:" + projectSegment(projectID))
}

func logPrefix(projectID string) []byte {
	return []byte("log:" + projectSegment(projectID))
}

func logKey(projectID string, seq uint64) []byte {
	return binary.BigEndian.AppendUint64(logPrefix(projectID), seq)
}

func branchPrefix(projectID string) []byte {
	return []byte("branch:" + projectSegment(projectID))
}

func tagPrefix(projectID string) []byte {
	return []byte("tag:" + projectSegment(projectID))
}

// Close closes the database
func (s *Badger) Close() error {
	return s.db.Close()
}

func (s *Badger) LoadVersion(ctx context.Context, id string) (*Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := &Version{}
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, versionKey(id), v)
	})
	if err != nil {
		return nil, fmt.Errorf("version %s: %w", id, err)
	}
	return v, nil
}

func (s *Badger) AppendVersion(ctx context.Context, v *Version) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if v.ID == "" || v.ProjectID == "" {
		return fmt.Errorf("version id and project id are required")
	}

	var seq uint64
	err := s.db.Update(func(txn *badger.Txn) error {
		// Check if version already exists
		_, err := txn.Get(versionKey(v.ID))
		if err == nil {
			return fmt.Errorf("version %s: %w", v.ID, errs.ErrDuplicateName)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		seq, err = nextSeq(txn, v.ProjectID)
		if err != nil {
			return err
		}

		rec := *v
		rec.Seq = seq
		data, err := json.Marshal(&rec)
		if err != nil {
			return fmt.Errorf("marshaling version: %w", err)
		}
		if err := txn.Set(versionKey(v.ID), data); err != nil {
			return err
		}
		return txn.Set(logKey(v.ProjectID, seq), []byte(v.ID))
	})
	if err != nil {
		return err
	}

	v.Seq = seq
	return nil
}

func nextSeq(txn *badger.Txn, projectID string) (uint64, error) {
	var seq uint64
	item, err := txn.Get(seqKey(projectID))
	switch {
	case err == nil:
		err = item.Value(func(val []byte) error {
			if len(val) != 8 {
				return fmt.Errorf("corrupt sequence for project %s", projectID)
			}
			seq = binary.BigEndian.Uint64(val)
			return nil
		})
		if err != nil {
			return 0, err
		}
	case !errors.Is(err, badger.ErrKeyNotFound):
		return 0, err
	}

	seq++
	if err := txn.Set(seqKey(projectID), binary.BigEndian.AppendUint64(nil, seq)); err != nil {
		return 0, err
	}
	return seq, nil
}

func (s *Badger) Versions(ctx context.Context, projectID string, before uint64, limit int) ([]*Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []*Version
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := logPrefix(projectID)
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse Seek lands on the largest key <= seek
		seek := append(bytes.Clone(prefix), 0xFF)
		if before > 0 {
			seek = logKey(projectID, before-1)
		}

		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(out) >= limit {
				break
			}
			id, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			v := &Version{}
			if err := getJSON(txn, versionKey(string(id)), v); err != nil {
				return fmt.Errorf("version %s: %w", id, err)
			}
			out = append(out, v)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing versions: %w", err)
	}
	return out, nil
}

func (s *Badger) LoadBranch(ctx context.Context, projectID, name string) (*Branch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b := &Branch{}
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, append(branchPrefix(projectID), name...), b)
	})
	if err != nil {
		return nil, fmt.Errorf("branch %s: %w", name, err)
	}
	return b, nil
}

func (s *Badger) UpsertBranches(ctx context.Context, branches ...*Branch) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		for _, b := range branches {
			if b.ProjectID == "" || b.Name == "" {
				return fmt.Errorf("project id and name are required")
			}
			if err := setJSON(txn, append(branchPrefix(b.ProjectID), b.Name...), b); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Badger) ListBranches(ctx context.Context, projectID string) ([]*Branch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var branches []*Branch
	err := s.scan(branchPrefix(projectID), func(val []byte) error {
		b := &Branch{}
		if err := json.Unmarshal(val, b); err != nil {
			return err
		}
		branches = append(branches, b)
		return nil
	})
	return branches, err
}

func (s *Badger) LoadTag(ctx context.Context, projectID, name string) (*Tag, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t := &Tag{}
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, append(tagPrefix(projectID), name...), t)
	})
	if err != nil {
		return nil, fmt.Errorf("tag %s: %w", name, err)
	}
	return t, nil
}

func (s *Badger) InsertTag(ctx context.Context, t *Tag) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.ProjectID == "" || t.Name == "" {
		return fmt.Errorf("project id and name are required")
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, append(tagPrefix(t.ProjectID), t.Name...), t)
	})
}

func (s *Badger) ListTags(ctx context.Context, projectID string) ([]*Tag, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var tags []*Tag
	err := s.scan(tagPrefix(projectID), func(val []byte) error {
		t := &Tag{}
		if err := json.Unmarshal(val, t); err != nil {
			return err
		}
		tags = append(tags, t)
		return nil
	})
	return tags, err
}

func (s *Badger) DeleteProject(ctx context.Context, projectID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(seqKey(projectID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			// a project with refs but no versions yet has no sequence
			if !hasPrefix(txn, branchPrefix(projectID)) {
				return fmt.Errorf("project %s: %w", projectID, errs.ErrNotFound)
			}
		} else if err != nil {
			return err
		}

		var keys [][]byte
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		for _, prefix := range [][]byte{logPrefix(projectID), branchPrefix(projectID), tagPrefix(projectID)} {
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				item := it.Item()
				keys = append(keys, item.KeyCopy(nil))
				if bytes.HasPrefix(item.Key(), logPrefix(projectID)) {
					id, err := item.ValueCopy(nil)
					if err != nil {
						it.Close()
						return err
					}
					keys = append(keys, versionKey(string(id)))
				}
			}
		}
		it.Close()

		keys = append(keys, seqKey(projectID))
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return fmt.Errorf("deleting %s: %w", k, err)
			}
		}
		return nil
	})
}

func (s *Badger) scan(prefix []byte, fn func(val []byte) error) error {
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := it.Item().Value(fn); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("listing %s: %w", prefix, err)
	}
	return nil
}

func hasPrefix(txn *badger.Txn, prefix []byte) bool {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()
	it.Seek(prefix)
	return it.ValidForPrefix(prefix)
}

func getJSON(txn *badger.Txn, key []byte, value any) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return errs.ErrNotFound
	} else if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, value)
	})
}

func setJSON(txn *badger.Txn, key []byte, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", key, err)
	}
	return txn.Set(key, data)
}
