package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"time"

	bolt "go.etcd.io/bbolt"

	errs "github.com/illarion/envsync/internal/errors"
)

// Bucket names
var (
	MetaBucket     = []byte("meta")     // schema version, creation time
	VersionsBucket = []byte("versions") // version id -> record
	ProjectsBucket = []byte("projects") // one nested bucket per project
)

// Per-project nested buckets
var (
	logBucket      = []byte("log")
	branchesBucket = []byte("branches")
	tagsBucket     = []byte("tags")
)

// Meta keys
var (
	MetaSchema  = []byte("schema")
	MetaCreated = []byte("created")
)

const schemaVersion = "1"

// boltOptions bounds the wait for another process's file lock.
var boltOptions = &bolt.Options{Timeout: 5 * time.Second}

// Bolt is the bbolt-backed Store.
type Bolt struct {
	db *bolt.DB
}

var _ Store = (*Bolt)(nil)

// OpenBolt opens or creates a history database at path.
func OpenBolt(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0600, boltOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Bolt{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Bolt) initialize() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{MetaBucket, VersionsBucket, ProjectsBucket} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}

		meta := tx.Bucket(MetaBucket)
		if meta.Get(MetaSchema) != nil {
			return nil
		}
		if err := meta.Put(MetaSchema, []byte(schemaVersion)); err != nil {
			return err
		}
		created, _ := time.Now().UTC().MarshalBinary()
		return meta.Put(MetaCreated, created)
	})
}

// Path returns the database file path.
func (s *Bolt) Path() string {
	return s.db.Path()
}

// Close closes the database
func (s *Bolt) Close() error {
	return s.db.Close()
}

// LoadVersion retrieves a version record by id
func (s *Bolt) LoadVersion(ctx context.Context, id string) (*Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var v *Version
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		v, err = getVersion(tx, id)
		return err
	})
	return v, err
}

func getVersion(tx *bolt.Tx, id string) (*Version, error) {
	data := tx.Bucket(VersionsBucket).Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("version %s: %w", id, errs.ErrNotFound)
	}
	// json.Unmarshal copies, so the record outlives the transaction
	v := &Version{}
	if err := json.Unmarshal(data, v); err != nil {
		return nil, fmt.Errorf("failed to decode version %s: %w", id, err)
	}
	return v, nil
}

// AppendVersion stores a new version and appends it to its project's log
func (s *Bolt) AppendVersion(ctx context.Context, v *Version) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if v.ID == "" || v.ProjectID == "" {
		return fmt.Errorf("version id and project id are required")
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		versions := tx.Bucket(VersionsBucket)
		if versions.Get([]byte(v.ID)) != nil {
			return fmt.Errorf("version %s: %w", v.ID, errs.ErrDuplicateName)
		}

		project, err := projectBucket(tx, v.ProjectID, true)
		if err != nil {
			return err
		}
		log := project.Bucket(logBucket)
		seq, err := log.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate sequence: %w", err)
		}

		rec := *v
		rec.Seq = seq
		data, err := json.Marshal(&rec)
		if err != nil {
			return fmt.Errorf("failed to encode version: %w", err)
		}
		if err := versions.Put([]byte(v.ID), data); err != nil {
			return err
		}
		if err := log.Put(itob(seq), []byte(v.ID)); err != nil {
			return err
		}

		v.Seq = seq
		return nil
	})
}

// Versions walks a project's log backwards from before
func (s *Bolt) Versions(ctx context.Context, projectID string, before uint64, limit int) ([]*Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []*Version
	err := s.db.View(func(tx *bolt.Tx) error {
		project, err := projectBucket(tx, projectID, false)
		if err != nil || project == nil {
			return err
		}

		c := project.Bucket(logBucket).Cursor()
		var k, id []byte
		if before == 0 {
			k, id = c.Last()
		} else {
			bound := itob(before)
			k, id = c.Seek(bound)
			if k == nil {
				k, id = c.Last()
			}
			for k != nil && bytes.Compare(k, bound) >= 0 {
				k, id = c.Prev()
			}
		}

		for ; k != nil; k, id = c.Prev() {
			if limit > 0 && len(out) >= limit {
				break
			}
			v, err := getVersion(tx, string(id))
			if err != nil {
				return err
			}
			out = append(out, v)
		}
		return nil
	})
	return out, err
}

// LoadBranch retrieves a branch by name
func (s *Bolt) LoadBranch(ctx context.Context, projectID, name string) (*Branch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b := &Branch{}
	err := s.get(projectID, branchesBucket, name, b)
	if err != nil {
		return nil, fmt.Errorf("branch %s: %w", name, err)
	}
	return b, nil
}

// UpsertBranches writes all branches in a single transaction
func (s *Bolt) UpsertBranches(ctx context.Context, branches ...*Branch) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		for _, b := range branches {
			if err := put(tx, b.ProjectID, branchesBucket, b.Name, b); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListBranches returns all branches of a project in name order
func (s *Bolt) ListBranches(ctx context.Context, projectID string) ([]*Branch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var branches []*Branch
	err := s.list(projectID, branchesBucket, func(data []byte) error {
		b := &Branch{}
		if err := json.Unmarshal(data, b); err != nil {
			return err
		}
		branches = append(branches, b)
		return nil
	})
	return branches, err
}

// LoadTag retrieves a tag by name
func (s *Bolt) LoadTag(ctx context.Context, projectID, name string) (*Tag, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t := &Tag{}
	if err := s.get(projectID, tagsBucket, name, t); err != nil {
		return nil, fmt.Errorf("tag %s: %w", name, err)
	}
	return t, nil
}

// InsertTag stores a tag
func (s *Bolt) InsertTag(ctx context.Context, t *Tag) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, t.ProjectID, tagsBucket, t.Name, t)
	})
}

// ListTags returns all tags of a project in name order
func (s *Bolt) ListTags(ctx context.Context, projectID string) ([]*Tag, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var tags []*Tag
	err := s.list(projectID, tagsBucket, func(data []byte) error {
		t := &Tag{}
		if err := json.Unmarshal(data, t); err != nil {
			return err
		}
		tags = append(tags, t)
		return nil
	})
	return tags, err
}

// DeleteProject removes the project's buckets and every version in its log
func (s *Bolt) DeleteProject(ctx context.Context, projectID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		project, err := projectBucket(tx, projectID, false)
		if err != nil {
			return err
		}
		if project == nil {
			return fmt.Errorf("project %s: %w", projectID, errs.ErrNotFound)
		}

		versions := tx.Bucket(VersionsBucket)
		err = project.Bucket(logBucket).ForEach(func(_, id []byte) error {
			return versions.Delete(id)
		})
		if err != nil {
			return fmt.Errorf("failed to delete versions: %w", err)
		}
		return tx.Bucket(ProjectsBucket).DeleteBucket([]byte(projectID))
	})
}

// projectBucket returns the nested bucket of a project. With create unset a
// missing project yields a nil bucket and no error.
func projectBucket(tx *bolt.Tx, projectID string, create bool) (*bolt.Bucket, error) {
	projects := tx.Bucket(ProjectsBucket)
	if !create {
		return projects.Bucket([]byte(projectID)), nil
	}

	project, err := projects.CreateBucketIfNotExists([]byte(projectID))
	if err != nil {
		return nil, fmt.Errorf("failed to create project bucket: %w", err)
	}
	for _, name := range [][]byte{logBucket, branchesBucket, tagsBucket} {
		if _, err := project.CreateBucketIfNotExists(name); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", name, err)
		}
	}
	return project, nil
}

func put(tx *bolt.Tx, projectID string, bucket []byte, key string, value any) error {
	if projectID == "" || key == "" {
		return fmt.Errorf("project id and name are required")
	}
	project, err := projectBucket(tx, projectID, true)
	if err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", bucket, err)
	}
	return project.Bucket(bucket).Put([]byte(key), data)
}

func (s *Bolt) get(projectID string, bucket []byte, key string, value any) error {
	return s.db.View(func(tx *bolt.Tx) error {
		project, _ := projectBucket(tx, projectID, false)
		if project == nil {
			return errs.ErrNotFound
		}
		data := project.Bucket(bucket).Get([]byte(key))
		if data == nil {
			return errs.ErrNotFound
		}
		return json.Unmarshal(data, value)
	})
}

func (s *Bolt) list(projectID string, bucket []byte, fn func(data []byte) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		project, _ := projectBucket(tx, projectID, false)
		if project == nil {
			return nil
		}
		return project.Bucket(bucket).ForEach(func(_, v []byte) error {
			return fn(v)
		})
	})
}

// Compact creates a compacted copy of the database, removing unused space.
// This is useful after deleting projects to reclaim disk space.
func (s *Bolt) Compact() error {
	srcPath := s.db.Path()
	tmpPath := srcPath + ".compact"

	// Create new database
	dst, err := bolt.Open(tmpPath, 0600, boltOptions)
	if err != nil {
		return fmt.Errorf("failed to create compact database: %w", err)
	}

	// Copy all buckets, including nested project buckets
	err = s.db.View(func(srcTx *bolt.Tx) error {
		return dst.Update(func(dstTx *bolt.Tx) error {
			return srcTx.ForEach(func(name []byte, srcBucket *bolt.Bucket) error {
				dstBucket, err := dstTx.CreateBucketIfNotExists(name)
				if err != nil {
					return err
				}
				return copyBucket(srcBucket, dstBucket)
			})
		})
	})

	if err != nil {
		dst.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to copy data: %w", err)
	}

	if err := dst.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close compact database: %w", err)
	}

	if err := s.db.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close source database: %w", err)
	}

	// Atomic replace
	backupPath := srcPath + ".backup"
	if err := os.Rename(srcPath, backupPath); err != nil {
		return fmt.Errorf("failed to backup original: %w", err)
	}
	if err := os.Rename(tmpPath, srcPath); err != nil {
		os.Rename(backupPath, srcPath) // rollback
		return fmt.Errorf("failed to replace database: %w", err)
	}
	os.Remove(backupPath)

	// Reopen database
	s.db, err = bolt.Open(srcPath, 0600, boltOptions)
	if err != nil {
		return fmt.Errorf("failed to reopen database: %w", err)
	}

	return nil
}

func copyBucket(src, dst *bolt.Bucket) error {
	if err := dst.SetSequence(src.Sequence()); err != nil {
		return err
	}
	return src.ForEach(func(k, v []byte) error {
		if v != nil {
			return dst.Put(k, v)
		}
		// nil value marks a nested bucket
		child, err := dst.CreateBucketIfNotExists(k)
		if err != nil {
			return err
		}
		return copyBucket(src.Bucket(k), child)
	})
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
