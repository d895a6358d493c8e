package storage

import (
	"context"
	"fmt"
	"regexp"
)

// Backend names accepted by Open.
const (
	BackendBolt   = "bolt"
	BackendBadger = "badger"
)

var projectIDPattern = regexp.MustCompile(`^[A-Za-z0-9-]+$`)

// ValidProjectID reports whether id is an acceptable project id. Generated
// ids are UUIDs.
func ValidProjectID(id string) bool {
	return projectIDPattern.MatchString(id)
}

// Store is the persistence boundary. Lookups of unknown records return an
// error wrapping errors.ErrNotFound.
type Store interface {
	LoadVersion(ctx context.Context, id string) (*Version, error)
	// AppendVersion assigns v.Seq and stores v. It fails if v.ID exists.
	AppendVersion(ctx context.Context, v *Version) error
	// Versions returns up to limit versions of a project with Seq below
	// before, newest first. before == 0 starts at the newest version and
	// limit <= 0 means no limit.
	Versions(ctx context.Context, projectID string, before uint64, limit int) ([]*Version, error)

	LoadBranch(ctx context.Context, projectID, name string) (*Branch, error)
	// UpsertBranches writes all branches in one transaction.
	UpsertBranches(ctx context.Context, branches ...*Branch) error
	ListBranches(ctx context.Context, projectID string) ([]*Branch, error)

	LoadTag(ctx context.Context, projectID, name string) (*Tag, error)
	InsertTag(ctx context.Context, t *Tag) error
	ListTags(ctx context.Context, projectID string) ([]*Tag, error)

	// DeleteProject removes every record of a project.
	DeleteProject(ctx context.Context, projectID string) error
	Close() error
}

// Options configures Open.
type Options struct {
	Backend   string
	Path      string
	CacheSize int // versions kept in memory, 0 disables the cache
}

// Open opens the configured backend, wrapped in a version cache if
// CacheSize is positive.
func Open(opts Options) (Store, error) {
	var (
		s   Store
		err error
	)
	switch opts.Backend {
	case "", BackendBolt:
		s, err = OpenBolt(opts.Path)
	case BackendBadger:
		s, err = OpenBadger(opts.Path)
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
	if err != nil {
		return nil, err
	}
	if opts.CacheSize > 0 {
		return NewCached(s, opts.CacheSize)
	}
	return s, nil
}
