package storage

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cached wraps a Store with an LRU of version records. Versions are
// immutable, so entries never need invalidation except on project deletion.
type Cached struct {
	Store
	versions *lru.Cache[string, *Version]
}

// NewCached wraps s with a cache of up to size versions.
func NewCached(s Store, size int) (*Cached, error) {
	c, err := lru.New[string, *Version](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create version cache: %w", err)
	}
	return &Cached{Store: s, versions: c}, nil
}

func (c *Cached) LoadVersion(ctx context.Context, id string) (*Version, error) {
	if v, ok := c.versions.Get(id); ok {
		return v.Clone(), nil
	}
	v, err := c.Store.LoadVersion(ctx, id)
	if err != nil {
		return nil, err
	}
	c.versions.Add(id, v.Clone())
	return v, nil
}

func (c *Cached) AppendVersion(ctx context.Context, v *Version) error {
	if err := c.Store.AppendVersion(ctx, v); err != nil {
		return err
	}
	c.versions.Add(v.ID, v.Clone())
	return nil
}

func (c *Cached) DeleteProject(ctx context.Context, projectID string) error {
	err := c.Store.DeleteProject(ctx, projectID)
	c.versions.Purge()
	return err
}

// Len returns the number of cached versions.
func (c *Cached) Len() int {
	return c.versions.Len()
}

// Unwrap returns the underlying store.
func (c *Cached) Unwrap() Store {
	return c.Store
}
