package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illarion/envsync/internal/crypto"
	"github.com/illarion/envsync/internal/diff"
	errs "github.com/illarion/envsync/internal/errors"
)

type backend struct {
	name string
	open func(t *testing.T) Store
}

func backends() []backend {
	return []backend{
		{"bolt", func(t *testing.T) Store {
			s, err := OpenBolt(filepath.Join(t.TempDir(), "history.db"))
			require.NoError(t, err)
			return s
		}},
		{"badger", func(t *testing.T) Store {
			s, err := OpenBadgerInMemory()
			require.NoError(t, err)
			return s
		}},
		{"cached", func(t *testing.T) Store {
			s, err := OpenBadgerInMemory()
			require.NoError(t, err)
			c, err := NewCached(s, 8)
			require.NoError(t, err)
			return c
		}},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s Store)) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)
			defer s.Close()
			fn(t, s)
		})
	}
}

func testVersion(project, id string) *Version {
	return &Version{
		ID:        id,
		ProjectID: project,
		AuthorID:  "author",
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		Branch:    "main",
		Content: crypto.Blob{
			IV:         make([]byte, crypto.NonceSize),
			Ciphertext: []byte("ciphertext-" + id),
			AuthTag:    make([]byte, crypto.TagSize),
		},
		Changes:     diff.Summary{Added: []string{"A"}, Modified: []string{}, Deleted: []string{}},
		Fingerprint: "fp-" + id,
	}
}

func TestVersionAppendAndLoad(t *testing.T) {
	ctx := context.Background()
	forEachBackend(t, func(t *testing.T, s Store) {
		v := testVersion("p1", "v1")
		require.NoError(t, s.AppendVersion(ctx, v))
		assert.Equal(t, uint64(1), v.Seq)

		got, err := s.LoadVersion(ctx, "v1")
		require.NoError(t, err)
		assert.Equal(t, v.ID, got.ID)
		assert.Equal(t, v.Seq, got.Seq)
		assert.Equal(t, v.Content.Ciphertext, got.Content.Ciphertext)
		assert.Equal(t, v.Changes.Added, got.Changes.Added)
		assert.True(t, v.CreatedAt.Equal(got.CreatedAt))

		_, err = s.LoadVersion(ctx, "missing")
		assert.ErrorIs(t, err, errs.ErrNotFound)
	})
}

func TestVersionAppendRefusesOverwrite(t *testing.T) {
	ctx := context.Background()
	forEachBackend(t, func(t *testing.T, s Store) {
		require.NoError(t, s.AppendVersion(ctx, testVersion("p1", "v1")))

		dup := testVersion("p1", "v1")
		dup.Content.Ciphertext = []byte("other")
		err := s.AppendVersion(ctx, dup)
		assert.ErrorIs(t, err, errs.ErrDuplicateName)

		got, err := s.LoadVersion(ctx, "v1")
		require.NoError(t, err)
		assert.Equal(t, []byte("ciphertext-v1"), got.Content.Ciphertext)
	})
}

func TestVersionsNewestFirst(t *testing.T) {
	ctx := context.Background()
	forEachBackend(t, func(t *testing.T, s Store) {
		for i := 1; i <= 5; i++ {
			require.NoError(t, s.AppendVersion(ctx, testVersion("p1", fmt.Sprintf("v%d", i))))
		}
		require.NoError(t, s.AppendVersion(ctx, testVersion("p2", "other")))

		all, err := s.Versions(ctx, "p1", 0, 0)
		require.NoError(t, err)
		require.Len(t, all, 5)
		for i, v := range all {
			assert.Equal(t, fmt.Sprintf("v%d", 5-i), v.ID)
		}

		page, err := s.Versions(ctx, "p1", 0, 2)
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, "v5", page[0].ID)
		assert.Equal(t, "v4", page[1].ID)

		next, err := s.Versions(ctx, "p1", page[1].Seq, 2)
		require.NoError(t, err)
		require.Len(t, next, 2)
		assert.Equal(t, "v3", next[0].ID)
		assert.Equal(t, "v2", next[1].ID)

		tail, err := s.Versions(ctx, "p1", 1, 10)
		require.NoError(t, err)
		assert.Empty(t, tail)

		none, err := s.Versions(ctx, "unknown", 0, 0)
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestBranches(t *testing.T) {
	ctx := context.Background()
	forEachBackend(t, func(t *testing.T, s Store) {
		_, err := s.LoadBranch(ctx, "p1", "main")
		assert.ErrorIs(t, err, errs.ErrNotFound)

		main := &Branch{ProjectID: "p1", Name: "main", IsActive: true}
		dev := &Branch{ProjectID: "p1", Name: "feature/x", BaseVersionID: "v1"}
		require.NoError(t, s.UpsertBranches(ctx, main, dev))

		got, err := s.LoadBranch(ctx, "p1", "feature/x")
		require.NoError(t, err)
		assert.Equal(t, "v1", got.BaseVersionID)
		assert.False(t, got.IsActive)

		main.BaseVersionID = "v2"
		require.NoError(t, s.UpsertBranches(ctx, main))

		list, err := s.ListBranches(ctx, "p1")
		require.NoError(t, err)
		require.Len(t, list, 2)
		names := []string{list[0].Name, list[1].Name}
		assert.ElementsMatch(t, []string{"main", "feature/x"}, names)

		got, err = s.LoadBranch(ctx, "p1", "main")
		require.NoError(t, err)
		assert.Equal(t, "v2", got.BaseVersionID)
		assert.False(t, got.Unborn())

		other, err := s.ListBranches(ctx, "p2")
		require.NoError(t, err)
		assert.Empty(t, other)
	})
}

func TestTags(t *testing.T) {
	ctx := context.Background()
	forEachBackend(t, func(t *testing.T, s Store) {
		require.NoError(t, s.InsertTag(ctx, &Tag{ProjectID: "p1", Name: "v1.0", VersionID: "v1"}))
		require.NoError(t, s.InsertTag(ctx, &Tag{ProjectID: "p1", Name: "v1.1", VersionID: "v2"}))

		tag, err := s.LoadTag(ctx, "p1", "v1.0")
		require.NoError(t, err)
		assert.Equal(t, "v1", tag.VersionID)

		_, err = s.LoadTag(ctx, "p1", "nope")
		assert.ErrorIs(t, err, errs.ErrNotFound)

		tags, err := s.ListTags(ctx, "p1")
		require.NoError(t, err)
		assert.Len(t, tags, 2)
	})
}

func TestDeleteProject(t *testing.T) {
	ctx := context.Background()
	forEachBackend(t, func(t *testing.T, s Store) {
		require.NoError(t, s.AppendVersion(ctx, testVersion("p1", "v1")))
		require.NoError(t, s.AppendVersion(ctx, testVersion("p2", "w1")))
		require.NoError(t, s.UpsertBranches(ctx, &Branch{ProjectID: "p1", Name: "main", BaseVersionID: "v1", IsActive: true}))
		require.NoError(t, s.InsertTag(ctx, &Tag{ProjectID: "p1", Name: "t", VersionID: "v1"}))

		require.NoError(t, s.DeleteProject(ctx, "p1"))

		_, err := s.LoadVersion(ctx, "v1")
		assert.ErrorIs(t, err, errs.ErrNotFound)
		_, err = s.LoadBranch(ctx, "p1", "main")
		assert.ErrorIs(t, err, errs.ErrNotFound)
		_, err = s.LoadTag(ctx, "p1", "t")
		assert.ErrorIs(t, err, errs.ErrNotFound)

		// other projects are untouched
		_, err = s.LoadVersion(ctx, "w1")
		assert.NoError(t, err)

		err = s.DeleteProject(ctx, "p1")
		assert.ErrorIs(t, err, errs.ErrNotFound)
	})
}

func TestProjectIsolation(t *testing.T) {
	ctx := context.Background()
	forEachBackend(t, func(t *testing.T, s Store) {
		// "a" is a byte prefix of "a:x"
		require.NoError(t, s.AppendVersion(ctx, testVersion("a", "v1")))
		require.NoError(t, s.AppendVersion(ctx, testVersion("a:x", "x1")))
		require.NoError(t, s.AppendVersion(ctx, testVersion("a:x", "x2")))
		require.NoError(t, s.UpsertBranches(ctx, &Branch{ProjectID: "a", Name: "main", BaseVersionID: "v1", IsActive: true}))
		require.NoError(t, s.UpsertBranches(ctx, &Branch{ProjectID: "a:x", Name: "main", BaseVersionID: "x2", IsActive: true}))
		require.NoError(t, s.InsertTag(ctx, &Tag{ProjectID: "a:x", Name: "t", VersionID: "x1"}))

		versions, err := s.Versions(ctx, "a", 0, 0)
		require.NoError(t, err)
		require.Len(t, versions, 1)
		assert.Equal(t, "v1", versions[0].ID)

		branches, err := s.ListBranches(ctx, "a")
		require.NoError(t, err)
		require.Len(t, branches, 1)
		assert.Equal(t, "v1", branches[0].BaseVersionID)

		tags, err := s.ListTags(ctx, "a")
		require.NoError(t, err)
		assert.Empty(t, tags)

		require.NoError(t, s.DeleteProject(ctx, "a"))
		versions, err = s.Versions(ctx, "a:x", 0, 0)
		require.NoError(t, err)
		assert.Len(t, versions, 2)
		_, err = s.LoadTag(ctx, "a:x", "t")
		assert.NoError(t, err)
	})
}

func TestValidProjectID(t *testing.T) {
	for _, id := range []string{"proj-1", "6f1c2a9e-0b7d-4c29-9a0e-3f54d2b1c8aa", "A1"} {
		assert.True(t, ValidProjectID(id), id)
	}
	for _, id := range []string{"", "a:x", "a/b", "a b", "../p"} {
		assert.False(t, ValidProjectID(id), id)
	}
}

func TestCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	forEachBackend(t, func(t *testing.T, s Store) {
		err := s.AppendVersion(ctx, testVersion("p1", "v1"))
		assert.ErrorIs(t, err, context.Canceled)

		_, err = s.LoadVersion(context.Background(), "v1")
		assert.ErrorIs(t, err, errs.ErrNotFound)
	})
}

func TestOpenBackends(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(Options{Path: filepath.Join(dir, "history.db")})
	require.NoError(t, err)
	_, ok := s.(*Bolt)
	assert.True(t, ok, "default backend should be bolt")
	require.NoError(t, s.Close())

	s, err = Open(Options{Backend: BackendBadger, Path: filepath.Join(dir, "badger"), CacheSize: 4})
	require.NoError(t, err)
	c, ok := s.(*Cached)
	require.True(t, ok, "cache size should wrap the store")
	_, ok = c.Unwrap().(*Badger)
	assert.True(t, ok)
	require.NoError(t, s.Close())

	_, err = Open(Options{Backend: "sqlite"})
	assert.Error(t, err)
}
