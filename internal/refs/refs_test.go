package refs

import (
	"context"
	"testing"

	errs "github.com/illarion/envsync/internal/errors"
	"github.com/illarion/envsync/internal/storage"
)

const project = "proj-1"

func newManager(t *testing.T) (*Manager, storage.Store) {
	t.Helper()
	db, err := storage.OpenBadgerInMemory()
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	m := NewManager(db, nil)
	if _, err := m.InitProject(context.Background(), project); err != nil {
		t.Fatalf("Failed to init project: %v", err)
	}
	return m, db
}

func appendVersion(t *testing.T, db storage.Store, projectID, id string) {
	t.Helper()
	if err := db.AppendVersion(context.Background(), &storage.Version{ID: id, ProjectID: projectID}); err != nil {
		t.Fatalf("Failed to append version: %v", err)
	}
}

func advance(t *testing.T, db storage.Store, name, id string, active bool) {
	t.Helper()
	err := db.UpsertBranches(context.Background(), &storage.Branch{
		ProjectID: project, Name: name, BaseVersionID: id, IsActive: active,
	})
	if err != nil {
		t.Fatalf("Failed to advance branch: %v", err)
	}
}

func TestInitProject(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	active, err := m.Active(ctx, project)
	if err != nil {
		t.Fatalf("Failed to get active branch: %v", err)
	}
	if active.Name != DefaultBranch || !active.Unborn() {
		t.Errorf("unexpected initial branch %+v", active)
	}

	if _, err := m.InitProject(ctx, project); !errs.Is(err, errs.ErrDuplicateName) {
		t.Errorf("second init: expected ErrDuplicateName, got %v", err)
	}

	for _, id := range []string{"", "a:x", "../x"} {
		if _, err := m.InitProject(ctx, id); !errs.Is(err, errs.ErrInvalidName) {
			t.Errorf("InitProject(%q): expected ErrInvalidName, got %v", id, err)
		}
	}

	if _, err := m.Active(ctx, "other"); !errs.Is(err, errs.ErrNotFound) {
		t.Errorf("uninitialized project: expected ErrNotFound, got %v", err)
	}
}

func TestCreateBranch(t *testing.T) {
	m, db := newManager(t)
	ctx := context.Background()

	appendVersion(t, db, project, "v1")
	appendVersion(t, db, project, "v2")
	advance(t, db, DefaultBranch, "v2", true)

	// Defaults to the active head
	b, err := m.CreateBranch(ctx, project, "feature/login", "")
	if err != nil {
		t.Fatalf("Failed to create branch: %v", err)
	}
	if b.BaseVersionID != "v2" || b.IsActive {
		t.Errorf("unexpected branch %+v", b)
	}

	b, err = m.CreateBranch(ctx, project, "staging", "v1")
	if err != nil {
		t.Fatalf("Failed to create branch: %v", err)
	}
	if b.BaseVersionID != "v1" {
		t.Errorf("base = %s, want v1", b.BaseVersionID)
	}

	tests := []struct {
		name string
		base string
		want error
	}{
		{name: "staging", want: errs.ErrDuplicateName},
		{name: "bad name", want: errs.ErrInvalidName},
		{name: "", want: errs.ErrInvalidName},
		{name: "ok", base: "missing", want: errs.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.CreateBranch(ctx, project, tt.name, tt.base)
			if !errs.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}

	// Version of another project cannot be a base
	appendVersion(t, db, "proj-2", "foreign")
	if _, err := m.CreateBranch(ctx, project, "foreign", "foreign"); !errs.Is(err, errs.ErrNotFound) {
		t.Errorf("foreign base: expected ErrNotFound, got %v", err)
	}

	// Main is untouched and still active
	active, err := m.Active(ctx, project)
	if err != nil {
		t.Fatalf("Failed to get active branch: %v", err)
	}
	if active.Name != DefaultBranch || active.BaseVersionID != "v2" {
		t.Errorf("unexpected active branch %+v", active)
	}
}

func TestSwitchBranch(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	if _, err := m.CreateBranch(ctx, project, "dev", ""); err != nil {
		t.Fatalf("Failed to create branch: %v", err)
	}

	b, err := m.SwitchBranch(ctx, project, "dev")
	if err != nil {
		t.Fatalf("Failed to switch branch: %v", err)
	}
	if !b.IsActive {
		t.Error("switched branch should be active")
	}

	branches, err := m.ListBranches(ctx, project)
	if err != nil {
		t.Fatalf("Failed to list branches: %v", err)
	}
	if len(branches) != 2 || branches[0].Name != "dev" || branches[1].Name != DefaultBranch {
		t.Fatalf("unexpected branches %v", branches)
	}
	if !branches[0].IsActive || branches[1].IsActive {
		t.Error("exactly dev should be active")
	}

	// Switching to the active branch is a no-op
	if _, err := m.SwitchBranch(ctx, project, "dev"); err != nil {
		t.Errorf("Failed to re-switch: %v", err)
	}

	if _, err := m.SwitchBranch(ctx, project, "nope"); !errs.Is(err, errs.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	active, err := m.Active(ctx, project)
	if err != nil || active.Name != "dev" {
		t.Errorf("active = %v, %v; want dev", active, err)
	}
}

func TestCreateTag(t *testing.T) {
	m, db := newManager(t)
	ctx := context.Background()

	if _, err := m.CreateTag(ctx, project, "v0", ""); !errs.Is(err, errs.ErrNotFound) {
		t.Errorf("tag on unborn branch: expected ErrNotFound, got %v", err)
	}

	appendVersion(t, db, project, "v1")
	appendVersion(t, db, project, "v2")
	advance(t, db, DefaultBranch, "v2", true)

	tag, err := m.CreateTag(ctx, project, "release-1.0", "")
	if err != nil {
		t.Fatalf("Failed to create tag: %v", err)
	}
	if tag.VersionID != "v2" {
		t.Errorf("tag version = %s, want v2", tag.VersionID)
	}

	if _, err := m.CreateTag(ctx, project, "old", "v1"); err != nil {
		t.Fatalf("Failed to create tag: %v", err)
	}

	// Re-creating is a conflict, not an overwrite
	if _, err := m.CreateTag(ctx, project, "release-1.0", "v1"); !errs.Is(err, errs.ErrDuplicateName) {
		t.Errorf("expected ErrDuplicateName, got %v", err)
	}
	got, err := db.LoadTag(ctx, project, "release-1.0")
	if err != nil || got.VersionID != "v2" {
		t.Errorf("tag was modified: %v, %v", got, err)
	}

	if _, err := m.CreateTag(ctx, project, "a/b", "v1"); !errs.Is(err, errs.ErrInvalidName) {
		t.Errorf("slash in tag: expected ErrInvalidName, got %v", err)
	}
	if _, err := m.CreateTag(ctx, project, "ghost", "missing"); !errs.Is(err, errs.ErrNotFound) {
		t.Errorf("missing version: expected ErrNotFound, got %v", err)
	}

	tags, err := m.ListTags(ctx, project)
	if err != nil {
		t.Fatalf("Failed to list tags: %v", err)
	}
	if len(tags) != 2 || tags[0].Name != "old" || tags[1].Name != "release-1.0" {
		t.Errorf("unexpected tags %v", tags)
	}
}

func TestResolve(t *testing.T) {
	m, db := newManager(t)
	ctx := context.Background()

	if _, err := m.Resolve(ctx, project, ""); !errs.Is(err, errs.ErrNotFound) {
		t.Errorf("unborn head: expected ErrNotFound, got %v", err)
	}

	appendVersion(t, db, project, "v1")
	appendVersion(t, db, project, "v2")
	advance(t, db, DefaultBranch, "v2", true)
	if _, err := m.CreateBranch(ctx, project, "old", "v1"); err != nil {
		t.Fatalf("Failed to create branch: %v", err)
	}
	if _, err := m.CreateTag(ctx, project, "first", "v1"); err != nil {
		t.Fatalf("Failed to create tag: %v", err)
	}
	// A tag shadows a branch of the same name
	if _, err := m.CreateTag(ctx, project, "main", "v1"); err != nil {
		t.Fatalf("Failed to create tag: %v", err)
	}

	tests := []struct {
		ref  string
		want string
		err  error
	}{
		{ref: "", want: "v2"},
		{ref: "first", want: "v1"},
		{ref: "old", want: "v1"},
		{ref: "main", want: "v1"},
		{ref: "v2", want: "v2"},
		{ref: "nothing", err: errs.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got, err := m.Resolve(ctx, project, tt.ref)
			if tt.err != nil {
				if !errs.Is(err, tt.err) {
					t.Errorf("expected %v, got %v", tt.err, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Failed to resolve: %v", err)
			}
			if got != tt.want {
				t.Errorf("Resolve(%q) = %s, want %s", tt.ref, got, tt.want)
			}
		})
	}
}

func TestDanglingActiveHead(t *testing.T) {
	m, db := newManager(t)
	ctx := context.Background()

	advance(t, db, DefaultBranch, "ghost", true)

	if _, err := m.CreateBranch(ctx, project, "feature", ""); !errs.Is(err, errs.ErrDanglingReference) {
		t.Errorf("branch from dangling head: expected ErrDanglingReference, got %v", err)
	}
	if _, err := db.LoadBranch(ctx, project, "feature"); !errs.Is(err, errs.ErrNotFound) {
		t.Errorf("branch should not be created, got %v", err)
	}
	if _, err := m.CreateTag(ctx, project, "v1", ""); !errs.Is(err, errs.ErrDanglingReference) {
		t.Errorf("tag of dangling head: expected ErrDanglingReference, got %v", err)
	}
	if _, err := m.Resolve(ctx, project, ""); !errs.Is(err, errs.ErrDanglingReference) {
		t.Errorf("resolve dangling head: expected ErrDanglingReference, got %v", err)
	}
}

func TestResolveDanglingRefs(t *testing.T) {
	m, db := newManager(t)
	ctx := context.Background()

	appendVersion(t, db, project, "v1")
	advance(t, db, DefaultBranch, "v1", true)
	appendVersion(t, db, "proj-2", "foreign")

	advance(t, db, "broken", "ghost", false)
	for _, tag := range []*storage.Tag{
		{ProjectID: project, Name: "missing", VersionID: "ghost"},
		{ProjectID: project, Name: "elsewhere", VersionID: "foreign"},
	} {
		if err := db.InsertTag(ctx, tag); err != nil {
			t.Fatalf("Failed to insert tag: %v", err)
		}
	}

	for _, ref := range []string{"broken", "missing", "elsewhere"} {
		t.Run(ref, func(t *testing.T) {
			if _, err := m.Resolve(ctx, project, ref); !errs.Is(err, errs.ErrDanglingReference) {
				t.Errorf("expected ErrDanglingReference, got %v", err)
			}
		})
	}
}

func TestVerify(t *testing.T) {
	m, db := newManager(t)
	ctx := context.Background()

	if err := m.Verify(ctx, project); err != nil {
		t.Errorf("fresh project should verify: %v", err)
	}

	appendVersion(t, db, project, "v1")
	advance(t, db, DefaultBranch, "v1", true)
	if _, err := m.CreateTag(ctx, project, "good", "v1"); err != nil {
		t.Fatalf("Failed to create tag: %v", err)
	}
	if err := m.Verify(ctx, project); err != nil {
		t.Errorf("consistent project should verify: %v", err)
	}

	// Corrupt the refs behind the manager's back
	advance(t, db, "broken", "ghost", false)
	if err := db.InsertTag(ctx, &storage.Tag{ProjectID: project, Name: "bad", VersionID: "ghost"}); err != nil {
		t.Fatalf("Failed to insert tag: %v", err)
	}

	err := m.Verify(ctx, project)
	if !errs.Is(err, errs.ErrDanglingReference) {
		t.Fatalf("expected ErrDanglingReference, got %v", err)
	}
	var opErr *errs.OpError
	if !errs.As(err, &opErr) {
		t.Fatal("expected an OpError naming the reference")
	}
}
