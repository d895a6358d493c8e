package bundle

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/klauspost/compress/zstd"

	"github.com/illarion/envsync/internal/crypto"
	"github.com/illarion/envsync/internal/envmap"
	errs "github.com/illarion/envsync/internal/errors"
	"github.com/illarion/envsync/internal/history"
	"github.com/illarion/envsync/internal/refs"
	"github.com/illarion/envsync/internal/storage"
)

const project = "proj-1"

func openStore(t *testing.T) storage.Store {
	t.Helper()
	db, err := storage.OpenBadgerInMemory()
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testKeys(t *testing.T) *crypto.KeyChain {
	t.Helper()
	keys, err := crypto.NewKeyChain([]byte("alice@example.com"), crypto.KeyModeProject)
	if err != nil {
		t.Fatalf("Failed to create key chain: %v", err)
	}
	return keys
}

// seed records two versions on main and tags the first.
func seed(t *testing.T, db storage.Store, keys *crypto.KeyChain) *history.Store {
	t.Helper()
	ctx := context.Background()
	r := refs.NewManager(db, nil)
	if _, err := r.InitProject(ctx, project); err != nil {
		t.Fatalf("InitProject failed: %v", err)
	}
	h := history.New(db, keys)
	v1, err := h.Create(ctx, history.CreateRequest{
		ProjectID: project, Branch: refs.DefaultBranch, AuthorID: "alice",
		Content: envmap.Map{"A": "1"},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := h.Create(ctx, history.CreateRequest{
		ProjectID: project, Branch: refs.DefaultBranch, AuthorID: "alice",
		Content: envmap.Map{"A": "2", "B": "x"},
	}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := r.CreateTag(ctx, project, "v1.0", v1.ID); err != nil {
		t.Fatalf("CreateTag failed: %v", err)
	}
	return h
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	keys := testKeys(t)
	src := openStore(t)
	seed(t, src, keys)

	var buf bytes.Buffer
	stats, err := Export(ctx, src, project, &buf)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if stats.Versions != 2 || stats.Branches != 1 || stats.Tags != 1 {
		t.Errorf("Unexpected export stats: %+v", stats)
	}

	dst := openStore(t)
	got, err := Import(ctx, dst, bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if *got != *stats {
		t.Errorf("Import stats %+v, want %+v", got, stats)
	}

	head, err := history.New(dst, keys).Head(ctx, project, refs.DefaultBranch)
	if err != nil {
		t.Fatalf("Head failed: %v", err)
	}
	if !head.Content.Equal(envmap.Map{"A": "2", "B": "x"}) {
		t.Errorf("Imported head content = %v", head.Content)
	}

	r := refs.NewManager(dst, nil)
	if err := r.Verify(ctx, project); err != nil {
		t.Errorf("Verify after import failed: %v", err)
	}
	id, err := r.Resolve(ctx, project, "v1.0")
	if err != nil {
		t.Fatalf("Resolve tag failed: %v", err)
	}
	v, err := history.New(dst, keys).Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if v.Seq >= head.Version.Seq {
		t.Errorf("Import did not preserve log order: tag seq %d, head seq %d", v.Seq, head.Version.Seq)
	}
}

func TestExportUnknownProject(t *testing.T) {
	var buf bytes.Buffer
	_, err := Export(context.Background(), openStore(t), "nope", &buf)
	if !errs.Is(err, errs.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestImportRefusesExistingProject(t *testing.T) {
	ctx := context.Background()
	keys := testKeys(t)
	db := openStore(t)
	seed(t, db, keys)

	var buf bytes.Buffer
	if _, err := Export(ctx, db, project, &buf); err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	_, err := Import(ctx, db, &buf)
	if !errs.Is(err, errs.ErrDuplicateName) {
		t.Errorf("Expected ErrDuplicateName, got %v", err)
	}
}

func writeBundle(t *testing.T, recs ...record) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatalf("Failed to create encoder: %v", err)
	}
	out := json.NewEncoder(enc)
	for _, r := range recs {
		if err := out.Encode(r); err != nil {
			t.Fatalf("Failed to encode record: %v", err)
		}
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Failed to close encoder: %v", err)
	}
	return &buf
}

func TestImportRejectsInvalidBundles(t *testing.T) {
	header := &Header{Format: Format, Version: FormatVersion, ProjectID: project}
	mainBranch := &storage.Branch{ProjectID: project, Name: "main", IsActive: true}
	v1 := &storage.Version{ID: "v1", ProjectID: project, Branch: "main"}

	tests := []struct {
		name   string
		recs   []record
		target error
	}{
		{
			name:   "missing header",
			recs:   []record{{Branch: mainBranch}},
			target: errs.ErrMalformedPayload,
		},
		{
			name:   "wrong format",
			recs:   []record{{Header: &Header{Format: "other", Version: 1}}},
			target: errs.ErrMalformedPayload,
		},
		{
			name: "dangling branch",
			recs: []record{
				{Header: header},
				{Branch: &storage.Branch{ProjectID: project, Name: "main", BaseVersionID: "gone", IsActive: true}},
			},
			target: errs.ErrDanglingReference,
		},
		{
			name: "dangling tag",
			recs: []record{
				{Header: header},
				{Version: v1},
				{Branch: &storage.Branch{ProjectID: project, Name: "main", BaseVersionID: "v1", IsActive: true}},
				{Tag: &storage.Tag{ProjectID: project, Name: "v1.0", VersionID: "gone"}},
			},
			target: errs.ErrDanglingReference,
		},
		{
			name: "invalid project id",
			recs: []record{
				{Header: &Header{Format: Format, Version: FormatVersion, ProjectID: "a:x"}},
				{Branch: &storage.Branch{ProjectID: "a:x", Name: "main", IsActive: true}},
			},
			target: errs.ErrInvalidName,
		},
		{
			name:   "duplicate version",
			recs:   []record{{Header: header}, {Version: v1}, {Version: v1}, {Branch: mainBranch}},
			target: errs.ErrDuplicateName,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := openStore(t)
			_, err := Import(context.Background(), db, writeBundle(t, tt.recs...))
			if !errs.Is(err, tt.target) {
				t.Fatalf("Expected %v, got %v", tt.target, err)
			}
			branches, err := db.ListBranches(context.Background(), project)
			if err != nil {
				t.Fatalf("ListBranches failed: %v", err)
			}
			if len(branches) != 0 {
				t.Errorf("Rejected import wrote %d branches", len(branches))
			}
		})
	}
}

func TestImportRequiresOneActiveBranch(t *testing.T) {
	header := &Header{Format: Format, Version: FormatVersion, ProjectID: project}
	buf := writeBundle(t,
		record{Header: header},
		record{Branch: &storage.Branch{ProjectID: project, Name: "main"}},
	)
	if _, err := Import(context.Background(), openStore(t), buf); err == nil {
		t.Error("Expected error for bundle without an active branch")
	}
}

func TestInspect(t *testing.T) {
	ctx := context.Background()
	db := openStore(t)
	seed(t, db, testKeys(t))

	var buf bytes.Buffer
	if _, err := Export(ctx, db, project, &buf); err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	header, stats, err := Inspect(&buf)
	if err != nil {
		t.Fatalf("Inspect failed: %v", err)
	}
	if header.ProjectID != project || header.Format != Format {
		t.Errorf("Unexpected header: %+v", header)
	}
	if stats.Versions != 2 || stats.Tags != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestImportNotABundle(t *testing.T) {
	_, err := Import(context.Background(), openStore(t), bytes.NewReader([]byte("plain text")))
	if err == nil {
		t.Error("Expected error for non-zstd input")
	}
}
