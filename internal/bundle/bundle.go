// Package bundle exports and imports a project's encrypted history as a
// zstd-compressed stream of JSON lines.
//
// Version content stays encrypted end to end; a bundle is only readable by
// holders of the identity secret it was written under. The first line is a
// header, followed by versions oldest first, then branches and tags.
package bundle

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/klauspost/compress/zstd"

	errs "github.com/illarion/envsync/internal/errors"
	"github.com/illarion/envsync/internal/storage"
)

const (
	// Format identifies envsync bundles.
	Format = "envsync-bundle"

	// FormatVersion is the bundle layout version.
	FormatVersion = 1
)

// Header is the first record of a bundle.
type Header struct {
	Format     string    `json:"format"`
	Version    int       `json:"version"`
	ProjectID  string    `json:"project_id"`
	ExportedAt time.Time `json:"exported_at"`
}

type record struct {
	Header  *Header          `json:"header,omitempty"`
	Version *storage.Version `json:"version,omitempty"`
	Branch  *storage.Branch  `json:"branch,omitempty"`
	Tag     *storage.Tag     `json:"tag,omitempty"`
}

// Stats counts the records of a bundle.
type Stats struct {
	ProjectID string
	Versions  int
	Branches  int
	Tags      int
}

// Export writes every record of projectID to w.
func Export(ctx context.Context, db storage.Store, projectID string, w io.Writer) (*Stats, error) {
	versions, err := db.Versions(ctx, projectID, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("listing versions: %w", err)
	}
	slices.Reverse(versions)

	branches, err := db.ListBranches(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing branches: %w", err)
	}
	if len(branches) == 0 {
		return nil, errs.E("export", projectID, "", errs.ErrNotFound)
	}
	tags, err := db.ListTags(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing tags: %w", err)
	}

	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("creating encoder: %w", err)
	}
	out := json.NewEncoder(enc)

	header := &Header{
		Format:     Format,
		Version:    FormatVersion,
		ProjectID:  projectID,
		ExportedAt: time.Now().UTC(),
	}
	if err := out.Encode(record{Header: header}); err != nil {
		enc.Close()
		return nil, fmt.Errorf("writing header: %w", err)
	}
	for _, v := range versions {
		if err := out.Encode(record{Version: v}); err != nil {
			enc.Close()
			return nil, fmt.Errorf("writing version %s: %w", v.ID, err)
		}
	}
	for _, b := range branches {
		if err := out.Encode(record{Branch: b}); err != nil {
			enc.Close()
			return nil, fmt.Errorf("writing branch %s: %w", b.Name, err)
		}
	}
	for _, t := range tags {
		if err := out.Encode(record{Tag: t}); err != nil {
			enc.Close()
			return nil, fmt.Errorf("writing tag %s: %w", t.Name, err)
		}
	}

	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("flushing bundle: %w", err)
	}
	return &Stats{
		ProjectID: projectID,
		Versions:  len(versions),
		Branches:  len(branches),
		Tags:      len(tags),
	}, nil
}

type contents struct {
	header   *Header
	versions []*storage.Version
	branches []*storage.Branch
	tags     []*storage.Tag
}

func read(r io.Reader) (*contents, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("creating decoder: %w", err)
	}
	defer dec.Close()

	c := &contents{}
	scanner := bufio.NewScanner(dec)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		var rec record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w: %v", line, errs.ErrMalformedPayload, err)
		}
		switch {
		case rec.Header != nil:
			if line != 1 {
				return nil, fmt.Errorf("line %d: %w: unexpected header", line, errs.ErrMalformedPayload)
			}
			c.header = rec.Header
		case c.header == nil:
			return nil, fmt.Errorf("%w: bundle has no header", errs.ErrMalformedPayload)
		case rec.Version != nil:
			c.versions = append(c.versions, rec.Version)
		case rec.Branch != nil:
			c.branches = append(c.branches, rec.Branch)
		case rec.Tag != nil:
			c.tags = append(c.tags, rec.Tag)
		default:
			return nil, fmt.Errorf("line %d: %w: empty record", line, errs.ErrMalformedPayload)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading bundle: %w", err)
	}
	if c.header == nil {
		return nil, fmt.Errorf("%w: bundle has no header", errs.ErrMalformedPayload)
	}
	if c.header.Format != Format || c.header.Version != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported bundle %s v%d", errs.ErrMalformedPayload, c.header.Format, c.header.Version)
	}
	return c, nil
}

// validate checks that every record belongs to the header's project and
// that every reference resolves to a version in the bundle.
func (c *contents) validate() error {
	project := c.header.ProjectID
	if !storage.ValidProjectID(project) {
		return errs.E("import", project, "", errs.ErrInvalidName)
	}
	ids := make(map[string]bool, len(c.versions))
	for _, v := range c.versions {
		if v.ProjectID != project {
			return fmt.Errorf("version %s belongs to project %s", v.ID, v.ProjectID)
		}
		if ids[v.ID] {
			return fmt.Errorf("version %s: %w", v.ID, errs.ErrDuplicateName)
		}
		ids[v.ID] = true
	}

	active := 0
	for _, b := range c.branches {
		if b.ProjectID != project {
			return fmt.Errorf("branch %s belongs to project %s", b.Name, b.ProjectID)
		}
		if b.IsActive {
			active++
		}
		if !b.Unborn() && !ids[b.BaseVersionID] {
			return errs.E("import", project, b.Name,
				fmt.Errorf("%w: version %s", errs.ErrDanglingReference, b.BaseVersionID))
		}
	}
	if len(c.branches) == 0 || active != 1 {
		return fmt.Errorf("bundle must hold exactly one active branch, found %d", active)
	}

	for _, t := range c.tags {
		if t.ProjectID != project {
			return fmt.Errorf("tag %s belongs to project %s", t.Name, t.ProjectID)
		}
		if !ids[t.VersionID] {
			return errs.E("import", project, t.Name,
				fmt.Errorf("%w: version %s", errs.ErrDanglingReference, t.VersionID))
		}
	}
	return nil
}

// Import reads a bundle from r and writes it to db. It refuses bundles with
// dangling references and projects that already exist in db.
func Import(ctx context.Context, db storage.Store, r io.Reader) (*Stats, error) {
	c, err := read(r)
	if err != nil {
		return nil, err
	}
	if err := c.validate(); err != nil {
		return nil, err
	}

	project := c.header.ProjectID
	existing, err := db.ListBranches(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("listing branches: %w", err)
	}
	if len(existing) > 0 {
		return nil, errs.E("import", project, "", errs.ErrDuplicateName)
	}
	for _, v := range c.versions {
		if _, err := db.LoadVersion(ctx, v.ID); err == nil {
			return nil, errs.E("import", project, v.ID, errs.ErrDuplicateName)
		} else if !errs.Is(err, errs.ErrNotFound) {
			return nil, err
		}
	}

	// Sequences are reassigned in bundle order, which is log order
	for _, v := range c.versions {
		if err := db.AppendVersion(ctx, v); err != nil {
			return nil, errs.E("import", project, v.ID, err)
		}
	}
	for _, t := range c.tags {
		if err := db.InsertTag(ctx, t); err != nil {
			return nil, errs.E("import", project, t.Name, err)
		}
	}
	// Branches last, so a partial import has no active branch to sync with
	if err := db.UpsertBranches(ctx, c.branches...); err != nil {
		return nil, errs.E("import", project, "", err)
	}

	return &Stats{
		ProjectID: project,
		Versions:  len(c.versions),
		Branches:  len(c.branches),
		Tags:      len(c.tags),
	}, nil
}

// Inspect reads a bundle's header and counts without importing it.
func Inspect(r io.Reader) (*Header, *Stats, error) {
	c, err := read(r)
	if err != nil {
		return nil, nil, err
	}
	return c.header, &Stats{
		ProjectID: c.header.ProjectID,
		Versions:  len(c.versions),
		Branches:  len(c.branches),
		Tags:      len(c.tags),
	}, nil
}
