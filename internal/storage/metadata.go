package storage

import (
	"slices"
	"time"

	"github.com/illarion/envsync/internal/crypto"
	"github.com/illarion/envsync/internal/diff"
)

// Version is an immutable snapshot of a project's config.
type Version struct {
	ID          string       `json:"id"`
	ProjectID   string       `json:"project_id"`
	AuthorID    string       `json:"author_id"`
	Seq         uint64       `json:"seq"` // assigned by the store on append
	CreatedAt   time.Time    `json:"created_at"`
	Description string       `json:"description,omitempty"`
	Branch      string       `json:"branch"`
	ParentID    string       `json:"parent_id,omitempty"`
	Content     crypto.Blob  `json:"content"`
	Changes     diff.Summary `json:"changes"`
	Fingerprint string       `json:"fingerprint"`
}

// Clone returns a deep copy of v.
func (v *Version) Clone() *Version {
	if v == nil {
		return nil
	}
	c := *v
	c.Content = *v.Content.Clone()
	c.Changes = diff.Summary{
		Added:    slices.Clone(v.Changes.Added),
		Modified: slices.Clone(v.Changes.Modified),
		Deleted:  slices.Clone(v.Changes.Deleted),
	}
	return &c
}

// Branch is a named, movable pointer to a version. An empty BaseVersionID
// means the branch has no versions yet.
type Branch struct {
	ProjectID     string    `json:"project_id"`
	Name          string    `json:"name"`
	BaseVersionID string    `json:"base_version_id,omitempty"`
	IsActive      bool      `json:"is_active"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Unborn reports whether the branch points at no version.
func (b *Branch) Unborn() bool {
	return b.BaseVersionID == ""
}

// Tag is a named, immutable pointer to a version.
type Tag struct {
	ProjectID string    `json:"project_id"`
	Name      string    `json:"name"`
	VersionID string    `json:"version_id"`
	CreatedAt time.Time `json:"created_at"`
}
