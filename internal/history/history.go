package history

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/illarion/envsync/internal/crypto"
	"github.com/illarion/envsync/internal/diff"
	"github.com/illarion/envsync/internal/envmap"
	errs "github.com/illarion/envsync/internal/errors"
	"github.com/illarion/envsync/internal/logging"
	"github.com/illarion/envsync/internal/storage"
)

// pageSize is the number of records fetched per store round trip while
// iterating.
const pageSize = 64

// Store creates, reads and decrypts versions.
type Store struct {
	db    storage.Store
	keys  *crypto.KeyChain
	log   *zap.Logger
	now   func() time.Time
	newID func() string
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.log = logging.OrNop(l) }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator overrides version id generation.
func WithIDGenerator(newID func() string) Option {
	return func(s *Store) { s.newID = newID }
}

// New returns a Store over db using keys for encryption.
func New(db storage.Store, keys *crypto.KeyChain, opts ...Option) *Store {
	s := &Store{
		db:    db,
		keys:  keys,
		log:   zap.NewNop(),
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AAD returns the associated data binding a version's ciphertext to its
// project and id.
func AAD(projectID, versionID string) []byte {
	aad := make([]byte, 0, len(projectID)+1+len(versionID))
	aad = append(aad, projectID...)
	aad = append(aad, 0)
	return append(aad, versionID...)
}

// CreateRequest describes a new version.
type CreateRequest struct {
	ProjectID   string
	Branch      string
	AuthorID    string
	Description string
	Content     envmap.Map
}

// Head is a branch together with its decrypted head version. Version and
// Content are nil when the branch is unborn.
type Head struct {
	Branch  *storage.Branch
	Version *storage.Version
	Content envmap.Map
}

// Head loads a branch and decrypts the version it points to.
func (s *Store) Head(ctx context.Context, projectID, branch string) (*Head, error) {
	c, err := s.keys.Cipher(projectID)
	if err != nil {
		return nil, err
	}
	defer c.Destroy()

	return s.head(ctx, c, projectID, branch)
}

func (s *Store) head(ctx context.Context, c *crypto.Cipher, projectID, branch string) (*Head, error) {
	b, err := s.db.LoadBranch(ctx, projectID, branch)
	if err != nil {
		return nil, errs.E("load branch", projectID, branch, err)
	}
	h := &Head{Branch: b}
	if b.Unborn() {
		return h, nil
	}

	v, err := s.db.LoadVersion(ctx, b.BaseVersionID)
	if errs.Is(err, errs.ErrNotFound) || (err == nil && v.ProjectID != projectID) {
		return nil, errs.E("load head", projectID, branch,
			fmt.Errorf("%w: version %s", errs.ErrDanglingReference, b.BaseVersionID))
	}
	if err != nil {
		return nil, errs.E("load head", projectID, branch, err)
	}

	content, err := c.Open(&v.Content, AAD(projectID, v.ID))
	if err != nil {
		return nil, errs.E("decrypt head", projectID, v.ID, err)
	}
	h.Version = v
	h.Content = content
	return h, nil
}

// Create records req.Content as the new head of req.Branch. It returns
// ErrNoChanges, and writes nothing, if the content equals the current head.
func (s *Store) Create(ctx context.Context, req CreateRequest) (*storage.Version, error) {
	const op = "create version"

	if err := req.Content.Validate(); err != nil {
		return nil, errs.E(op, req.ProjectID, req.Branch, err)
	}

	c, err := s.keys.Cipher(req.ProjectID)
	if err != nil {
		return nil, err
	}
	defer c.Destroy()

	h, err := s.head(ctx, c, req.ProjectID, req.Branch)
	if err != nil {
		return nil, err
	}

	changes := diff.Compute(h.Content, req.Content)
	if changes.Empty() {
		return nil, errs.E(op, req.ProjectID, req.Branch, errs.ErrNoChanges)
	}

	id := s.newID()
	blob, err := c.Seal(req.Content, AAD(req.ProjectID, id))
	if err != nil {
		return nil, errs.E(op, req.ProjectID, req.Branch, err)
	}
	fp, err := c.Fingerprint(req.Content)
	if err != nil {
		return nil, errs.E(op, req.ProjectID, req.Branch, err)
	}

	now := s.now()
	v := &storage.Version{
		ID:          id,
		ProjectID:   req.ProjectID,
		AuthorID:    req.AuthorID,
		CreatedAt:   now,
		Description: req.Description,
		Branch:      req.Branch,
		ParentID:    h.Branch.BaseVersionID,
		Content:     *blob,
		Changes:     changes,
		Fingerprint: fp,
	}

	// Nothing has been written yet, so a cancelled caller leaves no trace.
	if err := ctx.Err(); err != nil {
		return nil, errs.E(op, req.ProjectID, req.Branch, err)
	}

	if err := s.db.AppendVersion(ctx, v); err != nil {
		return nil, errs.E(op, req.ProjectID, req.Branch, err)
	}

	h.Branch.BaseVersionID = v.ID
	h.Branch.UpdatedAt = now
	if err := s.db.UpsertBranches(context.WithoutCancel(ctx), h.Branch); err != nil {
		s.log.Error("version appended but branch head not advanced",
			zap.String("project", req.ProjectID),
			zap.String("branch", req.Branch),
			zap.String("version", v.ID),
			zap.Error(err))
		return nil, errs.E("advance branch", req.ProjectID, req.Branch, err)
	}

	s.log.Debug("version created",
		zap.String("project", req.ProjectID),
		zap.String("branch", req.Branch),
		zap.String("version", v.ID),
		zap.Uint64("seq", v.Seq),
		zap.Int("added", len(changes.Added)),
		zap.Int("modified", len(changes.Modified)),
		zap.Int("deleted", len(changes.Deleted)))

	return v, nil
}

// Get returns a version by id.
func (s *Store) Get(ctx context.Context, id string) (*storage.Version, error) {
	v, err := s.db.LoadVersion(ctx, id)
	if err != nil {
		return nil, errs.E("get version", "", id, err)
	}
	return v, nil
}

// Open decrypts a version's content.
func (s *Store) Open(ctx context.Context, v *storage.Version) (envmap.Map, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c, err := s.keys.Cipher(v.ProjectID)
	if err != nil {
		return nil, err
	}
	defer c.Destroy()

	m, err := c.Open(&v.Content, AAD(v.ProjectID, v.ID))
	if err != nil {
		return nil, errs.E("decrypt version", v.ProjectID, v.ID, err)
	}
	return m, nil
}

// Fingerprint returns the keyed fingerprint of m under the project key. It
// equals Version.Fingerprint when m is that version's content.
func (s *Store) Fingerprint(projectID string, m envmap.Map) (string, error) {
	c, err := s.keys.Cipher(projectID)
	if err != nil {
		return "", err
	}
	defer c.Destroy()
	return c.Fingerprint(m)
}

// Filter narrows a version listing. Zero fields match everything.
type Filter struct {
	Limit    int
	AuthorID string
	Branch   string
	Since    time.Time
}

func (f Filter) match(v *storage.Version) bool {
	if f.AuthorID != "" && v.AuthorID != f.AuthorID {
		return false
	}
	if f.Branch != "" && v.Branch != f.Branch {
		return false
	}
	if !f.Since.IsZero() && v.CreatedAt.Before(f.Since) {
		return false
	}
	return true
}

// Versions yields a project's versions newest first. Each range over the
// returned sequence queries the store again from the newest version.
func (s *Store) Versions(ctx context.Context, projectID string, f Filter) iter.Seq2[*storage.Version, error] {
	return func(yield func(*storage.Version, error) bool) {
		var (
			before uint64
			n      int
		)
		for {
			page, err := s.db.Versions(ctx, projectID, before, pageSize)
			if err != nil {
				yield(nil, errs.E("list versions", projectID, "", err))
				return
			}
			for _, v := range page {
				before = v.Seq
				if !f.match(v) {
					continue
				}
				if !yield(v, nil) {
					return
				}
				n++
				if f.Limit > 0 && n >= f.Limit {
					return
				}
			}
			if len(page) < pageSize {
				return
			}
		}
	}
}

// List collects Versions into a slice.
func (s *Store) List(ctx context.Context, projectID string, f Filter) ([]*storage.Version, error) {
	var out []*storage.Version
	for v, err := range s.Versions(ctx, projectID, f) {
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
