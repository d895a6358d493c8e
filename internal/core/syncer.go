package core

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/illarion/envsync/internal/conflict"
	"github.com/illarion/envsync/internal/crypto"
	"github.com/illarion/envsync/internal/diff"
	"github.com/illarion/envsync/internal/envmap"
	errs "github.com/illarion/envsync/internal/errors"
	"github.com/illarion/envsync/internal/history"
	"github.com/illarion/envsync/internal/logging"
	"github.com/illarion/envsync/internal/refs"
	"github.com/illarion/envsync/internal/storage"
)

// WorkingCopy is the local plaintext config.
type WorkingCopy interface {
	Read() (envmap.Map, error)
	// Write replaces the content with m, followed by preserved entries as
	// comments.
	Write(m envmap.Map, preserved []conflict.Entry) error
}

// Target names the project and branch an operation runs against.
type Target struct {
	ProjectID string
	Branch    string
}

func (t Target) validate() error {
	if t.ProjectID == "" || t.Branch == "" {
		return fmt.Errorf("project and branch are required")
	}
	return nil
}

// Syncer runs sync operations.
type Syncer struct {
	db      storage.Store
	history *history.Store
	refs    *refs.Manager
	log     *zap.Logger
	locks   projectLocks
}

// NewSyncer returns a Syncer over db.
func NewSyncer(db storage.Store, keys *crypto.KeyChain, log *zap.Logger, opts ...history.Option) *Syncer {
	log = logging.OrNop(log)
	opts = append([]history.Option{history.WithLogger(log)}, opts...)
	return &Syncer{
		db:      db,
		history: history.New(db, keys, opts...),
		refs:    refs.NewManager(db, log),
		log:     log,
	}
}

// History returns the version store.
func (s *Syncer) History() *history.Store {
	return s.history
}

// Refs returns the reference manager.
func (s *Syncer) Refs() *refs.Manager {
	return s.refs
}

// PullResult describes a pull.
type PullResult struct {
	Head    *storage.Version // nil if the branch has no versions
	Outcome *conflict.Outcome
	Written bool // the working copy was rewritten
}

// Pull merges the head of t.Branch into the working copy, settling
// conflicts with p. It never creates a version.
func (s *Syncer) Pull(ctx context.Context, t Target, wc WorkingCopy, p conflict.Policy) (*PullResult, error) {
	const op = "pull"
	if err := t.validate(); err != nil {
		return nil, err
	}
	defer s.locks.lock(t.ProjectID)()

	head, err := s.history.Head(ctx, t.ProjectID, t.Branch)
	if err != nil {
		return nil, err
	}
	if head.Version == nil {
		s.log.Debug("pull from unborn branch", zap.String("project", t.ProjectID), zap.String("branch", t.Branch))
		return &PullResult{}, nil
	}

	local, err := wc.Read()
	if err != nil {
		return nil, errs.E(op, t.ProjectID, t.Branch, err)
	}

	out, err := conflict.Reconcile(local, head.Content, p)
	if err != nil {
		return nil, errs.E(op, t.ProjectID, t.Branch, err)
	}
	res := &PullResult{Head: head.Version, Outcome: out}
	// Values that lost a conflict are kept as comments even when the
	// merged content equals the local file.
	if out.Merged.Equal(local) && len(out.Discarded) == 0 {
		return res, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, errs.E(op, t.ProjectID, t.Branch, err)
	}
	if err := wc.Write(out.Merged, out.Discarded); err != nil {
		return nil, errs.E(op, t.ProjectID, t.Branch, err)
	}
	res.Written = true

	s.log.Debug("pulled",
		zap.String("project", t.ProjectID),
		zap.String("branch", t.Branch),
		zap.String("version", head.Version.ID),
		zap.Int("conflicts", len(out.Conflicts)))
	return res, nil
}

// PushRequest describes a push.
type PushRequest struct {
	AuthorID    string
	Description string
}

// Push records the working copy as the new head of t.Branch. An unchanged
// working copy yields ErrNoChanges.
func (s *Syncer) Push(ctx context.Context, t Target, wc WorkingCopy, req PushRequest) (*storage.Version, error) {
	if err := t.validate(); err != nil {
		return nil, err
	}
	defer s.locks.lock(t.ProjectID)()

	local, err := wc.Read()
	if err != nil {
		return nil, errs.E("push", t.ProjectID, t.Branch, err)
	}

	return s.history.Create(ctx, history.CreateRequest{
		ProjectID:   t.ProjectID,
		Branch:      t.Branch,
		AuthorID:    req.AuthorID,
		Description: req.Description,
		Content:     local,
	})
}

// Rollback overwrites the working copy with the content of ref, which may
// be a tag, a branch or a version id. History is not changed.
func (s *Syncer) Rollback(ctx context.Context, projectID, ref string, wc WorkingCopy) (*storage.Version, error) {
	const op = "rollback"
	defer s.locks.lock(projectID)()

	id, err := s.refs.Resolve(ctx, projectID, ref)
	if err != nil {
		return nil, err
	}
	v, err := s.history.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	content, err := s.history.Open(ctx, v)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, errs.E(op, projectID, ref, err)
	}
	if err := wc.Write(content, nil); err != nil {
		return nil, errs.E(op, projectID, ref, err)
	}

	s.log.Debug("rolled back", zap.String("project", projectID), zap.String("version", v.ID))
	return v, nil
}

// MergeRequest describes a branch merge.
type MergeRequest struct {
	Source   string
	Target   string
	AuthorID string
	Policy   conflict.Policy
}

// MergeResult describes a merge.
type MergeResult struct {
	Version *storage.Version
	Outcome *conflict.Outcome
}

// Merge folds the head of req.Source into req.Target and records the result
// as a new version on req.Target. The target's content is the local side of
// the resolution. Source is not changed.
func (s *Syncer) Merge(ctx context.Context, projectID string, req MergeRequest) (*MergeResult, error) {
	const op = "merge"
	if req.Source == req.Target {
		return nil, errs.E(op, projectID, req.Source, fmt.Errorf("cannot merge a branch into itself"))
	}
	defer s.locks.lock(projectID)()

	src, err := s.history.Head(ctx, projectID, req.Source)
	if err != nil {
		return nil, err
	}
	dst, err := s.history.Head(ctx, projectID, req.Target)
	if err != nil {
		return nil, err
	}
	if src.Version == nil {
		return nil, errs.E(op, projectID, req.Source, errs.ErrNoChanges)
	}

	local := dst.Content
	if local == nil {
		local = envmap.Map{}
	}
	out, err := conflict.Reconcile(local, src.Content, req.Policy)
	if err != nil {
		return nil, errs.E(op, projectID, req.Target, err)
	}

	v, err := s.history.Create(ctx, history.CreateRequest{
		ProjectID:   projectID,
		Branch:      req.Target,
		AuthorID:    req.AuthorID,
		Description: fmt.Sprintf("merge %s into %s", req.Source, req.Target),
		Content:     out.Merged,
	})
	if err != nil {
		return nil, err
	}

	s.log.Debug("merged",
		zap.String("project", projectID),
		zap.String("source", req.Source),
		zap.String("target", req.Target),
		zap.String("version", v.ID),
		zap.Int("conflicts", len(out.Conflicts)))
	return &MergeResult{Version: v, Outcome: out}, nil
}

// Status compares the working copy with a branch head.
type Status struct {
	Branch     *storage.Branch
	Head       *storage.Version // nil if the branch has no versions
	Clean      bool             // working copy equals the head exactly
	Changes    diff.Summary     // raw, as a push would record it
	Normalized diff.Summary     // ignoring formatting-only edits
}

// Status reports how the working copy differs from the head of t.Branch.
// A working copy whose fingerprint matches the head is clean without being
// decrypted against it.
func (s *Syncer) Status(ctx context.Context, t Target, wc WorkingCopy) (*Status, error) {
	const op = "status"
	if err := t.validate(); err != nil {
		return nil, err
	}

	local, err := wc.Read()
	if err != nil {
		return nil, errs.E(op, t.ProjectID, t.Branch, err)
	}
	b, err := s.db.LoadBranch(ctx, t.ProjectID, t.Branch)
	if err != nil {
		return nil, errs.E(op, t.ProjectID, t.Branch, err)
	}

	st := &Status{Branch: b}
	if !b.Unborn() {
		// A missing head falls through to Head, which reports it as dangling
		v, err := s.history.Get(ctx, b.BaseVersionID)
		if err != nil && !errs.Is(err, errs.ErrNotFound) {
			return nil, err
		}
		if err == nil && v.ProjectID == t.ProjectID {
			fp, err := s.history.Fingerprint(t.ProjectID, local)
			if err != nil {
				return nil, errs.E(op, t.ProjectID, t.Branch, err)
			}
			if crypto.ConstantTimeCompare([]byte(fp), []byte(v.Fingerprint)) {
				st.Head = v
				st.Clean = true
				st.Changes = diff.Compute(local, local)
				st.Normalized = st.Changes
				return st, nil
			}
		}
	}

	head, err := s.history.Head(ctx, t.ProjectID, t.Branch)
	if err != nil {
		return nil, err
	}
	st.Head = head.Version
	st.Changes = diff.Compute(head.Content, local)
	st.Normalized = diff.ComputeNormalized(head.Content, local)
	st.Clean = st.Changes.Empty()
	return st, nil
}

// Diff renders a unified diff from the content of ref to the working copy.
func (s *Syncer) Diff(ctx context.Context, projectID, ref string, wc WorkingCopy, name string) (string, error) {
	id, err := s.refs.Resolve(ctx, projectID, ref)
	if err != nil {
		return "", err
	}
	v, err := s.history.Get(ctx, id)
	if err != nil {
		return "", err
	}
	before, err := s.history.Open(ctx, v)
	if err != nil {
		return "", err
	}
	after, err := wc.Read()
	if err != nil {
		return "", errs.E("diff", projectID, ref, err)
	}
	return diff.Unified(name, before, after), nil
}

// DeleteProject removes a project and its entire history.
func (s *Syncer) DeleteProject(ctx context.Context, projectID string) error {
	defer s.locks.lock(projectID)()

	if err := s.db.DeleteProject(ctx, projectID); err != nil {
		return errs.E("delete project", projectID, "", err)
	}
	s.log.Info("project deleted", zap.String("project", projectID))
	return nil
}
