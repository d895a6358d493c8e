// Package refs manages branches and tags, the named pointers into a
// project's version history.
//
// Exactly one branch of a project is active. Reference changes are metadata
// only; they never touch version records. Name uniqueness is checked here
// rather than trusted to the store.
package refs

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	errs "github.com/illarion/envsync/internal/errors"
	"github.com/illarion/envsync/internal/logging"
	"github.com/illarion/envsync/internal/storage"
)

// DefaultBranch is the branch created with a project.
const DefaultBranch = "main"

var (
	branchPattern = regexp.MustCompile(`^[A-Za-z0-9._/-]+$`)
	tagPattern    = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)
)

// ValidBranchName reports whether name is an acceptable branch name.
func ValidBranchName(name string) bool {
	return branchPattern.MatchString(name)
}

// ValidTagName reports whether name is an acceptable tag name.
func ValidTagName(name string) bool {
	return tagPattern.MatchString(name)
}

// Manager creates, switches and resolves references.
type Manager struct {
	db  storage.Store
	log *zap.Logger
	now func() time.Time
}

// NewManager returns a Manager over db.
func NewManager(db storage.Store, log *zap.Logger) *Manager {
	return &Manager{
		db:  db,
		log: logging.OrNop(log),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// InitProject creates the active, unborn default branch of a new project.
func (m *Manager) InitProject(ctx context.Context, projectID string) (*storage.Branch, error) {
	const op = "init project"

	if !storage.ValidProjectID(projectID) {
		return nil, errs.E(op, projectID, "", errs.ErrInvalidName)
	}
	existing, err := m.db.ListBranches(ctx, projectID)
	if err != nil {
		return nil, errs.E(op, projectID, "", err)
	}
	if len(existing) > 0 {
		return nil, errs.E(op, projectID, DefaultBranch, errs.ErrDuplicateName)
	}

	b := &storage.Branch{
		ProjectID: projectID,
		Name:      DefaultBranch,
		IsActive:  true,
		UpdatedAt: m.now(),
	}
	if err := m.db.UpsertBranches(ctx, b); err != nil {
		return nil, errs.E(op, projectID, DefaultBranch, err)
	}
	m.log.Debug("project initialized", zap.String("project", projectID))
	return b, nil
}

// CreateBranch creates an inactive branch at baseVersionID, or at the active
// branch's head if baseVersionID is empty.
func (m *Manager) CreateBranch(ctx context.Context, projectID, name, baseVersionID string) (*storage.Branch, error) {
	const op = "create branch"

	if !ValidBranchName(name) {
		return nil, errs.E(op, projectID, name, errs.ErrInvalidName)
	}
	if err := m.ensureAbsent(ctx, func() error {
		_, err := m.db.LoadBranch(ctx, projectID, name)
		return err
	}); err != nil {
		return nil, errs.E(op, projectID, name, err)
	}

	if baseVersionID == "" {
		active, err := m.Active(ctx, projectID)
		if err != nil {
			return nil, errs.E(op, projectID, name, err)
		}
		if !active.Unborn() {
			if err := m.checkTarget(ctx, projectID, active.BaseVersionID); err != nil {
				return nil, errs.E(op, projectID, name, err)
			}
		}
		baseVersionID = active.BaseVersionID
	} else if err := m.checkVersion(ctx, projectID, baseVersionID); err != nil {
		return nil, errs.E(op, projectID, name, err)
	}

	b := &storage.Branch{
		ProjectID:     projectID,
		Name:          name,
		BaseVersionID: baseVersionID,
		UpdatedAt:     m.now(),
	}
	if err := m.db.UpsertBranches(ctx, b); err != nil {
		return nil, errs.E(op, projectID, name, err)
	}
	m.log.Debug("branch created",
		zap.String("project", projectID),
		zap.String("branch", name),
		zap.String("base", baseVersionID))
	return b, nil
}

// SwitchBranch makes name the active branch and returns it.
func (m *Manager) SwitchBranch(ctx context.Context, projectID, name string) (*storage.Branch, error) {
	const op = "switch branch"

	target, err := m.db.LoadBranch(ctx, projectID, name)
	if err != nil {
		return nil, errs.E(op, projectID, name, err)
	}
	branches, err := m.db.ListBranches(ctx, projectID)
	if err != nil {
		return nil, errs.E(op, projectID, name, err)
	}

	now := m.now()
	var changed []*storage.Branch
	for _, b := range branches {
		if b.Name != name && b.IsActive {
			b.IsActive = false
			b.UpdatedAt = now
			changed = append(changed, b)
		}
	}
	if !target.IsActive {
		target.IsActive = true
		target.UpdatedAt = now
		changed = append(changed, target)
	}
	if len(changed) == 0 {
		return target, nil
	}

	// One batch, so no reader ever sees zero or two active branches
	if err := m.db.UpsertBranches(ctx, changed...); err != nil {
		return nil, errs.E(op, projectID, name, err)
	}
	m.log.Debug("branch switched", zap.String("project", projectID), zap.String("branch", name))
	return target, nil
}

// ListBranches returns a project's branches in name order.
func (m *Manager) ListBranches(ctx context.Context, projectID string) ([]*storage.Branch, error) {
	branches, err := m.db.ListBranches(ctx, projectID)
	if err != nil {
		return nil, errs.E("list branches", projectID, "", err)
	}
	slices.SortFunc(branches, func(a, b *storage.Branch) int {
		return strings.Compare(a.Name, b.Name)
	})
	return branches, nil
}

// Active returns the active branch. A project without one is not
// initialized and yields ErrNotFound.
func (m *Manager) Active(ctx context.Context, projectID string) (*storage.Branch, error) {
	branches, err := m.db.ListBranches(ctx, projectID)
	if err != nil {
		return nil, errs.E("active branch", projectID, "", err)
	}
	for _, b := range branches {
		if b.IsActive {
			return b, nil
		}
	}
	return nil, errs.E("active branch", projectID, "", errs.ErrNotFound)
}

// CreateTag tags versionID, or the active branch's head if versionID is
// empty. Tags are immutable, so an existing name is a conflict.
func (m *Manager) CreateTag(ctx context.Context, projectID, name, versionID string) (*storage.Tag, error) {
	const op = "create tag"

	if !ValidTagName(name) {
		return nil, errs.E(op, projectID, name, errs.ErrInvalidName)
	}
	if err := m.ensureAbsent(ctx, func() error {
		_, err := m.db.LoadTag(ctx, projectID, name)
		return err
	}); err != nil {
		return nil, errs.E(op, projectID, name, err)
	}

	if versionID == "" {
		active, err := m.Active(ctx, projectID)
		if err != nil {
			return nil, errs.E(op, projectID, name, err)
		}
		if active.Unborn() {
			return nil, errs.E(op, projectID, name,
				fmt.Errorf("branch %s has no versions: %w", active.Name, errs.ErrNotFound))
		}
		if err := m.checkTarget(ctx, projectID, active.BaseVersionID); err != nil {
			return nil, errs.E(op, projectID, name, err)
		}
		versionID = active.BaseVersionID
	} else if err := m.checkVersion(ctx, projectID, versionID); err != nil {
		return nil, errs.E(op, projectID, name, err)
	}

	t := &storage.Tag{
		ProjectID: projectID,
		Name:      name,
		VersionID: versionID,
		CreatedAt: m.now(),
	}
	if err := m.db.InsertTag(ctx, t); err != nil {
		return nil, errs.E(op, projectID, name, err)
	}
	m.log.Debug("tag created",
		zap.String("project", projectID),
		zap.String("tag", name),
		zap.String("version", versionID))
	return t, nil
}

// ListTags returns a project's tags in name order.
func (m *Manager) ListTags(ctx context.Context, projectID string) ([]*storage.Tag, error) {
	tags, err := m.db.ListTags(ctx, projectID)
	if err != nil {
		return nil, errs.E("list tags", projectID, "", err)
	}
	slices.SortFunc(tags, func(a, b *storage.Tag) int {
		return strings.Compare(a.Name, b.Name)
	})
	return tags, nil
}

// Resolve turns ref into a version id, trying a tag name, then a branch
// name, then a version id. An empty ref is the active branch's head.
func (m *Manager) Resolve(ctx context.Context, projectID, ref string) (string, error) {
	const op = "resolve"

	if ref == "" {
		active, err := m.Active(ctx, projectID)
		if err != nil {
			return "", err
		}
		if active.Unborn() {
			return "", errs.E(op, projectID, active.Name, errs.ErrNotFound)
		}
		if err := m.checkTarget(ctx, projectID, active.BaseVersionID); err != nil {
			return "", errs.E(op, projectID, active.Name, err)
		}
		return active.BaseVersionID, nil
	}

	if t, err := m.db.LoadTag(ctx, projectID, ref); err == nil {
		if err := m.checkTarget(ctx, projectID, t.VersionID); err != nil {
			return "", errs.E(op, projectID, ref, err)
		}
		return t.VersionID, nil
	} else if !errs.Is(err, errs.ErrNotFound) {
		return "", errs.E(op, projectID, ref, err)
	}

	if b, err := m.db.LoadBranch(ctx, projectID, ref); err == nil {
		if b.Unborn() {
			return "", errs.E(op, projectID, ref, fmt.Errorf("branch has no versions: %w", errs.ErrNotFound))
		}
		if err := m.checkTarget(ctx, projectID, b.BaseVersionID); err != nil {
			return "", errs.E(op, projectID, ref, err)
		}
		return b.BaseVersionID, nil
	} else if !errs.Is(err, errs.ErrNotFound) {
		return "", errs.E(op, projectID, ref, err)
	}

	if err := m.checkVersion(ctx, projectID, ref); err != nil {
		return "", errs.E(op, projectID, ref, err)
	}
	return ref, nil
}

// Verify checks that every branch and tag of a project points at an existing
// version of that project. All problems are reported together.
func (m *Manager) Verify(ctx context.Context, projectID string) error {
	branches, err := m.db.ListBranches(ctx, projectID)
	if err != nil {
		return errs.E("verify", projectID, "", err)
	}
	tags, err := m.db.ListTags(ctx, projectID)
	if err != nil {
		return errs.E("verify", projectID, "", err)
	}

	var problems []error
	active := 0
	for _, b := range branches {
		if b.IsActive {
			active++
		}
		if b.Unborn() {
			continue
		}
		if err := m.checkTarget(ctx, projectID, b.BaseVersionID); err != nil {
			problems = append(problems, errs.E("verify branch", projectID, b.Name, err))
		}
	}
	for _, t := range tags {
		if err := m.checkTarget(ctx, projectID, t.VersionID); err != nil {
			problems = append(problems, errs.E("verify tag", projectID, t.Name, err))
		}
	}
	if len(branches) > 0 && active != 1 {
		problems = append(problems, errs.E("verify", projectID, "",
			fmt.Errorf("%d active branches, want 1", active)))
	}
	return errors.Join(problems...)
}

// checkTarget is checkVersion for a reference that already exists, where a
// missing version is corruption rather than a bad argument.
func (m *Manager) checkTarget(ctx context.Context, projectID, versionID string) error {
	err := m.checkVersion(ctx, projectID, versionID)
	if errs.Is(err, errs.ErrNotFound) {
		return fmt.Errorf("%w: version %s", errs.ErrDanglingReference, versionID)
	}
	return err
}

func (m *Manager) checkVersion(ctx context.Context, projectID, versionID string) error {
	v, err := m.db.LoadVersion(ctx, versionID)
	if err != nil {
		return err
	}
	if v.ProjectID != projectID {
		return fmt.Errorf("version %s: %w", versionID, errs.ErrNotFound)
	}
	return nil
}

// ensureAbsent turns a successful load into ErrDuplicateName and a not-found
// into success.
func (m *Manager) ensureAbsent(ctx context.Context, load func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := load()
	switch {
	case err == nil:
		return errs.ErrDuplicateName
	case errs.Is(err, errs.ErrNotFound):
		return nil
	default:
		return err
	}
}
