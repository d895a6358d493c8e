package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/illarion/envsync/internal/config"
	"github.com/illarion/envsync/internal/core"
	"github.com/illarion/envsync/internal/crypto"
	"github.com/illarion/envsync/internal/logging"
	"github.com/illarion/envsync/internal/storage"
	"github.com/illarion/envsync/internal/workcopy"
)

const lockTimeout = 5 * time.Second

// project is an open envsync project: config, store and working copy,
// held under the cross-process project lock.
type project struct {
	root   string
	cfg    *config.Config
	log    *zap.Logger
	lock   *flock.Flock
	db     storage.Store
	keys   *crypto.KeyChain // nil unless opened with an identity
	syncer *core.Syncer
	wc     *workcopy.File
}

func projectRoot(opts *rootOptions) (string, error) {
	root, err := filepath.Abs(opts.dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", opts.dir, err)
	}
	return root, nil
}

func loadConfig(opts *rootOptions) (string, *config.Config, error) {
	root, err := projectRoot(opts)
	if err != nil {
		return "", nil, err
	}
	if !config.Exists(root) {
		return "", nil, errNotInitialized
	}
	cfg, err := config.Load(root)
	if err != nil {
		return "", nil, err
	}
	return root, cfg, nil
}

// openProject opens the project under opts.dir. Operations that decrypt
// need withIdentity; listing and reference commands do not.
func openProject(ctx context.Context, opts *rootOptions, withIdentity bool) (*project, error) {
	root, cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	level := cfg.Log.Level
	if opts.logLevel != "" {
		level = opts.logLevel
	}
	log, err := logging.New(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	p := &project{root: root, cfg: cfg, log: log}

	p.lock = flock.New(filepath.Join(root, config.Dir, config.LockFileName))
	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()
	locked, err := p.lock.TryLockContext(lockCtx, 50*time.Millisecond)
	if err != nil && ctx.Err() == nil && lockCtx.Err() == nil {
		return nil, fmt.Errorf("failed to lock project: %w", err)
	}
	if !locked {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errLocked
	}

	if withIdentity {
		secret, err := core.LoadIdentity(cfg.Author.ID)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.keys, err = crypto.NewKeyChain(secret, cfg.KeyMode())
		crypto.ClearBytes(secret)
		if err != nil {
			p.Close()
			return nil, err
		}
	}

	p.db, err = storage.Open(cfg.StoreOptions(root))
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to open history: %w", err)
	}

	p.syncer = core.NewSyncer(p.db, p.keys, log)
	p.wc = workcopy.NewOS(cfg.WorkingCopyPath(root))

	log.Debug("project opened",
		zap.String("project", cfg.Project.ID),
		zap.String("backend", cfg.Store.Backend),
		zap.Bool("identity", p.keys != nil))
	return p, nil
}

func (p *project) Close() {
	if p.keys != nil {
		p.keys.Destroy()
	}
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			p.log.Warn("closing history", zap.Error(err))
		}
	}
	if p.lock != nil {
		_ = p.lock.Unlock()
	}
	_ = p.log.Sync()
}

func (p *project) id() string {
	return p.cfg.Project.ID
}

// target returns the active branch as an operation target.
func (p *project) target(ctx context.Context) (core.Target, error) {
	active, err := p.syncer.Refs().Active(ctx, p.id())
	if err != nil {
		return core.Target{}, err
	}
	return core.Target{ProjectID: p.id(), Branch: active.Name}, nil
}

// relPath returns path relative to the project root for display.
func (p *project) relPath(path string) string {
	if rel, err := filepath.Rel(p.root, path); err == nil {
		return rel
	}
	return path
}
