// Package watch runs a callback whenever a working copy file settles after
// an edit.
package watch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	errs "github.com/illarion/envsync/internal/errors"
	"github.com/illarion/envsync/internal/logging"
)

// DefaultDelay is how long a file must stay quiet before the callback runs.
const DefaultDelay = 500 * time.Millisecond

// Watcher debounces filesystem events on one file.
type Watcher struct {
	path  string
	fn    func(context.Context) error
	delay time.Duration
	log   *zap.Logger
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDelay sets the debounce delay.
func WithDelay(d time.Duration) Option {
	return func(w *Watcher) { w.delay = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.log = logging.OrNop(l) }
}

// New returns a Watcher that calls fn after path changes.
func New(path string, fn func(context.Context) error, opts ...Option) *Watcher {
	w := &Watcher{
		path:  filepath.Clean(path),
		fn:    fn,
		delay: DefaultDelay,
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run watches until ctx is done. The parent directory is watched rather
// than the file, so atomic replace-by-rename writes are seen. Callback
// errors are logged and watching continues, except for corruption errors
// which stop Run and are returned.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(w.path), err)
	}
	w.log.Info("watching", zap.String("path", w.path), zap.Duration("delay", w.delay))

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			w.log.Debug("change detected", zap.String("op", event.Op.String()))
			if timer == nil {
				timer = time.NewTimer(w.delay)
			} else {
				timer.Reset(w.delay)
			}
			fire = timer.C

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Error("watcher error", zap.Error(err))

		case <-fire:
			fire = nil
			if err := w.run(ctx); err != nil {
				return err
			}
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create)
}

func (w *Watcher) run(ctx context.Context) error {
	err := w.fn(ctx)
	switch {
	case err == nil:
		return nil
	case errs.IsSilent(err):
		w.log.Debug("nothing to record")
		return nil
	case errs.IsFatal(err):
		return err
	case errors.Is(err, context.Canceled):
		return nil
	default:
		w.log.Warn("change not recorded", zap.Error(err))
		return nil
	}
}
