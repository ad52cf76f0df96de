// Package reload reports changes to a single file, such as the watcher's
// config, so the process can exit and be started again with the new contents.
package reload

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce coalesces the burst of events editors produce on save.
const DefaultDebounce = 500 * time.Millisecond

const changeOps = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove

type Option func(*waiter)

func WithDebounce(d time.Duration) Option {
	return func(w *waiter) {
		if d > 0 {
			w.debounce = d
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(w *waiter) {
		if logger != nil {
			w.logger = logger
		}
	}
}

type waiter struct {
	debounce time.Duration
	logger   *zap.Logger
}

// WaitForChange blocks until path is written, replaced or removed and no
// further change follows within the debounce window. It returns nil on a
// change and ctx.Err() when ctx ends first.
//
// The parent directory is watched rather than the file so editors that save
// by renaming a temporary file over path are still seen.
func WaitForChange(ctx context.Context, path string, opts ...Option) error {
	w := waiter{debounce: DefaultDebounce, logger: zap.NewNop()}
	for _, apply := range opts {
		apply(&w)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	w.logger.Debug("watching file for changes", zap.String("path", abs))

	var (
		timer *time.Timer
		fired <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fw.Events:
			if !ok {
				return errors.New("file watcher closed")
			}
			if filepath.Clean(ev.Name) != abs || ev.Op&changeOps == 0 {
				continue
			}
			w.logger.Debug("file event", zap.String("path", ev.Name), zap.Stringer("op", ev.Op))
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fired = timer.C
		case err, ok := <-fw.Errors:
			if !ok {
				return errors.New("file watcher closed")
			}
			w.logger.Warn("file watcher error", zap.Error(err))
		case <-fired:
			return nil
		}
	}
}
