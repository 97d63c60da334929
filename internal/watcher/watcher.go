// Package watcher reports debounced file changes under a set of directory trees.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hyperjump/ragchat/pkg/utils"
	"go.uber.org/zap"
)

const defaultDebounce = 400 * time.Millisecond

// Batch is the set of paths that settled during one debounce window.
// A path appears in at most one of the two lists; the last event wins.
type Batch struct {
	Changed []string
	Removed []string
}

// Empty reports whether the batch has no paths.
func (b Batch) Empty() bool {
	return len(b.Changed) == 0 && len(b.Removed) == 0
}

// Handler receives batches. Calls are serialized.
type Handler func(ctx context.Context, b Batch)

// Watcher watches directory trees and delivers debounced batches to a Handler.
// Dot directories and dot files are ignored.
type Watcher struct {
	roots    []string
	handler  Handler
	filter   func(path string) bool
	debounce time.Duration
	logger   *zap.Logger
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger for watch events and errors.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = utils.OrNop(l) }
}

// WithDebounce sets how long a tree must be quiet before a batch is delivered.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithFilter restricts reported files to those for which keep returns true.
func WithFilter(keep func(path string) bool) Option {
	return func(w *Watcher) { w.filter = keep }
}

// New returns a watcher over roots. Every root must be an existing directory.
func New(roots []string, handler Handler, opts ...Option) (*Watcher, error) {
	w := &Watcher{
		handler:  handler,
		filter:   func(string) bool { return true },
		debounce: defaultDebounce,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("not a directory: %s", abs)
		}
		w.roots = append(w.roots, abs)
	}
	return w, nil
}

// Roots returns the absolute watched roots.
func (w *Watcher) Roots() []string {
	return append([]string(nil), w.roots...)
}

// Run watches until ctx is cancelled, then returns nil. The handler runs on the
// calling goroutine, so it never overlaps with itself.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()

	pending := make(map[string]bool) // path -> removed
	for _, root := range w.roots {
		if err := w.watchTree(fw, root, nil); err != nil {
			return err
		}
	}
	w.logger.Info("watching directories", zap.Strings("roots", w.roots))

	timer := time.NewTimer(w.debounce)
	stopTimer(timer)
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			stopTimer(timer)
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if w.record(fw, ev, pending) {
				stopTimer(timer)
				timer.Reset(w.debounce)
				fire = timer.C
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", zap.Error(err))
		case <-fire:
			fire = nil
			if b := drain(pending); !b.Empty() {
				w.handler(ctx, b)
			}
		}
	}
}

// record updates pending for ev and reports whether anything was recorded.
func (w *Watcher) record(fw *fsnotify.Watcher, ev fsnotify.Event, pending map[string]bool) bool {
	path := filepath.Clean(ev.Name)
	if w.hidden(path) {
		return false
	}
	w.logger.Debug("watch event", zap.String("op", ev.Op.String()), zap.String("path", path))

	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		if !w.filter(path) {
			return false
		}
		pending[path] = true
		return true
	}
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	if info.IsDir() {
		// Files can land in a new directory before it is watched.
		before := len(pending)
		if err := w.watchTree(fw, path, pending); err != nil {
			w.logger.Warn("failed to watch directory", zap.String("path", path), zap.Error(err))
		}
		return len(pending) != before
	}
	if !w.filter(path) {
		return false
	}
	pending[path] = false
	return true
}

// watchTree adds dir and its non-hidden subdirectories to fw. When found is
// non-nil, files already inside are recorded as changed.
func (w *Watcher) watchTree(fw *fsnotify.Watcher, dir string, found map[string]bool) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return fw.Add(path)
		}
		if found != nil && w.filter(path) {
			found[path] = false
		}
		return nil
	})
}

// hidden reports whether any element of path below its root starts with a dot.
func (w *Watcher) hidden(path string) bool {
	for _, root := range w.roots {
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		for _, part := range strings.Split(rel, string(filepath.Separator)) {
			if strings.HasPrefix(part, ".") && part != "." {
				return true
			}
		}
		return false
	}
	return true
}

func drain(pending map[string]bool) Batch {
	var b Batch
	for path, removed := range pending {
		if removed {
			b.Removed = append(b.Removed, path)
		} else {
			b.Changed = append(b.Changed, path)
		}
		delete(pending, path)
	}
	sort.Strings(b.Changed)
	sort.Strings(b.Removed)
	return b
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
