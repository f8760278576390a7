// Package catalogwatch re-imports catalog bundles into the store whenever
// their files change on disk.
package catalogwatch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/goliatone/go-catalogform/internal/bundle"
)

// Importer stores a loaded bundle.
type Importer interface {
	Import(ctx context.Context, b bundle.Bundle) error
}

// Option customises a Watcher.
type Option func(*Watcher)

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithDebounce sets how long a bundle must be quiet before it is imported.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithOnImport registers a callback invoked after every import attempt.
func WithOnImport(fn func(dir string, b bundle.Bundle, err error)) Option {
	return func(w *Watcher) {
		w.onImport = fn
	}
}

// Watcher watches a directory whose immediate subdirectories are bundles.
type Watcher struct {
	root     string
	importer Importer
	logger   *zap.Logger
	debounce time.Duration
	onImport func(dir string, b bundle.Bundle, err error)

	mu      sync.Mutex
	pending map[string]time.Time
}

// New constructs a Watcher for root.
func New(root string, importer Importer, opts ...Option) (*Watcher, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("catalogwatch: root directory is required")
	}
	if importer == nil {
		return nil, errors.New("catalogwatch: importer is required")
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("catalogwatch: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("catalogwatch: %s is not a directory", root)
	}
	w := &Watcher{
		root:     root,
		importer: importer,
		logger:   zap.NewNop(),
		debounce: 300 * time.Millisecond,
		pending:  make(map[string]time.Time),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(w)
	}
	return w, nil
}

// ImportAll imports every bundle under root once. Directories without a
// manifest are skipped.
func (w *Watcher) ImportAll(ctx context.Context) error {
	dirs, err := bundleDirs(w.root)
	if err != nil {
		return err
	}
	var errs []error
	for _, dir := range dirs {
		if err := w.importDir(ctx, dir); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run imports every bundle and then re-imports bundles as they change until
// ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("catalogwatch: %w", err)
	}
	defer func() {
		_ = watcher.Close()
	}()

	if err := watcher.Add(w.root); err != nil {
		return fmt.Errorf("catalogwatch: watch %s: %w", w.root, err)
	}
	dirs, err := bundleDirs(w.root)
	if err != nil {
		return err
	}
	for _, dir := range dirs {
		w.watchDir(watcher, dir)
	}
	if err := w.ImportAll(ctx); err != nil {
		w.logger.Warn("initial import incomplete", zap.Error(err))
	}
	w.logger.Info("watching catalog", zap.String("root", w.root), zap.Int("bundles", len(dirs)))

	tick := w.debounce / 3
	if tick <= 0 {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(watcher, event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", zap.Error(err))
		case now := <-ticker.C:
			for _, dir := range w.due(now) {
				_ = w.importDir(ctx, dir)
			}
		}
	}
}

func (w *Watcher) handleEvent(watcher *fsnotify.Watcher, event fsnotify.Event) {
	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return
	}
	dir := strings.Split(filepath.ToSlash(rel), "/")[0]
	if strings.HasPrefix(dir, ".") {
		return
	}

	if event.Has(fsnotify.Create) && dir == filepath.ToSlash(rel) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			w.watchDir(watcher, dir)
		}
	}
	if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
		return
	}

	w.logger.Debug("catalog change", zap.String("path", event.Name), zap.String("op", event.Op.String()))
	w.mu.Lock()
	w.pending[dir] = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) watchDir(watcher *fsnotify.Watcher, dir string) {
	full := filepath.Join(w.root, dir)
	if err := watcher.Add(full); err != nil {
		w.logger.Warn("cannot watch bundle", zap.String("dir", full), zap.Error(err))
	}
}

func (w *Watcher) due(now time.Time) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var dirs []string
	for dir, at := range w.pending {
		if now.Sub(at) >= w.debounce {
			dirs = append(dirs, dir)
			delete(w.pending, dir)
		}
	}
	sort.Strings(dirs)
	return dirs
}

func (w *Watcher) importDir(ctx context.Context, dir string) error {
	b, err := bundle.Load(os.DirFS(w.root), dir)
	if err == nil {
		err = w.importer.Import(ctx, b)
	}
	if err != nil {
		err = fmt.Errorf("catalogwatch: import %s: %w", dir, err)
		w.logger.Warn("bundle import failed", zap.String("dir", dir), zap.Error(err))
	}
	if w.onImport != nil {
		w.onImport(dir, b, err)
	}
	return err
}

func bundleDirs(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("catalogwatch: %w", err)
	}
	var dirs []string
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if _, err := os.Stat(filepath.Join(root, entry.Name(), bundle.ManifestFile)); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		dirs = append(dirs, entry.Name())
	}
	return dirs, nil
}
