// Package watcher re-ingests watched roots when their files change. Events
// are debounced per root so a burst of saves becomes one ingestion job.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"localrag/internal/chunk"
	"localrag/internal/queue"
)

// DefaultDebounce is how long a root stays quiet before re-ingestion.
const DefaultDebounce = 2 * time.Second

// Enqueuer accepts ingestion jobs; satisfied by *queue.Queue.
type Enqueuer interface {
	Enqueue(path, collection string) (queue.Job, error)
}

// Watcher maps filesystem activity under registered roots to ingestion jobs.
type Watcher struct {
	fsw      *fsnotify.Watcher
	enqueuer Enqueuer
	debounce time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	roots  map[string]string // root path -> collection
	timers map[string]*time.Timer
	closed bool
}

// New creates a watcher. Roots are registered with Watch; events flow after
// Start.
func New(enqueuer Enqueuer, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		fsw:      fsw,
		enqueuer: enqueuer,
		debounce: debounce,
		logger:   logger,
		roots:    make(map[string]string),
		timers:   make(map[string]*time.Timer),
	}, nil
}

// Watch registers a root directory for a collection and watches it
// recursively. Dot-directories are not descended into.
func (w *Watcher) Watch(root, collection string) error {
	root = filepath.Clean(root)

	w.mu.Lock()
	w.roots[root] = collection
	w.mu.Unlock()

	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") && p != root {
			return filepath.SkipDir
		}
		return w.fsw.Add(p)
	})
}

// Start consumes filesystem events until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) {
	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.fsw.Events:
				if !ok {
					return
				}
				w.handle(ev)
			case err, ok := <-w.fsw.Errors:
				if !ok {
					return
				}
				w.logger.Warn("watch error", "error", err)
			}
		}
	}()
}

func (w *Watcher) handle(ev fsnotify.Event) {
	// New subdirectories must be watched too.
	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if !strings.HasPrefix(filepath.Base(ev.Name), ".") {
				_ = w.fsw.Add(ev.Name)
			}
			w.schedule(ev.Name)
			return
		}
	}

	relevant := ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write) ||
		ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename)
	if !relevant || !chunk.SupportedExtension(ev.Name) {
		return
	}
	w.schedule(ev.Name)
}

// schedule (re)arms the debounce timer of the root owning path.
func (w *Watcher) schedule(path string) {
	root, collection, ok := w.ownerOf(path)
	if !ok {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if t, ok := w.timers[root]; ok {
		t.Stop()
	}
	w.timers[root] = time.AfterFunc(w.debounce, func() {
		w.logger.Info("changes detected, re-ingesting", "root", root, "collection", collection)
		if _, err := w.enqueuer.Enqueue(root, collection); err != nil {
			w.logger.Error("re-ingestion enqueue failed", "root", root, "error", err)
		}
	})
}

func (w *Watcher) ownerOf(path string) (root, collection string, ok bool) {
	path = filepath.Clean(path)
	w.mu.Lock()
	defer w.mu.Unlock()
	for r, col := range w.roots {
		if path == r || strings.HasPrefix(path, r+string(filepath.Separator)) {
			return r, col, true
		}
	}
	return "", "", false
}

// Close stops all timers and the underlying watcher. Safe to call twice.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	for _, t := range w.timers {
		t.Stop()
	}
	w.mu.Unlock()
	return w.fsw.Close()
}
