package report

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultReloadDebounce = 250 * time.Millisecond

// Reloader re-reads a definition directory, keeping the old set on error.
type Reloader interface {
	Dir() string
	Reload() error
}

// DefinitionWatcher reloads report definitions when YAML files in the
// config directory change. Bursts of events collapse into one reload.
type DefinitionWatcher struct {
	fsw      *fsnotify.Watcher
	reloader Reloader
	debounce time.Duration

	mu     sync.Mutex
	timer  *time.Timer
	closed bool

	reloads chan error // receives each reload result; nil unless set by tests
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewDefinitionWatcher creates a watcher on r.Dir(). Call Start to begin.
func NewDefinitionWatcher(r Reloader, debounce time.Duration) (*DefinitionWatcher, error) {
	if debounce <= 0 {
		debounce = defaultReloadDebounce
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(r.Dir()); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", r.Dir(), err)
	}

	return &DefinitionWatcher{
		fsw:      fsw,
		reloader: r,
		debounce: debounce,
		done:     make(chan struct{}),
	}, nil
}

// Start processes file events until ctx is cancelled or Close is called.
func (w *DefinitionWatcher) Start(ctx context.Context) {
	slog.Info("[Report] Watching report definitions", "dir", w.reloader.Dir(), "debounce", w.debounce)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.processEvents(ctx)
	}()
}

func (w *DefinitionWatcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !isDefinitionFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("[Report] Definition watcher error", "error", err)
		}
	}
}

// schedule (re)arms the debounce timer.
func (w *DefinitionWatcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *DefinitionWatcher) reload() {
	err := w.reloader.Reload()
	if err != nil {
		slog.Error("[Report] Definition reload failed, keeping previous set", "dir", w.reloader.Dir(), "error", err)
	} else {
		slog.Info("[Report] Definitions reloaded", "dir", w.reloader.Dir())
	}
	if w.reloads != nil {
		select {
		case w.reloads <- err:
		default:
		}
	}
}

// Close stops event processing and releases the fsnotify watcher.
func (w *DefinitionWatcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	close(w.done)
	err := w.fsw.Close()
	w.wg.Wait()
	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

func isDefinitionFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
