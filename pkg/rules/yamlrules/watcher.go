package yamlrules

import (
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"penserai/acteon/pkg/rules"
)

const defaultDebounce = 250 * time.Millisecond

// Watcher reloads a rule directory whenever a rule file changes,
// replacing the engine's rule set atomically. Editors that write via
// rename still trigger a reload because the whole directory is
// re-parsed on any relevant event.
type Watcher struct {
	dir      string
	engine   *rules.Engine
	logger   *slog.Logger
	debounce time.Duration

	fs     *fsnotify.Watcher
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithWatcherLogger sets the watcher logger.
func WithWatcherLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithDebounce overrides the reload debounce interval.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// NewWatcher creates a watcher for dir feeding the given engine.
func NewWatcher(dir string, engine *rules.Engine, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		dir:      dir,
		engine:   engine,
		logger:   slog.Default(),
		debounce: defaultDebounce,
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start performs the initial load and begins watching. The initial
// load must succeed; later reload failures keep the previous rule set
// and are logged.
func (w *Watcher) Start() error {
	loaded, err := LoadDir(w.dir)
	if err != nil {
		return err
	}
	w.engine.ReplaceRules(loaded)

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fs.Add(w.dir); err != nil {
		fs.Close()
		return err
	}
	w.fs = fs

	w.wg.Add(1)
	go w.run()
	return nil
}

func (w *Watcher) run() {
	defer w.wg.Done()

	var pending *time.Timer
	var pendingC <-chan time.Time

	for {
		select {
		case <-w.stopCh:
			if pending != nil {
				pending.Stop()
			}
			return

		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !isRuleFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			// Debounce bursts of events from one save.
			if pending == nil {
				pending = time.NewTimer(w.debounce)
				pendingC = pending.C
			} else {
				if !pending.Stop() {
					select {
					case <-pending.C:
					default:
					}
				}
				pending.Reset(w.debounce)
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("rule watcher error", "error", err)

		case <-pendingC:
			pending = nil
			pendingC = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	loaded, err := LoadDir(w.dir)
	if err != nil {
		w.logger.Error("rule reload failed, keeping previous set", "dir", w.dir, "error", err)
		return
	}
	w.engine.ReplaceRules(loaded)
	w.logger.Info("rules reloaded", "dir", w.dir, "rules", len(loaded))
}

// Stop ends watching. The engine keeps its last rule set.
func (w *Watcher) Stop() {
	close(w.stopCh)
	if w.fs != nil {
		w.fs.Close()
	}
	w.wg.Wait()
}

func isRuleFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
