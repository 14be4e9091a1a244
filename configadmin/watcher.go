package configadmin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"go.uber.org/zap"
)

// DefaultDebounce coalesces bursts of file events (editor save sequences)
// into one resync.
const DefaultDebounce = 200 * time.Millisecond

// LoadFile reads one YAML configuration file into a property map.
func LoadFile(path string) (map[string]any, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load configuration from %q: %w", path, err)
	}

	// keep nested keys flattened the way configuration properties are addressed
	return k.All(), nil
}

// PIDFromFile derives the PID a file configures: "<pid>.yaml" or
// "<factoryPid>~<name>.yaml". ok is false for non-YAML files.
func PIDFromFile(path string) (pid string, ok bool) {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	if ext != ".yaml" && ext != ".yml" {
		return "", false
	}

	pid = strings.TrimSuffix(base, ext)
	return pid, pid != ""
}

// Watcher mirrors a directory of YAML files into a Memory admin: every
// file is one configuration, removed files delete their configuration.
// Files failing to parse are logged and keep their previous configuration.
type Watcher struct {
	dir      string
	admin    *Memory
	logger   *zap.Logger
	debounce time.Duration

	mu    sync.Mutex
	known map[string]map[string]any // pid -> last applied properties
	timer *time.Timer

	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewWatcher creates a watcher for dir feeding admin.
func NewWatcher(dir string, admin *Memory, logger *zap.Logger) (*Watcher, error) {
	if dir == "" {
		return nil, fmt.Errorf("configuration directory cannot be empty")
	}
	if admin == nil {
		return nil, fmt.Errorf("admin cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Watcher{
		dir:      dir,
		admin:    admin,
		logger:   logger,
		debounce: DefaultDebounce,
		known:    make(map[string]map[string]any),
		stopped:  make(chan struct{}),
	}, nil
}

// Sync applies the directory contents to the admin once.
func (w *Watcher) Sync() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("failed to read configuration directory %q: %w", w.dir, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	seen := make(map[string]bool, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		path := filepath.Join(w.dir, entry.Name())
		pid, ok := PIDFromFile(path)
		if !ok {
			continue
		}
		seen[pid] = true

		props, err := LoadFile(path)
		if err != nil {
			w.logger.Warn("skipping invalid configuration file", zap.String("path", path), zap.Error(err))
			continue
		}

		if previous, ok := w.known[pid]; ok && reflect.DeepEqual(previous, props) {
			continue
		}

		if err := w.admin.Update(pid, props); err != nil {
			w.logger.Error("failed to apply configuration", zap.String("pid", pid), zap.Error(err))
			continue
		}
		w.known[pid] = props
	}

	for pid := range w.known {
		if seen[pid] {
			continue
		}
		delete(w.known, pid)
		if err := w.admin.Delete(pid); err != nil {
			w.logger.Warn("failed to delete configuration", zap.String("pid", pid), zap.Error(err))
		}
	}

	return nil
}

// Start performs an initial Sync and then watches the directory until ctx
// is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.Sync(); err != nil {
		return err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fsw.Add(w.dir); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("failed to watch %q: %w", w.dir, err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	go w.watchLoop(watchCtx, fsw)
	return nil
}

// Stop ends watching and waits for the watch loop to exit.
func (w *Watcher) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.stopped

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
}

func (w *Watcher) watchLoop(ctx context.Context, fsw *fsnotify.Watcher) {
	defer close(w.stopped)
	defer fsw.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if _, isConfig := PIDFromFile(event.Name); !isConfig {
				continue
			}
			w.scheduleSync()
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("configuration watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) scheduleSync() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		if err := w.Sync(); err != nil {
			w.logger.Error("configuration resync failed", zap.Error(err))
		}
	})
}
