package restart

import (
	"context"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ConfigChangeFunc is invoked (debounced) after the watched config file
// changes on disk.
type ConfigChangeFunc func()

// ConfigWatcher watches a config file for changes and debounces a callback,
// grounded on the teacher's internal/skills.Manager file watcher.
type ConfigWatcher struct {
	path     string
	debounce time.Duration
	onChange ConfigChangeFunc

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewConfigWatcher creates a watcher for the given config file path. If
// debounce is zero, it defaults to 250ms.
func NewConfigWatcher(path string, debounce time.Duration, onChange ConfigChangeFunc) *ConfigWatcher {
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	return &ConfigWatcher{path: path, debounce: debounce, onChange: onChange}
}

// Start begins watching the config file in a background goroutine.
func (w *ConfigWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.watcher != nil {
		w.mu.Unlock()
		return nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	if err := fw.Add(w.path); err != nil {
		fw.Close()
		w.mu.Unlock()
		return err
	}
	w.watcher = fw
	watchCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.mu.Unlock()

	w.wg.Add(1)
	go w.watchLoop(watchCtx)
	return nil
}

// Close stops the watcher.
func (w *ConfigWatcher) Close() error {
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	fw := w.watcher
	w.watcher = nil
	w.mu.Unlock()

	if fw != nil {
		_ = fw.Close()
	}
	w.wg.Wait()
	return nil
}

func (w *ConfigWatcher) watchLoop(ctx context.Context) {
	defer w.wg.Done()
	w.mu.Lock()
	fw := w.watcher
	w.mu.Unlock()
	if fw == nil {
		return
	}

	var mu sync.Mutex
	var timer *time.Timer
	scheduleChange := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(w.debounce, w.onChange)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				scheduleChange()
			}
		case _, ok := <-fw.Errors:
			if !ok {
				return
			}
		}
	}
}
