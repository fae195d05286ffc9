// Package watch turns the input directory into a drop box: capture files
// written by the lab's generator containers are picked up as they appear and
// handed to the pipeline once they stop growing.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher observes a directory for new capture files and invokes the handler
// for each file once it has settled (no size change across one interval).
type Watcher struct {
	dir     string
	settle  time.Duration
	handler func(path string)
	log     *zap.Logger

	watcher *fsnotify.Watcher
	mu      sync.Mutex
	pending map[string]int64 // last observed size per settling file
}

// New creates a watcher over dir. The handler runs on the watcher's
// goroutine; long work should be dispatched by the handler itself.
func New(dir string, settle time.Duration, log *zap.Logger, handler func(path string)) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fsWatcher.Add(dir); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	return &Watcher{
		dir:     dir,
		settle:  settle,
		handler: handler,
		log:     log,
		watcher: fsWatcher,
		pending: make(map[string]int64),
	}, nil
}

// Run blocks, dispatching settled files, until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	ticker := time.NewTicker(w.settle)
	defer ticker.Stop()

	w.log.Info("watching for capture files",
		zap.String("dir", w.dir),
		zap.Duration("settle", w.settle))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !isCapture(event.Name) {
				continue
			}
			w.mu.Lock()
			if _, tracked := w.pending[event.Name]; !tracked {
				w.log.Info("capture file appearing", zap.String("file", event.Name))
			}
			w.pending[event.Name] = -1 // force at least one settle tick
			w.mu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", zap.Error(err))

		case <-ticker.C:
			for _, path := range w.takeSettled() {
				w.handler(path)
			}
		}
	}
}

// takeSettled returns pending files whose size has not changed since the last
// tick and drops them from tracking. Files that vanished are dropped too.
func (w *Watcher) takeSettled() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	var ready []string
	for path, lastSize := range w.pending {
		st, err := os.Stat(path)
		if err != nil {
			delete(w.pending, path)
			continue
		}
		if st.Size() == lastSize {
			delete(w.pending, path)
			ready = append(ready, path)
			continue
		}
		w.pending[path] = st.Size()
	}
	return ready
}

func isCapture(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".pcap" || ext == ".cap"
}
