package tasks

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"automontage/internal/session"
)

// ManifestEvent reports a manifest that appeared or changed.
type ManifestEvent struct {
	Path      string    `json:"path"`
	Operation string    `json:"operation"` // "created", "modified"
	Time      time.Time `json:"time"`
}

// ManifestWatcher monitors directories for montage manifests. Bursts of
// writes to the same manifest are coalesced over the settle delay.
type ManifestWatcher struct {
	watcher   *fsnotify.Watcher
	Events    chan ManifestEvent
	watchDirs []string
	settle    time.Duration
	log       *slog.Logger
	done      chan struct{}
	stopOnce  sync.Once
	mu        sync.Mutex
	pending   map[string]*time.Timer
}

// NewManifestWatcher creates a watcher over watchPaths.
func NewManifestWatcher(watchPaths []string, settle time.Duration, logger *slog.Logger) (*ManifestWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ManifestWatcher{
		watcher:   watcher,
		Events:    make(chan ManifestEvent, 100),
		watchDirs: watchPaths,
		settle:    settle,
		log:       logger,
		done:      make(chan struct{}),
		pending:   make(map[string]*time.Timer),
	}, nil
}

// Start begins monitoring the configured directories.
func (w *ManifestWatcher) Start() error {
	for _, dir := range w.watchDirs {
		if err := w.watcher.Add(dir); err != nil {
			return err
		}
		w.log.Info("watching directory", "dir", dir)
	}
	go w.processEvents()
	return nil
}

// Stop stops the watcher and closes Events.
func (w *ManifestWatcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.watcher.Close()
		w.mu.Lock()
		for path, t := range w.pending {
			t.Stop()
			delete(w.pending, path)
		}
		close(w.Events)
		w.mu.Unlock()
	})
	return err
}

func (w *ManifestWatcher) processEvents() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			var operation string
			switch {
			case event.Op&fsnotify.Create == fsnotify.Create:
				operation = "created"
			case event.Op&fsnotify.Write == fsnotify.Write:
				operation = "modified"
			default:
				continue
			}
			if !isManifest(event.Name) {
				continue
			}
			w.schedule(event.Name, operation)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error("filesystem watcher error", "error", err)

		case <-w.done:
			return
		}
	}
}

func (w *ManifestWatcher) schedule(path, operation string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.settle, func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		select {
		case <-w.done:
			return
		default:
		}
		delete(w.pending, path)
		select {
		case w.Events <- ManifestEvent{Path: path, Operation: operation, Time: time.Now()}:
		default:
			w.log.Warn("event buffer full, dropping manifest event", "path", path)
		}
	})
}

func isManifest(path string) bool {
	return filepath.Base(path) == session.ManifestName
}
