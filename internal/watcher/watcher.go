// Package watcher reports changes to the asset directory.
//
// Editors, file managers, and the transform engine all write into the asset
// directory. The watcher merges bursts of filesystem events into one batch
// per quiet period so listeners refresh once per burst.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/sitedesk/sitedesk/internal/assets"
	siteerrors "github.com/sitedesk/sitedesk/internal/errors"
	"github.com/sitedesk/sitedesk/internal/logging"
)

// EventType is the net change a batch reports for one file.
type EventType string

const (
	EventCreated  EventType = "created"
	EventModified EventType = "modified"
	EventDeleted  EventType = "deleted"
	EventRenamed  EventType = "renamed"
)

// ChangeEvent is one file in a batch.
type ChangeEvent struct {
	Type    EventType `json:"type"`
	Path    string    `json:"path"`
	Name    string    `json:"name"`
	ModTime time.Time `json:"mod_time"`
	Size    int64     `json:"size"`
}

// FileFilter reports whether a path is of interest.
type FileFilter func(path string) bool

// ChangeHandler handles one debounced batch.
type ChangeHandler func(ctx context.Context, events []ChangeEvent) error

// FileWatcher watches one directory and delivers debounced change batches.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	delay   time.Duration
	logger  logging.Logger

	mutex    sync.RWMutex
	filters  []FileFilter
	handlers []ChangeHandler

	batches  chan []ChangeEvent
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewFileWatcher creates a watcher that flushes a batch after delay of quiet.
func NewFileWatcher(delay time.Duration, logger logging.Logger) (*FileWatcher, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if delay <= 0 {
		delay = 300 * time.Millisecond
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, siteerrors.NewIOError("WATCHER_INIT", "cannot create file watcher", err)
	}
	return &FileWatcher{
		watcher: w,
		delay:   delay,
		logger:  logger.WithComponent("watcher"),
		batches: make(chan []ChangeEvent, 8),
		stop:    make(chan struct{}),
	}, nil
}

// NewAssetWatcher watches dir for image changes, ignoring in-flight temp
// files and hidden files.
func NewAssetWatcher(dir string, delay time.Duration, logger logging.Logger) (*FileWatcher, error) {
	fw, err := NewFileWatcher(delay, logger)
	if err != nil {
		return nil, err
	}
	fw.AddFilter(NoHiddenFilter)
	fw.AddFilter(NoTempFilter)
	fw.AddFilter(ImageFilter)
	if err := fw.AddPath(dir); err != nil {
		_ = fw.Stop()
		return nil, err
	}
	return fw, nil
}

// AddFilter adds a filter; a path must pass every filter.
func (fw *FileWatcher) AddFilter(filter FileFilter) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	fw.filters = append(fw.filters, filter)
}

// AddHandler adds a batch handler.
func (fw *FileWatcher) AddHandler(handler ChangeHandler) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	fw.handlers = append(fw.handlers, handler)
}

// AddPath watches a single directory. The asset directory is flat, so
// subdirectories are not followed.
func (fw *FileWatcher) AddPath(path string) error {
	cleanPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return siteerrors.NewIOError("WATCH_PATH", "cannot resolve watch path", err).WithPath(path)
	}
	info, err := os.Stat(cleanPath)
	if err != nil {
		return siteerrors.NewNotFoundError("WATCH_PATH", "watch path not found").WithPath(path)
	}
	if !info.IsDir() {
		return siteerrors.NewIOError("WATCH_PATH", "watch path is not a directory", nil).WithPath(path)
	}
	if err := fw.watcher.Add(cleanPath); err != nil {
		return siteerrors.NewIOError("WATCH_PATH", "cannot watch directory", err).WithPath(path)
	}
	return nil
}

// Start runs the watcher until ctx ends or Stop is called.
func (fw *FileWatcher) Start(ctx context.Context) error {
	fw.wg.Add(2)
	go func() {
		defer fw.wg.Done()
		fw.collect(ctx)
	}()
	go func() {
		defer fw.wg.Done()
		fw.dispatch(ctx)
	}()
	return nil
}

// Stop closes the underlying watcher. Pending changes that have not been
// flushed are dropped. Stop is idempotent.
func (fw *FileWatcher) Stop() error {
	var err error
	fw.stopOnce.Do(func() {
		close(fw.stop)
		err = fw.watcher.Close()
	})
	return err
}

// Wait blocks until the goroutines started by Start have returned.
func (fw *FileWatcher) Wait() {
	fw.wg.Wait()
}

// collect owns the pending set and the quiet-period timer.
func (fw *FileWatcher) collect(ctx context.Context) {
	pending := make(map[string]ChangeEvent)
	timer := time.NewTimer(fw.delay)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-fw.stop:
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			change, keep := fw.translate(event)
			if !keep {
				continue
			}
			if merged, ok := merge(pending[change.Path], change); ok {
				pending[change.Path] = merged
			} else {
				delete(pending, change.Path)
			}
			timer.Reset(fw.delay)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Warn(ctx, err, "File watcher error")
		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			batch := sortedBatch(pending)
			pending = make(map[string]ChangeEvent)
			select {
			case fw.batches <- batch:
			default:
				fw.logger.Warn(ctx, nil, "Watcher batch queue full, dropping batch", "count", len(batch))
			}
		}
	}
}

func (fw *FileWatcher) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-fw.stop:
			return
		case batch := <-fw.batches:
			fw.mutex.RLock()
			handlers := fw.handlers
			fw.mutex.RUnlock()

			fw.logger.Debug(ctx, "Asset changes", "count", len(batch))
			for _, handler := range handlers {
				if err := handler(ctx, batch); err != nil {
					fw.logger.Warn(ctx, err, "File watcher handler error")
				}
			}
		}
	}
}

// translate turns an fsnotify event into a ChangeEvent, or reports false
// for events the filters reject and pure permission changes.
func (fw *FileWatcher) translate(event fsnotify.Event) (ChangeEvent, bool) {
	if event.Op == fsnotify.Chmod {
		return ChangeEvent{}, false
	}

	fw.mutex.RLock()
	filters := fw.filters
	fw.mutex.RUnlock()
	for _, filter := range filters {
		if !filter(event.Name) {
			return ChangeEvent{}, false
		}
	}

	change := ChangeEvent{Path: event.Name, Name: filepath.Base(event.Name)}
	switch {
	case event.Has(fsnotify.Create):
		change.Type = EventCreated
	case event.Has(fsnotify.Remove):
		change.Type = EventDeleted
	case event.Has(fsnotify.Rename):
		change.Type = EventRenamed
	default:
		change.Type = EventModified
	}
	if info, err := os.Stat(event.Name); err == nil {
		change.ModTime = info.ModTime()
		change.Size = info.Size()
	}
	return change, true
}

// merge folds next into the pending change for the same path. It reports
// false when the two cancel out, as for a file created and then deleted or
// renamed away within one burst.
func merge(prev, next ChangeEvent) (ChangeEvent, bool) {
	switch {
	case prev.Type == "":
		return next, true
	case prev.Type == EventCreated && (next.Type == EventDeleted || next.Type == EventRenamed):
		return ChangeEvent{}, false
	case prev.Type == EventCreated && next.Type == EventModified:
		next.Type = EventCreated
		return next, true
	case prev.Type == EventDeleted && next.Type == EventCreated:
		next.Type = EventModified
		return next, true
	default:
		return next, true
	}
}

func sortedBatch(pending map[string]ChangeEvent) []ChangeEvent {
	batch := make([]ChangeEvent, 0, len(pending))
	for _, event := range pending {
		batch = append(batch, event)
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].Path < batch[j].Path })
	return batch
}

// ImageFilter keeps allow-listed image files.
func ImageFilter(path string) bool {
	return assets.IsImageName(filepath.Base(path))
}

// NoTempFilter drops the temp files of in-flight atomic writes.
func NoTempFilter(path string) bool {
	return !assets.IsTempName(filepath.Base(path))
}

// NoHiddenFilter drops dotfiles such as editor swap files.
func NoHiddenFilter(path string) bool {
	return !strings.HasPrefix(filepath.Base(path), ".")
}
