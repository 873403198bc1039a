package tasks

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"nerfmark/internal/fsutil"
)

// FileSystemEvent represents a relevant change under the parent folder.
type FileSystemEvent struct {
	Path      string    `json:"path"`
	Operation string    `json:"operation"` // "created", "modified", "deleted", "renamed"
	Time      time.Time `json:"time"`
}

// FileSystemWatcher monitors a parent folder and its frame directories.
type FileSystemWatcher struct {
	watcher *fsnotify.Watcher
	parent  string
	log     *slog.Logger
	Events  chan FileSystemEvent
	done    chan struct{}
}

// NewFileSystemWatcher creates a watcher for parent.
func NewFileSystemWatcher(parent string, logger *slog.Logger) (*FileSystemWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &FileSystemWatcher{
		watcher: watcher,
		parent:  parent,
		log:     logger,
		Events:  make(chan FileSystemEvent, 100),
		done:    make(chan struct{}),
	}, nil
}

// Start watches the parent and every existing subdirectory. New
// subdirectories are added as they appear.
func (fsw *FileSystemWatcher) Start() error {
	if err := fsw.watcher.Add(fsw.parent); err != nil {
		return err
	}
	entries, err := os.ReadDir(fsw.parent)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			if err := fsw.watcher.Add(filepath.Join(fsw.parent, e.Name())); err != nil {
				return err
			}
		}
	}
	fsw.log.Info("watching parent folder", "path", fsw.parent, "subdirs", len(fsw.watcher.WatchList())-1)
	go fsw.processEvents()
	return nil
}

// Stop stops the watcher. Events is closed once processing has exited.
func (fsw *FileSystemWatcher) Stop() error {
	close(fsw.done)
	return fsw.watcher.Close()
}

func (fsw *FileSystemWatcher) processEvents() {
	defer close(fsw.Events)
	for {
		select {
		case event, ok := <-fsw.watcher.Events:
			if !ok {
				return
			}
			var operation string
			switch {
			case event.Op&fsnotify.Create == fsnotify.Create:
				operation = "created"
				if fsutil.IsDir(event.Name) && filepath.Dir(event.Name) == filepath.Clean(fsw.parent) {
					if err := fsw.watcher.Add(event.Name); err != nil {
						fsw.log.Warn("cannot watch new frame directory", "path", event.Name, "error", err)
					}
				}
			case event.Op&fsnotify.Write == fsnotify.Write:
				operation = "modified"
			case event.Op&fsnotify.Remove == fsnotify.Remove:
				operation = "deleted"
			case event.Op&fsnotify.Rename == fsnotify.Rename:
				operation = "renamed"
			default:
				continue // chmod
			}
			if !fsw.relevant(event.Name) {
				continue
			}
			select {
			case fsw.Events <- FileSystemEvent{Path: event.Name, Operation: operation, Time: time.Now()}:
			default:
				fsw.log.Warn("event buffer full, dropping event", "path", event.Name)
			}

		case err, ok := <-fsw.watcher.Errors:
			if !ok {
				return
			}
			fsw.log.Error("filesystem watcher error", "error", err)

		case <-fsw.done:
			return
		}
	}
}

// relevant ignores the files a run writes itself and anything that is not an
// image or a frame directory.
func (fsw *FileSystemWatcher) relevant(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, ".json") {
		return false
	}
	if base == "barycentres_annotated.jpg" {
		return false
	}
	if filepath.Dir(path) == filepath.Clean(fsw.parent) {
		return true
	}
	return fsutil.IsImageFile(path)
}

// Debounce calls run once events have been quiet for wait, and never runs
// two calls at once. It returns when ctx is cancelled or events is closed.
func Debounce(ctx context.Context, events <-chan FileSystemEvent, wait time.Duration, run func(context.Context)) {
	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-events:
			if !ok {
				if fire != nil {
					run(ctx)
				}
				return
			}
			if timer == nil {
				timer = time.NewTimer(wait)
			} else {
				timer.Reset(wait)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			run(ctx)
		}
	}
}
