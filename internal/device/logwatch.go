package device

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// fileSettle is how long a file must go without events before it is
// reported. The controller creates files empty and fills them afterwards.
const fileSettle = 100 * time.Millisecond

// logWatcher follows a directory tree and reports every file that is created
// or written inside it, once the file is non-empty and has settled.
// Subdirectories created after the watch starts are added and scanned, so
// files that landed before the watch was registered are still reported.
type logWatcher struct {
	dir     string
	settle  time.Duration
	logger  *slog.Logger
	watcher *fsnotify.Watcher
	onFile  func(path string)
	done    chan struct{}

	// pending maps a file to its last event time. Only the loop touches it.
	pending map[string]time.Time
}

func newLogWatcher(dir string, logger *slog.Logger, onFile func(path string)) (*logWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}

	lw := &logWatcher{
		dir:     dir,
		settle:  fileSettle,
		logger:  logger,
		watcher: w,
		onFile:  onFile,
		done:    make(chan struct{}),
		pending: make(map[string]time.Time),
	}

	if err := lw.addTree(dir, false); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}

	go lw.loop()
	return lw, nil
}

func (lw *logWatcher) addTree(root string, report bool) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return lw.watcher.Add(path)
		}
		if report {
			lw.pending[path] = time.Now()
		}
		return nil
	})
}

func (lw *logWatcher) loop() {
	defer close(lw.done)

	tick := time.NewTicker(max(lw.settle/4, 5*time.Millisecond))
	defer tick.Stop()

	for {
		select {
		case now := <-tick.C:
			lw.flush(now)
		case ev, ok := <-lw.watcher.Events:
			if !ok {
				return
			}
			lw.handle(ev)
		case err, ok := <-lw.watcher.Errors:
			if !ok {
				return
			}
			lw.logger.Warn("log watcher error", "dir", lw.dir, "error", err)
		}
	}
}

func (lw *logWatcher) handle(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}

	info, err := os.Stat(ev.Name)
	if err != nil {
		// Removed again before we got to it.
		return
	}

	if info.IsDir() {
		if err := lw.addTree(ev.Name, true); err != nil {
			lw.logger.Warn("watching new directory failed", "dir", ev.Name, "error", err)
		}
		return
	}

	lw.logger.Debug("log file written", "path", ev.Name, "op", ev.Op.String())
	lw.pending[ev.Name] = time.Now()
}

// flush reports the pending files that have been quiet for the settle
// period. An empty file is dropped; the write that fills it queues it again.
func (lw *logWatcher) flush(now time.Time) {
	for path, seen := range lw.pending {
		if now.Sub(seen) < lw.settle {
			continue
		}
		delete(lw.pending, path)

		info, err := os.Stat(path)
		if err != nil || info.Size() == 0 {
			continue
		}
		lw.onFile(path)
	}
}

// Close stops the watcher and waits for the event loop to exit.
func (lw *logWatcher) Close() error {
	err := lw.watcher.Close()
	<-lw.done
	return err
}
