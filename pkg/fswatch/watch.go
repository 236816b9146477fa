// Package fswatch reports changes to the files in a directory tree.
package fswatch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	goSync "sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/serialsync/pkg/errors"
)

// Mocked out for unit testing.
var fs = afero.NewOsFs()

// DefaultIgnore lists paths that are never synced: version control metadata,
// OS clutter, Python caches and the temporary files editors create while
// saving.
var DefaultIgnore = []string{".git", ".DS_Store", "__pycache__",
	"*.swp", "*.swx", "*~", ".#*", "4913"}

// EventKind is the type of change made to a file.
type EventKind int

const (
	// Created means the path was created.
	Created EventKind = iota
	// Modified means the contents of the path were written.
	Modified
	// Deleted means the path was removed or renamed away.
	Deleted
)

func (k EventKind) String() string {
	switch k {
	case Created:
		return "created"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// FileEvent describes a single change within the watched directory.
type FileEvent struct {
	Kind         EventKind
	AbsolutePath string

	// RelativePath is relative to the watched directory, and uses the host's
	// path separator.
	RelativePath string

	// IsDir is set when the event is about a directory rather than a file.
	IsDir bool
}

// Watcher watches a directory tree recursively. fsnotify only watches single
// directories, so every subdirectory is watched individually, and
// directories created after Start are added as they appear.
type Watcher struct {
	root   string
	ignore []string
	log    *logrus.Logger

	watcher  *fsnotify.Watcher
	addWatch func(string) error

	events chan FileEvent
	errs   chan error
	done   chan struct{}
	exited chan struct{}

	closeOnce goSync.Once
	started   bool

	// dirs tracks the watched directories so that removals can be
	// classified after the directory is gone.
	dirsLock goSync.Mutex
	dirs     map[string]struct{}
}

// New creates a Watcher for `root`. Paths matching any of the `ignore`
// patterns are skipped. A pattern without a separator is matched against
// every element of a path; a pattern with one is matched as a path prefix.
func New(log *logrus.Logger, root string, ignore []string) (*Watcher, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.WithContext(err, "get absolute path")
	}

	fi, err := fs.Stat(absRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileNotFound{Path: absRoot}
		}
		return nil, errors.WithContext(err, "stat")
	}
	if !fi.IsDir() {
		return nil, errors.NewFriendlyError("%q is not a directory. "+
			"Only directories can be synced.", absRoot)
	}

	var cleanedIgnore []string
	for _, pattern := range ignore {
		cleanedIgnore = append(cleanedIgnore, filepath.Clean(pattern))
	}

	return &Watcher{
		root:   absRoot,
		ignore: cleanedIgnore,
		log:    log,
		events: make(chan FileEvent, 64),
		errs:   make(chan error, 4),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
		dirs:   map[string]struct{}{},
	}, nil
}

// Root returns the absolute path of the watched directory.
func (w *Watcher) Root() string {
	return w.root
}

// Events returns the channel of file events. It's closed after Close.
func (w *Watcher) Events() <-chan FileEvent {
	return w.events
}

// Errors returns errors reported by the underlying watcher. They aren't
// fatal.
func (w *Watcher) Errors() <-chan error {
	return w.errs
}

// Start begins watching. Events are delivered on Events.
func (w *Watcher) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.WithContext(err, "create watcher")
	}
	w.watcher = watcher
	w.addWatch = watcher.Add

	dirs, err := getDirsToWatch(w.root, w.ignore)
	if err != nil {
		w.closeWatcher()
		return errors.WithContext(err, "get paths")
	}

	for _, dir := range dirs {
		if err := w.watchDir(dir); err != nil {
			// Close the watcher so that we release the file handlers for the
			// previously added paths.
			w.closeWatcher()
			return errors.WithContext(err, fmt.Sprintf("watch %q", dir))
		}
	}

	w.started = true
	go w.run()
	return nil
}

// Close stops the watcher. It's safe to call multiple times. Once it
// returns, no more events will be delivered.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		if w.watcher != nil {
			err = w.watcher.Close()
		}

		if w.started {
			<-w.exited
		} else {
			close(w.events)
		}
	})
	return err
}

func (w *Watcher) closeWatcher() {
	if err := w.watcher.Close(); err != nil {
		w.log.WithError(err).Warn("Failed to close file watcher")
	}
	w.watcher = nil
}

func (w *Watcher) run() {
	defer close(w.exited)
	defer close(w.events)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			for _, fileEvent := range w.translate(event) {
				select {
				case w.events <- fileEvent:
				case <-w.done:
					return
				}
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errs <- err:
			default:
				w.log.WithError(err).Warn("File watcher error")
			}
		case <-w.done:
			return
		}
	}
}

// translate converts an fsnotify event into the events we report. Newly
// created directories are watched, and the files already inside them are
// reported as created since their own events may have been missed.
func (w *Watcher) translate(event fsnotify.Event) []FileEvent {
	relPath, err := filepath.Rel(w.root, event.Name)
	if err != nil || strings.HasPrefix(relPath, "..") || relPath == "." {
		return nil
	}
	if isIgnored(relPath, w.ignore) {
		return nil
	}

	fileEvent := FileEvent{AbsolutePath: event.Name, RelativePath: relPath}
	switch {
	case event.Has(fsnotify.Create):
		fi, err := fs.Stat(event.Name)
		if err != nil {
			// The path was removed before we got to it. The removal has its
			// own event.
			w.log.WithError(err).WithField("path", relPath).Debug("Skipping vanished path")
			return nil
		}

		fileEvent.Kind = Created
		if !fi.IsDir() {
			return []FileEvent{fileEvent}
		}

		fileEvent.IsDir = true
		events := []FileEvent{fileEvent}
		created, err := w.watchNewDir(event.Name)
		if err != nil {
			w.log.WithError(err).WithField("path", relPath).Warn(
				"Failed to watch new directory")
		}
		return append(events, created...)

	case event.Has(fsnotify.Write):
		fi, err := fs.Stat(event.Name)
		if err != nil {
			return nil
		}
		fileEvent.Kind = Modified
		fileEvent.IsDir = fi.IsDir()
		return []FileEvent{fileEvent}

	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		fileEvent.Kind = Deleted
		fileEvent.IsDir = w.forgetDir(event.Name)
		return []FileEvent{fileEvent}
	}

	// Chmod events don't change the contents of the file.
	return nil
}

// watchNewDir watches `dir` and its subdirectories, and returns Created
// events for the files inside them.
func (w *Watcher) watchNewDir(dir string) (events []FileEvent, err error) {
	err = afero.Walk(fs, dir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return errors.WithContext(err, "walk error")
		}

		relPath, err := filepath.Rel(w.root, path)
		if err != nil {
			return errors.WithContext(err, "normalized path")
		}
		if isIgnored(relPath, w.ignore) {
			if fi.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if fi.IsDir() {
			return w.watchDir(path)
		}
		events = append(events, FileEvent{
			Kind:         Created,
			AbsolutePath: path,
			RelativePath: relPath,
		})
		return nil
	})
	return events, err
}

func (w *Watcher) watchDir(dir string) error {
	if err := w.addWatch(dir); err != nil {
		return err
	}

	w.dirsLock.Lock()
	w.dirs[dir] = struct{}{}
	w.dirsLock.Unlock()
	return nil
}

// forgetDir stops tracking `path` and anything below it. It returns whether
// `path` was a watched directory.
func (w *Watcher) forgetDir(path string) bool {
	w.dirsLock.Lock()
	defer w.dirsLock.Unlock()

	_, isDir := w.dirs[path]
	if !isDir {
		return false
	}

	for dir := range w.dirs {
		if _, ok := matchPattern(dir, path); ok {
			delete(w.dirs, dir)
		}
	}
	return true
}

// getDirsToWatch returns `root` and all of its subdirectories that aren't
// ignored.
func getDirsToWatch(root string, ignore []string) (paths []string, err error) {
	err = afero.Walk(fs, root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return errors.WithContext(err, "walk error")
		}
		if !fi.IsDir() {
			return nil
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil || strings.HasPrefix(relPath, "..") {
			// This shouldn't happen because `path` is always a child of `root`.
			return errors.WithContext(err, "normalized path")
		}
		if relPath != "." && isIgnored(relPath, ignore) {
			return filepath.SkipDir
		}

		paths = append(paths, path)
		return nil
	})
	return paths, err
}

// isIgnored returns whether the relative path `path` matches any of the
// ignore patterns.
func isIgnored(path string, patterns []string) bool {
	elements := strings.Split(path, string(filepath.Separator))
	for _, pattern := range patterns {
		if strings.ContainsRune(pattern, filepath.Separator) {
			if _, ok := matchPattern(path, pattern); ok {
				return true
			}
			continue
		}

		for _, element := range elements {
			if matched, _ := filepath.Match(pattern, element); matched {
				return true
			}
		}
	}
	return false
}

// matchPattern returns true if `path` is either an exact match, or a child of
// `pattern`.
// For example, `/foo`, `/foo/bar`, and `/foo/bar/baz` match `/foo`.
func matchPattern(path string, pattern string) (remaining string, ok bool) {
	relativePath, err := filepath.Rel(pattern, path)
	if err != nil || strings.HasPrefix(relativePath, "..") {
		return "", false
	}

	if relativePath == "." {
		return "", true
	}
	return relativePath, true
}
