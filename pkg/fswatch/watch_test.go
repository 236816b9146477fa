package fswatch

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	logrusTest "github.com/sirupsen/logrus/hooks/test"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/serialsync/pkg/errors"
)

func setupMemFs(t *testing.T, dirs, files []string) {
	fs = afero.NewMemMapFs()
	t.Cleanup(func() { fs = afero.NewOsFs() })

	for _, dir := range dirs {
		require.NoError(t, fs.MkdirAll(dir, 0755))
	}
	for _, file := range files {
		require.NoError(t, afero.WriteFile(fs, file, []byte("print('hi')"), 0644))
	}
}

func newMemWatcher(t *testing.T, root string) (*Watcher, *[]string) {
	logger, _ := logrusTest.NewNullLogger()
	w, err := New(logger, root, DefaultIgnore)
	require.NoError(t, err)

	var watched []string
	w.addWatch = func(path string) error {
		watched = append(watched, path)
		return nil
	}
	return w, &watched
}

func TestGetDirsToWatch(t *testing.T) {
	tests := []struct {
		name     string
		dirs     []string
		files    []string
		ignore   []string
		expPaths []string
	}{
		{
			name:     "Nested directories",
			dirs:     []string{"/proj/lib", "/proj/lib/drivers"},
			files:    []string{"/proj/main.py", "/proj/lib/util.py", "/proj/lib/drivers/bme280.py"},
			expPaths: []string{"/proj", "/proj/lib", "/proj/lib/drivers"},
		},
		{
			name:     "Don't watch ignored directories",
			dirs:     []string{"/proj/.git/objects", "/proj/lib/__pycache__"},
			files:    []string{"/proj/boot.py"},
			ignore:   DefaultIgnore,
			expPaths: []string{"/proj", "/proj/lib"},
		},
		{
			name:     "Ignore a nested path",
			dirs:     []string{"/proj/lib/vendor", "/proj/vendor"},
			ignore:   []string{"lib/vendor"},
			expPaths: []string{"/proj", "/proj/lib", "/proj/vendor"},
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			setupMemFs(t, test.dirs, test.files)

			paths, err := getDirsToWatch("/proj", test.ignore)
			assert.NoError(t, err)

			// Sort for consistency.
			sort.Strings(test.expPaths)
			sort.Strings(paths)
			assert.Equal(t, test.expPaths, paths)
		})
	}
}

func TestIsIgnored(t *testing.T) {
	tests := []struct {
		path    string
		ignored bool
	}{
		{"main.py", false},
		{"lib/util.py", false},
		{".git/HEAD", true},
		{"lib/__pycache__/util.cpython-311.pyc", true},
		{".main.py.swp", true},
		{"main.py~", true},
		{"4913", true},
		{"lib/.#util.py", true},
		{"gitignore.py", false},
	}

	for _, test := range tests {
		assert.Equal(t, test.ignored, isIgnored(filepath.FromSlash(test.path), DefaultIgnore), test.path)
	}
}

func TestNew(t *testing.T) {
	setupMemFs(t, []string{"/proj"}, []string{"/proj/main.py"})
	logger, _ := logrusTest.NewNullLogger()

	_, err := New(logger, "/missing", nil)
	assert.Equal(t, errors.FileNotFound{Path: "/missing"}, err)

	_, err = New(logger, "/proj/main.py", nil)
	_, isFriendly := errors.GetFriendlyMessage(err)
	assert.True(t, isFriendly)

	w, err := New(logger, "/proj", nil)
	assert.NoError(t, err)
	assert.Equal(t, "/proj", w.Root())

	// Closing a watcher that was never started still closes the events.
	assert.NoError(t, w.Close())
	assert.NoError(t, w.Close())
	_, ok := <-w.Events()
	assert.False(t, ok)
}

func TestTranslate(t *testing.T) {
	setupMemFs(t, []string{"/proj/lib", "/proj/newdir/sub"},
		[]string{"/proj/main.py", "/proj/newdir/a.py", "/proj/newdir/sub/b.py",
			"/proj/newdir/.a.py.swp"})
	w, watched := newMemWatcher(t, "/proj")
	require.NoError(t, w.watchDir("/proj/lib"))

	tests := []struct {
		name      string
		event     fsnotify.Event
		expEvents []FileEvent
	}{
		{
			name:  "file created",
			event: fsnotify.Event{Name: "/proj/main.py", Op: fsnotify.Create},
			expEvents: []FileEvent{
				{Kind: Created, AbsolutePath: "/proj/main.py", RelativePath: "main.py"},
			},
		},
		{
			name:  "file written",
			event: fsnotify.Event{Name: "/proj/main.py", Op: fsnotify.Write},
			expEvents: []FileEvent{
				{Kind: Modified, AbsolutePath: "/proj/main.py", RelativePath: "main.py"},
			},
		},
		{
			name:  "file removed",
			event: fsnotify.Event{Name: "/proj/lib/util.py", Op: fsnotify.Remove},
			expEvents: []FileEvent{
				{Kind: Deleted, AbsolutePath: "/proj/lib/util.py", RelativePath: "lib/util.py"},
			},
		},
		{
			name:  "file renamed away",
			event: fsnotify.Event{Name: "/proj/old.py", Op: fsnotify.Rename},
			expEvents: []FileEvent{
				{Kind: Deleted, AbsolutePath: "/proj/old.py", RelativePath: "old.py"},
			},
		},
		{
			name:  "watched directory removed",
			event: fsnotify.Event{Name: "/proj/lib", Op: fsnotify.Remove},
			expEvents: []FileEvent{
				{Kind: Deleted, AbsolutePath: "/proj/lib", RelativePath: "lib", IsDir: true},
			},
		},
		{
			name:  "chmod ignored",
			event: fsnotify.Event{Name: "/proj/main.py", Op: fsnotify.Chmod},
		},
		{
			name:  "ignored path",
			event: fsnotify.Event{Name: "/proj/.main.py.swp", Op: fsnotify.Create},
		},
		{
			name:  "vanished before stat",
			event: fsnotify.Event{Name: "/proj/gone.py", Op: fsnotify.Create},
		},
		{
			name:  "directory created with contents",
			event: fsnotify.Event{Name: "/proj/newdir", Op: fsnotify.Create},
			expEvents: []FileEvent{
				{Kind: Created, AbsolutePath: "/proj/newdir", RelativePath: "newdir", IsDir: true},
				{Kind: Created, AbsolutePath: "/proj/newdir/a.py", RelativePath: "newdir/a.py"},
				{Kind: Created, AbsolutePath: "/proj/newdir/sub/b.py", RelativePath: "newdir/sub/b.py"},
			},
		},
	}

	for _, test := range tests {
		assert.Equal(t, test.expEvents, w.translate(test.event), test.name)
	}
	assert.Equal(t, []string{"/proj/lib", "/proj/newdir", "/proj/newdir/sub"}, *watched)

	// The removed directory is no longer tracked.
	assert.False(t, w.forgetDir("/proj/lib"))
	assert.True(t, w.forgetDir("/proj/newdir"))
	assert.False(t, w.forgetDir("/proj/newdir/sub"))
}

func TestEventKindString(t *testing.T) {
	assert.Equal(t, "created", Created.String())
	assert.Equal(t, "modified", Modified.String())
	assert.Equal(t, "deleted", Deleted.String())
	assert.Equal(t, "EventKind(7)", EventKind(7).String())
}

// TestWatchRealFilesystem runs the watcher against fsnotify and the real
// filesystem.
func TestWatchRealFilesystem(t *testing.T) {
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.Mkdir(filepath.Join(root, "lib"), 0755))

	logger, _ := logrusTest.NewNullLogger()
	w, err := New(logger, root, DefaultIgnore)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Close()

	waitFor := func(exp FileEvent) {
		timeout := time.After(5 * time.Second)
		for {
			select {
			case event := <-w.Events():
				if event == exp {
					return
				}
			case <-timeout:
				t.Fatalf("timed out waiting for %+v", exp)
			}
		}
	}

	mainPath := filepath.Join(root, "main.py")
	require.NoError(t, os.WriteFile(mainPath, []byte("print(1)"), 0644))
	waitFor(FileEvent{Kind: Created, AbsolutePath: mainPath, RelativePath: "main.py"})

	utilPath := filepath.Join(root, "lib", "util.py")
	require.NoError(t, os.WriteFile(utilPath, []byte("x = 1"), 0644))
	waitFor(FileEvent{Kind: Created, AbsolutePath: utilPath, RelativePath: filepath.Join("lib", "util.py")})

	require.NoError(t, os.Remove(utilPath))
	waitFor(FileEvent{Kind: Deleted, AbsolutePath: utilPath, RelativePath: filepath.Join("lib", "util.py")})

	// Files in directories created after Start are watched too.
	newDir := filepath.Join(root, "drivers")
	require.NoError(t, os.Mkdir(newDir, 0755))
	waitFor(FileEvent{Kind: Created, AbsolutePath: newDir, RelativePath: "drivers", IsDir: true})

	driverPath := filepath.Join(newDir, "bme280.py")
	require.NoError(t, os.WriteFile(driverPath, []byte("pass"), 0644))
	waitFor(FileEvent{Kind: Modified, AbsolutePath: driverPath, RelativePath: filepath.Join("drivers", "bme280.py")})

	assert.NoError(t, w.Close())
	for range w.Events() {
	}
}
