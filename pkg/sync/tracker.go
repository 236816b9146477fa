package sync

import (
	"crypto/sha512"
	"encoding/base64"
	"io"
	goSync "sync"

	"github.com/spf13/afero"

	"github.com/sidkik/serialsync/pkg/errors"
)

// Mocked out for unit testing.
var fs = afero.NewOsFs()

// UploadedTracker tracks the contents of the files that have been uploaded
// to the board, so that saves that don't change a file can be skipped.
type UploadedTracker struct {
	lock   goSync.Mutex
	hashes map[string]string
}

// NewUploadedTracker creates a new UploadedTracker.
func NewUploadedTracker() *UploadedTracker {
	return &UploadedTracker{hashes: map[string]string{}}
}

// Unchanged returns whether `remotePath` was last uploaded with the contents
// `hash`.
func (tracker *UploadedTracker) Unchanged(remotePath, hash string) bool {
	tracker.lock.Lock()
	defer tracker.lock.Unlock()

	uploaded, ok := tracker.hashes[remotePath]
	return ok && uploaded == hash
}

// Uploaded records that `remotePath` now has the contents `hash`.
func (tracker *UploadedTracker) Uploaded(remotePath, hash string) {
	tracker.lock.Lock()
	defer tracker.lock.Unlock()
	tracker.hashes[remotePath] = hash
}

// Removed updates UploadedTracker to reflect that `remotePath` no longer
// exists on the board.
func (tracker *UploadedTracker) Removed(remotePath string) {
	tracker.lock.Lock()
	defer tracker.lock.Unlock()
	delete(tracker.hashes, remotePath)
}

// HashFile returns the sha512 hash of the file at the given path.
func HashFile(path string) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", errors.WithContext(err, "open")
	}
	defer f.Close()

	hasher := sha512.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", errors.WithContext(err, "read")
	}

	return base64.StdEncoding.EncodeToString(hasher.Sum(nil)), nil
}
