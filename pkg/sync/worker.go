package sync

import (
	"github.com/sirupsen/logrus"

	"github.com/sidkik/serialsync/pkg/channel"
	"github.com/sidkik/serialsync/pkg/fswatch"
	"github.com/sidkik/serialsync/pkg/transfer"
)

// DefaultDeviceName is how the board is referred to in log messages.
const DefaultDeviceName = "ESP32"

// Config configures a Worker.
type Config struct {
	// DeviceName is used in log messages.
	DeviceName string

	// RemoteRoot is the directory on the board that the local directory
	// maps to. Empty means the board's current directory.
	RemoteRoot string

	// SkipUnchanged skips uploads whose contents match the previous upload
	// of the same file.
	SkipUnchanged bool
}

// Worker applies file events to the board.
type Worker struct {
	arbiter *channel.Arbiter
	tool    transfer.Tool
	log     *logrus.Logger

	deviceName string
	remoteRoot string
	uploaded   *UploadedTracker
}

// NewWorker creates a Worker.
func NewWorker(log *logrus.Logger, arbiter *channel.Arbiter, tool transfer.Tool, cfg Config) *Worker {
	w := &Worker{
		arbiter:    arbiter,
		tool:       tool,
		log:        log,
		deviceName: cfg.DeviceName,
		remoteRoot: cfg.RemoteRoot,
	}
	if w.deviceName == "" {
		w.deviceName = DefaultDeviceName
	}
	if cfg.SkipUnchanged {
		w.uploaded = NewUploadedTracker()
	}
	return w
}

// Handle applies a single event. It blocks until the transfer finishes and
// the serial port has been reopened. Failures are logged, not returned.
func (w *Worker) Handle(event fswatch.FileEvent) {
	if event.IsDir {
		return
	}

	switch event.Kind {
	case fswatch.Created, fswatch.Modified:
		w.upload(event)
	case fswatch.Deleted:
		w.remove(event)
	}
}

func (w *Worker) upload(event fswatch.FileEvent) {
	remotePath := transfer.RemotePath(w.remoteRoot, event.RelativePath)

	if w.uploaded != nil {
		hash, err := HashFile(event.AbsolutePath)
		if err == nil && w.uploaded.Unchanged(remotePath, hash) {
			w.log.WithField("path", event.RelativePath).Debug(
				"Skipping upload of unchanged file")
			return
		}
	}

	w.log.Infof("File modified/created: %s", event.RelativePath)

	// The file may be saved again while waiting for the port, so the hash
	// that's recorded is taken as late as possible before the copy.
	var hash string
	err := w.arbiter.Suspend(func() error {
		hash = w.hashForTracker(event)
		return w.tool.Transfer(event.AbsolutePath, remotePath)
	})
	if err != nil {
		w.log.Errorf("Error uploading %s: %s", event.RelativePath, err)
		return
	}

	if hash != "" {
		w.uploaded.Uploaded(remotePath, hash)
	}
	w.log.Infof("Uploaded %s to %s", event.RelativePath, w.deviceName)
}

// hashForTracker returns the file's current hash, or the empty string if
// unchanged uploads aren't being skipped or the file can't be read.
func (w *Worker) hashForTracker(event fswatch.FileEvent) string {
	if w.uploaded == nil {
		return ""
	}

	hash, err := HashFile(event.AbsolutePath)
	if err != nil {
		w.log.WithError(err).WithField("path", event.RelativePath).Debug(
			"Failed to hash file")
		return ""
	}
	return hash
}

func (w *Worker) remove(event fswatch.FileEvent) {
	remotePath := transfer.RemotePath(w.remoteRoot, event.RelativePath)

	w.log.Infof("File deleted: %s", event.RelativePath)
	err := w.arbiter.Suspend(func() error {
		return w.tool.Remove(remotePath)
	})
	if w.uploaded != nil {
		w.uploaded.Removed(remotePath)
	}
	if err != nil {
		w.log.Errorf("Error deleting %s: %s", event.RelativePath, err)
		return
	}
	w.log.Infof("Deleted %s from %s", event.RelativePath, w.deviceName)
}
