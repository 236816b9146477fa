// Package transfer pushes files to and removes files from the board using an
// external tool. The tool opens the serial port itself, so callers must
// release the port first.
package transfer

//go:generate mockery -name Tool

import (
	"os/exec"
	"path"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/sidkik/serialsync/pkg/errors"
)

// Tool copies files to the board's filesystem.
type Tool interface {
	// Transfer copies the local file at `localPath` to `remotePath`.
	Transfer(localPath, remotePath string) error

	// Remove deletes `remotePath` from the board.
	Remove(remotePath string) error
}

// DefaultCommand is the command used to talk to the board.
var DefaultCommand = []string{"mpremote"}

// Mpremote implements Tool with MicroPython's `mpremote`.
type Mpremote struct {
	// Command is the tool to run. Extra elements are passed as arguments
	// before the subcommand, e.g. `python3 -m mpremote`.
	Command []string

	// Port is the serial device to connect to. If empty, mpremote picks the
	// first board it finds.
	Port string

	log *logrus.Logger
}

// NewMpremote creates an Mpremote tool. An empty `command` means
// DefaultCommand.
func NewMpremote(log *logrus.Logger, command []string, port string) Mpremote {
	if len(command) == 0 {
		command = DefaultCommand
	}
	return Mpremote{Command: command, Port: port, log: log}
}

// Mocked out for unit testing.
var runCommand = func(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).CombinedOutput()
}

// Transfer implements Tool.
func (m Mpremote) Transfer(localPath, remotePath string) error {
	return m.run("cp", remotePath, "fs", "cp", localPath, ":"+remotePath)
}

// Remove implements Tool.
func (m Mpremote) Remove(remotePath string) error {
	return m.run("rm", remotePath, "fs", "rm", ":"+remotePath)
}

func (m Mpremote) run(op, remotePath string, subcommand ...string) error {
	args := append([]string{}, m.Command[1:]...)
	if m.Port != "" {
		args = append(args, "connect", m.Port)
	}
	args = append(args, subcommand...)

	m.log.WithField("args", args).Debugf("Running %s", m.Command[0])
	out, err := runCommand(m.Command[0], args...)
	if err == nil {
		return nil
	}

	if _, ok := err.(*exec.ExitError); ok {
		return errors.TransferFailure{Op: op, Path: remotePath, Output: string(out)}
	}
	return errors.WithContext(err, "run "+m.Command[0])
}

// RemotePath converts a path relative to the synced directory into the path
// on the board. Boards always use forward slashes.
func RemotePath(remoteRoot, relativePath string) string {
	remote := filepath.ToSlash(relativePath)
	if remoteRoot != "" {
		remote = path.Join(strings.TrimSuffix(remoteRoot, "/"), remote)
	}
	return remote
}
