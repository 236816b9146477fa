package terminal

import (
	"io"
	"os"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/sidkik/serialsync/pkg/errors"
)

// Console is the local side of the terminal: the keyboard and the screen.
type Console interface {
	io.Writer

	// EnterCbreak switches the input into character-at-a-time mode with
	// echo disabled. The returned function restores the previous mode.
	EnterCbreak() (restore func() error, err error)

	// ReadKey waits up to `timeout` for a single byte of input. It returns
	// io.EOF once the input is exhausted or the terminal hangs up.
	ReadKey(timeout time.Duration) (key byte, ok bool, err error)
}

type fileConsole struct {
	in  *os.File
	out io.Writer
}

// NewConsole creates a Console that reads keys from `in` and displays output
// on `out`. `in` is usually os.Stdin.
func NewConsole(in *os.File, out io.Writer) Console {
	return fileConsole{in: in, out: out}
}

func (c fileConsole) Write(p []byte) (int, error) {
	return c.out.Write(p)
}

func (c fileConsole) EnterCbreak() (func() error, error) {
	fd := int(c.in.Fd())
	if !term.IsTerminal(fd) {
		// Input is piped, so there's no line discipline to change.
		return func() error { return nil }, nil
	}

	oldState, err := term.GetState(fd)
	if err != nil {
		return nil, errors.WithContext(err, "get terminal state")
	}

	termios, err := unix.IoctlGetTermios(fd, ioctlReadTermios)
	if err != nil {
		return nil, errors.WithContext(err, "get termios")
	}

	// Unlike raw mode, ISIG stays set so that Ctrl-C still interrupts us,
	// and output processing is left alone.
	termios.Lflag &^= unix.ICANON | unix.ECHO
	termios.Cc[unix.VMIN] = 1
	termios.Cc[unix.VTIME] = 0
	if err := unix.IoctlSetTermios(fd, ioctlWriteTermios, termios); err != nil {
		return nil, errors.WithContext(err, "set termios")
	}

	return func() error {
		return term.Restore(fd, oldState)
	}, nil
}

func (c fileConsole) ReadKey(timeout time.Duration) (byte, bool, error) {
	fd := int(c.in.Fd())
	pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	n, err := unix.Poll(pfd, int(timeout/time.Millisecond))
	if err == unix.EINTR {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.WithContext(err, "poll")
	}
	if n == 0 {
		return 0, false, nil
	}

	revents := pfd[0].Revents
	if revents&unix.POLLNVAL != 0 {
		return 0, false, io.EOF
	}
	if revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) == 0 {
		return 0, false, nil
	}

	// Buffered keys are still returned after a hangup. Once they're gone, a
	// terminal whose other end went away reports EIO.
	var buf [1]byte
	read, err := unix.Read(fd, buf[:])
	switch {
	case err == unix.EINTR || err == unix.EAGAIN:
		return 0, false, nil
	case err == unix.EIO:
		return 0, false, io.EOF
	case err != nil:
		return 0, false, errors.WithContext(err, "read")
	case read == 0:
		return 0, false, io.EOF
	}
	return buf[0], true, nil
}
