// Package channel owns the single serial connection to the board and the
// lock that arbitrates access to it between the terminal and file syncing.
package channel

import (
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"go.bug.st/serial"

	"github.com/sidkik/serialsync/pkg/errors"
)

const (
	// DefaultBaudRate is the baud rate MicroPython boards use for the REPL.
	DefaultBaudRate = 115200

	// DefaultReadTimeout bounds how long a read waits for data.
	DefaultReadTimeout = 100 * time.Millisecond
)

// Link is the set of operations the rest of serialsync needs from a serial
// connection. Channel is the real implementation.
type Link interface {
	Open() error
	Close() error
	IsOpen() bool
	Read(p []byte) (int, error)
	ReadWithin(p []byte, wait time.Duration) (int, error)
	Write(p []byte) error
}

// Config describes how to open the serial port.
type Config struct {
	Port        string
	BaudRate    int
	ReadTimeout time.Duration
}

// Channel is a serial connection that can be closed and reopened. It is not
// safe for concurrent use; callers go through an Arbiter.
type Channel struct {
	config Config
	port   serial.Port
}

// Mocked out for unit testing.
var openPort = serial.Open

// New creates a closed Channel. Zero values in `config` are replaced with
// the defaults.
func New(config Config) *Channel {
	if config.BaudRate == 0 {
		config.BaudRate = DefaultBaudRate
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = DefaultReadTimeout
	}
	return &Channel{config: config}
}

// Port returns the path of the serial device.
func (c *Channel) Port() string {
	return c.config.Port
}

// IsOpen returns whether the OS handle is currently open.
func (c *Channel) IsOpen() bool {
	return c.port != nil
}

// Open opens the serial port. It's a no-op if the port is already open.
func (c *Channel) Open() error {
	if c.port != nil {
		return nil
	}

	port, err := openPort(c.config.Port, &serial.Mode{BaudRate: c.config.BaudRate})
	if err != nil {
		return portOpenError(c.config.Port, err)
	}

	if err := port.SetReadTimeout(c.config.ReadTimeout); err != nil {
		if closeErr := port.Close(); closeErr != nil {
			log.WithError(closeErr).Debug("Failed to close serial port")
		}
		return errors.WithContext(err, "set read timeout")
	}

	c.port = port
	return nil
}

// Close closes the serial port. It's a no-op if the port is already closed.
func (c *Channel) Close() error {
	if c.port == nil {
		return nil
	}

	// The handle is dropped even if Close fails so that the next Open
	// creates a fresh one rather than reusing a broken descriptor.
	port := c.port
	c.port = nil
	if err := port.Close(); err != nil {
		return errors.WithContext(err, "close port")
	}
	return nil
}

// Read reads whatever data is available, waiting at most the configured read
// timeout. It returns zero bytes if nothing arrived in time.
func (c *Channel) Read(p []byte) (int, error) {
	if c.port == nil {
		return 0, errors.ErrChannelClosed
	}
	return c.port.Read(p)
}

// ReadWithin is like Read, but waits at most `wait` for data to arrive. It's
// used to check for pending output without stalling on an idle device.
func (c *Channel) ReadWithin(p []byte, wait time.Duration) (int, error) {
	if c.port == nil {
		return 0, errors.ErrChannelClosed
	}

	if err := c.port.SetReadTimeout(wait); err != nil {
		return 0, errors.WithContext(err, "set read timeout")
	}
	n, err := c.port.Read(p)
	if resetErr := c.port.SetReadTimeout(c.config.ReadTimeout); resetErr != nil && err == nil {
		err = errors.WithContext(resetErr, "reset read timeout")
	}
	return n, err
}

// Write writes all of `p` to the serial port.
func (c *Channel) Write(p []byte) error {
	if c.port == nil {
		return errors.ErrChannelClosed
	}

	for len(p) > 0 {
		n, err := c.port.Write(p)
		if err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}

func portOpenError(port string, err error) error {
	if os.IsNotExist(err) {
		return errors.PortUnavailable{Port: port, Reason: "no such device"}
	}

	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		switch portErr.Code() {
		case serial.InvalidSpeed, serial.InvalidDataBits, serial.InvalidParity,
			serial.InvalidStopBits:
			// The port exists, but our settings are wrong.
			return errors.WithContext(err, "configure port")
		default:
			return errors.PortUnavailable{Port: port, Reason: portErr.Error()}
		}
	}

	if os.IsPermission(err) {
		return errors.PortUnavailable{Port: port, Reason: "permission denied"}
	}
	return errors.WithContext(err, "open port")
}
