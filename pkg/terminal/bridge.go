// Package terminal connects the local keyboard and screen to the board's
// serial console.
package terminal

import (
	"context"
	"io"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/sidkik/serialsync/pkg/channel"
	"github.com/sidkik/serialsync/pkg/errors"
)

const (
	// DefaultKeyPollTimeout bounds how long each loop iteration waits for a
	// keystroke.
	DefaultKeyPollTimeout = 10 * time.Millisecond

	// DefaultDrainTimeout bounds how long each loop iteration waits for
	// serial output. Pending output is returned immediately.
	DefaultDrainTimeout = 5 * time.Millisecond

	// DefaultReconnectInterval is the minimum time between attempts to reopen
	// a serial port that was lost outside of a file transfer.
	DefaultReconnectInterval = time.Second

	readBufferSize = 4096

	// maxKeyBatch caps how many buffered keystrokes are forwarded under one
	// hold of the port, so a large paste doesn't starve serial output.
	maxKeyBatch = 256
)

// Bridge copies serial output to the console and keystrokes to the serial
// port. Every access to the port goes through the arbiter, so file transfers
// can take the port away between iterations.
type Bridge struct {
	arbiter *channel.Arbiter
	console Console
	log     *logrus.Logger
	clock   clockwork.Clock

	keyPollTimeout    time.Duration
	drainTimeout      time.Duration
	reconnectInterval time.Duration

	readBuf       []byte
	inputClosed   bool
	disconnected  bool
	lastReconnect time.Time
}

// Option configures optional Bridge behavior.
type Option func(*Bridge)

// WithKeyPollTimeout overrides DefaultKeyPollTimeout.
func WithKeyPollTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		b.keyPollTimeout = d
	}
}

// WithReconnectInterval overrides DefaultReconnectInterval.
func WithReconnectInterval(d time.Duration) Option {
	return func(b *Bridge) {
		b.reconnectInterval = d
	}
}

// WithClock sets the clock used to pace reconnect attempts.
func WithClock(clock clockwork.Clock) Option {
	return func(b *Bridge) {
		b.clock = clock
	}
}

// New creates a Bridge.
func New(log *logrus.Logger, arbiter *channel.Arbiter, console Console, opts ...Option) *Bridge {
	b := &Bridge{
		arbiter:           arbiter,
		console:           console,
		log:               log,
		clock:             clockwork.NewRealClock(),
		keyPollTimeout:    DefaultKeyPollTimeout,
		drainTimeout:      DefaultDrainTimeout,
		reconnectInterval: DefaultReconnectInterval,
		readBuf:           make([]byte, readBufferSize),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run forwards data until `ctx` is cancelled. The console is kept in cbreak
// mode while Run executes. When Run returns, the console mode has been
// restored and the serial port closed, regardless of how it exited.
func (b *Bridge) Run(ctx context.Context) (err error) {
	defer func() {
		if closeErr := b.arbiter.Close(); closeErr != nil {
			b.log.WithError(closeErr).Warn("Failed to close serial port")
		}
	}()

	restore, err := b.console.EnterCbreak()
	if err != nil {
		return errors.WithContext(err, "enter cbreak mode")
	}

	defer func() {
		if r := recover(); r != nil {
			err = errors.New("terminal bridge panic: %v", r)
		}
		if restoreErr := restore(); restoreErr != nil {
			b.log.WithError(restoreErr).Warn("Failed to restore terminal mode")
		}
	}()

	for ctx.Err() == nil {
		if connected := b.drainSerial(); !connected {
			b.reconnect()
		}
		b.forwardKeys()
	}
	return nil
}

// drainSerial displays any pending serial output. It returns false if the
// port was closed.
func (b *Bridge) drainSerial() bool {
	var n int
	ran, err := b.arbiter.WithOpenChannel(func(link channel.Link) error {
		var err error
		n, err = link.ReadWithin(b.readBuf, b.drainTimeout)
		if err != nil {
			closeAfterError(link)
		}
		return err
	})

	if n > 0 {
		if _, err := b.console.Write(b.readBuf[:n]); err != nil {
			b.log.WithError(err).Warn("Failed to display serial output")
		}
	}
	if err != nil {
		b.log.WithError(err).Error("Serial read error")
		return false
	}
	return ran
}

// forwardKeys sends every keystroke that's already buffered to the serial
// port under a single hold, waiting at most the key poll timeout for the
// first one.
func (b *Bridge) forwardKeys() {
	if b.inputClosed {
		b.clock.Sleep(b.keyPollTimeout)
		return
	}

	keys := b.readKeys()
	if len(keys) == 0 {
		return
	}

	var sent int
	_, err := b.arbiter.WithOpenChannel(func(link channel.Link) error {
		for _, key := range keys {
			if err := link.Write([]byte{key}); err != nil {
				closeAfterError(link)
				return err
			}

			// MicroPython's REPL expects a carriage return to end a line.
			if key == '\n' {
				if err := link.Write([]byte{'\r'}); err != nil {
					closeAfterError(link)
					return err
				}
			}
			sent++
		}
		return nil
	})
	if err != nil {
		b.log.WithError(err).Error("Serial write error")
	}
	if dropped := len(keys) - sent; dropped > 0 {
		b.log.WithField("count", dropped).Debug(
			"Dropped keystrokes because the serial port is closed")
	}
}

// readKeys returns the buffered keystrokes, waiting at most the key poll
// timeout for the first one.
func (b *Bridge) readKeys() []byte {
	var keys []byte
	timeout := b.keyPollTimeout
	for len(keys) < maxKeyBatch {
		key, ok, err := b.console.ReadKey(timeout)
		if err == io.EOF {
			b.log.Debug("Console input closed. Keystrokes will no longer be forwarded.")
			b.inputClosed = true
			return keys
		}
		if err != nil {
			b.log.WithError(err).Warn("Failed to read keyboard input")
			if len(keys) == 0 {
				b.clock.Sleep(b.keyPollTimeout)
			}
			return keys
		}
		if !ok {
			return keys
		}

		keys = append(keys, key)
		timeout = 0
	}
	return keys
}

// reconnect tries to reopen a serial port that was lost outside of a
// transfer, at most once per reconnect interval.
func (b *Bridge) reconnect() {
	now := b.clock.Now()
	if !b.lastReconnect.IsZero() && now.Sub(b.lastReconnect) < b.reconnectInterval {
		return
	}
	b.lastReconnect = now

	if !b.disconnected {
		b.log.Warn("Lost connection to the board. Reconnecting..")
		b.disconnected = true
	}

	if err := b.arbiter.Reconnect(); err != nil {
		b.log.WithError(err).Debug("Failed to reconnect")
		return
	}
	b.log.Info("Reconnected to the board")
	b.disconnected = false
	b.lastReconnect = time.Time{}
}

// closeAfterError closes the link after an I/O error so that the port is
// reopened from scratch.
func closeAfterError(link channel.Link) {
	if err := link.Close(); err != nil {
		logrus.WithError(err).Debug("Failed to close serial port after error")
	}
}
