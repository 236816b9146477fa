package channel

import (
	goSync "sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/sidkik/serialsync/pkg/errors"
)

const (
	// DefaultSettleInterval is how long to wait after closing or opening the
	// port. USB-serial adapters re-enumerate when the port is released, so
	// the device isn't usable immediately.
	DefaultSettleInterval = time.Second

	// DefaultReopenAttempts is how many times Suspend tries to reopen the
	// port before giving up.
	DefaultReopenAttempts = 3
)

// Arbiter serializes all access to a Link. The terminal takes it briefly for
// each read or keystroke, while a file transfer holds it for the whole
// close-transfer-reopen cycle.
type Arbiter struct {
	mu   goSync.Mutex
	link Link

	settleInterval time.Duration
	reopenAttempts int
	clock          clockwork.Clock
	log            *logrus.Logger
}

// ArbiterOption configures optional Arbiter behavior.
type ArbiterOption func(*Arbiter)

// WithSettleInterval overrides DefaultSettleInterval.
func WithSettleInterval(d time.Duration) ArbiterOption {
	return func(a *Arbiter) {
		a.settleInterval = d
	}
}

// WithReopenAttempts overrides DefaultReopenAttempts.
func WithReopenAttempts(n int) ArbiterOption {
	return func(a *Arbiter) {
		if n > 0 {
			a.reopenAttempts = n
		}
	}
}

// WithClock sets the clock used to wait out the settle interval.
func WithClock(clock clockwork.Clock) ArbiterOption {
	return func(a *Arbiter) {
		a.clock = clock
	}
}

// NewArbiter creates an Arbiter that guards `link`.
func NewArbiter(log *logrus.Logger, link Link, opts ...ArbiterOption) *Arbiter {
	a := &Arbiter{
		link:           link,
		settleInterval: DefaultSettleInterval,
		reopenAttempts: DefaultReopenAttempts,
		clock:          clockwork.NewRealClock(),
		log:            log,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Open opens the link if it's closed.
func (a *Arbiter) Open() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.link.Open()
}

// Close closes the link if it's open.
func (a *Arbiter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.link.Close()
}

// Reconnect reopens the link if it's closed. Unlike Open, it waits out the
// settle interval after a successful reopen.
func (a *Arbiter) Reconnect() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.link.IsOpen() {
		return nil
	}
	if err := a.link.Open(); err != nil {
		return err
	}
	a.settle()
	return nil
}

// WithOpenChannel runs `fn` while holding the lock, but only if the link is
// open. It returns whether `fn` ran.
func (a *Arbiter) WithOpenChannel(fn func(Link) error) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.link.IsOpen() {
		return false, nil
	}
	return true, fn(a.link)
}

// Suspend closes the link, runs `fn`, and reopens the link, all while holding
// the lock. The link is reopened and the lock released no matter how `fn`
// exits. The error returned is `fn`'s.
func (a *Arbiter) Suspend(fn func() error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	defer a.restore()

	if a.link.IsOpen() {
		if err := a.link.Close(); err != nil {
			a.log.WithError(err).Warn("Failed to close serial port before transfer")
		}
		a.settle()
	}
	return fn()
}

// restore reopens the link after a Suspend. It must be called with the lock
// held. The link is only opened if it's closed because opening an open port
// twice fails on some platforms.
func (a *Arbiter) restore() {
	if a.link.IsOpen() {
		return
	}

	var err error
	for i := 0; i < a.reopenAttempts; i++ {
		if i > 0 {
			a.settle()
		}
		if err = a.link.Open(); err == nil {
			a.settle()
			return
		}
		a.log.WithError(err).WithField("attempt", i+1).Debug("Failed to reopen serial port")
	}
	a.log.WithError(errors.RootCause(err)).Error(
		"Failed to reopen serial port. Will keep retrying in the background.")
}

func (a *Arbiter) settle() {
	if a.settleInterval > 0 {
		a.clock.Sleep(a.settleInterval)
	}
}
