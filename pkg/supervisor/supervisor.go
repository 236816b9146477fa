// Package supervisor starts the terminal bridge and the file sync pipeline,
// and shuts them down in order.
package supervisor

import (
	"context"
	goSync "sync"

	"github.com/sirupsen/logrus"

	"github.com/sidkik/serialsync/pkg/channel"
	"github.com/sidkik/serialsync/pkg/errors"
	"github.com/sidkik/serialsync/pkg/fswatch"
)

// Bridge is the interactive terminal. Run returns once its context is
// cancelled, or earlier if it fails.
type Bridge interface {
	Run(ctx context.Context) error
}

// EventSource produces file events.
type EventSource interface {
	Start() error
	Events() <-chan fswatch.FileEvent
	Errors() <-chan error
	Close() error
}

// Handler applies file events to the board.
type Handler interface {
	Handle(event fswatch.FileEvent)
}

// Supervisor owns the goroutines of a session.
type Supervisor struct {
	arbiter *channel.Arbiter
	bridge  Bridge
	watcher EventSource
	handler Handler
	log     *logrus.Logger

	// mu protects the fields below, which are set during startup.
	mu           goSync.Mutex
	stopping     bool
	cancelBridge context.CancelFunc
	bridgeDone   chan struct{}
	bridgeErr    error
	watching     bool
	dispatchDone chan struct{}
	dispatchErr  error

	shutdownOnce goSync.Once
	quit         chan struct{}
	stopped      chan struct{}
}

// New creates a Supervisor.
func New(log *logrus.Logger, arbiter *channel.Arbiter, bridge Bridge,
	watcher EventSource, handler Handler) *Supervisor {
	return &Supervisor{
		arbiter: arbiter,
		bridge:  bridge,
		watcher: watcher,
		handler: handler,
		log:     log,
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Run opens the serial port, starts the terminal and the file watcher, and
// blocks until `ctx` is cancelled or one of them fails. Everything has been
// shut down by the time Run returns. Run returns nil after a cancellation.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.start(); err != nil {
		s.Shutdown()
		return err
	}

	s.mu.Lock()
	bridgeDone, dispatchDone := s.bridgeDone, s.dispatchDone
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		s.Shutdown()
		return nil

	case <-s.stopped:
		return nil

	case <-bridgeDone:
		if s.isStopping() {
			return nil
		}
		s.Shutdown()

		err := s.bridgeErr
		if err == nil {
			err = errors.New("terminal exited unexpectedly")
		}
		return errors.WithContext(err, "terminal")

	case <-dispatchDone:
		if s.isStopping() {
			return nil
		}
		s.Shutdown()

		err := s.dispatchErr
		if err == nil {
			err = errors.New("file watcher stopped unexpectedly")
		}
		return errors.WithContext(err, "sync")
	}
}

func (s *Supervisor) start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopping {
		return errors.New("already shut down")
	}

	if err := s.arbiter.Open(); err != nil {
		return err
	}

	bridgeCtx, cancel := context.WithCancel(context.Background())
	s.cancelBridge = cancel
	s.bridgeDone = make(chan struct{})
	go func() {
		defer close(s.bridgeDone)
		s.bridgeErr = s.bridge.Run(bridgeCtx)
	}()

	if err := s.watcher.Start(); err != nil {
		return errors.WithContext(err, "start file watcher")
	}
	s.watching = true

	s.dispatchDone = make(chan struct{})
	go func() {
		defer close(s.dispatchDone)
		s.dispatchErr = s.dispatch()
	}()
	return nil
}

// dispatch feeds file events to the handler one at a time until the
// watcher's event channel is closed or shutdown begins. Events still queued
// at shutdown are dropped.
func (s *Supervisor) dispatch() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("file sync panic: %v", r)
		}
	}()

	events, errs := s.watcher.Events(), s.watcher.Errors()
	for {
		select {
		case event, ok := <-events:
			if !ok {
				return nil
			}

			select {
			case <-s.quit:
				return nil
			default:
			}
			s.handler.Handle(event)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			s.log.WithError(err).Warn("File watcher error")
		case <-s.quit:
			return nil
		}
	}
}

// Shutdown stops the terminal, then stops the file sync after letting any
// in-flight transfer finish, and finally closes the serial port. It's safe
// to call multiple times and from multiple goroutines.
func (s *Supervisor) Shutdown() {
	s.shutdownOnce.Do(func() {
		defer close(s.stopped)

		s.mu.Lock()
		s.stopping = true
		close(s.quit)
		cancel, bridgeDone := s.cancelBridge, s.bridgeDone
		watching, dispatchDone := s.watching, s.dispatchDone
		s.mu.Unlock()

		if cancel != nil {
			cancel()
			<-bridgeDone
		}

		if watching {
			if err := s.watcher.Close(); err != nil {
				s.log.WithError(err).Warn("Failed to close file watcher")
			}
		}
		if dispatchDone != nil {
			<-dispatchDone
		}

		if err := s.arbiter.Close(); err != nil {
			s.log.WithError(err).Warn("Failed to close serial port")
		}
	})
}

func (s *Supervisor) isStopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopping
}
