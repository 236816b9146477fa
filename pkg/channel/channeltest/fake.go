// Package channeltest provides an in-memory channel.Link for tests. It
// records every operation and counts accesses that would be bugs on real
// hardware: I/O on a closed port, opening an open port, and overlapping calls.
package channeltest

import (
	goSync "sync"
	"sync/atomic"
	"time"

	"github.com/sidkik/serialsync/pkg/errors"
)

// Link is a fake channel.Link.
type Link struct {
	mu goSync.Mutex

	open    bool
	ops     []string
	written []byte
	inbound [][]byte

	// OpenErrs are returned by successive calls to Open. Once exhausted,
	// Open succeeds.
	OpenErrs []error
	ReadErr  error
	WriteErr error

	// OnClose, if set, runs after the link is closed.
	OnClose func()

	active      int32
	closedIO    int32
	doubleOpens int32
	overlapping int32
}

// NewLink creates a closed fake link.
func NewLink() *Link {
	return &Link{}
}

// NewOpenLink creates an open fake link.
func NewOpenLink() *Link {
	return &Link{open: true}
}

func (l *Link) enter() func() {
	if atomic.AddInt32(&l.active, 1) > 1 {
		atomic.AddInt32(&l.overlapping, 1)
	}
	return func() { atomic.AddInt32(&l.active, -1) }
}

// Open implements channel.Link.
func (l *Link) Open() error {
	defer l.enter()()
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.open {
		atomic.AddInt32(&l.doubleOpens, 1)
	}
	if len(l.OpenErrs) > 0 {
		err := l.OpenErrs[0]
		l.OpenErrs = l.OpenErrs[1:]
		if err != nil {
			l.ops = append(l.ops, "open-failed")
			return err
		}
	}
	l.open = true
	l.ops = append(l.ops, "open")
	return nil
}

// Close implements channel.Link.
func (l *Link) Close() error {
	defer l.enter()()
	l.mu.Lock()
	wasOpen := l.open
	l.open = false
	if wasOpen {
		l.ops = append(l.ops, "close")
	}
	onClose := l.OnClose
	l.mu.Unlock()

	if wasOpen && onClose != nil {
		onClose()
	}
	return nil
}

// IsOpen implements channel.Link.
func (l *Link) IsOpen() bool {
	defer l.enter()()
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.open
}

// Read implements channel.Link. It returns queued inbound data one chunk at
// a time.
func (l *Link) Read(p []byte) (int, error) {
	defer l.enter()()
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.open {
		atomic.AddInt32(&l.closedIO, 1)
		return 0, errors.ErrChannelClosed
	}
	if l.ReadErr != nil {
		err := l.ReadErr
		l.ReadErr = nil
		return 0, err
	}
	if len(l.inbound) == 0 {
		return 0, nil
	}

	chunk := l.inbound[0]
	n := copy(p, chunk)
	if n < len(chunk) {
		l.inbound[0] = chunk[n:]
	} else {
		l.inbound = l.inbound[1:]
	}
	l.ops = append(l.ops, "read:"+string(p[:n]))
	return n, nil
}

// ReadWithin implements channel.Link. The fake never blocks, so it's the same
// as Read.
func (l *Link) ReadWithin(p []byte, _ time.Duration) (int, error) {
	return l.Read(p)
}

// Write implements channel.Link.
func (l *Link) Write(p []byte) error {
	defer l.enter()()
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.open {
		atomic.AddInt32(&l.closedIO, 1)
		return errors.ErrChannelClosed
	}
	if l.WriteErr != nil {
		err := l.WriteErr
		l.WriteErr = nil
		return err
	}
	l.written = append(l.written, p...)
	l.ops = append(l.ops, "write:"+string(p))
	return nil
}

// QueueInbound makes `data` available to the next Read.
func (l *Link) QueueInbound(data string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inbound = append(l.inbound, []byte(data))
}

// SetOpen forces the open state without recording an operation.
func (l *Link) SetOpen(open bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.open = open
}

// Opened returns the open state without counting as an access.
func (l *Link) Opened() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.open
}

// Ops returns the operations recorded so far.
func (l *Link) Ops() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.ops...)
}

// Written returns every byte written so far.
func (l *Link) Written() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return string(l.written)
}

// ClosedIO returns the number of reads and writes attempted while closed.
func (l *Link) ClosedIO() int {
	return int(atomic.LoadInt32(&l.closedIO))
}

// DoubleOpens returns the number of times Open was called on an open link.
func (l *Link) DoubleOpens() int {
	return int(atomic.LoadInt32(&l.doubleOpens))
}

// Overlapping returns the number of calls that started while another call
// was in progress.
func (l *Link) Overlapping() int {
	return int(atomic.LoadInt32(&l.overlapping))
}
