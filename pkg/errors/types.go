package errors

import (
	"fmt"
	"strings"
)

// ErrChannelClosed is returned when reading from or writing to a serial
// channel that isn't open.
var ErrChannelClosed = New("serial channel is closed")

// FileNotFound represents when we were unable to access a file
// because the path didn't exist.
type FileNotFound struct {
	Path string
}

func (err FileNotFound) Error() string {
	return fmt.Sprintf("%q does not exist", err.Path)
}

// PortUnavailable is returned when a serial port can't be opened, either
// because the device node is missing or because another process holds it.
type PortUnavailable struct {
	Port   string
	Reason string
}

func (err PortUnavailable) Error() string {
	return fmt.Sprintf("serial port %s is unavailable: %s", err.Port, err.Reason)
}

// FriendlyMessage implements the interface used by GetFriendlyMessage.
func (err PortUnavailable) FriendlyMessage() string {
	return fmt.Sprintf("Failed to open serial port %s (%s).\n"+
		"Is the board plugged in, and is no other program (e.g. a serial "+
		"monitor) connected to it?", err.Port, err.Reason)
}

// TransferFailure is returned when the transfer tool exits unsuccessfully.
// Output holds the diagnostic printed by the tool.
type TransferFailure struct {
	Op     string
	Path   string
	Output string
}

func (err TransferFailure) Error() string {
	output := strings.TrimSpace(err.Output)
	if output == "" {
		return fmt.Sprintf("%s %s failed", err.Op, err.Path)
	}
	return output
}
