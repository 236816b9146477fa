package ports

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.bug.st/serial/enumerator"

	"github.com/sidkik/serialsync/cmd/util"
	"github.com/sidkik/serialsync/pkg/errors"
)

// Mocked for unit testing.
var (
	stdout    io.Writer = os.Stdout
	listPorts           = enumerator.GetDetailedPortsList
)

// New creates a new `ports` command.
func New() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List the serial ports that boards can be connected to",
		Run: func(_ *cobra.Command, _ []string) {
			if err := run(); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
}

func run() error {
	ports, err := listPorts()
	if err != nil {
		return errors.WithContext(err, "list serial ports")
	}

	if len(ports) == 0 {
		fmt.Fprintln(stdout, "No serial ports found. Is the board plugged in?")
		return nil
	}

	for _, port := range ports {
		fmt.Fprintln(stdout, describe(port))
	}
	return nil
}

func describe(port *enumerator.PortDetails) string {
	if !port.IsUSB {
		return port.Name
	}

	details := []string{fmt.Sprintf("USB %s:%s", port.VID, port.PID)}
	if port.Product != "" {
		details = append(details, port.Product)
	}
	if port.SerialNumber != "" {
		details = append(details, "serial "+port.SerialNumber)
	}
	return fmt.Sprintf("%s\t(%s)", port.Name, strings.Join(details, ", "))
}
