package version

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	goversion "github.com/hashicorp/go-version"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sidkik/serialsync/pkg/config"
	"github.com/sidkik/serialsync/pkg/transfer"
	"github.com/sidkik/serialsync/pkg/version"
)

// minToolVersion is the oldest mpremote release that serialsync is tested
// with.
var minToolVersion = goversion.Must(goversion.NewVersion("1.20.0"))

// Mocked for unit testing.
var (
	stdout          io.Writer = os.Stdout
	parseUserConfig           = config.ParseUser
	toolVersion               = toolVersionImpl
)

// New creates a new `version` command.
func New() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of serialsync and of the transfer tool.",
		Run: func(_ *cobra.Command, _ []string) {
			run()
		},
	}
}

func run() {
	fmt.Fprintf(stdout, "serialsync version: %s\n", version.Version)

	command := transfer.DefaultCommand
	if userConfig, err := parseUserConfig(); err == nil && len(userConfig.TransferCommand) != 0 {
		command = userConfig.TransferCommand
	} else if err != nil {
		log.WithError(err).Debug("Failed to read user config")
	}

	toolName := strings.Join(command, " ")
	v, err := toolVersion(command)
	if err != nil {
		log.WithError(err).Debug("Failed to get transfer tool version")
		fmt.Fprintf(stdout, "%s version: not installed\n", toolName)
		return
	}
	fmt.Fprintf(stdout, "%s version: %s\n", toolName, v)

	// Custom transfer commands may not report a parseable version.
	fields := strings.Fields(v)
	if len(fields) == 0 {
		return
	}
	parsed, err := goversion.NewVersion(fields[len(fields)-1])
	if err != nil {
		log.WithError(err).Debug("Failed to parse transfer tool version")
		return
	}
	if parsed.LessThan(minToolVersion) {
		fmt.Fprintf(stdout, "Warning: %s is older than %s, the oldest version "+
			"serialsync is tested with. Upgrade it with `pip install --upgrade mpremote`.\n",
			toolName, minToolVersion)
	}
}

func toolVersionImpl(command []string) (string, error) {
	args := append(append([]string{}, command[1:]...), "version")
	out, err := exec.Command(command[0], args...).Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
