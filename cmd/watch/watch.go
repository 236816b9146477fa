package watch

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/buger/goterm"
	homedir "github.com/mitchellh/go-homedir"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sidkik/serialsync/cmd/util"
	"github.com/sidkik/serialsync/pkg/channel"
	"github.com/sidkik/serialsync/pkg/config"
	"github.com/sidkik/serialsync/pkg/errors"
	"github.com/sidkik/serialsync/pkg/fswatch"
	"github.com/sidkik/serialsync/pkg/supervisor"
	"github.com/sidkik/serialsync/pkg/sync"
	"github.com/sidkik/serialsync/pkg/terminal"
	"github.com/sidkik/serialsync/pkg/transfer"
)

// Mocked for unit testing.
var (
	stdout          io.Writer = os.Stdout
	parseUserConfig           = config.ParseUser
)

// cliOptions are the flags passed to `watch`. Empty values fall back to the
// user config.
type cliOptions struct {
	directory     string
	port          string
	deviceName    string
	baudRate      int
	skipUnchanged bool
}

// settings is the resolved configuration of a session.
type settings struct {
	directory         string
	channel           channel.Config
	settleInterval    time.Duration
	reconnectInterval time.Duration
	transferCommand   []string
	transferPort      string
	ignore            []string
	sync              sync.Config
}

// New creates a new `watch` command.
func New() *cobra.Command {
	var opts cliOptions
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Sync a directory to a board and open a terminal to it",
		Long: `Watch a directory and upload every changed file to a MicroPython board,
while keeping an interactive terminal open on the board's serial port.

The terminal is paused while a file is uploaded. Press Ctrl-C to exit.`,
		Run: func(_ *cobra.Command, _ []string) {
			userConfig, err := parseUserConfig()
			if err != nil {
				util.HandleFatalError(errors.WithContext(err, "parse user config"))
			}

			s, err := resolveSettings(opts, userConfig)
			if err != nil {
				util.HandleFatalError(err)
			}

			ctx, cancel := signal.NotifyContext(context.Background(),
				os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := run(ctx, s); err != nil {
				util.HandleFatalError(err)
			}
		},
	}

	cmd.Flags().StringVarP(&opts.directory, "directory", "d", "",
		"The local directory to sync. Defaults to `directory` in the user config.")
	cmd.Flags().StringVarP(&opts.port, "port", "p", "",
		"The serial port of the board, such as /dev/ttyUSB0. "+
			"Defaults to `port` in the user config.")
	cmd.Flags().StringVar(&opts.deviceName, "device-name", "",
		"The name of the board in log messages.")
	cmd.Flags().IntVar(&opts.baudRate, "baud", 0,
		fmt.Sprintf("The baud rate of the serial port. Defaults to %d.", channel.DefaultBaudRate))
	cmd.Flags().BoolVar(&opts.skipUnchanged, "skip-unchanged", false,
		"Don't upload files whose contents haven't changed since the last upload.")
	return cmd
}

// resolveSettings merges the command line flags with the user config. Flags
// take precedence.
func resolveSettings(opts cliOptions, userConfig config.User) (settings, error) {
	s := settings{
		directory: pick(opts.directory, userConfig.Directory),
		channel: channel.Config{
			Port:     pick(opts.port, userConfig.Port),
			BaudRate: userConfig.BaudRate,
		},
		settleInterval:    channel.DefaultSettleInterval,
		reconnectInterval: terminal.DefaultReconnectInterval,
		transferCommand:   userConfig.TransferCommand,
		ignore:            append(append([]string{}, fswatch.DefaultIgnore...), userConfig.Ignore...),
		sync: sync.Config{
			DeviceName:    pick(opts.deviceName, userConfig.DeviceName),
			RemoteRoot:    userConfig.RemoteRoot,
			SkipUnchanged: opts.skipUnchanged || userConfig.SkipUnchanged,
		},
	}

	if s.channel.Port == "" {
		return settings{}, errors.NewFriendlyError("A serial port is required. "+
			"Set it with --port, or with `port` in %s.\n"+
			"Run `serialsync ports` to list the available ports.", config.UserConfigPath)
	}
	if s.directory == "" {
		return settings{}, errors.NewFriendlyError("A directory to sync is required. "+
			"Set it with --directory, or with `directory` in %s.", config.UserConfigPath)
	}

	if opts.baudRate < 0 {
		return settings{}, errors.NewFriendlyError("--baud must be positive, but got %d.", opts.baudRate)
	}
	if opts.baudRate != 0 {
		s.channel.BaudRate = opts.baudRate
	}

	if userConfig.ReadTimeout != nil {
		s.channel.ReadTimeout = userConfig.ReadTimeout.Duration
	}
	if userConfig.SettleInterval != nil {
		s.settleInterval = userConfig.SettleInterval.Duration
	}
	if userConfig.ReconnectInterval != nil {
		s.reconnectInterval = userConfig.ReconnectInterval.Duration
	}
	if userConfig.ShouldConnectPort() {
		s.transferPort = s.channel.Port
	}

	dir, err := homedir.Expand(s.directory)
	if err != nil {
		return settings{}, errors.WithContext(err, "expand directory path")
	}
	s.directory, err = filepath.Abs(dir)
	if err != nil {
		return settings{}, errors.WithContext(err, "get absolute path")
	}
	return s, nil
}

func pick(flag, fallback string) string {
	if flag != "" {
		return flag
	}
	return fallback
}

// newLogger creates the logger for the session. It writes to stdout rather
// than stderr so that upload messages are interleaved with the board's
// output in the order they happened.
func newLogger() *log.Logger {
	logger := log.New()
	logger.SetOutput(stdout)
	logger.SetLevel(log.GetLevel())
	logger.SetFormatter(&log.TextFormatter{
		ForceColors:     true,
		FullTimestamp:   true,
		TimestampFormat: time.Kitchen,
	})
	return logger
}

func run(ctx context.Context, s settings) error {
	logger := newLogger()

	watcher, err := fswatch.New(logger, s.directory, s.ignore)
	if err != nil {
		if notFound, ok := errors.RootCause(err).(errors.FileNotFound); ok {
			return errors.NewFriendlyError("The directory %q does not exist.", notFound.Path)
		}
		return errors.WithContext(err, "create file watcher")
	}

	arbiter := channel.NewArbiter(logger, channel.New(s.channel),
		channel.WithSettleInterval(s.settleInterval))
	tool := transfer.NewMpremote(logger, s.transferCommand, s.transferPort)
	worker := sync.NewWorker(logger, arbiter, tool, s.sync)
	bridge := terminal.New(logger, arbiter, terminal.NewConsole(os.Stdin, os.Stdout),
		terminal.WithReconnectInterval(s.reconnectInterval))

	printBanner(s, watcher.Root())
	sup := supervisor.New(logger, arbiter, bridge, watcher, worker)
	if err := sup.Run(ctx); err != nil {
		return err
	}

	fmt.Fprintln(stdout, goterm.Color("\nStopped.", goterm.YELLOW))
	return nil
}

func printBanner(s settings, root string) {
	fmt.Fprintln(stdout, goterm.Color(fmt.Sprintf("Watching %s", root), goterm.GREEN))
	fmt.Fprintln(stdout, goterm.Color(fmt.Sprintf(
		"Connected to %s at %d baud. Press Ctrl-C to exit.",
		s.channel.Port, baudRate(s.channel)), goterm.GREEN))
}

func baudRate(cfg channel.Config) int {
	if cfg.BaudRate == 0 {
		return channel.DefaultBaudRate
	}
	return cfg.BaudRate
}
