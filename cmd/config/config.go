package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.bug.st/serial/enumerator"

	"github.com/sidkik/serialsync/cmd/util"
	"github.com/sidkik/serialsync/pkg/config"
	"github.com/sidkik/serialsync/pkg/errors"
)

// Mocked for unit testing.
var (
	stdout              io.Writer = os.Stdout
	stdin               io.Reader = os.Stdin
	guessDefaults                 = guessDefaultsImpl
	parseUserConfig               = config.ParseUser
	writeUserConfig               = config.WriteUser
	stat                          = os.Stat
	getWorkingDirectory           = os.Getwd
	listPorts                     = enumerator.GetDetailedPortsList
)

// New creates a new `config` command.
func New() *cobra.Command {
	var cliOpts config.User
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Setup the serialsync user configuration",
		Long: "Write the default serial port and directory for `serialsync watch`\n" +
			"to " + config.UserConfigPath + ". Other settings in the file are preserved.",
		Run: func(_ *cobra.Command, _ []string) {
			if err := SetupConfig(cliOpts); err != nil {
				err = errors.NewFriendlyError("Failed to setup configuration:\n%s", err)
				util.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().StringVarP(&cliOpts.Port, "port", "p", "",
		"Set the serial port in the config. "+
			"Optional: If not set, `serialsync config` will interactively prompt.")
	cmd.Flags().StringVarP(&cliOpts.Directory, "directory", "d", "",
		"Set the directory in the config. "+
			"Optional: If not set, `serialsync config` will interactively prompt.")
	cmd.Flags().StringVar(&cliOpts.DeviceName, "device-name", "",
		"Set the name of the board used in log messages.")

	// Setup the commands for querying the contents of the user config.
	type getterSpec struct {
		use, short string
		fn         func(config.User) string
	}

	getters := []getterSpec{
		{
			use:   "get-port",
			short: "Get the currently configured serial port",
			fn:    func(cfg config.User) string { return cfg.Port },
		},
		{
			use:   "get-directory",
			short: "Get the currently configured sync directory",
			fn:    func(cfg config.User) string { return cfg.Directory },
		},
	}
	for _, getter := range getters {
		getter := getter
		cmd.AddCommand(&cobra.Command{
			Use:   getter.use,
			Short: getter.short,
			Run: func(_ *cobra.Command, _ []string) {
				cfg, err := parseUserConfig()
				if err != nil {
					err = errors.WithContext(err, "read config")
					util.HandleFatalError(err)
				}

				fmt.Fprintln(stdout, getter.fn(cfg))
			},
		})
	}

	return cmd
}

// SetupConfig merges `cliOpts` and the user's answers into the existing user
// config, and writes it.
func SetupConfig(cliOpts config.User) error {
	cfg, err := generateConfig(cliOpts)
	if err != nil {
		return errors.WithContext(err, "generate config")
	}

	if err := writeUserConfig(cfg); err != nil {
		return errors.WithContext(err, "write config")
	}

	path, err := config.GetUserConfigPath()
	if err != nil {
		return errors.WithContext(err, "get user config path")
	}

	fmt.Fprintf(stdout, "Wrote config to %s\n", path)
	return nil
}

func directoryValidationFn(dir string) (string, bool) {
	expanded, err := homedir.Expand(dir)
	if err != nil {
		return fmt.Sprintf("Failed to expand %q: %s", dir, err), false
	}

	fi, err := stat(expanded)
	switch {
	case os.IsNotExist(err):
		return fmt.Sprintf("%q does not exist. Please pick another directory.", dir), false
	case err != nil:
		return fmt.Sprintf("Failed to access %q: %s", dir, err), false
	case !fi.IsDir():
		return fmt.Sprintf("%q is not a directory. Please pick another directory.", dir), false
	}
	return "", true
}

func portValidationFn(port string) (string, bool) {
	if port == "" {
		return "The serial port can't be empty. " +
			"Run `serialsync ports` to list the available ports.", false
	}
	return "", true
}

type prompt struct {
	helpString, prompt, defaultAnswer, currAnswer string
	field                                         *string
	validationFn                                  func(string) (string, bool)
}

// generateConfig interacts with the user to decide what the user's desired
// configuration is.
// It makes best guesses at reasonable defaults, and allows users to explicitly
// override them if desired. Fields that aren't prompted for are kept from
// the current config.
func generateConfig(cliOpts config.User) (config.User, error) {
	defaults := guessDefaults()
	currConfig, err := parseUserConfig()
	if err != nil {
		currConfig = config.User{}
		log.WithError(err).Debug("Failed to read current config")
	}

	cfg := currConfig
	cfg.Port = cliOpts.Port
	cfg.Directory = cliOpts.Directory
	if cliOpts.DeviceName != "" {
		cfg.DeviceName = cliOpts.DeviceName
	}

	var prompts []prompt
	if cliOpts.Port == "" {
		prompts = append(prompts, prompt{
			helpString: "Enter the serial port that the board is connected to.\n" +
				"It defaults to the first USB serial port.",
			prompt:        "Serial port",
			defaultAnswer: defaults.Port,
			currAnswer:    currConfig.Port,
			field:         &cfg.Port,
			validationFn:  portValidationFn,
		})
	}

	if cliOpts.Directory == "" {
		prompts = append(prompts, prompt{
			helpString: "Enter the directory to sync to the board.\n" +
				"It defaults to the current directory.",
			prompt:        "Directory",
			defaultAnswer: defaults.Directory,
			currAnswer:    currConfig.Directory,
			field:         &cfg.Directory,
			validationFn:  directoryValidationFn,
		})
	}

	for _, prompt := range prompts {
		var resp string
		for {
			resp, err = promptUser(prompt.helpString, prompt.prompt,
				prompt.defaultAnswer, prompt.currAnswer)
			if err != nil {
				return config.User{}, errors.WithContext(err, "read response")
			}

			if prompt.validationFn == nil {
				break
			}

			validationErr, ok := prompt.validationFn(resp)
			if ok {
				break
			}

			fmt.Fprintln(stdout, validationErr)
		}

		*prompt.field = resp
	}

	// Relative directories in the config are resolved against the config's
	// location, so store the directory the user meant.
	if cfg.Directory != "" && !filepath.IsAbs(cfg.Directory) &&
		!strings.HasPrefix(cfg.Directory, "~") {
		wd, err := getWorkingDirectory()
		if err != nil {
			return config.User{}, errors.WithContext(err, "get current directory")
		}
		cfg.Directory = filepath.Join(wd, cfg.Directory)
	}
	return cfg, nil
}

// guessDefaults tries to guess reasonable defaults for the fields in the user
// config.
func guessDefaultsImpl() (cfg config.User) {
	if port, err := guessPort(); err == nil {
		cfg.Port = port
	} else {
		log.WithError(err).Info("Failed to guess serial port")
	}

	if dir, err := getWorkingDirectory(); err == nil {
		cfg.Directory = dir
	} else {
		log.WithError(err).Info("Failed to guess directory")
	}

	return cfg
}

// guessPort returns the first USB serial port, since boards are almost
// always connected through a USB to UART bridge.
func guessPort() (string, error) {
	ports, err := listPorts()
	if err != nil {
		return "", errors.WithContext(err, "list serial ports")
	}

	for _, port := range ports {
		if port.IsUSB {
			return port.Name, nil
		}
	}
	return "", nil
}

func promptUser(helpString, prompt, defaultAnswer, currAnswer string) (string, error) {
	// Display a new line at the end to separate different fields to make it
	// look clearer.
	defer fmt.Fprintln(stdout)

	options := []string{}
	if defaultAnswer != "" {
		options = append(options, defaultAnswer)
	}
	if currAnswer != "" && currAnswer != defaultAnswer {
		options = append(options, currAnswer)
	}
	options = append(options, "(Enter manually)")

	fmt.Fprintln(stdout, helpString+"\n"+prompt+":")

	stdinReader := bufio.NewReader(stdin)

	if nOptions := len(options); nOptions > 1 {
		// defaultAnswer or currAnswer exists.
		fmt.Fprintln(stdout)
		for i, option := range options {
			if i == 0 {
				option = fmt.Sprintf("%s (recommended)", option)
			}
			fmt.Fprintf(stdout, "\t%d. %s\n", i+1, option)
		}
		fmt.Fprintln(stdout)

		for {
			fmt.Fprintf(stdout, "Please choose one [1-%d]: ", nOptions)
			choiceStr, err := stdinReader.ReadString('\n')
			if err != nil {
				return "", err
			}

			var choice int
			choiceStr = strings.TrimRight(choiceStr, "\n")

			// Default to the first choice if user doesn't enter anything.
			if choiceStr == "" {
				choice = 1
			} else {
				choice, err = strconv.Atoi(choiceStr)
				if err != nil || choice < 1 || choice > nOptions {
					// Try again if the input is invalid.
					continue
				}
			}

			if choice == nOptions {
				// Enter manually.
				break
			}

			return options[choice-1], nil
		}
	}

	fmt.Fprint(stdout, "Please enter manually: ")
	resp, err := stdinReader.ReadString('\n')
	if err != nil {
		return "", err
	}

	return strings.TrimRight(resp, "\n"), nil
}
