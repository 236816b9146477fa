package config

import (
	"path/filepath"

	"github.com/ghodss/yaml"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"

	"github.com/sidkik/serialsync/pkg/errors"
)

const (
	// UserConfigPath is the default path to the user config.
	UserConfigPath = "~/.serialsync.yaml"

	// InitialUserConfigVersion is the first version of the user config.
	// Config files that do not specify a version will default to this
	// version.
	InitialUserConfigVersion = "v1alpha1"

	// SupportedUserConfigVersion is the supported version of the user config
	// of the current binary.
	SupportedUserConfigVersion = "v1alpha1"
)

// User contains the defaults for `serialsync watch`. Every field is optional,
// and command line flags take precedence.
type User struct {
	Version string `json:"version,omitempty"`

	// Port is the serial device of the board, such as /dev/ttyUSB0.
	Port string `json:"port,omitempty"`

	// Directory is the local directory that's synced to the board.
	Directory string `json:"directory,omitempty"`

	BaudRate          int       `json:"baudRate,omitempty"`
	ReadTimeout       *Duration `json:"readTimeout,omitempty"`
	SettleInterval    *Duration `json:"settleInterval,omitempty"`
	ReconnectInterval *Duration `json:"reconnectInterval,omitempty"`

	// DeviceName is how the board is referred to in log messages.
	DeviceName string `json:"deviceName,omitempty"`

	// TransferCommand is the command used to copy files to the board. It
	// must accept mpremote's `fs cp` and `fs rm` arguments.
	TransferCommand []string `json:"transferCommand,omitempty"`

	// ConnectPort controls whether the serial port is passed to the transfer
	// command. Defaults to true.
	ConnectPort *bool `json:"connectPort,omitempty"`

	// RemoteRoot is the directory on the board that Directory maps to.
	RemoteRoot string `json:"remoteRoot,omitempty"`

	// Ignore contains patterns for paths that shouldn't be synced, in
	// addition to the defaults.
	Ignore []string `json:"ignore,omitempty"`

	// SkipUnchanged skips uploading files whose contents haven't changed
	// since they were last uploaded.
	SkipUnchanged bool `json:"skipUnchanged,omitempty"`
}

func (u User) getVersion() string {
	return u.Version
}

// ShouldConnectPort returns whether the serial port should be passed to the
// transfer command.
func (u User) ShouldConnectPort() bool {
	return u.ConnectPort == nil || *u.ConnectPort
}

// Validate checks the values that can't be checked while parsing.
func (u User) Validate() error {
	if u.BaudRate < 0 {
		return errors.NewFriendlyError("baudRate must be positive, but got %d.", u.BaudRate)
	}
	if u.TransferCommand != nil && len(u.TransferCommand) == 0 {
		return errors.NewFriendlyError("transferCommand can't be empty.")
	}
	return nil
}

// homedirExpand will be overridden in mock tests
var homedirExpand = homedir.Expand

// ParseUser attempts to parse the User stored in the default path. A missing
// file isn't an error because every field has a default.
func ParseUser() (User, error) {
	path, err := GetUserConfigPath()
	if err != nil {
		return User{}, errors.WithContext(err, "expand config path")
	}

	config := User{Version: InitialUserConfigVersion}
	if err := loadVersioned(path, &config, SupportedUserConfigVersion); err != nil {
		if _, ok := err.(errors.FileNotFound); ok {
			return User{Version: SupportedUserConfigVersion}, nil
		}
		return User{}, errors.WithContext(err, "parse")
	}

	if err := config.Validate(); err != nil {
		return User{}, err
	}

	config.Directory, err = homedir.Expand(config.Directory)
	if err != nil {
		return User{}, errors.WithContext(err, "expand directory path")
	}

	// Evaluate relative paths relative to the config path.
	if config.Directory != "" && !filepath.IsAbs(config.Directory) {
		config.Directory = filepath.Join(filepath.Dir(path), config.Directory)
	}
	return config, nil
}

// WriteUser writes the given user config to disk.
func WriteUser(cfg User) error {
	cfg.Version = SupportedUserConfigVersion
	path, err := GetUserConfigPath()
	if err != nil {
		return errors.WithContext(err, "expand config path")
	}

	yamlBytes, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.WithContext(err, "marshal")
	}

	if err := afero.WriteFile(fs, path, yamlBytes, 0644); err != nil {
		return errors.WithContext(err, "write")
	}
	return nil
}

// GetUserConfigPath returns the path to the user's configuration. This path
// is expanded, so it can be directly passed to file operations.
func GetUserConfigPath() (string, error) {
	return homedirExpand(UserConfigPath)
}
