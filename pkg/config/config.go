package config

import (
	"fmt"
	"os"

	"github.com/ghodss/yaml"
	"github.com/spf13/afero"

	"github.com/sidkik/serialsync/pkg/errors"
)

// invalidYAMLTemplate is shown when a settings file can't be decoded. The
// parser's own message is included as-is since it doesn't say which line of
// the file was at fault.
const invalidYAMLTemplate = "Failed to read the settings in %q.\n" +
	"Check that every setting is spelled correctly and has a value of the " +
	"right type, or run `serialsync config` to rewrite the file.\n\n" +
	"Parser error: %s"

// versioned is implemented by settings files that record the format they
// were written in.
type versioned interface {
	getVersion() string
}

// versionMismatchError means a settings file was written by a newer or older
// release of serialsync than the one running.
type versionMismatchError struct {
	path, want, got string
}

func (err versionMismatchError) Error() string {
	return err.FriendlyMessage()
}

func (err versionMismatchError) FriendlyMessage() string {
	return fmt.Sprintf("%q uses settings format %q, but this release of "+
		"serialsync only reads format %q.\n"+
		"Run `serialsync config` to rewrite it.", err.path, err.got, err.want)
}

// loadVersioned decodes the YAML file at `path` into `dst`. A version
// mismatch is reported in preference to unknown keys, since a file from
// another release usually has both.
func loadVersioned(path string, dst versioned, wantVersion string) error {
	contents, err := afero.ReadFile(fs, path)
	switch {
	case os.IsNotExist(err):
		return errors.FileNotFound{Path: path}
	case err != nil:
		return errors.WithContext(err, "read file")
	}

	if err := yaml.Unmarshal(contents, dst); err != nil {
		return errors.NewFriendlyError(invalidYAMLTemplate, path, err)
	}

	if got := dst.getVersion(); got != wantVersion {
		return versionMismatchError{path: path, want: wantVersion, got: got}
	}

	if err := yaml.UnmarshalStrict(contents, dst, yaml.DisallowUnknownFields); err != nil {
		return errors.NewFriendlyError(invalidYAMLTemplate, path, err)
	}
	return nil
}
