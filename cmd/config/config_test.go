package config

import (
	"bytes"
	"fmt"
	"io"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"go.bug.st/serial/enumerator"

	"github.com/sidkik/serialsync/pkg/config"
	"github.com/sidkik/serialsync/pkg/errors"
)

func TestPromptUser(t *testing.T) {
	tests := []struct {
		name                                                 string
		helpString, prompt, defaultAnswer, currAnswer, stdin string
		expPrompt, expResult                                 string
	}{
		{
			name:          "No default or current answer",
			helpString:    "explanation",
			prompt:        "prompt",
			defaultAnswer: "",
			currAnswer:    "",
			stdin:         "user input\n",
			expPrompt: "explanation\n" +
				"prompt:\n" +
				"Please enter manually: \n",
			expResult: "user input",
		},
		{
			name:          "No default answer only, chose current answer",
			helpString:    "different explanation",
			prompt:        "different prompt",
			defaultAnswer: "",
			currAnswer:    "current answer",
			stdin:         "1\n",
			expPrompt: "different explanation\n" +
				"different prompt:\n" +
				"\n" +
				"\t1. current answer (recommended)\n" +
				"\t2. (Enter manually)\n" +
				"\n" +
				"Please choose one [1-2]: \n",
			expResult: "current answer",
		},
		{
			name:          "No default answer only, enter manually",
			helpString:    "different explanation",
			prompt:        "different prompt",
			defaultAnswer: "",
			currAnswer:    "current answer",
			stdin: "2\n" +
				"user input\n",
			expPrompt: "different explanation\n" +
				"different prompt:\n" +
				"\n" +
				"\t1. current answer (recommended)\n" +
				"\t2. (Enter manually)\n" +
				"\n" +
				"Please choose one [1-2]: " +
				"Please enter manually: \n",
			expResult: "user input",
		},
		{
			name:          "No current answer only, chose default answer",
			helpString:    "different explanation",
			prompt:        "different prompt",
			defaultAnswer: "default answer",
			currAnswer:    "",
			stdin:         "1\n",
			expPrompt: "different explanation\n" +
				"different prompt:\n" +
				"\n" +
				"\t1. default answer (recommended)\n" +
				"\t2. (Enter manually)\n" +
				"\n" +
				"Please choose one [1-2]: \n",
			expResult: "default answer",
		},
		{
			name:          "No current answer only, enter manually",
			helpString:    "different explanation",
			prompt:        "different prompt",
			defaultAnswer: "default answer",
			currAnswer:    "",
			stdin: "2\n" +
				"user input\n",
			expPrompt: "different explanation\n" +
				"different prompt:\n" +
				"\n" +
				"\t1. default answer (recommended)\n" +
				"\t2. (Enter manually)\n" +
				"\n" +
				"Please choose one [1-2]: " +
				"Please enter manually: \n",
			expResult: "user input",
		},
		{
			name:          "Same default answer and current answer, chose default answer",
			helpString:    "different explanation",
			prompt:        "different prompt",
			defaultAnswer: "default answer",
			currAnswer:    "default answer",
			stdin:         "1\n",
			expPrompt: "different explanation\n" +
				"different prompt:\n" +
				"\n" +
				"\t1. default answer (recommended)\n" +
				"\t2. (Enter manually)\n" +
				"\n" +
				"Please choose one [1-2]: \n",
			expResult: "default answer",
		},
		{
			name:          "Same default answer and current answer, enter manually",
			helpString:    "different explanation",
			prompt:        "different prompt",
			defaultAnswer: "default answer",
			currAnswer:    "default answer",
			stdin: "2\n" +
				"user input",
			expPrompt: "different explanation\n" +
				"different prompt:\n" +
				"\n" +
				"\t1. default answer (recommended)\n" +
				"\t2. (Enter manually)\n" +
				"\n" +
				"Please choose one [1-2]: " +
				"Please enter manually: \n",
			expResult: "user input",
		},
		{
			name:          "Different default answer and current answer, chose default answer",
			helpString:    "different explanation",
			prompt:        "different prompt",
			defaultAnswer: "default answer",
			currAnswer:    "current answer",
			stdin:         "1\n",
			expPrompt: "different explanation\n" +
				"different prompt:\n" +
				"\n" +
				"\t1. default answer (recommended)\n" +
				"\t2. current answer\n" +
				"\t3. (Enter manually)\n" +
				"\n" +
				"Please choose one [1-3]: \n",
			expResult: "default answer",
		},
		{
			name:          "Empty response -- pick default",
			helpString:    "help",
			prompt:        "prompt",
			defaultAnswer: "one",
			currAnswer:    "two",
			stdin:         "\n",
			expPrompt: "help\n" +
				"prompt:\n" +
				"\n" +
				"\t1. one (recommended)\n" +
				"\t2. two\n" +
				"\t3. (Enter manually)\n" +
				"\n" +
				"Please choose one [1-3]: \n",
			expResult: "one",
		},
		{
			name:          "Different default answer and current answer, chose current answer",
			helpString:    "different explanation",
			prompt:        "different prompt",
			defaultAnswer: "default answer",
			currAnswer:    "current answer",
			stdin:         "2\n",
			expPrompt: "different explanation\n" +
				"different prompt:\n" +
				"\n" +
				"\t1. default answer (recommended)\n" +
				"\t2. current answer\n" +
				"\t3. (Enter manually)\n" +
				"\n" +
				"Please choose one [1-3]: \n",
			expResult: "current answer",
		},
		{
			name:          "Different default answer and current answer, enter manually",
			helpString:    "different explanation",
			prompt:        "different prompt",
			defaultAnswer: "default answer",
			currAnswer:    "current answer",
			stdin: "3\n" +
				"user input\n",
			expPrompt: "different explanation\n" +
				"different prompt:\n" +
				"\n" +
				"\t1. default answer (recommended)\n" +
				"\t2. current answer\n" +
				"\t3. (Enter manually)\n" +
				"\n" +
				"Please choose one [1-3]: " +
				"Please enter manually: \n",
			expResult: "user input",
		},
		{
			name:          "Invalid input",
			helpString:    "different explanation",
			prompt:        "different prompt",
			defaultAnswer: "default answer",
			currAnswer:    "current answer",
			stdin: "invalid input\n" +
				"1\n",
			expPrompt: "different explanation\n" +
				"different prompt:\n" +
				"\n" +
				"\t1. default answer (recommended)\n" +
				"\t2. current answer\n" +
				"\t3. (Enter manually)\n" +
				"\n" +
				"Please choose one [1-3]: " +
				"Please choose one [1-3]: \n",
			expResult: "default answer",
		},
	}

	type promptUserResult struct {
		resp string
		err  error
	}
	for _, test := range tests {
		// Setup mocks.
		out := bytes.NewBuffer(nil)
		stdinReader, stdinWriter := io.Pipe()
		stdout = out
		stdin = stdinReader

		// Start the promptUser function.
		resultChan := make(chan promptUserResult)
		go func() {
			resp, err := promptUser(test.helpString, test.prompt,
				test.defaultAnswer, test.currAnswer)
			resultChan <- promptUserResult{resp, err}
		}()

		// Provide the user input.
		fmt.Fprintln(stdinWriter, test.stdin)

		// Check that promptUser behaved as expected.
		result := <-resultChan
		assert.NoError(t, result.err, test.name)
		assert.Equal(t, test.expResult, result.resp, test.name)

		// Test the prompt after `promptUser` has exited so that we can be sure
		// we're not testing before `promptUser` has a chance to print to stdout.
		assert.Equal(t, test.expPrompt, out.String(), test.name)
	}
}

const (
	portPrompt = "Enter the serial port that the board is connected to.\n" +
		"It defaults to the first USB serial port.\n" +
		"Serial port:\n"
	directoryPrompt = "Enter the directory to sync to the board.\n" +
		"It defaults to the current directory.\n" +
		"Directory:\n"
)

func mockFilesystem(dirs ...string) {
	fs := afero.NewMemMapFs()
	for _, dir := range dirs {
		if err := fs.MkdirAll(dir, 0755); err != nil {
			panic(err)
		}
	}
	if err := afero.WriteFile(fs, "/src/file.py", nil, 0644); err != nil {
		panic(err)
	}
	stat = fs.Stat
	getWorkingDirectory = func() (string, error) { return "/src", nil }
}

func TestGenerateConfig(t *testing.T) {
	tests := []struct {
		name                string
		cliOpts             config.User
		defaults            config.User
		mockParseUserConfig func() (config.User, error)
		inputs              []string
		expPrompt           string
		expConfig           config.User
	}{
		{
			name: "Initial setup -- ~/.serialsync.yaml doesn't exist yet",
			defaults: config.User{
				Port:      "/dev/ttyUSB0",
				Directory: "/src/board",
			},
			mockParseUserConfig: func() (config.User, error) {
				return config.User{}, errors.FileNotFound{}
			},
			inputs: []string{"1\n", "1\n"},
			expPrompt: portPrompt +
				"\n" +
				"\t1. /dev/ttyUSB0 (recommended)\n" +
				"\t2. (Enter manually)\n" +
				"\n" +
				"Please choose one [1-2]: \n" +
				directoryPrompt +
				"\n" +
				"\t1. /src/board (recommended)\n" +
				"\t2. (Enter manually)\n" +
				"\n" +
				"Please choose one [1-2]: \n",
			expConfig: config.User{
				Port:      "/dev/ttyUSB0",
				Directory: "/src/board",
			},
		},
		{
			name: "Keep the current values, and the fields that aren't prompted for",
			defaults: config.User{
				Port:      "/dev/ttyUSB0",
				Directory: "/src/board",
			},
			mockParseUserConfig: func() (config.User, error) {
				return config.User{
					Version:    config.SupportedUserConfigVersion,
					Port:       "/dev/ttyACM0",
					Directory:  "/src/other",
					DeviceName: "pico",
					Ignore:     []string{"*.pyc"},
				}, nil
			},
			inputs: []string{"2\n", "2\n"},
			expPrompt: portPrompt +
				"\n" +
				"\t1. /dev/ttyUSB0 (recommended)\n" +
				"\t2. /dev/ttyACM0\n" +
				"\t3. (Enter manually)\n" +
				"\n" +
				"Please choose one [1-3]: \n" +
				directoryPrompt +
				"\n" +
				"\t1. /src/board (recommended)\n" +
				"\t2. /src/other\n" +
				"\t3. (Enter manually)\n" +
				"\n" +
				"Please choose one [1-3]: \n",
			expConfig: config.User{
				Version:    config.SupportedUserConfigVersion,
				Port:       "/dev/ttyACM0",
				Directory:  "/src/other",
				DeviceName: "pico",
				Ignore:     []string{"*.pyc"},
			},
		},
		{
			name: "No port detected, and an invalid directory is retried",
			defaults: config.User{
				Directory: "/src/board",
			},
			mockParseUserConfig: func() (config.User, error) {
				return config.User{}, nil
			},
			inputs: []string{"\n", "/dev/ttyUSB1\n", "2\n", "missing\n", "1\n"},
			expPrompt: portPrompt +
				"Please enter manually: \n" +
				"The serial port can't be empty. Run `serialsync ports` to list the available ports.\n" +
				portPrompt +
				"Please enter manually: \n" +
				directoryPrompt +
				"\n" +
				"\t1. /src/board (recommended)\n" +
				"\t2. (Enter manually)\n" +
				"\n" +
				"Please choose one [1-2]: " +
				"Please enter manually: \n" +
				"\"missing\" does not exist. Please pick another directory.\n" +
				directoryPrompt +
				"\n" +
				"\t1. /src/board (recommended)\n" +
				"\t2. (Enter manually)\n" +
				"\n" +
				"Please choose one [1-2]: \n",
			expConfig: config.User{
				Port:      "/dev/ttyUSB1",
				Directory: "/src/board",
			},
		},
		{
			name: "Command line options aren't prompted for",
			cliOpts: config.User{
				Port:       "/dev/ttyUSB2",
				Directory:  "/src/cli",
				DeviceName: "esp8266",
			},
			mockParseUserConfig: func() (config.User, error) {
				return config.User{DeviceName: "pico", SkipUnchanged: true}, nil
			},
			expConfig: config.User{
				Port:          "/dev/ttyUSB2",
				Directory:     "/src/cli",
				DeviceName:    "esp8266",
				SkipUnchanged: true,
			},
		},
	}

	type generateConfigResult struct {
		cfg config.User
		err error
	}
	for _, test := range tests {
		test := test

		// Setup mocks.
		out := bytes.NewBuffer(nil)
		stdinReader, stdinWriter := io.Pipe()
		stdout = out
		stdin = stdinReader
		guessDefaults = func() config.User { return test.defaults }
		parseUserConfig = test.mockParseUserConfig
		mockFilesystem("/src/board", "/src/other")

		// Start the generateConfig function.
		resultChan := make(chan generateConfigResult)
		go func() {
			resp, err := generateConfig(test.cliOpts)
			resultChan <- generateConfigResult{resp, err}
		}()

		// Provide the user input.
		for _, input := range test.inputs {
			fmt.Fprint(stdinWriter, input)
		}

		// Check that generateConfig behaved as expected.
		result := <-resultChan
		assert.NoError(t, result.err, test.name)
		assert.Equal(t, test.expConfig, result.cfg, test.name)

		// Test the prompt after `generateConfig` has exited so that we can be sure
		// we're not testing before `generateConfig` has a chance to print to stdout.
		assert.Equal(t, test.expPrompt, out.String(), test.name)
	}
}

func TestDirectoryValidation(t *testing.T) {
	mockFilesystem("/src/board")

	tests := []struct {
		input    string
		expValid bool
		expMsg   string
	}{
		{"/src/board", true, ""},
		{"/src/missing", false, "\"/src/missing\" does not exist. Please pick another directory."},
		{"/src/file.py", false, "\"/src/file.py\" is not a directory. Please pick another directory."},
	}

	for _, test := range tests {
		msg, ok := directoryValidationFn(test.input)
		assert.Equal(t, test.expValid, ok, test.input)
		assert.Equal(t, test.expMsg, msg, test.input)
	}
}

func TestGuessDefaults(t *testing.T) {
	mockFilesystem()

	listPorts = func() ([]*enumerator.PortDetails, error) {
		return []*enumerator.PortDetails{
			{Name: "/dev/ttyS0"},
			{Name: "/dev/ttyUSB0", IsUSB: true},
			{Name: "/dev/ttyUSB1", IsUSB: true},
		}, nil
	}
	assert.Equal(t, config.User{Port: "/dev/ttyUSB0", Directory: "/src"}, guessDefaultsImpl())

	listPorts = func() ([]*enumerator.PortDetails, error) {
		return nil, assert.AnError
	}
	getWorkingDirectory = func() (string, error) { return "", assert.AnError }
	assert.Equal(t, config.User{}, guessDefaultsImpl())
}

func TestSetupConfig(t *testing.T) {
	out := bytes.NewBuffer(nil)
	stdout = out
	parseUserConfig = func() (config.User, error) { return config.User{}, nil }
	guessDefaults = func() config.User { return config.User{} }
	mockFilesystem()

	var written config.User
	writeUserConfig = func(cfg config.User) error {
		written = cfg
		return nil
	}

	err := SetupConfig(config.User{Port: "/dev/ttyUSB0", Directory: "board"})
	assert.NoError(t, err)
	assert.Equal(t, config.User{Port: "/dev/ttyUSB0", Directory: "/src/board"}, written)
	assert.Contains(t, out.String(), "Wrote config to ")

	writeUserConfig = func(config.User) error { return assert.AnError }
	err = SetupConfig(config.User{Port: "/dev/ttyUSB0", Directory: "/src"})
	assert.Error(t, err)
}
