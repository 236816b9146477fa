package config

import (
	"encoding/json"
	"time"

	"github.com/sidkik/serialsync/pkg/errors"
)

// Duration is a time.Duration that's written to config files as a duration
// string, such as "1s" or "100ms".
type Duration struct {
	time.Duration
}

// UnmarshalJSON implements the json.Unmarshaller interface.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return errors.New("durations must be strings such as \"1s\" or \"100ms\"")
	}

	parsed, err := time.ParseDuration(str)
	if err != nil {
		return err
	}
	if parsed < 0 {
		return errors.New("duration %q is negative", str)
	}
	d.Duration = parsed
	return nil
}

// MarshalJSON implements the json.Marshaler interface.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration.String())
}
