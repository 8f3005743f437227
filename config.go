package bind

import (
	"fmt"
	"net/http"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config holds the engine settings a deployment tunes without code changes.
// The engine accepts the errors field name and validation status but does
// not choose them.
type Config struct {
	// MaxBodyBytes is the request body byte ceiling; 0 disables it.
	MaxBodyBytes int64 `env:"BIND_MAX_BODY_BYTES" yaml:"max_body_bytes"`
	// ReadBytesPerSec throttles body reads; 0 disables it.
	ReadBytesPerSec int `env:"BIND_READ_BYTES_PER_SEC" yaml:"read_bytes_per_sec"`
	// ErrorsField names the array in the validation failure response body.
	ErrorsField string `env:"BIND_ERRORS_FIELD" envDefault:"detail" yaml:"errors_field"`
	// ValidationStatus is the response status for validation failures.
	ValidationStatus int `env:"BIND_VALIDATION_STATUS" envDefault:"422" yaml:"validation_status"`
	// Charset decodes byte strings in responses.
	Charset string `env:"BIND_CHARSET" envDefault:"utf-8" yaml:"charset"`
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() Config {
	return Config{
		ErrorsField:      "detail",
		ValidationStatus: http.StatusUnprocessableEntity,
		Charset:          "utf-8",
	}
}

// ConfigFromEnv loads settings from BIND_* environment variables.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env config: %w", err)
	}
	return cfg, nil
}

// ConfigFromYAML loads settings from a YAML file, starting from the
// defaults.
func ConfigFromYAML(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
