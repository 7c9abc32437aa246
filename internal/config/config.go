package config

import "fmt"

// ConfigError is a problem reading or editing the config file. Key is the
// dotted key involved, if any.
type ConfigError struct {
	Key     string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config: %s: %s", e.Key, e.Message)
	}
	return "config: " + e.Message
}

// Defaults returns the configuration used when no file is present.
func Defaults() Config {
	var cfg Config
	applyDefaults(&cfg)
	return cfg
}
