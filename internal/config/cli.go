package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// CLIConfig is the optional YAML file read by the qcimport command.
type CLIConfig struct {
	Server    string        `yaml:"server"`
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
	LogLevel  string        `yaml:"log_level"`

	Upload UploadTuning `yaml:"upload"`
}

type UploadTuning struct {
	SingleShotThreshold int           `yaml:"single_shot_threshold"`
	MaxRetries          int           `yaml:"max_retries"`
	RetryDelay          time.Duration `yaml:"retry_delay"`
	CancelTimeout       time.Duration `yaml:"cancel_timeout"`
}

func DefaultCLIConfig() CLIConfig {
	return CLIConfig{
		Server:    "http://localhost:8080",
		Timeout:   2 * time.Minute,
		UserAgent: "qcimport",
		LogLevel:  "warn",
		Upload: UploadTuning{
			SingleShotThreshold: 1000,
			MaxRetries:          3,
			RetryDelay:          time.Second,
			CancelTimeout:       5 * time.Second,
		},
	}
}

// LoadCLI overlays the YAML file at path onto the defaults. An empty path
// returns the defaults.
func LoadCLI(path string) (CLIConfig, error) {
	cfg := DefaultCLIConfig()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read cli config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("decode cli config %s: %w", path, err)
	}
	if cfg.Server == "" {
		return cfg, fmt.Errorf("cli config %s: server is empty", path)
	}
	return cfg, nil
}
