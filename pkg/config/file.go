package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/pixelmint/pixelmint/pkg/observability"
)

// FileConfig is the YAML overlay applied on top of the environment
// configuration. Only set fields override; credentials stay in the
// environment and are not accepted from the file.
type FileConfig struct {
	Server *struct {
		Host            *string        `yaml:"host"`
		Port            *string        `yaml:"port"`
		ReadTimeout     *time.Duration `yaml:"read_timeout"`
		WriteTimeout    *time.Duration `yaml:"write_timeout"`
		IdleTimeout     *time.Duration `yaml:"idle_timeout"`
		ShutdownTimeout *time.Duration `yaml:"shutdown_timeout"`
		HealthPort      *string        `yaml:"health_port"`
	} `yaml:"server"`

	Billing *struct {
		StripeTolerance *time.Duration `yaml:"stripe_tolerance"`
		SuccessURL      *string        `yaml:"success_url"`
		CancelURL       *string        `yaml:"cancel_url"`
	} `yaml:"billing"`

	RateLimit *struct {
		Enabled           *bool `yaml:"enabled"`
		RequestsPerMinute *int  `yaml:"requests_per_minute"`
		Burst             *int  `yaml:"burst"`
	} `yaml:"rate_limit"`

	Observability *struct {
		LogLevel *string `yaml:"log_level"`
	} `yaml:"observability"`
}

// ApplyFile overlays a YAML config file onto cfg.
func ApplyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if fc.Server != nil {
		if fc.Server.Host != nil {
			cfg.Server.Host = *fc.Server.Host
		}
		if fc.Server.Port != nil {
			cfg.Server.Port = *fc.Server.Port
		}
		if fc.Server.ReadTimeout != nil {
			cfg.Server.ReadTimeout = *fc.Server.ReadTimeout
		}
		if fc.Server.WriteTimeout != nil {
			cfg.Server.WriteTimeout = *fc.Server.WriteTimeout
		}
		if fc.Server.IdleTimeout != nil {
			cfg.Server.IdleTimeout = *fc.Server.IdleTimeout
		}
		if fc.Server.ShutdownTimeout != nil {
			cfg.Server.ShutdownTimeout = *fc.Server.ShutdownTimeout
		}
		if fc.Server.HealthPort != nil {
			cfg.Server.HealthPort = *fc.Server.HealthPort
		}
	}

	if fc.Billing != nil {
		if fc.Billing.StripeTolerance != nil {
			cfg.Billing.StripeTolerance = *fc.Billing.StripeTolerance
		}
		if fc.Billing.SuccessURL != nil {
			cfg.Billing.SuccessURL = *fc.Billing.SuccessURL
		}
		if fc.Billing.CancelURL != nil {
			cfg.Billing.CancelURL = *fc.Billing.CancelURL
		}
	}

	if fc.RateLimit != nil {
		if fc.RateLimit.Enabled != nil {
			cfg.RateLimit.Enabled = *fc.RateLimit.Enabled
		}
		if fc.RateLimit.RequestsPerMinute != nil {
			cfg.RateLimit.RequestsPerMinute = *fc.RateLimit.RequestsPerMinute
		}
		if fc.RateLimit.Burst != nil {
			cfg.RateLimit.Burst = *fc.RateLimit.Burst
		}
	}

	if fc.Observability != nil {
		if fc.Observability.LogLevel != nil {
			cfg.Observability.LogLevel = ParseLogLevel(*fc.Observability.LogLevel)
		}
	}

	return nil
}

// Watch watches the config file for changes and invokes onChange with a
// freshly loaded configuration. Invalid updates are logged and skipped.
// The watcher stops when stop is closed.
func Watch(path string, logger *observability.Logger, stop <-chan struct{}, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}

	// Watch the directory; editors replace the file rather than write in place.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := LoadConfig()
				if err != nil {
					logger.WithError(err).Warn("Ignoring invalid config file update")
					continue
				}
				logger.Infof("Reloaded configuration from %s", path)
				onChange(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.WithError(err).Warn("Config watcher error")
			case <-stop:
				return
			}
		}
	}()

	return nil
}
