// Package config loads the controller configuration from layered YAML files
// and environment variables. Later files override earlier ones, and the
// environment overrides every file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kube-reflector/reflector/pkg/constants"
)

// EnvPrefix separates this program's environment variables from the
// surrounding environment.
const EnvPrefix = "REFLECTOR_"

// DefaultPaths are the file layers consulted by Load, in override order.
var DefaultPaths = []string{
	"/etc/reflector/config.yaml",
	"config.yaml",
}

// Watcher configures the per-kind watch loops.
type Watcher struct {
	// TimeoutSeconds bounds the lifetime of a single watch session.
	TimeoutSeconds int `yaml:"timeoutSeconds"`
	// QueueCapacity sizes the event queue between watch and reconcile.
	QueueCapacity int `yaml:"queueCapacity"`
}

// Config is the effective controller configuration.
type Config struct {
	Watcher Watcher `yaml:"watcher"`
	// MetricsAddr is the bind address of the metrics and health endpoint.
	MetricsAddr string `yaml:"metricsAddr"`
	// Kubeconfig is the path to a kubeconfig file. Empty selects the
	// in-cluster service account or the default loading rules.
	Kubeconfig string `yaml:"kubeconfig"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Watcher: Watcher{
			TimeoutSeconds: constants.DefaultSessionTimeoutSeconds,
			QueueCapacity:  constants.DefaultQueueCapacity,
		},
		MetricsAddr: ":8080",
	}
}

// SessionTimeout returns the watch session timeout as a duration.
func (c Config) SessionTimeout() time.Duration {
	return time.Duration(c.Watcher.TimeoutSeconds) * time.Second
}

// Load builds the configuration from the given file layers plus the
// environment. Missing files are skipped; unreadable or malformed ones fail
// the load.
func Load(paths ...string) (Config, error) {
	cfg := Default()
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return Config{}, fmt.Errorf("reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if err := envInt("WATCHER_TIMEOUT", &c.Watcher.TimeoutSeconds); err != nil {
		return err
	}
	if err := envInt("WATCHER_QUEUE_CAPACITY", &c.Watcher.QueueCapacity); err != nil {
		return err
	}
	envString("METRICS_ADDR", &c.MetricsAddr)
	envString("KUBECONFIG", &c.Kubeconfig)
	return nil
}

func (c Config) validate() error {
	if c.Watcher.TimeoutSeconds <= 0 {
		return fmt.Errorf("watcher.timeoutSeconds must be positive, got %d", c.Watcher.TimeoutSeconds)
	}
	if c.Watcher.QueueCapacity <= 0 {
		return fmt.Errorf("watcher.queueCapacity must be positive, got %d", c.Watcher.QueueCapacity)
	}
	return nil
}

func envString(suffix string, target *string) {
	if value, ok := os.LookupEnv(EnvPrefix + suffix); ok {
		*target = value
	}
}

func envInt(suffix string, target *int) error {
	value, ok := os.LookupEnv(EnvPrefix + suffix)
	if !ok {
		return nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parsing %s%s: %w", EnvPrefix, suffix, err)
	}
	*target = parsed
	return nil
}
