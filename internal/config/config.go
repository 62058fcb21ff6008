// Package config loads and validates the poller configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// DefaultPath is used when no configuration path is given.
const DefaultPath = "/etc/fabricpulse/fabricpulse.yaml"

const envPrefix = "FABRICPULSE_"

// Defaults
const (
	DefaultConcurrency    = 10
	DefaultRequestTimeout = 60 * time.Second
	DefaultInterval       = 5 * time.Minute
	DefaultEventPort      = 5817
	DefaultScheme         = "https"
)

// Config is the complete poller configuration.
type Config struct {
	Controllers []ControllerConfig `yaml:"controllers" json:"controllers"`

	Scheme             string `yaml:"scheme" json:"scheme"`
	ControllerUser     string `yaml:"controller_user" json:"controller_user"`
	ControllerPassword string `yaml:"controller_password" json:"-"`
	VerifySSL          bool   `yaml:"verify_ssl" json:"verify_ssl"`
	Fingerprint        string `yaml:"fingerprint" json:"fingerprint,omitempty"`

	// Concurrency is the per-controller limit on in-flight statistics requests.
	Concurrency int `yaml:"concurrency" json:"concurrency"`
	// RequestTimeout bounds every HTTP request. Zero disables the timeout.
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`

	OutputDir     string   `yaml:"output_dir" json:"output_dir"`
	UsageDenyList []string `yaml:"usage_deny_list" json:"usage_deny_list,omitempty"`
	FaultQuery    string   `yaml:"fault_query" json:"fault_query,omitempty"`

	NMS         NMSConfig         `yaml:"nms" json:"nms"`
	Events      EventsConfig      `yaml:"events" json:"events"`
	Logging     LoggingConfig     `yaml:"logging" json:"logging"`
	ObjectStore ObjectStoreConfig `yaml:"object_store" json:"object_store"`

	MetricsAddr string        `yaml:"metrics_addr" json:"metrics_addr,omitempty"`
	Interval    time.Duration `yaml:"interval" json:"interval"`

	// Path is the file the configuration was loaded from.
	Path string `yaml:"-" json:"path,omitempty"`
}

// ControllerConfig identifies one fabric controller.
type ControllerConfig struct {
	Name    string `yaml:"name" json:"name"`
	Address string `yaml:"address" json:"address"`
	// Hostname overrides reverse resolution of the address.
	Hostname string `yaml:"hostname,omitempty" json:"hostname,omitempty"`
}

// NMSConfig configures the monitoring system REST API.
type NMSConfig struct {
	BaseURL  string `yaml:"base_url" json:"base_url"`
	User     string `yaml:"user" json:"user"`
	Password string `yaml:"password" json:"-"`
}

// EventsConfig configures the event listener endpoint.
type EventsConfig struct {
	Host   string `yaml:"host" json:"host"`
	Port   int    `yaml:"port" json:"port"`
	Source string `yaml:"source" json:"source,omitempty"`
	UEI    string `yaml:"uei" json:"uei,omitempty"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Format string `yaml:"format" json:"format"` // json, console or auto
	Level  string `yaml:"level" json:"level"`
	File   string `yaml:"file" json:"file,omitempty"`
}

// ObjectStoreConfig configures the optional S3-compatible output mirror.
type ObjectStoreConfig struct {
	Endpoint  string `yaml:"endpoint" json:"endpoint,omitempty"`
	Bucket    string `yaml:"bucket" json:"bucket,omitempty"`
	Prefix    string `yaml:"prefix" json:"prefix,omitempty"`
	Region    string `yaml:"region" json:"region,omitempty"`
	AccessKey string `yaml:"access_key" json:"-"`
	SecretKey string `yaml:"secret_key" json:"-"`
	UseSSL    bool   `yaml:"use_ssl" json:"use_ssl"`
}

// Enabled reports whether the mirror is configured.
func (o ObjectStoreConfig) Enabled() bool {
	return strings.TrimSpace(o.Bucket) != ""
}

// Default returns a configuration with every default applied.
func Default() *Config {
	return &Config{
		Scheme:         DefaultScheme,
		VerifySSL:      true,
		Concurrency:    DefaultConcurrency,
		RequestTimeout: DefaultRequestTimeout,
		Interval:       DefaultInterval,
		Events: EventsConfig{
			Port: DefaultEventPort,
		},
		Logging: LoggingConfig{
			Format: "auto",
			Level:  "info",
		},
	}
}

// Load reads the YAML file at path over the defaults, applies .env and
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	loadEnvFiles(filepath.Join(filepath.Dir(path), ".env"))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.Path = path

	cfg.applyEnv(os.Getenv)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults without validating.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return cfg, nil
}

// loadEnvFiles loads .env files without overriding variables already set.
func loadEnvFiles(paths ...string) {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			log.Warn().Err(err).Str("file", p).Msg("Failed to load .env file")
		} else {
			log.Info().Str("file", p).Msg("Loaded .env file")
		}
	}

	if err := godotenv.Load(); err == nil {
		log.Info().Msg("Loaded .env from current directory")
	}
}

func (c *Config) applyEnv(getenv func(string) string) {
	set := func(name string, dst *string) {
		if v := getenv(envPrefix + name); v != "" {
			*dst = v
		}
	}

	set("CONTROLLER_USER", &c.ControllerUser)
	set("CONTROLLER_PASSWORD", &c.ControllerPassword)
	set("NMS_USER", &c.NMS.User)
	set("NMS_PASSWORD", &c.NMS.Password)
	set("OUTPUT_DIR", &c.OutputDir)
	set("LOG_LEVEL", &c.Logging.Level)
	set("OBJECTSTORE_ACCESS_KEY", &c.ObjectStore.AccessKey)
	set("OBJECTSTORE_SECRET_KEY", &c.ObjectStore.SecretKey)

	if v := getenv(envPrefix + "CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Concurrency = n
		} else {
			log.Warn().Str("value", v).Msg("Ignoring invalid " + envPrefix + "CONCURRENCY")
		}
	}
}

// Validate reports every configuration problem found.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Controllers) == 0 {
		errs = append(errs, errors.New("at least one controller is required"))
	}
	seen := make(map[string]bool, len(c.Controllers))
	for i, ctrl := range c.Controllers {
		name := strings.TrimSpace(ctrl.Name)
		if name == "" {
			errs = append(errs, fmt.Errorf("controllers[%d]: name is required", i))
		} else if seen[name] {
			errs = append(errs, fmt.Errorf("controllers[%d]: duplicate name %q", i, name))
		}
		seen[name] = true
		if strings.TrimSpace(ctrl.Address) == "" {
			errs = append(errs, fmt.Errorf("controllers[%d]: address is required", i))
		}
		if strings.ContainsAny(name, `/\`) {
			errs = append(errs, fmt.Errorf("controllers[%d]: name %q must not contain path separators", i, name))
		}
	}

	switch strings.ToLower(c.Scheme) {
	case "http", "https":
	default:
		errs = append(errs, fmt.Errorf("unsupported scheme %q", c.Scheme))
	}
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency))
	}
	if c.RequestTimeout < 0 {
		errs = append(errs, fmt.Errorf("request_timeout must not be negative, got %s", c.RequestTimeout))
	}
	if c.Interval < 0 {
		errs = append(errs, fmt.Errorf("interval must not be negative, got %s", c.Interval))
	}
	for _, p := range c.UsageDenyList {
		if _, err := regexp.Compile(p); err != nil {
			errs = append(errs, fmt.Errorf("usage_deny_list: invalid pattern %q: %w", p, err))
		}
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		errs = append(errs, errors.New("output_dir is required"))
	}
	if strings.TrimSpace(c.Events.Host) == "" {
		errs = append(errs, errors.New("events.host is required"))
	}
	if c.Events.Port < 0 || c.Events.Port > 65535 {
		errs = append(errs, fmt.Errorf("events.port %d out of range", c.Events.Port))
	}
	if c.ObjectStore.Enabled() && strings.TrimSpace(c.ObjectStore.Endpoint) == "" {
		errs = append(errs, errors.New("object_store.endpoint is required when a bucket is set"))
	}

	return errors.Join(errs...)
}

// ControllerNames returns the configured controller names in order.
func (c *Config) ControllerNames() []string {
	names := make([]string, 0, len(c.Controllers))
	for _, ctrl := range c.Controllers {
		names = append(names, ctrl.Name)
	}
	return names
}
