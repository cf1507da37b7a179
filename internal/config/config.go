package config

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/bhandras/immersive/internal/runtimebridge"
	"github.com/bhandras/immersive/pkg/logger"
	"github.com/mstoykov/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds daemon configuration.
type Config struct {
	// Addr is the listen address of the control API.
	Addr         string `yaml:"addr" envconfig:"IMMERSIVE_ADDR"`
	DatabasePath string `yaml:"databasePath" envconfig:"IMMERSIVE_DATABASE_PATH"`

	// RuntimeURL is the spatial-runtime service base URL.
	RuntimeURL   string `yaml:"runtimeURL" envconfig:"IMMERSIVE_RUNTIME_URL"`
	RuntimeToken string `yaml:"runtimeToken" envconfig:"IMMERSIVE_RUNTIME_TOKEN"`
	// RuntimePublicKey is the hex ed25519 key ready broadcasts are signed
	// with. Empty accepts unsigned broadcasts.
	RuntimePublicKey  string `yaml:"runtimePublicKey" envconfig:"IMMERSIVE_RUNTIME_PUBLIC_KEY"`
	MinRuntimeVersion int    `yaml:"minRuntimeVersion" envconfig:"IMMERSIVE_MIN_RUNTIME_VERSION"`

	EntryTimeout      time.Duration `yaml:"entryTimeout" envconfig:"IMMERSIVE_ENTRY_TIMEOUT"`
	RaceGuardTTL      time.Duration `yaml:"raceGuardTTL" envconfig:"IMMERSIVE_RACE_GUARD_TTL"`
	FeedbackFrequency int           `yaml:"feedbackFrequency" envconfig:"IMMERSIVE_FEEDBACK_FREQUENCY"`
	DoffRequired      bool          `yaml:"doffRequired" envconfig:"IMMERSIVE_DOFF_REQUIRED"`

	// Strict crashes on invariant violations instead of resetting to flat.
	Strict   bool   `yaml:"strict" envconfig:"IMMERSIVE_STRICT"`
	Debug    bool   `yaml:"debug" envconfig:"IMMERSIVE_DEBUG"`
	LogLevel string `yaml:"logLevel" envconfig:"IMMERSIVE_LOG_LEVEL"`
	LogJSON  bool   `yaml:"logJSON" envconfig:"IMMERSIVE_LOG_JSON"`
	// Trace exports effect spans to stderr.
	Trace bool `yaml:"trace" envconfig:"IMMERSIVE_TRACE"`

	AllowedOrigins []string `yaml:"allowedOrigins" envconfig:"IMMERSIVE_ALLOWED_ORIGINS"`
}

// Overrides optionally overrides values from the file and environment.
//
// A nil pointer means "use the environment/default value".
type Overrides struct {
	ConfigPath   *string
	Addr         *string
	DatabasePath *string
	RuntimeURL   *string
	LogLevel     *string
	Debug        *bool
	Strict       *bool
	Trace        *bool
}

// ConfigPathEnv names the YAML file to load, if any.
const ConfigPathEnv = "IMMERSIVE_CONFIG"

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Addr:              ":3015",
		DatabasePath:      "./immersive.db",
		RuntimeURL:        "http://127.0.0.1:3016",
		EntryTimeout:      5 * time.Second,
		RaceGuardTTL:      5 * time.Second,
		FeedbackFrequency: 10,
		LogLevel:          "info",
		AllowedOrigins:    []string{"*"},
	}
}

// Load resolves configuration: defaults, then the YAML file named by
// IMMERSIVE_CONFIG, then IMMERSIVE_* environment variables, then overrides.
func Load(overrides Overrides) (*Config, error) {
	return load(overrides, os.LookupEnv)
}

func load(overrides Overrides, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()

	path, _ := lookup(ConfigPathEnv)
	if overrides.ConfigPath != nil {
		path = *overrides.ConfigPath
	}
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	if err := envconfig.Process("", &cfg, lookup); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	applyOverrides(&cfg, overrides)
	if cfg.Debug && overrides.LogLevel == nil {
		if _, set := lookup("IMMERSIVE_LOG_LEVEL"); !set {
			cfg.LogLevel = "debug"
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %s: %v", ErrInvalid, path, err)
	}
	return nil
}

func applyOverrides(cfg *Config, o Overrides) {
	if o.Addr != nil {
		cfg.Addr = *o.Addr
	}
	if o.DatabasePath != nil {
		cfg.DatabasePath = *o.DatabasePath
	}
	if o.RuntimeURL != nil {
		cfg.RuntimeURL = *o.RuntimeURL
	}
	if o.LogLevel != nil {
		cfg.LogLevel = *o.LogLevel
	}
	if o.Debug != nil {
		cfg.Debug = *o.Debug
	}
	if o.Strict != nil {
		cfg.Strict = *o.Strict
	}
	if o.Trace != nil {
		cfg.Trace = *o.Trace
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr is required", ErrInvalid)
	case c.DatabasePath == "":
		return fmt.Errorf("%w: databasePath is required", ErrInvalid)
	case c.EntryTimeout <= 0:
		return fmt.Errorf("%w: entryTimeout must be positive", ErrInvalid)
	case c.RaceGuardTTL <= 0:
		return fmt.Errorf("%w: raceGuardTTL must be positive", ErrInvalid)
	case c.RaceGuardTTL < c.EntryTimeout:
		return fmt.Errorf("%w: raceGuardTTL must not be shorter than entryTimeout", ErrInvalid)
	case c.FeedbackFrequency < 1:
		return fmt.Errorf("%w: feedbackFrequency must be at least 1", ErrInvalid)
	case c.MinRuntimeVersion < 0:
		return fmt.Errorf("%w: minRuntimeVersion must not be negative", ErrInvalid)
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if _, err := c.PublicKey(); err != nil {
		return fmt.Errorf("%w: runtimePublicKey: %v", ErrInvalid, err)
	}
	return nil
}

// Level returns the parsed log level.
func (c *Config) Level() logger.Level {
	lvl, _ := logger.ParseLevel(c.LogLevel)
	return lvl
}

// PublicKey decodes RuntimePublicKey. It returns nil when unset.
func (c *Config) PublicKey() (ed25519.PublicKey, error) {
	if c.RuntimePublicKey == "" {
		return nil, nil
	}
	return runtimebridge.ParsePublicKey(c.RuntimePublicKey)
}
