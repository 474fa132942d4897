package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// EnvLookup resolves environment variables; swappable in tests.
type EnvLookup func(key string) (string, bool)

type loadOptions struct {
	path      string
	envLookup EnvLookup
	readFile  func(string) ([]byte, error)
	homeDir   func() (string, error)
	overrides []func(*Config)
}

// Option customizes Load.
type Option func(*loadOptions)

// WithPath forces a specific config file instead of the discovery chain.
func WithPath(path string) Option {
	return func(o *loadOptions) { o.path = path }
}

// WithEnv replaces the environment lookup.
func WithEnv(lookup EnvLookup) Option {
	return func(o *loadOptions) { o.envLookup = lookup }
}

// WithFileReader replaces file reads, for tests.
func WithFileReader(read func(string) ([]byte, error)) Option {
	return func(o *loadOptions) { o.readFile = read }
}

// WithHomeDir replaces home-directory resolution, for tests.
func WithHomeDir(home func() (string, error)) Option {
	return func(o *loadOptions) { o.homeDir = home }
}

// WithOverride applies a caller override after file and env layers.
func WithOverride(fn func(*Config)) Option {
	return func(o *loadOptions) { o.overrides = append(o.overrides, fn) }
}

// Load assembles the runtime configuration: defaults, then TOML file, then
// environment, then caller overrides. Environment variables may move paths
// and endpoints only; risk and approval settings stay file-bound.
func Load(opts ...Option) (Config, Metadata, error) {
	options := loadOptions{
		envLookup: os.LookupEnv,
		readFile:  os.ReadFile,
		homeDir:   os.UserHomeDir,
	}
	for _, opt := range opts {
		opt(&options)
	}

	meta := Metadata{Sources: map[string]ValueSource{}, LoadedAt: time.Now()}
	cfg := Default()

	if err := applyFile(&cfg, &meta, options); err != nil {
		return Config{}, Metadata{}, err
	}
	if err := applyEnv(&cfg, &meta, options.envLookup); err != nil {
		return Config{}, Metadata{}, err
	}
	for _, override := range options.overrides {
		override(&cfg)
		meta.Sources["override"] = SourceOverride
	}

	if err := normalize(&cfg, options); err != nil {
		return Config{}, Metadata{}, err
	}
	return cfg, meta, nil
}

// configPath resolves the file to read: explicit option, AGENTOS_CONFIG env,
// then <home>/.agentos/config.toml.
func configPath(options loadOptions) string {
	if options.path != "" {
		return options.path
	}
	if p, ok := options.envLookup("AGENTOS_CONFIG"); ok && p != "" {
		return p
	}
	home, err := options.homeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".agentos", "config.toml")
}

func applyFile(cfg *Config, meta *Metadata, options loadOptions) error {
	path := configPath(options)
	if path == "" {
		return nil
	}
	data, err := options.readFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	meta.Path = path
	meta.Sources["file"] = SourceFile
	return nil
}

// guardedEnvPrefixes are configuration areas the environment must never
// touch. Setting one of these variables fails the load outright so a
// misconfigured shell cannot silently weaken governance.
var guardedEnvKeys = []string{
	"AGENTOS_MAX_RISK_LEVEL",
	"AGENTOS_APPROVAL_FILE",
	"AGENTOS_BLOCKED_MATURITY",
	"AGENTOS_SENSITIVE_PATTERNS",
}

func applyEnv(cfg *Config, meta *Metadata, lookup EnvLookup) error {
	for _, key := range guardedEnvKeys {
		if _, ok := lookup(key); ok {
			return fmt.Errorf("environment variable %s is not permitted: risk and approval settings are file-only", key)
		}
	}

	set := func(key string, apply func(string)) {
		if v, ok := lookup(key); ok && v != "" {
			apply(v)
			meta.Sources[key] = SourceEnv
		}
	}

	set("AGENTOS_STATE_ROOT", func(v string) { cfg.StateRoot = v })
	set("AGENTOS_DEFAULT_PROFILE", func(v string) { cfg.DefaultProfile = v })
	set("AGENTOS_OTLP_ENDPOINT", func(v string) { cfg.Telemetry.OTLPEndpoint = v })
	return nil
}

func normalize(cfg *Config, options loadOptions) error {
	cfg.StateRoot = strings.TrimSpace(cfg.StateRoot)
	if strings.HasPrefix(cfg.StateRoot, "~") {
		home, err := options.homeDir()
		if err != nil {
			return fmt.Errorf("resolve home for state_root: %w", err)
		}
		cfg.StateRoot = filepath.Join(home, strings.TrimPrefix(cfg.StateRoot, "~"))
	}
	if cfg.DefaultProfile == "" {
		cfg.DefaultProfile = "auto"
	}
	if cfg.Pool.Workers <= 0 {
		cfg.Pool.Workers = 1
	}
	if cfg.Pool.QueueDepth <= 0 {
		cfg.Pool.QueueDepth = 1
	}
	if cfg.Breaker.FailureThreshold <= 0 {
		cfg.Breaker.FailureThreshold = 3
	}
	if cfg.Retry.MaxRetries < 0 {
		cfg.Retry.MaxRetries = 0
	}
	for name, profile := range cfg.Profiles {
		if profile.BaseWeight+profile.MemoryWeight == 0 {
			profile.BaseWeight = 0.7
			profile.MemoryWeight = 0.3
		}
		if profile.MaxFallbackSteps <= 0 {
			profile.MaxFallbackSteps = 3
		}
		cfg.Profiles[name] = profile
	}
	return nil
}
