// Package config loads the layered runtime configuration: built-in defaults,
// then the TOML config file, then environment overrides, then caller
// overrides. Risk and approval settings are never readable from the
// environment; the loader enforces that.
package config

import "time"

// ValueSource records where a configuration value came from.
type ValueSource string

const (
	SourceDefault  ValueSource = "default"
	SourceFile     ValueSource = "file"
	SourceEnv      ValueSource = "env"
	SourceOverride ValueSource = "override"
)

// Metadata carries provenance for loaded values, keyed by TOML path.
type Metadata struct {
	Sources  map[string]ValueSource
	Path     string // config file actually read, empty when none
	LoadedAt time.Time
}

// ProfileConfig is one named governance preset.
type ProfileConfig struct {
	AllowedLayers    []string `toml:"allowed_layers"`
	BlockedMaturity  []string `toml:"blocked_maturity"`
	MaxRiskLevel     string   `toml:"max_risk_level"`
	Deterministic    bool     `toml:"deterministic"`
	LearningEnabled  bool     `toml:"learning_enabled"`
	MaxFallbackSteps int      `toml:"max_fallback_steps"`
	BaseWeight       float64  `toml:"base_weight"`
	MemoryWeight     float64  `toml:"memory_weight"`
}

// RankerConfig tunes candidate scoring.
type RankerConfig struct {
	MemoryWindowDays int     `toml:"memory_window_days"`
	PriorWeight      float64 `toml:"prior_weight"`
	PriorRate        float64 `toml:"prior_rate"`
	AmbiguityGap     float64 `toml:"ambiguity_gap"`
	CacheSize        int     `toml:"cache_size"`
}

// EngineConfig bounds the fallback executor.
type EngineConfig struct {
	AttemptTimeout time.Duration `toml:"attempt_timeout"`
	RunTimeout     time.Duration `toml:"run_timeout"`
}

// RetryConfig bounds in-place retries before fallback.
type RetryConfig struct {
	MaxRetries   int           `toml:"max_retries"`
	BaseDelay    time.Duration `toml:"base_delay"`
	MaxDelay     time.Duration `toml:"max_delay"`
	JitterFactor float64       `toml:"jitter_factor"`
}

// BreakerConfig tunes the per-tool circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           `toml:"failure_threshold"`
	FailureWindow    time.Duration `toml:"failure_window"`
	Cooldown         time.Duration `toml:"cooldown"`
}

// RouterConfig weights the MCP smart-routing composite.
type RouterConfig struct {
	IntentWeight      float64 `toml:"intent_weight"`
	ReliabilityWeight float64 `toml:"reliability_weight"`
	LatencyWeight     float64 `toml:"latency_weight"`
	CostWeight        float64 `toml:"cost_weight"`
	HitBonus          float64 `toml:"hit_bonus"`
	ReliabilityPrior  float64 `toml:"reliability_prior"`
	PriorWeight       float64 `toml:"prior_weight"`
}

// GovernanceConfig holds approval and sensitive-data settings. These fields
// can come only from defaults, the config file, or explicit overrides.
type GovernanceConfig struct {
	ApprovalFile       string   `toml:"approval_file"`
	SensitivePatterns  []string `toml:"sensitive_patterns"`
	StrictContractLint bool     `toml:"strict_contract_lint"`
}

// TunerConfig drives the feedback-driven policy tuner.
type TunerConfig struct {
	WindowDays        int     `toml:"window_days"`
	DemoteWindows     int     `toml:"demote_windows"`
	LowWatermark      float64 `toml:"low_watermark"`
	HighWatermark     float64 `toml:"high_watermark"`
	MinSamples        int     `toml:"min_samples"`
	MaxActions        int     `toml:"max_actions"`
	MinPriority       float64 `toml:"min_priority"`
	Cadence           string  `toml:"cadence"` // cron expression
	AdaptiveSuccess   float64 `toml:"adaptive_success"`
	AdaptiveQuality   float64 `toml:"adaptive_quality"`
	AdaptiveManualMax float64 `toml:"adaptive_manual_max"`
	BlockMinRuns      int     `toml:"block_min_runs"`
	BlockFailRate     float64 `toml:"block_fail_rate"`
}

// PoolConfig bounds the kernel worker pool.
type PoolConfig struct {
	Workers    int `toml:"workers"`
	QueueDepth int `toml:"queue_depth"`
}

// TelemetryConfig wires exporters. Endpoint may be overridden from env.
type TelemetryConfig struct {
	OTLPEndpoint   string  `toml:"otlp_endpoint"`
	TracingEnabled bool    `toml:"tracing_enabled"`
	SampleRate     float64 `toml:"sample_rate"`
	MetricsEnabled bool    `toml:"metrics_enabled"`
	MetricsPort    int     `toml:"metrics_port"`
	ServiceName    string  `toml:"service_name"`
}

// Config is the root runtime configuration.
type Config struct {
	StateRoot      string                   `toml:"state_root"`
	DefaultProfile string                   `toml:"default_profile"`
	Profiles       map[string]ProfileConfig `toml:"profiles"`
	Ranker         RankerConfig             `toml:"ranker"`
	Engine         EngineConfig             `toml:"engine"`
	Retry          RetryConfig              `toml:"retry"`
	Breaker        BreakerConfig            `toml:"breaker"`
	Router         RouterConfig             `toml:"router"`
	Governance     GovernanceConfig         `toml:"governance"`
	Tuner          TunerConfig              `toml:"tuner"`
	Pool           PoolConfig               `toml:"pool"`
	Telemetry      TelemetryConfig          `toml:"telemetry"`
}

// Default returns the built-in configuration. Values mirror the documented
// runtime defaults.
func Default() Config {
	return Config{
		StateRoot:      "~/.agentos",
		DefaultProfile: "auto",
		Profiles: map[string]ProfileConfig{
			"strict": {
				AllowedLayers:    []string{"builtin", "mcp"},
				BlockedMaturity:  []string{"experimental"},
				MaxRiskLevel:     "medium",
				Deterministic:    true,
				LearningEnabled:  false,
				MaxFallbackSteps: 1,
				BaseWeight:       0.95,
				MemoryWeight:     0.05,
			},
			"adaptive": {
				AllowedLayers:    []string{"*"},
				MaxRiskLevel:     "high",
				Deterministic:    false,
				LearningEnabled:  true,
				MaxFallbackSteps: 3,
				BaseWeight:       0.70,
				MemoryWeight:     0.30,
			},
		},
		Ranker: RankerConfig{
			MemoryWindowDays: 14,
			PriorWeight:      20,
			PriorRate:        0.5,
			AmbiguityGap:     0.05,
			CacheSize:        256,
		},
		Engine: EngineConfig{
			AttemptTimeout: 60 * time.Second,
			RunTimeout:     10 * time.Minute,
		},
		Retry: RetryConfig{
			MaxRetries:   2,
			BaseDelay:    200 * time.Millisecond,
			MaxDelay:     5 * time.Second,
			JitterFactor: 0.2,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 3,
			FailureWindow:    10 * time.Minute,
			Cooldown:         300 * time.Second,
		},
		Router: RouterConfig{
			IntentWeight:      0.45,
			ReliabilityWeight: 0.30,
			LatencyWeight:     0.15,
			CostWeight:        0.10,
			HitBonus:          0.05,
			ReliabilityPrior:  0.7,
			PriorWeight:       20,
		},
		Governance: GovernanceConfig{
			ApprovalFile: "approval.json",
			SensitivePatterns: []string{
				`(?i)api[_-]?key\s*[:=]`,
				`(?i)bearer\s+[A-Za-z0-9\-._~+/]{16,}`,
				`sk-[A-Za-z0-9]{16,}`,
				`ghp_[A-Za-z0-9]{16,}`,
			},
			StrictContractLint: false,
		},
		Tuner: TunerConfig{
			WindowDays:        7,
			DemoteWindows:     3,
			LowWatermark:      0.60,
			HighWatermark:     0.90,
			MinSamples:        5,
			MaxActions:        5,
			MinPriority:       0.3,
			Cadence:           "0 3 * * *",
			AdaptiveSuccess:   0.92,
			AdaptiveQuality:   0.82,
			AdaptiveManualMax: 0.05,
			BlockMinRuns:      3,
			BlockFailRate:     0.5,
		},
		Pool: PoolConfig{
			Workers:    4,
			QueueDepth: 16,
		},
		Telemetry: TelemetryConfig{
			TracingEnabled: false,
			SampleRate:     1.0,
			MetricsEnabled: true,
			MetricsPort:    0,
			ServiceName:    "agentos",
		},
	}
}
