// Package config loads and validates the orchestrator configuration. The
// file is YAML with ${VAR} expansion and $include support; a small set of
// SLM_* environment variables override the pipeline knobs so operators can
// tune the canary without shipping a new file.
package config

import (
	"fmt"
	"time"

	"github.com/nictes1/automatizacion-ai-sub000/internal/observability"
)

// Config is the root configuration.
type Config struct {
	Server       ServerConfig              `yaml:"server"`
	Orchestrator OrchestratorConfig        `yaml:"orchestrator"`
	LLM          LLMConfig                 `yaml:"llm"`
	Tools        ToolsConfig               `yaml:"tools"`
	RateLimit    RateLimitConfig           `yaml:"rate_limit"`
	Logging      observability.LogConfig   `yaml:"logging"`
	Tracing      observability.TraceConfig `yaml:"tracing"`
}

type ServerConfig struct {
	Host            string   `yaml:"host"`
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`

	// MaxBodyBytes caps the decide request body.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// OrchestratorConfig holds the pipeline rollout and budget knobs.
type OrchestratorConfig struct {
	// Enabled turns the staged SLM pipeline on; off routes everything to
	// the legacy path regardless of CanaryPercent.
	Enabled bool `yaml:"enabled"`

	// CanaryPercent of conversations take the staged path, 0–100.
	CanaryPercent int `yaml:"canary_percent"`

	// ManifestPath points at the tool manifest file. Empty uses the
	// builtin set.
	ManifestPath string `yaml:"manifest_path"`

	// ConfidenceThreshold gates side-effecting execution.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`

	// FallbackToLLM retries a failed staged request on the legacy path.
	FallbackToLLM bool `yaml:"fallback_to_llm"`

	ExtractorTimeout Duration `yaml:"extractor_timeout"`
	PlannerTimeout   Duration `yaml:"planner_timeout"`
	BrokerTimeout    Duration `yaml:"broker_timeout"`
	TotalTimeout     Duration `yaml:"total_timeout"`

	// MaxParallelTools bounds in-flight tool calls within one request.
	MaxParallelTools int `yaml:"max_parallel_tools"`
}

type LLMConfig struct {
	Providers map[string]ProviderConfig `yaml:"providers"`
	Models    ModelsConfig              `yaml:"models"`
}

type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// ModelsConfig names the model per stage. Claude-prefixed names resolve to
// the anthropic provider, everything else to openai.
type ModelsConfig struct {
	Extractor string `yaml:"extractor"`
	Planner   string `yaml:"planner"`
	Response  string `yaml:"response"`
	Legacy    string `yaml:"legacy"`
}

// ToolsConfig locates the workflow engine's tool-execution endpoint.
type ToolsConfig struct {
	BaseURL string   `yaml:"base_url"`
	Timeout Duration `yaml:"timeout"`
}

type RateLimitConfig struct {
	Enabled bool `yaml:"enabled"`

	// RequestsPerMinute is the per-workspace sustained rate; Burst allows
	// short spikes above it.
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
}

// Load reads the file at path (empty path means defaults only), applies
// defaults, environment overrides, and validation, in that order.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		raw, err := LoadRaw(path)
		if err != nil {
			return nil, err
		}
		cfg, err = decodeRawConfig(raw)
		if err != nil {
			return nil, err
		}
	}
	applyDefaults(cfg)
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = Duration(15 * time.Second)
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = Duration(15 * time.Second)
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 256 << 10
	}

	o := &cfg.Orchestrator
	if o.ConfidenceThreshold == 0 {
		o.ConfidenceThreshold = 0.7
	}
	if o.ExtractorTimeout == 0 {
		o.ExtractorTimeout = Duration(300 * time.Millisecond)
	}
	if o.PlannerTimeout == 0 {
		o.PlannerTimeout = Duration(300 * time.Millisecond)
	}
	if o.BrokerTimeout == 0 {
		o.BrokerTimeout = Duration(8 * time.Second)
	}
	if o.TotalTimeout == 0 {
		o.TotalTimeout = Duration(10 * time.Second)
	}
	if o.MaxParallelTools == 0 {
		o.MaxParallelTools = 8
	}

	m := &cfg.LLM.Models
	if m.Extractor == "" {
		m.Extractor = "gpt-4o-mini"
	}
	if m.Planner == "" {
		m.Planner = "gpt-4o-mini"
	}
	if m.Response == "" {
		m.Response = "gpt-4o-mini"
	}
	if m.Legacy == "" {
		m.Legacy = "gpt-4o"
	}

	if cfg.Tools.Timeout == 0 {
		cfg.Tools.Timeout = Duration(10 * time.Second)
	}

	if cfg.RateLimit.RequestsPerMinute == 0 {
		cfg.RateLimit.RequestsPerMinute = 120
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 20
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "orchestrator"
	}
	if cfg.Tracing.SamplingRate == 0 {
		cfg.Tracing.SamplingRate = 1.0
	}
}

// Validate rejects configurations that would misroute traffic or stall
// requests rather than failing loudly at startup.
func (c *Config) Validate() error {
	o := c.Orchestrator
	if o.CanaryPercent < 0 || o.CanaryPercent > 100 {
		return fmt.Errorf("orchestrator.canary_percent must be in [0, 100], got %d", o.CanaryPercent)
	}
	if o.ConfidenceThreshold < 0 || o.ConfidenceThreshold > 1 {
		return fmt.Errorf("orchestrator.confidence_threshold must be in [0, 1], got %g", o.ConfidenceThreshold)
	}
	if o.TotalTimeout < o.BrokerTimeout {
		return fmt.Errorf("orchestrator.total_timeout %s is below broker_timeout %s", o.TotalTimeout, o.BrokerTimeout)
	}
	if o.MaxParallelTools < 1 {
		return fmt.Errorf("orchestrator.max_parallel_tools must be positive, got %d", o.MaxParallelTools)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.RateLimit.Enabled && c.RateLimit.RequestsPerMinute < 1 {
		return fmt.Errorf("rate_limit.requests_per_minute must be positive, got %d", c.RateLimit.RequestsPerMinute)
	}
	if tr := c.Tracing.SamplingRate; tr < 0 || tr > 1 {
		return fmt.Errorf("tracing.sampling_rate must be in [0, 1], got %g", tr)
	}
	return nil
}
