package config

import (
	"os"
	"strconv"
	"time"
)

// Environment overrides for the pipeline rollout knobs. These exist so the
// canary can be tuned per deployment without editing the config file.
const (
	EnvPipelineEnabled     = "ENABLE_SLM_PIPELINE"
	EnvCanaryPercent       = "SLM_CANARY_PERCENT"
	EnvExtractorModel      = "SLM_EXTRACTOR_MODEL"
	EnvPlannerModel        = "SLM_PLANNER_MODEL"
	EnvResponseModel       = "SLM_RESPONSE_MODEL"
	EnvConfidenceThreshold = "SLM_CONFIDENCE_THRESHOLD"
	EnvExtractorTimeoutMs  = "SLM_EXTRACTOR_TIMEOUT_MS"
	EnvPlannerTimeoutMs    = "SLM_PLANNER_TIMEOUT_MS"
	EnvBrokerTimeoutMs     = "SLM_BROKER_TIMEOUT_MS"
	EnvTotalTimeoutMs      = "SLM_TOTAL_TIMEOUT_MS"
	EnvFallbackToLLM       = "SLM_FALLBACK_TO_LLM"
)

func applyEnv(cfg *Config) {
	o := &cfg.Orchestrator
	envBool(EnvPipelineEnabled, &o.Enabled)
	envInt(EnvCanaryPercent, &o.CanaryPercent)
	envFloat(EnvConfidenceThreshold, &o.ConfidenceThreshold)
	envBool(EnvFallbackToLLM, &o.FallbackToLLM)
	envDurationMs(EnvExtractorTimeoutMs, &o.ExtractorTimeout)
	envDurationMs(EnvPlannerTimeoutMs, &o.PlannerTimeout)
	envDurationMs(EnvBrokerTimeoutMs, &o.BrokerTimeout)
	envDurationMs(EnvTotalTimeoutMs, &o.TotalTimeout)

	m := &cfg.LLM.Models
	envString(EnvExtractorModel, &m.Extractor)
	envString(EnvPlannerModel, &m.Planner)
	envString(EnvResponseModel, &m.Response)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			*dst = parsed
		}
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			*dst = parsed
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = parsed
		}
	}
}

func envDurationMs(key string, dst *Duration) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			*dst = Duration(time.Duration(parsed) * time.Millisecond)
		}
	}
}
