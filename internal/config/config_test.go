package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Orchestrator.ExtractorTimeout.Std() != 300*time.Millisecond {
		t.Errorf("extractor timeout = %s", cfg.Orchestrator.ExtractorTimeout)
	}
	if cfg.Orchestrator.TotalTimeout.Std() != 10*time.Second {
		t.Errorf("total timeout = %s", cfg.Orchestrator.TotalTimeout)
	}
	if cfg.Orchestrator.ConfidenceThreshold != 0.7 {
		t.Errorf("threshold = %g", cfg.Orchestrator.ConfidenceThreshold)
	}
	if cfg.Orchestrator.Enabled {
		t.Errorf("pipeline must default off")
	}
	if cfg.LLM.Models.Extractor == "" || cfg.LLM.Models.Legacy == "" {
		t.Errorf("models: %+v", cfg.LLM.Models)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
server:
  port: 9191
orchestrator:
  enabled: true
  canary_percent: 25
  confidence_threshold: 0.8
  total_timeout: 12s
tools:
  base_url: http://engine:8080
llm:
  models:
    extractor: slm-ext-1
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9191 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if !cfg.Orchestrator.Enabled || cfg.Orchestrator.CanaryPercent != 25 {
		t.Errorf("orchestrator: %+v", cfg.Orchestrator)
	}
	if cfg.Orchestrator.TotalTimeout.Std() != 12*time.Second {
		t.Errorf("total timeout = %s", cfg.Orchestrator.TotalTimeout)
	}
	if cfg.Tools.BaseURL != "http://engine:8080" {
		t.Errorf("tools base url = %q", cfg.Tools.BaseURL)
	}
	if cfg.LLM.Models.Extractor != "slm-ext-1" {
		t.Errorf("extractor model = %q", cfg.LLM.Models.Extractor)
	}
	// Unset sections still get defaults.
	if cfg.Orchestrator.PlannerTimeout.Std() != 300*time.Millisecond {
		t.Errorf("planner timeout = %s", cfg.Orchestrator.PlannerTimeout)
	}
}

func TestLoadUnknownKeyRejected(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "orchestrator:\n  canarypercent: 10\n")
	if _, err := Load(path); err == nil {
		t.Fatal("typo'd key must fail the load")
	}
}

func TestLoadEnvExpansion(t *testing.T) {
	t.Setenv("TEST_ENGINE_URL", "http://engine.internal")
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "tools:\n  base_url: ${TEST_ENGINE_URL}\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Tools.BaseURL != "http://engine.internal" {
		t.Errorf("base url = %q", cfg.Tools.BaseURL)
	}
}

func TestLoadInclude(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "server:\n  port: 7000\nlogging:\n  level: debug\n")
	path := writeFile(t, dir, "config.yaml", "$include: base.yaml\nserver:\n  port: 7100\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 7100 {
		t.Errorf("including file must win, port = %d", cfg.Server.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("included value lost, level = %q", cfg.Logging.Level)
	}
}

func TestLoadIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "$include: b.yaml\n")
	path := writeFile(t, dir, "b.yaml", "$include: a.yaml\n")
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("expected cycle error, got %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvPipelineEnabled, "true")
	t.Setenv(EnvCanaryPercent, "42")
	t.Setenv(EnvConfidenceThreshold, "0.9")
	t.Setenv(EnvExtractorModel, "slm-ext-2")
	t.Setenv(EnvExtractorTimeoutMs, "450")
	t.Setenv(EnvFallbackToLLM, "1")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	o := cfg.Orchestrator
	if !o.Enabled || o.CanaryPercent != 42 || o.ConfidenceThreshold != 0.9 || !o.FallbackToLLM {
		t.Errorf("orchestrator: %+v", o)
	}
	if o.ExtractorTimeout.Std() != 450*time.Millisecond {
		t.Errorf("extractor timeout = %s", o.ExtractorTimeout)
	}
	if cfg.LLM.Models.Extractor != "slm-ext-2" {
		t.Errorf("extractor model = %q", cfg.LLM.Models.Extractor)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"canary percent out of range", func(c *Config) { c.Orchestrator.CanaryPercent = 101 }},
		{"negative threshold", func(c *Config) { c.Orchestrator.ConfidenceThreshold = -0.1 }},
		{"total below broker", func(c *Config) { c.Orchestrator.TotalTimeout = Duration(time.Second) }},
		{"zero parallelism", func(c *Config) { c.Orchestrator.MaxParallelTools = -1 }},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }},
		{"sampling rate", func(c *Config) { c.Tracing.SamplingRate = 2 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestJSONSchema(t *testing.T) {
	data, err := JSONSchema()
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	for _, want := range []string{"canary_percent", "confidence_threshold", "requests_per_minute"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("schema missing %q", want)
		}
	}
}
