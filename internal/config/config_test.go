package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadIncludesPipelineDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("GATE_MIN_TEXT_LENGTH", "")
	t.Setenv("GATE_MIN_WORDS", "")
	t.Setenv("CHECKPOINT_RETENTION", "")
	t.Setenv("NATS_SUBJECT", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.GateMinTextLength != 50 {
		t.Fatalf("expected default gate min text length 50, got %d", cfg.GateMinTextLength)
	}
	if cfg.GateMinWords != 10 {
		t.Fatalf("expected default gate min words 10, got %d", cfg.GateMinWords)
	}
	if cfg.CheckpointRetention != 4 {
		t.Fatalf("expected default checkpoint retention 4, got %d", cfg.CheckpointRetention)
	}
	if cfg.NATSSubject != "analysis.completed" {
		t.Fatalf("expected default subject analysis.completed, got %q", cfg.NATSSubject)
	}
	if cfg.GroqModel == "" {
		t.Fatal("expected a default model id")
	}
}

func TestLoadParsesEnvironmentOverrides(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("GROQ_MODEL", "llama-3.1-8b-instant")
	t.Setenv("GROQ_TEMPERATURE", "0.2")
	t.Setenv("GATE_MIN_ALNUM_RATIO", "0.6")
	t.Setenv("CHECKPOINT_RETENTION", "8")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.GroqModel != "llama-3.1-8b-instant" {
		t.Fatalf("expected model override, got %q", cfg.GroqModel)
	}
	if cfg.GroqTemperature != 0.2 {
		t.Fatalf("expected temperature 0.2, got %v", cfg.GroqTemperature)
	}
	if cfg.GateMinAlnumRatio != 0.6 {
		t.Fatalf("expected alnum ratio 0.6, got %v", cfg.GateMinAlnumRatio)
	}
	if cfg.CheckpointRetention != 8 {
		t.Fatalf("expected retention 8, got %d", cfg.CheckpointRetention)
	}
}

func TestLoadAppliesYAMLOverlayWithEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "api_port: \"9100\"\ngroq_model: yaml-model\ncheckpoint_retention: 12\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("GROQ_MODEL", "env-model")
	t.Setenv("API_PORT", "")
	t.Setenv("CHECKPOINT_RETENTION", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.APIPort != "9100" {
		t.Fatalf("expected yaml port 9100, got %q", cfg.APIPort)
	}
	if cfg.CheckpointRetention != 12 {
		t.Fatalf("expected yaml retention 12, got %d", cfg.CheckpointRetention)
	}
	if cfg.GroqModel != "env-model" {
		t.Fatalf("expected env to win over yaml, got %q", cfg.GroqModel)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("api_port: [broken"), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv("CONFIG_FILE", path)
	if _, err := Load(); err == nil {
		t.Fatal("expected error for malformed yaml")
	}
}
