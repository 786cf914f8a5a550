package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if len(cfg.Story.Phases) != 4 {
		t.Fatalf("expected four default phases, got %d", len(cfg.Story.Phases))
	}
	if cfg.Story.Phases[0].Name != "Exposition" || cfg.Story.Phases[3].Name != "Resolution" {
		t.Fatalf("unexpected default phase order: %+v", cfg.Story.Phases)
	}
	if cfg.Story.InteractionTimeoutPolicy != "abort" {
		t.Fatalf("expected abort timeout policy, got %q", cfg.Story.InteractionTimeoutPolicy)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("STORY_BUS_ENABLED", "true")
	t.Setenv("STORY_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("STORY_BUS_USERNAME", "alice")
	t.Setenv("STORY_BUS_PASSWORD", "secret")
	t.Setenv("STORY_BUS_TLS_INSECURE", "true")
	t.Setenv("STORY_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("STORY_HISTORY_MODE", "sqlite")
	t.Setenv("STORY_HISTORY_PATH", "./tmp.db")
	t.Setenv("STORY_HISTORY_DEFAULT_LIMIT", "9")
	t.Setenv("STORY_INTERACTIVE", "false")
	t.Setenv("STORY_INTERACTION_TIMEOUT_MS", "1500")
	t.Setenv("STORY_INTERACTION_TIMEOUT_POLICY", "proceed")
	t.Setenv("STORY_LLM_TEMPERATURE", "0.2")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Bus.ConnectTimeout != 5000 {
		t.Fatalf("expected timeout 5000, got %d", cfg.Bus.ConnectTimeout)
	}
	if cfg.History.Mode != "sqlite" || cfg.History.Path != "./tmp.db" {
		t.Fatalf("expected history overrides, got %+v", cfg.History)
	}
	if cfg.History.DefaultLimit != 9 {
		t.Fatalf("expected default limit 9, got %d", cfg.History.DefaultLimit)
	}
	if cfg.Story.Interactive {
		t.Fatalf("expected interactive override false")
	}
	if cfg.Story.InteractionTimeoutMS != 1500 {
		t.Fatalf("expected interaction timeout override")
	}
	if cfg.Story.InteractionTimeoutPolicy != "proceed" {
		t.Fatalf("expected proceed policy")
	}
	if cfg.LLM.Temperature != 0.2 {
		t.Fatalf("expected temperature override, got %v", cfg.LLM.Temperature)
	}
}

func TestLoadYAMLPhases(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storyd.yaml")
	data := []byte(`story:
  interactive: true
  phases:
    - name: Setup
      max_tokens: 100
      description: open the scene
      interactive_prompt: who should appear?
    - name: Ending
      max_tokens: 80
      description: close the story
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Story.Phases) != 2 {
		t.Fatalf("expected yaml phases to replace defaults, got %d", len(cfg.Story.Phases))
	}
	if cfg.Story.Phases[0].InteractivePrompt != "who should appear?" {
		t.Fatalf("unexpected prompt %q", cfg.Story.Phases[0].InteractivePrompt)
	}
}

func TestValidateRejectsBadPolicy(t *testing.T) {
	t.Setenv("STORY_INTERACTION_TIMEOUT_POLICY", "retry")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for unknown timeout policy")
	}
}

func TestValidateRequiresOpenRouterKey(t *testing.T) {
	t.Setenv("STORY_LLM_MODE", "openrouter")
	t.Setenv("STORY_LLM_ENDPOINT", "https://openrouter.ai/api/v1")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error without api key")
	}
}

func TestValidateTraceExporter(t *testing.T) {
	t.Setenv("STORY_TELEMETRY_TRACE_EXPORTER", "otlp")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for otlp exporter without endpoint")
	}
	t.Setenv("STORY_TELEMETRY_TRACE_EXPORTER", "none")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Telemetry.TraceExporter != "none" {
		t.Fatalf("expected trace exporter none, got %q", cfg.Telemetry.TraceExporter)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
