package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) *fileBackend {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return newFileBackend(path)
}

func emptyBackend(t *testing.T) *fileBackend {
	t.Helper()
	return newFileBackend(filepath.Join(t.TempDir(), "missing.yaml"))
}

// TestDefaults verifies all default values are applied when no file exists.
func TestDefaults(t *testing.T) {
	cfg, err := loadWith(emptyBackend(t), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 3001 {
		t.Errorf("Server.Port = %d, want 3001", cfg.Server.Port)
	}
	if cfg.Server.SiteURL != "http://localhost:3001" {
		t.Errorf("Server.SiteURL = %q", cfg.Server.SiteURL)
	}
	if cfg.Chunking.MaxTokens != 500 || cfg.Chunking.OverlapChars != 200 || !cfg.Chunking.PreserveSentences {
		t.Errorf("Chunking = %+v", cfg.Chunking)
	}
	if cfg.Embedding.Model != "text-embedding-3-small" {
		t.Errorf("Embedding.Model = %q", cfg.Embedding.Model)
	}
	if cfg.Ingest.BatchSize != 5 || cfg.Ingest.BatchDelay != 200*time.Millisecond {
		t.Errorf("Ingest batch = %d/%v", cfg.Ingest.BatchSize, cfg.Ingest.BatchDelay)
	}
	if cfg.Ingest.ProcessingTimeout != 10*time.Minute {
		t.Errorf("Ingest.ProcessingTimeout = %v", cfg.Ingest.ProcessingTimeout)
	}
	if cfg.Retrieval.TopK != 5 || cfg.Retrieval.RelevanceThreshold != 0.5 {
		t.Errorf("Retrieval = %+v", cfg.Retrieval)
	}
	if cfg.Chat.Model != "gpt-4o-mini" || cfg.Chat.HistoryTurns != 8 {
		t.Errorf("Chat = %+v", cfg.Chat)
	}
	if cfg.Vector.Backend != "sqlite" {
		t.Errorf("Vector.Backend = %q", cfg.Vector.Backend)
	}
}

func TestYAMLFile(t *testing.T) {
	b := writeTempConfig(t, `
server:
  port: 8080
retrieval:
  top_k: 8
  relevance_threshold: 0.65
ingest:
  batch_delay: 1s
chunking:
  preserve_sentences: false
`)
	cfg, err := loadWith(b, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Retrieval.TopK != 8 || cfg.Retrieval.RelevanceThreshold != 0.65 {
		t.Errorf("Retrieval = %+v", cfg.Retrieval)
	}
	if cfg.Ingest.BatchDelay != time.Second {
		t.Errorf("Ingest.BatchDelay = %v", cfg.Ingest.BatchDelay)
	}
	if cfg.Chunking.PreserveSentences {
		t.Error("Chunking.PreserveSentences should be false")
	}
}

// TestEnvOverride verifies that environment variables override file values.
func TestEnvOverride(t *testing.T) {
	b := writeTempConfig(t, "retrieval:\n  relevance_threshold: 0.6\n")
	t.Setenv("OMJ_RETRIEVAL_RELEVANCE_THRESHOLD", "0.7")
	t.Setenv("OMJ_OPENAI_API_KEY", "env-key")

	cfg, err := loadWith(b, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Retrieval.RelevanceThreshold != 0.7 {
		t.Errorf("RelevanceThreshold = %v, want 0.7", cfg.Retrieval.RelevanceThreshold)
	}
	if cfg.Secrets.OpenAIAPIKey != "env-key" {
		t.Errorf("OpenAIAPIKey = %q, want env-key", cfg.Secrets.OpenAIAPIKey)
	}
}

func TestSecretsIgnoredInFile(t *testing.T) {
	b := writeTempConfig(t, "secrets:\n  admin_token: from-file\n")
	t.Setenv("OMJ_ADMIN_TOKEN", "")

	cfg, err := loadWith(b, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Secrets.AdminToken != "" {
		t.Errorf("AdminToken = %q, secrets must come from the environment", cfg.Secrets.AdminToken)
	}
}

func TestDotEnv(t *testing.T) {
	dotenv := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(dotenv, []byte("OMJ_CHAT_MODEL=gpt-4o\nOMJ_ADMIN_TOKEN=dotenv-token\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	// godotenv never overrides variables that are already set.
	t.Setenv("OMJ_ADMIN_TOKEN", "real-token")
	t.Setenv("OMJ_CHAT_MODEL", "")
	os.Unsetenv("OMJ_CHAT_MODEL")

	cfg, err := loadWith(emptyBackend(t), dotenv)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Chat.Model != "gpt-4o" {
		t.Errorf("Chat.Model = %q, want gpt-4o from .env", cfg.Chat.Model)
	}
	if cfg.Secrets.AdminToken != "real-token" {
		t.Errorf("AdminToken = %q, environment should win over .env", cfg.Secrets.AdminToken)
	}
}

func TestMissingDotEnvIsFine(t *testing.T) {
	if _, err := loadWith(emptyBackend(t), filepath.Join(t.TempDir(), "nope.env")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }, "Port"},
		{"threshold above one", func(c *Config) { c.Retrieval.RelevanceThreshold = 1.5 }, "RelevanceThreshold"},
		{"unknown embedding provider", func(c *Config) { c.Embedding.Provider = "cohere" }, "Provider"},
		{"batch size zero", func(c *Config) { c.Ingest.BatchSize = 0 }, "BatchSize"},
		{"pinecone without host", func(c *Config) { c.Vector.Backend = "pinecone" }, "IndexHost"},
		{"remote extraction without url", func(c *Config) {
			c.Extraction.Mode = "remote"
			c.Extraction.RemoteURL = ""
		}, "RemoteURL"},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }, "Level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("error %q does not name %s", err, tt.field)
			}
		})
	}

	if err := defaults().Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestRequireSecrets(t *testing.T) {
	cfg := defaults()
	err := cfg.RequireSecrets(false)
	if err == nil || !strings.Contains(err.Error(), "OMJ_OPENAI_API_KEY") {
		t.Fatalf("err = %v, want missing OMJ_OPENAI_API_KEY", err)
	}

	cfg.Secrets.OpenAIAPIKey = "k"
	if err := cfg.RequireSecrets(false); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := cfg.RequireSecrets(true); err == nil || !strings.Contains(err.Error(), "OMJ_ADMIN_TOKEN") {
		t.Errorf("err = %v, want missing OMJ_ADMIN_TOKEN", err)
	}

	cfg.Embedding.Provider = "ollama"
	cfg.Chat.Provider = "anthropic"
	cfg.Secrets.OpenAIAPIKey = ""
	if err := cfg.RequireSecrets(false); err == nil || !strings.Contains(err.Error(), "OMJ_ANTHROPIC_API_KEY") {
		t.Errorf("err = %v, want missing OMJ_ANTHROPIC_API_KEY", err)
	}
}

func TestSetKeyRoundTrip(t *testing.T) {
	b := emptyBackend(t)

	if err := setKeyWith(b, "retrieval.top_k", "7"); err != nil {
		t.Fatalf("SetKey: %v", err)
	}
	if err := setKeyWith(b, "ingest.processing_timeout", "15m"); err != nil {
		t.Fatalf("SetKey: %v", err)
	}

	reloaded := newFileBackend(b.path)
	cfg, err := loadWith(reloaded, "")
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Retrieval.TopK != 7 {
		t.Errorf("TopK = %d, want 7", cfg.Retrieval.TopK)
	}
	if cfg.Ingest.ProcessingTimeout != 15*time.Minute {
		t.Errorf("ProcessingTimeout = %v, want 15m", cfg.Ingest.ProcessingTimeout)
	}

	raw, err := os.ReadFile(b.path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), "retrieval:") {
		t.Errorf("config file not nested:\n%s", raw)
	}
}

func TestSetKeyRejects(t *testing.T) {
	b := emptyBackend(t)
	for _, tc := range []struct{ key, value string }{
		{"nope.key", "x"},
		{"secrets.admin_token", "x"},
		{"retrieval.top_k", "many"},
		{"retrieval.relevance_threshold", "2"},
	} {
		if err := setKeyWith(b, tc.key, tc.value); err == nil {
			t.Errorf("SetKey(%s=%s) should fail", tc.key, tc.value)
		}
	}
}

func TestShowAllHidesSecrets(t *testing.T) {
	for _, ki := range ShowAll(defaults()) {
		if strings.HasPrefix(ki.Key, "secrets.") {
			t.Errorf("ShowAll exposed %s", ki.Key)
		}
	}
	if len(ValidKeys()) != len(ShowAll(defaults())) {
		t.Error("ValidKeys and ShowAll disagree")
	}
}
