package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "OMJ_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.site_url", typ: kString, env: "OMJ_SITE_URL",
		apply:   func(cfg *Config, v any) { cfg.Server.SiteURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.SiteURL },
	},
	{
		key: "log.level", typ: kString, env: "OMJ_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.format", typ: kString, env: "OMJ_LOG_FORMAT",
		apply:   func(cfg *Config, v any) { cfg.Log.Format = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Format },
	},
	{
		key: "storage.data_dir", typ: kString, env: "OMJ_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "extraction.mode", typ: kString, env: "OMJ_EXTRACTION_MODE",
		apply:   func(cfg *Config, v any) { cfg.Extraction.Mode = v.(string) },
		extract: func(cfg Config) any { return cfg.Extraction.Mode },
	},
	{
		key: "extraction.remote_url", typ: kString, env: "OMJ_EXTRACTION_REMOTE_URL",
		apply:   func(cfg *Config, v any) { cfg.Extraction.RemoteURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Extraction.RemoteURL },
	},
	{
		key: "extraction.min_text_length", typ: kInt, env: "OMJ_EXTRACTION_MIN_TEXT_LENGTH",
		apply:   func(cfg *Config, v any) { cfg.Extraction.MinTextLength = v.(int) },
		extract: func(cfg Config) any { return cfg.Extraction.MinTextLength },
	},
	{
		key: "chunking.max_tokens", typ: kInt, env: "OMJ_CHUNKING_MAX_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Chunking.MaxTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Chunking.MaxTokens },
	},
	{
		key: "chunking.overlap_chars", typ: kInt, env: "OMJ_CHUNKING_OVERLAP_CHARS",
		apply:   func(cfg *Config, v any) { cfg.Chunking.OverlapChars = v.(int) },
		extract: func(cfg Config) any { return cfg.Chunking.OverlapChars },
	},
	{
		key: "chunking.preserve_sentences", typ: kBool, env: "OMJ_CHUNKING_PRESERVE_SENTENCES",
		apply:   func(cfg *Config, v any) { cfg.Chunking.PreserveSentences = v.(bool) },
		extract: func(cfg Config) any { return cfg.Chunking.PreserveSentences },
	},
	{
		key: "embedding.provider", typ: kString, env: "OMJ_EMBEDDING_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.Provider },
	},
	{
		key: "embedding.model", typ: kString, env: "OMJ_EMBEDDING_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.Model },
	},
	{
		key: "embedding.dimensions", typ: kInt, env: "OMJ_EMBEDDING_DIMENSIONS",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Dimensions = v.(int) },
		extract: func(cfg Config) any { return cfg.Embedding.Dimensions },
	},
	{
		key: "embedding.base_url", typ: kString, env: "OMJ_EMBEDDING_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Embedding.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.BaseURL },
	},
	{
		key: "embedding.requests_per_second", typ: kFloat, env: "OMJ_EMBEDDING_REQUESTS_PER_SECOND",
		apply:   func(cfg *Config, v any) { cfg.Embedding.RequestsPerSecond = v.(float64) },
		extract: func(cfg Config) any { return cfg.Embedding.RequestsPerSecond },
	},
	{
		key: "ollama.base_url", typ: kString, env: "OMJ_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "vector.backend", typ: kString, env: "OMJ_VECTOR_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Vector.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Vector.Backend },
	},
	{
		key: "vector.index_host", typ: kString, env: "OMJ_VECTOR_INDEX_HOST",
		apply:   func(cfg *Config, v any) { cfg.Vector.IndexHost = v.(string) },
		extract: func(cfg Config) any { return cfg.Vector.IndexHost },
	},
	{
		key: "vector.collection", typ: kString, env: "OMJ_VECTOR_COLLECTION",
		apply:   func(cfg *Config, v any) { cfg.Vector.Collection = v.(string) },
		extract: func(cfg Config) any { return cfg.Vector.Collection },
	},
	{
		key: "vector.namespace", typ: kString, env: "OMJ_VECTOR_NAMESPACE",
		apply:   func(cfg *Config, v any) { cfg.Vector.Namespace = v.(string) },
		extract: func(cfg Config) any { return cfg.Vector.Namespace },
	},
	{
		key: "ingest.batch_size", typ: kInt, env: "OMJ_INGEST_BATCH_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Ingest.BatchSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Ingest.BatchSize },
	},
	{
		key: "ingest.batch_delay", typ: kDuration, env: "OMJ_INGEST_BATCH_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Ingest.BatchDelay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Ingest.BatchDelay },
	},
	{
		key: "ingest.workers", typ: kInt, env: "OMJ_INGEST_WORKERS",
		apply:   func(cfg *Config, v any) { cfg.Ingest.Workers = v.(int) },
		extract: func(cfg Config) any { return cfg.Ingest.Workers },
	},
	{
		key: "ingest.processing_timeout", typ: kDuration, env: "OMJ_INGEST_PROCESSING_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Ingest.ProcessingTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Ingest.ProcessingTimeout },
	},
	{
		key: "ingest.reconcile_schedule", typ: kString, env: "OMJ_INGEST_RECONCILE_SCHEDULE",
		apply:   func(cfg *Config, v any) { cfg.Ingest.ReconcileSchedule = v.(string) },
		extract: func(cfg Config) any { return cfg.Ingest.ReconcileSchedule },
	},
	{
		key: "retrieval.top_k", typ: kInt, env: "OMJ_RETRIEVAL_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.TopK },
	},
	{
		key: "retrieval.relevance_threshold", typ: kFloat, env: "OMJ_RETRIEVAL_RELEVANCE_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.RelevanceThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Retrieval.RelevanceThreshold },
	},
	{
		key: "chat.provider", typ: kString, env: "OMJ_CHAT_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Chat.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Chat.Provider },
	},
	{
		key: "chat.model", typ: kString, env: "OMJ_CHAT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Chat.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Chat.Model },
	},
	{
		key: "chat.max_tokens", typ: kInt, env: "OMJ_CHAT_MAX_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Chat.MaxTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Chat.MaxTokens },
	},
	{
		key: "chat.temperature", typ: kFloat, env: "OMJ_CHAT_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.Chat.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.Chat.Temperature },
	},
	{
		key: "chat.history_turns", typ: kInt, env: "OMJ_CHAT_HISTORY_TURNS",
		apply:   func(cfg *Config, v any) { cfg.Chat.HistoryTurns = v.(int) },
		extract: func(cfg Config) any { return cfg.Chat.HistoryTurns },
	},
	{
		key: "chat.max_attempts", typ: kInt, env: "OMJ_CHAT_MAX_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.Chat.MaxAttempts = v.(int) },
		extract: func(cfg Config) any { return cfg.Chat.MaxAttempts },
	},
	{
		key: "secrets.openai_api_key", typ: kString, env: "OMJ_OPENAI_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Secrets.OpenAIAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Secrets.OpenAIAPIKey },
	},
	{
		key: "secrets.anthropic_api_key", typ: kString, env: "OMJ_ANTHROPIC_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Secrets.AnthropicAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Secrets.AnthropicAPIKey },
	},
	{
		key: "secrets.gemini_api_key", typ: kString, env: "OMJ_GEMINI_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Secrets.GeminiAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Secrets.GeminiAPIKey },
	},
	{
		key: "secrets.pinecone_api_key", typ: kString, env: "OMJ_PINECONE_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Secrets.PineconeAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Secrets.PineconeAPIKey },
	},
	{
		key: "secrets.qdrant_api_key", typ: kString, env: "OMJ_QDRANT_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Secrets.QdrantAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Secrets.QdrantAPIKey },
	},
	{
		key: "secrets.admin_token", typ: kString, env: "OMJ_ADMIN_TOKEN",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Secrets.AdminToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Secrets.AdminToken },
	},
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// parseValue converts a raw string into the Go type a key expects.
func parseValue(typ keyType, raw string) (any, error) {
	switch typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse config key %s=%q: %v. Using default value.\n", s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
