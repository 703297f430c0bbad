package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Server     ServerConfig
	Log        LogConfig
	Storage    StorageConfig
	Extraction ExtractionConfig
	Chunking   ChunkingConfig
	Embedding  EmbeddingConfig
	Ollama     OllamaConfig
	Vector     VectorConfig
	Ingest     IngestConfig
	Retrieval  RetrievalConfig
	Chat       ChatConfig
	Secrets    Secrets
}

type ServerConfig struct {
	Port    int    `validate:"min=1,max=65535"`
	SiteURL string `validate:"required,url"`
}

type LogConfig struct {
	Level  string `validate:"oneof=debug info warn error"`
	Format string `validate:"oneof=text json"`
}

type StorageConfig struct {
	DataDir string `validate:"required"`
}

type ExtractionConfig struct {
	Mode          string `validate:"oneof=local remote"`
	RemoteURL     string `validate:"required_if=Mode remote"`
	MinTextLength int    `validate:"min=1"`
}

type ChunkingConfig struct {
	MaxTokens         int `validate:"min=1"`
	OverlapChars      int `validate:"min=0"`
	PreserveSentences bool
}

type EmbeddingConfig struct {
	Provider          string  `validate:"oneof=openai ollama gemini"`
	Model             string  `validate:"required"`
	Dimensions        int     `validate:"min=0"`
	BaseURL           string  `validate:"omitempty,url"`
	RequestsPerSecond float64 `validate:"min=0"`
}

type OllamaConfig struct {
	BaseURL string `validate:"required,url"`
}

type VectorConfig struct {
	Backend    string `validate:"oneof=sqlite pinecone qdrant"`
	IndexHost  string `validate:"required_unless=Backend sqlite"`
	Collection string `validate:"required_if=Backend qdrant"`
	Namespace  string
}

type IngestConfig struct {
	BatchSize         int           `validate:"min=1"`
	BatchDelay        time.Duration `validate:"min=0"`
	Workers           int           `validate:"min=1"`
	ProcessingTimeout time.Duration `validate:"gt=0"`
	ReconcileSchedule string        `validate:"required"`
}

type RetrievalConfig struct {
	TopK               int     `validate:"min=1,max=100"`
	RelevanceThreshold float64 `validate:"min=0,max=1"`
}

type ChatConfig struct {
	Provider     string  `validate:"oneof=openai anthropic gemini ollama"`
	Model        string  `validate:"required"`
	MaxTokens    int     `validate:"min=1"`
	Temperature  float64 `validate:"min=0,max=2"`
	HistoryTurns int     `validate:"min=1"`
	MaxAttempts  int     `validate:"min=1"`
}

// Secrets are only read from the environment and never written to the config file.
type Secrets struct {
	OpenAIAPIKey    string
	AnthropicAPIKey string
	GeminiAPIKey    string
	PineconeAPIKey  string
	QdrantAPIKey    string
	AdminToken      string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:    3001,
			SiteURL: "http://localhost:3001",
		},
		Log: LogConfig{Level: "info", Format: "text"},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Extraction: ExtractionConfig{
			Mode:          "local",
			RemoteURL:     "http://localhost:3002",
			MinTextLength: 10,
		},
		Chunking: ChunkingConfig{
			MaxTokens:         500,
			OverlapChars:      200,
			PreserveSentences: true,
		},
		Embedding: EmbeddingConfig{
			Provider:          "openai",
			Model:             "text-embedding-3-small",
			RequestsPerSecond: 10,
		},
		Ollama: OllamaConfig{
			BaseURL: "http://localhost:11434",
		},
		Vector: VectorConfig{
			Backend:    "sqlite",
			Collection: "omj-documents",
		},
		Ingest: IngestConfig{
			BatchSize:         5,
			BatchDelay:        200 * time.Millisecond,
			Workers:           2,
			ProcessingTimeout: 10 * time.Minute,
			ReconcileSchedule: "@every 1m",
		},
		Retrieval: RetrievalConfig{
			TopK:               5,
			RelevanceThreshold: 0.5,
		},
		Chat: ChatConfig{
			Provider:     "openai",
			Model:        "gpt-4o-mini",
			MaxTokens:    4000,
			Temperature:  0.7,
			HistoryTurns: 8,
			MaxAttempts:  3,
		},
	}
}

// Load builds the configuration from defaults, the YAML file at
// $XDG_CONFIG_HOME/omjsite/config.yaml, a .env file in the working directory,
// and OMJ_* environment variables, in increasing order of precedence.
// Variables already present in the environment win over the .env file.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), ".env")
}

func loadWith(b ConfigBackend, dotenv string) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	if dotenv != "" {
		if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "[WARN] could not read %s: %v\n", dotenv, err)
		}
	}
	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges and allowed provider names.
func (c Config) Validate() error {
	err := validator.New().Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// RequireSecrets reports the first secret the configured providers need but
// the environment does not provide.
func (c Config) RequireSecrets(admin bool) error {
	needs := map[string]bool{}
	switch c.Embedding.Provider {
	case "openai":
		needs["OMJ_OPENAI_API_KEY"] = c.Secrets.OpenAIAPIKey == ""
	case "gemini":
		needs["OMJ_GEMINI_API_KEY"] = c.Secrets.GeminiAPIKey == ""
	}
	switch c.Chat.Provider {
	case "openai":
		needs["OMJ_OPENAI_API_KEY"] = needs["OMJ_OPENAI_API_KEY"] || c.Secrets.OpenAIAPIKey == ""
	case "anthropic":
		needs["OMJ_ANTHROPIC_API_KEY"] = c.Secrets.AnthropicAPIKey == ""
	case "gemini":
		needs["OMJ_GEMINI_API_KEY"] = c.Secrets.GeminiAPIKey == ""
	}
	if c.Vector.Backend == "pinecone" {
		needs["OMJ_PINECONE_API_KEY"] = c.Secrets.PineconeAPIKey == ""
	}
	if admin {
		needs["OMJ_ADMIN_TOKEN"] = c.Secrets.AdminToken == ""
	}

	for _, s := range specs {
		if s.secret && needs[s.env] {
			return fmt.Errorf("missing required secret: set environment variable %s", s.env)
		}
	}
	return nil
}
