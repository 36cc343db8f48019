// Package config loads and validates the localrag configuration document.
//
// Precedence, lowest to highest: built-in defaults, YAML config file,
// LOCALRAG_* environment variables, CLI flags (applied by the cmd layer).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	ragerr "localrag/internal/errors"
)

// Default configuration values.
const (
	DefaultOllamaURL        = "http://localhost:11434"
	DefaultEmbeddingModel   = "nomic-embed-text"
	DefaultChatModel        = "llama3.1:8b"
	DefaultChunkSize        = 1000
	DefaultChunkOverlap     = 200
	DefaultTopK             = 5
	DefaultMinScore         = 0.5
	DefaultMaxContextTokens = 4000
	DefaultPort             = 3001
	DefaultEmbedCacheSize   = 4096
	DefaultChatTimeout      = 120 * time.Second
)

// Config represents the complete localrag configuration.
type Config struct {
	// OllamaURL is the base URL of the upstream model runtime.
	OllamaURL string `yaml:"ollama_url" json:"ollama_url"`

	// EmbeddingModel is the model used for all embed calls. A collection is
	// bound to the model that produced its vectors.
	EmbeddingModel string `yaml:"embedding_model" json:"embedding_model"`

	// ChatModel is the model used for chat completion.
	ChatModel string `yaml:"chat_model" json:"chat_model"`

	// ChunkSize is the maximum chunk size in characters.
	ChunkSize int `yaml:"chunk_size" json:"chunk_size"`

	// ChunkOverlap is the sliding-window overlap in characters.
	ChunkOverlap int `yaml:"chunk_overlap" json:"chunk_overlap"`

	// TopK is the number of chunks retrieved per query.
	TopK int `yaml:"top_k" json:"top_k"`

	// MinScore is the minimum cosine similarity for a retrieved chunk.
	MinScore float32 `yaml:"min_score" json:"min_score"`

	// MaxContextTokens bounds the estimated token count of assembled context.
	MaxContextTokens int `yaml:"max_context_tokens" json:"max_context_tokens"`

	// DataDir holds collections and the ingestion queue.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	// LogsDir holds the server log and the query telemetry log.
	LogsDir string `yaml:"logs_dir" json:"logs_dir"`

	// Port is the HTTP listen port.
	Port int `yaml:"port" json:"port"`

	// EmbedCacheSize is the LRU capacity of the embedding cache (entries).
	EmbedCacheSize int `yaml:"embed_cache_size" json:"embed_cache_size"`

	// ChatTimeout is the wall-clock limit for an upstream chat call.
	ChatTimeout time.Duration `yaml:"chat_timeout" json:"chat_timeout"`

	// LogLevel is the minimum log level (debug, info, warn, error).
	LogLevel string `yaml:"log_level" json:"log_level"`

	// Watch configures automatic re-ingestion of watched roots.
	Watch WatchConfig `yaml:"watch" json:"watch"`
}

// WatchConfig configures filesystem watching for auto re-ingestion.
type WatchConfig struct {
	// Enabled turns on fsnotify watching of previously ingested roots.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Debounce is how long to wait after the last event before re-enqueueing.
	Debounce time.Duration `yaml:"debounce" json:"debounce"`
}

// New returns a Config populated with defaults.
func New() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	base := filepath.Join(home, ".localrag")

	return &Config{
		OllamaURL:        DefaultOllamaURL,
		EmbeddingModel:   DefaultEmbeddingModel,
		ChatModel:        DefaultChatModel,
		ChunkSize:        DefaultChunkSize,
		ChunkOverlap:     DefaultChunkOverlap,
		TopK:             DefaultTopK,
		MinScore:         DefaultMinScore,
		MaxContextTokens: DefaultMaxContextTokens,
		DataDir:          filepath.Join(base, "data"),
		LogsDir:          filepath.Join(base, "logs"),
		Port:             DefaultPort,
		EmbedCacheSize:   DefaultEmbedCacheSize,
		ChatTimeout:      DefaultChatTimeout,
		LogLevel:         "info",
		Watch: WatchConfig{
			Enabled:  false,
			Debounce: 2 * time.Second,
		},
	}
}

// Load reads configuration from the given YAML file, falling back to defaults
// when the path is empty or the file does not exist. Environment variables are
// applied after the file.
func Load(path string) (*Config, error) {
	cfg := New()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Defaults only; a missing explicit config is not an error.
		case err != nil:
			return nil, ragerr.Wrap(ragerr.ErrCodeConfigNotFound, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, ragerr.New(ragerr.ErrCodeConfigInvalid,
					fmt.Sprintf("invalid config %s: %v", path, err), err)
			}
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields from LOCALRAG_* environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("LOCALRAG_OLLAMA_URL"); v != "" {
		c.OllamaURL = v
	}
	if v := os.Getenv("LOCALRAG_EMBEDDING_MODEL"); v != "" {
		c.EmbeddingModel = v
	}
	if v := os.Getenv("LOCALRAG_CHAT_MODEL"); v != "" {
		c.ChatModel = v
	}
	if v := os.Getenv("LOCALRAG_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("LOCALRAG_LOGS_DIR"); v != "" {
		c.LogsDir = v
	}
	if v := os.Getenv("LOCALRAG_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Port = port
		}
	}
	if v := os.Getenv("LOCALRAG_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.ChunkSize <= 0 {
		return ragerr.Newf(ragerr.ErrCodeConfigInvalid, "chunk_size must be positive, got %d", c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return ragerr.Newf(ragerr.ErrCodeConfigInvalid,
			"chunk_overlap must be in [0, chunk_size), got %d with chunk_size %d", c.ChunkOverlap, c.ChunkSize)
	}
	if c.TopK <= 0 {
		return ragerr.Newf(ragerr.ErrCodeConfigInvalid, "top_k must be positive, got %d", c.TopK)
	}
	if c.MinScore < -1 || c.MinScore > 1 {
		return ragerr.Newf(ragerr.ErrCodeConfigInvalid, "min_score must be in [-1, 1], got %v", c.MinScore)
	}
	if c.MaxContextTokens <= 0 {
		return ragerr.Newf(ragerr.ErrCodeConfigInvalid, "max_context_tokens must be positive, got %d", c.MaxContextTokens)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return ragerr.Newf(ragerr.ErrCodeConfigInvalid, "port must be in (0, 65535], got %d", c.Port)
	}
	if c.EmbeddingModel == "" {
		return ragerr.Newf(ragerr.ErrCodeConfigInvalid, "embedding_model must not be empty")
	}
	if c.ChatModel == "" {
		return ragerr.Newf(ragerr.ErrCodeConfigInvalid, "chat_model must not be empty")
	}
	return nil
}

// QueueFile returns the path of the persisted ingestion queue.
func (c *Config) QueueFile() string {
	return filepath.Join(c.DataDir, "queue.json")
}

// QueryLogFile returns the path of the query telemetry log.
func (c *Config) QueryLogFile() string {
	return filepath.Join(c.LogsDir, "query_log.jsonl")
}

// CollectionDir returns the directory holding a collection's files.
func (c *Config) CollectionDir(collection string) string {
	return filepath.Join(c.DataDir, collection)
}
