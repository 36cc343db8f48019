package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ragerr "localrag/internal/errors"
)

func TestNewDefaults(t *testing.T) {
	cfg := New()

	assert.Equal(t, "http://localhost:11434", cfg.OllamaURL)
	assert.Equal(t, "nomic-embed-text", cfg.EmbeddingModel)
	assert.Equal(t, "llama3.1:8b", cfg.ChatModel)
	assert.Equal(t, 1000, cfg.ChunkSize)
	assert.Equal(t, 200, cfg.ChunkOverlap)
	assert.Equal(t, 5, cfg.TopK)
	assert.InDelta(t, 0.5, cfg.MinScore, 1e-9)
	assert.Equal(t, 4000, cfg.MaxContextTokens)
	assert.Equal(t, 3001, cfg.Port)
	assert.Equal(t, 120*time.Second, cfg.ChatTimeout)
	assert.False(t, cfg.Watch.Enabled)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultPort, cfg.Port)
}

func TestLoadFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "localrag.yaml")
	doc := `
ollama_url: http://gpu-box:11434
embedding_model: mxbai-embed-large
chunk_size: 1500
top_k: 8
min_score: 0.4
port: 8088
watch:
  enabled: true
  debounce: 5s
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://gpu-box:11434", cfg.OllamaURL)
	assert.Equal(t, "mxbai-embed-large", cfg.EmbeddingModel)
	assert.Equal(t, 1500, cfg.ChunkSize)
	assert.Equal(t, 8, cfg.TopK)
	assert.InDelta(t, 0.4, cfg.MinScore, 1e-6)
	assert.Equal(t, 8088, cfg.Port)
	assert.True(t, cfg.Watch.Enabled)
	assert.Equal(t, 5*time.Second, cfg.Watch.Debounce)
	// Unset keys keep defaults.
	assert.Equal(t, "llama3.1:8b", cfg.ChatModel)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("chunk_size: [not a number"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Equal(t, ragerr.ErrCodeConfigInvalid, ragerr.GetCode(err))
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOCALRAG_OLLAMA_URL", "http://other:11434")
	t.Setenv("LOCALRAG_PORT", "4242")
	t.Setenv("LOCALRAG_EMBEDDING_MODEL", "all-minilm")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://other:11434", cfg.OllamaURL)
	assert.Equal(t, 4242, cfg.Port)
	assert.Equal(t, "all-minilm", cfg.EmbeddingModel)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero chunk size", func(c *Config) { c.ChunkSize = 0 }},
		{"overlap >= chunk size", func(c *Config) { c.ChunkOverlap = 1000 }},
		{"negative top_k", func(c *Config) { c.TopK = -1 }},
		{"min_score out of range", func(c *Config) { c.MinScore = 1.5 }},
		{"zero context tokens", func(c *Config) { c.MaxContextTokens = 0 }},
		{"bad port", func(c *Config) { c.Port = 70000 }},
		{"empty embedding model", func(c *Config) { c.EmbeddingModel = "" }},
		{"empty chat model", func(c *Config) { c.ChatModel = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := New()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Equal(t, ragerr.ErrCodeConfigInvalid, ragerr.GetCode(err))
		})
	}
}

func TestDerivedPaths(t *testing.T) {
	cfg := New()
	cfg.DataDir = "/data"
	cfg.LogsDir = "/logs"

	assert.Equal(t, filepath.Join("/data", "queue.json"), cfg.QueueFile())
	assert.Equal(t, filepath.Join("/logs", "query_log.jsonl"), cfg.QueryLogFile())
	assert.Equal(t, filepath.Join("/data", "docs"), cfg.CollectionDir("docs"))
}
