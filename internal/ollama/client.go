package ollama

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	ragerr "localrag/internal/errors"
)

// DefaultCacheSize is the default number of embeddings kept in the LRU cache.
// At 768 dims * 4 bytes * 4096 entries this is about 12MB.
const DefaultCacheSize = 4096

// Config configures the client.
type Config struct {
	// BaseURL is the runtime base URL, e.g. http://localhost:11434.
	BaseURL string

	// ChatTimeout bounds the total wall time of a chat call.
	ChatTimeout time.Duration

	// CacheSize is the embedding LRU capacity. Zero uses DefaultCacheSize,
	// negative disables caching.
	CacheSize int
}

// Client talks to the model runtime.
//
// Embed calls are serialized by an internal mutex: the runtime cannot service
// concurrent requests that race a model swap, so query-path and ingestion-path
// embeds take turns.
type Client struct {
	baseURL     string
	http        *http.Client
	chatTimeout time.Duration

	embedMu sync.Mutex
	cache   *lru.Cache[string, []float32]
}

// NewClient creates a client for the given runtime.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.ChatTimeout <= 0 {
		cfg.ChatTimeout = DefaultChatTimeout
	}

	var cache *lru.Cache[string, []float32]
	if cfg.CacheSize >= 0 {
		size := cfg.CacheSize
		if size == 0 {
			size = DefaultCacheSize
		}
		cache, _ = lru.New[string, []float32](size)
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		// No client-level timeout: it would cap streaming chat reads.
		// Per-call deadlines come from contexts.
		http:        &http.Client{},
		chatTimeout: cfg.ChatTimeout,
		cache:       cache,
	}
}

// cacheKey hashes model and text into a fixed-length cache key.
func cacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

// Embed returns the embedding vector for text under the given model.
// Identical (model, text) pairs are served from the LRU cache.
func (c *Client) Embed(ctx context.Context, text, model string) ([]float32, error) {
	key := cacheKey(model, text)
	if c.cache != nil {
		if vec, ok := c.cache.Get(key); ok {
			return vec, nil
		}
	}

	c.embedMu.Lock()
	defer c.embedMu.Unlock()

	// Re-check: another caller may have filled the cache while we waited.
	if c.cache != nil {
		if vec, ok := c.cache.Get(key); ok {
			return vec, nil
		}
	}

	body, err := json.Marshal(embedRequest{Model: model, Prompt: text})
	if err != nil {
		return nil, ragerr.InternalError("marshal embed request", err)
	}

	resp, err := c.post(ctx, "/api/embeddings", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, upstreamStatusError(resp)
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, ragerr.New(ragerr.ErrCodeUpstreamError, "decode embed response: "+err.Error(), err)
	}
	if len(out.Embedding) == 0 {
		return nil, ragerr.Newf(ragerr.ErrCodeUpstreamError, "model %q returned an empty embedding", model)
	}

	if c.cache != nil {
		c.cache.Add(key, out.Embedding)
	}
	return out.Embedding, nil
}

// Chat streams a completion, invoking onToken for each content fragment in
// arrival order. It returns when the upstream reports done, the context is
// cancelled, or onToken returns an error. The whole call is bounded by the
// configured chat timeout.
func (c *Client) Chat(ctx context.Context, model string, messages []Message, onToken func(token string) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.chatTimeout)
	defer cancel()

	body, err := json.Marshal(chatRequest{Model: model, Messages: messages, Stream: true})
	if err != nil {
		return ragerr.InternalError("marshal chat request", err)
	}

	resp, err := c.post(ctx, "/api/chat", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return upstreamStatusError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var chunk chatStreamChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return ragerr.New(ragerr.ErrCodeUpstreamError, "decode chat stream: "+err.Error(), err)
		}
		if chunk.Error != "" {
			return ragerr.Newf(ragerr.ErrCodeUpstreamError, "chat stream error: %s", chunk.Error)
		}
		if chunk.Message.Content != "" {
			if err := onToken(chunk.Message.Content); err != nil {
				return err
			}
		}
		if chunk.Done {
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ragerr.New(ragerr.ErrCodeCancelled, "chat stream cancelled", ctxErr)
		}
		return ragerr.New(ragerr.ErrCodeUpstreamError, "read chat stream: "+err.Error(), err)
	}
	return nil
}

// ListModels returns the installed models.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, ragerr.InternalError("build tags request", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, ragerr.UpstreamUnavailable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, upstreamStatusError(resp)
	}

	var out tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, ragerr.New(ragerr.ErrCodeUpstreamError, "decode tags response: "+err.Error(), err)
	}
	return out.Models, nil
}

// HasModel reports whether a model (with or without tag) is installed.
func HasModel(models []ModelInfo, name string) bool {
	for _, m := range models {
		if m.Name == name || strings.SplitN(m.Name, ":", 2)[0] == name {
			return true
		}
	}
	return false
}

// Heartbeat checks that the runtime answers at all.
func (c *Client) Heartbeat(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := c.ListModels(ctx)
	return err
}

// BaseURL returns the configured runtime URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, ragerr.InternalError("build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
			return nil, ragerr.New(ragerr.ErrCodeCancelled, "request cancelled", err)
		}
		return nil, ragerr.UpstreamUnavailable(err)
	}
	return resp, nil
}

func upstreamStatusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = resp.Status
	}
	return ragerr.UpstreamError(resp.StatusCode, msg).
		WithDetail("url", fmt.Sprint(resp.Request.URL))
}
