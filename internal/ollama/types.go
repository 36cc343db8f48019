// Package ollama is the HTTP client for the local model runtime. It covers
// the three upstream calls the service needs: embeddings, streaming chat, and
// model listing.
package ollama

import "time"

// DefaultChatTimeout is the wall-clock limit for a chat call. There is no
// per-token idle timeout; slow models trickle tokens for minutes.
const DefaultChatTimeout = 120 * time.Second

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ModelInfo describes one installed model.
type ModelInfo struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

// embedRequest is the POST /api/embeddings body.
type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

// embedResponse is the POST /api/embeddings reply.
type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// chatRequest is the POST /api/chat body.
type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

// chatStreamChunk is one NDJSON line of the streamed chat reply.
type chatStreamChunk struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error,omitempty"`
}

// tagsResponse is the GET /api/tags reply.
type tagsResponse struct {
	Models []ModelInfo `json:"models"`
}
