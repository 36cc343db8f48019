package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ragerr "localrag/internal/errors"
)

// fakeRuntime is a minimal Ollama stand-in.
type fakeRuntime struct {
	embedCalls  atomic.Int64
	concurrency atomic.Int64
	maxSeen     atomic.Int64
	embedDelay  time.Duration
}

func (f *fakeRuntime) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/embeddings", func(w http.ResponseWriter, r *http.Request) {
		cur := f.concurrency.Add(1)
		defer f.concurrency.Add(-1)
		for {
			prev := f.maxSeen.Load()
			if cur <= prev || f.maxSeen.CompareAndSwap(prev, cur) {
				break
			}
		}
		if f.embedDelay > 0 {
			time.Sleep(f.embedDelay)
		}
		f.embedCalls.Add(1)

		var req embedRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(embedResponse{Embedding: []float32{1, 2, 3}})
	})
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		fl := w.(http.Flusher)
		for _, tok := range []string{"Hello", " ", "world"} {
			fmt.Fprintf(w, `{"message":{"role":"assistant","content":%q},"done":false}`+"\n", tok)
			fl.Flush()
		}
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":""},"done":true}`)
	})
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(tagsResponse{Models: []ModelInfo{
			{Name: "nomic-embed-text:latest"},
			{Name: "llama3.1:8b"},
		}})
	})
	return mux
}

func newTestClient(t *testing.T, f *fakeRuntime) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL})
}

func TestEmbedReturnsVector(t *testing.T) {
	c := newTestClient(t, &fakeRuntime{})
	vec, err := c.Embed(context.Background(), "hello", "nomic-embed-text")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, vec)
}

func TestEmbedCachesIdenticalRequests(t *testing.T) {
	f := &fakeRuntime{}
	c := newTestClient(t, f)

	for range 5 {
		_, err := c.Embed(context.Background(), "same text", "m")
		require.NoError(t, err)
	}
	assert.Equal(t, int64(1), f.embedCalls.Load())

	_, err := c.Embed(context.Background(), "same text", "other-model")
	require.NoError(t, err)
	assert.Equal(t, int64(2), f.embedCalls.Load(), "cache key includes the model")
}

func TestEmbedSerializesConcurrentCalls(t *testing.T) {
	f := &fakeRuntime{embedDelay: 20 * time.Millisecond}
	c := newTestClient(t, f)

	done := make(chan error, 8)
	for i := range 8 {
		go func(i int) {
			_, err := c.Embed(context.Background(), fmt.Sprintf("text %d", i), "m")
			done <- err
		}(i)
	}
	for range 8 {
		require.NoError(t, <-done)
	}
	assert.Equal(t, int64(1), f.maxSeen.Load(), "at most one embed in flight")
}

func TestEmbedUpstreamDown(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://127.0.0.1:1"})
	_, err := c.Embed(context.Background(), "hello", "m")
	require.Error(t, err)
	assert.Equal(t, ragerr.ErrCodeUpstreamUnavailable, ragerr.GetCode(err))
}

func TestEmbedUpstreamErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	_, err := c.Embed(context.Background(), "hello", "missing")
	require.Error(t, err)
	assert.Equal(t, ragerr.ErrCodeUpstreamError, ragerr.GetCode(err))
	assert.Contains(t, err.Error(), "model not found")
}

func TestChatStreamsTokensInOrder(t *testing.T) {
	c := newTestClient(t, &fakeRuntime{})

	var got []string
	err := c.Chat(context.Background(), "llama3.1:8b", []Message{{Role: "user", Content: "hi"}},
		func(tok string) error {
			got = append(got, tok)
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, []string{"Hello", " ", "world"}, got)
}

func TestChatCancelledMidStream(t *testing.T) {
	blocker := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fl := w.(http.Flusher)
		fmt.Fprintln(w, `{"message":{"content":"first"},"done":false}`)
		fl.Flush()
		select {
		case <-blocker:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(blocker)

	c := NewClient(Config{BaseURL: srv.URL})
	ctx, cancel := context.WithCancel(context.Background())

	err := c.Chat(ctx, "m", []Message{{Role: "user", Content: "hi"}}, func(tok string) error {
		cancel() // cancel after the first token
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, ragerr.ErrCodeCancelled, ragerr.GetCode(err))
}

func TestChatPropagatesStreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"error":"model crashed"}`)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	err := c.Chat(context.Background(), "m", nil, func(string) error { return nil })
	require.Error(t, err)
	assert.Equal(t, ragerr.ErrCodeUpstreamError, ragerr.GetCode(err))
}

func TestListModelsAndHasModel(t *testing.T) {
	c := newTestClient(t, &fakeRuntime{})
	models, err := c.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)

	assert.True(t, HasModel(models, "nomic-embed-text"))
	assert.True(t, HasModel(models, "llama3.1:8b"))
	assert.False(t, HasModel(models, "mistral"))
}

func TestHeartbeat(t *testing.T) {
	c := newTestClient(t, &fakeRuntime{})
	assert.NoError(t, c.Heartbeat(context.Background()))

	down := NewClient(Config{BaseURL: "http://127.0.0.1:1"})
	assert.Error(t, down.Heartbeat(context.Background()))
}

func TestChatRequestShape(t *testing.T) {
	var captured chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		fmt.Fprintln(w, `{"done":true}`)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	msgs := []Message{
		{Role: "system", Content: "use ONLY the provided context"},
		{Role: "user", Content: "what is the capital of France?"},
	}
	require.NoError(t, c.Chat(context.Background(), "llama3.1:8b", msgs, func(string) error { return nil }))

	assert.Equal(t, "llama3.1:8b", captured.Model)
	assert.True(t, captured.Stream)
	require.Len(t, captured.Messages, 2)
	assert.True(t, strings.HasPrefix(captured.Messages[0].Content, "use ONLY"))
}
