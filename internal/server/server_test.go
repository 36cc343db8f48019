package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"localrag/internal/config"
	"localrag/internal/ingest"
	"localrag/internal/ollama"
	"localrag/internal/qlog"
	"localrag/internal/query"
	"localrag/internal/queue"
	"localrag/internal/store"
)

// fakeUpstream is a stand-in model runtime. Every embedding is the same
// vector so any query matches any chunk.
type fakeUpstream struct {
	tagsCalls atomic.Int64
	models    []string
}

func (f *fakeUpstream) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/embeddings", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"embedding": []float32{0.5, 0.5, 0.5}})
	})
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		fl := w.(http.Flusher)
		for _, tok := range []string{"grounded", " answer"} {
			fmt.Fprintf(w, `{"message":{"content":%q},"done":false}`+"\n", tok)
			fl.Flush()
		}
		fmt.Fprintln(w, `{"done":true}`)
	})
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		f.tagsCalls.Add(1)
		var models []map[string]any
		for _, m := range f.models {
			models = append(models, map[string]any{"name": m})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"models": models})
	})
	return mux
}

type testServer struct {
	srv      *Server
	http     *httptest.Server
	upstream *fakeUpstream
	cfg      *config.Config
	docsDir  string
	queue    *queue.Queue
	cancel   context.CancelFunc
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	upstream := &fakeUpstream{models: []string{"test-embed", "test-chat"}}
	upstreamSrv := httptest.NewServer(upstream.handler())
	t.Cleanup(upstreamSrv.Close)

	cfg := config.New()
	cfg.DataDir = t.TempDir()
	cfg.LogsDir = t.TempDir()
	cfg.OllamaURL = upstreamSrv.URL
	cfg.EmbeddingModel = "test-embed"
	cfg.ChatModel = "test-chat"

	client := ollama.NewClient(ollama.Config{BaseURL: upstreamSrv.URL})
	manager := store.NewManager(cfg.DataDir, cfg.EmbeddingModel)
	require.NoError(t, manager.LoadAll())

	qlogger, err := qlog.New(cfg.QueryLogFile(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = qlogger.Close() })

	pipe := ingest.NewPipeline(ingest.Config{
		DataDir:        cfg.DataDir,
		EmbeddingModel: cfg.EmbeddingModel,
		ChunkSize:      cfg.ChunkSize,
		ChunkOverlap:   cfg.ChunkOverlap,
	}, client, manager, nil)

	q, err := queue.New(cfg.QueueFile(), pipe.Run, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	q.Start(ctx)

	qp := query.New(query.Config{
		EmbeddingModel:   cfg.EmbeddingModel,
		ChatModel:        cfg.ChatModel,
		TopK:             cfg.TopK,
		MinScore:         cfg.MinScore,
		MaxContextTokens: cfg.MaxContextTokens,
	}, client, client, manager, qlogger, nil)

	srv, err := New(cfg, Deps{
		Client:   client,
		Manager:  manager,
		Pipeline: qp,
		Queue:    q,
		QueryLog: qlogger,
	})
	require.NoError(t, err)

	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)

	return &testServer{
		srv:      srv,
		http:     hs,
		upstream: upstream,
		cfg:      cfg,
		docsDir:  t.TempDir(),
		queue:    q,
		cancel:   cancel,
	}
}

func (ts *testServer) postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(ts.http.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func (ts *testServer) getJSON(t *testing.T, path string, out any) int {
	t.Helper()
	resp, err := http.Get(ts.http.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (ts *testServer) ingestAndWait(t *testing.T, collection string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(ts.docsDir, "guide.md"),
		[]byte("# Guide\n\nThe install command is localrag ingest."), 0o644))

	resp := ts.postJSON(t, "/api/queue", map[string]string{
		"path": ts.docsDir, "collection": collection,
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var job queue.Job
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&job))

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, ok := ts.queue.Get(job.ID)
		require.True(t, ok)
		if got.Status == queue.StatusCompleted {
			return
		}
		require.NotEqual(t, queue.StatusFailed, got.Status, "job failed: %s", got.ErrorMessage)
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("ingestion job never completed")
}

func decodeProblem(t *testing.T, resp *http.Response) Problem {
	t.Helper()
	defer resp.Body.Close()
	var p Problem
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&p))
	return p
}

func TestEnqueueValidation(t *testing.T) {
	ts := newTestServer(t)

	cases := []struct {
		name       string
		path       string
		collection string
		wantStatus int
	}{
		{"bad collection", "/tmp/docs", "no spaces!", 400},
		{"relative path", "docs", "docs", 403},
		{"parent traversal", "/tmp/../etc/passwd", "docs", 403},
		{"etc denied", "/etc/ssl", "docs", 403},
		{"var denied", "/var/log", "docs", 403},
		{"windows system denied", `C:\Windows\System32`, "docs", 403},
		{"program files denied", `C:\Program Files\App`, "docs", 403},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := ts.postJSON(t, "/api/queue", map[string]string{
				"path": tc.path, "collection": tc.collection,
			})
			p := decodeProblem(t, resp)
			assert.Equal(t, tc.wantStatus, resp.StatusCode)
			assert.Equal(t, tc.wantStatus, p.Status)
			assert.NotEmpty(t, p.Detail)
		})
	}
}

func TestQueueLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	ts.ingestAndWait(t, "docs")

	var jobs []queue.Job
	require.Equal(t, http.StatusOK, ts.getJSON(t, "/api/queue", &jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, queue.StatusCompleted, jobs[0].Status)
	assert.Contains(t, jobs[0].Progress, "1 file indexed")

	// Cancelling a completed job is a 400.
	req, err := http.NewRequest(http.MethodDelete, ts.http.URL+"/api/queue/"+jobs[0].ID, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	// Purge drops it.
	req, err = http.NewRequest(http.MethodDelete, ts.http.URL+"/api/queue", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var purged map[string]int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&purged))
	assert.Equal(t, 1, purged["removed"])
}

func TestMetricsAfterIngestion(t *testing.T) {
	ts := newTestServer(t)
	ts.ingestAndWait(t, "docs")

	var resp metricsResponse
	require.Equal(t, http.StatusOK, ts.getJSON(t, "/api/index/metrics", &resp))
	require.Len(t, resp.Collections, 1)
	info := resp.Collections[0]
	assert.Equal(t, "docs", info.Collection)
	assert.Equal(t, 1, info.VectorCount)
	assert.Equal(t, 3, info.Dimension)
	assert.Equal(t, "test-embed", info.EmbeddingModel)
	assert.Equal(t, store.HealthOK, info.Health)
	assert.Greater(t, info.TotalSizeBytes, int64(0))
}

func TestHealthCached(t *testing.T) {
	ts := newTestServer(t)

	var h healthResponse
	require.Equal(t, http.StatusOK, ts.getJSON(t, "/api/health", &h))
	assert.Equal(t, "ok", h.Status)
	assert.True(t, h.Upstream)

	calls := ts.upstream.tagsCalls.Load()
	require.Equal(t, http.StatusOK, ts.getJSON(t, "/api/health", &h))
	assert.Equal(t, calls, ts.upstream.tagsCalls.Load(), "second request served from cache")
}

func TestModelsReadiness(t *testing.T) {
	ts := newTestServer(t)
	ts.upstream.models = []string{"test-embed"} // chat model missing

	var resp modelsResponse
	require.Equal(t, http.StatusOK, ts.getJSON(t, "/api/models", &resp))
	assert.False(t, resp.Ready)
	require.Len(t, resp.Required, 2)
	assert.True(t, resp.Required[0].Installed)
	assert.False(t, resp.Required[1].Installed)
	assert.Equal(t, "ollama pull test-chat", resp.Required[1].PullCommand)
}

func TestChatOnEmptyCollection(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.postJSON(t, "/api/chat", map[string]any{
		"messages":   []map[string]string{{"role": "user", "content": "hello"}},
		"collection": "docs",
	})
	p := decodeProblem(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, strings.ToLower(p.Detail), "docs")
}

// sseEvents reads all data events from an SSE body.
func sseEvents(t *testing.T, resp *http.Response) []map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var events []map[string]any
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev map[string]any
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		events = append(events, ev)
	}
	return events
}

func TestChatStreamsSSE(t *testing.T) {
	ts := newTestServer(t)
	ts.ingestAndWait(t, "docs")

	resp := ts.postJSON(t, "/api/chat", map[string]any{
		"messages":   []map[string]string{{"role": "user", "content": "how do I install?"}},
		"collection": "docs",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	events := sseEvents(t, resp)
	require.GreaterOrEqual(t, len(events), 4)

	assert.Equal(t, "status", events[0]["type"])
	assert.Equal(t, "metadata", events[1]["type"])

	citations := events[1]["citations"].([]any)
	require.NotEmpty(t, citations)
	first := citations[0].(map[string]any)
	assert.Equal(t, "guide.md", first["fileName"])
	assert.Equal(t, "Guide", first["headerContext"])

	var answer strings.Builder
	for _, ev := range events[2:] {
		msg, ok := ev["message"].(map[string]any)
		require.True(t, ok, "post-metadata events are tokens: %v", ev)
		answer.WriteString(msg["content"].(string))
	}
	assert.Equal(t, "grounded answer", answer.String())
}

func TestQueueStreamSendsSnapshot(t *testing.T) {
	ts := newTestServer(t)
	ts.ingestAndWait(t, "docs")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.http.URL+"/api/queue/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var jobs []queue.Job
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &jobs))
		require.Len(t, jobs, 1)
		assert.Equal(t, queue.StatusCompleted, jobs[0].Status)
		return
	}
	t.Fatal("no snapshot received")
}

func TestClientLogPassThrough(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.postJSON(t, "/api/log", map[string]any{"level": "info", "message": "ui started"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestSecondInstanceRefused(t *testing.T) {
	ts := newTestServer(t)

	_, err := New(ts.cfg, Deps{
		Client:  ollama.NewClient(ollama.Config{BaseURL: ts.http.URL}),
		Manager: store.NewManager(ts.cfg.DataDir, ts.cfg.EmbeddingModel),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "another instance")
}

func TestValidateIngestPath(t *testing.T) {
	assert.NoError(t, validateIngestPath("/home/user/docs"))
	assert.NoError(t, validateIngestPath(`C:\Users\dev\notes`))
	assert.Error(t, validateIngestPath(""))
	assert.Error(t, validateIngestPath("relative/docs"))
	assert.Error(t, validateIngestPath("/home/user/../../etc"))
	assert.Error(t, validateIngestPath("/etc"))
	assert.Error(t, validateIngestPath("/var/lib"))
	assert.Error(t, validateIngestPath(`c:\windows`))
	assert.Error(t, validateIngestPath(`C:\Program Files`))
	// Backslash separators must hit the deny list on every platform.
	assert.Error(t, validateIngestPath(`C:\Windows\System32`))
	assert.Error(t, validateIngestPath(`C:\Program Files\App`))
	assert.Error(t, validateIngestPath(`C:/Windows/System32`))
}
