// Package qlog is the append-only query telemetry log. Entries are written
// as JSONL by a single background goroutine so logging never adds latency to
// the request path. All data stays local.
package qlog

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
	"unicode/utf8"
)

// maxQueryLen caps the query text stored per entry.
const maxQueryLen = 500

// ResultSummary is the logged view of one retrieved chunk.
type ResultSummary struct {
	Score         float32 `json:"score"`
	FileName      string  `json:"fileName"`
	ChunkIndex    int     `json:"chunkIndex"`
	HeaderContext string  `json:"headerContext,omitempty"`
	Preview       string  `json:"preview"`
}

// Entry is one logged query.
type Entry struct {
	Timestamp      time.Time       `json:"timestamp"`
	Query          string          `json:"query"`
	Collection     string          `json:"collection,omitempty"`
	EmbeddingModel string          `json:"embeddingModel"`
	ChatModel      string          `json:"chatModel"`
	TopK           int             `json:"topK"`
	MinScore       float32         `json:"minScore"`
	ResultCount    int             `json:"resultCount"`
	LowConfidence  bool            `json:"lowConfidence"`
	EmbedMs        int64           `json:"embedMs"`
	SearchMs       int64           `json:"searchMs"`
	Results        []ResultSummary `json:"results"`
}

// LowConfidence reports whether a retrieval outcome should be flagged:
// nothing came back, or even the best hit barely cleared the score floor.
func LowConfidence(resultCount int, topScore, minScore float32) bool {
	return resultCount == 0 || topScore < minScore+0.1
}

// Logger appends entries to a JSONL file from a dedicated writer goroutine.
// Log never blocks the caller; the pending queue is unbounded.
type Logger struct {
	path   string
	logger *slog.Logger

	mu      sync.Mutex
	pending []Entry
	closed  bool
	wake    chan struct{}
	done    chan struct{}
}

// New creates a logger appending to path and starts its writer goroutine.
// The parent directory is created if missing.
func New(path string, logger *slog.Logger) (*Logger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	l := &Logger{
		path:   path,
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go l.run()
	return l, nil
}

// Log enqueues an entry for the background writer. The query text is
// truncated and an empty timestamp is filled in. Safe for concurrent use;
// entries logged after Close are dropped.
func (l *Logger) Log(e Entry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if len(e.Query) > maxQueryLen {
		// Back off to a rune boundary so the truncated text stays valid UTF-8.
		cut := maxQueryLen
		for cut > 0 && !utf8.RuneStart(e.Query[cut]) {
			cut--
		}
		e.Query = e.Query[:cut]
	}
	if e.Results == nil {
		e.Results = []ResultSummary{}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.pending = append(l.pending, e)

	// Signalled under the lock so Close cannot close the channel mid-send.
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Flush writes every pending entry and fsyncs the file. Used on shutdown.
func (l *Logger) Flush() error {
	l.mu.Lock()
	batch := l.pending
	l.pending = nil
	l.mu.Unlock()

	if err := l.write(batch, true); err != nil {
		return err
	}
	return nil
}

// Close flushes pending entries and stops the writer goroutine.
func (l *Logger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	close(l.wake)
	<-l.done
	return l.Flush()
}

func (l *Logger) run() {
	defer close(l.done)
	for range l.wake {
		l.mu.Lock()
		batch := l.pending
		l.pending = nil
		l.mu.Unlock()

		if err := l.write(batch, false); err != nil {
			l.logger.Warn("query log write failed", "path", l.path, "error", err)
		}
	}
}

// write appends a batch of entries. A sync flag forces fsync afterwards.
func (l *Logger) write(batch []Entry, sync bool) error {
	if len(batch) == 0 && !sync {
		return nil
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, e := range batch {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	if sync {
		return f.Sync()
	}
	return nil
}
