// Package query is the retrieval-augmented chat pipeline: embed the question,
// retrieve the nearest chunks, assemble a token-budgeted grounded prompt, and
// stream the upstream answer with citations.
package query

import (
	"context"
	"log/slog"
	"strings"
	"time"

	ragerr "localrag/internal/errors"
	"localrag/internal/ollama"
	"localrag/internal/qlog"
	"localrag/internal/store"
)

// systemInstruction heads every grounded prompt.
const systemInstruction = "You are a helpful assistant. Answer using ONLY the provided context. " +
	"If the context does not contain the answer, say you don't know. " +
	"Do not invent information."

// Embedder produces an embedding for a query text.
type Embedder interface {
	Embed(ctx context.Context, text, model string) ([]float32, error)
}

// Chatter streams a chat completion token by token.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []ollama.Message, onToken func(token string) error) error
}

// Config holds the retrieval knobs.
type Config struct {
	EmbeddingModel   string
	ChatModel        string
	TopK             int
	MinScore         float32
	MaxContextTokens int
}

// Request is one chat turn from the client.
type Request struct {
	Messages   []ollama.Message `json:"messages"`
	Model      string           `json:"model,omitempty"`
	Collection string           `json:"collection"`
}

// Citation points the client at one retrieved source.
type Citation struct {
	FileName      string  `json:"fileName"`
	HeaderContext string  `json:"headerContext,omitempty"`
	Score         float32 `json:"score"`
	Preview       string  `json:"preview"`
}

// StatusEvent reports pipeline phase transitions.
type StatusEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// MetadataEvent carries the citations for the answer being streamed.
type MetadataEvent struct {
	Type      string     `json:"type"`
	Citations []Citation `json:"citations"`
}

// TokenEvent forwards one upstream content fragment.
type TokenEvent struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
}

// ErrorEvent reports a failure after streaming has started.
type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// EmitFunc delivers one pipeline event to the client. Returning an error
// aborts the stream.
type EmitFunc func(event any) error

// Pipeline wires retrieval and chat together.
type Pipeline struct {
	cfg      Config
	embedder Embedder
	chatter  Chatter
	manager  *store.Manager
	qlog     *qlog.Logger
	logger   *slog.Logger
}

// New builds the pipeline. qlogger may be nil to disable telemetry.
func New(cfg Config, embedder Embedder, chatter Chatter, manager *store.Manager, qlogger *qlog.Logger, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:      cfg,
		embedder: embedder,
		chatter:  chatter,
		manager:  manager,
		qlog:     qlogger,
		logger:   logger,
	}
}

// Stream runs the pipeline for one request. Events are emitted in a fixed
// order: status, metadata, then tokens. Errors returned before the first emit
// map to an HTTP status at the boundary; later errors must be sent inline by
// the caller. The query log entry is recorded even when the stream is
// cancelled mid-answer.
func (p *Pipeline) Stream(ctx context.Context, req Request, emit EmitFunc) error {
	question, ok := lastUserMessage(req.Messages)
	if !ok {
		return ragerr.ValidationError("request has no user message")
	}

	st, err := p.manager.Get(req.Collection)
	if err != nil {
		return err
	}
	if st.Count() == 0 {
		return ragerr.NotReadyError("collection " + req.Collection + " has no indexed documents")
	}

	embedStart := time.Now()
	vec, err := p.embedder.Embed(ctx, question, p.cfg.EmbeddingModel)
	if err != nil {
		return err
	}
	embedMs := time.Since(embedStart).Milliseconds()

	searchStart := time.Now()
	results, err := st.FindNearest(vec, p.cfg.TopK, p.cfg.MinScore, p.cfg.EmbeddingModel)
	if err != nil {
		return err
	}
	searchMs := time.Since(searchStart).Milliseconds()

	accepted := budgetContext(results, p.cfg.MaxContextTokens)

	p.logger.Debug("retrieval done",
		"collection", req.Collection,
		"results", len(results),
		"accepted", len(accepted),
		"embedMs", embedMs,
		"searchMs", searchMs)

	if err := emit(StatusEvent{Type: "status", Message: ""}); err != nil {
		return err
	}
	if err := emit(MetadataEvent{Type: "metadata", Citations: citations(accepted)}); err != nil {
		return err
	}

	model := req.Model
	if model == "" {
		model = p.cfg.ChatModel
	}
	messages := append([]ollama.Message{{
		Role:    "system",
		Content: composePrompt(accepted),
	}}, req.Messages...)

	chatErr := p.chatter.Chat(ctx, model, messages, func(token string) error {
		ev := TokenEvent{}
		ev.Message.Content = token
		return emit(ev)
	})

	p.record(req.Collection, question, model, results, embedMs, searchMs)
	return chatErr
}

// record fires the telemetry entry; it never blocks the request path.
func (p *Pipeline) record(collection, question, chatModel string, results []store.SearchResult, embedMs, searchMs int64) {
	if p.qlog == nil {
		return
	}

	var topScore float32
	if len(results) > 0 {
		topScore = results[0].Score
	}

	summaries := make([]qlog.ResultSummary, 0, len(results))
	for _, r := range results {
		summaries = append(summaries, qlog.ResultSummary{
			Score:         r.Score,
			FileName:      r.Metadata.FileName,
			ChunkIndex:    r.Metadata.ChunkIndex,
			HeaderContext: r.Metadata.HeaderContext,
			Preview:       r.Metadata.TextPreview,
		})
	}

	p.qlog.Log(qlog.Entry{
		Query:          question,
		Collection:     collection,
		EmbeddingModel: p.cfg.EmbeddingModel,
		ChatModel:      chatModel,
		TopK:           p.cfg.TopK,
		MinScore:       p.cfg.MinScore,
		ResultCount:    len(results),
		LowConfidence:  qlog.LowConfidence(len(results), topScore, p.cfg.MinScore),
		EmbedMs:        embedMs,
		SearchMs:       searchMs,
		Results:        summaries,
	})
}

// lastUserMessage returns the most recent user turn.
func lastUserMessage(messages []ollama.Message) (string, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" && strings.TrimSpace(messages[i].Content) != "" {
			return messages[i].Content, true
		}
	}
	return "", false
}

// EstimateTokens approximates the token count of a text as ceil(1.3 * words).
func EstimateTokens(text string) int {
	words := len(strings.Fields(text))
	return (13*words + 9) / 10
}

// budgetContext accepts results in descending score order until the next one
// would push the cumulative token estimate over the budget. The top result is
// always accepted, even when it alone exceeds the budget, so the answer never
// streams ungrounded while matches exist.
func budgetContext(results []store.SearchResult, maxTokens int) []store.SearchResult {
	var accepted []store.SearchResult
	used := 0
	for _, r := range results {
		cost := EstimateTokens(r.Metadata.ChunkText)
		if len(accepted) > 0 && used+cost > maxTokens {
			break
		}
		used += cost
		accepted = append(accepted, r)
	}
	return accepted
}

// composePrompt renders the grounded system prompt from the accepted chunks.
func composePrompt(accepted []store.SearchResult) string {
	var b strings.Builder
	b.WriteString(systemInstruction)
	if len(accepted) == 0 {
		return b.String()
	}

	b.WriteString("\n\nContext:\n")
	for i, r := range accepted {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("[Source: ")
		b.WriteString(r.Metadata.FileName)
		b.WriteString("]\n")
		b.WriteString(r.Metadata.ChunkText)
	}
	return b.String()
}

func citations(accepted []store.SearchResult) []Citation {
	out := make([]Citation, 0, len(accepted))
	for _, r := range accepted {
		out = append(out, Citation{
			FileName:      r.Metadata.FileName,
			HeaderContext: r.Metadata.HeaderContext,
			Score:         r.Score,
			Preview:       r.Metadata.TextPreview,
		})
	}
	return out
}
