// Package ingest turns source files into vector records. Each job scans its
// path, skips unchanged files by content hash, detects renames without
// re-embedding, re-indexes changed files, and removes orphans, keeping the
// manifest and the vector table consistent.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"localrag/internal/chunk"
	ragerr "localrag/internal/errors"
	"localrag/internal/manifest"
	"localrag/internal/queue"
	"localrag/internal/store"
)

// maxFileSizeBytes guards against accidentally pointing a job at huge
// binaries or logs.
const maxFileSizeBytes = 10 << 20

// Embedder produces an embedding vector for a text under a named model.
type Embedder interface {
	Embed(ctx context.Context, text, model string) ([]float32, error)
}

// Config holds the pipeline knobs.
type Config struct {
	DataDir        string
	EmbeddingModel string
	ChunkSize      int
	ChunkOverlap   int
}

// Pipeline executes ingestion jobs against the collection stores.
type Pipeline struct {
	cfg      Config
	embedder Embedder
	manager  *store.Manager
	logger   *slog.Logger
}

// NewPipeline wires the pipeline. The manager is reloaded after each
// successful job so the query path sees new vectors without a restart.
func NewPipeline(cfg Config, embedder Embedder, manager *store.Manager, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{cfg: cfg, embedder: embedder, manager: manager, logger: logger}
}

// fileOutcome classifies what happened to one scanned file.
type fileOutcome int

const (
	outcomeIndexed fileOutcome = iota
	outcomeSkipped
	outcomeRenamed
	outcomeFailed
)

// Run processes one job. It is the queue.Runner for the service.
//
// A bad file fails only its own work; the job completes when every file
// succeeds and otherwise fails with a per-file summary. Dimension or model
// mismatches abort the whole job since no later file could succeed either.
func (p *Pipeline) Run(ctx context.Context, job queue.Job, progress func(string)) error {
	if err := store.ValidateCollectionName(job.Collection); err != nil {
		return err
	}

	files, isDir, err := collectFiles(job.Path)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		progress("no supported files found")
		return nil
	}

	colDir := filepath.Join(p.cfg.DataDir, job.Collection)
	if err := os.MkdirAll(colDir, 0o755); err != nil {
		return ragerr.Wrap(ragerr.ErrCodeStoreIO, err)
	}

	st := store.New(colDir, job.Collection)
	if err := st.Load(p.cfg.EmbeddingModel); err != nil {
		return err
	}
	man, err := manifest.Load(colDir, job.Collection)
	if err != nil {
		return err
	}

	counts := map[fileOutcome]int{}
	var failures []string
	seen := make([]string, 0, len(files))

	for i, path := range files {
		if err := ctx.Err(); err != nil {
			return ragerr.New(ragerr.ErrCodeCancelled, "ingestion interrupted", err)
		}
		progress(fmt.Sprintf("%d/%d files processed", i, len(files)))

		fileName := filepath.Base(path)
		seen = append(seen, fileName)

		outcome, err := p.processFile(ctx, st, man, path, fileName)
		if err != nil {
			code := ragerr.GetCode(err)
			if code == ragerr.ErrCodeDimensionMismatch || code == ragerr.ErrCodeModelMismatch {
				return err
			}
			p.logger.Warn("file ingestion failed", "file", fileName, "error", err)
			failures = append(failures, fmt.Sprintf("%s: %v", fileName, err))
			counts[outcomeFailed]++
			continue
		}
		counts[outcome]++
	}

	// Orphan cleanup only makes sense when the job scanned a whole
	// directory; a single-file job says nothing about the rest.
	if isDir {
		for _, orphan := range man.GetOrphans(seen) {
			removed := st.Delete(orphan.FileName)
			man.Remove(orphan.FileName)
			p.logger.Info("orphan removed", "file", orphan.FileName, "records", removed)
		}
	}

	if err := st.Save(); err != nil {
		return err
	}
	if err := man.Save(); err != nil {
		return err
	}
	if err := p.manager.Reload(job.Collection); err != nil {
		return err
	}

	progress(summarize(counts, failures))
	if len(failures) > 0 {
		return ragerr.Newf(ragerr.ErrCodeEmbeddingFailed,
			"%d of %d files failed", len(failures), len(files))
	}
	return nil
}

// processFile applies the per-file decision: skip, rename, or re-ingest.
func (p *Pipeline) processFile(ctx context.Context, st *store.VectorStore, man *manifest.Manifest, path, fileName string) (fileOutcome, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return outcomeFailed, ragerr.Wrap(ragerr.ErrCodeStoreIO, err)
	}
	if len(data) > maxFileSizeBytes {
		return outcomeFailed, ragerr.Newf(ragerr.ErrCodeInvalidInput,
			"file exceeds %d bytes", maxFileSizeBytes)
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	if man.IsUnchanged(fileName, hash) {
		return outcomeSkipped, nil
	}

	if prev, ok := man.FindByHash(hash); ok && !strings.EqualFold(prev.FileName, fileName) {
		// Same content under a new name: point the existing records at it
		// instead of re-embedding.
		st.Rename(prev.FileName, fileName, path)
		man.Rename(prev.FileName, fileName, path)
		p.logger.Info("file renamed", "from", prev.FileName, "to", fileName)
		return outcomeRenamed, nil
	}

	chunks := chunk.Dispatch(string(data), filepath.Ext(path), chunk.Options{
		MaxChunkSize: p.cfg.ChunkSize,
		Overlap:      p.cfg.ChunkOverlap,
	})

	st.Delete(fileName)
	now := time.Now().UTC()
	for _, c := range chunks {
		vec, err := p.embedder.Embed(ctx, c.Text, p.cfg.EmbeddingModel)
		if err != nil {
			// Roll back this file so manifest and store stay consistent.
			st.Delete(fileName)
			man.Remove(fileName)
			return outcomeFailed, err
		}
		md := store.ChunkMetadata{
			FileName:       fileName,
			SourcePath:     path,
			ChunkIndex:     c.Index,
			ChunkText:      c.Text,
			TextPreview:    chunk.Preview(c.Text),
			HeaderContext:  c.HeaderContext,
			IngestedAt:     now,
			EmbeddingModel: p.cfg.EmbeddingModel,
		}
		if err := st.Add(chunkID(fileName, c.Index, hash), vec, md); err != nil {
			st.Delete(fileName)
			man.Remove(fileName)
			return outcomeFailed, err
		}
	}

	man.AddOrUpdate(manifest.Entry{
		FileName:       fileName,
		SourcePath:     path,
		ContentHash:    hash,
		ChunkCount:     len(chunks),
		FileSize:       int64(len(data)),
		LastIngested:   now,
		EmbeddingModel: p.cfg.EmbeddingModel,
	})
	return outcomeIndexed, nil
}

// chunkID builds the stable record id {fileName}_{chunkIndex}_{shortHash}.
func chunkID(fileName string, index int, contentHash string) string {
	return fmt.Sprintf("%s_%d_%s", fileName, index, contentHash[:8])
}

// collectFiles resolves a job path into the supported files beneath it.
// Dot-directories are not descended into.
func collectFiles(path string) (files []string, isDir bool, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, false, ragerr.Newf(ragerr.ErrCodeInvalidPath, "path %q: %v", path, err)
	}

	if !info.IsDir() {
		if !chunk.SupportedExtension(path) {
			return nil, false, ragerr.Newf(ragerr.ErrCodeInvalidInput,
				"unsupported file type %q", filepath.Ext(path))
		}
		return []string{path}, false, nil
	}

	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && p != path {
				return filepath.SkipDir
			}
			return nil
		}
		if chunk.SupportedExtension(p) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, true, ragerr.Wrap(ragerr.ErrCodeStoreIO, err)
	}
	sort.Strings(files)
	return files, true, nil
}

// summarize builds the human progress line, e.g.
// "2 files indexed, 3 files skipped, 1 file renamed".
func summarize(counts map[fileOutcome]int, failures []string) string {
	var parts []string
	add := func(n int, what string) {
		switch n {
		case 0:
		case 1:
			parts = append(parts, fmt.Sprintf("1 file %s", what))
		default:
			parts = append(parts, fmt.Sprintf("%d files %s", n, what))
		}
	}
	add(counts[outcomeIndexed], "indexed")
	add(counts[outcomeSkipped], "skipped")
	add(counts[outcomeRenamed], "renamed")
	add(counts[outcomeFailed], "failed")

	s := strings.Join(parts, ", ")
	if len(failures) > 0 {
		s += " (" + strings.Join(failures, "; ") + ")"
	}
	return s
}
