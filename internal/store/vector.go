package store

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	ragerr "localrag/internal/errors"
	"localrag/internal/vectormath"
)

// maxModelNameBytes bounds the model name length field in the binary header.
// A value outside [1, maxModelNameBytes] marks a legacy file with no header.
const maxModelNameBytes = 256

// VectorStore is the in-memory vector table for one collection, backed by
// {name}.vectors.bin and {name}.metadata.json on disk.
//
// Concurrent reads are safe; Add, Delete, Rename, Save, and Load take the
// write lock.
type VectorStore struct {
	mu    sync.RWMutex
	dir   string
	name  string
	dims  int
	model string // empty means unknown (legacy file or empty store)
	items []Record
}

// New creates an empty store for the collection. Call Load to read any
// existing on-disk state.
func New(dir, name string) *VectorStore {
	return &VectorStore{dir: dir, name: name}
}

// VectorsPath returns the binary table path.
func (s *VectorStore) VectorsPath() string {
	return filepath.Join(s.dir, s.name+".vectors.bin")
}

// MetadataPath returns the metadata sidecar path.
func (s *VectorStore) MetadataPath() string {
	return filepath.Join(s.dir, s.name+".metadata.json")
}

// Load reads both files into memory, replacing any current contents.
// A missing vectors file yields an empty store. When expectedModel and the
// stored model name are both non-empty they must agree.
func (s *VectorStore) Load(expectedModel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.VectorsPath())
	if os.IsNotExist(err) {
		s.items = nil
		s.dims = 0
		s.model = ""
		return nil
	}
	if err != nil {
		return ragerr.Wrap(ragerr.ErrCodeStoreIO, err)
	}

	count, dims, model, vectors, err := decodeVectorTable(data)
	if err != nil {
		return err
	}
	if model == "" {
		slog.Warn("vector table has no model header, model binding unknown",
			"collection", s.name)
	}
	if expectedModel != "" && model != "" && model != expectedModel {
		return ragerr.Newf(ragerr.ErrCodeModelMismatch,
			"collection %q was embedded with %q, configured model is %q", s.name, model, expectedModel).
			WithSuggestion(fmt.Sprintf("re-ingest the collection or set embedding_model to %q", model))
	}

	entries, err := s.loadMetadata()
	if err != nil {
		return err
	}

	if len(entries) != count {
		slog.Warn("vector/metadata count mismatch, truncating to the shorter table",
			"collection", s.name, "vectors", count, "metadata", len(entries))
	}
	n := min(count, len(entries))

	items := make([]Record, 0, n)
	for i := range n {
		items = append(items, Record{
			ID:       entries[i].ID,
			Vector:   vectors[i],
			Metadata: entries[i].Metadata.ChunkMetadata,
		})
	}

	s.items = items
	s.model = model
	s.dims = 0
	if n > 0 {
		s.dims = dims
	}
	return nil
}

// decodeVectorTable parses the binary layout:
//
//	int32 count | int32 dims | int32 modelNameByteLen | modelName | float32 vectors[count*dims]
//
// Legacy files omit the model length and name entirely.
func decodeVectorTable(data []byte) (count, dims int, model string, vectors [][]float32, err error) {
	corrupt := func(format string, args ...any) error {
		return ragerr.Newf(ragerr.ErrCodeStoreCorrupt, "corrupt vector table: "+format, args...)
	}

	if len(data) < 8 {
		return 0, 0, "", nil, corrupt("header truncated at %d bytes", len(data))
	}
	count = int(int32(binary.LittleEndian.Uint32(data[0:4])))
	dims = int(int32(binary.LittleEndian.Uint32(data[4:8])))
	if count < 0 {
		return 0, 0, "", nil, corrupt("negative count %d", count)
	}
	if count > 0 && dims <= 0 {
		return 0, 0, "", nil, corrupt("non-positive dims %d with count %d", dims, count)
	}

	offset := 8
	if len(data) >= offset+4 {
		modelLen := int(int32(binary.LittleEndian.Uint32(data[offset : offset+4])))
		if modelLen >= 1 && modelLen <= maxModelNameBytes && len(data) >= offset+4+modelLen {
			model = string(data[offset+4 : offset+4+modelLen])
			offset += 4 + modelLen
		}
		// Otherwise a legacy file: those 4 bytes are vector data.
	}

	want := count * dims * 4
	if len(data)-offset != want {
		return 0, 0, "", nil, corrupt("expected %d vector bytes, found %d", want, len(data)-offset)
	}

	vectors = make([][]float32, count)
	for i := range count {
		vec := make([]float32, dims)
		for j := range dims {
			bits := binary.LittleEndian.Uint32(data[offset : offset+4])
			vec[j] = math.Float32frombits(bits)
			offset += 4
		}
		vectors[i] = vec
	}
	return count, dims, model, vectors, nil
}

// loadMetadata reads the sidecar, applying legacy fallbacks:
// "file" -> fileName, and textPreview -> chunkText when chunkText is absent.
func (s *VectorStore) loadMetadata() ([]metadataEntry, error) {
	data, err := os.ReadFile(s.MetadataPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, ragerr.Wrap(ragerr.ErrCodeStoreIO, err)
	}

	var entries []metadataEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, ragerr.New(ragerr.ErrCodeStoreCorrupt,
			fmt.Sprintf("corrupt metadata sidecar for %q: %v", s.name, err), err)
	}

	var legacyNames, legacyText bool
	for i := range entries {
		md := &entries[i].Metadata
		if md.FileName == "" && md.LegacyFile != "" {
			md.FileName = md.LegacyFile
			legacyNames = true
		}
		if md.ChunkText == "" && md.TextPreview != "" {
			md.ChunkText = md.TextPreview
			legacyText = true
		}
	}
	if legacyNames {
		slog.Warn("metadata sidecar uses legacy 'file' field", "collection", s.name)
	}
	if legacyText {
		slog.Warn("metadata sidecar missing chunkText, falling back to textPreview",
			"collection", s.name)
	}
	return entries, nil
}

// Add appends a record. The first insert fixes the collection's dimension and
// embedding model; later inserts must agree.
func (s *VectorStore) Add(id string, vector []float32, md ChunkMetadata) error {
	if len(vector) == 0 {
		return ragerr.ValidationError("empty vector")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.items) == 0 && s.dims == 0 {
		s.dims = len(vector)
		s.model = md.EmbeddingModel
	} else {
		if len(vector) != s.dims {
			return ragerr.Newf(ragerr.ErrCodeDimensionMismatch,
				"vector has %d dims, collection %q has %d", len(vector), s.name, s.dims)
		}
		if s.model != "" && md.EmbeddingModel != "" && md.EmbeddingModel != s.model {
			return ragerr.Newf(ragerr.ErrCodeModelMismatch,
				"record embedded with %q, collection %q is bound to %q", md.EmbeddingModel, s.name, s.model)
		}
	}

	s.items = append(s.items, Record{ID: id, Vector: vector, Metadata: md})
	return nil
}

// Delete removes all records whose fileName matches, case-insensitively.
// Returns the number of records removed.
func (s *VectorStore) Delete(fileName string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.items[:0]
	removed := 0
	for _, it := range s.items {
		if sameFileName(it.Metadata.FileName, fileName) {
			removed++
			continue
		}
		kept = append(kept, it)
	}
	s.items = kept
	if len(s.items) == 0 {
		s.dims = 0
	}
	return removed
}

// Rename rewrites fileName and sourcePath on all records of a file without
// touching vectors. Record IDs keep the {fileName}_{chunkIndex}_{hash} shape.
func (s *VectorStore) Rename(oldName, newName, newSourcePath string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated := 0
	oldPrefix := strings.ToLower(oldName) + "_"
	for i := range s.items {
		if !sameFileName(s.items[i].Metadata.FileName, oldName) {
			continue
		}
		if strings.HasPrefix(strings.ToLower(s.items[i].ID), oldPrefix) {
			s.items[i].ID = newName + s.items[i].ID[len(oldName):]
		}
		s.items[i].Metadata.FileName = newName
		s.items[i].Metadata.SourcePath = newSourcePath
		updated++
	}
	return updated
}

// Save atomically rewrites both files (write to .tmp, fsync, rename).
func (s *VectorStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return ragerr.Wrap(ragerr.ErrCodeStoreIO, err)
	}

	var buf bytes.Buffer
	writeInt32 := func(v int32) {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(v))
		buf.Write(b[:])
	}

	writeInt32(int32(len(s.items)))
	writeInt32(int32(s.dims))
	if s.model != "" {
		name := []byte(s.model)
		if len(name) > maxModelNameBytes {
			name = name[:maxModelNameBytes]
		}
		writeInt32(int32(len(name)))
		buf.Write(name)
	}
	for _, it := range s.items {
		for _, f := range it.Vector {
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], math.Float32bits(f))
			buf.Write(b[:])
		}
	}

	entries := make([]metadataEntry, len(s.items))
	for i, it := range s.items {
		entries[i] = metadataEntry{ID: it.ID, Metadata: chunkMetadataJSON{ChunkMetadata: it.Metadata}}
	}
	metaJSON, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return ragerr.InternalError("marshal metadata sidecar", err)
	}

	if err := writeFileAtomic(s.VectorsPath(), buf.Bytes()); err != nil {
		return err
	}
	return writeFileAtomic(s.MetadataPath(), metaJSON)
}

// FindNearest scores the query against every record, filters by minScore, and
// returns up to k results in descending score order. queryModel must match
// the collection's bound model when both are known.
func (s *VectorStore) FindNearest(query []float32, k int, minScore float32, queryModel string) ([]SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if queryModel != "" && s.model != "" && queryModel != s.model {
		return nil, ragerr.Newf(ragerr.ErrCodeModelMismatch,
			"query embedded with %q, collection %q is bound to %q", queryModel, s.name, s.model)
	}
	if len(s.items) == 0 {
		return []SearchResult{}, nil
	}
	if len(query) != s.dims {
		return nil, ragerr.Newf(ragerr.ErrCodeDimensionMismatch,
			"query has %d dims, collection %q has %d", len(query), s.name, s.dims)
	}

	scores := make([]float32, len(s.items))
	for i, it := range s.items {
		score, err := vectormath.CosineSimilarity(query, it.Vector)
		if err != nil {
			return nil, err
		}
		scores[i] = score
	}

	results := make([]SearchResult, 0, k)
	for _, idx := range vectormath.TopK(scores, k) {
		if scores[idx] < minScore {
			continue
		}
		results = append(results, SearchResult{
			ID:       s.items[idx].ID,
			Score:    scores[idx],
			Metadata: s.items[idx].Metadata,
		})
	}
	return results, nil
}

// Count returns the number of records.
func (s *VectorStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// CountByFile returns the number of records for a file, case-insensitively.
func (s *VectorStore) CountByFile(fileName string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, it := range s.items {
		if sameFileName(it.Metadata.FileName, fileName) {
			n++
		}
	}
	return n
}

// Dims returns the collection dimension, 0 for an empty store.
func (s *VectorStore) Dims() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dims
}

// Model returns the bound embedding model, empty when unknown.
func (s *VectorStore) Model() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model
}

// Info reports the metrics snapshot for this collection.
func (s *VectorStore) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var size int64
	for _, p := range []string{s.VectorsPath(), s.MetadataPath()} {
		if st, err := os.Stat(p); err == nil {
			size += st.Size()
		}
	}
	return Info{
		Collection:     s.name,
		VectorCount:    len(s.items),
		Dimension:      s.dims,
		EmbeddingModel: s.model,
		TotalSizeBytes: size,
		Health:         HealthOK,
	}
}

// writeFileAtomic writes data to path via a .tmp sibling, fsyncs, and renames.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return ragerr.Wrap(ragerr.ErrCodeStoreIO, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return ragerr.Wrap(ragerr.ErrCodeStoreIO, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return ragerr.Wrap(ragerr.ErrCodeStoreIO, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return ragerr.Wrap(ragerr.ErrCodeStoreIO, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return ragerr.Wrap(ragerr.ErrCodeStoreIO, err)
	}
	return nil
}
