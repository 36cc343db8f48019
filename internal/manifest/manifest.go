// Package manifest keeps the per-collection ledger of ingested files used for
// incremental re-ingestion: change detection by content hash, rename detection,
// and orphan cleanup.
package manifest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	ragerr "localrag/internal/errors"
)

// FormatVersion is the manifest schema version written to disk.
const FormatVersion = 1

// Entry records one ingested file.
type Entry struct {
	FileName       string    `json:"fileName"`
	SourcePath     string    `json:"sourcePath"`
	ContentHash    string    `json:"contentHash"`
	ChunkCount     int       `json:"chunkCount"`
	FileSize       int64     `json:"fileSize"`
	LastIngested   time.Time `json:"lastIngested"`
	EmbeddingModel string    `json:"embeddingModel"`
}

// Manifest is the in-memory ledger for one collection. Keys are file names,
// compared case-insensitively. Not safe for concurrent use: only the single
// ingestion worker mutates a manifest.
type Manifest struct {
	collection string
	path       string
	entries    map[string]Entry // key: lower-case fileName
}

// document is the on-disk shape.
type document struct {
	Version     int       `json:"version"`
	Collection  string    `json:"collection"`
	LastUpdated time.Time `json:"lastUpdated"`
	Entries     []Entry   `json:"entries"`
}

// New creates an empty manifest for the collection stored in dir.
func New(dir, collection string) *Manifest {
	return &Manifest{
		collection: collection,
		path:       filepath.Join(dir, collection+".manifest.json"),
		entries:    make(map[string]Entry),
	}
}

// Load reads the manifest file. A missing file yields an empty manifest.
func Load(dir, collection string) (*Manifest, error) {
	m := New(dir, collection)

	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, ragerr.Wrap(ragerr.ErrCodeStoreIO, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, ragerr.New(ragerr.ErrCodeStoreCorrupt,
			"corrupt manifest for "+collection+": "+err.Error(), err)
	}
	for _, e := range doc.Entries {
		m.entries[strings.ToLower(e.FileName)] = e
	}
	return m, nil
}

// Save atomically writes the manifest to disk.
func (m *Manifest) Save() error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return ragerr.Wrap(ragerr.ErrCodeStoreIO, err)
	}

	doc := document{
		Version:     FormatVersion,
		Collection:  m.collection,
		LastUpdated: time.Now().UTC(),
		Entries:     m.Entries(),
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return ragerr.InternalError("marshal manifest", err)
	}

	tmp := m.path + ".tmp"
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
	if err := os.Rename(tmp, m.path); err != nil {
		_ = os.Remove(tmp)
		return ragerr.Wrap(ragerr.ErrCodeStoreIO, err)
	}
	return nil
}

// Get returns the entry for a file name.
func (m *Manifest) Get(fileName string) (Entry, bool) {
	e, ok := m.entries[strings.ToLower(fileName)]
	return e, ok
}

// AddOrUpdate inserts or replaces the entry keyed by its file name.
func (m *Manifest) AddOrUpdate(e Entry) {
	m.entries[strings.ToLower(e.FileName)] = e
}

// Remove deletes the entry for a file name. Returns true if it existed.
func (m *Manifest) Remove(fileName string) bool {
	key := strings.ToLower(fileName)
	_, ok := m.entries[key]
	delete(m.entries, key)
	return ok
}

// FindByHash returns the entry with the given content hash, used for rename
// detection. Returns false when no entry matches.
func (m *Manifest) FindByHash(hash string) (Entry, bool) {
	for _, e := range m.entries {
		if e.ContentHash == hash {
			return e, true
		}
	}
	return Entry{}, false
}

// IsUnchanged reports whether the file is already ingested with this hash.
func (m *Manifest) IsUnchanged(fileName, hash string) bool {
	e, ok := m.Get(fileName)
	return ok && e.ContentHash == hash
}

// GetOrphans returns entries whose file name is absent from the current scan.
func (m *Manifest) GetOrphans(currentFileNames []string) []Entry {
	seen := make(map[string]bool, len(currentFileNames))
	for _, name := range currentFileNames {
		seen[strings.ToLower(name)] = true
	}

	var orphans []Entry
	for key, e := range m.entries {
		if !seen[key] {
			orphans = append(orphans, e)
		}
	}
	sort.Slice(orphans, func(i, j int) bool { return orphans[i].FileName < orphans[j].FileName })
	return orphans
}

// Rename moves an entry to a new file name without re-embedding. The hash and
// chunk count carry over; sourcePath and ingestion time are refreshed.
func (m *Manifest) Rename(oldName, newName, newSourcePath string) bool {
	e, ok := m.Get(oldName)
	if !ok {
		return false
	}
	delete(m.entries, strings.ToLower(oldName))
	e.FileName = newName
	e.SourcePath = newSourcePath
	e.LastIngested = time.Now().UTC()
	m.entries[strings.ToLower(newName)] = e
	return true
}

// Entries returns all entries sorted by file name.
func (m *Manifest) Entries() []Entry {
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].FileName) < strings.ToLower(out[j].FileName)
	})
	return out
}

// Len returns the number of entries.
func (m *Manifest) Len() int {
	return len(m.entries)
}
