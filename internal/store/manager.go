package store

import (
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	ragerr "localrag/internal/errors"
)

// CollectionNamePattern is the allowed shape of a collection identifier.
var CollectionNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateCollectionName rejects identifiers outside [A-Za-z0-9_-]+.
func ValidateCollectionName(name string) error {
	if !CollectionNamePattern.MatchString(name) {
		return ragerr.Newf(ragerr.ErrCodeInvalidCollection,
			"collection name %q must match [A-Za-z0-9_-]+", name)
	}
	return nil
}

// Manager owns the loaded VectorStore of every collection under dataDir.
// Collections live in one subdirectory each, keyed case-insensitively.
//
// A store that fails to load stays registered with CORRUPT health so metrics
// can report it; queries against it fail.
type Manager struct {
	dataDir       string
	expectedModel string

	mu       sync.RWMutex
	stores   map[string]*VectorStore // key: lower-case collection name
	loadErrs map[string]error        // load failure per collection, nil when healthy
	names    map[string]string       // lower-case -> directory spelling
}

// NewManager creates a manager rooted at dataDir. expectedModel is enforced
// on every load; empty disables the check.
func NewManager(dataDir, expectedModel string) *Manager {
	return &Manager{
		dataDir:       dataDir,
		expectedModel: expectedModel,
		stores:        make(map[string]*VectorStore),
		loadErrs:      make(map[string]error),
		names:         make(map[string]string),
	}
}

// LoadAll discovers collection subdirectories and loads each store.
// Load failures are recorded as CORRUPT (or model-mismatch) health, not
// returned: one bad collection must not keep the service down.
func (m *Manager) LoadAll() error {
	entries, err := os.ReadDir(m.dataDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return ragerr.Wrap(ragerr.ErrCodeStoreIO, err)
	}

	for _, e := range entries {
		if !e.IsDir() || !CollectionNamePattern.MatchString(e.Name()) {
			continue
		}
		if _, err := os.Stat(filepath.Join(m.dataDir, e.Name(), e.Name()+".vectors.bin")); err != nil {
			continue
		}
		if err := m.Reload(e.Name()); err != nil {
			slog.Error("failed to load collection", "collection", e.Name(), "error", err)
		}
	}
	return nil
}

// Reload (re)loads one collection from disk, replacing the served store.
// Called at startup and after each successful ingestion (hot-reload).
func (m *Manager) Reload(name string) error {
	key := strings.ToLower(name)
	s := New(filepath.Join(m.dataDir, name), name)
	err := s.Load(m.expectedModel)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.names[key] = name
	if err != nil {
		m.loadErrs[key] = err
		// Keep any previously loaded store out of service.
		delete(m.stores, key)
		return err
	}
	m.stores[key] = s
	delete(m.loadErrs, key)
	return nil
}

// Get returns the loaded store for a collection.
func (m *Manager) Get(name string) (*VectorStore, error) {
	key := strings.ToLower(name)

	m.mu.RLock()
	s, ok := m.stores[key]
	loadErr := m.loadErrs[key]
	m.mu.RUnlock()

	if ok {
		return s, nil
	}
	if loadErr != nil {
		return nil, loadErr
	}
	return nil, ragerr.New(ragerr.ErrCodeNotReady,
		"collection "+name+" has no ingested documents", nil).
		WithSuggestion("queue an ingestion for this collection first")
}

// Has reports whether a collection is known (loaded or corrupt).
func (m *Manager) Has(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.names[strings.ToLower(name)]
	return ok
}

// Infos returns the metrics snapshot of every known collection, sorted by name.
func (m *Manager) Infos() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]Info, 0, len(m.names))
	for key, name := range m.names {
		if s, ok := m.stores[key]; ok {
			infos = append(infos, s.Info())
			continue
		}
		infos = append(infos, Info{
			Collection: name,
			Health:     HealthCorrupt,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Collection < infos[j].Collection })
	return infos
}
