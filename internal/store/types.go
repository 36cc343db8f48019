// Package store persists collection vectors in a binary table with a JSON
// metadata sidecar, and serves brute-force cosine retrieval over them.
package store

import (
	"strings"
	"time"
)

// ChunkMetadata describes one embedded chunk. ChunkText is authoritative for
// prompt grounding; TextPreview is for UI and logs only.
type ChunkMetadata struct {
	FileName       string    `json:"fileName"`
	SourcePath     string    `json:"sourcePath"`
	ChunkIndex     int       `json:"chunkIndex"`
	ChunkText      string    `json:"chunkText"`
	TextPreview    string    `json:"textPreview"`
	HeaderContext  string    `json:"headerContext"`
	IngestedAt     time.Time `json:"ingestedAt"`
	EmbeddingModel string    `json:"embeddingModel"`
}

// Record is one row of the vector table.
type Record struct {
	ID       string
	Vector   []float32
	Metadata ChunkMetadata
}

// SearchResult is one FindNearest hit.
type SearchResult struct {
	ID       string
	Score    float32
	Metadata ChunkMetadata
}

// Health values reported per collection.
const (
	HealthOK      = "OK"
	HealthCorrupt = "CORRUPT"
)

// Info is a per-collection metrics snapshot.
type Info struct {
	Collection     string `json:"collection"`
	VectorCount    int    `json:"vectorCount"`
	Dimension      int    `json:"dimension"`
	EmbeddingModel string `json:"embeddingModel"`
	TotalSizeBytes int64  `json:"totalSizeBytes"`
	Health         string `json:"health"`
}

// metadataEntry is the on-disk shape of one metadata row, in vector order.
// chunkMetadataJSON tolerates legacy sidecars that used "file" instead of
// "fileName"; the fallback is applied at read time with a warning.
type metadataEntry struct {
	ID       string            `json:"id"`
	Metadata chunkMetadataJSON `json:"metadata"`
}

type chunkMetadataJSON struct {
	ChunkMetadata
	LegacyFile string `json:"file,omitempty"`
}

// sameFileName compares file names case-insensitively, matching manifest keying.
func sameFileName(a, b string) bool {
	return strings.EqualFold(a, b)
}
