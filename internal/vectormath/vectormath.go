// Package vectormath implements cosine similarity and top-k selection over
// fixed-dimension float32 vectors.
package vectormath

import (
	"container/heap"
	"math"
	"sort"

	ragerr "localrag/internal/errors"
)

// CosineSimilarity returns the cosine of the angle between a and b.
// Returns 0 if either vector has zero magnitude. Inputs must be non-nil and
// the same length.
func CosineSimilarity(a, b []float32) (float32, error) {
	if a == nil || b == nil {
		return 0, ragerr.ValidationError("cosine similarity: nil vector")
	}
	if len(a) != len(b) {
		return 0, ragerr.Newf(ragerr.ErrCodeDimensionMismatch,
			"cosine similarity: length mismatch %d vs %d", len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB))), nil
}

// TopK returns the indices of the min(k, len(scores)) largest scores, sorted
// by score descending with ties broken by ascending index.
//
// A bounded min-heap keeps selection at O(n log k) for k much smaller than n.
func TopK(scores []float32, k int) []int {
	if k <= 0 || len(scores) == 0 {
		return []int{}
	}
	if k > len(scores) {
		k = len(scores)
	}

	h := make(scoreHeap, 0, k)
	for i, s := range scores {
		entry := scoredIndex{index: i, score: s}
		if len(h) < k {
			heap.Push(&h, entry)
			continue
		}
		if h.less(h[0], entry) {
			h[0] = entry
			heap.Fix(&h, 0)
		}
	}

	out := make([]int, 0, len(h))
	for _, e := range h {
		out = append(out, e.index)
	}
	sort.Slice(out, func(i, j int) bool {
		if scores[out[i]] != scores[out[j]] {
			return scores[out[i]] > scores[out[j]]
		}
		return out[i] < out[j]
	})
	return out
}

type scoredIndex struct {
	index int
	score float32
}

// scoreHeap is a min-heap on (score asc, index desc) so the root is always the
// entry to evict first: lowest score, and among equals the highest index.
type scoreHeap []scoredIndex

func (h scoreHeap) Len() int { return len(h) }

func (h scoreHeap) less(a, b scoredIndex) bool {
	if a.score != b.score {
		return a.score < b.score
	}
	return a.index > b.index
}

func (h scoreHeap) Less(i, j int) bool { return h.less(h[i], h[j]) }
func (h scoreHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *scoreHeap) Push(x any) {
	*h = append(*h, x.(scoredIndex))
}

func (h *scoreHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
