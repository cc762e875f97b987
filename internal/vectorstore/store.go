package vectorstore

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"studyrag/internal/model"
)

const defaultOverfetchFactor = 4

var (
	ErrLengthMismatch    = errors.New("vectors, contents and metadata must have equal length")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

type slot struct {
	id     int64
	vector []float32
}

// Store is an in-memory flat vector index with metadata side tables.
//
// Vectors live in a growable arena of slots keyed by a stable integer id;
// auxiliary maps cover id and chunk-id lookups. Delete removes side-table
// entries only: the vector slot stays in the arena until Rebuild repacks it,
// so Size may exceed Live after deletions.
//
// Vectors must arrive unit-normalized; scoring is plain inner product and the
// store never renormalizes.
type Store struct {
	mu        sync.RWMutex
	dimension int
	overfetch int

	slots    []slot
	idMap    map[int64]int     // id -> arena position
	chunkMap map[string]int64  // chunk id -> internal id
	metadata map[int64]model.EmbeddingMetadata
	contents map[int64]string
	nextID   int64
}

type Option func(*Store)

func WithOverfetchFactor(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.overfetch = n
		}
	}
}

func New(dimension int, opts ...Option) (*Store, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("invalid dimension %d", dimension)
	}
	s := &Store{
		dimension: dimension,
		overfetch: defaultOverfetchFactor,
		idMap:     make(map[int64]int),
		chunkMap:  make(map[string]int64),
		metadata:  make(map[int64]model.EmbeddingMetadata),
		contents:  make(map[int64]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Dimension() int {
	return s.dimension
}

// Size reports the number of arena slots, including soft-deleted ones.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.slots)
}

// Live reports the number of entries still present in the side tables.
func (s *Store) Live() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.metadata)
}

// Add appends vectors with their contents and metadata and returns the
// assigned internal ids. It is purely additive.
func (s *Store) Add(vectors [][]float32, contents []string, metas []model.EmbeddingMetadata) ([]int64, error) {
	if len(vectors) != len(contents) || len(vectors) != len(metas) {
		return nil, ErrLengthMismatch
	}
	for i, v := range vectors {
		if len(v) != s.dimension {
			return nil, fmt.Errorf("%w: vector %d has dimension %d, store has %d",
				ErrDimensionMismatch, i, len(v), s.dimension)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int64, len(vectors))
	for i := range vectors {
		id := s.nextID
		s.nextID++

		s.idMap[id] = len(s.slots)
		s.slots = append(s.slots, slot{id: id, vector: vectors[i]})
		s.chunkMap[metas[i].ChunkID] = id
		s.metadata[id] = metas[i]
		s.contents[id] = contents[i]
		ids[i] = id
	}
	return ids, nil
}

// SearchFilter narrows search results post-hoc; filters are not pushed into
// the similarity scan, so highly selective filters can legitimately return
// fewer than topK results.
type SearchFilter struct {
	UserID       uint
	DocumentIDs  []uint
	SyllabusTags []string
	MinScore     float64
}

// Search returns up to topK live results ordered by descending inner-product
// score. An empty store returns an empty slice, not an error.
func (s *Store) Search(query []float32, topK int, filter SearchFilter) ([]model.SearchResult, error) {
	if len(query) != s.dimension {
		return nil, fmt.Errorf("%w: query has dimension %d, store has %d",
			ErrDimensionMismatch, len(query), s.dimension)
	}
	if topK <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.slots) == 0 {
		return nil, nil
	}

	fetch := topK * s.overfetch
	if fetch > len(s.slots) {
		fetch = len(s.slots)
	}

	type scored struct {
		pos   int
		score float64
	}
	candidates := make([]scored, len(s.slots))
	for i := range s.slots {
		candidates[i] = scored{pos: i, score: dot(s.slots[i].vector, query)}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	candidates = candidates[:fetch]

	docAllow := make(map[uint]struct{}, len(filter.DocumentIDs))
	for _, id := range filter.DocumentIDs {
		docAllow[id] = struct{}{}
	}
	tagFilter := make(map[string]struct{}, len(filter.SyllabusTags))
	for _, t := range filter.SyllabusTags {
		tagFilter[t] = struct{}{}
	}

	results := make([]model.SearchResult, 0, topK)
	for _, c := range candidates {
		id := s.slots[c.pos].id
		meta, ok := s.metadata[id]
		if !ok {
			continue // soft-deleted slot
		}
		if filter.UserID != 0 && meta.UserID != 0 && meta.UserID != filter.UserID {
			continue
		}
		if len(docAllow) > 0 {
			if _, ok := docAllow[meta.DocumentID]; !ok {
				continue
			}
		}
		if len(tagFilter) > 0 && !intersects(meta.SyllabusTags, tagFilter) {
			continue
		}
		if c.score < filter.MinScore {
			continue
		}
		results = append(results, model.SearchResult{
			ChunkID:  meta.ChunkID,
			Content:  s.contents[id],
			Score:    c.score,
			Metadata: meta,
		})
		if len(results) == topK {
			break
		}
	}
	return results, nil
}

// Delete removes the given chunks from the side tables and returns the count
// removed. The underlying vector slots are left in place; see Rebuild.
func (s *Store) Delete(chunkIDs []string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, chunkID := range chunkIDs {
		id, ok := s.chunkMap[chunkID]
		if !ok {
			continue
		}
		delete(s.chunkMap, chunkID)
		delete(s.metadata, id)
		delete(s.contents, id)
		removed++
	}
	return removed
}

// DeleteByDocument removes every live chunk belonging to documentID.
func (s *Store) DeleteByDocument(documentID uint) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, meta := range s.metadata {
		if meta.DocumentID != documentID {
			continue
		}
		delete(s.chunkMap, meta.ChunkID)
		delete(s.metadata, id)
		delete(s.contents, id)
		removed++
	}
	return removed
}

// Rebuild repacks the arena so it contains only live vectors, preserving
// internal ids. Intended to run as an external maintenance job, never as an
// implicit part of Delete.
func (s *Store) Rebuild() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := make([]slot, 0, len(s.metadata))
	idMap := make(map[int64]int, len(s.metadata))
	for _, sl := range s.slots {
		if _, ok := s.metadata[sl.id]; !ok {
			continue
		}
		idMap[sl.id] = len(fresh)
		fresh = append(fresh, sl)
	}
	purged := len(s.slots) - len(fresh)
	s.slots = fresh
	s.idMap = idMap
	return purged
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func intersects(tags []string, filter map[string]struct{}) bool {
	for _, t := range tags {
		if _, ok := filter[t]; ok {
			return true
		}
	}
	return false
}
