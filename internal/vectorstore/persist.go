package vectorstore

import (
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"studyrag/internal/model"
)

const (
	arenaFile   = "vectors.gob"
	sidecarFile = "sidecar.json"
)

type arenaState struct {
	Dimension int
	IDs       []int64
	Vectors   [][]float32
}

type sidecarState struct {
	IDMap     map[int64]string                  `json:"id_map"`
	ChunkMap  map[string]int64                  `json:"chunk_map"`
	Metadata  map[int64]model.EmbeddingMetadata `json:"metadata"`
	Contents  map[int64]string                  `json:"contents"`
	NextID    int64                             `json:"next_id"`
	Dimension int                               `json:"dimension"`
}

// Save serializes the arena and the side tables into dir. It must not run
// concurrently with another writer; the store lock enforces that.
func (s *Store) Save(dir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create index dir failed: %w", err)
	}

	arena := arenaState{
		Dimension: s.dimension,
		IDs:       make([]int64, len(s.slots)),
		Vectors:   make([][]float32, len(s.slots)),
	}
	for i, sl := range s.slots {
		arena.IDs[i] = sl.id
		arena.Vectors[i] = sl.vector
	}

	sidecar := sidecarState{
		IDMap:     make(map[int64]string, len(s.metadata)),
		ChunkMap:  s.chunkMap,
		Metadata:  s.metadata,
		Contents:  s.contents,
		NextID:    s.nextID,
		Dimension: s.dimension,
	}
	for chunkID, id := range s.chunkMap {
		sidecar.IDMap[id] = chunkID
	}

	if err := writeGob(filepath.Join(dir, arenaFile), arena); err != nil {
		return fmt.Errorf("write arena failed: %w", err)
	}
	if err := writeJSON(filepath.Join(dir, sidecarFile), sidecar); err != nil {
		return fmt.Errorf("write sidecar failed: %w", err)
	}
	return nil
}

// Load restores the store from dir, replacing any in-memory state. A missing
// directory means "start empty". A stored dimensionality that differs from
// the live embedding dimensionality is a fatal configuration error; vectors
// are never truncated or padded.
func (s *Store) Load(dir string) error {
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	var arena arenaState
	if err := readGob(filepath.Join(dir, arenaFile), &arena); err != nil {
		return fmt.Errorf("read arena failed: %w", err)
	}
	var sidecar sidecarState
	if err := readJSON(filepath.Join(dir, sidecarFile), &sidecar); err != nil {
		return fmt.Errorf("read sidecar failed: %w", err)
	}

	if arena.Dimension != s.dimension || sidecar.Dimension != s.dimension {
		return fmt.Errorf("%w: stored dimension %d, embedder dimension %d",
			ErrDimensionMismatch, arena.Dimension, s.dimension)
	}
	if len(arena.IDs) != len(arena.Vectors) {
		return fmt.Errorf("corrupt arena: %d ids, %d vectors", len(arena.IDs), len(arena.Vectors))
	}

	slots := make([]slot, len(arena.IDs))
	idMap := make(map[int64]int, len(arena.IDs))
	for i := range arena.IDs {
		if len(arena.Vectors[i]) != s.dimension {
			return fmt.Errorf("%w: stored vector %d has dimension %d",
				ErrDimensionMismatch, i, len(arena.Vectors[i]))
		}
		slots[i] = slot{id: arena.IDs[i], vector: arena.Vectors[i]}
		idMap[arena.IDs[i]] = i
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots = slots
	s.idMap = idMap
	s.chunkMap = sidecar.ChunkMap
	s.metadata = sidecar.Metadata
	s.contents = sidecar.Contents
	s.nextID = sidecar.NextID
	if s.chunkMap == nil {
		s.chunkMap = make(map[string]int64)
	}
	if s.metadata == nil {
		s.metadata = make(map[int64]model.EmbeddingMetadata)
	}
	if s.contents == nil {
		s.contents = make(map[int64]string)
	}
	return nil
}

func writeGob(path string, v interface{}) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return gob.NewEncoder(f).Encode(v)
}

func readGob(path string, v interface{}) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return gob.NewDecoder(f).Decode(v)
}

func writeJSON(path string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
