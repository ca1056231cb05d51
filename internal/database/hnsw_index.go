package database

import (
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/coder/hnsw"

	"github.com/kozaktomas/presence/internal/biometric"
)

// ProfileIndexMetadata stores metadata for validating cached profile indexes.
type ProfileIndexMetadata struct {
	ProfileCount int64     `json:"profile_count"`
	LastUpdated  time.Time `json:"last_updated"`
	Dim          int       `json:"dim"`
	BuildTime    time.Time `json:"build_time"`
	Version      int       `json:"version"`
}

const profileIndexVersion = 1

var errIndexEmpty = errors.New("index not initialized")

// ProfileIndex wraps an HNSW graph over active profile embeddings, keyed by
// identity. All embeddings in one index share a dimension.
type ProfileIndex struct {
	graph      *hnsw.Graph[string]
	savedGraph *hnsw.SavedGraph[string] // For persistence
	embeddings map[string][]float32
	dim        int
	mu         sync.RWMutex
}

// NewProfileIndex creates a new empty profile index.
func NewProfileIndex() *ProfileIndex {
	return &ProfileIndex{
		embeddings: make(map[string][]float32),
	}
}

func newGraph() *hnsw.Graph[string] {
	g := hnsw.NewGraph[string]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors) // Standard HNSW formula
	g.EfSearch = HNSWEfSearch
	g.Distance = hnsw.CosineDistance
	return g
}

// Build replaces the index with the active profiles that carry an embedding.
// The first embedding fixes the dimension; profiles of any other dimension
// are left out and counted in the returned skip count.
func (h *ProfileIndex) Build(profiles []StoredProfile) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.graph = nil
	h.savedGraph = nil
	h.embeddings = make(map[string][]float32, len(profiles))
	h.dim = 0

	skipped := 0
	var g *hnsw.Graph[string]
	for i := range profiles {
		p := &profiles[i]
		if !p.Active || len(p.Embedding) == 0 {
			continue
		}
		if biometric.ValidateEmbedding(p.Embedding) != nil {
			skipped++
			continue
		}
		if h.dim == 0 {
			h.dim = len(p.Embedding)
			g = newGraph()
		}
		if len(p.Embedding) != h.dim {
			skipped++
			continue
		}
		g.Add(hnsw.MakeNode(p.IdentityID, p.Embedding))
		h.embeddings[p.IdentityID] = p.Embedding
	}

	h.graph = g
	return skipped
}

// Add indexes one embedding. A known identity gets its vector replaced for
// scoring; the graph keeps the old node position until the next Build.
func (h *ProfileIndex) Add(identityID string, embedding []float32) error {
	if err := biometric.ValidateEmbedding(embedding); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.dim != 0 && len(embedding) != h.dim {
		return fmt.Errorf("%w: index holds %d, got %d", biometric.ErrDimensionMismatch, h.dim, len(embedding))
	}
	if h.graph == nil && h.savedGraph == nil {
		h.graph = newGraph()
		h.dim = len(embedding)
	}

	if _, known := h.embeddings[identityID]; !known {
		if h.savedGraph != nil {
			h.savedGraph.Add(hnsw.MakeNode(identityID, embedding))
		} else {
			h.graph.Add(hnsw.MakeNode(identityID, embedding))
		}
	}
	h.embeddings[identityID] = embedding
	return nil
}

// Delete removes an identity from search results.
func (h *ProfileIndex) Delete(identityID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// The graph node stays; lookups through the embeddings map filter it out.
	delete(h.embeddings, identityID)
}

// Search returns up to k identities nearest to query, most similar first.
func (h *ProfileIndex) Search(query []float32, k int) ([]Neighbor, error) {
	if err := biometric.ValidateEmbedding(query); err != nil {
		return nil, err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil && h.savedGraph == nil {
		return nil, errIndexEmpty
	}
	if len(query) != h.dim {
		return nil, fmt.Errorf("%w: index holds %d, got %d", biometric.ErrDimensionMismatch, h.dim, len(query))
	}

	searchK := max(k*HNSWSearchMultiplier, HNSWMinSearch)

	var nodes []hnsw.Node[string]
	if h.savedGraph != nil {
		nodes = h.savedGraph.Search(query, searchK)
	} else {
		nodes = h.graph.Search(query, searchK)
	}

	out := make([]Neighbor, 0, k)
	for _, n := range nodes {
		emb, ok := h.embeddings[n.Key]
		if !ok {
			continue
		}
		sim, err := biometric.CosineSimilarity(query, emb)
		if err != nil {
			continue
		}
		out = append(out, Neighbor{IdentityID: n.Key, Similarity: sim})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// Count returns the number of indexed profiles.
func (h *ProfileIndex) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.embeddings)
}

// Dim returns the embedding dimension of the index, 0 when empty.
func (h *ProfileIndex) Dim() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dim
}

// IsEmpty returns true if the index has no graph data loaded.
func (h *ProfileIndex) IsEmpty() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.graph == nil && h.savedGraph == nil
}

// LoadProfileIndexMetadata loads metadata from a separate .meta file.
func LoadProfileIndexMetadata(path string) (ProfileIndexMetadata, error) {
	var metadata ProfileIndexMetadata

	data, err := os.ReadFile(path + ".meta") //nolint:gosec // path is from trusted config
	if err != nil {
		return metadata, fmt.Errorf("failed to read metadata file: %w", err)
	}
	if err := json.Unmarshal(data, &metadata); err != nil {
		return metadata, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return metadata, nil
}

// SaveWithMetadata persists the graph, the metadata and the embeddings so a
// restart can skip the rebuild when the database has not changed.
func (h *ProfileIndex) SaveWithMetadata(path string, metadata ProfileIndexMetadata) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil && h.savedGraph == nil {
		// Remove existing files if index is empty (best-effort cleanup).
		_ = os.Remove(path)
		_ = os.Remove(path + ".meta")
		_ = os.Remove(path + ".profiles")
		return nil
	}

	f, err := os.Create(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("failed to create HNSW index file: %w", err)
	}
	if h.savedGraph != nil {
		err = h.savedGraph.Export(f)
	} else {
		err = h.graph.Export(f)
	}
	_ = f.Close()
	if err != nil {
		return fmt.Errorf("failed to export HNSW graph: %w", err)
	}

	metadata.Version = profileIndexVersion
	metadata.Dim = h.dim
	metaData, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(path+".meta", metaData, 0600); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}

	pf, err := os.Create(path + ".profiles") //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("failed to create profiles file: %w", err)
	}
	defer pf.Close()

	if err := gob.NewEncoder(pf).Encode(h.embeddings); err != nil {
		return fmt.Errorf("failed to encode profiles: %w", err)
	}
	return nil
}

// LoadWithMetadata loads a graph and its embeddings saved by SaveWithMetadata.
func (h *ProfileIndex) LoadWithMetadata(path string) error {
	metadata, err := LoadProfileIndexMetadata(path)
	if err != nil {
		return err
	}
	if metadata.Version != profileIndexVersion {
		return fmt.Errorf("unsupported index version %d", metadata.Version)
	}

	saved, err := hnsw.LoadSavedGraph[string](path)
	if err != nil {
		return fmt.Errorf("failed to load HNSW index: %w", err)
	}

	pf, err := os.Open(path + ".profiles") //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("failed to open profiles file: %w", err)
	}
	defer pf.Close()

	var embeddings map[string][]float32
	if err := gob.NewDecoder(pf).Decode(&embeddings); err != nil {
		return fmt.Errorf("failed to decode profiles: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.graph = nil
	h.savedGraph = saved
	h.embeddings = embeddings
	h.dim = metadata.Dim
	return nil
}
