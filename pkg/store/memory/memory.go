// Package memory is an in-process GraphStorage. Nodes and relationships
// live in maps; vector indexes are chromem-go collections. It backs the
// CLI when no database is configured and the package tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/store"

	"github.com/philippgille/chromem-go"
)

var errNoEmbedder = errors.New("memory store only accepts precomputed embeddings")

// embeddings are always computed by the AI client before they reach the store
func rejectEmbedding(ctx context.Context, text string) ([]float32, error) {
	return nil, errNoEmbedder
}

type node struct {
	labels    []string
	props     map[string]any
	embedding []float32
}

func (n *node) hasLabel(label string) bool {
	for _, l := range n.labels {
		if l == label {
			return true
		}
	}
	return false
}

type edgeKey struct {
	from    string
	to      string
	relType string
}

type Storage struct {
	mu      sync.RWMutex
	nodes   map[string]*node
	edges   map[edgeKey]struct{}
	db      *chromem.DB
	indexes map[string]store.IndexConfig
}

func New() *Storage {
	return &Storage{
		nodes:   make(map[string]*node),
		edges:   make(map[edgeKey]struct{}),
		db:      chromem.NewDB(),
		indexes: make(map[string]store.IndexConfig),
	}
}

func (s *Storage) UpsertNode(ctx context.Context, labels []string, props map[string]any) error {
	id := store.PropString(props, "id")
	if id == "" {
		return fmt.Errorf("node without id")
	}
	rest, vec, err := store.SplitEmbedding(props)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[id]
	if !ok {
		n = &node{props: map[string]any{}}
		s.nodes[id] = n
	}
	for _, l := range labels {
		if !n.hasLabel(l) {
			n.labels = append(n.labels, l)
		}
	}
	for k, v := range rest {
		n.props[k] = v
	}
	if vec != nil {
		n.embedding = vec
	}

	// keep live indexes current the way a database index would be
	for name, cfg := range s.indexes {
		if !n.hasLabel(cfg.Label) || n.embedding == nil {
			continue
		}
		if len(n.embedding) != cfg.Dimension {
			return fmt.Errorf("%w: node %s has %d, index %s wants %d", store.ErrDimensionMismatch, id, len(n.embedding), name, cfg.Dimension)
		}
		col := s.db.GetCollection(name, rejectEmbedding)
		if col == nil {
			continue
		}
		if err := col.AddDocument(ctx, chromem.Document{ID: id, Content: id, Embedding: n.embedding}); err != nil {
			return fmt.Errorf("failed to index node %s: %w", id, err)
		}
	}

	return nil
}

func (s *Storage) UpsertRelationship(ctx context.Context, fromID string, toID string, relType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// MATCH semantics: a relationship between unknown nodes is a no-op
	if _, ok := s.nodes[fromID]; !ok {
		return nil
	}
	if _, ok := s.nodes[toID]; !ok {
		return nil
	}
	s.edges[edgeKey{from: fromID, to: toID, relType: relType}] = struct{}{}
	return nil
}

func (s *Storage) RebuildVectorIndex(ctx context.Context, cfg store.IndexConfig) error {
	if cfg.Metric != "" && cfg.Metric != store.MetricCosine {
		return fmt.Errorf("%w: chromem only supports cosine, got %s", store.ErrUnsupportedMetric, cfg.Metric)
	}
	if cfg.Property == "" {
		cfg.Property = store.EmbeddingProperty
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.DeleteCollection(cfg.Name); err != nil {
		return fmt.Errorf("failed to drop index %s: %w", cfg.Name, err)
	}
	delete(s.indexes, cfg.Name)

	docs := make([]chromem.Document, 0, len(s.nodes))
	for id, n := range s.nodes {
		if !n.hasLabel(cfg.Label) || n.embedding == nil {
			continue
		}
		if len(n.embedding) != cfg.Dimension {
			return fmt.Errorf("%w: node %s has %d, index %s wants %d", store.ErrDimensionMismatch, id, len(n.embedding), cfg.Name, cfg.Dimension)
		}
		docs = append(docs, chromem.Document{ID: id, Content: id, Embedding: n.embedding})
	}

	col, err := s.db.CreateCollection(cfg.Name, map[string]string{"label": cfg.Label}, rejectEmbedding)
	if err != nil {
		return fmt.Errorf("failed to create index %s: %w", cfg.Name, err)
	}
	if len(docs) > 0 {
		if err := col.AddDocuments(ctx, docs, 1); err != nil {
			return fmt.Errorf("failed to fill index %s: %w", cfg.Name, err)
		}
	}
	s.indexes[cfg.Name] = cfg

	return nil
}

func (s *Storage) DropVectorIndex(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.indexes, name)
	return s.db.DeleteCollection(name)
}

func (s *Storage) QueryVectorIndex(ctx context.Context, name string, k int, vector []float32) ([]store.ScoredNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.indexes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrIndexNotFound, name)
	}
	if len(vector) != cfg.Dimension {
		return nil, fmt.Errorf("%w: query has %d, index %s wants %d", store.ErrDimensionMismatch, len(vector), name, cfg.Dimension)
	}
	col := s.db.GetCollection(name, rejectEmbedding)
	if col == nil {
		return nil, fmt.Errorf("%w: %s", store.ErrIndexNotFound, name)
	}

	// chromem refuses to return more results than it holds
	n := min(k, col.Count())
	if n <= 0 {
		return []store.ScoredNode{}, nil
	}

	results, err := col.QueryEmbedding(ctx, vector, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query index %s: %w", name, err)
	}

	out := make([]store.ScoredNode, 0, len(results))
	for _, r := range results {
		nd, ok := s.nodes[r.ID]
		if !ok {
			continue
		}
		out = append(out, store.ScoredNode{
			StoredNode: toStored(r.ID, nd),
			Score:      float64(r.Similarity),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })

	return out, nil
}

func (s *Storage) FindNodes(ctx context.Context, label string, property string, values []any) ([]store.StoredNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []store.StoredNode{}
	for id, n := range s.nodes {
		if !n.hasLabel(label) {
			continue
		}
		v, ok := n.props[property]
		if !ok {
			continue
		}
		for _, want := range values {
			if store.ValuesEqual(v, want) {
				out = append(out, toStored(id, n))
				break
			}
		}
	}
	store.SortByID(out)

	return out, nil
}

func (s *Storage) FindParents(ctx context.Context, childID string, relTypes []string, parentLabel string) ([]store.StoredNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	types := make(map[string]struct{}, len(relTypes))
	for _, t := range relTypes {
		types[t] = struct{}{}
	}

	seen := map[string]struct{}{}
	out := []store.StoredNode{}
	for e := range s.edges {
		if e.to != childID {
			continue
		}
		if _, ok := types[e.relType]; !ok {
			continue
		}
		if _, ok := seen[e.from]; ok {
			continue
		}
		parent, ok := s.nodes[e.from]
		if !ok || !parent.hasLabel(parentLabel) {
			continue
		}
		seen[e.from] = struct{}{}
		out = append(out, toStored(e.from, parent))
	}
	store.SortByID(out)

	return out, nil
}

func (s *Storage) Close(ctx context.Context) error {
	return nil
}

// CountNodes returns the number of nodes carrying label.
func (s *Storage) CountNodes(label string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, n := range s.nodes {
		if n.hasLabel(label) {
			count++
		}
	}
	return count
}

// CountRelationships returns the number of relationships of relType, or
// of every type when relType is empty.
func (s *Storage) CountRelationships(relType string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for e := range s.edges {
		if relType == "" || e.relType == relType {
			count++
		}
	}
	return count
}

func toStored(id string, n *node) store.StoredNode {
	props := make(map[string]any, len(n.props)+1)
	for k, v := range n.props {
		props[k] = v
	}
	if n.embedding != nil {
		props[store.EmbeddingProperty] = append([]float32(nil), n.embedding...)
	}
	return store.StoredNode{
		ID:     id,
		Labels: append([]string(nil), n.labels...),
		Props:  props,
	}
}
