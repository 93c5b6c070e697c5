package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrIndexNotFound is returned when a vector query names an index that
	// has not been built (or was dropped).
	ErrIndexNotFound = errors.New("vector index not found")
	// ErrUnsupportedMetric is returned when a backend cannot build an index
	// with the requested similarity metric.
	ErrUnsupportedMetric = errors.New("unsupported similarity metric")
	// ErrDimensionMismatch is returned when a vector does not match the
	// dimension of the index it is written to or queried against.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// DefaultIndexName is the name of the shared vector index over all
// embedded nodes.
const DefaultIndexName = "node_embedding_index"

// EmbeddingProperty is the node property holding the embedding vector.
const EmbeddingProperty = "embedding"

type Metric string

const (
	MetricCosine    Metric = "cosine"
	MetricEuclidean Metric = "euclidean"
	MetricDot       Metric = "dot"
)

// ParseMetric maps a config value onto a Metric.
func ParseMetric(s string) (Metric, error) {
	switch Metric(strings.ToLower(strings.TrimSpace(s))) {
	case "", MetricCosine:
		return MetricCosine, nil
	case MetricEuclidean, "l2":
		return MetricEuclidean, nil
	case MetricDot, "ip", "inner_product":
		return MetricDot, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedMetric, s)
	}
}

// IndexConfig describes a vector index over Property of every node
// carrying Label.
type IndexConfig struct {
	Name      string
	Label     string
	Property  string
	Dimension int
	Metric    Metric
}

// StoredNode is a node as read back from the store. Props holds every
// persisted property including "id".
type StoredNode struct {
	ID     string
	Labels []string
	Props  map[string]any
}

// HasLabel reports whether the node carries label.
func (n StoredNode) HasLabel(label string) bool {
	for _, l := range n.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// ScoredNode is a vector search hit. Higher Score means more similar.
type ScoredNode struct {
	StoredNode
	Score float64
}

// GraphStorage is the property-graph store the textbook graph is persisted
// to and retrieved from. Upserts merge on the "id" property.
type GraphStorage interface {
	UpsertNode(ctx context.Context, labels []string, props map[string]any) error
	UpsertRelationship(ctx context.Context, fromID string, toID string, relType string) error

	RebuildVectorIndex(ctx context.Context, cfg IndexConfig) error
	DropVectorIndex(ctx context.Context, name string) error
	// QueryVectorIndex returns up to k nodes ordered by descending score.
	QueryVectorIndex(ctx context.Context, name string, k int, vector []float32) ([]ScoredNode, error)

	// FindNodes returns nodes with label whose property equals one of
	// values, ordered by id.
	FindNodes(ctx context.Context, label string, property string, values []any) ([]StoredNode, error)
	// FindParents returns nodes with parentLabel that have an outgoing
	// relationship of one of relTypes to childID, ordered by id.
	FindParents(ctx context.Context, childID string, relTypes []string, parentLabel string) ([]StoredNode, error)

	Close(ctx context.Context) error
}
