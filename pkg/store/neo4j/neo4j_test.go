package neo4j

import (
	"errors"
	"testing"

	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/store"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

func TestLabelExpression(t *testing.T) {
	tests := []struct {
		name    string
		labels  []string
		want    string
		wantErr bool
	}{
		{"node and kind", []string{"Node", "Section"}, ":Node:Section", false},
		{"duplicates collapse", []string{"Node", "Node", "Mention"}, ":Node:Mention", false},
		{"single", []string{"PageImage"}, ":PageImage", false},
		{"empty", nil, "", true},
		{"injection", []string{"Node) DETACH DELETE (n"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := labelExpression(tt.labels)
			if (err != nil) != tt.wantErr {
				t.Fatalf("labelExpression() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("labelExpression() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSimilarityFunction(t *testing.T) {
	if fn, err := similarityFunction(""); err != nil || fn != "cosine" {
		t.Fatalf("expected cosine default, got %q, %v", fn, err)
	}
	if fn, err := similarityFunction(store.MetricEuclidean); err != nil || fn != "euclidean" {
		t.Fatalf("expected euclidean, got %q, %v", fn, err)
	}
	if _, err := similarityFunction(store.MetricDot); !errors.Is(err, store.ErrUnsupportedMetric) {
		t.Fatalf("expected ErrUnsupportedMetric, got %v", err)
	}
}

func TestVectorDimension(t *testing.T) {
	options := map[string]any{
		"indexProvider": "vector-2.0",
		"indexConfig": map[string]any{
			"vector.dimensions":          int64(1536),
			"vector.similarity_function": "COSINE",
		},
	}
	if got := vectorDimension(options); got != 1536 {
		t.Fatalf("expected 1536, got %d", got)
	}
	if got := vectorDimension(nil); got != 0 {
		t.Fatalf("expected 0 for missing options, got %d", got)
	}
}

func TestIsMissingIndex(t *testing.T) {
	err := errors.New("Neo.ClientError.Procedure.ProcedureCallFailed: There is no such vector schema index: node_embedding_index")
	if !isMissingIndex(err) {
		t.Fatal("expected missing index to be detected")
	}
	if isMissingIndex(errors.New("connection refused")) {
		t.Fatal("expected other errors to pass through")
	}
}

func TestToStored(t *testing.T) {
	node := neo4j.Node{
		Labels: []string{"Node", "Section"},
		Props: map[string]any{
			"id":        "S1",
			"summary":   "Cells.",
			"embedding": []any{0.5, 1.0},
		},
	}

	got := toStored(node)
	if got.ID != "S1" || !got.HasLabel("Section") {
		t.Fatalf("unexpected node %+v", got)
	}
	vec, ok := got.Props["embedding"].([]float32)
	if !ok || len(vec) != 2 || vec[1] != 1 {
		t.Fatalf("expected embedding as []float32, got %#v", got.Props["embedding"])
	}
}
