package query

import (
	"context"
	"fmt"
	"sort"

	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/common"
	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/store"
)

// parentRelationships lead from a Section to the leaf nodes it owns.
var parentRelationships = []string{common.RelHasMention, common.RelHasFigure}

// Retriever finds the Sections most relevant to a query vector.
type Retriever struct {
	store     store.GraphStorage
	indexName string
}

func NewRetriever(s store.GraphStorage) *Retriever {
	return &Retriever{store: s, indexName: store.DefaultIndexName}
}

// RetrieveTopSections returns up to k nodes for vector, best first.
//
// The k nearest nodes of the vector index are fetched. A Mention or
// FigureRef hit is replaced by the Section(s) owning it, carrying the
// hit's score; a hit without an owning Section is kept as it is. Each
// Section appears once, at its best score. Embeddings are removed from the
// returned properties.
//
// Only one hop is followed, so a Unit hit stays a Unit.
func (r *Retriever) RetrieveTopSections(ctx context.Context, vector []float32, k int) ([]store.ScoredNode, error) {
	return r.retrieve(ctx, vector, k, nil)
}

func (r *Retriever) retrieve(ctx context.Context, vector []float32, k int, trace Tracer) ([]store.ScoredNode, error) {
	if k <= 0 {
		return []store.ScoredNode{}, nil
	}

	hits, err := r.store.QueryVectorIndex(ctx, r.indexName, k, vector)
	if err != nil {
		return nil, fmt.Errorf("failed to query vector index: %w", err)
	}
	if trace != nil {
		ids := make([]string, len(hits))
		for i, h := range hits {
			ids[i] = h.ID
		}
		RecordConsideredNodeIDs(trace, ids...)
	}

	candidates := make([]store.ScoredNode, 0, len(hits))
	for _, hit := range hits {
		if hit.HasLabel(common.LabelSection) {
			candidates = append(candidates, hit)
			continue
		}

		parents, err := r.store.FindParents(ctx, hit.ID, parentRelationships, common.LabelSection)
		if err != nil {
			return nil, fmt.Errorf("failed to find section of %s: %w", hit.ID, err)
		}
		if len(parents) == 0 {
			candidates = append(candidates, hit)
			continue
		}
		for _, p := range parents {
			candidates = append(candidates, store.ScoredNode{StoredNode: p, Score: hit.Score})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	seen := make(map[string]struct{}, len(candidates))
	out := make([]store.ScoredNode, 0, min(k, len(candidates)))
	for _, c := range candidates {
		if len(out) == k {
			break
		}
		if _, ok := seen[c.ID]; ok {
			continue
		}
		seen[c.ID] = struct{}{}
		out = append(out, withoutEmbedding(c))
	}

	return out, nil
}

func withoutEmbedding(n store.ScoredNode) store.ScoredNode {
	props := make(map[string]any, len(n.Props))
	for k, v := range n.Props {
		if k == store.EmbeddingProperty {
			continue
		}
		props[k] = v
	}
	n.Props = props
	return n
}
