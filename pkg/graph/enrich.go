package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/kiwi-textbook/backend/internal/util"
	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/common"
	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/logger"
	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/store"

	"golang.org/x/sync/errgroup"
)

// Embedder computes the embedding of a text. Every ai.GraphAIClient is an
// Embedder.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error)
}

// EnrichOptions bounds an Enrich call. Parallel caps concurrent embedding
// calls (0 means 8); MaxRetries is the number of tries per node (0 means 3).
// A non-zero Dimension rejects vectors of any other length.
type EnrichOptions struct {
	Parallel   int
	MaxRetries int
	Dimension  int
}

var ErrEmptyEmbedding = errors.New("embedder returned an empty vector")

// Enrich attaches an embedding of its canonical text to every node
// reachable from units. Any node that still fails after its retries
// aborts the whole run.
func Enrich(ctx context.Context, units []*common.Unit, embedder Embedder, opts EnrichOptions) error {
	parallel := opts.Parallel
	if parallel <= 0 {
		parallel = 8
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	// the same object reachable twice is embedded once
	seen := map[common.Node]struct{}{}
	nodes := make([]common.Node, 0)
	for _, u := range units {
		for _, n := range u.Nodes() {
			if _, ok := seen[n]; ok {
				continue
			}
			seen[n] = struct{}{}
			nodes = append(nodes, n)
		}
	}
	logger.Info("[Enricher] Embedding nodes", "nodes", len(nodes))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for _, n := range nodes {
		g.Go(func() error {
			vec, err := util.RetryWithContext(gCtx, maxRetries, func(ctx context.Context) ([]float32, error) {
				return embedder.GenerateEmbedding(ctx, []byte(n.CanonicalText()))
			})
			if err != nil {
				return fmt.Errorf("failed to embed %s %s: %w", n.Label(), n.NodeID(), err)
			}
			if len(vec) == 0 {
				return fmt.Errorf("failed to embed %s %s: %w", n.Label(), n.NodeID(), ErrEmptyEmbedding)
			}
			if opts.Dimension > 0 && len(vec) != opts.Dimension {
				return fmt.Errorf("failed to embed %s %s: got %d dimensions, want %d: %w",
					n.Label(), n.NodeID(), len(vec), opts.Dimension, store.ErrDimensionMismatch)
			}
			setEmbedding(n, vec)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("[Enricher] Nodes embedded", "nodes", len(nodes))

	return nil
}

func setEmbedding(n common.Node, vec []float32) {
	switch v := n.(type) {
	case *common.Unit:
		v.Embedding = vec
	case *common.Section:
		v.Embedding = vec
	case *common.Mention:
		v.Embedding = vec
	case *common.FigureRef:
		v.Embedding = vec
	}
}
