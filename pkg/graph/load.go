package graph

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/common"
	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/logger"
	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/store"
)

// Loader writes distilled units and page images to a GraphStorage.
// Writes are sequential and merge on id, so loading the same forest twice
// leaves the store unchanged.
type Loader struct {
	store store.GraphStorage
}

func NewLoader(s store.GraphStorage) *Loader {
	return &Loader{store: s}
}

func (l *Loader) upsert(ctx context.Context, n common.Node) error {
	if err := l.store.UpsertNode(ctx, []string{common.LabelNode, n.Label()}, n.Properties()); err != nil {
		return fmt.Errorf("failed to upsert %s %s: %w", n.Label(), n.NodeID(), err)
	}
	return nil
}

func (l *Loader) link(ctx context.Context, from, to, relType string) error {
	if err := l.store.UpsertRelationship(ctx, from, to, relType); err != nil {
		return fmt.Errorf("failed to link %s -%s-> %s: %w", from, relType, to, err)
	}
	return nil
}

// Persist writes every unit with its sections, mentions and figures and
// the HAS_SECTION, HAS_MENTION and HAS_FIGURE relationships between them.
func (l *Loader) Persist(ctx context.Context, units []*common.Unit) error {
	nodes, rels := 0, 0
	for _, u := range units {
		if err := l.upsert(ctx, u); err != nil {
			return err
		}
		nodes++
		for _, s := range u.Sections {
			if err := l.upsert(ctx, s); err != nil {
				return err
			}
			if err := l.link(ctx, u.ID, s.ID, common.RelHasSection); err != nil {
				return err
			}
			nodes++
			rels++
			for _, m := range s.Mentions {
				if err := l.upsert(ctx, m); err != nil {
					return err
				}
				if err := l.link(ctx, s.ID, m.ID, common.RelHasMention); err != nil {
					return err
				}
				nodes++
				rels++
			}
			for _, f := range s.FigRefs {
				if err := l.upsert(ctx, f); err != nil {
					return err
				}
				if err := l.link(ctx, s.ID, f.ID, common.RelHasFigure); err != nil {
					return err
				}
				nodes++
				rels++
			}
		}
	}

	logger.Info("[Loader] Persisted units", "units", len(units), "nodes", nodes, "relationships", rels)

	return nil
}

// PersistPageImages writes page images. They carry only the PageImage
// label and stay outside the vector index.
func (l *Loader) PersistPageImages(ctx context.Context, images []*common.PageImage) error {
	for _, img := range images {
		if err := l.store.UpsertNode(ctx, []string{img.Label()}, img.Properties()); err != nil {
			return fmt.Errorf("failed to upsert page image %d: %w", img.PageNumber, err)
		}
	}

	logger.Info("[Loader] Persisted page images", "images", len(images))

	return nil
}

// BuildIndex drops and recreates the shared vector index over every
// embedded node.
func (l *Loader) BuildIndex(ctx context.Context, dimension int, metric store.Metric) error {
	cfg := store.IndexConfig{
		Name:      store.DefaultIndexName,
		Label:     common.LabelNode,
		Property:  store.EmbeddingProperty,
		Dimension: dimension,
		Metric:    metric,
	}
	if err := l.store.RebuildVectorIndex(ctx, cfg); err != nil {
		return fmt.Errorf("failed to rebuild vector index: %w", err)
	}

	logger.Info("[Loader] Vector index rebuilt", "index", cfg.Name, "dimension", dimension, "metric", metric)

	return nil
}
