package store

import (
	"context"
	"sync"
)

// guardedStorage serializes index rebuilds against vector queries served
// by the same process. A query never observes the window between drop and
// create.
type guardedStorage struct {
	inner GraphStorage
	mu    sync.RWMutex
}

// NewGuardedStorage wraps inner so that RebuildVectorIndex and
// DropVectorIndex hold an exclusive lock while QueryVectorIndex holds a
// shared one. All other calls pass through.
func NewGuardedStorage(inner GraphStorage) GraphStorage {
	if g, ok := inner.(*guardedStorage); ok {
		return g
	}
	return &guardedStorage{inner: inner}
}

func (g *guardedStorage) UpsertNode(ctx context.Context, labels []string, props map[string]any) error {
	return g.inner.UpsertNode(ctx, labels, props)
}

func (g *guardedStorage) UpsertRelationship(ctx context.Context, fromID string, toID string, relType string) error {
	return g.inner.UpsertRelationship(ctx, fromID, toID, relType)
}

func (g *guardedStorage) RebuildVectorIndex(ctx context.Context, cfg IndexConfig) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inner.RebuildVectorIndex(ctx, cfg)
}

func (g *guardedStorage) DropVectorIndex(ctx context.Context, name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inner.DropVectorIndex(ctx, name)
}

func (g *guardedStorage) QueryVectorIndex(ctx context.Context, name string, k int, vector []float32) ([]ScoredNode, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.inner.QueryVectorIndex(ctx, name, k, vector)
}

func (g *guardedStorage) FindNodes(ctx context.Context, label string, property string, values []any) ([]StoredNode, error) {
	return g.inner.FindNodes(ctx, label, property, values)
}

func (g *guardedStorage) FindParents(ctx context.Context, childID string, relTypes []string, parentLabel string) ([]StoredNode, error) {
	return g.inner.FindParents(ctx, childID, relTypes, parentLabel)
}

func (g *guardedStorage) Close(ctx context.Context) error {
	return g.inner.Close(ctx)
}
