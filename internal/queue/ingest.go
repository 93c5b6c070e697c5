package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/ai"
	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/common"
	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/graph"
	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/leaselock"
	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/logger"
	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/store"
)

// IngestMessage asks the worker to build the graph of one textbook. The
// pages document and the optional image manifest are read from object
// storage.
type IngestMessage struct {
	PagesKey  string `json:"pages_key" validate:"required"`
	ImagesKey string `json:"images_key"`
	// Bucket overrides the configured bucket.
	Bucket string `json:"bucket,omitempty"`
}

type ObjectReader interface {
	GetObject(ctx context.Context, bucket string, key string) ([]byte, error)
}

// IngestLockKey serializes construction passes across workers that share
// a store.
const IngestLockKey = "graph_ingest"

type Locker interface {
	WithLease(ctx context.Context, key string, opts leaselock.Options, fn func(ctx context.Context) error) error
}

// WithIngestLock runs fn under the shared ingest lease. A nil locker runs
// fn directly.
func WithIngestLock(ctx context.Context, locker Locker, owner string, fn func(ctx context.Context) error) error {
	if locker == nil {
		return fn(ctx)
	}
	return locker.WithLease(ctx, IngestLockKey, leaselock.Options{
		TTL:        2 * time.Minute,
		Wait:       true,
		WaitJitter: 500 * time.Millisecond,
		Owner:      owner,
	}, fn)
}

// ProcessIngestMessage downloads the inputs named by msg and runs a full
// construction pass.
func ProcessIngestMessage(
	ctx context.Context,
	objects ObjectReader,
	graphClient *graph.GraphClient,
	aiClient ai.GraphAIClient,
	storeClient store.GraphStorage,
	msg string,
) (*graph.ProcessSummary, error) {
	var data IngestMessage
	if err := json.Unmarshal([]byte(msg), &data); err != nil {
		return nil, fmt.Errorf("failed to decode ingest message: %w", err)
	}
	if data.PagesKey == "" {
		return nil, fmt.Errorf("ingest message without pages_key")
	}

	logger.Info("[Queue] Ingesting textbook", "pages_key", data.PagesKey, "images_key", data.ImagesKey)

	raw, err := objects.GetObject(ctx, data.Bucket, data.PagesKey)
	if err != nil {
		return nil, fmt.Errorf("failed to download pages: %w", err)
	}
	pages, err := common.ReadPages(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}

	var images []*common.PageImage
	if data.ImagesKey != "" {
		raw, err := objects.GetObject(ctx, data.Bucket, data.ImagesKey)
		if err != nil {
			return nil, fmt.Errorf("failed to download image manifest: %w", err)
		}
		images, err = common.ReadImageManifest(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
	}

	summary, err := graphClient.ProcessDocument(ctx, pages, images, aiClient, storeClient)
	if err != nil {
		return nil, err
	}

	logger.Info(
		"[Queue] Textbook ingested",
		"pages_key", data.PagesKey,
		"units", summary.Units,
		"sections", summary.Sections,
		"mentions", summary.Mentions,
		"figures", summary.Figures,
		"page_images", summary.PageImages,
	)

	return summary, nil
}
