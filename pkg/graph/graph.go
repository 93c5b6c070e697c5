package graph

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/ai"
	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/common"
	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/logger"
	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/store"
)

// ProcessSummary reports what one construction run produced.
type ProcessSummary struct {
	Pages      int `json:"pages"`
	Units      int `json:"units"`
	Sections   int `json:"sections"`
	Mentions   int `json:"mentions"`
	Figures    int `json:"figures"`
	PageImages int `json:"page_images"`
}

// ProcessDocument runs a full construction pass: page preparation,
// distillation, embedding, persistence and the vector index rebuild.
// Units whose extraction failed are skipped; every later failure aborts
// the run.
func (g *GraphClient) ProcessDocument(
	ctx context.Context,
	pages []common.Page,
	images []*common.PageImage,
	aiClient ai.GraphAIClient,
	storeClient store.GraphStorage,
) (*ProcessSummary, error) {
	extractor := NewAIExtractor(aiClient, g.extractModel)
	extractor.Thinking = g.extractThinking
	return g.ProcessDocumentWithExtractor(ctx, pages, images, extractor, aiClient, storeClient)
}

// ProcessDocumentWithExtractor is ProcessDocument with a custom extractor.
func (g *GraphClient) ProcessDocumentWithExtractor(
	ctx context.Context,
	pages []common.Page,
	images []*common.PageImage,
	extractor Extractor,
	embedder Embedder,
	storeClient store.GraphStorage,
) (*ProcessSummary, error) {
	logger.Info("[Graph] Processing", "pages", len(pages), "page_images", len(images))

	// the distiller reads 0 as "use the default"
	maxRetries := g.maxRetries
	if maxRetries == 0 {
		maxRetries = -1
	}

	distiller, err := NewDistiller(NewDistillerParams{
		Extractor:    extractor,
		Timeout:      g.extractTimeout,
		MaxRetries:   maxRetries,
		Parallel:     g.parallelExtraction,
		TokenEncoder: g.tokenEncoder,
	})
	if err != nil {
		return nil, err
	}

	units, err := distiller.Distill(ctx, PreparePages(pages))
	if err != nil {
		return nil, fmt.Errorf("failed to distill document: %w", err)
	}

	if err := Enrich(ctx, units, embedder, EnrichOptions{Parallel: g.parallelAiRequests, Dimension: g.embeddingDim}); err != nil {
		return nil, fmt.Errorf("failed to embed graph nodes: %w", err)
	}

	loader := NewLoader(storeClient)
	if err := loader.Persist(ctx, units); err != nil {
		return nil, fmt.Errorf("failed to persist units: %w", err)
	}
	if err := loader.PersistPageImages(ctx, images); err != nil {
		return nil, fmt.Errorf("failed to persist page images: %w", err)
	}
	if err := loader.BuildIndex(ctx, g.embeddingDim, g.metric); err != nil {
		return nil, err
	}

	summary := &ProcessSummary{
		Pages:      len(pages),
		Units:      len(units),
		PageImages: len(images),
	}
	for _, u := range units {
		summary.Sections += len(u.Sections)
		for _, s := range u.Sections {
			summary.Mentions += len(s.Mentions)
			summary.Figures += len(s.FigRefs)
		}
	}

	logger.Info("[Graph] Graph build completed",
		"units", summary.Units,
		"sections", summary.Sections,
		"mentions", summary.Mentions,
		"figures", summary.Figures,
	)

	return summary, nil
}
