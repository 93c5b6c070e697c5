package graph

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/ai"
	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/common"
	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/store"
	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/store/memory"
)

const threeUnits = "### 1.1 Cells\nCells are small.\n### 1.2 Broken\nbad\n### 1.3 Tissues\nGroups of cells."

func newTestDistiller(t *testing.T, ex Extractor) *Distiller {
	t.Helper()
	d, err := NewDistiller(NewDistillerParams{
		Extractor:  ex,
		Timeout:    time.Second,
		MaxRetries: 2,
	})
	if err != nil {
		t.Fatalf("NewDistiller error = %v", err)
	}
	return d
}

func TestDistill_DropsFailedChunksAndResolvesMentions(t *testing.T) {
	ex := extractorFunc(func(ctx context.Context, chunk string) (*common.Unit, error) {
		switch title := chunkTitle(chunk); title {
		case "1.1 Cells":
			return makeUnit(title, []string{"Cell", "Nucleus"}), nil
		case "1.3 Tissues":
			return makeUnit(title, []string{"cell", "Tissue"}), nil
		default:
			return nil, errors.New("schema validation failed")
		}
	})

	units, err := newTestDistiller(t, ex).Distill(context.Background(), threeUnits)
	if err != nil {
		t.Fatalf("Distill error = %v", err)
	}
	if len(units) != 2 {
		t.Fatalf("expected 2 units, got %d", len(units))
	}
	if units[0].UnitTitle != "1.1 Cells" || units[1].UnitTitle != "1.3 Tissues" {
		t.Fatalf("units out of chunk order: %q, %q", units[0].UnitTitle, units[1].UnitTitle)
	}

	first := units[0].Sections[0].Mentions
	second := units[1].Sections[0].Mentions
	if first[0].ID != "mention_001" || first[1].ID != "mention_002" {
		t.Fatalf("unexpected ids in first unit: %s, %s", first[0].ID, first[1].ID)
	}
	if second[0].ID != "mention_001" {
		t.Fatalf("expected case-insensitive reuse of mention_001, got %s", second[0].ID)
	}
	if second[1].ID != "mention_003" {
		t.Fatalf("expected mention_003 for Tissue, got %s", second[1].ID)
	}
}

func TestDistill_ResetsResolverPerRun(t *testing.T) {
	ex := extractorFunc(func(ctx context.Context, chunk string) (*common.Unit, error) {
		return makeUnit(chunkTitle(chunk), []string{chunkTitle(chunk)}), nil
	})
	d := newTestDistiller(t, ex)

	if _, err := d.Distill(context.Background(), "### 1.1 A\nx"); err != nil {
		t.Fatalf("Distill error = %v", err)
	}
	units, err := d.Distill(context.Background(), "### 2.1 B\ny")
	if err != nil {
		t.Fatalf("Distill error = %v", err)
	}
	if id := units[0].Sections[0].Mentions[0].ID; id != "mention_001" {
		t.Fatalf("expected numbering to restart per run, got %s", id)
	}
	if len(d.Resolver().Snapshot()) != 1 {
		t.Fatalf("expected one mapping, got %v", d.Resolver().Snapshot())
	}
}

func TestDistill_NoHeadings(t *testing.T) {
	var calls atomic.Int32
	ex := extractorFunc(func(ctx context.Context, chunk string) (*common.Unit, error) {
		calls.Add(1)
		return makeUnit("x", nil), nil
	})

	units, err := newTestDistiller(t, ex).Distill(context.Background(), "just prose\nand more prose")
	if err != nil {
		t.Fatalf("Distill error = %v", err)
	}
	if len(units) != 0 || calls.Load() != 0 {
		t.Fatalf("expected no units and no extraction calls, got %d units and %d calls", len(units), calls.Load())
	}
}

func TestDistill_RetriesTimeouts(t *testing.T) {
	var calls atomic.Int32
	ex := extractorFunc(func(ctx context.Context, chunk string) (*common.Unit, error) {
		if calls.Add(1) == 1 {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return makeUnit(chunkTitle(chunk), nil), nil
	})

	d, err := NewDistiller(NewDistillerParams{Extractor: ex, Timeout: 20 * time.Millisecond, MaxRetries: 2})
	if err != nil {
		t.Fatalf("NewDistiller error = %v", err)
	}
	units, err := d.Distill(context.Background(), "### 1.1 Cells\nx")
	if err != nil {
		t.Fatalf("Distill error = %v", err)
	}
	if len(units) != 1 || calls.Load() != 2 {
		t.Fatalf("expected 1 unit after 2 calls, got %d units after %d calls", len(units), calls.Load())
	}
}

func TestDistill_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ex := extractorFunc(func(ctx context.Context, chunk string) (*common.Unit, error) {
		return makeUnit("x", nil), nil
	})
	if _, err := newTestDistiller(t, ex).Distill(ctx, threeUnits); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNewDistiller_RequiresExtractor(t *testing.T) {
	if _, err := NewDistiller(NewDistillerParams{}); err == nil {
		t.Fatal("expected error without extractor")
	}
}

func TestAIExtractor_ExtractUnit(t *testing.T) {
	client := &fakeAIClient{response: `{
		"unit_title": "1.1 Cells",
		"summary": "All about cells.",
		"sections": [{
			"section_title": "What is a cell?",
			"summary": "Cells are the building blocks.",
			"content": "A cell is tiny.",
			"fig_refs": [
				{"label": " Figure 1.1 ", "caption": "A plant cell", "page_number": 4},
				{"label": "Figure 1.2", "caption": "", "page_number": 5}
			],
			"mentions": [{"string": "Cell"}, {"string": "  "}]
		}]
	}`}

	unit, err := NewAIExtractor(client, "extract-model").ExtractUnit(context.Background(), "Unit Title: 1.1 Cells\n...")
	if err != nil {
		t.Fatalf("ExtractUnit error = %v", err)
	}
	if client.lastOpts.Model != "extract-model" || len(client.lastOpts.SystemPrompts) != 1 || client.lastOpts.SystemPrompts[0] != ai.ExtractUnitPrompt {
		t.Fatalf("unexpected options %+v", client.lastOpts)
	}
	if !strings.HasPrefix(client.lastPrompt, "Unit Title: 1.1 Cells") {
		t.Fatalf("expected chunk as prompt, got %q", client.lastPrompt)
	}

	if unit.ID == "" || unit.UnitTitle != "1.1 Cells" || len(unit.Sections) != 1 {
		t.Fatalf("unexpected unit %+v", unit)
	}
	s := unit.Sections[0]
	if s.ID == "" || s.UnitTitle != "1.1 Cells" {
		t.Fatalf("expected section id and propagated unit title, got %+v", s)
	}
	if len(s.Mentions) != 1 || s.Mentions[0].String != "Cell" || s.Mentions[0].ID != "" {
		t.Fatalf("unexpected mentions %+v", s.Mentions)
	}
	if len(s.FigRefs) != 2 {
		t.Fatalf("expected 2 figures, got %d", len(s.FigRefs))
	}
	if f := s.FigRefs[0]; f.FigureLabel != "Figure 1.1" || f.Caption == nil || *f.Caption != "A plant cell" || f.PageNumber != 4 {
		t.Fatalf("unexpected first figure %+v", f)
	}
	if s.FigRefs[1].Caption != nil {
		t.Fatalf("expected empty caption to be absent, got %q", *s.FigRefs[1].Caption)
	}
}

func TestAIExtractor_Error(t *testing.T) {
	client := &fakeAIClient{err: errors.New("rate limited")}
	if _, err := NewAIExtractor(client, "").ExtractUnit(context.Background(), "x"); err == nil {
		t.Fatal("expected error")
	}
	if client.lastOpts.Model != "" || client.lastOpts.Thinking != "" {
		t.Fatalf("expected no overrides, got %+v", client.lastOpts)
	}
}

func TestAIExtractor_Thinking(t *testing.T) {
	client := &fakeAIClient{response: `{"unit_title":"1.1 Cells","summary":"s","sections":[]}`}
	extractor := NewAIExtractor(client, "")
	extractor.Thinking = "low"
	if _, err := extractor.ExtractUnit(context.Background(), "x"); err != nil {
		t.Fatalf("ExtractUnit error = %v", err)
	}
	if client.lastOpts.Thinking != "low" {
		t.Fatalf("expected reasoning effort to be passed, got %q", client.lastOpts.Thinking)
	}
}

func TestEnrich(t *testing.T) {
	units := []*common.Unit{
		makeUnit("1.1 Cells", []string{"Cell"}, "Figure 1.1"),
		makeUnit("1.2 Tissues", []string{"Tissue"}, "Figure 1.2"),
	}
	emb := &fakeEmbedder{}

	if err := Enrich(context.Background(), units, emb, EnrichOptions{Parallel: 2}); err != nil {
		t.Fatalf("Enrich error = %v", err)
	}
	if emb.calls.Load() != 8 {
		t.Fatalf("expected 8 embedding calls, got %d", emb.calls.Load())
	}
	for _, u := range units {
		for _, n := range u.Nodes() {
			vec, _ := n.Properties()["embedding"].([]float32)
			if len(vec) != 3 || vec[0] != float32(len(n.CanonicalText())) {
				t.Fatalf("%s %s has embedding %v", n.Label(), n.NodeID(), vec)
			}
		}
	}
}

func TestEnrich_SharedMentionEmbeddedOnce(t *testing.T) {
	shared := &common.Mention{ID: "mention_001", String: "Cell"}
	a := makeUnit("A", nil)
	b := makeUnit("B", nil)
	a.Sections[0].Mentions = []*common.Mention{shared}
	b.Sections[0].Mentions = []*common.Mention{shared}

	emb := &fakeEmbedder{}
	if err := Enrich(context.Background(), []*common.Unit{a, b}, emb, EnrichOptions{}); err != nil {
		t.Fatalf("Enrich error = %v", err)
	}
	if emb.calls.Load() != 5 {
		t.Fatalf("expected 5 embedding calls, got %d", emb.calls.Load())
	}
	if shared.Embedding == nil {
		t.Fatal("expected shared mention to be embedded")
	}
}

func TestEnrich_RetriesThenFails(t *testing.T) {
	units := []*common.Unit{makeUnit("1.1 Cells", []string{"Cell"})}

	flaky := &fakeEmbedder{fail: func(text string, call int32) error {
		if call == 1 {
			return errEmbed
		}
		return nil
	}}
	if err := Enrich(context.Background(), units, flaky, EnrichOptions{Parallel: 1, MaxRetries: 2}); err != nil {
		t.Fatalf("expected flaky embedder to recover, got %v", err)
	}

	broken := &fakeEmbedder{fail: func(text string, call int32) error {
		if text == "Cell" {
			return errEmbed
		}
		return nil
	}}
	err := Enrich(context.Background(), units, broken, EnrichOptions{MaxRetries: 2})
	if !errors.Is(err, errEmbed) {
		t.Fatalf("expected fatal embedding error, got %v", err)
	}
}

type fixedEmbedder []float32

func (e fixedEmbedder) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	return e, nil
}

func TestEnrich_RejectsBadVectors(t *testing.T) {
	tests := []struct {
		name string
		vec  fixedEmbedder
		dim  int
		want error
	}{
		{"empty vector", fixedEmbedder{}, 0, ErrEmptyEmbedding},
		{"empty vector with dimension", fixedEmbedder{}, 3, ErrEmptyEmbedding},
		{"wrong dimension", fixedEmbedder{1, 0}, 3, store.ErrDimensionMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			units := []*common.Unit{makeUnit("1.1 Cells", []string{"Cell"})}
			err := Enrich(context.Background(), units, tt.vec, EnrichOptions{Dimension: tt.dim})
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	units := []*common.Unit{makeUnit("1.1 Cells", []string{"Cell"})}
	if err := Enrich(context.Background(), units, fixedEmbedder{1, 0, 0}, EnrichOptions{Dimension: 3}); err != nil {
		t.Fatalf("expected matching dimension to pass, got %v", err)
	}
}

func TestLoader_Persist(t *testing.T) {
	ctx := context.Background()
	units := []*common.Unit{
		makeUnit("1.1 Cells", []string{"Cell"}, "Figure 1.1"),
		makeUnit("1.2 Tissues", []string{"Tissue"}, "Figure 1.2"),
	}
	resolver := NewEntityResolver("")
	for _, u := range units {
		for _, m := range u.Sections[0].Mentions {
			m.ID = resolver.Resolve(m.String)
		}
	}
	if err := Enrich(ctx, units, &fakeEmbedder{}, EnrichOptions{}); err != nil {
		t.Fatalf("Enrich error = %v", err)
	}

	s := memory.New()
	loader := NewLoader(s)
	for i := 0; i < 2; i++ {
		if err := loader.Persist(ctx, units); err != nil {
			t.Fatalf("Persist error = %v", err)
		}
	}

	if got := s.CountNodes(common.LabelNode); got != 8 {
		t.Fatalf("expected 8 nodes, got %d", got)
	}
	if got := s.CountRelationships(""); got != 6 {
		t.Fatalf("expected 6 relationships, got %d", got)
	}
	for _, rel := range []string{common.RelHasSection, common.RelHasMention, common.RelHasFigure} {
		if got := s.CountRelationships(rel); got != 2 {
			t.Fatalf("expected 2 %s relationships, got %d", rel, got)
		}
	}

	images := []*common.PageImage{{ID: "p1", PageNumber: 1, URL: "s3://book/p1.png"}}
	if err := loader.PersistPageImages(ctx, images); err != nil {
		t.Fatalf("PersistPageImages error = %v", err)
	}
	if s.CountNodes(common.LabelPageImage) != 1 || s.CountNodes(common.LabelNode) != 8 {
		t.Fatal("expected page image outside the Node label")
	}

	if err := loader.BuildIndex(ctx, 3, store.MetricCosine); err != nil {
		t.Fatalf("BuildIndex error = %v", err)
	}
	res, err := s.QueryVectorIndex(ctx, store.DefaultIndexName, 20, []float32{4, 1, 0})
	if err != nil {
		t.Fatalf("QueryVectorIndex error = %v", err)
	}
	if len(res) != 8 {
		t.Fatalf("expected every embedded node in the index, got %d", len(res))
	}

	sections, err := s.FindNodes(ctx, common.LabelSection, "id", []any{units[0].Sections[0].ID})
	if err != nil || len(sections) != 1 {
		t.Fatalf("FindNodes = %v, %v", sections, err)
	}
	content := store.PropString(sections[0].Props, "content")
	if !strings.Contains(content, "\nFigures: \nFigure 1.1") {
		t.Fatalf("expected figure texts inlined into content, got %q", content)
	}
	if store.PropString(sections[0].Props, "unit_title") != "1.1 Cells" {
		t.Fatalf("expected unit title on section, got %v", sections[0].Props)
	}
}

func TestLoader_BuildIndexDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	units := []*common.Unit{makeUnit("1.1 Cells", nil)}
	if err := Enrich(ctx, units, &fakeEmbedder{}, EnrichOptions{}); err != nil {
		t.Fatalf("Enrich error = %v", err)
	}

	s := memory.New()
	loader := NewLoader(s)
	if err := loader.Persist(ctx, units); err != nil {
		t.Fatalf("Persist error = %v", err)
	}
	if err := loader.BuildIndex(ctx, 1536, store.MetricCosine); !errors.Is(err, store.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestProcessDocument(t *testing.T) {
	pages := []common.Page{
		{Page: 1, MD: "# Science\n### 1.1 Cells\nCells are small.\nfooter"},
		{Page: 2, MD: "### 1.2 Tissues\nGroups of cells.\nfooter"},
	}
	images := []*common.PageImage{
		{ID: "p1", PageNumber: 1, URL: "s3://book/p1.png"},
		{ID: "p2", PageNumber: 2, URL: "s3://book/p2.png"},
	}

	ex := extractorFunc(func(ctx context.Context, chunk string) (*common.Unit, error) {
		title := chunkTitle(chunk)
		return makeUnit(title, []string{"Cell"}, "Figure "+title[:3]), nil
	})

	client, err := NewGraphClient(NewGraphClientParams{EmbeddingDim: 3, ExtractTimeout: time.Second})
	if err != nil {
		t.Fatalf("NewGraphClient error = %v", err)
	}

	s := memory.New()
	summary, err := client.ProcessDocumentWithExtractor(context.Background(), pages, images, ex, &fakeEmbedder{}, s)
	if err != nil {
		t.Fatalf("ProcessDocument error = %v", err)
	}

	if summary.Units != 2 || summary.Sections != 2 || summary.Mentions != 2 || summary.Figures != 2 || summary.PageImages != 2 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	// both sections mention "Cell", which resolves to one node
	if got := s.CountNodes(common.LabelMention); got != 1 {
		t.Fatalf("expected one shared mention node, got %d", got)
	}
	if got := s.CountRelationships(common.RelHasMention); got != 2 {
		t.Fatalf("expected 2 HAS_MENTION relationships, got %d", got)
	}
	if _, err := s.QueryVectorIndex(context.Background(), store.DefaultIndexName, 1, []float32{1, 0, 0}); err != nil {
		t.Fatalf("expected index to be built, got %v", err)
	}
}

func TestProcessDocument_UsesAIClient(t *testing.T) {
	client, err := NewGraphClient(NewGraphClientParams{EmbeddingDim: 3, ExtractModel: "mini"})
	if err != nil {
		t.Fatalf("NewGraphClient error = %v", err)
	}

	aiClient := &fakeAIClient{response: `{"unit_title":"1.1 Cells","summary":"s","sections":[]}`}
	s := memory.New()
	summary, err := client.ProcessDocument(context.Background(), []common.Page{{Page: 1, MD: "### 1.1 Cells\nx\nfooter"}}, nil, aiClient, s)
	if err != nil {
		t.Fatalf("ProcessDocument error = %v", err)
	}
	if summary.Units != 1 || aiClient.lastOpts.Model != "mini" {
		t.Fatalf("unexpected summary %+v or model %q", summary, aiClient.lastOpts.Model)
	}
	if s.CountNodes(common.LabelUnit) != 1 {
		t.Fatal("expected unit to be persisted")
	}
}

func TestProcessDocument_ExtractionAttempts(t *testing.T) {
	tests := []struct {
		name       string
		maxRetries int
		want       int32
	}{
		{"no retries", 0, 1},
		{"negative means no retries", -1, 1},
		{"two retries", 2, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			ex := extractorFunc(func(ctx context.Context, chunk string) (*common.Unit, error) {
				calls.Add(1)
				<-ctx.Done()
				return nil, ctx.Err()
			})

			client, err := NewGraphClient(NewGraphClientParams{
				EmbeddingDim:   3,
				ExtractTimeout: 10 * time.Millisecond,
				MaxRetries:     tt.maxRetries,
			})
			if err != nil {
				t.Fatalf("NewGraphClient error = %v", err)
			}

			pages := []common.Page{{Page: 1, MD: "### 1.1 Cells\nx\nfooter"}}
			summary, err := client.ProcessDocumentWithExtractor(context.Background(), pages, nil, ex, &fakeEmbedder{}, memory.New())
			if err != nil {
				t.Fatalf("ProcessDocument error = %v", err)
			}
			if summary.Units != 0 {
				t.Fatalf("expected the timed out chunk to be dropped, got %d units", summary.Units)
			}
			if got := calls.Load(); got != tt.want {
				t.Fatalf("expected %d extraction attempts, got %d", tt.want, got)
			}
		})
	}
}

func TestProcessDocument_EmptyEmbeddingAborts(t *testing.T) {
	ex := extractorFunc(func(ctx context.Context, chunk string) (*common.Unit, error) {
		return makeUnit(chunkTitle(chunk), []string{"Cell"}), nil
	})
	client, err := NewGraphClient(NewGraphClientParams{EmbeddingDim: 3})
	if err != nil {
		t.Fatalf("NewGraphClient error = %v", err)
	}

	s := memory.New()
	pages := []common.Page{{Page: 1, MD: "### 1.1 Cells\nx\nfooter"}}
	_, err = client.ProcessDocumentWithExtractor(context.Background(), pages, nil, ex, fixedEmbedder{}, s)
	if !errors.Is(err, ErrEmptyEmbedding) {
		t.Fatalf("expected ErrEmptyEmbedding, got %v", err)
	}
	if s.CountNodes(common.LabelUnit) != 0 {
		t.Fatal("expected nothing to be persisted")
	}
}
