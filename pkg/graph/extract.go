package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/ai"
	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/common"
)

type extractMention struct {
	String string `json:"string" jsonschema_description:"The surface form of the mention"`
}

type extractFigure struct {
	Label      string `json:"label" jsonschema_description:"The label of the figure, e.g. Figure 1.1"`
	Caption    string `json:"caption" jsonschema_description:"The caption of the figure, empty if it has none"`
	PageNumber int    `json:"page_number" jsonschema_description:"The page number where the figure is located. Use the page_number marker below the figure, not above"`
}

type extractSection struct {
	SectionTitle string           `json:"section_title" jsonschema_description:"The title of the section"`
	Summary      string           `json:"summary" jsonschema_description:"The summary of the section, 150-200 words"`
	Content      string           `json:"content" jsonschema_description:"Full content of the section"`
	FigRefs      []extractFigure  `json:"fig_refs" jsonschema_description:"All figures mentioned in the section"`
	Mentions     []extractMention `json:"mentions" jsonschema_description:"All entities that appear in the section"`
}

type extractUnit struct {
	UnitTitle string           `json:"unit_title" jsonschema_description:"The title of the unit"`
	Summary   string           `json:"summary" jsonschema_description:"The summary of the unit, 150-200 words"`
	Sections  []extractSection `json:"sections" jsonschema_description:"All sections of the unit"`
}

// Extractor turns one unit chunk into a Unit. Mention ids are left empty;
// the Distiller assigns them.
type Extractor interface {
	ExtractUnit(ctx context.Context, chunk string) (*common.Unit, error)
}

// AIExtractor extracts units with a structured completion call.
type AIExtractor struct {
	client ai.GraphAIClient
	model  string

	// Thinking is passed as the reasoning effort when set.
	Thinking string
}

func NewAIExtractor(client ai.GraphAIClient, model string) *AIExtractor {
	return &AIExtractor{client: client, model: model}
}

func (e *AIExtractor) ExtractUnit(ctx context.Context, chunk string) (*common.Unit, error) {
	opts := []ai.GenerateOption{ai.WithSystemPrompts(ai.ExtractUnitPrompt)}
	if e.model != "" {
		opts = append(opts, ai.WithModel(e.model))
	}
	if e.Thinking != "" {
		opts = append(opts, ai.WithThinking(e.Thinking))
	}

	var res extractUnit
	err := e.client.GenerateCompletionWithFormat(
		ctx,
		"extract_unit",
		"Convert parsed textbook content into a structured Unit.",
		chunk,
		&res,
		opts...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to extract unit: %w", err)
	}

	return res.toUnit(), nil
}

func (u extractUnit) toUnit() *common.Unit {
	sections := make([]*common.Section, 0, len(u.Sections))
	for _, s := range u.Sections {
		section := &common.Section{
			ID:           common.NewID(),
			SectionTitle: s.SectionTitle,
			Summary:      s.Summary,
			Content:      s.Content,
			FigRefs:      make([]*common.FigureRef, 0, len(s.FigRefs)),
			Mentions:     make([]*common.Mention, 0, len(s.Mentions)),
		}
		for _, f := range s.FigRefs {
			fig := &common.FigureRef{
				ID:          common.NewID(),
				FigureLabel: strings.TrimSpace(f.Label),
				PageNumber:  f.PageNumber,
			}
			if c := strings.TrimSpace(f.Caption); c != "" {
				fig.Caption = &c
			}
			section.FigRefs = append(section.FigRefs, fig)
		}
		for _, m := range s.Mentions {
			if strings.TrimSpace(m.String) == "" {
				continue
			}
			section.Mentions = append(section.Mentions, &common.Mention{String: m.String})
		}
		sections = append(sections, section)
	}

	return common.NewUnit(common.NewID(), u.UnitTitle, u.Summary, sections)
}
