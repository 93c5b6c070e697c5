package query

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/ai"
	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/common"
	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/logger"
	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/store"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultFetchK   = 15
	DefaultContextK = 10

	answerTemperature = 0.2
)

// Result is the outcome of one question.
type Result struct {
	Answer  string             `json:"answer"`
	Kind    ai.AnswerKind      `json:"kind"`
	Context string             `json:"context"`
	Figures []string           `json:"figures,omitempty"`
	Trace   QueryTraceSnapshot `json:"trace"`
}

// Answerer answers questions against the textbook graph.
type Answerer struct {
	aiClient  ai.GraphAIClient
	retriever *Retriever
	figures   *FigureResolver
	fetcher   ImageFetcher

	fetchK      int
	contextK    int
	answerModel string
	imageModel  string
}

// NewAnswererParams configures an Answerer. FetchK and ContextK default to
// 15 and 10. Fetcher may be nil when no figure follow-up is wanted.
type NewAnswererParams struct {
	AIClient    ai.GraphAIClient
	Store       store.GraphStorage
	Fetcher     ImageFetcher
	FetchK      int
	ContextK    int
	AnswerModel string
	ImageModel  string
}

func NewAnswerer(params NewAnswererParams) *Answerer {
	fetchK := params.FetchK
	if fetchK <= 0 {
		fetchK = DefaultFetchK
	}
	contextK := params.ContextK
	if contextK <= 0 {
		contextK = DefaultContextK
	}

	return &Answerer{
		aiClient:    params.AIClient,
		retriever:   NewRetriever(params.Store),
		figures:     NewFigureResolver(params.Store),
		fetcher:     params.Fetcher,
		fetchK:      fetchK,
		contextK:    contextK,
		answerModel: params.AnswerModel,
		imageModel:  params.ImageModel,
	}
}

// Answer embeds the question, retrieves context and lets the model either
// answer, decline, or ask for figures. In the last case the page images of
// those figures are sent along with a second, multimodal request.
//
// An empty retrieval still reaches the model, which then declines; only
// infrastructure failures are returned as errors.
func (a *Answerer) Answer(ctx context.Context, question string) (*Result, error) {
	trace := NewQueryTrace()

	vector, err := a.aiClient.GenerateEmbedding(ctx, []byte(question))
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	sections, err := a.retriever.retrieve(ctx, vector, a.fetchK, trace)
	if err != nil {
		return nil, err
	}
	if len(sections) > a.contextK {
		sections = sections[:a.contextK]
	}
	ids := make([]string, len(sections))
	for i, s := range sections {
		ids[i] = s.ID
	}
	RecordUsedSectionIDs(trace, ids...)

	text := BuildContext(sections)
	logger.Debug("[Query] Context built", "sections", len(sections), "chars", len(text))

	answer, err := a.classify(ctx, text, question)
	if err != nil {
		return nil, err
	}

	res := &Result{Kind: answer.Kind(), Context: text}
	switch v := answer.(type) {
	case ai.FinalAnswer:
		res.Answer = v.Answer
	case ai.OutOfScope:
		res.Answer = v.Message
	case ai.RequireFigureResponse:
		res.Figures = v.FiguresLabels
		RecordFigureLabels(trace, v.FiguresLabels...)
		res.Answer, err = a.answerWithFigures(ctx, text, question, v.FiguresLabels, trace)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %T", ai.ErrUnknownAnswer, answer)
	}

	res.Trace = trace.Snapshot()
	logger.Info("[Query] Answered", "kind", res.Kind, "sections", len(sections), "figures", len(res.Figures))

	return res, nil
}

func (a *Answerer) classify(ctx context.Context, text string, question string) (ai.Answer, error) {
	opts := []ai.GenerateOption{
		ai.WithSystemPrompts(ai.AnswerPrompt),
		ai.WithTemperature(answerTemperature),
	}
	if a.answerModel != "" {
		opts = append(opts, ai.WithModel(a.answerModel))
	}

	var env ai.AnswerEnvelope
	err := a.aiClient.GenerateCompletionWithFormat(
		ctx,
		"classify_and_answer",
		"Answer the question from the context, decline, or request figures.",
		fmt.Sprintf(ai.AnswerUserPrompt, text, question),
		&env,
		opts...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to classify query: %w", err)
	}

	return env.Parse()
}

func (a *Answerer) answerWithFigures(
	ctx context.Context,
	text string,
	question string,
	labels []string,
	trace Tracer,
) (string, error) {
	pages, err := a.figures.ImagesForLabels(ctx, labels)
	if err != nil {
		return "", err
	}
	pageNumbers := make([]int, len(pages))
	for i, p := range pages {
		pageNumbers[i] = p.PageNumber
	}
	RecordPageNumbers(trace, pageNumbers...)

	images, err := a.fetchImages(ctx, pages)
	if err != nil {
		return "", err
	}

	var opts []ai.GenerateOption
	if text != "" {
		opts = append(opts, ai.WithSystemPrompts(ai.FigureAnswerPrompt))
	}
	if a.imageModel != "" {
		opts = append(opts, ai.WithModel(a.imageModel))
	}

	answer, err := a.aiClient.GenerateCompletionWithImages(ctx, fmt.Sprintf(ai.FigureUserPrompt, text, question), images, opts...)
	if err != nil {
		return "", fmt.Errorf("failed to answer with figures: %w", err)
	}

	return answer, nil
}

// fetchImages downloads page images concurrently, keeping page order.
func (a *Answerer) fetchImages(ctx context.Context, pages []common.PageImage) ([]ai.GraphBase64, error) {
	if len(pages) == 0 {
		return []ai.GraphBase64{}, nil
	}
	if a.fetcher == nil {
		logger.Warn("[Query] Figures requested but no image fetcher configured", "pages", len(pages))
		return []ai.GraphBase64{}, nil
	}

	images := make([]ai.GraphBase64, len(pages))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, p := range pages {
		g.Go(func() error {
			data, err := a.fetcher.Fetch(gCtx, p.URL)
			if err != nil {
				return fmt.Errorf("failed to fetch page %d image: %w", p.PageNumber, err)
			}
			images[i] = ai.NewGraphBase64(data)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return images, nil
}
