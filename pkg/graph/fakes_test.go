package graph

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/ai"
	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/common"
)

type extractorFunc func(ctx context.Context, chunk string) (*common.Unit, error)

func (f extractorFunc) ExtractUnit(ctx context.Context, chunk string) (*common.Unit, error) {
	return f(ctx, chunk)
}

// chunkTitle returns the unit title line of a chunk.
func chunkTitle(chunk string) string {
	line, _, _ := strings.Cut(chunk, "\n")
	return strings.TrimPrefix(line, UnitTitlePrefix)
}

func makeUnit(title string, mentions []string, figures ...string) *common.Unit {
	section := &common.Section{
		ID:           common.NewID(),
		SectionTitle: title + " section",
		Summary:      "about " + title,
		Content:      "content of " + title,
	}
	for _, m := range mentions {
		section.Mentions = append(section.Mentions, &common.Mention{String: m})
	}
	for i, f := range figures {
		section.FigRefs = append(section.FigRefs, &common.FigureRef{
			ID:          common.NewID(),
			FigureLabel: f,
			PageNumber:  i + 1,
		})
	}
	return common.NewUnit(common.NewID(), title, "summary of "+title, []*common.Section{section})
}

// fakeEmbedder returns a three dimensional vector derived from the text.
type fakeEmbedder struct {
	mu    sync.Mutex
	texts []string
	calls atomic.Int32
	fail  func(text string, call int32) error
}

func (e *fakeEmbedder) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	call := e.calls.Add(1)
	text := string(input)
	if e.fail != nil {
		if err := e.fail(text, call); err != nil {
			return nil, err
		}
	}
	e.mu.Lock()
	e.texts = append(e.texts, text)
	e.mu.Unlock()
	return []float32{float32(len(text)), 1, 0}, nil
}

var errEmbed = errors.New("embedding backend unavailable")

// fakeAIClient answers structured completions with a canned JSON body.
type fakeAIClient struct {
	fakeEmbedder

	response   string
	err        error
	lastPrompt string
	lastOpts   ai.GenerateOptions
}

func (c *fakeAIClient) GenerateCompletion(ctx context.Context, prompt string, opts ...ai.GenerateOption) (string, error) {
	return c.response, c.err
}

func (c *fakeAIClient) GenerateCompletionWithFormat(ctx context.Context, name string, description string, prompt string, out any, opts ...ai.GenerateOption) error {
	c.lastPrompt = prompt
	c.lastOpts = ai.GenerateOptions{}
	for _, o := range opts {
		o(&c.lastOpts)
	}
	if c.err != nil {
		return c.err
	}
	return json.Unmarshal([]byte(c.response), out)
}

func (c *fakeAIClient) GenerateCompletionWithImages(ctx context.Context, prompt string, images []ai.GraphBase64, opts ...ai.GenerateOption) (string, error) {
	return c.response, c.err
}

func (c *fakeAIClient) ResetMetrics() {}

func (c *fakeAIClient) GetMetrics() ai.ModelMetrics {
	return ai.ModelMetrics{}
}
