package ollama

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/ai"

	"github.com/ollama/ollama/api"
)

// GenerateCompletionWithImages sends the prompt together with the page
// images to the vision model and returns its reply.
func (c *GraphOllamaClient) GenerateCompletionWithImages(
	ctx context.Context,
	prompt string,
	images []ai.GraphBase64,
	opts ...ai.GenerateOption,
) (string, error) {
	options := ai.GenerateOptions{
		Model:       c.imageModel,
		Temperature: 0.2,
	}
	for _, o := range opts {
		o(&options)
	}

	data := make([]api.ImageData, 0, len(images))
	for i, img := range images {
		raw, err := img.Raw()
		if err != nil {
			return "", fmt.Errorf("failed to decode image %d: %w", i, err)
		}
		data = append(data, raw)
	}

	req := &api.ChatRequest{
		Model: options.Model,
		Messages: buildMessages(options, api.Message{
			Role:    "user",
			Content: prompt,
			Images:  data,
		}),
		Options: map[string]any{"temperature": options.Temperature},
	}
	applyThinking(req, options)

	return c.chat(ctx, req, promptTexts(options, prompt)...)
}
