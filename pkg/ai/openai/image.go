package openai

import (
	"context"

	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/ai"

	"github.com/openai/openai-go/v3"
)

// GenerateCompletionWithImages sends the prompt followed by one user
// message per image to the vision model and returns its reply.
func (c *GraphOpenAIClient) GenerateCompletionWithImages(
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

	msgs := c.buildMessages(options, openai.UserMessage(prompt))
	for _, img := range images {
		msgs = append(msgs, openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
			openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL: img.DataURL(),
			}),
		}))
	}

	body := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(options.Model),
		Messages:    msgs,
		Temperature: openai.Float(options.Temperature),
	}
	c.applyThinking(&body, options)

	response, err := c.complete(ctx, c.ImageClient, c.imageLock, body)
	if err != nil {
		return "", err
	}
	return response.Choices[0].Message.Content, nil
}
