package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/ai"

	"github.com/ollama/ollama/api"
)

const (
	defaultContextTokens = 4096
	// room for the reply on top of the prompt
	replyTokenReserve = 2048
)

// contextSize returns the num_ctx needed for the given prompt texts, or 0
// when the default context is large enough.
func (c *GraphOllamaClient) contextSize(texts ...string) int {
	if c.encoder == nil {
		return 0
	}
	tokens := replyTokenReserve
	for _, t := range texts {
		tokens += len(c.encoder.Encode(t, nil, nil))
	}
	if tokens <= defaultContextTokens {
		return 0
	}
	return tokens
}

func buildMessages(options ai.GenerateOptions, user api.Message) []api.Message {
	msgs := make([]api.Message, 0, len(options.SystemPrompts)+1)
	for _, sys := range options.SystemPrompts {
		msgs = append(msgs, api.Message{Role: "system", Content: sys})
	}
	return append(msgs, user)
}

func (c *GraphOllamaClient) chat(ctx context.Context, req *api.ChatRequest, texts ...string) (string, error) {
	stream := false
	req.Stream = &stream
	if n := c.contextSize(texts...); n > 0 {
		req.Options["num_ctx"] = n
	}

	rCtx, cancel := context.WithTimeout(ctx, time.Minute*time.Duration(c.timeoutMin))
	defer cancel()

	if err := c.reqLock.Acquire(rCtx, 1); err != nil {
		return "", err
	}
	defer c.reqLock.Release(1)

	var content strings.Builder
	var metrics api.Metrics
	if err := c.Client.Chat(rCtx, req, func(cr api.ChatResponse) error {
		content.WriteString(cr.Message.Content)
		if cr.Done {
			metrics = cr.Metrics
		}
		return nil
	}); err != nil {
		return "", err
	}
	c.recordChat(metrics)

	return content.String(), nil
}

func applyThinking(req *api.ChatRequest, options ai.GenerateOptions) {
	if options.Thinking != "" {
		req.Think = &api.ThinkValue{Value: options.Thinking}
	}
}

// GenerateCompletion sends a single-turn prompt and returns assistant text.
func (c *GraphOllamaClient) GenerateCompletion(
	ctx context.Context,
	prompt string,
	opts ...ai.GenerateOption,
) (string, error) {
	options := ai.GenerateOptions{
		Model:       c.answerModel,
		Temperature: 0.3,
	}
	for _, o := range opts {
		o(&options)
	}

	req := &api.ChatRequest{
		Model:    options.Model,
		Messages: buildMessages(options, api.Message{Role: "user", Content: prompt}),
		Options:  map[string]any{"temperature": options.Temperature},
	}
	applyThinking(req, options)

	return c.chat(ctx, req, promptTexts(options, prompt)...)
}

// GenerateCompletionWithFormat enforces a JSON schema and unmarshals into out.
func (c *GraphOllamaClient) GenerateCompletionWithFormat(
	ctx context.Context,
	name string,
	description string,
	prompt string,
	out any,
	opts ...ai.GenerateOption,
) error {
	if out == nil {
		return errors.New("out must be a non-nil pointer")
	}
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return errors.New("out must be a non-nil pointer")
	}

	formatBytes, err := json.Marshal(ai.GenerateSchema(out))
	if err != nil {
		return err
	}

	options := ai.GenerateOptions{
		Model:       c.extractionModel,
		Temperature: 0.1,
	}
	for _, o := range opts {
		o(&options)
	}

	req := &api.ChatRequest{
		Model:    options.Model,
		Messages: buildMessages(options, api.Message{Role: "user", Content: prompt}),
		Format:   json.RawMessage(formatBytes),
		Options:  map[string]any{"temperature": options.Temperature},
	}
	applyThinking(req, options)

	content, err := c.chat(ctx, req, promptTexts(options, prompt)...)
	if err != nil {
		return err
	}
	return ai.UnmarshalFlexible(content, out)
}

func promptTexts(options ai.GenerateOptions, prompt string) []string {
	texts := make([]string, 0, len(options.SystemPrompts)+1)
	texts = append(texts, options.SystemPrompts...)
	return append(texts, prompt)
}
