package ai

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"
)

// GenerateOptions holds configuration for AI generation requests.
type GenerateOptions struct {
	Model         string   // Model identifier to use for generation
	SystemPrompts []string // System prompts prepended to the request
	Temperature   float64  // Sampling temperature (0.0-2.0)
	Thinking      string   // Reasoning effort, e.g. "low"; empty disables it
}

// ModelMetrics contains performance metrics from AI model operations.
type ModelMetrics struct {
	InputTokens    int     `json:"input_tokens"`
	OutputTokens   int     `json:"output_tokens"`
	TotalTokens    int     `json:"total_tokens"`
	DurationMs     int64   `json:"duration_ms"`
	TokenPerSecond float32 `json:"tokens_per_second"`
}

// GenerateOption is a functional option for configuring AI generation requests.
type GenerateOption func(*GenerateOptions)

// WithModel returns a GenerateOption that sets the model to use for generation.
func WithModel(model string) GenerateOption {
	return func(o *GenerateOptions) {
		o.Model = model
	}
}

// WithSystemPrompts returns a GenerateOption that sets the system prompts
// to prepend to the generation request.
func WithSystemPrompts(prompts ...string) GenerateOption {
	return func(o *GenerateOptions) {
		o.SystemPrompts = prompts
	}
}

// WithTemperature returns a GenerateOption that sets the sampling temperature.
func WithTemperature(temp float64) GenerateOption {
	return func(o *GenerateOptions) {
		o.Temperature = temp
	}
}

// WithThinking sets the reasoning effort for models that support it.
func WithThinking(thinking string) GenerateOption {
	return func(o *GenerateOptions) {
		o.Thinking = thinking
	}
}

// GraphBase64 is an image payload ready to be sent to a vision model.
// FileType is the data URI prefix, e.g. "data:image/png;base64,".
type GraphBase64 struct {
	Base64   string `json:"base64"`
	FileType string `json:"file_type"`
}

// DataURL returns the payload as a data URI.
func (b GraphBase64) DataURL() string {
	return b.FileType + b.Base64
}

// Raw decodes the payload back into bytes.
func (b GraphBase64) Raw() ([]byte, error) {
	return base64.StdEncoding.DecodeString(b.Base64)
}

// NewGraphBase64 encodes raw image bytes. The content type is sniffed and
// falls back to image/png.
func NewGraphBase64(raw []byte) GraphBase64 {
	contentType := http.DetectContentType(raw)
	if !strings.HasPrefix(contentType, "image/") {
		contentType = "image/png"
	}
	return GraphBase64{
		Base64:   base64.StdEncoding.EncodeToString(raw),
		FileType: "data:" + contentType + ";base64,",
	}
}

// GraphAIClient defines the AI operations used for graph construction and
// question answering: plain and structured completion, multimodal
// completion over page images, and embeddings.
type GraphAIClient interface {
	GenerateCompletion(
		ctx context.Context,
		prompt string,
		opts ...GenerateOption,
	) (string, error)
	GenerateCompletionWithFormat(
		ctx context.Context,
		name string,
		description string,
		prompt string,
		out any,
		opts ...GenerateOption,
	) error
	GenerateCompletionWithImages(
		ctx context.Context,
		prompt string,
		images []GraphBase64,
		opts ...GenerateOption,
	) (string, error)

	GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error)

	ResetMetrics()
	GetMetrics() ModelMetrics
}
