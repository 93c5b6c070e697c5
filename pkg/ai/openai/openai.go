package openai

import (
	"math"
	"sync"

	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/ai"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/sync/semaphore"
)

// GraphOpenAIClient is a client for the AI models used by the textbook
// graph. It keeps separate OpenAI clients for embeddings, chat and vision
// so each can point at a different endpoint.
//
// A GraphOpenAIClient should be created using NewGraphOpenAIClient.
type GraphOpenAIClient struct {
	embeddingModel  string
	extractionModel string
	answerModel     string
	imageModel      string
	embeddingDim    int

	chatURL string

	timeoutMin    int
	reqLock       *semaphore.Weighted
	embeddingLock *semaphore.Weighted
	imageLock     *semaphore.Weighted

	metricsLock sync.Mutex
	metrics     ai.ModelMetrics

	ChatClient      *openai.Client
	EmbeddingClient *openai.Client
	ImageClient     *openai.Client
}

// NewGraphOpenAIClientParams defines the configuration parameters for
// creating a new GraphOpenAIClient.
//
// ExtractionModel is used for unit extraction, AnswerModel for query
// classification and answers, ImageModel for answers over page images.
// Empty URLs use the OpenAI default endpoint.
type NewGraphOpenAIClientParams struct {
	EmbeddingModel  string
	ExtractionModel string
	AnswerModel     string
	ImageModel      string
	EmbeddingDim    int

	EmbeddingURL string
	EmbeddingKey string
	ChatURL      string
	ChatKey      string
	ImageURL     string
	ImageKey     string

	MaxConcurrentRequests int64
	TimeoutMin            int
}

// NewGraphOpenAIClient creates a new GraphOpenAIClient.
//
// Example:
//
//	client := openai.NewGraphOpenAIClient(openai.NewGraphOpenAIClientParams{
//		EmbeddingModel:  "text-embedding-3-small",
//		ExtractionModel: "gpt-4.1-mini",
//		AnswerModel:     "gpt-4.1-mini",
//		ImageModel:      "gpt-4.1",
//		EmbeddingKey:    os.Getenv("OPENAI_API_KEY"),
//		ChatKey:         os.Getenv("OPENAI_API_KEY"),
//		ImageKey:        os.Getenv("OPENAI_API_KEY"),
//	})
func NewGraphOpenAIClient(
	params NewGraphOpenAIClientParams,
) *GraphOpenAIClient {
	maxReq := params.MaxConcurrentRequests
	if maxReq <= 0 {
		maxReq = 15
	}
	timeoutMin := params.TimeoutMin
	if timeoutMin <= 0 {
		timeoutMin = 10
	}
	dim := params.EmbeddingDim
	if dim <= 0 {
		dim = defaultDimensions
	}

	return &GraphOpenAIClient{
		embeddingModel:  params.EmbeddingModel,
		extractionModel: params.ExtractionModel,
		answerModel:     params.AnswerModel,
		imageModel:      params.ImageModel,
		embeddingDim:    dim,

		chatURL: params.ChatURL,

		timeoutMin:    timeoutMin,
		reqLock:       semaphore.NewWeighted(maxReq),
		embeddingLock: semaphore.NewWeighted(maxReq),
		imageLock:     semaphore.NewWeighted(maxReq),

		ChatClient:      newOpenaiClient(params.ChatURL, params.ChatKey),
		EmbeddingClient: newOpenaiClient(params.EmbeddingURL, params.EmbeddingKey),
		ImageClient:     newOpenaiClient(params.ImageURL, params.ImageKey),
	}
}

func newOpenaiClient(
	baseURL string,
	apiKey string,
) *openai.Client {
	if apiKey == "" {
		return nil
	}
	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}

	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}

	client := openai.NewClient(options...)

	return &client
}

// ResetMetrics clears all accumulated token and timing metrics.
func (c *GraphOpenAIClient) ResetMetrics() {
	c.metricsLock.Lock()
	c.metrics = ai.ModelMetrics{}
	c.metricsLock.Unlock()
}

// GetMetrics returns the accumulated metrics since the last reset.
func (c *GraphOpenAIClient) GetMetrics() ai.ModelMetrics {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	return c.metrics
}

func (c *GraphOpenAIClient) modifyMetrics(m ai.ModelMetrics) {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()

	c.metrics.InputTokens += m.InputTokens
	c.metrics.OutputTokens += m.OutputTokens
	c.metrics.TotalTokens += m.TotalTokens
	c.metrics.DurationMs += m.DurationMs

	if c.metrics.DurationMs > 0 {
		tokensPerSecond := (float64(c.metrics.TotalTokens) * 1000.0) / float64(c.metrics.DurationMs)
		c.metrics.TokenPerSecond = float32(math.Round(tokensPerSecond*100) / 100)
	}
}
