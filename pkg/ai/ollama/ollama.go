package ollama

import (
	"net/http"
	"net/url"
	"sync"

	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/ai"

	"github.com/ollama/ollama/api"
	"github.com/pkoukk/tiktoken-go"
	"golang.org/x/sync/semaphore"
)

// GraphOllamaClient implements the ai.GraphAIClient interface using Ollama as the backend.
type GraphOllamaClient struct {
	embeddingModel  string
	extractionModel string
	answerModel     string
	imageModel      string
	embeddingDim    int

	timeoutMin int
	reqLock    *semaphore.Weighted

	// nil when the encoding could not be loaded; context sizing is skipped then
	encoder *tiktoken.Tiktoken

	metricsLock sync.Mutex
	metrics     ai.ModelMetrics

	Client *api.Client
}

// NewGraphOllamaClientParams contains configuration options for creating a new GraphOllamaClient.
type NewGraphOllamaClientParams struct {
	EmbeddingModel  string
	ExtractionModel string
	AnswerModel     string
	ImageModel      string
	EmbeddingDim    int

	BaseURL string
	ApiKey  string

	MaxConcurrentRequests int64
	TimeoutMin            int
	// TokenEncoder names the tiktoken encoding used to size num_ctx.
	TokenEncoder string
}

type headerTransport struct {
	headers map[string]string
	rt      http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// clone so original request isn't modified
	r := req.Clone(req.Context())
	for k, v := range t.headers {
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}
	return t.rt.RoundTrip(r)
}

// NewGraphOllamaClient creates a new Ollama-based AI client.
// It connects to the Ollama server at BaseURL (or the default if empty).
func NewGraphOllamaClient(
	params NewGraphOllamaClientParams,
) (*GraphOllamaClient, error) {
	var (
		u   *url.URL
		err error
	)

	if params.BaseURL != "" {
		u, err = url.Parse(params.BaseURL)
		if err != nil {
			return nil, err
		}
	}

	headers := map[string]string{}
	if params.ApiKey != "" {
		headers["Authorization"] = "Bearer " + params.ApiKey
	}
	httpClient := &http.Client{
		Transport: &headerTransport{
			headers: headers,
			rt:      http.DefaultTransport,
		},
	}

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

	encoding := params.TokenEncoder
	if encoding == "" {
		encoding = "o200k_base"
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		enc = nil
	}

	return &GraphOllamaClient{
		embeddingModel:  params.EmbeddingModel,
		extractionModel: params.ExtractionModel,
		answerModel:     params.AnswerModel,
		imageModel:      params.ImageModel,
		embeddingDim:    dim,

		timeoutMin: timeoutMin,
		reqLock:    semaphore.NewWeighted(maxReq),
		encoder:    enc,

		Client: api.NewClient(u, httpClient),
	}, nil
}
