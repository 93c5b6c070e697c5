package graph

import (
	"time"

	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/store"
)

// GraphClient runs construction passes over textbooks. It holds the
// extraction, enrichment and indexing settings; the AI client and the
// store are passed per call.
//
// A GraphClient should be created using NewGraphClient.
type GraphClient struct {
	tokenEncoder       string
	extractModel       string
	extractThinking    string
	extractTimeout     time.Duration
	maxRetries         int
	parallelExtraction int
	parallelAiRequests int
	embeddingDim       int
	metric             store.Metric
}

// NewGraphClientParams defines the configuration parameters for creating
// a new GraphClient.
//
// TokenEncoder is optional and only used for chunk size logging.
// ParallelExtraction caps concurrent unit extractions (0 means no cap).
// ParallelAiRequests caps concurrent embedding calls.
// MaxRetries is the number of retries of a timed out extraction; 0 makes a
// single attempt per chunk (see DefaultExtractMaxRetries).
// ExtractThinking is the optional reasoning effort for extraction calls.
type NewGraphClientParams struct {
	TokenEncoder       string
	ExtractModel       string
	ExtractThinking    string
	ExtractTimeout     time.Duration
	MaxRetries         int
	ParallelExtraction int
	ParallelAiRequests int
	EmbeddingDim       int
	Metric             store.Metric
}

// NewGraphClient creates and returns a new GraphClient configured with
// the provided parameters.
//
// Example:
//
//	params := graph.NewGraphClientParams{
//		TokenEncoder:       "o200k_base",
//		ExtractTimeout:     3 * time.Minute,
//		MaxRetries:         5,
//		ParallelAiRequests: 10,
//		EmbeddingDim:       1536,
//	}
//	client, err := graph.NewGraphClient(params)
//	if err != nil {
//		log.Fatal(err)
//	}
func NewGraphClient(params NewGraphClientParams) (*GraphClient, error) {
	timeout := params.ExtractTimeout
	if timeout <= 0 {
		timeout = DefaultExtractTimeout
	}
	maxRetries := max(params.MaxRetries, 0)
	dim := params.EmbeddingDim
	if dim <= 0 {
		dim = 1536
	}
	metric := params.Metric
	if metric == "" {
		metric = store.MetricCosine
	}

	g := &GraphClient{
		tokenEncoder:       params.TokenEncoder,
		extractModel:       params.ExtractModel,
		extractThinking:    params.ExtractThinking,
		extractTimeout:     timeout,
		maxRetries:         maxRetries,
		parallelExtraction: params.ParallelExtraction,
		parallelAiRequests: params.ParallelAiRequests,
		embeddingDim:       dim,
		metric:             metric,
	}

	return g, nil
}
