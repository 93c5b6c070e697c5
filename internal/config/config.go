// Package config assembles the process configuration from the environment
// and builds the shared clients every entry point needs.
package config

import (
	"context"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/kiwi-textbook/backend/internal/queue"
	"github.com/OFFIS-RIT/kiwi-textbook/backend/internal/storage"
	"github.com/OFFIS-RIT/kiwi-textbook/backend/internal/util"
	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/ai"
	oai "github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/ai/ollama"
	gai "github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/ai/openai"
	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/graph"
	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/leaselock"
	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/logger"
	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/logger/console"
	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/query"
	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/store"
	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/store/memory"
	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/store/neo4j"
	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/store/pgx"

	"github.com/go-playground/validator"
)

const (
	AdapterOpenAI = "openai"
	AdapterOllama = "ollama"

	StoreNeo4j    = "neo4j"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type AIConfig struct {
	Adapter         string `validate:"oneof=openai ollama"`
	EmbeddingModel  string
	EmbeddingURL    string
	EmbeddingKey    string
	EmbeddingDim    int `validate:"gt=0"`
	ExtractionModel string
	// ExtractThinking is the reasoning effort used for unit extraction.
	ExtractThinking string
	AnswerModel     string
	ImageModel      string
	ChatURL         string
	ChatKey         string
	ImageURL        string
	ImageKey        string
	ParallelReq     int
	TimeoutMin      int
	TokenEncoder    string
}

type StoreConfig struct {
	Kind          string `validate:"oneof=neo4j postgres memory"`
	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string
	Neo4jDatabase string
	DatabaseURL   string
}

type ExtractConfig struct {
	Timeout    time.Duration
	MaxRetries int `validate:"gte=0"`
	Parallel   int `validate:"gte=0"`
	Metric     store.Metric
}

type QueryConfig struct {
	FetchK   int `validate:"gte=0"`
	ContextK int `validate:"gte=0"`
}

type Config struct {
	Port   string
	// APIKey protects the HTTP API when set.
	APIKey string

	AI      AIConfig
	Store   StoreConfig
	Extract ExtractConfig
	Query   QueryConfig
	S3      storage.S3Params
	Rabbit  queue.ConnParams
}

// Load reads the configuration from the environment. Call util.LoadEnv
// first to pick up a .env file.
func Load() (*Config, error) {
	metric, err := store.ParseMetric(util.GetEnvString("INDEX_METRIC", string(store.MetricCosine)))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:   util.GetEnvString("PORT", "8080"),
		APIKey: util.GetEnv("API_KEY"),
		AI: AIConfig{
			Adapter:         util.GetEnvString("AI_ADAPTER", AdapterOpenAI),
			EmbeddingModel:  util.GetEnv("AI_EMBED_MODEL"),
			EmbeddingURL:    util.GetEnv("AI_EMBED_URL"),
			EmbeddingKey:    util.GetEnv("AI_EMBED_KEY"),
			EmbeddingDim:    util.GetEnvInt("AI_EMBED_DIM", 1536),
			ExtractionModel: util.GetEnv("AI_CHAT_EXTRACT_MODEL"),
			ExtractThinking: util.GetEnv("AI_EXTRACT_THINKING"),
			AnswerModel:     util.GetEnv("AI_CHAT_ANSWER_MODEL"),
			ImageModel:      util.GetEnv("AI_IMAGE_MODEL"),
			ChatURL:         util.GetEnv("AI_CHAT_URL"),
			ChatKey:         util.GetEnv("AI_CHAT_KEY"),
			ImageURL:        util.GetEnv("AI_IMAGE_URL"),
			ImageKey:        util.GetEnv("AI_IMAGE_KEY"),
			ParallelReq:     util.GetEnvInt("AI_PARALLEL_REQ", 15),
			TimeoutMin:      util.GetEnvInt("AI_TIMEOUT_MIN", 10),
			TokenEncoder:    util.GetEnvString("TOKEN_ENCODER", "o200k_base"),
		},
		Store: StoreConfig{
			Kind:          util.GetEnvString("GRAPH_STORE", StoreNeo4j),
			Neo4jURI:      util.GetEnvString("NEO4J_URI", "neo4j://localhost:7687"),
			Neo4jUser:     util.GetEnvString("NEO4J_USER", "neo4j"),
			Neo4jPassword: util.GetEnv("NEO4J_PASSWORD"),
			Neo4jDatabase: util.GetEnv("NEO4J_DATABASE"),
			DatabaseURL:   util.GetEnv("DATABASE_URL"),
		},
		Extract: ExtractConfig{
			Timeout:    util.GetEnvDuration("EXTRACT_TIMEOUT_SEC", 180, time.Second),
			MaxRetries: util.GetEnvInt("EXTRACT_MAX_RETRIES", graph.DefaultExtractMaxRetries),
			Parallel:   util.GetEnvInt("EXTRACT_PARALLEL", 0),
			Metric:     metric,
		},
		Query: QueryConfig{
			FetchK:   util.GetEnvInt("QUERY_FETCH_K", query.DefaultFetchK),
			ContextK: util.GetEnvInt("QUERY_CONTEXT_K", query.DefaultContextK),
		},
		S3: storage.S3Params{
			Region:    util.GetEnvString("AWS_REGION", "us-east-1"),
			Endpoint:  util.GetEnv("AWS_ENDPOINT"),
			AccessKey: util.GetEnv("AWS_ACCESS_KEY"),
			SecretKey: util.GetEnv("AWS_SECRET_KEY"),
			Bucket:    util.GetEnv("AWS_BUCKET"),
		},
		Rabbit: queue.ConnParams{
			User:     util.GetEnvString("RABBITMQ_USER", "guest"),
			Password: util.GetEnvString("RABBITMQ_PASSWORD", "guest"),
			Host:     util.GetEnvString("RABBITMQ_HOST", "localhost"),
			Port:     util.GetEnvString("RABBITMQ_PORT", "5672"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	v := validator.New()
	for _, part := range []any{c.AI, c.Store, c.Extract, c.Query} {
		if err := v.Struct(part); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
	}
	switch c.Store.Kind {
	case StorePostgres:
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("invalid configuration: GRAPH_STORE=postgres needs DATABASE_URL")
		}
	case StoreNeo4j:
		if c.Store.Neo4jURI == "" {
			return fmt.Errorf("invalid configuration: GRAPH_STORE=neo4j needs NEO4J_URI")
		}
	}
	return nil
}

// InitLogger installs the console logger. It reads DEBUG and LOG_FORMAT
// itself so it can run before Load.
func InitLogger() {
	logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: util.GetEnvBool("DEBUG", false),
		JSON:  util.GetEnvString("LOG_FORMAT", "text") == "json",
	}))
}

func (c *Config) NewAIClient() (ai.GraphAIClient, error) {
	a := c.AI
	switch a.Adapter {
	case AdapterOllama:
		client, err := oai.NewGraphOllamaClient(oai.NewGraphOllamaClientParams{
			EmbeddingModel:  a.EmbeddingModel,
			ExtractionModel: a.ExtractionModel,
			AnswerModel:     a.AnswerModel,
			ImageModel:      a.ImageModel,
			EmbeddingDim:    a.EmbeddingDim,

			BaseURL: a.ChatURL,
			ApiKey:  a.ChatKey,

			MaxConcurrentRequests: int64(a.ParallelReq),
			TimeoutMin:            a.TimeoutMin,
			TokenEncoder:          a.TokenEncoder,
		})
		if err != nil {
			return nil, fmt.Errorf("could not create ollama client: %w", err)
		}
		return client, nil
	default:
		return gai.NewGraphOpenAIClient(gai.NewGraphOpenAIClientParams{
			EmbeddingModel:  a.EmbeddingModel,
			ExtractionModel: a.ExtractionModel,
			AnswerModel:     a.AnswerModel,
			ImageModel:      a.ImageModel,
			EmbeddingDim:    a.EmbeddingDim,

			EmbeddingURL: a.EmbeddingURL,
			EmbeddingKey: a.EmbeddingKey,
			ChatURL:      a.ChatURL,
			ChatKey:      a.ChatKey,
			ImageURL:     a.ImageURL,
			ImageKey:     a.ImageKey,

			MaxConcurrentRequests: int64(a.ParallelReq),
			TimeoutMin:            a.TimeoutMin,
		}), nil
	}
}

// NewStore opens the configured graph store. Index rebuilds are serialized
// against vector queries within the process.
func (c *Config) NewStore(ctx context.Context) (store.GraphStorage, error) {
	var inner store.GraphStorage
	switch c.Store.Kind {
	case StoreMemory:
		inner = memory.New()
	case StorePostgres:
		if err := pgx.Migrate(c.Store.DatabaseURL); err != nil {
			return nil, err
		}
		pool, err := pgx.NewPool(ctx, c.Store.DatabaseURL)
		if err != nil {
			return nil, err
		}
		inner = pgx.NewGraphDBStorage(pool)
	default:
		s, err := neo4j.New(ctx, neo4j.NewStorageParams{
			URI:      c.Store.Neo4jURI,
			User:     c.Store.Neo4jUser,
			Password: c.Store.Neo4jPassword,
			Database: c.Store.Neo4jDatabase,
		})
		if err != nil {
			return nil, err
		}
		inner = s
	}

	logger.Info("[Config] Graph store ready", "kind", c.Store.Kind)
	return store.NewGuardedStorage(inner), nil
}

// NewIngestLock returns a lease lock shared by all workers of a postgres
// store. Other stores return a nil locker and a no-op close.
func (c *Config) NewIngestLock(ctx context.Context) (queue.Locker, func(), error) {
	if c.Store.Kind != StorePostgres {
		return nil, func() {}, nil
	}
	pool, err := pgx.NewPool(ctx, c.Store.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return leaselock.New(pool), pool.Close, nil
}

func (c *Config) NewGraphClient() (*graph.GraphClient, error) {
	return graph.NewGraphClient(graph.NewGraphClientParams{
		TokenEncoder:       c.AI.TokenEncoder,
		ExtractModel:       c.AI.ExtractionModel,
		ExtractThinking:    c.AI.ExtractThinking,
		ExtractTimeout:     c.Extract.Timeout,
		MaxRetries:         c.Extract.MaxRetries,
		ParallelExtraction: c.Extract.Parallel,
		ParallelAiRequests: c.AI.ParallelReq,
		EmbeddingDim:       c.AI.EmbeddingDim,
		Metric:             c.Extract.Metric,
	})
}

// NewAnswerer wires the query path. objects may be nil, in which case
// only data: and http(s) page image URLs can be fetched.
func (c *Config) NewAnswerer(aiClient ai.GraphAIClient, s store.GraphStorage, objects query.ObjectGetter) *query.Answerer {
	return query.NewAnswerer(query.NewAnswererParams{
		AIClient: aiClient,
		Store:    s,
		Fetcher:  query.NewURLFetcher(objects),
		FetchK:   c.Query.FetchK,
		ContextK: c.Query.ContextK,

		AnswerModel: c.AI.AnswerModel,
		ImageModel:  c.AI.ImageModel,
	})
}
