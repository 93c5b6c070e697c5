package graph

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/common"
	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/logger"

	"github.com/pkoukk/tiktoken-go"
)

const (
	DefaultExtractTimeout    = 180 * time.Second
	DefaultExtractMaxRetries = 5
)

// Distiller turns a prepared document into a forest of Units.
//
// A Distiller owns one EntityResolver which is reset at the start of every
// Distill call, so mention ids are scoped to one construction run. Calls
// to Distill on the same Distiller are serialized.
type Distiller struct {
	extractor Extractor
	resolver  *EntityResolver
	encoder   *tiktoken.Tiktoken
	opts      ScheduleOptions

	runMu sync.Mutex
}

// NewDistillerParams configures a Distiller. Timeout and MaxRetries fall
// back to 180s and 5 when unset; a negative MaxRetries disables retries.
// TokenEncoder is optional and only used to log chunk sizes.
type NewDistillerParams struct {
	Extractor       Extractor
	Timeout         time.Duration
	MaxRetries      int
	Parallel        int
	MentionIDFormat string
	TokenEncoder    string
}

func NewDistiller(params NewDistillerParams) (*Distiller, error) {
	if params.Extractor == nil {
		return nil, fmt.Errorf("distiller needs an extractor")
	}

	timeout := params.Timeout
	if timeout <= 0 {
		timeout = DefaultExtractTimeout
	}
	maxRetries := params.MaxRetries
	if maxRetries == 0 {
		maxRetries = DefaultExtractMaxRetries
	}
	if maxRetries < 0 {
		maxRetries = 0
	}

	var encoder *tiktoken.Tiktoken
	if params.TokenEncoder != "" {
		enc, err := tiktoken.GetEncoding(params.TokenEncoder)
		if err != nil {
			return nil, fmt.Errorf("failed to load token encoder %s: %w", params.TokenEncoder, err)
		}
		encoder = enc
	}

	return &Distiller{
		extractor: params.Extractor,
		resolver:  NewEntityResolver(params.MentionIDFormat),
		encoder:   encoder,
		opts: ScheduleOptions{
			Timeout:    timeout,
			MaxRetries: maxRetries,
			Parallel:   params.Parallel,
		},
	}, nil
}

// Resolver exposes the mention resolver of the last run.
func (d *Distiller) Resolver() *EntityResolver {
	return d.resolver
}

// Distill splits markdown into unit chunks, extracts every chunk
// concurrently and assigns mention ids. Units come back in chunk order.
// Chunks whose extraction failed are left out; only a canceled ctx makes
// Distill return an error.
func (d *Distiller) Distill(ctx context.Context, markdown string) ([]*common.Unit, error) {
	d.runMu.Lock()
	defer d.runMu.Unlock()

	d.resolver.Reset()

	chunks := SplitIntoUnits(markdown)
	logger.Info("[Distiller] Split document", "chunks", len(chunks))
	if d.encoder != nil {
		for i, c := range chunks {
			logger.Debug("[Distiller] Chunk size", "chunk", i, "tokens", len(d.encoder.Encode(c, nil, nil)))
		}
	}

	tasks := make([]Task[*common.Unit], len(chunks))
	for i, chunk := range chunks {
		tasks[i] = func(ctx context.Context) (*common.Unit, error) {
			return d.extractor.ExtractUnit(ctx, chunk)
		}
	}

	results := RunTasks(ctx, tasks, d.opts)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("distillation canceled: %w", err)
	}

	units := make([]*common.Unit, 0, len(results))
	for i, res := range results {
		if !res.OK() || res.Value == nil {
			logger.Warn("[Distiller] Dropping chunk", "chunk", i, "attempts", res.Attempts, "err", res.Err)
			continue
		}
		d.resolveMentions(res.Value)
		units = append(units, res.Value)
	}

	logger.Info("[Distiller] Distilled units", "units", len(units), "dropped", len(chunks)-len(units))

	return units, nil
}

// resolveMentions runs in chunk order so ids are numbered deterministically
// for a given extraction output.
func (d *Distiller) resolveMentions(unit *common.Unit) {
	for _, s := range unit.Sections {
		for _, m := range s.Mentions {
			m.ID = d.resolver.Resolve(m.String)
		}
	}
}
