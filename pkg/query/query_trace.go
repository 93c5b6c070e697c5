package query

import (
	"slices"
	"sort"
	"sync"
)

type TraceEventKind string

const (
	TraceEventConsideredNodeIDs TraceEventKind = "considered_node_ids"
	TraceEventUsedSectionIDs    TraceEventKind = "used_section_ids"
	TraceEventFigureLabels      TraceEventKind = "figure_labels"
	TraceEventPageNumbers       TraceEventKind = "page_numbers"
)

// TraceEvent is an extensible event envelope for query tracing.
type TraceEvent struct {
	Kind TraceEventKind

	NodeIDs      []string
	FigureLabels []string
	PageNumbers  []int
}

// Tracer is a sink for query tracing events.
type Tracer interface {
	Record(event TraceEvent)
}

func RecordConsideredNodeIDs(t Tracer, ids ...string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventConsideredNodeIDs, NodeIDs: ids})
}

func RecordUsedSectionIDs(t Tracer, ids ...string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventUsedSectionIDs, NodeIDs: ids})
}

func RecordFigureLabels(t Tracer, labels ...string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventFigureLabels, FigureLabels: labels})
}

func RecordPageNumbers(t Tracer, pages ...int) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventPageNumbers, PageNumbers: pages})
}

// QueryTrace collects which nodes, figures and pages a query touched.
//
// QueryTrace is safe for concurrent use.
type QueryTrace struct {
	mu sync.Mutex

	consideredNodeIDs map[string]struct{}
	usedSectionIDs    map[string]struct{}
	figureLabels      map[string]struct{}
	pageNumbers       map[int]struct{}
}

type QueryTraceSnapshot struct {
	ConsideredNodeIDs []string `json:"considered_node_ids"`
	UsedSectionIDs    []string `json:"used_section_ids"`
	FigureLabels      []string `json:"figure_labels"`
	PageNumbers       []int    `json:"page_numbers"`
}

func NewQueryTrace() *QueryTrace {
	return &QueryTrace{
		consideredNodeIDs: make(map[string]struct{}),
		usedSectionIDs:    make(map[string]struct{}),
		figureLabels:      make(map[string]struct{}),
		pageNumbers:       make(map[int]struct{}),
	}
}

func addStrings(set map[string]struct{}, values []string) {
	for _, v := range values {
		if v == "" {
			continue
		}
		set[v] = struct{}{}
	}
}

func (t *QueryTrace) Record(event TraceEvent) {
	if t == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch event.Kind {
	case TraceEventConsideredNodeIDs:
		addStrings(t.consideredNodeIDs, event.NodeIDs)
	case TraceEventUsedSectionIDs:
		addStrings(t.usedSectionIDs, event.NodeIDs)
	case TraceEventFigureLabels:
		addStrings(t.figureLabels, event.FigureLabels)
	case TraceEventPageNumbers:
		for _, p := range event.PageNumbers {
			t.pageNumbers[p] = struct{}{}
		}
	default:
		return
	}
}

func (t *QueryTrace) Snapshot() QueryTraceSnapshot {
	if t == nil {
		return QueryTraceSnapshot{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	s := QueryTraceSnapshot{
		ConsideredNodeIDs: make([]string, 0, len(t.consideredNodeIDs)),
		UsedSectionIDs:    make([]string, 0, len(t.usedSectionIDs)),
		FigureLabels:      make([]string, 0, len(t.figureLabels)),
		PageNumbers:       make([]int, 0, len(t.pageNumbers)),
	}

	for id := range t.consideredNodeIDs {
		s.ConsideredNodeIDs = append(s.ConsideredNodeIDs, id)
	}
	for id := range t.usedSectionIDs {
		s.UsedSectionIDs = append(s.UsedSectionIDs, id)
	}
	for l := range t.figureLabels {
		s.FigureLabels = append(s.FigureLabels, l)
	}
	for p := range t.pageNumbers {
		s.PageNumbers = append(s.PageNumbers, p)
	}

	sort.Strings(s.ConsideredNodeIDs)
	sort.Strings(s.UsedSectionIDs)
	sort.Strings(s.FigureLabels)
	slices.Sort(s.PageNumbers)

	return s
}
