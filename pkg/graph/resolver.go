package graph

import (
	"fmt"
	"maps"
	"strings"
	"sync"
)

// DefaultMentionIDFormat renders the n-th distinct mention as mention_001.
const DefaultMentionIDFormat = "mention_%03d"

// EntityResolver hands out stable ids for mention strings. Strings that
// differ only in case share an id; ids are numbered in first-seen order.
// It is safe for concurrent use.
type EntityResolver struct {
	format  string
	mu      sync.Mutex
	ids     map[string]string
	counter int
}

func NewEntityResolver(format string) *EntityResolver {
	if format == "" {
		format = DefaultMentionIDFormat
	}
	return &EntityResolver{
		format: format,
		ids:    make(map[string]string),
	}
}

// Resolve returns the id for s, allocating the next one if s is new.
func (r *EntityResolver) Resolve(s string) string {
	key := strings.ToLower(s)

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.ids[key]; ok {
		return id
	}
	r.counter++
	id := fmt.Sprintf(r.format, r.counter)
	r.ids[key] = id
	return id
}

// Reset forgets every mapping and restarts numbering.
func (r *EntityResolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	clear(r.ids)
	r.counter = 0
}

// Snapshot returns a copy of the lowercase string to id mapping.
func (r *EntityResolver) Snapshot() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return maps.Clone(r.ids)
}
