package common

import (
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Node labels as persisted in the graph store.
const (
	LabelNode      = "Node"
	LabelUnit      = "Unit"
	LabelSection   = "Section"
	LabelMention   = "Mention"
	LabelFigureRef = "FigureRef"
	LabelPageImage = "PageImage"
)

// Relationship types between persisted nodes.
const (
	RelHasSection = "HAS_SECTION"
	RelHasMention = "HAS_MENTION"
	RelHasFigure  = "HAS_FIGURE"
)

// Node is the capability set shared by every entity kind of the textbook
// graph: a label, an id, the text that gets embedded and the flat property
// map that gets persisted.
type Node interface {
	Label() string
	NodeID() string
	CanonicalText() string
	Properties() map[string]any
}

// NewID returns a fresh nanoid for a graph node.
func NewID() string {
	id, err := gonanoid.New()
	if err != nil {
		// crypto/rand failing is not recoverable
		panic(err)
	}
	return id
}

// Mention is a recurring named term inside a Section. Two mentions with
// the same lowercase string share one id.
type Mention struct {
	ID        string    `json:"id"`
	String    string    `json:"string"`
	Embedding []float32 `json:"embedding,omitempty"`
}

func (m *Mention) Label() string         { return LabelMention }
func (m *Mention) NodeID() string        { return m.ID }
func (m *Mention) CanonicalText() string { return m.String }

func (m *Mention) Properties() map[string]any {
	return map[string]any{
		"id":        m.ID,
		"string":    m.String,
		"embedding": m.Embedding,
	}
}

// FigureRef points at a labeled figure printed on a page. Labels are not
// unique across the book.
type FigureRef struct {
	ID          string    `json:"id"`
	FigureLabel string    `json:"label"`
	Caption     *string   `json:"caption,omitempty"`
	PageNumber  int       `json:"page_number"`
	Embedding   []float32 `json:"embedding,omitempty"`
}

func (f *FigureRef) Label() string  { return LabelFigureRef }
func (f *FigureRef) NodeID() string { return f.ID }

func (f *FigureRef) CanonicalText() string {
	if f.Caption == nil {
		return f.FigureLabel
	}
	return f.FigureLabel + " " + *f.Caption
}

func (f *FigureRef) Properties() map[string]any {
	caption := ""
	if f.Caption != nil {
		caption = *f.Caption
	}
	return map[string]any{
		"id":          f.ID,
		"label":       f.FigureLabel,
		"caption":     caption,
		"page_number": f.PageNumber,
		"embedding":   f.Embedding,
	}
}

// Section is a titled content block of a Unit and the unit of retrieval.
type Section struct {
	ID           string       `json:"id"`
	SectionTitle string       `json:"section_title"`
	Summary      string       `json:"summary"`
	Content      string       `json:"content"`
	UnitTitle    string       `json:"unit_title"`
	FigRefs      []*FigureRef `json:"fig_refs"`
	Mentions     []*Mention   `json:"mentions"`
	Embedding    []float32    `json:"embedding,omitempty"`
}

func (s *Section) Label() string  { return LabelSection }
func (s *Section) NodeID() string { return s.ID }

func (s *Section) figureTexts() string {
	texts := make([]string, 0, len(s.FigRefs))
	for _, f := range s.FigRefs {
		texts = append(texts, f.CanonicalText())
	}
	return strings.Join(texts, "\n")
}

func (s *Section) CanonicalText() string {
	return s.SectionTitle + " " + s.Summary + "\n" + s.figureTexts()
}

// Properties inlines the figure texts into content so a retrieved Section
// carries its figures without a second lookup.
func (s *Section) Properties() map[string]any {
	return map[string]any{
		"id":            s.ID,
		"section_title": s.SectionTitle,
		"summary":       s.Summary,
		"content":       s.Content + "\nFigures: \n" + s.figureTexts(),
		"unit_title":    s.UnitTitle,
		"embedding":     s.Embedding,
	}
}

// Unit is a top-level curriculum division.
type Unit struct {
	ID        string     `json:"id"`
	UnitTitle string     `json:"unit_title"`
	Summary   string     `json:"summary"`
	Sections  []*Section `json:"sections"`
	Embedding []float32  `json:"embedding,omitempty"`
}

// NewUnit builds a Unit and copies its title into every Section.
func NewUnit(id, title, summary string, sections []*Section) *Unit {
	for _, s := range sections {
		s.UnitTitle = title
	}
	return &Unit{
		ID:        id,
		UnitTitle: title,
		Summary:   summary,
		Sections:  sections,
	}
}

func (u *Unit) Label() string         { return LabelUnit }
func (u *Unit) NodeID() string        { return u.ID }
func (u *Unit) CanonicalText() string { return u.UnitTitle + " " + u.Summary }

func (u *Unit) Properties() map[string]any {
	return map[string]any{
		"id":         u.ID,
		"unit_title": u.UnitTitle,
		"summary":    u.Summary,
		"embedding":  u.Embedding,
	}
}

// Nodes returns the Unit followed by every node it owns, depth first.
func (u *Unit) Nodes() []Node {
	nodes := []Node{u}
	for _, s := range u.Sections {
		nodes = append(nodes, s)
		for _, m := range s.Mentions {
			nodes = append(nodes, m)
		}
		for _, f := range s.FigRefs {
			nodes = append(nodes, f)
		}
	}
	return nodes
}

// PageImage is a rendered image of one source page.
type PageImage struct {
	ID         string `json:"id"`
	PageNumber int    `json:"page_number"`
	URL        string `json:"url"`
}

func (p *PageImage) Label() string         { return LabelPageImage }
func (p *PageImage) NodeID() string        { return p.ID }
func (p *PageImage) CanonicalText() string { return "" }

func (p *PageImage) Properties() map[string]any {
	return map[string]any{
		"id":          p.ID,
		"page_number": p.PageNumber,
		"url":         p.URL,
	}
}
