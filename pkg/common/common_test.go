package common

import (
	"strings"
	"testing"
)

func strPtr(s string) *string { return &s }

func TestFigureRefCanonicalText(t *testing.T) {
	tests := []struct {
		name    string
		caption *string
		want    string
	}{
		{name: "with caption", caption: strPtr("A plant cell"), want: "Figure 1.1 A plant cell"},
		{name: "without caption", caption: nil, want: "Figure 1.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &FigureRef{FigureLabel: "Figure 1.1", Caption: tt.caption}
			if got := f.CanonicalText(); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFigureRefProperties_EmptyCaption(t *testing.T) {
	f := &FigureRef{ID: "f1", FigureLabel: "Figure 2.3", PageNumber: 7}
	props := f.Properties()
	if props["caption"] != "" {
		t.Fatalf("expected empty caption, got %v", props["caption"])
	}
	if props["page_number"] != 7 {
		t.Fatalf("unexpected page_number: %v", props["page_number"])
	}
}

func TestSectionTexts(t *testing.T) {
	s := &Section{
		ID:           "s1",
		SectionTitle: "Cell Structure",
		Summary:      "Cells have parts.",
		Content:      "The cell wall protects the cell.",
		FigRefs: []*FigureRef{
			{FigureLabel: "Figure 1.1", Caption: strPtr("A plant cell")},
			{FigureLabel: "Figure 1.2"},
		},
	}

	wantCanonical := "Cell Structure Cells have parts.\nFigure 1.1 A plant cell\nFigure 1.2"
	if got := s.CanonicalText(); got != wantCanonical {
		t.Fatalf("canonical text: got %q, want %q", got, wantCanonical)
	}

	wantContent := "The cell wall protects the cell.\nFigures: \nFigure 1.1 A plant cell\nFigure 1.2"
	if got := s.Properties()["content"]; got != wantContent {
		t.Fatalf("content: got %q, want %q", got, wantContent)
	}
}

func TestNewUnit_PropagatesTitle(t *testing.T) {
	s1 := &Section{ID: "s1", UnitTitle: "stale"}
	s2 := &Section{ID: "s2"}
	u := NewUnit("u1", "1.1 Cells", "About cells", []*Section{s1, s2})

	for _, s := range u.Sections {
		if s.UnitTitle != "1.1 Cells" {
			t.Fatalf("section %s has unit title %q", s.ID, s.UnitTitle)
		}
	}
	if got := u.CanonicalText(); got != "1.1 Cells About cells" {
		t.Fatalf("unexpected unit canonical text %q", got)
	}
}

func TestUnitNodes(t *testing.T) {
	u := NewUnit("u1", "t", "s", []*Section{{
		ID:       "s1",
		Mentions: []*Mention{{ID: "mention_000", String: "cell"}},
		FigRefs:  []*FigureRef{{ID: "f1", FigureLabel: "Figure 1.1"}},
	}})

	var labels []string
	for _, n := range u.Nodes() {
		labels = append(labels, n.Label())
	}
	if got := strings.Join(labels, ","); got != "Unit,Section,Mention,FigureRef" {
		t.Fatalf("unexpected node order %s", got)
	}
}

func TestReadImageManifest(t *testing.T) {
	images, err := ReadImageManifest(strings.NewReader(`{"12": "s3://b/12.png", "3": "s3://b/3.png"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(images) != 2 {
		t.Fatalf("expected 2 images, got %d", len(images))
	}
	if images[0].PageNumber != 3 || images[1].PageNumber != 12 {
		t.Fatalf("images not ordered by page: %d, %d", images[0].PageNumber, images[1].PageNumber)
	}
	if images[0].ID == "" || images[0].ID == images[1].ID {
		t.Fatal("expected distinct generated ids")
	}

	if _, err := ReadImageManifest(strings.NewReader(`{"three": "x"}`)); err == nil {
		t.Fatal("expected error for non-numeric page key")
	}
}

func TestReadPages(t *testing.T) {
	pages, err := ReadPages(strings.NewReader(`[{"page": 1, "md": "# Title"}, {"page": 2, "md": "text"}]`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pages) != 2 || pages[1].Page != 2 || pages[1].MD != "text" {
		t.Fatalf("unexpected pages %+v", pages)
	}
}
