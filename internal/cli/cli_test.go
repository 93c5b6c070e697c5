package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/ai"
	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/graph"
	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/query"

	"github.com/spf13/cobra"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestReadInputs(t *testing.T) {
	dir := t.TempDir()
	pagesPath := writeFile(t, dir, "pages.json", `[{"page": 1, "md": "### 1.1 Cells"}, {"page": 2, "md": "more"}]`)
	imagesPath := writeFile(t, dir, "images.json", `{"2": "s3://b/p2.png", "1": "s3://b/p1.png"}`)

	pages, images, err := readInputs(pagesPath, imagesPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pages) != 2 || pages[0].Page != 1 {
		t.Fatalf("unexpected pages %+v", pages)
	}
	if len(images) != 2 || images[0].PageNumber != 1 || images[1].URL != "s3://b/p2.png" {
		t.Fatalf("unexpected images %+v", images)
	}

	if _, images, err := readInputs(pagesPath, ""); err != nil || images != nil {
		t.Fatalf("expected no images without a manifest, got %v, %v", images, err)
	}
}

func TestReadInputs_Errors(t *testing.T) {
	dir := t.TempDir()
	pagesPath := writeFile(t, dir, "pages.json", `[]`)
	badPath := writeFile(t, dir, "bad.json", `{"one": "x"}`)

	if _, _, err := readInputs(filepath.Join(dir, "missing.json"), ""); err == nil {
		t.Fatal("expected missing pages file to fail")
	}
	if _, _, err := readInputs(pagesPath, badPath); err == nil {
		t.Fatal("expected a non-numeric page key to fail")
	}
}

func TestRenderSummary(t *testing.T) {
	var buf bytes.Buffer
	renderSummary(&buf, &graph.ProcessSummary{Pages: 12, Units: 2, Sections: 5, Mentions: 31, Figures: 4, PageImages: 12})

	out := buf.String()
	for _, want := range []string{"Graph built", "Units:", "31"} {
		if !strings.Contains(out, want) {
			t.Fatalf("summary %q does not contain %q", out, want)
		}
	}
}

func TestRenderResult(t *testing.T) {
	res := &query.Result{
		Answer:  "See the diagram of the cell.",
		Kind:    ai.KindRequireFigures,
		Figures: []string{"Figure 1.1"},
		Trace: query.QueryTraceSnapshot{
			ConsideredNodeIDs: []string{"M1", "S1"},
			UsedSectionIDs:    []string{"S1"},
			PageNumbers:       []int{4},
		},
	}

	var buf bytes.Buffer
	renderResult(&buf, "What does a cell look like?", res, true)
	out := buf.String()
	for _, want := range []string{"What does a cell look like?", "require_figure", "Figure 1.1", "M1, S1", "4"} {
		if !strings.Contains(out, want) {
			t.Fatalf("result %q does not contain %q", out, want)
		}
	}

	buf.Reset()
	renderResult(&buf, "q", res, false)
	if strings.Contains(buf.String(), "Considered") {
		t.Fatal("expected trace to be hidden")
	}
}

type fakeQuestioner struct{}

func (fakeQuestioner) Answer(ctx context.Context, question string) (*query.Result, error) {
	return &query.Result{Answer: "42", Kind: ai.KindFinalAnswer}, nil
}

func TestAsk_JSON(t *testing.T) {
	jsonOutput = true
	defer func() { jsonOutput = false }()

	cmd := &cobra.Command{}
	var buf bytes.Buffer
	cmd.SetOut(&buf)

	if err := ask(context.Background(), cmd, fakeQuestioner{}, "?"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("invalid json %q: %v", buf.String(), err)
	}
	if got["answer"] != "42" || got["kind"] != "final_answer" {
		t.Fatalf("unexpected output %v", got)
	}
}

func TestCommandsRegistered(t *testing.T) {
	for _, name := range []string{"ingest", "query"} {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Fatalf("expected %s command, got %v, %v", name, cmd, err)
		}
	}
}
