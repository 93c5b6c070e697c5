package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/ai"
	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/graph"
	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/query"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("34"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("34")).
			Padding(0, 1)
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// renderSummary prints the counts of one construction run.
func renderSummary(w io.Writer, s *graph.ProcessSummary) {
	rows := []struct {
		name  string
		value int
	}{
		{"Pages", s.Pages},
		{"Units", s.Units},
		{"Sections", s.Sections},
		{"Mentions", s.Mentions},
		{"Figures", s.Figures},
		{"Page images", s.PageImages},
	}

	lines := make([]string, 0, len(rows)+1)
	lines = append(lines, titleStyle.Render("Graph built"))
	for _, r := range rows {
		lines = append(lines, fmt.Sprintf("%s %d", dimStyle.Render(fmt.Sprintf("%-12s", r.name+":")), r.value))
	}
	fmt.Fprintln(w, boxStyle.Render(strings.Join(lines, "\n")))
}

// renderResult prints an answer, the figures it used and optionally the
// retrieval trace.
func renderResult(w io.Writer, question string, res *query.Result, showTrace bool) {
	header := titleStyle.Render("Q: ") + question
	kind := dimStyle.Render(string(res.Kind))
	if res.Kind == ai.KindOutOfScope {
		kind = warnStyle.Render(string(res.Kind))
	}

	body := []string{header, kind, "", res.Answer}
	if len(res.Figures) > 0 {
		body = append(body, "", dimStyle.Render("Figures: ")+strings.Join(res.Figures, ", "))
	}
	if showTrace {
		t := res.Trace
		body = append(body, "",
			dimStyle.Render("Considered: ")+strings.Join(t.ConsideredNodeIDs, ", "),
			dimStyle.Render("Used: ")+strings.Join(t.UsedSectionIDs, ", "),
		)
		if len(t.PageNumbers) > 0 {
			pages := make([]string, len(t.PageNumbers))
			for i, p := range t.PageNumbers {
				pages[i] = fmt.Sprint(p)
			}
			body = append(body, dimStyle.Render("Pages: ")+strings.Join(pages, ", "))
		}
	}

	fmt.Fprintln(w, boxStyle.Render(strings.Join(body, "\n")))
}
