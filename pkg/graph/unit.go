package graph

import (
	"regexp"
	"strings"
)

// unitHeading matches numbered headings such as "### 1.2 Plant Cells".
var unitHeading = regexp.MustCompile(`^(#{1,6})\s+(\d+\.\d+)\s+(.+)$`)

// UnitTitlePrefix starts every chunk returned by SplitIntoUnits.
const UnitTitlePrefix = "Unit Title: "

// SplitIntoUnits cuts a prepared document into chunks at numbered
// headings. Every chunk starts with "Unit Title: <heading>" followed by
// the lines up to the next numbered heading. Lines before the first
// numbered heading have no chunk to live in and are dropped, so a
// document without numbered headings yields no chunks at all. Page break
// markers stay inside the chunk they fall into.
func SplitIntoUnits(markdown string) []string {
	var (
		chunks  []string
		current *strings.Builder
	)

	for _, line := range strings.Split(markdown, "\n") {
		if unitHeading.MatchString(line) {
			if current != nil {
				chunks = append(chunks, current.String())
			}
			current = &strings.Builder{}
			title := strings.TrimSpace(strings.ReplaceAll(line, "#", ""))
			current.WriteString(UnitTitlePrefix)
			current.WriteString(title)
			current.WriteString("\n")
			continue
		}
		if current == nil {
			continue
		}
		current.WriteString(line)
		current.WriteString("\n")
	}

	if current != nil {
		chunks = append(chunks, current.String())
	}

	return chunks
}
