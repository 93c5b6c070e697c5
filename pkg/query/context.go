package query

import (
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/store"
)

// ContextSeparator closes every node block of a built context.
const ContextSeparator = "\n================\n"

// BuildContext renders retrieved nodes as the text context of the answer
// prompt. Each node contributes the properties it has: unit title,
// section title, then content or, failing that, summary.
func BuildContext(nodes []store.ScoredNode) string {
	var b strings.Builder
	for _, n := range nodes {
		if v, ok := n.Props["unit_title"]; ok {
			fmt.Fprintf(&b, "Unit Title: %v\n", v)
		}
		if v, ok := n.Props["section_title"]; ok {
			fmt.Fprintf(&b, "Section Title: %v\n", v)
		}
		if v, ok := n.Props["content"]; ok {
			fmt.Fprintf(&b, "Content: %v\n", v)
		} else if v, ok := n.Props["summary"]; ok {
			fmt.Fprintf(&b, "Summary: %v\n", v)
		}
		b.WriteString(ContextSeparator)
	}
	return b.String()
}
