package graph

import (
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/common"
)

// PageBreak separates consecutive pages in the prepared document.
const PageBreak = "[BREAK_PAGE]"

// PreparePages turns converted pages into the single markdown document the
// splitter works on. The last line of every page (the running footer) is
// dropped, as are blank lines and lines carrying exactly one or two '#'
// characters (book and chapter banners). Each page is framed by
// "page_number: N" lines so figures can be placed on the right page.
func PreparePages(pages []common.Page) string {
	prepared := make([]string, 0, len(pages))
	for _, p := range pages {
		lines := strings.Split(p.MD, "\n")
		lines = lines[:len(lines)-1]

		kept := make([]string, 0, len(lines))
		for _, line := range lines {
			if strings.TrimSpace(line) == "" {
				continue
			}
			if n := strings.Count(line, "#"); n == 1 || n == 2 {
				continue
			}
			kept = append(kept, line)
		}

		marker := fmt.Sprintf("page_number: %d", p.Page)
		prepared = append(prepared, "\n"+marker+"\n"+strings.Join(kept, "\n")+"\n"+marker)
	}

	return strings.Join(prepared, "\n"+PageBreak+"\n")
}
