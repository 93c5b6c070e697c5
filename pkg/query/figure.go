package query

import (
	"context"
	"fmt"
	"sort"

	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/common"
	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/store"
)

// FigureResolver maps figure labels to the page images showing them.
type FigureResolver struct {
	store store.GraphStorage
}

func NewFigureResolver(s store.GraphStorage) *FigureResolver {
	return &FigureResolver{store: s}
}

// ImagesForLabels returns one PageImage per distinct page that holds a
// figure with one of labels, in ascending page order. Labels match
// exactly. Pages without a stored image are skipped.
func (f *FigureResolver) ImagesForLabels(ctx context.Context, labels []string) ([]common.PageImage, error) {
	labels = store.DedupeStrings(labels)
	if len(labels) == 0 {
		return []common.PageImage{}, nil
	}

	values := make([]any, len(labels))
	for i, l := range labels {
		values[i] = l
	}
	figures, err := f.store.FindNodes(ctx, common.LabelFigureRef, "label", values)
	if err != nil {
		return nil, fmt.Errorf("failed to find figures: %w", err)
	}

	pageSet := map[int]struct{}{}
	for _, fig := range figures {
		if _, ok := fig.Props["page_number"]; !ok {
			continue
		}
		pageSet[store.PropInt(fig.Props, "page_number")] = struct{}{}
	}
	if len(pageSet) == 0 {
		return []common.PageImage{}, nil
	}

	pages := make([]int, 0, len(pageSet))
	for p := range pageSet {
		pages = append(pages, p)
	}
	sort.Ints(pages)

	pageValues := make([]any, len(pages))
	for i, p := range pages {
		pageValues[i] = p
	}
	nodes, err := f.store.FindNodes(ctx, common.LabelPageImage, "page_number", pageValues)
	if err != nil {
		return nil, fmt.Errorf("failed to find page images: %w", err)
	}

	// FindNodes orders by id, so the first image of a page wins
	byPage := make(map[int]common.PageImage, len(nodes))
	for _, n := range nodes {
		page := store.PropInt(n.Props, "page_number")
		if _, ok := byPage[page]; ok {
			continue
		}
		byPage[page] = common.PageImage{
			ID:         n.ID,
			PageNumber: page,
			URL:        store.PropString(n.Props, "url"),
		}
	}

	images := make([]common.PageImage, 0, len(byPage))
	for _, p := range pages {
		img, ok := byPage[p]
		if !ok || img.URL == "" {
			continue
		}
		images = append(images, img)
	}

	return images, nil
}
