package common

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
)

// Page is one page of the converted textbook as produced by the
// PDF-to-markdown service.
type Page struct {
	Page int    `json:"page"`
	MD   string `json:"md"`
}

// ReadPages decodes a pages document: [{"page": 1, "md": "..."}].
func ReadPages(r io.Reader) ([]Page, error) {
	var pages []Page
	if err := json.NewDecoder(r).Decode(&pages); err != nil {
		return nil, fmt.Errorf("failed to decode pages: %w", err)
	}
	return pages, nil
}

// ReadImageManifest decodes a page image manifest {"3": "s3://..."} into
// PageImage values ordered by page number. Every image gets a fresh id.
func ReadImageManifest(r io.Reader) ([]*PageImage, error) {
	var raw map[string]string
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode image manifest: %w", err)
	}

	images := make([]*PageImage, 0, len(raw))
	for key, url := range raw {
		page, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("invalid page number %q in image manifest: %w", key, err)
		}
		images = append(images, &PageImage{
			ID:         NewID(),
			PageNumber: page,
			URL:        url,
		})
	}
	sort.Slice(images, func(i, j int) bool {
		return images[i].PageNumber < images[j].PageNumber
	})

	return images, nil
}
