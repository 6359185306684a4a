// Package storage persists macro nodes for a scenario. Backends exist
// for memory (tests, throwaway sessions), SQLite and Postgres. All
// backends present the same page-oriented listing the conversion engine
// consumes.
package storage

import (
	"encoding/json"
	"fmt"
)

// Labels are stored as a JSON array in a single column; they may
// contain arbitrary user text.
func serializeLabels(labels []string) (string, error) {
	if labels == nil {
		labels = []string{}
	}
	data, err := json.Marshal(labels)
	if err != nil {
		return "", fmt.Errorf("serializing labels: %w", err)
	}
	return string(data), nil
}

func deserializeLabels(data string) ([]string, error) {
	if data == "" {
		return []string{}, nil
	}
	var labels []string
	if err := json.Unmarshal([]byte(data), &labels); err != nil {
		return nil, fmt.Errorf("deserializing labels: %w", err)
	}
	return labels, nil
}

// pageNext computes the Next marker for a page: nil when offset+count
// reaches total.
func pageNext(page, pageSize, total int) *int {
	if page*pageSize >= total {
		return nil
	}
	next := page + 1
	return &next
}

// clampPage translates a 1-based page into slice bounds.
func clampPage(page, pageSize, total int) (int, int) {
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return start, end
}

// ErrNodeNotFound is returned by updates and deletes against an id the
// backend does not hold.
var ErrNodeNotFound = fmt.Errorf("macro node not found")
