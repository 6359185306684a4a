// Package search implements the operational-point search service. The
// CSV registry reads a flat export of the infrastructure's operational
// points; the memory backend serves a fixed slice, mostly for tests.
package search

import (
	"context"

	"osrd.dev/macro/model"
)

// matchAny reports whether any query matches the operational point.
func matchAny(queries []model.OpQuery, op model.OperationalPoint) bool {
	for _, q := range queries {
		if q.Matches(op) {
			return true
		}
	}
	return false
}

// paginate cuts one 1-based page out of the matched results.
func paginate(matched []model.OperationalPoint, page, pageSize int) []model.OperationalPoint {
	start := (page - 1) * pageSize
	if start >= len(matched) {
		return []model.OperationalPoint{}
	}
	end := start + pageSize
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end]
}

// Memory serves a fixed set of operational points.
type Memory struct {
	Points []model.OperationalPoint
}

func NewMemory(points ...model.OperationalPoint) *Memory {
	return &Memory{Points: points}
}

func (m *Memory) SearchOperationalPoints(ctx context.Context, queries []model.OpQuery, page, pageSize int) ([]model.OperationalPoint, error) {
	matched := []model.OperationalPoint{}
	for _, op := range m.Points {
		if matchAny(queries, op) {
			matched = append(matched, op)
		}
	}
	return paginate(matched, page, pageSize), nil
}
