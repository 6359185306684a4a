package storage

import (
	"context"
	"sort"

	"osrd.dev/macro/model"
)

// In memory node storage. Nothing survives the process; meant for
// tests and throwaway sessions.

type MemoryStorage struct {
	Scenario model.ScenarioRef

	nodes  map[int64]model.MacroNode
	nextID int64
}

func NewMemoryStorage(scenario model.ScenarioRef) *MemoryStorage {
	return &MemoryStorage{
		Scenario: scenario,
		nodes:    map[int64]model.MacroNode{},
		nextID:   1,
	}
}

func (s *MemoryStorage) CreateNode(ctx context.Context, node model.MacroNode) (model.MacroNode, error) {
	node.DBID = s.nextID
	s.nextID++
	s.nodes[node.DBID] = node
	return node, nil
}

func (s *MemoryStorage) UpdateNode(ctx context.Context, id int64, node model.MacroNode) error {
	if _, ok := s.nodes[id]; !ok {
		return ErrNodeNotFound
	}
	node.DBID = id
	s.nodes[id] = node
	return nil
}

func (s *MemoryStorage) DeleteNode(ctx context.Context, id int64) error {
	if _, ok := s.nodes[id]; !ok {
		return ErrNodeNotFound
	}
	delete(s.nodes, id)
	return nil
}

func (s *MemoryStorage) ListNodes(ctx context.Context, page, pageSize int) (model.NodePage, error) {
	ids := make([]int64, 0, len(s.nodes))
	for id := range s.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	start, end := clampPage(page, pageSize, len(ids))
	results := make([]model.MacroNode, 0, end-start)
	for _, id := range ids[start:end] {
		results = append(results, s.nodes[id])
	}
	return model.NodePage{
		Results: results,
		Next:    pageNext(page, pageSize, len(ids)),
	}, nil
}
