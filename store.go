package macro

import (
	"sort"

	"osrd.dev/macro/model"
)

// labelSet is an insertion-ordered set of strings. The position of a
// label doubles as its id in the Netzgrafik document, so entries are
// never removed or reordered.
type labelSet struct {
	order []string
	index map[string]int
}

func newLabelSet() *labelSet {
	return &labelSet{index: map[string]int{}}
}

func (s *labelSet) add(label string) {
	if _, ok := s.index[label]; !ok {
		s.index[label] = len(s.order)
		s.order = append(s.order, label)
	}
}

func (s *labelSet) indexOf(label string) int {
	if i, ok := s.index[label]; ok {
		return i
	}
	return -1
}

// Store is the indexed macro-node table. Nodes live in an
// append-only arena; deleted slots hold nil and are never compacted, so
// the slot numbers embedded in the two lookup maps stay valid. All
// operations are total: absence is a nil result or a no-op, never an
// error.
//
// The store is not safe for concurrent mutation. Callers must keep at
// most one conversion or event handler active against it at a time.
type Store struct {
	nodes   []*model.MacroNode
	byKey   map[string]int
	byNgeID map[int]int

	nodeLabels     *labelSet
	trainrunLabels *labelSet
}

func NewStore() *Store {
	return &Store{
		byKey:          map[string]int{},
		byNgeID:        map[int]int{},
		nodeLabels:     newLabelSet(),
		trainrunLabels: newLabelSet(),
	}
}

// IndexNodeByKey stores the node under the given lookup key. If the key
// already resolves to a slot, the previous occupant's own index entries
// are removed and the slot content is replaced in place; otherwise a
// new slot is appended. Either way both indices are then rewritten for
// the node's own PathItemKey and NgeID, which may differ from the
// lookup key in replace scenarios.
func (s *Store) IndexNodeByKey(key string, node model.MacroNode) {
	slot, ok := s.byKey[key]
	if ok && s.nodes[slot] != nil {
		prev := s.nodes[slot]
		delete(s.byNgeID, prev.NgeID)
		delete(s.byKey, prev.PathItemKey)
		s.nodes[slot] = &node
	} else {
		s.nodes = append(s.nodes, &node)
		slot = len(s.nodes) - 1
	}

	s.byKey[node.PathItemKey] = slot
	s.byNgeID[node.NgeID] = slot
	for _, l := range node.Labels {
		if l != "" {
			s.nodeLabels.add(l)
		}
	}
}

// UpdateNodeDataByKey shallow-merges the patch over the node at the
// given key, then re-indexes it. No-op when the key resolves to
// nothing.
func (s *Store) UpdateNodeDataByKey(key string, patch model.NodePatch) {
	node := s.GetNodeByKey(key)
	if node == nil {
		return
	}
	merged := *node
	patch.Apply(&merged)
	s.IndexNodeByKey(key, merged)
}

// DeleteNodeByNgeID removes the node with the given graph-engine id.
// No-op when absent.
func (s *Store) DeleteNodeByNgeID(ngeID int) {
	slot, ok := s.byNgeID[ngeID]
	if !ok {
		return
	}
	s.deleteSlot(slot)
}

// GetNodeByKey returns the node stored under the key, or nil.
func (s *Store) GetNodeByKey(key string) *model.MacroNode {
	slot, ok := s.byKey[key]
	if !ok {
		return nil
	}
	return s.nodes[slot]
}

// GetNodeByNgeID returns the node with the given graph-engine id, or
// nil.
func (s *Store) GetNodeByNgeID(ngeID int) *model.MacroNode {
	slot, ok := s.byNgeID[ngeID]
	if !ok {
		return nil
	}
	return s.nodes[slot]
}

// deleteSlot removes every index entry pointing at the slot, then
// tombstones it. Scanning both maps is defensive: normally at most one
// entry each points at any slot.
func (s *Store) deleteSlot(slot int) {
	for key, kSlot := range s.byKey {
		if kSlot == slot {
			delete(s.byKey, key)
		}
	}
	for id, iSlot := range s.byNgeID {
		if iSlot == slot {
			delete(s.byNgeID, id)
		}
	}
	s.nodes[slot] = nil
}

// DedupNodes merges nodes that denote the same physical operational
// point, detected by a shared trigram. Within a group the key with the
// highest source priority becomes canonical; the other nodes are
// deleted and their keys redirected at the canonical slot. The
// canonical node's own data is untouched: no field union happens, so
// labels held only by a merged duplicate are dropped.
func (s *Store) DedupNodes() {
	groups := map[string][]string{}
	var trigrams []string
	for _, node := range s.nodes {
		if node == nil || node.Trigram == "" {
			continue
		}
		if _, ok := groups[node.Trigram]; !ok {
			trigrams = append(trigrams, node.Trigram)
		}
		groups[node.Trigram] = append(groups[node.Trigram], node.PathItemKey)
	}

	for _, trigram := range trigrams {
		keys := groups[trigram]
		if len(keys) < 2 {
			continue
		}
		sort.SliceStable(keys, func(i, j int) bool {
			return keySourcePriority(keys[i]) < keySourcePriority(keys[j])
		})

		canonical, ok := s.byKey[keys[0]]
		if !ok {
			continue
		}
		for _, key := range keys[1:] {
			slot, ok := s.byKey[key]
			if !ok || slot == canonical {
				continue
			}
			s.deleteSlot(slot)
			s.byKey[key] = canonical
		}
	}
}

// AddTrainrunLabel records a trainrun label for the document's label
// table.
func (s *Store) AddTrainrunLabel(label string) {
	s.trainrunLabels.add(label)
}

// NodeLabels returns the aggregated node labels in insertion order.
func (s *Store) NodeLabels() []string { return s.nodeLabels.order }

// TrainrunLabels returns the aggregated trainrun labels in insertion
// order.
func (s *Store) TrainrunLabels() []string { return s.trainrunLabels.order }

// liveCount returns the number of non-tombstoned slots.
func (s *Store) liveCount() int {
	n := 0
	for _, node := range s.nodes {
		if node != nil {
			n++
		}
	}
	return n
}
