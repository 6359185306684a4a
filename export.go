package macro

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/paulmach/orb"
	"golang.org/x/sync/errgroup"

	"osrd.dev/macro/metrics"
	"osrd.dev/macro/model"
	"osrd.dev/macro/nge"
)

// BuildNetzgrafik materializes the graph-editor document from the
// session's train schedules. The passes run strictly in order: each one
// assumes the invariants established by the previous one (dedup needs
// every enrichable key resolved, layout needs duplicates merged so the
// bounding box isn't skewed).
func (s *Session) BuildNetzgrafik(ctx context.Context) (*nge.Document, error) {
	s.store = NewStore()

	s.indexPathItems()

	if err := s.enrichFromSearch(ctx); err != nil {
		return nil, fmt.Errorf("enriching nodes: %w", err)
	}

	if err := s.reconcileSavedNodes(ctx); err != nil {
		return nil, fmt.Errorf("reconciling saved nodes: %w", err)
	}

	s.store.DedupNodes()

	for _, ts := range s.TrainSchedules {
		for _, l := range ts.Labels {
			s.store.AddTrainrunLabel(l)
		}
	}

	s.applyLayout()

	doc := s.assembleDocument()
	metrics.DocumentsBuilt.Inc()
	return doc, nil
}

// indexPathItems creates an unsaved node for every path item key not
// seen yet, laid out on a simple grid until the layout pass places it
// properly. Fresh nodes get negative graph ids so they can never
// collide with ids assigned by the graph engine.
func (s *Session) indexPathItems() {
	itemIndex := 0
	indexed := 0
	for _, ts := range s.TrainSchedules {
		for _, item := range ts.Path {
			itemIndex++
			key := PathKey(item.Location)
			if s.store.GetNodeByKey(key) != nil {
				continue
			}
			s.store.IndexNodeByKey(key, model.MacroNode{
				PathItemKey: key,
				NgeID:       -itemIndex,
				Labels:      []string{},
				PositionX:   (indexed % s.GridColumns) * s.GridSpacing,
				PositionY:   indexed / s.GridColumns,
			})
			indexed++
		}
	}
}

// buildOpQueries collects one search query per distinct operational
// point reference across all schedules. Track-offset items are skipped;
// they reference no operational point and keep their empty node.
func (s *Session) buildOpQueries() []model.OpQuery {
	seen := map[model.OpQuery]bool{}
	var queries []model.OpQuery
	for _, ts := range s.TrainSchedules {
		for _, item := range ts.Path {
			var q model.OpQuery
			switch loc := item.Location.(type) {
			case model.UICLocation:
				q = model.OpQuery{UIC: loc.UIC, SecondaryCode: loc.SecondaryCode}
			case model.TrigramLocation:
				q = model.OpQuery{Trigram: loc.Trigram, SecondaryCode: loc.SecondaryCode}
			case model.OperationalPointLocation:
				q = model.OpQuery{ObjID: loc.OperationalPoint}
			default:
				continue
			}
			if seen[q] {
				continue
			}
			seen[q] = true
			queries = append(queries, q)
		}
	}
	return queries
}

// enrichFromSearch resolves names, trigrams and geocoordinates for the
// indexed nodes. Every key a search result could satisfy is updated
// with the same data; existing nodes only.
func (s *Session) enrichFromSearch(ctx context.Context) error {
	queries := s.buildOpQueries()
	if len(queries) == 0 {
		return nil
	}

	var results []model.OperationalPoint
	for page := 1; ; page++ {
		pageResults, err := s.Search.SearchOperationalPoints(ctx, queries, page, s.PageSize)
		if err != nil {
			return fmt.Errorf("searching operational points (page %d): %w", page, err)
		}
		metrics.SearchPages.Inc()
		results = append(results, pageResults...)
		if len(pageResults) < s.PageSize {
			break
		}
	}

	for _, op := range results {
		trigram := op.Trigram
		if op.Ch != "" {
			trigram += "/" + op.Ch
		}
		geo := op.Geographic
		patch := model.NodePatch{
			FullName: &op.Name,
			Trigram:  &trigram,
			Geocoord: &geo,
		}
		for _, key := range PathKeysForOp(op) {
			s.store.UpdateNodeDataByKey(key, patch)
		}
	}
	return nil
}

// reconcileSavedNodes merges previously persisted nodes into the store
// and deletes the ones whose train schedule no longer exists. Orphan
// deletion is best effort: a failure is logged and does not block the
// remaining orphans.
func (s *Session) reconcileSavedNodes(ctx context.Context) error {
	var saved []model.MacroNode
	for page := 1; ; page++ {
		nodePage, err := s.Nodes.ListNodes(ctx, page, s.PageSize)
		if err != nil {
			return fmt.Errorf("listing saved nodes (page %d): %w", page, err)
		}
		saved = append(saved, nodePage.Results...)
		if nodePage.Next == nil {
			break
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, n := range saved {
		if s.store.GetNodeByKey(n.PathItemKey) != nil {
			patch := model.NodePatch{
				PathItemKey:    &n.PathItemKey,
				DBID:           &n.DBID,
				ConnectionTime: &n.ConnectionTime,
				PositionX:      &n.PositionX,
				PositionY:      &n.PositionY,
				Labels:         n.Labels,
			}
			if n.Trigram != "" {
				patch.Trigram = &n.Trigram
			}
			if n.FullName != "" {
				patch.FullName = &n.FullName
			}
			s.store.UpdateNodeDataByKey(n.PathItemKey, patch)
			continue
		}
		n := n
		g.Go(func() error {
			if err := s.Nodes.DeleteNode(gctx, n.DBID); err != nil {
				s.logf("macro: deleting orphan node %d (%s): %v", n.DBID, n.PathItemKey, err)
				return nil
			}
			metrics.OrphanNodesDeleted.Inc()
			return nil
		})
	}
	return g.Wait()
}

// referencedNodes resolves every path item to its canonical stored
// node, in first-seen key order.
func (s *Session) referencedNodes() []*model.MacroNode {
	seen := map[string]bool{}
	var nodes []*model.MacroNode
	for _, ts := range s.TrainSchedules {
		for _, item := range ts.Path {
			key := PathKey(item.Location)
			if seen[key] {
				continue
			}
			seen[key] = true
			if node := s.store.GetNodeByKey(key); node != nil {
				nodes = append(nodes, node)
			}
		}
	}
	return nodes
}

// applyLayout maps the geocoordinates of unsaved nodes onto the canvas,
// with padding on all sides and the latitude axis inverted so north is
// up. Saved nodes keep the position a previous session gave them. A
// zero-width or zero-height bounding box (one node, or colinear nodes)
// falls back to a span of 1 to avoid dividing by zero.
func (s *Session) applyLayout() {
	nodes := s.referencedNodes()

	var bound orb.Bound
	first := true
	for _, n := range nodes {
		if n.Geocoord == nil {
			continue
		}
		if first {
			bound = orb.Bound{Min: *n.Geocoord, Max: *n.Geocoord}
			first = false
		} else {
			bound = bound.Extend(*n.Geocoord)
		}
	}
	if first {
		return
	}

	width := bound.Max[0] - bound.Min[0]
	if width == 0 {
		width = 1
	}
	height := bound.Max[1] - bound.Min[1]
	if height == 0 {
		height = 1
	}

	for _, n := range nodes {
		if n.Saved() || n.Geocoord == nil {
			continue
		}
		normX := (n.Geocoord.Lon() - bound.Min[0]) / width
		normY := 1 - (n.Geocoord.Lat()-bound.Min[1])/height
		padX := normX*(1-2*s.Padding) + s.Padding
		padY := normY*(1-2*s.Padding) + s.Padding
		x := int(math.Round(float64(s.CanvasWidth) * padX))
		y := int(math.Round(float64(s.CanvasHeight) * padY))
		s.store.UpdateNodeDataByKey(n.PathItemKey, model.NodePatch{
			PositionX: &x,
			PositionY: &y,
		})
	}
}

// ngeResourceID is the single capacity resource every document carries.
const ngeResourceID = 1

func (s *Session) castNode(node *model.MacroNode) nge.Node {
	labelIDs := []int{}
	for _, l := range node.Labels {
		if i := s.store.nodeLabels.indexOf(l); i >= 0 {
			labelIDs = append(labelIDs, i)
		}
	}
	return nge.Node{
		ID:                          node.NgeID,
		BetriebspunktName:           node.Trigram,
		FullName:                    node.FullName,
		PositionX:                   node.PositionX,
		PositionY:                   node.PositionY,
		Ports:                       []nge.Port{},
		Transitions:                 []nge.Transition{},
		Connections:                 []any{},
		ResourceID:                  ngeResourceID,
		Perronkanten:                10,
		ConnectionTime:              node.ConnectionTime,
		TrainrunCategoryHaltezeiten: nge.DefaultHaltezeiten,
		Warnings:                    []any{},
		LabelIDs:                    labelIDs,
	}
}

// trainrunLabelID maps a trainrun label to its document id. Trainrun
// labels come after the node labels in the label table.
func (s *Session) trainrunLabelID(label string) int {
	i := s.store.trainrunLabels.indexOf(label)
	if i < 0 {
		return -1
	}
	return len(s.store.NodeLabels()) + i
}

func (s *Session) assembleDocument() *nge.Document {
	labels := []nge.Label{}
	for i, l := range s.store.NodeLabels() {
		labels = append(labels, nge.Label{
			ID:           i,
			Label:        l,
			LabelGroupID: nge.NodeLabelGroup.ID,
			LabelRef:     nge.NodeLabelGroup.LabelRef,
		})
	}
	for _, l := range s.store.TrainrunLabels() {
		labels = append(labels, nge.Label{
			ID:           s.trainrunLabelID(l),
			Label:        l,
			LabelGroupID: nge.TrainrunLabelGroup.ID,
			LabelRef:     nge.TrainrunLabelGroup.LabelRef,
		})
	}

	trainruns := []nge.Trainrun{}
	for _, ts := range s.TrainSchedules {
		// A trainrun needs an origin and a destination to form a
		// section.
		if len(ts.Path) < 2 {
			continue
		}
		labelIDs := []int{}
		for _, l := range ts.Labels {
			if id := s.trainrunLabelID(l); id >= 0 {
				labelIDs = append(labelIDs, id)
			}
		}
		trainruns = append(trainruns, nge.Trainrun{
			ID:                     int(ts.ID),
			Name:                   ts.TrainName,
			CategoryID:             nge.DefaultTrainrunCategory.ID,
			FrequencyID:            nge.DefaultTrainrunFrequency.ID,
			TrainrunTimeCategoryID: nge.DefaultTrainrunTimeCategory.ID,
			LabelIDs:               labelIDs,
		})
	}

	sections, nodes := s.buildSections()

	return &nge.Document{
		Resources:        []nge.Resource{{ID: ngeResourceID, Capacity: len(s.TrainSchedules)}},
		Nodes:            nodes,
		Trainruns:        trainruns,
		TrainrunSections: sections,
		Metadata: nge.Metadata{
			NetzgrafikColors:       []any{},
			TrainrunCategories:     []nge.TrainrunCategory{nge.DefaultTrainrunCategory},
			TrainrunFrequencies:    nge.DefaultTrainrunFrequencies,
			TrainrunTimeCategories: []nge.TrainrunTimeCategory{nge.DefaultTrainrunTimeCategory},
		},
		FreeFloatingTexts: []any{},
		Labels:            labels,
		LabelGroups:       []nge.LabelGroup{nge.NodeLabelGroup, nge.TrainrunLabelGroup},
		FilterData:        nge.FilterData{FilterSettings: []any{}},
	}
}

// buildSections walks each schedule's path pairwise, emitting one
// section per pair with a port on each endpoint node, and a transition
// wherever two consecutive sections share a node. Building the inverse
// of the section-reordering pass: the transitions written here are what
// the event handler later follows to reconstruct path order.
func (s *Session) buildSections() ([]nge.TrainrunSection, []nge.Node) {
	portID := 1
	newPort := func(sectionID int) nge.Port {
		p := nge.Port{ID: portID, TrainrunSectionID: sectionID, PositionAlignment: nge.PortAlignmentTop}
		portID++
		return p
	}

	transitionID := 1
	newTransition := func(port1, port2 int, nonStop bool) nge.Transition {
		t := nge.Transition{ID: transitionID, Port1ID: port1, Port2ID: port2, IsNonStopTransit: nonStop}
		transitionID++
		return t
	}

	nodeByKey := map[string]*nge.Node{}
	var nodeOrder []string
	nodeFor := func(key string) *nge.Node {
		if n, ok := nodeByKey[key]; ok {
			return n
		}
		n := s.castNode(s.store.GetNodeByKey(key))
		nodeByKey[key] = &n
		nodeOrder = append(nodeOrder, key)
		return &n
	}

	sections := []nge.TrainrunSection{}
	sectionID := 0
	for _, ts := range s.TrainSchedules {
		if len(ts.Path) < 2 {
			continue
		}

		// Resolve each path item to its canonical node key; the
		// dedup pass may have redirected the derived key.
		pathKeys := make([]string, len(ts.Path))
		for i, item := range ts.Path {
			pathKeys[i] = s.store.GetNodeByKey(PathKey(item.Location)).PathItemKey
		}

		entryFor := func(itemID string) *model.ScheduleEntry {
			for i := range ts.Schedule {
				if ts.Schedule[i].At == itemID {
					return &ts.Schedule[i]
				}
			}
			return nil
		}

		startTime := ts.StartTime.Truncate(time.Minute)
		timeLock := func(t time.Time) nge.TimeLock {
			return nge.NewTimeLock(float64(t.Minute()), t.Sub(startTime).Minutes())
		}

		prevTargetPortID := -1
		for i := 0; i+1 < len(ts.Path); i++ {
			sourceNode := nodeFor(pathKeys[i])
			targetNode := nodeFor(pathKeys[i+1])

			sourcePort := newPort(sectionID)
			sourceNode.Ports = append(sourceNode.Ports, sourcePort)
			targetPort := newPort(sectionID)
			targetNode.Ports = append(targetNode.Ports, targetPort)

			sourceEntry := entryFor(ts.Path[i].ID)
			targetEntry := entryFor(ts.Path[i+1].ID)

			if prevTargetPortID >= 0 {
				nonStop := sourceEntry == nil || sourceEntry.StopFor == nil || sourceEntry.StopFor.Duration == 0
				sourceNode.Transitions = append(sourceNode.Transitions,
					newTransition(prevTargetPortID, sourcePort.ID, nonStop))
			}
			prevTargetPortID = targetPort.ID

			sourceDeparture := nge.EmptyTimeLock()
			if i == 0 {
				sourceDeparture = timeLock(startTime)
			} else if sourceEntry != nil && sourceEntry.Arrival != nil {
				departure := startTime.Add(sourceEntry.Arrival.Duration)
				if sourceEntry.StopFor != nil {
					departure = departure.Add(sourceEntry.StopFor.Duration)
				}
				sourceDeparture = timeLock(departure)
			}

			targetArrival := nge.EmptyTimeLock()
			if targetEntry != nil && targetEntry.Arrival != nil {
				targetArrival = timeLock(startTime.Add(targetEntry.Arrival.Duration))
			}

			travelTime := nge.EmptyTimeLock()
			if targetArrival.ConsecutiveTime != nil && sourceDeparture.ConsecutiveTime != nil {
				d := *targetArrival.ConsecutiveTime - *sourceDeparture.ConsecutiveTime
				travelTime = nge.NewTimeLock(d, d)
			}

			sections = append(sections, nge.TrainrunSection{
				ID:              sectionID,
				SourceNodeID:    sourceNode.ID,
				SourcePortID:    sourcePort.ID,
				TargetNodeID:    targetNode.ID,
				TargetPortID:    targetPort.ID,
				TravelTime:      travelTime,
				SourceDeparture: sourceDeparture,
				SourceArrival:   nge.EmptyTimeLock(),
				TargetDeparture: nge.EmptyTimeLock(),
				TargetArrival:   targetArrival,
				TrainrunID:      int(ts.ID),
				ResourceID:      ngeResourceID,
				Path:            nge.SectionPath{Path: []any{}, TextPositions: []any{}},
				Warnings:        []any{},
			})
			sectionID++
		}
	}

	nodes := make([]nge.Node, 0, len(nodeOrder))
	for _, key := range nodeOrder {
		nodes = append(nodes, *nodeByKey[key])
	}
	return sections, nodes
}
