package macro

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"osrd.dev/macro/metrics"
	"osrd.dev/macro/model"
	"osrd.dev/macro/nge"
)

// Defaults for schedules created from scratch in the graph editor.
// TODO: take the rolling stock from the scenario once the editor can
// pick one.
var (
	defaultConstraintDistribution = "STANDARD"
	defaultScheduleStart          = time.Date(2024, 7, 15, 8, 0, 0, 0, time.FixedZone("CEST", 2*60*60))
)

// frequencyLabelRe matches the synthetic labels carrying a trainrun's
// non-default frequency across the schedule round-trip.
var frequencyLabelRe = regexp.MustCompile(`^frequency::(\d+)$`)

// HandleEvent replays one discrete edit from the graph editor as
// application-model mutations. The document is the full graph the
// editor held when emitting the event; it is only read.
//
// Events must be handled one at a time per session.
func (s *Session) HandleEvent(ctx context.Context, ev nge.Event, doc *nge.Document) error {
	metrics.EventsHandled.WithLabelValues(string(ev.ObjectType), string(ev.Type)).Inc()
	switch ev.ObjectType {
	case nge.EventObjectNode:
		return s.handleNodeEvent(ctx, ev.Type, ev.Node, doc)
	case nge.EventObjectTrainrun:
		return s.handleTrainrunEvent(ctx, ev.Type, ev.Trainrun, doc)
	case nge.EventObjectLabel:
		return s.handleLabelEvent(ctx, ev.Type, ev.Label, doc)
	}
	return nil
}

func (s *Session) handleNodeEvent(ctx context.Context, typ nge.EventType, node *nge.Node, doc *nge.Document) error {
	if node == nil {
		return nil
	}
	switch typ {
	case nge.EventCreate, nge.EventUpdate:
		return s.upsertNode(ctx, node, doc)
	case nge.EventDelete:
		return s.deleteNode(ctx, node)
	}
	return nil
}

// nodeLabels resolves a graph node's label ids to their text.
func nodeLabels(node *nge.Node, doc *nge.Document) []string {
	labels := []string{}
	for _, id := range node.LabelIDs {
		if l := doc.LabelByID(id); l != nil {
			labels = append(labels, l.Label)
		}
	}
	return labels
}

func (s *Session) upsertNode(ctx context.Context, node *nge.Node, doc *nge.Document) error {
	indexed := s.store.GetNodeByNgeID(node.ID)

	if indexed == nil {
		// The node originates in the graph editor and has no
		// local record yet; its display name is taken to be a
		// trigram.
		created := model.MacroNode{
			PathItemKey:    "trigram:" + node.BetriebspunktName,
			NgeID:          node.ID,
			Trigram:        node.BetriebspunktName,
			FullName:       node.FullName,
			PositionX:      node.PositionX,
			PositionY:      node.PositionY,
			ConnectionTime: node.ConnectionTime,
			Labels:         nodeLabels(node, doc),
		}
		saved, err := s.Nodes.CreateNode(ctx, created)
		if err != nil {
			return fmt.Errorf("creating node %d: %w", node.ID, err)
		}
		saved.NgeID = node.ID
		s.store.IndexNodeByKey(saved.PathItemKey, saved)
		return nil
	}

	merged := *indexed
	// A trigram-based key tracks the display name: renaming the
	// node in the editor rebuilds the key from the new trigram.
	if strings.HasPrefix(merged.PathItemKey, "trigram:") && merged.Trigram != node.BetriebspunktName {
		merged.PathItemKey = "trigram:" + node.BetriebspunktName
	}
	merged.Trigram = node.BetriebspunktName
	merged.FullName = node.FullName
	merged.PositionX = node.PositionX
	merged.PositionY = node.PositionY
	merged.ConnectionTime = node.ConnectionTime
	merged.Labels = nodeLabels(node, doc)

	if indexed.Saved() {
		if err := s.Nodes.UpdateNode(ctx, indexed.DBID, merged); err != nil {
			return fmt.Errorf("updating node %d: %w", indexed.DBID, err)
		}
		// Re-index only after the remote call succeeded, so a
		// failure leaves the store untouched.
		s.store.IndexNodeByKey(indexed.PathItemKey, merged)
		return nil
	}

	saved, err := s.Nodes.CreateNode(ctx, merged)
	if err != nil {
		return fmt.Errorf("creating node %d: %w", node.ID, err)
	}
	saved.NgeID = node.ID
	s.store.IndexNodeByKey(indexed.PathItemKey, saved)
	return nil
}

func (s *Session) deleteNode(ctx context.Context, node *nge.Node) error {
	indexed := s.store.GetNodeByNgeID(node.ID)
	if indexed == nil {
		return nil
	}
	if indexed.Saved() {
		if err := s.Nodes.DeleteNode(ctx, indexed.DBID); err != nil {
			return fmt.Errorf("deleting node %d: %w", indexed.DBID, err)
		}
	}
	s.store.DeleteNodeByNgeID(node.ID)
	return nil
}

func (s *Session) handleTrainrunEvent(ctx context.Context, typ nge.EventType, trainrun *nge.Trainrun, doc *nge.Document) error {
	if trainrun == nil {
		return nil
	}
	switch typ {
	case nge.EventCreate:
		sections, err := orderSections(doc, trainrun.ID)
		if err != nil {
			return errors.Wrapf(err, "reordering sections of trainrun %d", trainrun.ID)
		}
		payload, err := s.buildSchedulePayload(ctx, sections, doc, trainrun, defaultScheduleStart, nil)
		if err != nil {
			return err
		}
		payload.ConstraintDistribution = defaultConstraintDistribution
		created, err := s.Timetable.CreateSchedules(ctx, []model.TrainScheduleUpsert{payload})
		if err != nil {
			return fmt.Errorf("creating schedule for trainrun %d: %w", trainrun.ID, err)
		}
		s.createdTrainruns[trainrun.ID] = created[0].ID
		if s.OnUpsertedSchedules != nil {
			s.OnUpsertedSchedules(created)
		}
		return nil

	case nge.EventDelete:
		id := s.scheduleID(trainrun.ID)
		if err := s.Timetable.DeleteSchedules(ctx, []int64{id}); err != nil {
			return fmt.Errorf("deleting schedule %d: %w", id, err)
		}
		delete(s.createdTrainruns, trainrun.ID)
		if s.OnDeletedSchedules != nil {
			s.OnDeletedSchedules([]int64{id})
		}
		return nil

	case nge.EventUpdate:
		sections, err := orderSections(doc, trainrun.ID)
		if err != nil {
			return errors.Wrapf(err, "reordering sections of trainrun %d", trainrun.ID)
		}
		id := s.scheduleID(trainrun.ID)
		existing, err := s.Timetable.GetSchedule(ctx, id)
		if err != nil {
			return fmt.Errorf("fetching schedule %d: %w", id, err)
		}
		// The rebuilt payload keeps the existing schedule's start
		// date; margins are cleared because they reference path
		// item ids the rebuilt path invalidates.
		payload, err := s.buildSchedulePayload(ctx, sections, doc, trainrun, existing.StartTime, existing.Labels)
		if err != nil {
			return err
		}
		payload.ConstraintDistribution = existing.ConstraintDistribution
		payload.RollingStockName = existing.RollingStockName
		updated, err := s.Timetable.UpdateSchedule(ctx, id, payload)
		if err != nil {
			return fmt.Errorf("updating schedule %d: %w", id, err)
		}
		if s.OnUpsertedSchedules != nil {
			s.OnUpsertedSchedules([]model.TrainSchedule{updated})
		}
		return nil
	}
	return nil
}

// scheduleID resolves a graph trainrun id to its persisted schedule
// id. Trainruns the session did not create keep the graph id, which is
// then the schedule id the document was built from.
func (s *Session) scheduleID(trainrunID int) int64 {
	if id, ok := s.createdTrainruns[trainrunID]; ok {
		return id
	}
	return int64(trainrunID)
}

// handleLabelEvent propagates a label text change into every schedule
// whose trainrun references it. Creation and deletion need no handling
// here: they only matter once a trainrun references the label, which
// arrives as a trainrun update.
func (s *Session) handleLabelEvent(ctx context.Context, typ nge.EventType, label *nge.Label, doc *nge.Document) error {
	if typ != nge.EventUpdate || label == nil {
		return nil
	}
	for i := range doc.Trainruns {
		tr := &doc.Trainruns[i]
		referenced := false
		for _, id := range tr.LabelIDs {
			if id == label.ID {
				referenced = true
				break
			}
		}
		if !referenced {
			continue
		}
		if err := s.handleTrainrunEvent(ctx, nge.EventUpdate, tr, doc); err != nil {
			return errors.Wrapf(err, "propagating label %d to trainrun %d", label.ID, tr.ID)
		}
	}
	return nil
}

// orderSections reconstructs a trainrun's path order from its sections,
// which are stored in no particular order. Two subsequent sections are
// linked at a node by the first one's target port, a transition, and
// the second one's source port. The departure section is the one whose
// source port has no transition.
func orderSections(doc *nge.Document, trainrunID int) ([]nge.TrainrunSection, error) {
	var sections []nge.TrainrunSection
	for _, sec := range doc.TrainrunSections {
		if sec.TrainrunID == trainrunID {
			sections = append(sections, sec)
		}
	}

	var departure *nge.TrainrunSection
	byPrevTargetPortID := map[int]*nge.TrainrunSection{}
	for i := range sections {
		sec := &sections[i]
		sourceNode := doc.NodeByID(sec.SourceNodeID)
		if sourceNode == nil {
			return nil, fmt.Errorf("section %d references unknown node %d", sec.ID, sec.SourceNodeID)
		}
		transition := sourceNode.TransitionAtPort(sec.SourcePortID)
		if transition == nil {
			departure = sec
			continue
		}
		prevPortID := transition.Port1ID
		if prevPortID == sec.SourcePortID {
			prevPortID = transition.Port2ID
		}
		byPrevTargetPortID[prevPortID] = sec
	}
	if departure == nil {
		return nil, ErrMissingDepartureSection
	}

	ordered := []nge.TrainrunSection{*departure}
	seen := map[int]bool{departure.ID: true}
	for current := departure; ; {
		next, ok := byPrevTargetPortID[current.TargetPortID]
		if !ok {
			break
		}
		if seen[next.ID] {
			return nil, ErrCycleDetected
		}
		seen[next.ID] = true
		ordered = append(ordered, *next)
		current = next
	}

	// Seeing fewer sections than the trainrun owns means the run is
	// fragmented into disconnected parts.
	if len(ordered) != len(sections) {
		return nil, ErrNotContinuous
	}
	return ordered, nil
}

// buildSchedulePayload derives a train-schedule payload from ordered
// sections. prevLabels are the labels of the schedule being replaced,
// nil on creation.
func (s *Session) buildSchedulePayload(
	ctx context.Context,
	sections []nge.TrainrunSection,
	doc *nge.Document,
	trainrun *nge.Trainrun,
	startTime time.Time,
	prevLabels []string,
) (model.TrainScheduleUpsert, error) {
	chCache := map[string]string{}

	var path []model.PathItem
	for i := range sections {
		sec := &sections[i]
		sourceNode := doc.NodeByID(sec.SourceNodeID)
		targetNode := doc.NodeByID(sec.TargetNodeID)
		if sourceNode == nil || targetNode == nil {
			continue
		}
		origin, err := s.pathItemFromNode(ctx, sourceNode, i, chCache)
		if err != nil {
			return model.TrainScheduleUpsert{}, err
		}
		path = append(path, origin)
		if i == len(sections)-1 {
			destination, err := s.pathItemFromNode(ctx, targetNode, i, chCache)
			if err != nil {
				return model.TrainScheduleUpsert{}, err
			}
			path = append(path, destination)
		}
	}

	schedule := buildScheduleEntries(sections, doc, path)

	return model.TrainScheduleUpsert{
		TrainName:        trainrun.Name,
		StartTime:        startTime,
		Path:             path,
		Schedule:         schedule,
		Labels:           mergeTrainrunLabels(doc, trainrun, prevLabels),
		RollingStockName: "",
	}, nil
}

// pathItemFromNode derives a trigram path item from a graph node. A
// display name "TRG/CH" carries its secondary code; a bare trigram gets
// one resolved through search, preferring BV, then 00, then an
// operational point with no code at all, mirroring how the timetable
// service resolves bare references.
func (s *Session) pathItemFromNode(ctx context.Context, node *nge.Node, index int, chCache map[string]string) (model.PathItem, error) {
	trigram, secondaryCode, explicit := strings.Cut(node.BetriebspunktName, "/")
	if !explicit || secondaryCode == "" {
		secondaryCode = s.resolveSecondaryCode(ctx, trigram, chCache)
	}
	return model.PathItem{
		ID:       fmt.Sprintf("%d-%d", node.ID, index),
		Location: model.TrigramLocation{Trigram: trigram, SecondaryCode: secondaryCode},
	}, nil
}

func (s *Session) resolveSecondaryCode(ctx context.Context, trigram string, cache map[string]string) string {
	if ch, ok := cache[trigram]; ok {
		return ch
	}
	ch := "BV"
	results, err := s.Search.SearchOperationalPoints(ctx,
		[]model.OpQuery{{Trigram: trigram}}, 1, s.PageSize)
	if err != nil {
		s.logf("macro: resolving secondary code for %s: %v", trigram, err)
	} else {
		for _, preferred := range []string{"BV", "00", ""} {
			found := false
			for _, op := range results {
				if op.Ch == preferred {
					ch = op.Ch
					found = true
					break
				}
			}
			if found {
				break
			}
		}
	}
	cache[trigram] = ch
	return ch
}

// buildScheduleEntries derives per-node timing from the sections' time
// locks. Node j's arrival comes from section j-1's target time lock,
// measured from the first section's source departure; its stop duration
// is the gap until section j's source departure, unless the transition
// at the node is a non-stop transit. An entry is only emitted when at
// least one of arrival and departure is known; a missing arrival
// defaults to the departure (zero dwell).
func buildScheduleEntries(sections []nge.TrainrunSection, doc *nge.Document, path []model.PathItem) []model.ScheduleEntry {
	if len(sections) == 0 || len(path) != len(sections)+1 {
		return nil
	}
	origin := sections[0].SourceDeparture.ConsecutiveTime
	if origin == nil {
		return nil
	}

	var schedule []model.ScheduleEntry
	for j := 1; j <= len(sections); j++ {
		arrival := sections[j-1].TargetArrival.ConsecutiveTime

		var departure *float64
		nonStop := false
		if j < len(sections) {
			departure = sections[j].SourceDeparture.ConsecutiveTime
			if node := doc.NodeByID(sections[j].SourceNodeID); node != nil {
				if tr := node.TransitionAtPort(sections[j].SourcePortID); tr != nil {
					nonStop = tr.IsNonStopTransit
				}
			}
		}

		if arrival == nil && departure == nil {
			continue
		}
		if arrival == nil {
			arrival = departure
		}

		entry := model.ScheduleEntry{
			At:      path[j].ID,
			Arrival: model.NewDuration(minutesToDuration(*arrival - *origin)),
		}
		if departure != nil && !nonStop {
			if stop := *departure - *arrival; stop > 0 {
				entry.StopFor = model.NewDuration(minutesToDuration(stop))
			}
		}
		schedule = append(schedule, entry)
	}
	return schedule
}

func minutesToDuration(minutes float64) time.Duration {
	return time.Duration(minutes * float64(time.Minute))
}

// mergeTrainrunLabels builds the label list of a rebuilt schedule: the
// trainrun's own non-frequency labels, a synthesized frequency label
// when a non-default frequency is set, and any frequency label carried
// by the previous schedule whose value is not one of the reserved
// defaults (those would duplicate the frequency metadata).
func mergeTrainrunLabels(doc *nge.Document, trainrun *nge.Trainrun, prevLabels []string) []string {
	labels := []string{}
	seen := map[string]bool{}
	add := func(l string) {
		if !seen[l] {
			seen[l] = true
			labels = append(labels, l)
		}
	}

	for _, id := range trainrun.LabelIDs {
		if l := doc.LabelByID(id); l != nil && !frequencyLabelRe.MatchString(l.Label) {
			add(l.Label)
		}
	}

	if freq := doc.FrequencyByID(trainrun.FrequencyID); freq != nil && !defaultFrequency(freq.Frequency) {
		add(fmt.Sprintf("frequency::%d", freq.Frequency))
	}

	for _, l := range prevLabels {
		m := frequencyLabelRe.FindStringSubmatch(l)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil || defaultFrequency(n) {
			continue
		}
		add(l)
	}
	return labels
}

func defaultFrequency(n int) bool {
	return n == 30 || n == 60 || n == 120
}
