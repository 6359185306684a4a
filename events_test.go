package macro

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"osrd.dev/macro/model"
	"osrd.dev/macro/nge"
	"osrd.dev/macro/storage"
	"osrd.dev/macro/timetable"
)

func nodeEvent(typ nge.EventType, node *nge.Node) nge.Event {
	return nge.Event{ObjectType: nge.EventObjectNode, Type: typ, Node: node}
}

func trainrunEvent(typ nge.EventType, tr *nge.Trainrun) nge.Event {
	return nge.Event{ObjectType: nge.EventObjectTrainrun, Type: typ, Trainrun: tr}
}

func TestHandleNodeCreateUpdateDelete(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemoryStorage(testScenario)
	s := NewSession(testScenario, nil, testSearcher(), st, timetable.NewMemory())
	s.Logf = func(format string, args ...any) {}

	doc := &nge.Document{
		Labels: []nge.Label{{ID: 0, Label: "hub", LabelGroupID: nge.NodeLabelGroup.ID}},
	}

	err := s.HandleEvent(ctx, nodeEvent(nge.EventCreate, &nge.Node{
		ID:                42,
		BetriebspunktName: "ABC",
		FullName:          "Abc Station",
		PositionX:         10,
		PositionY:         20,
		ConnectionTime:    4,
		LabelIDs:          []int{0},
	}), doc)
	require.NoError(t, err)

	node := s.Store().GetNodeByNgeID(42)
	require.NotNil(t, node)
	assert.Equal(t, "trigram:ABC", node.PathItemKey)
	assert.True(t, node.Saved())
	assert.Equal(t, []string{"hub"}, node.Labels)

	page, err := st.ListNodes(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Results, 1)
	assert.Equal(t, "ABC", page.Results[0].Trigram)

	// Renaming the node in the editor rebuilds the trigram key.
	dbID := node.DBID
	err = s.HandleEvent(ctx, nodeEvent(nge.EventUpdate, &nge.Node{
		ID:                42,
		BetriebspunktName: "ABD",
		FullName:          "Abd Station",
		PositionX:         30,
		PositionY:         40,
	}), doc)
	require.NoError(t, err)

	assert.Nil(t, s.Store().GetNodeByKey("trigram:ABC"))
	node = s.Store().GetNodeByKey("trigram:ABD")
	require.NotNil(t, node)
	assert.Equal(t, dbID, node.DBID)
	assert.Equal(t, 30, node.PositionX)

	page, err = st.ListNodes(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Results, 1)
	assert.Equal(t, "trigram:ABD", page.Results[0].PathItemKey)

	err = s.HandleEvent(ctx, nodeEvent(nge.EventDelete, &nge.Node{ID: 42}), doc)
	require.NoError(t, err)
	assert.Nil(t, s.Store().GetNodeByNgeID(42))
	page, err = st.ListNodes(ctx, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, page.Results)

	// Deleting an unknown node is a no-op.
	err = s.HandleEvent(ctx, nodeEvent(nge.EventDelete, &nge.Node{ID: 42}), doc)
	require.NoError(t, err)
}

type failingNodes struct{}

func (failingNodes) CreateNode(ctx context.Context, node model.MacroNode) (model.MacroNode, error) {
	return model.MacroNode{}, fmt.Errorf("node service down")
}

func (failingNodes) UpdateNode(ctx context.Context, id int64, node model.MacroNode) error {
	return fmt.Errorf("node service down")
}

func (failingNodes) DeleteNode(ctx context.Context, id int64) error {
	return fmt.Errorf("node service down")
}

func (failingNodes) ListNodes(ctx context.Context, page, pageSize int) (model.NodePage, error) {
	return model.NodePage{}, fmt.Errorf("node service down")
}

func TestHandleNodeCreateRemoteFailure(t *testing.T) {
	s := NewSession(testScenario, nil, testSearcher(), failingNodes{}, timetable.NewMemory())
	s.Logf = func(format string, args ...any) {}

	err := s.HandleEvent(context.Background(), nodeEvent(nge.EventCreate, &nge.Node{
		ID:                42,
		BetriebspunktName: "ABC",
	}), &nge.Document{})
	require.Error(t, err)

	// The failed persist must leave the store untouched.
	assert.Nil(t, s.Store().GetNodeByNgeID(42))
	assert.Nil(t, s.Store().GetNodeByKey("trigram:ABC"))
}

func TestOrderSectionsReconstructsOrder(t *testing.T) {
	s := newTestSession(testSchedule())
	doc, err := s.BuildNetzgrafik(context.Background())
	require.NoError(t, err)

	// Sections arrive from the editor in no particular order.
	doc.TrainrunSections[0], doc.TrainrunSections[1] = doc.TrainrunSections[1], doc.TrainrunSections[0]

	ordered, err := orderSections(doc, 1)
	require.NoError(t, err)
	require.Len(t, ordered, 2)
	assert.Equal(t, -1, ordered[0].SourceNodeID)
	assert.Equal(t, -2, ordered[0].TargetNodeID)
	assert.Equal(t, -2, ordered[1].SourceNodeID)
	assert.Equal(t, -3, ordered[1].TargetNodeID)
}

func TestOrderSectionsMissingDeparture(t *testing.T) {
	// Two sections forming a closed loop: every source port has a
	// transition, so no section qualifies as the departure.
	doc := &nge.Document{
		Nodes: []nge.Node{
			{ID: 1, Transitions: []nge.Transition{{ID: 1, Port1ID: 4, Port2ID: 1}}},
			{ID: 2, Transitions: []nge.Transition{{ID: 2, Port1ID: 2, Port2ID: 3}}},
		},
		TrainrunSections: []nge.TrainrunSection{
			{ID: 10, TrainrunID: 7, SourceNodeID: 1, SourcePortID: 1, TargetNodeID: 2, TargetPortID: 2},
			{ID: 11, TrainrunID: 7, SourceNodeID: 2, SourcePortID: 3, TargetNodeID: 1, TargetPortID: 4},
		},
	}
	_, err := orderSections(doc, 7)
	assert.ErrorIs(t, err, ErrMissingDepartureSection)
}

func TestOrderSectionsCycle(t *testing.T) {
	// A departure exists but the chain folds back onto an already
	// visited section.
	doc := &nge.Document{
		Nodes: []nge.Node{
			{ID: 1},
			{ID: 2, Transitions: []nge.Transition{{ID: 1, Port1ID: 1, Port2ID: 2}}},
			{ID: 3, Transitions: []nge.Transition{{ID: 2, Port1ID: 3, Port2ID: 4}}},
		},
		TrainrunSections: []nge.TrainrunSection{
			{ID: 10, TrainrunID: 7, SourceNodeID: 1, SourcePortID: 0, TargetNodeID: 2, TargetPortID: 1},
			{ID: 11, TrainrunID: 7, SourceNodeID: 2, SourcePortID: 2, TargetNodeID: 3, TargetPortID: 3},
			{ID: 12, TrainrunID: 7, SourceNodeID: 3, SourcePortID: 4, TargetNodeID: 2, TargetPortID: 1},
		},
	}
	_, err := orderSections(doc, 7)
	assert.ErrorIs(t, err, ErrCycleDetected)
}

func TestOrderSectionsNotContinuous(t *testing.T) {
	// Two disconnected fragments.
	doc := &nge.Document{
		Nodes: []nge.Node{{ID: 1}, {ID: 2}, {ID: 3}, {ID: 4}},
		TrainrunSections: []nge.TrainrunSection{
			{ID: 10, TrainrunID: 7, SourceNodeID: 1, SourcePortID: 1, TargetNodeID: 2, TargetPortID: 2},
			{ID: 11, TrainrunID: 7, SourceNodeID: 3, SourcePortID: 3, TargetNodeID: 4, TargetPortID: 4},
		},
	}
	_, err := orderSections(doc, 7)
	assert.ErrorIs(t, err, ErrNotContinuous)
}

// editorDocument is a minimal graph as the editor would emit it: two
// stations and one fresh trainrun with a single timed section.
func editorDocument() *nge.Document {
	return &nge.Document{
		Nodes: []nge.Node{
			{ID: 1, BetriebspunktName: "NWS", Ports: []nge.Port{{ID: 1, TrainrunSectionID: 10}}},
			{ID: 2, BetriebspunktName: "SS", Ports: []nge.Port{{ID: 2, TrainrunSectionID: 10}}},
		},
		Trainruns: []nge.Trainrun{
			{ID: 7, Name: "Fresh", FrequencyID: nge.DefaultTrainrunFrequency.ID},
		},
		TrainrunSections: []nge.TrainrunSection{
			{
				ID: 10, TrainrunID: 7,
				SourceNodeID: 1, SourcePortID: 1,
				TargetNodeID: 2, TargetPortID: 2,
				SourceDeparture: nge.NewTimeLock(0, 0),
				TargetArrival:   nge.NewTimeLock(15, 15),
			},
		},
		Metadata: nge.Metadata{TrainrunFrequencies: nge.DefaultTrainrunFrequencies},
	}
}

func TestHandleTrainrunCreateUpdateDelete(t *testing.T) {
	ctx := context.Background()
	tt := timetable.NewMemory()
	s := NewSession(testScenario, nil, testSearcher(),
		storage.NewMemoryStorage(testScenario), tt)
	s.Logf = func(format string, args ...any) {}

	var upserted []model.TrainSchedule
	var deleted []int64
	s.OnUpsertedSchedules = func(schedules []model.TrainSchedule) { upserted = schedules }
	s.OnDeletedSchedules = func(ids []int64) { deleted = ids }

	doc := editorDocument()
	err := s.HandleEvent(ctx, trainrunEvent(nge.EventCreate, &doc.Trainruns[0]), doc)
	require.NoError(t, err)
	require.Len(t, upserted, 1)

	created, err := tt.GetSchedule(ctx, upserted[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "Fresh", created.TrainName)
	assert.Equal(t, "STANDARD", created.ConstraintDistribution)
	assert.False(t, created.StartTime.IsZero())

	require.Len(t, created.Path, 2)
	assert.Equal(t, "1-0", created.Path[0].ID)
	assert.Equal(t, model.TrigramLocation{Trigram: "NWS"}, created.Path[0].Location)
	assert.Equal(t, "2-0", created.Path[1].ID)
	assert.Equal(t, model.TrigramLocation{Trigram: "SS"}, created.Path[1].Location)

	require.Len(t, created.Schedule, 1)
	assert.Equal(t, "2-0", created.Schedule[0].At)
	assert.Equal(t, 15*time.Minute, created.Schedule[0].Arrival.Duration)
	assert.Nil(t, created.Schedule[0].StopFor)

	// Editor trainrun ids map to the persisted schedule; unknown ids
	// pass through as schedule ids.
	assert.Equal(t, created.ID, s.scheduleID(7))
	assert.Equal(t, int64(99), s.scheduleID(99))

	// An update with a non-default frequency synthesizes its carrier
	// label and keeps the creation-time start date.
	doc.Metadata.TrainrunFrequencies = append(doc.Metadata.TrainrunFrequencies,
		nge.TrainrunFrequency{ID: 9, Frequency: 45})
	doc.Trainruns[0].FrequencyID = 9
	err = s.HandleEvent(ctx, trainrunEvent(nge.EventUpdate, &doc.Trainruns[0]), doc)
	require.NoError(t, err)

	updated, err := tt.GetSchedule(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"frequency::45"}, updated.Labels)
	assert.True(t, updated.StartTime.Equal(created.StartTime))
	assert.Equal(t, "STANDARD", updated.ConstraintDistribution)

	err = s.HandleEvent(ctx, trainrunEvent(nge.EventDelete, &doc.Trainruns[0]), doc)
	require.NoError(t, err)
	assert.Equal(t, []int64{created.ID}, deleted)
	_, err = tt.GetSchedule(ctx, created.ID)
	assert.ErrorIs(t, err, timetable.ErrScheduleNotFound)
	assert.Equal(t, int64(7), s.scheduleID(7))
}

func TestHandleTrainrunUpdateRoundTrip(t *testing.T) {
	ctx := context.Background()
	schedule := testSchedule()
	tt := timetable.NewMemory(schedule)
	s := NewSession(testScenario, []model.TrainSchedule{schedule},
		testSearcher(), storage.NewMemoryStorage(testScenario), tt)
	s.Logf = func(format string, args ...any) {}

	doc, err := s.BuildNetzgrafik(ctx)
	require.NoError(t, err)

	// Replaying an unchanged trainrun must reproduce the schedule the
	// document was built from.
	err = s.HandleEvent(ctx, trainrunEvent(nge.EventUpdate, &doc.Trainruns[0]), doc)
	require.NoError(t, err)

	updated, err := tt.GetSchedule(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Express 1", updated.TrainName)
	assert.True(t, updated.StartTime.Equal(schedule.StartTime))
	assert.Equal(t, []string{"express"}, updated.Labels)

	require.Len(t, updated.Path, 3)
	assert.Equal(t, model.TrigramLocation{Trigram: "NWS"}, updated.Path[0].Location)
	assert.Equal(t, model.TrigramLocation{Trigram: "MWS"}, updated.Path[1].Location)
	assert.Equal(t, model.TrigramLocation{Trigram: "SS"}, updated.Path[2].Location)

	require.Len(t, updated.Schedule, 2)
	assert.Equal(t, updated.Path[1].ID, updated.Schedule[0].At)
	assert.Equal(t, 10*time.Minute, updated.Schedule[0].Arrival.Duration)
	require.NotNil(t, updated.Schedule[0].StopFor)
	assert.Equal(t, 3*time.Minute, updated.Schedule[0].StopFor.Duration)
	assert.Equal(t, updated.Path[2].ID, updated.Schedule[1].At)
	assert.Equal(t, 20*time.Minute, updated.Schedule[1].Arrival.Duration)
	assert.Nil(t, updated.Schedule[1].StopFor)
}

func TestHandleLabelUpdateFanOut(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2024, 7, 15, 8, 0, 0, 0, time.UTC)
	tt := timetable.NewMemory(
		model.TrainSchedule{ID: 1, TrainName: "S1", StartTime: start, Labels: []string{"old1"}},
		model.TrainSchedule{ID: 2, TrainName: "S2", StartTime: start, Labels: []string{"old2"}},
	)
	s := NewSession(testScenario, nil, testSearcher(),
		storage.NewMemoryStorage(testScenario), tt)
	s.Logf = func(format string, args ...any) {}

	doc := &nge.Document{
		Nodes: []nge.Node{
			{ID: 1, BetriebspunktName: "NWS", Ports: []nge.Port{{ID: 1}, {ID: 3}}},
			{ID: 2, BetriebspunktName: "SS", Ports: []nge.Port{{ID: 2}, {ID: 4}}},
		},
		Trainruns: []nge.Trainrun{
			{ID: 1, Name: "S1", FrequencyID: nge.DefaultTrainrunFrequency.ID, LabelIDs: []int{0}},
			{ID: 2, Name: "S2", FrequencyID: nge.DefaultTrainrunFrequency.ID},
		},
		TrainrunSections: []nge.TrainrunSection{
			{
				ID: 10, TrainrunID: 1,
				SourceNodeID: 1, SourcePortID: 1, TargetNodeID: 2, TargetPortID: 2,
				SourceDeparture: nge.NewTimeLock(0, 0), TargetArrival: nge.NewTimeLock(5, 5),
			},
			{
				ID: 11, TrainrunID: 2,
				SourceNodeID: 1, SourcePortID: 3, TargetNodeID: 2, TargetPortID: 4,
				SourceDeparture: nge.NewTimeLock(0, 0), TargetArrival: nge.NewTimeLock(5, 5),
			},
		},
		Labels:   []nge.Label{{ID: 0, Label: "renamed", LabelGroupID: nge.TrainrunLabelGroup.ID}},
		Metadata: nge.Metadata{TrainrunFrequencies: nge.DefaultTrainrunFrequencies},
	}

	err := s.HandleEvent(ctx, nge.Event{
		ObjectType: nge.EventObjectLabel,
		Type:       nge.EventUpdate,
		Label:      &doc.Labels[0],
	}, doc)
	require.NoError(t, err)

	// Only the schedule whose trainrun carries the label is rebuilt.
	s1, err := tt.GetSchedule(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"renamed"}, s1.Labels)

	s2, err := tt.GetSchedule(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"old2"}, s2.Labels)
}

func TestMergeTrainrunLabels(t *testing.T) {
	doc := &nge.Document{
		Labels: []nge.Label{
			{ID: 0, Label: "express"},
			{ID: 1, Label: "frequency::45"},
		},
		Metadata: nge.Metadata{
			TrainrunFrequencies: append(nge.DefaultTrainrunFrequencies,
				nge.TrainrunFrequency{ID: 9, Frequency: 45}),
		},
	}
	trainrun := &nge.Trainrun{ID: 1, FrequencyID: 9, LabelIDs: []int{0, 1}}

	// The frequency label on the trainrun is dropped and synthesized
	// back from the actual frequency; previous non-default frequency
	// labels survive, reserved ones do not.
	labels := mergeTrainrunLabels(doc, trainrun,
		[]string{"frequency::90", "frequency::60", "other"})
	assert.Equal(t, []string{"express", "frequency::45", "frequency::90"}, labels)

	// A default frequency synthesizes nothing.
	trainrun.FrequencyID = nge.DefaultTrainrunFrequency.ID
	labels = mergeTrainrunLabels(doc, trainrun, nil)
	assert.Equal(t, []string{"express"}, labels)
}

func TestBuildScheduleEntriesNonStopTransit(t *testing.T) {
	doc := &nge.Document{
		Nodes: []nge.Node{
			{ID: 1},
			{ID: 2, Transitions: []nge.Transition{{ID: 1, Port1ID: 2, Port2ID: 3, IsNonStopTransit: true}}},
			{ID: 3},
		},
	}
	sections := []nge.TrainrunSection{
		{
			ID: 10, SourceNodeID: 1, SourcePortID: 1, TargetNodeID: 2, TargetPortID: 2,
			SourceDeparture: nge.NewTimeLock(0, 0), TargetArrival: nge.NewTimeLock(10, 10),
		},
		{
			ID: 11, SourceNodeID: 2, SourcePortID: 3, TargetNodeID: 3, TargetPortID: 4,
			SourceDeparture: nge.NewTimeLock(13, 13), TargetArrival: nge.NewTimeLock(18, 18),
		},
	}
	path := []model.PathItem{{ID: "x"}, {ID: "y"}, {ID: "z"}}

	entries := buildScheduleEntries(sections, doc, path)
	require.Len(t, entries, 2)

	// A non-stop transit never gets a dwell, whatever the time gap.
	assert.Equal(t, "y", entries[0].At)
	assert.Equal(t, 10*time.Minute, entries[0].Arrival.Duration)
	assert.Nil(t, entries[0].StopFor)
	assert.Equal(t, "z", entries[1].At)
	assert.Equal(t, 18*time.Minute, entries[1].Arrival.Duration)
}

func TestBuildScheduleEntriesMissingArrival(t *testing.T) {
	doc := &nge.Document{Nodes: []nge.Node{{ID: 1}, {ID: 2}, {ID: 3}}}
	sections := []nge.TrainrunSection{
		{
			ID: 10, SourceNodeID: 1, SourcePortID: 1, TargetNodeID: 2, TargetPortID: 2,
			SourceDeparture: nge.NewTimeLock(0, 0), TargetArrival: nge.EmptyTimeLock(),
		},
		{
			ID: 11, SourceNodeID: 2, SourcePortID: 3, TargetNodeID: 3, TargetPortID: 4,
			SourceDeparture: nge.NewTimeLock(13, 13), TargetArrival: nge.EmptyTimeLock(),
		},
	}
	path := []model.PathItem{{ID: "x"}, {ID: "y"}, {ID: "z"}}

	entries := buildScheduleEntries(sections, doc, path)
	require.Len(t, entries, 1)

	// The middle arrival falls back to the next departure; the final
	// node has neither time and is skipped.
	assert.Equal(t, "y", entries[0].At)
	assert.Equal(t, 13*time.Minute, entries[0].Arrival.Duration)
	assert.Nil(t, entries[0].StopFor)
}

func TestSessionRun(t *testing.T) {
	st := storage.NewMemoryStorage(testScenario)
	s := NewSession(testScenario, nil, testSearcher(), st, timetable.NewMemory())

	var logged []string
	s.Logf = func(format string, args ...any) {
		logged = append(logged, fmt.Sprintf(format, args...))
	}

	events := make(chan EditEvent, 2)
	// A delete for a schedule that does not exist fails, but must not
	// stop the loop.
	events <- EditEvent{
		Event:    trainrunEvent(nge.EventDelete, &nge.Trainrun{ID: 5}),
		Document: &nge.Document{},
	}
	events <- EditEvent{
		Event:    nodeEvent(nge.EventCreate, &nge.Node{ID: 1, BetriebspunktName: "ABC"}),
		Document: &nge.Document{},
	}
	close(events)

	err := s.Run(context.Background(), events)
	require.NoError(t, err)
	assert.Len(t, logged, 1)
	assert.NotNil(t, s.Store().GetNodeByNgeID(1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = s.Run(ctx, make(chan EditEvent))
	assert.ErrorIs(t, err, context.Canceled)
}
