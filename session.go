// Package macro converts between the timetable service's train-schedule
// model and the Netzgrafik timetable-graph document edited by the
// external graph editor. A Session owns the conversion state for one
// editing session: the indexed node store, the mapping from
// session-local trainrun ids to persisted schedule ids, and the
// collaborator services.
package macro

import (
	"context"
	"errors"
	"log"

	"osrd.dev/macro/metrics"
	"osrd.dev/macro/model"
	"osrd.dev/macro/nge"
)

const (
	DefaultPageSize     = 100
	DefaultCanvasWidth  = 800
	DefaultCanvasHeight = 500
	DefaultPadding      = 0.1
	DefaultGridColumns  = 8
	DefaultGridSpacing  = 200
)

// Structural graph errors raised while reordering a trainrun's
// sections. They are fatal to the triggering edit event only; callers
// should log and skip the event rather than tear down the stream.
var (
	ErrMissingDepartureSection = errors.New("train run is missing departure section")
	ErrCycleDetected           = errors.New("cycle detected in train run")
	ErrNotContinuous           = errors.New("train run is not continuous")
)

// Searcher finds operational points matching any of the given queries.
// Results are paginated; callers loop until a short page comes back.
type Searcher interface {
	SearchOperationalPoints(ctx context.Context, queries []model.OpQuery, page, pageSize int) ([]model.OperationalPoint, error)
}

// NodeService persists macro nodes for one scenario.
type NodeService interface {
	CreateNode(ctx context.Context, node model.MacroNode) (model.MacroNode, error)
	UpdateNode(ctx context.Context, id int64, node model.MacroNode) error
	DeleteNode(ctx context.Context, id int64) error
	ListNodes(ctx context.Context, page, pageSize int) (model.NodePage, error)
}

// TimetableService manages train schedules for one timetable.
type TimetableService interface {
	CreateSchedules(ctx context.Context, payloads []model.TrainScheduleUpsert) ([]model.TrainSchedule, error)
	UpdateSchedule(ctx context.Context, id int64, payload model.TrainScheduleUpsert) (model.TrainSchedule, error)
	DeleteSchedules(ctx context.Context, ids []int64) error
	GetSchedule(ctx context.Context, id int64) (model.TrainSchedule, error)
}

// Session is one editing session against a scenario. It is not safe
// for concurrent use: BuildNetzgrafik and HandleEvent must not run
// simultaneously against the same session.
type Session struct {
	Scenario       model.ScenarioRef
	TrainSchedules []model.TrainSchedule

	Search    Searcher
	Nodes     NodeService
	Timetable TimetableService

	PageSize     int
	CanvasWidth  int
	CanvasHeight int
	Padding      float64
	GridColumns  int
	GridSpacing  int

	// Logf receives best-effort failure reports (reconciliation
	// cleanup, skipped events). Defaults to the stdlib logger.
	Logf func(format string, args ...any)

	// OnUpsertedSchedules and OnDeletedSchedules report schedule
	// mutations upward after the remote call succeeded. Either may
	// be nil.
	OnUpsertedSchedules func(schedules []model.TrainSchedule)
	OnDeletedSchedules  func(ids []int64)

	store *Store

	// Maps graph-editor trainrun ids to the schedule ids they were
	// persisted under. Graph ids are session-local; schedule ids
	// are not.
	createdTrainruns map[int]int64
}

func NewSession(
	scenario model.ScenarioRef,
	schedules []model.TrainSchedule,
	search Searcher,
	nodes NodeService,
	timetable TimetableService,
) *Session {
	return &Session{
		Scenario:       scenario,
		TrainSchedules: schedules,
		Search:         search,
		Nodes:          nodes,
		Timetable:      timetable,

		PageSize:     DefaultPageSize,
		CanvasWidth:  DefaultCanvasWidth,
		CanvasHeight: DefaultCanvasHeight,
		Padding:      DefaultPadding,
		GridColumns:  DefaultGridColumns,
		GridSpacing:  DefaultGridSpacing,

		Logf: log.Printf,

		store:            NewStore(),
		createdTrainruns: map[int]int64{},
	}
}

// Store exposes the session's node store, mainly for tests and
// diagnostics.
func (s *Session) Store() *Store { return s.store }

func (s *Session) logf(format string, args ...any) {
	if s.Logf != nil {
		s.Logf(format, args...)
	}
}

// EditEvent is one edit from the graph editor together with the full
// document it was applied to, which the handler needs for context
// lookups.
type EditEvent struct {
	Event    nge.Event
	Document *nge.Document
}

// Run consumes edit events one at a time until the channel closes or
// the context is cancelled. Event failures are logged and counted, not
// fatal: one bad trainrun must not take down the stream.
func (s *Session) Run(ctx context.Context, events <-chan EditEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := s.HandleEvent(ctx, ev.Event, ev.Document); err != nil {
				metrics.EventErrors.Inc()
				s.logf("macro: handling %s %s event: %v", ev.Event.ObjectType, ev.Event.Type, err)
			}
		}
	}
}
