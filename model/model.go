package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/paulmach/orb"
)

// Holds all external facing types shared by the conversion engine and
// its collaborator services.

// A PathItemLocation addresses an operational point by one of several
// schemes. Exactly one variant is carried per path item.
type PathItemLocation interface {
	pathItemLocation()
}

// TrigramLocation references an operational point by its trigram, with
// an optional secondary code ("ch").
type TrigramLocation struct {
	Trigram       string
	SecondaryCode string
}

// OperationalPointLocation references an operational point by its
// internal object id.
type OperationalPointLocation struct {
	OperationalPoint string
}

// UICLocation references an operational point by UIC code, with an
// optional secondary code.
type UICLocation struct {
	UIC           int
	SecondaryCode string
}

// TrackOffsetLocation references a raw position on a track section, in
// millimeters. Used when a path item points at no operational point at
// all.
type TrackOffsetLocation struct {
	Track  string
	Offset int64
}

func (TrigramLocation) pathItemLocation()          {}
func (OperationalPointLocation) pathItemLocation() {}
func (UICLocation) pathItemLocation()              {}
func (TrackOffsetLocation) pathItemLocation()      {}

// PathItem is one waypoint of a train schedule's path.
type PathItem struct {
	ID       string
	Location PathItemLocation
}

// Wire shape of a path item. Several addressing fields can legally
// coexist on the wire; decoding picks one by priority.
type pathItemJSON struct {
	ID               string  `json:"id"`
	Trigram          *string `json:"trigram,omitempty"`
	SecondaryCode    string  `json:"secondary_code,omitempty"`
	OperationalPoint *string `json:"operational_point,omitempty"`
	UIC              *int    `json:"uic,omitempty"`
	Track            *string `json:"track,omitempty"`
	Offset           *int64  `json:"offset,omitempty"`
}

// UnmarshalJSON decodes a wire path item, resolving multi-field items
// by priority: trigram, then operational point, then UIC, then track
// offset.
func (p *PathItem) UnmarshalJSON(data []byte) error {
	var raw pathItemJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.ID = raw.ID
	switch {
	case raw.Trigram != nil:
		p.Location = TrigramLocation{Trigram: *raw.Trigram, SecondaryCode: raw.SecondaryCode}
	case raw.OperationalPoint != nil:
		p.Location = OperationalPointLocation{OperationalPoint: *raw.OperationalPoint}
	case raw.UIC != nil:
		p.Location = UICLocation{UIC: *raw.UIC, SecondaryCode: raw.SecondaryCode}
	case raw.Track != nil && raw.Offset != nil:
		p.Location = TrackOffsetLocation{Track: *raw.Track, Offset: *raw.Offset}
	default:
		return fmt.Errorf("path item %q has no location", raw.ID)
	}
	return nil
}

func (p PathItem) MarshalJSON() ([]byte, error) {
	raw := pathItemJSON{ID: p.ID}
	switch loc := p.Location.(type) {
	case TrigramLocation:
		raw.Trigram = &loc.Trigram
		raw.SecondaryCode = loc.SecondaryCode
	case OperationalPointLocation:
		raw.OperationalPoint = &loc.OperationalPoint
	case UICLocation:
		raw.UIC = &loc.UIC
		raw.SecondaryCode = loc.SecondaryCode
	case TrackOffsetLocation:
		raw.Track = &loc.Track
		raw.Offset = &loc.Offset
	case nil:
		return nil, fmt.Errorf("path item %q has no location", p.ID)
	}
	return json.Marshal(raw)
}

// ScheduleEntry carries the timing constraints of one path item.
// Arrival is relative to the schedule's start time. A nil StopFor means
// the train passes through without stopping.
type ScheduleEntry struct {
	At      string    `json:"at"`
	Arrival *Duration `json:"arrival,omitempty"`
	StopFor *Duration `json:"stop_for,omitempty"`
}

// Margin ranges reference path item ids, which a path rebuild
// invalidates, so updates through the conversion engine clear them.
type Margins struct {
	Boundaries []string `json:"boundaries"`
	Values     []string `json:"values"`
}

// TrainSchedule is one train as persisted by the timetable service.
type TrainSchedule struct {
	ID                     int64           `json:"id"`
	TrainName              string          `json:"train_name"`
	StartTime              time.Time       `json:"start_time"`
	Path                   []PathItem      `json:"path"`
	Schedule               []ScheduleEntry `json:"schedule,omitempty"`
	Labels                 []string        `json:"labels,omitempty"`
	Margins                *Margins        `json:"margins,omitempty"`
	ConstraintDistribution string          `json:"constraint_distribution"`
	RollingStockName       string          `json:"rolling_stock_name"`
}

// TrainScheduleUpsert is the payload for creating or replacing a train
// schedule.
type TrainScheduleUpsert struct {
	TrainName              string          `json:"train_name"`
	StartTime              time.Time       `json:"start_time"`
	Path                   []PathItem      `json:"path"`
	Schedule               []ScheduleEntry `json:"schedule,omitempty"`
	Labels                 []string        `json:"labels,omitempty"`
	Margins                *Margins        `json:"margins,omitempty"`
	ConstraintDistribution string          `json:"constraint_distribution"`
	RollingStockName       string          `json:"rolling_stock_name"`
}

// MacroNode is one operational point as tracked by the conversion
// engine. NgeID is the identity assigned by the graph engine, stable
// within one editing session only. DBID is the persistence identity; 0
// means the node only exists locally.
type MacroNode struct {
	PathItemKey    string
	NgeID          int
	DBID           int64
	Trigram        string
	FullName       string
	PositionX      int
	PositionY      int
	ConnectionTime int
	Labels         []string
	Geocoord       *orb.Point
}

// Saved reports whether the node has been persisted.
func (n *MacroNode) Saved() bool { return n.DBID != 0 }

// NodePatch is a partial MacroNode update. Nil fields are left alone.
type NodePatch struct {
	PathItemKey    *string
	NgeID          *int
	DBID           *int64
	Trigram        *string
	FullName       *string
	PositionX      *int
	PositionY      *int
	ConnectionTime *int
	Labels         []string
	Geocoord       *orb.Point
}

// Apply shallow-merges the patch over the node.
func (p NodePatch) Apply(n *MacroNode) {
	if p.PathItemKey != nil {
		n.PathItemKey = *p.PathItemKey
	}
	if p.NgeID != nil {
		n.NgeID = *p.NgeID
	}
	if p.DBID != nil {
		n.DBID = *p.DBID
	}
	if p.Trigram != nil {
		n.Trigram = *p.Trigram
	}
	if p.FullName != nil {
		n.FullName = *p.FullName
	}
	if p.PositionX != nil {
		n.PositionX = *p.PositionX
	}
	if p.PositionY != nil {
		n.PositionY = *p.PositionY
	}
	if p.ConnectionTime != nil {
		n.ConnectionTime = *p.ConnectionTime
	}
	if p.Labels != nil {
		n.Labels = p.Labels
	}
	if p.Geocoord != nil {
		n.Geocoord = p.Geocoord
	}
}

// TrackSection is one track/position pair an operational point sits on.
type TrackSection struct {
	Track    string `csv:"track" json:"track"`
	Position int64  `csv:"position" json:"position"`
}

// OperationalPoint is one search result from the operational point
// registry.
type OperationalPoint struct {
	ObjID         string
	Name          string
	Trigram       string
	Ch            string
	UIC           int
	Geographic    orb.Point
	TrackSections []TrackSection
}

// OpQuery matches operational points by exactly one addressing scheme.
// SecondaryCode restricts trigram and UIC queries when non-empty.
type OpQuery struct {
	ObjID         string
	Trigram       string
	UIC           int
	SecondaryCode string
}

// Matches reports whether the operational point satisfies the query.
func (q OpQuery) Matches(op OperationalPoint) bool {
	switch {
	case q.ObjID != "":
		return op.ObjID == q.ObjID
	case q.Trigram != "":
		return op.Trigram == q.Trigram && (q.SecondaryCode == "" || op.Ch == q.SecondaryCode)
	case q.UIC != 0:
		return op.UIC == q.UIC && (q.SecondaryCode == "" || op.Ch == q.SecondaryCode)
	}
	return false
}

// ScenarioRef identifies the scenario an editing session operates on.
type ScenarioRef struct {
	ProjectID   int64
	StudyID     int64
	ScenarioID  int64
	InfraID     int64
	TimetableID int64
}

// NodePage is one page of persisted macro nodes. Next is nil on the
// last page.
type NodePage struct {
	Results []MacroNode
	Next    *int
}
