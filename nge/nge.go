// Package nge holds the wire types of the Netzgrafik timetable-graph
// document produced for, and edited by, the external graph editor.
package nge

// TimeLock is the graph editor's timestamp representation. Time is the
// minute-of-hour shown on screen; ConsecutiveTime is minutes since the
// trainrun's start and is the field all duration arithmetic uses.
type TimeLock struct {
	Time            *float64 `json:"time"`
	ConsecutiveTime *float64 `json:"consecutiveTime"`
	Lock            bool     `json:"lock"`
	Warning         *string  `json:"warning"`
	TimeFormatter   *string  `json:"timeFormatter"`
}

type PortAlignment int

const (
	PortAlignmentTop PortAlignment = iota
	PortAlignmentBottom
	PortAlignmentLeft
	PortAlignmentRight
)

// Port attaches one end of a trainrun section to a node.
type Port struct {
	ID                int           `json:"id"`
	TrainrunSectionID int           `json:"trainrunSectionId"`
	PositionIndex     int           `json:"positionIndex"`
	PositionAlignment PortAlignment `json:"positionAlignment"`
}

// Transition links two ports of the same node, chaining two sections of
// a trainrun together. IsNonStopTransit marks a pass-through with no
// stop.
type Transition struct {
	ID               int  `json:"id"`
	Port1ID          int  `json:"port1Id"`
	Port2ID          int  `json:"port2Id"`
	IsNonStopTransit bool `json:"isNonStopTransit"`
}

type HaltezeitEntry struct {
	Haltezeit int  `json:"haltezeit"`
	NoHalt    bool `json:"no_halt"`
}

// Node is one operational point on the graph canvas.
type Node struct {
	ID                          int                       `json:"id"`
	BetriebspunktName           string                    `json:"betriebspunktName"`
	FullName                    string                    `json:"fullName"`
	PositionX                   int                       `json:"positionX"`
	PositionY                   int                       `json:"positionY"`
	Ports                       []Port                    `json:"ports"`
	Transitions                 []Transition              `json:"transitions"`
	Connections                 []any                     `json:"connections"`
	ResourceID                  int                       `json:"resourceId"`
	Perronkanten                int                       `json:"perronkanten"`
	ConnectionTime              int                       `json:"connectionTime"`
	TrainrunCategoryHaltezeiten map[string]HaltezeitEntry `json:"trainrunCategoryHaltezeiten"`
	SymmetryAxis                int                       `json:"symmetryAxis"`
	Warnings                    []any                     `json:"warnings"`
	LabelIDs                    []int                     `json:"labelIds"`
}

// Trainrun is one train's journey, a chain of sections.
type Trainrun struct {
	ID                     int    `json:"id"`
	Name                   string `json:"name"`
	CategoryID             int    `json:"categoryId"`
	FrequencyID            int    `json:"frequencyId"`
	TrainrunTimeCategoryID int    `json:"trainrunTimeCategoryId"`
	LabelIDs               []int  `json:"labelIds"`
}

type SectionPath struct {
	Path          []any `json:"path"`
	TextPositions []any `json:"textPositions"`
}

// TrainrunSection is a directed edge between two node ports.
type TrainrunSection struct {
	ID                                int         `json:"id"`
	SourceNodeID                      int         `json:"sourceNodeId"`
	SourcePortID                      int         `json:"sourcePortId"`
	TargetNodeID                      int         `json:"targetNodeId"`
	TargetPortID                      int         `json:"targetPortId"`
	TravelTime                        TimeLock    `json:"travelTime"`
	SourceDeparture                   TimeLock    `json:"sourceDeparture"`
	SourceArrival                     TimeLock    `json:"sourceArrival"`
	TargetDeparture                   TimeLock    `json:"targetDeparture"`
	TargetArrival                     TimeLock    `json:"targetArrival"`
	NumberOfStops                     int         `json:"numberOfStops"`
	TrainrunID                        int         `json:"trainrunId"`
	ResourceID                        int         `json:"resourceId"`
	Path                              SectionPath `json:"path"`
	SpecificTrainrunSectionFrequencyID int        `json:"specificTrainrunSectionFrequencyId"`
	Warnings                          []any       `json:"warnings"`
}

type Label struct {
	ID           int    `json:"id"`
	Label        string `json:"label"`
	LabelGroupID int    `json:"labelGroupId"`
	LabelRef     string `json:"labelRef"`
}

type LabelGroup struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	LabelRef string `json:"labelRef"`
}

type Resource struct {
	ID       int `json:"id"`
	Capacity int `json:"capacity"`
}

type TrainrunCategory struct {
	ID                    int    `json:"id"`
	Order                 int    `json:"order"`
	Name                  string `json:"name"`
	ShortName             string `json:"shortName"`
	FachCategory          string `json:"fachCategory"`
	ColorRef              string `json:"colorRef"`
	MinimalTurnaroundTime int    `json:"minimalTurnaroundTime"`
	NodeHeadwayStop       int    `json:"nodeHeadwayStop"`
	NodeHeadwayNonStop    int    `json:"nodeHeadwayNonStop"`
	SectionHeadway        int    `json:"sectionHeadway"`
}

type TrainrunFrequency struct {
	ID             int    `json:"id"`
	Order          int    `json:"order"`
	Frequency      int    `json:"frequency"`
	Offset         int    `json:"offset"`
	Name           string `json:"name"`
	ShortName      string `json:"shortName"`
	LinePatternRef string `json:"linePatternRef"`
}

type TrainrunTimeCategory struct {
	ID              int    `json:"id"`
	Order           int    `json:"order"`
	Name            string `json:"name"`
	ShortName       string `json:"shortName"`
	DayTimeInterval []any  `json:"dayTimeInterval"`
	Weekday         []int  `json:"weekday"`
	LinePatternRef  string `json:"linePatternRef"`
}

type Metadata struct {
	NetzgrafikColors       []any                  `json:"netzgrafikColors"`
	TrainrunCategories     []TrainrunCategory     `json:"trainrunCategories"`
	TrainrunFrequencies    []TrainrunFrequency    `json:"trainrunFrequencies"`
	TrainrunTimeCategories []TrainrunTimeCategory `json:"trainrunTimeCategories"`
}

type FilterData struct {
	FilterSettings []any `json:"filterSettings"`
}

// Document is the full Netzgrafik model the editor loads and edits.
type Document struct {
	Resources         []Resource        `json:"resources"`
	Nodes             []Node            `json:"nodes"`
	Trainruns         []Trainrun        `json:"trainruns"`
	TrainrunSections  []TrainrunSection `json:"trainrunSections"`
	Metadata          Metadata          `json:"metadata"`
	FreeFloatingTexts []any             `json:"freeFloatingTexts"`
	Labels            []Label           `json:"labels"`
	LabelGroups       []LabelGroup      `json:"labelGroups"`
	FilterData        FilterData        `json:"filterData"`
}

// NodeByID returns the document node with the given id, or nil.
func (d *Document) NodeByID(id int) *Node {
	for i := range d.Nodes {
		if d.Nodes[i].ID == id {
			return &d.Nodes[i]
		}
	}
	return nil
}

// LabelByID returns the document label with the given id, or nil.
func (d *Document) LabelByID(id int) *Label {
	for i := range d.Labels {
		if d.Labels[i].ID == id {
			return &d.Labels[i]
		}
	}
	return nil
}

// FrequencyByID returns the metadata frequency with the given id, or
// nil.
func (d *Document) FrequencyByID(id int) *TrainrunFrequency {
	for i := range d.Metadata.TrainrunFrequencies {
		if d.Metadata.TrainrunFrequencies[i].ID == id {
			return &d.Metadata.TrainrunFrequencies[i]
		}
	}
	return nil
}

// TransitionAtPort returns the node transition using the given port, or
// nil.
func (n *Node) TransitionAtPort(portID int) *Transition {
	for i := range n.Transitions {
		if n.Transitions[i].Port1ID == portID || n.Transitions[i].Port2ID == portID {
			return &n.Transitions[i]
		}
	}
	return nil
}

// EventObjectType discriminates edit event payloads.
type EventObjectType string

const (
	EventObjectNode     EventObjectType = "node"
	EventObjectTrainrun EventObjectType = "trainrun"
	EventObjectLabel    EventObjectType = "label"
)

// EventType is the kind of edit performed.
type EventType string

const (
	EventCreate EventType = "create"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

// Event is one discrete edit emitted by the graph editor. Exactly one
// of Node, Trainrun and Label is set, matching ObjectType.
type Event struct {
	ObjectType EventObjectType `json:"objectType"`
	Type       EventType       `json:"type"`
	Node       *Node           `json:"node,omitempty"`
	Trainrun   *Trainrun       `json:"trainrun,omitempty"`
	Label      *Label          `json:"label,omitempty"`
}
