package nge

// Fixed metadata the graph editor requires in every document.

// DefaultTrainrunCategory matches the editor's built-in default
// category id.
var DefaultTrainrunCategory = TrainrunCategory{
	ID:           1,
	Order:        0,
	Name:         "Default",
	ShortName:    "",
	FachCategory: "HaltezeitUncategorized",
	ColorRef:     "EC",
}

// DefaultTrainrunFrequencies are the three frequencies every document
// carries. The editor's own default is the hourly one (id 3).
var DefaultTrainrunFrequencies = []TrainrunFrequency{
	{ID: 2, Order: 0, Frequency: 30, Offset: 0, Name: "Half-hourly", ShortName: "30", LinePatternRef: "30"},
	{ID: 3, Order: 1, Frequency: 60, Offset: 0, Name: "Hourly", ShortName: "60", LinePatternRef: "60"},
	{ID: 4, Order: 2, Frequency: 120, Offset: 0, Name: "Two-hourly", ShortName: "120", LinePatternRef: "120"},
}

var DefaultTrainrunFrequency = DefaultTrainrunFrequencies[1]

// DefaultTrainrunTimeCategory is the editor's 7-days/24-hours time
// category.
var DefaultTrainrunTimeCategory = TrainrunTimeCategory{
	ID:              0,
	Order:           0,
	Name:            "Default",
	ShortName:       "7/24",
	DayTimeInterval: []any{},
	Weekday:         []int{1, 2, 3, 4, 5, 6, 7},
	LinePatternRef:  "7/24",
}

// Label groups for the two label namespaces the converter maintains.
var (
	NodeLabelGroup     = LabelGroup{ID: 1, Name: "Node", LabelRef: "Node"}
	TrainrunLabelGroup = LabelGroup{ID: 2, Name: "Trainrun", LabelRef: "Trainrun"}
)

// DefaultHaltezeiten is attached to every node; the converter does not
// model per-category dwell times.
var DefaultHaltezeiten = map[string]HaltezeitEntry{
	"HaltezeitIPV":           {Haltezeit: 0, NoHalt: false},
	"HaltezeitA":             {Haltezeit: 0, NoHalt: false},
	"HaltezeitB":             {Haltezeit: 0, NoHalt: false},
	"HaltezeitC":             {Haltezeit: 0, NoHalt: false},
	"HaltezeitD":             {Haltezeit: 0, NoHalt: false},
	"HaltezeitUncategorized": {Haltezeit: 0, NoHalt: false},
}

// EmptyTimeLock is an unset time lock.
func EmptyTimeLock() TimeLock {
	return TimeLock{}
}

// NewTimeLock builds a set time lock from a minute-of-hour display time
// and a consecutive time in minutes since trainrun start.
func NewTimeLock(minuteOfHour, consecutive float64) TimeLock {
	return TimeLock{Time: &minuteOfHour, ConsecutiveTime: &consecutive}
}
