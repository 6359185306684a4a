package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Duration is a time span carried on the wire as an ISO 8601 duration
// ("PT8M30S"). Only the day/hour/minute/second designators are
// supported, which covers everything the timetable service emits.
type Duration struct {
	time.Duration
}

func NewDuration(d time.Duration) *Duration {
	return &Duration{d}
}

// ParseDuration parses an ISO 8601 duration.
func ParseDuration(s string) (Duration, error) {
	orig := s
	if !strings.HasPrefix(s, "P") {
		return Duration{}, fmt.Errorf("invalid ISO 8601 duration %q", orig)
	}
	s = s[1:]

	var datePart, timePart string
	if i := strings.IndexByte(s, 'T'); i >= 0 {
		datePart, timePart = s[:i], s[i+1:]
		if timePart == "" {
			return Duration{}, fmt.Errorf("invalid ISO 8601 duration %q", orig)
		}
	} else {
		datePart = s
	}
	if datePart == "" && timePart == "" {
		return Duration{}, fmt.Errorf("invalid ISO 8601 duration %q", orig)
	}

	var total time.Duration
	parse := func(part string, units map[byte]time.Duration) error {
		for part != "" {
			i := 0
			for i < len(part) && (part[i] == '.' || (part[i] >= '0' && part[i] <= '9')) {
				i++
			}
			if i == 0 || i == len(part) {
				return fmt.Errorf("invalid ISO 8601 duration %q", orig)
			}
			unit, ok := units[part[i]]
			if !ok {
				return fmt.Errorf("invalid ISO 8601 duration %q: unexpected designator %q", orig, part[i])
			}
			var value float64
			if _, err := fmt.Sscanf(part[:i], "%f", &value); err != nil {
				return fmt.Errorf("invalid ISO 8601 duration %q: %w", orig, err)
			}
			total += time.Duration(value * float64(unit))
			part = part[i+1:]
		}
		return nil
	}

	if err := parse(datePart, map[byte]time.Duration{'D': 24 * time.Hour}); err != nil {
		return Duration{}, err
	}
	if err := parse(timePart, map[byte]time.Duration{
		'H': time.Hour,
		'M': time.Minute,
		'S': time.Second,
	}); err != nil {
		return Duration{}, err
	}
	return Duration{total}, nil
}

// String formats the duration as ISO 8601. The zero duration is "P0D",
// matching what the timetable service emits for zero dwell.
func (d Duration) String() string {
	if d.Duration == 0 {
		return "P0D"
	}
	var b strings.Builder
	b.WriteString("PT")
	rest := d.Duration
	if h := rest / time.Hour; h > 0 {
		fmt.Fprintf(&b, "%dH", h)
		rest -= h * time.Hour
	}
	if m := rest / time.Minute; m > 0 {
		fmt.Fprintf(&b, "%dM", m)
		rest -= m * time.Minute
	}
	if s := rest.Seconds(); s > 0 {
		if s == float64(int64(s)) {
			fmt.Fprintf(&b, "%dS", int64(s))
		} else {
			fmt.Fprintf(&b, "%gS", s)
		}
	}
	return b.String()
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDuration(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
