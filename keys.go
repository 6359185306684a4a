package macro

import (
	"fmt"
	"strings"

	"osrd.dev/macro/model"
)

// PathKey derives the stable key identifying an operational-point
// reference inside a train path. Two path items addressing the same
// physical point through different schemes can collide on purpose; the
// dedup pass later merges what the keys alone cannot.
func PathKey(loc model.PathItemLocation) string {
	switch l := loc.(type) {
	case model.TrigramLocation:
		if l.SecondaryCode != "" {
			return fmt.Sprintf("trigram:%s/%s", l.Trigram, l.SecondaryCode)
		}
		return "trigram:" + l.Trigram
	case model.OperationalPointLocation:
		return "op_id:" + l.OperationalPoint
	case model.UICLocation:
		if l.SecondaryCode != "" {
			return fmt.Sprintf("uic:%d/%s", l.UIC, l.SecondaryCode)
		}
		return fmt.Sprintf("uic:%d", l.UIC)
	case model.TrackOffsetLocation:
		return fmt.Sprintf("track_offset:%s+%d", l.Track, l.Offset)
	}
	return ""
}

// PathKeysForOp lists every path key a search result could satisfy,
// highest weight first.
func PathKeysForOp(op model.OperationalPoint) []string {
	keys := []string{"op_id:" + op.ObjID}
	if op.Ch != "" {
		keys = append(keys, fmt.Sprintf("trigram:%s/%s", op.Trigram, op.Ch))
		keys = append(keys, fmt.Sprintf("uic:%d/%s", op.UIC, op.Ch))
	} else {
		keys = append(keys, "trigram:"+op.Trigram)
		keys = append(keys, fmt.Sprintf("uic:%d", op.UIC))
	}
	for _, ts := range op.TrackSections {
		keys = append(keys, fmt.Sprintf("track_offset:%s+%d", ts.Track, ts.Position))
	}
	return keys
}

// keySourcePriority orders path keys for the dedup pass: keys derived
// from object ids win over trigrams, which win over UICs.
func keySourcePriority(key string) int {
	switch {
	case strings.HasPrefix(key, "op_id:"):
		return 1
	case strings.HasPrefix(key, "trigram:"):
		return 2
	case strings.HasPrefix(key, "uic:"):
		return 3
	}
	return 4
}
