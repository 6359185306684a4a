package search

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/paulmach/orb"
	"github.com/pkg/errors"
	"github.com/spkg/bom"

	"osrd.dev/macro/model"
)

// operationalPointCSV is one row of an operational-point export.
// track_sections packs track/position pairs as "track@position"
// separated by semicolons.
type operationalPointCSV struct {
	ObjID         string  `csv:"obj_id"`
	Name          string  `csv:"name"`
	Trigram       string  `csv:"trigram"`
	Ch            string  `csv:"ch"`
	UIC           int     `csv:"uic"`
	Lon           float64 `csv:"lon"`
	Lat           float64 `csv:"lat"`
	TrackSections string  `csv:"track_sections"`
}

// CSVRegistry answers operational-point searches from a CSV export
// loaded once at construction.
type CSVRegistry struct {
	points []model.OperationalPoint
}

func NewCSVRegistry(path string) (*CSVRegistry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening registry: %w", err)
	}
	defer f.Close()
	return NewCSVRegistryFromReader(f)
}

func NewCSVRegistryFromReader(r io.Reader) (*CSVRegistry, error) {
	// LazyCSVReader survives sloppy quoting; the BOM reader strips
	// unicode BOMs if present.
	gocsv.SetCSVReader(func(in io.Reader) gocsv.CSVReader {
		return gocsv.LazyCSVReader(bom.NewReader(in))
	})

	rows := []*operationalPointCSV{}
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, errors.Wrap(err, "unmarshaling operational points csv")
	}

	points := make([]model.OperationalPoint, 0, len(rows))
	for _, row := range rows {
		if row.ObjID == "" {
			return nil, errors.Errorf("empty obj_id for operational point %q", row.Name)
		}
		tracks, err := parseTrackSections(row.TrackSections)
		if err != nil {
			return nil, errors.Wrapf(err, "operational point %q", row.ObjID)
		}
		points = append(points, model.OperationalPoint{
			ObjID:         row.ObjID,
			Name:          row.Name,
			Trigram:       row.Trigram,
			Ch:            row.Ch,
			UIC:           row.UIC,
			Geographic:    orb.Point{row.Lon, row.Lat},
			TrackSections: tracks,
		})
	}
	return &CSVRegistry{points: points}, nil
}

func parseTrackSections(packed string) ([]model.TrackSection, error) {
	if packed == "" {
		return nil, nil
	}
	var sections []model.TrackSection
	for _, part := range strings.Split(packed, ";") {
		track, pos, ok := strings.Cut(part, "@")
		if !ok {
			return nil, errors.Errorf("malformed track section %q", part)
		}
		var position int64
		if _, err := fmt.Sscanf(pos, "%d", &position); err != nil {
			return nil, errors.Wrapf(err, "malformed track position %q", pos)
		}
		sections = append(sections, model.TrackSection{Track: track, Position: position})
	}
	return sections, nil
}

func (r *CSVRegistry) SearchOperationalPoints(ctx context.Context, queries []model.OpQuery, page, pageSize int) ([]model.OperationalPoint, error) {
	matched := []model.OperationalPoint{}
	for _, op := range r.points {
		if matchAny(queries, op) {
			matched = append(matched, op)
		}
	}
	return paginate(matched, page, pageSize), nil
}

// Len returns the number of registry entries.
func (r *CSVRegistry) Len() int { return len(r.points) }
