package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/dreamware/thingdir/internal/thing"
)

// ErrInvalidFilter is returned when a filter can't be built from input.
var ErrInvalidFilter = errors.New("invalid filter")

// Filter selects records from a store. Zero fields don't constrain.
//
// Polygon restricts results to records whose thing.GeoPath coordinates
// ([lon, lat]) lie inside the ring. Equals maps dotted attribute paths to
// the exact value they must hold; numbers compare by value.
type Filter struct {
	Type    string
	Polygon orb.Polygon
	Equals  map[string]any
}

// NewPolygon builds a closed planar polygon from [lon, lat] pairs.
// At least three points are required.
func NewPolygon(points [][2]float64) (orb.Polygon, error) {
	if len(points) < 3 {
		return nil, fmt.Errorf("%w: polygon needs at least 3 points, got %d", ErrInvalidFilter, len(points))
	}
	ring := make(orb.Ring, 0, len(points)+1)
	for _, p := range points {
		ring = append(ring, orb.Point{p[0], p[1]})
	}
	if !ring.Closed() {
		ring = append(ring, ring[0])
	}
	return orb.Polygon{ring}, nil
}

// Match reports whether the entry satisfies every constraint.
func (f Filter) Match(e Entry) bool {
	if f.Type != "" && e.Record.Type != f.Type {
		return false
	}
	if len(f.Polygon) > 0 {
		pt, ok := coordinates(e.Record)
		if !ok || !planar.PolygonContains(f.Polygon, pt) {
			return false
		}
	}
	for path, want := range f.Equals {
		got, ok := e.Record.ValueAt(path)
		if !ok || !equalValues(got, want) {
			return false
		}
	}
	return true
}

func coordinates(r thing.Record) (orb.Point, bool) {
	v, ok := r.ValueAt(thing.GeoPath)
	if !ok {
		return orb.Point{}, false
	}
	pair, ok := v.([]any)
	if !ok || len(pair) != 2 {
		return orb.Point{}, false
	}
	lon, ok1 := toFloat(pair[0])
	lat, ok2 := toFloat(pair[1])
	if !ok1 || !ok2 {
		return orb.Point{}, false
	}
	return orb.Point{lon, lat}, true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func equalValues(got, want any) bool {
	if a, ok := toFloat(got); ok {
		b, ok := toFloat(want)
		return ok && a == b
	}
	ga, err1 := json.Marshal(got)
	wa, err2 := json.Marshal(want)
	return err1 == nil && err2 == nil && string(ga) == string(wa)
}
