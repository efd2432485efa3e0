// Package query implements the custom aggregation query: script parsing,
// translation of its filter into a store filter, extraction of per-record
// values, merging of child results and the final reduction.
//
// A script travels as JSON in the "data" query parameter:
//
//	{"operation": "AVG", "type": "bus", "data": "properties.speed",
//	 "location": "level2", "filter": {"polygon": [[-75,40.7],[-73,40.7],[-73,40.8]],
//	 "properties.line": 7}}
//
// Nodes answering on behalf of a parent receive "_sub_dir": true and reply
// with the compressed list of (id, value) pairs instead of a final result.
package query

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/dreamware/thingdir/internal/storage"
)

// Operations a script may request.
const (
	OpSum   = "SUM"
	OpAvg   = "AVG"
	OpMin   = "MIN"
	OpMax   = "MAX"
	OpCount = "COUNT"
)

// PolygonKey is the filter key holding a geo polygon.
const PolygonKey = "polygon"

// ErrInvalidScript is wrapped by every script parsing failure.
var ErrInvalidScript = errors.New("invalid query script")

var validate = validator.New()

// Script is a custom aggregation query.
type Script struct {
	Operation string                     `json:"operation" validate:"required,oneof=SUM AVG MIN MAX COUNT"`
	Type      string                     `json:"type" validate:"required"`
	Data      string                     `json:"data,omitempty" validate:"required_unless=Operation COUNT"`
	Location  string                     `json:"location,omitempty"`
	Filter    map[string]json.RawMessage `json:"filter,omitempty"`
	SubDir    bool                       `json:"_sub_dir,omitempty"`
}

// Parse decodes and validates a script. The operation is upper-cased and
// the type and location trimmed.
func Parse(raw string) (Script, error) {
	var s Script
	dec := json.NewDecoder(strings.NewReader(raw))
	if err := dec.Decode(&s); err != nil {
		return Script{}, fmt.Errorf("%w: %v", ErrInvalidScript, err)
	}
	s.Operation = strings.ToUpper(strings.TrimSpace(s.Operation))
	s.Type = strings.TrimSpace(s.Type)
	s.Location = strings.TrimSpace(s.Location)
	s.Data = strings.TrimSpace(s.Data)

	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return Script{}, fmt.Errorf("%w: field %s failed %q", ErrInvalidScript, strings.ToLower(verrs[0].Field()), verrs[0].Tag())
		}
		return Script{}, fmt.Errorf("%w: %v", ErrInvalidScript, err)
	}
	if _, err := s.StoreFilter(); err != nil {
		return Script{}, err
	}
	return s, nil
}

// Encode returns the script as the value of the "data" query parameter.
func (s Script) Encode() string {
	b, _ := json.Marshal(s)
	return string(b)
}

// StoreFilter translates the script's type and filter into a store filter.
// "polygon" becomes a geo predicate on the record coordinates; every other
// key is a dotted-path equality constraint.
func (s Script) StoreFilter() (storage.Filter, error) {
	f := storage.Filter{Type: s.Type}
	for key, raw := range s.Filter {
		if key == PolygonKey {
			var points [][2]float64
			if err := json.Unmarshal(raw, &points); err != nil {
				return storage.Filter{}, fmt.Errorf("%w: polygon must be a list of [lon, lat] pairs", ErrInvalidScript)
			}
			poly, err := storage.NewPolygon(points)
			if err != nil {
				return storage.Filter{}, fmt.Errorf("%w: %v", ErrInvalidScript, err)
			}
			f.Polygon = poly
			continue
		}
		var v any
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&v); err != nil {
			return storage.Filter{}, fmt.Errorf("%w: filter %q: %v", ErrInvalidScript, key, err)
		}
		if f.Equals == nil {
			f.Equals = make(map[string]any)
		}
		f.Equals[key] = v
	}
	return f, nil
}
