// Package thing defines the Thing Description record stored by every
// directory node.
//
// A Thing Description is an open-ended JSON document. The directory only
// inspects a handful of fields, so a Record lifts those out as typed fields
// (ID and Type) and keeps every other top-level attribute verbatim, in its
// original order, as raw JSON. Unknown IoT-schema fields therefore pass
// through register, relocate and push-up untouched.
//
// Accepted input aliases:
//
//	id:   "id", "thing_id"
//	type: "type", "@type", "thing_type"
//
// Output always uses "id" and "type". The replication counter ("publicity")
// is never part of the attribute map; a "publicity" key found in input is
// dropped and the counter travels next to the record instead.
package thing

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Limits enforced on the typed fields.
const (
	MaxIDLength   = 160
	MaxTypeLength = 20
)

// GeoPath is the dotted path holding a record's [lon, lat] coordinates.
const GeoPath = "properties.geo.coordinates"

// ErrInvalidRecord is wrapped by every decoding or validation failure.
var ErrInvalidRecord = errors.New("invalid thing description")

var (
	idKeys   = []string{"id", "thing_id"}
	typeKeys = []string{"type", "@type", "thing_type"}
	dropKeys = map[string]bool{"publicity": true, "_id": true}
)

var validate = validator.New()

// Attr is one pass-through attribute of a Record.
type Attr struct {
	Key   string
	Value json.RawMessage
}

// Record is a Thing Description with its well-known fields lifted out.
type Record struct {
	ID    string `validate:"required,max=160"`
	Type  string `validate:"required,max=20"`
	Attrs []Attr
}

// Validate checks the typed fields against the directory limits.
func (r Record) Validate() error {
	if err := validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: field %s failed %q", ErrInvalidRecord, strings.ToLower(fe.Field()), fe.Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return nil
}

// MarshalJSON writes id, type and then every attribute in input order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	writeField(&buf, "id", mustString(r.ID))
	buf.WriteByte(',')
	writeField(&buf, "type", mustString(r.Type))
	for _, a := range r.Attrs {
		buf.WriteByte(',')
		writeField(&buf, a.Key, a.Value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeField(buf *bytes.Buffer, key string, value []byte) {
	buf.Write(mustString(key))
	buf.WriteByte(':')
	if len(value) == 0 {
		buf.WriteString("null")
		return
	}
	buf.Write(value)
}

func mustString(s string) []byte {
	b, _ := json.Marshal(s)
	return b
}

// UnmarshalJSON decodes a JSON object, resolving the id and type aliases.
// The canonical key wins when several aliases are present.
func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("%w: expected a JSON object", ErrInvalidRecord)
	}

	fields := make(map[string]json.RawMessage)
	var attrs []Attr
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
		}
		key, _ := tok.(string)
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
		}
		switch {
		case contains(idKeys, key), contains(typeKeys, key):
			fields[key] = raw
		case dropKeys[key]:
		default:
			attrs = append(attrs, Attr{Key: key, Value: raw})
		}
	}

	id, err := pick(fields, idKeys)
	if err != nil {
		return err
	}
	typ, err := pick(fields, typeKeys)
	if err != nil {
		return err
	}
	*r = Record{ID: id, Type: typ, Attrs: attrs}
	return nil
}

func contains(keys []string, k string) bool {
	for _, c := range keys {
		if c == k {
			return true
		}
	}
	return false
}

func pick(fields map[string]json.RawMessage, keys []string) (string, error) {
	for _, k := range keys {
		raw, ok := fields[k]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("%w: %q must be a string", ErrInvalidRecord, k)
		}
		return strings.TrimSpace(s), nil
	}
	return "", nil
}

// Attr returns the raw value of a top-level attribute.
func (r Record) Attr(key string) (json.RawMessage, bool) {
	for _, a := range r.Attrs {
		if a.Key == key {
			return a.Value, true
		}
	}
	return nil, false
}

// ValueAt resolves a dotted path ("properties.geo.coordinates") against the
// record. "id" and "type" resolve to the typed fields. Numbers decode as
// json.Number.
func (r Record) ValueAt(path string) (any, bool) {
	parts := strings.Split(path, ".")
	switch parts[0] {
	case "id":
		return r.ID, len(parts) == 1
	case "type":
		return r.Type, len(parts) == 1
	}

	raw, ok := r.Attr(parts[0])
	if !ok {
		return nil, false
	}
	var cur any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&cur); err != nil {
		return nil, false
	}
	for _, p := range parts[1:] {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = obj[p]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	out := Record{ID: r.ID, Type: r.Type}
	if r.Attrs != nil {
		out.Attrs = make([]Attr, len(r.Attrs))
		for i, a := range r.Attrs {
			out.Attrs[i] = Attr{Key: a.Key, Value: append(json.RawMessage(nil), a.Value...)}
		}
	}
	return out
}

// PeekID extracts the record id from an encoded record without decoding
// the rest of it. It is used when merging results returned by other nodes.
func PeekID(raw json.RawMessage) (string, bool) {
	var probe struct {
		ID      *string `json:"id"`
		ThingID *string `json:"thing_id"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return "", false
	}
	switch {
	case probe.ID != nil:
		return *probe.ID, true
	case probe.ThingID != nil:
		return *probe.ThingID, true
	}
	return "", false
}
