package query

import (
	"encoding/json"

	"github.com/dreamware/thingdir/internal/storage"
	"github.com/dreamware/thingdir/internal/thing"
)

// Unknown is the result of a non-COUNT aggregation over nothing.
const Unknown = "unknown"

// Pair is the compressed form of a record: its id and, except for COUNT,
// the numeric value at the script's data path.
type Pair struct {
	ID    string       `json:"id"`
	Value *json.Number `json:"_query_data,omitempty"`
}

// Result is the final answer of a top-level query.
type Result struct {
	Operation string `json:"operation"`
	Result    any    `json:"result"`
}

// Extract compresses stored entries. Records whose data path is missing or
// not numeric are dropped; COUNT keeps every id.
func Extract(s Script, entries []storage.Entry) []Pair {
	out := make([]Pair, 0, len(entries))
	for _, e := range entries {
		if s.Operation == OpCount {
			out = append(out, Pair{ID: e.Record.ID})
			continue
		}
		if v, ok := numberAt(e.Record, s.Data); ok {
			out = append(out, Pair{ID: e.Record.ID, Value: &v})
		}
	}
	return out
}

func numberAt(r thing.Record, path string) (json.Number, bool) {
	v, ok := r.ValueAt(path)
	if !ok {
		return "", false
	}
	n, ok := v.(json.Number)
	if !ok {
		return "", false
	}
	if _, err := n.Float64(); err != nil {
		return "", false
	}
	return n, true
}

// DecodePairs reads the compressed items returned by child nodes. Items
// without an id, or with a non-numeric value for a non-COUNT operation, are
// dropped. "thing_id" is accepted for the id.
func DecodePairs(op string, items []json.RawMessage) []Pair {
	out := make([]Pair, 0, len(items))
	for _, raw := range items {
		var item struct {
			ID      string       `json:"id"`
			ThingID string       `json:"thing_id"`
			Value   *json.Number `json:"_query_data"`
		}
		if err := json.Unmarshal(raw, &item); err != nil {
			continue
		}
		id := item.ID
		if id == "" {
			id = item.ThingID
		}
		if id == "" {
			continue
		}
		p := Pair{ID: id}
		if op != OpCount {
			if item.Value == nil {
				continue
			}
			if _, err := item.Value.Float64(); err != nil {
				continue
			}
			p.Value = item.Value
		}
		out = append(out, p)
	}
	return out
}

// Merge concatenates local and child pairs, keeping the first pair for each
// id. localIDs lists every local match, including those Extract dropped, so
// a local record shadows a child copy even when it holds no usable value.
func Merge(localIDs []string, local, children []Pair) []Pair {
	seen := make(map[string]bool, len(localIDs)+len(local)+len(children))
	for _, id := range localIDs {
		seen[id] = true
	}
	out := make([]Pair, 0, len(local)+len(children))
	for _, p := range local {
		out = append(out, p)
		seen[p.ID] = true
	}
	for _, p := range children {
		if seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		out = append(out, p)
	}
	return out
}

// Reduce computes the final result of a top-level query.
func Reduce(op string, pairs []Pair) Result {
	if op == OpCount {
		return Result{Operation: op, Result: len(pairs)}
	}
	if len(pairs) == 0 {
		return Result{Operation: op, Result: Unknown}
	}

	values := make([]float64, 0, len(pairs))
	for _, p := range pairs {
		if p.Value == nil {
			continue
		}
		if f, err := p.Value.Float64(); err == nil {
			values = append(values, f)
		}
	}
	if len(values) == 0 {
		return Result{Operation: op, Result: Unknown}
	}

	acc := values[0]
	switch op {
	case OpMin:
		for _, v := range values[1:] {
			if v < acc {
				acc = v
			}
		}
	case OpMax:
		for _, v := range values[1:] {
			if v > acc {
				acc = v
			}
		}
	case OpSum, OpAvg:
		for _, v := range values[1:] {
			acc += v
		}
		if op == OpAvg {
			acc /= float64(len(values))
		}
	}
	return Result{Operation: op, Result: acc}
}
