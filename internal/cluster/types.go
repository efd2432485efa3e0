package cluster

import "encoding/json"

// Endpoint paths relative to a node's API prefix.
const (
	PathRegister        = "/register"
	PathSearch          = "/search"
	PathDelete          = "/delete"
	PathRelocate        = "/relocate"
	PathUpdateAggregate = "/update_aggregate"
	PathAdjacent        = "/adjacent_directory"
	PathCustomQuery     = "/custom_query"
)

// RegisterRequest is the body of a register call.
// TD stays raw so forwarding nodes pass unknown fields through untouched.
type RegisterRequest struct {
	TD        json.RawMessage `json:"td"`
	Location  string          `json:"location"`
	Publicity int             `json:"publicity"`
}

// AggregateUpdate names one (type, location) aggregation index entry.
type AggregateUpdate struct {
	ThingType string `json:"thing_type" form:"thing_type"`
	Location  string `json:"location" form:"location"`
}

// RelocateRequest is the body of a relocate call.
type RelocateRequest struct {
	ThingID string `json:"thing_id"`
	From    string `json:"from"`
	To      string `json:"to"`
}
