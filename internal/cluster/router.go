package cluster

// RouteKind classifies a routing decision.
type RouteKind int

const (
	// RouteNone means the target is unknown and there is nobody to ask.
	RouteNone RouteKind = iota
	// RouteLocal means this node is the target.
	RouteLocal
	// RouteRemote means the request must be sent to Route.Neighbor.
	RouteRemote
)

func (k RouteKind) String() string {
	switch k {
	case RouteLocal:
		return "local"
	case RouteRemote:
		return "remote"
	default:
		return "none"
	}
}

// Route is the next hop for a target location.
type Route struct {
	Kind     RouteKind
	Neighbor Neighbor // set when Kind is RouteRemote
	Via      string   // "neighbor", "shortcut" or "parent" for remote routes
}

// URL joins the next hop's base URL with path.
func (r Route) URL(path string) string {
	return JoinURL(r.Neighbor.URL, path)
}

// Router decides where an operation for a target location executes.
type Router struct {
	topo *Topology
}

// NewRouter creates a router over an immutable topology.
func NewRouter(topo *Topology) *Router {
	return &Router{topo: topo}
}

// Topology returns the topology the router resolves against.
func (r *Router) Topology() *Topology { return r.topo }

// Resolve returns the next hop for target. First match wins: own name,
// a neighbor name, a shortcut, the parent. A root node that doesn't know the
// target returns RouteNone.
func (r *Router) Resolve(target string) Route {
	if target == r.topo.Self() {
		return Route{Kind: RouteLocal}
	}
	if n, ok := r.topo.Neighbor(target); ok {
		return Route{Kind: RouteRemote, Neighbor: n, Via: "neighbor"}
	}
	if n, ok := r.topo.Shortcut(target); ok {
		return Route{Kind: RouteRemote, Neighbor: n, Via: "shortcut"}
	}
	if p, ok := r.topo.Parent(); ok {
		return Route{Kind: RouteRemote, Neighbor: p, Via: "parent"}
	}
	return Route{Kind: RouteNone}
}
