package cluster

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Role is a neighbor's position relative to this node.
type Role string

const (
	RoleMaster Role = "master"
	RoleParent Role = "parent"
	RoleChild  Role = "child"
)

// ErrInvalidTopology is wrapped by every topology validation failure.
var ErrInvalidTopology = errors.New("invalid topology")

// Neighbor is a directly reachable directory node.
type Neighbor struct {
	Name string `json:"name" yaml:"name" validate:"required"`
	URL  string `json:"url" yaml:"url" validate:"required,url"`
	Role Role   `json:"role" yaml:"role" validate:"required,oneof=master parent child"`
}

// Shortcut routes requests for Target through the child named Via.
type Shortcut struct {
	Target string `json:"target" yaml:"target" validate:"required"`
	Via    string `json:"via" yaml:"via" validate:"required"`
}

// Topology is a node's immutable view of its neighborhood.
type Topology struct {
	self      string
	neighbors []Neighbor
	byName    map[string]Neighbor
	shortcuts map[string]string
	order     []string // shortcut targets in input order
	parent    *Neighbor
	master    *Neighbor
	children  []Neighbor
	childURLs map[string]string
}

// NewTopology validates the neighborhood and builds the lookup tables.
//
// Rules: names are unique and differ from self, at most one parent and one
// master, and every shortcut resolves (possibly through other shortcuts) to
// a child without cycles.
func NewTopology(self string, neighbors []Neighbor, shortcuts []Shortcut) (*Topology, error) {
	if strings.TrimSpace(self) == "" {
		return nil, fmt.Errorf("%w: node name is required", ErrInvalidTopology)
	}
	t := &Topology{
		self:      self,
		byName:    make(map[string]Neighbor, len(neighbors)),
		shortcuts: make(map[string]string, len(shortcuts)),
		childURLs: make(map[string]string),
	}

	for _, n := range neighbors {
		if n.Name == "" || n.URL == "" {
			return nil, fmt.Errorf("%w: neighbor needs a name and url", ErrInvalidTopology)
		}
		if n.Name == self {
			return nil, fmt.Errorf("%w: neighbor %q has this node's name", ErrInvalidTopology, n.Name)
		}
		if _, dup := t.byName[n.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate neighbor %q", ErrInvalidTopology, n.Name)
		}
		n.URL = strings.TrimRight(n.URL, "/")
		switch n.Role {
		case RoleParent:
			if t.parent != nil {
				return nil, fmt.Errorf("%w: more than one parent", ErrInvalidTopology)
			}
			p := n
			t.parent = &p
		case RoleMaster:
			if t.master != nil {
				return nil, fmt.Errorf("%w: more than one master", ErrInvalidTopology)
			}
			m := n
			t.master = &m
		case RoleChild:
			t.children = append(t.children, n)
			t.childURLs[n.Name] = n.URL
		default:
			return nil, fmt.Errorf("%w: neighbor %q has unknown role %q", ErrInvalidTopology, n.Name, n.Role)
		}
		t.byName[n.Name] = n
		t.neighbors = append(t.neighbors, n)
	}

	for _, s := range shortcuts {
		if s.Target == "" || s.Via == "" {
			return nil, fmt.Errorf("%w: shortcut needs a target and via", ErrInvalidTopology)
		}
		if _, dup := t.shortcuts[s.Target]; dup {
			return nil, fmt.Errorf("%w: duplicate shortcut for %q", ErrInvalidTopology, s.Target)
		}
		t.shortcuts[s.Target] = s.Via
		t.order = append(t.order, s.Target)
	}
	for _, target := range t.order {
		child, err := t.resolveShortcut(target)
		if err != nil {
			return nil, err
		}
		if _, direct := t.childURLs[target]; !direct {
			t.childURLs[target] = child.URL
		}
	}
	return t, nil
}

// resolveShortcut follows a shortcut chain to the child that serves target.
func (t *Topology) resolveShortcut(target string) (Neighbor, error) {
	seen := map[string]bool{target: true}
	via := t.shortcuts[target]
	for {
		if n, ok := t.byName[via]; ok {
			if n.Role != RoleChild {
				return Neighbor{}, fmt.Errorf("%w: shortcut %q goes through %s %q", ErrInvalidTopology, target, n.Role, via)
			}
			return n, nil
		}
		next, ok := t.shortcuts[via]
		if !ok {
			return Neighbor{}, fmt.Errorf("%w: shortcut %q names unknown neighbor %q", ErrInvalidTopology, target, via)
		}
		if seen[via] {
			return Neighbor{}, fmt.Errorf("%w: shortcut cycle through %q", ErrInvalidTopology, via)
		}
		seen[via] = true
		via = next
	}
}

// Self returns this node's name.
func (t *Topology) Self() string { return t.self }

// Parent returns the parent neighbor, if any.
func (t *Topology) Parent() (Neighbor, bool) {
	if t.parent == nil {
		return Neighbor{}, false
	}
	return *t.parent, true
}

// Master returns the master neighbor, if any.
func (t *Topology) Master() (Neighbor, bool) {
	if t.master == nil {
		return Neighbor{}, false
	}
	return *t.master, true
}

// Children returns the child neighbors in configuration order.
func (t *Topology) Children() []Neighbor {
	return append([]Neighbor(nil), t.children...)
}

// Neighbors returns every neighbor in configuration order.
func (t *Topology) Neighbors() []Neighbor {
	return append([]Neighbor(nil), t.neighbors...)
}

// Neighbor looks up a neighbor by name.
func (t *Topology) Neighbor(name string) (Neighbor, bool) {
	n, ok := t.byName[name]
	return n, ok
}

// Shortcut returns the child that serves target through a shortcut.
func (t *Topology) Shortcut(target string) (Neighbor, bool) {
	if _, ok := t.shortcuts[target]; !ok {
		return Neighbor{}, false
	}
	// validated in NewTopology
	n, err := t.resolveShortcut(target)
	return n, err == nil
}

// Shortcuts returns the configured shortcuts in configuration order.
func (t *Topology) Shortcuts() []Shortcut {
	out := make([]Shortcut, 0, len(t.order))
	for _, target := range t.order {
		out = append(out, Shortcut{Target: target, Via: t.shortcuts[target]})
	}
	return out
}

// ChildURL maps a descendant location to the base URL of the child that
// leads to it: direct children first, then shortcut targets.
func (t *Topology) ChildURL(location string) (string, bool) {
	u, ok := t.childURLs[location]
	return u, ok
}

// Snapshot is the JSON form served by the adjacent directory endpoint.
type Snapshot struct {
	Name      string     `json:"name"`
	Neighbors []Neighbor `json:"neighbors"`
	Shortcuts []Shortcut `json:"shortcuts"`
}

// Snapshot returns the topology contents.
func (t *Topology) Snapshot() Snapshot {
	return Snapshot{Name: t.self, Neighbors: t.Neighbors(), Shortcuts: t.Shortcuts()}
}

// DescendantNames returns every location reachable downward, sorted.
func (t *Topology) DescendantNames() []string {
	names := make([]string, 0, len(t.childURLs))
	for n := range t.childURLs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
