package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// level2 sits below level1 and above level3a/level3b; level4 hangs off
// level3a and is reached through a shortcut.
func level2Topology(t *testing.T) *Topology {
	t.Helper()
	topo, err := NewTopology("level2",
		[]Neighbor{
			{Name: "level1", URL: "http://l1:5001/api/", Role: RoleParent},
			{Name: "root", URL: "http://root:5000/api", Role: RoleMaster},
			{Name: "level3a", URL: "http://l3a:5003/api", Role: RoleChild},
			{Name: "level3b", URL: "http://l3b:5004/api", Role: RoleChild},
		},
		[]Shortcut{
			{Target: "level4", Via: "level3a"},
			{Target: "level5", Via: "level4"},
		})
	require.NoError(t, err)
	return topo
}

func TestNewTopology(t *testing.T) {
	topo := level2Topology(t)

	assert.Equal(t, "level2", topo.Self())

	p, ok := topo.Parent()
	require.True(t, ok)
	assert.Equal(t, "http://l1:5001/api", p.URL, "trailing slash trimmed")

	m, ok := topo.Master()
	require.True(t, ok)
	assert.Equal(t, "root", m.Name)

	children := topo.Children()
	require.Len(t, children, 2)
	assert.Equal(t, "level3a", children[0].Name)
	assert.Equal(t, "level3b", children[1].Name)

	assert.Equal(t, []Shortcut{{"level4", "level3a"}, {"level5", "level4"}}, topo.Shortcuts())
}

func TestTopologyChildURL(t *testing.T) {
	topo := level2Topology(t)

	tests := []struct {
		location string
		want     string
		ok       bool
	}{
		{"level3a", "http://l3a:5003/api", true},
		{"level3b", "http://l3b:5004/api", true},
		{"level4", "http://l3a:5003/api", true},
		{"level5", "http://l3a:5003/api", true},
		{"level1", "", false},
		{"elsewhere", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.location, func(t *testing.T) {
			got, ok := topo.ChildURL(tt.location)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Equal(t, []string{"level3a", "level3b", "level4", "level5"}, topo.DescendantNames())
}

func TestNewTopologyRejects(t *testing.T) {
	child := Neighbor{Name: "c", URL: "http://c", Role: RoleChild}
	tests := []struct {
		name      string
		self      string
		neighbors []Neighbor
		shortcuts []Shortcut
	}{
		{"empty self", "", nil, nil},
		{"two parents", "n", []Neighbor{
			{Name: "p1", URL: "http://p1", Role: RoleParent},
			{Name: "p2", URL: "http://p2", Role: RoleParent},
		}, nil},
		{"two masters", "n", []Neighbor{
			{Name: "m1", URL: "http://m1", Role: RoleMaster},
			{Name: "m2", URL: "http://m2", Role: RoleMaster},
		}, nil},
		{"duplicate name", "n", []Neighbor{child, child}, nil},
		{"neighbor named self", "c", []Neighbor{child}, nil},
		{"unknown role", "n", []Neighbor{{Name: "x", URL: "http://x", Role: "sibling"}}, nil},
		{"missing url", "n", []Neighbor{{Name: "x", Role: RoleChild}}, nil},
		{"shortcut via parent", "n", []Neighbor{{Name: "p", URL: "http://p", Role: RoleParent}},
			[]Shortcut{{Target: "t", Via: "p"}}},
		{"shortcut via nobody", "n", []Neighbor{child}, []Shortcut{{Target: "t", Via: "ghost"}}},
		{"shortcut cycle", "n", []Neighbor{child}, []Shortcut{{Target: "a", Via: "b"}, {Target: "b", Via: "a"}}},
		{"duplicate shortcut", "n", []Neighbor{child}, []Shortcut{{Target: "a", Via: "c"}, {Target: "a", Via: "c"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTopology(tt.self, tt.neighbors, tt.shortcuts)
			assert.ErrorIs(t, err, ErrInvalidTopology)
		})
	}
}

func TestTopologySnapshot(t *testing.T) {
	snap := level2Topology(t).Snapshot()

	assert.Equal(t, "level2", snap.Name)
	assert.Len(t, snap.Neighbors, 4)
	assert.Len(t, snap.Shortcuts, 2)
}

func TestRouterResolve(t *testing.T) {
	r := NewRouter(level2Topology(t))

	tests := []struct {
		target string
		kind   RouteKind
		via    string
		url    string
	}{
		{"level2", RouteLocal, "", ""},
		{"level3b", RouteRemote, "neighbor", "http://l3b:5004/api/search"},
		{"level1", RouteRemote, "neighbor", "http://l1:5001/api/search"},
		{"root", RouteRemote, "neighbor", "http://root:5000/api/search"},
		{"level5", RouteRemote, "shortcut", "http://l3a:5003/api/search"},
		{"unknown", RouteRemote, "parent", "http://l1:5001/api/search"},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			route := r.Resolve(tt.target)
			assert.Equal(t, tt.kind, route.Kind)
			assert.Equal(t, tt.via, route.Via)
			if tt.kind == RouteRemote {
				assert.Equal(t, tt.url, route.URL(PathSearch))
			}
			// same answer every time
			assert.Equal(t, route, r.Resolve(tt.target))
		})
	}
}

func TestRouterResolveAtRoot(t *testing.T) {
	topo, err := NewTopology("root", []Neighbor{{Name: "a", URL: "http://a", Role: RoleChild}}, nil)
	require.NoError(t, err)
	r := NewRouter(topo)

	assert.Equal(t, RouteLocal, r.Resolve("root").Kind)
	assert.Equal(t, RouteRemote, r.Resolve("a").Kind)
	assert.Equal(t, RouteNone, r.Resolve("nowhere").Kind)
	assert.Equal(t, "none", r.Resolve("nowhere").Kind.String())
}
