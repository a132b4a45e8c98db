package registration

import (
	"sort"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// Component is one connected group of tiles sharing a coordinate frame.
type Component struct {
	ID      int   `json:"id"`
	Root    int   `json:"root"`
	Members []int `json:"members"`
}

// Partition groups tiles into the connected components of the undirected
// attachment graph. Members are ascending and components are ordered by
// their smallest member, so IDs are stable for a given assignment.
func Partition(assign Assignment) []Component {
	g := simple.NewUndirectedGraph()
	for i := range assign {
		g.AddNode(simple.Node(i))
	}
	for s, r := range assign {
		if r == Unmatched || r == s {
			continue
		}
		g.SetEdge(g.NewEdge(simple.Node(s), simple.Node(r)))
	}

	groups := topo.ConnectedComponents(g)
	comps := make([]Component, 0, len(groups))
	for _, nodes := range groups {
		members := make([]int, len(nodes))
		for k, nd := range nodes {
			members[k] = int(nd.ID())
		}
		sort.Ints(members)
		root := members[0]
		for _, m := range members {
			if assign[m] == m || assign[m] == Unmatched {
				root = m
				break
			}
		}
		comps = append(comps, Component{Root: root, Members: members})
	}
	sort.Slice(comps, func(a, b int) bool { return comps[a].Members[0] < comps[b].Members[0] })
	for i := range comps {
		comps[i].ID = i
	}
	return comps
}
