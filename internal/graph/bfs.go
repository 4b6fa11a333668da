package graph

// BFSLevels layers the operator nodes of a function by their longest distance
// to a terminal node. Level 0 holds the terminal (output-side) nodes; the last
// level holds the input-most nodes. Every producer lands on a strictly deeper
// level than all of its consumers, so iterating levels from last to first
// visits producers before consumers.
func BFSLevels(f *Function) [][]*Node {
	depth := make(map[*Node]int, len(f.nodes))
	maxDepth := 0
	// Nodes are stored in topological order, so a reverse sweep sees all
	// users of a node before the node itself.
	for i := len(f.nodes) - 1; i >= 0; i-- {
		n := f.nodes[i]
		d := 0
		for _, u := range n.users {
			if ud, ok := depth[u]; ok && ud+1 > d {
				d = ud + 1
			}
		}
		depth[n] = d
		if d > maxDepth {
			maxDepth = d
		}
	}
	levels := make([][]*Node, maxDepth+1)
	for _, n := range f.nodes {
		d := depth[n]
		levels[d] = append(levels[d], n)
	}
	return levels
}
