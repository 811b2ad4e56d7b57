package thread

// Edge is a stored conversation with its parent link and current depth.
type Edge struct {
	ID       string
	ParentID string
	Depth    int
}

// ComputeDepths returns the exact depth of every conversation in edges.
//
// Roots (no parent) are 0. A conversation whose parent is not in the set keeps
// the forward-reference depth 1. Parent cycles are cut where the walk re-enters
// its own path; that node is treated as a root.
func ComputeDepths(edges []Edge) map[string]int {
	parent := make(map[string]string, len(edges))
	for _, e := range edges {
		parent[e.ID] = e.ParentID
	}

	depth := make(map[string]int, len(edges))
	for _, e := range edges {
		if _, ok := depth[e.ID]; ok {
			continue
		}

		var path []string
		onPath := make(map[string]bool)
		start := 0 // depth of the last node on path
		for cur := e.ID; ; {
			path = append(path, cur)
			onPath[cur] = true

			p := parent[cur]
			if p == "" {
				start = 0
				break
			}
			if d, ok := depth[p]; ok {
				start = d + 1
				break
			}
			if _, stored := parent[p]; !stored {
				start = 1
				break
			}
			if onPath[p] {
				start = 0
				break
			}
			cur = p
		}

		last := len(path) - 1
		for i := last; i >= 0; i-- {
			depth[path[i]] = start + (last - i)
		}
	}
	return depth
}

// Repairs returns the edges whose stored depth differs from the computed one,
// carrying the corrected depth.
func Repairs(edges []Edge) []Edge {
	depths := ComputeDepths(edges)
	var out []Edge
	for _, e := range edges {
		if d := depths[e.ID]; d != e.Depth {
			out = append(out, Edge{ID: e.ID, ParentID: e.ParentID, Depth: d})
		}
	}
	return out
}
