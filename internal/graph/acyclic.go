package graph

// findCycle reports whether giving trickID the prerequisites prereqs would
// close a cycle in edges (dependent -> prerequisite). It walks depth first
// from every proposed prerequisite and returns the offending path starting
// and ending at trickID, or nil. Each vertex is expanded at most once, so the
// walk is O(V+E).
func findCycle(edges map[string][]string, trickID string, prereqs []string) []string {
	visited := make(map[string]bool)
	var path []string

	var visit func(node string) bool
	visit = func(node string) bool {
		if node == trickID {
			return true
		}
		if visited[node] {
			return false
		}
		visited[node] = true
		for _, next := range edges[node] {
			path = append(path, next)
			if visit(next) {
				return true
			}
			path = path[:len(path)-1]
		}
		return false
	}

	for _, p := range prereqs {
		path = append(path[:0], trickID, p)
		if visit(p) {
			return path
		}
	}
	return nil
}
