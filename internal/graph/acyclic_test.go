package graph

import (
	"fmt"
	"math/rand"
	"testing"
)

// hasCycle is the plain three-colour check over a whole edge set.
func hasCycle(edges map[string][]string) bool {
	visiting := make(map[string]bool)
	visited := make(map[string]bool)

	var visit func(node string) bool
	visit = func(node string) bool {
		visiting[node] = true
		for _, dep := range edges[node] {
			if visiting[dep] {
				return true
			}
			if !visited[dep] && visit(dep) {
				return true
			}
		}
		delete(visiting, node)
		visited[node] = true
		return false
	}

	for node := range edges {
		if !visited[node] && visit(node) {
			return true
		}
	}
	return false
}

func TestFindCycleSimple(t *testing.T) {
	edges := map[string][]string{
		"a": {"b"},
		"b": {"c"},
	}

	if path := findCycle(edges, "d", []string{"a"}); path != nil {
		t.Errorf("unexpected cycle %v", path)
	}

	path := findCycle(edges, "c", []string{"a"})
	want := []string{"c", "a", "b", "c"}
	if fmt.Sprint(path) != fmt.Sprint(want) {
		t.Errorf("path = %v, want %v", path, want)
	}

	if path := findCycle(edges, "a", nil); path != nil {
		t.Errorf("empty prerequisite set cannot cycle, got %v", path)
	}
}

func TestFindCycleMatchesReference(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	const nodes = 12

	for round := 0; round < 50; round++ {
		edges := make(map[string][]string)
		for step := 0; step < 60; step++ {
			node := fmt.Sprintf("t%d", rng.Intn(nodes))

			var prereqs []string
			seen := map[string]bool{node: true}
			for k := rng.Intn(4); k > 0; k-- {
				p := fmt.Sprintf("t%d", rng.Intn(nodes))
				if seen[p] {
					continue
				}
				seen[p] = true
				prereqs = append(prereqs, p)
			}

			// A revision replaces the node's own edges.
			others := make(map[string][]string, len(edges))
			for k, v := range edges {
				if k != node {
					others[k] = v
				}
			}
			candidate := make(map[string][]string, len(others)+1)
			for k, v := range others {
				candidate[k] = v
			}
			candidate[node] = prereqs

			path := findCycle(others, node, prereqs)
			want := hasCycle(candidate)
			if (path != nil) != want {
				t.Fatalf("round %d step %d: findCycle=%v reference=%v for %s -> %v", round, step, path, want, node, prereqs)
			}
			if path != nil {
				assertPath(t, candidate, path)
				continue
			}
			edges = candidate
			if hasCycle(edges) {
				t.Fatalf("accepted edge set contains a cycle")
			}
		}
	}
}

func assertPath(t *testing.T, edges map[string][]string, path []string) {
	t.Helper()
	if len(path) < 2 || path[0] != path[len(path)-1] {
		t.Fatalf("path %v does not start and end at the same trick", path)
	}
	for i := 0; i+1 < len(path); i++ {
		found := false
		for _, next := range edges[path[i]] {
			if next == path[i+1] {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("path %v uses missing edge %s -> %s", path, path[i], path[i+1])
		}
	}
}
