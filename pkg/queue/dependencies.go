package queue

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// DetectCycle returns one dependency cycle in deps as a path whose first and
// last elements are equal, or nil when the graph is acyclic. deps maps a node
// to the nodes it depends on.
func DetectCycle(deps map[string][]string) []string {
	const (
		unvisited = iota
		inPath
		done
	)
	state := make(map[string]int, len(deps))

	var visit func(node string, path []string) []string
	visit = func(node string, path []string) []string {
		state[node] = inPath
		for _, dep := range deps[node] {
			switch state[dep] {
			case inPath:
				start := slices.Index(path, dep)
				return append(slices.Clone(path[start:]), dep)
			case unvisited:
				if cycle := visit(dep, append(path, dep)); cycle != nil {
					return cycle
				}
			}
		}
		state[node] = done
		return nil
	}

	for _, node := range sortedKeys(deps) {
		if state[node] == unvisited {
			if cycle := visit(node, []string{node}); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// TopologicalOrder returns every node of deps, dependencies included, so that
// each node comes after everything it depends on. Ties are broken by name.
func TopologicalOrder(deps map[string][]string) ([]string, error) {
	if cycle := DetectCycle(deps); cycle != nil {
		return nil, fmt.Errorf("%w: %s", ErrDependencyCycle, strings.Join(cycle, " -> "))
	}

	remaining := make(map[string]int)
	dependents := make(map[string][]string)
	for node, ds := range deps {
		if _, ok := remaining[node]; !ok {
			remaining[node] = 0
		}
		for _, dep := range slices.Compact(slices.Sorted(slices.Values(ds))) {
			remaining[node]++
			dependents[dep] = append(dependents[dep], node)
			if _, ok := remaining[dep]; !ok {
				remaining[dep] = 0
			}
		}
	}

	var ready []string
	for node, n := range remaining {
		if n == 0 {
			ready = append(ready, node)
		}
	}
	slices.Sort(ready)

	order := make([]string, 0, len(remaining))
	for len(ready) > 0 {
		node := ready[0]
		ready = ready[1:]
		order = append(order, node)

		var released []string
		for _, next := range dependents[node] {
			remaining[next]--
			if remaining[next] == 0 {
				released = append(released, next)
			}
		}
		slices.Sort(released)
		ready = append(ready, released...)
	}
	return order, nil
}

// ReadyTasks splits the unfinished nodes of deps. ready holds nodes whose
// dependencies all completed. doomed holds nodes that can never run because a
// dependency failed, directly or through another doomed node. Nodes in
// completed, failed or running are never returned. Both slices are sorted.
func ReadyTasks(deps map[string][]string, completed, failed, running map[string]bool) (ready, doomed []string) {
	doomedSet := make(map[string]bool)
	var isDoomed func(node string, seen map[string]bool) bool
	isDoomed = func(node string, seen map[string]bool) bool {
		if failed[node] || doomedSet[node] {
			return true
		}
		if seen[node] {
			return false
		}
		seen[node] = true
		for _, dep := range deps[node] {
			if isDoomed(dep, seen) {
				doomedSet[node] = true
				return true
			}
		}
		return false
	}

	for _, node := range sortedKeys(deps) {
		if completed[node] || failed[node] || running[node] {
			continue
		}
		if isDoomed(node, map[string]bool{}) {
			doomed = append(doomed, node)
			continue
		}
		met := true
		for _, dep := range deps[node] {
			if !completed[dep] {
				met = false
				break
			}
		}
		if met {
			ready = append(ready, node)
		}
	}
	return ready, doomed
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
