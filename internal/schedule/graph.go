package schedule

import "sort"

// orderingGraph is the adjacency view restricted to ordering edges whose
// endpoints are both known items. Indexes are positions in the input
// item slice, so traversal state can live in flat arrays.
type orderingGraph struct {
	index map[string]int
	adj   [][]int
}

func buildOrderingGraph(items []WorkItem, edges []DependencyEdge) orderingGraph {
	g := orderingGraph{
		index: make(map[string]int, len(items)),
		adj:   make([][]int, len(items)),
	}
	for i, item := range items {
		g.index[item.ID] = i
	}
	for _, edge := range edges {
		if !edge.Type.IsOrdering() || edge.ToItemID == nil {
			continue
		}
		from, ok := g.index[edge.FromItemID]
		if !ok {
			continue
		}
		to, ok := g.index[*edge.ToItemID]
		if !ok {
			continue
		}
		g.adj[from] = append(g.adj[from], to)
	}
	return g
}

// DetectCycles reports every item that participates in a cycle among
// ordering edges. Cyclic input is a reportable condition, never an error:
// the caller decides whether to surface it, and scheduling proceeds
// regardless.
//
// The traversal is an iterative depth-first search with an explicit frame
// stack and flat marker arrays, so stack depth stays bounded for large
// item counts. An edge into a node currently on the traversal path is a
// back edge; every node on the path from the back edge's target onward is
// part of a cycle.
func DetectCycles(items []WorkItem, edges []DependencyEdge) CycleReport {
	g := buildOrderingGraph(items, edges)

	visited := make([]bool, len(items))
	onStack := make([]bool, len(items))
	inCycle := make([]bool, len(items))

	type frame struct {
		node int
		next int
	}

	for start := range items {
		if visited[start] {
			continue
		}
		visited[start] = true
		onStack[start] = true
		stack := []frame{{node: start}}
		path := []int{start}

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if top.next < len(g.adj[top.node]) {
				succ := g.adj[top.node][top.next]
				top.next++
				if onStack[succ] {
					for i := len(path) - 1; i >= 0; i-- {
						inCycle[path[i]] = true
						if path[i] == succ {
							break
						}
					}
					continue
				}
				if visited[succ] {
					continue
				}
				visited[succ] = true
				onStack[succ] = true
				stack = append(stack, frame{node: succ})
				path = append(path, succ)
				continue
			}
			onStack[top.node] = false
			stack = stack[:len(stack)-1]
			path = path[:len(path)-1]
		}
	}

	report := CycleReport{}
	for i, cyclic := range inCycle {
		if cyclic {
			report.ItemIDs = append(report.ItemIDs, items[i].ID)
		}
	}
	sort.Strings(report.ItemIDs)
	report.HasCycles = len(report.ItemIDs) > 0
	return report
}
