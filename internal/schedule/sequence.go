package schedule

import "sort"

// Sequence linearizes items into a deterministic processing order that
// honors ordering edges (Kahn's algorithm). Nodes become ready when their
// in-degree reaches zero; the ready queue is kept ascending by
// SequenceOrder via ordered insertion, so equal inputs always produce the
// same order regardless of edge declaration order.
//
// If the graph contains cycles, the trapped nodes never reach in-degree
// zero; they are appended at the end sorted by SequenceOrder. Every input
// item therefore appears in the result exactly once, cycles or not.
func Sequence(items []WorkItem, edges []DependencyEdge) []string {
	g := buildOrderingGraph(items, edges)

	inDegree := make([]int, len(items))
	for _, succs := range g.adj {
		for _, succ := range succs {
			inDegree[succ]++
		}
	}

	var ready []int
	enqueue := func(node int) {
		pos := sort.Search(len(ready), func(i int) bool {
			return items[ready[i]].SequenceOrder > items[node].SequenceOrder
		})
		ready = append(ready, 0)
		copy(ready[pos+1:], ready[pos:])
		ready[pos] = node
	}

	for i := range items {
		if inDegree[i] == 0 {
			enqueue(i)
		}
	}

	order := make([]string, 0, len(items))
	processed := make([]bool, len(items))
	for len(ready) > 0 {
		node := ready[0]
		ready = ready[1:]
		processed[node] = true
		order = append(order, items[node].ID)
		for _, succ := range g.adj[node] {
			inDegree[succ]--
			if inDegree[succ] == 0 {
				enqueue(succ)
			}
		}
	}

	var leftover []int
	for i := range items {
		if !processed[i] {
			leftover = append(leftover, i)
		}
	}
	sort.SliceStable(leftover, func(a, b int) bool {
		return items[leftover[a]].SequenceOrder < items[leftover[b]].SequenceOrder
	})
	for _, node := range leftover {
		order = append(order, items[node].ID)
	}
	return order
}

// Reorder returns the items arranged to match the id order produced by
// Sequence. Ids missing from the item set are ignored; items missing from
// the id list keep their relative input order at the end.
func Reorder(items []WorkItem, orderedIDs []string) []WorkItem {
	byID := make(map[string]int, len(items))
	for i, item := range items {
		byID[item.ID] = i
	}
	result := make([]WorkItem, 0, len(items))
	taken := make([]bool, len(items))
	for _, id := range orderedIDs {
		if i, ok := byID[id]; ok && !taken[i] {
			result = append(result, items[i])
			taken[i] = true
		}
	}
	for i, item := range items {
		if !taken[i] {
			result = append(result, item)
		}
	}
	return result
}
