package schedule

import (
	"reflect"
	"testing"
)

func item(id string, effort float64, seq int) WorkItem {
	return WorkItem{ID: id, Title: id, EffortPoints: effort, SequenceOrder: seq}
}

func edge(from, to string, depType DependencyType) DependencyEdge {
	return DependencyEdge{FromItemID: from, ToItemID: &to, Type: depType, Confidence: 0.9}
}

func TestDetectCyclesAcyclic(t *testing.T) {
	items := []WorkItem{item("a", 5, 1), item("b", 5, 2), item("c", 5, 3)}
	edges := []DependencyEdge{
		edge("a", "b", DependencyBlocks),
		edge("b", "c", DependencyDependsOn),
	}

	report := DetectCycles(items, edges)
	if report.HasCycles {
		t.Fatalf("expected no cycles, got %v", report.ItemIDs)
	}
	if len(report.ItemIDs) != 0 {
		t.Errorf("expected empty cycle set, got %v", report.ItemIDs)
	}
}

func TestDetectCyclesSimpleCycle(t *testing.T) {
	items := []WorkItem{item("a", 5, 1), item("b", 5, 2), item("c", 5, 3)}
	edges := []DependencyEdge{
		edge("a", "b", DependencyBlocks),
		edge("b", "c", DependencyBlocks),
		edge("c", "a", DependencyBlocks),
	}

	report := DetectCycles(items, edges)
	if !report.HasCycles {
		t.Fatal("expected cycle to be reported")
	}
	want := []string{"a", "b", "c"}
	if !reflect.DeepEqual(report.ItemIDs, want) {
		t.Errorf("cycle members = %v, want %v", report.ItemIDs, want)
	}
}

func TestDetectCyclesPartialCycle(t *testing.T) {
	// d hangs off the cycle but is not part of it.
	items := []WorkItem{item("a", 5, 1), item("b", 5, 2), item("c", 5, 3), item("d", 5, 4)}
	edges := []DependencyEdge{
		edge("a", "b", DependencyBlocks),
		edge("b", "a", DependencyBlocks),
		edge("b", "c", DependencyBlocks),
		edge("c", "d", DependencyBlocks),
	}

	report := DetectCycles(items, edges)
	if !report.HasCycles {
		t.Fatal("expected cycle to be reported")
	}
	want := []string{"a", "b"}
	if !reflect.DeepEqual(report.ItemIDs, want) {
		t.Errorf("cycle members = %v, want %v", report.ItemIDs, want)
	}
	if report.Contains("c") || report.Contains("d") {
		t.Error("downstream items wrongly marked cyclic")
	}
}

func TestDetectCyclesMultipleDisjointCycles(t *testing.T) {
	items := []WorkItem{
		item("a", 5, 1), item("b", 5, 2),
		item("c", 5, 3), item("d", 5, 4),
		item("e", 5, 5),
	}
	edges := []DependencyEdge{
		edge("a", "b", DependencyBlocks),
		edge("b", "a", DependencyBlocks),
		edge("c", "d", DependencyDependsOn),
		edge("d", "c", DependencyDependsOn),
	}

	report := DetectCycles(items, edges)
	want := []string{"a", "b", "c", "d"}
	if !reflect.DeepEqual(report.ItemIDs, want) {
		t.Errorf("cycle members = %v, want %v", report.ItemIDs, want)
	}
}

func TestDetectCyclesIgnoresInformationalEdges(t *testing.T) {
	// A cycle made entirely of non-ordering edges must not be reported.
	items := []WorkItem{item("a", 5, 1), item("b", 5, 2)}
	edges := []DependencyEdge{
		edge("a", "b", DependencyEnables),
		edge("b", "a", DependencyRelatedTo),
	}

	if report := DetectCycles(items, edges); report.HasCycles {
		t.Errorf("informational edges produced cycle report: %v", report.ItemIDs)
	}
}

func TestDetectCyclesIgnoresExternalAndUnknownEndpoints(t *testing.T) {
	items := []WorkItem{item("a", 5, 1), item("b", 5, 2)}
	edges := []DependencyEdge{
		{FromItemID: "a", ToItemID: nil, Type: "requires_legal_review"},
		edge("a", "ghost", DependencyBlocks),
		edge("ghost", "a", DependencyBlocks),
		edge("a", "b", DependencyBlocks),
	}

	if report := DetectCycles(items, edges); report.HasCycles {
		t.Errorf("edges with unknown endpoints produced cycle report: %v", report.ItemIDs)
	}
}

func TestDependencyTypeValidity(t *testing.T) {
	valid := []DependencyType{
		DependencyBlocks, DependencyDependsOn, DependencyEnables,
		DependencyRelatedTo, "requires_security_audit",
	}
	for _, dt := range valid {
		if !dt.IsValid() {
			t.Errorf("%q should be valid", dt)
		}
	}
	invalid := []DependencyType{"", "requires_", "precedes"}
	for _, dt := range invalid {
		if dt.IsValid() {
			t.Errorf("%q should be invalid", dt)
		}
	}
	if DependencyEnables.IsOrdering() || DependencyRelatedTo.IsOrdering() {
		t.Error("informational types must not be ordering")
	}
	if !DependencyBlocks.IsOrdering() || !DependencyDependsOn.IsOrdering() {
		t.Error("blocks/depends_on must be ordering")
	}
}
