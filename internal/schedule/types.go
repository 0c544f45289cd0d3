// Package schedule implements the roadmap scheduling engine: dependency
// graph analysis, deterministic topological sequencing, capacity-aware
// bin packing of work items into delivery periods, and per-period
// utilization summaries. The package is pure computation over in-memory
// snapshots; persistence and serialization live elsewhere.
package schedule

import (
	"math"
	"strings"
	"time"
)

// DependencyType classifies an edge between two work items. Only Blocks
// and DependsOn constrain scheduling order; every other type is
// informational.
type DependencyType string

const (
	DependencyBlocks    DependencyType = "blocks"
	DependencyDependsOn DependencyType = "depends_on"
	DependencyEnables   DependencyType = "enables"
	DependencyRelatedTo DependencyType = "related_to"
)

// requiresPrefix tags open-ended external-prerequisite edges, e.g.
// "requires_legal_review". Those edges never reference a second item.
const requiresPrefix = "requires_"

// IsOrdering reports whether the edge type participates in cycle
// detection and topological sequencing.
func (t DependencyType) IsOrdering() bool {
	return t == DependencyBlocks || t == DependencyDependsOn
}

// IsValid reports whether the type is one of the known kinds or an
// external-prerequisite tag.
func (t DependencyType) IsValid() bool {
	switch t {
	case DependencyBlocks, DependencyDependsOn, DependencyEnables, DependencyRelatedTo:
		return true
	}
	return strings.HasPrefix(string(t), requiresPrefix) && len(t) > len(requiresPrefix)
}

// WorkItem is a unit of schedulable work. The four Assigned* fields are
// owned by Schedule; everything else is input.
type WorkItem struct {
	ID            string
	Title         string
	EffortPoints  float64
	Priority      int
	SequenceOrder int
	ThemeID       *string
	IsExcluded    bool

	AssignedTeam         *int
	AssignedPeriod       *int
	PeriodSpan           *int
	PeriodOffset         *float64
	IsManuallyPositioned bool
}

// DependencyEdge is a directed relation between two items. A nil ToItemID
// marks an external prerequisite rather than a graph node.
type DependencyEdge struct {
	FromItemID string
	ToItemID   *string
	Type       DependencyType
	Confidence float64
	IsManual   bool
}

// CapacityConfig describes the delivery resources available to one
// planning run.
type CapacityConfig struct {
	TeamCount        int
	TeamVelocity     float64
	BufferRatio      float64
	PeriodLengthDays int
	StartDate        time.Time
}

// EffectiveCapacity is the derated points one team can absorb per period.
func (c CapacityConfig) EffectiveCapacity() float64 {
	return math.Floor(c.TeamVelocity * (1 - c.BufferRatio))
}

// TotalCapacity is the combined per-period capacity across all teams,
// used by Summarize.
func (c CapacityConfig) TotalCapacity() float64 {
	return c.TeamVelocity * float64(c.TeamCount) * (1 - c.BufferRatio)
}

// CycleReport is the result of DetectCycles. ItemIDs holds every item
// participating in any cycle, sorted for stable output.
type CycleReport struct {
	HasCycles bool     `json:"hasCycles"`
	ItemIDs   []string `json:"itemIds"`
}

// Contains reports whether the given item participates in a cycle.
func (r CycleReport) Contains(itemID string) bool {
	for _, id := range r.ItemIDs {
		if id == itemID {
			return true
		}
	}
	return false
}

// PeriodSummary is the derived per-period view of a scheduled plan. It is
// recomputed on every read and never persisted.
type PeriodSummary struct {
	PeriodNumber       int       `json:"periodNumber"`
	TotalPoints        float64   `json:"totalPoints"`
	Capacity           float64   `json:"capacity"`
	UtilizationPercent float64   `json:"utilizationPercent"`
	ItemCount          int       `json:"itemCount"`
	Items              []string  `json:"items"`
	StartDate          time.Time `json:"startDate"`
	EndDate            time.Time `json:"endDate"`
}
