package schedule

import (
	"errors"
	"fmt"
	"math"
)

// ErrNoCapacity is returned when the capacity configuration derates to
// zero or below; proceeding would loop or divide by zero, so the run
// fails before any assignment is made.
var ErrNoCapacity = errors.New("effective capacity must be positive")

// Schedule assigns each non-excluded item a team, a start period, and a
// period span, processing items in the given order. The input slice is
// not mutated; the returned slice carries the assignments. Excluded items
// pass through with their scheduling fields cleared.
//
// Single-team mode advances one monotonic cursor; multi-team mode greedily
// searches every team from period 1 and takes the candidate with the
// lowest start period, breaking ties on lower current load. The sequence
// order acts as processing priority only: in multi-team mode a dependent
// item may still land in an earlier period than its blocker if it lands
// on a team the blocker never touched.
func Schedule(ordered []WorkItem, cfg CapacityConfig) ([]WorkItem, error) {
	capacity := cfg.EffectiveCapacity()
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: velocity=%g buffer=%g", ErrNoCapacity, cfg.TeamVelocity, cfg.BufferRatio)
	}

	items := make([]WorkItem, len(ordered))
	copy(items, ordered)
	for i := range items {
		items[i].AssignedTeam = nil
		items[i].AssignedPeriod = nil
		items[i].PeriodSpan = nil
		items[i].PeriodOffset = nil
	}

	if cfg.TeamCount <= 1 {
		scheduleSingleTeam(items, capacity)
	} else {
		scheduleMultiTeam(items, capacity, cfg.TeamCount)
	}
	return items, nil
}

func periodsNeeded(effort, capacity float64) int {
	needed := int(math.Ceil(effort / capacity))
	if needed < 1 {
		needed = 1
	}
	return needed
}

// scheduleSingleTeam packs items with a single forward-only cursor.
// Spanning items always start a fresh run of consecutive periods and
// never share a period with other items. AssignedTeam stays nil in this
// mode.
func scheduleSingleTeam(items []WorkItem, capacity float64) {
	currentPeriod := 1
	used := 0.0

	for i := range items {
		item := &items[i]
		if item.IsExcluded {
			continue
		}
		needed := periodsNeeded(item.EffortPoints, capacity)

		if needed == 1 {
			if used+item.EffortPoints > capacity {
				currentPeriod++
				used = 0
			}
			offset := used
			item.AssignedPeriod = intPtr(currentPeriod)
			item.PeriodSpan = intPtr(1)
			item.PeriodOffset = floatPtr(offset)
			used += item.EffortPoints
			continue
		}

		if used > 0 {
			currentPeriod++
			used = 0
		}
		item.AssignedPeriod = intPtr(currentPeriod)
		item.PeriodSpan = intPtr(needed)
		item.PeriodOffset = floatPtr(0)
		currentPeriod += needed
	}
}

// teamState tracks one team's bookkeeping during multi-team packing.
// A period is either partially filled (used > 0) or fully reserved by a
// spanning item; the two never mix on the same period.
type teamState struct {
	used       map[int]float64
	reserved   map[int]bool
	totalLoad  float64
	lastPeriod int
}

func newTeamState() *teamState {
	return &teamState{
		used:     make(map[int]float64),
		reserved: make(map[int]bool),
	}
}

func (t *teamState) emptyAt(period int) bool {
	return !t.reserved[period] && t.used[period] == 0
}

// earliestSpanStart finds the first period where a window of the given
// size is entirely empty. The window just past the last touched period is
// always open, so the scan is bounded.
func (t *teamState) earliestSpanStart(span int) int {
	for start := 1; ; start++ {
		if start > t.lastPeriod {
			return start
		}
		open := true
		for p := start; p < start+span; p++ {
			if !t.emptyAt(p) {
				open = false
				break
			}
		}
		if open {
			return start
		}
	}
}

// earliestFit finds the first period with enough remaining capacity for a
// non-spanning item. Reserved periods never accept co-scheduled work.
func (t *teamState) earliestFit(effort, capacity float64) int {
	for period := 1; ; period++ {
		if period > t.lastPeriod {
			return period
		}
		if t.reserved[period] {
			continue
		}
		if t.used[period]+effort <= capacity {
			return period
		}
	}
}

func (t *teamState) placeSpan(start, span int) {
	for p := start; p < start+span; p++ {
		t.reserved[p] = true
		if p > t.lastPeriod {
			t.lastPeriod = p
		}
	}
}

func (t *teamState) place(period int, effort float64) float64 {
	offset := t.used[period]
	t.used[period] += effort
	if period > t.lastPeriod {
		t.lastPeriod = period
	}
	return offset
}

func scheduleMultiTeam(items []WorkItem, capacity float64, teamCount int) {
	teams := make([]*teamState, teamCount)
	for i := range teams {
		teams[i] = newTeamState()
	}

	for i := range items {
		item := &items[i]
		if item.IsExcluded {
			continue
		}
		needed := periodsNeeded(item.EffortPoints, capacity)

		bestTeam := -1
		bestStart := 0
		for ti, team := range teams {
			var start int
			if needed > 1 {
				start = team.earliestSpanStart(needed)
			} else {
				start = team.earliestFit(item.EffortPoints, capacity)
			}
			if start <= 0 {
				continue
			}
			if bestTeam < 0 || start < bestStart ||
				(start == bestStart && team.totalLoad < teams[bestTeam].totalLoad) {
				bestTeam = ti
				bestStart = start
			}
		}

		if bestTeam < 0 {
			bestTeam, bestStart = fallbackPlacement(teams, needed)
		}

		team := teams[bestTeam]
		item.AssignedTeam = intPtr(bestTeam + 1)
		item.AssignedPeriod = intPtr(bestStart)
		item.PeriodSpan = intPtr(needed)
		if needed > 1 {
			team.placeSpan(bestStart, needed)
			item.PeriodOffset = floatPtr(0)
		} else {
			item.PeriodOffset = floatPtr(team.place(bestStart, item.EffortPoints))
		}
		team.totalLoad += item.EffortPoints
	}
}

// fallbackPlacement picks the least-loaded team and scans forward from
// period 1 for the first fully open window of the required size. The
// greedy search above always yields a candidate under correct
// bookkeeping, so this branch exists purely to keep a malformed state
// from failing the whole run.
func fallbackPlacement(teams []*teamState, span int) (teamIndex, start int) {
	teamIndex = 0
	for ti := 1; ti < len(teams); ti++ {
		if teams[ti].totalLoad < teams[teamIndex].totalLoad {
			teamIndex = ti
		}
	}
	return teamIndex, teams[teamIndex].earliestSpanStart(span)
}

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }
