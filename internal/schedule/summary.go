package schedule

import (
	"math"
	"sort"
)

// Summarize derives the per-period load view from current item state.
// An item's effort is apportioned evenly across its spanned periods, but
// the item is listed (and counted) only in its start period. Capacity is
// constant across periods. The result covers every period touched by any
// non-excluded scheduled item, in ascending order.
func Summarize(items []WorkItem, cfg CapacityConfig) []PeriodSummary {
	capacity := cfg.TotalCapacity()

	totals := make(map[int]float64)
	counts := make(map[int]int)
	starters := make(map[int][]string)

	for _, item := range items {
		if item.IsExcluded || item.AssignedPeriod == nil {
			continue
		}
		start := *item.AssignedPeriod
		span := 1
		if item.PeriodSpan != nil && *item.PeriodSpan > 1 {
			span = *item.PeriodSpan
		}
		share := item.EffortPoints / float64(span)
		for p := start; p < start+span; p++ {
			totals[p] += share
		}
		counts[start]++
		starters[start] = append(starters[start], item.ID)
	}

	periods := make([]int, 0, len(totals))
	for p := range totals {
		periods = append(periods, p)
	}
	sort.Ints(periods)

	summaries := make([]PeriodSummary, 0, len(periods))
	for _, p := range periods {
		utilization := 0.0
		if capacity > 0 {
			utilization = roundOneDecimal(totals[p] / capacity * 100)
		}
		startDate := cfg.StartDate.AddDate(0, 0, (p-1)*cfg.PeriodLengthDays)
		items := starters[p]
		if items == nil {
			items = []string{}
		}
		summaries = append(summaries, PeriodSummary{
			PeriodNumber:       p,
			TotalPoints:        totals[p],
			Capacity:           capacity,
			UtilizationPercent: utilization,
			ItemCount:          counts[p],
			Items:              items,
			StartDate:          startDate,
			EndDate:            startDate.AddDate(0, 0, cfg.PeriodLengthDays-1),
		})
	}
	return summaries
}

func roundOneDecimal(v float64) float64 {
	return math.Round(v*10) / 10
}
