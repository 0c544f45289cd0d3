package app

import (
	"context"
	"database/sql"
	"net/http"
	"strings"

	"horizon/api/internal/store"
	"horizon/api/internal/util"
)

type SegmentInput struct {
	ItemID        *string  `json:"itemId"`
	AssignedTeam  *int     `json:"assignedTeam"`
	StartPeriod   *int     `json:"startPeriod"`
	PeriodCount   *int     `json:"periodCount"`
	EffortPoints  *float64 `json:"effortPoints"`
	RowIndex      *int     `json:"rowIndex"`
	Status        *string  `json:"status"`
}

type BulkSegmentInput struct {
	ID string `json:"id"`
	SegmentInput
}

var allowedSegmentStatuses = map[string]struct{}{
	"planned":     {},
	"in_progress": {},
	"done":        {},
}

func (s *Service) ListSegments(ctx context.Context, planID string) ([]map[string]any, error) {
	if _, err := s.store.GetPlan(ctx, planID); err != nil {
		return nil, err
	}
	segments, err := s.store.ListSegments(ctx, planID)
	if err != nil {
		return nil, err
	}
	payloads := make([]map[string]any, 0, len(segments))
	for _, segment := range segments {
		payloads = append(payloads, segmentPayload(segment))
	}
	return payloads, nil
}

// CreateSegment adds a manual split for an item. It takes the next
// sequence slot after the item's existing segments.
func (s *Service) CreateSegment(ctx context.Context, planID string, input SegmentInput) (map[string]any, error) {
	lock := s.planLock(planID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := s.store.GetPlan(ctx, planID); err != nil {
		return nil, err
	}
	if input.ItemID == nil || strings.TrimSpace(*input.ItemID) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "itemId is required", nil)
	}
	item, err := s.store.GetWorkItem(ctx, planID, *input.ItemID)
	if err != nil {
		return nil, err
	}
	if input.StartPeriod == nil || *input.StartPeriod < 1 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "startPeriod must be at least 1", nil)
	}
	if input.PeriodCount != nil && *input.PeriodCount < 1 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "periodCount must be at least 1", nil)
	}
	if input.EffortPoints != nil && *input.EffortPoints <= 0 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "effortPoints must be positive", nil)
	}

	sequence, err := s.store.NextSegmentSequence(ctx, planID, item.ID)
	if err != nil {
		return nil, err
	}

	segment := store.Segment{
		ID:            util.NewID("seg"),
		PlanID:        planID,
		ItemID:        item.ID,
		AssignedTeam:  input.AssignedTeam,
		StartPeriod:   *input.StartPeriod,
		PeriodCount:   1,
		EffortPoints:  item.EffortPoints,
		SequenceOrder: sequence,
		Status:        "planned",
	}
	if input.PeriodCount != nil {
		segment.PeriodCount = *input.PeriodCount
	}
	if input.EffortPoints != nil {
		segment.EffortPoints = *input.EffortPoints
	}
	if input.RowIndex != nil {
		segment.RowIndex = *input.RowIndex
	}
	if input.Status != nil {
		if _, ok := allowedSegmentStatuses[*input.Status]; !ok {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid segment status", nil)
		}
		segment.Status = *input.Status
	}

	if err := s.store.InsertSegment(ctx, segment); err != nil {
		return nil, err
	}
	return segmentPayload(segment), nil
}

// UpdateSegment applies a partial edit. Moving a segment in time, team,
// or row marks it manually positioned; a status-only edit does not.
func (s *Service) UpdateSegment(ctx context.Context, planID, segmentID string, input SegmentInput) (map[string]any, error) {
	lock := s.planLock(planID)
	lock.Lock()
	defer lock.Unlock()

	segment, err := s.store.GetSegment(ctx, planID, segmentID)
	if err != nil {
		return nil, err
	}
	if err := applySegmentInput(&segment, input); err != nil {
		return nil, err
	}
	if err := s.store.SaveSegment(ctx, segment); err != nil {
		return nil, err
	}
	return segmentPayload(segment), nil
}

// BulkUpdateSegments applies a batch of partial edits, typically from a
// drag interaction touching many segments. Unknown ids and segments
// outside the plan are skipped rather than failing the batch. Every
// applied entry marks the segment manually positioned, even when only
// the status changed.
func (s *Service) BulkUpdateSegments(ctx context.Context, planID string, inputs []BulkSegmentInput) ([]map[string]any, error) {
	lock := s.planLock(planID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := s.store.GetPlan(ctx, planID); err != nil {
		return nil, err
	}

	updated := make([]map[string]any, 0, len(inputs))
	for _, input := range inputs {
		segment, err := s.store.GetSegment(ctx, planID, input.ID)
		if err != nil {
			if err == sql.ErrNoRows {
				continue
			}
			return nil, err
		}
		if err := applySegmentInput(&segment, input.SegmentInput); err != nil {
			return nil, err
		}
		segment.IsManuallyPositioned = true
		if err := s.store.SaveSegment(ctx, segment); err != nil {
			return nil, err
		}
		updated = append(updated, segmentPayload(segment))
	}
	return updated, nil
}

func (s *Service) DeleteSegment(ctx context.Context, planID, segmentID string) error {
	lock := s.planLock(planID)
	lock.Lock()
	defer lock.Unlock()

	deleted, err := s.store.DeleteSegment(ctx, planID, segmentID)
	if err != nil {
		return err
	}
	if !deleted {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Service) DeleteAllSegmentsForItem(ctx context.Context, planID, itemID string) (int, error) {
	lock := s.planLock(planID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := s.store.GetWorkItem(ctx, planID, itemID); err != nil {
		return 0, err
	}
	return s.store.DeleteSegmentsForItem(ctx, planID, itemID)
}

// RegenerateSegmentsForItem discards all of an item's segments, manual
// or not, and rebuilds the single auto segment from its current
// assignment. Items with no assignment end up with no segments.
func (s *Service) RegenerateSegmentsForItem(ctx context.Context, planID, itemID string) ([]map[string]any, error) {
	lock := s.planLock(planID)
	lock.Lock()
	defer lock.Unlock()

	item, err := s.store.GetWorkItem(ctx, planID, itemID)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.DeleteSegmentsForItem(ctx, planID, itemID); err != nil {
		return nil, err
	}
	if item.AssignedPeriod == nil {
		return []map[string]any{}, nil
	}

	segment := autoSegmentForItem(planID, item)
	if err := s.store.InsertSegment(ctx, segment); err != nil {
		return nil, err
	}
	return []map[string]any{segmentPayload(segment)}, nil
}

func applySegmentInput(segment *store.Segment, input SegmentInput) error {
	moved := false
	if input.AssignedTeam != nil {
		segment.AssignedTeam = input.AssignedTeam
		moved = true
	}
	if input.StartPeriod != nil {
		if *input.StartPeriod < 1 {
			return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "startPeriod must be at least 1", nil)
		}
		segment.StartPeriod = *input.StartPeriod
		moved = true
	}
	if input.PeriodCount != nil {
		if *input.PeriodCount < 1 {
			return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "periodCount must be at least 1", nil)
		}
		segment.PeriodCount = *input.PeriodCount
		moved = true
	}
	if input.EffortPoints != nil {
		if *input.EffortPoints <= 0 {
			return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "effortPoints must be positive", nil)
		}
		segment.EffortPoints = *input.EffortPoints
	}
	if input.RowIndex != nil {
		segment.RowIndex = *input.RowIndex
		moved = true
	}
	if input.Status != nil {
		if _, ok := allowedSegmentStatuses[*input.Status]; !ok {
			return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid segment status", nil)
		}
		segment.Status = *input.Status
	}
	if moved {
		segment.IsManuallyPositioned = true
	}
	return nil
}

func segmentPayload(segment store.Segment) map[string]any {
	return map[string]any{
		"id":                   segment.ID,
		"planId":               segment.PlanID,
		"itemId":               segment.ItemID,
		"assignedTeam":         segment.AssignedTeam,
		"startPeriod":          segment.StartPeriod,
		"periodCount":          segment.PeriodCount,
		"effortPoints":         segment.EffortPoints,
		"sequenceOrder":        segment.SequenceOrder,
		"rowIndex":             segment.RowIndex,
		"isManuallyPositioned": segment.IsManuallyPositioned,
		"status":               segment.Status,
	}
}
