package store

import "time"

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	Role                  string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	DeactivatedAt         *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Plan is one planning session. It owns the capacity configuration and
// every work item, dependency edge, and segment created for it.
type Plan struct {
	ID               string
	Name             string
	Status           string
	TeamCount        int
	TeamVelocity     float64
	BufferRatio      float64
	PeriodLengthDays int
	StartDate        time.Time
	ScheduledAt      *time.Time
	CreatedBy        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// WorkItem is a schedulable unit of work inside a plan. The Assigned*
// fields are written only by a full scheduling run; manual edits to them
// flip IsManuallyPositioned.
type WorkItem struct {
	ID            string
	PlanID        string
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

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DependencyEdge relates two work items, or an item to an unmodeled
// external prerequisite when ToItemID is nil.
type DependencyEdge struct {
	ID         string
	PlanID     string
	FromItemID string
	ToItemID   *string
	Type       string
	Confidence float64
	IsManual   bool
	CreatedAt  time.Time
}

// Segment is an editable allocation slice owned by exactly one work item.
// Auto-generated segments mirror the item's scheduled fields; humans may
// split an item into several segments between scheduling runs.
type Segment struct {
	ID                   string
	PlanID               string
	ItemID               string
	AssignedTeam         *int
	StartPeriod          int
	PeriodCount          int
	EffortPoints         float64
	SequenceOrder        int
	RowIndex             int
	IsManuallyPositioned bool
	Status               string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Theme is an opaque grouping reference produced upstream; the scheduler
// never reads it.
type Theme struct {
	ID        string
	PlanID    string
	Name      string
	Color     string
	CreatedAt time.Time
}

// ScheduleRun records one completed pipeline run for a plan.
type ScheduleRun struct {
	ID           string
	PlanID       string
	HasCycles    bool
	CycleItemIDs []string
	ItemCount    int
	PeriodCount  int
	SnapshotHash string
	CreatedBy    string
	CreatedAt    time.Time
}

// SnapshotInfo describes one plan snapshot commit.
type SnapshotInfo struct {
	Hash      string
	Message   string
	Author    string
	CreatedAt time.Time
}
