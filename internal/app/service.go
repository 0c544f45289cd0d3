package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"horizon/api/internal/auth"
	"horizon/api/internal/authpw"
	"horizon/api/internal/config"
	"horizon/api/internal/email"
	"horizon/api/internal/rbac"
	"horizon/api/internal/schedule"
	"horizon/api/internal/search"
	"horizon/api/internal/snapshot"
	"horizon/api/internal/store"
	"horizon/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

type PlanInput struct {
	Name             *string  `json:"name"`
	Status           *string  `json:"status"`
	TeamCount        *int     `json:"teamCount"`
	TeamVelocity     *float64 `json:"teamVelocity"`
	BufferRatio      *float64 `json:"bufferRatio"`
	PeriodLengthDays *int     `json:"periodLengthDays"`
	StartDate        *string  `json:"startDate"`
}

type ItemInput struct {
	Title          *string  `json:"title"`
	EffortPoints   *float64 `json:"effortPoints"`
	Priority       *int     `json:"priority"`
	SequenceOrder  *int     `json:"sequenceOrder"`
	ThemeID        *string  `json:"themeId"`
	IsExcluded     *bool    `json:"isExcluded"`
	AssignedTeam   *int     `json:"assignedTeam"`
	AssignedPeriod *int     `json:"assignedPeriod"`
	PeriodSpan     *int     `json:"periodSpan"`
}

type EdgeInput struct {
	FromItemID string  `json:"fromItemId"`
	ToItemID   *string `json:"toItemId"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

type ThemeInput struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

var allowedPlanStatuses = map[string]struct{}{
	"draft":     {},
	"active":    {},
	"scheduled": {},
	"archived":  {},
}

type dataStore interface {
	Ping(ctx context.Context) error

	EnsureUserByName(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)

	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error

	ListPlans(context.Context) ([]store.Plan, error)
	GetPlan(context.Context, string) (store.Plan, error)
	InsertPlan(context.Context, store.Plan) error
	UpdatePlan(context.Context, store.Plan) error
	DeletePlan(context.Context, string) error
	MarkPlanScheduled(context.Context, string, time.Time) error

	ListWorkItems(context.Context, string) ([]store.WorkItem, error)
	GetWorkItem(context.Context, string, string) (store.WorkItem, error)
	InsertWorkItem(context.Context, store.WorkItem) error
	UpdateWorkItem(context.Context, store.WorkItem) error
	SaveAssignments(context.Context, string, []store.WorkItem) error

	ListDependencyEdges(context.Context, string) ([]store.DependencyEdge, error)
	InsertDependencyEdge(context.Context, store.DependencyEdge) error
	DeleteDependencyEdge(context.Context, string, string) (bool, error)

	ListSegments(context.Context, string) ([]store.Segment, error)
	ListSegmentsForItem(context.Context, string, string) ([]store.Segment, error)
	GetSegment(context.Context, string, string) (store.Segment, error)
	InsertSegment(context.Context, store.Segment) error
	SaveSegment(context.Context, store.Segment) error
	DeleteSegment(context.Context, string, string) (bool, error)
	DeleteSegmentsForItem(context.Context, string, string) (int, error)
	ReplaceAllSegments(context.Context, string, []store.Segment) error
	NextSegmentSequence(context.Context, string, string) (int, error)

	ListThemes(context.Context, string) ([]store.Theme, error)
	InsertTheme(context.Context, store.Theme) error
	DeleteTheme(context.Context, string, string) (bool, error)

	InsertScheduleRun(context.Context, store.ScheduleRun) error
	ListScheduleRuns(context.Context, string, int) ([]store.ScheduleRun, error)
}

// sessionStore holds refresh tokens. Redis when configured, otherwise the
// primary Postgres store.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type snapshotService interface {
	EnsurePlanRepo(planID string, initial snapshot.Snapshot, author string) error
	CommitSnapshot(planID string, snap snapshot.Snapshot, author, message string) (store.SnapshotInfo, error)
	History(planID string, limit int) ([]store.SnapshotInfo, error)
	GetSnapshotByHash(planID, hash string) (snapshot.Snapshot, error)
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  sessionStore
	snapshots snapshotService
	search    *search.Service
	authPw    *authpw.Service
	email     *email.Service

	lockMu    sync.Mutex
	planLocks map[string]*sync.Mutex
}

func New(cfg config.Config, dataStore *store.PostgresStore, snapshots *snapshot.Service, searchService *search.Service) *Service {
	return newService(cfg, dataStore, dataStore, snapshots, searchService)
}

// NewWithSessionStore wires an external (Redis) refresh-token store.
func NewWithSessionStore(cfg config.Config, dataStore *store.PostgresStore, sessions sessionStore, snapshots *snapshot.Service, searchService *search.Service) *Service {
	return newService(cfg, dataStore, sessions, snapshots, searchService)
}

func newService(cfg config.Config, dataStore *store.PostgresStore, sessions sessionStore, snapshots *snapshot.Service, searchService *search.Service) *Service {
	return &Service{
		cfg:       cfg,
		store:     dataStore,
		sessions:  sessions,
		snapshots: snapshots,
		search:    searchService,
		authPw:    authpw.NewService(dataStore),
		email: email.NewService(email.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
		}),
		planLocks: make(map[string]*sync.Mutex),
	}
}

// planLock serializes schedule runs and segment mutations per plan.
// Independent plans proceed concurrently.
func (s *Service) planLock(planID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.planLocks[planID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.planLocks[planID] = lock
	return lock
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authPw
}

func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

func (s *Service) EmailService() *email.Service {
	return s.email
}

// SendVerificationEmail delivers the verify link in the background.
// Callers are expected to check SMTPConfigured first; a failed send is
// logged, not surfaced.
func (s *Service) SendVerificationEmail(to, name, token string) {
	if !s.SMTPConfigured() {
		return
	}
	url := strings.TrimRight(s.cfg.AppURL, "/") + "/verify-email?token=" + token
	go func() {
		if err := s.email.SendVerificationEmail(to, name, url); err != nil {
			log.Printf("send verification email: %v", err)
		}
	}()
}

func (s *Service) SendPasswordResetEmail(to, token string) {
	if !s.SMTPConfigured() {
		return
	}
	url := strings.TrimRight(s.cfg.AppURL, "/") + "/reset-password?token=" + token
	go func() {
		if err := s.email.SendPasswordResetEmail(to, to, url); err != nil {
			log.Printf("send password reset email: %v", err)
		}
	}()
}

func (s *Service) Bootstrap(ctx context.Context) error {
	plans, err := s.store.ListPlans(ctx)
	if err != nil {
		return err
	}
	if len(plans) > 0 {
		return nil
	}

	owner, err := s.store.EnsureUserByName(ctx, "Avery")
	if err != nil {
		return err
	}

	plan := store.Plan{
		ID:               util.NewID("pln"),
		Name:             "Q3 Platform Roadmap",
		Status:           "draft",
		TeamCount:        2,
		TeamVelocity:     40,
		BufferRatio:      0.2,
		PeriodLengthDays: 14,
		StartDate:        time.Date(2026, 7, 6, 0, 0, 0, 0, time.UTC),
		CreatedBy:        owner.DisplayName,
	}
	if err := s.store.InsertPlan(ctx, plan); err != nil {
		return err
	}

	theme := store.Theme{
		ID:     util.NewID("thm"),
		PlanID: plan.ID,
		Name:   "Billing",
		Color:  "#2563eb",
	}
	if err := s.store.InsertTheme(ctx, theme); err != nil {
		return err
	}

	seeds := []struct {
		Title  string
		Effort float64
		Seq    int
		Theme  bool
	}{
		{Title: "Usage metering pipeline", Effort: 30, Seq: 1, Theme: true},
		{Title: "Invoice generation service", Effort: 20, Seq: 2, Theme: true},
		{Title: "Self-serve plan upgrades", Effort: 12, Seq: 3},
		{Title: "Admin audit log", Effort: 8, Seq: 4},
	}
	itemIDs := make([]string, 0, len(seeds))
	for _, seed := range seeds {
		item := store.WorkItem{
			ID:            util.NewID("itm"),
			PlanID:        plan.ID,
			Title:         seed.Title,
			EffortPoints:  seed.Effort,
			Priority:      3,
			SequenceOrder: seed.Seq,
		}
		if seed.Theme {
			item.ThemeID = &theme.ID
		}
		if err := s.store.InsertWorkItem(ctx, item); err != nil {
			return err
		}
		itemIDs = append(itemIDs, item.ID)
	}

	if err := s.store.InsertDependencyEdge(ctx, store.DependencyEdge{
		ID:         util.NewID("edg"),
		PlanID:     plan.ID,
		FromItemID: itemIDs[0],
		ToItemID:   &itemIDs[1],
		Type:       string(schedule.DependencyBlocks),
		Confidence: 1,
	}); err != nil {
		return err
	}

	if s.snapshots != nil {
		if err := s.snapshots.EnsurePlanRepo(plan.ID, s.baselineSnapshot(plan, nil, nil), owner.DisplayName); err != nil {
			return err
		}
	}
	return nil
}

// --- sessions ---

func (s *Service) Login(ctx context.Context, name string) (Session, error) {
	userName := strings.TrimSpace(name)
	if userName == "" {
		userName = "User"
	}

	user, err := s.store.EnsureUserByName(ctx, userName)
	if err != nil {
		return Session{}, err
	}

	return s.issueSession(ctx, user)
}

func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	// The Redis record carries only the user id; re-resolve the current
	// display name and role from the primary store.
	if resolved, err := s.store.GetUserByID(ctx, user.ID); err == nil {
		user = resolved
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Role: user.Role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// --- plans ---

func (s *Service) ListPlans(ctx context.Context) ([]map[string]any, error) {
	plans, err := s.store.ListPlans(ctx)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(plans))
	for _, plan := range plans {
		workItems, err := s.store.ListWorkItems(ctx, plan.ID)
		if err != nil {
			return nil, err
		}
		payload := planPayload(plan)
		payload["itemCount"] = len(workItems)
		items = append(items, payload)
	}
	return items, nil
}

func (s *Service) CreatePlan(ctx context.Context, input PlanInput, userName string) (map[string]any, error) {
	plan := store.Plan{
		ID:               util.NewID("pln"),
		Name:             "Untitled Plan",
		Status:           "draft",
		TeamCount:        1,
		TeamVelocity:     40,
		BufferRatio:      0.2,
		PeriodLengthDays: 14,
		StartDate:        time.Now().UTC().Truncate(24 * time.Hour),
		CreatedBy:        userName,
	}
	if err := applyPlanInput(&plan, input); err != nil {
		return nil, err
	}

	if err := s.store.InsertPlan(ctx, plan); err != nil {
		return nil, err
	}
	if s.snapshots != nil {
		if err := s.snapshots.EnsurePlanRepo(plan.ID, s.baselineSnapshot(plan, nil, nil), userName); err != nil {
			return nil, err
		}
	}
	if s.search != nil {
		s.search.IndexPlan(search.PlanRecord{ID: plan.ID, Name: plan.Name, Status: plan.Status})
	}
	return planPayload(plan), nil
}

func (s *Service) GetPlanDetail(ctx context.Context, planID string) (map[string]any, error) {
	plan, err := s.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	items, err := s.store.ListWorkItems(ctx, planID)
	if err != nil {
		return nil, err
	}
	edges, err := s.store.ListDependencyEdges(ctx, planID)
	if err != nil {
		return nil, err
	}
	segments, err := s.store.ListSegments(ctx, planID)
	if err != nil {
		return nil, err
	}
	themes, err := s.store.ListThemes(ctx, planID)
	if err != nil {
		return nil, err
	}

	itemPayloads := make([]map[string]any, 0, len(items))
	for _, item := range items {
		itemPayloads = append(itemPayloads, itemPayload(item))
	}
	edgePayloads := make([]map[string]any, 0, len(edges))
	for _, edge := range edges {
		edgePayloads = append(edgePayloads, edgePayload(edge))
	}
	segmentPayloads := make([]map[string]any, 0, len(segments))
	for _, segment := range segments {
		segmentPayloads = append(segmentPayloads, segmentPayload(segment))
	}
	themePayloads := make([]map[string]any, 0, len(themes))
	for _, theme := range themes {
		themePayloads = append(themePayloads, themePayload(theme))
	}

	payload := planPayload(plan)
	payload["items"] = itemPayloads
	payload["edges"] = edgePayloads
	payload["segments"] = segmentPayloads
	payload["themes"] = themePayloads
	return payload, nil
}

func (s *Service) UpdatePlan(ctx context.Context, planID string, input PlanInput) (map[string]any, error) {
	plan, err := s.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if err := applyPlanInput(&plan, input); err != nil {
		return nil, err
	}
	if err := s.store.UpdatePlan(ctx, plan); err != nil {
		return nil, err
	}
	if s.search != nil {
		s.search.IndexPlan(search.PlanRecord{ID: plan.ID, Name: plan.Name, Status: plan.Status})
	}
	return planPayload(plan), nil
}

func (s *Service) DeletePlan(ctx context.Context, planID string) error {
	if _, err := s.store.GetPlan(ctx, planID); err != nil {
		return err
	}
	if err := s.store.DeletePlan(ctx, planID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeletePlan(planID)
	}
	return nil
}

func applyPlanInput(plan *store.Plan, input PlanInput) error {
	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name must not be empty", nil)
		}
		plan.Name = name
	}
	if input.Status != nil {
		if _, ok := allowedPlanStatuses[*input.Status]; !ok {
			return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid plan status", nil)
		}
		plan.Status = *input.Status
	}
	if input.TeamCount != nil {
		if *input.TeamCount < 1 {
			return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "teamCount must be at least 1", nil)
		}
		plan.TeamCount = *input.TeamCount
	}
	if input.TeamVelocity != nil {
		if *input.TeamVelocity <= 0 {
			return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "teamVelocity must be positive", nil)
		}
		plan.TeamVelocity = *input.TeamVelocity
	}
	if input.BufferRatio != nil {
		if *input.BufferRatio < 0 || *input.BufferRatio >= 1 {
			return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "bufferRatio must be in [0, 1)", nil)
		}
		plan.BufferRatio = *input.BufferRatio
	}
	if input.PeriodLengthDays != nil {
		if *input.PeriodLengthDays < 1 {
			return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "periodLengthDays must be at least 1", nil)
		}
		plan.PeriodLengthDays = *input.PeriodLengthDays
	}
	if input.StartDate != nil {
		parsed, err := time.Parse("2006-01-02", *input.StartDate)
		if err != nil {
			return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "startDate must be YYYY-MM-DD", nil)
		}
		plan.StartDate = parsed
	}
	return nil
}

// --- work items ---

func (s *Service) ListItems(ctx context.Context, planID string) ([]map[string]any, error) {
	if _, err := s.store.GetPlan(ctx, planID); err != nil {
		return nil, err
	}
	items, err := s.store.ListWorkItems(ctx, planID)
	if err != nil {
		return nil, err
	}
	payloads := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payloads = append(payloads, itemPayload(item))
	}
	return payloads, nil
}

func (s *Service) CreateItem(ctx context.Context, planID string, input ItemInput) (map[string]any, error) {
	if _, err := s.store.GetPlan(ctx, planID); err != nil {
		return nil, err
	}
	if input.Title == nil || strings.TrimSpace(*input.Title) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	if input.EffortPoints == nil || *input.EffortPoints <= 0 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "effortPoints must be positive", nil)
	}

	item := store.WorkItem{
		ID:           util.NewID("itm"),
		PlanID:       planID,
		Title:        strings.TrimSpace(*input.Title),
		EffortPoints: *input.EffortPoints,
		Priority:     3,
		ThemeID:      input.ThemeID,
	}
	if input.Priority != nil {
		item.Priority = *input.Priority
	}
	if input.SequenceOrder != nil {
		item.SequenceOrder = *input.SequenceOrder
	}
	if input.IsExcluded != nil {
		item.IsExcluded = *input.IsExcluded
	}

	if err := s.store.InsertWorkItem(ctx, item); err != nil {
		return nil, err
	}
	s.indexItem(item)
	return itemPayload(item), nil
}

func (s *Service) UpdateItem(ctx context.Context, planID, itemID string, input ItemInput) (map[string]any, error) {
	item, err := s.store.GetWorkItem(ctx, planID, itemID)
	if err != nil {
		return nil, err
	}

	if input.Title != nil {
		title := strings.TrimSpace(*input.Title)
		if title == "" {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title must not be empty", nil)
		}
		item.Title = title
	}
	if input.EffortPoints != nil {
		if *input.EffortPoints <= 0 {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "effortPoints must be positive", nil)
		}
		item.EffortPoints = *input.EffortPoints
	}
	if input.Priority != nil {
		item.Priority = *input.Priority
	}
	if input.SequenceOrder != nil {
		item.SequenceOrder = *input.SequenceOrder
	}
	if input.ThemeID != nil {
		item.ThemeID = input.ThemeID
	}
	if input.IsExcluded != nil {
		item.IsExcluded = *input.IsExcluded
	}

	// Manual edits to scheduling fields mark the item as hand-positioned
	// so the next full run is allowed to overwrite them knowingly.
	if input.AssignedTeam != nil {
		item.AssignedTeam = input.AssignedTeam
		item.IsManuallyPositioned = true
	}
	if input.AssignedPeriod != nil {
		item.AssignedPeriod = input.AssignedPeriod
		item.IsManuallyPositioned = true
	}
	if input.PeriodSpan != nil {
		if *input.PeriodSpan < 1 {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "periodSpan must be at least 1", nil)
		}
		item.PeriodSpan = input.PeriodSpan
		item.IsManuallyPositioned = true
	}

	if err := s.store.UpdateWorkItem(ctx, item); err != nil {
		return nil, err
	}
	s.indexItem(item)
	return itemPayload(item), nil
}

func (s *Service) indexItem(item store.WorkItem) {
	if s.search == nil {
		return
	}
	if item.IsExcluded {
		s.search.DeleteItem(item.ID)
		return
	}
	themeID := ""
	if item.ThemeID != nil {
		themeID = *item.ThemeID
	}
	s.search.IndexItem(search.ItemRecord{
		ID:         item.ID,
		Title:      item.Title,
		PlanID:     item.PlanID,
		ThemeID:    themeID,
		IsExcluded: item.IsExcluded,
	})
}

// --- dependency edges ---

func (s *Service) ListEdges(ctx context.Context, planID string) ([]map[string]any, error) {
	if _, err := s.store.GetPlan(ctx, planID); err != nil {
		return nil, err
	}
	edges, err := s.store.ListDependencyEdges(ctx, planID)
	if err != nil {
		return nil, err
	}
	payloads := make([]map[string]any, 0, len(edges))
	for _, edge := range edges {
		payloads = append(payloads, edgePayload(edge))
	}
	return payloads, nil
}

func (s *Service) CreateEdge(ctx context.Context, planID string, input EdgeInput) (map[string]any, error) {
	if _, err := s.store.GetPlan(ctx, planID); err != nil {
		return nil, err
	}

	edgeType := schedule.DependencyType(strings.TrimSpace(input.Type))
	if !edgeType.IsValid() {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid dependency type", nil)
	}
	if edgeType.IsOrdering() && (input.ToItemID == nil || strings.TrimSpace(*input.ToItemID) == "") {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "ordering edges require toItemId", nil)
	}

	if _, err := s.store.GetWorkItem(ctx, planID, input.FromItemID); err != nil {
		return nil, err
	}
	if input.ToItemID != nil && strings.TrimSpace(*input.ToItemID) != "" {
		if _, err := s.store.GetWorkItem(ctx, planID, *input.ToItemID); err != nil {
			return nil, err
		}
	}

	confidence := input.Confidence
	if confidence <= 0 || confidence > 1 {
		confidence = 1
	}

	edge := store.DependencyEdge{
		ID:         util.NewID("edg"),
		PlanID:     planID,
		FromItemID: input.FromItemID,
		ToItemID:   input.ToItemID,
		Type:       string(edgeType),
		Confidence: confidence,
		IsManual:   true,
	}
	if err := s.store.InsertDependencyEdge(ctx, edge); err != nil {
		return nil, err
	}
	return edgePayload(edge), nil
}

func (s *Service) DeleteEdge(ctx context.Context, planID, edgeID string) error {
	deleted, err := s.store.DeleteDependencyEdge(ctx, planID, edgeID)
	if err != nil {
		return err
	}
	if !deleted {
		return sql.ErrNoRows
	}
	return nil
}

// --- themes ---

func (s *Service) ListThemes(ctx context.Context, planID string) ([]map[string]any, error) {
	if _, err := s.store.GetPlan(ctx, planID); err != nil {
		return nil, err
	}
	themes, err := s.store.ListThemes(ctx, planID)
	if err != nil {
		return nil, err
	}
	payloads := make([]map[string]any, 0, len(themes))
	for _, theme := range themes {
		payloads = append(payloads, themePayload(theme))
	}
	return payloads, nil
}

func (s *Service) CreateTheme(ctx context.Context, planID string, input ThemeInput) (map[string]any, error) {
	if _, err := s.store.GetPlan(ctx, planID); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	theme := store.Theme{
		ID:     util.NewID("thm"),
		PlanID: planID,
		Name:   name,
		Color:  strings.TrimSpace(input.Color),
	}
	if err := s.store.InsertTheme(ctx, theme); err != nil {
		return nil, err
	}
	if s.search != nil {
		s.search.IndexTheme(search.ThemeRecord{ID: theme.ID, Name: theme.Name, PlanID: planID})
	}
	return themePayload(theme), nil
}

func (s *Service) DeleteTheme(ctx context.Context, planID, themeID string) error {
	deleted, err := s.store.DeleteTheme(ctx, planID, themeID)
	if err != nil {
		return err
	}
	if !deleted {
		return sql.ErrNoRows
	}
	return nil
}

// --- scheduling pipeline ---

// RunSchedule executes the full pipeline for one plan under the plan lock:
// cycle detection, sequencing, capacity scheduling, segment regeneration,
// snapshot commit, and run bookkeeping.
func (s *Service) RunSchedule(ctx context.Context, planID, userName string) (map[string]any, error) {
	lock := s.planLock(planID)
	lock.Lock()
	defer lock.Unlock()

	plan, err := s.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	items, err := s.store.ListWorkItems(ctx, planID)
	if err != nil {
		return nil, err
	}
	edges, err := s.store.ListDependencyEdges(ctx, planID)
	if err != nil {
		return nil, err
	}

	schedItems := toScheduleItems(items)
	schedEdges := toScheduleEdges(edges)
	cfg := capacityConfig(plan)

	report := schedule.DetectCycles(schedItems, schedEdges)
	orderedIDs := schedule.Sequence(schedItems, schedEdges)
	scheduled, err := schedule.Schedule(schedule.Reorder(schedItems, orderedIDs), cfg)
	if err != nil {
		if errors.Is(err, schedule.ErrNoCapacity) {
			return nil, domainError(http.StatusUnprocessableEntity, "NO_CAPACITY", "effective capacity must be positive", nil)
		}
		return nil, err
	}

	updated := mergeAssignments(items, scheduled)
	if err := s.store.SaveAssignments(ctx, planID, updated); err != nil {
		return nil, err
	}

	segments := autoSegments(planID, updated)
	if err := s.store.ReplaceAllSegments(ctx, planID, segments); err != nil {
		return nil, err
	}

	now := time.Now()
	if err := s.store.MarkPlanScheduled(ctx, planID, now); err != nil {
		return nil, err
	}
	plan.ScheduledAt = &now

	snapshotHash := ""
	if s.snapshots != nil {
		info, err := s.snapshots.CommitSnapshot(planID, s.baselineSnapshot(plan, updated, segments), userName, "Schedule run")
		if err != nil {
			return nil, fmt.Errorf("commit snapshot: %w", err)
		}
		snapshotHash = info.Hash
	}

	run := store.ScheduleRun{
		ID:           uuid.NewString(),
		PlanID:       planID,
		HasCycles:    report.HasCycles,
		CycleItemIDs: report.ItemIDs,
		ItemCount:    scheduledCount(updated),
		PeriodCount:  periodCount(updated),
		SnapshotHash: snapshotHash,
		CreatedBy:    userName,
		CreatedAt:    now,
	}
	if err := s.store.InsertScheduleRun(ctx, run); err != nil {
		return nil, err
	}

	for _, item := range updated {
		s.indexItem(item)
	}

	itemPayloads := make([]map[string]any, 0, len(updated))
	for _, item := range updated {
		itemPayloads = append(itemPayloads, itemPayload(item))
	}
	return map[string]any{
		"runId":        run.ID,
		"hasCycles":    report.HasCycles,
		"cycleItemIds": report.ItemIDs,
		"itemCount":    run.ItemCount,
		"periodCount":  run.PeriodCount,
		"snapshotHash": snapshotHash,
		"items":        itemPayloads,
	}, nil
}

// SequencePreview reports the cycle analysis and topological order without
// mutating anything.
func (s *Service) SequencePreview(ctx context.Context, planID string) (map[string]any, error) {
	if _, err := s.store.GetPlan(ctx, planID); err != nil {
		return nil, err
	}
	items, err := s.store.ListWorkItems(ctx, planID)
	if err != nil {
		return nil, err
	}
	edges, err := s.store.ListDependencyEdges(ctx, planID)
	if err != nil {
		return nil, err
	}

	schedItems := toScheduleItems(items)
	schedEdges := toScheduleEdges(edges)
	report := schedule.DetectCycles(schedItems, schedEdges)
	orderedIDs := schedule.Sequence(schedItems, schedEdges)

	return map[string]any{
		"orderedItemIds": orderedIDs,
		"hasCycles":      report.HasCycles,
		"cycleItemIds":   report.ItemIDs,
	}, nil
}

func (s *Service) Summary(ctx context.Context, planID string) (map[string]any, error) {
	plan, err := s.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	items, err := s.store.ListWorkItems(ctx, planID)
	if err != nil {
		return nil, err
	}

	summaries := schedule.Summarize(toScheduleItems(items), capacityConfig(plan))
	return map[string]any{
		"planId":  planID,
		"periods": summaries,
	}, nil
}

func (s *Service) ListRuns(ctx context.Context, planID string, limit int) ([]map[string]any, error) {
	if _, err := s.store.GetPlan(ctx, planID); err != nil {
		return nil, err
	}
	runs, err := s.store.ListScheduleRuns(ctx, planID, limit)
	if err != nil {
		return nil, err
	}
	payloads := make([]map[string]any, 0, len(runs))
	for _, run := range runs {
		payloads = append(payloads, map[string]any{
			"runId":        run.ID,
			"hasCycles":    run.HasCycles,
			"cycleItemIds": run.CycleItemIDs,
			"itemCount":    run.ItemCount,
			"periodCount":  run.PeriodCount,
			"snapshotHash": run.SnapshotHash,
			"createdBy":    run.CreatedBy,
			"createdAt":    run.CreatedAt,
		})
	}
	return payloads, nil
}

// --- history ---

func (s *Service) History(ctx context.Context, planID string, limit int) (map[string]any, error) {
	if _, err := s.store.GetPlan(ctx, planID); err != nil {
		return nil, err
	}
	if s.snapshots == nil {
		return map[string]any{"planId": planID, "snapshots": []map[string]any{}}, nil
	}
	infos, err := s.snapshots.History(planID, limit)
	if err != nil {
		return nil, err
	}
	entries := make([]map[string]any, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, map[string]any{
			"hash":      info.Hash,
			"message":   strings.TrimSpace(info.Message),
			"author":    info.Author,
			"createdAt": info.CreatedAt,
		})
	}
	return map[string]any{"planId": planID, "snapshots": entries}, nil
}

func (s *Service) HistorySnapshot(ctx context.Context, planID, hash string) (snapshot.Snapshot, error) {
	if _, err := s.store.GetPlan(ctx, planID); err != nil {
		return snapshot.Snapshot{}, err
	}
	if s.snapshots == nil {
		return snapshot.Snapshot{}, sql.ErrNoRows
	}
	return s.snapshots.GetSnapshotByHash(planID, hash)
}

// --- search ---

func (s *Service) Search(ctx context.Context, text, filterType, planID string, limit, offset int) (search.Response, error) {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	return s.search.Search(search.Query{
		Text:         text,
		FilterType:   search.ResultType(filterType),
		FilterPlanID: planID,
		Limit:        limit,
		Offset:       offset,
	}), nil
}

// --- conversions and payloads ---

func capacityConfig(plan store.Plan) schedule.CapacityConfig {
	return schedule.CapacityConfig{
		TeamCount:        plan.TeamCount,
		TeamVelocity:     plan.TeamVelocity,
		BufferRatio:      plan.BufferRatio,
		PeriodLengthDays: plan.PeriodLengthDays,
		StartDate:        plan.StartDate,
	}
}

func toScheduleItems(items []store.WorkItem) []schedule.WorkItem {
	out := make([]schedule.WorkItem, 0, len(items))
	for _, item := range items {
		out = append(out, schedule.WorkItem{
			ID:                   item.ID,
			Title:                item.Title,
			EffortPoints:         item.EffortPoints,
			Priority:             item.Priority,
			SequenceOrder:        item.SequenceOrder,
			ThemeID:              item.ThemeID,
			IsExcluded:           item.IsExcluded,
			AssignedTeam:         item.AssignedTeam,
			AssignedPeriod:       item.AssignedPeriod,
			PeriodSpan:           item.PeriodSpan,
			PeriodOffset:         item.PeriodOffset,
			IsManuallyPositioned: item.IsManuallyPositioned,
		})
	}
	return out
}

func toScheduleEdges(edges []store.DependencyEdge) []schedule.DependencyEdge {
	out := make([]schedule.DependencyEdge, 0, len(edges))
	for _, edge := range edges {
		out = append(out, schedule.DependencyEdge{
			FromItemID: edge.FromItemID,
			ToItemID:   edge.ToItemID,
			Type:       schedule.DependencyType(edge.Type),
			Confidence: edge.Confidence,
			IsManual:   edge.IsManual,
		})
	}
	return out
}

// mergeAssignments copies scheduler output back onto the stored items. A
// full run owns every scheduling field and clears manual-position flags.
func mergeAssignments(items []store.WorkItem, scheduled []schedule.WorkItem) []store.WorkItem {
	byID := make(map[string]schedule.WorkItem, len(scheduled))
	for _, item := range scheduled {
		byID[item.ID] = item
	}
	out := make([]store.WorkItem, 0, len(items))
	for _, item := range items {
		if result, ok := byID[item.ID]; ok {
			item.AssignedTeam = result.AssignedTeam
			item.AssignedPeriod = result.AssignedPeriod
			item.PeriodSpan = result.PeriodSpan
			item.PeriodOffset = result.PeriodOffset
		} else {
			item.AssignedTeam = nil
			item.AssignedPeriod = nil
			item.PeriodSpan = nil
			item.PeriodOffset = nil
		}
		item.IsManuallyPositioned = false
		out = append(out, item)
	}
	return out
}

// autoSegments builds the canonical one-segment-per-scheduled-item set.
func autoSegments(planID string, items []store.WorkItem) []store.Segment {
	segments := make([]store.Segment, 0, len(items))
	for _, item := range items {
		if item.AssignedPeriod == nil {
			continue
		}
		segments = append(segments, autoSegmentForItem(planID, item))
	}
	return segments
}

func autoSegmentForItem(planID string, item store.WorkItem) store.Segment {
	span := 1
	if item.PeriodSpan != nil {
		span = *item.PeriodSpan
	}
	return store.Segment{
		ID:            util.NewID("seg"),
		PlanID:        planID,
		ItemID:        item.ID,
		AssignedTeam:  item.AssignedTeam,
		StartPeriod:   *item.AssignedPeriod,
		PeriodCount:   span,
		EffortPoints:  item.EffortPoints,
		SequenceOrder: 1,
		Status:        "planned",
	}
}

func scheduledCount(items []store.WorkItem) int {
	count := 0
	for _, item := range items {
		if item.AssignedPeriod != nil {
			count++
		}
	}
	return count
}

func periodCount(items []store.WorkItem) int {
	last := 0
	for _, item := range items {
		if item.AssignedPeriod == nil {
			continue
		}
		span := 1
		if item.PeriodSpan != nil {
			span = *item.PeriodSpan
		}
		if end := *item.AssignedPeriod + span - 1; end > last {
			last = end
		}
	}
	return last
}

func (s *Service) baselineSnapshot(plan store.Plan, items []store.WorkItem, segments []store.Segment) snapshot.Snapshot {
	snap := snapshot.Snapshot{
		PlanName:         plan.Name,
		TeamCount:        plan.TeamCount,
		TeamVelocity:     plan.TeamVelocity,
		BufferRatio:      plan.BufferRatio,
		PeriodLengthDays: plan.PeriodLengthDays,
		StartDate:        plan.StartDate.Format("2006-01-02"),
		Items:            make([]snapshot.ItemState, 0, len(items)),
		Segments:         make([]snapshot.SegmentState, 0, len(segments)),
	}
	for _, item := range items {
		snap.Items = append(snap.Items, snapshot.ItemState{
			ID:             item.ID,
			Title:          item.Title,
			EffortPoints:   item.EffortPoints,
			AssignedTeam:   item.AssignedTeam,
			AssignedPeriod: item.AssignedPeriod,
			PeriodSpan:     item.PeriodSpan,
			PeriodOffset:   item.PeriodOffset,
			IsExcluded:     item.IsExcluded,
		})
	}
	for _, segment := range segments {
		snap.Segments = append(snap.Segments, snapshot.SegmentState{
			ID:            segment.ID,
			ItemID:        segment.ItemID,
			AssignedTeam:  segment.AssignedTeam,
			StartPeriod:   segment.StartPeriod,
			PeriodCount:   segment.PeriodCount,
			EffortPoints:  segment.EffortPoints,
			SequenceOrder: segment.SequenceOrder,
		})
	}
	return snap
}

func planPayload(plan store.Plan) map[string]any {
	payload := map[string]any{
		"id":               plan.ID,
		"name":             plan.Name,
		"status":           plan.Status,
		"teamCount":        plan.TeamCount,
		"teamVelocity":     plan.TeamVelocity,
		"bufferRatio":      plan.BufferRatio,
		"periodLengthDays": plan.PeriodLengthDays,
		"startDate":        plan.StartDate.Format("2006-01-02"),
		"createdBy":        plan.CreatedBy,
		"createdAt":        plan.CreatedAt,
		"updatedAt":        plan.UpdatedAt,
	}
	if plan.ScheduledAt != nil {
		payload["scheduledAt"] = *plan.ScheduledAt
	}
	return payload
}

func itemPayload(item store.WorkItem) map[string]any {
	return map[string]any{
		"id":                   item.ID,
		"planId":               item.PlanID,
		"title":                item.Title,
		"effortPoints":         item.EffortPoints,
		"priority":             item.Priority,
		"sequenceOrder":        item.SequenceOrder,
		"themeId":              item.ThemeID,
		"isExcluded":           item.IsExcluded,
		"assignedTeam":         item.AssignedTeam,
		"assignedPeriod":       item.AssignedPeriod,
		"periodSpan":           item.PeriodSpan,
		"periodOffset":         item.PeriodOffset,
		"isManuallyPositioned": item.IsManuallyPositioned,
	}
}

func edgePayload(edge store.DependencyEdge) map[string]any {
	return map[string]any{
		"id":         edge.ID,
		"planId":     edge.PlanID,
		"fromItemId": edge.FromItemID,
		"toItemId":   edge.ToItemID,
		"type":       edge.Type,
		"confidence": edge.Confidence,
		"isManual":   edge.IsManual,
	}
}

func themePayload(theme store.Theme) map[string]any {
	return map[string]any{
		"id":     theme.ID,
		"planId": theme.PlanID,
		"name":   theme.Name,
		"color":  theme.Color,
	}
}
