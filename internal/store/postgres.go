package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- users ----

func (s *PostgresStore) EnsureUserByName(ctx context.Context, name string) (User, error) {
	const findUser = `SELECT id, display_name, role FROM users WHERE display_name = $1`
	var user User
	err := s.db.QueryRowContext(ctx, findUser, name).Scan(&user.ID, &user.DisplayName, &user.Role)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}

	insertUser := `
		INSERT INTO users (display_name, email, role, is_email_verified)
		VALUES ($1, CONCAT(LOWER(REPLACE($1, ' ', '.')), '@local.horizon.dev'), 'planner', TRUE)
		RETURNING id, display_name, role
	`
	if err := s.db.QueryRowContext(ctx, insertUser, name).Scan(&user.ID, &user.DisplayName, &user.Role); err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, role, is_email_verified
		FROM users WHERE id=$1 AND deactivated_at IS NULL
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role, &user.IsEmailVerified)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, role, is_email_verified
		FROM users WHERE LOWER(email)=LOWER($1) AND deactivated_at IS NULL
	`, email).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role, &user.IsEmailVerified)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	role := user.Role
	if role == "" {
		role = "planner"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, role, is_email_verified, verification_token)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, role, user.IsEmailVerified, user.VerificationToken)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET verification_token=$2, verification_expires_at=$3, updated_at=NOW() WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified=TRUE, verification_token='', verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token=$1 AND verification_expires_at > NOW()
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at) VALUES ($1, $2, $3)
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark reset used: %w", err)
	}
	return nil
}

// ---- auth sessions ----

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.display_name, u.role
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.DisplayName, &user.Role)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// ---- plans ----

const planColumns = `id, name, status, team_count, team_velocity, buffer_ratio, period_length_days, start_date, scheduled_at, created_by_name, created_at, updated_at`

func scanPlan(row interface{ Scan(...any) error }) (Plan, error) {
	var plan Plan
	err := row.Scan(
		&plan.ID, &plan.Name, &plan.Status,
		&plan.TeamCount, &plan.TeamVelocity, &plan.BufferRatio,
		&plan.PeriodLengthDays, &plan.StartDate, &plan.ScheduledAt,
		&plan.CreatedBy, &plan.CreatedAt, &plan.UpdatedAt,
	)
	return plan, err
}

func (s *PostgresStore) InsertPlan(ctx context.Context, plan Plan) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO plans (id, name, status, team_count, team_velocity, buffer_ratio, period_length_days, start_date, created_by_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, plan.ID, plan.Name, plan.Status, plan.TeamCount, plan.TeamVelocity, plan.BufferRatio,
		plan.PeriodLengthDays, plan.StartDate, plan.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert plan: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListPlans(ctx context.Context) ([]Plan, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+planColumns+` FROM plans ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	plans := make([]Plan, 0)
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		plans = append(plans, plan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plans: %w", err)
	}
	return plans, nil
}

func (s *PostgresStore) GetPlan(ctx context.Context, planID string) (Plan, error) {
	return scanPlan(s.db.QueryRowContext(ctx, `SELECT `+planColumns+` FROM plans WHERE id=$1`, planID))
}

func (s *PostgresStore) UpdatePlan(ctx context.Context, plan Plan) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE plans
		SET name=$2, status=$3, team_count=$4, team_velocity=$5, buffer_ratio=$6,
			period_length_days=$7, start_date=$8, updated_at=NOW()
		WHERE id=$1
	`, plan.ID, plan.Name, plan.Status, plan.TeamCount, plan.TeamVelocity, plan.BufferRatio,
		plan.PeriodLengthDays, plan.StartDate)
	if err != nil {
		return fmt.Errorf("update plan: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeletePlan(ctx context.Context, planID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM plans WHERE id=$1`, planID)
	if err != nil {
		return fmt.Errorf("delete plan: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkPlanScheduled(ctx context.Context, planID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE plans SET scheduled_at=$2, status='scheduled', updated_at=NOW() WHERE id=$1`, planID, at)
	if err != nil {
		return fmt.Errorf("mark plan scheduled: %w", err)
	}
	return nil
}

// ---- work items ----

const workItemColumns = `id, plan_id, title, effort_points, priority, sequence_order, theme_id, is_excluded,
	assigned_team, assigned_period, period_span, period_offset, is_manually_positioned, created_at, updated_at`

func scanWorkItem(row interface{ Scan(...any) error }) (WorkItem, error) {
	var item WorkItem
	err := row.Scan(
		&item.ID, &item.PlanID, &item.Title, &item.EffortPoints,
		&item.Priority, &item.SequenceOrder, &item.ThemeID, &item.IsExcluded,
		&item.AssignedTeam, &item.AssignedPeriod, &item.PeriodSpan, &item.PeriodOffset,
		&item.IsManuallyPositioned, &item.CreatedAt, &item.UpdatedAt,
	)
	return item, err
}

func (s *PostgresStore) ListWorkItems(ctx context.Context, planID string) ([]WorkItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+workItemColumns+` FROM work_items WHERE plan_id=$1 ORDER BY sequence_order, id
	`, planID)
	if err != nil {
		return nil, fmt.Errorf("list work items: %w", err)
	}
	defer rows.Close()

	items := make([]WorkItem, 0)
	for rows.Next() {
		item, err := scanWorkItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan work item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate work items: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetWorkItem(ctx context.Context, planID, itemID string) (WorkItem, error) {
	return scanWorkItem(s.db.QueryRowContext(ctx, `
		SELECT `+workItemColumns+` FROM work_items WHERE plan_id=$1 AND id=$2
	`, planID, itemID))
}

func (s *PostgresStore) InsertWorkItem(ctx context.Context, item WorkItem) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO work_items (id, plan_id, title, effort_points, priority, sequence_order, theme_id, is_excluded)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, item.ID, item.PlanID, item.Title, item.EffortPoints, item.Priority, item.SequenceOrder, item.ThemeID, item.IsExcluded)
	if err != nil {
		return fmt.Errorf("insert work item: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateWorkItem(ctx context.Context, item WorkItem) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE work_items
		SET title=$3, effort_points=$4, priority=$5, sequence_order=$6, theme_id=$7, is_excluded=$8,
			assigned_team=$9, assigned_period=$10, period_span=$11, period_offset=$12,
			is_manually_positioned=$13, updated_at=NOW()
		WHERE plan_id=$1 AND id=$2
	`, item.PlanID, item.ID, item.Title, item.EffortPoints, item.Priority, item.SequenceOrder,
		item.ThemeID, item.IsExcluded, item.AssignedTeam, item.AssignedPeriod, item.PeriodSpan,
		item.PeriodOffset, item.IsManuallyPositioned)
	if err != nil {
		return fmt.Errorf("update work item: %w", err)
	}
	return nil
}

// SaveAssignments writes the scheduler's output for a full run in one
// transaction: every item's assignment fields are replaced and the
// manual-position flag resets, since a full run re-derives everything.
func (s *PostgresStore) SaveAssignments(ctx context.Context, planID string, items []WorkItem) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin assignments tx: %w", err)
	}
	for _, item := range items {
		if _, err := tx.ExecContext(ctx, `
			UPDATE work_items
			SET assigned_team=$3, assigned_period=$4, period_span=$5, period_offset=$6,
				is_manually_positioned=FALSE, updated_at=NOW()
			WHERE plan_id=$1 AND id=$2
		`, planID, item.ID, item.AssignedTeam, item.AssignedPeriod, item.PeriodSpan, item.PeriodOffset); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("save assignment %s: %w", item.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit assignments: %w", err)
	}
	return nil
}

// ---- dependency edges ----

func (s *PostgresStore) ListDependencyEdges(ctx context.Context, planID string) ([]DependencyEdge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, plan_id, from_item_id, to_item_id, dependency_type, confidence, is_manual, created_at
		FROM dependency_edges WHERE plan_id=$1 ORDER BY created_at, id
	`, planID)
	if err != nil {
		return nil, fmt.Errorf("list dependency edges: %w", err)
	}
	defer rows.Close()

	edges := make([]DependencyEdge, 0)
	for rows.Next() {
		var edge DependencyEdge
		if err := rows.Scan(&edge.ID, &edge.PlanID, &edge.FromItemID, &edge.ToItemID,
			&edge.Type, &edge.Confidence, &edge.IsManual, &edge.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan dependency edge: %w", err)
		}
		edges = append(edges, edge)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dependency edges: %w", err)
	}
	return edges, nil
}

func (s *PostgresStore) InsertDependencyEdge(ctx context.Context, edge DependencyEdge) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dependency_edges (id, plan_id, from_item_id, to_item_id, dependency_type, confidence, is_manual)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, edge.ID, edge.PlanID, edge.FromItemID, edge.ToItemID, edge.Type, edge.Confidence, edge.IsManual)
	if err != nil {
		return fmt.Errorf("insert dependency edge: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteDependencyEdge(ctx context.Context, planID, edgeID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM dependency_edges WHERE plan_id=$1 AND id=$2`, planID, edgeID)
	if err != nil {
		return false, fmt.Errorf("delete dependency edge: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete dependency edge rows: %w", err)
	}
	return affected > 0, nil
}

// ---- segments ----

const segmentColumns = `id, plan_id, item_id, assigned_team, start_period, period_count, effort_points,
	sequence_order, row_index, is_manually_positioned, status, created_at, updated_at`

func scanSegment(row interface{ Scan(...any) error }) (Segment, error) {
	var segment Segment
	err := row.Scan(
		&segment.ID, &segment.PlanID, &segment.ItemID, &segment.AssignedTeam,
		&segment.StartPeriod, &segment.PeriodCount, &segment.EffortPoints,
		&segment.SequenceOrder, &segment.RowIndex, &segment.IsManuallyPositioned,
		&segment.Status, &segment.CreatedAt, &segment.UpdatedAt,
	)
	return segment, err
}

func (s *PostgresStore) ListSegments(ctx context.Context, planID string) ([]Segment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+segmentColumns+` FROM segments WHERE plan_id=$1 ORDER BY item_id, sequence_order
	`, planID)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	defer rows.Close()

	segments := make([]Segment, 0)
	for rows.Next() {
		segment, err := scanSegment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		segments = append(segments, segment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate segments: %w", err)
	}
	return segments, nil
}

func (s *PostgresStore) ListSegmentsForItem(ctx context.Context, planID, itemID string) ([]Segment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+segmentColumns+` FROM segments WHERE plan_id=$1 AND item_id=$2 ORDER BY sequence_order
	`, planID, itemID)
	if err != nil {
		return nil, fmt.Errorf("list item segments: %w", err)
	}
	defer rows.Close()

	segments := make([]Segment, 0)
	for rows.Next() {
		segment, err := scanSegment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		segments = append(segments, segment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate item segments: %w", err)
	}
	return segments, nil
}

func (s *PostgresStore) GetSegment(ctx context.Context, planID, segmentID string) (Segment, error) {
	return scanSegment(s.db.QueryRowContext(ctx, `
		SELECT `+segmentColumns+` FROM segments WHERE plan_id=$1 AND id=$2
	`, planID, segmentID))
}

func (s *PostgresStore) InsertSegment(ctx context.Context, segment Segment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO segments (id, plan_id, item_id, assigned_team, start_period, period_count,
			effort_points, sequence_order, row_index, is_manually_positioned, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, segment.ID, segment.PlanID, segment.ItemID, segment.AssignedTeam, segment.StartPeriod,
		segment.PeriodCount, segment.EffortPoints, segment.SequenceOrder, segment.RowIndex,
		segment.IsManuallyPositioned, segment.Status)
	if err != nil {
		return fmt.Errorf("insert segment: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveSegment(ctx context.Context, segment Segment) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE segments
		SET assigned_team=$3, start_period=$4, period_count=$5, effort_points=$6,
			sequence_order=$7, row_index=$8, is_manually_positioned=$9, status=$10, updated_at=NOW()
		WHERE plan_id=$1 AND id=$2
	`, segment.PlanID, segment.ID, segment.AssignedTeam, segment.StartPeriod, segment.PeriodCount,
		segment.EffortPoints, segment.SequenceOrder, segment.RowIndex, segment.IsManuallyPositioned, segment.Status)
	if err != nil {
		return fmt.Errorf("save segment: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteSegment(ctx context.Context, planID, segmentID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM segments WHERE plan_id=$1 AND id=$2`, planID, segmentID)
	if err != nil {
		return false, fmt.Errorf("delete segment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete segment rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) DeleteSegmentsForItem(ctx context.Context, planID, itemID string) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM segments WHERE plan_id=$1 AND item_id=$2`, planID, itemID)
	if err != nil {
		return 0, fmt.Errorf("delete item segments: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete item segments rows: %w", err)
	}
	return int(affected), nil
}

// ReplaceAllSegments swaps the plan's entire segment set in one
// transaction. Used after a full scheduling run regenerates the canonical
// auto segments.
func (s *PostgresStore) ReplaceAllSegments(ctx context.Context, planID string, segments []Segment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin segments tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM segments WHERE plan_id=$1`, planID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("clear segments: %w", err)
	}
	for _, segment := range segments {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO segments (id, plan_id, item_id, assigned_team, start_period, period_count,
				effort_points, sequence_order, row_index, is_manually_positioned, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, segment.ID, planID, segment.ItemID, segment.AssignedTeam, segment.StartPeriod,
			segment.PeriodCount, segment.EffortPoints, segment.SequenceOrder, segment.RowIndex,
			segment.IsManuallyPositioned, segment.Status); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert segment %s: %w", segment.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit segments: %w", err)
	}
	return nil
}

func (s *PostgresStore) NextSegmentSequence(ctx context.Context, planID, itemID string) (int, error) {
	var next int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(sequence_order), 0) + 1 FROM segments WHERE plan_id=$1 AND item_id=$2
	`, planID, itemID).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next segment sequence: %w", err)
	}
	return next, nil
}

// ---- themes ----

func (s *PostgresStore) ListThemes(ctx context.Context, planID string) ([]Theme, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, plan_id, name, color, created_at FROM themes WHERE plan_id=$1 ORDER BY name
	`, planID)
	if err != nil {
		return nil, fmt.Errorf("list themes: %w", err)
	}
	defer rows.Close()

	themes := make([]Theme, 0)
	for rows.Next() {
		var theme Theme
		if err := rows.Scan(&theme.ID, &theme.PlanID, &theme.Name, &theme.Color, &theme.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan theme: %w", err)
		}
		themes = append(themes, theme)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate themes: %w", err)
	}
	return themes, nil
}

func (s *PostgresStore) InsertTheme(ctx context.Context, theme Theme) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO themes (id, plan_id, name, color) VALUES ($1, $2, $3, $4)
	`, theme.ID, theme.PlanID, theme.Name, theme.Color)
	if err != nil {
		return fmt.Errorf("insert theme: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteTheme(ctx context.Context, planID, themeID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM themes WHERE plan_id=$1 AND id=$2`, planID, themeID)
	if err != nil {
		return false, fmt.Errorf("delete theme: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete theme rows: %w", err)
	}
	return affected > 0, nil
}

// ---- schedule runs ----

func (s *PostgresStore) InsertScheduleRun(ctx context.Context, run ScheduleRun) error {
	cycleIDs, err := json.Marshal(run.CycleItemIDs)
	if err != nil {
		return fmt.Errorf("marshal cycle ids: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO schedule_runs (id, plan_id, has_cycles, cycle_item_ids, item_count, period_count, snapshot_hash, created_by_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, run.ID, run.PlanID, run.HasCycles, cycleIDs, run.ItemCount, run.PeriodCount, run.SnapshotHash, run.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert schedule run: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListScheduleRuns(ctx context.Context, planID string, limit int) ([]ScheduleRun, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, plan_id, has_cycles, cycle_item_ids, item_count, period_count, snapshot_hash, created_by_name, created_at
		FROM schedule_runs WHERE plan_id=$1 ORDER BY created_at DESC LIMIT $2
	`, planID, limit)
	if err != nil {
		return nil, fmt.Errorf("list schedule runs: %w", err)
	}
	defer rows.Close()

	runs := make([]ScheduleRun, 0)
	for rows.Next() {
		var run ScheduleRun
		var cycleIDs []byte
		if err := rows.Scan(&run.ID, &run.PlanID, &run.HasCycles, &cycleIDs, &run.ItemCount,
			&run.PeriodCount, &run.SnapshotHash, &run.CreatedBy, &run.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan schedule run: %w", err)
		}
		if len(cycleIDs) > 0 {
			if err := json.Unmarshal(cycleIDs, &run.CycleItemIDs); err != nil {
				return nil, fmt.Errorf("unmarshal cycle ids: %w", err)
			}
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schedule runs: %w", err)
	}
	return runs, nil
}
