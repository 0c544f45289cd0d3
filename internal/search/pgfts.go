package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across plans, work_items, and themes
// using plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	// Plans sub-query
	if q.FilterType == "" || q.FilterType == ResultPlan {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'plan'::text AS type, p.id, p.name AS title,
				ts_headline('english', p.name, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				p.id AS plan_id, p.status,
				ts_rank(p.fts, %s) AS rank
			FROM plans p
			WHERE p.fts @@ %s`, tsQuery, tsQuery, tsQuery))
	}

	// Work items sub-query
	if q.FilterType == "" || q.FilterType == ResultItem {
		itemWhere := "w.fts @@ " + tsQuery
		if q.FilterPlanID != "" {
			itemWhere += fmt.Sprintf(" AND w.plan_id = $%d", argN)
			args = append(args, q.FilterPlanID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'item'::text AS type, w.id, w.title,
				ts_headline('english', w.title, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				w.plan_id, ''::text AS status,
				ts_rank(w.fts, %s) AS rank
			FROM work_items w
			WHERE %s`, tsQuery, tsQuery, itemWhere))
	}

	// Themes sub-query
	if q.FilterType == "" || q.FilterType == ResultTheme {
		themeWhere := "t.fts @@ " + tsQuery
		if q.FilterPlanID != "" {
			themeWhere += fmt.Sprintf(" AND t.plan_id = $%d", argN)
			args = append(args, q.FilterPlanID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'theme'::text AS type, t.id, t.name AS title,
				ts_headline('english', t.name, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				t.plan_id, ''::text AS status,
				ts_rank(t.fts, %s) AS rank
			FROM themes t
			WHERE %s`, tsQuery, tsQuery, themeWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, plan_id, status
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.PlanID, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]PlanRecord, []ItemRecord, []ThemeRecord, error) {
	planRows, err := p.db.QueryContext(ctx, `
		SELECT id, name, status
		FROM plans
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load plans: %w", err)
	}
	defer planRows.Close()

	plans := make([]PlanRecord, 0)
	for planRows.Next() {
		var pr PlanRecord
		if err := planRows.Scan(&pr.ID, &pr.Name, &pr.Status); err != nil {
			return nil, nil, nil, fmt.Errorf("scan plan: %w", err)
		}
		plans = append(plans, pr)
	}
	if err := planRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate plans: %w", err)
	}

	itemRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, plan_id, COALESCE(theme_id, ''), is_excluded
		FROM work_items
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load work items: %w", err)
	}
	defer itemRows.Close()

	items := make([]ItemRecord, 0)
	for itemRows.Next() {
		var ir ItemRecord
		if err := itemRows.Scan(&ir.ID, &ir.Title, &ir.PlanID, &ir.ThemeID, &ir.IsExcluded); err != nil {
			return nil, nil, nil, fmt.Errorf("scan work item: %w", err)
		}
		items = append(items, ir)
	}
	if err := itemRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate work items: %w", err)
	}

	themeRows, err := p.db.QueryContext(ctx, `
		SELECT id, name, plan_id
		FROM themes
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load themes: %w", err)
	}
	defer themeRows.Close()

	themes := make([]ThemeRecord, 0)
	for themeRows.Next() {
		var tr ThemeRecord
		if err := themeRows.Scan(&tr.ID, &tr.Name, &tr.PlanID); err != nil {
			return nil, nil, nil, fmt.Errorf("scan theme: %w", err)
		}
		themes = append(themes, tr)
	}
	if err := themeRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate themes: %w", err)
	}

	return plans, items, themes, nil
}
