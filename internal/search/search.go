package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultPlan  ResultType = "plan"
	ResultItem  ResultType = "item"
	ResultTheme ResultType = "theme"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type    ResultType `json:"type"`
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	Snippet string     `json:"snippet"`
	PlanID  string     `json:"planId"`
	Status  string     `json:"status,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text         string
	FilterType   ResultType // empty = all types
	FilterPlanID string
	Limit        int
	Offset       int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexPlan(p PlanRecord) error
	IndexItem(i ItemRecord) error
	IndexTheme(t ThemeRecord) error
	DeletePlan(id string) error
	DeleteItem(id string) error
}

// PlanRecord is the data we index for a plan.
type PlanRecord struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// ItemRecord is the data we index for a work item.
type ItemRecord struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	PlanID     string `json:"planId"`
	ThemeID    string `json:"themeId"`
	IsExcluded bool   `json:"isExcluded"`
}

// ThemeRecord is the data we index for a theme.
type ThemeRecord struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	PlanID string `json:"planId"`
}
