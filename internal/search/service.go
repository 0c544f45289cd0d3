package search

import (
	"context"
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexPlan indexes a plan (fire-and-forget to Meilisearch).
func (s *Service) IndexPlan(p PlanRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexPlan(p); err != nil {
			log.Printf("search: index plan %s: %v", p.ID, err)
		}
	}()
}

// IndexItem indexes a work item (fire-and-forget to Meilisearch).
func (s *Service) IndexItem(i ItemRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexItem(i); err != nil {
			log.Printf("search: index item %s: %v", i.ID, err)
		}
	}()
}

// IndexTheme indexes a theme (fire-and-forget to Meilisearch).
func (s *Service) IndexTheme(t ThemeRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexTheme(t); err != nil {
			log.Printf("search: index theme %s: %v", t.ID, err)
		}
	}()
}

// DeletePlan removes a plan from the search index (fire-and-forget).
func (s *Service) DeletePlan(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeletePlan(id); err != nil {
			log.Printf("search: delete plan %s: %v", id, err)
		}
	}()
}

// DeleteItem removes a work item from the search index (fire-and-forget).
func (s *Service) DeleteItem(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteItem(id); err != nil {
			log.Printf("search: delete item %s: %v", id, err)
		}
	}()
}

// ReindexAll pushes pre-loaded records to Meilisearch.
func (s *Service) ReindexAll(plans []PlanRecord, items []ItemRecord, themes []ThemeRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}

	if len(plans) > 0 {
		if err := s.meili.IndexPlans(plans); err != nil {
			log.Printf("search: reindex plans: %v", err)
		}
	}
	if len(items) > 0 {
		if err := s.meili.IndexItems(items); err != nil {
			log.Printf("search: reindex items: %v", err)
		}
	}
	if len(themes) > 0 {
		if err := s.meili.IndexThemes(themes); err != nil {
			log.Printf("search: reindex themes: %v", err)
		}
	}
}

// ReindexAllFromPG reindexes all searchable entities from PostgreSQL into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	plans, items, themes, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	s.ReindexAll(plans, items, themes)
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
