package search

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"
)

// Service is the facade that tries the search backend first and falls back to PG FTS.
type Service struct {
	backend  Backend
	fallback Fallback
}

// NewService creates a search service. backend may be nil if Meilisearch is not configured.
func NewService(backend Backend, fallback Fallback) *Service {
	return &Service{backend: backend, fallback: fallback}
}

func (s *Service) backendReady() bool {
	return s.backend != nil && s.backend.Healthy()
}

// Search tries the backend if healthy, otherwise falls back to PG FTS. Failures degrade to an
// empty response.
func (s *Service) Search(ctx context.Context, q Query) Response {
	q.Text = strings.TrimSpace(q.Text)
	q.Limit = normalizeLimit(q.Limit)
	if q.Offset < 0 {
		q.Offset = 0
	}
	empty := Response{Results: []Result{}, Total: 0, Query: q.Text}
	if q.Text == "" || q.OwnerID == "" {
		return empty
	}

	if s.backendReady() {
		results, total, err := s.backend.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Warn().Err(err).Msg("search: backend error, falling back to pgfts")
	}
	if s.fallback == nil {
		return empty
	}

	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		log.Error().Err(err).Msg("search: pgfts error")
		return empty
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexPage indexes a page (fire-and-forget).
func (s *Service) IndexPage(record PageRecord) {
	if !s.backendReady() {
		return
	}
	go func() {
		if err := s.backend.IndexPage(record); err != nil {
			log.Error().Err(err).Str("page", record.ID).Msg("search: index page")
		}
	}()
}

// DeletePage removes a page from the search index (fire-and-forget).
func (s *Service) DeletePage(id string) {
	if !s.backendReady() {
		return
	}
	go func() {
		if err := s.backend.DeletePage(id); err != nil {
			log.Error().Err(err).Str("page", id).Msg("search: delete page")
		}
	}()
}

// ReindexAllFromPG reads every page from PostgreSQL and pushes it to the backend.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if !s.backendReady() || s.fallback == nil {
		return
	}
	records, err := s.fallback.LoadAllRecords(ctx)
	if err != nil {
		log.Error().Err(err).Msg("search: reindex load failed")
		return
	}
	if len(records) == 0 {
		return
	}
	if err := s.backend.IndexPages(records); err != nil {
		log.Error().Err(err).Int("pages", len(records)).Msg("search: reindex pages")
		return
	}
	log.Info().Int("pages", len(records)).Msg("search: reindexed pages")
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
