package search

import (
	"context"
	"errors"

	"newspaper/api/internal/logging"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	primary  Backend
	fallback Searcher
}

// Backend is a searcher that also maintains its own index.
type Backend interface {
	Searcher
	Indexer
	IndexArticles(articles []ArticleRecord) error
	IndexComments(comments []CommentRecord) error
}

// Loader produces every searchable record for a full reindex.
type Loader interface {
	LoadAllRecords(ctx context.Context) ([]ArticleRecord, []CommentRecord, error)
}

// ErrNoBackend is returned by index operations when no primary backend is set.
var ErrNoBackend = errors.New("search backend not configured")

// NewService creates a search service. primary may be nil if Meilisearch is
// not configured; fallback may be nil when no database is available.
func NewService(primary Backend, fallback Searcher) *Service {
	return &Service{primary: primary, fallback: fallback}
}

// Search tries the primary backend if healthy, otherwise falls back.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.primary != nil && s.primary.Healthy() {
		results, total, err := s.primary.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		logging.Ctx(ctx).Warn().Err(err).Msg("search: primary backend failed, falling back to pgfts")
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("search: pgfts failed")
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

func (s *Service) ready() error {
	if s.primary == nil {
		return ErrNoBackend
	}
	return nil
}

func (s *Service) IndexArticle(ctx context.Context, a ArticleRecord) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.primary.IndexArticle(ctx, a)
}

func (s *Service) IndexComment(ctx context.Context, c CommentRecord) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.primary.IndexComment(ctx, c)
}

func (s *Service) DeleteArticle(ctx context.Context, id int64) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.primary.DeleteArticle(ctx, id)
}

func (s *Service) DeleteComment(ctx context.Context, id int64) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.primary.DeleteComment(ctx, id)
}

// Reindex reads all entities through loader and pushes them to the primary
// backend. Called at startup when Meilisearch is reachable.
func (s *Service) Reindex(ctx context.Context, loader Loader) {
	if s.primary == nil || !s.primary.Healthy() || loader == nil {
		return
	}
	articles, comments, err := loader.LoadAllRecords(ctx)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("search: reindex load failed")
		return
	}
	if err := s.primary.IndexArticles(articles); err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("search: reindex articles")
	}
	if err := s.primary.IndexComments(comments); err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("search: reindex comments")
	}
	logging.Ctx(ctx).Info().Int("articles", len(articles)).Int("comments", len(comments)).Msg("search: reindex complete")
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
