package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	gobreaker "github.com/sony/gobreaker/v2"

	"newspaper/api/internal/logging"
	"newspaper/api/internal/metrics"
)

const (
	idxArticles = "newspaper_articles"
	idxComments = "newspaper_comments"
)

// Meili implements Searcher and Indexer via Meilisearch. Calls go through a
// circuit breaker; while it is open Healthy reports false and callers fall
// back to Postgres.
type Meili struct {
	client  meili.ServiceManager
	breaker *gobreaker.CircuitBreaker[any]
}

// NewMeili creates a Meilisearch client and configures indexes when the
// server is reachable. It never fails; an unreachable server simply starts
// with a tripped breaker.
func NewMeili(url, apiKey string) *Meili {
	m := &Meili{client: meili.New(url, meili.WithAPIKey(apiKey))}
	m.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "meilisearch",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.SearchBackendState.Set(float64(to))
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("search backend state changed")
			if from == gobreaker.StateHalfOpen && to == gobreaker.StateClosed {
				go m.configureIndexes()
			}
		},
	})

	if _, err := m.client.Health(); err != nil {
		logging.Warn().Err(err).Str("url", url).Msg("meilisearch unavailable")
		for i := 0; i < 3; i++ {
			_, _ = m.breaker.Execute(func() (any, error) { return nil, err })
		}
	} else {
		m.configureIndexes()
	}
	return m
}

func (m *Meili) configureIndexes() {
	indexes := []struct {
		uid        string
		filterable []string
		searchable []string
	}{
		{
			uid:        idxArticles,
			filterable: []string{"themes", "date"},
			searchable: []string{"header", "content", "themes"},
		},
		{
			uid:        idxComments,
			filterable: []string{"articleId", "userId"},
			searchable: []string{"text"},
		},
	}

	for _, idx := range indexes {
		if _, err := m.client.CreateIndex(&meili.IndexConfig{
			Uid:        idx.uid,
			PrimaryKey: "id",
		}); err != nil {
			logging.Debug().Err(err).Str("index", idx.uid).Msg("create index (may already exist)")
		}

		index := m.client.Index(idx.uid)
		filterable := make([]interface{}, len(idx.filterable))
		for i, v := range idx.filterable {
			filterable[i] = v
		}
		if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
			logging.Warn().Err(err).Str("index", idx.uid).Msg("update filterable attributes")
		}
		if _, err := index.UpdateSearchableAttributes(&idx.searchable); err != nil {
			logging.Warn().Err(err).Str("index", idx.uid).Msg("update searchable attributes")
		}
	}
}

// Healthy reports whether the breaker lets requests through.
func (m *Meili) Healthy() bool {
	return m.breaker.State() != gobreaker.StateOpen
}

// Search queries both indexes (or the filtered one) and merges results.
func (m *Meili) Search(_ context.Context, q Query) ([]Result, int, error) {
	var queries []*meili.SearchRequest
	for _, target := range []struct {
		uid  string
		rtyp ResultType
	}{
		{idxArticles, ResultArticle},
		{idxComments, ResultComment},
	} {
		if q.FilterType != "" && q.FilterType != target.rtyp {
			continue
		}
		queries = append(queries, &meili.SearchRequest{
			IndexUID:              target.uid,
			Query:                 q.Text,
			Limit:                 int64(normalizeLimit(q.Limit)),
			Offset:                int64(q.Offset),
			AttributesToHighlight: []string{"*"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
		})
	}
	if len(queries) == 0 {
		return nil, 0, nil
	}

	out, err := m.breaker.Execute(func() (any, error) {
		return m.client.MultiSearch(&meili.MultiSearchRequest{Queries: queries})
	})
	if err != nil {
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}
	resp := out.(*meili.MultiSearchResponse)

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		rtyp := indexToResultType(sr.IndexUID)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit, rtyp))
		}
	}
	return results, total, nil
}

func indexToResultType(uid string) ResultType {
	switch uid {
	case idxArticles:
		return ResultArticle
	case idxComments:
		return ResultComment
	default:
		return ""
	}
}

func hitToResult(hit meili.Hit, rtyp ResultType) Result {
	r := Result{Type: rtyp, ID: decodeInt(hit, "id")}
	switch rtyp {
	case ResultArticle:
		r.ArticleID = r.ID
		r.Title = firstNonBlank(decodeFormattedString(hit, "header"), decodeString(hit, "header"))
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "content"), decodeString(hit, "content"))
	case ResultComment:
		r.ArticleID = decodeInt(hit, "articleId")
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "text"), decodeString(hit, "text"))
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeInt(hit meili.Hit, key string) int64 {
	raw, ok := hit[key]
	if !ok {
		return 0
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	return 0
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]any
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	s, _ := formatted[key].(string)
	return strings.TrimSpace(s)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func (m *Meili) write(fn func() error) error {
	_, err := m.breaker.Execute(func() (any, error) {
		return nil, fn()
	})
	return err
}

// IndexArticle adds or updates an article in the search index.
func (m *Meili) IndexArticle(_ context.Context, a ArticleRecord) error {
	return m.write(func() error {
		_, err := m.client.Index(idxArticles).AddDocuments([]ArticleRecord{a}, nil)
		return err
	})
}

// IndexComment adds or updates a comment in the search index.
func (m *Meili) IndexComment(_ context.Context, c CommentRecord) error {
	return m.write(func() error {
		_, err := m.client.Index(idxComments).AddDocuments([]CommentRecord{c}, nil)
		return err
	})
}

// DeleteArticle removes an article from the search index.
func (m *Meili) DeleteArticle(_ context.Context, id int64) error {
	return m.write(func() error {
		_, err := m.client.Index(idxArticles).DeleteDocument(strconv.FormatInt(id, 10), nil)
		return err
	})
}

// DeleteComment removes a comment from the search index.
func (m *Meili) DeleteComment(_ context.Context, id int64) error {
	return m.write(func() error {
		_, err := m.client.Index(idxComments).DeleteDocument(strconv.FormatInt(id, 10), nil)
		return err
	})
}

// IndexArticles bulk-indexes articles.
func (m *Meili) IndexArticles(articles []ArticleRecord) error {
	if len(articles) == 0 {
		return nil
	}
	return m.write(func() error {
		_, err := m.client.Index(idxArticles).AddDocuments(articles, nil)
		return err
	})
}

// IndexComments bulk-indexes comments.
func (m *Meili) IndexComments(comments []CommentRecord) error {
	if len(comments) == 0 {
		return nil
	}
	return m.write(func() error {
		_, err := m.client.Index(idxComments).AddDocuments(comments, nil)
		return err
	})
}
