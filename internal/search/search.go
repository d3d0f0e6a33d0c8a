package search

import "context"

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultArticle ResultType = "article"
	ResultComment ResultType = "comment"
)

// ParseResultType accepts "article", "comment" or "" (all types).
func ParseResultType(raw string) (ResultType, bool) {
	switch ResultType(raw) {
	case "":
		return "", true
	case ResultArticle, ResultComment:
		return ResultType(raw), true
	default:
		return "", false
	}
}

// Result is a single search hit returned to the caller.
type Result struct {
	Type      ResultType `json:"type"`
	ID        int64      `json:"id"`
	Title     string     `json:"title"`
	Snippet   string     `json:"snippet"`
	ArticleID int64      `json:"articleId"`
}

// Query describes a search request.
type Query struct {
	Text       string
	FilterType ResultType // empty = all types
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexArticle(ctx context.Context, a ArticleRecord) error
	IndexComment(ctx context.Context, c CommentRecord) error
	DeleteArticle(ctx context.Context, id int64) error
	DeleteComment(ctx context.Context, id int64) error
}

// ArticleRecord is the data we index for an article.
type ArticleRecord struct {
	ID      int64    `json:"id"`
	Header  string   `json:"header"`
	Content string   `json:"content"`
	Themes  []string `json:"themes"`
	Date    int64    `json:"date"`
}

// CommentRecord is the data we index for a comment.
type CommentRecord struct {
	ID        int64  `json:"id"`
	ArticleID int64  `json:"articleId"`
	Text      string `json:"text"`
	UserID    int64  `json:"userId"`
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 100 {
		return 100
	}
	return limit
}
