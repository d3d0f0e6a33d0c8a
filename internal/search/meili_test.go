package search

import (
	"encoding/json"
	"testing"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/stretchr/testify/assert"
)

func TestHitToResultArticlePrefersHighlight(t *testing.T) {
	hit := meili.Hit{
		"id":         json.RawMessage(`7`),
		"header":     json.RawMessage(`"Derby tonight"`),
		"content":    json.RawMessage(`"City meets United"`),
		"_formatted": json.RawMessage(`{"id":"7","header":"<mark>Derby</mark> tonight","content":""}`),
	}
	r := hitToResult(hit, ResultArticle)
	assert.Equal(t, int64(7), r.ID)
	assert.Equal(t, int64(7), r.ArticleID)
	assert.Equal(t, "<mark>Derby</mark> tonight", r.Title)
	assert.Equal(t, "City meets United", r.Snippet)
}

func TestHitToResultComment(t *testing.T) {
	hit := meili.Hit{
		"id":        json.RawMessage(`12`),
		"articleId": json.RawMessage(`3`),
		"text":      json.RawMessage(`"great match"`),
	}
	r := hitToResult(hit, ResultComment)
	assert.Equal(t, ResultComment, r.Type)
	assert.Equal(t, int64(12), r.ID)
	assert.Equal(t, int64(3), r.ArticleID)
	assert.Equal(t, "great match", r.Snippet)
}

func TestIndexToResultType(t *testing.T) {
	assert.Equal(t, ResultArticle, indexToResultType(idxArticles))
	assert.Equal(t, ResultComment, indexToResultType(idxComments))
	assert.Equal(t, ResultType(""), indexToResultType("other"))
}
