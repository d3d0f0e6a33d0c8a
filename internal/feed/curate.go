// Package feed builds the personalized article feed.
//
// The pipeline runs in a fixed order: newest first, drop forbidden themes,
// rank by preferred themes, keep the last day. Anonymous viewers skip the two
// personal steps.
package feed

import (
	"sort"
	"time"

	"newspaper/api/internal/identity"
	"newspaper/api/internal/store"
)

// RecencyWindow bounds how old a feed article may be. The bound is exclusive.
const RecencyWindow = 24 * time.Hour

// DisplayDateLayout renders as dd.MM.yyyy HH:mm:ss.
const DisplayDateLayout = "02.01.2006 15:04:05"

// FormatDisplayDate renders t in UTC using DisplayDateLayout.
func FormatDisplayDate(t time.Time) string {
	return t.UTC().Format(DisplayDateLayout)
}

// Curate returns the feed for viewer at now. The input slice and its
// articles are left untouched.
func Curate(articles []store.Article, viewer identity.Viewer, now time.Time) []store.Article {
	out := make([]store.Article, len(articles))
	for i := range articles {
		out[i] = articles[i].Clone()
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Date.After(out[j].Date)
	})

	switch v := viewer.(type) {
	case identity.Authenticated:
		out = personalize(out, v.User)
	case *identity.Authenticated:
		if v != nil {
			out = personalize(out, v.User)
		}
	case identity.Anonymous, *identity.Anonymous, nil:
	}

	recent := out[:0]
	for _, article := range out {
		if now.Sub(article.Date) < RecencyWindow {
			article.FormattedDate = FormatDisplayDate(article.Date)
			recent = append(recent, article)
		}
	}
	return recent
}

func personalize(articles []store.Article, user store.User) []store.Article {
	forbidden := themeSet(user.Forbid)
	kept := articles[:0]
	for _, article := range articles {
		if !intersects(article, forbidden) {
			kept = append(kept, article)
		}
	}

	preferred := themeSet(user.Prefer)
	ranked := make([]scored, len(kept))
	for i, article := range kept {
		ranked[i] = scored{article: article, score: Score(article, preferred)}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})
	for i := range ranked {
		kept[i] = ranked[i].article
	}
	return kept
}

type scored struct {
	article store.Article
	score   int
}

// Score counts how many of the preferred theme ids the article carries.
func Score(article store.Article, preferred map[int64]struct{}) int {
	score := 0
	for id := range article.ThemeIDs() {
		if _, ok := preferred[id]; ok {
			score++
		}
	}
	return score
}

func intersects(article store.Article, ids map[int64]struct{}) bool {
	if len(ids) == 0 {
		return false
	}
	for _, theme := range article.Themes {
		if _, ok := ids[theme.ID]; ok {
			return true
		}
	}
	return false
}

func themeSet(themes []store.Theme) map[int64]struct{} {
	set := make(map[int64]struct{}, len(themes))
	for _, theme := range themes {
		set[theme.ID] = struct{}{}
	}
	return set
}
