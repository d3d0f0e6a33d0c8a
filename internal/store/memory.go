package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore is an in-process Repository used by tests and by local runs
// without Postgres. WithinTx serializes transactions and restores a snapshot
// when the callback fails.
type MemoryStore struct {
	txMu sync.Mutex
	mu   sync.RWMutex

	articles map[int64]Article
	comments map[int64]Comment
	themes   map[int64]Theme
	users    map[int64]User

	nextArticleID int64
	nextCommentID int64
	nextThemeID   int64

	// insertThemeHook runs before InsertTheme checks for a duplicate. Tests
	// use it to simulate a concurrent writer.
	insertThemeHook func(name string)
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		articles: map[int64]Article{},
		comments: map[int64]Comment{},
		themes:   map[int64]Theme{},
		users:    map[int64]User{},
	}
}

// SeedUser adds or replaces a user record.
func (m *MemoryStore) SeedUser(user User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = user
}

// SetInsertThemeHook installs fn to run at the start of every InsertTheme.
func (m *MemoryStore) SetInsertThemeHook(fn func(name string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertThemeHook = fn
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) WithinTx(ctx context.Context, fn func(Repository) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	snap := m.snapshot()
	if err := fn(memoryTx{m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

// memoryTx makes nested WithinTx calls run inline.
type memoryTx struct{ *MemoryStore }

func (t memoryTx) WithinTx(_ context.Context, fn func(Repository) error) error {
	return fn(t)
}

type memorySnapshot struct {
	articles map[int64]Article
	comments map[int64]Comment
	themes   map[int64]Theme

	nextArticleID int64
	nextCommentID int64
	nextThemeID   int64
}

func (m *MemoryStore) snapshot() memorySnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := memorySnapshot{
		articles:      make(map[int64]Article, len(m.articles)),
		comments:      make(map[int64]Comment, len(m.comments)),
		themes:        make(map[int64]Theme, len(m.themes)),
		nextArticleID: m.nextArticleID,
		nextCommentID: m.nextCommentID,
		nextThemeID:   m.nextThemeID,
	}
	for id, a := range m.articles {
		snap.articles[id] = a.Clone()
	}
	for id, c := range m.comments {
		snap.comments[id] = c
	}
	for id, t := range m.themes {
		snap.themes[id] = t
	}
	return snap
}

func (m *MemoryStore) restore(snap memorySnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.articles = snap.articles
	m.comments = snap.comments
	m.themes = snap.themes
	m.nextArticleID = snap.nextArticleID
	m.nextCommentID = snap.nextCommentID
	m.nextThemeID = snap.nextThemeID
}

func (m *MemoryStore) ListArticles(context.Context) ([]Article, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]int64, 0, len(m.articles))
	for id := range m.articles {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]Article, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.assembleLocked(id))
	}
	return out, nil
}

func (m *MemoryStore) GetArticle(_ context.Context, id int64) (Article, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.articles[id]; !ok {
		return Article{}, ErrNotFound
	}
	return m.assembleLocked(id), nil
}

// assembleLocked attaches the article's comments, ordered by id.
func (m *MemoryStore) assembleLocked(id int64) Article {
	article := m.articles[id].Clone()
	article.Comments = make([]Comment, 0)
	for _, c := range m.comments {
		if c.ArticleID == id {
			article.Comments = append(article.Comments, c)
		}
	}
	sort.Slice(article.Comments, func(i, j int) bool { return article.Comments[i].ID < article.Comments[j].ID })
	return article
}

func (m *MemoryStore) InsertArticle(_ context.Context, article Article) (Article, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextArticleID++
	saved := article.Clone()
	saved.ID = m.nextArticleID
	m.writeLocked(&saved)
	return m.assembleLocked(saved.ID), nil
}

func (m *MemoryStore) UpdateArticle(_ context.Context, article Article) (Article, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.articles[article.ID]; !ok {
		return Article{}, ErrNotFound
	}
	saved := article.Clone()
	m.writeLocked(&saved)
	return m.assembleLocked(saved.ID), nil
}

func (m *MemoryStore) writeLocked(article *Article) {
	for i := range article.Comments {
		c := &article.Comments[i]
		if c.ID != 0 {
			continue
		}
		m.nextCommentID++
		c.ID = m.nextCommentID
		c.ArticleID = article.ID
		m.comments[c.ID] = *c
	}
	row := article.Clone()
	row.Themes = dedupeThemes(row.Themes)
	row.Likes = dedupeIDs(row.Likes)
	row.Comments = nil
	row.FormattedDate = ""
	m.articles[row.ID] = row
}

// DeleteArticle refuses to orphan comments, matching the foreign key in
// the Postgres schema.
func (m *MemoryStore) DeleteArticle(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.articles[id]; !ok {
		return ErrNotFound
	}
	for _, c := range m.comments {
		if c.ArticleID == id {
			return fmt.Errorf("delete article %d: comment %d still references it: %w", id, c.ID, ErrConflict)
		}
	}
	delete(m.articles, id)
	return nil
}

func (m *MemoryStore) ListThemes(context.Context) ([]Theme, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Theme, 0, len(m.themes))
	for _, t := range m.themes {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) FindThemeByName(_ context.Context, name string) (Theme, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.themes {
		if t.Name == name {
			return t, nil
		}
	}
	return Theme{}, ErrNotFound
}

func (m *MemoryStore) InsertTheme(_ context.Context, name string) (Theme, error) {
	m.mu.RLock()
	hook := m.insertThemeHook
	m.mu.RUnlock()
	if hook != nil {
		hook(name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.themes {
		if t.Name == name {
			return Theme{}, ErrConflict
		}
	}
	m.nextThemeID++
	theme := Theme{ID: m.nextThemeID, Name: name}
	m.themes[theme.ID] = theme
	return theme, nil
}

// ThemeCount reports the number of stored themes.
func (m *MemoryStore) ThemeCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.themes)
}

func (m *MemoryStore) GetComment(_ context.Context, id int64) (Comment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.comments[id]
	if !ok {
		return Comment{}, ErrNotFound
	}
	return c, nil
}

func (m *MemoryStore) DeleteComment(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.comments[id]; !ok {
		return ErrNotFound
	}
	delete(m.comments, id)
	return nil
}

func (m *MemoryStore) GetUserByID(_ context.Context, id int64) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (m *MemoryStore) ListUsers(context.Context) ([]User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func dedupeThemes(in []Theme) []Theme {
	seen := make(map[int64]struct{}, len(in))
	out := make([]Theme, 0, len(in))
	for _, t := range in {
		if _, ok := seen[t.ID]; ok {
			continue
		}
		seen[t.ID] = struct{}{}
		out = append(out, t)
	}
	return out
}

func dedupeIDs(in []int64) []int64 {
	seen := make(map[int64]struct{}, len(in))
	out := make([]int64, 0, len(in))
	for _, id := range in {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
