package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newspaper/api/internal/auth"
	"newspaper/api/internal/config"
	"newspaper/api/internal/events"
	"newspaper/api/internal/feed"
	"newspaper/api/internal/identity"
	"newspaper/api/internal/search"
	"newspaper/api/internal/session"
	"newspaper/api/internal/store"
)

var testNow = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

const testSecret = "service-test-secret"

var (
	adminUser  = store.User{ID: 1, Email: "editor@example.com", DisplayName: "Editor", Roles: []string{store.RoleAdmin, "ROLE_USER"}}
	readerUser = store.User{ID: 2, Email: "reader@example.com", DisplayName: "Reader", Roles: []string{"ROLE_USER"}}
)

func testConfig() config.Config {
	return config.Config{Auth: config.AuthConfig{JWTSecret: testSecret, AccessTTL: time.Hour}}
}

func newTestService(t *testing.T, opts ...Option) (*Service, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore()
	mem.SeedUser(adminUser)
	mem.SeedUser(readerUser)
	opts = append([]Option{WithClock(feed.FixedClock(testNow))}, opts...)
	return New(testConfig(), mem, opts...), mem
}

func signedIn(user store.User) identity.Viewer {
	return identity.Authenticated{User: user}
}

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	return nil
}

func (p *recordingPublisher) Topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.topics...)
}

func TestCreateArticleResolvesThemesOnce(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()

	first, err := svc.CreateArticle(ctx, ArticleInput{Header: "Derby", Themes: "Sport, Sport!! Politics"})
	require.NoError(t, err)
	require.Len(t, first.Themes, 2)
	assert.Equal(t, "sport", first.Themes[0].Name)
	assert.Equal(t, "politics", first.Themes[1].Name)
	assert.Equal(t, testNow, first.Date)
	assert.Equal(t, "10.05.2024 12:00:00", first.FormattedDate)

	second, err := svc.CreateArticle(ctx, ArticleInput{Header: "Rematch", Themes: "politics sport"})
	require.NoError(t, err)
	assert.ElementsMatch(t, first.Themes, second.Themes)
	assert.Equal(t, 2, mem.ThemeCount())
}

func TestCreateArticleValidation(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateArticle(context.Background(), ArticleInput{Header: "   ", ImageURL: "not a url"})
	var domainErr *DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, http.StatusUnprocessableEntity, domainErr.Status)
	details, ok := domainErr.Details.(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "required", details["Header"])
	assert.Equal(t, "url", details["ImageURL"])
}

func TestUpdateArticleReplacesContentKeepsEngagement(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateArticle(ctx, ArticleInput{Header: "Old", Themes: "economy"})
	require.NoError(t, err)
	_, err = svc.ToggleLike(ctx, created.ID, signedIn(readerUser))
	require.NoError(t, err)
	_, err = svc.AddComment(ctx, created.ID, CommentInput{Text: "nice"}, signedIn(readerUser))
	require.NoError(t, err)

	updated, err := svc.UpdateArticle(ctx, created.ID, ArticleInput{Header: "New", Content: "body", Themes: "culture"})
	require.NoError(t, err)
	assert.Equal(t, "New", updated.Header)
	assert.Equal(t, "body", updated.Content)
	require.Len(t, updated.Themes, 1)
	assert.Equal(t, "culture", updated.Themes[0].Name)
	assert.Equal(t, []int64{readerUser.ID}, updated.Likes)
	require.Len(t, updated.Comments, 1)
	assert.Equal(t, "nice", updated.Comments[0].Text)

	_, err = svc.UpdateArticle(ctx, 999, ArticleInput{Header: "x"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteArticleRemovesCommentsFirst(t *testing.T) {
	publisher := &recordingPublisher{}
	svc, mem := newTestService(t, WithEvents(publisher))
	ctx := context.Background()

	created, err := svc.CreateArticle(ctx, ArticleInput{Header: "Doomed"})
	require.NoError(t, err)
	for _, text := range []string{"one", "two", "three"} {
		_, err = svc.AddComment(ctx, created.ID, CommentInput{Text: text}, signedIn(readerUser))
		require.NoError(t, err)
	}
	withComments, err := svc.GetArticle(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, withComments.Comments, 3)

	require.NoError(t, svc.DeleteArticle(ctx, created.ID))

	_, err = svc.GetArticle(ctx, created.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	for _, c := range withComments.Comments {
		_, err := mem.GetComment(ctx, c.ID)
		assert.ErrorIs(t, err, store.ErrNotFound)
		assert.ErrorIs(t, svc.DeleteComment(ctx, c.ID), store.ErrNotFound)
	}
	assert.ErrorIs(t, svc.DeleteArticle(ctx, created.ID), store.ErrNotFound)

	topics := publisher.Topics()
	assert.Equal(t, events.TopicArticleDeleted, topics[len(topics)-1])
	assert.Equal(t, []string{events.TopicCommentDeleted, events.TopicCommentDeleted, events.TopicCommentDeleted}, topics[len(topics)-4:len(topics)-1])
}

// failingDeletes fails DeleteComment for one id inside transactions.
type failingDeletes struct {
	*store.MemoryStore
	failOn int64
}

func (f *failingDeletes) WithinTx(ctx context.Context, fn func(store.Repository) error) error {
	return f.MemoryStore.WithinTx(ctx, func(tx store.Repository) error {
		return fn(failingTx{Repository: tx, failOn: f.failOn})
	})
}

type failingTx struct {
	store.Repository
	failOn int64
}

func (f failingTx) DeleteComment(ctx context.Context, id int64) error {
	if id == f.failOn {
		return errors.New("disk on fire")
	}
	return f.Repository.DeleteComment(ctx, id)
}

func TestDeleteArticleFailsFastAndRollsBack(t *testing.T) {
	mem := store.NewMemoryStore()
	mem.SeedUser(readerUser)
	ctx := context.Background()

	article, err := mem.InsertArticle(ctx, store.Article{
		Header:   "Sticky",
		Date:     testNow,
		Comments: []store.Comment{{Text: "a", UserID: 2}, {Text: "b", UserID: 2}, {Text: "c", UserID: 2}},
	})
	require.NoError(t, err)

	repo := &failingDeletes{MemoryStore: mem, failOn: article.Comments[1].ID}
	svc := New(testConfig(), repo, WithClock(feed.FixedClock(testNow)))

	err = svc.DeleteArticle(ctx, article.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk on fire")

	after, err := mem.GetArticle(ctx, article.ID)
	require.NoError(t, err)
	assert.Len(t, after.Comments, 3)
}

func TestToggleLikeIsItsOwnInverse(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateArticle(ctx, ArticleInput{Header: "Likeable"})
	require.NoError(t, err)
	_, err = svc.ToggleLike(ctx, created.ID, signedIn(adminUser))
	require.NoError(t, err)

	liked, err := svc.ToggleLike(ctx, created.ID, signedIn(readerUser))
	require.NoError(t, err)
	assert.Equal(t, []int64{adminUser.ID, readerUser.ID}, liked.Likes)

	unliked, err := svc.ToggleLike(ctx, created.ID, signedIn(readerUser))
	require.NoError(t, err)
	assert.Equal(t, []int64{adminUser.ID}, unliked.Likes)
}

func TestToggleLikeRequiresIdentity(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateArticle(ctx, ArticleInput{Header: "Likeable"})
	require.NoError(t, err)

	_, err = svc.ToggleLike(ctx, created.ID, identity.Anonymous{})
	assert.ErrorIs(t, err, ErrIdentityRequired)

	_, err = svc.ToggleLike(ctx, 404, signedIn(readerUser))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAddCommentChecksArticleBeforeIdentity(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.AddComment(ctx, 77, CommentInput{Text: "hi"}, identity.Anonymous{})
	assert.ErrorIs(t, err, store.ErrNotFound)

	created, err := svc.CreateArticle(ctx, ArticleInput{Header: "Open thread"})
	require.NoError(t, err)
	_, err = svc.AddComment(ctx, created.ID, CommentInput{Text: "hi"}, identity.Anonymous{})
	assert.ErrorIs(t, err, ErrIdentityRequired)

	_, err = svc.AddComment(ctx, created.ID, CommentInput{Text: "  "}, signedIn(readerUser))
	var domainErr *DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, "VALIDATION_ERROR", domainErr.Code)
}

func TestListCommentsAfterFirstComment(t *testing.T) {
	publisher := &recordingPublisher{}
	svc, _ := newTestService(t, WithEvents(publisher))
	ctx := context.Background()

	created, err := svc.CreateArticle(ctx, ArticleInput{Header: "Quiet"})
	require.NoError(t, err)

	empty, err := svc.ListComments(ctx, created.ID)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	article, err := svc.AddComment(ctx, created.ID, CommentInput{Text: "first!"}, signedIn(readerUser))
	require.NoError(t, err)
	require.Len(t, article.Comments, 1)
	assert.Equal(t, readerUser.ID, article.Comments[0].UserID)

	comments, err := svc.ListComments(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, "first!", comments[0].Text)
	assert.Equal(t, "10.05.2024 12:00:00", comments[0].FormattedDate)
	assert.Contains(t, publisher.Topics(), events.TopicCommentSaved)

	_, err = svc.ListComments(ctx, 999)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestListCommentsNewestFirst(t *testing.T) {
	mem := store.NewMemoryStore()
	ctx := context.Background()
	article, err := mem.InsertArticle(ctx, store.Article{
		Header: "Busy",
		Date:   testNow,
		Comments: []store.Comment{
			{Text: "old", Date: testNow.Add(-2 * time.Hour), UserID: 2},
			{Text: "new", Date: testNow, UserID: 2},
			{Text: "mid", Date: testNow.Add(-time.Hour), UserID: 2},
		},
	})
	require.NoError(t, err)

	svc := New(testConfig(), mem)
	comments, err := svc.ListComments(ctx, article.ID)
	require.NoError(t, err)
	require.Len(t, comments, 3)
	assert.Equal(t, "new", comments[0].Text)
	assert.Equal(t, "mid", comments[1].Text)
	assert.Equal(t, "old", comments[2].Text)
}

func TestFeedForCredential(t *testing.T) {
	mem := store.NewMemoryStore()
	ctx := context.Background()
	sports, err := mem.InsertTheme(ctx, "sports")
	require.NoError(t, err)
	politics, err := mem.InsertTheme(ctx, "politics")
	require.NoError(t, err)

	picky := store.User{ID: 5, Email: "picky@example.com", Roles: []string{"ROLE_USER"}, Prefer: []store.Theme{sports}, Forbid: []store.Theme{politics}}
	mem.SeedUser(picky)

	_, err = mem.InsertArticle(ctx, store.Article{Header: "A", Date: testNow.Add(-time.Hour), Themes: []store.Theme{sports}})
	require.NoError(t, err)
	_, err = mem.InsertArticle(ctx, store.Article{Header: "C", Date: testNow.Add(-30 * time.Minute), Themes: []store.Theme{politics}})
	require.NoError(t, err)
	_, err = mem.InsertArticle(ctx, store.Article{Header: "B", Date: testNow.Add(-25 * time.Hour), Themes: []store.Theme{sports}})
	require.NoError(t, err)

	svc := New(testConfig(), mem, WithClock(feed.FixedClock(testNow)))

	anon, err := svc.FeedForCredential(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"C", "A"}, headers(anon))

	degraded, err := svc.FeedForCredential(ctx, "garbage")
	require.NoError(t, err)
	assert.Equal(t, []string{"C", "A"}, headers(degraded))

	token, _, err := auth.IssueToken([]byte(testSecret), picky.ID, "picky", time.Hour)
	require.NoError(t, err)
	personal, err := svc.FeedForCredential(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, headers(personal))

	ghost, _, err := auth.IssueToken([]byte(testSecret), 404, "ghost", time.Hour)
	require.NoError(t, err)
	_, err = svc.FeedForCredential(ctx, ghost)
	assert.ErrorIs(t, err, identity.ErrUserNotFound)
}

func headers(articles []store.Article) []string {
	out := make([]string, 0, len(articles))
	for _, a := range articles {
		out = append(out, a.Header)
	}
	return out
}

func TestLogoutRevokesCredential(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	svc, _ := newTestService(t, WithRevocations(session.NewRedisStoreWithClient(client)))
	ctx := context.Background()

	token, _, err := svc.IssueToken(ctx, readerUser.ID)
	require.NoError(t, err)
	viewer, err := svc.ResolveViewer(ctx, token)
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, viewer))

	_, err = svc.ResolveViewer(ctx, token)
	assert.ErrorIs(t, err, identity.ErrInvalidCredential)
	assert.ErrorIs(t, svc.Logout(ctx, identity.Anonymous{}), ErrIdentityRequired)
}

func TestLogoutWithoutRevocationStore(t *testing.T) {
	svc, _ := newTestService(t)
	err := svc.Logout(context.Background(), identity.Authenticated{User: readerUser, TokenID: "tok"})
	var domainErr *DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, http.StatusServiceUnavailable, domainErr.Status)
}

func TestIssueTokenUnknownUser(t *testing.T) {
	svc, _ := newTestService(t)
	_, _, err := svc.IssueToken(context.Background(), 999)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCurrentUserAndAdmin(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CurrentUser(identity.Anonymous{})
	assert.ErrorIs(t, err, ErrIdentityRequired)

	user, err := svc.CurrentUser(signedIn(readerUser))
	require.NoError(t, err)
	assert.Equal(t, readerUser.Email, user.Email)

	assert.True(t, svc.IsAdmin(signedIn(adminUser)))
	assert.False(t, svc.IsAdmin(signedIn(readerUser)))
	assert.False(t, svc.IsAdmin(identity.Anonymous{}))
}

type stubSearcher struct {
	got search.Query
}

func (s *stubSearcher) Search(_ context.Context, q search.Query) ([]search.Result, int, error) {
	s.got = q
	return []search.Result{{Type: search.ResultArticle, ID: 3, Title: "Derby", ArticleID: 3}}, 1, nil
}

func (s *stubSearcher) Healthy() bool { return true }

func TestSearchValidatesAndDelegates(t *testing.T) {
	fallback := &stubSearcher{}
	svc, _ := newTestService(t, WithSearch(search.NewService(nil, fallback)))
	ctx := context.Background()

	_, err := svc.Search(ctx, SearchInput{Query: "  "})
	var domainErr *DomainError
	require.ErrorAs(t, err, &domainErr)

	_, err = svc.Search(ctx, SearchInput{Query: "derby", Type: "poll"})
	require.ErrorAs(t, err, &domainErr)

	resp, err := svc.Search(ctx, SearchInput{Query: " derby ", Type: "Article", Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, "derby", fallback.got.Text)
	assert.Equal(t, search.ResultArticle, fallback.got.FilterType)
	assert.Equal(t, 5, fallback.got.Limit)
}

func TestSearchWithoutBackendReturnsEmpty(t *testing.T) {
	svc, _ := newTestService(t)
	resp, err := svc.Search(context.Background(), SearchInput{Query: "anything"})
	require.NoError(t, err)
	assert.NotNil(t, resp.Results)
	assert.Empty(t, resp.Results)
}

type stubUploader struct {
	name string
	body string
}

func (s *stubUploader) Upload(_ context.Context, name, _ string, _ int64, body io.Reader) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	s.name, s.body = name, string(data)
	return "https://cdn.example.com/images/" + name, nil
}

func TestUploadImage(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.UploadImage(context.Background(), "a.png", "image/png", 3, nil)
	var domainErr *DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, http.StatusServiceUnavailable, domainErr.Status)

	uploader := &stubUploader{}
	svc, _ = newTestService(t, WithImages(uploader))
	url, err := svc.UploadImage(context.Background(), "a.png", "image/png", 3, strings.NewReader("png"))
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/images/a.png", url)
	assert.Equal(t, "png", uploader.body)
}
