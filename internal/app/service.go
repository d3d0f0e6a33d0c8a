package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"newspaper/api/internal/auth"
	"newspaper/api/internal/config"
	"newspaper/api/internal/events"
	"newspaper/api/internal/feed"
	"newspaper/api/internal/identity"
	"newspaper/api/internal/logging"
	"newspaper/api/internal/metrics"
	"newspaper/api/internal/search"
	"newspaper/api/internal/store"
	"newspaper/api/internal/themes"
)

// Repository is the persistence contract the service runs on.
type Repository = store.Repository

type ArticleInput struct {
	Header   string `json:"header" validate:"required,max=300"`
	Content  string `json:"content" validate:"max=100000"`
	ImageURL string `json:"imageURL" validate:"omitempty,url,max=2048"`
	Themes   string `json:"themes" validate:"max=1000"`
}

type CommentInput struct {
	Text string `json:"text" validate:"required,max=5000"`
}

type SearchInput struct {
	Query  string
	Type   string
	Limit  int
	Offset int
}

type imageUploader interface {
	Upload(ctx context.Context, name, contentType string, size int64, body io.Reader) (string, error)
}

type searcher interface {
	Search(ctx context.Context, q search.Query) search.Response
}

type revocationStore interface {
	identity.RevocationChecker
	Revoke(ctx context.Context, tokenID string, userID int64, expiresAt time.Time) error
}

type Service struct {
	cfg         config.Config
	store       Repository
	themes      *themes.Registry
	identities  *identity.Resolver
	clock       feed.Clock
	events      events.Publisher
	search      searcher
	images      imageUploader
	revocations revocationStore
	validate    *validator.Validate
}

type Option func(*Service)

func WithClock(clock feed.Clock) Option {
	return func(s *Service) { s.clock = clock }
}

func WithEvents(publisher events.Publisher) Option {
	return func(s *Service) { s.events = publisher }
}

func WithSearch(svc *search.Service) Option {
	return func(s *Service) { s.search = svc }
}

func WithImages(images imageUploader) Option {
	return func(s *Service) { s.images = images }
}

func WithRevocations(revocations revocationStore) Option {
	return func(s *Service) { s.revocations = revocations }
}

func New(cfg config.Config, repo Repository, opts ...Option) *Service {
	s := &Service{
		cfg:      cfg,
		store:    repo,
		themes:   themes.NewRegistry(repo),
		clock:    feed.SystemClock{},
		events:   events.Discard{},
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, opt := range opts {
		opt(s)
	}
	var checker identity.RevocationChecker
	if s.revocations != nil {
		checker = s.revocations
	}
	s.identities = identity.NewResolver([]byte(cfg.Auth.JWTSecret), repo, checker)
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ResolveViewer turns a raw bearer token into the request's viewer.
func (s *Service) ResolveViewer(ctx context.Context, bearer string) (identity.Viewer, error) {
	return s.identities.Resolve(ctx, bearer)
}

// FeedForCredential resolves bearer and curates the feed. A malformed,
// expired or revoked credential is served the anonymous feed; a valid
// credential for an unknown user is an error.
func (s *Service) FeedForCredential(ctx context.Context, bearer string) ([]store.Article, error) {
	viewer, err := s.ResolveViewer(ctx, bearer)
	if errors.Is(err, identity.ErrInvalidCredential) {
		logging.Ctx(ctx).Warn().Err(err).Msg("feed requested with unusable credential, serving anonymous feed")
		viewer = identity.Anonymous{}
	} else if err != nil {
		return nil, err
	}
	return s.Feed(ctx, viewer)
}

func (s *Service) Feed(ctx context.Context, viewer identity.Viewer) ([]store.Article, error) {
	articles, err := s.store.ListArticles(ctx)
	if err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}
	curated := feed.Curate(articles, viewer, s.clock.Now())
	for i := range curated {
		formatComments(curated[i].Comments)
	}
	_, authenticated := identity.UserOf(viewer)
	metrics.RecordFeed(authenticated, len(curated))
	return curated, nil
}

func (s *Service) GetArticle(ctx context.Context, id int64) (store.Article, error) {
	article, err := s.store.GetArticle(ctx, id)
	if err != nil {
		return store.Article{}, err
	}
	return withDisplayDates(article), nil
}

func (s *Service) CreateArticle(ctx context.Context, input ArticleInput) (store.Article, error) {
	input = trimArticleInput(input)
	if err := s.validate.Struct(input); err != nil {
		return store.Article{}, validationError(err)
	}

	var saved store.Article
	err := s.store.WithinTx(ctx, func(tx Repository) error {
		resolved, err := s.themes.Bind(tx).Resolve(ctx, input.Themes)
		if err != nil {
			return err
		}
		saved, err = tx.InsertArticle(ctx, store.Article{
			Header:   input.Header,
			Content:  input.Content,
			ImageURL: input.ImageURL,
			Date:     s.clock.Now().UTC(),
			Themes:   resolved,
		})
		return err
	})
	if err != nil {
		return store.Article{}, fmt.Errorf("create article: %w", err)
	}

	s.publish(ctx, events.TopicArticleSaved, articleEvent(saved))
	logging.Ctx(ctx).Info().Int64("article_id", saved.ID).Int("themes", len(saved.Themes)).Msg("article created")
	return withDisplayDates(saved), nil
}

// UpdateArticle replaces header, content, image, date and themes. Likes and
// comments are kept.
func (s *Service) UpdateArticle(ctx context.Context, id int64, input ArticleInput) (store.Article, error) {
	input = trimArticleInput(input)
	if err := s.validate.Struct(input); err != nil {
		return store.Article{}, validationError(err)
	}

	var saved store.Article
	err := s.store.WithinTx(ctx, func(tx Repository) error {
		current, err := tx.GetArticle(ctx, id)
		if err != nil {
			return err
		}
		resolved, err := s.themes.Bind(tx).Resolve(ctx, input.Themes)
		if err != nil {
			return err
		}
		current.Header = input.Header
		current.Content = input.Content
		current.ImageURL = input.ImageURL
		current.Date = s.clock.Now().UTC()
		current.Themes = resolved
		saved, err = tx.UpdateArticle(ctx, current)
		return err
	})
	if err != nil {
		return store.Article{}, err
	}

	s.publish(ctx, events.TopicArticleSaved, articleEvent(saved))
	return withDisplayDates(saved), nil
}

// DeleteArticle removes the article's comments one by one and then the
// article, all in one transaction. The first failure aborts everything.
func (s *Service) DeleteArticle(ctx context.Context, id int64) error {
	var removed []store.Comment
	err := s.store.WithinTx(ctx, func(tx Repository) error {
		article, err := tx.GetArticle(ctx, id)
		if err != nil {
			return err
		}
		for _, comment := range article.Comments {
			if err := tx.DeleteComment(ctx, comment.ID); err != nil {
				return fmt.Errorf("delete comment %d of article %d: %w", comment.ID, id, err)
			}
		}
		if err := tx.DeleteArticle(ctx, id); err != nil {
			return err
		}
		removed = article.Comments
		return nil
	})
	if err != nil {
		return err
	}

	for _, comment := range removed {
		s.publish(ctx, events.TopicCommentDeleted, events.CommentEvent{CommentID: comment.ID, ArticleID: id})
	}
	s.publish(ctx, events.TopicArticleDeleted, events.ArticleEvent{ArticleID: id})
	logging.Ctx(ctx).Info().Int64("article_id", id).Int("comments", len(removed)).Msg("article deleted")
	return nil
}

// ToggleLike adds the viewer to the article's likes or removes them if
// already present. The article row stays locked for the duration.
func (s *Service) ToggleLike(ctx context.Context, id int64, viewer identity.Viewer) (store.Article, error) {
	user, ok := identity.UserOf(viewer)
	if !ok {
		return store.Article{}, ErrIdentityRequired
	}

	var (
		saved store.Article
		liked bool
	)
	err := s.store.WithinTx(ctx, func(tx Repository) error {
		article, err := tx.GetArticle(ctx, id)
		if err != nil {
			return err
		}
		article.Likes, liked = toggle(article.Likes, user.ID)
		saved, err = tx.UpdateArticle(ctx, article)
		return err
	})
	if err != nil {
		return store.Article{}, err
	}

	metrics.RecordLikeToggle(liked)
	return withDisplayDates(saved), nil
}

func toggle(likes []int64, userID int64) ([]int64, bool) {
	out := make([]int64, 0, len(likes)+1)
	found := false
	for _, id := range likes {
		if id == userID {
			found = true
			continue
		}
		out = append(out, id)
	}
	if !found {
		out = append(out, userID)
	}
	return out, !found
}

// AddComment appends a comment by viewer and returns the owning article.
func (s *Service) AddComment(ctx context.Context, articleID int64, input CommentInput, viewer identity.Viewer) (store.Article, error) {
	input.Text = strings.TrimSpace(input.Text)

	var (
		saved   store.Article
		comment store.Comment
	)
	err := s.store.WithinTx(ctx, func(tx Repository) error {
		article, err := tx.GetArticle(ctx, articleID)
		if err != nil {
			return err
		}
		user, ok := identity.UserOf(viewer)
		if !ok {
			return ErrIdentityRequired
		}
		if err := s.validate.Struct(input); err != nil {
			return validationError(err)
		}

		known := make(map[int64]struct{}, len(article.Comments))
		for _, c := range article.Comments {
			known[c.ID] = struct{}{}
		}
		article.Comments = append(article.Comments, store.Comment{
			ArticleID: articleID,
			Text:      input.Text,
			Date:      s.clock.Now().UTC(),
			UserID:    user.ID,
		})
		saved, err = tx.UpdateArticle(ctx, article)
		if err != nil {
			return err
		}
		for _, c := range saved.Comments {
			if _, ok := known[c.ID]; !ok {
				comment = c
			}
		}
		return nil
	})
	if err != nil {
		return store.Article{}, err
	}

	s.publish(ctx, events.TopicCommentSaved, events.CommentEvent{
		CommentID: comment.ID,
		ArticleID: articleID,
		UserID:    comment.UserID,
		Text:      comment.Text,
	})
	return withDisplayDates(saved), nil
}

// ListComments returns the article's comments newest first. An article
// without comments yields an empty, non-nil slice.
func (s *Service) ListComments(ctx context.Context, articleID int64) ([]store.Comment, error) {
	article, err := s.store.GetArticle(ctx, articleID)
	if err != nil {
		return nil, err
	}
	comments := make([]store.Comment, len(article.Comments))
	copy(comments, article.Comments)
	sort.SliceStable(comments, func(i, j int) bool {
		return comments[i].Date.After(comments[j].Date)
	})
	formatComments(comments)
	return comments, nil
}

func (s *Service) DeleteComment(ctx context.Context, id int64) error {
	comment, err := s.store.GetComment(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteComment(ctx, id); err != nil {
		return err
	}
	s.publish(ctx, events.TopicCommentDeleted, events.CommentEvent{CommentID: id, ArticleID: comment.ArticleID})
	return nil
}

func (s *Service) ListThemes(ctx context.Context) ([]store.Theme, error) {
	return s.store.ListThemes(ctx)
}

func (s *Service) ListUsers(ctx context.Context) ([]store.User, error) {
	return s.store.ListUsers(ctx)
}

func (s *Service) GetUser(ctx context.Context, id int64) (store.User, error) {
	return s.store.GetUserByID(ctx, id)
}

func (s *Service) CurrentUser(viewer identity.Viewer) (store.User, error) {
	user, ok := identity.UserOf(viewer)
	if !ok {
		return store.User{}, ErrIdentityRequired
	}
	return user, nil
}

func (s *Service) IsAdmin(viewer identity.Viewer) bool {
	user, ok := identity.UserOf(viewer)
	return ok && user.HasRole(store.RoleAdmin)
}

func (s *Service) Search(ctx context.Context, input SearchInput) (search.Response, error) {
	text := strings.TrimSpace(input.Query)
	if text == "" {
		return search.Response{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "q is required", nil)
	}
	typ, ok := search.ParseResultType(strings.ToLower(strings.TrimSpace(input.Type)))
	if !ok {
		return search.Response{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "type must be article or comment", nil)
	}
	if input.Limit < 0 || input.Offset < 0 {
		return search.Response{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit and offset must not be negative", nil)
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	return s.search.Search(ctx, search.Query{Text: text, FilterType: typ, Limit: input.Limit, Offset: input.Offset}), nil
}

func (s *Service) UploadImage(ctx context.Context, name, contentType string, size int64, body io.Reader) (string, error) {
	if s.images == nil {
		return "", domainError(http.StatusServiceUnavailable, "MEDIA_UNAVAILABLE", "Image storage is not configured", nil)
	}
	url, err := s.images.Upload(ctx, name, contentType, size, body)
	if err != nil {
		return "", err
	}
	logging.Ctx(ctx).Info().Str("url", url).Int64("bytes", size).Msg("image uploaded")
	return url, nil
}

// Logout revokes the credential the viewer authenticated with.
func (s *Service) Logout(ctx context.Context, viewer identity.Viewer) error {
	current, ok := viewer.(identity.Authenticated)
	if !ok {
		return ErrIdentityRequired
	}
	if s.revocations == nil {
		return domainError(http.StatusServiceUnavailable, "LOGOUT_UNAVAILABLE", "Credential revocation is not configured", nil)
	}
	if err := s.revocations.Revoke(ctx, current.TokenID, current.User.ID, current.ExpiresAt); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// IssueToken mints a bearer credential for an existing user.
func (s *Service) IssueToken(ctx context.Context, userID int64) (string, time.Time, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return "", time.Time{}, err
	}
	token, claims, err := auth.IssueToken([]byte(s.cfg.Auth.JWTSecret), user.ID, user.DisplayName, s.cfg.Auth.AccessTTL)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, claims.ExpiresAt.Time, nil
}

func (s *Service) publish(ctx context.Context, topic string, payload any) {
	if err := s.events.Publish(ctx, topic, payload); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("topic", topic).Msg("publish event failed")
	}
}

func articleEvent(a store.Article) events.ArticleEvent {
	names := make([]string, 0, len(a.Themes))
	for _, theme := range a.Themes {
		names = append(names, theme.Name)
	}
	return events.ArticleEvent{
		ArticleID: a.ID,
		Header:    a.Header,
		Content:   a.Content,
		Themes:    names,
		Date:      a.Date,
	}
}

func trimArticleInput(input ArticleInput) ArticleInput {
	input.Header = strings.TrimSpace(input.Header)
	input.ImageURL = strings.TrimSpace(input.ImageURL)
	return input
}

func withDisplayDates(a store.Article) store.Article {
	a.FormattedDate = feed.FormatDisplayDate(a.Date)
	formatComments(a.Comments)
	return a
}

func formatComments(comments []store.Comment) {
	for i := range comments {
		comments[i].FormattedDate = feed.FormatDisplayDate(comments[i].Date)
	}
}
