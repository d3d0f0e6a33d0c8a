package store

import "context"

// Repository is the persistence contract the newspaper services depend on.
// Lookups return ErrNotFound when no row matches.
type Repository interface {
	ListArticles(ctx context.Context) ([]Article, error)
	GetArticle(ctx context.Context, id int64) (Article, error)
	// InsertArticle assigns ids to the article and any comments it carries.
	InsertArticle(ctx context.Context, article Article) (Article, error)
	// UpdateArticle replaces header, content, image, date, themes and likes,
	// and inserts comments whose ID is zero. Existing comments are untouched.
	UpdateArticle(ctx context.Context, article Article) (Article, error)
	DeleteArticle(ctx context.Context, id int64) error

	ListThemes(ctx context.Context) ([]Theme, error)
	FindThemeByName(ctx context.Context, name string) (Theme, error)
	// InsertTheme returns ErrConflict when the name already exists.
	InsertTheme(ctx context.Context, name string) (Theme, error)

	GetComment(ctx context.Context, id int64) (Comment, error)
	DeleteComment(ctx context.Context, id int64) error

	GetUserByID(ctx context.Context, id int64) (User, error)
	ListUsers(ctx context.Context) ([]User, error)

	// WithinTx runs fn against a repository bound to one transaction. The
	// transaction commits when fn returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(Repository) error) error
	Ping(ctx context.Context) error
}
