package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type PostgresStore struct {
	db   *sql.DB
	q    querier
	inTx bool
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, q: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) WithinTx(ctx context.Context, fn func(Repository) error) error {
	if s.inTx {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&PostgresStore{db: s.db, q: tx, inTx: true}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListArticles(ctx context.Context) ([]Article, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, header, content, image_url, published_at
		FROM articles
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}
	defer rows.Close()

	items := make([]Article, 0)
	for rows.Next() {
		var item Article
		if err := rows.Scan(&item.ID, &item.Header, &item.Content, &item.ImageURL, &item.Date); err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate articles: %w", err)
	}
	if err := s.loadRelations(ctx, items); err != nil {
		return nil, err
	}
	return items, nil
}

// GetArticle locks the article row when called inside WithinTx.
func (s *PostgresStore) GetArticle(ctx context.Context, id int64) (Article, error) {
	query := `SELECT id, header, content, image_url, published_at FROM articles WHERE id=$1`
	if s.inTx {
		query += ` FOR UPDATE`
	}
	var item Article
	err := s.q.QueryRowContext(ctx, query, id).Scan(&item.ID, &item.Header, &item.Content, &item.ImageURL, &item.Date)
	if errors.Is(err, sql.ErrNoRows) {
		return Article{}, ErrNotFound
	}
	if err != nil {
		return Article{}, fmt.Errorf("get article: %w", err)
	}
	items := []Article{item}
	if err := s.loadRelations(ctx, items); err != nil {
		return Article{}, err
	}
	return items[0], nil
}

func (s *PostgresStore) InsertArticle(ctx context.Context, article Article) (Article, error) {
	var out Article
	err := s.WithinTx(ctx, func(r Repository) error {
		tx := r.(*PostgresStore)
		saved := article.Clone()
		if err := tx.q.QueryRowContext(ctx, `
			INSERT INTO articles (header, content, image_url, published_at)
			VALUES ($1, $2, $3, $4)
			RETURNING id
		`, saved.Header, saved.Content, saved.ImageURL, saved.Date).Scan(&saved.ID); err != nil {
			return fmt.Errorf("insert article: %w", err)
		}
		if err := tx.writeAssociations(ctx, &saved); err != nil {
			return err
		}
		out = saved
		return nil
	})
	if err != nil {
		return Article{}, err
	}
	return out, nil
}

func (s *PostgresStore) UpdateArticle(ctx context.Context, article Article) (Article, error) {
	var out Article
	err := s.WithinTx(ctx, func(r Repository) error {
		tx := r.(*PostgresStore)
		saved := article.Clone()
		result, err := tx.q.ExecContext(ctx, `
			UPDATE articles
			SET header=$2, content=$3, image_url=$4, published_at=$5
			WHERE id=$1
		`, saved.ID, saved.Header, saved.Content, saved.ImageURL, saved.Date)
		if err != nil {
			return fmt.Errorf("update article: %w", err)
		}
		if affected, err := result.RowsAffected(); err != nil {
			return fmt.Errorf("update article rows: %w", err)
		} else if affected == 0 {
			return ErrNotFound
		}
		if _, err := tx.q.ExecContext(ctx, `DELETE FROM article_themes WHERE article_id=$1`, saved.ID); err != nil {
			return fmt.Errorf("clear article themes: %w", err)
		}
		if _, err := tx.q.ExecContext(ctx, `DELETE FROM article_likes WHERE article_id=$1`, saved.ID); err != nil {
			return fmt.Errorf("clear article likes: %w", err)
		}
		if err := tx.writeAssociations(ctx, &saved); err != nil {
			return err
		}
		out = saved
		return nil
	})
	if err != nil {
		return Article{}, err
	}
	return out, nil
}

// writeAssociations inserts themes, likes and any unsaved comments. Existing
// theme and like rows must already be cleared.
func (s *PostgresStore) writeAssociations(ctx context.Context, article *Article) error {
	for position, theme := range article.Themes {
		if _, err := s.q.ExecContext(ctx, `
			INSERT INTO article_themes (article_id, theme_id, position)
			VALUES ($1, $2, $3)
			ON CONFLICT (article_id, theme_id) DO NOTHING
		`, article.ID, theme.ID, position); err != nil {
			return fmt.Errorf("insert article theme: %w", err)
		}
	}
	for position, userID := range article.Likes {
		if _, err := s.q.ExecContext(ctx, `
			INSERT INTO article_likes (article_id, user_id, position)
			VALUES ($1, $2, $3)
			ON CONFLICT (article_id, user_id) DO NOTHING
		`, article.ID, userID, position); err != nil {
			return fmt.Errorf("insert article like: %w", err)
		}
	}
	for i := range article.Comments {
		comment := &article.Comments[i]
		if comment.ID != 0 {
			continue
		}
		comment.ArticleID = article.ID
		if err := s.q.QueryRowContext(ctx, `
			INSERT INTO comments (article_id, body, created_at, user_id)
			VALUES ($1, $2, $3, $4)
			RETURNING id
		`, comment.ArticleID, comment.Text, comment.Date, comment.UserID).Scan(&comment.ID); err != nil {
			return fmt.Errorf("insert comment: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) DeleteArticle(ctx context.Context, id int64) error {
	result, err := s.q.ExecContext(ctx, `DELETE FROM articles WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete article: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete article rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// loadRelations fills themes, comments and likes for items in three queries.
func (s *PostgresStore) loadRelations(ctx context.Context, items []Article) error {
	if len(items) == 0 {
		return nil
	}
	ids := make([]int64, len(items))
	index := make(map[int64]int, len(items))
	for i := range items {
		ids[i] = items[i].ID
		index[items[i].ID] = i
		items[i].Themes = []Theme{}
		items[i].Comments = []Comment{}
		items[i].Likes = []int64{}
	}

	themeRows, err := s.q.QueryContext(ctx, `
		SELECT at.article_id, t.id, t.name
		FROM article_themes at
		JOIN themes t ON t.id = at.theme_id
		WHERE at.article_id = ANY($1)
		ORDER BY at.article_id, at.position
	`, ids)
	if err != nil {
		return fmt.Errorf("list article themes: %w", err)
	}
	for themeRows.Next() {
		var articleID int64
		var theme Theme
		if err := themeRows.Scan(&articleID, &theme.ID, &theme.Name); err != nil {
			themeRows.Close()
			return fmt.Errorf("scan article theme: %w", err)
		}
		i := index[articleID]
		items[i].Themes = append(items[i].Themes, theme)
	}
	themeRows.Close()
	if err := themeRows.Err(); err != nil {
		return fmt.Errorf("iterate article themes: %w", err)
	}

	commentRows, err := s.q.QueryContext(ctx, `
		SELECT id, article_id, body, created_at, user_id
		FROM comments
		WHERE article_id = ANY($1)
		ORDER BY article_id, id
	`, ids)
	if err != nil {
		return fmt.Errorf("list comments: %w", err)
	}
	for commentRows.Next() {
		var comment Comment
		if err := commentRows.Scan(&comment.ID, &comment.ArticleID, &comment.Text, &comment.Date, &comment.UserID); err != nil {
			commentRows.Close()
			return fmt.Errorf("scan comment: %w", err)
		}
		i := index[comment.ArticleID]
		items[i].Comments = append(items[i].Comments, comment)
	}
	commentRows.Close()
	if err := commentRows.Err(); err != nil {
		return fmt.Errorf("iterate comments: %w", err)
	}

	likeRows, err := s.q.QueryContext(ctx, `
		SELECT article_id, user_id
		FROM article_likes
		WHERE article_id = ANY($1)
		ORDER BY article_id, position
	`, ids)
	if err != nil {
		return fmt.Errorf("list article likes: %w", err)
	}
	defer likeRows.Close()
	for likeRows.Next() {
		var articleID, userID int64
		if err := likeRows.Scan(&articleID, &userID); err != nil {
			return fmt.Errorf("scan article like: %w", err)
		}
		i := index[articleID]
		items[i].Likes = append(items[i].Likes, userID)
	}
	if err := likeRows.Err(); err != nil {
		return fmt.Errorf("iterate article likes: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListThemes(ctx context.Context) ([]Theme, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id, name FROM themes ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list themes: %w", err)
	}
	defer rows.Close()

	items := make([]Theme, 0)
	for rows.Next() {
		var item Theme
		if err := rows.Scan(&item.ID, &item.Name); err != nil {
			return nil, fmt.Errorf("scan theme: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate themes: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) FindThemeByName(ctx context.Context, name string) (Theme, error) {
	var item Theme
	err := s.q.QueryRowContext(ctx, `SELECT id, name FROM themes WHERE name=$1`, name).Scan(&item.ID, &item.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return Theme{}, ErrNotFound
	}
	if err != nil {
		return Theme{}, fmt.Errorf("find theme: %w", err)
	}
	return item, nil
}

// InsertTheme uses ON CONFLICT so a racing duplicate does not abort an
// enclosing transaction; the loser sees ErrConflict.
func (s *PostgresStore) InsertTheme(ctx context.Context, name string) (Theme, error) {
	var item Theme
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO themes (name)
		VALUES ($1)
		ON CONFLICT (name) DO NOTHING
		RETURNING id, name
	`, name).Scan(&item.ID, &item.Name)
	if errors.Is(err, sql.ErrNoRows) || isUniqueViolation(err) {
		return Theme{}, ErrConflict
	}
	if err != nil {
		return Theme{}, fmt.Errorf("insert theme: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) GetComment(ctx context.Context, id int64) (Comment, error) {
	var item Comment
	err := s.q.QueryRowContext(ctx, `
		SELECT id, article_id, body, created_at, user_id
		FROM comments
		WHERE id=$1
	`, id).Scan(&item.ID, &item.ArticleID, &item.Text, &item.Date, &item.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		return Comment{}, ErrNotFound
	}
	if err != nil {
		return Comment{}, fmt.Errorf("get comment: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) DeleteComment(ctx context.Context, id int64) error {
	result, err := s.q.ExecContext(ctx, `DELETE FROM comments WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete comment rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id int64) (User, error) {
	var user User
	err := s.q.QueryRowContext(ctx, `SELECT id, email, display_name FROM users WHERE id=$1`, id).Scan(&user.ID, &user.Email, &user.DisplayName)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	users := []User{user}
	if err := s.loadUserRelations(ctx, users); err != nil {
		return User{}, err
	}
	return users[0], nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id, email, display_name FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := make([]User, 0)
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.ID, &user.Email, &user.DisplayName); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	if err := s.loadUserRelations(ctx, users); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *PostgresStore) loadUserRelations(ctx context.Context, users []User) error {
	if len(users) == 0 {
		return nil
	}
	ids := make([]int64, len(users))
	index := make(map[int64]int, len(users))
	for i := range users {
		ids[i] = users[i].ID
		index[users[i].ID] = i
		users[i].Prefer = []Theme{}
		users[i].Forbid = []Theme{}
		users[i].Roles = []string{}
	}

	roleRows, err := s.q.QueryContext(ctx, `
		SELECT user_id, role FROM user_roles WHERE user_id = ANY($1) ORDER BY user_id, role
	`, ids)
	if err != nil {
		return fmt.Errorf("list user roles: %w", err)
	}
	for roleRows.Next() {
		var userID int64
		var role string
		if err := roleRows.Scan(&userID, &role); err != nil {
			roleRows.Close()
			return fmt.Errorf("scan user role: %w", err)
		}
		i := index[userID]
		users[i].Roles = append(users[i].Roles, role)
	}
	roleRows.Close()
	if err := roleRows.Err(); err != nil {
		return fmt.Errorf("iterate user roles: %w", err)
	}

	prefRows, err := s.q.QueryContext(ctx, `
		SELECT up.user_id, up.kind, t.id, t.name
		FROM user_theme_preferences up
		JOIN themes t ON t.id = up.theme_id
		WHERE up.user_id = ANY($1)
		ORDER BY up.user_id, t.name
	`, ids)
	if err != nil {
		return fmt.Errorf("list user themes: %w", err)
	}
	defer prefRows.Close()
	for prefRows.Next() {
		var userID int64
		var kind string
		var theme Theme
		if err := prefRows.Scan(&userID, &kind, &theme.ID, &theme.Name); err != nil {
			return fmt.Errorf("scan user theme: %w", err)
		}
		i := index[userID]
		switch kind {
		case "prefer":
			users[i].Prefer = append(users[i].Prefer, theme)
		case "forbid":
			users[i].Forbid = append(users[i].Forbid, theme)
		}
	}
	if err := prefRows.Err(); err != nil {
		return fmt.Errorf("iterate user themes: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
