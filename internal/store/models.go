package store

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a lookup by id or name has no row.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write loses against a uniqueness constraint.
	ErrConflict = errors.New("conflict")
)

const RoleAdmin = "ROLE_ADMIN"

type Theme struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type Comment struct {
	ID            int64     `json:"id"`
	ArticleID     int64     `json:"articleId"`
	Text          string    `json:"text"`
	Date          time.Time `json:"date"`
	UserID        int64     `json:"userId"`
	FormattedDate string    `json:"formattedDate,omitempty"`
}

type Article struct {
	ID            int64     `json:"id"`
	Header        string    `json:"header"`
	Content       string    `json:"content"`
	ImageURL      string    `json:"imageURL"`
	Date          time.Time `json:"date"`
	Themes        []Theme   `json:"themes"`
	Comments      []Comment `json:"comments"`
	Likes         []int64   `json:"likes"`
	FormattedDate string    `json:"formattedDate,omitempty"`
}

// ThemeIDs returns the set of theme ids attached to the article.
func (a Article) ThemeIDs() map[int64]struct{} {
	ids := make(map[int64]struct{}, len(a.Themes))
	for _, theme := range a.Themes {
		ids[theme.ID] = struct{}{}
	}
	return ids
}

// LikedBy reports whether userID is in the liker set.
func (a Article) LikedBy(userID int64) bool {
	for _, id := range a.Likes {
		if id == userID {
			return true
		}
	}
	return false
}

type User struct {
	ID          int64    `json:"id"`
	Email       string   `json:"email"`
	DisplayName string   `json:"displayName"`
	Prefer      []Theme  `json:"prefer"`
	Forbid      []Theme  `json:"forbid"`
	Roles       []string `json:"roles"`
}

func (u User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can mutate slices freely.
func (a Article) Clone() Article {
	out := a
	out.Themes = make([]Theme, len(a.Themes))
	copy(out.Themes, a.Themes)
	out.Comments = make([]Comment, len(a.Comments))
	copy(out.Comments, a.Comments)
	out.Likes = make([]int64, len(a.Likes))
	copy(out.Likes, a.Likes)
	return out
}
