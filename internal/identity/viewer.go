// Package identity resolves bearer credentials into the viewer of a request.
package identity

import (
	"time"

	"newspaper/api/internal/store"
)

// Viewer is either Anonymous or Authenticated. Consumers switch on the
// concrete type.
type Viewer interface {
	viewer()
}

type Anonymous struct{}

type Authenticated struct {
	User store.User
	// TokenID is the id of the credential that authenticated the request.
	TokenID   string
	ExpiresAt time.Time
}

func (Anonymous) viewer()     {}
func (Authenticated) viewer() {}

// UserOf returns the user behind v and whether v is authenticated.
func UserOf(v Viewer) (store.User, bool) {
	switch v := v.(type) {
	case Authenticated:
		return v.User, true
	case *Authenticated:
		if v == nil {
			return store.User{}, false
		}
		return v.User, true
	default:
		return store.User{}, false
	}
}
