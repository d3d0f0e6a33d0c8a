package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"newspaper/api/internal/auth"
	"newspaper/api/internal/store"
)

var (
	// ErrInvalidCredential covers malformed, expired and revoked tokens.
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrUserNotFound means the credential is valid but names no user.
	ErrUserNotFound = errors.New("credential names an unknown user")
)

type UserLookup interface {
	GetUserByID(ctx context.Context, id int64) (store.User, error)
}

// RevocationChecker is satisfied by session.RedisStore.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

type Resolver struct {
	secret      []byte
	users       UserLookup
	revocations RevocationChecker
}

// NewResolver builds a resolver. revocations may be nil, in which case no
// token is treated as revoked.
func NewResolver(secret []byte, users UserLookup, revocations RevocationChecker) *Resolver {
	return &Resolver{secret: secret, users: users, revocations: revocations}
}

// Resolve maps a raw bearer token to a viewer. An empty token is Anonymous.
func (r *Resolver) Resolve(ctx context.Context, bearer string) (Viewer, error) {
	bearer = strings.TrimSpace(bearer)
	if bearer == "" {
		return Anonymous{}, nil
	}

	claims, err := auth.ParseToken(r.secret, bearer)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if r.revocations != nil {
		revoked, err := r.revocations.IsRevoked(ctx, claims.ID)
		if err != nil {
			return nil, fmt.Errorf("check revocation: %w", err)
		}
		if revoked {
			return nil, fmt.Errorf("%w: token revoked", ErrInvalidCredential)
		}
	}

	userID, err := claims.UserID()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	user, err := r.users.GetUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: user %d", ErrUserNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("load user %d: %w", userID, err)
	}
	viewer := Authenticated{User: user, TokenID: claims.ID}
	if claims.ExpiresAt != nil {
		viewer.ExpiresAt = claims.ExpiresAt.Time
	}
	return viewer, nil
}
