package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newspaper/api/internal/auth"
	"newspaper/api/internal/store"
)

var testSecret = []byte("identity-secret")

type revokedSet map[string]bool

func (r revokedSet) IsRevoked(_ context.Context, id string) (bool, error) {
	return r[id], nil
}

type brokenRevocations struct{}

func (brokenRevocations) IsRevoked(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}

func newUsers() *store.MemoryStore {
	mem := store.NewMemoryStore()
	mem.SeedUser(store.User{ID: 1, Email: "reader@example.com", Roles: []string{"ROLE_USER"}})
	return mem
}

func issue(t *testing.T, userID int64, ttl time.Duration) (string, auth.Claims) {
	t.Helper()
	token, claims, err := auth.IssueToken(testSecret, userID, "reader", ttl)
	require.NoError(t, err)
	return token, claims
}

func TestResolveEmptyTokenIsAnonymous(t *testing.T) {
	r := NewResolver(testSecret, newUsers(), nil)
	v, err := r.Resolve(context.Background(), "  ")
	require.NoError(t, err)
	assert.IsType(t, Anonymous{}, v)

	_, ok := UserOf(v)
	assert.False(t, ok)
}

func TestResolveKnownUser(t *testing.T) {
	token, claims := issue(t, 1, time.Hour)
	r := NewResolver(testSecret, newUsers(), revokedSet{})

	v, err := r.Resolve(context.Background(), token)
	require.NoError(t, err)

	user, ok := UserOf(v)
	require.True(t, ok)
	assert.Equal(t, int64(1), user.ID)
	assert.Equal(t, claims.ID, v.(Authenticated).TokenID)
	assert.WithinDuration(t, time.Now().Add(time.Hour), v.(Authenticated).ExpiresAt, time.Minute)
}

func TestResolveUnknownUserIsError(t *testing.T) {
	token, _ := issue(t, 99, time.Hour)
	_, err := NewResolver(testSecret, newUsers(), nil).Resolve(context.Background(), token)
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.NotErrorIs(t, err, ErrInvalidCredential)
}

func TestResolveRejectsBadCredentials(t *testing.T) {
	expired, _ := issue(t, 1, -time.Minute)
	revoked, revokedClaims := issue(t, 1, time.Hour)
	forged, _, err := auth.IssueToken([]byte("other"), 1, "reader", time.Hour)
	require.NoError(t, err)

	r := NewResolver(testSecret, newUsers(), revokedSet{revokedClaims.ID: true})
	for name, token := range map[string]string{
		"garbage": "not-a-token",
		"expired": expired,
		"revoked": revoked,
		"forged":  forged,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := r.Resolve(context.Background(), token)
			assert.ErrorIs(t, err, ErrInvalidCredential)
		})
	}
}

func TestResolveSurfacesRevocationBackendErrors(t *testing.T) {
	token, _ := issue(t, 1, time.Hour)
	_, err := NewResolver(testSecret, newUsers(), brokenRevocations{}).Resolve(context.Background(), token)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidCredential)
}
