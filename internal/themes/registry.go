// Package themes turns free-form theme text into canonical, deduplicated
// theme records.
package themes

import (
	"context"
	"errors"
	"fmt"

	"newspaper/api/internal/logging"
	"newspaper/api/internal/metrics"
	"newspaper/api/internal/store"
)

// Store is the subset of store.Repository the registry needs.
type Store interface {
	FindThemeByName(ctx context.Context, name string) (store.Theme, error)
	InsertTheme(ctx context.Context, name string) (store.Theme, error)
}

type Registry struct {
	store Store
}

func NewRegistry(s Store) *Registry {
	return &Registry{store: s}
}

// Bind returns a registry that reads and writes through s, typically a
// repository bound to an open transaction.
func (r *Registry) Bind(s Store) *Registry {
	return &Registry{store: s}
}

// Resolve maps raw to existing themes, creating the missing ones. The row read
// back by name after an insert is returned, so two callers racing on a new
// name both end up with the same id.
func (r *Registry) Resolve(ctx context.Context, raw string) ([]store.Theme, error) {
	names := Normalize(raw)
	out := make([]store.Theme, 0, len(names))
	for _, name := range names {
		theme, err := resolveOne(ctx, r.store, name)
		if err != nil {
			return nil, err
		}
		out = append(out, theme)
	}
	return out, nil
}

func resolveOne(ctx context.Context, s Store, name string) (store.Theme, error) {
	theme, err := s.FindThemeByName(ctx, name)
	if err == nil {
		return theme, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return store.Theme{}, fmt.Errorf("find theme %q: %w", name, err)
	}

	if _, err := s.InsertTheme(ctx, name); err != nil {
		if !errors.Is(err, store.ErrConflict) {
			return store.Theme{}, fmt.Errorf("insert theme %q: %w", name, err)
		}
		logging.Ctx(ctx).Debug().Str("theme", name).Msg("theme inserted concurrently")
	} else {
		metrics.ThemesCreated.Inc()
	}

	theme, err = s.FindThemeByName(ctx, name)
	if err != nil {
		return store.Theme{}, fmt.Errorf("reread theme %q: %w", name, err)
	}
	return theme, nil
}
