package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/tapon/qrengine/internal/cache"
	"github.com/tapon/qrengine/internal/metrics"
	"github.com/tapon/qrengine/internal/model"
	"github.com/tapon/qrengine/internal/repository"
)

// ProfileResolver turns a profile reference into the public URL encoded in
// profile codes, and keeps the profile projection current.
type ProfileResolver interface {
	ResolveProfileURL(ctx context.Context, profileID string) (string, error)
	RegisterProfile(ctx context.Context, p *model.Profile) error
}

// ProfileStore reads and writes profile projections.
type ProfileStore interface {
	GetProfile(ctx context.Context, id string) (*model.Profile, error)
	UpsertProfile(ctx context.Context, p *model.Profile) error
}

// ProfileURLCache caches resolved URLs. *cache.Cache implements it.
type ProfileURLCache interface {
	GetProfileURL(ctx context.Context, profileID string) (*model.CachedProfile, error)
	SetProfileURL(ctx context.Context, profileID, url string) error
	DeleteProfileURL(ctx context.Context, profileID string) error
	IsNegativelyCached(ctx context.Context, profileID string) (bool, error)
	SetNegativeCache(ctx context.Context, profileID string) error
}

// CachedProfileResolver resolves profile URLs from Postgres with a Redis
// read-through cache in front.
type CachedProfileResolver struct {
	store   ProfileStore
	cache   ProfileURLCache
	baseURL string
	logger  *slog.Logger
	metrics metrics.Recorder
}

// NewProfileResolver creates a resolver that builds URLs under baseURL.
// cache may be nil.
func NewProfileResolver(store ProfileStore, cache ProfileURLCache, baseURL string, logger *slog.Logger, recorder metrics.Recorder) *CachedProfileResolver {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &CachedProfileResolver{
		store:   store,
		cache:   cache,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger.With("component", "profile_resolver"),
		metrics: recorder,
	}
}

// ProfileURL is the public address of a profile page. The username is used
// when known, the ID otherwise.
func ProfileURL(baseURL string, p *model.Profile) string {
	slug := p.Username
	if slug == "" {
		slug = p.ID
	}
	return strings.TrimSuffix(baseURL, "/") + "/profile/" + url.PathEscape(slug)
}

// ResolveProfileURL returns the public URL of profileID, or
// ErrProfileNotFound.
func (r *CachedProfileResolver) ResolveProfileURL(ctx context.Context, profileID string) (string, error) {
	if profileID == "" {
		return "", ErrProfileRequired
	}

	if r.cache != nil {
		cached, err := r.cache.GetProfileURL(ctx, profileID)
		switch {
		case err == nil:
			r.metrics.IncProfileCacheHit()
			return cached.URL, nil
		case errors.Is(err, cache.ErrCacheMiss):
			r.metrics.IncProfileCacheMiss()
			if neg, _ := r.cache.IsNegativelyCached(ctx, profileID); neg {
				return "", ErrProfileNotFound
			}
		default:
			r.logger.Warn("profile_cache_read_failed", "profile_id", profileID, "error", err)
		}
	}

	p, err := r.store.GetProfile(ctx, profileID)
	if err != nil {
		if errors.Is(err, repository.ErrProfileNotFound) {
			if r.cache != nil {
				_ = r.cache.SetNegativeCache(ctx, profileID)
			}
			return "", ErrProfileNotFound
		}
		return "", fmt.Errorf("resolve profile: %w", err)
	}

	resolved := ProfileURL(r.baseURL, p)
	if r.cache != nil {
		if err := r.cache.SetProfileURL(ctx, profileID, resolved); err != nil {
			r.logger.Warn("profile_cache_write_failed", "profile_id", profileID, "error", err)
		}
	}
	return resolved, nil
}

// RegisterProfile stores p and drops any cached URL for it.
func (r *CachedProfileResolver) RegisterProfile(ctx context.Context, p *model.Profile) error {
	if p == nil || p.ID == "" || p.OwnerID == "" {
		return ErrInvalidProfile
	}
	if err := r.store.UpsertProfile(ctx, p); err != nil {
		return err
	}
	if r.cache != nil {
		if err := r.cache.DeleteProfileURL(ctx, p.ID); err != nil {
			r.logger.Warn("profile_cache_invalidate_failed", "profile_id", p.ID, "error", err)
		}
	}
	return nil
}
