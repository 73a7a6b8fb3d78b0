package service

import (
	"context"
	"errors"

	"github.com/tapon/qrengine/internal/analytics"
	"github.com/tapon/qrengine/internal/repository"
)

// AnalyticsService scopes event log queries to what the caller owns.
// Platform-wide views are not owner scoped.
type AnalyticsService struct {
	agg      *analytics.Aggregator
	codes    QRStore
	profiles ProfileStore
}

// NewAnalyticsService creates a new AnalyticsService.
func NewAnalyticsService(agg *analytics.Aggregator, codes QRStore, profiles ProfileStore) *AnalyticsService {
	return &AnalyticsService{agg: agg, codes: codes, profiles: profiles}
}

// FunnelInput selects a subject funnel.
type FunnelInput struct {
	ID          string
	OwnerID     string
	EventType   string
	Window      analytics.Window
	RecentLimit int
}

// QRFunnel returns scan counts and recent facts of one QR code.
func (s *AnalyticsService) QRFunnel(ctx context.Context, input FunnelInput) (*analytics.Funnel, error) {
	rec, err := s.codes.GetQRCode(ctx, input.ID)
	if err != nil {
		return nil, translateStoreError(err)
	}
	if input.OwnerID != "" && rec.OwnerID != input.OwnerID {
		return nil, ErrForbidden
	}

	return s.agg.SubjectFunnel(ctx, analytics.SubjectQuery{
		Kind:        analytics.SubjectQR,
		ID:          input.ID,
		EventType:   input.EventType,
		Window:      input.Window,
		RecentLimit: input.RecentLimit,
	})
}

// ProfileFunnel returns view counts and recent facts of one profile.
func (s *AnalyticsService) ProfileFunnel(ctx context.Context, input FunnelInput) (*analytics.Funnel, error) {
	if err := s.authorizeProfile(ctx, input.ID, input.OwnerID); err != nil {
		return nil, err
	}

	return s.agg.SubjectFunnel(ctx, analytics.SubjectQuery{
		Kind:        analytics.SubjectProfile,
		ID:          input.ID,
		EventType:   input.EventType,
		Window:      input.Window,
		RecentLimit: input.RecentLimit,
	})
}

// ProfileOverview returns the dashboard of one profile.
func (s *AnalyticsService) ProfileOverview(ctx context.Context, profileID, ownerID string, w analytics.Window) (*analytics.ProfileOverview, error) {
	if err := s.authorizeProfile(ctx, profileID, ownerID); err != nil {
		return nil, err
	}
	return s.agg.ProfileOverview(ctx, profileID, w)
}

// Trend returns the per-day series of one event type.
func (s *AnalyticsService) Trend(ctx context.Context, eventType string, w analytics.Window) (*analytics.Trend, error) {
	return s.agg.DayTrend(ctx, eventType, w)
}

// Summary returns the platform-wide view.
func (s *AnalyticsService) Summary(ctx context.Context, w analytics.Window, topN int) (*analytics.Summary, error) {
	return s.agg.PlatformSummary(ctx, w, topN)
}

// Realtime returns the last-hour and last-day view.
func (s *AnalyticsService) Realtime(ctx context.Context) (*analytics.Realtime, error) {
	return s.agg.Realtime(ctx)
}

func (s *AnalyticsService) authorizeProfile(ctx context.Context, profileID, ownerID string) error {
	if profileID == "" {
		return ErrInvalidProfile
	}
	p, err := s.profiles.GetProfile(ctx, profileID)
	if err != nil {
		if errors.Is(err, repository.ErrProfileNotFound) {
			return ErrProfileNotFound
		}
		return err
	}
	if ownerID != "" && p.OwnerID != ownerID {
		return ErrForbidden
	}
	return nil
}
