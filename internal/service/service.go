// Package service provides business logic for the application.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/tapon/qrengine/internal/model"
	"github.com/tapon/qrengine/internal/repository"
)

// Service errors.
var (
	ErrQRNotFound       = errors.New("qr code not found")
	ErrForbidden        = errors.New("qr code belongs to another owner")
	ErrInvalidType      = errors.New("unsupported qr type")
	ErrInvalidTitle     = errors.New("title too long")
	ErrInvalidDesign    = errors.New("invalid design settings")
	ErrExpiresInPast    = errors.New("expires_at must be in the future")
	ErrInvalidMaxScans  = errors.New("max_scans must be positive")
	ErrProfileRequired  = errors.New("profile codes require a profile_id")
	ErrProfileNotFound  = errors.New("profile not found")
	ErrInvalidProfile   = errors.New("invalid profile")
	ErrPasswordRequired = errors.New("password required")
	ErrPasswordMismatch = errors.New("password does not match")
	ErrInvalidCursor    = errors.New("invalid pagination cursor")
)

// QRStore is the persistence the services need. *repository.Repository
// implements it.
type QRStore interface {
	CreateQRCode(ctx context.Context, rec *model.QRRecord) error
	GetQRCode(ctx context.Context, id string) (*model.QRRecord, error)
	FindProfileCode(ctx context.Context, profileID string) (*model.QRRecord, error)
	ListQRCodes(ctx context.Context, filter repository.QRFilter, cursor string, limit int) ([]*model.QRRecord, string, error)
	UpdateQRCode(ctx context.Context, id string, fn func(cur *model.QRRecord) error) (*model.QRRecord, error)
	ApplyScan(ctx context.Context, id string, apply func(cur *model.QRRecord) (*model.QRRecord, error)) (*model.QRRecord, error)
	DeleteQRCode(ctx context.Context, id string) error
}

var (
	_ QRStore      = (*repository.Repository)(nil)
	_ ProfileStore = (*repository.Repository)(nil)
)

// VisitorTracker remembers who scanned which code recently. *cache.Cache
// implements it.
type VisitorTracker interface {
	MarkVisitor(ctx context.Context, qrID, fingerprint string, window time.Duration) (bool, error)
	ReleaseVisitor(ctx context.Context, qrID, fingerprint string) error
	ResetVisitors(ctx context.Context, qrID string) error
}

// EventRecorder accepts analytics facts. It never blocks on the event log.
type EventRecorder interface {
	Record(ctx context.Context, e *model.AnalyticsEvent) *model.AnalyticsEvent
}

// translateStoreError maps repository errors onto service errors.
func translateStoreError(err error) error {
	switch {
	case errors.Is(err, repository.ErrQRNotFound):
		return ErrQRNotFound
	case errors.Is(err, repository.ErrProfileMissing), errors.Is(err, repository.ErrProfileNotFound):
		return ErrProfileNotFound
	case errors.Is(err, repository.ErrInvalidCursor):
		return ErrInvalidCursor
	}
	return err
}

type noopVisitors struct{}

func (noopVisitors) MarkVisitor(context.Context, string, string, time.Duration) (bool, error) {
	return true, nil
}
func (noopVisitors) ReleaseVisitor(context.Context, string, string) error { return nil }
func (noopVisitors) ResetVisitors(context.Context, string) error          { return nil }

type noopEvents struct{}

func (noopEvents) Record(_ context.Context, e *model.AnalyticsEvent) *model.AnalyticsEvent { return e }
