package testutil

import (
	"strings"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/tapon/qrengine/internal/model"
)

// NewTestQR returns an active url code owned by ownerID, ready to insert.
func NewTestQR(t testing.TB, ownerID string) *model.QRRecord {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	const target = "https://example.com"
	return &model.QRRecord{
		ID:        ulid.Make().String(),
		OwnerID:   ownerID,
		Title:     "Test code",
		Type:      model.QRTypeURL,
		Content:   model.Content{URL: target},
		Payload:   target,
		Formatted: []model.FormattedField{{Label: "URL", Value: target}},
		Design:    model.DefaultDesign(),
		IsActive:  true,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewTestQRWithLimit is NewTestQR capped at maxScans total scans.
func NewTestQRWithLimit(t testing.TB, ownerID string, maxScans int64) *model.QRRecord {
	t.Helper()
	rec := NewTestQR(t, ownerID)
	rec.MaxScans = &maxScans
	return rec
}

// NewTestProfile returns a profile projection with a unique username.
func NewTestProfile(t testing.TB, ownerID string) *model.Profile {
	t.Helper()
	id := ulid.Make().String()
	return &model.Profile{
		ID:       id,
		OwnerID:  ownerID,
		Username: "user-" + strings.ToLower(id[len(id)-8:]),
	}
}
