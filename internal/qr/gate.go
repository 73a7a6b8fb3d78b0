package qr

import (
	"time"

	"github.com/tapon/qrengine/internal/model"
)

// Reason explains why a scan was refused.
type Reason string

const (
	ReasonInactive     Reason = "inactive"
	ReasonExpired      Reason = "expired"
	ReasonLimitReached Reason = "limit_reached"
)

// Decision is the outcome of Evaluate.
type Decision struct {
	Eligible bool   `json:"eligible"`
	Reason   Reason `json:"reason,omitempty"`
}

// Evaluate decides whether rec may be scanned at now. Checks run in a fixed
// order: inactive, expired, limit reached. rec is not modified.
func Evaluate(rec *model.QRRecord, now time.Time) Decision {
	if !rec.IsActive {
		return Decision{Reason: ReasonInactive}
	}
	if rec.ExpiresAt != nil && now.After(*rec.ExpiresAt) {
		return Decision{Reason: ReasonExpired}
	}
	if rec.MaxScans != nil && rec.Stats.TotalScans >= *rec.MaxScans {
		return Decision{Reason: ReasonLimitReached}
	}
	return Decision{Eligible: true}
}
