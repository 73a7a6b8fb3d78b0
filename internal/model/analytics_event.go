// Package model defines domain entities for the application.
package model

import "time"

// Event types recorded by the platform. The set is open; these are the ones
// the service itself emits or reports on.
const (
	EventQRScan      = "qr_scan"
	EventQRCreate    = "qr_create"
	EventProfileView = "profile_view"
	EventLinkClick   = "link_click"
	EventContactSave = "contact_save"
	EventLeadSubmit  = "lead_submit"
	EventOrderCreate = "order_create"
)

// Event categories.
const (
	CategoryEngagement = "engagement"
	CategoryNavigation = "navigation"
	CategoryConversion = "conversion"
	CategorySystem     = "system"
)

// EventRetention is how long facts are kept before the store expires them.
const EventRetention = 2 * 365 * 24 * time.Hour

// EventMetadata is the request context captured with a fact.
type EventMetadata struct {
	DeviceType  string         `json:"device_type,omitempty" bson:"device_type,omitempty"`
	Browser     string         `json:"browser,omitempty" bson:"browser,omitempty"`
	Platform    string         `json:"platform,omitempty" bson:"platform,omitempty"`
	Language    string         `json:"language,omitempty" bson:"language,omitempty"`
	Referrer    string         `json:"referrer,omitempty" bson:"referrer,omitempty"`
	Source      string         `json:"source,omitempty" bson:"source,omitempty"`
	Country     string         `json:"country,omitempty" bson:"country,omitempty"`
	Region      string         `json:"region,omitempty" bson:"region,omitempty"`
	City        string         `json:"city,omitempty" bson:"city,omitempty"`
	SessionID   string         `json:"session_id,omitempty" bson:"session_id,omitempty"`
	VisitorHash string         `json:"visitor_hash,omitempty" bson:"visitor_hash,omitempty"` // SHA256(IP + UA + daily_salt)[0:16]
	Extra       map[string]any `json:"extra,omitempty" bson:"extra,omitempty"`
}

// AnalyticsEvent is one immutable fact in the event log.
type AnalyticsEvent struct {
	ID      string `json:"id" bson:"_id"`                     // ULID (time-sortable)
	EventID string `json:"event_id,omitempty" bson:"event_id"` // Idempotency key (Redis stream ID)

	ActorID   string `json:"actor_id,omitempty" bson:"actor_id,omitempty"`
	ProfileID string `json:"profile_id,omitempty" bson:"profile_id,omitempty"`
	QRCodeID  string `json:"qr_code_id,omitempty" bson:"qr_code_id,omitempty"`
	OrderID   string `json:"order_id,omitempty" bson:"order_id,omitempty"`

	EventType     string `json:"event_type" bson:"event_type"`
	EventCategory string `json:"event_category" bson:"event_category"`
	EventAction   string `json:"event_action" bson:"event_action"`

	Metadata EventMetadata `json:"metadata" bson:"metadata"`

	OccurredAt time.Time `json:"occurred_at" bson:"occurred_at"`
}

// ActorKey identifies who caused the event for distinct counts: the actor
// reference when known, otherwise the anonymous visitor hash.
func (e *AnalyticsEvent) ActorKey() string {
	if e.ActorID != "" {
		return "a:" + e.ActorID
	}
	if e.Metadata.VisitorHash != "" {
		return "v:" + e.Metadata.VisitorHash
	}
	return ""
}
