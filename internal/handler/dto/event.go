package dto

import (
	"github.com/tapon/qrengine/internal/model"
)

// EventRequest is one analytics fact reported by a client.
type EventRequest struct {
	EventType     string         `json:"event_type" validate:"required,max=48"`
	EventCategory string         `json:"event_category,omitempty" validate:"omitempty,oneof=engagement navigation conversion system"`
	EventAction   string         `json:"event_action" validate:"required,max=100"`
	ActorID       string         `json:"actor_id,omitempty" validate:"max=64"`
	ProfileID     string         `json:"profile_id,omitempty" validate:"max=64"`
	QRCodeID      string         `json:"qr_code_id,omitempty" validate:"max=64"`
	OrderID       string         `json:"order_id,omitempty" validate:"max=64"`
	Source        string         `json:"source,omitempty" validate:"max=100"`
	SessionID     string         `json:"session_id,omitempty" validate:"max=100"`
	Language      string         `json:"language,omitempty" validate:"max=35"`
	Extra         map[string]any `json:"extra,omitempty" validate:"max=32"`
}

// ToModel converts the request into an event. Request-derived metadata is
// filled in by the handler.
func (r *EventRequest) ToModel() *model.AnalyticsEvent {
	return &model.AnalyticsEvent{
		ActorID:       r.ActorID,
		ProfileID:     r.ProfileID,
		QRCodeID:      r.QRCodeID,
		OrderID:       r.OrderID,
		EventType:     r.EventType,
		EventCategory: r.EventCategory,
		EventAction:   r.EventAction,
		Metadata: model.EventMetadata{
			Source:    r.Source,
			SessionID: r.SessionID,
			Language:  r.Language,
			Extra:     r.Extra,
		},
	}
}

// EventAccepted acknowledges a recorded event.
type EventAccepted struct {
	ID string `json:"id"`
}
