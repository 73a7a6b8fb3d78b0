package analytics

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/tapon/qrengine/internal/model"
)

const (
	maxRefLength      = 64
	maxActionLength   = 100
	maxShortMeta      = 100
	maxExtraKeys      = 32
	visitorHashLength = 16
)

// ErrInvalidEvent wraps every validation failure.
var ErrInvalidEvent = errors.New("invalid analytics event")

var (
	eventTypePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{1,47}$`)
	categories       = map[string]bool{
		model.CategoryEngagement: true,
		model.CategoryNavigation: true,
		model.CategoryConversion: true,
		model.CategorySystem:     true,
	}
	defaultCategories = map[string]string{
		model.EventQRScan:      model.CategoryEngagement,
		model.EventQRCreate:    model.CategorySystem,
		model.EventProfileView: model.CategoryNavigation,
		model.EventLinkClick:   model.CategoryEngagement,
		model.EventContactSave: model.CategoryConversion,
		model.EventLeadSubmit:  model.CategoryConversion,
		model.EventOrderCreate: model.CategoryConversion,
	}
)

// DefaultCategory returns the category used when an event of eventType is
// recorded without one.
func DefaultCategory(eventType string) string {
	if c, ok := defaultCategories[eventType]; ok {
		return c
	}
	return model.CategoryEngagement
}

// Normalize fills defaults and trims free-form metadata in place. It does
// not assign IDs or timestamps.
func Normalize(e *model.AnalyticsEvent) {
	e.EventType = strings.TrimSpace(strings.ToLower(e.EventType))
	e.EventAction = strings.TrimSpace(e.EventAction)
	if e.EventCategory == "" {
		e.EventCategory = DefaultCategory(e.EventType)
	}

	m := &e.Metadata
	m.DeviceType = strings.ToLower(truncate(m.DeviceType, maxShortMeta))
	m.Browser = truncate(m.Browser, maxShortMeta)
	m.Platform = truncate(m.Platform, maxShortMeta)
	m.Language = truncate(m.Language, maxShortMeta)
	m.Source = truncate(m.Source, maxShortMeta)
	m.Country = truncate(m.Country, maxShortMeta)
	m.Region = truncate(m.Region, maxShortMeta)
	m.City = truncate(m.City, maxShortMeta)
	m.SessionID = truncate(m.SessionID, maxShortMeta)
	m.Referrer = SanitizeReferrer(m.Referrer)
}

// ValidateEvent checks a normalized event.
func ValidateEvent(e *model.AnalyticsEvent) error {
	if !eventTypePattern.MatchString(e.EventType) {
		return fmt.Errorf("%w: event_type must match %s", ErrInvalidEvent, eventTypePattern)
	}
	if e.EventAction == "" {
		return fmt.Errorf("%w: event_action is required", ErrInvalidEvent)
	}
	if len(e.EventAction) > maxActionLength {
		return fmt.Errorf("%w: event_action too long", ErrInvalidEvent)
	}
	if !categories[e.EventCategory] {
		return fmt.Errorf("%w: unknown event_category %q", ErrInvalidEvent, e.EventCategory)
	}
	for name, ref := range map[string]string{
		"actor_id":   e.ActorID,
		"profile_id": e.ProfileID,
		"qr_code_id": e.QRCodeID,
		"order_id":   e.OrderID,
	} {
		if len(ref) > maxRefLength {
			return fmt.Errorf("%w: %s too long", ErrInvalidEvent, name)
		}
	}
	if h := e.Metadata.VisitorHash; h != "" && (len(h) != visitorHashLength || !isHex(h)) {
		return fmt.Errorf("%w: visitor_hash must be %d hex chars", ErrInvalidEvent, visitorHashLength)
	}
	if len(e.Metadata.Extra) > maxExtraKeys {
		return fmt.Errorf("%w: too many metadata keys", ErrInvalidEvent)
	}
	return nil
}

// validateStored additionally requires the fields Record assigns.
func validateStored(e *model.AnalyticsEvent) error {
	if e.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidEvent)
	}
	if e.OccurredAt.IsZero() || e.OccurredAt.After(time.Now().Add(time.Hour)) {
		return fmt.Errorf("%w: occurred_at out of range", ErrInvalidEvent)
	}
	return ValidateEvent(e)
}

func isHex(value string) bool {
	for i := 0; i < len(value); i++ {
		ch := value[i]
		if (ch >= '0' && ch <= '9') || (ch >= 'a' && ch <= 'f') || (ch >= 'A' && ch <= 'F') {
			continue
		}
		return false
	}
	return true
}
