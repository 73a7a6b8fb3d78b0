// Package model defines domain entities for the application.
package model

import (
	"strconv"
	"strings"
	"time"
)

// QRType identifies how a record's content is turned into a payload.
type QRType string

const (
	QRTypeProfile   QRType = "profile"
	QRTypeContact   QRType = "contact"
	QRTypeWhatsApp  QRType = "whatsapp"
	QRTypeEmail     QRType = "email"
	QRTypePhone     QRType = "phone"
	QRTypeLinkedIn  QRType = "linkedin"
	QRTypeInstagram QRType = "instagram"
	QRTypeFacebook  QRType = "facebook"
	QRTypeTwitter   QRType = "twitter"
	QRTypeWebsite   QRType = "website"
	QRTypeWiFi      QRType = "wifi"
	QRTypeText      QRType = "text"
	QRTypeURL       QRType = "url"
	QRTypeCustom    QRType = "custom"
)

// QRTypes lists every supported type in display order.
var QRTypes = []QRType{
	QRTypeProfile, QRTypeContact, QRTypeWhatsApp, QRTypeEmail, QRTypePhone,
	QRTypeLinkedIn, QRTypeInstagram, QRTypeFacebook, QRTypeTwitter, QRTypeWebsite,
	QRTypeWiFi, QRTypeText, QRTypeURL, QRTypeCustom,
}

// ParseQRType normalizes s into a QRType. "vcard" is accepted for contact.
func ParseQRType(s string) (QRType, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "vcard" {
		return QRTypeContact, true
	}
	for _, t := range QRTypes {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

// IsValid reports whether t is one of the supported types.
func (t QRType) IsValid() bool {
	for _, v := range QRTypes {
		if v == t {
			return true
		}
	}
	return false
}

// Content is the type-specific input a payload is built from.
// Only the fields relevant to the record's type are read.
type Content struct {
	// contact
	Name         string `json:"name,omitempty"`
	Organization string `json:"organization,omitempty"`
	Title        string `json:"title,omitempty"`
	Phone        string `json:"phone,omitempty"`
	Email        string `json:"email,omitempty"`
	Website      string `json:"website,omitempty"`
	Note         string `json:"note,omitempty"`

	// whatsapp
	Message string `json:"message,omitempty"`

	// email
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body,omitempty"`

	// wifi
	SSID     string `json:"ssid,omitempty"`
	Security string `json:"security,omitempty"`
	Password string `json:"password,omitempty"`
	Hidden   bool   `json:"hidden,omitempty"`

	// social, website, url
	URL string `json:"url,omitempty"`

	// text, custom
	Text string `json:"text,omitempty"`
}

// FormattedField is one labeled line of the display echo of a payload.
type FormattedField struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// ErrorCorrection is the redundancy level requested from the renderer.
type ErrorCorrection string

const (
	ErrorCorrectionLow      ErrorCorrection = "L"
	ErrorCorrectionMedium   ErrorCorrection = "M"
	ErrorCorrectionQuartile ErrorCorrection = "Q"
	ErrorCorrectionHigh     ErrorCorrection = "H"
)

// Design holds presentation settings consumed by the image renderer.
type Design struct {
	ForegroundColor string          `json:"foreground_color"`
	BackgroundColor string          `json:"background_color"`
	ErrorCorrection ErrorCorrection `json:"error_correction"`
	Margin          int             `json:"margin"`
	Size            int             `json:"size"`
	LogoURL         string          `json:"logo_url,omitempty"`
}

// DefaultDesign returns the settings used when a request omits them.
func DefaultDesign() Design {
	return Design{
		ForegroundColor: "#000000",
		BackgroundColor: "#FFFFFF",
		ErrorCorrection: ErrorCorrectionMedium,
		Margin:          4,
		Size:            300,
	}
}

// DayBucket counts scans on one UTC calendar day.
type DayBucket struct {
	Day   string `json:"day"` // YYYY-MM-DD
	Count int64  `json:"count"`
}

// LocationKey identifies a scan location.
type LocationKey struct {
	Country string `json:"country"`
	City    string `json:"city,omitempty"`
}

// String renders the key as "Country/City".
func (k LocationKey) String() string {
	if k.City == "" {
		return k.Country
	}
	return k.Country + "/" + k.City
}

// BreakdownEntry is one counted key of a dimension breakdown.
type BreakdownEntry[K comparable] struct {
	Key   K     `json:"key"`
	Count int64 `json:"count"`
}

// ScanStats holds the analytics fields of a QR record.
type ScanStats struct {
	TotalScans    int64                         `json:"total_scans"`
	UniqueScans   int64                         `json:"unique_scans"`
	LastScannedAt *time.Time                    `json:"last_scanned_at,omitempty"`
	Daily         []DayBucket                   `json:"daily"`
	Locations     []BreakdownEntry[LocationKey] `json:"locations"`
	Devices       []BreakdownEntry[string]      `json:"devices"`
	Referrers     []BreakdownEntry[string]      `json:"referrers"`
}

// QRRecord is one generated code.
type QRRecord struct {
	ID        string           `json:"id"`
	OwnerID   string           `json:"owner_id"`
	ProfileID *string          `json:"profile_id,omitempty"`
	Title     string           `json:"title"`
	Type      QRType           `json:"type"`
	Content   Content          `json:"content"`
	Payload   string           `json:"payload"`
	Formatted []FormattedField `json:"formatted"`
	Design    Design           `json:"design"`

	IsActive     bool       `json:"is_active"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	MaxScans     *int64     `json:"max_scans,omitempty"`
	PasswordHash string     `json:"-"`

	Stats ScanStats `json:"stats"`

	Version   int64     `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasPassword reports whether scans must present an access password.
func (r *QRRecord) HasPassword() bool {
	return r.PasswordHash != ""
}

// Clone returns a deep copy so that a scan can be applied without touching r.
func (r *QRRecord) Clone() *QRRecord {
	c := *r
	if r.ProfileID != nil {
		p := *r.ProfileID
		c.ProfileID = &p
	}
	if r.ExpiresAt != nil {
		e := *r.ExpiresAt
		c.ExpiresAt = &e
	}
	if r.MaxScans != nil {
		m := *r.MaxScans
		c.MaxScans = &m
	}
	if r.Stats.LastScannedAt != nil {
		l := *r.Stats.LastScannedAt
		c.Stats.LastScannedAt = &l
	}
	c.Formatted = append([]FormattedField(nil), r.Formatted...)
	c.Stats.Daily = append([]DayBucket(nil), r.Stats.Daily...)
	c.Stats.Locations = append([]BreakdownEntry[LocationKey](nil), r.Stats.Locations...)
	c.Stats.Devices = append([]BreakdownEntry[string](nil), r.Stats.Devices...)
	c.Stats.Referrers = append([]BreakdownEntry[string](nil), r.Stats.Referrers...)
	return &c
}

// Profile is the read-only projection of a business-card profile.
type Profile struct {
	ID       string `json:"id"`
	OwnerID  string `json:"owner_id"`
	Username string `json:"username"`
}

// CachedProfile is a resolved profile URL stored in Redis.
type CachedProfile struct {
	URL       string `redis:"url"`
	UpdatedAt string `redis:"updated_at"` // Unix timestamp
}

// NewCachedProfile builds the cache entry for a resolved URL.
func NewCachedProfile(url string, at time.Time) *CachedProfile {
	return &CachedProfile{URL: url, UpdatedAt: strconv.FormatInt(at.Unix(), 10)}
}
