// Package dto provides Data Transfer Objects for API requests and responses.
package dto

import (
	"time"

	"github.com/tapon/qrengine/internal/model"
	"github.com/tapon/qrengine/internal/qr"
)

// DesignRequest carries presentation settings. Zero fields keep their
// current or default values.
type DesignRequest struct {
	ForegroundColor string `json:"foreground_color,omitempty" validate:"omitempty,hexcolor"`
	BackgroundColor string `json:"background_color,omitempty" validate:"omitempty,hexcolor"`
	ErrorCorrection string `json:"error_correction,omitempty" validate:"omitempty,eclevel"`
	Margin          int    `json:"margin,omitempty" validate:"omitempty,min=0,max=20"`
	Size            int    `json:"size,omitempty" validate:"omitempty,min=100,max=2000"`
	LogoURL         string `json:"logo_url,omitempty" validate:"omitempty,url,max=2048"`
}

// ToModel converts the request into a design patch.
func (d *DesignRequest) ToModel() *model.Design {
	if d == nil {
		return nil
	}
	return &model.Design{
		ForegroundColor: d.ForegroundColor,
		BackgroundColor: d.BackgroundColor,
		ErrorCorrection: model.ErrorCorrection(d.ErrorCorrection),
		Margin:          d.Margin,
		Size:            d.Size,
		LogoURL:         d.LogoURL,
	}
}

// CreateQRRequest represents the request body for creating a QR code.
type CreateQRRequest struct {
	Title     string         `json:"title,omitempty" validate:"max=200"`
	Type      string         `json:"type" validate:"required,qrtype"`
	ProfileID *string        `json:"profile_id,omitempty" validate:"omitempty,max=64"`
	Content   model.Content  `json:"content"`
	Design    *DesignRequest `json:"design,omitempty"`
	IsActive  *bool          `json:"is_active,omitempty"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
	MaxScans  *int64         `json:"max_scans,omitempty" validate:"omitempty,min=1"`
	Password  string         `json:"password,omitempty" validate:"omitempty,min=4,max=128"`
}

// UpdateQRRequest represents the request body for updating a QR code.
type UpdateQRRequest struct {
	Title         *string        `json:"title,omitempty" validate:"omitempty,max=200"`
	Type          *string        `json:"type,omitempty" validate:"omitempty,qrtype"`
	ProfileID     *string        `json:"profile_id,omitempty" validate:"omitempty,max=64"`
	Content       *model.Content `json:"content,omitempty"`
	Design        *DesignRequest `json:"design,omitempty"`
	IsActive      *bool          `json:"is_active,omitempty"`
	ExpiresAt     *time.Time     `json:"expires_at,omitempty"`
	ClearExpiry   bool           `json:"clear_expiry,omitempty"`
	MaxScans      *int64         `json:"max_scans,omitempty" validate:"omitempty,min=1"`
	ClearMaxScans bool           `json:"clear_max_scans,omitempty"`
	// Password sets a new password; an empty string removes it.
	Password *string `json:"password,omitempty" validate:"omitempty,max=128"`
}

// EnsureProfileCodeRequest reports a profile that should have a code.
type EnsureProfileCodeRequest struct {
	Username string `json:"username,omitempty" validate:"omitempty,max=64"`
}

// ScanRequest is the optional body of POST /s/{id}.
type ScanRequest struct {
	Password    string `json:"password,omitempty" validate:"max=128"`
	Fingerprint string `json:"fingerprint,omitempty" validate:"max=128"`
	DeviceType  string `json:"device_type,omitempty" validate:"max=32"`
	Country     string `json:"country,omitempty" validate:"max=64"`
	City        string `json:"city,omitempty" validate:"max=100"`
	SessionID   string `json:"session_id,omitempty" validate:"max=100"`
}

// QRResponse represents a QR code in API responses.
type QRResponse struct {
	ID          string                 `json:"id"`
	OwnerID     string                 `json:"owner_id"`
	ProfileID   *string                `json:"profile_id,omitempty"`
	Title       string                 `json:"title"`
	Type        model.QRType           `json:"type"`
	Content     model.Content          `json:"content"`
	Payload     string                 `json:"payload"`
	Formatted   []model.FormattedField `json:"formatted"`
	Design      model.Design           `json:"design"`
	ScanURL     string                 `json:"scan_url"`
	IsActive    bool                   `json:"is_active"`
	HasPassword bool                   `json:"has_password"`
	ExpiresAt   *time.Time             `json:"expires_at,omitempty"`
	MaxScans    *int64                 `json:"max_scans,omitempty"`
	TotalScans  int64                  `json:"total_scans"`
	UniqueScans int64                  `json:"unique_scans"`
	LastScanAt  *time.Time             `json:"last_scanned_at,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// QRListResponse represents a paginated list of QR codes.
type QRListResponse struct {
	Data       []QRResponse `json:"data"`
	Pagination *Pagination  `json:"pagination"`
}

// Pagination provides cursor-based pagination info.
type Pagination struct {
	NextCursor string `json:"next_cursor,omitempty"`
	HasMore    bool   `json:"has_more"`
}

// ScanResponse is the outcome of a scan.
type ScanResponse struct {
	Eligible bool         `json:"eligible"`
	Reason   qr.Reason    `json:"reason,omitempty"`
	Payload  string       `json:"payload,omitempty"`
	Type     model.QRType `json:"type,omitempty"`
	Code     string       `json:"code,omitempty"`
}

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error  string            `json:"error"`
	Code   string            `json:"code"`
	Fields map[string]string `json:"fields,omitempty"`
}

// ToQRResponse converts a QRRecord model to QRResponse DTO.
func ToQRResponse(rec *model.QRRecord, baseURL string) *QRResponse {
	formatted := rec.Formatted
	if formatted == nil {
		formatted = []model.FormattedField{}
	}
	return &QRResponse{
		ID:          rec.ID,
		OwnerID:     rec.OwnerID,
		ProfileID:   rec.ProfileID,
		Title:       rec.Title,
		Type:        rec.Type,
		Content:     rec.Content,
		Payload:     rec.Payload,
		Formatted:   formatted,
		Design:      rec.Design,
		ScanURL:     baseURL + "/s/" + rec.ID,
		IsActive:    rec.IsActive,
		HasPassword: rec.HasPassword(),
		ExpiresAt:   rec.ExpiresAt,
		MaxScans:    rec.MaxScans,
		TotalScans:  rec.Stats.TotalScans,
		UniqueScans: rec.Stats.UniqueScans,
		LastScanAt:  rec.Stats.LastScannedAt,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}
}

// ToQRListResponse converts a slice of QRRecord models to QRListResponse.
func ToQRListResponse(recs []*model.QRRecord, baseURL string, nextCursor string, hasMore bool) *QRListResponse {
	responses := make([]QRResponse, len(recs))
	for i, rec := range recs {
		responses[i] = *ToQRResponse(rec, baseURL)
	}
	return &QRListResponse{
		Data: responses,
		Pagination: &Pagination{
			NextCursor: nextCursor,
			HasMore:    hasMore,
		},
	}
}
