package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/tapon/qrengine/internal/auth"
	"github.com/tapon/qrengine/internal/metrics"
	"github.com/tapon/qrengine/internal/model"
	"github.com/tapon/qrengine/internal/qr"
	"github.com/tapon/qrengine/internal/repository"
)

const (
	maxTitleLength = 200

	defaultPageSize = 20
	maxPageSize     = 100

	minDesignSize   = 100
	maxDesignSize   = 2000
	maxDesignMargin = 20
)

var hexColorRegex = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// QRService handles QR record business logic.
type QRService struct {
	store    QRStore
	profiles ProfileResolver
	visitors VisitorTracker
	events   EventRecorder
	logger   *slog.Logger
	metrics  metrics.Recorder
	now      func() time.Time
}

// NewQRService creates a new QRService. visitors and events may be nil.
func NewQRService(store QRStore, profiles ProfileResolver, visitors VisitorTracker, events EventRecorder, logger *slog.Logger, recorder metrics.Recorder) *QRService {
	if visitors == nil {
		visitors = noopVisitors{}
	}
	if events == nil {
		events = noopEvents{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &QRService{
		store:    store,
		profiles: profiles,
		visitors: visitors,
		events:   events,
		logger:   logger.With("component", "qr_service"),
		metrics:  recorder,
		now:      time.Now,
	}
}

// CreateQRInput defines input for creating a QR code.
type CreateQRInput struct {
	OwnerID   string
	ProfileID *string
	Title     string
	Type      model.QRType
	Content   model.Content
	Design    *model.Design
	IsActive  *bool
	ExpiresAt *time.Time
	MaxScans  *int64
	Password  string
}

// Create validates input, encodes the payload and stores a new record.
func (s *QRService) Create(ctx context.Context, input CreateQRInput) (*model.QRRecord, error) {
	now := s.now().UTC()

	if !input.Type.IsValid() {
		return nil, ErrInvalidType
	}
	if len(input.Title) > maxTitleLength {
		return nil, ErrInvalidTitle
	}
	if input.ExpiresAt != nil && !input.ExpiresAt.After(now) {
		return nil, ErrExpiresInPast
	}
	if input.MaxScans != nil && *input.MaxScans < 1 {
		return nil, ErrInvalidMaxScans
	}

	design := model.DefaultDesign()
	if input.Design != nil {
		design = mergeDesign(design, *input.Design)
	}
	if err := validateDesign(design); err != nil {
		return nil, err
	}

	rec := &model.QRRecord{
		ID:        ulid.Make().String(),
		OwnerID:   input.OwnerID,
		ProfileID: input.ProfileID,
		Title:     strings.TrimSpace(input.Title),
		Type:      input.Type,
		Content:   input.Content,
		Design:    design,
		IsActive:  true,
		ExpiresAt: input.ExpiresAt,
		MaxScans:  input.MaxScans,
		CreatedAt: now,
		UpdatedAt: now,
	}
	qr.ResetStats(rec)
	if input.IsActive != nil {
		rec.IsActive = *input.IsActive
	}
	if rec.Title == "" {
		rec.Title = defaultTitle(rec.Type)
	}

	if input.Password != "" {
		if err := auth.ValidatePassword(input.Password); err != nil {
			return nil, err
		}
		hash, err := auth.HashPassword(input.Password)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
		rec.PasswordHash = hash
	}

	if err := s.encode(ctx, rec); err != nil {
		return nil, err
	}

	if err := s.store.CreateQRCode(ctx, rec); err != nil {
		return nil, translateStoreError(err)
	}

	s.metrics.IncQRCreated()
	s.logger.Info("qr_created", "id", rec.ID, "type", rec.Type, "owner_id", rec.OwnerID)
	s.recordCreate(ctx, rec)

	return rec, nil
}

// Get retrieves a record owned by ownerID. An empty ownerID skips the
// ownership check.
func (s *QRService) Get(ctx context.Context, id, ownerID string) (*model.QRRecord, error) {
	rec, err := s.store.GetQRCode(ctx, id)
	if err != nil {
		return nil, translateStoreError(err)
	}
	if ownerID != "" && rec.OwnerID != ownerID {
		return nil, ErrForbidden
	}
	return rec, nil
}

// ListQRInput defines input for listing QR codes.
type ListQRInput struct {
	OwnerID string
	Types   []model.QRType
	Active  *bool
	Cursor  string
	Limit   int
}

// ListQROutput defines output for listing QR codes.
type ListQROutput struct {
	Codes      []*model.QRRecord
	NextCursor string
	HasMore    bool
}

// List retrieves a page of the owner's records, newest first.
func (s *QRService) List(ctx context.Context, input ListQRInput) (*ListQROutput, error) {
	if input.Limit <= 0 || input.Limit > maxPageSize {
		input.Limit = defaultPageSize
	}
	for _, t := range input.Types {
		if !t.IsValid() {
			return nil, ErrInvalidType
		}
	}

	filter := repository.QRFilter{
		OwnerID: input.OwnerID,
		Types:   input.Types,
		Active:  input.Active,
	}

	codes, next, err := s.store.ListQRCodes(ctx, filter, input.Cursor, input.Limit)
	if err != nil {
		return nil, translateStoreError(err)
	}

	return &ListQROutput{
		Codes:      codes,
		NextCursor: next,
		HasMore:    next != "",
	}, nil
}

// UpdateQRInput defines input for updating a QR code. Nil fields are left
// unchanged.
type UpdateQRInput struct {
	ID            string
	OwnerID       string
	Title         *string
	Type          *model.QRType
	Content       *model.Content
	ProfileID     *string
	Design        *model.Design
	IsActive      *bool
	ExpiresAt     *time.Time
	ClearExpiry   bool
	MaxScans      *int64
	ClearMaxScans bool
	// Password sets a new access password; an empty string removes it.
	Password *string
}

// Update applies input to a record. The payload is re-encoded when the type,
// content or profile changes.
func (s *QRService) Update(ctx context.Context, input UpdateQRInput) (*model.QRRecord, error) {
	if input.Type != nil && !input.Type.IsValid() {
		return nil, ErrInvalidType
	}
	if input.Title != nil && len(*input.Title) > maxTitleLength {
		return nil, ErrInvalidTitle
	}
	if input.MaxScans != nil && *input.MaxScans < 1 {
		return nil, ErrInvalidMaxScans
	}
	if input.ExpiresAt != nil && !input.ClearExpiry && !input.ExpiresAt.After(s.now()) {
		return nil, ErrExpiresInPast
	}

	var passwordHash *string
	if input.Password != nil {
		hash := ""
		if *input.Password != "" {
			if err := auth.ValidatePassword(*input.Password); err != nil {
				return nil, err
			}
			h, err := auth.HashPassword(*input.Password)
			if err != nil {
				return nil, fmt.Errorf("failed to hash password: %w", err)
			}
			hash = h
		}
		passwordHash = &hash
	}

	rec, err := s.mutate(ctx, input.ID, input.OwnerID, func(rec *model.QRRecord) (bool, error) {
		reencode := false

		if input.Title != nil {
			rec.Title = strings.TrimSpace(*input.Title)
			if rec.Title == "" {
				rec.Title = defaultTitle(rec.Type)
			}
		}
		if input.Type != nil && *input.Type != rec.Type {
			rec.Type = *input.Type
			reencode = true
		}
		if input.Content != nil {
			rec.Content = *input.Content
			reencode = true
		}
		if input.ProfileID != nil {
			rec.ProfileID = input.ProfileID
			if *input.ProfileID == "" {
				rec.ProfileID = nil
			}
			reencode = reencode || rec.Type == model.QRTypeProfile
		}
		if input.Design != nil {
			d := mergeDesign(rec.Design, *input.Design)
			if err := validateDesign(d); err != nil {
				return false, err
			}
			rec.Design = d
		}
		if input.IsActive != nil {
			rec.IsActive = *input.IsActive
		}
		if input.ClearExpiry {
			rec.ExpiresAt = nil
		} else if input.ExpiresAt != nil {
			rec.ExpiresAt = input.ExpiresAt
		}
		if input.ClearMaxScans {
			rec.MaxScans = nil
		} else if input.MaxScans != nil {
			rec.MaxScans = input.MaxScans
		}
		if passwordHash != nil {
			rec.PasswordHash = *passwordHash
		}

		return reencode, nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncQRUpdated()
	s.logger.Info("qr_updated", "id", rec.ID, "version", rec.Version)
	return rec, nil
}

// Toggle flips whether a record accepts scans.
func (s *QRService) Toggle(ctx context.Context, id, ownerID string) (*model.QRRecord, error) {
	rec, err := s.mutate(ctx, id, ownerID, func(rec *model.QRRecord) (bool, error) {
		rec.IsActive = !rec.IsActive
		return false, nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncQRUpdated()
	s.logger.Info("qr_toggled", "id", rec.ID, "is_active", rec.IsActive)
	return rec, nil
}

// Regenerate re-encodes the payload from the current content and resets all
// scan analytics, including the unique-visitor markers.
func (s *QRService) Regenerate(ctx context.Context, id, ownerID string) (*model.QRRecord, error) {
	rec, err := s.mutate(ctx, id, ownerID, func(rec *model.QRRecord) (bool, error) {
		qr.ResetStats(rec)
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.visitors.ResetVisitors(ctx, rec.ID); err != nil {
		s.logger.Warn("visitor_reset_failed", "id", rec.ID, "error", err)
	}

	s.metrics.IncQRUpdated()
	s.logger.Info("qr_regenerated", "id", rec.ID)
	return rec, nil
}

// Delete removes a record.
func (s *QRService) Delete(ctx context.Context, id, ownerID string) error {
	if _, err := s.Get(ctx, id, ownerID); err != nil {
		return err
	}
	if err := s.store.DeleteQRCode(ctx, id); err != nil {
		return translateStoreError(err)
	}
	if err := s.visitors.ResetVisitors(ctx, id); err != nil {
		s.logger.Warn("visitor_reset_failed", "id", id, "error", err)
	}

	s.metrics.IncQRDeleted()
	s.logger.Info("qr_deleted", "id", id)
	return nil
}

// Download is what a renderer needs to draw a record.
type Download struct {
	Payload  string       `json:"payload"`
	Design   model.Design `json:"design"`
	Filename string       `json:"filename"`
}

// Download returns the payload, design and a suggested file name.
func (s *QRService) Download(ctx context.Context, id, ownerID string) (*Download, error) {
	rec, err := s.Get(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	return &Download{
		Payload:  rec.Payload,
		Design:   rec.Design,
		Filename: downloadFilename(rec),
	}, nil
}

// QRStats are a record's scan analytics plus the derived calendar windows.
type QRStats struct {
	ID      string          `json:"id"`
	Stats   model.ScanStats `json:"stats"`
	Windows qr.WindowCounts `json:"windows"`
}

// Stats returns the scan analytics of a record.
func (s *QRService) Stats(ctx context.Context, id, ownerID string) (*QRStats, error) {
	rec, err := s.Get(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	return &QRStats{
		ID:      rec.ID,
		Stats:   rec.Stats,
		Windows: qr.Windows(rec.Stats, s.now()),
	}, nil
}

// EnsureProfileCodeInput describes a profile that should have a code.
type EnsureProfileCodeInput struct {
	ProfileID string
	OwnerID   string
	Username  string
}

// EnsureProfileCode records the profile projection and returns its profile
// code, creating it on first call. An existing code is re-encoded when the
// profile URL changed. created reports whether a new record was stored.
func (s *QRService) EnsureProfileCode(ctx context.Context, input EnsureProfileCodeInput) (rec *model.QRRecord, created bool, err error) {
	if input.ProfileID == "" {
		return nil, false, ErrProfileRequired
	}
	if input.Username != "" {
		p := &model.Profile{ID: input.ProfileID, OwnerID: input.OwnerID, Username: input.Username}
		if err := s.profiles.RegisterProfile(ctx, p); err != nil {
			return nil, false, err
		}
	}

	existing, err := s.store.FindProfileCode(ctx, input.ProfileID)
	switch {
	case err == nil:
		if input.OwnerID != "" && existing.OwnerID != input.OwnerID {
			return nil, false, ErrForbidden
		}
		rec, err := s.refreshProfileCode(ctx, existing)
		return rec, false, err
	case !errors.Is(err, repository.ErrQRNotFound):
		return nil, false, err
	}

	profileID := input.ProfileID
	rec, err = s.Create(ctx, CreateQRInput{
		OwnerID:   input.OwnerID,
		ProfileID: &profileID,
		Type:      model.QRTypeProfile,
		Title:     "Profile",
	})
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

func (s *QRService) refreshProfileCode(ctx context.Context, rec *model.QRRecord) (*model.QRRecord, error) {
	url, err := s.profiles.ResolveProfileURL(ctx, *rec.ProfileID)
	if err != nil {
		return nil, err
	}
	if url == rec.Payload {
		return rec, nil
	}
	return s.mutate(ctx, rec.ID, "", func(*model.QRRecord) (bool, error) {
		return true, nil
	})
}

// errStaleProfile aborts a locked write whose profile target changed after
// its URL was resolved.
var errStaleProfile = errors.New("profile target changed")

// mutate applies fn to the locked current record and stores the result. fn
// must be free of I/O and reports whether the payload needs re-encoding. It
// runs once on an unlocked copy first, so a profile URL is resolved before
// the row lock is taken; scans queue behind the write rather than racing it.
func (s *QRService) mutate(ctx context.Context, id, ownerID string, fn func(*model.QRRecord) (bool, error)) (*model.QRRecord, error) {
	for {
		draft, err := s.Get(ctx, id, ownerID)
		if err != nil {
			return nil, err
		}
		reencode, err := fn(draft)
		if err != nil {
			return nil, err
		}
		var profileURL string
		if reencode {
			if profileURL, err = s.profileURL(ctx, draft); err != nil {
				return nil, err
			}
		}

		rec, err := s.store.UpdateQRCode(ctx, id, func(cur *model.QRRecord) error {
			if ownerID != "" && cur.OwnerID != ownerID {
				return ErrForbidden
			}
			reencode, err := fn(cur)
			if err != nil || !reencode {
				return err
			}
			if cur.Type == model.QRTypeProfile && (draft.Type != model.QRTypeProfile || !sameProfile(cur.ProfileID, draft.ProfileID)) {
				return errStaleProfile
			}
			return encodePayload(cur, profileURL)
		})
		if errors.Is(err, errStaleProfile) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, translateStoreError(err)
		}
		return rec, nil
	}
}

func sameProfile(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// encode fills rec's payload from its type and content, resolving the
// profile URL for profile codes.
func (s *QRService) encode(ctx context.Context, rec *model.QRRecord) error {
	profileURL, err := s.profileURL(ctx, rec)
	if err != nil {
		return err
	}
	return encodePayload(rec, profileURL)
}

// profileURL resolves the URL a profile code points at. Other types need
// none.
func (s *QRService) profileURL(ctx context.Context, rec *model.QRRecord) (string, error) {
	if rec.Type != model.QRTypeProfile {
		return "", nil
	}
	if rec.ProfileID == nil || *rec.ProfileID == "" {
		return "", ErrProfileRequired
	}
	return s.profiles.ResolveProfileURL(ctx, *rec.ProfileID)
}

func encodePayload(rec *model.QRRecord, profileURL string) error {
	out, err := qr.Encode(rec.Type, rec.Content, profileURL)
	if err != nil {
		return err
	}
	rec.Payload = out.Payload
	rec.Formatted = out.Formatted
	return nil
}

func (s *QRService) recordCreate(ctx context.Context, rec *model.QRRecord) {
	e := &model.AnalyticsEvent{
		ActorID:     rec.OwnerID,
		QRCodeID:    rec.ID,
		EventType:   model.EventQRCreate,
		EventAction: "create",
		Metadata: model.EventMetadata{
			Extra: map[string]any{"qr_type": string(rec.Type)},
		},
	}
	if rec.ProfileID != nil {
		e.ProfileID = *rec.ProfileID
	}
	s.events.Record(ctx, e)
}

// mergeDesign overlays the non-zero fields of patch onto base.
func mergeDesign(base, patch model.Design) model.Design {
	if patch.ForegroundColor != "" {
		base.ForegroundColor = patch.ForegroundColor
	}
	if patch.BackgroundColor != "" {
		base.BackgroundColor = patch.BackgroundColor
	}
	if patch.ErrorCorrection != "" {
		base.ErrorCorrection = model.ErrorCorrection(strings.ToUpper(string(patch.ErrorCorrection)))
	}
	if patch.Margin != 0 {
		base.Margin = patch.Margin
	}
	if patch.Size != 0 {
		base.Size = patch.Size
	}
	if patch.LogoURL != "" {
		base.LogoURL = patch.LogoURL
	}
	return base
}

func validateDesign(d model.Design) error {
	if !hexColorRegex.MatchString(d.ForegroundColor) || !hexColorRegex.MatchString(d.BackgroundColor) {
		return fmt.Errorf("%w: colors must be #RRGGBB", ErrInvalidDesign)
	}
	switch d.ErrorCorrection {
	case model.ErrorCorrectionLow, model.ErrorCorrectionMedium, model.ErrorCorrectionQuartile, model.ErrorCorrectionHigh:
	default:
		return fmt.Errorf("%w: error correction must be one of L, M, Q, H", ErrInvalidDesign)
	}
	if d.Margin < 0 || d.Margin > maxDesignMargin {
		return fmt.Errorf("%w: margin must be 0 to %d", ErrInvalidDesign, maxDesignMargin)
	}
	if d.Size < minDesignSize || d.Size > maxDesignSize {
		return fmt.Errorf("%w: size must be %d to %d", ErrInvalidDesign, minDesignSize, maxDesignSize)
	}
	if d.LogoURL != "" {
		if err := qr.CheckAbsoluteURL(d.LogoURL); err != nil {
			return fmt.Errorf("%w: logo_url %v", ErrInvalidDesign, err)
		}
	}
	return nil
}

func defaultTitle(t model.QRType) string {
	return strings.ToUpper(string(t[:1])) + string(t[1:]) + " QR"
}

func downloadFilename(rec *model.QRRecord) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(rec.Title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	slug := strings.TrimSuffix(b.String(), "-")
	if len(slug) > 60 {
		slug = strings.TrimSuffix(slug[:60], "-")
	}
	if slug == "" {
		slug = "qr"
	}
	return fmt.Sprintf("%s-%s.png", slug, strings.ToLower(rec.ID))
}
