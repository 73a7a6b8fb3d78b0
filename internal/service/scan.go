package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/tapon/qrengine/internal/analytics"
	"github.com/tapon/qrengine/internal/auth"
	"github.com/tapon/qrengine/internal/metrics"
	"github.com/tapon/qrengine/internal/model"
	"github.com/tapon/qrengine/internal/qr"
	"github.com/tapon/qrengine/internal/repository"
)

// ScanConfig tunes the scan engine.
type ScanConfig struct {
	UniqueWindow      time.Duration
	BreakdownCapacity int
}

// ScanContext is what the caller knows about the scanning device.
type ScanContext struct {
	DeviceType  string
	Country     string
	City        string
	Referrer    string
	Fingerprint string
	Language    string
	SessionID   string
}

// ScanInput is one scan attempt.
type ScanInput struct {
	Context   ScanContext
	Password  string
	IP        string
	UserAgent string
}

// ScanResult tells the caller whether the code resolved and to what.
type ScanResult struct {
	Eligible bool         `json:"eligible"`
	Reason   qr.Reason    `json:"reason,omitempty"`
	Payload  string       `json:"payload,omitempty"`
	Type     model.QRType `json:"type,omitempty"`
	IsUnique bool         `json:"is_unique,omitempty"`
}

// ScanService runs the public scan path: password check, gate, unique
// detection and the atomic analytics update.
type ScanService struct {
	store    QRStore
	visitors VisitorTracker
	events   EventRecorder
	cfg      ScanConfig
	logger   *slog.Logger
	metrics  metrics.Recorder
	now      func() time.Time
}

// NewScanService creates a new ScanService. visitors and events may be nil.
func NewScanService(store QRStore, visitors VisitorTracker, events EventRecorder, cfg ScanConfig, logger *slog.Logger, recorder metrics.Recorder) *ScanService {
	if visitors == nil {
		visitors = noopVisitors{}
	}
	if events == nil {
		events = noopEvents{}
	}
	if cfg.UniqueWindow <= 0 {
		cfg.UniqueWindow = 24 * time.Hour
	}
	if cfg.BreakdownCapacity <= 0 {
		cfg.BreakdownCapacity = qr.DefaultBreakdownCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &ScanService{
		store:    store,
		visitors: visitors,
		events:   events,
		cfg:      cfg,
		logger:   logger.With("component", "scan_service"),
		metrics:  recorder,
		now:      time.Now,
	}
}

// Scan resolves the code id for one scan. An ineligible code is not an
// error: the result carries the reason and no payload.
func (s *ScanService) Scan(ctx context.Context, id string, input ScanInput) (*ScanResult, error) {
	start := time.Now()
	defer func() {
		s.metrics.ObserveScanDuration(time.Since(start))
	}()

	rec, err := s.store.GetQRCode(ctx, id)
	if err != nil {
		if !errors.Is(err, repository.ErrQRNotFound) {
			s.metrics.IncScan(metrics.ScanError)
		}
		return nil, translateStoreError(err)
	}

	if err := s.checkPassword(rec, input.Password); err != nil {
		s.metrics.IncScan(metrics.ScanDenied)
		return nil, err
	}

	now := s.now().UTC()
	if d := qr.Evaluate(rec, now); !d.Eligible {
		s.metrics.IncScan(string(d.Reason))
		return &ScanResult{Reason: d.Reason}, nil
	}

	visitorHash := analytics.GenerateVisitorHash(input.IP, input.UserAgent, now)
	fingerprint := strings.TrimSpace(input.Context.Fingerprint)
	if fingerprint == "" {
		fingerprint = visitorHash
	}

	isUnique, err := s.visitors.MarkVisitor(ctx, rec.ID, fingerprint, s.cfg.UniqueWindow)
	if err != nil {
		s.logger.Warn("visitor_mark_failed", "id", rec.ID, "error", err)
		isUnique = false
	}
	release := func() {
		if !isUnique {
			return
		}
		if err := s.visitors.ReleaseVisitor(context.WithoutCancel(ctx), rec.ID, fingerprint); err != nil {
			s.logger.Warn("visitor_release_failed", "id", rec.ID, "error", err)
		}
	}

	device := analytics.ClassifyUserAgent(input.UserAgent)
	dims := qr.ScanDims{
		Country:    input.Context.Country,
		City:       input.Context.City,
		DeviceType: input.Context.DeviceType,
	}
	if dims.DeviceType == "" && input.UserAgent != "" {
		dims.DeviceType = device.DeviceType
	}
	if input.Context.Referrer != "" {
		dims.Referrer = analytics.ExtractReferrerDomain(input.Context.Referrer)
	}

	next, err := s.store.ApplyScan(ctx, rec.ID, func(cur *model.QRRecord) (*model.QRRecord, error) {
		now = s.now().UTC()
		if d := qr.Evaluate(cur, now); !d.Eligible {
			return nil, &scanRefusal{reason: d.Reason}
		}
		return qr.RecordScan(cur, isUnique, dims, now, s.cfg.BreakdownCapacity), nil
	})
	if err != nil {
		release()
		var refusal *scanRefusal
		if errors.As(err, &refusal) {
			// Eligible when first read, then used up or switched off by a
			// write that held the lock first.
			s.metrics.IncScanConflict()
			s.metrics.IncScan(string(refusal.reason))
			return &ScanResult{Reason: refusal.reason}, nil
		}
		if !errors.Is(err, repository.ErrQRNotFound) {
			s.metrics.IncScan(metrics.ScanError)
		}
		return nil, translateStoreError(err)
	}

	rec = next
	s.metrics.IncScan(metrics.ScanAccepted)
	s.recordScan(ctx, rec, input, device, dims, visitorHash, isUnique, now)

	return &ScanResult{
		Eligible: true,
		Payload:  rec.Payload,
		Type:     rec.Type,
		IsUnique: isUnique,
	}, nil
}

func (s *ScanService) checkPassword(rec *model.QRRecord, password string) error {
	if !rec.HasPassword() {
		return nil
	}
	if password == "" {
		return ErrPasswordRequired
	}
	ok, err := auth.VerifyPassword(password, rec.PasswordHash)
	if err != nil {
		s.logger.Error("password_hash_unreadable", "id", rec.ID, "error", err)
		return ErrPasswordMismatch
	}
	if !ok {
		return ErrPasswordMismatch
	}
	return nil
}

func (s *ScanService) recordScan(ctx context.Context, rec *model.QRRecord, input ScanInput, device analytics.DeviceInfo, dims qr.ScanDims, visitorHash string, isUnique bool, now time.Time) {
	e := &model.AnalyticsEvent{
		QRCodeID:    rec.ID,
		EventType:   model.EventQRScan,
		EventAction: "scan",
		Metadata: model.EventMetadata{
			DeviceType:  dims.DeviceType,
			Browser:     device.Browser,
			Platform:    device.Platform,
			Language:    input.Context.Language,
			Referrer:    input.Context.Referrer,
			Country:     input.Context.Country,
			City:        input.Context.City,
			SessionID:   input.Context.SessionID,
			VisitorHash: visitorHash,
			Extra: map[string]any{
				"qr_type": string(rec.Type),
				"unique":  isUnique,
			},
		},
		OccurredAt: now,
	}
	if rec.ProfileID != nil {
		e.ProfileID = *rec.ProfileID
	}
	s.events.Record(ctx, e)
}

// scanRefusal aborts a locked scan write when the record stopped being
// eligible.
type scanRefusal struct {
	reason qr.Reason
}

func (e *scanRefusal) Error() string {
	return "scan refused: " + string(e.reason)
}
