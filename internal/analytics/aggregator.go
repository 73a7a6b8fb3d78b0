package analytics

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/tapon/qrengine/internal/model"
	"github.com/tapon/qrengine/internal/qr"
)

// Aggregator defaults.
const (
	DefaultAggMaxEvents = 50000
	DefaultAggWindow    = 30 * 24 * time.Hour
	DefaultAggMaxWindow = 366 * 24 * time.Hour
	DefaultRecentLimit  = 10
	MaxRecentLimit      = 100
	DefaultTopN         = 10
	MaxTopN             = 100
)

// Aggregator errors.
var (
	ErrInvalidWindow  = errors.New("invalid time window")
	ErrWindowTooLarge = errors.New("time window too large")
	ErrInvalidSubject = errors.New("invalid subject")
)

var errStop = errors.New("stop iteration")

// Engagement event types counted by ProfileOverview.
var engagementTypes = []string{model.EventLinkClick, model.EventContactSave, model.EventLeadSubmit}

// AggregatorConfig bounds every query.
type AggregatorConfig struct {
	// MaxEvents caps the events a single query looks at. Results built from
	// a capped scan carry Truncated=true and cover the newest events.
	MaxEvents     int
	DefaultWindow time.Duration
	MaxWindow     time.Duration
}

// Window is a half-open time range [From, To).
type Window struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Bucket is one group of a grouped count.
type Bucket struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// Share is a Bucket with its percentage of the total.
type Share struct {
	Key     string  `json:"key"`
	Count   int64   `json:"count"`
	Percent float64 `json:"percent"`
}

// DayCount is one UTC calendar day of a trend.
type DayCount struct {
	Day          string `json:"day"`
	Count        int64  `json:"count"`
	UniqueActors int    `json:"unique_actors"`
}

// HourCount is one clock hour of the realtime view.
type HourCount struct {
	Hour  time.Time `json:"hour"`
	Count int64     `json:"count"`
}

// Subject kinds accepted by SubjectFunnel.
const (
	SubjectProfile = "profile"
	SubjectQR      = "qr"
)

// SubjectQuery selects a funnel. EventType defaults to profile_view for
// profiles and qr_scan for QR codes.
type SubjectQuery struct {
	Kind        string
	ID          string
	EventType   string
	Window      Window
	RecentLimit int
}

// Funnel is the per-subject view: how often the event happened, for how
// many distinct actors, and the latest facts about the subject.
type Funnel struct {
	Subject      string                  `json:"subject"`
	SubjectID    string                  `json:"subject_id"`
	EventType    string                  `json:"event_type"`
	Window       Window                  `json:"window"`
	Count        int64                   `json:"count"`
	UniqueActors int                     `json:"unique_actors"`
	Recent       []*model.AnalyticsEvent `json:"recent"`
	Truncated    bool                    `json:"truncated"`
}

// Trend is a zero-filled day series for one event type.
type Trend struct {
	EventType string     `json:"event_type"`
	Window    Window     `json:"window"`
	Total     int64      `json:"total"`
	Days      []DayCount `json:"days"`
	Truncated bool       `json:"truncated"`
}

// Summary is the platform-wide multi-facet view.
type Summary struct {
	Window       Window     `json:"window"`
	Total        int64      `json:"total"`
	UniqueActors int        `json:"unique_actors"`
	ByType       []Bucket   `json:"by_type"`
	ByCategory   []Bucket   `json:"by_category"`
	ByDevice     []Bucket   `json:"by_device"`
	BySource     []Bucket   `json:"by_source"`
	ByCountry    []Bucket   `json:"by_country"`
	Daily        []DayCount `json:"daily"`
	Truncated    bool       `json:"truncated"`
}

// Realtime covers the last hour by event type and the last 24 clock hours.
type Realtime struct {
	GeneratedAt   time.Time   `json:"generated_at"`
	LastHourTotal int64       `json:"last_hour_total"`
	LastHour      []Bucket    `json:"last_hour"`
	Hourly        []HourCount `json:"hourly"`
	Truncated     bool        `json:"truncated"`
}

// ProfileOverview is the owner-facing dashboard of one profile.
type ProfileOverview struct {
	ProfileID          string     `json:"profile_id"`
	Window             Window     `json:"window"`
	Views              int64      `json:"views"`
	Engagements        int64      `json:"engagements"`
	EngagementRate     float64    `json:"engagement_rate"`
	UniqueVisitors     int        `json:"unique_visitors"`
	AvgSessionSeconds  float64    `json:"avg_session_seconds"`
	AvgViewsPerSession float64    `json:"avg_views_per_session"`
	Devices            []Share    `json:"devices"`
	HourOfDay          [24]int64  `json:"hour_of_day"`
	TopReferrers       []Bucket   `json:"top_referrers"`
	Browsers           []Bucket   `json:"browsers"`
	Languages          []Bucket   `json:"languages"`
	TopActions         []Bucket   `json:"top_actions"`
	Daily              []DayCount `json:"daily"`
	Truncated          bool       `json:"truncated"`
}

// Aggregator answers read-only queries over the event log. Every query is
// bounded by a window and by MaxEvents, and honors ctx while iterating.
type Aggregator struct {
	src EventSource
	cfg AggregatorConfig
	now func() time.Time
}

// NewAggregator creates an Aggregator. Zero config fields take defaults.
func NewAggregator(src EventSource, cfg AggregatorConfig) *Aggregator {
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = DefaultAggMaxEvents
	}
	if cfg.MaxWindow <= 0 {
		cfg.MaxWindow = DefaultAggMaxWindow
	}
	if cfg.DefaultWindow <= 0 || cfg.DefaultWindow > cfg.MaxWindow {
		cfg.DefaultWindow = min(DefaultAggWindow, cfg.MaxWindow)
	}
	return &Aggregator{src: src, cfg: cfg, now: time.Now}
}

// ResolveWindow fills a partial window: To defaults to now and From to
// To minus the default window.
func (a *Aggregator) ResolveWindow(w Window) (Window, error) {
	if w.To.IsZero() {
		w.To = a.now()
	}
	if w.From.IsZero() {
		w.From = w.To.Add(-a.cfg.DefaultWindow)
	}
	w.From, w.To = w.From.UTC(), w.To.UTC()

	if !w.From.Before(w.To) {
		return Window{}, ErrInvalidWindow
	}
	if w.To.Sub(w.From) > a.cfg.MaxWindow {
		return Window{}, fmt.Errorf("%w: max %s", ErrWindowTooLarge, a.cfg.MaxWindow)
	}
	return w, nil
}

// SubjectFunnel returns count, distinct actors and the most recent facts
// for one profile or QR code.
func (a *Aggregator) SubjectFunnel(ctx context.Context, sq SubjectQuery) (*Funnel, error) {
	if sq.ID == "" {
		return nil, ErrInvalidSubject
	}
	q := EventQuery{}
	switch sq.Kind {
	case SubjectProfile:
		q.ProfileID = sq.ID
		if sq.EventType == "" {
			sq.EventType = model.EventProfileView
		}
	case SubjectQR:
		q.QRCodeID = sq.ID
		if sq.EventType == "" {
			sq.EventType = model.EventQRScan
		}
	default:
		return nil, fmt.Errorf("%w: kind %q", ErrInvalidSubject, sq.Kind)
	}

	w, err := a.ResolveWindow(sq.Window)
	if err != nil {
		return nil, err
	}
	q.From, q.To = w.From, w.To

	recentLimit := clamp(sq.RecentLimit, DefaultRecentLimit, MaxRecentLimit)
	recent := make([]*model.AnalyticsEvent, 0, recentLimit)
	err = a.src.Each(ctx, q, recentLimit, func(e *model.AnalyticsEvent) error {
		recent = append(recent, e)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}

	typed := q
	typed.EventTypes = []string{sq.EventType}
	count, err := a.src.Count(ctx, typed)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}

	actors := make(map[string]struct{})
	truncated, err := a.scan(ctx, typed, func(e *model.AnalyticsEvent) {
		if k := e.ActorKey(); k != "" {
			actors[k] = struct{}{}
		}
	})
	if err != nil {
		return nil, err
	}

	return &Funnel{
		Subject:      sq.Kind,
		SubjectID:    sq.ID,
		EventType:    sq.EventType,
		Window:       w,
		Count:        count,
		UniqueActors: len(actors),
		Recent:       recent,
		Truncated:    truncated,
	}, nil
}

// DayTrend returns a zero-filled per-day series of eventType within w.
func (a *Aggregator) DayTrend(ctx context.Context, eventType string, w Window) (*Trend, error) {
	if eventType == "" {
		return nil, fmt.Errorf("%w: event type is required", ErrInvalidEvent)
	}
	w, err := a.ResolveWindow(w)
	if err != nil {
		return nil, err
	}

	days := newDaySeries(w)
	var total int64
	truncated, err := a.scan(ctx, EventQuery{From: w.From, To: w.To, EventTypes: []string{eventType}}, func(e *model.AnalyticsEvent) {
		total++
		days.add(e)
	})
	if err != nil {
		return nil, err
	}

	return &Trend{
		EventType: eventType,
		Window:    w,
		Total:     total,
		Days:      days.counts(),
		Truncated: truncated,
	}, nil
}

// PlatformSummary groups every event in w by type, category, device,
// traffic source and country, keeping the top N of each, plus a daily
// trend with distinct actors.
func (a *Aggregator) PlatformSummary(ctx context.Context, w Window, topN int) (*Summary, error) {
	w, err := a.ResolveWindow(w)
	if err != nil {
		return nil, err
	}
	topN = clamp(topN, DefaultTopN, MaxTopN)

	var (
		total      int64
		byType     = map[string]int64{}
		byCategory = map[string]int64{}
		byDevice   = map[string]int64{}
		bySource   = map[string]int64{}
		byCountry  = map[string]int64{}
		actors     = map[string]struct{}{}
		days       = newDaySeries(w)
	)
	truncated, err := a.scan(ctx, EventQuery{From: w.From, To: w.To}, func(e *model.AnalyticsEvent) {
		total++
		byType[e.EventType]++
		byCategory[orUnknown(e.EventCategory)]++
		byDevice[orUnknown(e.Metadata.DeviceType)]++
		bySource[trafficSource(e)]++
		byCountry[orUnknown(e.Metadata.Country)]++
		if k := e.ActorKey(); k != "" {
			actors[k] = struct{}{}
		}
		days.add(e)
	})
	if err != nil {
		return nil, err
	}

	return &Summary{
		Window:       w,
		Total:        total,
		UniqueActors: len(actors),
		ByType:       topBuckets(byType, topN),
		ByCategory:   topBuckets(byCategory, topN),
		ByDevice:     topBuckets(byDevice, topN),
		BySource:     topBuckets(bySource, topN),
		ByCountry:    topBuckets(byCountry, topN),
		Daily:        days.counts(),
		Truncated:    truncated,
	}, nil
}

// Realtime computes the last-hour and last-24-hours views on demand from
// the raw log.
func (a *Aggregator) Realtime(ctx context.Context) (*Realtime, error) {
	now := a.now().UTC()
	currentHour := now.Truncate(time.Hour)
	from := currentHour.Add(-23 * time.Hour)
	hourAgo := now.Add(-time.Hour)

	hourly := make([]HourCount, 24)
	for i := range hourly {
		hourly[i].Hour = from.Add(time.Duration(i) * time.Hour)
	}
	lastHour := map[string]int64{}
	var lastHourTotal int64

	truncated, err := a.scan(ctx, EventQuery{From: from, To: now.Add(time.Nanosecond)}, func(e *model.AnalyticsEvent) {
		at := e.OccurredAt.UTC()
		if i := int(at.Sub(from) / time.Hour); i >= 0 && i < len(hourly) {
			hourly[i].Count++
		}
		if !at.Before(hourAgo) {
			lastHourTotal++
			lastHour[e.EventType]++
		}
	})
	if err != nil {
		return nil, err
	}

	return &Realtime{
		GeneratedAt:   now,
		LastHourTotal: lastHourTotal,
		LastHour:      topBuckets(lastHour, 0),
		Hourly:        hourly,
		Truncated:     truncated,
	}, nil
}

// ProfileOverview summarises views and engagements of one profile.
func (a *Aggregator) ProfileOverview(ctx context.Context, profileID string, w Window) (*ProfileOverview, error) {
	if profileID == "" {
		return nil, ErrInvalidSubject
	}
	w, err := a.ResolveWindow(w)
	if err != nil {
		return nil, err
	}

	type session struct {
		first, last time.Time
		views       int
	}
	var (
		out       = &ProfileOverview{ProfileID: profileID, Window: w}
		devices   = map[string]int64{}
		referrers = map[string]int64{}
		browsers  = map[string]int64{}
		languages = map[string]int64{}
		actions   = map[string]int64{}
		sessions  = map[string]*session{}
		days      = newDaySeries(w)
	)

	q := EventQuery{
		From:       w.From,
		To:         w.To,
		ProfileID:  profileID,
		EventTypes: append([]string{model.EventProfileView}, engagementTypes...),
	}
	truncated, err := a.scan(ctx, q, func(e *model.AnalyticsEvent) {
		if e.EventType != model.EventProfileView {
			out.Engagements++
			actions[orUnknown(e.EventAction)]++
			return
		}

		out.Views++
		days.add(e)
		out.HourOfDay[e.OccurredAt.UTC().Hour()]++
		devices[orUnknown(e.Metadata.DeviceType)]++
		referrers[ExtractReferrerDomain(e.Metadata.Referrer)]++
		browsers[orUnknown(e.Metadata.Browser)]++
		languages[orUnknown(e.Metadata.Language)]++

		key := e.Metadata.SessionID
		if key == "" {
			key = e.ActorKey()
		}
		if key == "" {
			return
		}
		s, ok := sessions[key]
		if !ok {
			s = &session{first: e.OccurredAt, last: e.OccurredAt}
			sessions[key] = s
		}
		if e.OccurredAt.Before(s.first) {
			s.first = e.OccurredAt
		}
		if e.OccurredAt.After(s.last) {
			s.last = e.OccurredAt
		}
		s.views++
	})
	if err != nil {
		return nil, err
	}

	if out.Views > 0 {
		out.EngagementRate = round1(float64(out.Engagements) / float64(out.Views) * 100)
	}
	out.UniqueVisitors = len(sessions)
	if n := len(sessions); n > 0 {
		var dur time.Duration
		var views int
		for _, s := range sessions {
			dur += s.last.Sub(s.first)
			views += s.views
		}
		out.AvgSessionSeconds = round1(dur.Seconds() / float64(n))
		out.AvgViewsPerSession = round1(float64(views) / float64(n))
	}

	for _, b := range topBuckets(devices, 0) {
		out.Devices = append(out.Devices, Share{
			Key:     b.Key,
			Count:   b.Count,
			Percent: round1(float64(b.Count) / float64(out.Views) * 100),
		})
	}
	out.TopReferrers = topBuckets(referrers, DefaultTopN)
	out.Browsers = topBuckets(browsers, DefaultTopN)
	out.Languages = topBuckets(languages, DefaultTopN)
	out.TopActions = topBuckets(actions, DefaultTopN)
	out.Daily = days.counts()
	out.Truncated = truncated
	return out, nil
}

// scan feeds at most MaxEvents matching events to fn and reports whether
// more were available.
func (a *Aggregator) scan(ctx context.Context, q EventQuery, fn func(*model.AnalyticsEvent)) (bool, error) {
	n := 0
	truncated := false
	err := a.src.Each(ctx, q, a.cfg.MaxEvents+1, func(e *model.AnalyticsEvent) error {
		if n == a.cfg.MaxEvents {
			truncated = true
			return errStop
		}
		if n%256 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		n++
		fn(e)
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return false, fmt.Errorf("scan events: %w", err)
	}
	return truncated, nil
}

// daySeries accumulates per-day counts and distinct actors over a window.
type daySeries struct {
	index  map[string]int
	days   []DayCount
	actors []map[string]struct{}
}

func newDaySeries(w Window) *daySeries {
	s := &daySeries{index: map[string]int{}}
	last := qr.DayKey(w.To.Add(-time.Nanosecond))
	for d := w.From.UTC().Truncate(24 * time.Hour); ; d = d.AddDate(0, 0, 1) {
		key := qr.DayKey(d)
		s.index[key] = len(s.days)
		s.days = append(s.days, DayCount{Day: key})
		s.actors = append(s.actors, map[string]struct{}{})
		if key >= last {
			break
		}
	}
	return s
}

func (s *daySeries) add(e *model.AnalyticsEvent) {
	i, ok := s.index[qr.DayKey(e.OccurredAt)]
	if !ok {
		return
	}
	s.days[i].Count++
	if k := e.ActorKey(); k != "" {
		s.actors[i][k] = struct{}{}
	}
}

func (s *daySeries) counts() []DayCount {
	out := make([]DayCount, len(s.days))
	for i, d := range s.days {
		d.UniqueActors = len(s.actors[i])
		out[i] = d
	}
	return out
}

// topBuckets sorts counts descending, ties by key, and keeps n (all when
// n <= 0).
func topBuckets(counts map[string]int64, n int) []Bucket {
	out := make([]Bucket, 0, len(counts))
	for k, c := range counts {
		out = append(out, Bucket{Key: k, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

func trafficSource(e *model.AnalyticsEvent) string {
	if e.Metadata.Source != "" && e.Metadata.Source != "unknown" {
		return e.Metadata.Source
	}
	return ExtractReferrerDomain(e.Metadata.Referrer)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func clamp(v, def, limit int) int {
	if v <= 0 {
		return def
	}
	if v > limit {
		return limit
	}
	return v
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
