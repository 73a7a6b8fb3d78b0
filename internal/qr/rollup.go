package qr

import (
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tapon/qrengine/internal/model"
)

const (
	// RetentionDays is how far back day buckets are kept, relative to the
	// day of the latest scan.
	RetentionDays = 30

	dayLayout    = "2006-01-02"
	maxKeyLength = 128
)

// ScanDims are the optional dimensions a scan is broken down by.
type ScanDims struct {
	Country    string
	City       string
	DeviceType string
	Referrer   string
}

// WindowCounts are scan counts for the current calendar periods.
type WindowCounts struct {
	Today     int64 `json:"today"`
	ThisWeek  int64 `json:"this_week"`
	ThisMonth int64 `json:"this_month"`
}

// DayKey returns the UTC calendar day of t as YYYY-MM-DD.
func DayKey(t time.Time) string {
	return t.UTC().Format(dayLayout)
}

// RecordScan returns a copy of rec with one accepted scan at now applied.
// Call it only after Evaluate reported the record eligible.
func RecordScan(rec *model.QRRecord, isUnique bool, dims ScanDims, now time.Time, capacity int) *model.QRRecord {
	out := rec.Clone()
	st := &out.Stats

	st.TotalScans++
	if isUnique {
		st.UniqueScans++
	}
	at := now.UTC()
	st.LastScannedAt = &at

	st.Daily = trimDays(upsertDay(st.Daily, DayKey(now)), now)

	country, city := clean(dims.Country), clean(dims.City)
	if country != "" || city != "" {
		if country == "" {
			country = "unknown"
		}
		st.Locations = Bump(st.Locations, model.LocationKey{Country: country, City: city}, capacity)
	}
	if device := strings.ToLower(clean(dims.DeviceType)); device != "" {
		st.Devices = Bump(st.Devices, device, capacity)
	}
	if ref := clean(dims.Referrer); ref != "" {
		st.Referrers = Bump(st.Referrers, ref, capacity)
	}

	return out
}

// ResetStats clears all scan analytics, as done when a code is regenerated.
func ResetStats(rec *model.QRRecord) {
	rec.Stats = model.ScanStats{
		Daily:     []model.DayBucket{},
		Locations: []model.BreakdownEntry[model.LocationKey]{},
		Devices:   []model.BreakdownEntry[string]{},
		Referrers: []model.BreakdownEntry[string]{},
	}
}

// Windows derives today, this week (Monday start) and this month from the
// day buckets. All periods are UTC.
func Windows(st model.ScanStats, now time.Time) WindowCounts {
	now = now.UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	weekStart := today.AddDate(0, 0, -((int(today.Weekday()) + 6) % 7))
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	todayKey := today.Format(dayLayout)
	weekKey := weekStart.Format(dayLayout)
	monthKey := monthStart.Format(dayLayout)

	var w WindowCounts
	for _, b := range st.Daily {
		if b.Day > todayKey {
			continue
		}
		if b.Day == todayKey {
			w.Today += b.Count
		}
		if b.Day >= weekKey {
			w.ThisWeek += b.Count
		}
		if b.Day >= monthKey {
			w.ThisMonth += b.Count
		}
	}
	return w
}

// upsertDay increments day in buckets kept in ascending day order.
func upsertDay(buckets []model.DayBucket, day string) []model.DayBucket {
	if n := len(buckets); n > 0 && buckets[n-1].Day == day {
		buckets[n-1].Count++
		return buckets
	}

	i := sort.Search(len(buckets), func(i int) bool { return buckets[i].Day >= day })
	if i < len(buckets) && buckets[i].Day == day {
		buckets[i].Count++
		return buckets
	}

	buckets = append(buckets, model.DayBucket{})
	copy(buckets[i+1:], buckets[i:])
	buckets[i] = model.DayBucket{Day: day, Count: 1}
	return buckets
}

func trimDays(buckets []model.DayBucket, now time.Time) []model.DayBucket {
	cutoff := DayKey(now.UTC().AddDate(0, 0, -RetentionDays))
	i := sort.Search(len(buckets), func(i int) bool { return buckets[i].Day >= cutoff })
	if i == 0 {
		return buckets
	}
	return append([]model.DayBucket(nil), buckets[i:]...)
}

// clean trims s and caps it at maxKeyLength bytes without splitting a rune.
func clean(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxKeyLength {
		return s
	}
	cut := maxKeyLength
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
