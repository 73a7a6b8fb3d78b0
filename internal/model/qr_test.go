package model

import (
	"testing"
	"time"
)

func TestParseQRType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want QRType
		ok   bool
	}{
		{"profile", QRTypeProfile, true},
		{"vcard", QRTypeContact, true},
		{" WiFi ", QRTypeWiFi, true},
		{"custom", QRTypeCustom, true},
		{"tiktok", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		got, ok := ParseQRType(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseQRType(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestQRType_IsValid(t *testing.T) {
	t.Parallel()

	for _, typ := range QRTypes {
		if !typ.IsValid() {
			t.Errorf("%q should be valid", typ)
		}
	}
	if QRType("vcard").IsValid() {
		t.Error("alias vcard should not be a stored type")
	}
}

func TestQRRecord_CloneIsDeep(t *testing.T) {
	t.Parallel()

	exp := time.Now().Add(time.Hour)
	limit := int64(5)
	rec := &QRRecord{
		ID:        "qr-1",
		ExpiresAt: &exp,
		MaxScans:  &limit,
		Stats: ScanStats{
			TotalScans: 1,
			Daily:      []DayBucket{{Day: "2026-01-01", Count: 1}},
			Devices:    []BreakdownEntry[string]{{Key: "mobile", Count: 1}},
		},
	}

	c := rec.Clone()
	c.Stats.Daily[0].Count = 99
	c.Stats.Devices[0].Count = 99
	*c.MaxScans = 10

	if rec.Stats.Daily[0].Count != 1 {
		t.Errorf("original daily bucket mutated: %d", rec.Stats.Daily[0].Count)
	}
	if rec.Stats.Devices[0].Count != 1 {
		t.Errorf("original device entry mutated: %d", rec.Stats.Devices[0].Count)
	}
	if *rec.MaxScans != 5 {
		t.Errorf("original max scans mutated: %d", *rec.MaxScans)
	}
}

func TestAnalyticsEvent_ActorKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ev   AnalyticsEvent
		want string
	}{
		{"actor wins", AnalyticsEvent{ActorID: "u1", Metadata: EventMetadata{VisitorHash: "h"}}, "a:u1"},
		{"visitor fallback", AnalyticsEvent{Metadata: EventMetadata{VisitorHash: "h"}}, "v:h"},
		{"anonymous", AnalyticsEvent{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ev.ActorKey(); got != tt.want {
				t.Errorf("ActorKey() = %q, want %q", got, tt.want)
			}
		})
	}
}
