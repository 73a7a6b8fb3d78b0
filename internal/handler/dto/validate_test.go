package dto

import (
	"errors"
	"testing"
)

func TestValidatorRules(t *testing.T) {
	t.Parallel()

	v := NewValidator()
	maxScans := int64(0)

	tests := []struct {
		name      string
		input     any
		wantField string
	}{
		{"valid", &CreateQRRequest{Type: "url"}, ""},
		{"vcard_alias", &CreateQRRequest{Type: "vcard"}, ""},
		{"missing_type", &CreateQRRequest{}, "type"},
		{"unknown_type", &CreateQRRequest{Type: "hologram"}, "type"},
		{"short_password", &CreateQRRequest{Type: "text", Password: "ab"}, "password"},
		{"zero_max_scans", &CreateQRRequest{Type: "text", MaxScans: &maxScans}, "max_scans"},
		{"bad_ec_level", &CreateQRRequest{Type: "text", Design: &DesignRequest{ErrorCorrection: "Z"}}, "design.error_correction"},
		{"lower_ec_level", &CreateQRRequest{Type: "text", Design: &DesignRequest{ErrorCorrection: "q"}}, ""},
		{"bad_color", &CreateQRRequest{Type: "text", Design: &DesignRequest{ForegroundColor: "black"}}, "design.foreground_color"},
		{"event_missing_action", &EventRequest{EventType: "link_click"}, "event_action"},
		{"event_bad_category", &EventRequest{EventType: "link_click", EventAction: "click", EventCategory: "misc"}, "event_category"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			err := v.Validate(test.input)
			if test.wantField == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}

			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if _, ok := verr.Fields[test.wantField]; !ok {
				t.Fatalf("expected field %q in %v", test.wantField, verr.Fields)
			}
		})
	}
}
