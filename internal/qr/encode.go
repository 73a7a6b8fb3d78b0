// Package qr implements the QR payload encoder, the scan gate and the
// scan rollup engine. Everything here is pure: no I/O, no clocks.
package qr

import (
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/tapon/qrengine/internal/model"
)

const (
	// MaxPayloadBytes is the byte capacity of a version 40 code at level L.
	MaxPayloadBytes = 2953

	// MaxURLLength bounds every URL accepted as content.
	MaxURLLength = 2048

	vcardVersion = "3.0"
	whatsAppBase = "https://wa.me/"
)

// EncodingError reports content that cannot be encoded for its type.
type EncodingError struct {
	Type   model.QRType
	Field  string
	Reason string
}

func (e *EncodingError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("encode %s: %s", e.Type, e.Reason)
	}
	return fmt.Sprintf("encode %s: %s %s", e.Type, e.Field, e.Reason)
}

// Encoded is a payload plus its field-labeled echo for display.
type Encoded struct {
	Payload   string
	Formatted []model.FormattedField
}

type encoderFunc func(t model.QRType, c model.Content, profileURL string) (Encoded, error)

// encoders is closed over model.QRTypes; a type missing here cannot be stored.
var encoders = map[model.QRType]encoderFunc{
	model.QRTypeProfile:   encodeProfile,
	model.QRTypeContact:   encodeContact,
	model.QRTypeWhatsApp:  encodeWhatsApp,
	model.QRTypeEmail:     encodeEmail,
	model.QRTypePhone:     encodePhone,
	model.QRTypeLinkedIn:  encodeURL,
	model.QRTypeInstagram: encodeURL,
	model.QRTypeFacebook:  encodeURL,
	model.QRTypeTwitter:   encodeURL,
	model.QRTypeWebsite:   encodeURL,
	model.QRTypeURL:       encodeURL,
	model.QRTypeWiFi:      encodeWiFi,
	model.QRTypeText:      encodeText,
	model.QRTypeCustom:    encodeText,
}

// Encode turns content of type t into the string placed in the code.
// profileURL is only read for profile codes. The result depends on nothing
// but the arguments.
func Encode(t model.QRType, c model.Content, profileURL string) (Encoded, error) {
	enc, ok := encoders[t]
	if !ok {
		return Encoded{}, &EncodingError{Type: t, Field: "type", Reason: "is not supported"}
	}

	out, err := enc(t, c, profileURL)
	if err != nil {
		return Encoded{}, err
	}
	if len(out.Payload) > MaxPayloadBytes {
		return Encoded{}, &EncodingError{Type: t, Reason: "payload exceeds code capacity"}
	}
	return out, nil
}

// IsEncodingError reports whether err is an *EncodingError.
func IsEncodingError(err error) bool {
	var ee *EncodingError
	return errors.As(err, &ee)
}

func encodeProfile(t model.QRType, _ model.Content, profileURL string) (Encoded, error) {
	if profileURL == "" {
		return Encoded{}, &EncodingError{Type: t, Field: "profile", Reason: "could not be resolved"}
	}
	if err := checkAbsoluteURL(profileURL); err != nil {
		return Encoded{}, &EncodingError{Type: t, Field: "profile", Reason: err.Error()}
	}
	return Encoded{
		Payload:   profileURL,
		Formatted: []model.FormattedField{{Label: "Profile", Value: profileURL}},
	}, nil
}

func encodeContact(t model.QRType, c model.Content, _ string) (Encoded, error) {
	if strings.TrimSpace(c.Name) == "" {
		return Encoded{}, &EncodingError{Type: t, Field: "name", Reason: "is required"}
	}

	var b strings.Builder
	b.WriteString("BEGIN:VCARD\n")
	b.WriteString("VERSION:" + vcardVersion + "\n")
	b.WriteString("FN:" + c.Name + "\n")
	b.WriteString("ORG:" + c.Organization + "\n")
	b.WriteString("TITLE:" + c.Title + "\n")
	b.WriteString("TEL:" + c.Phone + "\n")
	b.WriteString("EMAIL:" + c.Email + "\n")
	b.WriteString("URL:" + c.Website + "\n")
	b.WriteString("NOTE:" + c.Note + "\n")
	b.WriteString("END:VCARD")

	return Encoded{
		Payload: b.String(),
		Formatted: labeled(
			"Name", c.Name,
			"Organization", c.Organization,
			"Title", c.Title,
			"Phone", c.Phone,
			"Email", c.Email,
			"Website", c.Website,
			"Note", c.Note,
		),
	}, nil
}

func encodeWhatsApp(t model.QRType, c model.Content, _ string) (Encoded, error) {
	digits := onlyDigits(c.Phone)
	if digits == "" {
		return Encoded{}, &EncodingError{Type: t, Field: "phone", Reason: "must contain digits"}
	}

	payload := whatsAppBase + digits
	if c.Message != "" {
		payload += "?text=" + queryEscape(c.Message)
	}

	return Encoded{
		Payload:   payload,
		Formatted: labeled("Phone", "+"+digits, "Message", c.Message),
	}, nil
}

func encodeEmail(t model.QRType, c model.Content, _ string) (Encoded, error) {
	addr := strings.TrimSpace(c.Email)
	if addr == "" {
		return Encoded{}, &EncodingError{Type: t, Field: "email", Reason: "is required"}
	}
	if parsed, err := mail.ParseAddress(addr); err != nil || parsed.Address != addr {
		return Encoded{}, &EncodingError{Type: t, Field: "email", Reason: "is not a valid address"}
	}

	var params []string
	if c.Subject != "" {
		params = append(params, "subject="+queryEscape(c.Subject))
	}
	if c.Body != "" {
		params = append(params, "body="+queryEscape(c.Body))
	}

	payload := "mailto:" + addr
	if len(params) > 0 {
		payload += "?" + strings.Join(params, "&")
	}

	return Encoded{
		Payload:   payload,
		Formatted: labeled("Email", addr, "Subject", c.Subject, "Body", c.Body),
	}, nil
}

var phonePattern = regexp.MustCompile(`^\+?[0-9().\-]*[0-9][0-9().\-]*$`)

func encodePhone(t model.QRType, c model.Content, _ string) (Encoded, error) {
	phone := strings.Join(strings.Fields(c.Phone), "")
	if phone == "" {
		return Encoded{}, &EncodingError{Type: t, Field: "phone", Reason: "is required"}
	}
	if !phonePattern.MatchString(phone) {
		return Encoded{}, &EncodingError{Type: t, Field: "phone", Reason: "contains invalid characters"}
	}

	return Encoded{
		Payload:   "tel:" + phone,
		Formatted: labeled("Phone", phone),
	}, nil
}

var wifiEscaper = strings.NewReplacer(`\`, `\\`, `;`, `\;`, `,`, `\,`, `:`, `\:`, `"`, `\"`)

func encodeWiFi(t model.QRType, c model.Content, _ string) (Encoded, error) {
	if c.SSID == "" {
		return Encoded{}, &EncodingError{Type: t, Field: "ssid", Reason: "is required"}
	}

	security, ok := normalizeSecurity(c.Security)
	if !ok {
		return Encoded{}, &EncodingError{Type: t, Field: "security", Reason: "must be WPA, WEP or nopass"}
	}

	hidden := strconv.FormatBool(c.Hidden)
	payload := "WIFI:T:" + security +
		";S:" + wifiEscaper.Replace(c.SSID) +
		";P:" + wifiEscaper.Replace(c.Password) +
		";H:" + hidden + ";"

	return Encoded{
		Payload: payload,
		Formatted: []model.FormattedField{
			{Label: "Network", Value: c.SSID},
			{Label: "Security", Value: security},
			{Label: "Password", Value: c.Password},
			{Label: "Hidden", Value: hidden},
		},
	}, nil
}

func normalizeSecurity(s string) (string, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "NOPASS", "NONE":
		return "nopass", true
	case "WPA", "WPA2", "WPA3":
		return "WPA", true
	case "WEP":
		return "WEP", true
	default:
		return "", false
	}
}

var urlLabels = map[model.QRType]string{
	model.QRTypeLinkedIn:  "LinkedIn",
	model.QRTypeInstagram: "Instagram",
	model.QRTypeFacebook:  "Facebook",
	model.QRTypeTwitter:   "Twitter",
	model.QRTypeWebsite:   "Website",
	model.QRTypeURL:       "URL",
}

func encodeURL(t model.QRType, c model.Content, _ string) (Encoded, error) {
	raw := strings.TrimSpace(c.URL)
	if raw == "" {
		return Encoded{}, &EncodingError{Type: t, Field: "url", Reason: "is required"}
	}
	if err := checkAbsoluteURL(raw); err != nil {
		return Encoded{}, &EncodingError{Type: t, Field: "url", Reason: err.Error()}
	}

	return Encoded{
		Payload:   raw,
		Formatted: labeled(urlLabels[t], raw),
	}, nil
}

func encodeText(t model.QRType, c model.Content, _ string) (Encoded, error) {
	if strings.TrimSpace(c.Text) == "" {
		return Encoded{}, &EncodingError{Type: t, Field: "text", Reason: "is required"}
	}
	return Encoded{
		Payload:   c.Text,
		Formatted: labeled("Text", c.Text),
	}, nil
}

// CheckAbsoluteURL validates that raw is an absolute http(s) URL with a host.
func CheckAbsoluteURL(raw string) error {
	return checkAbsoluteURL(raw)
}

func checkAbsoluteURL(raw string) error {
	if len(raw) > MaxURLLength {
		return errors.New("is too long")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return errors.New("is not a valid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("must use http or https")
	}
	if u.Host == "" {
		return errors.New("must be absolute")
	}
	return nil
}

// labeled builds echo fields from label/value pairs, skipping empty values.
func labeled(pairs ...string) []model.FormattedField {
	out := make([]model.FormattedField, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			continue
		}
		out = append(out, model.FormattedField{Label: pairs[i], Value: pairs[i+1]})
	}
	return out
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// queryEscape percent-encodes s, spaces as %20.
func queryEscape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
