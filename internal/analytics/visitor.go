package analytics

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const maxMetaLength = 500

// GenerateVisitorHash creates a privacy-safe visitor identifier.
// Uses SHA256(IP + UserAgent + daily_salt) truncated to 16 hex chars.
func GenerateVisitorHash(ip, userAgent string, at time.Time) string {
	dailySalt := fmt.Sprintf("qrengine:%s", at.UTC().Format("2006-01-02"))

	hash := sha256.Sum256([]byte(ip + userAgent + dailySalt))
	return hex.EncodeToString(hash[:])[:visitorHashLength]
}

// SanitizeReferrer strips query parameters and fragments from a referrer
// and truncates it. Unparseable referrers become "".
func SanitizeReferrer(ref string) string {
	if ref == "" {
		return ""
	}

	parsed, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	parsed.RawQuery = ""
	parsed.Fragment = ""
	parsed.User = nil

	return truncate(parsed.String(), maxMetaLength)
}

// TruncateUserAgent truncates user agent to max 500 chars.
func TruncateUserAgent(ua string) string {
	return truncate(ua, maxMetaLength)
}

// ExtractCountryCode extracts country code from Cloudflare header.
// Returns empty string if header is missing or invalid.
func ExtractCountryCode(cfIPCountry string) string {
	if len(cfIPCountry) == 2 && cfIPCountry != "XX" && cfIPCountry != "xx" {
		return strings.ToUpper(cfIPCountry)
	}
	return ""
}

// ExtractReferrerDomain extracts the domain from a referrer URL.
// Returns "(direct)" for empty referrer.
func ExtractReferrerDomain(ref string) string {
	if ref == "" {
		return "(direct)"
	}

	parsed, err := url.Parse(ref)
	if err != nil || parsed.Host == "" {
		return "(unknown)"
	}

	return parsed.Host
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
