package analytics

import (
	"strings"

	"github.com/mssola/useragent"
)

// Device types.
const (
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceDesktop = "desktop"
	DeviceBot     = "bot"
	DeviceUnknown = "unknown"
)

// DeviceInfo is what a User-Agent header says about the client.
type DeviceInfo struct {
	DeviceType string
	Browser    string
	Platform   string
}

// ClassifyUserAgent parses a User-Agent header.
func ClassifyUserAgent(header string) DeviceInfo {
	if strings.TrimSpace(header) == "" {
		return DeviceInfo{DeviceType: DeviceUnknown}
	}

	ua := useragent.New(header)
	browser, _ := ua.Browser()
	info := DeviceInfo{
		Browser:  browser,
		Platform: ua.OS(),
	}

	switch {
	case ua.Bot():
		info.DeviceType = DeviceBot
	case strings.Contains(header, "iPad") || strings.Contains(header, "Tablet") ||
		(strings.Contains(header, "Android") && !strings.Contains(header, "Mobile")):
		info.DeviceType = DeviceTablet
	case ua.Mobile():
		info.DeviceType = DeviceMobile
	default:
		info.DeviceType = DeviceDesktop
	}
	return info
}
