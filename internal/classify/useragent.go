// Package classify holds the pure per-fetch heuristics: user-agent parsing,
// open-type detection, and the grace-period and self-view filters.
package classify

import (
	"regexp"
	"strings"

	"mailtrack/internal/domain"
)

const Unknown = "Unknown"

// uaRule is one entry of an ordered first-match-wins table. ua is lowercased.
type uaRule struct {
	match  func(ua string) bool
	result func(ua string) string
}

var (
	androidVersion = regexp.MustCompile(`android\s+([\d.]+)`)
	macVersion     = regexp.MustCompile(`mac os x ([\d_]+)`)
	chromeVersion  = regexp.MustCompile(`chrome/([\d.]+)`)
	firefoxVersion = regexp.MustCompile(`firefox/([\d.]+)`)
	safariVersion  = regexp.MustCompile(`version/([\d.]+)`)
)

func has(tokens ...string) func(string) bool {
	return func(ua string) bool {
		for _, t := range tokens {
			if strings.Contains(ua, t) {
				return true
			}
		}
		return false
	}
}

func fixed(s string) func(string) string {
	return func(string) string { return s }
}

// versioned renders "name <capture>" or just name when the pattern misses.
func versioned(name string, re *regexp.Regexp, format func(string) string) func(string) string {
	return func(ua string) string {
		m := re.FindStringSubmatch(ua)
		if m == nil {
			return name
		}
		return name + " " + format(m[1])
	}
}

func majorOnly(v string) string {
	major, _, _ := strings.Cut(v, ".")
	return major
}

func underscoresToDots(v string) string {
	return strings.ReplaceAll(v, "_", ".")
}

func verbatim(v string) string { return v }

var osRules = []uaRule{
	{has("iphone"), fixed("iOS (iPhone)")},
	{has("ipad"), fixed("iOS (iPad)")},
	{has("android"), versioned("Android", androidVersion, verbatim)},
	{has("mac os x", "macintosh"), versioned("macOS", macVersion, underscoresToDots)},
	{has("windows nt 10.0"), fixed("Windows 10/11")},
	{has("windows nt 6.3"), fixed("Windows 8.1")},
	{has("windows nt 6.2"), fixed("Windows 8")},
	{has("windows nt 6.1"), fixed("Windows 7")},
	{has("windows"), fixed("Windows")},
	{func(ua string) bool { return strings.Contains(ua, "linux") && !strings.Contains(ua, "android") }, fixed("Linux")},
	{has("cros"), fixed("Chrome OS")},
}

var browserRules = []uaRule{
	{has("edg/", "edge/"), fixed("Edge")},
	{has("opr/", "opera"), fixed("Opera")},
	{has("brave"), fixed("Brave")},
	{has("chrome/", "crios/"), versioned("Chrome", chromeVersion, majorOnly)},
	{has("chromium"), fixed("Chromium")},
	{has("firefox", "fxios"), versioned("Firefox", firefoxVersion, majorOnly)},
	{func(ua string) bool { return strings.Contains(ua, "safari/") && !strings.Contains(ua, "chrome") }, versioned("Safari", safariVersion, majorOnly)},
	{has("msie", "trident/"), fixed("Internet Explorer")},
}

var deviceRules = []uaRule{
	{has("mobile", "iphone", "ipod"), fixed("Mobile")},
	{has("tablet", "ipad"), fixed("Tablet")},
	{has("android"), fixed("Tablet")}, // "mobile" already ruled out above
}

func firstMatch(rules []uaRule, ua, fallback string) string {
	for _, r := range rules {
		if r.match(ua) {
			return r.result(ua)
		}
	}
	return fallback
}

// ParseUserAgent derives coarse OS/browser/device facts for display.
func ParseUserAgent(userAgent string) domain.DeviceInfo {
	if strings.TrimSpace(userAgent) == "" {
		return domain.DeviceInfo{OS: Unknown, Browser: Unknown, Device: Unknown}
	}
	ua := strings.ToLower(userAgent)
	return domain.DeviceInfo{
		OS:      firstMatch(osRules, ua, Unknown),
		Browser: firstMatch(browserRules, ua, Unknown),
		Device:  firstMatch(deviceRules, ua, "Desktop/Laptop"),
	}
}
