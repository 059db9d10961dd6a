package classify

import (
	"strings"

	"mailtrack/internal/domain"
)

type OpenVerdict struct {
	Type         domain.OpenType
	IsLikelyReal bool
}

var botSignatures = []string{
	"bot",
	"crawler",
	"spider",
	"slurp",
	"bingbot",
	"facebookexternalhit",
	"preview",
	"prefetch",
	"prerender",
}

// openRule inputs: lowercased user agent and lowercased via header.
type openRule struct {
	name    string
	match   func(ua, via string) bool
	verdict OpenVerdict
}

// In-app mail clients sometimes carry a bot-like token next to a webview marker.
func isBot(ua, _ string) bool {
	if strings.Contains(ua, "webview") {
		return false
	}
	return has(botSignatures...)(ua)
}

func isGmailProxy(ua, via string) bool {
	return strings.Contains(ua, "googleimageproxy") || strings.Contains(via, "google")
}

func isYahooProxy(ua, _ string) bool {
	return strings.Contains(ua, "yahoo") && !strings.Contains(ua, "slurp")
}

func tokens(list ...string) func(ua, via string) bool {
	f := has(list...)
	return func(ua, _ string) bool { return f(ua) }
}

var openRules = []openRule{
	{"bot", isBot, OpenVerdict{domain.OpenBot, false}},
	{"gmail-proxy", isGmailProxy, OpenVerdict{domain.OpenGmailProxy, true}},
	{"yahoo-proxy", isYahooProxy, OpenVerdict{domain.OpenYahooProxy, true}},
	{"browser", tokens("mozilla", "chrome", "safari", "firefox"), OpenVerdict{domain.OpenBrowser, true}},
	{"mobile", tokens("mobile", "iphone", "android"), OpenVerdict{domain.OpenMobile, true}},
}

// DetectOpenType classifies a pixel fetch. Anything unmatched is assumed real:
// a missed human open is worse than a counted bot.
func DetectOpenType(userAgent string, headers map[string]string) OpenVerdict {
	if userAgent == "" {
		return OpenVerdict{domain.OpenUnknown, false}
	}
	ua := strings.ToLower(userAgent)
	via := strings.ToLower(headerValue(headers, "via"))
	for _, r := range openRules {
		if r.match(ua, via) {
			return r.verdict
		}
	}
	return OpenVerdict{domain.OpenUnknown, true}
}

func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}
