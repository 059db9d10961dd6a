package classify

import (
	"net"
	"strings"
)

// NormalizeIP takes the first hop of a forwarded-for style chain, drops any
// port, and strips the IPv6-mapped IPv4 prefix.
func NormalizeIP(raw string) string {
	ip, _, _ := strings.Cut(raw, ",")
	ip = strings.TrimSpace(ip)
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	ip = strings.Trim(ip, "[]")
	return strings.TrimPrefix(ip, "::ffff:")
}
