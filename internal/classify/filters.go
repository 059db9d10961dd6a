package classify

import "time"

// InGracePeriod reports whether an open landed too soon after the anchor
// (send confirmation, or creation) to be a recipient open.
func InGracePeriod(anchor, openedAt time.Time, grace time.Duration) bool {
	return openedAt.Sub(anchor) < grace
}

// IsSelfView reports whether the open came from the sender's own address.
// Shared networks and NAT churn make this a heuristic.
func IsSelfView(senderIP, openIP string) bool {
	return senderIP != "" && openIP != "" && senderIP == openIP
}
