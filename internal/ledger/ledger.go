// Package ledger decides whether an open counts and keeps a record's
// aggregates in step with its append-only open log.
//
// The counting verdict is computed once, at ingestion, and frozen onto the
// event as OpenEvent.Counted. Aggregates are a pure count of that flag, so
// changing the configured policy never rewrites history.
package ledger

import (
	"fmt"
	"strings"
	"time"

	"mailtrack/internal/domain"
)

type Policy interface {
	Name() string
	Counts(ev domain.OpenEvent) bool
}

// ProxyOnly counts only webmail image-proxy fetches outside the grace
// period that did not come from the sender's own address.
type ProxyOnly struct{}

func (ProxyOnly) Name() string { return "strict" }

func (ProxyOnly) Counts(ev domain.OpenEvent) bool {
	return ev.OpenType.IsProxy() && !ev.InGracePeriod && !ev.IsSelfView
}

// AnyReal counts any likely-real fetch outside the grace period. Self-views
// are not excluded; meant for deployments that do not capture sender IPs.
type AnyReal struct{}

func (AnyReal) Name() string { return "loose" }

func (AnyReal) Counts(ev domain.OpenEvent) bool {
	return ev.IsReal && !ev.InGracePeriod
}

// ParsePolicy maps a COUNTING_POLICY value to its policy.
func ParsePolicy(name string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "strict":
		return ProxyOnly{}, nil
	case "loose":
		return AnyReal{}, nil
	default:
		return nil, fmt.Errorf("unknown counting policy %q", name)
	}
}

// Append freezes the policy verdict onto ev, appends it to rec and updates
// the aggregates. It returns the event as stored.
func Append(rec *domain.Record, ev domain.OpenEvent, p Policy) domain.OpenEvent {
	ev.Counted = p.Counts(ev)
	rec.Opens = append(rec.Opens, ev)
	if ev.Counted {
		rec.OpenCount++
		ts := ev.Timestamp
		rec.LastOpened = &ts
	}
	return ev
}

// Recount rebuilds the aggregates from frozen verdicts only.
func Recount(opens []domain.OpenEvent) (count int, lastOpened *time.Time) {
	for _, ev := range opens {
		if ev.Counted {
			count++
			ts := ev.Timestamp
			lastOpened = &ts
		}
	}
	return count, lastOpened
}
