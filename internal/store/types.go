package store

import (
	"context"
	"time"

	"mailtrack/internal/domain"
)

// OpenAppender is run while the record is held for writing. It receives the
// record as currently stored (Opens may be left empty by backends that keep
// events in a separate table), appends one event through the ledger, and
// returns that event. The backend persists the event and the record's
// updated OpenCount and LastOpened atomically.
type OpenAppender func(rec *domain.Record) domain.OpenEvent

// Repository is the single persistence contract every backend implements.
// Owner-scoped reads return domain.ErrNotFound for records of other owners.
type Repository interface {
	InsertOwner(ctx context.Context, owner domain.Owner) error
	// EnsureOwner creates the owner on first use and is a no-op afterwards.
	EnsureOwner(ctx context.Context, key string, now time.Time) error

	InsertRecord(ctx context.Context, rec domain.Record) error
	ListRecords(ctx context.Context, ownerKey string) ([]domain.Record, error)
	GetRecord(ctx context.Context, ownerKey, id string) (domain.Record, error)
	DeleteRecord(ctx context.Context, ownerKey, id string) error
	// MarkSent sets sentAt once; a second call yields domain.ErrAlreadySent.
	MarkSent(ctx context.Context, ownerKey, id string, now time.Time) (time.Time, error)

	// AppendOpen looks the record up by tracking id alone. found is false
	// when no record carries that id; nothing is written in that case.
	AppendOpen(ctx context.Context, trackingID string, fn OpenAppender) (ev domain.OpenEvent, found bool, err error)

	Ping(ctx context.Context) error
}
