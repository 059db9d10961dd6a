package util

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

func newULID(prefix string) string {
	// ULID is sortable (nice for DB indexes and list ordering)
	t := time.Now().UTC()
	return prefix + ulid.MustNew(ulid.Timestamp(t), rand.Reader).String()
}

func NewRecordID() string { return newULID("trk_") }

func NewUserID() string { return newULID("usr_") }

// NewTrackingID returns the unguessable id embedded in pixel URLs.
func NewTrackingID() string {
	return uuid.NewString()
}

// NewAPIKey returns 32 random bytes, hex encoded.
func NewAPIKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func NowUTC() time.Time {
	return time.Now().UTC()
}
