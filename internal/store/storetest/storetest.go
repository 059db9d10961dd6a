// Package storetest is the behavioral suite every store.Repository backend
// must pass.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailtrack/internal/domain"
	"mailtrack/internal/ledger"
	"mailtrack/internal/store"
)

var seq int

func newRecord(owner string, createdAt time.Time) domain.Record {
	seq++
	return domain.Record{
		ID:          fmt.Sprintf("trk_test%06d", seq),
		TrackingID:  fmt.Sprintf("00000000-0000-4000-8000-%012d", seq),
		TrackingURL: fmt.Sprintf("http://localhost/track/%d", seq),
		Subject:     "Q3 Report",
		Recipient:   domain.UnknownRecipient,
		OwnerKey:    owner,
		SenderIP:    "203.0.113.7",
		CreatedAt:   createdAt.UTC().Truncate(time.Microsecond),
		Opens:       []domain.OpenEvent{},
	}
}

func proxyOpen(at time.Time, ip string) store.OpenAppender {
	return func(rec *domain.Record) domain.OpenEvent {
		return ledger.Append(rec, domain.OpenEvent{
			Timestamp:  at.UTC().Truncate(time.Microsecond),
			UserAgent:  "GoogleImageProxy",
			IP:         ip,
			Referer:    "Direct",
			OpenType:   domain.OpenGmailProxy,
			IsReal:     true,
			IsSelfView: ip == rec.SenderIP,
			DeviceInfo: domain.DeviceInfo{OS: "Unknown", Browser: "Unknown", Device: "Desktop/Laptop"},
		}, ledger.ProxyOnly{})
	}
}

func seed(t *testing.T, repo store.Repository, recs ...domain.Record) {
	t.Helper()
	ctx := context.Background()
	for _, rec := range recs {
		require.NoError(t, repo.EnsureOwner(ctx, rec.OwnerKey, rec.CreatedAt))
		require.NoError(t, repo.InsertRecord(ctx, rec))
	}
}

// Run exercises repo construction through newRepo, once per subtest.
func Run(t *testing.T, newRepo func(t *testing.T) store.Repository) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	t.Run("insert get list delete", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.EnsureOwner(ctx, "owner-a", now))
		require.NoError(t, repo.EnsureOwner(ctx, "owner-a", now), "ensure is idempotent")

		older := newRecord("owner-a", now.Add(-time.Hour))
		newer := newRecord("owner-a", now)
		seed(t, repo, older, newer)

		got, err := repo.GetRecord(ctx, "owner-a", older.ID)
		require.NoError(t, err)
		assert.Equal(t, older.TrackingID, got.TrackingID)
		assert.Equal(t, "Q3 Report", got.Subject)
		assert.Equal(t, domain.UnknownRecipient, got.Recipient)
		assert.Equal(t, 0, got.OpenCount)
		assert.Nil(t, got.SentAt)
		assert.Empty(t, got.Opens)

		list, err := repo.ListRecords(ctx, "owner-a")
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, newer.ID, list[0].ID, "newest first")

		require.NoError(t, repo.DeleteRecord(ctx, "owner-a", older.ID))
		_, err = repo.GetRecord(ctx, "owner-a", older.ID)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.ErrorIs(t, repo.DeleteRecord(ctx, "owner-a", older.ID), domain.ErrNotFound)
	})

	t.Run("owner scoping hides other owners", func(t *testing.T) {
		repo := newRepo(t)
		rec := newRecord("owner-a", now)
		seed(t, repo, rec)

		_, err := repo.GetRecord(ctx, "owner-b", rec.ID)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.ErrorIs(t, repo.DeleteRecord(ctx, "owner-b", rec.ID), domain.ErrNotFound)
		_, err = repo.MarkSent(ctx, "owner-b", rec.ID, now)
		assert.ErrorIs(t, err, domain.ErrNotFound)

		list, err := repo.ListRecords(ctx, "owner-b")
		require.NoError(t, err)
		assert.Empty(t, list)

		_, err = repo.GetRecord(ctx, "owner-a", rec.ID)
		assert.NoError(t, err, "record survives foreign delete")
	})

	t.Run("mark sent once", func(t *testing.T) {
		repo := newRepo(t)
		rec := newRecord("owner-a", now)
		seed(t, repo, rec)

		sentAt := now.Add(5 * time.Second)
		got, err := repo.MarkSent(ctx, "owner-a", rec.ID, sentAt)
		require.NoError(t, err)
		assert.True(t, got.Equal(sentAt))

		_, err = repo.MarkSent(ctx, "owner-a", rec.ID, sentAt.Add(time.Minute))
		assert.ErrorIs(t, err, domain.ErrAlreadySent)

		stored, err := repo.GetRecord(ctx, "owner-a", rec.ID)
		require.NoError(t, err)
		require.NotNil(t, stored.SentAt)
		assert.True(t, stored.SentAt.Equal(sentAt), "sentAt is immutable")
	})

	t.Run("append open", func(t *testing.T) {
		repo := newRepo(t)
		rec := newRecord("owner-a", now)
		seed(t, repo, rec)

		ev, found, err := repo.AppendOpen(ctx, rec.TrackingID, proxyOpen(now.Add(time.Minute), "198.51.100.2"))
		require.NoError(t, err)
		require.True(t, found)
		assert.True(t, ev.Counted)

		ev, found, err = repo.AppendOpen(ctx, rec.TrackingID, proxyOpen(now.Add(2*time.Minute), rec.SenderIP))
		require.NoError(t, err)
		require.True(t, found)
		assert.False(t, ev.Counted, "self view")

		stored, err := repo.GetRecord(ctx, "owner-a", rec.ID)
		require.NoError(t, err)
		require.Len(t, stored.Opens, 2)
		assert.Equal(t, 1, stored.OpenCount)
		require.NotNil(t, stored.LastOpened)
		assert.True(t, stored.LastOpened.Equal(now.Add(time.Minute)))
		assert.Equal(t, "198.51.100.2", stored.Opens[0].IP)
		assert.True(t, stored.Opens[1].IsSelfView)

		count, _ := ledger.Recount(stored.Opens)
		assert.Equal(t, stored.OpenCount, count)
	})

	t.Run("append open unknown tracking id", func(t *testing.T) {
		repo := newRepo(t)
		called := false
		_, found, err := repo.AppendOpen(ctx, "does-not-exist", func(rec *domain.Record) domain.OpenEvent {
			called = true
			return domain.OpenEvent{}
		})
		require.NoError(t, err)
		assert.False(t, found)
		assert.False(t, called)
	})

	t.Run("concurrent opens are not lost", func(t *testing.T) {
		repo := newRepo(t)
		rec := newRecord("owner-a", now.Add(-time.Hour))
		seed(t, repo, rec)

		const n = 25
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, _, err := repo.AppendOpen(ctx, rec.TrackingID, proxyOpen(now.Add(time.Duration(i)*time.Second), "198.51.100.2"))
				errs <- err
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		stored, err := repo.GetRecord(ctx, "owner-a", rec.ID)
		require.NoError(t, err)
		assert.Len(t, stored.Opens, n)
		assert.Equal(t, n, stored.OpenCount)
	})

	t.Run("ping", func(t *testing.T) {
		repo := newRepo(t)
		assert.NoError(t, repo.Ping(ctx))
	})
}
