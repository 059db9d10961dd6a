package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"mailtrack/internal/domain"
	"mailtrack/internal/store"
	"mailtrack/internal/store/storetest"
)

func TestRepository(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Repository { return New() })
}

func TestInsertRecord_DuplicateTrackingID(t *testing.T) {
	s := New()
	rec := domain.Record{ID: "trk_1", TrackingID: "tid", OwnerKey: "k", CreatedAt: time.Now()}
	assert.NoError(t, s.InsertRecord(context.Background(), rec))

	rec.ID = "trk_2"
	assert.ErrorIs(t, s.InsertRecord(context.Background(), rec), domain.ErrStorage)
}

func TestGetRecord_ReturnsCopy(t *testing.T) {
	s := New()
	ctx := context.Background()
	rec := domain.Record{ID: "trk_1", TrackingID: "tid", OwnerKey: "k", CreatedAt: time.Now()}
	assert.NoError(t, s.InsertRecord(ctx, rec))

	got, err := s.GetRecord(ctx, "k", "trk_1")
	assert.NoError(t, err)
	got.Opens = append(got.Opens, domain.OpenEvent{})
	got.OpenCount = 99

	again, err := s.GetRecord(ctx, "k", "trk_1")
	assert.NoError(t, err)
	assert.Empty(t, again.Opens)
	assert.Equal(t, 0, again.OpenCount)
}
