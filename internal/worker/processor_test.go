package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailtrack/internal/domain"
)

type recorderFunc func(ctx context.Context, job domain.OpenJob) (domain.OpenEvent, bool, error)

func (f recorderFunc) RecordOpen(ctx context.Context, job domain.OpenJob) (domain.OpenEvent, bool, error) {
	return f(ctx, job)
}

func TestProcess_PassesJobThrough(t *testing.T) {
	var got domain.OpenJob
	p := &Processor{Recorder: recorderFunc(func(ctx context.Context, job domain.OpenJob) (domain.OpenEvent, bool, error) {
		got = job
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		return domain.OpenEvent{}, true, nil
	})}

	require.NoError(t, p.Process(context.Background(), domain.OpenJob{TrackingID: "tid-1"}))
	assert.Equal(t, "tid-1", got.TrackingID)
}

func TestProcess_UnknownTrackingIDIsNotAnError(t *testing.T) {
	p := &Processor{Recorder: recorderFunc(func(context.Context, domain.OpenJob) (domain.OpenEvent, bool, error) {
		return domain.OpenEvent{}, false, nil
	})}
	assert.NoError(t, p.Process(context.Background(), domain.OpenJob{TrackingID: "missing"}))
}

func TestProcess_BreakerOpensOnStorageFailures(t *testing.T) {
	var calls atomic.Int32
	p := &Processor{
		Recorder: recorderFunc(func(context.Context, domain.OpenJob) (domain.OpenEvent, bool, error) {
			calls.Add(1)
			return domain.OpenEvent{}, true, domain.ErrStorage
		}),
		Breaker: NewBreaker("test-store", time.Minute),
	}

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, p.Process(ctx, domain.OpenJob{TrackingID: "t"}), domain.ErrStorage)
	}
	err := p.Process(ctx, domain.OpenJob{TrackingID: "t"})
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState), "got %v", err)
	assert.Equal(t, int32(5), calls.Load(), "open breaker fails fast")
}
