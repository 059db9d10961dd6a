package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"mailtrack/internal/domain"
)

// Recorder applies one open to the ledger.
type Recorder interface {
	RecordOpen(ctx context.Context, job domain.OpenJob) (domain.OpenEvent, bool, error)
}

type Processor struct {
	Recorder Recorder
	// Limiter caps store writes per process. Nil means unlimited.
	Limiter *rate.Limiter
	Breaker *gobreaker.CircuitBreaker
	// Timeout bounds one append. Zero means 5s.
	Timeout time.Duration
}

// NewBreaker opens after five consecutive storage failures and probes again
// after cooldown.
func NewBreaker(name string, cooldown time.Duration) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: cooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}

// Process is the pipeline and SQS handler. A returned error leaves an SQS
// message for redrive; the in-process pool only logs it.
func (p *Processor) Process(ctx context.Context, job domain.OpenJob) error {
	if p.Limiter != nil {
		waitCtx, cancelWait := context.WithTimeout(ctx, 2*time.Second)
		err := p.Limiter.Wait(waitCtx)
		cancelWait()
		if err != nil {
			return err
		}
	}

	_, err := p.executeWithBreaker(ctx, job)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		slog.Warn("store breaker open, deferring open", "tracking_id", job.TrackingID)
	}
	return err
}

func (p *Processor) executeWithBreaker(ctx context.Context, job domain.OpenJob) (any, error) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	call := func() (any, error) {
		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		ev, _, err := p.Recorder.RecordOpen(reqCtx, job)
		return ev, err
	}

	if p.Breaker == nil {
		return call()
	}
	return p.Breaker.Execute(call)
}
