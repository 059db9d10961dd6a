// Package pipeline hands pixel fetches off the request path.
//
// A Sink never blocks the caller and never reports an error: losing an
// open is preferable to delaying the image the mail client is waiting for.
package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"mailtrack/internal/domain"
	"mailtrack/internal/observability"
)

type Sink interface {
	Submit(job domain.OpenJob)
}

type Handler func(ctx context.Context, job domain.OpenJob) error

// Pool is an in-process Sink backed by a bounded channel and a fixed set of
// workers. Submissions beyond the buffer are dropped.
type Pool struct {
	jobs    chan domain.OpenJob
	handler Handler
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewPool(workers, buffer int, handler Handler) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if buffer < 0 {
		buffer = 0
	}
	p := &Pool{jobs: make(chan domain.OpenJob, buffer), handler: handler}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.run()
	}
	return p
}

func (p *Pool) run() {
	defer p.wg.Done()
	for job := range p.jobs {
		if err := p.handler(context.Background(), job); err != nil {
			slog.Error("open job failed", "tracking_id", job.TrackingID, "err", err)
		}
	}
}

func (p *Pool) Submit(job domain.OpenJob) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		observability.PipelineDropped.WithLabelValues("closed").Inc()
		return
	}
	select {
	case p.jobs <- job:
	default:
		observability.PipelineDropped.WithLabelValues("buffer_full").Inc()
		slog.Warn("open pipeline full, dropping open", "tracking_id", job.TrackingID)
	}
}

// Close stops intake and waits for queued jobs to finish or ctx to expire.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
