package stamp

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Reaper periodically expires pending requests nobody decided on. Expired
// rows are kept as history; nothing is deleted.
type Reaper struct {
	service  *Service
	interval time.Duration
	log      *slog.Logger

	mu      sync.Mutex
	expired int64
}

// NewReaper creates a reaper ticking every interval.
func NewReaper(service *Service, interval time.Duration, log *slog.Logger) *Reaper {
	return &Reaper{
		service:  service,
		interval: interval,
		log:      log,
	}
}

// Run blocks until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := r.service.clock.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info("request reaper started", "interval", r.interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if _, err := r.Sweep(ctx); err != nil {
				r.log.Error("sweep stale requests", "error", err)
			}
		}
	}
}

// Sweep runs one expiry pass and returns the number of requests expired.
func (r *Reaper) Sweep(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, err := r.service.ExpireStale(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.expired += n
		r.log.Info("expired stale requests", "count", n)
	}
	return n, nil
}

// Expired returns the total number of requests this reaper has expired.
func (r *Reaper) Expired() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.expired
}
