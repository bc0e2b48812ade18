package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/vglm/addressology/internal/app/storage"
	"github.com/vglm/addressology/internal/app/system"
	"github.com/vglm/addressology/pkg/logger"
)

// Reaper closes jobs that stopped reporting. Miners that crash mid-run never
// call the finish endpoint, so their jobs would otherwise stay open forever.
type Reaper struct {
	store    storage.JobStore
	maxIdle  time.Duration
	interval time.Duration
	log      *logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

var _ system.Service = (*Reaper)(nil)

// NewReaper creates a reaper that finishes jobs idle for longer than maxIdle.
func NewReaper(store storage.JobStore, maxIdle time.Duration, log *logger.Logger) *Reaper {
	if log == nil {
		log = logger.NewDefault("jobs-reaper")
	}
	if maxIdle <= 0 {
		maxIdle = 30 * time.Minute
	}
	return &Reaper{
		store:    store,
		maxIdle:  maxIdle,
		interval: time.Minute,
		log:      log,
	}
}

func (r *Reaper) Name() string { return "jobs-reaper" }

func (r *Reaper) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				r.tick(runCtx)
			}
		}
	}()

	r.log.Info("job reaper started")
	return nil
}

func (r *Reaper) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

func (r *Reaper) tick(ctx context.Context) {
	open, err := r.store.ListJobs(ctx, storage.JobFilter{OnlyActive: true})
	if err != nil {
		r.log.WithError(err).Warn("list active jobs failed")
		return
	}

	cutoff := time.Now().UTC().Add(-r.maxIdle)
	for _, j := range open {
		if j.UpdatedAt.After(cutoff) {
			continue
		}
		if err := r.store.FinishJob(ctx, j.ID); err != nil {
			r.log.WithError(err).Warnf("reap job %s failed", j.ID)
			continue
		}
		r.log.Infof("job %s reaped after %s idle", j.ID, r.maxIdle)
	}
}
