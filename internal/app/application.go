package app

import (
	"context"
	"time"

	"github.com/vglm/addressology/internal/app/scorer"
	candidatesvc "github.com/vglm/addressology/internal/app/services/candidates"
	"github.com/vglm/addressology/internal/app/services/intake"
	jobsvc "github.com/vglm/addressology/internal/app/services/jobs"
	"github.com/vglm/addressology/internal/app/storage"
	"github.com/vglm/addressology/internal/app/storage/memory"
	"github.com/vglm/addressology/internal/app/system"
	"github.com/vglm/addressology/pkg/logger"
)

// Options tunes application construction. The zero value is usable.
type Options struct {
	// Store is the persistence backend. Nil defaults to the in-memory store.
	Store storage.TxStore
	// JobMaxIdle is how long a job may go without batches before the reaper
	// closes it.
	JobMaxIdle time.Duration
}

// Application ties the domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Store      storage.TxStore
	Intake     *intake.Service
	Jobs       *jobsvc.Service
	Candidates *candidatesvc.Service
}

// New builds a fully initialised application.
func New(opts Options, log *logger.Logger) *Application {
	if log == nil {
		log = logger.NewDefault("app")
	}
	store := opts.Store
	if store == nil {
		store = memory.New()
	}

	manager := system.NewManager(log)
	manager.Register(jobsvc.NewReaper(store, opts.JobMaxIdle, log))

	return &Application{
		manager:    manager,
		log:        log,
		Store:      store,
		Intake:     intake.New(store, scorer.Keccak{}, log),
		Jobs:       jobsvc.New(store, log),
		Candidates: candidatesvc.New(store, log),
	}
}

// Start brings up the background services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop shuts the background services down.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
