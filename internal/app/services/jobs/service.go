// Package jobs manages the mining job ledger.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vglm/addressology/internal/app/domain/job"
	"github.com/vglm/addressology/internal/app/storage"
	"github.com/vglm/addressology/pkg/logger"
)

// ErrValidation marks caller mistakes such as a missing cruncher version.
var ErrValidation = errors.New("validation failed")

// Service manages job lifecycles. Ledger counters are only ever touched by
// the intake pipeline; this service handles creation, listing and closing.
type Service struct {
	store storage.JobStore
	log   *logger.Logger
}

// New creates a job service.
func New(store storage.JobStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("jobs")
	}
	return &Service{store: store, log: log}
}

// CreateRequest describes a new mining job.
type CreateRequest struct {
	CruncherVer string `json:"cruncherVer"`
	RequestorID string `json:"requestorId,omitempty"`
	MinerID     string `json:"minerId,omitempty"`
	ExtraInfo   string `json:"extraInfo,omitempty"`
}

// Create opens a new job with zeroed ledger counters.
func (s *Service) Create(ctx context.Context, req CreateRequest) (job.Job, error) {
	if req.CruncherVer == "" {
		return job.Job{}, fmt.Errorf("%w: cruncher version is required", ErrValidation)
	}
	now := time.Now().UTC()
	j := job.Job{
		ID:          uuid.NewString(),
		CruncherVer: req.CruncherVer,
		StartedAt:   now,
		UpdatedAt:   now,
		RequestorID: req.RequestorID,
		MinerID:     req.MinerID,
		ExtraInfo:   req.ExtraInfo,
	}
	if err := s.store.InsertJob(ctx, j); err != nil {
		return job.Job{}, fmt.Errorf("insert job: %w", err)
	}
	s.log.WithField("job", j.ID).Info("job created")
	return j, nil
}

// Get returns one job.
func (s *Service) Get(ctx context.Context, id string) (job.Job, error) {
	return s.store.GetJob(ctx, id)
}

// List returns jobs matching the filter.
func (s *Service) List(ctx context.Context, f storage.JobFilter) ([]job.Job, error) {
	return s.store.ListJobs(ctx, f)
}

// Finish closes a job. Further batches against it are rejected.
func (s *Service) Finish(ctx context.Context, id string) (job.Job, error) {
	if err := s.store.FinishJob(ctx, id); err != nil {
		return job.Job{}, err
	}
	s.log.WithField("job", id).Info("job finished")
	return s.store.GetJob(ctx, id)
}
