// Package candidates exposes the pool of accepted addresses: browsing,
// reservation and repricing.
package candidates

import (
	"context"
	"errors"
	"fmt"

	"github.com/vglm/addressology/internal/app/domain/candidate"
	"github.com/vglm/addressology/internal/app/scorer"
	"github.com/vglm/addressology/internal/app/storage"
	"github.com/vglm/addressology/pkg/logger"
)

// ErrValidation marks caller mistakes such as reserving without an owner.
var ErrValidation = errors.New("validation failed")

const defaultListLimit = 100

// Service serves the candidate pool.
type Service struct {
	store storage.CandidateStore
	log   *logger.Logger
}

// New creates a candidate service.
func New(store storage.CandidateStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("candidates")
	}
	return &Service{store: store, log: log}
}

// List returns candidates matching the filter, capped to a default limit
// when the caller gives none.
func (s *Service) List(ctx context.Context, f storage.CandidateFilter) ([]candidate.Candidate, error) {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	return s.store.ListCandidates(ctx, f)
}

// Get returns one candidate by address.
func (s *Service) Get(ctx context.Context, address string) (candidate.Candidate, error) {
	return s.store.GetCandidate(ctx, address)
}

// Reserve claims a free candidate for an owner. Reserving an already owned
// candidate fails with storage.ErrConflict.
func (s *Service) Reserve(ctx context.Context, address, ownerID string) (candidate.Candidate, error) {
	if ownerID == "" {
		return candidate.Candidate{}, fmt.Errorf("%w: owner is required", ErrValidation)
	}
	if _, err := s.store.GetCandidate(ctx, address); err != nil {
		return candidate.Candidate{}, err
	}
	if err := s.store.ReserveCandidate(ctx, address, ownerID); err != nil {
		return candidate.Candidate{}, err
	}
	s.log.WithField("address", address).WithField("owner", ownerID).Info("candidate reserved")
	return s.store.GetCandidate(ctx, address)
}

// Reprice recomputes a candidate's price from its current rating. Useful
// after the pricing rules change.
func (s *Service) Reprice(ctx context.Context, address string) (candidate.Candidate, error) {
	c, err := s.store.GetCandidate(ctx, address)
	if err != nil {
		return candidate.Candidate{}, err
	}
	rescored := scorer.ScoreAddress(c.Address)
	if rescored.Price == c.Price {
		return c, nil
	}
	if err := s.store.UpdateCandidatePrice(ctx, c.Address, rescored.Price); err != nil {
		return candidate.Candidate{}, err
	}
	c.Price = rescored.Price
	return c, nil
}
