// Package memory is an in-memory implementation of the storage interfaces.
// It is safe for concurrent use and is primarily intended for tests and
// local development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vglm/addressology/internal/app/domain/candidate"
	"github.com/vglm/addressology/internal/app/domain/job"
	"github.com/vglm/addressology/internal/app/domain/miner"
	"github.com/vglm/addressology/internal/app/domain/registry"
	"github.com/vglm/addressology/internal/app/storage"
)

// Store keeps all records in maps guarded by a single mutex.
type Store struct {
	mu         sync.RWMutex
	nextID     int64
	candidates map[string]candidate.Candidate
	factories  map[string]registry.FactoryEntry
	publicKeys map[string]registry.PublicKeyEntry
	jobs       map[string]job.Job
	miners     map[string]miner.Miner
}

var _ storage.TxStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:     1,
		candidates: make(map[string]candidate.Candidate),
		factories:  make(map[string]registry.FactoryEntry),
		publicKeys: make(map[string]registry.PublicKeyEntry),
		jobs:       make(map[string]job.Job),
		miners:     make(map[string]miner.Miner),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

// --- CandidateStore ---------------------------------------------------------

func (s *Store) InsertCandidate(_ context.Context, c candidate.Candidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertCandidateLocked(c)
}

func (s *Store) insertCandidateLocked(c candidate.Candidate) error {
	key := strings.ToLower(c.Address)
	if _, ok := s.candidates[key]; ok {
		return storage.ErrConflict
	}
	c.Address = key
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	s.candidates[key] = c
	return nil
}

func (s *Store) GetCandidate(_ context.Context, address string) (candidate.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.candidates[strings.ToLower(address)]
	if !ok {
		return candidate.Candidate{}, storage.ErrNotFound
	}
	return c, nil
}

func (s *Store) ListCandidates(_ context.Context, f storage.CandidateFilter) ([]candidate.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []candidate.Candidate
	cutoff := time.Time{}
	if f.SinceHours > 0 {
		cutoff = time.Now().UTC().Add(-time.Duration(f.SinceHours) * time.Hour)
	}
	for _, c := range s.candidates {
		if f.Category != "" && c.Category != f.Category {
			continue
		}
		if f.Free && c.Reserved() {
			continue
		}
		if f.OwnerID != "" && c.OwnerID != f.OwnerID {
			continue
		}
		if f.MinScore > 0 && c.Score < f.MinScore {
			continue
		}
		if !cutoff.IsZero() && !c.CreatedAt.After(cutoff) {
			continue
		}
		if f.PublicKeyID != "" && c.PublicKeyBase != f.PublicKeyID {
			continue
		}
		out = append(out, c)
	}

	sort.Slice(out, func(i, j int) bool {
		switch f.OrderBy {
		case "created":
			return out[i].CreatedAt.After(out[j].CreatedAt)
		case "price":
			return out[i].Price > out[j].Price
		default:
			return out[i].Score > out[j].Score
		}
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) ReserveCandidate(_ context.Context, address, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(address)
	c, ok := s.candidates[key]
	if !ok {
		return storage.ErrNotFound
	}
	if c.Reserved() {
		return storage.ErrConflict
	}
	c.OwnerID = ownerID
	s.candidates[key] = c
	return nil
}

func (s *Store) UpdateCandidatePrice(_ context.Context, address string, price int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(address)
	c, ok := s.candidates[key]
	if !ok {
		return storage.ErrNotFound
	}
	c.Price = price
	s.candidates[key] = c
	return nil
}

// --- RegistryStore ----------------------------------------------------------

func (s *Store) ResolveFactory(_ context.Context, address, ownerID string) (registry.FactoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(address)
	if e, ok := s.factories[key]; ok {
		return e, nil
	}
	e := registry.FactoryEntry{
		ID:      s.nextIDLocked(),
		Address: key,
		AddedAt: time.Now().UTC(),
		OwnerID: ownerID,
	}
	s.factories[key] = e
	return e, nil
}

func (s *Store) ResolvePublicKey(_ context.Context, hexKey, ownerID string) (registry.PublicKeyEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(hexKey)
	if e, ok := s.publicKeys[key]; ok {
		return e, nil
	}
	e := registry.PublicKeyEntry{
		ID:      s.nextIDLocked(),
		Hex:     key,
		AddedAt: time.Now().UTC(),
		OwnerID: ownerID,
	}
	s.publicKeys[key] = e
	return e, nil
}

func (s *Store) ListFactories(_ context.Context) ([]registry.FactoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]registry.FactoryEntry, 0, len(s.factories))
	for _, e := range s.factories {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AddedAt.After(out[j].AddedAt) })
	return out, nil
}

func (s *Store) ListPublicKeys(_ context.Context) ([]registry.PublicKeyEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]registry.PublicKeyEntry, 0, len(s.publicKeys))
	for _, e := range s.publicKeys {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AddedAt.After(out[j].AddedAt) })
	return out, nil
}

// --- JobStore ---------------------------------------------------------------

func (s *Store) InsertJob(_ context.Context, j job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j.ID == "" {
		j.ID = s.nextIDLocked()
	}
	if _, ok := s.jobs[j.ID]; ok {
		return storage.ErrConflict
	}
	now := time.Now().UTC()
	if j.StartedAt.IsZero() {
		j.StartedAt = now
	}
	if j.UpdatedAt.IsZero() {
		j.UpdatedAt = now
	}
	s.jobs[j.ID] = j
	return nil
}

func (s *Store) GetJob(_ context.Context, id string) (job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return job.Job{}, storage.ErrNotFound
	}
	return j, nil
}

func (s *Store) ListJobs(_ context.Context, f storage.JobFilter) ([]job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Time{}
	if f.NewerThanSec > 0 {
		cutoff = time.Now().UTC().Add(-time.Duration(f.NewerThanSec) * time.Second)
	}
	var out []job.Job
	for _, j := range s.jobs {
		if f.RequestorID != "" && j.RequestorID != f.RequestorID {
			continue
		}
		if f.OnlyActive && j.Finished() {
			continue
		}
		if !cutoff.IsZero() && !j.UpdatedAt.After(cutoff) {
			continue
		}
		out = append(out, j)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) ApplyDelta(_ context.Context, id string, d job.Delta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyDeltaLocked(id, d)
}

func (s *Store) applyDeltaLocked(id string, d job.Delta) error {
	j, ok := s.jobs[id]
	if !ok || j.Finished() {
		return storage.ErrNotFound
	}
	j.HashesAccepted += d.ScoreDelta
	j.HashesReported = d.ReportedHashes
	j.EntriesAccepted += d.Accepted
	j.EntriesRejected += d.Rejected
	j.CostReported = d.ReportedCost
	j.UpdatedAt = time.Now().UTC()
	s.jobs[id] = j
	return nil
}

func (s *Store) FinishJob(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.Finished() {
		return storage.ErrNotFound
	}
	now := time.Now().UTC()
	j.FinishedAt = now
	j.UpdatedAt = now
	s.jobs[id] = j
	return nil
}

// --- MinerStore -------------------------------------------------------------

func (s *Store) InsertMiner(_ context.Context, m miner.Miner) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = s.nextIDLocked()
	}
	if _, ok := s.miners[m.ID]; ok {
		return storage.ErrConflict
	}
	s.miners[m.ID] = m
	return nil
}

func (s *Store) GetMiner(_ context.Context, id string) (miner.Miner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.miners[id]
	if !ok {
		return miner.Miner{}, storage.ErrNotFound
	}
	return m, nil
}
