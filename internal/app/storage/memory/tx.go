package memory

import (
	"context"
	"strings"

	"github.com/vglm/addressology/internal/app/domain/candidate"
	"github.com/vglm/addressology/internal/app/domain/job"
	"github.com/vglm/addressology/internal/app/domain/miner"
	"github.com/vglm/addressology/internal/app/domain/registry"
	"github.com/vglm/addressology/internal/app/storage"
)

// tx stages candidate inserts and job deltas until Commit. Registry
// resolution writes through to the parent immediately; the operation is
// idempotent, so an abandoned transaction leaves at worst a harmless row, the
// same trade a database upsert outside the transaction would make.
type tx struct {
	*Store
	parent     *Store
	staged     []candidate.Candidate
	deltas     map[string][]job.Delta
	insertJobs []job.Job
	done       bool
}

var _ storage.UnitOfWork = (*tx)(nil)

// Begin opens a staged view of the store.
func (s *Store) Begin(_ context.Context) (storage.UnitOfWork, error) {
	return &tx{
		Store:  New(),
		parent: s,
		deltas: make(map[string][]job.Delta),
	}, nil
}

func (t *tx) InsertCandidate(ctx context.Context, c candidate.Candidate) error {
	if _, err := t.parent.GetCandidate(ctx, c.Address); err == nil {
		return storage.ErrConflict
	}
	if err := t.Store.InsertCandidate(ctx, c); err != nil {
		return err
	}
	t.staged = append(t.staged, c)
	return nil
}

func (t *tx) GetCandidate(ctx context.Context, address string) (candidate.Candidate, error) {
	if c, err := t.Store.GetCandidate(ctx, address); err == nil {
		return c, nil
	}
	return t.parent.GetCandidate(ctx, address)
}

func (t *tx) ResolveFactory(ctx context.Context, address, ownerID string) (registry.FactoryEntry, error) {
	return t.parent.ResolveFactory(ctx, address, ownerID)
}

func (t *tx) ResolvePublicKey(ctx context.Context, hexKey, ownerID string) (registry.PublicKeyEntry, error) {
	return t.parent.ResolvePublicKey(ctx, hexKey, ownerID)
}

func (t *tx) ListFactories(ctx context.Context) ([]registry.FactoryEntry, error) {
	return t.parent.ListFactories(ctx)
}

func (t *tx) ListPublicKeys(ctx context.Context) ([]registry.PublicKeyEntry, error) {
	return t.parent.ListPublicKeys(ctx)
}

func (t *tx) InsertJob(ctx context.Context, j job.Job) error {
	if _, err := t.parent.GetJob(ctx, j.ID); err == nil {
		return storage.ErrConflict
	}
	if err := t.Store.InsertJob(ctx, j); err != nil {
		return err
	}
	t.insertJobs = append(t.insertJobs, j)
	return nil
}

func (t *tx) GetJob(ctx context.Context, id string) (job.Job, error) {
	j, err := t.parent.GetJob(ctx, id)
	if err != nil {
		return t.Store.GetJob(ctx, id)
	}
	for _, d := range t.deltas[id] {
		j.HashesAccepted += d.ScoreDelta
		j.HashesReported = d.ReportedHashes
		j.EntriesAccepted += d.Accepted
		j.EntriesRejected += d.Rejected
		j.CostReported = d.ReportedCost
	}
	return j, nil
}

func (t *tx) ApplyDelta(ctx context.Context, id string, d job.Delta) error {
	if _, err := t.GetJob(ctx, id); err != nil {
		return err
	}
	t.deltas[id] = append(t.deltas[id], d)
	return nil
}

func (t *tx) GetMiner(ctx context.Context, id string) (miner.Miner, error) {
	if m, err := t.Store.GetMiner(ctx, id); err == nil {
		return m, nil
	}
	return t.parent.GetMiner(ctx, id)
}

// Commit replays the staged writes onto the parent under its lock. All
// conflict checks run before the first mutation, so a failed commit leaves
// the parent untouched.
func (t *tx) Commit() error {
	if t.done {
		return nil
	}
	t.done = true

	t.parent.mu.Lock()
	defer t.parent.mu.Unlock()

	for _, j := range t.insertJobs {
		if _, ok := t.parent.jobs[j.ID]; ok {
			return storage.ErrConflict
		}
	}
	for _, c := range t.staged {
		if _, ok := t.parent.candidates[strings.ToLower(c.Address)]; ok {
			return storage.ErrConflict
		}
	}
	for id := range t.deltas {
		if j, ok := t.parent.jobs[id]; ok {
			if j.Finished() {
				return storage.ErrNotFound
			}
			continue
		}
		if !t.stagesJob(id) {
			return storage.ErrNotFound
		}
	}

	for _, j := range t.insertJobs {
		t.parent.jobs[j.ID] = j
	}
	for _, c := range t.staged {
		if err := t.parent.insertCandidateLocked(c); err != nil {
			return err
		}
	}
	for id, ds := range t.deltas {
		for _, d := range ds {
			if err := t.parent.applyDeltaLocked(id, d); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *tx) stagesJob(id string) bool {
	for _, j := range t.insertJobs {
		if j.ID == id {
			return true
		}
	}
	return false
}

// Rollback discards the staged writes.
func (t *tx) Rollback() error {
	t.done = true
	return nil
}
