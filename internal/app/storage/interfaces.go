// Package storage defines the persistence contracts for the candidate pool.
// Two implementations exist: postgres for production and memory for tests.
package storage

import (
	"context"

	"github.com/vglm/addressology/internal/app/domain/candidate"
	"github.com/vglm/addressology/internal/app/domain/job"
	"github.com/vglm/addressology/internal/app/domain/miner"
	"github.com/vglm/addressology/internal/app/domain/registry"
)

// CandidateFilter narrows List results. Zero values mean "no restriction".
type CandidateFilter struct {
	Category    string
	Free        bool   // only unreserved candidates
	OwnerID     string // only candidates reserved by this owner
	MinScore    float64
	OrderBy     string // "score", "created", or "price"; defaults to score
	Limit       int
	SinceHours  int // only candidates newer than this many hours
	PublicKeyID string
}

// JobFilter narrows job listings.
type JobFilter struct {
	RequestorID  string
	OnlyActive   bool
	NewerThanSec int
	Limit        int
}

// CandidateStore persists derived candidates.
type CandidateStore interface {
	InsertCandidate(ctx context.Context, c candidate.Candidate) error
	GetCandidate(ctx context.Context, address string) (candidate.Candidate, error)
	ListCandidates(ctx context.Context, f CandidateFilter) ([]candidate.Candidate, error)
	ReserveCandidate(ctx context.Context, address, ownerID string) error
	UpdateCandidatePrice(ctx context.Context, address string, price int64) error
}

// RegistryStore resolves factory addresses and public key bases to their
// stable numeric IDs, inserting on first sight. Both lookups must be safe
// under concurrent resolution of the same value.
type RegistryStore interface {
	ResolveFactory(ctx context.Context, address, ownerID string) (registry.FactoryEntry, error)
	ResolvePublicKey(ctx context.Context, hex, ownerID string) (registry.PublicKeyEntry, error)
	ListFactories(ctx context.Context) ([]registry.FactoryEntry, error)
	ListPublicKeys(ctx context.Context) ([]registry.PublicKeyEntry, error)
}

// JobStore persists the mining job ledger. ApplyDelta adds the delta's
// counters onto the stored row in a single statement so concurrent batches
// for one job never lose updates.
type JobStore interface {
	InsertJob(ctx context.Context, j job.Job) error
	GetJob(ctx context.Context, id string) (job.Job, error)
	ListJobs(ctx context.Context, f JobFilter) ([]job.Job, error)
	ApplyDelta(ctx context.Context, id string, d job.Delta) error
	FinishJob(ctx context.Context, id string) error
}

// MinerStore persists miner provenance records.
type MinerStore interface {
	InsertMiner(ctx context.Context, m miner.Miner) error
	GetMiner(ctx context.Context, id string) (miner.Miner, error)
}

// Store is the full persistence surface.
type Store interface {
	CandidateStore
	RegistryStore
	JobStore
	MinerStore
}

// UnitOfWork is a Store scoped to a transaction. Rollback after a successful
// Commit is a no-op.
type UnitOfWork interface {
	Store
	Commit() error
	Rollback() error
}

// TxStore is a Store that can open transactions.
type TxStore interface {
	Store
	Begin(ctx context.Context) (UnitOfWork, error)
}
