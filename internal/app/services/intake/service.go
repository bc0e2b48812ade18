// Package intake processes batches of mined salts: derivation, scoring,
// deduplication and the job ledger update happen inside one transaction per
// batch. Individual entries fail independently; only infrastructure errors
// abort the batch.
package intake

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/vglm/addressology/internal/app/domain/candidate"
	"github.com/vglm/addressology/internal/app/domain/job"
	"github.com/vglm/addressology/internal/app/metrics"
	"github.com/vglm/addressology/internal/app/scorer"
	"github.com/vglm/addressology/internal/app/storage"
	"github.com/vglm/addressology/pkg/logger"
)

// AcceptanceThreshold is the minimum difficulty score a candidate must reach
// to enter the pool. 16^9 (nine leading zeroes) clears it, 16^8 does not.
const AcceptanceThreshold = 1e10

// ErrValidation marks a batch rejected before any entry is processed.
var ErrValidation = errors.New("invalid batch")

// publicKeyHexLen is the hex length of a 64-byte public key base, without
// the 0x prefix. Shorter factory values take the contract-factory path.
const publicKeyHexLen = 128

// Entry is one submitted salt with the miner's claims about it.
type Entry struct {
	Salt    string `json:"salt"`
	Factory string `json:"factory"`
	Address string `json:"address,omitempty"`
}

// BatchExtra carries the miner's self-reported job figures.
type BatchExtra struct {
	JobID          string  `json:"jobId,omitempty"`
	ReportedHashes float64 `json:"reportedHashes,omitempty"`
	ReportedCost   float64 `json:"reportedCost,omitempty"`
}

// BatchRequest is a full batch submission.
type BatchRequest struct {
	Entries []Entry    `json:"data"`
	Extra   BatchExtra `json:"extra"`
	OwnerID string     `json:"-"`
}

// BatchSummary aggregates the per-entry outcomes of one batch.
type BatchSummary struct {
	TotalScore        float64 `json:"totalScore"`
	EntriesAccepted   int64   `json:"entriesAccepted"`
	EntriesRejected   int64   `json:"entriesRejected"`
	EntriesParseError int64   `json:"entriesParseError"`
}

// Service is the batch intake coordinator.
type Service struct {
	store  storage.TxStore
	scorer scorer.Scorer
	log    *logger.Logger

	// Miners with broken submitters can flood the log with parse errors;
	// warnings are throttled.
	parseWarn *rate.Limiter
}

// New creates an intake service.
func New(store storage.TxStore, sc scorer.Scorer, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("intake")
	}
	return &Service{
		store:     store,
		scorer:    sc,
		log:       log,
		parseWarn: rate.NewLimiter(rate.Every(10*time.Second), 5),
	}
}

// SubmitBatch processes all entries of a batch in one transaction. A
// malformed or low-scoring entry is counted and skipped; a storage failure
// rolls the whole batch back, including the ledger update. A batch without a
// job id is rejected with ErrValidation; an unknown or finished job is an
// error.
func (s *Service) SubmitBatch(ctx context.Context, req BatchRequest) (BatchSummary, error) {
	start := time.Now()

	// Every batch settles against a job ledger; accepting work with no job
	// would leave it unaccounted.
	if req.Extra.JobID == "" {
		return BatchSummary{}, fmt.Errorf("%w: missing jobId", ErrValidation)
	}

	uow, err := s.store.Begin(ctx)
	if err != nil {
		return BatchSummary{}, fmt.Errorf("begin batch: %w", err)
	}
	defer uow.Rollback()

	var summary BatchSummary
	for _, entry := range req.Entries {
		outcome, err := s.processEntry(ctx, uow, entry, req)
		if err != nil {
			return BatchSummary{}, fmt.Errorf("process entry: %w", err)
		}
		metrics.RecordEntry(outcome.Kind.String())
		switch outcome.Kind {
		case OutcomeAccepted:
			summary.EntriesAccepted++
			summary.TotalScore += outcome.Score
		case OutcomeParseError:
			summary.EntriesParseError++
			summary.EntriesRejected++
		default:
			summary.EntriesRejected++
		}
	}

	delta := job.Delta{
		ScoreDelta:     summary.TotalScore,
		ReportedHashes: req.Extra.ReportedHashes,
		Accepted:       summary.EntriesAccepted,
		Rejected:       summary.EntriesRejected,
		ReportedCost:   req.Extra.ReportedCost,
	}
	if err := uow.ApplyDelta(ctx, req.Extra.JobID, delta); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return BatchSummary{}, fmt.Errorf("job %s is unknown or finished: %w", req.Extra.JobID, err)
		}
		return BatchSummary{}, fmt.Errorf("update job ledger: %w", err)
	}

	if err := uow.Commit(); err != nil {
		return BatchSummary{}, fmt.Errorf("commit batch: %w", err)
	}

	metrics.RecordBatch(time.Since(start), summary.TotalScore)
	s.log.WithField("accepted", summary.EntriesAccepted).
		WithField("rejected", summary.EntriesRejected).
		Debugf("batch processed")
	return summary, nil
}

// processEntry runs one entry through the pipeline. A non-nil error is
// fatal to the batch; entry-level failures come back as outcomes.
func (s *Service) processEntry(ctx context.Context, uow storage.UnitOfWork, entry Entry, req BatchRequest) (Outcome, error) {
	derived, err := s.derive(entry)
	if err != nil {
		if !errors.Is(err, scorer.ErrMalformed) {
			return Outcome{}, err
		}
		if s.parseWarn.Allow() {
			s.log.WithError(err).Warnf("rejecting unparseable entry")
		}
		return Outcome{Kind: OutcomeParseError}, nil
	}

	// Register the dimension before the score check so the factory or key
	// base is known even when every entry in the batch scores too low.
	if derived.Factory != "" {
		if _, err := uow.ResolveFactory(ctx, derived.Factory, req.OwnerID); err != nil {
			return Outcome{}, fmt.Errorf("resolve factory %s: %w", derived.Factory, err)
		}
	}
	if derived.PublicKeyBase != "" {
		if _, err := uow.ResolvePublicKey(ctx, derived.PublicKeyBase, req.OwnerID); err != nil {
			return Outcome{}, fmt.Errorf("resolve public key base: %w", err)
		}
	}

	if derived.Score < AcceptanceThreshold {
		return Outcome{Kind: OutcomeScoreTooLow, Address: derived.Address, Score: derived.Score}, nil
	}

	if entry.Address != "" && !strings.EqualFold(entry.Address, derived.Address) {
		if s.parseWarn.Allow() {
			s.log.WithField("claimed", entry.Address).
				WithField("derived", derived.Address).
				Warnf("claimed address does not match derivation")
		}
		return Outcome{Kind: OutcomeParseError}, nil
	}

	c := candidate.Candidate{
		Address:       derived.Address,
		Salt:          entry.Salt,
		Factory:       derived.Factory,
		PublicKeyBase: derived.PublicKeyBase,
		CreatedAt:     time.Now().UTC(),
		Score:         derived.Score,
		Category:      derived.Category,
		Price:         derived.Price,
		JobID:         req.Extra.JobID,
	}
	if err := uow.InsertCandidate(ctx, c); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return Outcome{Kind: OutcomeDuplicate, Address: derived.Address, Score: derived.Score}, nil
		}
		return Outcome{}, fmt.Errorf("insert candidate %s: %w", derived.Address, err)
	}
	return Outcome{Kind: OutcomeAccepted, Address: derived.Address, Score: derived.Score}, nil
}

// derive picks the derivation path from the shape of the factory field: a
// 64-byte hex value is a public key base, anything else is treated as a
// contract factory address.
func (s *Service) derive(entry Entry) (scorer.Derived, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(entry.Factory), "0x")
	if len(raw) == publicKeyHexLen {
		return s.scorer.FromPublicKey(entry.Salt, entry.Factory)
	}
	return s.scorer.FromFactory(entry.Salt, entry.Factory)
}
