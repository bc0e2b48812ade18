package intake

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vglm/addressology/internal/app/domain/candidate"
	"github.com/vglm/addressology/internal/app/domain/job"
	"github.com/vglm/addressology/internal/app/scorer"
	"github.com/vglm/addressology/internal/app/storage"
	"github.com/vglm/addressology/internal/app/storage/memory"
)

// fakeScorer maps salts to canned derivations so tests control scores
// without running the real derivation.
type fakeScorer struct {
	bySalt map[string]scorer.Derived
}

func (f fakeScorer) FromFactory(salt, factory string) (scorer.Derived, error) {
	d, ok := f.bySalt[salt]
	if !ok {
		return scorer.Derived{}, fmt.Errorf("%w: unknown salt", scorer.ErrMalformed)
	}
	d.Factory = strings.ToLower(factory)
	return d, nil
}

func (f fakeScorer) FromPublicKey(salt, publicKey string) (scorer.Derived, error) {
	d, ok := f.bySalt[salt]
	if !ok {
		return scorer.Derived{}, fmt.Errorf("%w: unknown salt", scorer.ErrMalformed)
	}
	d.PublicKeyBase = strings.ToLower(publicKey)
	return d, nil
}

const testFactory = "0x9e3f8eae49250b1b1f1bfd668961fe905c1f3f1b"

func addr(i int) string {
	return fmt.Sprintf("0x%040d", i)
}

func newService(store storage.TxStore, derivations map[string]scorer.Derived) *Service {
	return New(store, fakeScorer{bySalt: derivations}, nil)
}

func setupJob(t *testing.T, store *memory.Store, id string) {
	t.Helper()
	require.NoError(t, store.InsertJob(context.Background(), job.Job{ID: id}))
}

func TestSubmitBatchAggregatesScores(t *testing.T) {
	store := memory.New()
	setupJob(t, store, "job-1")
	svc := newService(store, map[string]scorer.Derived{
		"s1": {Address: addr(1), Score: 2e10, Category: scorer.CategoryLeadingZeroes},
		"s2": {Address: addr(2), Score: 3e10, Category: scorer.CategoryLeadingZeroes},
	})

	summary, err := svc.SubmitBatch(context.Background(), BatchRequest{
		Entries: []Entry{
			{Salt: "s1", Factory: testFactory},
			{Salt: "s2", Factory: testFactory},
		},
		Extra: BatchExtra{JobID: "job-1", ReportedHashes: 1e6, ReportedCost: 0.25},
	})
	require.NoError(t, err)

	assert.Equal(t, 5e10, summary.TotalScore)
	assert.Equal(t, int64(2), summary.EntriesAccepted)
	assert.Equal(t, int64(0), summary.EntriesRejected)

	j, err := store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, 5e10, j.HashesAccepted)
	assert.Equal(t, 1e6, j.HashesReported)
	assert.Equal(t, int64(2), j.EntriesAccepted)
	assert.Equal(t, 0.25, j.CostReported)
}

func TestSubmitBatchDuplicateAcrossBatches(t *testing.T) {
	store := memory.New()
	setupJob(t, store, "job-1")
	svc := newService(store, map[string]scorer.Derived{
		"s1": {Address: addr(1), Score: 2e10},
	})
	ctx := context.Background()

	first, err := svc.SubmitBatch(ctx, BatchRequest{
		Entries: []Entry{{Salt: "s1", Factory: testFactory}},
		Extra:   BatchExtra{JobID: "job-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.EntriesAccepted)

	second, err := svc.SubmitBatch(ctx, BatchRequest{
		Entries: []Entry{{Salt: "s1", Factory: testFactory}},
		Extra:   BatchExtra{JobID: "job-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), second.EntriesAccepted)
	assert.Equal(t, int64(1), second.EntriesRejected)
	assert.Equal(t, 0.0, second.TotalScore)

	got, err := store.ListCandidates(ctx, storage.CandidateFilter{})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSubmitBatchDuplicateWithinBatch(t *testing.T) {
	store := memory.New()
	setupJob(t, store, "job-1")
	svc := newService(store, map[string]scorer.Derived{
		"s1": {Address: addr(1), Score: 2e10},
		"s2": {Address: addr(1), Score: 2e10},
	})

	summary, err := svc.SubmitBatch(context.Background(), BatchRequest{
		Entries: []Entry{
			{Salt: "s1", Factory: testFactory},
			{Salt: "s2", Factory: testFactory},
		},
		Extra: BatchExtra{JobID: "job-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.EntriesAccepted)
	assert.Equal(t, int64(1), summary.EntriesRejected)
	assert.Equal(t, 2e10, summary.TotalScore)
}

func TestSubmitBatchScoreTooLowNotPersisted(t *testing.T) {
	store := memory.New()
	setupJob(t, store, "job-1")
	svc := newService(store, map[string]scorer.Derived{
		"low": {Address: addr(1), Score: 5e9},
	})
	ctx := context.Background()

	summary, err := svc.SubmitBatch(ctx, BatchRequest{
		Entries: []Entry{{Salt: "low", Factory: testFactory}},
		Extra:   BatchExtra{JobID: "job-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), summary.EntriesAccepted)
	assert.Equal(t, int64(1), summary.EntriesRejected)
	assert.Equal(t, int64(0), summary.EntriesParseError)

	_, err = store.GetCandidate(ctx, addr(1))
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// The factory is still registered even though nothing was accepted.
	factories, err := store.ListFactories(ctx)
	require.NoError(t, err)
	assert.Len(t, factories, 1)
}

func TestSubmitBatchParseErrorContinues(t *testing.T) {
	store := memory.New()
	setupJob(t, store, "job-1")
	svc := newService(store, map[string]scorer.Derived{
		"good": {Address: addr(1), Score: 2e10},
	})

	summary, err := svc.SubmitBatch(context.Background(), BatchRequest{
		Entries: []Entry{
			{Salt: "garbage", Factory: testFactory},
			{Salt: "good", Factory: testFactory},
		},
		Extra: BatchExtra{JobID: "job-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.EntriesAccepted)
	assert.Equal(t, int64(1), summary.EntriesParseError)
	assert.Equal(t, int64(1), summary.EntriesRejected)
	assert.Equal(t, 2e10, summary.TotalScore)
}

func TestSubmitBatchClaimedAddressMismatch(t *testing.T) {
	store := memory.New()
	setupJob(t, store, "job-1")
	svc := newService(store, map[string]scorer.Derived{
		"s1": {Address: addr(1), Score: 2e10},
	})
	ctx := context.Background()

	// A claim differing only in case matches.
	summary, err := svc.SubmitBatch(ctx, BatchRequest{
		Entries: []Entry{{Salt: "s1", Factory: testFactory, Address: strings.ToUpper(addr(1))}},
		Extra:   BatchExtra{JobID: "job-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.EntriesAccepted)

	store = memory.New()
	setupJob(t, store, "job-1")
	svc = newService(store, map[string]scorer.Derived{
		"s1": {Address: addr(1), Score: 2e10},
	})
	summary, err = svc.SubmitBatch(ctx, BatchRequest{
		Entries: []Entry{{Salt: "s1", Factory: testFactory, Address: addr(2)}},
		Extra:   BatchExtra{JobID: "job-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), summary.EntriesAccepted)
	assert.Equal(t, int64(1), summary.EntriesParseError)

	_, err = store.GetCandidate(ctx, addr(1))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSubmitBatchUnknownJob(t *testing.T) {
	store := memory.New()
	svc := newService(store, map[string]scorer.Derived{
		"s1": {Address: addr(1), Score: 2e10},
	})
	ctx := context.Background()

	_, err := svc.SubmitBatch(ctx, BatchRequest{
		Entries: []Entry{{Salt: "s1", Factory: testFactory}},
		Extra:   BatchExtra{JobID: "nope"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// The rollback covers the candidate insert too.
	_, err = store.GetCandidate(ctx, addr(1))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSubmitBatchFinishedJobRejected(t *testing.T) {
	store := memory.New()
	setupJob(t, store, "job-1")
	require.NoError(t, store.FinishJob(context.Background(), "job-1"))

	svc := newService(store, map[string]scorer.Derived{
		"s1": {Address: addr(1), Score: 2e10},
	})
	_, err := svc.SubmitBatch(context.Background(), BatchRequest{
		Entries: []Entry{{Salt: "s1", Factory: testFactory}},
		Extra:   BatchExtra{JobID: "job-1"},
	})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

// failingStore injects a storage failure on a chosen address to prove the
// batch rolls back as a unit.
type failingStore struct {
	*memory.Store
	failAddr string
}

type failingUow struct {
	storage.UnitOfWork
	failAddr string
}

func (f *failingStore) Begin(ctx context.Context) (storage.UnitOfWork, error) {
	uow, err := f.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &failingUow{UnitOfWork: uow, failAddr: f.failAddr}, nil
}

func (u *failingUow) InsertCandidate(ctx context.Context, c candidate.Candidate) error {
	if strings.EqualFold(c.Address, u.failAddr) {
		return errors.New("connection reset")
	}
	return u.UnitOfWork.InsertCandidate(ctx, c)
}

func TestSubmitBatchStorageFailureAbortsAtomically(t *testing.T) {
	inner := memory.New()
	setupJob(t, inner, "job-1")
	store := &failingStore{Store: inner, failAddr: addr(2)}

	svc := newService(store, map[string]scorer.Derived{
		"s1": {Address: addr(1), Score: 2e10},
		"s2": {Address: addr(2), Score: 3e10},
	})
	_, err := svc.SubmitBatch(context.Background(), BatchRequest{
		Entries: []Entry{
			{Salt: "s1", Factory: testFactory},
			{Salt: "s2", Factory: testFactory},
		},
		Extra: BatchExtra{JobID: "job-1"},
	})
	require.Error(t, err)

	ctx := context.Background()
	_, err = inner.GetCandidate(ctx, addr(1))
	assert.ErrorIs(t, err, storage.ErrNotFound, "first entry must roll back with the batch")

	j, err := inner.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), j.EntriesAccepted)
}

func TestSubmitBatchConcurrentSameFactory(t *testing.T) {
	store := memory.New()
	setupJob(t, store, "job-1")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			svc := newService(store, map[string]scorer.Derived{
				"s": {Address: addr(100 + i), Score: 2e10},
			})
			_, err := svc.SubmitBatch(context.Background(), BatchRequest{
				Entries: []Entry{{Salt: "s", Factory: testFactory}},
				Extra:   BatchExtra{JobID: "job-1"},
			})
			if err != nil {
				t.Errorf("batch %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	factories, err := store.ListFactories(context.Background())
	require.NoError(t, err)
	assert.Len(t, factories, 1, "concurrent resolution must converge on one row")
}

func TestSubmitBatchEmpty(t *testing.T) {
	store := memory.New()
	setupJob(t, store, "job-1")
	svc := newService(store, nil)

	summary, err := svc.SubmitBatch(context.Background(), BatchRequest{
		Extra: BatchExtra{JobID: "job-1", ReportedHashes: 5e5},
	})
	require.NoError(t, err)
	assert.Equal(t, BatchSummary{}, summary)

	// The ledger still records the reported figures.
	j, err := store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, 5e5, j.HashesReported)
}

func TestSubmitBatchMissingJobID(t *testing.T) {
	store := memory.New()
	svc := newService(store, map[string]scorer.Derived{
		"s1": {Address: addr(1), Score: 2e10},
	})
	ctx := context.Background()

	_, err := svc.SubmitBatch(ctx, BatchRequest{
		Entries: []Entry{{Salt: "s1", Factory: testFactory}},
	})
	assert.ErrorIs(t, err, ErrValidation)

	// Nothing was processed, the entry included.
	got, err := store.ListCandidates(ctx, storage.CandidateFilter{})
	require.NoError(t, err)
	assert.Empty(t, got)
}
