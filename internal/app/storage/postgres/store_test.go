package postgres

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	_ "github.com/lib/pq"

	"github.com/vglm/addressology/internal/app/domain/candidate"
	"github.com/vglm/addressology/internal/app/domain/job"
	"github.com/vglm/addressology/internal/app/storage"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db, nil), mock
}

func TestInsertCandidateDuplicate(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO candidates").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.InsertCandidate(context.Background(), candidate.Candidate{
		Address: "0x00000000e5562fd1c62ad0f2a1e78b4d0ab0fb5d",
		Salt:    "0x01",
	})
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

// A duplicate inside a transaction must not poison it. The insert resolves
// via ON CONFLICT DO NOTHING, so later statements on the same transaction
// still run and the transaction commits.
func TestInsertCandidateDuplicateKeepsTransactionUsable(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO candidates").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`UPDATE jobs`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	uow, err := store.Begin(context.Background())
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	err = uow.InsertCandidate(context.Background(), candidate.Candidate{
		Address: "0x00000000e5562fd1c62ad0f2a1e78b4d0ab0fb5d",
		Salt:    "0x01",
	})
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := uow.ApplyDelta(context.Background(), "job-1", job.Delta{Rejected: 1}); err != nil {
		t.Fatalf("apply delta after duplicate: %v", err)
	}
	if err := uow.Commit(); err != nil {
		t.Fatalf("commit after duplicate: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestApplyDeltaSingleStatement(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE jobs`).
		WithArgs("job-1", 2e10, 1e6, int64(3), int64(1), 0.5).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.ApplyDelta(context.Background(), "job-1", job.Delta{
		ScoreDelta:     2e10,
		ReportedHashes: 1e6,
		Accepted:       3,
		Rejected:       1,
		ReportedCost:   0.5,
	})
	if err != nil {
		t.Fatalf("apply delta: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestApplyDeltaFinishedJob(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE jobs`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.ApplyDelta(context.Background(), "job-1", job.Delta{Accepted: 1})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for closed job, got %v", err)
	}
}

func TestResolveFactoryUpsert(t *testing.T) {
	store, mock := newMockStore(t)

	added, _ := time.Parse(time.RFC3339, "2025-01-02T03:04:05Z")
	rows := sqlmock.NewRows([]string{"id", "address", "added_at", "owner_id"}).
		AddRow("existing-id", "0x9e3f8eae49250b1b1f1bfd668961fe905c1f3f1b", added, nil)

	mock.ExpectQuery(`INSERT INTO factories`).
		WillReturnRows(rows)

	entry, err := store.ResolveFactory(context.Background(), "0x9E3F8eaE49250b1b1f1BFD668961FE905C1F3F1b", "")
	if err != nil {
		t.Fatalf("resolve factory: %v", err)
	}
	if entry.ID != "existing-id" {
		t.Fatalf("expected the stored row to win, got id %q", entry.ID)
	}
}

func TestReserveCandidateAlreadyOwned(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE candidates`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.ReserveCandidate(context.Background(), "0xabc0000000000000000000000000000000000000", "user-1")
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestListCandidatesOrderWhitelist(t *testing.T) {
	for key, want := range map[string]string{
		"":        "score DESC",
		"created": "created_at DESC",
		"price":   "price DESC",
		"; DROP":  "score DESC",
	} {
		if got := candidateOrder(key); got != want {
			t.Errorf("candidateOrder(%q) = %q, want %q", key, got, want)
		}
	}
}

func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	store := New(db, nil)
	ctx := context.Background()

	j := job.Job{ID: "itest-job", CruncherVer: "0.1.0"}
	if err := store.InsertJob(ctx, j); err != nil && !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("insert job: %v", err)
	}

	if err := store.ApplyDelta(ctx, j.ID, job.Delta{ScoreDelta: 1e10, Accepted: 1}); err != nil {
		t.Fatalf("apply delta: %v", err)
	}

	got, err := store.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.EntriesAccepted < 1 {
		t.Fatalf("expected accepted entries to accumulate, got %d", got.EntriesAccepted)
	}
}
