// Package postgres implements the storage interfaces on PostgreSQL. All
// queries are parameterized; filters are assembled from fixed fragments and
// bind arguments, never from caller-supplied SQL text.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/vglm/addressology/internal/app/domain/candidate"
	"github.com/vglm/addressology/internal/app/domain/job"
	"github.com/vglm/addressology/internal/app/domain/miner"
	"github.com/vglm/addressology/internal/app/domain/registry"
	"github.com/vglm/addressology/internal/app/storage"
	"github.com/vglm/addressology/pkg/logger"
)

// Store implements the storage interfaces backed by PostgreSQL. A Store is
// either pool-backed or bound to a transaction; Begin returns the latter.
type Store struct {
	exec executor
	db   *sql.DB
}

var _ storage.TxStore = (*Store)(nil)
var _ storage.UnitOfWork = (*Store)(nil)

// New creates a pool-backed Store using the provided database handle.
func New(db *sql.DB, log *logger.Logger) *Store {
	if log == nil {
		log = logger.NewDefault("postgres")
	}
	return &Store{exec: executor{q: db, log: log}, db: db}
}

// Begin opens a transaction and returns a Store bound to it.
func (s *Store) Begin(ctx context.Context) (storage.UnitOfWork, error) {
	if s.db == nil {
		return nil, errors.New("store is already transaction-bound")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &Store{exec: executor{q: tx, tx: tx, log: s.exec.log}}, nil
}

// Commit finishes the transaction. On a pool-backed Store it logs a warning
// and succeeds.
func (s *Store) Commit() error { return s.exec.commit() }

// Rollback aborts the transaction. On a pool-backed Store it logs a warning
// and succeeds.
func (s *Store) Rollback() error { return s.exec.rollback() }

// --- CandidateStore ---------------------------------------------------------

const candidateColumns = `address, salt, factory, public_key_base, created_at, score, category, price, job_id, owner_id`

func (s *Store) InsertCandidate(ctx context.Context, c candidate.Candidate) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	// DO NOTHING keeps a duplicate from aborting the surrounding batch
	// transaction, which a raw unique violation would.
	res, err := s.exec.q.ExecContext(ctx, `
		INSERT INTO candidates (`+candidateColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (address) DO NOTHING
	`, strings.ToLower(c.Address), c.Salt, toNullString(c.Factory), toNullString(c.PublicKeyBase),
		c.CreatedAt, c.Score, c.Category, c.Price, toNullString(c.JobID), toNullString(c.OwnerID))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrConflict
	}
	return nil
}

func (s *Store) GetCandidate(ctx context.Context, address string) (candidate.Candidate, error) {
	row := s.exec.q.QueryRowContext(ctx, `
		SELECT `+candidateColumns+`
		FROM candidates
		WHERE address = $1
	`, strings.ToLower(address))
	return scanCandidate(row)
}

func (s *Store) ListCandidates(ctx context.Context, f storage.CandidateFilter) ([]candidate.Candidate, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.Category != "" {
		where = append(where, "category = "+arg(f.Category))
	}
	if f.Free {
		where = append(where, "owner_id IS NULL")
	}
	if f.OwnerID != "" {
		where = append(where, "owner_id = "+arg(f.OwnerID))
	}
	if f.MinScore > 0 {
		where = append(where, "score >= "+arg(f.MinScore))
	}
	if f.SinceHours > 0 {
		where = append(where, "created_at > now() - make_interval(hours => "+arg(f.SinceHours)+")")
	}
	if f.PublicKeyID != "" {
		where = append(where, "public_key_base = "+arg(f.PublicKeyID))
	}

	query := "SELECT " + candidateColumns + " FROM candidates"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY " + candidateOrder(f.OrderBy)
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}

	rows, err := s.exec.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []candidate.Candidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// candidateOrder maps a filter sort key to a fixed ORDER BY clause. Unknown
// keys fall back to score so no caller input ever reaches the SQL text.
func candidateOrder(key string) string {
	switch key {
	case "created":
		return "created_at DESC"
	case "price":
		return "price DESC"
	default:
		return "score DESC"
	}
}

func (s *Store) ReserveCandidate(ctx context.Context, address, ownerID string) error {
	res, err := s.exec.q.ExecContext(ctx, `
		UPDATE candidates
		SET owner_id = $2
		WHERE address = $1 AND owner_id IS NULL
	`, strings.ToLower(address), ownerID)
	if err != nil {
		return err
	}
	return requireRow(res, storage.ErrConflict)
}

func (s *Store) UpdateCandidatePrice(ctx context.Context, address string, price int64) error {
	res, err := s.exec.q.ExecContext(ctx, `
		UPDATE candidates
		SET price = $2
		WHERE address = $1
	`, strings.ToLower(address), price)
	if err != nil {
		return err
	}
	return requireRow(res, storage.ErrNotFound)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCandidate(row rowScanner) (candidate.Candidate, error) {
	var (
		c       candidate.Candidate
		factory sql.NullString
		pubKey  sql.NullString
		jobID   sql.NullString
		ownerID sql.NullString
	)
	err := row.Scan(&c.Address, &c.Salt, &factory, &pubKey, &c.CreatedAt,
		&c.Score, &c.Category, &c.Price, &jobID, &ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return candidate.Candidate{}, storage.ErrNotFound
	}
	if err != nil {
		return candidate.Candidate{}, err
	}
	c.Factory = factory.String
	c.PublicKeyBase = pubKey.String
	c.JobID = jobID.String
	c.OwnerID = ownerID.String
	return c, nil
}

// --- RegistryStore ----------------------------------------------------------

// ResolveFactory returns the registry row for a factory address, inserting it
// on first sight. The upsert makes concurrent resolution of the same address
// converge on one row.
func (s *Store) ResolveFactory(ctx context.Context, address, ownerID string) (registry.FactoryEntry, error) {
	entry := registry.FactoryEntry{
		ID:      uuid.NewString(),
		Address: strings.ToLower(address),
		AddedAt: time.Now().UTC(),
		OwnerID: ownerID,
	}
	var owner sql.NullString
	err := s.exec.q.QueryRowContext(ctx, `
		INSERT INTO factories (id, address, added_at, owner_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (address) DO UPDATE SET address = EXCLUDED.address
		RETURNING id, address, added_at, owner_id
	`, entry.ID, entry.Address, entry.AddedAt, toNullString(ownerID)).
		Scan(&entry.ID, &entry.Address, &entry.AddedAt, &owner)
	if err != nil {
		return registry.FactoryEntry{}, err
	}
	entry.OwnerID = owner.String
	return entry, nil
}

// ResolvePublicKey is ResolveFactory for public key bases.
func (s *Store) ResolvePublicKey(ctx context.Context, hexKey, ownerID string) (registry.PublicKeyEntry, error) {
	entry := registry.PublicKeyEntry{
		ID:      uuid.NewString(),
		Hex:     strings.ToLower(hexKey),
		AddedAt: time.Now().UTC(),
		OwnerID: ownerID,
	}
	var owner sql.NullString
	err := s.exec.q.QueryRowContext(ctx, `
		INSERT INTO public_key_bases (id, hex, added_at, owner_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (hex) DO UPDATE SET hex = EXCLUDED.hex
		RETURNING id, hex, added_at, owner_id
	`, entry.ID, entry.Hex, entry.AddedAt, toNullString(ownerID)).
		Scan(&entry.ID, &entry.Hex, &entry.AddedAt, &owner)
	if err != nil {
		return registry.PublicKeyEntry{}, err
	}
	entry.OwnerID = owner.String
	return entry, nil
}

func (s *Store) ListFactories(ctx context.Context) ([]registry.FactoryEntry, error) {
	rows, err := s.exec.q.QueryContext(ctx, `
		SELECT id, address, added_at, owner_id
		FROM factories
		ORDER BY added_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []registry.FactoryEntry
	for rows.Next() {
		var (
			e     registry.FactoryEntry
			owner sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Address, &e.AddedAt, &owner); err != nil {
			return nil, err
		}
		e.OwnerID = owner.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) ListPublicKeys(ctx context.Context) ([]registry.PublicKeyEntry, error) {
	rows, err := s.exec.q.QueryContext(ctx, `
		SELECT id, hex, added_at, owner_id
		FROM public_key_bases
		ORDER BY added_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []registry.PublicKeyEntry
	for rows.Next() {
		var (
			e     registry.PublicKeyEntry
			owner sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Hex, &e.AddedAt, &owner); err != nil {
			return nil, err
		}
		e.OwnerID = owner.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- JobStore ---------------------------------------------------------------

const jobColumns = `id, cruncher_ver, started_at, updated_at, finished_at, requestor_id,
		hashes_accepted, hashes_reported, entries_accepted, entries_rejected,
		cost_reported, miner_id, extra_info`

func (s *Store) InsertJob(ctx context.Context, j job.Job) error {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if j.StartedAt.IsZero() {
		j.StartedAt = now
	}
	if j.UpdatedAt.IsZero() {
		j.UpdatedAt = now
	}
	_, err := s.exec.q.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, j.ID, j.CruncherVer, j.StartedAt, j.UpdatedAt, toNullTime(j.FinishedAt),
		toNullString(j.RequestorID), j.HashesAccepted, j.HashesReported,
		j.EntriesAccepted, j.EntriesRejected, j.CostReported,
		toNullString(j.MinerID), toNullString(j.ExtraInfo))
	if isUniqueViolation(err) {
		return storage.ErrConflict
	}
	return err
}

func (s *Store) GetJob(ctx context.Context, id string) (job.Job, error) {
	row := s.exec.q.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE id = $1
	`, id)
	return scanJob(row)
}

func (s *Store) ListJobs(ctx context.Context, f storage.JobFilter) ([]job.Job, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.RequestorID != "" {
		where = append(where, "requestor_id = "+arg(f.RequestorID))
	}
	if f.OnlyActive {
		where = append(where, "finished_at IS NULL")
	}
	if f.NewerThanSec > 0 {
		where = append(where, "updated_at > now() - make_interval(secs => "+arg(f.NewerThanSec)+")")
	}

	query := "SELECT " + jobColumns + " FROM jobs"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}

	rows, err := s.exec.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// ApplyDelta folds one batch into the ledger. Accepted totals accumulate,
// reported figures take the latest claim, all in one statement so concurrent
// batches for the same job cannot lose updates.
func (s *Store) ApplyDelta(ctx context.Context, id string, d job.Delta) error {
	res, err := s.exec.q.ExecContext(ctx, `
		UPDATE jobs
		SET hashes_accepted  = hashes_accepted + $2,
		    hashes_reported  = $3,
		    entries_accepted = entries_accepted + $4,
		    entries_rejected = entries_rejected + $5,
		    cost_reported    = $6,
		    updated_at       = now()
		WHERE id = $1 AND finished_at IS NULL
	`, id, d.ScoreDelta, d.ReportedHashes, d.Accepted, d.Rejected, d.ReportedCost)
	if err != nil {
		return err
	}
	return requireRow(res, storage.ErrNotFound)
}

func (s *Store) FinishJob(ctx context.Context, id string) error {
	res, err := s.exec.q.ExecContext(ctx, `
		UPDATE jobs
		SET finished_at = now(), updated_at = now()
		WHERE id = $1 AND finished_at IS NULL
	`, id)
	if err != nil {
		return err
	}
	return requireRow(res, storage.ErrNotFound)
}

func scanJob(row rowScanner) (job.Job, error) {
	var (
		j         job.Job
		finished  sql.NullTime
		requestor sql.NullString
		minerID   sql.NullString
		extra     sql.NullString
	)
	err := row.Scan(&j.ID, &j.CruncherVer, &j.StartedAt, &j.UpdatedAt, &finished,
		&requestor, &j.HashesAccepted, &j.HashesReported,
		&j.EntriesAccepted, &j.EntriesRejected, &j.CostReported, &minerID, &extra)
	if errors.Is(err, sql.ErrNoRows) {
		return job.Job{}, storage.ErrNotFound
	}
	if err != nil {
		return job.Job{}, err
	}
	if finished.Valid {
		j.FinishedAt = finished.Time
	}
	j.RequestorID = requestor.String
	j.MinerID = minerID.String
	j.ExtraInfo = extra.String
	return j, nil
}

// --- MinerStore -------------------------------------------------------------

func (s *Store) InsertMiner(ctx context.Context, m miner.Miner) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	_, err := s.exec.q.ExecContext(ctx, `
		INSERT INTO miners (id, name, node_id, reward_addr, extra_info)
		VALUES ($1, $2, $3, $4, $5)
	`, m.ID, m.Name, toNullString(m.NodeID), toNullString(m.RewardAddr), toNullString(m.ExtraInfo))
	if isUniqueViolation(err) {
		return storage.ErrConflict
	}
	return err
}

func (s *Store) GetMiner(ctx context.Context, id string) (miner.Miner, error) {
	var (
		m      miner.Miner
		nodeID sql.NullString
		reward sql.NullString
		extra  sql.NullString
	)
	err := s.exec.q.QueryRowContext(ctx, `
		SELECT id, name, node_id, reward_addr, extra_info
		FROM miners
		WHERE id = $1
	`, id).Scan(&m.ID, &m.Name, &nodeID, &reward, &extra)
	if errors.Is(err, sql.ErrNoRows) {
		return miner.Miner{}, storage.ErrNotFound
	}
	if err != nil {
		return miner.Miner{}, err
	}
	m.NodeID = nodeID.String
	m.RewardAddr = reward.String
	m.ExtraInfo = extra.String
	return m, nil
}

// --- helpers ----------------------------------------------------------------

func toNullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func toNullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func requireRow(res sql.Result, missing error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return missing
	}
	return nil
}
