package job

import "time"

// Job is the per-mining-job ledger row. Accepted totals only ever grow;
// reported totals are overwritten with the miner's latest claim.
type Job struct {
	ID              string
	CruncherVer     string
	StartedAt       time.Time
	UpdatedAt       time.Time
	FinishedAt      time.Time // zero until the job is closed
	RequestorID     string
	HashesAccepted  float64
	HashesReported  float64
	EntriesAccepted int64
	EntriesRejected int64
	CostReported    float64
	MinerID         string
	ExtraInfo       string
}

// Finished reports whether the job has been closed.
func (j Job) Finished() bool { return !j.FinishedAt.IsZero() }

// Delta is one batch's contribution to the ledger. Score and entry counts
// are added to the running totals; reported hashes and cost replace the
// previous claim.
type Delta struct {
	ScoreDelta     float64
	ReportedHashes float64
	Accepted       int64
	Rejected       int64
	ReportedCost   float64
}
