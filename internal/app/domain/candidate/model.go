package candidate

import "time"

// Candidate is an accepted mined address. The address is the global identity;
// a second insert for the same address is a conflict, never an overwrite.
type Candidate struct {
	Address       string // 0x-prefixed lowercase hex, unique
	Salt          string
	Factory       string // factory address the salt was mined against, if any
	PublicKeyBase string // normalized public key base for private mining, if any
	CreatedAt     time.Time
	Score         float64
	Category      string
	Price         int64
	JobID         string // empty when submitted outside a job
	OwnerID       string // empty until reserved
}

// Reserved reports whether the candidate has been claimed by a user.
func (c Candidate) Reserved() bool { return c.OwnerID != "" }
