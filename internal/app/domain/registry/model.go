// Package registry holds the auxiliary dimensions candidates are derived
// from. Rows are created lazily on first reference and never deleted.
package registry

import "time"

// FactoryEntry records a contract factory address seen in submissions.
type FactoryEntry struct {
	ID      string
	Address string // 0x-prefixed lowercase hex, unique
	AddedAt time.Time
	OwnerID string
}

// PublicKeyEntry records a public key base used for private mining.
type PublicKeyEntry struct {
	ID      string
	Hex     string // 0x-prefixed lowercase hex of the 64-byte key, unique
	AddedAt time.Time
	OwnerID string
}
