package miner

// Miner describes the provider that ran a mining job. Purely provenance;
// jobs reference miners but never depend on them for correctness.
type Miner struct {
	ID         string
	Name       string
	NodeID     string
	RewardAddr string
	ExtraInfo  string
}
