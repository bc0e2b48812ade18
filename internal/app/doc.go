// Package app composes the candidate pool services into a running
// application.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring, and lifecycle
//	├── domain/             # Domain models (pure data structures)
//	│   ├── candidate/      # Accepted mined addresses
//	│   ├── job/            # Mining job ledger rows
//	│   ├── registry/       # Factory and public key base dimensions
//	│   └── miner/          # Miner provenance
//	├── scorer/             # Address derivation and difficulty rating
//	├── services/           # Business logic
//	│   ├── intake/         # Batch submission pipeline
//	│   ├── jobs/           # Job lifecycle and stale-job reaper
//	│   └── candidates/     # Pool browsing, reservation, repricing
//	├── storage/            # Storage interfaces and implementations
//	│   ├── interfaces.go   # Store interfaces and filters
//	│   ├── memory/         # In-memory implementation for tests
//	│   └── postgres/       # PostgreSQL implementation for production
//	├── httpapi/            # HTTP handlers and routing
//	├── system/             # Lifecycle management
//	└── metrics/            # Prometheus collectors
//
// Domain models carry no behaviour beyond trivial accessors; services own
// the business rules and depend on the storage interfaces, never on a
// concrete implementation. The intake pipeline is the only writer of job
// ledger counters and the only producer of candidates.
package app
