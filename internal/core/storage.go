package core

import (
	"fmt"

	"taxledger/internal/infra/persistence/memory"
	"taxledger/internal/infra/persistence/postgres"
	"taxledger/internal/infra/persistence/sqlite"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// OpenPersistentStore selects a backend from the configuration. All backends
// share the in-memory transaction semantics; sqlite and postgres add durable
// snapshots.
func OpenPersistentStore(cfg Config, engine *RulesEngine) (PersistentStore, error) {
	opts := []memory.Option{memory.WithMaxCapFactor(cfg.CapFactor)}
	switch StorageDriver(cfg.StorageDriver) {
	case StorageMemory:
		return memory.NewStore(engine, opts...), nil
	case StorageSQLite:
		return sqlite.NewStore(cfg.SQLitePath, engine, opts...)
	case StoragePostgres:
		return postgres.NewStore(cfg.PostgresDSN, engine, opts...)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", cfg.StorageDriver)
	}
}
