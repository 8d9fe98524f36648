package core

import (
	"fmt"

	"github.com/caarlos0/env/v11"

	"taxledger/internal/infra/persistence/memory"
)

// Config carries the runtime configuration of the ledger service, populated
// from TAXLEDGER_* environment variables.
type Config struct {
	// StorageDriver selects the persistence backend: memory, sqlite, or
	// postgres.
	StorageDriver string `env:"TAXLEDGER_STORAGE_DRIVER" envDefault:"sqlite"`
	// SQLitePath is the database file used by the sqlite driver.
	SQLitePath string `env:"TAXLEDGER_SQLITE_PATH" envDefault:"taxledger.db"`
	// PostgresDSN is the connection string used by the postgres driver.
	PostgresDSN string `env:"TAXLEDGER_POSTGRES_DSN"`
	// CapFactor is the annual assessed-value growth cap applied to roll
	// assessments. It must not exceed the regulatory maximum.
	CapFactor float64 `env:"TAXLEDGER_CAP_FACTOR" envDefault:"1.02"`
	// BillGraceDays is the number of days between a bill's issue date and
	// its due date.
	BillGraceDays int `env:"TAXLEDGER_BILL_GRACE_DAYS" envDefault:"30"`
}

// LoadConfig reads configuration from the environment and validates it.
func LoadConfig() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration invariants.
func (c Config) Validate() error {
	switch StorageDriver(c.StorageDriver) {
	case StorageMemory, StorageSQLite, StoragePostgres:
	default:
		return fmt.Errorf("unknown storage driver %q", c.StorageDriver)
	}
	if c.CapFactor < 1 {
		return fmt.Errorf("cap factor %.4f would shrink assessed values", c.CapFactor)
	}
	if c.CapFactor > memory.RegulatoryCapFactor {
		return fmt.Errorf("cap factor %.4f exceeds the regulatory maximum %.2f", c.CapFactor, memory.RegulatoryCapFactor)
	}
	if c.BillGraceDays <= 0 {
		return fmt.Errorf("bill grace days must be positive, got %d", c.BillGraceDays)
	}
	return nil
}

// DefaultConfig returns the built-in defaults without consulting the
// environment.
func DefaultConfig() Config {
	return Config{
		StorageDriver: string(StorageSQLite),
		SQLitePath:    "taxledger.db",
		CapFactor:     memory.RegulatoryCapFactor,
		BillGraceDays: 30,
	}
}
