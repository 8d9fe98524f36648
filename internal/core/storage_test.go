package core_test

import (
	"path/filepath"
	"testing"

	"taxledger/internal/core"
)

func TestOpenPersistentStoreSelectsBackend(t *testing.T) {
	cfg := core.DefaultConfig()

	cfg.StorageDriver = string(core.StorageMemory)
	store, err := core.OpenPersistentStore(cfg, core.DefaultRulesEngine())
	if err != nil || store == nil {
		t.Fatalf("open memory: %v", err)
	}

	cfg.StorageDriver = string(core.StorageSQLite)
	cfg.SQLitePath = filepath.Join(t.TempDir(), "ledger.db")
	store, err = core.OpenPersistentStore(cfg, core.DefaultRulesEngine())
	if err != nil || store == nil {
		t.Fatalf("open sqlite: %v", err)
	}

	cfg.StorageDriver = "oracle"
	if _, err := core.OpenPersistentStore(cfg, core.DefaultRulesEngine()); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}
