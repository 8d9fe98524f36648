// Package sqlite provides a SQLite-backed persistent store that mirrors the
// in-memory ledger semantics. It applies the embedded DDL on startup and
// snapshots the full state after every successful transaction.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"taxledger/internal/infra/persistence/memory"
	"taxledger/internal/schema"
	"taxledger/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

// Store persists the in-memory state to SQLite as JSON snapshot buckets.
type Store struct {
	*memory.Store
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewStore constructs a snapshotting SQLite-backed persistent store.
func NewStore(path string, engine *domain.RulesEngine, opts ...memory.Option) (*Store, error) {
	if path == "" {
		path = "taxledger.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	for _, stmt := range schema.SplitStatements(schema.SQLite()) {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("apply ledger ddl: %w", err)
		}
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("create state table: %w", err)
	}
	mem := memory.NewStore(engine, opts...)
	s := &Store{Store: mem, db: db, path: path}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// sequences carries the audit and history counters across restarts.
type sequences struct {
	AuditSeq   uint64 `json:"audit_seq"`
	HistorySeq uint64 `json:"history_seq"`
}

var sqliteBuckets = []string{
	"parties",
	"spatial_units",
	"ba_units",
	"tax_rate_areas",
	"tax_rates",
	"rrrs",
	"exemptions",
	"tax_assessments",
	"supplemental_assessments",
	"bills",
	"payments",
	"provisioned_partitions",
	"audit_log",
	"parcel_history",
	"sequences",
}

func snapshotTargets(snapshot *memory.Snapshot, seqs *sequences) map[string]any {
	return map[string]any{
		"parties":                  &snapshot.Parties,
		"spatial_units":            &snapshot.SpatialUnits,
		"ba_units":                 &snapshot.BAUnits,
		"tax_rate_areas":           &snapshot.RateAreas,
		"tax_rates":                &snapshot.Rates,
		"rrrs":                     &snapshot.RRRs,
		"exemptions":               &snapshot.Exemptions,
		"tax_assessments":          &snapshot.Assessments,
		"supplemental_assessments": &snapshot.Supplementals,
		"bills":                    &snapshot.Bills,
		"payments":                 &snapshot.Payments,
		"provisioned_partitions":   &snapshot.Provisioned,
		"audit_log":                &snapshot.Audit,
		"parcel_history":           &snapshot.History,
		"sequences":                seqs,
	}
}

func (s *Store) load() error {
	rows, err := s.db.Query(`SELECT bucket, payload FROM state`)
	if err != nil {
		return fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snapshot memory.Snapshot
	var seqs sequences
	targets := snapshotTargets(&snapshot, &seqs)
	loaded := false
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return fmt.Errorf("scan state: %w", err)
		}
		target, ok := targets[bucket]
		if !ok || len(payload) == 0 {
			continue
		}
		if err := json.Unmarshal(payload, target); err != nil {
			return fmt.Errorf("decode %s: %w", bucket, err)
		}
		loaded = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate state: %w", err)
	}
	if !loaded {
		return nil
	}
	snapshot.AuditSeq = seqs.AuditSeq
	snapshot.HistorySeq = seqs.HistorySeq
	s.ImportState(snapshot)
	return nil
}

func (s *Store) persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.ExportState()
	seqs := sequences{AuditSeq: snapshot.AuditSeq, HistorySeq: snapshot.HistorySeq}
	targets := snapshotTargets(&snapshot, &seqs)

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	for _, bucket := range sqliteBuckets {
		data, err := json.Marshal(targets[bucket])
		if err != nil {
			return fmt.Errorf("encode %s: %w", bucket, err)
		}
		if _, err := tx.Exec(`INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`, bucket, data); err != nil {
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// RunInTransaction applies fn in memory, then snapshots the state to SQLite
// if the transaction committed.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	if err := s.persist(); err != nil {
		return res, err
	}
	return res, nil
}

// ProvisionPartition provisions a month partition and snapshots the change.
func (s *Store) ProvisionPartition(ctx context.Context, bucket domain.LedgerBucket, month domain.Partition) error {
	if err := s.Store.ProvisionPartition(ctx, bucket, month); err != nil {
		return err
	}
	return s.persist()
}

// ReconcileDefaultPartition migrates matured default-partition rows and
// snapshots the change.
func (s *Store) ReconcileDefaultPartition(ctx context.Context, bucket domain.LedgerBucket, month domain.Partition) (int, error) {
	moved, err := s.Store.ReconcileDefaultPartition(ctx, bucket, month)
	if err != nil {
		return moved, err
	}
	if moved == 0 {
		return 0, nil
	}
	return moved, s.persist()
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }
