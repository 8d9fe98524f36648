// Package postgres provides a Postgres-backed persistent store that mirrors
// the in-memory ledger semantics while applying the embedded range-partitioned
// DDL on startup. Provisioning a month attaches a real partition to the
// ledger tables.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"taxledger/internal/infra/persistence/memory"
	"taxledger/internal/schema"
	"taxledger/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/taxledger?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store persists state to Postgres while reusing the in-memory
// implementation for transactions.
type Store struct {
	*memory.Store
	db *sql.DB
	mu sync.Mutex
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back
// to defaultDSN). It applies the ledger DDL, ensures the snapshot table
// exists, and hydrates the in-memory store from any existing snapshot.
func NewStore(dsn string, engine *domain.RulesEngine, opts ...memory.Option) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := applyLedgerDDL(ctx, db); err != nil {
		return nil, err
	}
	if err := ensureStateTable(ctx, db); err != nil {
		return nil, err
	}
	snapshot, loaded, err := loadSnapshot(ctx, db)
	if err != nil {
		return nil, err
	}
	mem := memory.NewStore(engine, opts...)
	if loaded {
		mem.ImportState(snapshot)
	}
	return &Store{Store: mem, db: db}, nil
}

// RunInTransaction applies fn in memory, then snapshots to Postgres if the
// transaction committed.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	if err := s.persist(ctx); err != nil {
		return res, err
	}
	return res, nil
}

// ProvisionPartition attaches a month partition to the partitioned ledger
// table, then records the provisioning in memory.
func (s *Store) ProvisionPartition(ctx context.Context, bucket domain.LedgerBucket, month domain.Partition) error {
	table, ok := partitionTables[bucket]
	if !ok {
		return domain.ValidationError{Entity: domain.EntityTaxBill, Field: "bucket", Reason: fmt.Sprintf("unknown ledger bucket %q", bucket)}
	}
	from, to, err := monthBounds(month)
	if err != nil {
		return domain.ValidationError{Entity: domain.EntityTaxBill, Field: "partition", Reason: err.Error()}
	}
	ddl := schema.PartitionDDL(table, string(month), from, to)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("attach %s partition %s: %w", table, month, err)
	}
	if err := s.Store.ProvisionPartition(ctx, bucket, month); err != nil {
		return err
	}
	return s.persist(ctx)
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
	return moved, s.persist(ctx)
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

var partitionTables = map[domain.LedgerBucket]string{
	domain.BucketBills:    "TaxBill",
	domain.BucketPayments: "TaxPayment",
}

func monthBounds(month domain.Partition) (string, string, error) {
	parsed, err := time.Parse("2006-01", string(month))
	if err != nil {
		return "", "", fmt.Errorf("partition %q is not a yyyy-mm month", month)
	}
	return parsed.Format("2006-01-02"), parsed.AddDate(0, 1, 0).Format("2006-01-02"), nil
}

func applyLedgerDDL(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema.SplitStatements(schema.Postgres()) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute ddl: %w", err)
		}
	}
	return nil
}

func ensureStateTable(ctx context.Context, db *sql.DB) error {
	ddl := `CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure state table: %w", err)
	}
	return nil
}

// sequences carries the audit and history counters across restarts.
type sequences struct {
	AuditSeq   uint64 `json:"audit_seq"`
	HistorySeq uint64 `json:"history_seq"`
}

var postgresBuckets = []string{
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

func loadSnapshot(ctx context.Context, db *sql.DB) (memory.Snapshot, bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT bucket, payload FROM state`)
	if err != nil {
		return memory.Snapshot{}, false, fmt.Errorf("select state: %w", err)
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
			return memory.Snapshot{}, false, fmt.Errorf("scan state: %w", err)
		}
		target, ok := targets[bucket]
		if !ok || len(payload) == 0 {
			continue
		}
		if err := json.Unmarshal(payload, target); err != nil {
			return memory.Snapshot{}, false, fmt.Errorf("decode %s: %w", bucket, err)
		}
		loaded = true
	}
	if err := rows.Err(); err != nil {
		return memory.Snapshot{}, false, fmt.Errorf("iterate state: %w", err)
	}
	snapshot.AuditSeq = seqs.AuditSeq
	snapshot.HistorySeq = seqs.HistorySeq
	return snapshot, loaded, nil
}

func (s *Store) persist(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.ExportState()
	seqs := sequences{AuditSeq: snapshot.AuditSeq, HistorySeq: snapshot.HistorySeq}
	targets := snapshotTargets(&snapshot, &seqs)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	for _, bucket := range postgresBuckets {
		data, err := json.Marshal(targets[bucket])
		if err != nil {
			return fmt.Errorf("encode %s: %w", bucket, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO state(bucket,payload) VALUES($1,$2) ON CONFLICT(bucket) DO UPDATE SET payload=EXCLUDED.payload`, bucket, data); err != nil {
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore
// function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
