package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"taxledger/internal/infra/persistence/postgres/testutil"
	"taxledger/pkg/domain"
)

func withStubDB(t *testing.T) (*Store, *testutil.StubConn) {
	t.Helper()
	db, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) {
		return db, nil
	})
	t.Cleanup(restore)
	store, err := NewStore("", nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return store, conn
}

func TestNewStoreAppliesLedgerDDL(t *testing.T) {
	_, conn := withStubDB(t)

	if got := conn.ExecsMatching("PARTITION BY RANGE (bill_date)"); len(got) != 1 {
		t.Fatalf("bill table DDL not applied: %v", conn.Execs)
	}
	if got := conn.ExecsMatching("PARTITION BY RANGE (payment_date)"); len(got) != 1 {
		t.Fatalf("payment table DDL not applied")
	}
	if got := conn.ExecsMatching("TaxBill_default PARTITION OF"); len(got) != 1 {
		t.Fatalf("default bill partition DDL not applied")
	}
	if got := conn.ExecsMatching("CREATE TABLE IF NOT EXISTS state"); len(got) != 1 {
		t.Fatalf("state table DDL not applied")
	}
}

func TestProvisionPartitionAttachesMonthPartition(t *testing.T) {
	store, conn := withStubDB(t)
	ctx := context.Background()

	if err := store.ProvisionPartition(ctx, domain.BucketBills, "2025-07"); err != nil {
		t.Fatalf("provision: %v", err)
	}
	attached := conn.ExecsMatching("ladm.TaxBill_2025_07 PARTITION OF ladm.TaxBill FOR VALUES FROM ('2025-07-01') TO ('2025-08-01')")
	if len(attached) != 1 {
		t.Fatalf("month partition not attached: %v", conn.Execs)
	}
	parts := store.ListPartitions(domain.BucketBills)
	if len(parts) != 2 || parts[0] != "2025-07" {
		t.Fatalf("unexpected partitions: %v", parts)
	}

	if err := store.ProvisionPartition(ctx, domain.BucketBills, "bogus"); err == nil {
		t.Fatalf("malformed month must be rejected")
	}
}

func TestRunInTransactionPersistsSnapshotBuckets(t *testing.T) {
	store, conn := withStubDB(t)

	if _, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateParty(domain.Party{Name: "Rosa Valdez", Type: domain.PartyIndividual, Identifier: "442013987"})
		return err
	}); err != nil {
		t.Fatalf("transaction failed: %v", err)
	}

	rows := conn.Tables["state"]
	seen := map[string]bool{}
	for _, row := range rows {
		bucket, _ := row["bucket"].(string)
		seen[bucket] = true
	}
	for _, want := range []string{"parties", "bills", "payments", "audit_log", "parcel_history", "sequences", "provisioned_partitions"} {
		if !seen[want] {
			t.Fatalf("bucket %s not persisted, saw %v", want, seen)
		}
	}

	for _, row := range rows {
		if row["bucket"] != "parties" {
			continue
		}
		payload, _ := row["payload"].([]byte)
		var parties map[string]domain.Party
		if err := json.Unmarshal(payload, &parties); err != nil {
			t.Fatalf("decode parties payload: %v", err)
		}
		if len(parties) != 1 {
			t.Fatalf("expected 1 persisted party, got %d", len(parties))
		}
		for _, p := range parties {
			if p.Name != "Rosa Valdez" {
				t.Fatalf("unexpected persisted party: %+v", p)
			}
		}
	}
}

func TestFailedValidationDoesNotPersist(t *testing.T) {
	store, conn := withStubDB(t)
	before := len(conn.Tables["state"])

	if _, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateParty(domain.Party{Type: domain.PartyIndividual, Identifier: "000000000"})
		return err
	}); err == nil {
		t.Fatalf("expected validation error")
	}
	if got := len(conn.Tables["state"]); got != before {
		t.Fatalf("failed transaction wrote %d state rows", got-before)
	}
}

func TestSnapshotRoundTripThroughReopen(t *testing.T) {
	db, _ := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) {
		return db, nil
	})
	defer restore()

	store, err := NewStore("", nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	var parcelID string
	if _, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		spatial, err := tx.CreateSpatialUnit(domain.SpatialUnit{Address: "77 Vine St", CadastralRef: "RIV-002-007", AreaSqM: 300})
		if err != nil {
			return err
		}
		parcel, err := tx.CreateBAUnit(domain.BAUnit{
			UnitName:      "Vine St Lot",
			SpatialUnitID: spatial.ID,
			APN:           "330-410-022",
			BaseYear:      2021,
			BaseYearValue: 275000,
		})
		if err != nil {
			return err
		}
		parcelID = parcel.ID
		return nil
	}); err != nil {
		t.Fatalf("transaction failed: %v", err)
	}

	// A second store over the same stub tables must hydrate the snapshot.
	reopened, err := NewStore("", nil)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	if _, ok := reopened.GetBAUnit(parcelID); !ok {
		t.Fatalf("parcel not hydrated from snapshot")
	}
	if _, ok := reopened.GetBAUnitByAPN("330-410-022"); !ok {
		t.Fatalf("APN index not rebuilt from snapshot")
	}
	if got := len(reopened.AuditEntries(domain.AuditFilter{})); got == 0 {
		t.Fatalf("audit log not hydrated from snapshot")
	}
}

func TestNewStoreOpenAndPingErrors(t *testing.T) {
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) {
		return nil, fmt.Errorf("refused")
	})
	if _, err := NewStore("", nil); err == nil || !strings.Contains(err.Error(), "open postgres") {
		t.Fatalf("expected open error, got %v", err)
	}
	restore()

	db, conn := testutil.NewStubDB()
	conn.FailPing = true
	restore = OverrideSQLOpen(func(string, string) (*sql.DB, error) {
		return db, nil
	})
	defer restore()
	if _, err := NewStore("", nil); err == nil || !strings.Contains(err.Error(), "ping postgres") {
		t.Fatalf("expected ping error, got %v", err)
	}
}

func TestMonthBounds(t *testing.T) {
	from, to, err := monthBounds("2025-12")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if from != "2025-12-01" || to != "2026-01-01" {
		t.Fatalf("unexpected bounds: %s..%s", from, to)
	}
	if _, _, err := monthBounds("december"); err == nil {
		t.Fatalf("expected parse error")
	}
}
