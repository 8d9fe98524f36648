package memory_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"taxledger/internal/infra/persistence/memory"
	"taxledger/pkg/domain"
)

type ledgerIDs struct {
	ownerID   string
	buyerID   string
	spatialID string
	parcelID  string
	traID     string
	rateID    string
}

func seedLedger(t *testing.T, store *memory.Store) ledgerIDs {
	t.Helper()
	ctx := context.Background()

	var ids ledgerIDs
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		ownerVal, err := tx.CreateParty(domain.Party{Name: "Maria Garcia", Type: domain.PartyIndividual, Identifier: "523847160"})
		owner := must(t, ownerVal, err)
		ids.ownerID = owner.ID

		buyerVal, err := tx.CreateParty(domain.Party{Name: "Inland Empire Holdings LLC", Type: domain.PartyCompany, Identifier: "943102758"})
		buyer := must(t, buyerVal, err)
		ids.buyerID = buyer.ID

		spatialVal, err := tx.CreateSpatialUnit(domain.SpatialUnit{
			Address:      "4821 Magnolia Ave, Riverside, CA 92506",
			CadastralRef: "RIV-033-210",
			AreaSqM:      680.5,
		})
		spatial := must(t, spatialVal, err)
		ids.spatialID = spatial.ID

		traVal, err := tx.CreateTaxRateArea(domain.TaxRateArea{Code: "009-012", Description: "Riverside city core"})
		tra := must(t, traVal, err)
		ids.traID = tra.ID

		rateVal, err := tx.CreateTaxRate(domain.TaxRate{
			Name:          "General Levy",
			Value:         0.01,
			EffectiveDate: date(2000, 7, 1),
		})
		rate := must(t, rateVal, err)
		ids.rateID = rate.ID

		parcelVal, err := tx.CreateBAUnit(domain.BAUnit{
			UnitName:      "Magnolia Residence",
			SpatialUnitID: ids.spatialID,
			APN:           "215-082-014",
			TRAID:         &ids.traID,
			BaseYear:      2020,
			BaseYearValue: 500000,
		})
		parcel := must(t, parcelVal, err)
		ids.parcelID = parcel.ID
		return nil
	}); err != nil {
		t.Fatalf("seed transaction failed: %v", err)
	}
	return ids
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestEntityValidationAndLookups(t *testing.T) {
	store := memory.NewStore(nil)
	ids := seedLedger(t, store)
	ctx := context.Background()

	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, err := tx.CreateParty(domain.Party{Type: domain.PartyIndividual, Identifier: "111223333"}); err == nil {
			return fmt.Errorf("expected name validation error")
		}
		if _, err := tx.CreateParty(domain.Party{Name: "X", Type: "Trust", Identifier: "111223333"}); err == nil {
			return fmt.Errorf("expected party type validation error")
		}
		if _, err := tx.CreateBAUnit(domain.BAUnit{UnitName: "Dup", SpatialUnitID: ids.spatialID, APN: "215-082-014", BaseYear: 2021, BaseYearValue: 1}); err == nil {
			return fmt.Errorf("expected duplicate APN validation error")
		}
		if _, err := tx.CreateBAUnit(domain.BAUnit{UnitName: "Orphan", SpatialUnitID: "missing-spatial", APN: "999-000-001", BaseYear: 2021, BaseYearValue: 1}); err == nil {
			return fmt.Errorf("expected spatial unit referential error")
		}
		if _, err := tx.CreateAssessment(domain.TaxAssessment{BAUnitID: ids.parcelID, AssessmentYear: 2021, BaseYear: 2020, BaseYearValue: 500000, CapFactor: 1.5, CurrentAssessedValue: 510000, RollType: domain.RollSecured, TaxRateID: ids.rateID}); err == nil {
			return fmt.Errorf("expected cap factor validation error")
		}

		found, ok := tx.FindBAUnitByAPN("215-082-014")
		requireFound(t, found, ok, "expected APN lookup to succeed")
		if found.ID != ids.parcelID {
			t.Fatalf("APN lookup returned wrong parcel")
		}
		_, ok = tx.FindBAUnitByAPN("000-000-000")
		requireMissing(t, ok, "unexpected APN lookup success")
		return nil
	}); err != nil {
		t.Fatalf("transaction failed: %v", err)
	}

	if _, ok := store.GetBAUnitByAPN("215-082-014"); !ok {
		t.Fatalf("expected store-level APN lookup to succeed")
	}
	if got := len(store.ListParties()); got != 2 {
		t.Fatalf("expected 2 parties, got %d", got)
	}
}

func TestAPNIsImmutable(t *testing.T) {
	store := memory.NewStore(nil)
	ids := seedLedger(t, store)

	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.UpdateBAUnit(ids.parcelID, func(b *domain.BAUnit) error {
			b.APN = "999-999-999"
			return nil
		})
		return err
	})
	var verr domain.ValidationError
	if !errors.As(err, &verr) || verr.Field != "assessor_parcel_number" {
		t.Fatalf("expected APN immutability validation error, got %v", err)
	}
}

func TestPartyIdentifierFrozenAfterBilling(t *testing.T) {
	store := memory.NewStore(nil)
	ids := seedLedger(t, store)
	ctx := context.Background()

	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.UpdateParty(ids.ownerID, func(p *domain.Party) error {
			p.Identifier = "600000001"
			return nil
		})
		return err
	}); err != nil {
		t.Fatalf("identifier update before billing should succeed: %v", err)
	}

	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.IssueBill(domain.TaxBill{
			BillDate:  date(2025, 7, 1),
			BAUnitID:  ids.parcelID,
			PartyID:   ids.ownerID,
			DueDate:   date(2025, 12, 10),
			AmountDue: 5100,
			BillType:  domain.BillAnnual,
		})
		return err
	}); err != nil {
		t.Fatalf("issue bill failed: %v", err)
	}

	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.UpdateParty(ids.ownerID, func(p *domain.Party) error {
			p.Identifier = "600000002"
			return nil
		})
		return err
	})
	var verr domain.ValidationError
	if !errors.As(err, &verr) || verr.Field != "identifier" {
		t.Fatalf("expected frozen identifier validation error, got %v", err)
	}
}

func TestDeleteBAUnitGuards(t *testing.T) {
	store := memory.NewStore(nil)
	ids := seedLedger(t, store)
	ctx := context.Background()

	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateRRR(domain.RRR{Type: domain.RRROwnership, BAUnitID: ids.parcelID, PartyID: ids.ownerID, StartDate: date(2020, 3, 15)})
		return err
	}); err != nil {
		t.Fatalf("create rrr failed: %v", err)
	}

	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return tx.DeleteBAUnit(ids.parcelID)
	})
	var rerr domain.ReferentialIntegrityError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected referential integrity error, got %v", err)
	}
	if _, ok := store.GetBAUnit(ids.parcelID); !ok {
		t.Fatalf("failed delete must leave the parcel in place")
	}
}

func TestAuditAndHistoryCapture(t *testing.T) {
	now := date(2025, 7, 1)
	store := memory.NewStore(nil, memory.WithNowFunc(func() time.Time { return now }))
	ids := seedLedger(t, store)
	ctx := domain.WithActor(context.Background(), "assessor-clerk")

	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.UpdateBAUnit(ids.parcelID, func(b *domain.BAUnit) error {
			b.BaseYear = 2025
			b.BaseYearValue = 810000
			return nil
		})
		return err
	}); err != nil {
		t.Fatalf("update parcel failed: %v", err)
	}

	updates := store.AuditEntries(domain.AuditFilter{Table: domain.EntityBAUnit, Operation: domain.ActionUpdate})
	if len(updates) != 1 {
		t.Fatalf("expected 1 parcel update audit entry, got %d", len(updates))
	}
	entry := updates[0]
	if !entry.Before.Defined() || !entry.After.Defined() {
		t.Fatalf("update audit entry must carry both images")
	}
	if entry.ChangedBy != "assessor-clerk" {
		t.Fatalf("expected actor from context, got %q", entry.ChangedBy)
	}

	history := store.ParcelHistory(ids.parcelID)
	if len(history) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(history))
	}
	if history[0].ValidTo != nil {
		t.Fatalf("superseded-by-update version must stay open-ended")
	}
	if history[0].APN != "215-082-014" {
		t.Fatalf("history entry APN mismatch: %q", history[0].APN)
	}

	// No references besides history, safe to delete now.
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return tx.DeleteBAUnit(ids.parcelID)
	}); err != nil {
		t.Fatalf("delete parcel failed: %v", err)
	}
	history = store.ParcelHistory(ids.parcelID)
	if len(history) != 2 {
		t.Fatalf("expected 2 history entries after delete, got %d", len(history))
	}
	if history[1].ValidTo == nil || !history[1].ValidTo.Equal(now) {
		t.Fatalf("deleted version must be closed at the transaction time")
	}
}

type failingAuditSink struct{}

func (failingAuditSink) RecordAudit(context.Context, []domain.AuditEntry) error {
	return fmt.Errorf("audit archive unavailable")
}

func TestFailingAuditSinkAbortsCommit(t *testing.T) {
	store := memory.NewStore(nil, memory.WithAuditSink(failingAuditSink{}))

	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateParty(domain.Party{Name: "Ghost", Type: domain.PartyIndividual, Identifier: "000000001"})
		return err
	})
	if err == nil {
		t.Fatalf("expected sink failure to abort the transaction")
	}
	if got := len(store.ListParties()); got != 0 {
		t.Fatalf("aborted transaction must leave no state, found %d parties", got)
	}
	if got := len(store.AuditEntries(domain.AuditFilter{})); got != 0 {
		t.Fatalf("aborted transaction must leave no audit entries, found %d", got)
	}
}

type blockEverything struct{}

func (blockEverything) Name() string { return "block_everything" }

func (blockEverything) Evaluate(_ context.Context, _ domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	var result domain.Result
	for _, change := range changes {
		result.Violations = append(result.Violations, domain.Violation{
			Rule:     "block_everything",
			Severity: domain.SeverityBlock,
			Message:  "no writes allowed",
			Entity:   change.Entity,
		})
	}
	return result, nil
}

func TestBlockingRuleAbortsCommit(t *testing.T) {
	engine := domain.NewRulesEngine()
	engine.Register(blockEverything{})
	store := memory.NewStore(engine)

	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateParty(domain.Party{Name: "Blocked", Type: domain.PartyIndividual, Identifier: "000000002"})
		return err
	})
	var rverr domain.RuleViolationError
	if !errors.As(err, &rverr) {
		t.Fatalf("expected rule violation error, got %v", err)
	}
	if got := len(store.ListParties()); got != 0 {
		t.Fatalf("blocked transaction must leave no state, found %d parties", got)
	}
	if got := len(store.AuditEntries(domain.AuditFilter{})); got != 0 {
		t.Fatalf("blocked transaction must leave no audit entries, found %d", got)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	store := memory.NewStore(nil)
	ids := seedLedger(t, store)
	ctx := context.Background()

	if err := store.ProvisionPartition(ctx, domain.BucketBills, "2025-07"); err != nil {
		t.Fatalf("provision failed: %v", err)
	}
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.IssueBill(domain.TaxBill{
			BillDate:  date(2025, 7, 1),
			BAUnitID:  ids.parcelID,
			PartyID:   ids.ownerID,
			DueDate:   date(2025, 12, 10),
			AmountDue: 5100,
			BillType:  domain.BillAnnual,
		})
		return err
	}); err != nil {
		t.Fatalf("issue bill failed: %v", err)
	}

	snapshot := store.ExportState()
	restored := memory.NewStore(nil)
	restored.ImportState(snapshot)

	if _, ok := restored.GetBAUnitByAPN("215-082-014"); !ok {
		t.Fatalf("restored store lost parcel APN index")
	}
	bills := restored.BillsInRange(date(2025, 7, 1), date(2025, 8, 1))
	if len(bills) != 1 {
		t.Fatalf("restored store lost ledger rows, got %d bills", len(bills))
	}
	if got := len(restored.AuditEntries(domain.AuditFilter{})); got != len(store.AuditEntries(domain.AuditFilter{})) {
		t.Fatalf("restored store lost audit entries, got %d", got)
	}
	parts := restored.ListPartitions(domain.BucketBills)
	if len(parts) != 2 || parts[0] != "2025-07" || parts[1] != domain.DefaultPartition {
		t.Fatalf("restored store lost partition metadata: %v", parts)
	}
}

func must[T any](t *testing.T, value T, err error) T {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return value
}

func requireFound[T any](t *testing.T, value T, ok bool, msg string) T {
	t.Helper()
	if !ok {
		t.Fatal(msg)
	}
	return value
}

func requireMissing(t *testing.T, ok bool, msg string) {
	t.Helper()
	if ok {
		t.Fatal(msg)
	}
}
