package core_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"taxledger/internal/core"
	"taxledger/pkg/domain"
)

func TestAssessBaseYearUsesBaseValue(t *testing.T) {
	f := newFixture(t)
	a, _, err := f.svc.Assess(context.Background(), f.parcel.ID, 2020, 1.05, domain.RollSecured, f.rate.ID)
	if err != nil {
		t.Fatalf("assess: %v", err)
	}
	if a.CurrentAssessedValue != 500000 {
		t.Fatalf("base year value not used: %.2f", a.CurrentAssessedValue)
	}
	if a.BaseYear != 2020 || a.RollType != domain.RollSecured {
		t.Fatalf("unexpected assessment: %+v", a)
	}
}

func TestAssessCapsMarketGrowth(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, _, err := f.svc.Assess(ctx, f.parcel.ID, 2020, 1.0, domain.RollSecured, f.rate.ID); err != nil {
		t.Fatalf("assess 2020: %v", err)
	}
	a, _, err := f.svc.Assess(ctx, f.parcel.ID, 2021, 1.05, domain.RollSecured, f.rate.ID)
	if err != nil {
		t.Fatalf("assess 2021: %v", err)
	}
	// 500000 grown by min(1.05, 1.02).
	if a.CurrentAssessedValue != 510000 {
		t.Fatalf("cap not applied: %.2f", a.CurrentAssessedValue)
	}
	if a.CapFactor != 1.02 {
		t.Fatalf("cap factor not recorded: %.4f", a.CapFactor)
	}

	// Growth below the cap passes through.
	b, _, err := f.svc.Assess(ctx, f.parcel.ID, 2022, 1.01, domain.RollSecured, f.rate.ID)
	if err != nil {
		t.Fatalf("assess 2022: %v", err)
	}
	if b.CurrentAssessedValue != 510000*1.01 {
		t.Fatalf("sub-cap growth mangled: %.2f", b.CurrentAssessedValue)
	}

	roll, err := f.svc.AssessmentRoll(ctx, f.parcel.ID)
	if err != nil {
		t.Fatalf("assessment roll: %v", err)
	}
	if len(roll) != 3 {
		t.Fatalf("expected 3 roll entries, got %d", len(roll))
	}
	for i, year := range []int{2020, 2021, 2022} {
		if roll[i].AssessmentYear != year {
			t.Fatalf("roll entry %d has year %d", i, roll[i].AssessmentYear)
		}
	}
}

func TestAssessRequiresPriorYear(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.svc.Assess(context.Background(), f.parcel.ID, 2022, 1.02, domain.RollSecured, f.rate.ID)
	var missing domain.NoPriorAssessmentError
	if !errors.As(err, &missing) {
		t.Fatalf("expected no-prior-assessment error, got %v", err)
	}
	if missing.BAUnitID != f.parcel.ID || missing.Year != 2022 {
		t.Fatalf("unexpected error detail: %+v", missing)
	}
}

func TestAssessDuplicateYearRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, _, err := f.svc.Assess(ctx, f.parcel.ID, 2020, 1.0, domain.RollSecured, f.rate.ID); err != nil {
		t.Fatalf("assess: %v", err)
	}
	_, _, err := f.svc.Assess(ctx, f.parcel.ID, 2020, 1.0, domain.RollSecured, f.rate.ID)
	var valErr domain.ValidationError
	if !errors.As(err, &valErr) || valErr.Field != "assessment_year" {
		t.Fatalf("expected duplicate year rejection, got %v", err)
	}
}

func TestIssueAnnualBillAppliesExemptionsAndRate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, _, err := f.svc.Assess(ctx, f.parcel.ID, 2020, 1.0, domain.RollSecured, f.rate.ID); err != nil {
		t.Fatalf("assess: %v", err)
	}
	if _, _, err := f.svc.GrantExemption(ctx, core.Exemption{BAUnitID: f.parcel.ID, PartyID: f.party.ID, Type: "Homeowner", Amount: 7000, StartDate: date(2020, 1, 1)}); err != nil {
		t.Fatalf("grant exemption: %v", err)
	}

	bill, _, err := f.svc.IssueAnnualBill(ctx, f.parcel.ID, 2020, date(2020, 10, 1))
	if err != nil {
		t.Fatalf("issue bill: %v", err)
	}
	// (500000 - 7000) * 0.01
	if bill.AmountDue != 4930 {
		t.Fatalf("unexpected amount %.2f", bill.AmountDue)
	}
	if bill.PartyID != f.party.ID || bill.BillType != domain.BillAnnual {
		t.Fatalf("unexpected bill: %+v", bill)
	}
	if !bill.DueDate.Equal(date(2020, 10, 31)) {
		t.Fatalf("grace period not applied: %v", bill.DueDate)
	}
	if bill.IsPaid {
		t.Fatalf("new bill must start unpaid")
	}
}

func TestIssueAnnualBillRequiresRollAssessment(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.svc.IssueAnnualBill(context.Background(), f.parcel.ID, 2020, date(2020, 10, 1))
	var valErr domain.ValidationError
	if !errors.As(err, &valErr) || valErr.Field != "assessment_year" {
		t.Fatalf("expected missing-roll-assessment error, got %v", err)
	}
}

func TestIssueAnnualBillExemptionsFloorAtZero(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, _, err := f.svc.Assess(ctx, f.parcel.ID, 2020, 1.0, domain.RollSecured, f.rate.ID); err != nil {
		t.Fatalf("assess: %v", err)
	}
	if _, _, err := f.svc.GrantExemption(ctx, core.Exemption{BAUnitID: f.parcel.ID, PartyID: f.party.ID, Type: "Charitable", Amount: 600000, StartDate: date(2020, 1, 1)}); err != nil {
		t.Fatalf("grant exemption: %v", err)
	}
	bill, _, err := f.svc.IssueAnnualBill(ctx, f.parcel.ID, 2020, date(2020, 10, 1))
	if err != nil {
		t.Fatalf("issue bill: %v", err)
	}
	if bill.AmountDue != 0 {
		t.Fatalf("taxable base not floored: %.2f", bill.AmountDue)
	}
}

func TestIssueAnnualBillRequiresRateInForce(t *testing.T) {
	cfg := core.DefaultConfig()
	svc, err := core.NewInMemoryService(cfg, core.WithNowFunc(func() time.Time { return testNow }))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ctx := context.Background()
	party, _, err := svc.RegisterParty(ctx, core.Party{Name: "Lone Owner", Type: domain.PartyIndividual, Identifier: "owner-1"})
	if err != nil {
		t.Fatalf("register party: %v", err)
	}
	unit, _, err := svc.RegisterSpatialUnit(ctx, core.SpatialUnit{CadastralRef: "RIV-0002-01", AreaSqM: 400})
	if err != nil {
		t.Fatalf("register unit: %v", err)
	}
	parcel, _, err := svc.RegisterParcel(ctx, core.BAUnit{SpatialUnitID: unit.ID, APN: "111-222-333", BaseYear: 2020, BaseYearValue: 300000})
	if err != nil {
		t.Fatalf("register parcel: %v", err)
	}
	expires := date(2021, 1, 1)
	rate, _, err := svc.RegisterTaxRate(ctx, core.TaxRate{Name: "sunset levy", Value: 0.012, EffectiveDate: date(2019, 7, 1), ExpirationDate: &expires})
	if err != nil {
		t.Fatalf("register rate: %v", err)
	}
	if _, _, err := svc.GrantRRR(ctx, core.RRR{Type: domain.RRROwnership, BAUnitID: parcel.ID, PartyID: party.ID, StartDate: date(2020, 1, 1)}); err != nil {
		t.Fatalf("grant ownership: %v", err)
	}
	if _, _, err := svc.Assess(ctx, parcel.ID, 2020, 1.0, domain.RollSecured, rate.ID); err != nil {
		t.Fatalf("assess: %v", err)
	}

	_, _, err = svc.IssueAnnualBill(ctx, parcel.ID, 2020, date(2021, 2, 1))
	var valErr domain.ValidationError
	if !errors.As(err, &valErr) || valErr.Entity != domain.EntityTaxRate {
		t.Fatalf("expected no-rate-in-force error, got %v", err)
	}
}

func TestTriggerSupplementalReassessesAndBills(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, _, err := f.svc.Assess(ctx, f.parcel.ID, 2020, 1.0, domain.RollSecured, f.rate.ID); err != nil {
		t.Fatalf("assess 2020: %v", err)
	}
	if _, _, err := f.svc.Assess(ctx, f.parcel.ID, 2021, 1.05, domain.RollSecured, f.rate.ID); err != nil {
		t.Fatalf("assess 2021: %v", err)
	}

	event := date(2025, 3, 15)
	outcome, _, err := f.svc.TriggerSupplemental(ctx, f.parcel.ID, event, domain.ReasonChangeOfOwnership, 610000, f.rate.ID)
	if err != nil {
		t.Fatalf("trigger supplemental: %v", err)
	}
	if outcome.Supplemental.OldValue != 510000 || outcome.Supplemental.DifferenceValue != 100000 {
		t.Fatalf("unexpected supplemental: %+v", outcome.Supplemental)
	}
	if outcome.Parcel.BaseYear != 2025 || outcome.Parcel.BaseYearValue != 610000 {
		t.Fatalf("base year not reset: %+v", outcome.Parcel)
	}
	if outcome.Bill == nil {
		t.Fatalf("expected supplemental bill")
	}
	// 100000 difference at the 1% combined rate.
	if outcome.Bill.AmountDue != 1000 {
		t.Fatalf("unexpected bill amount %.2f", outcome.Bill.AmountDue)
	}
	if outcome.Bill.SupplementalID == nil || *outcome.Bill.SupplementalID != outcome.Supplemental.ID {
		t.Fatalf("bill not linked to supplemental: %+v", outcome.Bill)
	}
	if !outcome.Bill.DueDate.Equal(date(2025, 4, 14)) {
		t.Fatalf("grace period not applied: %v", outcome.Bill.DueDate)
	}

	bills := f.svc.BillsInRange(date(2025, 3, 1), date(2025, 4, 1))
	if len(bills) != 1 {
		t.Fatalf("expected exactly one supplemental bill, got %d", len(bills))
	}
}

func TestTriggerSupplementalSameDayAppliesInOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, _, err := f.svc.Assess(ctx, f.parcel.ID, 2020, 1.0, domain.RollSecured, f.rate.ID); err != nil {
		t.Fatalf("assess: %v", err)
	}

	event := date(2025, 3, 1)
	first, _, err := f.svc.TriggerSupplemental(ctx, f.parcel.ID, event, domain.ReasonChangeOfOwnership, 600000, f.rate.ID)
	if err != nil {
		t.Fatalf("first supplemental: %v", err)
	}
	if first.Supplemental.OldValue != 500000 || first.Supplemental.DifferenceValue != 100000 {
		t.Fatalf("unexpected first supplemental: %+v", first.Supplemental)
	}

	// The second event on the same date measures against the first's result.
	second, _, err := f.svc.TriggerSupplemental(ctx, f.parcel.ID, event, domain.ReasonNewConstruction, 620000, f.rate.ID)
	if err != nil {
		t.Fatalf("second supplemental: %v", err)
	}
	if second.Supplemental.OldValue != 600000 || second.Supplemental.DifferenceValue != 20000 {
		t.Fatalf("unexpected second supplemental: %+v", second.Supplemental)
	}
	if second.Parcel.BaseYear != 2025 || second.Parcel.BaseYearValue != 620000 {
		t.Fatalf("base year not reset by second event: %+v", second.Parcel)
	}
	if second.Bill == nil || second.Bill.AmountDue != 200 {
		t.Fatalf("unexpected second bill: %+v", second.Bill)
	}
	if bills := f.svc.BillsInRange(date(2025, 3, 1), date(2025, 4, 1)); len(bills) != 2 {
		t.Fatalf("expected one bill per supplemental, got %d", len(bills))
	}
}

func TestAssessAnchorsOnResetAfterAssessedYear(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for year := 2020; year <= 2025; year++ {
		if _, _, err := f.svc.Assess(ctx, f.parcel.ID, year, 1.0, domain.RollSecured, f.rate.ID); err != nil {
			t.Fatalf("assess %d: %v", year, err)
		}
	}
	if _, _, err := f.svc.TriggerSupplemental(ctx, f.parcel.ID, date(2025, 6, 1), domain.ReasonChangeOfOwnership, 600000, f.rate.ID); err != nil {
		t.Fatalf("trigger supplemental: %v", err)
	}

	// The 2025 roll row predates the reset; the 2026 roll grows from the
	// reset value, not from the stale row.
	a, _, err := f.svc.Assess(ctx, f.parcel.ID, 2026, 1.0, domain.RollSecured, f.rate.ID)
	if err != nil {
		t.Fatalf("assess 2026: %v", err)
	}
	if a.CurrentAssessedValue != 600000 {
		t.Fatalf("growth not anchored on reset value: %.2f", a.CurrentAssessedValue)
	}
	if a.BaseYear != 2025 || a.BaseYearValue != 600000 {
		t.Fatalf("unexpected base columns: %+v", a)
	}
}

func TestTriggerSupplementalDeclineIssuesNoBill(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, _, err := f.svc.Assess(ctx, f.parcel.ID, 2020, 1.0, domain.RollSecured, f.rate.ID); err != nil {
		t.Fatalf("assess: %v", err)
	}
	outcome, _, err := f.svc.TriggerSupplemental(ctx, f.parcel.ID, date(2025, 3, 15), domain.ReasonChangeOfOwnership, 450000, f.rate.ID)
	if err != nil {
		t.Fatalf("trigger supplemental: %v", err)
	}
	if outcome.Bill != nil {
		t.Fatalf("decline must not generate a bill: %+v", outcome.Bill)
	}
	if outcome.Parcel.BaseYearValue != 450000 {
		t.Fatalf("base value not reset on decline: %+v", outcome.Parcel)
	}
	if got := f.svc.BillsInRange(date(2025, 1, 1), date(2026, 1, 1)); len(got) != 0 {
		t.Fatalf("unexpected bills %d", len(got))
	}
}

func TestTriggerSupplementalRejectsPreBaseEvent(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.svc.TriggerSupplemental(context.Background(), f.parcel.ID, date(2019, 6, 1), domain.ReasonNewConstruction, 550000, f.rate.ID)
	var dateErr domain.InvalidEventDateError
	if !errors.As(err, &dateErr) {
		t.Fatalf("expected invalid event date error, got %v", err)
	}
}
