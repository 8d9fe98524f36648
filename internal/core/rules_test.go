package core_test

import (
	"context"
	"errors"
	"testing"

	"taxledger/internal/core"
	"taxledger/pkg/domain"
)

func TestSoleOwnershipBlocksOverlappingGrants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	second, _, err := f.svc.RegisterParty(ctx, core.Party{Name: "Second Buyer", Type: domain.PartyIndividual, Identifier: "buyer-2"})
	if err != nil {
		t.Fatalf("register party: %v", err)
	}
	_, _, err = f.svc.GrantRRR(ctx, core.RRR{Type: domain.RRROwnership, BAUnitID: f.parcel.ID, PartyID: second.ID, StartDate: date(2024, 1, 1)})
	var ruleErr domain.RuleViolationError
	if !errors.As(err, &ruleErr) {
		t.Fatalf("expected rule violation, got %v", err)
	}
	if len(ruleErr.Result.Violations) == 0 || ruleErr.Result.Violations[0].Rule != "sole_ownership" {
		t.Fatalf("unexpected violations: %+v", ruleErr.Result.Violations)
	}

	// The blocked grant must not have landed.
	if _, _, err := f.svc.CloseRRR(ctx, f.rrr.ID, date(2025, 1, 1)); err != nil {
		t.Fatalf("close original ownership: %v", err)
	}
}

func TestSequentialOwnershipAllowed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, _, err := f.svc.CloseRRR(ctx, f.rrr.ID, date(2025, 3, 15)); err != nil {
		t.Fatalf("close ownership: %v", err)
	}
	buyer, _, err := f.svc.RegisterParty(ctx, core.Party{Name: "New Owner", Type: domain.PartyIndividual, Identifier: "buyer-3"})
	if err != nil {
		t.Fatalf("register party: %v", err)
	}
	if _, _, err := f.svc.GrantRRR(ctx, core.RRR{Type: domain.RRROwnership, BAUnitID: f.parcel.ID, PartyID: buyer.ID, StartDate: date(2025, 3, 15)}); err != nil {
		t.Fatalf("sequential grant should pass: %v", err)
	}
}

func TestRRRDateRangeBlocksEmptyRange(t *testing.T) {
	f := newFixture(t)
	end := date(2020, 1, 1)
	_, _, err := f.svc.GrantRRR(context.Background(), core.RRR{Type: domain.RRREasement, BAUnitID: f.parcel.ID, PartyID: f.party.ID, StartDate: date(2020, 1, 1), EndDate: &end})
	var ruleErr domain.RuleViolationError
	if !errors.As(err, &ruleErr) {
		t.Fatalf("expected rule violation, got %v", err)
	}
	if ruleErr.Result.Violations[0].Rule != "rrr_date_range" {
		t.Fatalf("unexpected violations: %+v", ruleErr.Result.Violations)
	}
}

func TestDelinquentParcelWarnsOnNewBill(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, _, err := f.svc.Assess(ctx, f.parcel.ID, 2020, 1.0, domain.RollSecured, f.rate.ID); err != nil {
		t.Fatalf("assess 2020: %v", err)
	}
	if _, _, err := f.svc.Assess(ctx, f.parcel.ID, 2021, 1.02, domain.RollSecured, f.rate.ID); err != nil {
		t.Fatalf("assess 2021: %v", err)
	}
	if _, res, err := f.svc.IssueAnnualBill(ctx, f.parcel.ID, 2020, date(2020, 10, 1)); err != nil || len(res.Violations) != 0 {
		t.Fatalf("first bill: err=%v violations=%+v", err, res.Violations)
	}

	// The 2020 bill went past due unpaid, so the 2021 issuance warns.
	_, res, err := f.svc.IssueAnnualBill(ctx, f.parcel.ID, 2021, date(2021, 10, 1))
	if err != nil {
		t.Fatalf("second bill: %v", err)
	}
	found := false
	for _, v := range res.Violations {
		if v.Rule == "delinquent_parcel" && v.Severity == domain.SeverityWarn {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected delinquency warning, got %+v", res.Violations)
	}
}
