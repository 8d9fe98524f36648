// Command seed populates a ledger database with Riverside-flavored sample
// data: parties, parcels, rate areas, assessment rolls, bills, and payments.
//
// Usage:
//
//	seed --parties 50 --parcels 100 --bills 500
//
// Storage is selected through the TAXLEDGER_* environment variables.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"taxledger/internal/core"
	"taxledger/pkg/domain"
)

var (
	riversideZips = []string{"92501", "92503", "92504", "92505", "92506", "92507", "92508", "92509"}

	riversideStreets = []string{"Magnolia", "Arlington", "Victoria", "Brockton", "Chicago", "Iowa", "Lime", "Mission"}

	streetSuffixes = []string{"St", "Ave", "Blvd", "Rd", "Ln", "Way", "Dr", "Ct"}

	riversideAgencies = []string{
		"Riverside County Assessor's Office",
		"Riverside City Hall",
		"Riverside Water Department",
		"Riverside Unified School District",
	}

	riversideBusinesses = []string{
		"Mission Inn Hotel & Spa",
		"La Sierra University",
		"Riverside Community Hospital",
		"Galleria at Tyler",
	}

	firstNames = []string{"Maria", "James", "Sofia", "Daniel", "Grace", "Hector", "Linda", "Omar", "Patricia", "Victor"}
	lastNames  = []string{"Garcia", "Nguyen", "Smith", "Patel", "Johnson", "Torres", "Kim", "Ramirez", "Brown", "Lee"}
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("seeding failed", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	parties := fs.Int("parties", 50, "number of parties to create")
	parcels := fs.Int("parcels", 100, "number of parcels to create")
	bills := fs.Int("bills", 500, "number of extra imported bills")
	seed := fs.Int64("seed", time.Now().UnixNano(), "random seed")
	if err := fs.Parse(args); err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	cfg, err := core.LoadConfig()
	if err != nil {
		return err
	}
	store, err := core.OpenPersistentStore(cfg, core.DefaultRulesEngine())
	if err != nil {
		return err
	}
	svc := core.NewService(store, cfg, core.WithLogger(logger))
	ctx := domain.WithActor(context.Background(), "seeder")
	rng := rand.New(rand.NewSource(*seed))

	s := &seeder{svc: svc, rng: rng, logger: logger}
	if err := s.seed(ctx, *parties, *parcels, *bills); err != nil {
		return err
	}
	logger.Info("seeding complete", "parties", *parties, "parcels", *parcels, "bills", *bills)
	return nil
}

type seeder struct {
	svc    *core.Service
	rng    *rand.Rand
	logger *slog.Logger

	partyIDs  []string
	parcelIDs []string
	rateIDs   []string
	billKeys  []domain.BillKey
}

func (s *seeder) seed(ctx context.Context, parties, parcels, bills int) error {
	if err := s.seedParties(ctx, parties); err != nil {
		return err
	}
	if err := s.seedRates(ctx); err != nil {
		return err
	}
	if err := s.seedParcels(ctx, parcels); err != nil {
		return err
	}
	if err := s.seedAssessments(ctx); err != nil {
		return err
	}
	if err := s.seedSupplementals(ctx); err != nil {
		return err
	}
	if err := s.seedBills(ctx, bills); err != nil {
		return err
	}
	return s.seedPayments(ctx)
}

func (s *seeder) seedParties(ctx context.Context, n int) error {
	s.logger.Info("inserting parties", "count", n)
	for i := 0; i < n; i++ {
		var party core.Party
		switch s.rng.Intn(3) {
		case 0:
			party = core.Party{Name: s.pick(firstNames) + " " + s.pick(lastNames), Type: domain.PartyIndividual}
		case 1:
			party = core.Party{Name: s.pick(riversideBusinesses), Type: domain.PartyCompany}
		default:
			party = core.Party{Name: s.pick(riversideAgencies), Type: domain.PartyGovAgency}
		}
		party.Identifier = fmt.Sprintf("%09d", s.rng.Intn(1_000_000_000))
		created, _, err := s.svc.RegisterParty(ctx, party)
		if err != nil {
			return fmt.Errorf("party %d: %w", i, err)
		}
		s.partyIDs = append(s.partyIDs, created.ID)
	}
	return nil
}

func (s *seeder) seedRates(ctx context.Context) error {
	s.logger.Info("inserting rate areas and rates")
	for _, tra := range []core.TaxRateArea{
		{Code: "TRA_001", Description: "Riverside City District"},
		{Code: "TRA_002", Description: "Murrieta District"},
		{Code: "TRA_003", Description: "Coachella District"},
	} {
		if _, _, err := s.svc.RegisterTaxRateArea(ctx, tra); err != nil {
			return err
		}
	}
	effective := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, rate := range []core.TaxRate{
		{Name: "Base Prop 13 Rate", Value: 0.0100, EffectiveDate: effective},
		{Name: "Local Bond Measure", Value: 0.0015, EffectiveDate: effective},
		{Name: "Special School Tax", Value: 0.0008, EffectiveDate: effective},
	} {
		created, _, err := s.svc.RegisterTaxRate(ctx, rate)
		if err != nil {
			return err
		}
		s.rateIDs = append(s.rateIDs, created.ID)
	}
	return nil
}

func (s *seeder) seedParcels(ctx context.Context, n int) error {
	s.logger.Info("inserting spatial units and parcels", "count", n)
	for i := 0; i < n; i++ {
		lng := -117.50 + s.rng.Float64()*0.25
		lat := 33.85 + s.rng.Float64()*0.15
		unit, _, err := s.svc.RegisterSpatialUnit(ctx, core.SpatialUnit{
			Geometry:     fmt.Sprintf("POINT(%.5f %.5f)", lng, lat),
			Address:      s.address(),
			CadastralRef: fmt.Sprintf("CAD-%06d", s.rng.Intn(1_000_000)),
			AreaSqM:      200 + s.rng.Float64()*19800,
		})
		if err != nil {
			return fmt.Errorf("spatial unit %d: %w", i, err)
		}
		parcel, _, err := s.svc.RegisterParcel(ctx, core.BAUnit{
			UnitName:      fmt.Sprintf("Parcel %c%c%c%c", s.letter(), s.letter(), s.letter(), s.letter()),
			SpatialUnitID: unit.ID,
			APN:           fmt.Sprintf("%03d-%03d-%03d", s.rng.Intn(1000), s.rng.Intn(1000), i),
			Description:   fmt.Sprintf("Household Size: %d", 1+s.rng.Intn(6)),
			BaseYear:      2018 + s.rng.Intn(3),
			BaseYearValue: 100000 + s.rng.Float64()*700000,
		})
		if err != nil {
			return fmt.Errorf("parcel %d: %w", i, err)
		}
		s.parcelIDs = append(s.parcelIDs, parcel.ID)

		owner := s.pick(s.partyIDs)
		start := time.Date(2010+s.rng.Intn(10), time.Month(1+s.rng.Intn(12)), 1+s.rng.Intn(28), 0, 0, 0, 0, time.UTC)
		if _, _, err := s.svc.GrantRRR(ctx, core.RRR{Type: domain.RRROwnership, BAUnitID: parcel.ID, PartyID: owner, StartDate: start}); err != nil {
			return fmt.Errorf("ownership %d: %w", i, err)
		}
	}
	return nil
}

func (s *seeder) seedAssessments(ctx context.Context) error {
	s.logger.Info("inserting assessment rolls")
	for _, parcelID := range s.parcelIDs {
		parcel, ok := s.svc.Parcel(parcelID)
		if !ok {
			continue
		}
		rateID := s.pick(s.rateIDs)
		for year := parcel.BaseYear; year <= 2025; year++ {
			growth := 1.0 + s.rng.Float64()*0.1
			if _, _, err := s.svc.Assess(ctx, parcelID, year, growth, domain.RollSecured, rateID); err != nil {
				return fmt.Errorf("assess %s year %d: %w", parcelID, year, err)
			}
		}
	}
	return nil
}

func (s *seeder) seedSupplementals(ctx context.Context) error {
	count := len(s.parcelIDs) / 5
	if count > 10 {
		count = 10
	}
	s.logger.Info("inserting supplemental events", "count", count)
	for i := 0; i < count; i++ {
		parcelID := s.parcelIDs[s.rng.Intn(len(s.parcelIDs))]
		parcel, ok := s.svc.Parcel(parcelID)
		if !ok {
			continue
		}
		reason := domain.ReasonChangeOfOwnership
		if s.rng.Intn(2) == 0 {
			reason = domain.ReasonNewConstruction
		}
		event := time.Date(2025, time.Month(1+s.rng.Intn(7)), 1+s.rng.Intn(28), 0, 0, 0, 0, time.UTC)
		newValue := parcel.BaseYearValue + 10000 + s.rng.Float64()*50000
		if _, _, err := s.svc.TriggerSupplemental(ctx, parcelID, event, reason, newValue, s.pick(s.rateIDs)); err != nil {
			return fmt.Errorf("supplemental %s: %w", parcelID, err)
		}
	}
	return nil
}

func (s *seeder) seedBills(ctx context.Context, n int) error {
	s.logger.Info("inserting imported bills", "count", n)
	for i := 0; i < n; i++ {
		billDate := time.Date(2022+s.rng.Intn(4), time.Month(1+s.rng.Intn(12)), 1+s.rng.Intn(28), 0, 0, 0, 0, time.UTC)
		bill, _, err := s.svc.IssueBill(ctx, core.TaxBill{
			BillDate:  billDate,
			BAUnitID:  s.pick(s.parcelIDs),
			PartyID:   s.pick(s.partyIDs),
			DueDate:   billDate.AddDate(0, 0, 30),
			AmountDue: 500 + s.rng.Float64()*4500,
			BillType:  domain.BillAnnual,
		})
		if err != nil {
			return fmt.Errorf("bill %d: %w", i, err)
		}
		s.billKeys = append(s.billKeys, bill.Key())
	}
	return nil
}

func (s *seeder) seedPayments(ctx context.Context) error {
	count := len(s.billKeys) / 2
	s.logger.Info("inserting payments", "count", count)
	for i := 0; i < count; i++ {
		key := s.billKeys[i]
		bill, err := s.svc.Bill(key)
		if err != nil {
			return err
		}
		amount := bill.AmountDue
		if s.rng.Intn(2) == 0 {
			amount = amount * (0.25 + s.rng.Float64()*0.5)
		}
		payDate := bill.BillDate.AddDate(0, 0, s.rng.Intn(60))
		if _, _, err := s.svc.RecordPayment(ctx, core.TaxPayment{
			PaymentDate: payDate,
			BillDate:    key.BillDate,
			BillUID:     key.BillUID,
			AmountPaid:  amount,
		}); err != nil {
			return fmt.Errorf("payment for %s: %w", key.BillUID, err)
		}
	}
	return nil
}

func (s *seeder) pick(values []string) string {
	return values[s.rng.Intn(len(values))]
}

func (s *seeder) letter() byte {
	return byte('A' + s.rng.Intn(26))
}

func (s *seeder) address() string {
	return fmt.Sprintf("%d %s %s\nRiverside, CA %s",
		100+s.rng.Intn(9900), s.pick(riversideStreets), s.pick(streetSuffixes), s.pick(riversideZips))
}
