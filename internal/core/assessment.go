package core

import (
	"context"
	"time"

	"taxledger/pkg/domain"
)

// Assess produces the roll assessment for a parcel and year. The first roll
// year of a parcel is its base year at the base year value; every later year
// grows the prior year's value by the market growth factor capped at the
// configured cap factor. A base year reset restarts the growth chain at the
// reset value. Assessing a year whose prior year was never assessed fails.
func (s *Service) Assess(ctx context.Context, parcelID string, year int, growthFactor float64, rollType domain.RollType, taxRateID string) (TaxAssessment, Result, error) {
	var created TaxAssessment
	res, err := s.run(ctx, "assess", func(tx Transaction) error {
		parcel, ok := tx.FindBAUnit(parcelID)
		if !ok {
			return domain.ValidationError{Entity: domain.EntityBAUnit, ID: parcelID, Reason: "not found"}
		}
		if growthFactor <= 0 {
			return domain.ValidationError{Entity: domain.EntityTaxAssessment, Field: "growth_factor", Reason: "must be positive"}
		}

		var current float64
		switch {
		case year == parcel.BaseYear:
			current = parcel.BaseYearValue
		case year < parcel.BaseYear:
			return domain.ValidationError{Entity: domain.EntityTaxAssessment, Field: "assessment_year", Reason: "precedes the parcel base year"}
		default:
			factor := growthFactor
			if factor > s.cfg.CapFactor {
				factor = s.cfg.CapFactor
			}
			prev, ok := tx.AssessmentForYear(parcelID, year-1)
			if ok && prev.BaseYear != parcel.BaseYear {
				// The prior year's row predates a base year reset and no
				// longer anchors growth.
				ok = false
			}
			switch {
			case ok:
				current = prev.CurrentAssessedValue * factor
			case year-1 == parcel.BaseYear:
				// The reset landed on an already assessed year; grow from
				// the reset value.
				current = parcel.BaseYearValue * factor
			default:
				return domain.NoPriorAssessmentError{BAUnitID: parcelID, Year: year}
			}
		}

		var err error
		created, err = tx.CreateAssessment(TaxAssessment{
			BAUnitID:             parcelID,
			AssessmentYear:       year,
			BaseYear:             parcel.BaseYear,
			BaseYearValue:        parcel.BaseYearValue,
			CapFactor:            s.cfg.CapFactor,
			CurrentAssessedValue: current,
			RollType:             rollType,
			TaxRateID:            taxRateID,
		})
		return err
	})
	return created, res, err
}

// SupplementalOutcome reports the records written by TriggerSupplemental.
type SupplementalOutcome struct {
	Supplemental SupplementalAssessment
	Parcel       BAUnit
	// Bill is nil when the reassessment produced no positive difference.
	Bill *TaxBill
}

// TriggerSupplemental reassesses a parcel after a change of ownership or new
// construction. In one atomic unit it records the supplemental event, resets
// the parcel's base year to the event year at the new value, and issues
// exactly one supplemental bill for the value difference when positive.
func (s *Service) TriggerSupplemental(ctx context.Context, parcelID string, eventDate time.Time, reason domain.ReasonCode, newValue float64, taxRateID string) (SupplementalOutcome, Result, error) {
	var outcome SupplementalOutcome
	res, err := s.run(ctx, "trigger_supplemental", func(tx Transaction) error {
		parcel, ok := tx.FindBAUnit(parcelID)
		if !ok {
			return domain.ValidationError{Entity: domain.EntityBAUnit, ID: parcelID, Reason: "not found"}
		}
		// Roll rows written before a base year reset no longer carry the
		// baseline; a same-day second event measures against the first's
		// reset value, not the pre-reset roll.
		oldValue := parcel.BaseYearValue
		if latest, ok := tx.LatestAssessment(parcelID); ok && latest.BaseYear == parcel.BaseYear {
			oldValue = latest.CurrentAssessedValue
		}

		supplemental, err := tx.CreateSupplemental(SupplementalAssessment{
			BAUnitID:   parcelID,
			EventDate:  eventDate,
			ReasonCode: reason,
			OldValue:   oldValue,
			NewValue:   newValue,
			TaxRateID:  taxRateID,
		})
		if err != nil {
			return err
		}
		outcome.Supplemental = supplemental

		outcome.Parcel, err = tx.UpdateBAUnit(parcelID, func(b *BAUnit) error {
			b.BaseYear = eventDate.Year()
			b.BaseYearValue = newValue
			return nil
		})
		if err != nil {
			return err
		}

		if supplemental.DifferenceValue <= 0 {
			return nil
		}
		ownerID, err := ownerAt(tx, parcelID, eventDate)
		if err != nil {
			return err
		}
		rate, err := combinedRate(tx, eventDate)
		if err != nil {
			return err
		}
		billDate := domain.DateOnly(eventDate)
		bill, err := tx.IssueBill(TaxBill{
			BillDate:       billDate,
			BAUnitID:       parcelID,
			PartyID:        ownerID,
			DueDate:        billDate.AddDate(0, 0, s.cfg.BillGraceDays),
			AmountDue:      supplemental.DifferenceValue * rate,
			BillType:       domain.BillSupplemental,
			SupplementalID: &supplemental.ID,
		})
		if err != nil {
			return err
		}
		outcome.Bill = &bill
		return nil
	})
	return outcome, res, err
}

// AssessmentRoll returns a parcel's assessments ordered by year.
func (s *Service) AssessmentRoll(ctx context.Context, parcelID string) ([]TaxAssessment, error) {
	var roll []TaxAssessment
	err := s.store.View(ctx, func(view TransactionView) error {
		roll = view.ListAssessments(parcelID)
		return nil
	})
	return roll, err
}

// IssueAnnualBill bills the current owner for a parcel's roll assessment of
// the given year. Active exemptions are subtracted from the assessed value
// (floored at zero) before the combined rate applies.
func (s *Service) IssueAnnualBill(ctx context.Context, parcelID string, year int, billDate time.Time) (TaxBill, Result, error) {
	var issued TaxBill
	res, err := s.run(ctx, "issue_annual_bill", func(tx Transaction) error {
		assessment, ok := tx.AssessmentForYear(parcelID, year)
		if !ok {
			return domain.ValidationError{Entity: domain.EntityTaxAssessment, ID: parcelID, Field: "assessment_year", Reason: "parcel has no roll assessment for the billing year"}
		}
		taxable := assessment.CurrentAssessedValue
		for _, exemption := range tx.Snapshot().ListExemptions() {
			if exemption.BAUnitID == parcelID && exemption.ActiveOn(billDate) {
				taxable -= exemption.Amount
			}
		}
		if taxable < 0 {
			taxable = 0
		}
		ownerID, err := ownerAt(tx, parcelID, billDate)
		if err != nil {
			return err
		}
		rate, err := combinedRate(tx, billDate)
		if err != nil {
			return err
		}
		day := domain.DateOnly(billDate)
		issued, err = tx.IssueBill(TaxBill{
			BillDate:  day,
			BAUnitID:  parcelID,
			PartyID:   ownerID,
			DueDate:   day.AddDate(0, 0, s.cfg.BillGraceDays),
			AmountDue: taxable * rate,
			BillType:  domain.BillAnnual,
		})
		return err
	})
	return issued, res, err
}

// ownerAt resolves the party holding an active ownership RRR on the parcel
// at the given date.
func ownerAt(tx Transaction, parcelID string, date time.Time) (string, error) {
	var ownerID string
	var earliest time.Time
	for _, rrr := range tx.Snapshot().ListRRRs() {
		if rrr.Type != domain.RRROwnership || rrr.BAUnitID != parcelID || !rrr.ActiveOn(date) {
			continue
		}
		if ownerID == "" || rrr.StartDate.Before(earliest) {
			ownerID = rrr.PartyID
			earliest = rrr.StartDate
		}
	}
	if ownerID == "" {
		return "", domain.ValidationError{Entity: domain.EntityBAUnit, ID: parcelID, Field: "ownership", Reason: "no active ownership record on the billing date"}
	}
	return ownerID, nil
}

// combinedRate sums the rate components in force on the given date.
func combinedRate(tx Transaction, date time.Time) (float64, error) {
	rates := tx.RatesInForce(date)
	if len(rates) == 0 {
		return 0, domain.ValidationError{Entity: domain.EntityTaxRate, Field: "effective_date", Reason: "no tax rate in force on the billing date"}
	}
	total := 0.0
	for _, rate := range rates {
		total += rate.Value
	}
	return total, nil
}
