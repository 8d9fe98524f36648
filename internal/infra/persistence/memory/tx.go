package memory

import (
	"time"

	"taxledger/pkg/domain"
)

var _ Transaction = (*transaction)(nil)

func (t *transaction) Snapshot() TransactionView {
	return newTransactionView(&t.state)
}

func (t *transaction) recordChange(entity domain.EntityType, action domain.Action, before, after any) {
	t.changes = append(t.changes, Change{Entity: entity, Action: action, Before: before, After: after})
}

func (t *transaction) stamp(base *domain.Base) {
	if base.ID == "" {
		base.ID = t.store.newID()
	}
	base.CreatedAt = t.now
	base.UpdatedAt = t.now
}

func validPartyType(pt domain.PartyType) bool {
	switch pt {
	case domain.PartyIndividual, domain.PartyCompany, domain.PartyGovAgency:
		return true
	}
	return false
}

// CreateParty validates and stores a new party.
func (t *transaction) CreateParty(p Party) (Party, error) {
	if p.Name == "" {
		return Party{}, domain.ValidationError{Entity: domain.EntityParty, Field: "party_name", Reason: "must not be empty"}
	}
	if !validPartyType(p.Type) {
		return Party{}, domain.ValidationError{Entity: domain.EntityParty, Field: "party_type", Reason: "unknown party type"}
	}
	if p.Identifier == "" {
		return Party{}, domain.ValidationError{Entity: domain.EntityParty, Field: "identifier", Reason: "must not be empty"}
	}
	t.stamp(&p.Base)
	t.state.parties[p.ID] = p
	t.recordChange(domain.EntityParty, domain.ActionCreate, nil, p)
	return p, nil
}

// UpdateParty applies mutator to a stored party. The identifier is frozen
// once the party appears on any bill.
func (t *transaction) UpdateParty(id string, mutator func(*Party) error) (Party, error) {
	existing, ok := t.state.parties[id]
	if !ok {
		return Party{}, domain.ValidationError{Entity: domain.EntityParty, ID: id, Reason: "not found"}
	}
	updated := existing
	if mutator != nil {
		if err := mutator(&updated); err != nil {
			return Party{}, err
		}
	}
	updated.Base = existing.Base
	if updated.Name == "" {
		return Party{}, domain.ValidationError{Entity: domain.EntityParty, ID: id, Field: "party_name", Reason: "must not be empty"}
	}
	if !validPartyType(updated.Type) {
		return Party{}, domain.ValidationError{Entity: domain.EntityParty, ID: id, Field: "party_type", Reason: "unknown party type"}
	}
	if updated.Identifier != existing.Identifier && t.partyHasBills(id) {
		return Party{}, domain.ValidationError{Entity: domain.EntityParty, ID: id, Field: "identifier", Reason: "immutable once billing history exists"}
	}
	updated.UpdatedAt = t.now
	t.state.parties[id] = updated
	t.recordChange(domain.EntityParty, domain.ActionUpdate, existing, updated)
	return updated, nil
}

func (t *transaction) partyHasBills(partyID string) bool {
	for _, rows := range t.state.bills {
		for _, bill := range rows {
			if bill.PartyID == partyID {
				return true
			}
		}
	}
	return false
}

// CreateSpatialUnit validates and stores a new spatial unit.
func (t *transaction) CreateSpatialUnit(u SpatialUnit) (SpatialUnit, error) {
	if u.CadastralRef == "" {
		return SpatialUnit{}, domain.ValidationError{Entity: domain.EntitySpatialUnit, Field: "cadastral_ref", Reason: "must not be empty"}
	}
	if u.AreaSqM < 0 {
		return SpatialUnit{}, domain.ValidationError{Entity: domain.EntitySpatialUnit, Field: "area_sq_m", Reason: "must not be negative"}
	}
	t.stamp(&u.Base)
	t.state.spatialUnits[u.ID] = u
	t.recordChange(domain.EntitySpatialUnit, domain.ActionCreate, nil, u)
	return u, nil
}

// UpdateSpatialUnit applies mutator to a stored spatial unit.
func (t *transaction) UpdateSpatialUnit(id string, mutator func(*SpatialUnit) error) (SpatialUnit, error) {
	existing, ok := t.state.spatialUnits[id]
	if !ok {
		return SpatialUnit{}, domain.ValidationError{Entity: domain.EntitySpatialUnit, ID: id, Reason: "not found"}
	}
	updated := existing
	if mutator != nil {
		if err := mutator(&updated); err != nil {
			return SpatialUnit{}, err
		}
	}
	updated.Base = existing.Base
	if updated.CadastralRef == "" {
		return SpatialUnit{}, domain.ValidationError{Entity: domain.EntitySpatialUnit, ID: id, Field: "cadastral_ref", Reason: "must not be empty"}
	}
	if updated.AreaSqM < 0 {
		return SpatialUnit{}, domain.ValidationError{Entity: domain.EntitySpatialUnit, ID: id, Field: "area_sq_m", Reason: "must not be negative"}
	}
	updated.UpdatedAt = t.now
	t.state.spatialUnits[id] = updated
	t.recordChange(domain.EntitySpatialUnit, domain.ActionUpdate, existing, updated)
	return updated, nil
}

func (t *transaction) validateBAUnitRefs(b BAUnit) error {
	if _, ok := t.state.spatialUnits[b.SpatialUnitID]; !ok {
		return domain.ReferentialIntegrityError{Entity: domain.EntityBAUnit, ID: b.ID, Ref: domain.EntitySpatialUnit, RefID: b.SpatialUnitID}
	}
	if b.TRAID != nil {
		if _, ok := t.state.rateAreas[*b.TRAID]; !ok {
			return domain.ReferentialIntegrityError{Entity: domain.EntityBAUnit, ID: b.ID, Ref: domain.EntityTaxRateArea, RefID: *b.TRAID}
		}
	}
	return nil
}

// CreateBAUnit validates and stores a new parcel. The assessor parcel
// number must be unique.
func (t *transaction) CreateBAUnit(b BAUnit) (BAUnit, error) {
	if b.APN == "" {
		return BAUnit{}, domain.ValidationError{Entity: domain.EntityBAUnit, Field: "assessor_parcel_number", Reason: "must not be empty"}
	}
	if _, taken := t.state.apnIndex[b.APN]; taken {
		return BAUnit{}, domain.ValidationError{Entity: domain.EntityBAUnit, Field: "assessor_parcel_number", Reason: "already registered"}
	}
	if b.BaseYear <= 0 {
		return BAUnit{}, domain.ValidationError{Entity: domain.EntityBAUnit, Field: "base_year", Reason: "must be a positive year"}
	}
	if b.BaseYearValue < 0 {
		return BAUnit{}, domain.ValidationError{Entity: domain.EntityBAUnit, Field: "base_year_value", Reason: "must not be negative"}
	}
	t.stamp(&b.Base)
	if err := t.validateBAUnitRefs(b); err != nil {
		return BAUnit{}, err
	}
	t.state.baUnits[b.ID] = cloneBAUnit(b)
	t.state.apnIndex[b.APN] = b.ID
	t.recordChange(domain.EntityBAUnit, domain.ActionCreate, nil, cloneBAUnit(b))
	return b, nil
}

// UpdateBAUnit applies mutator to a stored parcel. The APN is immutable;
// the superseded version is captured in the parcel history at commit.
func (t *transaction) UpdateBAUnit(id string, mutator func(*BAUnit) error) (BAUnit, error) {
	existing, ok := t.state.baUnits[id]
	if !ok {
		return BAUnit{}, domain.ValidationError{Entity: domain.EntityBAUnit, ID: id, Reason: "not found"}
	}
	updated := cloneBAUnit(existing)
	if mutator != nil {
		if err := mutator(&updated); err != nil {
			return BAUnit{}, err
		}
	}
	updated.Base = existing.Base
	if updated.APN != existing.APN {
		return BAUnit{}, domain.ValidationError{Entity: domain.EntityBAUnit, ID: id, Field: "assessor_parcel_number", Reason: "immutable"}
	}
	if updated.BaseYear <= 0 {
		return BAUnit{}, domain.ValidationError{Entity: domain.EntityBAUnit, ID: id, Field: "base_year", Reason: "must be a positive year"}
	}
	if updated.BaseYearValue < 0 {
		return BAUnit{}, domain.ValidationError{Entity: domain.EntityBAUnit, ID: id, Field: "base_year_value", Reason: "must not be negative"}
	}
	if err := t.validateBAUnitRefs(updated); err != nil {
		return BAUnit{}, err
	}
	updated.UpdatedAt = t.now
	t.state.baUnits[id] = cloneBAUnit(updated)
	t.recordChange(domain.EntityBAUnit, domain.ActionUpdate, cloneBAUnit(existing), cloneBAUnit(updated))
	return updated, nil
}

// DeleteBAUnit removes a parcel that no other record references. The
// deleted version is closed out in the parcel history at commit.
func (t *transaction) DeleteBAUnit(id string) error {
	existing, ok := t.state.baUnits[id]
	if !ok {
		return domain.ValidationError{Entity: domain.EntityBAUnit, ID: id, Reason: "not found"}
	}
	for _, rows := range t.state.bills {
		for _, bill := range rows {
			if bill.BAUnitID == id {
				return domain.ReferentialIntegrityError{Entity: domain.EntityTaxBill, ID: bill.BillUID, Ref: domain.EntityBAUnit, RefID: id}
			}
		}
	}
	for _, a := range t.state.assessments {
		if a.BAUnitID == id {
			return domain.ReferentialIntegrityError{Entity: domain.EntityTaxAssessment, ID: a.ID, Ref: domain.EntityBAUnit, RefID: id}
		}
	}
	for _, sa := range t.state.supplementals {
		if sa.BAUnitID == id {
			return domain.ReferentialIntegrityError{Entity: domain.EntitySupplemental, ID: sa.ID, Ref: domain.EntityBAUnit, RefID: id}
		}
	}
	for _, r := range t.state.rrrs {
		if r.BAUnitID == id {
			return domain.ReferentialIntegrityError{Entity: domain.EntityRRR, ID: r.ID, Ref: domain.EntityBAUnit, RefID: id}
		}
	}
	for _, ex := range t.state.exemptions {
		if ex.BAUnitID == id {
			return domain.ReferentialIntegrityError{Entity: domain.EntityExemption, ID: ex.ID, Ref: domain.EntityBAUnit, RefID: id}
		}
	}
	delete(t.state.baUnits, id)
	delete(t.state.apnIndex, existing.APN)
	t.recordChange(domain.EntityBAUnit, domain.ActionDelete, cloneBAUnit(existing), nil)
	return nil
}

// CreateTaxRateArea validates and stores a new tax rate area.
func (t *transaction) CreateTaxRateArea(tra TaxRateArea) (TaxRateArea, error) {
	if tra.Code == "" {
		return TaxRateArea{}, domain.ValidationError{Entity: domain.EntityTaxRateArea, Field: "tra_code", Reason: "must not be empty"}
	}
	for _, other := range t.state.rateAreas {
		if other.Code == tra.Code {
			return TaxRateArea{}, domain.ValidationError{Entity: domain.EntityTaxRateArea, Field: "tra_code", Reason: "already registered"}
		}
	}
	t.stamp(&tra.Base)
	t.state.rateAreas[tra.ID] = tra
	t.recordChange(domain.EntityTaxRateArea, domain.ActionCreate, nil, tra)
	return tra, nil
}

// UpdateTaxRateArea applies mutator to a stored tax rate area.
func (t *transaction) UpdateTaxRateArea(id string, mutator func(*TaxRateArea) error) (TaxRateArea, error) {
	existing, ok := t.state.rateAreas[id]
	if !ok {
		return TaxRateArea{}, domain.ValidationError{Entity: domain.EntityTaxRateArea, ID: id, Reason: "not found"}
	}
	updated := existing
	if mutator != nil {
		if err := mutator(&updated); err != nil {
			return TaxRateArea{}, err
		}
	}
	updated.Base = existing.Base
	if updated.Code == "" {
		return TaxRateArea{}, domain.ValidationError{Entity: domain.EntityTaxRateArea, ID: id, Field: "tra_code", Reason: "must not be empty"}
	}
	updated.UpdatedAt = t.now
	t.state.rateAreas[id] = updated
	t.recordChange(domain.EntityTaxRateArea, domain.ActionUpdate, existing, updated)
	return updated, nil
}

// CreateTaxRate validates and stores a new rate component.
func (t *transaction) CreateTaxRate(r TaxRate) (TaxRate, error) {
	if r.Name == "" {
		return TaxRate{}, domain.ValidationError{Entity: domain.EntityTaxRate, Field: "rate_name", Reason: "must not be empty"}
	}
	if r.Value < 0 {
		return TaxRate{}, domain.ValidationError{Entity: domain.EntityTaxRate, Field: "rate_value", Reason: "must not be negative"}
	}
	if r.ExpirationDate != nil && r.ExpirationDate.Before(r.EffectiveDate) {
		return TaxRate{}, domain.ValidationError{Entity: domain.EntityTaxRate, Field: "expiration_date", Reason: "must not precede effective_date"}
	}
	t.stamp(&r.Base)
	t.state.rates[r.ID] = cloneRate(r)
	t.recordChange(domain.EntityTaxRate, domain.ActionCreate, nil, cloneRate(r))
	return r, nil
}

func validRRRType(rt domain.RRRType) bool {
	switch rt {
	case domain.RRROwnership, domain.RRRLease, domain.RRRMortgage, domain.RRREasement:
		return true
	}
	return false
}

// CreateRRR validates and stores a new right, restriction, or responsibility.
func (t *transaction) CreateRRR(r RRR) (RRR, error) {
	if !validRRRType(r.Type) {
		return RRR{}, domain.ValidationError{Entity: domain.EntityRRR, Field: "rrr_type", Reason: "unknown rrr type"}
	}
	if _, ok := t.state.baUnits[r.BAUnitID]; !ok {
		return RRR{}, domain.ReferentialIntegrityError{Entity: domain.EntityRRR, ID: r.ID, Ref: domain.EntityBAUnit, RefID: r.BAUnitID}
	}
	if _, ok := t.state.parties[r.PartyID]; !ok {
		return RRR{}, domain.ReferentialIntegrityError{Entity: domain.EntityRRR, ID: r.ID, Ref: domain.EntityParty, RefID: r.PartyID}
	}
	if r.EndDate != nil && r.EndDate.Before(r.StartDate) {
		return RRR{}, domain.ValidationError{Entity: domain.EntityRRR, Field: "end_date", Reason: "must not precede start_date"}
	}
	t.stamp(&r.Base)
	t.state.rrrs[r.ID] = cloneRRR(r)
	t.recordChange(domain.EntityRRR, domain.ActionCreate, nil, cloneRRR(r))
	return r, nil
}

// UpdateRRR applies mutator to a stored RRR, typically to close it with an
// end date on transfer.
func (t *transaction) UpdateRRR(id string, mutator func(*RRR) error) (RRR, error) {
	existing, ok := t.state.rrrs[id]
	if !ok {
		return RRR{}, domain.ValidationError{Entity: domain.EntityRRR, ID: id, Reason: "not found"}
	}
	updated := cloneRRR(existing)
	if mutator != nil {
		if err := mutator(&updated); err != nil {
			return RRR{}, err
		}
	}
	updated.Base = existing.Base
	if !validRRRType(updated.Type) {
		return RRR{}, domain.ValidationError{Entity: domain.EntityRRR, ID: id, Field: "rrr_type", Reason: "unknown rrr type"}
	}
	if _, ok := t.state.baUnits[updated.BAUnitID]; !ok {
		return RRR{}, domain.ReferentialIntegrityError{Entity: domain.EntityRRR, ID: id, Ref: domain.EntityBAUnit, RefID: updated.BAUnitID}
	}
	if _, ok := t.state.parties[updated.PartyID]; !ok {
		return RRR{}, domain.ReferentialIntegrityError{Entity: domain.EntityRRR, ID: id, Ref: domain.EntityParty, RefID: updated.PartyID}
	}
	if updated.EndDate != nil && updated.EndDate.Before(updated.StartDate) {
		return RRR{}, domain.ValidationError{Entity: domain.EntityRRR, ID: id, Field: "end_date", Reason: "must not precede start_date"}
	}
	updated.UpdatedAt = t.now
	t.state.rrrs[id] = cloneRRR(updated)
	t.recordChange(domain.EntityRRR, domain.ActionUpdate, cloneRRR(existing), cloneRRR(updated))
	return updated, nil
}

// CreateExemption validates and stores a new exemption.
func (t *transaction) CreateExemption(e Exemption) (Exemption, error) {
	if _, ok := t.state.baUnits[e.BAUnitID]; !ok {
		return Exemption{}, domain.ReferentialIntegrityError{Entity: domain.EntityExemption, ID: e.ID, Ref: domain.EntityBAUnit, RefID: e.BAUnitID}
	}
	if _, ok := t.state.parties[e.PartyID]; !ok {
		return Exemption{}, domain.ReferentialIntegrityError{Entity: domain.EntityExemption, ID: e.ID, Ref: domain.EntityParty, RefID: e.PartyID}
	}
	if e.Amount < 0 {
		return Exemption{}, domain.ValidationError{Entity: domain.EntityExemption, Field: "amount", Reason: "must not be negative"}
	}
	if e.EndDate != nil && e.EndDate.Before(e.StartDate) {
		return Exemption{}, domain.ValidationError{Entity: domain.EntityExemption, Field: "end_date", Reason: "must not precede start_date"}
	}
	t.stamp(&e.Base)
	t.state.exemptions[e.ID] = cloneExemption(e)
	t.recordChange(domain.EntityExemption, domain.ActionCreate, nil, cloneExemption(e))
	return e, nil
}

// CreateAssessment appends an assessment row for a parcel and year. Rows are
// append-only; at most one per parcel and year.
func (t *transaction) CreateAssessment(a TaxAssessment) (TaxAssessment, error) {
	if _, ok := t.state.baUnits[a.BAUnitID]; !ok {
		return TaxAssessment{}, domain.ReferentialIntegrityError{Entity: domain.EntityTaxAssessment, ID: a.ID, Ref: domain.EntityBAUnit, RefID: a.BAUnitID}
	}
	if _, ok := t.state.rates[a.TaxRateID]; !ok {
		return TaxAssessment{}, domain.ReferentialIntegrityError{Entity: domain.EntityTaxAssessment, ID: a.ID, Ref: domain.EntityTaxRate, RefID: a.TaxRateID}
	}
	if a.AssessmentYear <= 0 {
		return TaxAssessment{}, domain.ValidationError{Entity: domain.EntityTaxAssessment, Field: "assessment_year", Reason: "must be a positive year"}
	}
	if _, dup := t.AssessmentForYear(a.BAUnitID, a.AssessmentYear); dup {
		return TaxAssessment{}, domain.ValidationError{Entity: domain.EntityTaxAssessment, Field: "assessment_year", Reason: "parcel already assessed for year"}
	}
	if a.CurrentAssessedValue < 0 {
		return TaxAssessment{}, domain.ValidationError{Entity: domain.EntityTaxAssessment, Field: "current_assessed_value", Reason: "must not be negative"}
	}
	if a.CapFactor < 1 || a.CapFactor > t.store.maxCap {
		return TaxAssessment{}, domain.ValidationError{Entity: domain.EntityTaxAssessment, Field: "cap_factor", Reason: "outside the allowed growth range"}
	}
	t.stamp(&a.Base)
	t.state.assessments[a.ID] = a
	t.recordChange(domain.EntityTaxAssessment, domain.ActionCreate, nil, a)
	return a, nil
}

// CreateSupplemental appends a supplemental assessment row. The event date
// must not precede the parcel's base year.
func (t *transaction) CreateSupplemental(sa SupplementalAssessment) (SupplementalAssessment, error) {
	parcel, ok := t.state.baUnits[sa.BAUnitID]
	if !ok {
		return SupplementalAssessment{}, domain.ReferentialIntegrityError{Entity: domain.EntitySupplemental, ID: sa.ID, Ref: domain.EntityBAUnit, RefID: sa.BAUnitID}
	}
	if _, ok := t.state.rates[sa.TaxRateID]; !ok {
		return SupplementalAssessment{}, domain.ReferentialIntegrityError{Entity: domain.EntitySupplemental, ID: sa.ID, Ref: domain.EntityTaxRate, RefID: sa.TaxRateID}
	}
	if sa.EventDate.Year() < parcel.BaseYear {
		return SupplementalAssessment{}, domain.InvalidEventDateError{BAUnitID: sa.BAUnitID, EventDate: sa.EventDate, BaseYear: parcel.BaseYear}
	}
	switch sa.ReasonCode {
	case domain.ReasonChangeOfOwnership, domain.ReasonNewConstruction:
	default:
		return SupplementalAssessment{}, domain.ValidationError{Entity: domain.EntitySupplemental, Field: "reason_code", Reason: "unknown reason code"}
	}
	if sa.NewValue < 0 {
		return SupplementalAssessment{}, domain.ValidationError{Entity: domain.EntitySupplemental, Field: "new_value", Reason: "must not be negative"}
	}
	sa.EventDate = domain.DateOnly(sa.EventDate)
	sa.DifferenceValue = sa.NewValue - sa.OldValue
	t.stamp(&sa.Base)
	t.state.supplementals[sa.ID] = sa
	t.recordChange(domain.EntitySupplemental, domain.ActionCreate, nil, sa)
	return sa, nil
}

func (t *transaction) FindParty(id string) (Party, bool) {
	p, ok := t.state.parties[id]
	return p, ok
}

func (t *transaction) FindSpatialUnit(id string) (SpatialUnit, bool) {
	u, ok := t.state.spatialUnits[id]
	return u, ok
}

func (t *transaction) FindBAUnit(id string) (BAUnit, bool) {
	b, ok := t.state.baUnits[id]
	if !ok {
		return BAUnit{}, false
	}
	return cloneBAUnit(b), true
}

func (t *transaction) FindBAUnitByAPN(apn string) (BAUnit, bool) {
	id, ok := t.state.apnIndex[apn]
	if !ok {
		return BAUnit{}, false
	}
	return t.FindBAUnit(id)
}

func (t *transaction) FindTaxRateArea(id string) (TaxRateArea, bool) {
	tra, ok := t.state.rateAreas[id]
	return tra, ok
}

func (t *transaction) FindBill(key BillKey) (TaxBill, error) {
	return findBill(&t.state, key)
}

// AssessmentForYear returns the assessment row for a parcel and year.
func (t *transaction) AssessmentForYear(baUnitID string, year int) (TaxAssessment, bool) {
	for _, a := range t.state.assessments {
		if a.BAUnitID == baUnitID && a.AssessmentYear == year {
			return a, true
		}
	}
	return TaxAssessment{}, false
}

// LatestAssessment returns the assessment row with the highest year for a
// parcel.
func (t *transaction) LatestAssessment(baUnitID string) (TaxAssessment, bool) {
	var latest TaxAssessment
	found := false
	for _, a := range t.state.assessments {
		if a.BAUnitID != baUnitID {
			continue
		}
		if !found || a.AssessmentYear > latest.AssessmentYear {
			latest = a
			found = true
		}
	}
	return latest, found
}

// RatesInForce returns the rate components effective on date, ordered by
// effective date then id.
func (t *transaction) RatesInForce(date time.Time) []TaxRate {
	return ratesInForce(&t.state, date)
}

func (t *transaction) PaymentsForBill(key BillKey) []TaxPayment {
	return paymentsForBill(&t.state, key)
}
