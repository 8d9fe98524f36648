// Package domain defines the persistent entities, value types, typed errors,
// and rule evaluation primitives of the property-tax ledger.
package domain

import "time"

// EntityType identifies the type of record stored in the ledger.
type EntityType string

// Supported entity type identifiers used in audit entries and persistence buckets.
const (
	// EntityParty identifies a rights-holder record.
	EntityParty EntityType = "party"
	// EntitySpatialUnit identifies a georeferenced footprint record.
	EntitySpatialUnit EntityType = "spatial_unit"
	// EntityBAUnit identifies a basic administrative unit (parcel) record.
	EntityBAUnit EntityType = "ba_unit"
	// EntityTaxRateArea identifies a tax rate area record.
	EntityTaxRateArea EntityType = "tax_rate_area"
	// EntityTaxRate identifies a tax rate record.
	EntityTaxRate EntityType = "tax_rate"
	// EntityRRR identifies a right/restriction/responsibility record.
	EntityRRR EntityType = "rrr"
	// EntityExemption identifies an exemption record.
	EntityExemption EntityType = "exemption"
	// EntityTaxAssessment identifies an annual assessment record.
	EntityTaxAssessment EntityType = "tax_assessment"
	// EntitySupplemental identifies a supplemental assessment record.
	EntitySupplemental EntityType = "supplemental_assessment"
	// EntityTaxBill identifies a tax bill record.
	EntityTaxBill EntityType = "tax_bill"
	// EntityTaxPayment identifies a tax payment record.
	EntityTaxPayment EntityType = "tax_payment"
)

// PartyType classifies a rights-holder.
type PartyType string

// Canonical party classifications carried on billing and ownership records.
const (
	PartyIndividual PartyType = "Individual"
	PartyCompany    PartyType = "Company"
	PartyGovAgency  PartyType = "GovAgency"
)

// RRRType enumerates the relationship kinds between a party and a parcel.
type RRRType string

// Canonical right/restriction/responsibility kinds. Multiple RRRs may be
// active concurrently for one parcel; exclusivity among kinds is a business
// rule enforced at write time, not a schema constraint.
const (
	RRROwnership RRRType = "Ownership"
	RRRLease     RRRType = "Lease"
	RRRMortgage  RRRType = "Mortgage"
	RRREasement  RRRType = "Easement"
)

// RollType distinguishes secured from unsecured assessment rolls.
type RollType string

// Assessment roll classifications.
const (
	RollSecured   RollType = "Secured"
	RollUnsecured RollType = "Unsecured"
)

// ReasonCode explains what triggered a supplemental assessment.
type ReasonCode string

// Supplemental assessment trigger reasons.
const (
	ReasonChangeOfOwnership ReasonCode = "ChangeOfOwnership"
	ReasonNewConstruction   ReasonCode = "NewConstruction"
)

// BillType distinguishes regular annual bills from supplemental bills.
type BillType string

// Bill classifications.
const (
	BillAnnual       BillType = "Annual"
	BillSupplemental BillType = "Supplemental"
)

// Base contains common fields for identified domain records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Party is the identity of a rights-holder referenced by RRRs, bills, and
// exemptions. Identifier is the business tax id and becomes immutable once
// billing history exists for the party.
type Party struct {
	Base
	Name       string    `json:"party_name"`
	Type       PartyType `json:"party_type"`
	Identifier string    `json:"identifier"`
}

// SpatialUnit is a georeferenced footprint with an address and cadastral
// reference. Geometry is an opaque WKT attribute; no geometric operations are
// computed on it.
type SpatialUnit struct {
	Base
	Geometry     string  `json:"geometry"`
	Address      string  `json:"address"`
	CadastralRef string  `json:"cadastral_ref"`
	AreaSqM      float64 `json:"area_sq_m"`
}

// BAUnit is the taxable parcel. APN is the external natural key and stays
// stable across history entries. BaseYear and BaseYearValue anchor capped
// annual growth until the next supplemental reassessment resets them.
type BAUnit struct {
	Base
	UnitName      string  `json:"unit_name"`
	SpatialUnitID string  `json:"spatial_unit_id"`
	APN           string  `json:"assessor_parcel_number"`
	TRAID         *string `json:"tra_id"`
	Description   string  `json:"description,omitempty"`
	BaseYear      int     `json:"base_year"`
	BaseYearValue float64 `json:"base_year_value"`
}

// TaxRateArea is a named administrative rate zone.
type TaxRateArea struct {
	Base
	Code        string `json:"tra_code"`
	Description string `json:"description"`
}

// TaxRate is a named rate value effective over a date range. Multiple rates
// may be in force concurrently for different purposes; selection is by
// effective-date matching.
type TaxRate struct {
	Base
	Name           string     `json:"rate_name"`
	Value          float64    `json:"rate_value"`
	EffectiveDate  time.Time  `json:"effective_date"`
	ExpirationDate *time.Time `json:"expiration_date"`
}

// InForce reports whether the rate applies on the given date.
func (r TaxRate) InForce(date time.Time) bool {
	if date.Before(r.EffectiveDate) {
		return false
	}
	return r.ExpirationDate == nil || date.Before(*r.ExpirationDate)
}

// RRR is a typed relationship between one party and one parcel with an open
// or closed date range.
type RRR struct {
	Base
	Type      RRRType    `json:"rrr_type"`
	BAUnitID  string     `json:"ba_unit_id"`
	PartyID   string     `json:"party_id"`
	StartDate time.Time  `json:"start_date"`
	EndDate   *time.Time `json:"end_date"`
}

// ActiveOn reports whether the right covers the given date.
func (r RRR) ActiveOn(date time.Time) bool {
	if date.Before(r.StartDate) {
		return false
	}
	return r.EndDate == nil || date.Before(*r.EndDate)
}

// Exemption is a value reduction applied to a parcel for a party, consumed
// when computing the taxable base of an assessment.
type Exemption struct {
	Base
	BAUnitID  string     `json:"ba_unit_id"`
	PartyID   string     `json:"party_id"`
	Type      string     `json:"exemption_type"`
	Amount    float64    `json:"amount"`
	StartDate time.Time  `json:"start_date"`
	EndDate   *time.Time `json:"end_date"`
}

// ActiveOn reports whether the exemption covers the given date.
func (e Exemption) ActiveOn(date time.Time) bool {
	if date.Before(e.StartDate) {
		return false
	}
	return e.EndDate == nil || date.Before(*e.EndDate)
}

// TaxAssessment is one row per (parcel, assessment year). Rows are created
// once per triggering event and never updated; corrections create a new row.
type TaxAssessment struct {
	Base
	BAUnitID             string   `json:"ba_unit_id"`
	AssessmentYear       int      `json:"assessment_year"`
	BaseYear             int      `json:"base_year"`
	BaseYearValue        float64  `json:"base_year_value"`
	CapFactor            float64  `json:"cap_factor"`
	CurrentAssessedValue float64  `json:"current_assessed_value"`
	RollType             RollType `json:"roll_type"`
	TaxRateID            string   `json:"tax_rate_id"`
}

// SupplementalAssessment is an out-of-cycle value adjustment for a parcel,
// generating exactly one supplemental bill for the difference.
type SupplementalAssessment struct {
	Base
	BAUnitID        string     `json:"ba_unit_id"`
	EventDate       time.Time  `json:"event_date"`
	ReasonCode      ReasonCode `json:"reason_code"`
	OldValue        float64    `json:"old_value"`
	NewValue        float64    `json:"new_value"`
	DifferenceValue float64    `json:"difference_value"`
	TaxRateID       string     `json:"tax_rate_id"`
}

// TaxBill is a demand for payment identified by the date-partitioned
// composite key (BillDate, BillUID). Append-only except for the IsPaid flag,
// which transitions exactly once from false to true.
type TaxBill struct {
	BillDate       time.Time `json:"bill_date"`
	BillUID        string    `json:"bill_uid"`
	BAUnitID       string    `json:"ba_unit_id"`
	PartyID        string    `json:"party_id"`
	DueDate        time.Time `json:"due_date"`
	AmountDue      float64   `json:"amount_due"`
	IsPaid         bool      `json:"is_paid"`
	BillType       BillType  `json:"bill_type"`
	SupplementalID *string   `json:"supplemental_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// Key returns the composite partition key of the bill.
func (b TaxBill) Key() BillKey {
	return BillKey{BillDate: b.BillDate, BillUID: b.BillUID}
}

// BillKey is the composite reference to a bill. Both components are required:
// the date routes to a partition, the uid selects the row within it.
type BillKey struct {
	BillDate time.Time `json:"bill_date"`
	BillUID  string    `json:"bill_uid"`
}

// TaxPayment is a receipt identified by (PaymentDate, PaymentUID), referencing
// its bill by full composite key since the payment may be dated in a
// different partition than the bill.
type TaxPayment struct {
	PaymentDate time.Time `json:"payment_date"`
	PaymentUID  string    `json:"payment_uid"`
	BillDate    time.Time `json:"bill_date"`
	BillUID     string    `json:"bill_uid"`
	AmountPaid  float64   `json:"amount_paid"`
	CreatedAt   time.Time `json:"created_at"`
}

// BillRef returns the composite key of the referenced bill.
func (p TaxPayment) BillRef() BillKey {
	return BillKey{BillDate: p.BillDate, BillUID: p.BillUID}
}
