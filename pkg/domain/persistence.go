package domain

import (
	"context"
	"time"
)

// Transaction exposes the domain operations that a persistence implementation
// must support within one atomic scope. Every mutation recorded here commits
// together with its audit (and, for parcels, history) capture or not at all.
type Transaction interface {
	Snapshot() TransactionView

	CreateParty(Party) (Party, error)
	UpdateParty(id string, mutator func(*Party) error) (Party, error)
	CreateSpatialUnit(SpatialUnit) (SpatialUnit, error)
	UpdateSpatialUnit(id string, mutator func(*SpatialUnit) error) (SpatialUnit, error)
	CreateBAUnit(BAUnit) (BAUnit, error)
	UpdateBAUnit(id string, mutator func(*BAUnit) error) (BAUnit, error)
	DeleteBAUnit(id string) error
	CreateTaxRateArea(TaxRateArea) (TaxRateArea, error)
	UpdateTaxRateArea(id string, mutator func(*TaxRateArea) error) (TaxRateArea, error)
	CreateTaxRate(TaxRate) (TaxRate, error)
	CreateRRR(RRR) (RRR, error)
	UpdateRRR(id string, mutator func(*RRR) error) (RRR, error)
	CreateExemption(Exemption) (Exemption, error)

	// Assessment rows are append-only; corrections are new rows.
	CreateAssessment(TaxAssessment) (TaxAssessment, error)
	CreateSupplemental(SupplementalAssessment) (SupplementalAssessment, error)

	// Ledger appends. IssueBill routes by bill date; RecordPayment routes by
	// payment date, validates the composite bill reference, and flips the
	// bill's paid flag once cumulative payments cover the amount due.
	IssueBill(TaxBill) (TaxBill, error)
	RecordPayment(TaxPayment) (TaxPayment, error)

	FindParty(id string) (Party, bool)
	FindSpatialUnit(id string) (SpatialUnit, bool)
	FindBAUnit(id string) (BAUnit, bool)
	FindBAUnitByAPN(apn string) (BAUnit, bool)
	FindTaxRateArea(id string) (TaxRateArea, bool)
	FindBill(key BillKey) (TaxBill, error)
	AssessmentForYear(baUnitID string, year int) (TaxAssessment, bool)
	LatestAssessment(baUnitID string) (TaxAssessment, bool)
	RatesInForce(date time.Time) []TaxRate
	PaymentsForBill(key BillKey) []TaxPayment
}

// TransactionView provides read-only access to snapshot data for rules and
// reporting readers.
type TransactionView interface {
	ListParties() []Party
	ListSpatialUnits() []SpatialUnit
	ListBAUnits() []BAUnit
	ListTaxRateAreas() []TaxRateArea
	ListTaxRates() []TaxRate
	ListRRRs() []RRR
	ListExemptions() []Exemption
	ListAssessments(baUnitID string) []TaxAssessment
	ListSupplementals(baUnitID string) []SupplementalAssessment
	ListBills() []TaxBill
	FindParty(id string) (Party, bool)
	FindBAUnit(id string) (BAUnit, bool)
	FindBAUnitByAPN(apn string) (BAUnit, bool)
	BillsInRange(from, to time.Time) []TaxBill
	PaymentsInRange(from, to time.Time) []TaxPayment
	PaymentsForBill(key BillKey) []TaxPayment
}

// PersistentStore is the abstraction over durable backends. Partition
// administration lives here rather than on Transaction: provisioning is an
// operator concern, safe to run concurrently with ledger writes.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error

	GetBAUnit(id string) (BAUnit, bool)
	GetBAUnitByAPN(apn string) (BAUnit, bool)
	GetBill(key BillKey) (TaxBill, error)
	ListParties() []Party
	ListBAUnits() []BAUnit
	BillsInRange(from, to time.Time) []TaxBill
	PaymentsInRange(from, to time.Time) []TaxPayment

	// Audit surface: append-only, readable by table, operation, time range.
	AuditEntries(filter AuditFilter) []AuditEntry
	ParcelHistory(baUnitID string) []HistoryEntry

	ProvisionPartition(ctx context.Context, bucket LedgerBucket, month Partition) error
	ListPartitions(bucket LedgerBucket) []Partition
	// ReconcileDefaultPartition migrates default-partition rows whose date
	// falls inside a provisioned month. Rows written to the default before a
	// matching partition existed are never moved automatically.
	ReconcileDefaultPartition(ctx context.Context, bucket LedgerBucket, month Partition) (int, error)
}
