// Package core exposes the transactional service surface of the property-tax
// ledger: assessment math, billing, payments, partition administration, the
// derived unpaid view, and exports.
package core

import (
	"taxledger/pkg/domain"
)

type (
	// Party aliases domain.Party for service operations.
	Party = domain.Party
	// SpatialUnit aliases domain.SpatialUnit.
	SpatialUnit = domain.SpatialUnit
	// BAUnit aliases domain.BAUnit.
	BAUnit = domain.BAUnit
	// TaxRateArea aliases domain.TaxRateArea.
	TaxRateArea = domain.TaxRateArea
	// TaxRate aliases domain.TaxRate.
	TaxRate = domain.TaxRate
	// RRR aliases domain.RRR.
	RRR = domain.RRR
	// Exemption aliases domain.Exemption.
	Exemption = domain.Exemption
	// TaxAssessment aliases domain.TaxAssessment.
	TaxAssessment = domain.TaxAssessment
	// SupplementalAssessment aliases domain.SupplementalAssessment.
	SupplementalAssessment = domain.SupplementalAssessment
	// TaxBill aliases domain.TaxBill.
	TaxBill = domain.TaxBill
	// TaxPayment aliases domain.TaxPayment.
	TaxPayment = domain.TaxPayment
	// BillKey aliases the composite bill reference.
	BillKey = domain.BillKey
	// Partition aliases the month partition label.
	Partition = domain.Partition
	// LedgerBucket aliases the partitioned ledger table name.
	LedgerBucket = domain.LedgerBucket
	// Result aliases domain.Result.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView.
	TransactionView = domain.TransactionView
	// PersistentStore aliases domain.PersistentStore.
	PersistentStore = domain.PersistentStore
)

// Logger is the minimal structured logging surface the service emits to.
// *slog.Logger satisfies it directly.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
