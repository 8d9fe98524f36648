package core

import (
	"context"
	"time"
)

// IssueBill appends a bill to the ledger exactly as given, routing it by
// bill date. Annual and supplemental billing normally go through
// IssueAnnualBill and TriggerSupplemental; this entry point serves imports
// and corrections.
func (s *Service) IssueBill(ctx context.Context, bill TaxBill) (TaxBill, Result, error) {
	var issued TaxBill
	res, err := s.run(ctx, "issue_bill", func(tx Transaction) error {
		var err error
		issued, err = tx.IssueBill(bill)
		return err
	})
	return issued, res, err
}

// RecordPayment appends a payment against a bill identified by its full
// composite key. The payment routes by its own date, which may land in a
// different partition than the bill.
func (s *Service) RecordPayment(ctx context.Context, payment TaxPayment) (TaxPayment, Result, error) {
	var recorded TaxPayment
	res, err := s.run(ctx, "record_payment", func(tx Transaction) error {
		var err error
		recorded, err = tx.RecordPayment(payment)
		return err
	})
	return recorded, res, err
}

// ProvisionLedgerPartition creates the month partition for a ledger bucket
// so subsequent rows with matching dates route to it instead of the default.
func (s *Service) ProvisionLedgerPartition(ctx context.Context, bucket LedgerBucket, month Partition) error {
	if err := s.store.ProvisionPartition(ctx, bucket, month); err != nil {
		s.logger.Error("partition provisioning failed", "bucket", string(bucket), "month", string(month), "error", err)
		return err
	}
	s.logger.Info("partition provisioned", "bucket", string(bucket), "month", string(month))
	return nil
}

// ListLedgerPartitions returns the provisioned partitions for a bucket, the
// default partition last.
func (s *Service) ListLedgerPartitions(bucket LedgerBucket) []Partition {
	return s.store.ListPartitions(bucket)
}

// ReconcileLedger moves default-partition rows whose dates fall inside the
// given provisioned month into that month's partition. Row keys are
// unchanged, so existing bill references stay valid. Returns the number of
// rows moved.
func (s *Service) ReconcileLedger(ctx context.Context, bucket LedgerBucket, month Partition) (int, error) {
	moved, err := s.store.ReconcileDefaultPartition(ctx, bucket, month)
	if err != nil {
		s.logger.Error("ledger reconcile failed", "bucket", string(bucket), "month", string(month), "error", err)
		return 0, err
	}
	s.logger.Info("ledger reconciled", "bucket", string(bucket), "month", string(month), "moved", moved)
	return moved, nil
}

// Bill retrieves one bill by composite key.
func (s *Service) Bill(key BillKey) (TaxBill, error) {
	return s.store.GetBill(key)
}

// BillsInRange returns bills with bill dates in [from, to), ordered by date
// then uid.
func (s *Service) BillsInRange(from, to time.Time) []TaxBill {
	return s.store.BillsInRange(from, to)
}

// PaymentsInRange returns payments with payment dates in [from, to), ordered
// by date then uid.
func (s *Service) PaymentsInRange(from, to time.Time) []TaxPayment {
	return s.store.PaymentsInRange(from, to)
}
