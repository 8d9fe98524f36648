package memory

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"taxledger/pkg/domain"
)

// paidEpsilon absorbs float drift when comparing cumulative payments
// against the amount due.
const paidEpsilon = 1e-9

// IssueBill appends a bill to the ledger. The row lands in the month
// partition of its bill date when one is provisioned, otherwise in the
// default partition; the composite key is the same either way.
func (t *transaction) IssueBill(bill TaxBill) (TaxBill, error) {
	if bill.AmountDue < 0 {
		return TaxBill{}, domain.ValidationError{Entity: domain.EntityTaxBill, ID: bill.BillUID, Field: "amount_due", Reason: "must not be negative"}
	}
	if _, ok := t.state.baUnits[bill.BAUnitID]; !ok {
		return TaxBill{}, domain.ReferentialIntegrityError{Entity: domain.EntityTaxBill, ID: bill.BillUID, Ref: domain.EntityBAUnit, RefID: bill.BAUnitID}
	}
	if _, ok := t.state.parties[bill.PartyID]; !ok {
		return TaxBill{}, domain.ReferentialIntegrityError{Entity: domain.EntityTaxBill, ID: bill.BillUID, Ref: domain.EntityParty, RefID: bill.PartyID}
	}
	if bill.SupplementalID != nil {
		if _, ok := t.state.supplementals[*bill.SupplementalID]; !ok {
			return TaxBill{}, domain.ReferentialIntegrityError{Entity: domain.EntityTaxBill, ID: bill.BillUID, Ref: domain.EntitySupplemental, RefID: *bill.SupplementalID}
		}
	}
	switch bill.BillType {
	case domain.BillAnnual, domain.BillSupplemental:
	default:
		return TaxBill{}, domain.ValidationError{Entity: domain.EntityTaxBill, ID: bill.BillUID, Field: "bill_type", Reason: "unknown bill type"}
	}
	bill.BillDate = domain.DateOnly(bill.BillDate)
	bill.DueDate = domain.DateOnly(bill.DueDate)
	if bill.DueDate.Before(bill.BillDate) {
		return TaxBill{}, domain.ValidationError{Entity: domain.EntityTaxBill, ID: bill.BillUID, Field: "due_date", Reason: "must not precede bill_date"}
	}
	if bill.BillUID == "" {
		bill.BillUID = uuid.NewString()
	}
	if _, taken := t.state.billIndex[bill.BillUID]; taken {
		return TaxBill{}, domain.ValidationError{Entity: domain.EntityTaxBill, ID: bill.BillUID, Field: "bill_uid", Reason: "already issued"}
	}
	bill.IsPaid = false
	bill.CreatedAt = t.now

	part := domain.Route(bill.BillDate, func(p Partition) bool {
		return t.state.provisioned[domain.BucketBills][p]
	})
	if t.state.bills[part] == nil {
		t.state.bills[part] = map[string]TaxBill{}
	}
	t.state.bills[part][bill.BillUID] = cloneBill(bill)
	t.state.billIndex[bill.BillUID] = bill.Key()
	t.recordChange(domain.EntityTaxBill, domain.ActionCreate, nil, cloneBill(bill))
	return bill, nil
}

// RecordPayment appends a payment and, when cumulative payments cover the
// amount due, flips the referenced bill's paid flag. The flip happens at
// most once; further payments against a paid bill are accepted and recorded
// without touching the bill row.
func (t *transaction) RecordPayment(payment TaxPayment) (TaxPayment, error) {
	if payment.AmountPaid <= 0 {
		return TaxPayment{}, domain.ValidationError{Entity: domain.EntityTaxPayment, ID: payment.PaymentUID, Field: "amount_paid", Reason: "must be positive"}
	}
	payment.PaymentDate = domain.DateOnly(payment.PaymentDate)
	payment.BillDate = domain.DateOnly(payment.BillDate)

	key, ok := t.state.billIndex[payment.BillUID]
	if !ok {
		return TaxPayment{}, domain.UnknownBillError{Key: payment.BillRef()}
	}
	if !domain.SameDate(key.BillDate, payment.BillDate) {
		return TaxPayment{}, domain.DanglingBillReferenceError{Key: payment.BillRef(), ActualDate: key.BillDate}
	}
	billPart, bill, found := locateBill(&t.state, payment.BillUID)
	if !found {
		return TaxPayment{}, domain.UnknownBillError{Key: payment.BillRef()}
	}

	if payment.PaymentUID == "" {
		payment.PaymentUID = uuid.NewString()
	}
	for _, rows := range t.state.payments {
		if _, taken := rows[payment.PaymentUID]; taken {
			return TaxPayment{}, domain.ValidationError{Entity: domain.EntityTaxPayment, ID: payment.PaymentUID, Field: "payment_uid", Reason: "already recorded"}
		}
	}
	payment.CreatedAt = t.now

	part := domain.Route(payment.PaymentDate, func(p Partition) bool {
		return t.state.provisioned[domain.BucketPayments][p]
	})
	if t.state.payments[part] == nil {
		t.state.payments[part] = map[string]TaxPayment{}
	}
	t.state.payments[part][payment.PaymentUID] = payment
	t.recordChange(domain.EntityTaxPayment, domain.ActionCreate, nil, payment)

	if !bill.IsPaid {
		total := 0.0
		for _, p := range paymentsForBill(&t.state, key) {
			total += p.AmountPaid
		}
		if total+paidEpsilon >= bill.AmountDue {
			before := cloneBill(bill)
			bill.IsPaid = true
			t.state.bills[billPart][bill.BillUID] = cloneBill(bill)
			t.recordChange(domain.EntityTaxBill, domain.ActionUpdate, before, cloneBill(bill))
		}
	}
	return payment, nil
}

// locateBill finds the partition holding a bill uid. The month partition of
// the indexed date is the common case; rows not yet reconciled sit in the
// default partition.
func locateBill(state *memoryState, uid string) (Partition, TaxBill, bool) {
	key, ok := state.billIndex[uid]
	if !ok {
		return "", TaxBill{}, false
	}
	month := domain.MonthPartition(key.BillDate)
	if bill, ok := state.bills[month][uid]; ok {
		return month, bill, true
	}
	if bill, ok := state.bills[domain.DefaultPartition][uid]; ok {
		return domain.DefaultPartition, bill, true
	}
	for part, rows := range state.bills {
		if bill, ok := rows[uid]; ok {
			return part, bill, true
		}
	}
	return "", TaxBill{}, false
}

func findBill(state *memoryState, key BillKey) (TaxBill, error) {
	indexed, ok := state.billIndex[key.BillUID]
	if !ok {
		return TaxBill{}, domain.UnknownBillError{Key: key}
	}
	if !domain.SameDate(indexed.BillDate, key.BillDate) {
		return TaxBill{}, domain.DanglingBillReferenceError{Key: key, ActualDate: indexed.BillDate}
	}
	_, bill, found := locateBill(state, key.BillUID)
	if !found {
		return TaxBill{}, domain.UnknownBillError{Key: key}
	}
	return cloneBill(bill), nil
}

func billsInRange(state *memoryState, from, to time.Time) []TaxBill {
	from, to = domain.DateOnly(from), domain.DateOnly(to)
	var out []TaxBill
	for _, rows := range state.bills {
		for _, bill := range rows {
			if !bill.BillDate.Before(from) && bill.BillDate.Before(to) {
				out = append(out, cloneBill(bill))
			}
		}
	}
	sortBills(out)
	return out
}

func paymentsInRange(state *memoryState, from, to time.Time) []TaxPayment {
	from, to = domain.DateOnly(from), domain.DateOnly(to)
	var out []TaxPayment
	for _, rows := range state.payments {
		for _, payment := range rows {
			if !payment.PaymentDate.Before(from) && payment.PaymentDate.Before(to) {
				out = append(out, payment)
			}
		}
	}
	sortPayments(out)
	return out
}

func paymentsForBill(state *memoryState, key BillKey) []TaxPayment {
	var out []TaxPayment
	for _, rows := range state.payments {
		for _, payment := range rows {
			if payment.BillUID == key.BillUID && domain.SameDate(payment.BillDate, key.BillDate) {
				out = append(out, payment)
			}
		}
	}
	sortPayments(out)
	return out
}

func ratesInForce(state *memoryState, date time.Time) []TaxRate {
	var out []TaxRate
	for _, r := range state.rates {
		if r.InForce(date) {
			out = append(out, cloneRate(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EffectiveDate.Equal(out[j].EffectiveDate) {
			return out[i].EffectiveDate.Before(out[j].EffectiveDate)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func sortBills(bills []TaxBill) {
	sort.Slice(bills, func(i, j int) bool {
		if !bills[i].BillDate.Equal(bills[j].BillDate) {
			return bills[i].BillDate.Before(bills[j].BillDate)
		}
		return bills[i].BillUID < bills[j].BillUID
	})
}

func sortPayments(payments []TaxPayment) {
	sort.Slice(payments, func(i, j int) bool {
		if !payments[i].PaymentDate.Equal(payments[j].PaymentDate) {
			return payments[i].PaymentDate.Before(payments[j].PaymentDate)
		}
		return payments[i].PaymentUID < payments[j].PaymentUID
	})
}
