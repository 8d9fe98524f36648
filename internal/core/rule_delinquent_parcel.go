package core

import (
	"context"
	"fmt"

	"taxledger/pkg/domain"
)

// NewDelinquentParcelRule returns the in-transaction rule warning when a new
// bill is issued against a parcel that already carries unpaid bills past due.
// The commit proceeds; collections follow up out of band.
func NewDelinquentParcelRule() domain.Rule {
	return delinquentParcelRule{}
}

type delinquentParcelRule struct{}

func (delinquentParcelRule) Name() string { return "delinquent_parcel" }

func (delinquentParcelRule) Evaluate(_ context.Context, view domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityTaxBill || change.Action != domain.ActionCreate {
			continue
		}
		issued, ok := change.After.(domain.TaxBill)
		if !ok {
			continue
		}
		overdue := 0
		for _, bill := range view.ListBills() {
			if bill.BAUnitID != issued.BAUnitID || bill.IsPaid || bill.BillUID == issued.BillUID {
				continue
			}
			if bill.DueDate.Before(issued.BillDate) {
				overdue++
			}
		}
		if overdue == 0 {
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     "delinquent_parcel",
			Severity: domain.SeverityWarn,
			Message:  fmt.Sprintf("parcel %s has %d unpaid past-due bill(s) at issuance of %s", issued.BAUnitID, overdue, issued.BillUID),
			Entity:   domain.EntityTaxBill,
			EntityID: issued.BillUID,
		})
	}
	return res, nil
}
