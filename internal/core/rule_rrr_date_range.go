package core

import (
	"context"
	"fmt"

	"taxledger/pkg/domain"
)

// NewRRRDateRangeRule returns the in-transaction rule blocking rights whose
// end date does not follow their start date.
func NewRRRDateRangeRule() domain.Rule {
	return rrrDateRangeRule{}
}

type rrrDateRangeRule struct{}

func (rrrDateRangeRule) Name() string { return "rrr_date_range" }

func (rrrDateRangeRule) Evaluate(_ context.Context, view domain.TransactionView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, rrr := range view.ListRRRs() {
		if rrr.EndDate == nil || rrr.EndDate.After(rrr.StartDate) {
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     "rrr_date_range",
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("rrr %s ends %s before it starts %s", rrr.ID, rrr.EndDate.Format("2006-01-02"), rrr.StartDate.Format("2006-01-02")),
			Entity:   domain.EntityRRR,
			EntityID: rrr.ID,
		})
	}
	return res, nil
}
