package core

import (
	"context"
	"fmt"

	"taxledger/pkg/domain"
)

// NewSoleOwnershipRule returns the in-transaction rule blocking commits that
// would leave a parcel with overlapping ownership rights.
func NewSoleOwnershipRule() domain.Rule {
	return soleOwnershipRule{}
}

type soleOwnershipRule struct{}

func (soleOwnershipRule) Name() string { return "sole_ownership" }

func (soleOwnershipRule) Evaluate(_ context.Context, view domain.TransactionView, _ []domain.Change) (domain.Result, error) {
	ownerships := make(map[string][]domain.RRR)
	for _, rrr := range view.ListRRRs() {
		if rrr.Type != domain.RRROwnership {
			continue
		}
		ownerships[rrr.BAUnitID] = append(ownerships[rrr.BAUnitID], rrr)
	}

	res := domain.Result{}
	for parcelID, rights := range ownerships {
		for i := 0; i < len(rights); i++ {
			for j := i + 1; j < len(rights); j++ {
				if !rrrOverlap(rights[i], rights[j]) {
					continue
				}
				res.Violations = append(res.Violations, domain.Violation{
					Rule:     "sole_ownership",
					Severity: domain.SeverityBlock,
					Message:  fmt.Sprintf("parcel %s has overlapping ownership records %s and %s", parcelID, rights[i].ID, rights[j].ID),
					Entity:   domain.EntityBAUnit,
					EntityID: parcelID,
				})
			}
		}
	}
	return res, nil
}

// rrrOverlap reports whether the two date ranges share at least one day. An
// open-ended right extends indefinitely.
func rrrOverlap(a, b domain.RRR) bool {
	if a.EndDate != nil && !b.StartDate.Before(*a.EndDate) {
		return false
	}
	if b.EndDate != nil && !a.StartDate.Before(*b.EndDate) {
		return false
	}
	return true
}
