package memory

import (
	"sort"
	"time"
)

var _ TransactionView = (*transactionView)(nil)

// transactionView provides read-only access over a state snapshot for rules
// and reporting readers.
type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) *transactionView {
	return &transactionView{state: state}
}

func (v *transactionView) ListParties() []Party {
	out := make([]Party, 0, len(v.state.parties))
	for _, p := range v.state.parties {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (v *transactionView) ListSpatialUnits() []SpatialUnit {
	out := make([]SpatialUnit, 0, len(v.state.spatialUnits))
	for _, u := range v.state.spatialUnits {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (v *transactionView) ListBAUnits() []BAUnit {
	out := make([]BAUnit, 0, len(v.state.baUnits))
	for _, b := range v.state.baUnits {
		out = append(out, cloneBAUnit(b))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].APN < out[j].APN })
	return out
}

func (v *transactionView) ListTaxRateAreas() []TaxRateArea {
	out := make([]TaxRateArea, 0, len(v.state.rateAreas))
	for _, tra := range v.state.rateAreas {
		out = append(out, tra)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func (v *transactionView) ListTaxRates() []TaxRate {
	out := make([]TaxRate, 0, len(v.state.rates))
	for _, r := range v.state.rates {
		out = append(out, cloneRate(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (v *transactionView) ListRRRs() []RRR {
	out := make([]RRR, 0, len(v.state.rrrs))
	for _, r := range v.state.rrrs {
		out = append(out, cloneRRR(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (v *transactionView) ListExemptions() []Exemption {
	out := make([]Exemption, 0, len(v.state.exemptions))
	for _, e := range v.state.exemptions {
		out = append(out, cloneExemption(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (v *transactionView) ListAssessments(baUnitID string) []TaxAssessment {
	var out []TaxAssessment
	for _, a := range v.state.assessments {
		if a.BAUnitID == baUnitID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AssessmentYear != out[j].AssessmentYear {
			return out[i].AssessmentYear < out[j].AssessmentYear
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (v *transactionView) ListSupplementals(baUnitID string) []SupplementalAssessment {
	var out []SupplementalAssessment
	for _, sa := range v.state.supplementals {
		if sa.BAUnitID == baUnitID {
			out = append(out, sa)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EventDate.Equal(out[j].EventDate) {
			return out[i].EventDate.Before(out[j].EventDate)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (v *transactionView) ListBills() []TaxBill {
	var out []TaxBill
	for _, rows := range v.state.bills {
		for _, bill := range rows {
			out = append(out, cloneBill(bill))
		}
	}
	sortBills(out)
	return out
}

func (v *transactionView) FindParty(id string) (Party, bool) {
	p, ok := v.state.parties[id]
	return p, ok
}

func (v *transactionView) FindBAUnit(id string) (BAUnit, bool) {
	b, ok := v.state.baUnits[id]
	if !ok {
		return BAUnit{}, false
	}
	return cloneBAUnit(b), true
}

func (v *transactionView) FindBAUnitByAPN(apn string) (BAUnit, bool) {
	id, ok := v.state.apnIndex[apn]
	if !ok {
		return BAUnit{}, false
	}
	return v.FindBAUnit(id)
}

func (v *transactionView) BillsInRange(from, to time.Time) []TaxBill {
	return billsInRange(v.state, from, to)
}

func (v *transactionView) PaymentsInRange(from, to time.Time) []TaxPayment {
	return paymentsInRange(v.state, from, to)
}

func (v *transactionView) PaymentsForBill(key BillKey) []TaxPayment {
	return paymentsForBill(v.state, key)
}
