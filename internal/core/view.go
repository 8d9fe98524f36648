package core

import (
	"context"
	"sort"
	"sync/atomic"
	"time"
)

// UnpaidItem is one outstanding bill joined with its parcel and billed party.
type UnpaidItem struct {
	Bill       BillKey   `json:"bill"`
	BAUnitID   string    `json:"ba_unit_id"`
	APN        string    `json:"assessor_parcel_number"`
	PartyID    string    `json:"party_id"`
	PartyName  string    `json:"party_name"`
	BillType   string    `json:"bill_type"`
	DueDate    time.Time `json:"due_date"`
	AmountDue  float64   `json:"amount_due"`
	AmountPaid float64   `json:"amount_paid"`
	Balance    float64   `json:"balance"`
}

// UnpaidSnapshot is a point-in-time materialization of all unpaid bills. It
// is derived state; the ledger remains the source of truth and the snapshot
// goes stale until the next refresh.
type UnpaidSnapshot struct {
	GeneratedAt time.Time    `json:"generated_at"`
	Items       []UnpaidItem `json:"items"`
}

type unpaidView struct {
	current atomic.Pointer[UnpaidSnapshot]
}

// RefreshUnpaidView rebuilds the unpaid-bill snapshot from the ledger inside
// a read view and swaps it in atomically.
func (s *Service) RefreshUnpaidView(ctx context.Context) (UnpaidSnapshot, error) {
	snapshot := UnpaidSnapshot{GeneratedAt: s.nowFn()}
	err := s.store.View(ctx, func(view TransactionView) error {
		for _, bill := range view.ListBills() {
			if bill.IsPaid {
				continue
			}
			paid := 0.0
			for _, payment := range view.PaymentsForBill(bill.Key()) {
				paid += payment.AmountPaid
			}
			item := UnpaidItem{
				Bill:       bill.Key(),
				BAUnitID:   bill.BAUnitID,
				PartyID:    bill.PartyID,
				BillType:   string(bill.BillType),
				DueDate:    bill.DueDate,
				AmountDue:  bill.AmountDue,
				AmountPaid: paid,
				Balance:    bill.AmountDue - paid,
			}
			if parcel, ok := view.FindBAUnit(bill.BAUnitID); ok {
				item.APN = parcel.APN
			}
			if party, ok := view.FindParty(bill.PartyID); ok {
				item.PartyName = party.Name
			}
			snapshot.Items = append(snapshot.Items, item)
		}
		return nil
	})
	if err != nil {
		return UnpaidSnapshot{}, err
	}
	sort.Slice(snapshot.Items, func(i, j int) bool {
		a, b := snapshot.Items[i], snapshot.Items[j]
		if !a.DueDate.Equal(b.DueDate) {
			return a.DueDate.Before(b.DueDate)
		}
		return a.Bill.BillUID < b.Bill.BillUID
	})
	s.unpaid.current.Store(&snapshot)
	s.logger.Info("unpaid view refreshed", "items", len(snapshot.Items))
	return snapshot, nil
}

// UnpaidSnapshot returns the most recent snapshot. The second return is false
// until the first refresh.
func (s *Service) UnpaidSnapshot() (UnpaidSnapshot, bool) {
	snapshot := s.unpaid.current.Load()
	if snapshot == nil {
		return UnpaidSnapshot{}, false
	}
	return *snapshot, true
}

// UnpaidByParcel filters the current snapshot down to one parcel.
func (s *Service) UnpaidByParcel(baUnitID string) []UnpaidItem {
	snapshot, ok := s.UnpaidSnapshot()
	if !ok {
		return nil
	}
	var items []UnpaidItem
	for _, item := range snapshot.Items {
		if item.BAUnitID == baUnitID {
			items = append(items, item)
		}
	}
	return items
}
