package core

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"taxledger/internal/archive"
	"taxledger/pkg/domain"
)

// ExportAuditTrail streams matching audit entries to w as JSON lines in
// sequence order. Returns the number of entries written.
func (s *Service) ExportAuditTrail(w io.Writer, filter domain.AuditFilter) (int, error) {
	enc := json.NewEncoder(w)
	entries := s.store.AuditEntries(filter)
	for i, entry := range entries {
		if err := enc.Encode(entry); err != nil {
			return i, fmt.Errorf("encode audit entry %d: %w", entry.Seq, err)
		}
	}
	return len(entries), nil
}

// unpaidCSVHeader is the column layout of unpaid-view exports.
var unpaidCSVHeader = []string{"bill_date", "bill_uid", "ba_unit_id", "assessor_parcel_number", "party_id", "party_name", "bill_type", "due_date", "amount_due", "amount_paid", "balance"}

// ExportUnpaidCSV refreshes the unpaid view and writes it to w as CSV.
// Returns the number of data rows written.
func (s *Service) ExportUnpaidCSV(ctx context.Context, w io.Writer) (int, error) {
	snapshot, err := s.RefreshUnpaidView(ctx)
	if err != nil {
		return 0, err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(unpaidCSVHeader); err != nil {
		return 0, err
	}
	for i, item := range snapshot.Items {
		row := []string{
			item.Bill.BillDate.Format("2006-01-02"),
			item.Bill.BillUID,
			item.BAUnitID,
			item.APN,
			item.PartyID,
			item.PartyName,
			item.BillType,
			item.DueDate.Format("2006-01-02"),
			strconv.FormatFloat(item.AmountDue, 'f', 2, 64),
			strconv.FormatFloat(item.AmountPaid, 'f', 2, 64),
			strconv.FormatFloat(item.Balance, 'f', 2, 64),
		}
		if err := cw.Write(row); err != nil {
			return i, err
		}
	}
	cw.Flush()
	return len(snapshot.Items), cw.Error()
}

// ArchiveAuditTrail exports matching audit entries and stores the artifact
// under exports/audit/<timestamp>.jsonl.
func (s *Service) ArchiveAuditTrail(ctx context.Context, store archive.Store, filter domain.AuditFilter) (archive.Info, error) {
	var buf bytes.Buffer
	count, err := s.ExportAuditTrail(&buf, filter)
	if err != nil {
		return archive.Info{}, err
	}
	key := fmt.Sprintf("exports/audit/%s.jsonl", s.nowFn().Format("2006-01-02T15-04-05Z"))
	info, err := store.Put(ctx, key, &buf, archive.PutOptions{
		ContentType: "application/x-ndjson",
		Metadata:    map[string]string{"entries": strconv.Itoa(count)},
	})
	if err != nil {
		s.logger.Error("audit archive failed", "key", key, "error", err)
		return archive.Info{}, err
	}
	s.logger.Info("audit trail archived", "key", key, "entries", count)
	return info, nil
}

// ArchiveUnpaidView exports the unpaid view and stores the artifact under
// exports/unpaid/<timestamp>.csv.
func (s *Service) ArchiveUnpaidView(ctx context.Context, store archive.Store) (archive.Info, error) {
	var buf bytes.Buffer
	count, err := s.ExportUnpaidCSV(ctx, &buf)
	if err != nil {
		return archive.Info{}, err
	}
	key := fmt.Sprintf("exports/unpaid/%s.csv", s.nowFn().Format("2006-01-02T15-04-05Z"))
	info, err := store.Put(ctx, key, &buf, archive.PutOptions{
		ContentType: "text/csv",
		Metadata:    map[string]string{"rows": strconv.Itoa(count)},
	})
	if err != nil {
		s.logger.Error("unpaid archive failed", "key", key, "error", err)
		return archive.Info{}, err
	}
	s.logger.Info("unpaid view archived", "key", key, "rows", count)
	return info, nil
}
