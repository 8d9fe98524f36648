package domain

import (
	"fmt"
	"time"
)

// Partition identifies a physical storage bucket for dated ledger rows:
// either a calendar month ("2025-01") or the catch-all default partition.
// Routing is a pure function of the governing date column; no other field may
// influence it.
type Partition string

// DefaultPartition accepts any date outside the explicitly provisioned range
// so ledger writes never fail due to a missing partition.
const DefaultPartition Partition = "default"

// LedgerBucket names a partitioned ledger table.
type LedgerBucket string

// Partitioned ledger tables.
const (
	BucketBills    LedgerBucket = "tax_bill"
	BucketPayments LedgerBucket = "tax_payment"
)

// MonthPartition returns the calendar-month partition for a date.
func MonthPartition(date time.Time) Partition {
	return Partition(date.UTC().Format("2006-01"))
}

// ParsePartition validates a partition identifier.
func ParsePartition(s string) (Partition, error) {
	if s == string(DefaultPartition) {
		return DefaultPartition, nil
	}
	if _, err := time.Parse("2006-01", s); err != nil {
		return "", fmt.Errorf("invalid partition %q: %w", s, err)
	}
	return Partition(s), nil
}

// Contains reports whether the given date falls inside a month partition.
// The default partition contains nothing by range; it is the fallback target.
func (p Partition) Contains(date time.Time) bool {
	if p == DefaultPartition {
		return false
	}
	return MonthPartition(date) == p
}

// Route selects exactly one partition for a date: the matching month when
// provisioned, else the default.
func Route(date time.Time, provisioned func(Partition) bool) Partition {
	if month := MonthPartition(date); provisioned(month) {
		return month
	}
	return DefaultPartition
}

// DateOnly truncates a timestamp to a UTC calendar date. Ledger partition
// keys and composite bill references compare at day precision.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// SameDate reports whether two timestamps fall on the same UTC calendar day.
func SameDate(a, b time.Time) bool {
	return DateOnly(a).Equal(DateOnly(b))
}
