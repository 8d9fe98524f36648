package domain

import (
	"fmt"
	"time"
)

// ValidationError rejects a write before any state change: negative amounts,
// bad date ranges, cap-factor violations, duplicate natural keys. Fully
// recoverable by caller retry with corrected input.
type ValidationError struct {
	Entity EntityType
	ID     string
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("validation: %s %s: %s", e.Entity, e.Field, e.Reason)
	}
	return fmt.Sprintf("validation: %s %q %s: %s", e.Entity, e.ID, e.Field, e.Reason)
}

// ReferentialIntegrityError rejects a delete or update that references a
// missing row or a row still in use. Entity state is left unchanged; no
// cascading deletes are permitted.
type ReferentialIntegrityError struct {
	Entity EntityType
	ID     string
	Ref    EntityType
	RefID  string
}

func (e ReferentialIntegrityError) Error() string {
	if e.RefID == "" {
		return fmt.Sprintf("referential integrity: %s %q references missing %s", e.Entity, e.ID, e.Ref)
	}
	return fmt.Sprintf("referential integrity: %s %q still referenced by %s %q", e.Entity, e.ID, e.Ref, e.RefID)
}

// UnknownBillError rejects a payment whose referenced bill does not exist.
type UnknownBillError struct {
	Key BillKey
}

func (e UnknownBillError) Error() string {
	return fmt.Sprintf("unknown bill (%s, %s)", e.Key.BillDate.Format("2006-01-02"), e.Key.BillUID)
}

// DanglingBillReferenceError rejects a payment whose bill uid exists but
// under a different bill date: the composite key must match both components.
type DanglingBillReferenceError struct {
	Key        BillKey
	ActualDate time.Time
}

func (e DanglingBillReferenceError) Error() string {
	return fmt.Sprintf("dangling bill reference: uid %s dated %s, not %s",
		e.Key.BillUID, e.ActualDate.Format("2006-01-02"), e.Key.BillDate.Format("2006-01-02"))
}

// NoPriorAssessmentError signals a caller sequencing bug: assessing a
// non-base year with no assessment on file for the preceding year.
type NoPriorAssessmentError struct {
	BAUnitID string
	Year     int
}

func (e NoPriorAssessmentError) Error() string {
	return fmt.Sprintf("no prior assessment for parcel %q year %d", e.BAUnitID, e.Year)
}

// InvalidEventDateError rejects a supplemental event dated before the
// parcel's current base year.
type InvalidEventDateError struct {
	BAUnitID  string
	EventDate time.Time
	BaseYear  int
}

func (e InvalidEventDateError) Error() string {
	return fmt.Sprintf("invalid event date %s for parcel %q: precedes base year %d",
		e.EventDate.Format("2006-01-02"), e.BAUnitID, e.BaseYear)
}
