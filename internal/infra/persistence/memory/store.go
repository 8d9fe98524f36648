// Package memory provides the canonical in-memory implementation of the
// ledger persistence contract. Durable backends wrap it and snapshot its
// state after every successful transaction.
package memory

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"taxledger/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Party aliases domain.Party for in-memory persistence operations.
	Party = domain.Party
	// SpatialUnit aliases domain.SpatialUnit.
	SpatialUnit = domain.SpatialUnit
	// BAUnit aliases domain.BAUnit.
	BAUnit = domain.BAUnit
	// TaxRateArea aliases domain.TaxRateArea.
	TaxRateArea = domain.TaxRateArea
	// TaxRate aliases domain.TaxRate.
	TaxRate = domain.TaxRate
	// RRR aliases domain.RRR.
	RRR = domain.RRR
	// Exemption aliases domain.Exemption.
	Exemption = domain.Exemption
	// TaxAssessment aliases domain.TaxAssessment.
	TaxAssessment = domain.TaxAssessment
	// SupplementalAssessment aliases domain.SupplementalAssessment.
	SupplementalAssessment = domain.SupplementalAssessment
	// TaxBill aliases domain.TaxBill.
	TaxBill = domain.TaxBill
	// TaxPayment aliases domain.TaxPayment.
	TaxPayment = domain.TaxPayment
	// BillKey aliases the composite bill reference.
	BillKey = domain.BillKey
	// Partition aliases domain.Partition.
	Partition = domain.Partition
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

type memoryState struct {
	parties       map[string]Party
	spatialUnits  map[string]SpatialUnit
	baUnits       map[string]BAUnit
	apnIndex      map[string]string
	rateAreas     map[string]TaxRateArea
	rates         map[string]TaxRate
	rrrs          map[string]RRR
	exemptions    map[string]Exemption
	assessments   map[string]TaxAssessment
	supplementals map[string]SupplementalAssessment

	bills       map[Partition]map[string]TaxBill
	billIndex   map[string]BillKey
	payments    map[Partition]map[string]TaxPayment
	provisioned map[domain.LedgerBucket]map[Partition]bool
}

func newMemoryState() memoryState {
	return memoryState{
		parties:       make(map[string]Party),
		spatialUnits:  make(map[string]SpatialUnit),
		baUnits:       make(map[string]BAUnit),
		apnIndex:      make(map[string]string),
		rateAreas:     make(map[string]TaxRateArea),
		rates:         make(map[string]TaxRate),
		rrrs:          make(map[string]RRR),
		exemptions:    make(map[string]Exemption),
		assessments:   make(map[string]TaxAssessment),
		supplementals: make(map[string]SupplementalAssessment),
		bills:         map[Partition]map[string]TaxBill{domain.DefaultPartition: {}},
		billIndex:     make(map[string]BillKey),
		payments:      map[Partition]map[string]TaxPayment{domain.DefaultPartition: {}},
		provisioned: map[domain.LedgerBucket]map[Partition]bool{
			domain.BucketBills:    {},
			domain.BucketPayments: {},
		},
	}
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for k, v := range s.parties {
		cloned.parties[k] = v
	}
	for k, v := range s.spatialUnits {
		cloned.spatialUnits[k] = v
	}
	for k, v := range s.baUnits {
		cloned.baUnits[k] = cloneBAUnit(v)
	}
	for k, v := range s.apnIndex {
		cloned.apnIndex[k] = v
	}
	for k, v := range s.rateAreas {
		cloned.rateAreas[k] = v
	}
	for k, v := range s.rates {
		cloned.rates[k] = cloneRate(v)
	}
	for k, v := range s.rrrs {
		cloned.rrrs[k] = cloneRRR(v)
	}
	for k, v := range s.exemptions {
		cloned.exemptions[k] = cloneExemption(v)
	}
	for k, v := range s.assessments {
		cloned.assessments[k] = v
	}
	for k, v := range s.supplementals {
		cloned.supplementals[k] = v
	}
	cloned.bills = map[Partition]map[string]TaxBill{}
	for part, rows := range s.bills {
		dst := make(map[string]TaxBill, len(rows))
		for uid, bill := range rows {
			dst[uid] = cloneBill(bill)
		}
		cloned.bills[part] = dst
	}
	for uid, key := range s.billIndex {
		cloned.billIndex[uid] = key
	}
	cloned.payments = map[Partition]map[string]TaxPayment{}
	for part, rows := range s.payments {
		dst := make(map[string]TaxPayment, len(rows))
		for uid, payment := range rows {
			dst[uid] = payment
		}
		cloned.payments[part] = dst
	}
	cloned.provisioned = map[domain.LedgerBucket]map[Partition]bool{}
	for bucket, parts := range s.provisioned {
		dst := make(map[Partition]bool, len(parts))
		for part, ok := range parts {
			dst[part] = ok
		}
		cloned.provisioned[bucket] = dst
	}
	return cloned
}

func cloneBAUnit(b BAUnit) BAUnit {
	cp := b
	if b.TRAID != nil {
		id := *b.TRAID
		cp.TRAID = &id
	}
	return cp
}

func cloneRate(r TaxRate) TaxRate {
	cp := r
	if r.ExpirationDate != nil {
		t := *r.ExpirationDate
		cp.ExpirationDate = &t
	}
	return cp
}

func cloneRRR(r RRR) RRR {
	cp := r
	if r.EndDate != nil {
		t := *r.EndDate
		cp.EndDate = &t
	}
	return cp
}

func cloneExemption(e Exemption) Exemption {
	cp := e
	if e.EndDate != nil {
		t := *e.EndDate
		cp.EndDate = &t
	}
	return cp
}

func cloneBill(b TaxBill) TaxBill {
	cp := b
	if b.SupplementalID != nil {
		id := *b.SupplementalID
		cp.SupplementalID = &id
	}
	return cp
}

// Snapshot captures a point-in-time clone of the store state, including the
// audit and history trails, for external persistence.
type Snapshot struct {
	Parties       map[string]Party                  `json:"parties"`
	SpatialUnits  map[string]SpatialUnit            `json:"spatial_units"`
	BAUnits       map[string]BAUnit                 `json:"ba_units"`
	RateAreas     map[string]TaxRateArea            `json:"tax_rate_areas"`
	Rates         map[string]TaxRate                `json:"tax_rates"`
	RRRs          map[string]RRR                    `json:"rrrs"`
	Exemptions    map[string]Exemption              `json:"exemptions"`
	Assessments   map[string]TaxAssessment          `json:"tax_assessments"`
	Supplementals map[string]SupplementalAssessment `json:"supplemental_assessments"`

	Bills       map[Partition]map[string]TaxBill    `json:"bills"`
	Payments    map[Partition]map[string]TaxPayment `json:"payments"`
	Provisioned map[string][]Partition              `json:"provisioned_partitions"`

	Audit      []domain.AuditEntry   `json:"audit_log"`
	History    []domain.HistoryEntry `json:"parcel_history"`
	AuditSeq   uint64                `json:"audit_seq"`
	HistorySeq uint64                `json:"history_seq"`
}

// Store provides the in-memory transactional store for the ledger domain.
// The store mutex serializes transactions entirely, which is what guarantees
// at most one currently valid version of any entity and serializable payment
// application per bill.
type Store struct {
	mu          sync.RWMutex
	state       memoryState
	engine      *RulesEngine
	nowFn       func() time.Time
	maxCap      float64
	auditSink   domain.AuditSink
	historySink domain.HistorySink

	auditLog   []domain.AuditEntry
	history    []domain.HistoryEntry
	auditSeq   uint64
	historySeq uint64
}

// Option configures a Store.
type Option func(*Store)

// WithMaxCapFactor overrides the regulatory cap applied to assessment rows.
func WithMaxCapFactor(cap float64) Option {
	return func(s *Store) { s.maxCap = cap }
}

// WithAuditSink registers an external audit sink notified synchronously
// inside each commit. A sink error aborts the transaction.
func WithAuditSink(sink domain.AuditSink) Option {
	return func(s *Store) { s.auditSink = sink }
}

// WithHistorySink registers an external parcel-history sink under the same
// contract as WithAuditSink.
func WithHistorySink(sink domain.HistorySink) Option {
	return func(s *Store) { s.historySink = sink }
}

// WithNowFunc overrides the time provider, for tests.
func WithNowFunc(fn func() time.Time) Option {
	return func(s *Store) { s.nowFn = fn }
}

// RegulatoryCapFactor is the default maximum annual assessed-value growth.
const RegulatoryCapFactor = 1.02

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine, opts ...Option) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	s := &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
		maxCap: RegulatoryCapFactor,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) newID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b[:])
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state := s.state.clone()
	snap := Snapshot{
		Parties:       state.parties,
		SpatialUnits:  state.spatialUnits,
		BAUnits:       state.baUnits,
		RateAreas:     state.rateAreas,
		Rates:         state.rates,
		RRRs:          state.rrrs,
		Exemptions:    state.exemptions,
		Assessments:   state.assessments,
		Supplementals: state.supplementals,
		Bills:         state.bills,
		Payments:      state.payments,
		Provisioned:   map[string][]Partition{},
		Audit:         append([]domain.AuditEntry(nil), s.auditLog...),
		History:       append([]domain.HistoryEntry(nil), s.history...),
		AuditSeq:      s.auditSeq,
		HistorySeq:    s.historySeq,
	}
	for bucket, parts := range state.provisioned {
		var list []Partition
		for part := range parts {
			list = append(list, part)
		}
		sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
		snap.Provisioned[string(bucket)] = list
	}
	return snap
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := newMemoryState()
	for k, v := range snapshot.Parties {
		state.parties[k] = v
	}
	for k, v := range snapshot.SpatialUnits {
		state.spatialUnits[k] = v
	}
	for k, v := range snapshot.BAUnits {
		state.baUnits[k] = cloneBAUnit(v)
		state.apnIndex[v.APN] = k
	}
	for k, v := range snapshot.RateAreas {
		state.rateAreas[k] = v
	}
	for k, v := range snapshot.Rates {
		state.rates[k] = cloneRate(v)
	}
	for k, v := range snapshot.RRRs {
		state.rrrs[k] = cloneRRR(v)
	}
	for k, v := range snapshot.Exemptions {
		state.exemptions[k] = cloneExemption(v)
	}
	for k, v := range snapshot.Assessments {
		state.assessments[k] = v
	}
	for k, v := range snapshot.Supplementals {
		state.supplementals[k] = v
	}
	for part, rows := range snapshot.Bills {
		dst := make(map[string]TaxBill, len(rows))
		for uid, bill := range rows {
			dst[uid] = cloneBill(bill)
			state.billIndex[uid] = bill.Key()
		}
		state.bills[part] = dst
	}
	for part, rows := range snapshot.Payments {
		dst := make(map[string]TaxPayment, len(rows))
		for uid, payment := range rows {
			dst[uid] = payment
		}
		state.payments[part] = dst
	}
	for bucket, parts := range snapshot.Provisioned {
		dst := make(map[Partition]bool, len(parts))
		for _, part := range parts {
			dst[part] = true
		}
		state.provisioned[domain.LedgerBucket(bucket)] = dst
	}
	if state.bills[domain.DefaultPartition] == nil {
		state.bills[domain.DefaultPartition] = map[string]TaxBill{}
	}
	if state.payments[domain.DefaultPartition] == nil {
		state.payments[domain.DefaultPartition] = map[string]TaxPayment{}
	}
	s.state = state
	s.auditLog = append([]domain.AuditEntry(nil), snapshot.Audit...)
	s.history = append([]domain.HistoryEntry(nil), snapshot.History...)
	s.auditSeq = snapshot.AuditSeq
	s.historySeq = snapshot.HistorySeq
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the time provider used by the store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

// RunInTransaction executes fn within a transactional copy of the store
// state. Commit order is: mutations, rule evaluation, audit and history
// serialization, sink notification, state swap. The prior state stays
// visible until every capture step has succeeded, so a failure at any point
// leaves entities, bills, and the audit trail untouched.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	auditEntries, historyEntries, err := s.captureTrail(ctx, tx)
	if err != nil {
		return Result{}, err
	}
	if s.auditSink != nil && len(auditEntries) > 0 {
		if err := s.auditSink.RecordAudit(ctx, auditEntries); err != nil {
			return Result{}, fmt.Errorf("audit sink: %w", err)
		}
	}
	if s.historySink != nil && len(historyEntries) > 0 {
		if err := s.historySink.RecordHistory(ctx, historyEntries); err != nil {
			return Result{}, fmt.Errorf("history sink: %w", err)
		}
	}

	s.auditLog = append(s.auditLog, auditEntries...)
	s.history = append(s.history, historyEntries...)
	s.auditSeq += uint64(len(auditEntries))
	s.historySeq += uint64(len(historyEntries))
	s.state = tx.state
	return result, nil
}

// captureTrail serializes the transaction's changes into audit entries and,
// for parcel updates and deletes, history snapshots. Serialization happens
// before anything is appended so a marshal failure aborts cleanly.
func (s *Store) captureTrail(ctx context.Context, tx *transaction) ([]domain.AuditEntry, []domain.HistoryEntry, error) {
	actor := domain.ActorFromContext(ctx)
	var auditEntries []domain.AuditEntry
	var historyEntries []domain.HistoryEntry
	auditSeq := s.auditSeq
	historySeq := s.historySeq
	for _, change := range tx.changes {
		entry := domain.AuditEntry{
			Table:     change.Entity,
			Operation: change.Action,
			ChangedBy: actor,
			ChangedAt: tx.now,
		}
		if change.Before != nil {
			payload, err := domain.NewAuditPayloadFromValue(change.Before)
			if err != nil {
				return nil, nil, fmt.Errorf("serialize %s before-image: %w", change.Entity, err)
			}
			entry.Before = payload
		}
		if change.After != nil {
			payload, err := domain.NewAuditPayloadFromValue(change.After)
			if err != nil {
				return nil, nil, fmt.Errorf("serialize %s after-image: %w", change.Entity, err)
			}
			entry.After = payload
		}
		auditSeq++
		entry.Seq = auditSeq
		auditEntries = append(auditEntries, entry)

		if change.Entity != domain.EntityBAUnit || change.Action == domain.ActionCreate {
			continue
		}
		before, ok := change.Before.(BAUnit)
		if !ok {
			continue
		}
		snapshot, err := domain.NewAuditPayloadFromValue(before)
		if err != nil {
			return nil, nil, fmt.Errorf("serialize parcel history snapshot: %w", err)
		}
		hist := domain.HistoryEntry{
			BAUnitID:  before.ID,
			APN:       before.APN,
			ValidFrom: tx.now,
			Snapshot:  snapshot,
		}
		if change.Action == domain.ActionDelete {
			endedAt := tx.now
			hist.ValidTo = &endedAt
		}
		historySeq++
		hist.Seq = historySeq
		historyEntries = append(historyEntries, hist)
	}
	return auditEntries, historyEntries, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	view := newTransactionView(&snapshot)
	return fn(view)
}

// AuditEntries returns the append-only audit log filtered by table,
// operation, and time range.
func (s *Store) AuditEntries(filter domain.AuditFilter) []domain.AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.AuditEntry
	for _, entry := range s.auditLog {
		if filter.Matches(entry) {
			out = append(out, entry)
		}
	}
	return out
}

// ParcelHistory returns superseded versions of a parcel ordered by sequence.
func (s *Store) ParcelHistory(baUnitID string) []domain.HistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.HistoryEntry
	for _, entry := range s.history {
		if entry.BAUnitID == baUnitID {
			out = append(out, entry)
		}
	}
	return out
}

// GetBAUnit retrieves a parcel by id.
func (s *Store) GetBAUnit(id string) (BAUnit, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.state.baUnits[id]
	if !ok {
		return BAUnit{}, false
	}
	return cloneBAUnit(b), true
}

// GetBAUnitByAPN retrieves a parcel by its assessor parcel number.
func (s *Store) GetBAUnitByAPN(apn string) (BAUnit, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.state.apnIndex[apn]
	if !ok {
		return BAUnit{}, false
	}
	b, ok := s.state.baUnits[id]
	if !ok {
		return BAUnit{}, false
	}
	return cloneBAUnit(b), true
}

// GetBill resolves a bill by composite key.
func (s *Store) GetBill(key BillKey) (TaxBill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findBill(&s.state, key)
}

// ListParties returns all parties sorted by id.
func (s *Store) ListParties() []Party {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Party, 0, len(s.state.parties))
	for _, p := range s.state.parties {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListBAUnits returns all parcels sorted by APN.
func (s *Store) ListBAUnits() []BAUnit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]BAUnit, 0, len(s.state.baUnits))
	for _, b := range s.state.baUnits {
		out = append(out, cloneBAUnit(b))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].APN < out[j].APN })
	return out
}

// BillsInRange returns bills with bill dates in [from, to), across all
// partitions, ordered by date then uid.
func (s *Store) BillsInRange(from, to time.Time) []TaxBill {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return billsInRange(&s.state, from, to)
}

// PaymentsInRange returns payments with payment dates in [from, to).
func (s *Store) PaymentsInRange(from, to time.Time) []TaxPayment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return paymentsInRange(&s.state, from, to)
}

// ProvisionPartition marks a month partition available for a ledger bucket.
// Safe to run concurrently with ongoing writes; rows already in the default
// partition are not migrated (see ReconcileDefaultPartition).
func (s *Store) ProvisionPartition(_ context.Context, bucket domain.LedgerBucket, month Partition) error {
	if month == domain.DefaultPartition {
		return domain.ValidationError{Entity: domain.EntityTaxBill, Field: "partition", Reason: "default partition is always provisioned"}
	}
	if _, err := domain.ParsePartition(string(month)); err != nil {
		return domain.ValidationError{Entity: domain.EntityTaxBill, Field: "partition", Reason: err.Error()}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	parts, ok := s.state.provisioned[bucket]
	if !ok {
		return domain.ValidationError{Entity: domain.EntityTaxBill, Field: "bucket", Reason: fmt.Sprintf("unknown ledger bucket %q", bucket)}
	}
	parts[month] = true
	switch bucket {
	case domain.BucketBills:
		if s.state.bills[month] == nil {
			s.state.bills[month] = map[string]TaxBill{}
		}
	case domain.BucketPayments:
		if s.state.payments[month] == nil {
			s.state.payments[month] = map[string]TaxPayment{}
		}
	}
	return nil
}

// ListPartitions returns the provisioned partitions for a bucket, default
// last, so operators can provision ahead of need.
func (s *Store) ListPartitions(bucket domain.LedgerBucket) []Partition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Partition
	for part := range s.state.provisioned[bucket] {
		out = append(out, part)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	out = append(out, domain.DefaultPartition)
	return out
}

// ReconcileDefaultPartition migrates default-partition rows whose governing
// date falls inside an already-provisioned month. Composite keys are
// unchanged by the move, so payment references stay valid.
func (s *Store) ReconcileDefaultPartition(_ context.Context, bucket domain.LedgerBucket, month Partition) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.provisioned[bucket][month] {
		return 0, domain.ValidationError{Entity: domain.EntityTaxBill, Field: "partition", Reason: fmt.Sprintf("partition %s not provisioned for %s", month, bucket)}
	}
	moved := 0
	switch bucket {
	case domain.BucketBills:
		for uid, bill := range s.state.bills[domain.DefaultPartition] {
			if !month.Contains(bill.BillDate) {
				continue
			}
			s.state.bills[month][uid] = bill
			delete(s.state.bills[domain.DefaultPartition], uid)
			moved++
		}
	case domain.BucketPayments:
		for uid, payment := range s.state.payments[domain.DefaultPartition] {
			if !month.Contains(payment.PaymentDate) {
				continue
			}
			s.state.payments[month][uid] = payment
			delete(s.state.payments[domain.DefaultPartition], uid)
			moved++
		}
	default:
		return 0, domain.ValidationError{Entity: domain.EntityTaxBill, Field: "bucket", Reason: fmt.Sprintf("unknown ledger bucket %q", bucket)}
	}
	return moved, nil
}
