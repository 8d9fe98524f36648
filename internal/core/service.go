package core

import (
	"context"
	"time"

	"taxledger/pkg/domain"
)

// Service exposes the transactional operations of the ledger. Every write
// runs inside a store transaction; rule warnings are logged and returned,
// blocking violations abort.
type Service struct {
	store   PersistentStore
	cfg     Config
	logger  Logger
	metrics MetricsRecorder
	nowFn   func() time.Time
	unpaid  unpaidView
}

// Option configures a Service.
type Option func(*Service)

// WithLogger attaches a structured logger.
func WithLogger(logger Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(metrics MetricsRecorder) Option {
	return func(s *Service) {
		if metrics != nil {
			s.metrics = metrics
		}
	}
}

// WithNowFunc overrides the time provider, for tests.
func WithNowFunc(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.nowFn = fn
		}
	}
}

// NewService constructs a service backed by the supplied store.
func NewService(store PersistentStore, cfg Config, opts ...Option) *Service {
	s := &Service{
		store:   store,
		cfg:     cfg,
		logger:  noopLogger{},
		metrics: noopMetrics{},
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewInMemoryService creates a service over a fresh in-memory store with the
// default rules registered, for tests and ephemeral runs.
func NewInMemoryService(cfg Config, opts ...Option) (*Service, error) {
	cfg.StorageDriver = string(StorageMemory)
	store, err := OpenPersistentStore(cfg, DefaultRulesEngine())
	if err != nil {
		return nil, err
	}
	return NewService(store, cfg, opts...), nil
}

// Store returns the underlying storage implementation.
func (s *Service) Store() PersistentStore {
	return s.store
}

// Config returns the active configuration.
func (s *Service) Config() Config {
	return s.cfg
}

// run wraps a store transaction with metrics and warning logs.
func (s *Service) run(ctx context.Context, operation string, fn func(Transaction) error) (Result, error) {
	start := s.nowFn()
	res, err := s.store.RunInTransaction(ctx, fn)
	s.metrics.Observe(ctx, operation, err == nil, s.nowFn().Sub(start))
	if err != nil {
		s.logger.Error("transaction failed", "operation", operation, "error", err)
		return res, err
	}
	for _, v := range res.Violations {
		if v.Severity == domain.SeverityBlock {
			continue
		}
		s.logger.Warn("rule violation", "operation", operation, "rule", v.Rule, "severity", string(v.Severity), "message", v.Message)
	}
	return res, nil
}

// RegisterParty persists a new party.
func (s *Service) RegisterParty(ctx context.Context, party Party) (Party, Result, error) {
	var created Party
	res, err := s.run(ctx, "register_party", func(tx Transaction) error {
		var err error
		created, err = tx.CreateParty(party)
		return err
	})
	return created, res, err
}

// UpdateParty mutates a party using the provided mutator.
func (s *Service) UpdateParty(ctx context.Context, id string, mutator func(*Party) error) (Party, Result, error) {
	var updated Party
	res, err := s.run(ctx, "update_party", func(tx Transaction) error {
		var err error
		updated, err = tx.UpdateParty(id, mutator)
		return err
	})
	return updated, res, err
}

// RegisterSpatialUnit persists a new spatial unit.
func (s *Service) RegisterSpatialUnit(ctx context.Context, unit SpatialUnit) (SpatialUnit, Result, error) {
	var created SpatialUnit
	res, err := s.run(ctx, "register_spatial_unit", func(tx Transaction) error {
		var err error
		created, err = tx.CreateSpatialUnit(unit)
		return err
	})
	return created, res, err
}

// UpdateSpatialUnit mutates a spatial unit.
func (s *Service) UpdateSpatialUnit(ctx context.Context, id string, mutator func(*SpatialUnit) error) (SpatialUnit, Result, error) {
	var updated SpatialUnit
	res, err := s.run(ctx, "update_spatial_unit", func(tx Transaction) error {
		var err error
		updated, err = tx.UpdateSpatialUnit(id, mutator)
		return err
	})
	return updated, res, err
}

// RegisterParcel persists a new basic administrative unit.
func (s *Service) RegisterParcel(ctx context.Context, parcel BAUnit) (BAUnit, Result, error) {
	var created BAUnit
	res, err := s.run(ctx, "register_parcel", func(tx Transaction) error {
		var err error
		created, err = tx.CreateBAUnit(parcel)
		return err
	})
	return created, res, err
}

// UpdateParcel mutates a parcel; the superseded version lands in the parcel
// history.
func (s *Service) UpdateParcel(ctx context.Context, id string, mutator func(*BAUnit) error) (BAUnit, Result, error) {
	var updated BAUnit
	res, err := s.run(ctx, "update_parcel", func(tx Transaction) error {
		var err error
		updated, err = tx.UpdateBAUnit(id, mutator)
		return err
	})
	return updated, res, err
}

// DeleteParcel removes an unreferenced parcel; the deleted version is closed
// out in the parcel history.
func (s *Service) DeleteParcel(ctx context.Context, id string) (Result, error) {
	return s.run(ctx, "delete_parcel", func(tx Transaction) error {
		return tx.DeleteBAUnit(id)
	})
}

// RegisterTaxRateArea persists a new tax rate area.
func (s *Service) RegisterTaxRateArea(ctx context.Context, tra TaxRateArea) (TaxRateArea, Result, error) {
	var created TaxRateArea
	res, err := s.run(ctx, "register_tax_rate_area", func(tx Transaction) error {
		var err error
		created, err = tx.CreateTaxRateArea(tra)
		return err
	})
	return created, res, err
}

// RegisterTaxRate persists a new rate component.
func (s *Service) RegisterTaxRate(ctx context.Context, rate TaxRate) (TaxRate, Result, error) {
	var created TaxRate
	res, err := s.run(ctx, "register_tax_rate", func(tx Transaction) error {
		var err error
		created, err = tx.CreateTaxRate(rate)
		return err
	})
	return created, res, err
}

// GrantRRR persists a new right, restriction, or responsibility.
func (s *Service) GrantRRR(ctx context.Context, rrr RRR) (RRR, Result, error) {
	var created RRR
	res, err := s.run(ctx, "grant_rrr", func(tx Transaction) error {
		var err error
		created, err = tx.CreateRRR(rrr)
		return err
	})
	return created, res, err
}

// CloseRRR sets an end date on an existing RRR, typically on transfer.
func (s *Service) CloseRRR(ctx context.Context, id string, endDate time.Time) (RRR, Result, error) {
	var updated RRR
	res, err := s.run(ctx, "close_rrr", func(tx Transaction) error {
		var err error
		updated, err = tx.UpdateRRR(id, func(r *RRR) error {
			ended := domain.DateOnly(endDate)
			r.EndDate = &ended
			return nil
		})
		return err
	})
	return updated, res, err
}

// GrantExemption persists a new exemption.
func (s *Service) GrantExemption(ctx context.Context, exemption Exemption) (Exemption, Result, error) {
	var created Exemption
	res, err := s.run(ctx, "grant_exemption", func(tx Transaction) error {
		var err error
		created, err = tx.CreateExemption(exemption)
		return err
	})
	return created, res, err
}

// Parcel retrieves a parcel by id.
func (s *Service) Parcel(id string) (BAUnit, bool) {
	return s.store.GetBAUnit(id)
}

// ParcelByAPN retrieves a parcel by assessor parcel number.
func (s *Service) ParcelByAPN(apn string) (BAUnit, bool) {
	return s.store.GetBAUnitByAPN(apn)
}

// AuditTrail returns audit entries matching the filter.
func (s *Service) AuditTrail(filter domain.AuditFilter) []domain.AuditEntry {
	return s.store.AuditEntries(filter)
}

// ParcelVersions returns the superseded versions of a parcel.
func (s *Service) ParcelVersions(baUnitID string) []domain.HistoryEntry {
	return s.store.ParcelHistory(baUnitID)
}
