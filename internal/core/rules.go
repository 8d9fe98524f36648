package core

import "taxledger/pkg/domain"

// DefaultRulesEngine returns a rules engine loaded with the standard
// assessment-roll invariants evaluated on every transaction commit.
func DefaultRulesEngine() *domain.RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(NewSoleOwnershipRule())
	engine.Register(NewRRRDateRangeRule())
	engine.Register(NewDelinquentParcelRule())
	return engine
}
