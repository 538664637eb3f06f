// internal/provider/fixture.go
// Fixture providers: explicit test doubles implementing the same Result
// contract as the HTTP clients. Scenario data lives here, keyed by
// identifier, and is never special-cased inside the aggregator. Used by
// tests and by dev mode when no provider endpoints are configured.
package provider

import (
	"context"
	"sync"
	"time"

	"github.com/ClearRego/clearrego-vhr-go/internal/model"
)

// FixturePPSR serves canned PPSR results by identifier key. Unknown
// identifiers get a clean result: no interests, no incidents.
type FixturePPSR struct {
	mu      sync.RWMutex
	results map[string]Result[PPSRData]
}

// NewFixturePPSR builds an empty PPSR fixture.
func NewFixturePPSR() *FixturePPSR {
	return &FixturePPSR{results: make(map[string]Result[PPSRData])}
}

// Set registers a canned result for an identifier.
func (f *FixturePPSR) Set(id model.VehicleIdentifier, r Result[PPSRData]) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[id.Key()] = r
}

// Lookup implements PPSR.
func (f *FixturePPSR) Lookup(ctx context.Context, id model.VehicleIdentifier) Result[PPSRData] {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if r, ok := f.results[id.Key()]; ok {
		return r
	}
	return Ok(PPSRData{SecurityInterests: []model.SecurityInterest{}})
}

// FixtureRegistry serves canned registry results by identifier key.
type FixtureRegistry struct {
	mu      sync.RWMutex
	results map[string]Result[RegistryData]
}

// NewFixtureRegistry builds an empty registry fixture.
func NewFixtureRegistry() *FixtureRegistry {
	return &FixtureRegistry{results: make(map[string]Result[RegistryData])}
}

// Set registers a canned result for an identifier.
func (f *FixtureRegistry) Set(id model.VehicleIdentifier, r Result[RegistryData]) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[id.Key()] = r
}

// Lookup implements Registry.
func (f *FixtureRegistry) Lookup(ctx context.Context, id model.VehicleIdentifier) Result[RegistryData] {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if r, ok := f.results[id.Key()]; ok {
		return r
	}
	return Ok(RegistryData{VehicleDetails: model.VehicleDetails{
		Make:               "Volkswagen",
		Model:              "Golf",
		Year:               2003,
		BodyType:           "Hatchback",
		FuelType:           "Petrol",
		RegistrationStatus: "registered",
	}})
}

// FixtureValuation serves canned valuation results by identifier key.
type FixtureValuation struct {
	mu      sync.RWMutex
	results map[string]Result[ValuationData]
}

// NewFixtureValuation builds an empty valuation fixture.
func NewFixtureValuation() *FixtureValuation {
	return &FixtureValuation{results: make(map[string]Result[ValuationData])}
}

// Set registers a canned result for an identifier.
func (f *FixtureValuation) Set(id model.VehicleIdentifier, r Result[ValuationData]) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[id.Key()] = r
}

// Lookup implements Valuation.
func (f *FixtureValuation) Lookup(ctx context.Context, id model.VehicleIdentifier) Result[ValuationData] {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if r, ok := f.results[id.Key()]; ok {
		return r
	}
	return Ok(ValuationData{Valuation: model.MarketValuation{
		Retail:      model.ValueBand{Low: 7500, Average: 8900, High: 10200, Confidence: "medium"},
		TradeIn:     model.ValueBand{Low: 5200, Average: 6300, High: 7400, Confidence: "medium"},
		PrivateSale: model.ValueBand{Low: 6400, Average: 7600, High: 8800, Confidence: "medium"},
		Currency:    "AUD",
		ValuedAt:    time.Now().UTC(),
		Source:      "fixture",
	}})
}

// FixtureSet returns a provider set backed entirely by empty fixtures,
// suitable for dev mode and tests.
func FixtureSet() (Set, *FixturePPSR, *FixtureRegistry, *FixtureValuation) {
	p := NewFixturePPSR()
	r := NewFixtureRegistry()
	v := NewFixtureValuation()
	return Set{PPSR: p, Registry: r, Valuation: v}, p, r, v
}
