// internal/provider/provider.go
// Package provider defines the contract between the report aggregator and
// the external data sources (PPSR, vehicle registry, market valuation), plus
// HTTP client implementations of each. Partial failure is expected and
// normal: every lookup returns a Result rather than an error, and a timeout
// or bad payload becomes a failed Result that never blocks another source.
package provider

import (
	"context"

	"github.com/ClearRego/clearrego-vhr-go/internal/model"
)

// Source names used in provenance metadata and metrics labels.
const (
	SourcePPSR      = "ppsr"
	SourceRegistry  = "registry"
	SourceValuation = "valuation"
)

// Result is the uniform outcome of one provider lookup. Data is set only
// when Success is true; Error carries a human-readable failure otherwise.
type Result[T any] struct {
	Success bool   `json:"success"`
	Data    *T     `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Fail builds a failed Result with the given message.
func Fail[T any](msg string) Result[T] {
	return Result[T]{Success: false, Error: msg}
}

// Ok builds a successful Result wrapping the payload.
func Ok[T any](data T) Result[T] {
	return Result[T]{Success: true, Data: &data}
}

/// PPSRData is the payload of a successful PPSR lookup: security interests
// and the NEVDIS-fed incident collections that surface through the register.
type PPSRData struct {
	IsFinanceOwing    bool                      `json:"isFinanceOwing"`
	IsStolen          bool                      `json:"isStolen"`
	IsWrittenOff      bool                      `json:"isWrittenOff"`
	SecurityInterests []model.SecurityInterest  `json:"securityInterests"`
	Encumbrances      []model.EncumbranceRecord `json:"encumbrances,omitempty"`
	TheftHistory      []model.TheftRecord       `json:"theftHistory,omitempty"`
	WriteOffHistory   []model.WriteOffRecord    `json:"writeOffHistory,omitempty"`
	FloodHistory      []model.FloodRecord       `json:"floodHistory,omitempty"`
}

/// RegistryData is the payload of a successful registry lookup: the vehicle
// specification plus registry-held history collections.
type RegistryData struct {
	VehicleDetails    model.VehicleDetails     `json:"vehicleDetails"`
	AccidentHistory   []model.AccidentRecord   `json:"accidentHistory,omitempty"`
	Recalls           []model.RecallRecord     `json:"recalls,omitempty"`
	InspectionHistory []model.InspectionRecord `json:"inspectionHistory,omitempty"`
	ComplianceRecords []model.ComplianceRecord `json:"complianceRecords,omitempty"`
}

// ValuationData is the payload of a successful market valuation lookup.
// Valuations are estimates, never authoritative fact.
type ValuationData struct {
	Valuation model.MarketValuation `json:"valuation"`
}

// PPSR looks up security interests and incident flags for an identifier.
type PPSR interface {
	Lookup(ctx context.Context, id model.VehicleIdentifier) Result[PPSRData]
}

// Registry looks up the vehicle specification for an identifier.
type Registry interface {
	Lookup(ctx context.Context, id model.VehicleIdentifier) Result[RegistryData]
}

// Valuation looks up market value bands for an identifier.
type Valuation interface {
	Lookup(ctx context.Context, id model.VehicleIdentifier) Result[ValuationData]
}

// Set bundles the configured providers handed to the aggregator. Any nil
// member is treated as not configured and recorded as a failed source.
type Set struct {
	PPSR      PPSR
	Registry  Registry
	Valuation Valuation
}
