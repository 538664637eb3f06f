// internal/model/report.go
// Package model defines the data structures used throughout the vehicle
// history report service. These structures represent the core domain objects
// for identifiers, reports, history records, and provenance metadata.
package model

import (
	"fmt"
	"time"
)

// ReportStatus represents the lifecycle state of a report.
// Status only ever advances: draft -> generating -> completed | error.
type ReportStatus string

const (
	StatusDraft      ReportStatus = "draft"      // Shell created, no providers called yet
	StatusGenerating ReportStatus = "generating" // Provider fan-out in flight
	StatusCompleted  ReportStatus = "completed"  // Sealed with at least one successful provider
	StatusError      ReportStatus = "error"      // Sealed with every provider failed
)

// statusRank orders statuses along the forward-only lifecycle.
var statusRank = map[ReportStatus]int{
	StatusDraft:      0,
	StatusGenerating: 1,
	StatusCompleted:  2,
	StatusError:      2,
}

// CanTransition reports whether a status change follows the forward-only
// lifecycle. Both terminal states share a rank, so a sealed report can never
// move again.
func (s ReportStatus) CanTransition(to ReportStatus) bool {
	from, ok := statusRank[s]
	next, ok2 := statusRank[to]
	if !ok || !ok2 {
		return false
	}
	return next == from+1
}

// Sealed reports whether the status is terminal.
func (s ReportStatus) Sealed() bool {
	return s == StatusCompleted || s == StatusError
}

// ReportType selects how much of the aggregate a rendered report exposes.
type ReportType string

const (
	ReportBasic         ReportType = "basic"         // Identity + summary flags
	ReportComprehensive ReportType = "comprehensive" // Adds history collections and valuation
	ReportPremium       ReportType = "premium"       // Adds risk analysis and full provenance
)

// ValidReportType reports whether t is one of the supported report types.
func ValidReportType(t ReportType) bool {
	switch t {
	case ReportBasic, ReportComprehensive, ReportPremium:
		return true
	}
	return false
}

// DataQuality classifies how many of the authoritative providers succeeded.
type DataQuality string

const (
	QualityComplete DataQuality = "complete" // PPSR and registry both succeeded
	QualityPartial  DataQuality = "partial"  // Exactly one of them succeeded
	QualityPoor     DataQuality = "poor"     // Neither succeeded
)

// Rank orders data quality for monotonicity checks: poor < partial < complete.
func (q DataQuality) Rank() int {
	switch q {
	case QualityComplete:
		return 2
	case QualityPartial:
		return 1
	default:
		return 0
	}
}

// State is an Australian registration jurisdiction.
type State string

const (
	NSW State = "NSW"
	VIC State = "VIC"
	QLD State = "QLD"
	WA  State = "WA"
	SA  State = "SA"
	TAS State = "TAS"
	NT  State = "NT"
	ACT State = "ACT"
)

// States lists every valid jurisdiction.
var States = []State{NSW, VIC, QLD, WA, SA, TAS, NT, ACT}

// ValidState reports whether s is one of the eight jurisdictions.
func ValidState(s State) bool {
	for _, v := range States {
		if s == v {
			return true
		}
	}
	return false
}

// IdentifierType tags which form of a VehicleIdentifier is populated.
type IdentifierType string

const (
	IdentifierVIN  IdentifierType = "vin"
	IdentifierRego IdentifierType = "rego"
)

// VehicleIdentifier is a validated, normalized vehicle lookup key.
// Exactly one form is populated: a 17-character VIN, or a plate plus state.
// Values are immutable once constructed by the identifier package.
type VehicleIdentifier struct {
	Type  IdentifierType `json:"type"`            // Which form is populated
	VIN   string         `json:"vin,omitempty"`   // 17 chars, uppercase, no I/O/Q
	Rego  string         `json:"rego,omitempty"`  // 3-7 alphanumeric, uppercase
	State State          `json:"state,omitempty"` // Jurisdiction for rego lookups
}

// Key returns the canonical string form of the identifier, used for logging
// and dedup key derivation.
func (v VehicleIdentifier) Key() string {
	if v.Type == IdentifierVIN {
		return "vin:" + v.VIN
	}
	return fmt.Sprintf("rego:%s:%s", v.State, v.Rego)
}

// SearchCriteria records what was looked up, when, and for whom.
type SearchCriteria struct {
	Identifier  VehicleIdentifier `json:"identifier"`            // Validated lookup key
	SearchedAt  time.Time         `json:"searchedAt"`            // When the lookup was requested
	RequestedBy string            `json:"requestedBy,omitempty"` // Requester identity, if known
}

// VehicleDetails holds the normalized specification fields sourced from the
// registry provider. Fields are optional because provider coverage varies;
// zero values mean the provider did not report the field.
type VehicleDetails struct {
	Make               string     `json:"make,omitempty"`
	Model              string     `json:"model,omitempty"`
	Year               int        `json:"year,omitempty"`
	Series             string     `json:"series,omitempty"`
	BodyType           string     `json:"bodyType,omitempty"`
	Colour             string     `json:"colour,omitempty"`
	EngineNumber       string     `json:"engineNumber,omitempty"`
	EngineCapacityCC   int        `json:"engineCapacityCc,omitempty"`
	FuelType           string     `json:"fuelType,omitempty"`
	Transmission       string     `json:"transmission,omitempty"`
	TareWeightKG       int        `json:"tareWeightKg,omitempty"`
	GrossVehicleMassKG int        `json:"grossVehicleMassKg,omitempty"`
	RegistrationStatus string     `json:"registrationStatus,omitempty"`
	RegistrationExpiry *time.Time `json:"registrationExpiry,omitempty"`
	ComplianceDate     string     `json:"complianceDate,omitempty"` // MM/YYYY compliance plate date
}

// SecurityInterestStatus is the PPSR registration state of an encumbrance.
type SecurityInterestStatus string

const (
	InterestRegistered SecurityInterestStatus = "registered"
	InterestDischarged SecurityInterestStatus = "discharged"
	InterestExpired    SecurityInterestStatus = "expired"
)

// SecurityInterestType classifies what kind of claim an interest represents.
type SecurityInterestType string

const (
	InterestFinance SecurityInterestType = "finance" // Loan or other purchase-money finance
	InterestLease   SecurityInterestType = "lease"
	InterestOther   SecurityInterestType = "other"
)

// SecurityInterest is a single PPSR encumbrance record. ManuallyEntered and
// EnteredBy are provenance markers distinguishing provider-sourced data from
// human-corrected data; merges must preserve them.
type SecurityInterest struct {
	RegistrationNumber string                 `json:"registrationNumber"`     // PPSR registration number
	Type               SecurityInterestType   `json:"type"`                   // Claim classification
	Status             SecurityInterestStatus `json:"status"`                 // Registered | Discharged | Expired
	SecuredParty       string                 `json:"securedParty,omitempty"` // Who holds the interest
	Amount             float64                `json:"amount,omitempty"`       // Amount owing, AUD
	RegisteredAt       time.Time              `json:"registeredAt"`
	DischargedAt       *time.Time             `json:"dischargedAt,omitempty"`
	ManuallyEntered    bool                   `json:"manuallyEntered"`     // True when added by an operator
	EnteredBy          string                 `json:"enteredBy,omitempty"` // Operator identity for manual entries
	DataSource         string                 `json:"dataSource"`
	LastUpdated        time.Time              `json:"lastUpdated"`
}

// FinanceOwing reports whether this interest represents current finance owing.
func (s SecurityInterest) FinanceOwing() bool {
	return s.Status == InterestRegistered && s.Type == InterestFinance
}

// History record types. Every record carries DataSource and LastUpdated, and
// records are append-only once attached to a report.

// AccidentRecord is a reported accident involving the vehicle.
type AccidentRecord struct {
	Date        time.Time `json:"date"`
	Severity    string    `json:"severity,omitempty"` // minor | moderate | major
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	DataSource  string    `json:"dataSource"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// TheftRecord is a police-reported theft. Status stays "reported" until the
// vehicle is recovered.
type TheftRecord struct {
	Date         time.Time  `json:"date"`
	Status       string     `json:"status"` // reported | recovered
	Jurisdiction State      `json:"jurisdiction,omitempty"`
	RecoveredAt  *time.Time `json:"recoveredAt,omitempty"`
	DataSource   string     `json:"dataSource"`
	LastUpdated  time.Time  `json:"lastUpdated"`
}

// Reported is true while the theft remains unresolved.
func (t TheftRecord) Reported() bool { return t.Status == "reported" }

// WriteOffRecord is an insurer total/repairable loss declaration.
type WriteOffRecord struct {
	Date         time.Time `json:"date"`
	Category     string    `json:"category"` // statutory | repairable
	Reason       string    `json:"reason,omitempty"`
	Jurisdiction State     `json:"jurisdiction,omitempty"`
	DataSource   string    `json:"dataSource"`
	LastUpdated  time.Time `json:"lastUpdated"`
}

// FloodRecord marks flood damage reported against the vehicle.
type FloodRecord struct {
	Date        time.Time `json:"date"`
	Severity    string    `json:"severity,omitempty"`
	Description string    `json:"description,omitempty"`
	DataSource  string    `json:"dataSource"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// RecallRecord is a manufacturer safety recall affecting the vehicle.
type RecallRecord struct {
	Date        time.Time `json:"date"`
	Campaign    string    `json:"campaign,omitempty"`
	Description string    `json:"description,omitempty"`
	Completed   bool      `json:"completed"`
	DataSource  string    `json:"dataSource"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// InspectionRecord is a roadworthy or safety inspection outcome.
type InspectionRecord struct {
	Date        time.Time `json:"date"`
	Result      string    `json:"result"` // passed | failed
	Station     string    `json:"station,omitempty"`
	OdometerKM  int       `json:"odometerKm,omitempty"`
	DataSource  string    `json:"dataSource"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// ComplianceRecord tracks ADR compliance and plate details.
type ComplianceRecord struct {
	Date        time.Time `json:"date"`
	Standard    string    `json:"standard,omitempty"`
	Description string    `json:"description,omitempty"`
	DataSource  string    `json:"dataSource"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// EncumbranceRecord is a non-PPSR financial claim noted against the vehicle.
type EncumbranceRecord struct {
	Date        time.Time `json:"date"`
	Party       string    `json:"party,omitempty"`
	Description string    `json:"description,omitempty"`
	DataSource  string    `json:"dataSource"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// Section wraps a history collection with an explicit Checked flag so that
// "checked and clear" is distinguishable from "not checked". Checked is set
// only when the owning provider succeeded for this report.
type Section[T any] struct {
	Checked bool `json:"checked"`
	Records []T  `json:"records"`
}

// CheckedSection builds a section marked as checked, never with nil records.
func CheckedSection[T any](records []T) Section[T] {
	if records == nil {
		records = []T{}
	}
	return Section[T]{Checked: true, Records: records}
}

// Clear reports whether the section was checked and came back empty.
func (s Section[T]) Clear() bool {
	return s.Checked && len(s.Records) == 0
}

// ValueBand is a low/average/high price estimate with a confidence label.
type ValueBand struct {
	Low        float64 `json:"low"`
	Average    float64 `json:"average"`
	High       float64 `json:"high"`
	Confidence string  `json:"confidence,omitempty"` // low | medium | high
}

// MarketValuation holds the three estimate bands from the valuation provider.
// Estimates are advisory, never authoritative legal fact.
type MarketValuation struct {
	Retail      ValueBand `json:"retail"`
	TradeIn     ValueBand `json:"tradeIn"`
	PrivateSale ValueBand `json:"privateSale"`
	Currency    string    `json:"currency"` // Always AUD today
	ValuedAt    time.Time `json:"valuedAt"`
	Source      string    `json:"source,omitempty"`
}

// RiskCategory buckets the numeric risk score.
type RiskCategory string

const (
	RiskVeryLow  RiskCategory = "very_low"  // 0-20
	RiskLow      RiskCategory = "low"       // 21-40
	RiskMedium   RiskCategory = "medium"    // 41-60
	RiskHigh     RiskCategory = "high"      // 61-80
	RiskVeryHigh RiskCategory = "very_high" // 81-100
)

// Recommendation is the purchase guidance derived from the risk analysis.
type Recommendation string

const (
	RecommendProceed Recommendation = "proceed"
	RecommendCaution Recommendation = "proceed_with_caution"
	RecommendAvoid   Recommendation = "avoid"
)

// RiskAnalysis is entirely derived from merged data; it is never sourced
// from an authority.
type RiskAnalysis struct {
	OverallRiskScore int            `json:"overallRiskScore"` // 0-100
	RiskCategory     RiskCategory   `json:"riskCategory"`
	Recommendation   Recommendation `json:"recommendation"`
	PositiveFindings []string       `json:"positiveFindings"`
	RiskFactors      []string       `json:"riskFactors"`
	Summary          string         `json:"summary,omitempty"`
	GeneratedAt      time.Time      `json:"generatedAt"`
}

// DataSourceInfo records one provider call made during generation.
type DataSourceInfo struct {
	Name        string    `json:"name"`            // ppsr | registry | valuation
	Succeeded   bool      `json:"succeeded"`       // Whether the call produced data
	RetrievedAt time.Time `json:"retrievedAt"`     // When the call completed
	Freshness   string    `json:"freshness"`       // realtime | cached
	Reliability string    `json:"reliability"`     // authoritative | estimate
	Error       string    `json:"error,omitempty"` // Failure detail, if any
}

// QualityMetrics are the computed generation quality percentages.
type QualityMetrics struct {
	Completeness float64 `json:"completeness"` // Share of providers that succeeded
	Accuracy     float64 `json:"accuracy"`     // Share of succeeded sources that are authoritative
	Confidence   float64 `json:"confidence"`   // Blend of the two above
}

// ReportGeneration is the provenance metadata for one generation run.
type ReportGeneration struct {
	Sources        []DataSourceInfo `json:"sources"`
	Quality        QualityMetrics   `json:"quality"`
	GeneratedAt    time.Time        `json:"generatedAt"`
	DurationMillis int64            `json:"durationMillis"`
}

// Certificate is an uploaded PPSR certificate artifact attached to a sealed
// report. The object itself lives in S3; this is the metadata row.
type Certificate struct {
	CertID     string    `json:"certId" db:"cert_id"`
	ReportID   string    `json:"reportId" db:"report_id"`
	URI        string    `json:"uri" db:"uri"`
	MimeType   string    `json:"mimeType" db:"mime_type"`
	Size       int64     `json:"size" db:"size"`
	Checksum   string    `json:"checksum" db:"checksum"`
	UploadedBy string    `json:"uploadedBy" db:"uploaded_by"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
}

// VehicleReport is the central aggregate. It is created as a draft shell,
// filled by the aggregator during generation, and sealed to completed or
// error. A sealed report is an immutable artifact referenced by ID; the only
// sanctioned post-seal mutation is the manual security-interest entry flow.
type VehicleReport struct {
	ID           string       `json:"id" db:"id"`                      // Internal identifier (UUID)
	ReportNumber string       `json:"reportNumber" db:"report_number"` // Human-facing number (ULID)
	Type         ReportType   `json:"type" db:"type"`
	Status       ReportStatus `json:"status" db:"status"`
	CreatedAt    time.Time    `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time    `json:"updatedAt" db:"updated_at"`

	SearchCriteria SearchCriteria `json:"searchCriteria"`

	// Derived summary. Pure functions of the collections below.
	DataQuality   DataQuality `json:"dataQuality"`
	IsFinanceOwing bool       `json:"isFinanceOwing"`
	IsStolen       bool       `json:"isStolen"`
	IsWrittenOff   bool       `json:"isWrittenOff"`

	// Provider-sourced sections. Nil pointers mean the source never reported.
	VehicleDetails    *VehicleDetails           `json:"vehicleDetails,omitempty"`
	SecurityInterests Section[SecurityInterest] `json:"securityInterests"`
	AccidentHistory   Section[AccidentRecord]   `json:"accidentHistory"`
	TheftHistory      Section[TheftRecord]      `json:"theftHistory"`
	WriteOffHistory   Section[WriteOffRecord]   `json:"writeOffHistory"`
	FloodHistory      Section[FloodRecord]      `json:"floodHistory"`
	Recalls           Section[RecallRecord]     `json:"recalls"`
	InspectionHistory Section[InspectionRecord] `json:"inspectionHistory"`
	ComplianceRecords Section[ComplianceRecord] `json:"complianceRecords"`
	Encumbrances      Section[EncumbranceRecord] `json:"encumbrances"`
	MarketValuation   *MarketValuation          `json:"marketValuation,omitempty"`

	Analysis   *RiskAnalysis    `json:"analysis,omitempty"`
	Generation ReportGeneration `json:"generation"`

	Errors       []string      `json:"errors,omitempty"` // Human-readable provider failures
	Certificates []Certificate `json:"certificates,omitempty"`
}

// Sealed reports whether the report has reached a terminal status.
func (r *VehicleReport) Sealed() bool {
	return r.Status.Sealed()
}
