// internal/render/render.go
// Package render projects sealed reports into template-shaped views. A
// template never changes stored data; it only controls how much of the
// aggregate is exposed. Projection is read-only and works on any sealed
// report regardless of the type it was generated as.
package render

import (
	"errors"
	"fmt"
	"time"

	"github.com/ClearRego/clearrego-vhr-go/internal/model"
)

// Projection errors.
var (
	ErrNotSealed = errors.New("report is not sealed")       // draft or generating
	ErrUnusable  = errors.New("report sealed with no data") // sealed as error
	ErrTemplate  = errors.New("unknown report template")    // not basic/comprehensive/premium
)

// Markers used where data is absent rather than empty.
const (
	MarkerNotChecked   = "not checked"
	MarkerNotAvailable = "not available"
)

// Section is one history collection shaped for display. Status summarizes
// the section; Records carries the copied rows for templates that show them.
type Section struct {
	Title   string      `json:"title"`
	Status  string      `json:"status"` // clear | n record(s) | not checked
	Records interface{} `json:"records,omitempty"`
}

// View is the template-shaped projection of a sealed report.
type View struct {
	ReportID     string                  `json:"reportId"`
	ReportNumber string                  `json:"reportNumber"`
	Template     model.ReportType        `json:"template"`
	GeneratedAt  time.Time               `json:"generatedAt"`
	Identifier   model.VehicleIdentifier `json:"identifier"`
	DataQuality  model.DataQuality       `json:"dataQuality"`

	// Summary flags as display strings: yes, no, or not checked
	FinanceOwing string `json:"financeOwing"`
	Stolen       string `json:"stolen"`
	WrittenOff   string `json:"writtenOff"`

	// Comprehensive and premium only
	VehicleDetails *model.VehicleDetails  `json:"vehicleDetails,omitempty"`
	Sections       []Section              `json:"sections,omitempty"`
	Valuation      *model.MarketValuation `json:"valuation,omitempty"`

	// Premium only
	Analysis   *model.RiskAnalysis     `json:"analysis,omitempty"`
	Provenance *model.ReportGeneration `json:"provenance,omitempty"`

	Warnings []string `json:"warnings,omitempty"`
}

// Project builds the view of a sealed report for the given template. It
// refuses unsealed reports and reports sealed as error, and never mutates
// the source aggregate.
func Project(report *model.VehicleReport, template model.ReportType) (*View, error) {
	if !report.Sealed() {
		return nil, ErrNotSealed
	}
	if report.Status == model.StatusError {
		return nil, ErrUnusable
	}
	if !model.ValidReportType(template) {
		return nil, ErrTemplate
	}

	view := &View{
		ReportID:     report.ID,
		ReportNumber: report.ReportNumber,
		Template:     template,
		GeneratedAt:  report.Generation.GeneratedAt,
		Identifier:   report.SearchCriteria.Identifier,
		DataQuality:  report.DataQuality,
		FinanceOwing: flagMarker(report.SecurityInterests.Checked, report.IsFinanceOwing),
		Stolen:       flagMarker(report.TheftHistory.Checked, report.IsStolen),
		WrittenOff:   flagMarker(report.WriteOffHistory.Checked, report.IsWrittenOff),
	}

	if report.DataQuality == model.QualityPartial {
		view.Warnings = append(view.Warnings, "some data sources were unavailable; this report may be incomplete")
	}

	if template == model.ReportBasic {
		return view, nil
	}

	// Comprehensive adds the specification, history sections, and valuation
	if report.VehicleDetails != nil {
		details := *report.VehicleDetails
		view.VehicleDetails = &details
	} else {
		view.Warnings = append(view.Warnings, "vehicle details "+MarkerNotAvailable)
	}

	view.Sections = []Section{
		section("Security Interests", report.SecurityInterests),
		section("Encumbrances", report.Encumbrances),
		section("Theft History", report.TheftHistory),
		section("Write-Off History", report.WriteOffHistory),
		section("Flood History", report.FloodHistory),
		section("Accident History", report.AccidentHistory),
		section("Recalls", report.Recalls),
		section("Inspection History", report.InspectionHistory),
		section("Compliance Records", report.ComplianceRecords),
	}

	if report.MarketValuation != nil {
		valuation := *report.MarketValuation
		view.Valuation = &valuation
	} else {
		view.Warnings = append(view.Warnings, "market valuation "+MarkerNotAvailable)
	}

	if template == model.ReportComprehensive {
		return view, nil
	}

	// Premium adds the risk analysis and full generation provenance
	if report.Analysis != nil {
		analysis := *report.Analysis
		view.Analysis = &analysis
	} else {
		view.Warnings = append(view.Warnings, "risk analysis "+MarkerNotAvailable)
	}

	provenance := report.Generation
	provenance.Sources = append([]model.DataSourceInfo(nil), report.Generation.Sources...)
	view.Provenance = &provenance

	return view, nil
}

// section shapes one history collection, copying its records so the view
// shares nothing with the stored aggregate.
func section[T any](title string, s model.Section[T]) Section {
	if !s.Checked {
		return Section{Title: title, Status: MarkerNotChecked}
	}
	if len(s.Records) == 0 {
		return Section{Title: title, Status: "clear", Records: []T{}}
	}
	records := append([]T(nil), s.Records...)
	return Section{
		Title:   title,
		Status:  fmt.Sprintf("%d record(s)", len(records)),
		Records: records,
	}
}

// flagMarker renders a derived flag, distinguishing a negative finding from
// a source that was never checked.
func flagMarker(checked, value bool) string {
	if !checked {
		return MarkerNotChecked
	}
	if value {
		return "yes"
	}
	return "no"
}
