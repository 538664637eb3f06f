// internal/report/aggregator.go
// Package report implements report generation: the concurrent provider
// fan-out, the merge into the VehicleReport aggregate, derived flags, risk
// analysis, and sealing. Generation is synchronous from the caller's point
// of view; the parallelism is internal.
package report

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ClearRego/clearrego-vhr-go/internal/event"
	"github.com/ClearRego/clearrego-vhr-go/internal/metrics"
	"github.com/ClearRego/clearrego-vhr-go/internal/model"
	"github.com/ClearRego/clearrego-vhr-go/internal/provider"
	"github.com/ClearRego/clearrego-vhr-go/internal/storage"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
)

// Aggregator orchestrates report generation against the configured providers
// and persists the result.
type Aggregator struct {
	store     storage.Store
	providers provider.Set
	publisher event.Publisher
	metrics   *metrics.Metrics

	// DedupEnabled reuses an existing report for the same identifier, type,
	// and UTC day instead of generating a new one.
	dedupEnabled bool
	dedupTTL     time.Duration
}

// New creates an Aggregator wired to the given store, providers, and
// publisher.
func New(store storage.Store, providers provider.Set, publisher event.Publisher, dedupEnabled bool) *Aggregator {
	return &Aggregator{
		store:        store,
		providers:    providers,
		publisher:    publisher,
		metrics:      metrics.NewMetrics(),
		dedupEnabled: dedupEnabled,
		dedupTTL:     24 * time.Hour,
	}
}

// dedupKey hashes the identifier, report type, and UTC day bucket. Two
// requests for the same vehicle and type on the same day share a key.
func dedupKey(id model.VehicleIdentifier, reportType model.ReportType, now time.Time) string {
	raw := fmt.Sprintf("%s|%s|%s", id.Key(), reportType, now.UTC().Format("2006-01-02"))
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Generate produces a sealed report for the identifier. It creates a draft
// shell, fans out to every configured provider concurrently, merges whatever
// came back, derives the summary flags and risk analysis, and seals the
// report as completed (at least one source succeeded) or error (none did).
// Provider failures never fail generation; they become entries in the
// report's Errors list.
func (a *Aggregator) Generate(ctx context.Context, id model.VehicleIdentifier, reportType model.ReportType, requestedBy string) (*model.VehicleReport, error) {
	ctx, span := otel.Tracer("vehicle-report-service").Start(ctx, "report.Generate")
	defer span.End()

	start := time.Now()
	now := start.UTC()

	// Opt-in dedup: return the existing report for this identifier, type,
	// and day bucket when one exists.
	var key string
	if a.dedupEnabled {
		key = dedupKey(id, reportType, now)
		if existingID, err := a.store.GetReportIDByDedupKey(ctx, key); err == nil {
			existing, err := a.store.GetReport(ctx, existingID)
			if err == nil {
				slog.Info("reusing existing report", "reportId", existing.ID, "identifier", id.Key())
				return existing, nil
			}
		}
	}

	// ULID report numbers give lexicographic ordering and collision resistance
	entropy := ulid.Monotonic(rand.Reader, 0)
	report := model.VehicleReport{
		ID:           uuid.New().String(),
		ReportNumber: ulid.MustNew(ulid.Timestamp(now), entropy).String(),
		Type:         reportType,
		Status:       model.StatusDraft,
		CreatedAt:    now,
		UpdatedAt:    now,
		SearchCriteria: model.SearchCriteria{
			Identifier:  id,
			SearchedAt:  now,
			RequestedBy: requestedBy,
		},
	}

	if err := a.store.CreateReport(ctx, report); err != nil {
		return nil, fmt.Errorf("failed to create report shell: %w", err)
	}

	report.Status = model.StatusGenerating
	report.UpdatedAt = time.Now().UTC()
	if err := a.store.UpdateReport(ctx, report); err != nil {
		return nil, fmt.Errorf("failed to advance report to generating: %w", err)
	}

	slog.Info("report generation started",
		"reportId", report.ID,
		"reportNumber", report.ReportNumber,
		"type", reportType,
		"identifier", id.Key())

	outcome := a.fanOut(ctx, id)
	a.merge(&report, outcome)
	a.analyze(&report)

	report.Generation.GeneratedAt = time.Now().UTC()
	report.Generation.DurationMillis = time.Since(start).Milliseconds()

	// Seal. At least one successful source completes the report; a total
	// provider outage seals it as error.
	if outcome.anySucceeded() {
		report.Status = model.StatusCompleted
	} else {
		report.Status = model.StatusError
	}
	report.UpdatedAt = time.Now().UTC()

	if err := a.store.UpdateReport(ctx, report); err != nil {
		return nil, fmt.Errorf("failed to seal report: %w", err)
	}

	a.metrics.ReportGeneratedTotal.WithLabelValues(string(reportType), string(report.Status), string(report.DataQuality)).Inc()
	a.metrics.ReportGenerationDuration.WithLabelValues(string(reportType), string(report.Status)).Observe(time.Since(start).Seconds())

	a.publishSealed(ctx, report)

	if a.dedupEnabled && report.Status == model.StatusCompleted {
		if err := a.store.PutDedupKey(ctx, key, report.ID, now.Add(a.dedupTTL)); err != nil {
			slog.Warn("failed to store dedup key", "reportId", report.ID, "error", err)
		}
	}

	slog.Info("report generation finished",
		"reportId", report.ID,
		"status", report.Status,
		"quality", report.DataQuality,
		"durationMs", report.Generation.DurationMillis)

	return &report, nil
}

// fanOutcome carries the three provider results plus per-source timing.
type fanOutcome struct {
	ppsr      provider.Result[provider.PPSRData]
	registry  provider.Result[provider.RegistryData]
	valuation provider.Result[provider.ValuationData]

	ppsrAt      time.Time
	registryAt  time.Time
	valuationAt time.Time
}

func (o fanOutcome) anySucceeded() bool {
	return o.ppsr.Success || o.registry.Success || o.valuation.Success
}

// fanOut calls every configured provider concurrently. Each goroutine writes
// to a disjoint field, so no locking is needed. An unconfigured provider
// becomes a failed result immediately.
func (a *Aggregator) fanOut(ctx context.Context, id model.VehicleIdentifier) fanOutcome {
	var outcome fanOutcome
	var wg sync.WaitGroup

	wg.Add(3)
	go func() {
		defer wg.Done()
		outcome.ppsr = lookupResult(ctx, a.metrics, provider.SourcePPSR, id, func(ctx context.Context) provider.Result[provider.PPSRData] {
			if a.providers.PPSR == nil {
				return provider.Fail[provider.PPSRData]("provider not configured")
			}
			return a.providers.PPSR.Lookup(ctx, id)
		})
		outcome.ppsrAt = time.Now().UTC()
	}()
	go func() {
		defer wg.Done()
		outcome.registry = lookupResult(ctx, a.metrics, provider.SourceRegistry, id, func(ctx context.Context) provider.Result[provider.RegistryData] {
			if a.providers.Registry == nil {
				return provider.Fail[provider.RegistryData]("provider not configured")
			}
			return a.providers.Registry.Lookup(ctx, id)
		})
		outcome.registryAt = time.Now().UTC()
	}()
	go func() {
		defer wg.Done()
		outcome.valuation = lookupResult(ctx, a.metrics, provider.SourceValuation, id, func(ctx context.Context) provider.Result[provider.ValuationData] {
			if a.providers.Valuation == nil {
				return provider.Fail[provider.ValuationData]("provider not configured")
			}
			return a.providers.Valuation.Lookup(ctx, id)
		})
		outcome.valuationAt = time.Now().UTC()
	}()
	wg.Wait()

	return outcome
}

// lookupResult runs one provider call with tracing and metrics.
func lookupResult[T any](ctx context.Context, m *metrics.Metrics, source string, id model.VehicleIdentifier, fn func(context.Context) provider.Result[T]) provider.Result[T] {
	ctx, span := otel.Tracer("vehicle-report-service").Start(ctx, "provider."+source)
	defer span.End()

	start := time.Now()
	res := fn(ctx)

	status := "error"
	if res.Success {
		status = "success"
	}
	m.ProviderLookupTotal.WithLabelValues(source, status).Inc()
	m.ProviderLookupDuration.WithLabelValues(source, status).Observe(time.Since(start).Seconds())

	if !res.Success {
		slog.Warn("provider lookup failed", "provider", source, "identifier", id.Key(), "error", res.Error)
	}

	return res
}

// merge folds the provider results into the report. Successful sources
// populate their sections with Checked set; failed sources leave their
// sections unchecked and add an entry to Errors. The summary flags are
// recomputed from the merged collections, never trusted from the provider.
func (a *Aggregator) merge(report *model.VehicleReport, outcome fanOutcome) {
	sources := make([]model.DataSourceInfo, 0, 3)

	if outcome.ppsr.Success && outcome.ppsr.Data != nil {
		data := outcome.ppsr.Data
		report.SecurityInterests = model.CheckedSection(data.SecurityInterests)
		report.Encumbrances = model.CheckedSection(data.Encumbrances)
		report.TheftHistory = model.CheckedSection(data.TheftHistory)
		report.WriteOffHistory = model.CheckedSection(data.WriteOffHistory)
		report.FloodHistory = model.CheckedSection(data.FloodHistory)
	} else {
		report.Errors = append(report.Errors, fmt.Sprintf("%s: %s", provider.SourcePPSR, outcome.ppsr.Error))
	}
	sources = append(sources, model.DataSourceInfo{
		Name:        provider.SourcePPSR,
		Succeeded:   outcome.ppsr.Success,
		RetrievedAt: outcome.ppsrAt,
		Freshness:   "realtime",
		Reliability: "authoritative",
		Error:       outcome.ppsr.Error,
	})

	if outcome.registry.Success && outcome.registry.Data != nil {
		data := outcome.registry.Data
		details := data.VehicleDetails
		report.VehicleDetails = &details
		report.AccidentHistory = model.CheckedSection(data.AccidentHistory)
		report.Recalls = model.CheckedSection(data.Recalls)
		report.InspectionHistory = model.CheckedSection(data.InspectionHistory)
		report.ComplianceRecords = model.CheckedSection(data.ComplianceRecords)
	} else {
		report.Errors = append(report.Errors, fmt.Sprintf("%s: %s", provider.SourceRegistry, outcome.registry.Error))
	}
	sources = append(sources, model.DataSourceInfo{
		Name:        provider.SourceRegistry,
		Succeeded:   outcome.registry.Success,
		RetrievedAt: outcome.registryAt,
		Freshness:   "realtime",
		Reliability: "authoritative",
		Error:       outcome.registry.Error,
	})

	if outcome.valuation.Success && outcome.valuation.Data != nil {
		valuation := outcome.valuation.Data.Valuation
		report.MarketValuation = &valuation
	} else {
		report.Errors = append(report.Errors, fmt.Sprintf("%s: %s", provider.SourceValuation, outcome.valuation.Error))
	}
	sources = append(sources, model.DataSourceInfo{
		Name:        provider.SourceValuation,
		Succeeded:   outcome.valuation.Success,
		RetrievedAt: outcome.valuationAt,
		Freshness:   "realtime",
		Reliability: "estimate",
		Error:       outcome.valuation.Error,
	})

	report.Generation.Sources = sources
	report.Generation.Quality = qualityMetrics(sources)
	report.DataQuality = deriveDataQuality(outcome.ppsr.Success, outcome.registry.Success)

	// Summary flags are pure functions of the merged collections
	report.IsFinanceOwing = model.FinanceOwing(report.SecurityInterests.Records)
	report.IsStolen = model.Stolen(report.TheftHistory.Records)
	report.IsWrittenOff = model.WrittenOff(report.WriteOffHistory.Records)
}

// deriveDataQuality classifies the run by how many authoritative sources
// succeeded. The valuation estimate never affects data quality.
func deriveDataQuality(ppsrOK, registryOK bool) model.DataQuality {
	switch {
	case ppsrOK && registryOK:
		return model.QualityComplete
	case ppsrOK || registryOK:
		return model.QualityPartial
	default:
		return model.QualityPoor
	}
}

// qualityMetrics computes the percentage metrics over all attempted sources.
func qualityMetrics(sources []model.DataSourceInfo) model.QualityMetrics {
	if len(sources) == 0 {
		return model.QualityMetrics{}
	}

	succeeded := 0
	authoritative := 0
	for _, s := range sources {
		if s.Succeeded {
			succeeded++
			if s.Reliability == "authoritative" {
				authoritative++
			}
		}
	}

	completeness := float64(succeeded) / float64(len(sources)) * 100
	accuracy := 0.0
	if succeeded > 0 {
		accuracy = float64(authoritative) / float64(succeeded) * 100
	}

	return model.QualityMetrics{
		Completeness: completeness,
		Accuracy:     accuracy,
		Confidence:   (completeness + accuracy) / 2,
	}
}

// Risk score weights. The score starts at zero and accumulates per finding,
// clamped to 100.
const (
	riskStolen      = 40
	riskWrittenOff  = 25
	riskFinance     = 20
	riskFlood       = 15
	riskAccident    = 5
	riskAccidentCap = 15
	riskPoorData    = 10
)

// analyze derives the risk analysis from the merged aggregate. The analysis
// is computed for every report; rendering decides which templates expose it.
func (a *Aggregator) analyze(report *model.VehicleReport) {
	score := 0
	var factors []string
	var positives []string

	if report.IsStolen {
		score += riskStolen
		factors = append(factors, "vehicle has an unresolved theft report")
	} else if report.TheftHistory.Clear() {
		positives = append(positives, "no theft records found")
	}

	if report.IsWrittenOff {
		score += riskWrittenOff
		factors = append(factors, "vehicle has a write-off declaration on record")
	} else if report.WriteOffHistory.Clear() {
		positives = append(positives, "no write-off records found")
	}

	if report.IsFinanceOwing {
		score += riskFinance
		factors = append(factors, "vehicle has registered finance owing")
	} else if report.SecurityInterests.Clear() {
		positives = append(positives, "no registered security interests")
	}

	if len(report.FloodHistory.Records) > 0 {
		score += riskFlood
		factors = append(factors, "vehicle has flood damage on record")
	}

	if n := len(report.AccidentHistory.Records); n > 0 {
		penalty := n * riskAccident
		if penalty > riskAccidentCap {
			penalty = riskAccidentCap
		}
		score += penalty
		factors = append(factors, fmt.Sprintf("%d accident record(s) on file", n))
	} else if report.AccidentHistory.Clear() {
		positives = append(positives, "no accident records found")
	}

	if report.DataQuality == model.QualityPoor {
		score += riskPoorData
		factors = append(factors, "insufficient data from authoritative sources")
	}

	if score > 100 {
		score = 100
	}

	category := riskCategory(score)
	recommendation := recommend(score, report.IsStolen)

	report.Analysis = &model.RiskAnalysis{
		OverallRiskScore: score,
		RiskCategory:     category,
		Recommendation:   recommendation,
		PositiveFindings: positives,
		RiskFactors:      factors,
		Summary:          riskSummary(category, factors),
		GeneratedAt:      time.Now().UTC(),
	}
}

// riskCategory buckets a 0-100 score into its five-band category.
func riskCategory(score int) model.RiskCategory {
	switch {
	case score <= 20:
		return model.RiskVeryLow
	case score <= 40:
		return model.RiskLow
	case score <= 60:
		return model.RiskMedium
	case score <= 80:
		return model.RiskHigh
	default:
		return model.RiskVeryHigh
	}
}

// recommend maps the score to purchase guidance. A live theft report is an
// automatic avoid regardless of the score.
func recommend(score int, stolen bool) model.Recommendation {
	if stolen || score > 60 {
		return model.RecommendAvoid
	}
	if score > 20 {
		return model.RecommendCaution
	}
	return model.RecommendProceed
}

func riskSummary(category model.RiskCategory, factors []string) string {
	if len(factors) == 0 {
		return fmt.Sprintf("Overall risk is %s with no adverse findings.", strings.ReplaceAll(string(category), "_", " "))
	}
	return fmt.Sprintf("Overall risk is %s: %s.", strings.ReplaceAll(string(category), "_", " "), strings.Join(factors, "; "))
}

// publishSealed emits the lifecycle event matching the sealed status.
func (a *Aggregator) publishSealed(ctx context.Context, report model.VehicleReport) {
	var err error
	eventType := "vhr.reports.completed"
	if report.Status == model.StatusCompleted {
		err = a.publisher.PublishReportCompleted(ctx, report)
	} else {
		eventType = "vhr.reports.failed"
		err = a.publisher.PublishReportFailed(ctx, report)
	}

	status := "success"
	if err != nil {
		status = "error"
		slog.Warn("failed to publish report event", "reportId", report.ID, "error", err)
	}
	a.metrics.EventPublishTotal.WithLabelValues(eventType, status).Inc()
}
