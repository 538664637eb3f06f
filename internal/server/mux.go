// internal/server/mux.go
// Package server implements the HTTP handlers and routing for the vehicle
// history report service: report generation, retrieval, rendering, the
// admin-gated manual-entry flow, and certificate uploads.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ClearRego/clearrego-vhr-go/internal/certificate"
	errordefs "github.com/ClearRego/clearrego-vhr-go/internal/errors"
	"github.com/ClearRego/clearrego-vhr-go/internal/event"
	"github.com/ClearRego/clearrego-vhr-go/internal/identifier"
	"github.com/ClearRego/clearrego-vhr-go/internal/jwks"
	"github.com/ClearRego/clearrego-vhr-go/internal/metrics"
	"github.com/ClearRego/clearrego-vhr-go/internal/model"
	"github.com/ClearRego/clearrego-vhr-go/internal/render"
	"github.com/ClearRego/clearrego-vhr-go/internal/report"
	"github.com/ClearRego/clearrego-vhr-go/internal/storage"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ContextKey is used for context values to avoid collisions
// when storing values in request context
type ContextKey string

const (
	// Context keys for storing request-scoped values
	ContextKeyAdmin         ContextKey = "admin"         // Admin subject from JWT
	ContextKeyCorrelationID ContextKey = "correlationId" // Unique ID for request tracking

	// Default limits for list operations
	DefaultListLimit = 25  // Default number of reports to return
	MaxListLimit     = 100 // Maximum number of reports to return

	// Presigned upload URL lifetime
	uploadURLExpiry = 15 * time.Minute
)

// Config carries the settings the mux needs beyond its collaborators.
type Config struct {
	JWTIssuer          string   // Expected issuer for admin JWTs
	JWTAudience        string   // Expected audience for admin JWTs
	StrictVINChecksum  bool     // Reject VINs whose check digit fails
	MaxCertSize        int64    // Maximum certificate size in bytes
	AllowedCertTypes   []string // Allowed MIME types for certificate uploads
	CORSAllowedOrigins []string // Allowed origins for CORS (empty means deny all)
	S3Bucket           string   // Bucket name used in stored certificate URIs
}

// Mux handles HTTP requests for the report service.
type Mux struct {
	mux        *http.ServeMux
	s          storage.Store
	agg        *report.Aggregator
	p          event.Publisher
	jwksClient *jwks.Client
	certClient certificate.ObjectStore
	metrics    *metrics.Metrics
	cfg        Config
}

// NewMux creates a new HTTP mux with all report service endpoints.
// certClient may be nil when no S3 configuration is present; the upload flow
// then falls back to a local placeholder URL and skips object verification.
func NewMux(s storage.Store, agg *report.Aggregator, p event.Publisher, jwksClient *jwks.Client, certClient certificate.ObjectStore, cfg Config) *http.ServeMux {
	if jwksClient == nil {
		jwksClient = jwks.NewClient(fmt.Sprintf("%s/.well-known/jwks.json", cfg.JWTIssuer))
	}

	m := &Mux{
		mux:        http.NewServeMux(),
		s:          s,
		agg:        agg,
		p:          p,
		jwksClient: jwksClient,
		certClient: certClient,
		metrics:    metrics.NewMetrics(),
		cfg:        cfg,
	}

	// Health and observability endpoints
	m.mux.HandleFunc("/healthz", m.handleHealthz)
	m.mux.HandleFunc("/readyz", m.handleReadyz)
	m.mux.Handle("/metrics", promhttp.Handler())

	// Report endpoints. The subtree handler dispatches get/render/manual
	// entry on the path under /v1/reports/.
	m.mux.HandleFunc("/v1/reports", m.withMiddleware(m.handleReports))
	m.mux.HandleFunc("/v1/reports/", m.withMiddleware(m.handleReportSubtree))

	// Certificate endpoints (admin only)
	m.mux.HandleFunc("/v1/certificates/uploadInit", m.method("POST", m.withMiddleware(m.handleCertUploadInit)))
	m.mux.HandleFunc("/v1/certificates/finalize", m.method("POST", m.withMiddleware(m.handleCertFinalize)))

	return m.mux
}

// method ensures the HTTP method matches the expected method
func (m *Mux) method(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method && r.Method != "OPTIONS" {
			err := errordefs.New(errordefs.VHR_BAD_REQUEST, "method not allowed", "")
			m.writeErrorDef(w, err)
			return
		}
		h(w, r)
	}
}

// adminOnly reports whether the request targets an admin-gated endpoint:
// the manual-entry flow and everything under /v1/certificates/.
func adminOnly(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, "/v1/certificates/") {
		return true
	}
	return r.Method == "POST" && strings.HasSuffix(r.URL.Path, "/securityInterests")
}

// statusRecorder captures the response status for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// withMiddleware applies common middleware to handlers: CORS, correlation
// IDs, admin JWT checks, request logging, and HTTP metrics.
func (m *Mux) withMiddleware(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Handle CORS preflight requests
		if r.Method == "OPTIONS" {
			if origin := r.Header.Get("Origin"); origin != "" && m.originAllowed(origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Correlation-Id")
				w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours
			}
			w.WriteHeader(http.StatusOK)
			return
		}

		if origin := r.Header.Get("Origin"); origin != "" && m.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}

		// Add correlation ID if not present
		correlationID := r.Header.Get("X-Correlation-Id")
		if correlationID == "" {
			correlationID = uuid.New().String()
		}
		r = r.WithContext(context.WithValue(r.Context(), ContextKeyCorrelationID, correlationID))
		w.Header().Set("X-Correlation-Id", correlationID)

		sw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		// Admin JWT is required for the manual-entry and certificate flows
		if adminOnly(r) {
			subject, err := m.validateJWT(r)
			if err != nil {
				var errorDef *errordefs.Error
				if e, ok := err.(*errordefs.Error); ok {
					errorDef = e
					errorDef.CorrelationID = correlationID
				} else {
					errorDef = errordefs.New(errordefs.VHR_AUTHZ, err.Error(), correlationID)
				}
				m.writeErrorDef(sw, errorDef)
				m.finishRequest(r, sw.status, time.Since(start), correlationID, err)
				return
			}
			r = r.WithContext(context.WithValue(r.Context(), ContextKeyAdmin, subject))
		}

		h(sw, r)
		m.finishRequest(r, sw.status, time.Since(start), correlationID, nil)
	}
}

// originAllowed checks an Origin header against the configured allow list.
func (m *Mux) originAllowed(origin string) bool {
	for _, allowed := range m.cfg.CORSAllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// validateJWT validates an admin JWT and extracts the subject using JWKS
func (m *Mux) validateJWT(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errordefs.New(errordefs.VHR_AUTHN, "missing Authorization header", "")
	}

	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", errordefs.New(errordefs.VHR_AUTHN, "invalid Authorization header format", "")
	}

	tokenString := strings.TrimPrefix(authHeader, "Bearer ")

	claims, err := m.jwksClient.ValidateJWT(r.Context(), tokenString, m.cfg.JWTIssuer, m.cfg.JWTAudience)
	if err != nil {
		// Map specific JWT validation errors to appropriate error codes
		errStr := err.Error()
		switch {
		case strings.Contains(errStr, "expired"):
			return "", errordefs.New(errordefs.VHR_JWT_EXPIRED, "JWT token expired", "")
		case strings.Contains(errStr, "invalid issuer"):
			return "", errordefs.New(errordefs.VHR_JWT_INVALID, "invalid JWT issuer", "")
		case strings.Contains(errStr, "invalid audience"):
			return "", errordefs.New(errordefs.VHR_JWT_INVALID, "invalid JWT audience", "")
		case strings.Contains(errStr, "kid"):
			return "", errordefs.New(errordefs.VHR_JWT_MALFORMED, "missing or invalid kid in JWT header", "")
		case strings.Contains(errStr, "key"):
			return "", errordefs.New(errordefs.VHR_JWT_INVALID, "failed to get key for JWT validation", "")
		case strings.Contains(errStr, "signature") || strings.Contains(errStr, "verify"):
			return "", errordefs.New(errordefs.VHR_JWT_INVALID, "invalid JWT signature", "")
		default:
			return "", errordefs.New(errordefs.VHR_JWT_INVALID, fmt.Sprintf("failed to validate JWT: %v", err), "")
		}
	}

	subject, ok := claims["sub"].(string)
	if !ok || subject == "" {
		return "", errordefs.New(errordefs.VHR_JWT_INVALID, "missing or invalid sub claim", "")
	}

	return subject, nil
}

// writeSuccess writes a successful response
func (m *Mux) writeSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	response := map[string]interface{}{
		"data": data,
	}
	_ = json.NewEncoder(w).Encode(response)
}

// writeError writes an error response following the service error taxonomy
func (m *Mux) writeError(w http.ResponseWriter, statusCode int, code, message, correlationID string, details interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	response := map[string]interface{}{
		"error": map[string]interface{}{
			"code":          code,
			"message":       message,
			"correlationId": correlationID,
		},
	}

	if details != nil {
		response["error"].(map[string]interface{})["details"] = details
	}

	_ = json.NewEncoder(w).Encode(response)
}

// writeErrorDef writes an error response using the error definitions package
func (m *Mux) writeErrorDef(w http.ResponseWriter, err *errordefs.Error) {
	m.writeError(w, err.HTTPStatus, string(err.Code), err.Message, err.CorrelationID, err.Details)
}

// finishRequest records HTTP metrics and logs the request outcome.
func (m *Mux) finishRequest(r *http.Request, status int, duration time.Duration, correlationID string, err error) {
	path := metricPath(r.URL.Path)
	statusLabel := strconv.Itoa(status)
	m.metrics.HTTPRequestTotal.WithLabelValues(r.Method, path, statusLabel).Inc()
	m.metrics.HTTPRequestDuration.WithLabelValues(r.Method, path, statusLabel).Observe(duration.Seconds())

	attrs := []slog.Attr{
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.Duration("duration", duration),
		slog.String("user_agent", r.UserAgent()),
		slog.String("remote_addr", r.RemoteAddr),
	}

	if correlationID != "" {
		attrs = append(attrs, slog.String("correlation_id", correlationID))
	}

	if admin, ok := r.Context().Value(ContextKeyAdmin).(string); ok && admin != "" {
		attrs = append(attrs, slog.String("admin", admin))
	}

	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		slog.LogAttrs(r.Context(), slog.LevelError, "request completed with error", attrs...)
	} else {
		slog.LogAttrs(r.Context(), slog.LevelInfo, "request completed", attrs...)
	}
}

// metricPath collapses report IDs out of the path to bound label cardinality.
func metricPath(path string) string {
	rest, ok := strings.CutPrefix(path, "/v1/reports/")
	if !ok || rest == "" {
		return path
	}
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		return "/v1/reports/{id}" + rest[i:]
	}
	return "/v1/reports/{id}"
}

// handleHealthz handles liveness health check requests
func (m *Mux) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReadyz handles readiness health check requests
func (m *Mux) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	// A probe lookup exercises the storage backend; ErrNotFound means the
	// store answered.
	_, err := m.s.GetReport(ctx, "health-check")
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReports dispatches the /v1/reports collection endpoint.
func (m *Mux) handleReports(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "POST":
		m.handleGenerateReport(w, r)
	case "GET":
		m.handleListReports(w, r)
	default:
		m.writeErrorDef(w, errordefs.New(errordefs.VHR_BAD_REQUEST, "method not allowed", ""))
	}
}

// handleReportSubtree dispatches paths under /v1/reports/: fetching a
// report, rendering it, and the manual-entry flow.
func (m *Mux) handleReportSubtree(w http.ResponseWriter, r *http.Request) {
	correlationID, _ := r.Context().Value(ContextKeyCorrelationID).(string)

	rest := strings.TrimPrefix(r.URL.Path, "/v1/reports/")
	reportID, sub, _ := strings.Cut(rest, "/")
	if reportID == "" {
		m.writeErrorDef(w, errordefs.New(errordefs.VHR_VALIDATION, "report id is required", correlationID))
		return
	}

	switch {
	case sub == "" && r.Method == "GET":
		m.handleGetReport(w, r, reportID)
	case sub == "render" && r.Method == "GET":
		m.handleRenderReport(w, r, reportID)
	case sub == "securityInterests" && r.Method == "POST":
		m.handleAppendInterest(w, r, reportID)
	default:
		m.writeErrorDef(w, errordefs.New(errordefs.VHR_BAD_REQUEST, "unknown report operation", correlationID))
	}
}

// handleGenerateReport handles POST /v1/reports
func (m *Mux) handleGenerateReport(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("vehicle-report-service").Start(r.Context(), "handleGenerateReport")
	defer span.End()
	defer r.Body.Close()

	correlationID, _ := ctx.Value(ContextKeyCorrelationID).(string)

	var req model.GenerateReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		span.SetStatus(codes.Error, "invalid JSON")
		m.writeErrorDef(w, errordefs.New(errordefs.VHR_VALIDATION, "invalid JSON", correlationID))
		return
	}

	span.SetAttributes(
		attribute.String("type", string(req.Type)),
		attribute.Bool("has_vin", req.VIN != ""),
		attribute.Bool("has_rego", req.Rego != ""),
	)

	if req.Type == "" {
		req.Type = model.ReportBasic
	}
	if !model.ValidReportType(req.Type) {
		m.writeErrorDef(w, errordefs.New(errordefs.VHR_VALIDATION, fmt.Sprintf("unknown report type %q", req.Type), correlationID))
		return
	}

	id, err := identifier.Validate(identifier.Input{VIN: req.VIN, Rego: req.Rego, State: req.State})
	if err != nil {
		span.SetStatus(codes.Error, "identifier rejected")
		code := errordefs.VHR_VALIDATION
		if errors.Is(err, identifier.ErrMissingField) {
			code = errordefs.VHR_MISSING_FIELD
		}
		m.writeErrorDef(w, errordefs.New(code, err.Error(), correlationID))
		return
	}

	// Strict mode rejects VINs whose ISO 3779 check digit fails
	if m.cfg.StrictVINChecksum && id.Type == model.IdentifierVIN {
		if err := identifier.VerifyCheckDigit(id.VIN); err != nil {
			span.SetStatus(codes.Error, "checksum rejected")
			m.writeErrorDef(w, errordefs.New(errordefs.VHR_CHECKSUM_REJECT, err.Error(), correlationID))
			return
		}
	}

	generated, err := m.agg.Generate(ctx, id, req.Type, req.RequestedBy)
	if err != nil {
		span.SetStatus(codes.Error, "generation failed")
		m.writeErrorDef(w, errordefs.New(errordefs.VHR_INTERNAL, "failed to generate report", correlationID))
		return
	}

	span.SetAttributes(
		attribute.String("report_id", generated.ID),
		attribute.String("status", string(generated.Status)),
	)

	m.writeSuccess(w, http.StatusOK, generated)
}

// handleGetReport handles GET /v1/reports/{id}
func (m *Mux) handleGetReport(w http.ResponseWriter, r *http.Request, reportID string) {
	ctx, span := otel.Tracer("vehicle-report-service").Start(r.Context(), "handleGetReport")
	defer span.End()

	correlationID, _ := ctx.Value(ContextKeyCorrelationID).(string)
	span.SetAttributes(attribute.String("report_id", reportID))

	rep, err := m.s.GetReport(ctx, reportID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			m.writeErrorDef(w, errordefs.New(errordefs.VHR_NOT_FOUND, "report not found", correlationID))
			return
		}
		span.SetStatus(codes.Error, "failed to get report")
		m.writeErrorDef(w, errordefs.New(errordefs.VHR_INTERNAL, "failed to get report", correlationID))
		return
	}

	m.writeSuccess(w, http.StatusOK, rep)
}

// handleRenderReport handles GET /v1/reports/{id}/render?template=...
func (m *Mux) handleRenderReport(w http.ResponseWriter, r *http.Request, reportID string) {
	ctx, span := otel.Tracer("vehicle-report-service").Start(r.Context(), "handleRenderReport")
	defer span.End()

	correlationID, _ := ctx.Value(ContextKeyCorrelationID).(string)

	rep, err := m.s.GetReport(ctx, reportID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			m.writeErrorDef(w, errordefs.New(errordefs.VHR_NOT_FOUND, "report not found", correlationID))
			return
		}
		span.SetStatus(codes.Error, "failed to get report")
		m.writeErrorDef(w, errordefs.New(errordefs.VHR_INTERNAL, "failed to get report", correlationID))
		return
	}

	// The template defaults to the type the report was generated as
	template := model.ReportType(r.URL.Query().Get("template"))
	if template == "" {
		template = rep.Type
	}
	span.SetAttributes(
		attribute.String("report_id", reportID),
		attribute.String("template", string(template)),
	)

	view, err := render.Project(rep, template)
	if err != nil {
		span.SetStatus(codes.Error, "projection refused")
		switch {
		case errors.Is(err, render.ErrNotSealed):
			m.writeErrorDef(w, errordefs.New(errordefs.VHR_REPORT_NOT_SEALED, "report is still generating", correlationID))
		case errors.Is(err, render.ErrUnusable):
			m.writeErrorDef(w, errordefs.New(errordefs.VHR_REPORT_UNUSABLE, "report sealed with no data", correlationID))
		case errors.Is(err, render.ErrTemplate):
			m.writeErrorDef(w, errordefs.New(errordefs.VHR_VALIDATION, fmt.Sprintf("unknown template %q", template), correlationID))
		default:
			m.writeErrorDef(w, errordefs.New(errordefs.VHR_INTERNAL, "failed to render report", correlationID))
		}
		return
	}

	m.writeSuccess(w, http.StatusOK, view)
}

// handleListReports handles GET /v1/reports
func (m *Mux) handleListReports(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("vehicle-report-service").Start(r.Context(), "handleListReports")
	defer span.End()

	correlationID, _ := ctx.Value(ContextKeyCorrelationID).(string)

	limit := DefaultListLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if v, err := strconv.Atoi(limitStr); err == nil {
			if v > 0 && v <= MaxListLimit {
				limit = v
			} else if v > MaxListLimit {
				limit = MaxListLimit
			}
		}
	}

	var since, until time.Time
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		if t, err := time.Parse(time.RFC3339, sinceStr); err == nil {
			since = t
			span.SetAttributes(attribute.String("since", sinceStr))
		}
	}
	if untilStr := r.URL.Query().Get("until"); untilStr != "" {
		if t, err := time.Parse(time.RFC3339, untilStr); err == nil {
			until = t
			span.SetAttributes(attribute.String("until", untilStr))
		}
	}

	query := model.ListReportsQuery{
		RequestedBy: r.URL.Query().Get("requestedBy"),
		Limit:       limit,
		Cursor:      r.URL.Query().Get("cursor"),
		Since:       since,
		Until:       until,
	}

	result, err := m.s.ListReports(ctx, query)
	if err != nil {
		span.SetStatus(codes.Error, "failed to list reports")
		if strings.Contains(err.Error(), "invalid cursor") {
			m.writeErrorDef(w, errordefs.New(errordefs.VHR_CURSOR_INVALID, err.Error(), correlationID))
			return
		}
		m.writeErrorDef(w, errordefs.New(errordefs.VHR_INTERNAL, "failed to list reports", correlationID))
		return
	}

	m.writeSuccess(w, http.StatusOK, result)
}

// handleAppendInterest handles POST /v1/reports/{id}/securityInterests.
// This is the sanctioned manual-entry flow: an operator appends a security
// interest to a sealed report with full provenance.
func (m *Mux) handleAppendInterest(w http.ResponseWriter, r *http.Request, reportID string) {
	ctx, span := otel.Tracer("vehicle-report-service").Start(r.Context(), "handleAppendInterest")
	defer span.End()
	defer r.Body.Close()

	correlationID, _ := ctx.Value(ContextKeyCorrelationID).(string)

	var req model.ManualInterestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		span.SetStatus(codes.Error, "invalid JSON")
		m.writeErrorDef(w, errordefs.New(errordefs.VHR_VALIDATION, "invalid JSON", correlationID))
		return
	}

	if req.RegistrationNumber == "" || req.Type == "" || req.Status == "" {
		m.writeErrorDef(w, errordefs.New(errordefs.VHR_VALIDATION, "registrationNumber, type, and status are required", correlationID))
		return
	}

	admin, _ := ctx.Value(ContextKeyAdmin).(string)
	now := time.Now().UTC()
	registeredAt := now
	if req.RegisteredAt != nil {
		registeredAt = *req.RegisteredAt
	}

	interest := model.SecurityInterest{
		RegistrationNumber: req.RegistrationNumber,
		Type:               req.Type,
		Status:             req.Status,
		SecuredParty:       req.SecuredParty,
		Amount:             req.Amount,
		RegisteredAt:       registeredAt,
		ManuallyEntered:    true,
		EnteredBy:          admin,
		DataSource:         "manual",
		LastUpdated:        now,
	}

	span.SetAttributes(
		attribute.String("report_id", reportID),
		attribute.String("registration_number", req.RegistrationNumber),
	)

	updated, err := m.s.AppendManualInterest(ctx, reportID, interest)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			m.writeErrorDef(w, errordefs.New(errordefs.VHR_NOT_FOUND, "report not found", correlationID))
			return
		}
		if strings.Contains(err.Error(), "sealed") {
			m.writeErrorDef(w, errordefs.New(errordefs.VHR_REPORT_NOT_SEALED, "manual entry requires a sealed report", correlationID))
			return
		}
		span.SetStatus(codes.Error, "manual entry failed")
		m.writeErrorDef(w, errordefs.New(errordefs.VHR_INTERNAL, "failed to append security interest", correlationID))
		return
	}

	slog.Info("manual security interest appended",
		"reportId", reportID,
		"registrationNumber", req.RegistrationNumber,
		"enteredBy", admin)

	m.writeSuccess(w, http.StatusOK, updated)
}

// handleCertUploadInit handles POST /v1/certificates/uploadInit
func (m *Mux) handleCertUploadInit(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("vehicle-report-service").Start(r.Context(), "handleCertUploadInit")
	defer span.End()
	defer r.Body.Close()

	correlationID, _ := ctx.Value(ContextKeyCorrelationID).(string)

	var req model.CertUploadInitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		span.SetStatus(codes.Error, "invalid JSON")
		m.writeErrorDef(w, errordefs.New(errordefs.VHR_VALIDATION, "invalid JSON", correlationID))
		return
	}

	span.SetAttributes(
		attribute.String("report_id", req.ReportID),
		attribute.String("mime_type", req.MimeType),
		attribute.Int64("size", req.Size),
	)

	if req.ReportID == "" || req.MimeType == "" || req.Size <= 0 {
		m.writeErrorDef(w, errordefs.New(errordefs.VHR_VALIDATION, "reportId, mimeType, and size are required", correlationID))
		return
	}

	if req.Size > m.cfg.MaxCertSize {
		m.writeErrorDef(w, errordefs.New(errordefs.VHR_CERT_SIZE, fmt.Sprintf("certificate size exceeds limit of %d bytes", m.cfg.MaxCertSize), correlationID))
		return
	}

	allowed := false
	for _, mimeType := range m.cfg.AllowedCertTypes {
		if req.MimeType == mimeType {
			allowed = true
			break
		}
	}
	if !allowed {
		m.writeErrorDef(w, errordefs.New(errordefs.VHR_CERT_TYPE, fmt.Sprintf("certificate type %s is not allowed", req.MimeType), correlationID))
		return
	}

	// Certificates attach to sealed, completed reports only
	rep, err := m.s.GetReport(ctx, req.ReportID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			m.writeErrorDef(w, errordefs.New(errordefs.VHR_NOT_FOUND, "report not found", correlationID))
			return
		}
		m.writeErrorDef(w, errordefs.New(errordefs.VHR_INTERNAL, "failed to get report", correlationID))
		return
	}
	if rep.Status != model.StatusCompleted {
		m.writeErrorDef(w, errordefs.New(errordefs.VHR_REPORT_NOT_SEALED, "certificates attach to completed reports only", correlationID))
		return
	}

	admin, _ := ctx.Value(ContextKeyAdmin).(string)
	certID := uuid.New().String()
	objectKey := certificate.ObjectKey(req.ReportID, certID)
	if req.Filename != "" {
		objectKey += "/" + req.Filename
	}

	uri := fmt.Sprintf("s3://%s/%s", m.cfg.S3Bucket, objectKey)
	if m.certClient != nil {
		uri = m.certClient.ObjectURI(objectKey)
	}

	cert := model.Certificate{
		CertID:     certID,
		ReportID:   req.ReportID,
		URI:        uri,
		MimeType:   req.MimeType,
		Size:       req.Size,
		Checksum:   req.SHA256,
		UploadedBy: admin,
		CreatedAt:  time.Now().UTC(),
	}

	if err := m.s.AddCertificate(ctx, cert); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			m.writeErrorDef(w, errordefs.New(errordefs.VHR_CONFLICT, "certificate already exists", correlationID))
			return
		}
		m.writeErrorDef(w, errordefs.New(errordefs.VHR_INTERNAL, "failed to create certificate", correlationID))
		return
	}

	// Generate presigned URL for direct S3 upload
	var uploadURL string
	expiresAt := time.Now().Add(uploadURLExpiry)
	if m.certClient != nil {
		uploadURL, err = m.certClient.GenerateUploadURL(ctx, objectKey, uploadURLExpiry)
		if err != nil {
			span.SetStatus(codes.Error, "presign failed")
			m.writeErrorDef(w, errordefs.New(errordefs.VHR_INTERNAL, "failed to generate upload URL", correlationID))
			return
		}
	} else {
		// Fallback when S3 is not configured
		uploadURL = fmt.Sprintf("http://localhost:8081/upload/%s", certID)
	}

	response := model.CertUploadInitData{
		CertID:    certID,
		UploadURL: uploadURL,
		ExpiresAt: expiresAt,
	}

	m.writeSuccess(w, http.StatusOK, response)
}

// handleCertFinalize handles POST /v1/certificates/finalize
func (m *Mux) handleCertFinalize(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("vehicle-report-service").Start(r.Context(), "handleCertFinalize")
	defer span.End()
	defer r.Body.Close()

	correlationID, _ := ctx.Value(ContextKeyCorrelationID).(string)

	var req model.CertFinalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		span.SetStatus(codes.Error, "invalid JSON")
		m.writeErrorDef(w, errordefs.New(errordefs.VHR_VALIDATION, "invalid JSON", correlationID))
		return
	}

	if req.CertID == "" || req.SHA256 == "" {
		m.writeErrorDef(w, errordefs.New(errordefs.VHR_VALIDATION, "certId and sha256 are required", correlationID))
		return
	}

	span.SetAttributes(attribute.String("cert_id", req.CertID))

	cert, err := m.s.GetCertificate(ctx, req.CertID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			m.writeErrorDef(w, errordefs.New(errordefs.VHR_NOT_FOUND, "certificate not found", correlationID))
			return
		}
		m.writeErrorDef(w, errordefs.New(errordefs.VHR_INTERNAL, "failed to get certificate", correlationID))
		return
	}

	// Verify object exists and checksum matches if S3 is configured
	if m.certClient != nil {
		objectKey := strings.TrimPrefix(cert.URI, fmt.Sprintf("s3://%s/", m.cfg.S3Bucket))

		valid, size, err := m.certClient.VerifyObject(ctx, objectKey, req.SHA256)
		if err != nil {
			span.SetStatus(codes.Error, "verification failed")
			m.writeErrorDef(w, errordefs.New(errordefs.VHR_INTERNAL, "failed to verify certificate object", correlationID))
			return
		}
		if !valid {
			m.writeErrorDef(w, errordefs.New(errordefs.VHR_CERT_CHECKSUM, "checksum verification failed", correlationID))
			return
		}
		cert.Size = size
	}

	cert.Checksum = req.SHA256
	if admin, ok := ctx.Value(ContextKeyAdmin).(string); ok && cert.UploadedBy == "" {
		cert.UploadedBy = admin
	}
	if err := m.s.UpdateCertificate(ctx, *cert); err != nil {
		m.writeErrorDef(w, errordefs.New(errordefs.VHR_INTERNAL, "failed to update certificate", correlationID))
		return
	}

	// Publish certificate attached event
	if err := m.p.PublishCertificateAttached(ctx, *cert); err != nil {
		slog.Warn("failed to publish certificate attached event", "error", err)
	}

	m.writeSuccess(w, http.StatusOK, cert)
}
