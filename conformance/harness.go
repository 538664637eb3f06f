// Package conformance provides a black-box test harness for verifying a
// report service implementation against the public HTTP contract.
package conformance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ClearRego/clearrego-vhr-go/internal/event"
	"github.com/ClearRego/clearrego-vhr-go/internal/jwks"
	"github.com/ClearRego/clearrego-vhr-go/internal/model"
	"github.com/ClearRego/clearrego-vhr-go/internal/provider"
	"github.com/ClearRego/clearrego-vhr-go/internal/report"
	"github.com/ClearRego/clearrego-vhr-go/internal/server"
	"github.com/ClearRego/clearrego-vhr-go/internal/storage"
)

// Harness runs a fully wired service instance over httptest with fixture
// providers, in-memory storage, and a no-op event publisher.
type Harness struct {
	server *httptest.Server
	store  storage.Store
	pub    event.Publisher
	jwks   *jwks.Client
	cfg    Config
}

// Config holds configuration for the conformance test harness.
type Config struct {
	// JWTIssuer is the expected JWT issuer for admin endpoints
	JWTIssuer string

	// JWTAudience is the expected JWT audience for admin endpoints
	JWTAudience string

	// StrictVINChecksum rejects VINs whose ISO 3779 check digit fails
	StrictVINChecksum bool

	// MaxCertSize is the certificate upload size limit in bytes
	MaxCertSize int64

	// AllowedCertTypes lists the accepted certificate MIME types
	AllowedCertTypes []string
}

// NewHarness creates a new conformance test harness.
func NewHarness(cfg Config) (*Harness, error) {
	if cfg.MaxCertSize == 0 {
		cfg.MaxCertSize = 10 * 1024 * 1024
	}
	if cfg.AllowedCertTypes == nil {
		cfg.AllowedCertTypes = []string{"application/pdf", "image/png", "image/jpeg"}
	}

	store := storage.NewMemory()
	pub := &noopPublisher{}

	// Fixture providers answer every identifier with clean data, so any
	// well-formed request produces a completed report.
	providers, _, _, _ := provider.FixtureSet()

	// Dedup is off so repeated generations create distinct reports, which
	// pagination tests rely on.
	agg := report.New(store, providers, pub, false)

	jwksClient := jwks.NewTestClient()

	mux := server.NewMux(store, agg, pub, jwksClient, nil, server.Config{
		JWTIssuer:         cfg.JWTIssuer,
		JWTAudience:       cfg.JWTAudience,
		StrictVINChecksum: cfg.StrictVINChecksum,
		MaxCertSize:       cfg.MaxCertSize,
		AllowedCertTypes:  cfg.AllowedCertTypes,
	})

	return &Harness{
		server: httptest.NewServer(mux),
		store:  store,
		pub:    pub,
		jwks:   jwksClient,
		cfg:    cfg,
	}, nil
}

// URL returns the base URL of the test server.
func (h *Harness) URL() string {
	return h.server.URL
}

// AdminToken mints a JWT accepted by the harness's admin endpoints.
func (h *Harness) AdminToken(subject string) (string, error) {
	return h.jwks.SignTestToken(subject, h.cfg.JWTIssuer, h.cfg.JWTAudience)
}

// Close shuts down the test server and cleans up resources.
func (h *Harness) Close() {
	h.server.Close()
	h.pub.Close()
}

// RunConformanceTests runs all conformance tests against the implementation.
func (h *Harness) RunConformanceTests(t *testing.T) {
	t.Run("HealthEndpoints", h.testHealthEndpoints)
	t.Run("ReportLifecycle", h.testReportLifecycle)
	t.Run("IdentifierValidation", h.testIdentifierValidation)
	t.Run("Rendering", h.testRendering)
	t.Run("Pagination", h.testPagination)
	t.Run("AdminGating", h.testAdminGating)
	t.Run("ErrorEnvelope", h.testErrorEnvelope)
}

// noopPublisher is a no-op implementation of event.Publisher for testing.
type noopPublisher struct{}

func (n *noopPublisher) PublishReportCompleted(ctx context.Context, report model.VehicleReport) error {
	return nil
}

func (n *noopPublisher) PublishReportFailed(ctx context.Context, report model.VehicleReport) error {
	return nil
}

func (n *noopPublisher) PublishCertificateAttached(ctx context.Context, cert model.Certificate) error {
	return nil
}

func (n *noopPublisher) Close() error {
	return nil
}

// postJSON issues a POST with an optional bearer token.
func (h *Harness) postJSON(t *testing.T, path string, body interface{}, token string) *http.Response {
	t.Helper()

	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal request body: %v", err)
	}

	req, err := http.NewRequest("POST", h.URL()+path, bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

// decodeReport unwraps the {"data": ...} envelope around a report.
func decodeReport(t *testing.T, resp *http.Response) model.VehicleReport {
	t.Helper()
	defer resp.Body.Close()

	var envelope struct {
		Data model.VehicleReport `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("failed to decode report envelope: %v", err)
	}
	return envelope.Data
}

// decodeErrorCode unwraps the error envelope and returns its code.
func decodeErrorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()

	var envelope struct {
		Error struct {
			Code          string `json:"code"`
			Message       string `json:"message"`
			CorrelationID string `json:"correlationId"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("failed to decode error envelope: %v", err)
	}
	return envelope.Error.Code
}

// generate creates a report and fails the test on any non-200 response.
func (h *Harness) generate(t *testing.T, req model.GenerateReportRequest) model.VehicleReport {
	t.Helper()

	resp := h.postJSON(t, "/v1/reports", req, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 for generation, got %d", resp.StatusCode)
	}
	return decodeReport(t, resp)
}

// testHealthEndpoints verifies the liveness and readiness probes.
func (h *Harness) testHealthEndpoints(t *testing.T) {
	for _, endpoint := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(h.URL() + endpoint)
		if err != nil {
			t.Fatalf("failed to GET %s: %v", endpoint, err)
		}
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Errorf("expected status 200 for %s, got %d", endpoint, resp.StatusCode)
		}
	}
}

// testReportLifecycle verifies that generation seals a report and that the
// sealed report is retrievable by ID.
func (h *Harness) testReportLifecycle(t *testing.T) {
	rep := h.generate(t, model.GenerateReportRequest{
		VIN:  "WVWZZZ1JZ3W386752",
		Type: model.ReportComprehensive,
	})

	if rep.ID == "" {
		t.Fatal("expected non-empty report ID")
	}
	if rep.ReportNumber == "" {
		t.Error("expected non-empty report number")
	}
	if rep.Status != model.StatusCompleted {
		t.Errorf("expected completed status, got %s", rep.Status)
	}
	if rep.DataQuality != model.QualityComplete {
		t.Errorf("expected complete data quality, got %s", rep.DataQuality)
	}

	resp, err := http.Get(h.URL() + "/v1/reports/" + rep.ID)
	if err != nil {
		t.Fatalf("failed to GET report: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 fetching report, got %d", resp.StatusCode)
	}

	fetched := decodeReport(t, resp)
	if fetched.ID != rep.ID {
		t.Errorf("fetched report ID %s does not match generated %s", fetched.ID, rep.ID)
	}
	if fetched.Status != model.StatusCompleted {
		t.Errorf("fetched report has status %s, want completed", fetched.Status)
	}
}

// testIdentifierValidation verifies the request validation contract.
func (h *Harness) testIdentifierValidation(t *testing.T) {
	// Neither VIN nor rego
	resp := h.postJSON(t, "/v1/reports", model.GenerateReportRequest{Type: model.ReportBasic}, "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected status 400 for missing identifier, got %d", resp.StatusCode)
	}
	if code := decodeErrorCode(t, resp); code != "VHR_VALIDATION" {
		t.Errorf("expected VHR_VALIDATION error code, got %s", code)
	}

	// Rego without state
	resp = h.postJSON(t, "/v1/reports", model.GenerateReportRequest{Rego: "ABC123"}, "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected status 400 for rego without state, got %d", resp.StatusCode)
	}
	if code := decodeErrorCode(t, resp); code != "VHR_MISSING_FIELD" {
		t.Errorf("expected VHR_MISSING_FIELD error code, got %s", code)
	}

	// Unknown report type
	resp = h.postJSON(t, "/v1/reports", model.GenerateReportRequest{
		VIN:  "WVWZZZ1JZ3W386752",
		Type: model.ReportType("deluxe"),
	}, "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected status 400 for unknown report type, got %d", resp.StatusCode)
	}
	if code := decodeErrorCode(t, resp); code != "VHR_VALIDATION" {
		t.Errorf("expected VHR_VALIDATION error code, got %s", code)
	}
}

// testRendering verifies that a sealed report renders under every template
// and that unknown templates are rejected.
func (h *Harness) testRendering(t *testing.T) {
	rep := h.generate(t, model.GenerateReportRequest{
		VIN:  "WVWZZZ1JZ3W386752",
		Type: model.ReportPremium,
	})

	for _, template := range []string{"basic", "comprehensive", "premium"} {
		resp, err := http.Get(fmt.Sprintf("%s/v1/reports/%s/render?template=%s", h.URL(), rep.ID, template))
		if err != nil {
			t.Fatalf("failed to render %s template: %v", template, err)
		}
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Errorf("expected status 200 rendering %s template, got %d", template, resp.StatusCode)
		}
	}

	resp, err := http.Get(fmt.Sprintf("%s/v1/reports/%s/render?template=deluxe", h.URL(), rep.ID))
	if err != nil {
		t.Fatalf("failed to render unknown template: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected status 400 for unknown template, got %d", resp.StatusCode)
	}
	if code := decodeErrorCode(t, resp); code != "VHR_VALIDATION" {
		t.Errorf("expected VHR_VALIDATION error code, got %s", code)
	}
}

// testPagination verifies cursor pagination over the report list.
func (h *Harness) testPagination(t *testing.T) {
	requestedBy := "conformance-pagination"
	for i := 0; i < 3; i++ {
		h.generate(t, model.GenerateReportRequest{
			VIN:         "WVWZZZ1JZ3W386752",
			Type:        model.ReportBasic,
			RequestedBy: requestedBy,
		})
	}

	listURL := fmt.Sprintf("%s/v1/reports?requestedBy=%s&limit=2", h.URL(), requestedBy)
	resp, err := http.Get(listURL)
	if err != nil {
		t.Fatalf("failed to list reports: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 listing reports, got %d", resp.StatusCode)
	}

	var page struct {
		Data model.ListReportsResult `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		t.Fatalf("failed to decode list response: %v", err)
	}
	if len(page.Data.Reports) != 2 {
		t.Fatalf("expected 2 reports on first page, got %d", len(page.Data.Reports))
	}
	if page.Data.NextCursor == "" {
		t.Fatal("expected a next cursor on the first page")
	}

	resp2, err := http.Get(listURL + "&cursor=" + page.Data.NextCursor)
	if err != nil {
		t.Fatalf("failed to list second page: %v", err)
	}
	defer resp2.Body.Close()

	var page2 struct {
		Data model.ListReportsResult `json:"data"`
	}
	if err := json.NewDecoder(resp2.Body).Decode(&page2); err != nil {
		t.Fatalf("failed to decode second page: %v", err)
	}
	if len(page2.Data.Reports) != 1 {
		t.Errorf("expected 1 report on second page, got %d", len(page2.Data.Reports))
	}
	if page2.Data.NextCursor != "" {
		t.Errorf("expected no cursor on the last page, got %s", page2.Data.NextCursor)
	}

	// Reject garbage cursors
	resp3, err := http.Get(listURL + "&cursor=not-a-cursor")
	if err != nil {
		t.Fatalf("failed to list with bad cursor: %v", err)
	}
	if resp3.StatusCode != http.StatusBadRequest {
		t.Errorf("expected status 400 for bad cursor, got %d", resp3.StatusCode)
	}
	if code := decodeErrorCode(t, resp3); code != "VHR_CURSOR_INVALID" {
		t.Errorf("expected VHR_CURSOR_INVALID error code, got %s", code)
	}
}

// testAdminGating verifies that the manual-entry flow requires an admin JWT
// and works end to end with one.
func (h *Harness) testAdminGating(t *testing.T) {
	rep := h.generate(t, model.GenerateReportRequest{
		VIN:  "WVWZZZ1JZ3W386752",
		Type: model.ReportComprehensive,
	})

	body := model.ManualInterestRequest{
		RegistrationNumber: "PPSR-CONF-001",
		Type:               model.InterestFinance,
		Status:             model.InterestRegistered,
		SecuredParty:       "Conformance Finance Co",
		Amount:             12000,
	}

	path := "/v1/reports/" + rep.ID + "/securityInterests"

	resp := h.postJSON(t, path, body, "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected status 401 without token, got %d", resp.StatusCode)
	}
	if code := decodeErrorCode(t, resp); code != "VHR_AUTHN" {
		t.Errorf("expected VHR_AUTHN error code, got %s", code)
	}

	token, err := h.AdminToken("conformance-admin")
	if err != nil {
		t.Fatalf("failed to mint admin token: %v", err)
	}

	resp = h.postJSON(t, path, body, token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 with admin token, got %d", resp.StatusCode)
	}

	updated := decodeReport(t, resp)
	if len(updated.SecurityInterests.Records) != 1 {
		t.Fatalf("expected 1 security interest after manual entry, got %d", len(updated.SecurityInterests.Records))
	}
	entry := updated.SecurityInterests.Records[0]
	if !entry.ManuallyEntered {
		t.Error("expected manual entry to be flagged as manually entered")
	}
	if entry.EnteredBy != "conformance-admin" {
		t.Errorf("expected enteredBy conformance-admin, got %s", entry.EnteredBy)
	}
	if !updated.IsFinanceOwing {
		t.Error("expected finance owing flag to be recomputed after manual entry")
	}
}

// testErrorEnvelope verifies the error envelope shape and the correlation
// ID contract.
func (h *Harness) testErrorEnvelope(t *testing.T) {
	req, err := http.NewRequest("GET", h.URL()+"/v1/reports/no-such-report", nil)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("X-Correlation-Id", "conformance-corr-123")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected status 404 for unknown report, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Correlation-Id"); got != "conformance-corr-123" {
		t.Errorf("expected correlation ID to be echoed, got %q", got)
	}

	var envelope struct {
		Error struct {
			Code          string `json:"code"`
			Message       string `json:"message"`
			CorrelationID string `json:"correlationId"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("failed to decode error envelope: %v", err)
	}
	if envelope.Error.Code != "VHR_NOT_FOUND" {
		t.Errorf("expected VHR_NOT_FOUND error code, got %s", envelope.Error.Code)
	}
	if envelope.Error.Message == "" {
		t.Error("expected a non-empty error message")
	}
	if envelope.Error.CorrelationID != "conformance-corr-123" {
		t.Errorf("expected correlation ID in error body, got %q", envelope.Error.CorrelationID)
	}
}
