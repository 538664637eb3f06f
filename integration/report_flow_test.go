// integration/report_flow_test.go
// Package integration exercises the full report flow over HTTP: generation
// against fixture providers, retrieval, rendering, manual entry, and the
// certificate attachment flow.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ClearRego/clearrego-vhr-go/internal/identifier"
	"github.com/ClearRego/clearrego-vhr-go/internal/jwks"
	"github.com/ClearRego/clearrego-vhr-go/internal/model"
	"github.com/ClearRego/clearrego-vhr-go/internal/provider"
	"github.com/ClearRego/clearrego-vhr-go/internal/render"
	"github.com/ClearRego/clearrego-vhr-go/internal/report"
	"github.com/ClearRego/clearrego-vhr-go/internal/server"
	"github.com/ClearRego/clearrego-vhr-go/internal/storage"
)

const (
	testIssuer   = "https://identity.test"
	testAudience = "vehicle-report-service"
	testVIN      = "WVWZZZ1JZ3W386752"
)

// capturePublisher records published events for assertions.
type capturePublisher struct {
	mu        sync.Mutex
	completed []model.VehicleReport
	failed    []model.VehicleReport
	certs     []model.Certificate
}

func (p *capturePublisher) PublishReportCompleted(ctx context.Context, report model.VehicleReport) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed = append(p.completed, report)
	return nil
}

func (p *capturePublisher) PublishReportFailed(ctx context.Context, report model.VehicleReport) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failed = append(p.failed, report)
	return nil
}

func (p *capturePublisher) PublishCertificateAttached(ctx context.Context, cert model.Certificate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.certs = append(p.certs, cert)
	return nil
}

func (p *capturePublisher) Close() error {
	return nil
}

// flowEnv wires a full service instance with fixture providers whose
// scenario data the test controls.
type flowEnv struct {
	server   *httptest.Server
	store    storage.Store
	pub      *capturePublisher
	jwks     *jwks.Client
	ppsr     *provider.FixturePPSR
	registry *provider.FixtureRegistry
}

func newFlowEnv(t *testing.T) *flowEnv {
	t.Helper()

	store := storage.NewMemory()
	pub := &capturePublisher{}
	providers, ppsr, registry, _ := provider.FixtureSet()
	agg := report.New(store, providers, pub, false)
	jwksClient := jwks.NewTestClient()

	mux := server.NewMux(store, agg, pub, jwksClient, nil, server.Config{
		JWTIssuer:        testIssuer,
		JWTAudience:      testAudience,
		MaxCertSize:      10 * 1024 * 1024,
		AllowedCertTypes: []string{"application/pdf"},
		S3Bucket:         "vhr-certificates",
	})

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	return &flowEnv{
		server:   ts,
		store:    store,
		pub:      pub,
		jwks:     jwksClient,
		ppsr:     ppsr,
		registry: registry,
	}
}

func (e *flowEnv) adminToken(t *testing.T) string {
	t.Helper()
	token, err := e.jwks.SignTestToken("ops@clearrego.test", testIssuer, testAudience)
	if err != nil {
		t.Fatalf("failed to mint admin token: %v", err)
	}
	return token
}

func (e *flowEnv) post(t *testing.T, path string, body interface{}, token string) *http.Response {
	t.Helper()

	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal body: %v", err)
	}
	req, err := http.NewRequest("POST", e.server.URL+path, bytes.NewReader(buf))
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

func decodeData[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()

	var envelope struct {
		Data T `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("failed to decode response envelope: %v", err)
	}
	return envelope.Data
}

func mustIdentifier(t *testing.T, vin string) model.VehicleIdentifier {
	t.Helper()
	id, err := identifier.Validate(identifier.Input{VIN: vin})
	if err != nil {
		t.Fatalf("failed to validate test VIN: %v", err)
	}
	return id
}

// TestReportFlow runs the full lifecycle: generate a premium report for a
// financed vehicle, fetch it, render it, append a manual interest, and
// attach a certificate.
func TestReportFlow(t *testing.T) {
	env := newFlowEnv(t)
	id := mustIdentifier(t, testVIN)

	// The vehicle carries one registered finance interest
	env.ppsr.Set(id, provider.Ok(provider.PPSRData{
		SecurityInterests: []model.SecurityInterest{{
			RegistrationNumber: "PPSR-INT-7001",
			Type:               model.InterestFinance,
			Status:             model.InterestRegistered,
			SecuredParty:       "Eastern Finance Pty Ltd",
			Amount:             28500,
			RegisteredAt:       time.Date(2022, 3, 14, 0, 0, 0, 0, time.UTC),
			DataSource:         "ppsr",
			LastUpdated:        time.Now().UTC(),
		}},
	}))

	// Generate
	resp := env.post(t, "/v1/reports", model.GenerateReportRequest{
		VIN:         testVIN,
		Type:        model.ReportPremium,
		RequestedBy: "buyer@example.com",
	}, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 generating report, got %d", resp.StatusCode)
	}
	rep := decodeData[model.VehicleReport](t, resp)

	if rep.Status != model.StatusCompleted {
		t.Fatalf("expected completed report, got %s", rep.Status)
	}
	if !rep.IsFinanceOwing {
		t.Error("expected finance owing flag on a financed vehicle")
	}
	if rep.Analysis == nil {
		t.Fatal("expected risk analysis on a premium report")
	}
	if len(env.pub.completed) != 1 {
		t.Fatalf("expected 1 completed event, got %d", len(env.pub.completed))
	}
	if len(env.pub.failed) != 0 {
		t.Errorf("expected no failed events, got %d", len(env.pub.failed))
	}

	// Fetch
	getResp, err := http.Get(env.server.URL + "/v1/reports/" + rep.ID)
	if err != nil {
		t.Fatalf("failed to fetch report: %v", err)
	}
	fetched := decodeData[model.VehicleReport](t, getResp)
	if fetched.ID != rep.ID {
		t.Fatalf("fetched report %s, want %s", fetched.ID, rep.ID)
	}

	// Render
	renderResp, err := http.Get(fmt.Sprintf("%s/v1/reports/%s/render?template=premium", env.server.URL, rep.ID))
	if err != nil {
		t.Fatalf("failed to render report: %v", err)
	}
	if renderResp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 rendering report, got %d", renderResp.StatusCode)
	}
	view := decodeData[render.View](t, renderResp)
	if view.FinanceOwing != "yes" {
		t.Errorf("expected financeOwing yes in rendered view, got %q", view.FinanceOwing)
	}
	if view.Analysis == nil {
		t.Error("expected analysis in premium view")
	}
	if view.Provenance == nil {
		t.Error("expected provenance in premium view")
	}

	// Manual entry on the sealed report
	token := env.adminToken(t)
	interestResp := env.post(t, "/v1/reports/"+rep.ID+"/securityInterests", model.ManualInterestRequest{
		RegistrationNumber: "PPSR-INT-7002",
		Type:               model.InterestLease,
		Status:             model.InterestRegistered,
		SecuredParty:       "Fleet Lease Co",
	}, token)
	if interestResp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 appending interest, got %d", interestResp.StatusCode)
	}
	updated := decodeData[model.VehicleReport](t, interestResp)
	if len(updated.SecurityInterests.Records) != 2 {
		t.Fatalf("expected 2 security interests after manual entry, got %d", len(updated.SecurityInterests.Records))
	}

	// Certificate upload init and finalize. No object store is configured,
	// so finalize skips checksum verification.
	initResp := env.post(t, "/v1/certificates/uploadInit", model.CertUploadInitRequest{
		ReportID: rep.ID,
		MimeType: "application/pdf",
		Size:     4096,
		SHA256:   "d2c1f0a9e8b7c6d5e4f3a2b1c0d9e8f7a6b5c4d3e2f1a0b9c8d7e6f5a4b3c2d1",
		Filename: "ppsr-certificate.pdf",
	}, token)
	if initResp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 from uploadInit, got %d", initResp.StatusCode)
	}
	initData := decodeData[model.CertUploadInitData](t, initResp)
	if initData.CertID == "" {
		t.Fatal("expected a certificate ID from uploadInit")
	}
	if initData.UploadURL == "" {
		t.Fatal("expected an upload URL from uploadInit")
	}

	finalizeResp := env.post(t, "/v1/certificates/finalize", model.CertFinalizeRequest{
		CertID: initData.CertID,
		SHA256: "d2c1f0a9e8b7c6d5e4f3a2b1c0d9e8f7a6b5c4d3e2f1a0b9c8d7e6f5a4b3c2d1",
	}, token)
	if finalizeResp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 from finalize, got %d", finalizeResp.StatusCode)
	}
	cert := decodeData[model.Certificate](t, finalizeResp)
	if cert.ReportID != rep.ID {
		t.Errorf("certificate attached to report %s, want %s", cert.ReportID, rep.ID)
	}

	if len(env.pub.certs) != 1 {
		t.Fatalf("expected 1 certificate attached event, got %d", len(env.pub.certs))
	}

	// The certificate is mirrored onto the report
	finalResp, err := http.Get(env.server.URL + "/v1/reports/" + rep.ID)
	if err != nil {
		t.Fatalf("failed to fetch report after finalize: %v", err)
	}
	final := decodeData[model.VehicleReport](t, finalResp)
	if len(final.Certificates) != 1 {
		t.Fatalf("expected 1 certificate on the report, got %d", len(final.Certificates))
	}
	if final.Certificates[0].CertID != initData.CertID {
		t.Errorf("report carries certificate %s, want %s", final.Certificates[0].CertID, initData.CertID)
	}
}

// TestReportFlowProviderOutage verifies that a registry outage still seals
// a usable report and that the degradation surfaces in the rendered view.
func TestReportFlowProviderOutage(t *testing.T) {
	env := newFlowEnv(t)
	id := mustIdentifier(t, testVIN)

	env.registry.Set(id, provider.Fail[provider.RegistryData]("registry timeout"))

	resp := env.post(t, "/v1/reports", model.GenerateReportRequest{
		VIN:  testVIN,
		Type: model.ReportComprehensive,
	}, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
	rep := decodeData[model.VehicleReport](t, resp)

	if rep.Status != model.StatusCompleted {
		t.Fatalf("expected completed report despite registry outage, got %s", rep.Status)
	}
	if rep.DataQuality != model.QualityPartial {
		t.Errorf("expected partial data quality, got %s", rep.DataQuality)
	}
	if rep.VehicleDetails != nil {
		t.Error("expected no vehicle details when the registry failed")
	}
	if len(env.pub.completed) != 1 {
		t.Fatalf("expected 1 completed event, got %d", len(env.pub.completed))
	}

	renderResp, err := http.Get(fmt.Sprintf("%s/v1/reports/%s/render?template=comprehensive", env.server.URL, rep.ID))
	if err != nil {
		t.Fatalf("failed to render report: %v", err)
	}
	view := decodeData[render.View](t, renderResp)
	if len(view.Warnings) == 0 {
		t.Error("expected degradation warnings in the rendered view")
	}
}
