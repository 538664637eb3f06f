// Package server provides tests for the HTTP endpoints using the in-memory
// store and fixture providers.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ClearRego/clearrego-vhr-go/internal/event"
	"github.com/ClearRego/clearrego-vhr-go/internal/jwks"
	"github.com/ClearRego/clearrego-vhr-go/internal/model"
	"github.com/ClearRego/clearrego-vhr-go/internal/provider"
	"github.com/ClearRego/clearrego-vhr-go/internal/report"
	"github.com/ClearRego/clearrego-vhr-go/internal/storage"
)

const (
	testIssuer   = "https://identity.test"
	testAudience = "vehicle-report-service"
)

// fakeObjectStore verifies checksums against a fixed expected value.
type fakeObjectStore struct {
	checksum string
	size     int64
}

func (f *fakeObjectStore) GenerateUploadURL(ctx context.Context, key string, expires time.Duration) (string, error) {
	return "https://s3.test/upload/" + key, nil
}

func (f *fakeObjectStore) VerifyObject(ctx context.Context, key, expectedChecksum string) (bool, int64, error) {
	return expectedChecksum == f.checksum, f.size, nil
}

func (f *fakeObjectStore) ObjectURI(key string) string {
	return "s3://test-bucket/" + key
}

type testEnv struct {
	server *httptest.Server
	store  storage.Store
	jwks   *jwks.Client
	ppsr   *provider.FixturePPSR
}

func newTestEnv(t *testing.T, cfg Config, objStore *fakeObjectStore) *testEnv {
	t.Helper()

	store := storage.NewMemory()
	providers, ppsr, _, _ := provider.FixtureSet()
	publisher := event.NewPublisherFromEnv() // no VHR_NATS_URL in tests, so noop
	agg := report.New(store, providers, publisher, false)
	jwksClient := jwks.NewTestClient()

	if cfg.JWTIssuer == "" {
		cfg.JWTIssuer = testIssuer
	}
	if cfg.JWTAudience == "" {
		cfg.JWTAudience = testAudience
	}
	if cfg.MaxCertSize == 0 {
		cfg.MaxCertSize = 10 * 1024 * 1024
	}
	if cfg.AllowedCertTypes == nil {
		cfg.AllowedCertTypes = []string{"application/pdf"}
	}
	if cfg.S3Bucket == "" {
		cfg.S3Bucket = "test-bucket"
	}

	var mux *http.ServeMux
	if objStore != nil {
		mux = NewMux(store, agg, publisher, jwksClient, objStore, cfg)
	} else {
		mux = NewMux(store, agg, publisher, jwksClient, nil, cfg)
	}
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &testEnv{server: server, store: store, jwks: jwksClient, ppsr: ppsr}
}

func (e *testEnv) adminToken(t *testing.T) string {
	t.Helper()
	token, err := e.jwks.SignTestToken("admin@example.com", testIssuer, testAudience)
	if err != nil {
		t.Fatalf("SignTestToken() error = %v", err)
	}
	return token
}

func (e *testEnv) post(t *testing.T, path, token string, body interface{}) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req, err := http.NewRequest("POST", e.server.URL+path, bytes.NewReader(b))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
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
		t.Fatalf("decode response: %v", err)
	}
	return envelope.Data
}

func decodeErrorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return envelope.Error.Code
}

func generateReport(t *testing.T, e *testEnv) model.VehicleReport {
	t.Helper()
	resp := e.post(t, "/v1/reports", "", model.GenerateReportRequest{
		VIN:         "WVWZZZ1JZ3W386752",
		Type:        model.ReportComprehensive,
		RequestedBy: "tester",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("generate status = %d", resp.StatusCode)
	}
	return decodeData[model.VehicleReport](t, resp)
}

func TestGenerateReportEndpoint(t *testing.T) {
	e := newTestEnv(t, Config{}, nil)

	rep := generateReport(t, e)
	if rep.Status != model.StatusCompleted {
		t.Errorf("status = %v, want completed", rep.Status)
	}
	if rep.DataQuality != model.QualityComplete {
		t.Errorf("quality = %v, want complete", rep.DataQuality)
	}
	if rep.IsFinanceOwing || rep.IsStolen || rep.IsWrittenOff {
		t.Error("clean vehicle has adverse flags set")
	}
	if rep.SearchCriteria.Identifier.VIN != "WVWZZZ1JZ3W386752" {
		t.Errorf("identifier = %+v", rep.SearchCriteria.Identifier)
	}
}

func TestGenerateReportValidation(t *testing.T) {
	e := newTestEnv(t, Config{}, nil)

	// Both forms supplied
	resp := e.post(t, "/v1/reports", "", model.GenerateReportRequest{
		VIN: "WVWZZZ1JZ3W386752", Rego: "ABC123", State: "NSW",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("both-forms status = %d, want 400", resp.StatusCode)
	}
	if code := decodeErrorCode(t, resp); code != "VHR_VALIDATION" {
		t.Errorf("both-forms code = %s", code)
	}

	// Rego without state
	resp = e.post(t, "/v1/reports", "", model.GenerateReportRequest{Rego: "ABC123"})
	if code := decodeErrorCode(t, resp); code != "VHR_MISSING_FIELD" {
		t.Errorf("missing-state code = %s", code)
	}

	// Unknown report type
	resp = e.post(t, "/v1/reports", "", model.GenerateReportRequest{
		VIN: "WVWZZZ1JZ3W386752", Type: model.ReportType("deluxe"),
	})
	if code := decodeErrorCode(t, resp); code != "VHR_VALIDATION" {
		t.Errorf("bad-type code = %s", code)
	}
}

func TestGenerateReportStrictChecksum(t *testing.T) {
	e := newTestEnv(t, Config{StrictVINChecksum: true}, nil)

	// Check digit mismatch is rejected in strict mode
	resp := e.post(t, "/v1/reports", "", model.GenerateReportRequest{VIN: "1M8GDM9A5KP042788"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("mismatch status = %d, want 400", resp.StatusCode)
	}
	if code := decodeErrorCode(t, resp); code != "VHR_CHECKSUM_REJECT" {
		t.Errorf("mismatch code = %s", code)
	}

	// A valid check digit passes
	resp = e.post(t, "/v1/reports", "", model.GenerateReportRequest{VIN: "1M8GDM9AXKP042788"})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("valid-checksum status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestGetReportEndpoint(t *testing.T) {
	e := newTestEnv(t, Config{}, nil)
	rep := generateReport(t, e)

	resp, err := http.Get(e.server.URL + "/v1/reports/" + rep.ID)
	if err != nil {
		t.Fatalf("get report: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}
	got := decodeData[model.VehicleReport](t, resp)
	if got.ID != rep.ID {
		t.Errorf("got report %s, want %s", got.ID, rep.ID)
	}

	resp, err = http.Get(e.server.URL + "/v1/reports/missing")
	if err != nil {
		t.Fatalf("get missing report: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing status = %d, want 404", resp.StatusCode)
	}
	if code := decodeErrorCode(t, resp); code != "VHR_NOT_FOUND" {
		t.Errorf("missing code = %s", code)
	}
}

func TestRenderReportEndpoint(t *testing.T) {
	e := newTestEnv(t, Config{}, nil)
	rep := generateReport(t, e)

	resp, err := http.Get(e.server.URL + "/v1/reports/" + rep.ID + "/render?template=comprehensive")
	if err != nil {
		t.Fatalf("render report: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("render status = %d", resp.StatusCode)
	}

	type renderedView struct {
		Template     string `json:"template"`
		FinanceOwing string `json:"financeOwing"`
		Sections     []struct {
			Title  string `json:"title"`
			Status string `json:"status"`
		} `json:"sections"`
	}
	view := decodeData[renderedView](t, resp)

	if view.Template != "comprehensive" {
		t.Errorf("template = %s", view.Template)
	}
	if view.FinanceOwing != "no" {
		t.Errorf("financeOwing = %s, want no", view.FinanceOwing)
	}
	if len(view.Sections) == 0 {
		t.Error("comprehensive render has no sections")
	}

	// Unknown template is rejected
	resp, err = http.Get(e.server.URL + "/v1/reports/" + rep.ID + "/render?template=deluxe")
	if err != nil {
		t.Fatalf("render report: %v", err)
	}
	if code := decodeErrorCode(t, resp); code != "VHR_VALIDATION" {
		t.Errorf("bad template code = %s", code)
	}
}

func TestListReportsEndpoint(t *testing.T) {
	e := newTestEnv(t, Config{}, nil)
	generateReport(t, e)
	generateReport(t, e)

	resp, err := http.Get(e.server.URL + "/v1/reports?limit=1")
	if err != nil {
		t.Fatalf("list reports: %v", err)
	}
	result := decodeData[model.ListReportsResult](t, resp)
	if len(result.Reports) != 1 {
		t.Errorf("list = %d reports, want 1", len(result.Reports))
	}
	if result.NextCursor == "" {
		t.Error("list missing next cursor")
	}

	// Invalid cursor
	resp, err = http.Get(e.server.URL + "/v1/reports?cursor=not-a-cursor")
	if err != nil {
		t.Fatalf("list reports: %v", err)
	}
	if code := decodeErrorCode(t, resp); code != "VHR_CURSOR_INVALID" {
		t.Errorf("bad cursor code = %s", code)
	}
}

func TestManualInterestRequiresAuth(t *testing.T) {
	e := newTestEnv(t, Config{}, nil)
	rep := generateReport(t, e)

	body := model.ManualInterestRequest{
		RegistrationNumber: "PPSR-MANUAL-1",
		Type:               model.InterestFinance,
		Status:             model.InterestRegistered,
	}

	resp := e.post(t, "/v1/reports/"+rep.ID+"/securityInterests", "", body)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no-auth status = %d, want 401", resp.StatusCode)
	}
	resp.Body.Close()

	// Wrong audience fails too
	badToken, err := e.jwks.SignTestToken("admin@example.com", testIssuer, "other-service")
	if err != nil {
		t.Fatalf("SignTestToken() error = %v", err)
	}
	resp = e.post(t, "/v1/reports/"+rep.ID+"/securityInterests", badToken, body)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("bad-audience status = %d, want 401", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestManualInterestEndpoint(t *testing.T) {
	e := newTestEnv(t, Config{}, nil)
	rep := generateReport(t, e)

	resp := e.post(t, "/v1/reports/"+rep.ID+"/securityInterests", e.adminToken(t), model.ManualInterestRequest{
		RegistrationNumber: "PPSR-MANUAL-1",
		Type:               model.InterestFinance,
		Status:             model.InterestRegistered,
		SecuredParty:       "Test Finance Co",
		Amount:             9000,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("manual entry status = %d", resp.StatusCode)
	}
	updated := decodeData[model.VehicleReport](t, resp)

	if !updated.IsFinanceOwing {
		t.Error("manual entry did not recompute IsFinanceOwing")
	}
	if len(updated.SecurityInterests.Records) != 1 {
		t.Fatalf("interests = %d, want 1", len(updated.SecurityInterests.Records))
	}
	entry := updated.SecurityInterests.Records[0]
	if !entry.ManuallyEntered || entry.EnteredBy != "admin@example.com" {
		t.Errorf("provenance = manuallyEntered:%v enteredBy:%q", entry.ManuallyEntered, entry.EnteredBy)
	}
}

func TestCertificateUploadInitEndpoint(t *testing.T) {
	objStore := &fakeObjectStore{checksum: "deadbeef", size: 2048}
	e := newTestEnv(t, Config{}, objStore)
	rep := generateReport(t, e)
	token := e.adminToken(t)

	// Oversize certificate
	resp := e.post(t, "/v1/certificates/uploadInit", token, model.CertUploadInitRequest{
		ReportID: rep.ID, MimeType: "application/pdf", Size: 20 * 1024 * 1024,
	})
	if code := decodeErrorCode(t, resp); code != "VHR_CERT_SIZE" {
		t.Errorf("oversize code = %s", code)
	}

	// Disallowed MIME type
	resp = e.post(t, "/v1/certificates/uploadInit", token, model.CertUploadInitRequest{
		ReportID: rep.ID, MimeType: "image/png", Size: 2048,
	})
	if code := decodeErrorCode(t, resp); code != "VHR_CERT_TYPE" {
		t.Errorf("bad-type code = %s", code)
	}

	// Unknown report
	resp = e.post(t, "/v1/certificates/uploadInit", token, model.CertUploadInitRequest{
		ReportID: "missing", MimeType: "application/pdf", Size: 2048,
	})
	if code := decodeErrorCode(t, resp); code != "VHR_NOT_FOUND" {
		t.Errorf("missing-report code = %s", code)
	}

	// Happy path
	resp = e.post(t, "/v1/certificates/uploadInit", token, model.CertUploadInitRequest{
		ReportID: rep.ID, MimeType: "application/pdf", Size: 2048, Filename: "certificate.pdf",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("uploadInit status = %d", resp.StatusCode)
	}
	data := decodeData[model.CertUploadInitData](t, resp)
	if data.CertID == "" || data.UploadURL == "" {
		t.Errorf("uploadInit data = %+v", data)
	}
}

func TestCertificateFinalizeEndpoint(t *testing.T) {
	objStore := &fakeObjectStore{checksum: "deadbeef", size: 2048}
	e := newTestEnv(t, Config{}, objStore)
	rep := generateReport(t, e)
	token := e.adminToken(t)

	resp := e.post(t, "/v1/certificates/uploadInit", token, model.CertUploadInitRequest{
		ReportID: rep.ID, MimeType: "application/pdf", Size: 2048,
	})
	data := decodeData[model.CertUploadInitData](t, resp)

	// Checksum mismatch is rejected
	resp = e.post(t, "/v1/certificates/finalize", token, model.CertFinalizeRequest{
		CertID: data.CertID, SHA256: "wrong",
	})
	if code := decodeErrorCode(t, resp); code != "VHR_CERT_CHECKSUM" {
		t.Errorf("mismatch code = %s", code)
	}

	// Matching checksum finalizes and attaches to the report
	resp = e.post(t, "/v1/certificates/finalize", token, model.CertFinalizeRequest{
		CertID: data.CertID, SHA256: "deadbeef",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("finalize status = %d", resp.StatusCode)
	}
	cert := decodeData[model.Certificate](t, resp)
	if cert.Checksum != "deadbeef" || cert.Size != 2048 {
		t.Errorf("finalized cert = %+v", cert)
	}

	updated, err := e.store.GetReport(context.Background(), rep.ID)
	if err != nil {
		t.Fatalf("GetReport() error = %v", err)
	}
	if len(updated.Certificates) != 1 {
		t.Errorf("report certificates = %d, want 1", len(updated.Certificates))
	}
}

func TestCorrelationIDHeader(t *testing.T) {
	e := newTestEnv(t, Config{}, nil)

	req, _ := http.NewRequest("GET", e.server.URL+"/v1/reports", nil)
	req.Header.Set("X-Correlation-Id", "test-correlation-123")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("X-Correlation-Id"); got != "test-correlation-123" {
		t.Errorf("correlation id = %q", got)
	}

	// A missing correlation ID is generated
	resp2, err := http.Get(e.server.URL + "/v1/reports")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.Header.Get("X-Correlation-Id") == "" {
		t.Error("no correlation id generated")
	}
}

func TestHealthEndpoints(t *testing.T) {
	e := newTestEnv(t, Config{}, nil)

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(e.server.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s status = %d", path, resp.StatusCode)
		}
		resp.Body.Close()
	}
}

func TestCORSHeaders(t *testing.T) {
	e := newTestEnv(t, Config{CORSAllowedOrigins: []string{"https://app.example.com"}}, nil)

	req, _ := http.NewRequest("OPTIONS", e.server.URL+"/v1/reports", nil)
	req.Header.Set("Origin", "https://app.example.com")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("allow-origin = %q", got)
	}

	// Disallowed origin gets no CORS headers
	req, _ = http.NewRequest("OPTIONS", e.server.URL+"/v1/reports", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.Header.Get("Access-Control-Allow-Origin") != "" {
		t.Error("disallowed origin received CORS headers")
	}
}

func TestMetricPath(t *testing.T) {
	cases := []struct{ in, want string }{
		{"/v1/reports", "/v1/reports"},
		{"/v1/reports/abc-123", "/v1/reports/{id}"},
		{"/v1/reports/abc-123/render", "/v1/reports/{id}/render"},
		{"/v1/reports/abc-123/securityInterests", "/v1/reports/{id}/securityInterests"},
		{"/v1/certificates/finalize", "/v1/certificates/finalize"},
	}
	for _, tc := range cases {
		if got := metricPath(tc.in); got != tc.want {
			t.Errorf("metricPath(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
