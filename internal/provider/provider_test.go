// internal/provider/provider_test.go
// Package provider provides unit tests for the provider contract, payload
// schema validation, and the HTTP client behavior.
package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ClearRego/clearrego-vhr-go/internal/model"
)

var testVIN = model.VehicleIdentifier{Type: model.IdentifierVIN, VIN: "WVWZZZ1JZ3W386752"}

// TestValidatorCompiles verifies that every embedded payload schema compiles.
func TestValidatorCompiles(t *testing.T) {
	if _, err := NewValidator(); err != nil {
		t.Fatalf("NewValidator() error = %v", err)
	}
}

// TestValidatorRejectsBadPayload verifies that a payload missing required
// fields is reported as a schema violation.
func TestValidatorRejectsBadPayload(t *testing.T) {
	v, err := NewValidator()
	if err != nil {
		t.Fatal(err)
	}

	// data present but missing the required flag fields
	bad := []byte(`{"success":true,"data":{"securityInterests":[]}}`)
	if err := v.Validate(SourcePPSR, bad); err == nil {
		t.Error("Validate() accepted a PPSR payload missing required flags")
	}

	// malformed JSON
	if err := v.Validate(SourceRegistry, []byte(`{`)); err == nil {
		t.Error("Validate() accepted malformed JSON")
	}

	// valid minimal failure envelope passes
	ok := []byte(`{"success":false,"error":"timeout"}`)
	if err := v.Validate(SourcePPSR, ok); err != nil {
		t.Errorf("Validate() error = %v for a valid failure envelope", err)
	}
}

// TestHTTPPPSRLookup verifies the happy path: a well-formed envelope decodes
// into a successful Result with its data intact.
func TestHTTPPPSRLookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("vin"); got != testVIN.VIN {
			t.Errorf("lookup vin = %q, want %q", got, testVIN.VIN)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"data":{
			"isFinanceOwing":true,"isStolen":false,"isWrittenOff":false,
			"securityInterests":[{"registrationNumber":"PPSR-1","type":"finance","status":"registered","amount":28500}]
		}}`))
	}))
	defer srv.Close()

	v, err := NewValidator()
	if err != nil {
		t.Fatal(err)
	}
	p := NewHTTPPPSR(srv.URL, 5*time.Second, v)

	res := p.Lookup(context.Background(), testVIN)
	if !res.Success {
		t.Fatalf("Lookup() failed: %s", res.Error)
	}
	if !res.Data.IsFinanceOwing {
		t.Error("Lookup() IsFinanceOwing = false, want true")
	}
	if len(res.Data.SecurityInterests) != 1 || res.Data.SecurityInterests[0].Amount != 28500 {
		t.Errorf("Lookup() interests = %+v, want one entry with amount 28500", res.Data.SecurityInterests)
	}
}

// TestHTTPLookupFailures verifies that transport errors, bad statuses, and
// schema violations all degrade to failed Results rather than panics or
// aborts.
func TestHTTPLookupFailures(t *testing.T) {
	v, err := NewValidator()
	if err != nil {
		t.Fatal(err)
	}

	// Upstream 500
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	p := NewHTTPRegistry(srv.URL, 5*time.Second, v)
	if res := p.Lookup(context.Background(), testVIN); res.Success {
		t.Error("Lookup() succeeded against a 500 upstream")
	} else if !strings.Contains(res.Error, "registry") {
		t.Errorf("Lookup() error = %q, want source name in message", res.Error)
	}
	srv.Close()

	// Schema violation: success without required data shape
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"data":{"vehicleDetails":{"year":"not-a-number"}}}`))
	}))
	p = NewHTTPRegistry(srv.URL, 5*time.Second, v)
	if res := p.Lookup(context.Background(), testVIN); res.Success {
		t.Error("Lookup() succeeded on a schema-violating payload")
	}
	srv.Close()

	// Connection refused after close
	if res := p.Lookup(context.Background(), testVIN); res.Success {
		t.Error("Lookup() succeeded against a closed server")
	}
}

// TestHTTPLookupTimeout verifies that a slow upstream surfaces as a failed
// Result at the client deadline.
func TestHTTPLookupTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.Write([]byte(`{"success":false,"error":"late"}`))
	}))
	defer srv.Close()

	v, _ := NewValidator()
	p := NewHTTPValuation(srv.URL, 50*time.Millisecond, v)
	res := p.Lookup(context.Background(), testVIN)
	if res.Success {
		t.Error("Lookup() succeeded past the client timeout")
	}
}

// TestFixtureProviders verifies canned results are returned by identifier
// and that unknown identifiers fall back to the defaults.
func TestFixtureProviders(t *testing.T) {
	set, ppsr, _, _ := FixtureSet()

	ppsr.Set(testVIN, Ok(PPSRData{
		IsStolen: true,
		SecurityInterests: []model.SecurityInterest{},
		TheftHistory: []model.TheftRecord{{
			Date: time.Now().UTC(), Status: "reported", DataSource: "fixture", LastUpdated: time.Now().UTC(),
		}},
	}))

	res := set.PPSR.Lookup(context.Background(), testVIN)
	if !res.Success || !res.Data.IsStolen {
		t.Errorf("fixture Lookup() = %+v, want canned stolen result", res)
	}

	other := model.VehicleIdentifier{Type: model.IdentifierRego, Rego: "ABC123", State: model.NSW}
	res = set.PPSR.Lookup(context.Background(), other)
	if !res.Success || len(res.Data.SecurityInterests) != 0 {
		t.Errorf("fixture Lookup(unknown) = %+v, want clean default", res)
	}
}
