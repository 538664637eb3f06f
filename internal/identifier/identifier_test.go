// internal/identifier/identifier_test.go
// Package identifier provides unit tests for lookup-key validation.
package identifier

import (
	"errors"
	"strings"
	"testing"

	"github.com/ClearRego/clearrego-vhr-go/internal/model"
)

// TestValidateVIN verifies that a well-formed VIN is accepted, normalized to
// uppercase, and that re-validating the normalized form is idempotent.
func TestValidateVIN(t *testing.T) {
	id, err := Validate(Input{VIN: "wvwzzz1jz3w386752"})
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if id.Type != model.IdentifierVIN {
		t.Errorf("Validate() Type = %v, want %v", id.Type, model.IdentifierVIN)
	}
	if id.VIN != "WVWZZZ1JZ3W386752" {
		t.Errorf("Validate() VIN = %v, want normalized uppercase", id.VIN)
	}

	// Round-trip: validating the normalized form yields an identical value
	again, err := Validate(Input{VIN: id.VIN})
	if err != nil {
		t.Fatalf("re-Validate() error = %v", err)
	}
	if again != id {
		t.Errorf("re-Validate() = %+v, want %+v", again, id)
	}
}

// TestValidateVINRejectsExcludedLetters verifies that any 17-character string
// containing I, O or Q is rejected.
func TestValidateVINRejectsExcludedLetters(t *testing.T) {
	for _, c := range []string{"I", "O", "Q"} {
		vin := c + "VWZZZ1JZ3W386752"
		if len(vin) != 17 {
			t.Fatalf("test vin %q has wrong length", vin)
		}
		_, err := Validate(Input{VIN: vin})
		if !errors.Is(err, ErrInvalidFormat) {
			t.Errorf("Validate(%q) error = %v, want ErrInvalidFormat", vin, err)
		}
	}
}

// TestValidateVINLength verifies length enforcement on both sides of 17.
func TestValidateVINLength(t *testing.T) {
	for _, vin := range []string{"WVWZZZ1JZ3W38675", "WVWZZZ1JZ3W3867521", "W"} {
		_, err := Validate(Input{VIN: vin})
		if !errors.Is(err, ErrInvalidFormat) {
			t.Errorf("Validate(len=%d) error = %v, want ErrInvalidFormat", len(vin), err)
		}
	}
}

// TestValidateRego verifies the plate/state path: normalization, the state
// enum, and plate length/character rules.
func TestValidateRego(t *testing.T) {
	id, err := Validate(Input{Rego: "abc123", State: "nsw"})
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if id.Type != model.IdentifierRego || id.Rego != "ABC123" || id.State != model.NSW {
		t.Errorf("Validate() = %+v, want normalized ABC123/NSW", id)
	}

	// Every jurisdiction is accepted
	for _, s := range model.States {
		if _, err := Validate(Input{Rego: "XYZ789", State: string(s)}); err != nil {
			t.Errorf("Validate(state=%s) error = %v", s, err)
		}
	}

	// Plates outside [3,7] or with non-alphanumerics are rejected
	for _, rego := range []string{"AB", "ABCD1234", "AB-123", "AB 123", strings.Repeat("A", 8)} {
		_, err := Validate(Input{Rego: rego, State: "VIC"})
		if !errors.Is(err, ErrInvalidFormat) {
			t.Errorf("Validate(rego=%q) error = %v, want ErrInvalidFormat", rego, err)
		}
	}

	// Unknown jurisdiction
	if _, err := Validate(Input{Rego: "ABC123", State: "ZZ"}); !errors.Is(err, ErrInvalidFormat) {
		t.Errorf("Validate(state=ZZ) error = %v, want ErrInvalidFormat", err)
	}
}

// TestValidateMissingFields verifies the MissingField failures when one half
// of the rego pair is absent, or nothing is supplied at all.
func TestValidateMissingFields(t *testing.T) {
	cases := []Input{
		{},                     // nothing
		{Rego: "ABC123"},       // rego without state
		{State: "QLD"},         // state without rego
	}
	for _, in := range cases {
		_, err := Validate(in)
		if !errors.Is(err, ErrMissingField) {
			t.Errorf("Validate(%+v) error = %v, want ErrMissingField", in, err)
		}
	}
}

// TestValidateRejectsBothForms verifies that supplying a VIN alongside a
// rego pair is rejected rather than silently picking one.
func TestValidateRejectsBothForms(t *testing.T) {
	_, err := Validate(Input{VIN: "WVWZZZ1JZ3W386752", Rego: "ABC123", State: "NSW"})
	if !errors.Is(err, ErrInvalidFormat) {
		t.Errorf("Validate(both forms) error = %v, want ErrInvalidFormat", err)
	}
}

// TestCheckDigit verifies the ISO 3779 check digit computation against
// known-good VINs, including the remainder-10 'X' case.
func TestCheckDigit(t *testing.T) {
	// 1M8GDM9AXKP042788 has check digit 'X' (weighted sum mod 11 == 10)
	if err := VerifyCheckDigit("1M8GDM9AXKP042788"); err != nil {
		t.Errorf("VerifyCheckDigit() error = %v, want nil", err)
	}
	// All-ones VIN has check digit '1'
	if err := VerifyCheckDigit("11111111111111111"); err != nil {
		t.Errorf("VerifyCheckDigit() error = %v, want nil", err)
	}
}

// TestCheckDigitMismatch verifies that a syntactically valid VIN with a wrong
// check digit fails with ErrChecksum, leaving the fatal/non-fatal decision to
// the caller.
func TestCheckDigitMismatch(t *testing.T) {
	// Same VIN with the check digit position altered from 'X' to '5'
	err := VerifyCheckDigit("1M8GDM9A5KP042788")
	if !errors.Is(err, ErrChecksum) {
		t.Errorf("VerifyCheckDigit() error = %v, want ErrChecksum", err)
	}
}
