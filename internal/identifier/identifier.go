// internal/identifier/identifier.go
// Package identifier validates and normalizes vehicle lookup keys before any
// provider call is attempted. It accepts either a 17-character VIN or a
// (plate, state) pair and produces an immutable model.VehicleIdentifier.
package identifier

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ClearRego/clearrego-vhr-go/internal/model"
)

// Failure kinds for validation errors.
var (
	ErrInvalidFormat = errors.New("invalid format")
	ErrMissingField  = errors.New("missing field")
)

// ValidationError describes why an input was rejected, wrapping one of the
// failure kinds above so callers can branch with errors.Is.
type ValidationError struct {
	Kind  error  // ErrInvalidFormat or ErrMissingField
	Field string // Which input field failed
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

func (e *ValidationError) Unwrap() error { return e.Kind }

// vinPattern matches the ISO 3779 character set: I, O and Q are excluded to
// avoid confusion with 1 and 0.
var vinPattern = regexp.MustCompile(`^[A-HJ-NPR-Z0-9]{17}$`)

// regoPattern matches Australian plate strings after uppercasing.
var regoPattern = regexp.MustCompile(`^[A-Z0-9]{3,7}$`)

// Input is the raw, untrusted lookup request.
type Input struct {
	VIN   string
	Rego  string
	State string
}

// Validate normalizes and validates a raw input into a VehicleIdentifier.
// Exactly one form must be supplied: a VIN, or both a plate and a state.
// The VIN check digit is not enforced here; callers wanting strictness use
// VerifyCheckDigit separately.
func Validate(in Input) (model.VehicleIdentifier, error) {
	vin := strings.ToUpper(strings.TrimSpace(in.VIN))
	rego := strings.ToUpper(strings.TrimSpace(in.Rego))
	state := model.State(strings.ToUpper(strings.TrimSpace(in.State)))

	if vin != "" {
		if rego != "" || state != "" {
			return model.VehicleIdentifier{}, &ValidationError{
				Kind: ErrInvalidFormat, Field: "identifier",
				Msg: "supply either a vin or a rego/state pair, not both",
			}
		}
		if len(vin) != 17 {
			return model.VehicleIdentifier{}, &ValidationError{
				Kind: ErrInvalidFormat, Field: "vin",
				Msg: fmt.Sprintf("must be exactly 17 characters, got %d", len(vin)),
			}
		}
		if !vinPattern.MatchString(vin) {
			return model.VehicleIdentifier{}, &ValidationError{
				Kind: ErrInvalidFormat, Field: "vin",
				Msg: "contains characters outside [A-HJ-NPR-Z0-9] (I, O and Q are not valid)",
			}
		}
		return model.VehicleIdentifier{Type: model.IdentifierVIN, VIN: vin}, nil
	}

	if rego == "" && state == "" {
		return model.VehicleIdentifier{}, &ValidationError{
			Kind: ErrMissingField, Field: "identifier",
			Msg: "a vin or a rego/state pair is required",
		}
	}
	if rego == "" {
		return model.VehicleIdentifier{}, &ValidationError{
			Kind: ErrMissingField, Field: "rego",
			Msg: "rego is required when state is supplied",
		}
	}
	if state == "" {
		return model.VehicleIdentifier{}, &ValidationError{
			Kind: ErrMissingField, Field: "state",
			Msg: "state is required when rego is supplied",
		}
	}
	if !regoPattern.MatchString(rego) {
		return model.VehicleIdentifier{}, &ValidationError{
			Kind: ErrInvalidFormat, Field: "rego",
			Msg: "must be 3-7 alphanumeric characters",
		}
	}
	if !model.ValidState(state) {
		return model.VehicleIdentifier{}, &ValidationError{
			Kind: ErrInvalidFormat, Field: "state",
			Msg: fmt.Sprintf("%q is not an Australian jurisdiction", state),
		}
	}

	return model.VehicleIdentifier{Type: model.IdentifierRego, Rego: rego, State: state}, nil
}
