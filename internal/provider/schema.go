// internal/provider/schema.go
// Payload schema validation for provider responses. Each provider's JSON
// body is checked against an embedded schema before it is decoded and
// merged; an invalid payload degrades to a failed Result instead of letting
// malformed upstream data into a report.
package provider

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Response envelope schemas, keyed by source name. The envelopes mirror the
// Result contract: success plus an optional data object or error string.
// Schemas ship with the binary; there is no remote schema registry for
// government data feeds.
var payloadSchemas = map[string]string{
	SourcePPSR: `{
		"type": "object",
		"required": ["success"],
		"properties": {
			"success": {"type": "boolean"},
			"error": {"type": "string"},
			"data": {
				"type": "object",
				"required": ["isFinanceOwing", "isStolen", "isWrittenOff", "securityInterests"],
				"properties": {
					"isFinanceOwing": {"type": "boolean"},
					"isStolen": {"type": "boolean"},
					"isWrittenOff": {"type": "boolean"},
					"securityInterests": {
						"type": "array",
						"items": {
							"type": "object",
							"required": ["registrationNumber", "type", "status"],
							"properties": {
								"registrationNumber": {"type": "string"},
								"type": {"enum": ["finance", "lease", "other"]},
								"status": {"enum": ["registered", "discharged", "expired"]},
								"amount": {"type": "number", "minimum": 0}
							}
						}
					}
				}
			}
		}
	}`,
	SourceRegistry: `{
		"type": "object",
		"required": ["success"],
		"properties": {
			"success": {"type": "boolean"},
			"error": {"type": "string"},
			"data": {
				"type": "object",
				"required": ["vehicleDetails"],
				"properties": {
					"vehicleDetails": {
						"type": "object",
						"properties": {
							"make": {"type": "string"},
							"model": {"type": "string"},
							"year": {"type": "integer", "minimum": 1900, "maximum": 2100}
						}
					}
				}
			}
		}
	}`,
	SourceValuation: `{
		"type": "object",
		"required": ["success"],
		"properties": {
			"success": {"type": "boolean"},
			"error": {"type": "string"},
			"data": {
				"type": "object",
				"required": ["valuation"],
				"properties": {
					"valuation": {
						"type": "object",
						"required": ["retail", "tradeIn", "privateSale"],
						"properties": {
							"currency": {"type": "string"}
						}
					}
				}
			}
		}
	}`,
}

// Validator validates raw provider response bodies against their schemas.
type Validator struct {
	schemas map[string]*gojsonschema.Schema
}

// NewValidator compiles the embedded payload schemas.
func NewValidator() (*Validator, error) {
	v := &Validator{schemas: make(map[string]*gojsonschema.Schema)}
	for source, raw := range payloadSchemas {
		s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(raw))
		if err != nil {
			return nil, fmt.Errorf("failed to compile %s payload schema: %w", source, err)
		}
		v.schemas[source] = s
	}
	return v, nil
}

// Validate checks a raw response body for the named source. A schema miss
// returns an error summarizing the violations.
func (v *Validator) Validate(source string, body []byte) error {
	s, ok := v.schemas[source]
	if !ok {
		return fmt.Errorf("no payload schema for source %q", source)
	}
	result, err := s.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("payload is not valid JSON: %w", err)
	}
	if result.Valid() {
		return nil
	}
	var msgs []string
	for _, desc := range result.Errors() {
		msgs = append(msgs, desc.String())
	}
	return fmt.Errorf("payload schema violation: %s", strings.Join(msgs, "; "))
}
