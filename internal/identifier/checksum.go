// internal/identifier/checksum.go
// ISO 3779 VIN check digit verification. This is an auxiliary strictness
// check: a VIN can be syntactically valid yet fail the checksum, and callers
// decide whether that is fatal.
package identifier

import (
	"errors"
	"fmt"
)

// ErrChecksum is returned when the recomputed check digit does not match
// position 9 of the VIN.
var ErrChecksum = errors.New("vin check digit mismatch")

// transliteration maps VIN letters to their ISO 3779 numeric values.
// Digits map to themselves; I, O and Q never appear in a valid VIN.
var transliteration = map[byte]int{
	'A': 1, 'B': 2, 'C': 3, 'D': 4, 'E': 5, 'F': 6, 'G': 7, 'H': 8,
	'J': 1, 'K': 2, 'L': 3, 'M': 4, 'N': 5,
	'P': 7, 'R': 9,
	'S': 2, 'T': 3, 'U': 4, 'V': 5, 'W': 6, 'X': 7, 'Y': 8, 'Z': 9,
}

// weights are the per-position multipliers; position 9 (the check digit
// itself) carries weight 0.
var weights = [17]int{8, 7, 6, 5, 4, 3, 2, 10, 0, 9, 8, 7, 6, 5, 4, 3, 2}

// CheckDigit computes the ISO 3779 check digit for a syntactically valid
// 17-character uppercase VIN. The weighted sum mod 11 yields 0-10, with 10
// written as 'X'.
func CheckDigit(vin string) (byte, error) {
	if len(vin) != 17 {
		return 0, fmt.Errorf("vin must be 17 characters, got %d", len(vin))
	}
	sum := 0
	for i := 0; i < 17; i++ {
		c := vin[i]
		var v int
		if c >= '0' && c <= '9' {
			v = int(c - '0')
		} else {
			tv, ok := transliteration[c]
			if !ok {
				return 0, fmt.Errorf("invalid vin character %q at position %d", c, i+1)
			}
			v = tv
		}
		sum += v * weights[i]
	}
	rem := sum % 11
	if rem == 10 {
		return 'X', nil
	}
	return byte('0' + rem), nil
}

// VerifyCheckDigit recomputes the check digit and compares it against
// position 9. Returns ErrChecksum (wrapped) on mismatch.
func VerifyCheckDigit(vin string) error {
	want, err := CheckDigit(vin)
	if err != nil {
		return err
	}
	if vin[8] != want {
		return fmt.Errorf("%w: position 9 is %q, computed %q", ErrChecksum, vin[8], want)
	}
	return nil
}
