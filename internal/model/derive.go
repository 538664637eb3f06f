// internal/model/derive.go
// Pure derivations from the history collections. The summary booleans on a
// report must always equal these functions applied to its collections.
package model

// FinanceOwing reports whether any interest is currently registered finance.
func FinanceOwing(interests []SecurityInterest) bool {
	for _, si := range interests {
		if si.FinanceOwing() {
			return true
		}
	}
	return false
}

// Stolen reports whether any theft record remains unresolved.
func Stolen(records []TheftRecord) bool {
	for _, r := range records {
		if r.Reported() {
			return true
		}
	}
	return false
}

// WrittenOff reports whether the vehicle carries any write-off declaration.
// A write-off stays on record even after repair, so presence is enough.
func WrittenOff(records []WriteOffRecord) bool {
	return len(records) > 0
}
