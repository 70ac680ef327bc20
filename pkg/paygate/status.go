package paygate

import "strings"

// Outcome buckets gateway transaction statuses for reconciliation decisions.
type Outcome string

const (
	OutcomeSuccess       Outcome = "success"
	OutcomeFailure       Outcome = "failure"
	OutcomeIndeterminate Outcome = "indeterminate"
)

// ClassifyStatus maps a raw gateway transaction status onto an outcome.
// Unknown statuses are indeterminate so callers keep polling instead of
// abandoning a payment that may still settle.
func ClassifyStatus(status string) Outcome {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "success", "captured", "paid":
		return OutcomeSuccess
	case "failed", "cancelled", "declined", "voided", "reversed":
		return OutcomeFailure
	default:
		// "abandoned", "pending", "ongoing" and unknown statuses stay
		// indeterminate so the payment keeps getting polled.
		return OutcomeIndeterminate
	}
}
