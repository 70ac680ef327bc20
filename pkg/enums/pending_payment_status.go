package enums

import "fmt"

// PendingPaymentStatus tracks the ledger lifecycle of an initiated payment.
//
// "abandoned" from the gateway's point of view is deliberately NOT terminal
// for polling: the buyer may still return and complete the payment. Polling
// only stops at the attempt cap ("exhausted") or when the record ages out.
type PendingPaymentStatus string

const (
	PendingPaymentStatusPending    PendingPaymentStatus = "pending"
	PendingPaymentStatusProcessing PendingPaymentStatus = "processing"
	PendingPaymentStatusCompleted  PendingPaymentStatus = "completed"
	PendingPaymentStatusFailed     PendingPaymentStatus = "failed"
	PendingPaymentStatusAbandoned  PendingPaymentStatus = "abandoned"
	PendingPaymentStatusCancelled  PendingPaymentStatus = "cancelled"
	PendingPaymentStatusExhausted  PendingPaymentStatus = "exhausted"
)

var validPendingPaymentStatuses = []PendingPaymentStatus{
	PendingPaymentStatusPending,
	PendingPaymentStatusProcessing,
	PendingPaymentStatusCompleted,
	PendingPaymentStatusFailed,
	PendingPaymentStatusAbandoned,
	PendingPaymentStatusCancelled,
	PendingPaymentStatusExhausted,
}

// String implements fmt.Stringer.
func (s PendingPaymentStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s PendingPaymentStatus) IsValid() bool {
	for _, candidate := range validPendingPaymentStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further automatic transition can occur.
func (s PendingPaymentStatus) IsTerminal() bool {
	switch s {
	case PendingPaymentStatusCompleted,
		PendingPaymentStatusFailed,
		PendingPaymentStatusAbandoned,
		PendingPaymentStatusCancelled,
		PendingPaymentStatusExhausted:
		return true
	default:
		return false
	}
}

// ParsePendingPaymentStatus converts raw input into a PendingPaymentStatus.
func ParsePendingPaymentStatus(value string) (PendingPaymentStatus, error) {
	for _, candidate := range validPendingPaymentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid pending payment status %q", value)
}
