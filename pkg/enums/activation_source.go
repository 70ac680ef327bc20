package enums

import "fmt"

// ActivationSource records which trigger converted a payment into an active
// subscription.
type ActivationSource string

const (
	ActivationSourceWebhook      ActivationSource = "webhook"
	ActivationSourcePolling      ActivationSource = "polling"
	ActivationSourceVerifyBackup ActivationSource = "verify_backup"
	ActivationSourceManual       ActivationSource = "manual"
	ActivationSourceRenewal      ActivationSource = "renewal"
)

var validActivationSources = []ActivationSource{
	ActivationSourceWebhook,
	ActivationSourcePolling,
	ActivationSourceVerifyBackup,
	ActivationSourceManual,
	ActivationSourceRenewal,
}

// String implements fmt.Stringer.
func (s ActivationSource) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s ActivationSource) IsValid() bool {
	for _, candidate := range validActivationSources {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseActivationSource converts raw input into an ActivationSource.
func ParseActivationSource(value string) (ActivationSource, error) {
	for _, candidate := range validActivationSources {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid activation source %q", value)
}
