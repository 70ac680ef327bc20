package subscriptions

import (
	"math"
	"time"
)

// Phase is the derived lifecycle position of a store.
type Phase string

const (
	PhaseTrialActive         Phase = "trial_active"
	PhaseTrialExpired        Phase = "trial_expired"
	PhaseSubscriptionActive  Phase = "subscription_active"
	PhaseSubscriptionExpired Phase = "subscription_expired"
)

// State is the derived subscription state of a store at a point in time. It is
// computed, never persisted; every read path derives it through Derive so the
// trial/subscription boundary rules live in exactly one place.
type State struct {
	Phase    Phase
	Boundary *time.Time
}

// Derive computes the lifecycle state from the store's subscription columns.
// A subscribed store with no end date never expires (free plans). A store that
// never subscribed is judged against its trial end date.
func Derive(isSubscribed bool, endDate, trialEndDate *time.Time, now time.Time) State {
	if isSubscribed {
		if endDate == nil || endDate.After(now) {
			return State{Phase: PhaseSubscriptionActive, Boundary: endDate}
		}
		return State{Phase: PhaseSubscriptionExpired, Boundary: endDate}
	}
	if trialEndDate != nil && trialEndDate.After(now) {
		return State{Phase: PhaseTrialActive, Boundary: trialEndDate}
	}
	return State{Phase: PhaseTrialExpired, Boundary: trialEndDate}
}

// IsActive reports whether the store currently has access.
func (s State) IsActive() bool {
	return s.Phase == PhaseTrialActive || s.Phase == PhaseSubscriptionActive
}

// ShouldDeactivate reports whether the expiry sweep should cut access.
func (s State) ShouldDeactivate() bool {
	return !s.IsActive()
}

// DaysRemaining returns whole days until the boundary, rounded up. Expired
// states and boundary-less states return zero.
func (s State) DaysRemaining(now time.Time) int {
	if s.Boundary == nil || !s.IsActive() {
		return 0
	}
	remaining := s.Boundary.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int(math.Ceil(remaining.Hours() / 24))
}
