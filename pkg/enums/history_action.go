package enums

// HistoryAction names the cause of a subscription history entry. The list is
// append-only; reporting endpoints treat unknown values as opaque strings.
type HistoryAction string

const (
	HistoryStoreCreated          HistoryAction = "store_created"
	HistoryTrialStarted          HistoryAction = "trial_started"
	HistoryTrialExtended         HistoryAction = "trial_extended"
	HistoryTrialExpired          HistoryAction = "trial_expired"
	HistorySubscriptionActivated HistoryAction = "subscription_activated"
	HistorySubscriptionRenewed   HistoryAction = "subscription_renewed"
	HistorySubscriptionCancelled HistoryAction = "subscription_cancelled"
	HistorySubscriptionExpired   HistoryAction = "subscription_expired"
	HistoryStoreDeactivated      HistoryAction = "store_deactivated"
	HistoryStoreReactivated      HistoryAction = "store_reactivated"
	HistoryStoreSuspended        HistoryAction = "store_suspended"
	HistoryAutoRenewEnabled      HistoryAction = "auto_renew_enabled"
	HistoryAutoRenewDisabled     HistoryAction = "auto_renew_disabled"
	HistoryPaymentInitiated      HistoryAction = "payment_initiated"
	HistoryPaymentReceived       HistoryAction = "payment_received"
	HistoryPaymentFailed         HistoryAction = "payment_failed"
	HistoryPaymentAbandoned      HistoryAction = "payment_abandoned"
	HistoryPlanChanged           HistoryAction = "plan_changed"
	HistoryManualActivation      HistoryAction = "manual_activation"
	HistoryExpiryWarningSent     HistoryAction = "expiry_warning_sent"
)

// String implements fmt.Stringer.
func (a HistoryAction) String() string {
	return string(a)
}
