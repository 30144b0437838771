package internaldefs

import (
	stepauth "github.com/halcyonlabs/stepauth"
)

// CounterDef defines a public type used by stepauth APIs.
type CounterDef struct {
	ID   stepauth.MetricID
	Name string
	Help string
}

// HistogramDef defines a public type used by stepauth APIs.
type HistogramDef struct {
	ID   stepauth.MetricID
	Name string
	Help string
}

// CounterDefs is an exported constant or variable used by the step-up coordinator.
var CounterDefs = []CounterDef{
	{ID: stepauth.MetricFlowStarted, Name: "stepauth_flow_started_total", Help: "Authentication flows opened."},
	{ID: stepauth.MetricFlowSucceeded, Name: "stepauth_flow_succeeded_total", Help: "Authentication flows that reached a terminal success."},
	{ID: stepauth.MetricFlowFailed, Name: "stepauth_flow_failed_total", Help: "Authentication flows that reached a terminal failure."},
	{ID: stepauth.MetricFlowExpired, Name: "stepauth_flow_expired_total", Help: "Authentication flows expired before completion."},
	{ID: stepauth.MetricFlowAbandoned, Name: "stepauth_flow_abandoned_total", Help: "Authentication flows abandoned by the user."},
	{ID: stepauth.MetricSoftFailureNormalized, Name: "stepauth_soft_failure_normalized_total", Help: "Rejected submissions normalized into live flow updates."},
	{ID: stepauth.MetricMethodAutoSelected, Name: "stepauth_method_auto_selected_total", Help: "Method recommendations resolved without a user prompt."},
	{ID: stepauth.MetricMethodPromptRequired, Name: "stepauth_method_prompt_required_total", Help: "Method recommendations that required a user choice."},
	{ID: stepauth.MetricCeremonyStarted, Name: "stepauth_ceremony_started_total", Help: "Platform credential ceremonies started."},
	{ID: stepauth.MetricCeremonySucceeded, Name: "stepauth_ceremony_succeeded_total", Help: "Platform credential ceremonies that produced an accepted assertion."},
	{ID: stepauth.MetricCeremonyCancelled, Name: "stepauth_ceremony_cancelled_total", Help: "Platform credential ceremonies cancelled or failed."},
	{ID: stepauth.MetricCeremonyNoCredential, Name: "stepauth_ceremony_no_credential_total", Help: "Ceremonies ended because no credential was available."},
	{ID: stepauth.MetricCodeAccepted, Name: "stepauth_code_accepted_total", Help: "One-time codes accepted by the authority."},
	{ID: stepauth.MetricCodeRejected, Name: "stepauth_code_rejected_total", Help: "One-time codes rejected by the authority."},
	{ID: stepauth.MetricStepUpRequired, Name: "stepauth_stepup_required_total", Help: "Operations that triggered a step-up flow."},
	{ID: stepauth.MetricStepUpSucceeded, Name: "stepauth_stepup_succeeded_total", Help: "Step-up flows that raised session assurance."},
	{ID: stepauth.MetricReconcileSuccess, Name: "stepauth_reconcile_success_total", Help: "Session reconciliations that converged."},
	{ID: stepauth.MetricReconcileRetry, Name: "stepauth_reconcile_retry_total", Help: "Session reconciliation attempts that had to retry."},
	{ID: stepauth.MetricReconcileTimeout, Name: "stepauth_reconcile_timeout_total", Help: "Session reconciliations that exhausted their attempts."},
	{ID: stepauth.MetricTierAllowed, Name: "stepauth_tier_allowed_total", Help: "Authorization checks allowed."},
	{ID: stepauth.MetricTierDenied, Name: "stepauth_tier_denied_total", Help: "Authorization checks denied."},
	{ID: stepauth.MetricEnrollmentStarted, Name: "stepauth_enrollment_started_total", Help: "Second-factor enrollments started."},
	{ID: stepauth.MetricEnrollmentCompleted, Name: "stepauth_enrollment_completed_total", Help: "Second-factor enrollments completed."},
	{ID: stepauth.MetricDuplicateSubmitRejected, Name: "stepauth_duplicate_submit_rejected_total", Help: "Submissions rejected because one was already in flight."},
	{ID: stepauth.MetricStaleResponseDiscarded, Name: "stepauth_stale_response_discarded_total", Help: "Responses discarded because their flow instance was retired."},
}

// HistogramDefs is an exported constant or variable used by the step-up coordinator.
var HistogramDefs = []HistogramDef{
	{ID: stepauth.MetricReconcileLatency, Name: "stepauth_reconcile_latency_seconds", Help: "Session reconciliation latency histogram."},
}

// HistogramBounds is an exported constant or variable used by the step-up coordinator.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix is an exported constant or variable used by the step-up coordinator.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets describes the normalizebuckets operation and its observable behavior.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets describes the cumulativebuckets operation and its observable behavior.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
