package stepauth

import "errors"

var (
	// ErrFlowExpired is an exported constant or variable used by the step-up coordinator.
	ErrFlowExpired = errors.New("authentication flow expired")
	// ErrInvalidCredentialOrCode is an exported constant or variable used by the step-up coordinator.
	ErrInvalidCredentialOrCode = errors.New("invalid credential or code")
	// ErrUserCancelledCeremony is an exported constant or variable used by the step-up coordinator.
	ErrUserCancelledCeremony = errors.New("user cancelled credential ceremony")
	// ErrNoCredentialAvailable is an exported constant or variable used by the step-up coordinator.
	ErrNoCredentialAvailable = errors.New("no credential available on this device")
	// ErrTransportFailure is an exported constant or variable used by the step-up coordinator.
	ErrTransportFailure = errors.New("identity authority unreachable")
	// ErrReconciliationTimeout is an exported constant or variable used by the step-up coordinator.
	ErrReconciliationTimeout = errors.New("session reconciliation timed out")
	// ErrSubmitInFlight is an exported constant or variable used by the step-up coordinator.
	ErrSubmitInFlight = errors.New("submission already in flight for this flow")
	// ErrNoActiveFlow is an exported constant or variable used by the step-up coordinator.
	ErrNoActiveFlow = errors.New("no active authentication flow")
	// ErrFlowStateInvalid is an exported constant or variable used by the step-up coordinator.
	ErrFlowStateInvalid = errors.New("operation not valid in current flow state")
	// ErrMethodNotOffered is an exported constant or variable used by the step-up coordinator.
	ErrMethodNotOffered = errors.New("method not offered for this flow")
	// ErrMethodInsufficient is an exported constant or variable used by the step-up coordinator.
	ErrMethodInsufficient = errors.New("method cannot satisfy requested assurance")
	// ErrUnknownContinuation is an exported constant or variable used by the step-up coordinator.
	ErrUnknownContinuation = errors.New("authority sent unrecognized continuation")
	// ErrCoordinatorNotReady is an exported constant or variable used by the step-up coordinator.
	ErrCoordinatorNotReady = errors.New("coordinator not fully configured")
	// ErrCoordinatorClosed is an exported constant or variable used by the step-up coordinator.
	ErrCoordinatorClosed = errors.New("coordinator closed")
	// ErrPreferenceUnavailable is an exported constant or variable used by the step-up coordinator.
	ErrPreferenceUnavailable = errors.New("method preference store unavailable")
	// ErrSessionCacheUnavailable is an exported constant or variable used by the step-up coordinator.
	ErrSessionCacheUnavailable = errors.New("session cache unavailable")
	// ErrEnrollmentRequired is an exported constant or variable used by the step-up coordinator.
	ErrEnrollmentRequired = errors.New("second factor enrollment required")
	// ErrAssertionInvalid is an exported constant or variable used by the step-up coordinator.
	ErrAssertionInvalid = errors.New("session assertion failed verification")
)

// CodeDeliveryNotice is shown after every identifier submission, whether
// or not the identifier maps to an account. The wording is identical in
// both cases so responses cannot be used to probe for registered
// identifiers.
const CodeDeliveryNotice = "If an account exists for that identifier, a sign-in code has been sent."
