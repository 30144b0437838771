package stepauth

import (
	"time"

	"github.com/halcyonlabs/stepauth/session"
	"github.com/halcyonlabs/stepauth/tier"
)

// AssuranceLevel defines a public type used by stepauth APIs.
//
// It mirrors the authority's two-rung assurance ladder: a single
// verified factor, or a second independent factor on top of it.
type AssuranceLevel = session.Assurance

const (
	// AssuranceNone is an exported constant or variable used by the step-up coordinator.
	AssuranceNone = session.AssuranceNone
	// AssuranceTier1 is an exported constant or variable used by the step-up coordinator.
	AssuranceTier1 = session.AssuranceTier1
	// AssuranceTier2 is an exported constant or variable used by the step-up coordinator.
	AssuranceTier2 = session.AssuranceTier2
)

// ParseAssurance maps the authority's wire label to an assurance level.
// Unknown labels map to AssuranceNone.
func ParseAssurance(s string) AssuranceLevel {
	return session.Parse(s)
}

// Method defines a public type used by stepauth APIs.
type Method string

const (
	// MethodIdentifierCode is a one-time code delivered to the account's
	// primary identifier. It proves control of the identifier and counts
	// as the first factor only.
	MethodIdentifierCode Method = "identifier_code"
	// MethodPlatformCredential is a hardware-backed platform credential.
	MethodPlatformCredential Method = "platform_credential"
	// MethodTimeCode is a provisioned time-based one-time code.
	MethodTimeCode Method = "time_code"
	// MethodRecoveryCode is a single-use recovery code.
	MethodRecoveryCode Method = "recovery_code"
)

// CanSatisfy reports whether completing the method can raise a session
// to the given level. Delivered identifier codes never reach the second
// rung: possession of the identifier inbox is what the first factor
// already proved.
func (m Method) CanSatisfy(level AssuranceLevel) bool {
	switch m {
	case MethodIdentifierCode:
		return level <= AssuranceTier1
	case MethodPlatformCredential, MethodTimeCode, MethodRecoveryCode:
		return level <= AssuranceTier2
	default:
		return false
	}
}

// Durable reports whether the method rests on a long-lived enrolled
// credential rather than a per-flow delivery.
func (m Method) Durable() bool {
	return m == MethodPlatformCredential || m == MethodTimeCode
}

// Valid is an exported method used by the step-up coordinator.
func (m Method) Valid() bool {
	switch m {
	case MethodIdentifierCode, MethodPlatformCredential, MethodTimeCode, MethodRecoveryCode:
		return true
	}
	return false
}

// FlowKind defines a public type used by stepauth APIs.
type FlowKind string

const (
	// KindLogin is an exported constant or variable used by the step-up coordinator.
	KindLogin FlowKind = "login"
	// KindStepUp is an exported constant or variable used by the step-up coordinator.
	KindStepUp FlowKind = "stepup"
	// KindSettings is an exported constant or variable used by the step-up coordinator.
	KindSettings FlowKind = "settings"
)

// FlowState defines a public type used by stepauth APIs.
type FlowState uint8

const (
	// StateIdentifierEntry is an exported constant or variable used by the step-up coordinator.
	StateIdentifierEntry FlowState = iota
	// StateMethodOffered is an exported constant or variable used by the step-up coordinator.
	StateMethodOffered
	// StateChallengeInFlight is an exported constant or variable used by the step-up coordinator.
	StateChallengeInFlight
	// StateStepUpRequired is an exported constant or variable used by the step-up coordinator.
	StateStepUpRequired
	// StateSucceeded is an exported constant or variable used by the step-up coordinator.
	StateSucceeded
	// StateFailed is an exported constant or variable used by the step-up coordinator.
	StateFailed
	// StateExpired is an exported constant or variable used by the step-up coordinator.
	StateExpired
)

func (s FlowState) String() string {
	switch s {
	case StateIdentifierEntry:
		return "identifier_entry"
	case StateMethodOffered:
		return "method_offered"
	case StateChallengeInFlight:
		return "challenge_in_flight"
	case StateStepUpRequired:
		return "stepup_required"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state admits no further submissions.
func (s FlowState) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateExpired
}

// NextStep defines a public type used by stepauth APIs.
//
// It is the coordinator's navigation verdict after a flow completes.
type NextStep uint8

const (
	// NavigateDashboard is an exported constant or variable used by the step-up coordinator.
	NavigateDashboard NextStep = iota
	// NavigateStepUp is an exported constant or variable used by the step-up coordinator.
	NavigateStepUp
	// NavigateEnroll is an exported constant or variable used by the step-up coordinator.
	NavigateEnroll
)

func (n NextStep) String() string {
	switch n {
	case NavigateDashboard:
		return "dashboard"
	case NavigateStepUp:
		return "stepup"
	case NavigateEnroll:
		return "enroll"
	default:
		return "unknown"
	}
}

// EnrollmentState defines a public type used by stepauth APIs.
type EnrollmentState uint8

const (
	// EnrollmentNeedsFirstFactor is an exported constant or variable used by the step-up coordinator.
	EnrollmentNeedsFirstFactor EnrollmentState = iota
	// EnrollmentFirstFactorConfigured is an exported constant or variable used by the step-up coordinator.
	EnrollmentFirstFactorConfigured
	// EnrollmentNeedsSecondFactor is an exported constant or variable used by the step-up coordinator.
	EnrollmentNeedsSecondFactor
	// EnrollmentComplete is an exported constant or variable used by the step-up coordinator.
	EnrollmentComplete
)

// Identity describes the signed-in account as the coordinator knows it.
type Identity struct {
	IdentityID        string
	PrimaryIdentifier string
	Role              string
	ConfiguredMethods []Method
}

// HasMethod is an exported method used by the step-up coordinator.
func (id Identity) HasMethod(m Method) bool {
	for _, have := range id.ConfiguredMethods {
		if have == m {
			return true
		}
	}
	return false
}

// HasDurableSecondFactor reports whether any enrolled credential can
// satisfy the second assurance rung without a recovery code.
func (id Identity) HasDurableSecondFactor() bool {
	for _, have := range id.ConfiguredMethods {
		if have.Durable() {
			return true
		}
	}
	return false
}

// RecommendContext carries the per-request signals that feed method
// recommendation. It is a value type so Recommend stays pure.
type RecommendContext struct {
	// PlatformAuthenticator reports whether this device exposes a
	// platform credential API.
	PlatformAuthenticator bool
	// DegradedService reports a known delivery outage for sent codes.
	DegradedService bool
	// StepUp marks a step-up flow, which excludes first-factor-only
	// methods from the offer.
	StepUp bool
	// Preferred is the stored method preference, empty when none.
	Preferred Method
}

// Recommendation is the deterministic output of method selection.
type Recommendation struct {
	Primary      Method
	Fallback     Method
	PromptChoice bool
	Reason       string
}

// Decision is the verdict of an authorization check for one operation.
type Decision struct {
	Allowed           bool
	Operation         string
	RequiredTier      tier.Tier
	RequiredAssurance AssuranceLevel
}

// FlowView is the read-only projection of the active flow handed to
// callers. It never exposes the anti-forgery token or the raw challenge.
type FlowView struct {
	FlowID         string
	Kind           FlowKind
	State          FlowState
	Assurance      AssuranceLevel
	OfferedMethods []Method
	Attempts       int
	ExpiresAt      time.Time
	Notice         string
	Redirect       string
	Next           NextStep
}
