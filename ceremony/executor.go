package ceremony

import (
	"context"
	"errors"
	"time"
)

// CredentialType distinguishes the two durable factor kinds.
type CredentialType string

const (
	// CredentialPlatform is a hardware or biometric credential.
	CredentialPlatform CredentialType = "platform"
	// CredentialTimeCode is a provisioned time-based code secret.
	CredentialTimeCode CredentialType = "time_code"
)

// DeviceAttachment describes where a platform credential lives.
type DeviceAttachment string

const (
	// AttachmentPlatform is a credential bound to the local device.
	AttachmentPlatform DeviceAttachment = "platform"
	// AttachmentPortable is a roaming credential such as a security key.
	AttachmentPortable DeviceAttachment = "portable"
)

// Credential is the client-visible description of a registered factor.
// Key material never appears here; the identity authority owns it.
type Credential struct {
	Type        CredentialType
	DisplayName string
	Attachment  DeviceAttachment
	Origin      string
	CreatedAt   time.Time
	LastUsedAt  time.Time
}

// Sentinels an Authenticator implementation returns to signal modeled
// platform conditions. Anything else is an unexpected platform fault.
var (
	// ErrCancelled reports that the user dismissed the platform prompt.
	ErrCancelled = errors.New("authenticator prompt cancelled")
	// ErrNoCredential reports that no credential matches the request.
	ErrNoCredential = errors.New("no credential available on authenticator")
)

// CreationOptions carries the server-issued registration challenge to the
// platform credential API.
type CreationOptions struct {
	Challenge   []byte
	Origin      string
	IdentityID  string
	DisplayName string
	Timeout     time.Duration
}

// RequestOptions carries the server-issued assertion challenge.
type RequestOptions struct {
	Challenge            []byte
	Origin               string
	AllowedCredentialIDs [][]byte
	Timeout              time.Duration
}

// CreationResult is the signed registration response from the platform.
type CreationResult struct {
	CredentialID []byte
	Origin       string
	Attachment   DeviceAttachment
	Response     []byte
}

// AssertionResult is the signed assertion response from the platform.
type AssertionResult struct {
	CredentialID []byte
	Origin       string
	Response     []byte
}

// Authenticator is the platform credential API: registration (Create) and
// assertion (Get) against a server-issued challenge. Implementations block
// on a user-visible OS prompt and must honor ctx cancellation.
type Authenticator interface {
	Create(ctx context.Context, opts CreationOptions) (*CreationResult, error)
	Get(ctx context.Context, opts RequestOptions) (*AssertionResult, error)
}

// OutcomeKind classifies how a ceremony ended. Every modeled ending is a
// value here, never an opaque error travelling up the stack.
type OutcomeKind uint8

const (
	// OutcomeOK is an exported constant used by ceremony consumers.
	OutcomeOK OutcomeKind = iota
	// OutcomeUserCancelled covers user dismissal and prompt timeout.
	OutcomeUserCancelled
	// OutcomeNoCredential means nothing on this device can answer.
	OutcomeNoCredential
	// OutcomeOriginMismatch means the credential was created under a
	// different origin and must not be presented here.
	OutcomeOriginMismatch
	// OutcomeFailed is an unexpected platform fault.
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeOK:
		return "ok"
	case OutcomeUserCancelled:
		return "user_cancelled"
	case OutcomeNoCredential:
		return "no_credential"
	case OutcomeOriginMismatch:
		return "origin_mismatch"
	default:
		return "failed"
	}
}

// RegistrationOutcome is the typed result of a registration ceremony.
type RegistrationOutcome struct {
	Kind   OutcomeKind
	Result *CreationResult
	Err    error
}

// AssertionOutcome is the typed result of an assertion ceremony.
type AssertionOutcome struct {
	Kind   OutcomeKind
	Result *AssertionResult
	Err    error
}

// Executor drives platform ceremonies and translates platform exceptions
// into typed outcomes.
type Executor struct {
	auth    Authenticator
	timeout time.Duration
}

// NewExecutor wraps an authenticator. The timeout caps how long a prompt
// may stay open when the caller's context has no deadline of its own.
func NewExecutor(auth Authenticator, timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Executor{auth: auth, timeout: timeout}
}

// Available reports whether a platform authenticator was wired at all.
func (e *Executor) Available() bool {
	return e != nil && e.auth != nil
}

// Register runs a registration ceremony for the given challenge.
func (e *Executor) Register(ctx context.Context, opts CreationOptions) RegistrationOutcome {
	if !e.Available() {
		return RegistrationOutcome{Kind: OutcomeNoCredential, Err: ErrNoCredential}
	}
	ctx, cancel := e.withTimeout(ctx, opts.Timeout)
	defer cancel()

	result, err := e.auth.Create(ctx, opts)
	if err != nil {
		return RegistrationOutcome{Kind: classify(err), Err: err}
	}
	if mismatch(opts.Origin, result.Origin) {
		return RegistrationOutcome{Kind: OutcomeOriginMismatch, Result: result}
	}
	return RegistrationOutcome{Kind: OutcomeOK, Result: result}
}

// Assert runs an assertion ceremony for the given challenge.
func (e *Executor) Assert(ctx context.Context, opts RequestOptions) AssertionOutcome {
	if !e.Available() {
		return AssertionOutcome{Kind: OutcomeNoCredential, Err: ErrNoCredential}
	}
	ctx, cancel := e.withTimeout(ctx, opts.Timeout)
	defer cancel()

	result, err := e.auth.Get(ctx, opts)
	if err != nil {
		return AssertionOutcome{Kind: classify(err), Err: err}
	}
	if mismatch(opts.Origin, result.Origin) {
		return AssertionOutcome{Kind: OutcomeOriginMismatch, Result: result}
	}
	return AssertionOutcome{Kind: OutcomeOK, Result: result}
}

func (e *Executor) withTimeout(ctx context.Context, override time.Duration) (context.Context, context.CancelFunc) {
	timeout := e.timeout
	if override > 0 {
		timeout = override
	}
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func classify(err error) OutcomeKind {
	switch {
	case errors.Is(err, ErrCancelled),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return OutcomeUserCancelled
	case errors.Is(err, ErrNoCredential):
		return OutcomeNoCredential
	default:
		return OutcomeFailed
	}
}

func mismatch(expected, got string) bool {
	return expected != "" && got != "" && expected != got
}
