package authority

import (
	"encoding/json"
	"time"
)

// FlowBody is the authority's representation of one flow instance as it
// appears on the wire. Every response that advances a flow carries one;
// the body in hand is always the freshest server-side truth.
type FlowBody struct {
	ID                 string            `json:"id"`
	Kind               string            `json:"kind"`
	State              string            `json:"state"`
	ExpiresAt          time.Time         `json:"expiresAt"`
	AntiForgeryToken   string            `json:"antiForgeryToken"`
	OfferedMethods     []string          `json:"offeredMethods,omitempty"`
	RequestedAssurance string            `json:"requestedAssurance,omitempty"`
	Origin             string            `json:"origin,omitempty"`
	Challenge          json.RawMessage   `json:"challenge,omitempty"`
	UIHints            map[string]string `json:"uiHints,omitempty"`
}

// ContinuationAction is one server-directed step the client must perform
// next. The instruction set is closed on the client side; an instruction
// the client does not recognize must surface as an error, never be
// silently skipped.
type ContinuationAction struct {
	Instruction string            `json:"instruction"`
	Args        map[string]string `json:"args,omitempty"`
}

// wireError is the authority's error envelope for rejected submissions.
type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// submitEnvelope is the full submit response shape.
type submitEnvelope struct {
	Flow          *FlowBody            `json:"flow,omitempty"`
	RedirectTo    string               `json:"redirectTo,omitempty"`
	Continuations []ContinuationAction `json:"continuations,omitempty"`
	Error         *wireError           `json:"error,omitempty"`
}

// SubmitOutcome is the normalized result of a submission. A rejected
// code or credential that came back with a usable flow body is a
// successful outcome with SoftFailure set; only protocol-level faults
// surface as errors from the client.
type SubmitOutcome struct {
	Flow          *FlowBody
	RedirectTo    string
	Continuations []ContinuationAction
	SoftFailure   bool
	ErrorCode     string
	ErrorMessage  string
}

// SessionStatus is the authority's authenticated-session snapshot.
type SessionStatus struct {
	Active                    bool     `json:"active"`
	SessionID                 string   `json:"sessionId,omitempty"`
	IdentityID                string   `json:"identityId,omitempty"`
	PrimaryIdentifier         string   `json:"primaryIdentifier,omitempty"`
	Role                      string   `json:"role,omitempty"`
	AssuranceLevel            string   `json:"assuranceLevel,omitempty"`
	MethodsUsed               []string `json:"authenticationMethodsUsed,omitempty"`
	ConfiguredCredentialTypes []string `json:"configuredCredentialTypes,omitempty"`
	EstablishedAt             int64    `json:"establishedAt,omitempty"`
	ExpiresAt                 int64    `json:"expiresAt,omitempty"`
	Assertion                 string   `json:"assertion,omitempty"`
}
