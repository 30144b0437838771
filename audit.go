package stepauth

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Audit event types emitted by the coordinator.
const (
	auditFlowStarted            = "flow_started"
	auditIdentifierSubmitted    = "identifier_submitted"
	auditMethodSelected         = "method_selected"
	auditCodeAccepted           = "code_accepted"
	auditCodeRejected           = "code_rejected"
	auditCeremonyStarted        = "ceremony_started"
	auditCeremonyCancelled      = "ceremony_cancelled"
	auditCeremonyNoCredential   = "ceremony_no_credential"
	auditCeremonyFailed         = "ceremony_failed"
	auditFlowSucceeded          = "flow_succeeded"
	auditFlowFailed             = "flow_failed"
	auditFlowExpired            = "flow_expired"
	auditFlowAbandoned          = "flow_abandoned"
	auditStaleResponseDiscarded = "stale_response_discarded"
	auditStepUpRequired         = "stepup_required"
	auditStepUpSucceeded        = "stepup_succeeded"
	auditReconcileSucceeded     = "reconcile_succeeded"
	auditReconcileTimeout       = "reconcile_timeout"
	auditEnrollmentStarted      = "enrollment_started"
	auditEnrollmentCompleted    = "enrollment_completed"
	auditTierDenied             = "tier_denied"
	auditSessionResumed         = "session_resumed"
	auditSignedOut              = "signed_out"
)

// AuditEvent defines a public type used by stepauth APIs.
type AuditEvent struct {
	Timestamp  time.Time         `json:"timestamp"`
	EventType  string            `json:"event_type"`
	IdentityID string            `json:"identity_id,omitempty"`
	FlowID     string            `json:"flow_id,omitempty"`
	SessionID  string            `json:"session_id,omitempty"`
	IP         string            `json:"ip,omitempty"`
	UserAgent  string            `json:"user_agent,omitempty"`
	Success    bool              `json:"success"`
	Error      string            `json:"error,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// AuditSink defines a public type used by stepauth APIs.
type AuditSink interface {
	Emit(ctx context.Context, event AuditEvent)
}

// NoOpSink defines a public type used by stepauth APIs.
type NoOpSink struct{}

// Emit describes the emit operation and its observable behavior.
func (NoOpSink) Emit(context.Context, AuditEvent) {}

// ChannelSink defines a public type used by stepauth APIs.
type ChannelSink struct {
	events chan AuditEvent
}

// NewChannelSink describes the newchannelsink operation and its observable behavior.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan AuditEvent, buffer),
	}
}

// Emit describes the emit operation and its observable behavior.
func (s *ChannelSink) Emit(ctx context.Context, event AuditEvent) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

// Events describes the events operation and its observable behavior.
func (s *ChannelSink) Events() <-chan AuditEvent {
	return s.events
}

// JSONWriterSink defines a public type used by stepauth APIs.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

// NewJSONWriterSink describes the newjsonwritersink operation and its observable behavior.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

// Emit describes the emit operation and its observable behavior.
func (s *JSONWriterSink) Emit(ctx context.Context, event AuditEvent) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}
