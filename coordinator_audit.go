package stepauth

import (
	"context"
	"errors"
	"time"
)

// AuditErrorCode defines a public type used by stepauth APIs.
type AuditErrorCode string

const (
	auditErrFlowExpired        AuditErrorCode = "flow_expired"
	auditErrInvalidCredential  AuditErrorCode = "invalid_credential_or_code"
	auditErrUserCancelled      AuditErrorCode = "user_cancelled"
	auditErrNoCredential       AuditErrorCode = "no_credential"
	auditErrTransport          AuditErrorCode = "transport_failure"
	auditErrReconcileTimeout   AuditErrorCode = "reconciliation_timeout"
	auditErrSubmitInFlight     AuditErrorCode = "submit_in_flight"
	auditErrNoActiveFlow       AuditErrorCode = "no_active_flow"
	auditErrStateInvalid       AuditErrorCode = "state_invalid"
	auditErrMethodNotOffered   AuditErrorCode = "method_not_offered"
	auditErrMethodInsufficient AuditErrorCode = "method_insufficient"
	auditErrContinuation       AuditErrorCode = "unknown_continuation"
	auditErrAssertionInvalid   AuditErrorCode = "assertion_invalid"
	auditErrEnrollmentRequired AuditErrorCode = "enrollment_required"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (c *Coordinator) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	identityID string,
	flowID string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if c == nil || c.audit == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp:  time.Now().UTC(),
		EventType:  eventType,
		IdentityID: identityID,
		FlowID:     flowID,
		SessionID:  sessionID,
		IP:         clientIPFromContext(ctx),
		UserAgent:  userAgentFromContext(ctx),
		Success:    success,
		Metadata:   metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	c.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrFlowExpired):
		return auditErrFlowExpired
	case errors.Is(err, ErrInvalidCredentialOrCode):
		return auditErrInvalidCredential
	case errors.Is(err, ErrUserCancelledCeremony):
		return auditErrUserCancelled
	case errors.Is(err, ErrNoCredentialAvailable):
		return auditErrNoCredential
	case errors.Is(err, ErrTransportFailure):
		return auditErrTransport
	case errors.Is(err, ErrReconciliationTimeout):
		return auditErrReconcileTimeout
	case errors.Is(err, ErrSubmitInFlight):
		return auditErrSubmitInFlight
	case errors.Is(err, ErrNoActiveFlow):
		return auditErrNoActiveFlow
	case errors.Is(err, ErrFlowStateInvalid):
		return auditErrStateInvalid
	case errors.Is(err, ErrMethodNotOffered):
		return auditErrMethodNotOffered
	case errors.Is(err, ErrMethodInsufficient):
		return auditErrMethodInsufficient
	case errors.Is(err, ErrUnknownContinuation):
		return auditErrContinuation
	case errors.Is(err, ErrAssertionInvalid):
		return auditErrAssertionInvalid
	case errors.Is(err, ErrEnrollmentRequired):
		return auditErrEnrollmentRequired
	case errors.Is(err, ErrPreferenceUnavailable),
		errors.Is(err, ErrSessionCacheUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
