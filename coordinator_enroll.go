package stepauth

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"time"

	"github.com/halcyonlabs/stepauth/ceremony"
)

// EnrollmentStatus reports where an identity stands on the enrollment
// ladder. A role listed as mandatory must reach EnrollmentComplete
// before the dashboard opens.
func (c *Coordinator) EnrollmentStatus(identity Identity) EnrollmentState {
	if len(identity.ConfiguredMethods) == 0 {
		return EnrollmentNeedsFirstFactor
	}
	if identity.HasDurableSecondFactor() {
		return EnrollmentComplete
	}
	for _, role := range c.cfg.Enrollment.MandatoryRoles {
		if role == identity.Role {
			return EnrollmentNeedsSecondFactor
		}
	}
	return EnrollmentFirstFactorConfigured
}

// StartTimeCodeEnrollment opens a settings flow that provisions a
// time-based code secret. The returned URI is rendered to the user for
// scanning; the secret never touches this process beyond the URI the
// authority handed over.
func (c *Coordinator) StartTimeCodeEnrollment(ctx context.Context) (FlowView, string, error) {
	if c.closed.Load() {
		return FlowView{}, "", ErrCoordinatorClosed
	}
	if c.sessions.Current() == nil {
		return FlowView{}, "", fmt.Errorf("%w: enrollment requires a signed-in session", ErrNoActiveFlow)
	}

	body, err := c.transport.StartFlow(ctx, string(KindSettings), AssuranceTier2.String())
	if err != nil {
		return FlowView{}, "", fmt.Errorf("%w: %v", ErrTransportFailure, err)
	}
	uri := body.UIHints["provisioning_uri"]
	if uri == "" {
		return FlowView{}, "", fmt.Errorf("%w: enrollment flow carries no provisioning uri", ErrFlowStateInvalid)
	}

	view, err := c.adoptFlow(ctx, KindSettings, AssuranceTier2, body)
	if err != nil {
		return FlowView{}, "", err
	}
	c.mu.Lock()
	if c.flow != nil && c.flow.body.ID == body.ID {
		c.flow.provisioning = uri
	}
	c.mu.Unlock()

	c.metricInc(MetricEnrollmentStarted)
	c.emitAudit(ctx, auditEnrollmentStarted, true, "", body.ID, "", nil, func() map[string]string {
		return map[string]string{"credential_type": string(ceremony.CredentialTimeCode)}
	})
	return view, uri, nil
}

// ConfirmTimeCodeEnrollment checks the user's first code locally before
// submitting the confirmation. A mis-scanned secret fails here, with
// the flow still open for a rescan, instead of surfacing at the next
// sign-in.
func (c *Coordinator) ConfirmTimeCodeEnrollment(ctx context.Context, code string) (FlowView, error) {
	c.mu.Lock()
	uri := ""
	if c.flow != nil {
		uri = c.flow.provisioning
	}
	c.mu.Unlock()
	if uri == "" {
		return FlowView{}, fmt.Errorf("%w: no enrollment in progress", ErrNoActiveFlow)
	}

	ok, err := ceremony.ConfirmProvisionedCode(uri, code, time.Now())
	if err != nil {
		return FlowView{}, fmt.Errorf("%w: %v", ErrInvalidCredentialOrCode, err)
	}
	if !ok {
		c.metricInc(MetricCodeRejected)
		view, _ := c.Flow()
		c.emitAudit(ctx, auditCodeRejected, false, "", view.FlowID, "", ErrInvalidCredentialOrCode, nil)
		return view, ErrInvalidCredentialOrCode
	}

	body, instance, err := c.beginSubmit(StateIdentifierEntry, StateMethodOffered, StateChallengeInFlight)
	if err != nil {
		return FlowView{}, err
	}
	out, submitErr := c.transport.Submit(ctx, body, url.Values{
		"action": {"confirm_enrollment"},
		"code":   {code},
	})
	view, err := c.finishSubmit(ctx, instance, out, submitErr)
	if err != nil {
		return view, err
	}
	if out.SoftFailure && view.State != StateSucceeded {
		c.metricInc(MetricCodeRejected)
		return view, ErrInvalidCredentialOrCode
	}

	c.metricInc(MetricEnrollmentCompleted)
	c.emitAudit(ctx, auditEnrollmentCompleted, true, "", view.FlowID, "", nil, func() map[string]string {
		return map[string]string{"credential_type": string(ceremony.CredentialTimeCode)}
	})
	return view, nil
}

// EnrollPlatformCredential runs a registration ceremony inside a
// settings flow and submits the attestation.
func (c *Coordinator) EnrollPlatformCredential(ctx context.Context, displayName string) (FlowView, error) {
	if c.closed.Load() {
		return FlowView{}, ErrCoordinatorClosed
	}
	if !c.executor.Available() {
		return FlowView{}, ErrNoCredentialAvailable
	}
	if c.sessions.Current() == nil {
		return FlowView{}, fmt.Errorf("%w: enrollment requires a signed-in session", ErrNoActiveFlow)
	}

	body, err := c.transport.StartFlow(ctx, string(KindSettings), AssuranceTier2.String())
	if err != nil {
		return FlowView{}, fmt.Errorf("%w: %v", ErrTransportFailure, err)
	}
	if _, err := c.adoptFlow(ctx, KindSettings, AssuranceTier2, body); err != nil {
		return FlowView{}, err
	}

	c.metricInc(MetricEnrollmentStarted)
	c.emitAudit(ctx, auditEnrollmentStarted, true, "", body.ID, "", nil, func() map[string]string {
		return map[string]string{"credential_type": string(ceremony.CredentialPlatform)}
	})

	_, _, challenge, err := decodeWireChallenge(body.Challenge)
	if err != nil {
		return FlowView{}, err
	}

	snapshot, instance, err := c.beginSubmit(StateIdentifierEntry, StateMethodOffered, StateChallengeInFlight)
	if err != nil {
		return FlowView{}, err
	}

	outcome := c.executor.Register(ctx, ceremony.CreationOptions{
		Challenge:   challenge,
		Origin:      body.Origin,
		DisplayName: displayName,
	})
	switch outcome.Kind {
	case ceremony.OutcomeOK:
	case ceremony.OutcomeUserCancelled:
		view := c.reopenAfterCeremony(ctx, instance, auditCeremonyCancelled, MetricCeremonyCancelled, ErrUserCancelledCeremony)
		return view, ErrUserCancelledCeremony
	case ceremony.OutcomeNoCredential:
		view := c.reopenAfterCeremony(ctx, instance, auditCeremonyNoCredential, MetricCeremonyNoCredential, ErrNoCredentialAvailable)
		return view, ErrNoCredentialAvailable
	default:
		view := c.reopenAfterCeremony(ctx, instance, auditCeremonyFailed, MetricCeremonyCancelled, outcome.Err)
		return view, fmt.Errorf("credential registration failed: %w", outcome.Err)
	}

	out, submitErr := c.transport.Submit(ctx, snapshot, url.Values{
		"action":       {"register_credential"},
		"credentialId": {base64.RawURLEncoding.EncodeToString(outcome.Result.CredentialID)},
		"attestation":  {base64.RawURLEncoding.EncodeToString(outcome.Result.Response)},
		"displayName":  {displayName},
	})
	view, err := c.finishSubmit(ctx, instance, out, submitErr)
	if err != nil {
		return view, err
	}
	if out.SoftFailure && view.State != StateSucceeded {
		return view, ErrInvalidCredentialOrCode
	}

	c.metricInc(MetricEnrollmentCompleted)
	c.emitAudit(ctx, auditEnrollmentCompleted, true, "", view.FlowID, "", nil, func() map[string]string {
		return map[string]string{"credential_type": string(ceremony.CredentialPlatform)}
	})
	return view, nil
}
