package stepauth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/halcyonlabs/stepauth/ceremony"
)

// wireChallenge is the platform challenge as the authority ships it
// inside a flow body.
type wireChallenge struct {
	Challenge            string   `json:"challenge"`
	AllowedCredentialIDs []string `json:"allowedCredentialIds,omitempty"`
	Timeout              int      `json:"timeoutSeconds,omitempty"`
}

func decodeWireChallenge(raw json.RawMessage) (*wireChallenge, [][]byte, []byte, error) {
	if len(raw) == 0 {
		return nil, nil, nil, fmt.Errorf("%w: flow carries no challenge", ErrFlowStateInvalid)
	}
	var wc wireChallenge
	if err := json.Unmarshal(raw, &wc); err != nil {
		return nil, nil, nil, fmt.Errorf("%w: challenge undecodable", ErrFlowStateInvalid)
	}
	challenge, err := base64.RawURLEncoding.DecodeString(wc.Challenge)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: challenge encoding", ErrFlowStateInvalid)
	}
	allowed := make([][]byte, 0, len(wc.AllowedCredentialIDs))
	for _, id := range wc.AllowedCredentialIDs {
		decoded, err := base64.RawURLEncoding.DecodeString(id)
		if err != nil {
			continue
		}
		allowed = append(allowed, decoded)
	}
	return &wc, allowed, challenge, nil
}

// RunCeremony drives a platform credential assertion for the active
// flow. Cancellation and missing credentials come back as sentinel
// errors with the flow still live; only a signed assertion is ever
// submitted to the authority.
func (c *Coordinator) RunCeremony(ctx context.Context) (FlowView, error) {
	body, instance, err := c.beginSubmit(StateChallengeInFlight, StateMethodOffered)
	if err != nil {
		return FlowView{}, err
	}

	_, allowed, challenge, err := decodeWireChallenge(body.Challenge)
	if err != nil {
		c.clearSubmitInFlight()
		return FlowView{}, err
	}

	ceremonyCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	if c.flow != nil && c.flow.instance == instance {
		c.flow.ceremonyCancel = cancel
		c.flow.state = StateChallengeInFlight
	}
	c.mu.Unlock()

	c.metricInc(MetricCeremonyStarted)
	c.emitAudit(ctx, auditCeremonyStarted, true, "", body.ID, "", nil, nil)

	outcome := c.executor.Assert(ceremonyCtx, ceremony.RequestOptions{
		Challenge:            challenge,
		Origin:               body.Origin,
		AllowedCredentialIDs: allowed,
	})
	cancel()
	c.mu.Lock()
	if c.flow != nil && c.flow.instance == instance {
		c.flow.ceremonyCancel = nil
	}
	c.mu.Unlock()

	switch outcome.Kind {
	case ceremony.OutcomeOK:
		// fall through to submission below
	case ceremony.OutcomeUserCancelled:
		view := c.reopenAfterCeremony(ctx, instance, auditCeremonyCancelled, MetricCeremonyCancelled, ErrUserCancelledCeremony)
		return view, ErrUserCancelledCeremony
	case ceremony.OutcomeNoCredential:
		view := c.reopenAfterCeremony(ctx, instance, auditCeremonyNoCredential, MetricCeremonyNoCredential, ErrNoCredentialAvailable)
		return view, ErrNoCredentialAvailable
	case ceremony.OutcomeOriginMismatch:
		view := c.reopenAfterCeremony(ctx, instance, auditCeremonyFailed, MetricCeremonyCancelled, ErrAssertionInvalid)
		return view, fmt.Errorf("%w: credential bound to different origin", ErrAssertionInvalid)
	default:
		view := c.reopenAfterCeremony(ctx, instance, auditCeremonyFailed, MetricCeremonyCancelled, outcome.Err)
		return view, fmt.Errorf("credential ceremony failed: %w", outcome.Err)
	}

	out, submitErr := c.transport.Submit(ctx, body, url.Values{
		"credentialId": {base64.RawURLEncoding.EncodeToString(outcome.Result.CredentialID)},
		"assertion":    {base64.RawURLEncoding.EncodeToString(outcome.Result.Response)},
	})
	view, err := c.finishSubmit(ctx, instance, out, submitErr)
	if err != nil {
		return view, err
	}

	if out.SoftFailure && view.State != StateSucceeded {
		view = c.reopenAfterCeremony(ctx, instance, auditCeremonyFailed, MetricCodeRejected, ErrInvalidCredentialOrCode)
		return view, ErrInvalidCredentialOrCode
	}

	c.metricInc(MetricCeremonySucceeded)
	c.emitAudit(ctx, auditCodeAccepted, true, "", view.FlowID, "", nil, func() map[string]string {
		return map[string]string{"method": string(MethodPlatformCredential)}
	})

	if view.State == StateSucceeded {
		return c.completeFlow(ctx, view)
	}
	return view, nil
}

// CancelCeremony aborts a running ceremony. The flow deterministically
// returns to the method offer so another method can be chosen.
func (c *Coordinator) CancelCeremony() {
	c.mu.Lock()
	cancel := (context.CancelFunc)(nil)
	if c.flow != nil {
		cancel = c.flow.ceremonyCancel
	}
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// reopenAfterCeremony puts the flow back on the method offer after a
// ceremony ended without a usable assertion. The flow instance stays
// valid, and the attempt counter advances exactly as it does for a
// rejected code.
func (c *Coordinator) reopenAfterCeremony(ctx context.Context, instance, event string, metric MetricID, cause error) FlowView {
	c.metricInc(metric)

	var view FlowView
	failed := false
	c.mu.Lock()
	c.submitInFlight = false
	if c.flow != nil && c.flow.instance == instance {
		if !c.flow.state.Terminal() {
			c.flow.attempts++
			max := c.cfg.Flow.MaxCodeAttempts
			if max > 0 && c.flow.attempts >= max {
				c.flow.state = StateFailed
				failed = true
			} else {
				c.flow.state = StateMethodOffered
			}
		}
		view = c.viewLocked()
	}
	c.mu.Unlock()

	c.emitAudit(ctx, event, false, "", view.FlowID, "", cause, nil)
	if failed {
		c.timers.cancel(flowExpiryTimer)
		c.metricInc(MetricFlowFailed)
		c.emitAudit(ctx, auditFlowFailed, false, "", view.FlowID, "", cause, nil)
	}
	return view
}

func (c *Coordinator) clearSubmitInFlight() {
	c.mu.Lock()
	c.submitInFlight = false
	c.mu.Unlock()
}
