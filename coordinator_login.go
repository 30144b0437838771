package stepauth

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"time"
)

// StartLogin opens a fresh login flow. Any flow already in progress is
// retired first; late responses addressed to it will be discarded.
func (c *Coordinator) StartLogin(ctx context.Context) (FlowView, error) {
	if c.closed.Load() {
		return FlowView{}, ErrCoordinatorClosed
	}
	body, err := c.transport.StartFlow(ctx, string(KindLogin), "")
	if err != nil {
		return FlowView{}, fmt.Errorf("%w: %v", ErrTransportFailure, err)
	}
	requested := AssuranceTier1
	if body.RequestedAssurance != "" {
		requested = ParseAssurance(body.RequestedAssurance)
	}
	return c.adoptFlow(ctx, KindLogin, requested, body)
}

// SubmitIdentifier sends the account identifier. Whether or not the
// identifier maps to an account, the flow advances to the method offer
// with the same delivery notice, so the response shape reveals nothing
// about account existence.
func (c *Coordinator) SubmitIdentifier(ctx context.Context, identifier string) (FlowView, error) {
	body, instance, err := c.beginSubmit(StateIdentifierEntry)
	if err != nil {
		return FlowView{}, err
	}

	out, submitErr := c.transport.Submit(ctx, body, url.Values{
		"identifier": {identifier},
	})
	view, err := c.finishSubmit(ctx, instance, out, submitErr)
	if err != nil {
		return view, err
	}

	c.mu.Lock()
	if c.flow != nil && c.flow.instance == instance && !c.flow.state.Terminal() {
		c.flow.state = StateMethodOffered
		c.flow.notice = CodeDeliveryNotice
		view = c.viewLocked()
	}
	c.mu.Unlock()

	c.emitAudit(ctx, auditIdentifierSubmitted, true, "", view.FlowID, "", nil, nil)
	return view, nil
}

// SelectMethod commits to one of the offered methods and remembers the
// choice for next time. Preference persistence is best effort; a store
// outage never blocks sign-in.
func (c *Coordinator) SelectMethod(ctx context.Context, identityID string, m Method) (FlowView, error) {
	c.mu.Lock()
	if c.flow == nil {
		c.mu.Unlock()
		return FlowView{}, ErrNoActiveFlow
	}
	offered := c.viewLocked().OfferedMethods
	requested := c.flow.requested
	c.mu.Unlock()

	if !contains(offered, m) {
		return FlowView{}, fmt.Errorf("%w: %s", ErrMethodNotOffered, m)
	}
	if !m.CanSatisfy(requested) {
		return FlowView{}, fmt.Errorf("%w: %s cannot reach %s", ErrMethodInsufficient, m, requested)
	}

	body, instance, err := c.beginSubmit(StateMethodOffered, StateStepUpRequired)
	if err != nil {
		return FlowView{}, err
	}

	if c.prefs != nil && identityID != "" {
		if err := c.prefs.Save(ctx, identityID, m, c.cfg.Recommend.PreferenceTTL); err != nil {
			log.Print("stepauth: method preference save failed: ", err)
		}
	}

	out, submitErr := c.transport.Submit(ctx, body, url.Values{
		"method": {string(m)},
	})
	view, err := c.finishSubmit(ctx, instance, out, submitErr)
	if err != nil {
		return view, err
	}

	c.mu.Lock()
	if c.flow != nil && c.flow.instance == instance {
		c.flow.selected = m
	}
	c.mu.Unlock()

	c.emitAudit(ctx, auditMethodSelected, true, identityID, view.FlowID, "", nil, func() map[string]string {
		return map[string]string{"method": string(m)}
	})
	return view, nil
}

// SubmitCode sends a one-time code against the flow. A rejected code is
// not a dead end: the flow returns to the method offer with the attempt
// recorded, and the caller gets ErrInvalidCredentialOrCode alongside a
// still-live view.
func (c *Coordinator) SubmitCode(ctx context.Context, code string) (FlowView, error) {
	body, instance, err := c.beginSubmit(StateMethodOffered, StateChallengeInFlight)
	if err != nil {
		return FlowView{}, err
	}

	out, submitErr := c.transport.Submit(ctx, body, url.Values{
		"code": {code},
	})
	view, err := c.finishSubmit(ctx, instance, out, submitErr)
	if err != nil {
		return view, err
	}

	if out.SoftFailure && view.State != StateSucceeded {
		return c.rejectCode(ctx, instance, view)
	}

	c.metricInc(MetricCodeAccepted)
	c.emitAudit(ctx, auditCodeAccepted, true, "", view.FlowID, "", nil, nil)

	if view.State == StateSucceeded {
		return c.completeFlow(ctx, view)
	}
	return view, nil
}

// rejectCode records one failed code attempt and keeps the flow open,
// unless the local attempt cap closes it.
func (c *Coordinator) rejectCode(ctx context.Context, instance string, view FlowView) (FlowView, error) {
	c.metricInc(MetricCodeRejected)

	failed := false
	c.mu.Lock()
	if c.flow != nil && c.flow.instance == instance && !c.flow.state.Terminal() {
		c.flow.attempts++
		max := c.cfg.Flow.MaxCodeAttempts
		if max > 0 && c.flow.attempts >= max {
			c.flow.state = StateFailed
			failed = true
		} else {
			c.flow.state = StateMethodOffered
		}
		view = c.viewLocked()
	}
	c.mu.Unlock()

	c.emitAudit(ctx, auditCodeRejected, false, "", view.FlowID, "", ErrInvalidCredentialOrCode, func() map[string]string {
		return map[string]string{"attempts": fmt.Sprint(view.Attempts)}
	})
	if failed {
		c.timers.cancel(flowExpiryTimer)
		c.metricInc(MetricFlowFailed)
		c.emitAudit(ctx, auditFlowFailed, false, "", view.FlowID, "", ErrInvalidCredentialOrCode, nil)
	}
	return view, ErrInvalidCredentialOrCode
}

// completeFlow reconciles the session after a terminal success and
// stamps the navigation verdict onto the view. Navigation is never
// decided from the flow response alone; the reconciled session is the
// source of truth.
func (c *Coordinator) completeFlow(ctx context.Context, view FlowView) (FlowView, error) {
	start := time.Now()
	sess, err := c.sessions.Reconcile(ctx)
	c.metricObserve(MetricReconcileLatency, time.Since(start))
	if err != nil {
		c.emitAudit(ctx, auditReconcileTimeout, false, "", view.FlowID, "", err, nil)
		return view, err
	}
	c.emitAudit(ctx, auditReconcileSucceeded, true, sess.IdentityID, view.FlowID, sess.SessionID, nil, nil)

	next := c.sessions.NextStep(c.requestedAssurance(), c.cfg.Enrollment.MandatoryRoles)
	c.mu.Lock()
	if c.flow != nil && c.flow.body.ID == view.FlowID {
		c.flow.next = next
		c.flow.hasNext = true
		view = c.viewLocked()
	} else {
		view.Next = next
	}
	kind := view.Kind
	c.mu.Unlock()

	if kind == KindStepUp {
		c.metricInc(MetricStepUpSucceeded)
		c.emitAudit(ctx, auditStepUpSucceeded, true, sess.IdentityID, view.FlowID, sess.SessionID, nil, nil)
	}
	return view, nil
}

func (c *Coordinator) requestedAssurance() AssuranceLevel {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.flow == nil {
		return AssuranceTier1
	}
	return c.flow.requested
}

// RecommendMethod recommends a method for the active flow, folding in
// any stored preference. The preference lookup is best effort.
func (c *Coordinator) RecommendMethod(ctx context.Context, identity Identity, rc RecommendContext) (Recommendation, error) {
	c.mu.Lock()
	if c.flow == nil {
		c.mu.Unlock()
		return Recommendation{}, ErrNoActiveFlow
	}
	offered := c.viewLocked().OfferedMethods
	rc.StepUp = c.flow.kind == KindStepUp || c.flow.state == StateStepUpRequired
	c.mu.Unlock()

	if rc.Preferred == "" && c.prefs != nil && identity.IdentityID != "" {
		if preferred, err := c.prefs.Get(ctx, identity.IdentityID); err == nil {
			rc.Preferred = preferred
		}
	}
	if !c.executor.Available() {
		rc.PlatformAuthenticator = false
	}

	rec := Recommend(identity, offered, rc)
	if rec.PromptChoice {
		c.metricInc(MetricMethodPromptRequired)
	} else if rec.Primary != "" {
		c.metricInc(MetricMethodAutoSelected)
	}
	return rec, nil
}
