package stepauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/halcyonlabs/stepauth/authority"
	"github.com/halcyonlabs/stepauth/internal"
)

func parseWireState(s string) FlowState {
	switch s {
	case "identifier_entry":
		return StateIdentifierEntry
	case "method_offered":
		return StateMethodOffered
	case "challenge_in_flight":
		return StateChallengeInFlight
	case "stepup_required":
		return StateStepUpRequired
	case "succeeded":
		return StateSucceeded
	case "failed":
		return StateFailed
	case "expired":
		return StateExpired
	default:
		return StateFailed
	}
}

// continuationHandler applies one server instruction to the flow while
// the coordinator lock is held.
type continuationHandler func(f *activeFlow, args map[string]string)

// continuationHandlers is the closed instruction set this client
// understands. Anything outside it fails the dispatch; instructions are
// never skipped silently.
var continuationHandlers = map[string]continuationHandler{
	"offer_methods": func(f *activeFlow, _ map[string]string) {
		f.state = StateMethodOffered
	},
	"resend_code": func(f *activeFlow, _ map[string]string) {
		f.notice = CodeDeliveryNotice
	},
	"begin_ceremony": func(f *activeFlow, _ map[string]string) {
		f.state = StateChallengeInFlight
	},
	"step_up": func(f *activeFlow, _ map[string]string) {
		// A flow pushed into step-up now targets tier2 no matter what it
		// originally asked for. Identifier-delivered codes cannot reach
		// tier2 and drop out of the offer from here on.
		f.state = StateStepUpRequired
		f.requested = AssuranceTier2
	},
	"complete": func(f *activeFlow, _ map[string]string) {
		f.state = StateSucceeded
	},
}

// adoptFlow installs a fresh flow instance, retiring any previous one.
// Responses addressed to the retired instance will be discarded.
func (c *Coordinator) adoptFlow(ctx context.Context, kind FlowKind, requested AssuranceLevel, body *authority.FlowBody) (FlowView, error) {
	instance, err := internal.NewInstanceID()
	if err != nil {
		return FlowView{}, err
	}

	c.mu.Lock()
	if c.flow != nil && c.flow.ceremonyCancel != nil {
		c.flow.ceremonyCancel()
	}
	c.flow = &activeFlow{
		body:      body,
		kind:      kind,
		state:     parseWireState(body.State),
		requested: requested,
		instance:  instance,
	}
	view := c.viewLocked()
	c.mu.Unlock()

	c.armExpiry(instance, body.ExpiresAt)
	c.metricInc(MetricFlowStarted)
	c.emitAudit(ctx, auditFlowStarted, true, "", body.ID, "", nil, func() map[string]string {
		return map[string]string{
			"kind":      string(kind),
			"requested": requested.String(),
		}
	})
	return view, nil
}

func (c *Coordinator) armExpiry(instance string, deadline time.Time) {
	if deadline.IsZero() {
		return
	}
	wait := time.Until(deadline) - c.cfg.Flow.ExpiryGrace
	c.timers.schedule(flowExpiryTimer, wait, func() {
		c.expireFlow(instance)
	})
}

// expireFlow marks the flow expired from the local timer. The instance
// check makes a late-firing timer for a retired flow a no-op.
func (c *Coordinator) expireFlow(instance string) {
	c.mu.Lock()
	if c.flow == nil || c.flow.instance != instance || c.flow.state.Terminal() {
		c.mu.Unlock()
		return
	}
	c.flow.state = StateExpired
	flowID := c.flow.body.ID
	if c.flow.ceremonyCancel != nil {
		c.flow.ceremonyCancel()
	}
	c.mu.Unlock()

	c.metricInc(MetricFlowExpired)
	c.emitAudit(context.Background(), auditFlowExpired, false, "", flowID, "", ErrFlowExpired, nil)
}

// beginSubmit validates state, takes the in-flight slot, and snapshots
// what the network call needs. A second submission while one is out is
// rejected, never queued.
func (c *Coordinator) beginSubmit(validStates ...FlowState) (*authority.FlowBody, string, error) {
	if c.closed.Load() {
		return nil, "", ErrCoordinatorClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.flow == nil {
		return nil, "", ErrNoActiveFlow
	}
	if c.flow.state == StateExpired {
		return nil, "", ErrFlowExpired
	}
	stateOK := false
	for _, s := range validStates {
		if c.flow.state == s {
			stateOK = true
			break
		}
	}
	if !stateOK {
		return nil, "", fmt.Errorf("%w: %s", ErrFlowStateInvalid, c.flow.state)
	}
	if c.submitInFlight {
		c.metricInc(MetricDuplicateSubmitRejected)
		return nil, "", ErrSubmitInFlight
	}
	c.submitInFlight = true

	bodyCopy := *c.flow.body
	return &bodyCopy, c.flow.instance, nil
}

// finishSubmit folds a submission result back into the flow. Responses
// for a retired instance are counted and dropped; the fresh body in a
// live response always replaces the held one.
func (c *Coordinator) finishSubmit(ctx context.Context, instance string, out *authority.SubmitOutcome, submitErr error) (FlowView, error) {
	c.mu.Lock()

	c.submitInFlight = false
	if c.flow == nil || c.flow.instance != instance {
		c.mu.Unlock()
		c.metricInc(MetricStaleResponseDiscarded)
		c.emitAudit(ctx, auditStaleResponseDiscarded, false, "", "", "", nil, nil)
		return FlowView{}, ErrNoActiveFlow
	}

	if submitErr != nil {
		return c.failFromTransportLocked(ctx, submitErr)
	}

	if out.Flow != nil {
		c.flow.body = out.Flow
		c.flow.state = parseWireState(out.Flow.State)
		c.armExpiry(instance, out.Flow.ExpiresAt)
	}
	if out.SoftFailure {
		c.metricInc(MetricSoftFailureNormalized)
	}

	// A redirect is the authority's final word; continuations riding
	// alongside it are ignored.
	if out.RedirectTo != "" {
		c.flow.redirect = out.RedirectTo
		c.flow.state = StateSucceeded
	} else {
		for _, action := range out.Continuations {
			handler, ok := continuationHandlers[action.Instruction]
			if !ok {
				c.flow.state = StateFailed
				flowID := c.flow.body.ID
				view := c.viewLocked()
				c.mu.Unlock()
				c.timers.cancel(flowExpiryTimer)
				c.metricInc(MetricFlowFailed)
				err := fmt.Errorf("%w: %q", ErrUnknownContinuation, action.Instruction)
				c.emitAudit(ctx, auditFlowFailed, false, "", flowID, "", err, nil)
				return view, err
			}
			handler(c.flow, action.Args)
		}
	}

	if !c.flow.body.ExpiresAt.IsZero() && time.Now().After(c.flow.body.ExpiresAt) && !c.flow.state.Terminal() {
		c.flow.state = StateExpired
	}

	state := c.flow.state
	flowID := c.flow.body.ID
	view := c.viewLocked()
	c.mu.Unlock()

	switch state {
	case StateSucceeded:
		c.timers.cancel(flowExpiryTimer)
		c.metricInc(MetricFlowSucceeded)
		c.emitAudit(ctx, auditFlowSucceeded, true, "", flowID, "", nil, nil)
	case StateFailed:
		c.timers.cancel(flowExpiryTimer)
		c.metricInc(MetricFlowFailed)
		c.emitAudit(ctx, auditFlowFailed, false, "", flowID, "", nil, nil)
	case StateExpired:
		c.timers.cancel(flowExpiryTimer)
		c.metricInc(MetricFlowExpired)
		c.emitAudit(ctx, auditFlowExpired, false, "", flowID, "", ErrFlowExpired, nil)
	}
	return view, nil
}

// failFromTransportLocked maps a transport-level submission error onto
// the flow. Called with the lock held; releases it.
func (c *Coordinator) failFromTransportLocked(ctx context.Context, submitErr error) (FlowView, error) {
	flowID := c.flow.body.ID

	var mapped error
	switch {
	case errors.Is(submitErr, authority.ErrFlowExpired):
		c.flow.state = StateExpired
		mapped = fmt.Errorf("%w: %v", ErrFlowExpired, submitErr)
	case errors.Is(submitErr, authority.ErrTransport):
		c.flow.state = StateFailed
		mapped = fmt.Errorf("%w: %v", ErrTransportFailure, submitErr)
	default:
		c.flow.state = StateFailed
		mapped = fmt.Errorf("%w: %v", ErrTransportFailure, submitErr)
	}
	state := c.flow.state
	view := c.viewLocked()
	c.mu.Unlock()

	c.timers.cancel(flowExpiryTimer)
	if state == StateExpired {
		c.metricInc(MetricFlowExpired)
		c.emitAudit(ctx, auditFlowExpired, false, "", flowID, "", mapped, nil)
	} else {
		c.metricInc(MetricFlowFailed)
		c.emitAudit(ctx, auditFlowFailed, false, "", flowID, "", mapped, nil)
	}
	return view, mapped
}
