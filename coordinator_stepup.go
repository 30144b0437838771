package stepauth

import (
	"context"
	"fmt"
)

// StartStepUp opens a step-up flow to raise the current session to the
// second assurance rung. The existing session stays valid throughout;
// an abandoned step-up leaves the user exactly where they were.
//
// Identifier entry is skipped: the authority already knows who this
// session belongs to, and only methods that can satisfy the second rung
// are offered.
func (c *Coordinator) StartStepUp(ctx context.Context, operationID string) (FlowView, error) {
	if c.closed.Load() {
		return FlowView{}, ErrCoordinatorClosed
	}

	decision := c.Authorize(operationID)
	if decision.Allowed {
		// Nothing to raise; report it rather than spinning up a flow.
		return FlowView{}, fmt.Errorf("%w: operation %q already authorized", ErrFlowStateInvalid, operationID)
	}
	if c.sessions.Current() == nil {
		return FlowView{}, fmt.Errorf("%w: step-up requires a signed-in session", ErrNoActiveFlow)
	}

	c.metricInc(MetricStepUpRequired)
	c.emitAudit(ctx, auditStepUpRequired, true, "", "", "", nil, func() map[string]string {
		return map[string]string{
			"operation":     operationID,
			"required_tier": decision.RequiredTier.String(),
		}
	})

	body, err := c.transport.StartFlow(ctx, string(KindStepUp), decision.RequiredAssurance.String())
	if err != nil {
		return FlowView{}, fmt.Errorf("%w: %v", ErrTransportFailure, err)
	}
	return c.adoptFlow(ctx, KindStepUp, decision.RequiredAssurance, body)
}
