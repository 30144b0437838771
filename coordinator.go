package stepauth

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/halcyonlabs/stepauth/authority"
	"github.com/halcyonlabs/stepauth/ceremony"
	"github.com/halcyonlabs/stepauth/jwt"
	"github.com/halcyonlabs/stepauth/session"
	"github.com/halcyonlabs/stepauth/tier"
)

// FlowTransport is the wire surface the coordinator drives. The
// production implementation is authority.Client; tests substitute a
// scripted one.
type FlowTransport interface {
	StartFlow(ctx context.Context, kind, requestedAssurance string) (*authority.FlowBody, error)
	Submit(ctx context.Context, flow *authority.FlowBody, fields url.Values) (*authority.SubmitOutcome, error)
	QuerySession(ctx context.Context) (*authority.SessionStatus, error)
}

const flowExpiryTimer = "flow_expiry"

// activeFlow is the coordinator's working state for the one flow it
// drives at a time. The authority's body is authoritative; everything
// else here is client-side bookkeeping.
type activeFlow struct {
	body           *authority.FlowBody
	kind           FlowKind
	state          FlowState
	requested      AssuranceLevel
	attempts       int
	instance       string
	notice         string
	redirect       string
	next           NextStep
	hasNext        bool
	selected       Method
	provisioning   string
	ceremonyCancel context.CancelFunc
}

// Coordinator defines a public type used by stepauth APIs.
//
// Coordinator instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Coordinator struct {
	cfg       Config
	transport FlowTransport
	registry  *tier.Registry
	metrics   *Metrics
	audit     *auditDispatcher
	executor  *ceremony.Executor
	verifier  *jwt.Verifier
	prefs     *preferenceStore
	sessions  *sessionCoordinator
	timers    *timerService
	closed    atomic.Bool

	mu             sync.Mutex
	flow           *activeFlow
	submitInFlight bool
}

func (c *Coordinator) metricInc(id MetricID) {
	if c == nil || c.metrics == nil {
		return
	}
	c.metrics.Inc(id)
}

func (c *Coordinator) metricObserve(id MetricID, d time.Duration) {
	if c == nil || c.metrics == nil {
		return
	}
	c.metrics.Observe(id, d)
}

// MetricsSnapshot describes the metricssnapshot operation and its observable behavior.
func (c *Coordinator) MetricsSnapshot() MetricsSnapshot {
	return c.metrics.Snapshot()
}

// AuditDropped reports how many audit events were shed under pressure.
func (c *Coordinator) AuditDropped() uint64 {
	return c.audit.Dropped()
}

// Close tears the coordinator down: every armed timer is cancelled, any
// running ceremony is released, and the audit pipeline is drained.
func (c *Coordinator) Close() {
	if c == nil || !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.mu.Lock()
	if c.flow != nil && c.flow.ceremonyCancel != nil {
		c.flow.ceremonyCancel()
	}
	c.flow = nil
	c.mu.Unlock()

	c.timers.close()
	c.audit.Close()
}

// Flow returns a read-only view of the active flow.
func (c *Coordinator) Flow() (FlowView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.flow == nil {
		return FlowView{}, ErrNoActiveFlow
	}
	return c.viewLocked(), nil
}

func (c *Coordinator) viewLocked() FlowView {
	f := c.flow
	view := FlowView{
		FlowID:    f.body.ID,
		Kind:      f.kind,
		State:     f.state,
		Assurance: f.requested,
		Attempts:  f.attempts,
		ExpiresAt: f.body.ExpiresAt,
		Notice:    f.notice,
		Redirect:  f.redirect,
	}
	if f.hasNext {
		view.Next = f.next
	}
	view.OfferedMethods = make([]Method, 0, len(f.body.OfferedMethods))
	for _, m := range f.body.OfferedMethods {
		method := Method(m)
		if !method.Valid() {
			continue
		}
		if f.requested == AssuranceTier2 && !method.CanSatisfy(AssuranceTier2) {
			continue
		}
		view.OfferedMethods = append(view.OfferedMethods, method)
	}
	return view
}

// ResumeSession restores the session view on startup. One query, no
// retry loop: a signed-out answer from the authority is an answer, not
// a failure, and comes back as a nil session.
func (c *Coordinator) ResumeSession(ctx context.Context) (*session.Session, error) {
	if c.closed.Load() {
		return nil, ErrCoordinatorClosed
	}
	status, err := c.transport.QuerySession(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransportFailure, err)
	}
	if !status.Active {
		c.sessions.Clear(ctx)
		return nil, nil
	}
	sess, _, err := c.sessions.adopt(ctx, status)
	if err != nil {
		return nil, err
	}
	c.emitAudit(ctx, auditSessionResumed, true, sess.IdentityID, "", sess.SessionID, nil, nil)
	return sess, nil
}

// SignOut drops the local session view along with any flow in
// progress. The authority-side sign-out is the application's HTTP
// concern; this only forgets.
func (c *Coordinator) SignOut(ctx context.Context) {
	var sessionID string
	if current := c.sessions.Current(); current != nil {
		sessionID = current.SessionID
	}
	c.Abandon(ctx)
	c.sessions.Clear(ctx)
	c.emitAudit(ctx, auditSignedOut, true, "", "", sessionID, nil, nil)
}

// CurrentIdentity returns the identity attached to the held session,
// zero when signed out.
func (c *Coordinator) CurrentIdentity() Identity {
	if c.sessions.Current() == nil {
		return Identity{}
	}
	return c.sessions.Identity()
}

// Abandon drops the active flow without telling the authority. The
// server-side instance ages out on its own deadline; the client simply
// stops holding it.
func (c *Coordinator) Abandon(ctx context.Context) {
	c.mu.Lock()
	if c.flow == nil {
		c.mu.Unlock()
		return
	}
	flowID := c.flow.body.ID
	if c.flow.ceremonyCancel != nil {
		c.flow.ceremonyCancel()
	}
	c.flow = nil
	c.mu.Unlock()

	c.timers.cancel(flowExpiryTimer)
	c.metricInc(MetricFlowAbandoned)
	c.emitAudit(ctx, auditFlowAbandoned, true, "", flowID, "", nil, nil)
}
