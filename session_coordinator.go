package stepauth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/halcyonlabs/stepauth/authority"
	"github.com/halcyonlabs/stepauth/internal/backoff"
	"github.com/halcyonlabs/stepauth/jwt"
	"github.com/halcyonlabs/stepauth/session"
)

// sessionCoordinator owns the client's view of the authenticated
// session. The authority is the source of truth; this side only ever
// reconciles toward it and never fabricates or upgrades a session on
// its own.
type sessionCoordinator struct {
	transport FlowTransport
	verifier  *jwt.Verifier
	cache     *session.Cache
	metrics   *Metrics
	policy    backoff.Policy
	cacheTTL  time.Duration

	mu       sync.Mutex
	current  *session.Session
	identity Identity
}

func newSessionCoordinator(transport FlowTransport, verifier *jwt.Verifier, cache *session.Cache, metrics *Metrics, cfg ReconcileConfig, cacheTTL time.Duration) *sessionCoordinator {
	return &sessionCoordinator{
		transport: transport,
		verifier:  verifier,
		cache:     cache,
		metrics:   metrics,
		policy: backoff.Policy{
			MaxAttempts:    cfg.MaxAttempts,
			Interval:       cfg.Interval,
			JitterFraction: cfg.JitterFraction,
		},
		cacheTTL: cacheTTL,
	}
}

// Reconcile polls the authority until it reports the session the
// just-completed flow should have produced, within a bounded number of
// jittered attempts. Exhaustion is its own failure mode, distinct from
// an invalid credential: the flow may well have succeeded server-side.
//
// Reconcile is idempotent. Running it twice against the same authority
// state converges on the same session, and a snapshot that would lower
// the assurance of the session already held is ignored.
func (s *sessionCoordinator) Reconcile(ctx context.Context) (*session.Session, error) {
	var snapshot *authority.SessionStatus

	err := backoff.Retry(ctx, s.policy, func(ctx context.Context) (bool, error) {
		status, err := s.transport.QuerySession(ctx)
		if err != nil {
			s.metrics.Inc(MetricReconcileRetry)
			return false, err
		}
		if !status.Active {
			s.metrics.Inc(MetricReconcileRetry)
			return false, fmt.Errorf("session not yet visible")
		}
		snapshot = status
		return true, nil
	})
	if err != nil {
		if errors.Is(err, backoff.ErrExhausted) {
			s.metrics.Inc(MetricReconcileTimeout)
			return nil, fmt.Errorf("%w: %v", ErrReconciliationTimeout, err)
		}
		return nil, err
	}

	sess, adopted, err := s.adopt(ctx, snapshot)
	if err != nil {
		return nil, err
	}
	if adopted {
		s.metrics.Inc(MetricReconcileSuccess)
	}
	return sess, nil
}

// adopt folds an authority snapshot into the held session. The second
// return reports whether the snapshot replaced the held session; a
// same-session snapshot at a lower level never does.
func (s *sessionCoordinator) adopt(ctx context.Context, snapshot *authority.SessionStatus) (*session.Session, bool, error) {
	sess, identity, err := s.sessionFromStatus(snapshot)
	if err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	// Same session, lower level: a stale read racing a fresh one. The
	// level already held wins.
	if s.current != nil && s.current.SessionID == sess.SessionID && sess.AssuranceLevel < s.current.AssuranceLevel {
		held := s.current.Clone()
		s.mu.Unlock()
		return held, false, nil
	}
	s.current = sess
	s.identity = identity
	adopted := sess.Clone()
	s.mu.Unlock()

	s.refreshCache(ctx, adopted)
	return adopted, true, nil
}

// refreshCache invalidates then rewrites the cached snapshot. Cache
// trouble is logged, never surfaced; the in-memory session is already
// adopted.
func (s *sessionCoordinator) refreshCache(ctx context.Context, sess *session.Session) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, sess.SessionID); err != nil {
		log.Print("stepauth: session cache invalidate failed: ", err)
	}
	if err := s.cache.Put(ctx, sess, s.cacheTTL); err != nil {
		log.Print("stepauth: session cache put failed: ", err)
	}
}

func (s *sessionCoordinator) sessionFromStatus(status *authority.SessionStatus) (*session.Session, Identity, error) {
	if s.verifier != nil {
		if status.Assertion == "" {
			return nil, Identity{}, fmt.Errorf("%w: authority sent no assertion", ErrAssertionInvalid)
		}
		claims, err := s.verifier.Verify(status.Assertion)
		if err != nil {
			return nil, Identity{}, fmt.Errorf("%w: %v", ErrAssertionInvalid, err)
		}
		if claims.SessionID != status.SessionID || claims.IdentityID != status.IdentityID {
			return nil, Identity{}, fmt.Errorf("%w: assertion does not match snapshot", ErrAssertionInvalid)
		}
		if ParseAssurance(claims.Assurance) < ParseAssurance(status.AssuranceLevel) {
			return nil, Identity{}, fmt.Errorf("%w: snapshot claims higher assurance than assertion", ErrAssertionInvalid)
		}
	}

	sess := &session.Session{
		SessionID:      status.SessionID,
		IdentityID:     status.IdentityID,
		Role:           status.Role,
		AssuranceLevel: ParseAssurance(status.AssuranceLevel),
		MethodsUsed:    append([]string(nil), status.MethodsUsed...),
		EstablishedAt:  status.EstablishedAt,
		ExpiresAt:      status.ExpiresAt,
	}
	identity := Identity{
		IdentityID:        status.IdentityID,
		PrimaryIdentifier: status.PrimaryIdentifier,
		Role:              status.Role,
	}
	for _, t := range status.ConfiguredCredentialTypes {
		m := Method(t)
		if m.Valid() {
			identity.ConfiguredMethods = append(identity.ConfiguredMethods, m)
		}
	}
	return sess, identity, nil
}

// Current returns a copy of the held session, nil when signed out.
func (s *sessionCoordinator) Current() *session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	if s.current.ExpiresAt > 0 && time.Now().Unix() > s.current.ExpiresAt {
		return nil
	}
	return s.current.Clone()
}

// Identity returns the identity attached to the held session.
func (s *sessionCoordinator) Identity() Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// Clear drops the held session, e.g. on sign-out.
func (s *sessionCoordinator) Clear(ctx context.Context) {
	s.mu.Lock()
	sess := s.current
	s.current = nil
	s.identity = Identity{}
	s.mu.Unlock()

	if sess != nil && s.cache != nil {
		if err := s.cache.Invalidate(ctx, sess.SessionID); err != nil {
			log.Print("stepauth: session cache invalidate failed: ", err)
		}
	}
}

// NextStep decides where a completed flow should land the user. The
// reconciled session drives the verdict: an unmet assurance request
// routes to step-up, a mandatory role without a durable second factor
// routes to enrollment, everything else goes to the dashboard.
func (s *sessionCoordinator) NextStep(requested AssuranceLevel, mandatoryRoles []string) NextStep {
	s.mu.Lock()
	current := s.current
	identity := s.identity
	s.mu.Unlock()

	if current == nil {
		return NavigateStepUp
	}
	if requested > current.AssuranceLevel {
		return NavigateStepUp
	}
	for _, role := range mandatoryRoles {
		if role == identity.Role && !identity.HasDurableSecondFactor() {
			return NavigateEnroll
		}
	}
	return NavigateDashboard
}
