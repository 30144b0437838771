package stepauth

import (
	"errors"
	"fmt"

	"github.com/halcyonlabs/stepauth/authority"
	"github.com/halcyonlabs/stepauth/ceremony"
	"github.com/halcyonlabs/stepauth/jwt"
	"github.com/halcyonlabs/stepauth/session"
	"github.com/halcyonlabs/stepauth/tier"
	"github.com/redis/go-redis/v9"
)

// Builder defines a public type used by stepauth APIs.
//
// Builder instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Builder struct {
	config Config
	redis  *redis.Client

	transport     FlowTransport
	authenticator ceremony.Authenticator
	operations    map[string]tier.Tier
	auditSink     AuditSink

	built bool
}

// New describes the new operation and its observable behavior.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig describes the withconfig operation and its observable behavior.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis describes the withredis operation and its observable behavior.
func (b *Builder) WithRedis(client *redis.Client) *Builder {
	b.redis = client
	return b
}

// WithTransport overrides the default HTTP transport to the authority.
func (b *Builder) WithTransport(t FlowTransport) *Builder {
	b.transport = t
	return b
}

// WithAuthenticator wires the platform credential API for this device.
// Leaving it unset means platform ceremonies report no credential.
func (b *Builder) WithAuthenticator(a ceremony.Authenticator) *Builder {
	b.authenticator = a
	return b
}

// WithOperations registers the protected operations and their tiers.
// The registry freezes at Build; operations cannot be added later.
func (b *Builder) WithOperations(ops map[string]tier.Tier) *Builder {
	b.operations = ops
	return b
}

// WithAuditSink describes the withauditsink operation and its observable behavior.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// Build describes the build operation and its observable behavior.
//
// Build may return an error when input validation, dependency calls, or security checks fail.
func (b *Builder) Build() (*Coordinator, error) {
	if b.built {
		return nil, errors.New("stepauth: builder already consumed")
	}
	if err := b.config.validate(b.transport == nil); err != nil {
		return nil, err
	}

	transport := b.transport
	if transport == nil {
		client, err := authority.NewClient(authority.Config{
			BaseURL: b.config.Authority.BaseURL,
			Timeout: b.config.Authority.Timeout,
			Origin:  b.config.Authority.Origin,
		})
		if err != nil {
			return nil, err
		}
		transport = client
	}

	registry := tier.NewRegistry()
	for op, t := range b.operations {
		if err := registry.Register(op, t); err != nil {
			return nil, fmt.Errorf("stepauth: operation %q: %w", op, err)
		}
	}
	registry.Freeze()

	var verifier *jwt.Verifier
	if b.config.Assertion.Enabled {
		v, err := jwt.NewVerifier(jwt.Config{
			Algorithm: b.config.Assertion.Algorithm,
			PublicKey: b.config.Assertion.PublicKey,
			Secret:    b.config.Assertion.Secret,
			Issuer:    b.config.Assertion.Issuer,
			Audience:  b.config.Assertion.Audience,
			Leeway:    b.config.Assertion.Leeway,
		})
		if err != nil {
			return nil, err
		}
		verifier = v
	}

	var cache *session.Cache
	var prefs *preferenceStore
	if b.redis != nil {
		cache = session.NewCache(
			b.redis,
			b.config.SessionCache.RedisPrefix,
			b.config.SessionCache.JitterEnabled,
			b.config.SessionCache.JitterRange,
		)
		prefs = newPreferenceStore(b.redis)
	}

	metrics := NewMetrics(b.config.Metrics)
	executor := ceremony.NewExecutor(b.authenticator, b.config.Ceremony.Timeout)

	c := &Coordinator{
		cfg:       b.config,
		transport: transport,
		registry:  registry,
		metrics:   metrics,
		audit:     newAuditDispatcher(b.config.Audit, b.auditSink),
		executor:  executor,
		verifier:  verifier,
		prefs:     prefs,
		timers:    newTimerService(),
		sessions: newSessionCoordinator(
			transport,
			verifier,
			cache,
			metrics,
			b.config.Reconcile,
			b.config.SessionCache.TTL,
		),
	}

	b.built = true
	return c, nil
}
