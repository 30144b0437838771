package stepauth

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"
)

// AuthorityConfig configures how the coordinator reaches the identity
// authority.
type AuthorityConfig struct {
	BaseURL string
	Timeout time.Duration
	Origin  string
}

// FlowConfig bounds client-side flow handling.
type FlowConfig struct {
	// MaxCodeAttempts caps rejected code submissions before the flow is
	// failed locally. Zero means the authority's own limit governs.
	MaxCodeAttempts int
	// ExpiryGrace is subtracted from the authority deadline when arming
	// the local expiry timer, so the client expires first.
	ExpiryGrace time.Duration
}

// RecommendConfig tunes method recommendation.
type RecommendConfig struct {
	// PreferenceTTL bounds how long a stored method preference is
	// honored.
	PreferenceTTL time.Duration
}

// ReconcileConfig bounds the post-completion session reconciliation
// loop. Attempts are fixed-interval with jitter; there is no unbounded
// growth because the user is waiting on the result.
type ReconcileConfig struct {
	MaxAttempts    int
	Interval       time.Duration
	JitterFraction float64
}

// SessionCacheConfig configures the read-only session snapshot cache.
type SessionCacheConfig struct {
	RedisPrefix   string
	TTL           time.Duration
	JitterEnabled bool
	JitterRange   time.Duration
}

// EnrollmentConfig configures second-factor enrollment.
type EnrollmentConfig struct {
	// MandatoryRoles lists roles that must hold a durable second factor
	// before reaching the dashboard.
	MandatoryRoles []string
	// TimeCodeIssuer is the issuer label stamped into provisioning URIs.
	TimeCodeIssuer string
}

// CeremonyConfig bounds platform credential ceremonies.
type CeremonyConfig struct {
	Timeout time.Duration
}

// AssertionConfig configures optional verification of authority-issued
// session assertions.
type AssertionConfig struct {
	Enabled   bool
	Algorithm string
	PublicKey ed25519.PublicKey
	Secret    []byte
	Issuer    string
	Audience  string
	Leeway    time.Duration
}

// AuditConfig configures the async audit pipeline.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig configures in-process counters and histograms.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// Config is the full coordinator configuration. It is copied at Build
// time; later mutation of the caller's copy has no effect.
type Config struct {
	Authority    AuthorityConfig
	Flow         FlowConfig
	Recommend    RecommendConfig
	Reconcile    ReconcileConfig
	SessionCache SessionCacheConfig
	Enrollment   EnrollmentConfig
	Ceremony     CeremonyConfig
	Assertion    AssertionConfig
	Audit        AuditConfig
	Metrics      MetricsConfig
}

// DefaultConfig returns the configuration the builder starts from.
// Only Authority.BaseURL needs filling in for a production setup.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Authority: AuthorityConfig{
			Timeout: 10 * time.Second,
		},
		Flow: FlowConfig{
			// Lockout is the authority's policy; no local cap unless the
			// embedding application opts in.
			MaxCodeAttempts: 0,
			ExpiryGrace:     2 * time.Second,
		},
		Recommend: RecommendConfig{
			PreferenceTTL: 30 * 24 * time.Hour,
		},
		Reconcile: ReconcileConfig{
			MaxAttempts:    5,
			Interval:       400 * time.Millisecond,
			JitterFraction: 0.2,
		},
		SessionCache: SessionCacheConfig{
			RedisPrefix:   "sas",
			TTL:           time.Minute,
			JitterEnabled: true,
			JitterRange:   5 * time.Second,
		},
		Enrollment: EnrollmentConfig{
			TimeCodeIssuer: "stepauth",
		},
		Ceremony: CeremonyConfig{
			Timeout: 2 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
	}
}

func (c Config) validate(requireAuthority bool) error {
	if requireAuthority && c.Authority.BaseURL == "" {
		return errors.New("stepauth: authority base url is required")
	}
	if c.Reconcile.MaxAttempts < 1 {
		return errors.New("stepauth: reconcile max attempts must be at least 1")
	}
	if c.Reconcile.JitterFraction < 0 || c.Reconcile.JitterFraction > 1 {
		return fmt.Errorf("stepauth: reconcile jitter fraction %v out of range", c.Reconcile.JitterFraction)
	}
	if c.Flow.MaxCodeAttempts < 0 {
		return errors.New("stepauth: max code attempts must not be negative")
	}
	if c.Assertion.Enabled && c.Assertion.Algorithm == "" {
		return errors.New("stepauth: assertion verification enabled without algorithm")
	}
	if c.Audit.Enabled && c.Audit.BufferSize < 1 {
		return errors.New("stepauth: audit buffer size must be at least 1")
	}
	return nil
}
