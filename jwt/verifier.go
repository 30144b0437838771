package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken reports a token that failed signature or claim
	// validation.
	ErrInvalidToken = errors.New("invalid session assertion")

	// ErrUnsupportedAlgorithm reports a config or token algorithm outside
	// the allowlist.
	ErrUnsupportedAlgorithm = errors.New("unsupported assertion algorithm")
)

const maxLeeway = 2 * time.Minute

// Config configures assertion verification. Exactly one of PublicKey or
// Secret is used depending on Algorithm.
type Config struct {
	// Algorithm is "ed25519" or "hs256".
	Algorithm string
	// PublicKey is the Ed25519 verification key.
	PublicKey ed25519.PublicKey
	// Secret is the HMAC key for hs256.
	Secret []byte
	// Issuer, when set, must match the token's iss claim.
	Issuer string
	// Audience, when set, must appear in the token's aud claim.
	Audience string
	// Leeway tolerates clock drift on time claims, capped at two minutes.
	Leeway time.Duration
}

// SessionClaims are the registered and private claims carried by an
// authority-issued session assertion.
type SessionClaims struct {
	SessionID  string   `json:"sid"`
	IdentityID string   `json:"uid"`
	Assurance  string   `json:"acr"`
	Methods    []string `json:"amr,omitempty"`
	jwt.RegisteredClaims
}

// Verifier checks session assertions. It never signs anything; issuance
// belongs to the authority.
type Verifier struct {
	key     any
	methods []string
	opts    []jwt.ParserOption
}

// NewVerifier validates cfg and returns a ready verifier.
func NewVerifier(cfg Config) (*Verifier, error) {
	v := &Verifier{}
	switch cfg.Algorithm {
	case "ed25519":
		if len(cfg.PublicKey) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("jwt: ed25519 public key must be %d bytes", ed25519.PublicKeySize)
		}
		v.key = cfg.PublicKey
		v.methods = []string{jwt.SigningMethodEdDSA.Alg()}
	case "hs256":
		if len(cfg.Secret) < 32 {
			return nil, errors.New("jwt: hs256 secret must be at least 32 bytes")
		}
		v.key = cfg.Secret
		v.methods = []string{jwt.SigningMethodHS256.Alg()}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, cfg.Algorithm)
	}

	leeway := cfg.Leeway
	if leeway < 0 {
		leeway = 0
	}
	if leeway > maxLeeway {
		leeway = maxLeeway
	}
	v.opts = []jwt.ParserOption{
		jwt.WithValidMethods(v.methods),
		jwt.WithLeeway(leeway),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		v.opts = append(v.opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		v.opts = append(v.opts, jwt.WithAudience(cfg.Audience))
	}
	return v, nil
}

// Verify parses and validates an assertion and returns its claims.
func (v *Verifier) Verify(token string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return v.key, nil
	}, v.opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.SessionID == "" || claims.IdentityID == "" {
		return nil, fmt.Errorf("%w: missing session identity claims", ErrInvalidToken)
	}
	return claims, nil
}
