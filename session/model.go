package session

// Assurance is the protocol-level strength classification reported by the
// identity authority for a session. Tier1 means a single verified factor,
// Tier2 means multi-factor.
type Assurance uint8

const (
	// AssuranceNone is an exported constant used by session consumers.
	AssuranceNone Assurance = 0
	// AssuranceTier1 is an exported constant used by session consumers.
	AssuranceTier1 Assurance = 1
	// AssuranceTier2 is an exported constant used by session consumers.
	AssuranceTier2 Assurance = 2
)

func (a Assurance) String() string {
	switch a {
	case AssuranceTier1:
		return "tier1"
	case AssuranceTier2:
		return "tier2"
	default:
		return "none"
	}
}

// Parse maps the authority's wire value to an Assurance. Unknown values
// parse as AssuranceNone rather than failing; callers treat that as an
// unusable session.
func Parse(s string) Assurance {
	switch s {
	case "tier1":
		return AssuranceTier1
	case "tier2":
		return AssuranceTier2
	default:
		return AssuranceNone
	}
}

// Session is the reconciled view of the identity authority's session
// state. It is produced by reconciliation only and never mutated locally;
// a fresher copy replaces it wholesale.
type Session struct {
	SessionID  string
	IdentityID string
	Role       string

	AssuranceLevel Assurance

	// MethodsUsed is ordered oldest first, matching the authority's
	// authenticationMethodsUsed list.
	MethodsUsed []string

	EstablishedAt int64
	ExpiresAt     int64
}

// Clone returns a deep copy so cached reads cannot alias the owned value.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.MethodsUsed != nil {
		out.MethodsUsed = make([]string, len(s.MethodsUsed))
		copy(out.MethodsUsed, s.MethodsUsed)
	}
	return &out
}
