package stepauth

import (
	"github.com/halcyonlabs/stepauth/tier"
)

// assuranceForTier maps an operation tier to the session assurance it
// demands. The two top tiers both require the second rung; the split
// between them is a server-side policy concern.
func assuranceForTier(t tier.Tier) AssuranceLevel {
	if t.RequiresMultiFactor() {
		return AssuranceTier2
	}
	return AssuranceTier1
}

// AuthorizeSession decides one operation against one session snapshot.
// It is a pure function: no I/O, no clock, no hidden state. Operations
// missing from the registry fail closed at the highest tier.
func AuthorizeSession(registry *tier.Registry, operationID string, level AssuranceLevel, active bool) Decision {
	required, known := tier.Tier(0), false
	if registry != nil {
		required, known = registry.Required(operationID)
	}
	if !known {
		required = tier.Tier4
	}

	decision := Decision{
		Operation:         operationID,
		RequiredTier:      required,
		RequiredAssurance: assuranceForTier(required),
	}
	decision.Allowed = active && level >= decision.RequiredAssurance
	return decision
}

// Authorize decides an operation against the coordinator's current
// session view. The verdict is computed locally; no network round trip
// happens on the authorization path.
func (c *Coordinator) Authorize(operationID string) Decision {
	level, active := AssuranceNone, false
	if current := c.sessions.Current(); current != nil {
		level = current.AssuranceLevel
		active = true
	}
	decision := AuthorizeSession(c.registry, operationID, level, active)

	if decision.Allowed {
		c.metricInc(MetricTierAllowed)
	} else {
		c.metricInc(MetricTierDenied)
		c.emitAudit(nil, auditTierDenied, false, "", "", "", nil, func() map[string]string {
			return map[string]string{
				"operation":     operationID,
				"required_tier": decision.RequiredTier.String(),
				"held_level":    level.String(),
			}
		})
	}
	return decision
}

// CurrentAssuranceLevel reports the assurance of the session snapshot
// the coordinator currently holds.
func (c *Coordinator) CurrentAssuranceLevel() AssuranceLevel {
	if current := c.sessions.Current(); current != nil {
		return current.AssuranceLevel
	}
	return AssuranceNone
}
