package stepauth

// Recommend picks which offered method to lead with. It is a pure
// function of its inputs: same identity, same offer, same context,
// same answer.
//
// Priority: a stored preference that is still offered and viable wins;
// then a platform credential when the device has an authenticator and
// delivery outages are irrelevant to it; then a provisioned time code;
// then a delivered identifier code where the flow allows first-factor
// methods. Recovery codes are never auto-selected. When nothing decides
// between two or more viable methods, the caller is told to prompt.
func Recommend(identity Identity, offered []Method, rc RecommendContext) Recommendation {
	viable := viableMethods(identity, offered, rc)
	if len(viable) == 0 {
		if contains(offered, MethodRecoveryCode) && identity.HasMethod(MethodRecoveryCode) {
			// Recovery is the only door left. Still a user choice.
			return Recommendation{
				Primary:      MethodRecoveryCode,
				PromptChoice: true,
				Reason:       "recovery_only",
			}
		}
		return Recommendation{PromptChoice: false, Reason: "no_viable_method"}
	}

	if rc.Preferred != "" && contains(viable, rc.Preferred) {
		return Recommendation{
			Primary:  rc.Preferred,
			Fallback: firstOther(viable, rc.Preferred),
			Reason:   "stored_preference",
		}
	}

	ranked := rankMethods(viable, rc)
	rec := Recommendation{
		Primary: ranked[0],
		Reason:  reasonFor(ranked[0], rc),
	}
	if len(ranked) > 1 {
		rec.Fallback = ranked[1]
		rec.PromptChoice = true
	}
	return rec
}

func viableMethods(identity Identity, offered []Method, rc RecommendContext) []Method {
	out := make([]Method, 0, len(offered))
	for _, m := range offered {
		if !m.Valid() || m == MethodRecoveryCode {
			continue
		}
		if rc.StepUp && !m.CanSatisfy(AssuranceTier2) {
			continue
		}
		switch m {
		case MethodPlatformCredential:
			if !rc.PlatformAuthenticator || !identity.HasMethod(m) {
				continue
			}
		case MethodTimeCode:
			if !identity.HasMethod(m) {
				continue
			}
		case MethodIdentifierCode:
			if rc.DegradedService {
				continue
			}
		}
		out = append(out, m)
	}
	return out
}

func rankMethods(viable []Method, rc RecommendContext) []Method {
	order := []Method{MethodPlatformCredential, MethodTimeCode, MethodIdentifierCode}
	ranked := make([]Method, 0, len(viable))
	for _, m := range order {
		if contains(viable, m) {
			ranked = append(ranked, m)
		}
	}
	return ranked
}

func reasonFor(m Method, rc RecommendContext) string {
	switch m {
	case MethodPlatformCredential:
		return "platform_authenticator"
	case MethodTimeCode:
		if rc.DegradedService {
			return "degraded_service"
		}
		return "provisioned_code"
	case MethodIdentifierCode:
		return "delivered_code"
	default:
		return "offered"
	}
}

func contains(methods []Method, m Method) bool {
	for _, have := range methods {
		if have == m {
			return true
		}
	}
	return false
}

func firstOther(methods []Method, skip Method) Method {
	for _, m := range methods {
		if m != skip {
			return m
		}
	}
	return ""
}
