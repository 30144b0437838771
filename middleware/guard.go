package middleware

import (
	"encoding/json"
	"net/http"

	stepauth "github.com/halcyonlabs/stepauth"
)

// StepUpRequiredHeader is set on denied responses so the frontend knows
// to route into a step-up flow instead of showing a plain error.
const StepUpRequiredHeader = "X-Step-Up-Required"

// DecisionFromContext retrieves the guard's decision for the request.
func DecisionFromContext(r *http.Request) (stepauth.Decision, bool) {
	return stepauth.DecisionFromContext(r.Context())
}

// Guard gates a route behind one registered operation. A session below
// the operation's tier gets 403 with a step-up signal; the decision is
// placed on the request context for handlers that want the detail.
func Guard(coordinator *stepauth.Coordinator, operationID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if coordinator == nil {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			decision := coordinator.Authorize(operationID)
			if !decision.Allowed {
				w.Header().Set(StepUpRequiredHeader, decision.RequiredAssurance.String())
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"error":              "insufficient_assurance",
					"operation":          decision.Operation,
					"required_assurance": decision.RequiredAssurance.String(),
				})
				return
			}

			ctx := stepauth.ContextWithDecision(r.Context(), decision)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
