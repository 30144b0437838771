package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	stepauth "github.com/halcyonlabs/stepauth"
	"github.com/halcyonlabs/stepauth/authority"
	"github.com/halcyonlabs/stepauth/tier"
)

type stubTransport struct {
	status *authority.SessionStatus
}

func (s *stubTransport) StartFlow(ctx context.Context, kind, requested string) (*authority.FlowBody, error) {
	return &authority.FlowBody{ID: "fl_1", Kind: kind, State: "identifier_entry"}, nil
}

func (s *stubTransport) Submit(ctx context.Context, flow *authority.FlowBody, fields url.Values) (*authority.SubmitOutcome, error) {
	return &authority.SubmitOutcome{Flow: flow}, nil
}

func (s *stubTransport) QuerySession(ctx context.Context) (*authority.SessionStatus, error) {
	if s.status == nil {
		return &authority.SessionStatus{Active: false}, nil
	}
	return s.status, nil
}

func newGuardedCoordinator(t *testing.T, status *authority.SessionStatus) *stepauth.Coordinator {
	t.Helper()
	coord, err := stepauth.New().
		WithTransport(&stubTransport{status: status}).
		WithOperations(map[string]tier.Tier{
			"VIEW_DASHBOARD": tier.Tier1,
			"DELETE_API_KEY": tier.Tier3,
		}).
		Build()
	if err != nil {
		t.Fatalf("build coordinator: %v", err)
	}
	t.Cleanup(coord.Close)
	if status != nil {
		if _, err := coord.ResumeSession(context.Background()); err != nil {
			t.Fatalf("resume session: %v", err)
		}
	}
	return coord
}

func tier1Session() *authority.SessionStatus {
	return &authority.SessionStatus{
		Active:         true,
		SessionID:      "sess_1",
		IdentityID:     "id_9",
		Role:           "member",
		AssuranceLevel: "tier1",
	}
}

func TestGuardAllowsSufficientAssurance(t *testing.T) {
	coord := newGuardedCoordinator(t, tier1Session())

	var sawDecision bool
	handler := Guard(coord, "VIEW_DASHBOARD")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		decision, ok := DecisionFromContext(r)
		sawDecision = ok && decision.Allowed
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboard", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !sawDecision {
		t.Fatal("decision missing from request context")
	}
}

func TestGuardDeniesWithStepUpSignal(t *testing.T) {
	coord := newGuardedCoordinator(t, tier1Session())

	handler := Guard(coord, "DELETE_API_KEY")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run on denial")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/keys/k1", nil))

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if got := rec.Header().Get(StepUpRequiredHeader); got != "tier2" {
		t.Fatalf("expected step-up signal tier2, got %q", got)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "insufficient_assurance" || body["operation"] != "DELETE_API_KEY" {
		t.Fatalf("unexpected denial body: %v", body)
	}
}

func TestGuardDeniesWithoutSession(t *testing.T) {
	coord := newGuardedCoordinator(t, nil)

	handler := Guard(coord, "VIEW_DASHBOARD")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run without a session")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboard", nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestGuardUnregisteredOperationFailsClosed(t *testing.T) {
	coord := newGuardedCoordinator(t, tier1Session())

	handler := Guard(coord, "OP_NOBODY_REGISTERED")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run for an unregistered operation")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/anything", nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}
