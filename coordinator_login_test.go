package stepauth

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/halcyonlabs/stepauth/authority"
)

func scriptLoginStart(transport *fakeTransport) {
	transport.startFn = func(kind, requested string) (*authority.FlowBody, error) {
		return loginFlowBody("fl_1", "identifier_entry", "identifier_code", "time_code"), nil
	}
}

func TestLoginHappyPath(t *testing.T) {
	transport := &fakeTransport{}
	scriptLoginStart(transport)
	transport.submitFn = func(flow *authority.FlowBody, fields url.Values) (*authority.SubmitOutcome, error) {
		switch {
		case fields.Get("identifier") != "":
			return &authority.SubmitOutcome{
				Flow: loginFlowBody("fl_1", "method_offered", "identifier_code", "time_code"),
			}, nil
		case fields.Get("method") != "":
			return &authority.SubmitOutcome{
				Flow: loginFlowBody("fl_1", "method_offered", "identifier_code", "time_code"),
			}, nil
		case fields.Get("code") == "482913":
			return &authority.SubmitOutcome{
				Flow:          loginFlowBody("fl_1", "succeeded"),
				Continuations: []authority.ContinuationAction{{Instruction: "complete"}},
			}, nil
		default:
			return &authority.SubmitOutcome{
				Flow:        loginFlowBody("fl_1", "method_offered", "identifier_code", "time_code"),
				SoftFailure: true,
				ErrorCode:   "invalid_code",
			}, nil
		}
	}
	transport.sessionFn = func() (*authority.SessionStatus, error) {
		return activeSession("tier1", "identifier_code"), nil
	}

	coord := newTestCoordinator(t, transport)
	ctx := context.Background()

	view, err := coord.StartLogin(ctx)
	if err != nil {
		t.Fatalf("start login: %v", err)
	}
	if view.State != StateIdentifierEntry {
		t.Fatalf("expected identifier entry, got %s", view.State)
	}

	view, err = coord.SubmitIdentifier(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("submit identifier: %v", err)
	}
	if view.State != StateMethodOffered {
		t.Fatalf("expected method offered, got %s", view.State)
	}
	if view.Notice != CodeDeliveryNotice {
		t.Fatalf("unexpected notice %q", view.Notice)
	}

	view, err = coord.SelectMethod(ctx, "id_9", MethodIdentifierCode)
	if err != nil {
		t.Fatalf("select method: %v", err)
	}

	view, err = coord.SubmitCode(ctx, "482913")
	if err != nil {
		t.Fatalf("submit code: %v", err)
	}
	if view.State != StateSucceeded {
		t.Fatalf("expected succeeded, got %s", view.State)
	}
	if view.Next != NavigateDashboard {
		t.Fatalf("expected dashboard navigation, got %s", view.Next)
	}
	if coord.CurrentAssuranceLevel() != AssuranceTier1 {
		t.Fatalf("expected tier1 session, got %s", coord.CurrentAssuranceLevel())
	}
}

func TestRejectedCodeKeepsFlowAlive(t *testing.T) {
	transport := &fakeTransport{}
	scriptLoginStart(transport)
	transport.submitFn = func(flow *authority.FlowBody, fields url.Values) (*authority.SubmitOutcome, error) {
		if fields.Get("identifier") != "" {
			return &authority.SubmitOutcome{
				Flow: loginFlowBody("fl_1", "method_offered", "identifier_code"),
			}, nil
		}
		return &authority.SubmitOutcome{
			Flow:        loginFlowBody("fl_1", "method_offered", "identifier_code"),
			SoftFailure: true,
			ErrorCode:   "invalid_code",
		}, nil
	}

	coord := newTestCoordinator(t, transport)
	ctx := context.Background()

	if _, err := coord.StartLogin(ctx); err != nil {
		t.Fatalf("start login: %v", err)
	}
	if _, err := coord.SubmitIdentifier(ctx, "user@example.com"); err != nil {
		t.Fatalf("submit identifier: %v", err)
	}

	view, err := coord.SubmitCode(ctx, "000000")
	if !errors.Is(err, ErrInvalidCredentialOrCode) {
		t.Fatalf("expected ErrInvalidCredentialOrCode, got %v", err)
	}
	if view.State != StateMethodOffered {
		t.Fatalf("rejected code must return to method offer, got %s", view.State)
	}
	if view.Attempts != 1 {
		t.Fatalf("expected 1 recorded attempt, got %d", view.Attempts)
	}

	// The same flow instance accepts another try.
	if _, err := coord.SubmitCode(ctx, "111111"); !errors.Is(err, ErrInvalidCredentialOrCode) {
		t.Fatalf("second attempt should also be a rejection, got %v", err)
	}
	view, err = coord.Flow()
	if err != nil {
		t.Fatalf("flow view: %v", err)
	}
	if view.Attempts != 2 {
		t.Fatalf("expected 2 recorded attempts, got %d", view.Attempts)
	}
}

func TestNoLocalLockoutUnderDefaults(t *testing.T) {
	transport := &fakeTransport{}
	scriptLoginStart(transport)
	transport.submitFn = func(flow *authority.FlowBody, fields url.Values) (*authority.SubmitOutcome, error) {
		if fields.Get("identifier") != "" {
			return &authority.SubmitOutcome{Flow: loginFlowBody("fl_1", "method_offered", "identifier_code")}, nil
		}
		return &authority.SubmitOutcome{
			Flow:        loginFlowBody("fl_1", "method_offered", "identifier_code"),
			SoftFailure: true,
		}, nil
	}

	coord := newTestCoordinator(t, transport)
	ctx := context.Background()
	if _, err := coord.StartLogin(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := coord.SubmitIdentifier(ctx, "user@example.com"); err != nil {
		t.Fatal(err)
	}

	// Lockout after repeated rejections is the authority's decision, not
	// this client's. Out of the box the flow stays open however many
	// codes are refused.
	for i := 0; i < 8; i++ {
		if _, err := coord.SubmitCode(ctx, "000000"); !errors.Is(err, ErrInvalidCredentialOrCode) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentialOrCode, got %v", i+1, err)
		}
	}
	view, err := coord.Flow()
	if err != nil {
		t.Fatalf("flow view: %v", err)
	}
	if view.State != StateMethodOffered {
		t.Fatalf("flow must stay open without an opt-in cap, got %s", view.State)
	}
	if view.Attempts != 8 {
		t.Fatalf("expected 8 recorded attempts, got %d", view.Attempts)
	}
}

func TestOptInAttemptCapFailsFlowLocally(t *testing.T) {
	transport := &fakeTransport{}
	scriptLoginStart(transport)
	transport.submitFn = func(flow *authority.FlowBody, fields url.Values) (*authority.SubmitOutcome, error) {
		if fields.Get("identifier") != "" {
			return &authority.SubmitOutcome{Flow: loginFlowBody("fl_1", "method_offered", "identifier_code")}, nil
		}
		return &authority.SubmitOutcome{
			Flow:        loginFlowBody("fl_1", "method_offered", "identifier_code"),
			SoftFailure: true,
		}, nil
	}

	coord := newTestCoordinator(t, transport, func(cfg *Config) {
		cfg.Flow.MaxCodeAttempts = 2
	})
	ctx := context.Background()
	if _, err := coord.StartLogin(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := coord.SubmitIdentifier(ctx, "user@example.com"); err != nil {
		t.Fatal(err)
	}

	coord.SubmitCode(ctx, "000000")
	view, _ := coord.SubmitCode(ctx, "000000")
	if view.State != StateFailed {
		t.Fatalf("expected flow failed at attempt cap, got %s", view.State)
	}
}

func TestIdentifierResponseIdenticalForUnknownAccounts(t *testing.T) {
	notices := make([]string, 0, 2)
	for _, identifier := range []string{"user@example.com", "nobody@example.com"} {
		transport := &fakeTransport{}
		scriptLoginStart(transport)
		transport.submitFn = func(flow *authority.FlowBody, fields url.Values) (*authority.SubmitOutcome, error) {
			// The authority answers the same for both.
			return &authority.SubmitOutcome{
				Flow: loginFlowBody("fl_1", "method_offered", "identifier_code"),
			}, nil
		}

		coord := newTestCoordinator(t, transport)
		ctx := context.Background()
		if _, err := coord.StartLogin(ctx); err != nil {
			t.Fatal(err)
		}
		view, err := coord.SubmitIdentifier(ctx, identifier)
		if err != nil {
			t.Fatalf("submit identifier %q: %v", identifier, err)
		}
		if view.State != StateMethodOffered {
			t.Fatalf("identifier %q: expected method offered, got %s", identifier, view.State)
		}
		notices = append(notices, view.Notice)
	}
	if notices[0] != notices[1] {
		t.Fatalf("notices differ between known and unknown identifiers: %q vs %q", notices[0], notices[1])
	}
}

func TestDuplicateSubmitRejectedNotQueued(t *testing.T) {
	transport := &fakeTransport{}
	scriptLoginStart(transport)
	blocker := make(chan struct{})
	transport.submitBlocker = blocker
	transport.submitFn = func(flow *authority.FlowBody, fields url.Values) (*authority.SubmitOutcome, error) {
		return &authority.SubmitOutcome{
			Flow: loginFlowBody("fl_1", "method_offered", "identifier_code"),
		}, nil
	}

	coord := newTestCoordinator(t, transport)
	ctx := context.Background()
	if _, err := coord.StartLogin(ctx); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		coord.SubmitIdentifier(ctx, "user@example.com")
	}()

	// Wait for the first submission to be in flight.
	deadline := time.Now().Add(time.Second)
	for {
		transport.mu.Lock()
		inFlight := len(transport.submits) == 1
		transport.mu.Unlock()
		if inFlight || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}

	_, err := coord.SubmitIdentifier(ctx, "user@example.com")
	if !errors.Is(err, ErrSubmitInFlight) {
		t.Fatalf("expected ErrSubmitInFlight, got %v", err)
	}

	close(blocker)
	wg.Wait()

	transport.mu.Lock()
	total := len(transport.submits)
	transport.mu.Unlock()
	if total != 1 {
		t.Fatalf("duplicate submission must not be queued, saw %d submits", total)
	}
	if coord.MetricsSnapshot().Counters[MetricDuplicateSubmitRejected] != 1 {
		t.Fatal("duplicate rejection not counted")
	}
}

func TestStaleResponseDiscardedAfterNewFlow(t *testing.T) {
	transport := &fakeTransport{}
	flowN := 0
	transport.startFn = func(kind, requested string) (*authority.FlowBody, error) {
		flowN++
		id := "fl_1"
		if flowN > 1 {
			id = "fl_2"
		}
		return loginFlowBody(id, "identifier_entry", "identifier_code"), nil
	}
	blocker := make(chan struct{})
	transport.submitBlocker = blocker
	transport.submitFn = func(flow *authority.FlowBody, fields url.Values) (*authority.SubmitOutcome, error) {
		return &authority.SubmitOutcome{
			Flow: loginFlowBody(flow.ID, "method_offered", "identifier_code"),
		}, nil
	}

	coord := newTestCoordinator(t, transport)
	ctx := context.Background()
	if _, err := coord.StartLogin(ctx); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := coord.SubmitIdentifier(ctx, "user@example.com")
		done <- err
	}()

	deadline := time.Now().Add(time.Second)
	for {
		transport.mu.Lock()
		started := len(transport.submits) == 1
		transport.mu.Unlock()
		if started || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}

	// A new flow retires the first instance while its response is in
	// flight.
	if _, err := coord.StartLogin(ctx); err != nil {
		t.Fatal(err)
	}
	close(blocker)

	if err := <-done; !errors.Is(err, ErrNoActiveFlow) {
		t.Fatalf("stale response must be discarded, got %v", err)
	}

	view, err := coord.Flow()
	if err != nil {
		t.Fatal(err)
	}
	if view.FlowID != "fl_2" || view.State != StateIdentifierEntry {
		t.Fatalf("new flow corrupted by stale response: %+v", view)
	}
	if coord.MetricsSnapshot().Counters[MetricStaleResponseDiscarded] != 1 {
		t.Fatal("stale discard not counted")
	}
}

func TestExpiredFlowRequiresRestartWithNewID(t *testing.T) {
	transport := &fakeTransport{}
	flowN := 0
	transport.startFn = func(kind, requested string) (*authority.FlowBody, error) {
		flowN++
		id := "fl_1"
		if flowN > 1 {
			id = "fl_2"
		}
		return loginFlowBody(id, "identifier_entry", "identifier_code"), nil
	}
	transport.submitFn = func(flow *authority.FlowBody, fields url.Values) (*authority.SubmitOutcome, error) {
		return nil, authority.ErrFlowExpired
	}

	coord := newTestCoordinator(t, transport)
	ctx := context.Background()
	if _, err := coord.StartLogin(ctx); err != nil {
		t.Fatal(err)
	}

	view, err := coord.SubmitIdentifier(ctx, "user@example.com")
	if !errors.Is(err, ErrFlowExpired) {
		t.Fatalf("expected ErrFlowExpired, got %v", err)
	}
	if view.State != StateExpired {
		t.Fatalf("expected expired state, got %s", view.State)
	}

	// No resumption: only a fresh flow with a fresh ID.
	if _, _, err := coord.beginSubmit(StateIdentifierEntry); !errors.Is(err, ErrFlowExpired) {
		t.Fatalf("expired flow must reject submissions, got %v", err)
	}
	fresh, err := coord.StartLogin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if fresh.FlowID != "fl_2" {
		t.Fatalf("restart must produce a new flow id, got %s", fresh.FlowID)
	}
}

func TestRedirectTakesPrecedenceOverContinuations(t *testing.T) {
	transport := &fakeTransport{}
	scriptLoginStart(transport)
	transport.submitFn = func(flow *authority.FlowBody, fields url.Values) (*authority.SubmitOutcome, error) {
		return &authority.SubmitOutcome{
			Flow:       loginFlowBody("fl_1", "method_offered", "identifier_code"),
			RedirectTo: "/password-migration",
			Continuations: []authority.ContinuationAction{
				{Instruction: "definitely_not_recognized"},
			},
		}, nil
	}
	transport.sessionFn = func() (*authority.SessionStatus, error) {
		return activeSession("tier1", "identifier_code"), nil
	}

	coord := newTestCoordinator(t, transport)
	ctx := context.Background()
	if _, err := coord.StartLogin(ctx); err != nil {
		t.Fatal(err)
	}

	view, err := coord.SubmitIdentifier(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("redirect outcome must not error: %v", err)
	}
	if view.Redirect != "/password-migration" {
		t.Fatalf("redirect not surfaced, got %q", view.Redirect)
	}
}

func TestUnknownContinuationFailsFlow(t *testing.T) {
	transport := &fakeTransport{}
	scriptLoginStart(transport)
	transport.submitFn = func(flow *authority.FlowBody, fields url.Values) (*authority.SubmitOutcome, error) {
		return &authority.SubmitOutcome{
			Flow: loginFlowBody("fl_1", "method_offered", "identifier_code"),
			Continuations: []authority.ContinuationAction{
				{Instruction: "launch_legacy_applet"},
			},
		}, nil
	}

	coord := newTestCoordinator(t, transport)
	ctx := context.Background()
	if _, err := coord.StartLogin(ctx); err != nil {
		t.Fatal(err)
	}

	view, err := coord.SubmitIdentifier(ctx, "user@example.com")
	if !errors.Is(err, ErrUnknownContinuation) {
		t.Fatalf("expected ErrUnknownContinuation, got %v", err)
	}
	if view.State != StateFailed {
		t.Fatalf("unknown continuation must fail the flow, got %s", view.State)
	}
}

func TestStepUpContinuationRaisesRequestedTier(t *testing.T) {
	transport := &fakeTransport{}
	scriptLoginStart(transport)
	transport.submitFn = func(flow *authority.FlowBody, fields url.Values) (*authority.SubmitOutcome, error) {
		if fields.Get("identifier") != "" {
			return &authority.SubmitOutcome{Flow: loginFlowBody("fl_1", "method_offered", "identifier_code")}, nil
		}
		return &authority.SubmitOutcome{
			Flow: loginFlowBody("fl_1", "method_offered", "identifier_code", "time_code"),
			Continuations: []authority.ContinuationAction{
				{Instruction: "step_up"},
			},
		}, nil
	}

	coord := newTestCoordinator(t, transport)
	ctx := context.Background()
	if _, err := coord.StartLogin(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := coord.SubmitIdentifier(ctx, "user@example.com"); err != nil {
		t.Fatal(err)
	}

	view, err := coord.SubmitCode(ctx, "482913")
	if err != nil {
		t.Fatalf("step_up continuation must not error: %v", err)
	}
	if view.State != StateStepUpRequired {
		t.Fatalf("expected step-up required, got %s", view.State)
	}
	if view.Assurance != AssuranceTier2 {
		t.Fatalf("flow pushed into step-up must target tier2, got %s", view.Assurance)
	}
	// An identifier-delivered code cannot reach tier2; once the authority
	// demands step-up it disappears from the offer and is refused outright.
	for _, m := range view.OfferedMethods {
		if m == MethodIdentifierCode {
			t.Fatalf("identifier code must not be offered after step_up, got %v", view.OfferedMethods)
		}
	}
	if _, err := coord.SelectMethod(ctx, "id_9", MethodIdentifierCode); !errors.Is(err, ErrMethodNotOffered) {
		t.Fatalf("expected ErrMethodNotOffered for identifier code, got %v", err)
	}
}

func TestTransportFailureFailsFlow(t *testing.T) {
	transport := &fakeTransport{}
	scriptLoginStart(transport)
	transport.submitFn = func(flow *authority.FlowBody, fields url.Values) (*authority.SubmitOutcome, error) {
		return nil, authority.ErrTransport
	}

	coord := newTestCoordinator(t, transport)
	ctx := context.Background()
	if _, err := coord.StartLogin(ctx); err != nil {
		t.Fatal(err)
	}
	view, err := coord.SubmitIdentifier(ctx, "user@example.com")
	if !errors.Is(err, ErrTransportFailure) {
		t.Fatalf("expected ErrTransportFailure, got %v", err)
	}
	if view.State != StateFailed {
		t.Fatalf("expected failed state, got %s", view.State)
	}
}

func TestSelectMethodValidation(t *testing.T) {
	transport := &fakeTransport{}
	scriptLoginStart(transport)
	transport.submitFn = func(flow *authority.FlowBody, fields url.Values) (*authority.SubmitOutcome, error) {
		return &authority.SubmitOutcome{
			Flow: loginFlowBody("fl_1", "method_offered", "identifier_code", "time_code"),
		}, nil
	}

	coord := newTestCoordinator(t, transport)
	ctx := context.Background()
	if _, err := coord.StartLogin(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := coord.SubmitIdentifier(ctx, "user@example.com"); err != nil {
		t.Fatal(err)
	}

	if _, err := coord.SelectMethod(ctx, "id_9", MethodPlatformCredential); !errors.Is(err, ErrMethodNotOffered) {
		t.Fatalf("expected ErrMethodNotOffered, got %v", err)
	}
	if _, err := coord.SelectMethod(ctx, "id_9", MethodTimeCode); err != nil {
		t.Fatalf("offered method rejected: %v", err)
	}
	if got := transport.lastSubmit().Get("method"); got != "time_code" {
		t.Fatalf("method not submitted, got %q", got)
	}
}

func TestAbandonDropsFlowWithoutNetwork(t *testing.T) {
	transport := &fakeTransport{}
	scriptLoginStart(transport)

	coord := newTestCoordinator(t, transport)
	ctx := context.Background()
	if _, err := coord.StartLogin(ctx); err != nil {
		t.Fatal(err)
	}

	coord.Abandon(ctx)

	if _, err := coord.Flow(); !errors.Is(err, ErrNoActiveFlow) {
		t.Fatalf("expected no active flow after abandon, got %v", err)
	}
	transport.mu.Lock()
	submits := len(transport.submits)
	transport.mu.Unlock()
	if submits != 0 {
		t.Fatal("abandon must not talk to the authority")
	}
}
