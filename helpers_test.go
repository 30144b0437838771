package stepauth

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/halcyonlabs/stepauth/authority"
	"github.com/halcyonlabs/stepauth/ceremony"
	"github.com/halcyonlabs/stepauth/tier"
)

// fakeTransport scripts authority behavior per call site.
type fakeTransport struct {
	mu sync.Mutex

	startFn   func(kind, requested string) (*authority.FlowBody, error)
	submitFn  func(flow *authority.FlowBody, fields url.Values) (*authority.SubmitOutcome, error)
	sessionFn func() (*authority.SessionStatus, error)

	submits       []url.Values
	sessionCalls  int
	startCalls    int
	submitBlocker chan struct{}
}

func (f *fakeTransport) StartFlow(ctx context.Context, kind, requested string) (*authority.FlowBody, error) {
	f.mu.Lock()
	f.startCalls++
	fn := f.startFn
	f.mu.Unlock()
	if fn == nil {
		return nil, fmt.Errorf("startFn not scripted")
	}
	return fn(kind, requested)
}

func (f *fakeTransport) Submit(ctx context.Context, flow *authority.FlowBody, fields url.Values) (*authority.SubmitOutcome, error) {
	f.mu.Lock()
	f.submits = append(f.submits, fields)
	fn := f.submitFn
	blocker := f.submitBlocker
	f.mu.Unlock()
	if blocker != nil {
		select {
		case <-blocker:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fn == nil {
		return nil, fmt.Errorf("submitFn not scripted")
	}
	return fn(flow, fields)
}

func (f *fakeTransport) QuerySession(ctx context.Context) (*authority.SessionStatus, error) {
	f.mu.Lock()
	f.sessionCalls++
	fn := f.sessionFn
	f.mu.Unlock()
	if fn == nil {
		return &authority.SessionStatus{Active: false}, nil
	}
	return fn()
}

func (f *fakeTransport) lastSubmit() url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.submits) == 0 {
		return nil
	}
	return f.submits[len(f.submits)-1]
}

type fakeAuthenticator struct {
	getResult *ceremony.AssertionResult
	getErr    error
	getDelay  time.Duration
}

func (a *fakeAuthenticator) Create(ctx context.Context, opts ceremony.CreationOptions) (*ceremony.CreationResult, error) {
	return &ceremony.CreationResult{
		CredentialID: []byte{1, 2, 3},
		Origin:       opts.Origin,
		Attachment:   ceremony.AttachmentPlatform,
	}, nil
}

func (a *fakeAuthenticator) Get(ctx context.Context, opts ceremony.RequestOptions) (*ceremony.AssertionResult, error) {
	if a.getDelay > 0 {
		select {
		case <-time.After(a.getDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if a.getErr != nil {
		return nil, a.getErr
	}
	if a.getResult != nil {
		return a.getResult, nil
	}
	return &ceremony.AssertionResult{
		CredentialID: []byte{1, 2, 3},
		Origin:       opts.Origin,
		Response:     []byte("signed"),
	}, nil
}

func testOperations() map[string]tier.Tier {
	return map[string]tier.Tier{
		"VIEW_DASHBOARD": tier.Tier1,
		"DELETE_API_KEY": tier.Tier3,
		"ROTATE_SIGNING": tier.Tier4,
	}
}

func newTestCoordinator(t *testing.T, transport *fakeTransport, mutate ...func(*Config)) *Coordinator {
	t.Helper()

	cfg := defaultConfig()
	cfg.Reconcile = ReconcileConfig{MaxAttempts: 3, Interval: time.Millisecond, JitterFraction: 0}
	cfg.Ceremony.Timeout = time.Second
	for _, fn := range mutate {
		fn(&cfg)
	}

	coord, err := New().
		WithConfig(cfg).
		WithTransport(transport).
		WithAuthenticator(&fakeAuthenticator{}).
		WithOperations(testOperations()).
		Build()
	if err != nil {
		t.Fatalf("build coordinator: %v", err)
	}
	t.Cleanup(coord.Close)
	return coord
}

func loginFlowBody(id, state string, methods ...string) *authority.FlowBody {
	return &authority.FlowBody{
		ID:               id,
		Kind:             "login",
		State:            state,
		AntiForgeryToken: "tok_" + id,
		ExpiresAt:        time.Now().Add(5 * time.Minute),
		OfferedMethods:   methods,
		Origin:           "https://app.example.com",
	}
}

func activeSession(level string, methods ...string) *authority.SessionStatus {
	return &authority.SessionStatus{
		Active:                    true,
		SessionID:                 "sess_1",
		IdentityID:                "id_9",
		PrimaryIdentifier:         "user@example.com",
		Role:                      "member",
		AssuranceLevel:            level,
		MethodsUsed:               methods,
		ConfiguredCredentialTypes: []string{"platform_credential", "time_code"},
	}
}

// seedSession walks the coordinator into holding a tier-1 session.
func seedSession(t *testing.T, coord *Coordinator, transport *fakeTransport, level string) {
	t.Helper()
	transport.mu.Lock()
	transport.sessionFn = func() (*authority.SessionStatus, error) {
		return activeSession(level, "identifier_code"), nil
	}
	transport.mu.Unlock()
	if _, err := coord.sessions.Reconcile(context.Background()); err != nil {
		t.Fatalf("seed session: %v", err)
	}
}
