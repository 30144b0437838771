package stepauth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/halcyonlabs/stepauth/authority"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, AuditEvent) {
	s.count.Add(1)
}

func (s *countingSink) Count() int64 {
	return s.count.Load()
}

type gateSink struct {
	gate chan struct{}
}

func newGateSink() *gateSink {
	return &gateSink{gate: make(chan struct{})}
}

func (s *gateSink) Emit(context.Context, AuditEvent) {
	<-s.gate
}

func newAuditedCoordinator(t *testing.T, transport *fakeTransport, sink AuditSink, mutate ...func(*Config)) *Coordinator {
	t.Helper()

	cfg := defaultConfig()
	cfg.Reconcile = ReconcileConfig{MaxAttempts: 3, Interval: time.Millisecond}
	for _, fn := range mutate {
		fn(&cfg)
	}

	coord, err := New().
		WithConfig(cfg).
		WithTransport(transport).
		WithOperations(testOperations()).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("build coordinator: %v", err)
	}
	t.Cleanup(coord.Close)
	return coord
}

func TestAuditDisabledNoSinkCalls(t *testing.T) {
	transport := &fakeTransport{}
	scriptLoginStart(transport)

	sink := &countingSink{}
	coord := newAuditedCoordinator(t, transport, sink, func(cfg *Config) {
		cfg.Audit.Enabled = false
	})

	if _, err := coord.StartLogin(context.Background()); err != nil {
		t.Fatal(err)
	}
	time.Sleep(30 * time.Millisecond)

	if sink.Count() != 0 {
		t.Fatalf("expected no audit sink calls when disabled, got %d", sink.Count())
	}
}

func TestAuditFlowLifecycleEvents(t *testing.T) {
	transport := &fakeTransport{}
	scriptLoginStart(transport)

	sink := NewChannelSink(16)
	coord := newAuditedCoordinator(t, transport, sink)

	ctx := context.Background()
	if _, err := coord.StartLogin(ctx); err != nil {
		t.Fatal(err)
	}
	coord.Abandon(ctx)

	want := []string{auditFlowStarted, auditFlowAbandoned}
	for _, eventType := range want {
		select {
		case event := <-sink.Events():
			if event.EventType != eventType {
				t.Fatalf("expected %s, got %s", eventType, event.EventType)
			}
			if eventType == auditFlowStarted && !event.Success {
				t.Fatal("flow start must be recorded as success")
			}
		case <-time.After(time.Second):
			t.Fatalf("event %s never arrived", eventType)
		}
	}
}

func TestAuditCarriesRequestContext(t *testing.T) {
	transport := &fakeTransport{}
	scriptLoginStart(transport)

	sink := NewChannelSink(16)
	coord := newAuditedCoordinator(t, transport, sink)

	ctx := WithClientIP(context.Background(), "203.0.113.1")
	ctx = WithUserAgent(ctx, "test-agent/1.0")
	if _, err := coord.StartLogin(ctx); err != nil {
		t.Fatal(err)
	}

	select {
	case event := <-sink.Events():
		if event.IP != "203.0.113.1" {
			t.Fatalf("client ip not carried, got %q", event.IP)
		}
		if event.UserAgent != "test-agent/1.0" {
			t.Fatalf("user agent not carried, got %q", event.UserAgent)
		}
	case <-time.After(time.Second):
		t.Fatal("audit event never arrived")
	}
}

func TestAuditTierDeniedMetadata(t *testing.T) {
	transport := &fakeTransport{}
	sink := NewChannelSink(16)
	coord := newAuditedCoordinator(t, transport, sink)

	coord.Authorize("DELETE_API_KEY")

	select {
	case event := <-sink.Events():
		if event.EventType != auditTierDenied {
			t.Fatalf("expected tier_denied, got %s", event.EventType)
		}
		if event.Metadata["operation"] != "DELETE_API_KEY" {
			t.Fatalf("operation missing from metadata: %v", event.Metadata)
		}
	case <-time.After(time.Second):
		t.Fatal("tier denial never audited")
	}
}

func TestAuditDropsWhenBufferFull(t *testing.T) {
	transport := &fakeTransport{}
	scriptLoginStart(transport)

	sink := newGateSink()
	coord := newAuditedCoordinator(t, transport, sink, func(cfg *Config) {
		cfg.Audit.BufferSize = 1
		cfg.Audit.DropIfFull = true
	})

	// Each Authorize call on an empty session produces one denial event;
	// the gated sink never consumes, so all but the in-flight and the
	// buffered one are shed.
	for i := 0; i < 10; i++ {
		coord.Authorize("DELETE_API_KEY")
	}

	deadline := time.Now().Add(time.Second)
	for coord.AuditDropped() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no events dropped under pressure")
		}
		time.Sleep(time.Millisecond)
	}

	close(sink.gate)
}

func TestJSONWriterSinkShape(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)

	sink.Emit(context.Background(), AuditEvent{
		Timestamp: time.Now(),
		EventType: auditCodeAccepted,
		FlowID:    "fl_1",
		Success:   true,
	})

	line := strings.TrimSpace(buf.String())
	var decoded map[string]any
	if err := json.Unmarshal([]byte(line), &decoded); err != nil {
		t.Fatalf("sink output not one JSON line: %v", err)
	}
	if decoded["event_type"] != auditCodeAccepted {
		t.Fatalf("unexpected event_type %v", decoded["event_type"])
	}
	if decoded["flow_id"] != "fl_1" {
		t.Fatalf("unexpected flow_id %v", decoded["flow_id"])
	}
}

func TestAuditCloseDrainsPending(t *testing.T) {
	transport := &fakeTransport{}
	scriptLoginStart(transport)
	transport.submitFn = func(flow *authority.FlowBody, fields url.Values) (*authority.SubmitOutcome, error) {
		return &authority.SubmitOutcome{
			Flow: loginFlowBody("fl_1", "method_offered", "identifier_code"),
		}, nil
	}

	sink := &countingSink{}
	coord := newAuditedCoordinator(t, transport, sink)

	ctx := context.Background()
	if _, err := coord.StartLogin(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := coord.SubmitIdentifier(ctx, "user@example.com"); err != nil {
		t.Fatal(err)
	}

	coord.Close()

	// flow_started + identifier_submitted at minimum.
	if sink.Count() < 2 {
		t.Fatalf("close must drain pending events, saw %d", sink.Count())
	}
}
