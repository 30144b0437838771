package authority

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	headerCorrelationID = "X-Correlation-ID"

	// codeFlowExpired is the authority's error code for a flow it no
	// longer recognizes, including stale anti-forgery tokens.
	codeFlowExpired = "flow_expired"

	maxResponseBytes = 1 << 20
)

// Config configures a Client.
type Config struct {
	// BaseURL is the authority's root, without a trailing slash.
	BaseURL string
	// HTTPClient optionally overrides the transport. Nil means a fresh
	// client with Timeout applied.
	HTTPClient *http.Client
	// Timeout bounds each round trip when HTTPClient is nil.
	Timeout time.Duration
	// Origin is sent with flow creation so the authority can bind
	// platform credentials to it.
	Origin string
}

// Client speaks the authority's flow protocol. It is safe for concurrent
// use; all state lives on the authority side.
type Client struct {
	base   string
	http   *http.Client
	origin string
}

// NewClient validates cfg and returns a ready client.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("authority: base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("authority: invalid base url: %w", err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{base: base, http: httpClient, origin: cfg.Origin}, nil
}

// StartFlow creates a new flow of the given kind. requestedAssurance may
// be empty when the default for the kind applies.
func (c *Client) StartFlow(ctx context.Context, kind, requestedAssurance string) (*FlowBody, error) {
	payload, err := json.Marshal(map[string]string{
		"requestedAssurance": requestedAssurance,
		"origin":             c.origin,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/flows/"+url.PathEscape(kind), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerCorrelationID, uuid.NewString())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, statusError(resp.StatusCode, body)
	}
	var flow FlowBody
	if err := json.Unmarshal(body, &flow); err != nil || flow.ID == "" {
		return nil, fmt.Errorf("%w: flow body undecodable", ErrMalformedResponse)
	}
	return &flow, nil
}

// Submit posts form fields against a flow. The flow's anti-forgery token
// is added to the form; callers supply the step-specific fields only.
//
// A 4xx response carrying a decodable flow body is NOT an error: the
// authority rejected the submission but the flow is still live, and the
// outcome reports it as a soft failure with the fresh body attached.
func (c *Client) Submit(ctx context.Context, flow *FlowBody, fields url.Values) (*SubmitOutcome, error) {
	if flow == nil || flow.ID == "" {
		return nil, fmt.Errorf("%w: no flow to submit against", ErrFlowExpired)
	}
	form := url.Values{}
	for k, vs := range fields {
		for _, v := range vs {
			form.Add(k, v)
		}
	}
	form.Set("antiForgeryToken", flow.AntiForgeryToken)

	target := c.base + "/flows/" + url.PathEscape(flow.Kind) + "/" + url.PathEscape(flow.ID) + "/submit"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(headerCorrelationID, uuid.NewString())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	var envelope submitEnvelope
	decodable := json.Unmarshal(body, &envelope) == nil

	switch {
	case resp.StatusCode == http.StatusOK:
		if !decodable {
			return nil, fmt.Errorf("%w: submit envelope undecodable", ErrMalformedResponse)
		}
		return outcomeFrom(envelope, false), nil
	case softRejection(resp.StatusCode):
		if decodable && envelope.Error != nil && envelope.Error.Code == codeFlowExpired {
			return nil, fmt.Errorf("%w: %s", ErrFlowExpired, envelope.Error.Message)
		}
		if decodable && envelope.Flow != nil {
			return outcomeFrom(envelope, true), nil
		}
		return nil, statusError(resp.StatusCode, body)
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, ErrFlowExpired
	default:
		return nil, statusError(resp.StatusCode, body)
	}
}

// QuerySession fetches the authority's current session snapshot.
func (c *Client) QuerySession(ctx context.Context) (*SessionStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/session", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	req.Header.Set(headerCorrelationID, uuid.NewString())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return &SessionStatus{Active: false}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode, body)
	}
	var status SessionStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, fmt.Errorf("%w: session snapshot undecodable", ErrMalformedResponse)
	}
	return &status, nil
}

func outcomeFrom(envelope submitEnvelope, soft bool) *SubmitOutcome {
	out := &SubmitOutcome{
		Flow:          envelope.Flow,
		RedirectTo:    envelope.RedirectTo,
		Continuations: envelope.Continuations,
		SoftFailure:   soft,
	}
	if envelope.Error != nil {
		out.ErrorCode = envelope.Error.Code
		out.ErrorMessage = envelope.Error.Message
	}
	return out
}

func softRejection(status int) bool {
	switch status {
	case http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity:
		return true
	}
	return false
}

func statusError(status int, body []byte) error {
	var envelope submitEnvelope
	if json.Unmarshal(body, &envelope) == nil && envelope.Error != nil {
		if envelope.Error.Code == codeFlowExpired {
			return fmt.Errorf("%w: %s", ErrFlowExpired, envelope.Error.Message)
		}
		return fmt.Errorf("%w: %s (%s)", ErrServerRejected, envelope.Error.Message, envelope.Error.Code)
	}
	if status >= 500 {
		return fmt.Errorf("%w: status %d", ErrTransport, status)
	}
	return fmt.Errorf("%w: status %d", ErrServerRejected, status)
}
