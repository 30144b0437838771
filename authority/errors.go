package authority

import "errors"

var (
	// ErrTransport reports a network-level failure reaching the authority.
	ErrTransport = errors.New("authority unreachable")

	// ErrMalformedResponse reports a response that could not be decoded.
	ErrMalformedResponse = errors.New("malformed authority response")

	// ErrFlowExpired reports that the authority no longer recognizes the
	// flow, its anti-forgery token, or its deadline has passed.
	ErrFlowExpired = errors.New("flow expired at authority")

	// ErrServerRejected reports a non-retryable server-side refusal that
	// carried no usable flow body.
	ErrServerRejected = errors.New("authority rejected request")
)
