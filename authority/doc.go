// Package authority is the HTTP client for the identity authority's
// flow protocol: flow creation, form submission, and session queries.
// Submission rejections that come back with a live flow body are
// normalized into soft failures so callers can treat every response
// carrying a flow as forward progress.
package authority
