// Package session defines the reconciled session snapshot, its versioned
// binary wire format, and the Redis read-only cache the session
// coordinator maintains. Nothing in this package talks to the identity
// authority; the snapshot is whatever the last reconciliation observed.
package session
