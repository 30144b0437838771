// Package stepauth coordinates multi-factor sign-in and step-up
// authentication against a remote identity authority.
//
// The authority owns every secret and every verdict; this package owns
// the choreography on the client side of that boundary: driving the
// flow state machine the authority's responses describe, choosing which
// method to lead with, running platform credential ceremonies, and
// reconciling the local session view after a flow completes. Protected
// operations are registered with assurance tiers at build time, and
// Authorize answers for them locally from the reconciled session.
//
// A Coordinator is assembled with the fluent builder:
//
//	coord, err := stepauth.New().
//		WithConfig(cfg).
//		WithRedis(redisClient).
//		WithOperations(ops).
//		Build()
//
// and drives at most one flow at a time.
package stepauth
