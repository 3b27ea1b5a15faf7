// Package session owns the signed-in identity and its access role.
//
// A Service listens to an external identity Provider. Each provider
// transition updates the identity at once and bumps a generation counter.
// The role is looked up later on a resolver goroutine so the provider
// callback never calls back into the role store. When the lookup finishes
// for the current generation the session becomes StateReady; results for
// older generations are dropped.
//
// Failed or empty lookups resolve to RoleUser. Nothing in this package
// grants RoleAdmin without a role row that says so.
//
//	unauthenticated -> authenticating -> role_resolving -> ready
//	ready -> unauthenticated (sign-out)
package session
