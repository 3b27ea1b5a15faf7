// Package auth turns bearer session tokens into inbox identities.
//
// JWTVerifier checks HS256 tokens signed with the configured jwt_secret and
// returns the user id from the "sub" claim. TokenProvider uses it to
// implement session.Provider: SignIn verifies a token, loads the matching
// profile and notifies listeners synchronously.
//
// Issuing credentials to end users is the identity provider's job.
// Generate exists for operator tooling (the coven-inbox token command) and
// tests.
package auth
