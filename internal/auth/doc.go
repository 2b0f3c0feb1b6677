// Package auth provides optional bearer-token authentication and per-caller
// rate limiting for the gateway's HTTP surface.
//
// Tokens are HS256-signed JWTs carrying the caller id in the "sub" claim.
// When auth is disabled in configuration, neither middleware is installed
// and every request is anonymous.
package auth
