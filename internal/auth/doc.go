// Package auth issues and verifies session tokens and resolves the session
// cookie of an inbound request to a registered user.
//
// Every rejection wraps ErrUnauthenticated together with a more specific
// cause. Callers answer all of them the same way; Reason exposes the cause
// for logs and metrics only.
package auth
