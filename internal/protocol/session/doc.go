// Package session owns the two client-side channels to a runtime.
//
// Ownership boundary:
// - control channel: REQ socket, one request outstanding, reset on timeout
// - stream channel: PUSH or PUB socket fed by a single writer goroutine
// - retry/backoff and the bounded drop-oldest frame queue
//
// Both channels carry two-part frames built by package frame. Neither
// channel shares a lock with the other.
package session
