// Package session owns relay session primitives shared by the link engine.
//
// Ownership boundary:
// - durable session state shape
// - retry policy and backoff
// - relay transport security checks
// - pending-send outbox
package session
