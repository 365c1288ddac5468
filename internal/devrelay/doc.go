// Package devrelay is an in-memory relay for local development and tests.
//
// It serves the same /v1 surface a production relay does, plus
// POST /v1/pairing/offer so a node (or a test) can publish a pair code.
// Pair offers expire after Options.PairTTL; inboxes are drained by poll.
package devrelay
