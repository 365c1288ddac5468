// Package link is the pairing and session engine of a relay client.
//
// An Orchestrator takes a pairing credential (or a saved session), claims
// it on the relay with a bounded retry, persists the result and then runs a
// PollLoop and a PushReconciler against the connected relay. Outbound text
// goes through Send, which assigns the next sequence number only once the
// relay accepts the envelope.
//
// Front ends observe the engine through a Listener.
package link
