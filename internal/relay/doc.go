// Package relay is the HTTP JSON client for the relay's pairing, inbox,
// envelope and push endpoints. Non-2xx responses surface as *HTTPError.
package relay
