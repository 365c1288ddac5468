// Package pairing turns a pairing credential into one canonical Payload.
//
// A credential arrives as literal JSON, as a URL whose query carries
// pair_b64 or pair_payload, or as a bare base64url blob. Each carrier is
// tried in that order and reports a tagged Attempt; see Parse.
package pairing
