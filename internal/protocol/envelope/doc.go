// Package envelope defines the relay envelope wire shape and the text codec
// for its ciphertext field.
//
// The codec is base64 over UTF-8. Decoding never fails outward: a corrupt
// envelope becomes Placeholder so one bad message cannot stall a poll.
package envelope
