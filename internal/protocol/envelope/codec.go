package envelope

import (
	"encoding/base64"
	"errors"
	"strings"
)

// Placeholder replaces ciphertext that cannot be decoded.
const Placeholder = "[unreadable payload]"

var ErrUndecodable = errors.New("envelope: undecodable ciphertext")

// Encode turns text into the wire's base64 ciphertext field.
func Encode(text string) string {
	return base64.StdEncoding.EncodeToString([]byte(text))
}

// Decode reverses Encode. Malformed input yields Placeholder.
func Decode(wire string) string {
	text, err := DecodeStrict(wire)
	if err != nil {
		return Placeholder
	}
	return text
}

// DecodeStrict reverses Encode and reports malformed input as ErrUndecodable.
// Missing padding and ASCII whitespace are tolerated; invalid UTF-8 is
// replaced with U+FFFD.
func DecodeStrict(wire string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r', '\f':
			return -1
		}
		return r
	}, wire)

	enc := base64.StdEncoding
	if !strings.Contains(cleaned, "=") && len(cleaned)%4 != 0 {
		enc = base64.RawStdEncoding
	}
	raw, err := enc.DecodeString(cleaned)
	if err != nil {
		return "", errors.Join(ErrUndecodable, err)
	}
	return strings.ToValidUTF8(string(raw), "�"), nil
}
