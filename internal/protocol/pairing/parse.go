package pairing

import (
	"encoding/base64"
	"net/url"
	"strings"
)

const (
	QueryPairB64     = "pair_b64"
	QueryPairPayload = "pair_payload"
	QueryRelayURL    = "relay_url"
)

// Carrier names one credential encoding.
type Carrier string

const (
	CarrierJSON      Carrier = "json"
	CarrierURL       Carrier = "url"
	CarrierBase64URL Carrier = "base64url"
)

// Attempt is the tagged result of trying one carrier. Recognized is true
// when the input had that carrier's shape, whether or not it validated.
type Attempt struct {
	Carrier    Carrier
	Payload    Payload
	Err        error
	Recognized bool
}

func (a Attempt) OK() bool { return a.Err == nil }

var carriers = []func(string) Attempt{
	tryJSON,
	tryURL,
	tryBase64URL,
}

// Parse normalizes a credential given as literal JSON, a pairing URL, or a
// bare base64url blob. The first carrier that validates wins. When none
// does, the error of the first carrier that recognized its input is
// returned, so a well-formed object with v=2 reports ErrUnsupportedVersion.
func Parse(input string) (Payload, error) {
	_, p, err := ParseTrace(input)
	return p, err
}

// ParseTrace is Parse that also returns every attempt made.
func ParseTrace(input string) ([]Attempt, Payload, error) {
	value := strings.TrimSpace(input)
	if value == "" {
		return nil, Payload{}, ErrMissingPayload
	}
	attempts := make([]Attempt, 0, len(carriers))
	for _, try := range carriers {
		a := try(value)
		attempts = append(attempts, a)
		if a.OK() {
			return attempts, a.Payload, nil
		}
	}
	for _, a := range attempts {
		if a.Recognized {
			return attempts, Payload{}, a.Err
		}
	}
	return attempts, Payload{}, ErrUnrecognizedFormat
}

// FromQuery reads a credential from a URL query string (leading '?'
// optional). ok is false when the query carries no credential.
func FromQuery(rawQuery string) (p Payload, ok bool, err error) {
	params, err := url.ParseQuery(strings.TrimPrefix(rawQuery, "?"))
	if err != nil {
		return Payload{}, false, nil
	}
	a := fromParams(params)
	if !a.Recognized {
		return Payload{}, false, nil
	}
	return a.Payload, true, a.Err
}

func tryJSON(value string) Attempt {
	a := Attempt{Carrier: CarrierJSON, Recognized: strings.HasPrefix(value, "{")}
	raw, err := DecodeRaw([]byte(value))
	if err != nil {
		a.Err = err
		return a
	}
	a.Recognized = true
	a.Payload, a.Err = Normalize(raw)
	return a
}

func tryURL(value string) Attempt {
	a := Attempt{Carrier: CarrierURL, Err: ErrUnrecognizedFormat}
	u, err := url.Parse(value)
	if err != nil || u.Scheme == "" || (u.Host == "" && u.Opaque == "") {
		return a
	}
	out := fromParams(u.Query())
	out.Carrier = CarrierURL
	return out
}

func fromParams(params url.Values) Attempt {
	a := Attempt{Carrier: CarrierURL, Err: ErrUnrecognizedFormat}
	relayFallback := params.Get(QueryRelayURL)

	var data []byte
	switch {
	case params.Get(QueryPairB64) != "":
		decoded, err := decodeBase64URL(params.Get(QueryPairB64))
		a.Recognized = true
		if err != nil {
			a.Err = ErrMalformedPayload
			return a
		}
		data = decoded
	case params.Get(QueryPairPayload) != "":
		a.Recognized = true
		data = []byte(params.Get(QueryPairPayload))
	default:
		return a
	}

	raw, err := DecodeRaw(data)
	if err != nil {
		a.Err = err
		return a
	}
	applyRelayFallback(raw, relayFallback)
	a.Payload, a.Err = Normalize(raw)
	return a
}

func tryBase64URL(value string) Attempt {
	a := Attempt{Carrier: CarrierBase64URL}
	decoded, err := decodeBase64URL(value)
	if err != nil {
		a.Err = ErrUnrecognizedFormat
		return a
	}
	raw, err := DecodeRaw(decoded)
	if err != nil {
		a.Err = ErrUnrecognizedFormat
		return a
	}
	a.Recognized = true
	a.Payload, a.Err = Normalize(raw)
	return a
}

// decodeBase64URL accepts base64url or standard alphabet, padded or not.
func decodeBase64URL(value string) ([]byte, error) {
	normalized := strings.NewReplacer("-", "+", "_", "/").Replace(strings.TrimSpace(value))
	normalized = strings.TrimRight(normalized, "=")
	return base64.RawStdEncoding.DecodeString(normalized)
}

// EncodeBase64URL renders p as the unpadded base64url blob used in QR codes
// and pair_b64 query values.
func EncodeBase64URL(p Payload) (string, error) {
	b, err := marshalPayload(p)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
