package pairing

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const Version = 1

var (
	ErrMissingPayload      = errors.New("pairing: missing pairing payload")
	ErrMalformedPayload    = errors.New("pairing: malformed pairing payload")
	ErrUnsupportedVersion  = errors.New("pairing: unsupported pairing payload version")
	ErrIncompletePayload   = errors.New("pairing: incomplete pairing payload")
	ErrUnrecognizedFormat  = errors.New("pairing: pairing credential format not recognized")
	validationErrorClasses = []error{
		ErrMissingPayload,
		ErrMalformedPayload,
		ErrUnsupportedVersion,
		ErrIncompletePayload,
		ErrUnrecognizedFormat,
	}
)

// IsValidation reports whether err rejects a pairing credential.
func IsValidation(err error) bool {
	for _, class := range validationErrorClasses {
		if errors.Is(err, class) {
			return true
		}
	}
	return false
}

// Payload is the canonical pairing credential.
type Payload struct {
	Version      int    `json:"v"`
	RelayURL     string `json:"relay_url"`
	NodeDeviceID string `json:"node_device_id"`
	PairCode     string `json:"pair_code"`
	PSKB64       string `json:"psk_b64"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
}

// Expired reports whether the credential carries an expiry before now.
func (p Payload) Expired(now time.Time) bool {
	return p.ExpiresAt > 0 && now.UnixMilli() > p.ExpiresAt
}

// Raw is an undecoded credential object. Values keep their JSON types so
// version checks can tell 1 from "1".
type Raw map[string]any

// DecodeRaw parses one JSON object.
func DecodeRaw(data []byte) (Raw, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw Raw
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data", ErrMalformedPayload)
	}
	if raw == nil {
		return nil, ErrMissingPayload
	}
	return raw, nil
}

// Normalize validates raw and returns the canonical payload.
func Normalize(raw Raw) (Payload, error) {
	if raw == nil {
		return Payload{}, ErrMissingPayload
	}
	if !isVersionOne(raw["v"]) {
		return Payload{}, fmt.Errorf("%w: %v", ErrUnsupportedVersion, raw["v"])
	}
	p := Payload{
		Version:      Version,
		RelayURL:     stringField(raw, "relay_url"),
		NodeDeviceID: stringField(raw, "node_device_id"),
		PairCode:     stringField(raw, "pair_code"),
		PSKB64:       stringField(raw, "psk_b64"),
		ExpiresAt:    int64Field(raw, "expires_at"),
	}
	var missing []string
	if p.RelayURL == "" {
		missing = append(missing, "relay_url")
	}
	if p.NodeDeviceID == "" {
		missing = append(missing, "node_device_id")
	}
	if p.PairCode == "" {
		missing = append(missing, "pair_code")
	}
	if p.PSKB64 == "" {
		missing = append(missing, "psk_b64")
	}
	if len(missing) > 0 {
		return Payload{}, fmt.Errorf("%w: missing %s", ErrIncompletePayload, strings.Join(missing, ", "))
	}
	return p, nil
}

func isVersionOne(v any) bool {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return err == nil && f == Version
	case float64:
		return n == Version
	case int:
		return n == Version
	default:
		return false
	}
}

func marshalPayload(p Payload) ([]byte, error) {
	if p.Version == 0 {
		p.Version = Version
	}
	return json.Marshal(p)
}

func stringField(raw Raw, key string) string {
	switch v := raw[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return strings.TrimSpace(v.String())
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func int64Field(raw Raw, key string) int64 {
	var f float64
	switch v := raw[key].(type) {
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0
		}
		f = parsed
	case float64:
		f = v
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}
	if math.IsNaN(f) || f <= 0 {
		return 0
	}
	if f >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(f)
}

// applyRelayFallback fills a missing or empty relay_url from fallback.
func applyRelayFallback(raw Raw, fallback string) {
	if fallback == "" {
		return
	}
	if v, ok := raw["relay_url"].(string); ok && v != "" {
		return
	}
	raw["relay_url"] = fallback
}
