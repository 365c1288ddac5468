package pairing

import (
	"encoding/base64"
	"errors"
	"math"
	"net/url"
	"testing"
	"time"

	"github.com/danmuck/buslink/internal/testutil/testlog"
)

const validJSON = `{"v":1,"relay_url":"https://r.example","node_device_id":"node-1","pair_code":"abc123","psk_b64":"AA=="}`

func wantPayload(t *testing.T, got Payload) {
	t.Helper()
	want := Payload{
		Version:      1,
		RelayURL:     "https://r.example",
		NodeDeviceID: "node-1",
		PairCode:     "abc123",
		PSKB64:       "AA==",
	}
	if got != want {
		t.Fatalf("payload mismatch: got %+v want %+v", got, want)
	}
}

func TestParseLiteralJSON(t *testing.T) {
	testlog.Start(t)
	got, err := Parse(validJSON)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	wantPayload(t, got)
}

func TestParseTrimsRequiredFields(t *testing.T) {
	testlog.Start(t)
	got, err := Parse(`{"v":1,"relay_url":"  https://r.example ","node_device_id":"\tnode-1","pair_code":"abc123  ","psk_b64":" AA== "}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	wantPayload(t, got)
}

func TestParseVersionMismatchIsUnsupported(t *testing.T) {
	testlog.Start(t)
	cases := []string{
		`{"v":2,"relay_url":"https://r.example","node_device_id":"node-1","pair_code":"abc123","psk_b64":"AA=="}`,
		`{"v":0,"relay_url":"https://r.example","node_device_id":"node-1","pair_code":"abc123","psk_b64":"AA=="}`,
		`{"v":"1","relay_url":"https://r.example","node_device_id":"node-1","pair_code":"abc123","psk_b64":"AA=="}`,
		`{"relay_url":"https://r.example","node_device_id":"node-1","pair_code":"abc123","psk_b64":"AA=="}`,
		`{"v":2}`,
	}
	for _, tc := range cases {
		_, err := Parse(tc)
		if !errors.Is(err, ErrUnsupportedVersion) {
			t.Fatalf("parse %s: expected ErrUnsupportedVersion, got %v", tc, err)
		}
		if errors.Is(err, ErrIncompletePayload) {
			t.Fatalf("parse %s: version error must not be incomplete", tc)
		}
		if !IsValidation(err) {
			t.Fatalf("parse %s: expected validation class", tc)
		}
	}
}

func TestParseIncompletePayload(t *testing.T) {
	testlog.Start(t)
	cases := []string{
		`{"v":1,"relay_url":"https://r.example","node_device_id":"node-1","pair_code":"abc123"}`,
		`{"v":1,"relay_url":"   ","node_device_id":"node-1","pair_code":"abc123","psk_b64":"AA=="}`,
		`{"v":1,"relay_url":"https://r.example","node_device_id":"","pair_code":"abc123","psk_b64":"AA=="}`,
		`{"v":1}`,
	}
	for _, tc := range cases {
		_, err := Parse(tc)
		if !errors.Is(err, ErrIncompletePayload) {
			t.Fatalf("parse %s: expected ErrIncompletePayload, got %v", tc, err)
		}
	}
}

func TestParseExpiresAt(t *testing.T) {
	testlog.Start(t)
	got, err := Parse(`{"v":1,"relay_url":"https://r.example","node_device_id":"node-1","pair_code":"abc123","psk_b64":"AA==","expires_at":1700000000000}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.ExpiresAt != 1700000000000 {
		t.Fatalf("expires_at mismatch: %d", got.ExpiresAt)
	}
	if !got.Expired(time.UnixMilli(1700000000001)) {
		t.Fatalf("expected expired after deadline")
	}
	if got.Expired(time.UnixMilli(1699999999999)) {
		t.Fatalf("expected valid before deadline")
	}
	if (Payload{}).Expired(time.Now()) {
		t.Fatalf("payload without expiry never expires")
	}
}

func TestParseExpiresAtOutOfRange(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		raw  string
		want int64
	}{
		{"1e300", math.MaxInt64},
		{"9223372036854775808", math.MaxInt64},
		{"-5", 0},
		{"\"soon\"", 0},
	}
	for _, tc := range cases {
		got, err := Parse(`{"v":1,"relay_url":"https://r.example","node_device_id":"node-1","pair_code":"abc123","psk_b64":"AA==","expires_at":` + tc.raw + `}`)
		if err != nil {
			t.Fatalf("expires_at %s: parse: %v", tc.raw, err)
		}
		if got.ExpiresAt != tc.want {
			t.Fatalf("expires_at %s: got %d want %d", tc.raw, got.ExpiresAt, tc.want)
		}
		if got.Expired(time.Now()) {
			t.Fatalf("expires_at %s: unexpectedly expired", tc.raw)
		}
	}
}

func TestParseURLPairB64(t *testing.T) {
	testlog.Start(t)
	blob := base64.RawURLEncoding.EncodeToString([]byte(validJSON))
	got, err := Parse("https://app.example/pair?pair_b64=" + blob)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	wantPayload(t, got)
}

func TestParseURLPairPayload(t *testing.T) {
	testlog.Start(t)
	got, err := Parse("https://app.example/?pair_payload=" + url.QueryEscape(validJSON))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	wantPayload(t, got)
}

func TestParseURLRelayFallbackFillsOnlyMissing(t *testing.T) {
	testlog.Start(t)
	noRelay := `{"v":1,"node_device_id":"node-1","pair_code":"abc123","psk_b64":"AA=="}`
	link := "https://app.example/?pair_payload=" + url.QueryEscape(noRelay) +
		"&relay_url=" + url.QueryEscape("https://r.example")
	got, err := Parse(link)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	wantPayload(t, got)

	override := "https://app.example/?pair_payload=" + url.QueryEscape(validJSON) +
		"&relay_url=" + url.QueryEscape("https://other.example")
	got, err = Parse(override)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.RelayURL != "https://r.example" {
		t.Fatalf("relay fallback must not replace present address, got %q", got.RelayURL)
	}
}

func TestParseURLWithUnsupportedVersion(t *testing.T) {
	testlog.Start(t)
	blob := base64.RawURLEncoding.EncodeToString([]byte(`{"v":2,"relay_url":"https://r.example","node_device_id":"node-1","pair_code":"abc123","psk_b64":"AA=="}`))
	_, err := Parse("https://app.example/?pair_b64=" + blob)
	if !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}
}

func TestParseBareBase64URL(t *testing.T) {
	testlog.Start(t)
	for _, blob := range []string{
		base64.RawURLEncoding.EncodeToString([]byte(validJSON)),
		base64.URLEncoding.EncodeToString([]byte(validJSON)),
		base64.StdEncoding.EncodeToString([]byte(validJSON)),
	} {
		got, err := Parse(blob)
		if err != nil {
			t.Fatalf("parse %q: %v", blob, err)
		}
		wantPayload(t, got)
	}
}

func TestParseEncodeBase64URLRoundTrip(t *testing.T) {
	testlog.Start(t)
	in := Payload{
		RelayURL:     "https://r.example",
		NodeDeviceID: "node-1",
		PairCode:     "abc123",
		PSKB64:       "AA==",
	}
	blob, err := EncodeBase64URL(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Parse(blob)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	wantPayload(t, got)
}

func TestParseUnrecognized(t *testing.T) {
	testlog.Start(t)
	for _, in := range []string{"hello world", "https://app.example/?foo=bar", "!!!", "[1,2,3]"} {
		_, err := Parse(in)
		if !errors.Is(err, ErrUnrecognizedFormat) {
			t.Fatalf("parse %q: expected ErrUnrecognizedFormat, got %v", in, err)
		}
	}
}

func TestParseMissingAndMalformed(t *testing.T) {
	testlog.Start(t)
	if _, err := Parse("   "); !errors.Is(err, ErrMissingPayload) {
		t.Fatalf("expected ErrMissingPayload, got %v", err)
	}
	if _, err := Parse(`{"v":1,`); !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("expected ErrMalformedPayload, got %v", err)
	}
}

func TestParseTraceReportsCarriers(t *testing.T) {
	testlog.Start(t)
	blob := base64.RawURLEncoding.EncodeToString([]byte(validJSON))
	attempts, _, err := ParseTrace(blob)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(attempts) != 3 {
		t.Fatalf("expected three attempts, got %d", len(attempts))
	}
	if attempts[0].OK() || attempts[1].OK() || !attempts[2].OK() {
		t.Fatalf("unexpected attempt results: %+v", attempts)
	}
	if attempts[2].Carrier != CarrierBase64URL {
		t.Fatalf("expected base64url carrier, got %s", attempts[2].Carrier)
	}

	attempts, _, err = ParseTrace(validJSON)
	if err != nil || len(attempts) != 1 || attempts[0].Carrier != CarrierJSON {
		t.Fatalf("literal json should stop at first carrier: %+v err=%v", attempts, err)
	}
}

func TestFromQuery(t *testing.T) {
	testlog.Start(t)
	blob := base64.RawURLEncoding.EncodeToString([]byte(validJSON))
	got, ok, err := FromQuery("?pair_b64=" + blob)
	if err != nil || !ok {
		t.Fatalf("from query: ok=%v err=%v", ok, err)
	}
	wantPayload(t, got)

	_, ok, err = FromQuery("?utm_source=qr")
	if ok || err != nil {
		t.Fatalf("query without credential: ok=%v err=%v", ok, err)
	}

	_, ok, err = FromQuery("pair_payload=" + url.QueryEscape(`{"v":3}`))
	if !ok || !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("expected recognized unsupported version, ok=%v err=%v", ok, err)
	}
}

func TestNormalizeMissingRaw(t *testing.T) {
	testlog.Start(t)
	if _, err := Normalize(nil); !errors.Is(err, ErrMissingPayload) {
		t.Fatalf("expected ErrMissingPayload, got %v", err)
	}
	got, err := Normalize(Raw{"v": 1, "relay_url": "https://r.example", "node_device_id": "node-1", "pair_code": "abc123", "psk_b64": "AA=="})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	wantPayload(t, got)
}
