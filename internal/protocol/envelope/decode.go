package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
)

var ErrMalformed = errors.New("envelope: entry is not a JSON object")

// Unmarshal decodes one wire entry. Fields with the wrong JSON type are
// zeroed instead of failing the whole entry; repaired reports whether that
// happened. Only entries that are not JSON objects are rejected.
func Unmarshal(raw []byte) (env Envelope, repaired bool, err error) {
	if trimmed := bytes.TrimSpace(raw); len(trimmed) == 0 || trimmed[0] != '{' {
		return Envelope{}, false, ErrMalformed
	}
	if err := json.Unmarshal(raw, &env); err == nil {
		return env, false, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil || fields == nil {
		return Envelope{}, false, ErrMalformed
	}
	env = Envelope{
		Version:       int(intField(fields, "v")),
		MsgID:         strField(fields, "msg_id"),
		ConvID:        strField(fields, "conv_id"),
		FromDeviceID:  strField(fields, "from_device_id"),
		ToDeviceID:    strField(fields, "to_device_id"),
		Dir:           strField(fields, "dir"),
		CreatedMS:     intField(fields, "created_ms"),
		NonceB64:      strField(fields, "nonce_b64"),
		CiphertextB64: strField(fields, "ciphertext_b64"),
	}
	if seq := intField(fields, "seq"); seq > 0 {
		env.Seq = uint64(seq)
	}
	return env, true, nil
}

func strField(fields map[string]any, key string) string {
	s, _ := fields[key].(string)
	return s
}

// intField yields 0 for anything but an integral number that fits int64.
func intField(fields map[string]any, key string) int64 {
	n, ok := fields[key].(json.Number)
	if !ok {
		return 0
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0
	}
	return int64(f)
}
