package envelope

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	Version        = 1
	ConversationID = "demo"
	DirToLocal     = "to_local"
	// PlaceholderNonce fills nonce_b64 until envelopes carry real ciphertext.
	PlaceholderNonce = "AA=="
)

// Envelope is one relay message unit in either direction.
type Envelope struct {
	Version       int    `json:"v"`
	MsgID         string `json:"msg_id"`
	ConvID        string `json:"conv_id"`
	FromDeviceID  string `json:"from_device_id"`
	ToDeviceID    string `json:"to_device_id"`
	Dir           string `json:"dir"`
	Seq           uint64 `json:"seq"`
	CreatedMS     int64  `json:"created_ms"`
	NonceB64      string `json:"nonce_b64"`
	CiphertextB64 string `json:"ciphertext_b64"`
}

// New builds a client-originated envelope carrying text.
func New(from, to string, seq uint64, text string, now time.Time) Envelope {
	return Envelope{
		Version:       Version,
		MsgID:         uuid.NewString(),
		ConvID:        ConversationID,
		FromDeviceID:  from,
		ToDeviceID:    to,
		Dir:           DirToLocal,
		Seq:           seq,
		CreatedMS:     now.UnixMilli(),
		NonceB64:      PlaceholderNonce,
		CiphertextB64: Encode(text),
	}
}

// Validate checks the fields the relay requires on an outbound envelope.
func (e Envelope) Validate() error {
	if e.Version != Version {
		return fmt.Errorf("envelope unsupported version %d", e.Version)
	}
	if strings.TrimSpace(e.MsgID) == "" {
		return fmt.Errorf("envelope missing msg_id")
	}
	if strings.TrimSpace(e.FromDeviceID) == "" {
		return fmt.Errorf("envelope missing from_device_id")
	}
	if strings.TrimSpace(e.ToDeviceID) == "" {
		return fmt.Errorf("envelope missing to_device_id")
	}
	if e.Seq == 0 {
		return fmt.Errorf("envelope missing seq")
	}
	return nil
}

// Text decodes the ciphertext field, falling back to the placeholder.
func (e Envelope) Text() string {
	return Decode(e.CiphertextB64)
}
