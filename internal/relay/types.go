package relay

import "encoding/json"

const (
	PathClaim         = "/v1/pairing/claim"
	PathPoll          = "/v1/poll"
	PathEnvelopes     = "/v1/envelopes"
	PathPushConfig    = "/v1/push/config"
	PathPushSubscribe = "/v1/push/subscribe"
)

const (
	OpClaim         = "pairing claim"
	OpPoll          = "poll"
	OpSend          = "send"
	OpPushConfig    = "push config"
	OpPushSubscribe = "push subscribe"
)

type ClaimRequest struct {
	NodeDeviceID   string `json:"node_device_id" binding:"required"`
	PairCode       string `json:"pair_code" binding:"required"`
	ClientDeviceID string `json:"client_device_id" binding:"required"`
}

// PollResponse keeps entries raw so one malformed envelope cannot fail
// the whole batch.
type PollResponse struct {
	Envelopes []json.RawMessage `json:"envelopes"`
}

type PushConfig struct {
	Enabled        bool   `json:"enabled"`
	VAPIDPublicKey string `json:"vapid_public_key,omitempty"`
}

type PushKeys struct {
	P256DH string `json:"p256dh" binding:"required"`
	Auth   string `json:"auth" binding:"required"`
}

// PushSubscription is the platform subscription descriptor registered
// with the relay.
type PushSubscription struct {
	Endpoint       string   `json:"endpoint" binding:"required,url"`
	ExpirationTime *int64   `json:"expirationTime"`
	Keys           PushKeys `json:"keys"`
}

type PushSubscribeRequest struct {
	ToDeviceID   string           `json:"to_device_id" binding:"required"`
	Subscription PushSubscription `json:"subscription"`
}

type errorBody struct {
	Detail string `json:"detail"`
}
