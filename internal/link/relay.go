package link

import (
	"context"

	"github.com/danmuck/buslink/internal/protocol/envelope"
	"github.com/danmuck/buslink/internal/protocol/session"
	"github.com/danmuck/buslink/internal/relay"
)

type Claimer interface {
	Claim(ctx context.Context, req relay.ClaimRequest) error
}

type Poller interface {
	Poll(ctx context.Context, toDeviceID string, limit int) ([]envelope.Envelope, error)
}

type PushRelay interface {
	PushConfig(ctx context.Context) (relay.PushConfig, error)
	PushSubscribe(ctx context.Context, req relay.PushSubscribeRequest) error
}

// Relay is the relay surface the engine drives. *relay.Client implements it.
type Relay interface {
	Claimer
	Poller
	PushRelay
	Send(ctx context.Context, env envelope.Envelope) error
}

// Dialer returns a Relay for one relay base URL.
type Dialer func(relayURL string) (Relay, error)

// ConfigDialer dials HTTP relays with cfg's transport settings.
func ConfigDialer(cfg session.Config) Dialer {
	return func(relayURL string) (Relay, error) {
		return relay.NewFromConfig(relayURL, cfg)
	}
}

// Store persists the device id and the claimed session.
type Store interface {
	Load() (session.State, bool, error)
	Save(st session.State) error
	SaveSeq(seq uint64) error
	ClientDeviceID() (string, error)
}

var _ Relay = (*relay.Client)(nil)
