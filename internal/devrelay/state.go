package devrelay

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/danmuck/buslink/internal/protocol/envelope"
	"github.com/danmuck/buslink/internal/protocol/pairing"
	"github.com/danmuck/buslink/internal/relay"
)

var (
	ErrOfferNotFound  = errors.New("devrelay: pair code not found")
	ErrAlreadyClaimed = errors.New("devrelay: pair code already claimed")
	ErrPushDisabled   = errors.New("devrelay: push is not enabled")
)

// Offer is a pending pairing published by a node.
type Offer struct {
	Payload   pairing.Payload
	PairB64   string
	ExpiresAt time.Time
}

func offerKey(nodeDeviceID, pairCode string) string {
	return nodeDeviceID + "|" + pairCode
}

// Offer publishes a new single-use pair code for nodeDeviceID.
func (s *Server) Offer(nodeDeviceID, relayURL string) (Offer, error) {
	psk := make([]byte, 32)
	if _, err := rand.Read(psk); err != nil {
		return Offer{}, err
	}
	expires := time.Now().Add(s.opts.PairTTL)
	p := pairing.Payload{
		Version:      pairing.Version,
		RelayURL:     relayURL,
		NodeDeviceID: nodeDeviceID,
		PairCode:     strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
		PSKB64:       base64.StdEncoding.EncodeToString(psk),
		ExpiresAt:    expires.UnixMilli(),
	}
	return s.PublishOffer(p)
}

// PublishOffer makes a caller-built payload claimable until its expiry, or
// for PairTTL when it has none.
func (s *Server) PublishOffer(p pairing.Payload) (Offer, error) {
	if p.Version == 0 {
		p.Version = pairing.Version
	}
	ttl := cache.DefaultExpiration
	expires := time.Now().Add(s.opts.PairTTL)
	if p.ExpiresAt > 0 {
		expires = time.UnixMilli(p.ExpiresAt)
		ttl = time.Until(expires)
		if ttl <= 0 {
			return Offer{}, ErrOfferNotFound
		}
	}
	blob, err := pairing.EncodeBase64URL(p)
	if err != nil {
		return Offer{}, err
	}
	offer := Offer{Payload: p, PairB64: blob, ExpiresAt: expires}
	s.offers.Set(offerKey(p.NodeDeviceID, p.PairCode), offer, ttl)
	return offer, nil
}

// Claim redeems a pair code. A repeated claim by the same client succeeds.
func (s *Server) Claim(req relay.ClaimRequest) (Claim, error) {
	key := offerKey(req.NodeDeviceID, req.PairCode)
	s.mu.Lock()
	defer s.mu.Unlock()
	if prior, ok := s.claims[key]; ok {
		if prior.ClientDeviceID == req.ClientDeviceID {
			return prior, nil
		}
		return Claim{}, ErrAlreadyClaimed
	}
	if _, ok := s.offers.Get(key); !ok {
		return Claim{}, ErrOfferNotFound
	}
	s.offers.Delete(key)
	claim := Claim{
		NodeDeviceID:   req.NodeDeviceID,
		PairCode:       req.PairCode,
		ClientDeviceID: req.ClientDeviceID,
		ClaimedAt:      time.Now(),
	}
	s.claims[key] = claim
	return claim, nil
}

// Deliver appends env to its recipient's inbox, dropping the oldest entry
// when the inbox is full.
func (s *Server) Deliver(env envelope.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inbox := append(s.inboxes[env.ToDeviceID], env)
	if over := len(inbox) - s.opts.InboxLimit; over > 0 {
		inbox = inbox[over:]
	}
	s.inboxes[env.ToDeviceID] = inbox
}

// Drain removes and returns up to limit envelopes addressed to deviceID, in
// arrival order.
func (s *Server) Drain(deviceID string, limit int) []envelope.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	inbox := s.inboxes[deviceID]
	if limit > len(inbox) {
		limit = len(inbox)
	}
	out := append([]envelope.Envelope(nil), inbox[:limit]...)
	rest := inbox[limit:]
	if len(rest) == 0 {
		delete(s.inboxes, deviceID)
	} else {
		s.inboxes[deviceID] = append([]envelope.Envelope(nil), rest...)
	}
	return out
}

// Pending returns a copy of deviceID's inbox without draining it.
func (s *Server) Pending(deviceID string) []envelope.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]envelope.Envelope(nil), s.inboxes[deviceID]...)
}

func (s *Server) Subscribe(deviceID string, sub relay.PushSubscription) error {
	if !s.opts.PushEnabled {
		return ErrPushDisabled
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[deviceID] = sub
	return nil
}

func (s *Server) Subscription(deviceID string) (relay.PushSubscription, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[deviceID]
	return sub, ok
}

func (s *Server) Claims() []Claim {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Claim, 0, len(s.claims))
	for _, c := range s.claims {
		out = append(out, c)
	}
	return out
}
