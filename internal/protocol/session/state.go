package session

import (
	"errors"
	"fmt"
	"strings"
)

var ErrIncompleteState = errors.New("session: incomplete session state")

// State is the durable pairing session. Values are treated as immutable
// snapshots: transitions build a new State instead of editing one in place.
type State struct {
	Paired         bool
	RelayURL       string
	NodeDeviceID   string
	PairCode       string
	PSKB64         string
	ClientDeviceID string
	Seq            uint64
}

// Validate reports whether the state can resume a session. Pair code and PSK
// are single use and may be empty after a claim.
func (s State) Validate() error {
	if strings.TrimSpace(s.RelayURL) == "" {
		return fmt.Errorf("%w: missing relay_url", ErrIncompleteState)
	}
	if strings.TrimSpace(s.NodeDeviceID) == "" {
		return fmt.Errorf("%w: missing node_device_id", ErrIncompleteState)
	}
	if strings.TrimSpace(s.ClientDeviceID) == "" {
		return fmt.Errorf("%w: missing client_device_id", ErrIncompleteState)
	}
	return nil
}

// WithSeq returns a copy of s carrying seq.
func (s State) WithSeq(seq uint64) State {
	s.Seq = seq
	return s
}

// WithPaired returns a copy of s with the paired flag set to paired.
func (s State) WithPaired(paired bool) State {
	s.Paired = paired
	return s
}
