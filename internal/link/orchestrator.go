package link

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/buslink/internal/observability"
	"github.com/danmuck/buslink/internal/protocol/envelope"
	"github.com/danmuck/buslink/internal/protocol/pairing"
	"github.com/danmuck/buslink/internal/protocol/session"
	"github.com/danmuck/buslink/internal/relay"
	"github.com/danmuck/buslink/internal/store"
)

var (
	ErrNotConnected      = errors.New("link: not connected")
	ErrConnectInProgress = errors.New("link: connect already in progress")
	ErrNoDeviceID        = errors.New("link: client device id unavailable")
	ErrClosed            = errors.New("link: orchestrator closed")
)

// State is the connection lifecycle position.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateClaiming
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateClaiming:
		return "claiming"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type Options struct {
	Config   session.Config
	Store    Store
	Dialer   Dialer
	Listener Listener
	Platform Platform
	Now      func() time.Time
}

// Orchestrator owns the session lifecycle: connect or resume, poll, send,
// push reconciliation and disconnect.
type Orchestrator struct {
	cfg      session.Config
	store    Store
	dial     Dialer
	listener Listener
	push     *PushReconciler
	now      func() time.Time

	state      atomic.Int32
	connecting atomic.Bool
	snapshot   atomic.Pointer[session.State]

	mu    sync.Mutex
	relay Relay
	poll  *PollLoop

	// pollSlot is shared by every PollLoop this orchestrator starts.
	pollSlot atomic.Bool

	sendMu sync.Mutex
	outbox *session.SendOutbox

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(opts Options) *Orchestrator {
	cfg := opts.Config.WithDefaults()
	listener := opts.Listener
	if listener == nil {
		listener = NopListener{}
	}
	dial := opts.Dialer
	if dial == nil {
		dial = ConfigDialer(cfg)
	}
	st := opts.Store
	if st == nil {
		st = store.NewMemoryStore()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:      cfg,
		store:    st,
		dial:     dial,
		listener: listener,
		push:     NewPushReconciler(opts.Platform, listener),
		now:      now,
		outbox:   session.NewSendOutbox(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// Session returns the active session snapshot.
func (o *Orchestrator) Session() (session.State, bool) {
	st := o.snapshot.Load()
	if st == nil {
		return session.State{}, false
	}
	return *st, true
}

func (o *Orchestrator) Polling() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.poll != nil && o.poll.Running()
}

// PendingSends returns messages the relay has not accepted, oldest first.
func (o *Orchestrator) PendingSends() []session.PendingSend {
	return o.outbox.List()
}

func (o *Orchestrator) setState(s State) {
	if State(o.state.Swap(int32(s))) == s {
		return
	}
	log.Debug().Str("state", s.String()).Msg("link.Orchestrator state")
	o.listener.OnStateChange(s)
}

func (o *Orchestrator) status(topic StatusTopic, text string) {
	o.listener.OnStatus(topic, text)
}

func (o *Orchestrator) system(text string) {
	o.listener.OnMessage(systemMessage(text))
}

// ConnectCredential parses raw and connects with it. A credential that
// fails validation changes nothing and makes no network call.
func (o *Orchestrator) ConnectCredential(ctx context.Context, raw string) error {
	p, err := pairing.Parse(raw)
	if err != nil {
		log.Warn().Err(err).Msg("link.Orchestrator.ConnectCredential invalid credential")
		o.status(TopicPairing, "Invalid pairing credential: "+err.Error())
		o.listener.OnCredentialRequired(err)
		return err
	}
	return o.Connect(ctx, p)
}

// Connect claims p on its relay and, on success, persists and activates the
// session. Any active session is stopped first.
func (o *Orchestrator) Connect(ctx context.Context, p pairing.Payload) error {
	if o.ctx.Err() != nil {
		return ErrClosed
	}
	if !o.connecting.CompareAndSwap(false, true) {
		return ErrConnectInProgress
	}
	defer o.connecting.Store(false)

	if p.Expired(o.now()) {
		log.Warn().
			Str("node_device_id", p.NodeDeviceID).
			Int64("expires_at", p.ExpiresAt).
			Msg("link.Orchestrator.Connect credential expired, claiming anyway")
	}

	prevSeq := o.carriedSeq()
	o.deactivate()
	o.setState(StateConnecting)

	clientID, err := o.store.ClientDeviceID()
	if err != nil {
		log.Warn().Err(err).Msg("link.Orchestrator.Connect device id not persisted")
	}
	if strings.TrimSpace(clientID) == "" {
		return o.connectFailed(ErrNoDeviceID)
	}
	if prevSeq.clientID != clientID {
		prevSeq.seq = 0
	}

	rl, err := o.dial(p.RelayURL)
	if err != nil {
		return o.connectFailed(err)
	}

	o.setState(StateClaiming)
	o.status(TopicPairing, "Claiming pairing...")
	req := relay.ClaimRequest{
		NodeDeviceID:   p.NodeDeviceID,
		PairCode:       p.PairCode,
		ClientDeviceID: clientID,
	}
	if err := Claim(ctx, rl, req, o.cfg.Claim); err != nil {
		return o.connectFailed(err)
	}

	st := session.State{
		Paired:         true,
		RelayURL:       p.RelayURL,
		NodeDeviceID:   p.NodeDeviceID,
		PairCode:       p.PairCode,
		PSKB64:         p.PSKB64,
		ClientDeviceID: clientID,
		Seq:            prevSeq.seq,
	}
	if err := o.store.Save(st); err != nil {
		log.Warn().Err(err).Msg("link.Orchestrator.Connect session not persisted")
	}
	o.activate(st, rl)
	o.status(TopicPairing, "Connected.")
	o.system("Connected to " + st.NodeDeviceID)
	log.Info().
		Str("relay_url", st.RelayURL).
		Str("node_device_id", st.NodeDeviceID).
		Str("client_device_id", st.ClientDeviceID).
		Msg("link.Orchestrator.Connect connected")
	return nil
}

type carried struct {
	clientID string
	seq      uint64
}

// carriedSeq returns the sequence counter a new claim continues from, so
// the same client never reuses a sequence number across pairings.
func (o *Orchestrator) carriedSeq() carried {
	if st := o.snapshot.Load(); st != nil {
		return carried{clientID: st.ClientDeviceID, seq: st.Seq}
	}
	st, ok, _ := o.store.Load()
	if !ok {
		return carried{}
	}
	return carried{clientID: st.ClientDeviceID, seq: st.Seq}
}

func (o *Orchestrator) connectFailed(err error) error {
	o.setState(StateIdle)
	o.status(TopicPairing, "Connection failed: "+err.Error())
	o.system("Connection failed: " + err.Error())
	o.listener.OnCredentialRequired(err)
	return err
}

// Resume restores the persisted session without claiming. ok is false when
// there is no usable saved session.
func (o *Orchestrator) Resume(ctx context.Context) (bool, error) {
	if o.ctx.Err() != nil {
		return false, ErrClosed
	}
	st, ok, err := o.store.Load()
	if err != nil {
		log.Warn().Err(err).Msg("link.Orchestrator.Resume saved session unusable")
	}
	if !ok {
		return false, nil
	}
	if !o.connecting.CompareAndSwap(false, true) {
		return false, ErrConnectInProgress
	}
	defer o.connecting.Store(false)

	o.deactivate()
	o.setState(StateConnecting)
	rl, err := o.dial(st.RelayURL)
	if err != nil {
		o.setState(StateIdle)
		o.status(TopicPairing, "Restore failed: "+err.Error())
		return false, err
	}
	o.activate(st.WithPaired(true), rl)
	o.status(TopicPairing, "Restored previous session.")
	o.system("Restored session for " + st.NodeDeviceID)
	log.Info().
		Str("relay_url", st.RelayURL).
		Str("node_device_id", st.NodeDeviceID).
		Uint64("seq", st.Seq).
		Msg("link.Orchestrator.Resume restored")
	return true, nil
}

func (o *Orchestrator) activate(st session.State, rl Relay) {
	poll := NewPollLoop(rl, o.Session, o.listener, o.cfg.PollLimit, WithInFlightSlot(&o.pollSlot))

	o.mu.Lock()
	o.relay = rl
	o.poll = poll
	o.snapshot.Store(&st)
	o.mu.Unlock()

	o.setState(StateConnected)
	poll.Start(o.ctx, o.cfg.PollInterval)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		outcome, err := o.SyncPush(o.ctx, false)
		log.Debug().Str("outcome", string(outcome)).Err(err).Msg("link.Orchestrator push pass")
	}()
}

// deactivate stops polling and marks the active session unpaired so any
// in-flight poll result is discarded.
func (o *Orchestrator) deactivate() {
	o.mu.Lock()
	poll := o.poll
	o.poll = nil
	o.relay = nil
	if st := o.snapshot.Load(); st != nil && st.Paired {
		next := st.WithPaired(false)
		o.snapshot.Store(&next)
	}
	o.mu.Unlock()
	if poll != nil {
		poll.Stop()
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			poll.Wait()
		}()
	}
}

// active returns the relay and snapshot of the connected session.
func (o *Orchestrator) active() (Relay, *session.State, bool) {
	o.mu.Lock()
	rl := o.relay
	o.mu.Unlock()
	st := o.snapshot.Load()
	if st == nil || !st.Paired || rl == nil || o.State() != StateConnected {
		return nil, nil, false
	}
	return rl, st, true
}

// Send posts text to the peer. Whitespace-only text is ignored. The
// sequence counter advances only when the relay accepts the envelope; a
// rejected message stays in PendingSends until RetryPending delivers it.
func (o *Orchestrator) Send(ctx context.Context, text string) error {
	o.sendMu.Lock()
	defer o.sendMu.Unlock()

	rl, st, ok := o.active()
	if !ok {
		o.system("Not connected yet.")
		return ErrNotConnected
	}
	body := strings.TrimSpace(text)
	if body == "" {
		return nil
	}

	env := envelope.New(st.ClientDeviceID, st.NodeDeviceID, st.Seq+1, body, o.now())
	o.outbox.Upsert(session.PendingSend{
		MsgID:      env.MsgID,
		Text:       body,
		ToDeviceID: env.ToDeviceID,
		Seq:        env.Seq,
		QueuedAt:   o.now(),
	})
	return o.deliver(ctx, rl, *st, env, body)
}

// RetryPending resends queued messages oldest first under fresh sequence
// numbers and stops at the first failure. Messages queued for another node
// are dropped. It returns how many were delivered.
func (o *Orchestrator) RetryPending(ctx context.Context) (int, error) {
	o.sendMu.Lock()
	defer o.sendMu.Unlock()

	delivered := 0
	for _, item := range o.outbox.List() {
		rl, st, ok := o.active()
		if !ok {
			o.system("Not connected yet.")
			return delivered, ErrNotConnected
		}
		if item.ToDeviceID != st.NodeDeviceID {
			log.Info().Str("msg_id", item.MsgID).Str("to_device_id", item.ToDeviceID).Msg("link.Orchestrator.RetryPending dropped send for previous node")
			o.outbox.Remove(item.MsgID)
			continue
		}
		env := envelope.New(st.ClientDeviceID, st.NodeDeviceID, st.Seq+1, item.Text, o.now())
		env.MsgID = item.MsgID
		item.Seq = env.Seq
		o.outbox.Upsert(item)
		if err := o.deliver(ctx, rl, *st, env, item.Text); err != nil {
			return delivered, err
		}
		delivered++
	}
	return delivered, nil
}

// deliver posts env and settles its outbox entry. Called with sendMu held.
func (o *Orchestrator) deliver(ctx context.Context, rl Relay, st session.State, env envelope.Envelope, body string) error {
	err := rl.Send(ctx, env)
	o.outbox.MarkAttempt(env.MsgID, o.now(), errString(err))
	observability.RecordSend(err == nil)
	if err != nil {
		log.Warn().Str("msg_id", env.MsgID).Uint64("seq", env.Seq).Err(err).Msg("link.Orchestrator.Send failed")
		o.system("Send failed: " + err.Error())
		return err
	}
	o.outbox.Remove(env.MsgID)

	o.commitSeq(st, env.Seq)
	o.listener.OnMessage(messageFromEnvelope(KindSelf, st.ClientDeviceID, body, env))
	if err := o.store.SaveSeq(env.Seq); err != nil {
		log.Warn().Err(err).Uint64("seq", env.Seq).Msg("link.Orchestrator.Send seq not persisted")
	}
	return nil
}

// commitSeq advances the counter of the session sent on, if it is still the
// active one.
func (o *Orchestrator) commitSeq(sent session.State, seq uint64) {
	for {
		cur := o.snapshot.Load()
		if cur == nil || !sameSession(*cur, sent) || cur.Seq >= seq {
			return
		}
		next := cur.WithSeq(seq)
		if o.snapshot.CompareAndSwap(cur, &next) {
			return
		}
	}
}

// EnablePush runs an interactive push reconciliation.
func (o *Orchestrator) EnablePush(ctx context.Context) (PushOutcome, error) {
	return o.SyncPush(ctx, true)
}

func (o *Orchestrator) SyncPush(ctx context.Context, interactive bool) (PushOutcome, error) {
	o.mu.Lock()
	rl := o.relay
	o.mu.Unlock()
	target := PushTarget{}
	if st, ok := o.Session(); ok {
		target.State = st
	}
	if rl != nil {
		target.Relay = rl
	}
	return o.push.Sync(ctx, target, interactive)
}

// Disconnect stops polling and returns to idle. The persisted session is
// kept so a later Resume can restore it.
func (o *Orchestrator) Disconnect() {
	wasConnected := o.State() == StateConnected
	o.deactivate()
	o.setState(StateIdle)
	if wasConnected {
		o.status(TopicConnection, "Disconnected.")
		log.Info().Msg("link.Orchestrator.Disconnect")
	}
}

// Close disconnects and waits for background work to finish.
func (o *Orchestrator) Close() {
	o.Disconnect()
	o.cancel()
	o.wg.Wait()
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
