package link

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/danmuck/buslink/internal/protocol/envelope"
	"github.com/danmuck/buslink/internal/protocol/session"
	"github.com/danmuck/buslink/internal/relay"
)

// fakeRelay is a scripted relay. Claim statuses are consumed in order; the
// last one repeats. Status 0 means success.
type fakeRelay struct {
	mu sync.Mutex

	claimStatuses []int
	claimErr      error
	claimBlock    chan struct{}
	claims        []relay.ClaimRequest

	pollResults [][]envelope.Envelope
	pollErr     error
	pollBlock   chan struct{}
	pollStarted chan struct{}
	pollFunc    func(ctx context.Context) ([]envelope.Envelope, error)
	polls       int

	sendErr error
	sent    []envelope.Envelope

	pushCfg      relay.PushConfig
	pushCfgErr   error
	pushCfgCalls int
	subscribeErr error
	subscribes   []relay.PushSubscribeRequest
}

func (f *fakeRelay) Claim(ctx context.Context, req relay.ClaimRequest) error {
	f.mu.Lock()
	f.claims = append(f.claims, req)
	n := len(f.claims)
	block := f.claimBlock
	err := f.claimErr
	status := 0
	if len(f.claimStatuses) > 0 {
		idx := n - 1
		if idx >= len(f.claimStatuses) {
			idx = len(f.claimStatuses) - 1
		}
		status = f.claimStatuses[idx]
	}
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}
	if status != 0 {
		return &relay.HTTPError{Op: relay.OpClaim, Status: status}
	}
	return nil
}

func (f *fakeRelay) Poll(ctx context.Context, toDeviceID string, limit int) ([]envelope.Envelope, error) {
	f.mu.Lock()
	f.polls++
	if fn := f.pollFunc; fn != nil {
		f.mu.Unlock()
		return fn(ctx)
	}
	block := f.pollBlock
	started := f.pollStarted
	var out []envelope.Envelope
	if len(f.pollResults) > 0 {
		out = f.pollResults[0]
		f.pollResults = f.pollResults[1:]
	}
	err := f.pollErr
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if block != nil {
		<-block
	}
	return out, err
}

func (f *fakeRelay) Send(ctx context.Context, env envelope.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, env)
	return nil
}

func (f *fakeRelay) PushConfig(ctx context.Context) (relay.PushConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushCfgCalls++
	return f.pushCfg, f.pushCfgErr
}

func (f *fakeRelay) PushSubscribe(ctx context.Context, req relay.PushSubscribeRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return f.subscribeErr
	}
	f.subscribes = append(f.subscribes, req)
	return nil
}

func (f *fakeRelay) claimCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.claims)
}

func (f *fakeRelay) pollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

func (f *fakeRelay) sentEnvelopes() []envelope.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]envelope.Envelope(nil), f.sent...)
}

func (f *fakeRelay) setSendErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

type recordingListener struct {
	mu       sync.Mutex
	messages []Message
	statuses map[StatusTopic][]string
	states   []State
	credReqs []error
}

func newRecordingListener() *recordingListener {
	return &recordingListener{statuses: make(map[StatusTopic][]string)}
}

func (r *recordingListener) OnMessage(msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
}

func (r *recordingListener) OnStatus(topic StatusTopic, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[topic] = append(r.statuses[topic], text)
}

func (r *recordingListener) OnStateChange(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recordingListener) OnCredentialRequired(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.credReqs = append(r.credReqs, err)
}

func (r *recordingListener) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

func (r *recordingListener) MessagesOf(kind MessageKind) []Message {
	var out []Message
	for _, m := range r.Messages() {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

func (r *recordingListener) Statuses(topic StatusTopic) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.statuses[topic]...)
}

func (r *recordingListener) States() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

func (r *recordingListener) CredentialRequests() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.credReqs)
}

// fakePlatform is a scriptable notification runtime.
type fakePlatform struct {
	mu sync.Mutex

	caps         Capabilities
	permission   Permission
	grantOnAsk   Permission
	requests     int
	regErr       error
	existing     *relay.PushSubscription
	subscribeErr error
	subscribed   [][]byte
}

func (p *fakePlatform) Capabilities() Capabilities { return p.caps }

func (p *fakePlatform) Permission() Permission {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.permission
}

func (p *fakePlatform) RequestPermission(ctx context.Context) (Permission, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests++
	p.permission = p.grantOnAsk
	return p.permission, nil
}

func (p *fakePlatform) EnsureRegistration(ctx context.Context) (Registration, error) {
	if p.regErr != nil {
		return nil, p.regErr
	}
	return fakeRegistration{p: p}, nil
}

type fakeRegistration struct{ p *fakePlatform }

func (r fakeRegistration) Subscription(ctx context.Context) (*relay.PushSubscription, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()
	if r.p.existing == nil {
		return nil, nil
	}
	sub := *r.p.existing
	return &sub, nil
}

func (r fakeRegistration) Subscribe(ctx context.Context, key []byte) (relay.PushSubscription, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()
	if r.p.subscribeErr != nil {
		return relay.PushSubscription{}, r.p.subscribeErr
	}
	r.p.subscribed = append(r.p.subscribed, key)
	sub := relay.PushSubscription{
		Endpoint: "https://push.example/sub-1",
		Keys:     relay.PushKeys{P256DH: "p256", Auth: "auth"},
	}
	r.p.existing = &sub
	return sub, nil
}

func fullCapabilities() Capabilities {
	return Capabilities{Notifications: true, PushManager: true, BackgroundWorker: true}
}

func pairedState() session.State {
	return session.State{
		Paired:         true,
		RelayURL:       "https://r.example",
		NodeDeviceID:   "node-1",
		PairCode:       "abc123",
		PSKB64:         "AA==",
		ClientDeviceID: "client-1",
	}
}

func fastClaimPolicy() session.RetryPolicy {
	p := session.DefaultClaimPolicy()
	p.Backoff.InitialDelay = time.Millisecond
	return p
}

var errTransport = errors.New("dial tcp: connection refused")

// eventually polls cond until it holds or the deadline passes.
func eventually(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func asClaimError(err error, target **ClaimError) bool {
	return errors.As(err, target)
}
