package link

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/buslink/internal/observability"
	"github.com/danmuck/buslink/internal/protocol/envelope"
	"github.com/danmuck/buslink/internal/protocol/session"
)

// SessionFunc returns the current session snapshot. ok is false when no
// session is active.
type SessionFunc func() (st session.State, ok bool)

// PollLoop fetches the client's inbox on an interval with at most one
// request outstanding. Ticks that find the slot occupied are dropped.
type PollLoop struct {
	poller  Poller
	current SessionFunc
	sink    Listener
	limit   int

	inFlight *atomic.Bool

	// epoch changes on every Start and Stop. A fetch whose epoch is stale
	// by the time it returns belongs to a stopped run and is discarded.
	epoch atomic.Uint64

	mu   sync.Mutex
	stop chan struct{}
	wg   sync.WaitGroup
}

type PollOption func(*PollLoop)

// WithInFlightSlot shares the outstanding-request slot between loops, so a
// replacement loop cannot fetch while its predecessor's request is open.
func WithInFlightSlot(slot *atomic.Bool) PollOption {
	return func(l *PollLoop) {
		if slot != nil {
			l.inFlight = slot
		}
	}
}

func NewPollLoop(p Poller, current SessionFunc, sink Listener, limit int, opts ...PollOption) *PollLoop {
	if sink == nil {
		sink = NopListener{}
	}
	if limit <= 0 {
		limit = session.DefaultConfig().PollLimit
	}
	l := &PollLoop{
		poller:   p,
		current:  current,
		sink:     sink,
		limit:    limit,
		inFlight: new(atomic.Bool),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start ticks immediately and then every interval until Stop. A running
// loop is restarted. ctx bounds the fetches themselves; Stop does not
// cancel a fetch already issued.
func (l *PollLoop) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = session.DefaultConfig().PollInterval
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stop != nil {
		close(l.stop)
	}
	l.epoch.Add(1)
	stop := make(chan struct{})
	l.stop = stop

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		l.spawnTick(ctx)
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.spawnTick(ctx)
			}
		}
	}()
	log.Debug().Dur("interval", interval).Msg("link.PollLoop.Start")
}

func (l *PollLoop) spawnTick(ctx context.Context) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.Tick(ctx)
	}()
}

// Stop halts future ticks. It is safe to call on a stopped loop.
func (l *PollLoop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stop == nil {
		return
	}
	close(l.stop)
	l.stop = nil
	l.epoch.Add(1)
	log.Debug().Msg("link.PollLoop.Stop")
}

func (l *PollLoop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stop != nil
}

// Wait blocks until the ticker goroutine and every spawned tick have
// returned. Call it after Stop.
func (l *PollLoop) Wait() {
	l.wg.Wait()
}

// Tick runs one poll. It reports whether a fetch was issued; false means the
// session is not paired or another fetch still holds the slot. Results are
// dropped if the session changed or the loop was stopped or restarted
// while the fetch was open.
func (l *PollLoop) Tick(ctx context.Context) bool {
	st, ok := l.current()
	if !ok || !st.Paired {
		return false
	}
	if !l.inFlight.CompareAndSwap(false, true) {
		return false
	}
	defer l.inFlight.Store(false)

	epoch := l.epoch.Load()
	envs, err := l.poller.Poll(ctx, st.ClientDeviceID, l.limit)

	now, ok := l.current()
	if !ok || !now.Paired || !sameSession(now, st) || l.epoch.Load() != epoch {
		log.Debug().Int("envelopes", len(envs)).Msg("link.PollLoop.Tick discarded result for inactive session")
		return true
	}
	if err != nil {
		log.Warn().Err(err).Msg("link.PollLoop.Tick poll failed")
		l.sink.OnStatus(TopicPoll, "Polling error: "+err.Error())
		return true
	}
	for _, env := range envs {
		l.sink.OnMessage(classify(env, st.ClientDeviceID))
	}
	return true
}

func classify(env envelope.Envelope, clientDeviceID string) Message {
	text, err := envelope.DecodeStrict(env.CiphertextB64)
	if err != nil {
		text = envelope.Placeholder
		observability.RecordUndecodableEnvelope()
		log.Debug().Str("msg_id", env.MsgID).Err(err).Msg("link.PollLoop undecodable envelope")
	}
	from := strings.TrimSpace(env.FromDeviceID)
	if from == "" {
		from = UnknownSender
	}
	kind := KindRemote
	if from == clientDeviceID {
		kind = KindSelf
	}
	observability.RecordPolledEnvelope(string(kind))
	return messageFromEnvelope(kind, from, text, env)
}

// sameSession reports whether a and b describe the same pairing.
func sameSession(a, b session.State) bool {
	return a.RelayURL == b.RelayURL &&
		a.NodeDeviceID == b.NodeDeviceID &&
		a.ClientDeviceID == b.ClientDeviceID
}
