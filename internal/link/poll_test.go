package link

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/buslink/internal/protocol/envelope"
	"github.com/danmuck/buslink/internal/protocol/session"
	"github.com/danmuck/buslink/internal/testutil/testlog"
)

type sessionBox struct {
	mu sync.Mutex
	st session.State
	ok bool
}

func newSessionBox(st session.State) *sessionBox {
	return &sessionBox{st: st, ok: true}
}

func (b *sessionBox) get() (session.State, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.st, b.ok
}

func (b *sessionBox) setPaired(paired bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.st.Paired = paired
}

func inbound(msgID, from, text string) envelope.Envelope {
	return envelope.Envelope{
		Version:       envelope.Version,
		MsgID:         msgID,
		FromDeviceID:  from,
		ToDeviceID:    "client-1",
		Seq:           1,
		CiphertextB64: envelope.Encode(text),
	}
}

func TestPollTickClassifiesInRelayOrder(t *testing.T) {
	testlog.Start(t)
	bad := inbound("m4", "node-1", "")
	bad.CiphertextB64 = "%%%"
	f := &fakeRelay{pollResults: [][]envelope.Envelope{{
		inbound("m1", "node-1", "hello"),
		inbound("m2", "client-1", "echo"),
		inbound("m3", "", "anon"),
		bad,
	}}}
	rec := newRecordingListener()
	loop := NewPollLoop(f, newSessionBox(pairedState()).get, rec, 50)

	if !loop.Tick(context.Background()) {
		t.Fatalf("expected tick to fetch")
	}
	msgs := rec.Messages()
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %+v", msgs)
	}
	want := []struct {
		id   string
		kind MessageKind
		from string
		text string
	}{
		{"m1", KindRemote, "node-1", "hello"},
		{"m2", KindSelf, "client-1", "echo"},
		{"m3", KindRemote, UnknownSender, "anon"},
		{"m4", KindRemote, "node-1", envelope.Placeholder},
	}
	for i, w := range want {
		m := msgs[i]
		if m.MsgID != w.id || m.Kind != w.kind || m.From != w.from || m.Text != w.text {
			t.Fatalf("message %d mismatch: got %+v want %+v", i, m, w)
		}
	}
}

func TestPollTickSkipsWhenNotPaired(t *testing.T) {
	testlog.Start(t)
	f := &fakeRelay{}
	box := newSessionBox(pairedState())
	box.setPaired(false)
	loop := NewPollLoop(f, box.get, nil, 50)
	if loop.Tick(context.Background()) {
		t.Fatalf("expected tick to skip")
	}
	noSession := NewPollLoop(f, func() (session.State, bool) { return session.State{}, false }, nil, 50)
	if noSession.Tick(context.Background()) {
		t.Fatalf("expected tick to skip without session")
	}
	if f.pollCount() != 0 {
		t.Fatalf("expected no network calls, got %d", f.pollCount())
	}
}

func TestPollTickSingleFlight(t *testing.T) {
	testlog.Start(t)
	f := &fakeRelay{
		pollBlock:   make(chan struct{}),
		pollStarted: make(chan struct{}, 1),
	}
	loop := NewPollLoop(f, newSessionBox(pairedState()).get, nil, 50)

	done := make(chan bool)
	go func() { done <- loop.Tick(context.Background()) }()
	<-f.pollStarted

	for i := 0; i < 5; i++ {
		if loop.Tick(context.Background()) {
			t.Fatalf("tick %d ran while a fetch was outstanding", i)
		}
	}
	close(f.pollBlock)
	if !<-done {
		t.Fatalf("expected first tick to report a fetch")
	}
	if f.pollCount() != 1 {
		t.Fatalf("expected exactly one fetch, got %d", f.pollCount())
	}

	// The slot is free again once the fetch returns.
	if !loop.Tick(context.Background()) {
		t.Fatalf("expected tick after release to fetch")
	}
	<-f.pollStarted
}

func TestPollTickDiscardsResultAfterUnpair(t *testing.T) {
	testlog.Start(t)
	f := &fakeRelay{
		pollResults: [][]envelope.Envelope{{inbound("m1", "node-1", "late")}},
		pollBlock:   make(chan struct{}),
		pollStarted: make(chan struct{}, 1),
	}
	box := newSessionBox(pairedState())
	rec := newRecordingListener()
	loop := NewPollLoop(f, box.get, rec, 50)

	done := make(chan struct{})
	go func() {
		loop.Tick(context.Background())
		close(done)
	}()
	<-f.pollStarted
	box.setPaired(false)
	close(f.pollBlock)
	<-done

	if msgs := rec.Messages(); len(msgs) != 0 {
		t.Fatalf("expected result to be discarded, got %+v", msgs)
	}
}

func TestPollTickDiscardsResultAfterStop(t *testing.T) {
	testlog.Start(t)
	f := &fakeRelay{
		pollResults: [][]envelope.Envelope{{inbound("m1", "node-1", "late")}},
		pollBlock:   make(chan struct{}),
		pollStarted: make(chan struct{}, 1),
	}
	rec := newRecordingListener()
	loop := NewPollLoop(f, newSessionBox(pairedState()).get, rec, 50)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loop.Start(ctx, time.Hour)
	<-f.pollStarted
	loop.Stop()
	close(f.pollBlock)
	loop.Wait()

	if msgs := rec.Messages(); len(msgs) != 0 {
		t.Fatalf("expected result of a stopped run to be discarded, got %+v", msgs)
	}
}

func TestPollLoopsShareInFlightSlot(t *testing.T) {
	testlog.Start(t)
	f := &fakeRelay{
		pollBlock:   make(chan struct{}),
		pollStarted: make(chan struct{}, 1),
	}
	var slot atomic.Bool
	get := newSessionBox(pairedState()).get
	first := NewPollLoop(f, get, nil, 50, WithInFlightSlot(&slot))
	second := NewPollLoop(f, get, nil, 50, WithInFlightSlot(&slot))

	done := make(chan bool)
	go func() { done <- first.Tick(context.Background()) }()
	<-f.pollStarted
	if second.Tick(context.Background()) {
		t.Fatalf("second loop fetched while the first held the shared slot")
	}
	close(f.pollBlock)
	if !<-done {
		t.Fatalf("expected first tick to report a fetch")
	}
	if !second.Tick(context.Background()) {
		t.Fatalf("expected second loop to fetch once the slot is free")
	}
	<-f.pollStarted
}

func TestPollTickErrorReportsAndContinues(t *testing.T) {
	testlog.Start(t)
	f := &fakeRelay{pollErr: errors.New("poll failed (502)")}
	rec := newRecordingListener()
	loop := NewPollLoop(f, newSessionBox(pairedState()).get, rec, 50)

	loop.Tick(context.Background())
	statuses := rec.Statuses(TopicPoll)
	if len(statuses) != 1 || statuses[0] != "Polling error: poll failed (502)" {
		t.Fatalf("unexpected poll statuses %v", statuses)
	}

	f.mu.Lock()
	f.pollErr = nil
	f.pollResults = [][]envelope.Envelope{{inbound("m1", "node-1", "back")}}
	f.mu.Unlock()
	if !loop.Tick(context.Background()) {
		t.Fatalf("expected loop to keep polling after an error")
	}
	if msgs := rec.Messages(); len(msgs) != 1 || msgs[0].Text != "back" {
		t.Fatalf("unexpected messages %+v", msgs)
	}
}

func TestPollLoopStartStop(t *testing.T) {
	testlog.Start(t)
	f := &fakeRelay{}
	loop := NewPollLoop(f, newSessionBox(pairedState()).get, nil, 50)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loop.Start(ctx, 5*time.Millisecond)
	if !loop.Running() {
		t.Fatalf("expected running loop")
	}
	if !eventually(func() bool { return f.pollCount() >= 3 }) {
		t.Fatalf("expected repeated polls, got %d", f.pollCount())
	}
	loop.Stop()
	loop.Wait()
	if loop.Running() {
		t.Fatalf("expected stopped loop")
	}
	stopped := f.pollCount()
	time.Sleep(30 * time.Millisecond)
	if f.pollCount() != stopped {
		t.Fatalf("loop polled after stop: %d -> %d", stopped, f.pollCount())
	}
	loop.Stop()
}

func TestPollLoopNeverExceedsOneOutstandingFetch(t *testing.T) {
	testlog.Start(t)
	var outstanding, peak atomic.Int32
	release := make(chan struct{})
	poller := pollerFunc(func(ctx context.Context) ([]envelope.Envelope, error) {
		n := outstanding.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		outstanding.Add(-1)
		return nil, nil
	})
	loop := NewPollLoop(poller, newSessionBox(pairedState()).get, nil, 50)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loop.Start(ctx, time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	loop.Stop()
	close(release)
	loop.Wait()
	if peak.Load() != 1 {
		t.Fatalf("expected at most one outstanding fetch, peak=%d", peak.Load())
	}
}

type pollerFunc func(ctx context.Context) ([]envelope.Envelope, error)

func (f pollerFunc) Poll(ctx context.Context, toDeviceID string, limit int) ([]envelope.Envelope, error) {
	return f(ctx)
}
