package link

import "github.com/danmuck/buslink/internal/protocol/envelope"

type MessageKind string

const (
	KindSelf   MessageKind = "self"
	KindRemote MessageKind = "remote"
	KindSystem MessageKind = "system"
)

// UnknownSender labels inbound envelopes that carry no sender id.
const UnknownSender = "unknown"

// Message is one line for the message sink.
type Message struct {
	Kind      MessageKind
	Text      string
	From      string
	MsgID     string
	Seq       uint64
	CreatedMS int64
}

func messageFromEnvelope(kind MessageKind, from, text string, env envelope.Envelope) Message {
	return Message{
		Kind:      kind,
		Text:      text,
		From:      from,
		MsgID:     env.MsgID,
		Seq:       env.Seq,
		CreatedMS: env.CreatedMS,
	}
}

func systemMessage(text string) Message {
	return Message{Kind: KindSystem, Text: text}
}

type StatusTopic string

const (
	TopicConnection StatusTopic = "connection"
	TopicPairing    StatusTopic = "pairing"
	TopicPoll       StatusTopic = "poll"
	TopicPush       StatusTopic = "push"
)

// Listener receives engine events. Methods may be called from any goroutine
// and must not block.
type Listener interface {
	OnMessage(msg Message)
	OnStatus(topic StatusTopic, text string)
	OnStateChange(state State)
	// OnCredentialRequired asks the front end to capture a new pairing
	// credential after a failed connect attempt.
	OnCredentialRequired(err error)
}

// NopListener discards every event.
type NopListener struct{}

func (NopListener) OnMessage(Message)            {}
func (NopListener) OnStatus(StatusTopic, string) {}
func (NopListener) OnStateChange(State)          {}
func (NopListener) OnCredentialRequired(error)   {}

var _ Listener = NopListener{}
