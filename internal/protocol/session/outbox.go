package session

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// PendingSend is an outbound message the relay has not accepted yet. It
// stays queued after a failed attempt so the text can be resent.
type PendingSend struct {
	MsgID         string
	Text          string
	ToDeviceID    string
	Seq           uint64
	Attempts      int
	QueuedAt      time.Time
	LastAttemptAt time.Time
	LastError     string
}

type queuedSend struct {
	PendingSend
	order uint64
}

// SendOutbox holds pending sends by msg_id in queue order.
type SendOutbox struct {
	mu    sync.RWMutex
	next  uint64
	items map[string]queuedSend
}

func NewSendOutbox() *SendOutbox {
	return &SendOutbox{
		items: make(map[string]queuedSend),
	}
}

// Upsert queues item, or replaces the entry with the same msg_id while
// keeping its attempt history and queue time.
func (o *SendOutbox) Upsert(item PendingSend) {
	key := strings.TrimSpace(item.MsgID)
	if key == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	prev, ok := o.items[key]
	if !ok {
		o.next++
		o.items[key] = queuedSend{PendingSend: item, order: o.next}
		return
	}
	item.Attempts = prev.Attempts
	item.LastAttemptAt = prev.LastAttemptAt
	item.LastError = prev.LastError
	if !prev.QueuedAt.IsZero() {
		item.QueuedAt = prev.QueuedAt
	}
	o.items[key] = queuedSend{PendingSend: item, order: prev.order}
}

// MarkAttempt records one delivery attempt. An empty lastErr clears the
// previous error.
func (o *SendOutbox) MarkAttempt(msgID string, at time.Time, lastErr string) (PendingSend, bool) {
	key := strings.TrimSpace(msgID)
	o.mu.Lock()
	defer o.mu.Unlock()
	item, ok := o.items[key]
	if !ok {
		return PendingSend{}, false
	}
	item.Attempts++
	item.LastAttemptAt = at
	item.LastError = strings.TrimSpace(lastErr)
	o.items[key] = item
	return item.PendingSend, true
}

func (o *SendOutbox) Remove(msgID string) {
	key := strings.TrimSpace(msgID)
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.items, key)
}

func (o *SendOutbox) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.items)
}

// List returns pending sends in the order they were first queued.
func (o *SendOutbox) List() []PendingSend {
	o.mu.RLock()
	queued := make([]queuedSend, 0, len(o.items))
	for _, item := range o.items {
		queued = append(queued, item)
	}
	o.mu.RUnlock()
	sort.Slice(queued, func(i, j int) bool { return queued[i].order < queued[j].order })
	out := make([]PendingSend, len(queued))
	for i, item := range queued {
		out[i] = item.PendingSend
	}
	return out
}
