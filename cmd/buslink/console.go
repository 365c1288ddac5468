package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/danmuck/buslink/internal/link"
)

// console renders engine events as plain lines.
type console struct {
	mu  sync.Mutex
	out io.Writer
}

func newConsole(out io.Writer) *console {
	return &console{out: out}
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

func (c *console) OnMessage(msg link.Message) {
	switch msg.Kind {
	case link.KindSystem:
		c.printf("* %s\n", msg.Text)
	case link.KindSelf:
		c.printf("%s me: %s\n", stamp(msg.CreatedMS), msg.Text)
	default:
		c.printf("%s %s: %s\n", stamp(msg.CreatedMS), msg.From, msg.Text)
	}
}

func (c *console) OnStatus(topic link.StatusTopic, text string) {
	c.printf("[%s] %s\n", topic, text)
}

func (c *console) OnStateChange(link.State) {}

func (c *console) OnCredentialRequired(err error) {
	c.printf("! pairing credential required: %v\n", err)
}

func stamp(ms int64) string {
	if ms <= 0 {
		return "--:--:--"
	}
	return time.UnixMilli(ms).Format(time.TimeOnly)
}

var _ link.Listener = (*console)(nil)
