package progress

import (
	"fmt"
	"sync"
)

// Level of a ledger message.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Message is one accumulated note for the end-of-run report.
type Message struct {
	Level Level  `json:"level"`
	Text  string `json:"text"`
	Err   error  `json:"-"`
}

func (m Message) String() string {
	return fmt.Sprintf("[%s] %s", m.Level, m.Text)
}

// Ledger accumulates messages from all components of a run so they are
// surfaced together instead of one at a time. Safe for concurrent use.
type Ledger struct {
	mu   sync.Mutex
	msgs []Message
}

// NewLedger creates an empty ledger
func NewLedger() *Ledger {
	return &Ledger{}
}

func (l *Ledger) add(level Level, text string, err error) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, Message{Level: level, Text: text, Err: err})
}

func (l *Ledger) Info(text string)            { l.add(LevelInfo, text, nil) }
func (l *Ledger) Warn(text string, err error)  { l.add(LevelWarn, text, err) }
func (l *Ledger) Error(text string, err error) { l.add(LevelError, text, err) }

// Messages returns a copy of all messages in insertion order.
func (l *Ledger) Messages() []Message {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Message, len(l.msgs))
	copy(out, l.msgs)
	return out
}

// Filter returns the messages of one level.
func (l *Ledger) Filter(level Level) []Message {
	var out []Message
	for _, m := range l.Messages() {
		if m.Level == level {
			out = append(out, m)
		}
	}
	return out
}
