package progress

import (
	"sync"

	"github.com/rs/zerolog"
)

// ChannelReporter forwards events to a channel. Emit blocks while the
// channel is full so no event is dropped or reordered.
type ChannelReporter struct {
	ch     chan Event
	once   sync.Once
	closed chan struct{}
}

// NewChannelReporter creates a reporter with the given buffer size.
func NewChannelReporter(buffer int) *ChannelReporter {
	return &ChannelReporter{
		ch:     make(chan Event, buffer),
		closed: make(chan struct{}),
	}
}

// Events returns the receive side for the subscriber.
func (c *ChannelReporter) Events() <-chan Event {
	return c.ch
}

// Emit sends ev; events emitted after Close are discarded.
func (c *ChannelReporter) Emit(ev Event) {
	select {
	case <-c.closed:
		return
	default:
	}
	c.ch <- ev
}

// Close ends the stream. It must not race with Emit.
func (c *ChannelReporter) Close() {
	c.once.Do(func() {
		close(c.closed)
		close(c.ch)
	})
}

// LogReporter writes events as structured log lines.
type LogReporter struct {
	logger zerolog.Logger
}

// NewLogReporter creates a new log reporter
func NewLogReporter(logger zerolog.Logger) *LogReporter {
	return &LogReporter{logger: logger}
}

func (l *LogReporter) Emit(ev Event) {
	switch ev.Kind {
	case KindFailed:
		l.logger.Error().Err(ev.Err).Msg("run failed")
	case KindCompleted:
		l.logger.Info().Strs("outputs", ev.Outputs).Msg("run completed")
	case KindLabel, KindSubLabel:
		l.logger.Info().Str("kind", string(ev.Kind)).Msg(ev.Text)
	default:
		l.logger.Debug().Str("kind", string(ev.Kind)).Int("value", ev.Value).Msg("progress")
	}
}

// Multi fans every event out to all reporters in order.
type Multi []Reporter

func (m Multi) Emit(ev Event) {
	for _, r := range m {
		if r != nil {
			r.Emit(ev)
		}
	}
}
