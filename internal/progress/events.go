package progress

import (
	"sync"
)

// Kind identifies a progress event.
type Kind string

const (
	KindLabel     Kind = "label"
	KindSubLabel  Kind = "sublabel"
	KindTotal     Kind = "total"
	KindStep      Kind = "step"
	KindCompleted Kind = "completed"
	KindFailed    Kind = "failed"
)

// Event is delivered to subscribers strictly in emission order.
type Event struct {
	Kind    Kind     `json:"kind"`
	Text    string   `json:"text,omitempty"`
	Value   int      `json:"value,omitempty"`
	Outputs []string `json:"outputs,omitempty"`
	Err     error    `json:"-"`
}

// Reporter receives progress events.
type Reporter interface {
	Emit(Event)
}

// Notifier wraps a Reporter with the calls the engine makes.
// A nil Notifier or one built from a nil Reporter discards everything.
type Notifier struct {
	mu sync.Mutex
	r  Reporter
}

// NewNotifier creates a new notifier
func NewNotifier(r Reporter) *Notifier {
	return &Notifier{r: r}
}

func (n *Notifier) emit(ev Event) {
	if n == nil || n.r == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.r.Emit(ev)
}

func (n *Notifier) Label(s string)    { n.emit(Event{Kind: KindLabel, Text: s}) }
func (n *Notifier) SubLabel(s string) { n.emit(Event{Kind: KindSubLabel, Text: s}) }
func (n *Notifier) SetTotal(total int) {
	n.emit(Event{Kind: KindTotal, Value: total})
}
func (n *Notifier) Step(i int) { n.emit(Event{Kind: KindStep, Value: i}) }

// Completed reports the finalized outputs.
func (n *Notifier) Completed(outputs []string) {
	n.emit(Event{Kind: KindCompleted, Outputs: outputs})
}

// Failed reports the fatal reason of a run.
func (n *Notifier) Failed(err error) {
	n.emit(Event{Kind: KindFailed, Err: err, Text: errText(err)})
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Counter emits one step per Done call, in call order, from any goroutine.
type Counter struct {
	mu   sync.Mutex
	n    *Notifier
	done int
}

// NewCounter starts counting at already.
func (n *Notifier) NewCounter(already int) *Counter {
	return &Counter{n: n, done: already}
}

// Done records one completed unit and emits the new step.
func (c *Counter) Done() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.done++
	c.n.Step(c.done)
	return c.done
}
