package progress

import (
	"errors"
	"sync"
	"testing"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Emit(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func TestChannelReporter_PreservesOrder(t *testing.T) {
	cr := NewChannelReporter(1)
	n := NewNotifier(cr)

	go func() {
		n.Label("Compressing whole set")
		n.SetTotal(3)
		for i := 1; i <= 3; i++ {
			n.Step(i)
		}
		n.Completed([]string{"out.pdf"})
		cr.Close()
	}()

	var kinds []Kind
	var steps []int
	for ev := range cr.Events() {
		kinds = append(kinds, ev.Kind)
		if ev.Kind == KindStep {
			steps = append(steps, ev.Value)
		}
	}

	expected := []Kind{KindLabel, KindTotal, KindStep, KindStep, KindStep, KindCompleted}
	if len(kinds) != len(expected) {
		t.Fatalf("Expected %d events, got %d: %v", len(expected), len(kinds), kinds)
	}
	for i := range expected {
		if kinds[i] != expected[i] {
			t.Errorf("Event %d: expected %s, got %s", i, expected[i], kinds[i])
		}
	}
	for i, s := range steps {
		if s != i+1 {
			t.Errorf("Expected step %d, got %d", i+1, s)
		}
	}
}

func TestChannelReporter_EmitAfterClose(t *testing.T) {
	cr := NewChannelReporter(1)
	cr.Close()
	cr.Close()

	// Must not panic
	cr.Emit(Event{Kind: KindLabel})
}

func TestNilNotifierDiscards(t *testing.T) {
	var n *Notifier
	n.Label("ignored")
	n.Failed(errors.New("ignored"))

	NewNotifier(nil).Step(1)
}

func TestCounter_ExactSteps(t *testing.T) {
	rec := &recorder{}
	n := NewNotifier(rec)
	c := n.NewCounter(2)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Done()
		}()
	}
	wg.Wait()

	if len(rec.events) != 10 {
		t.Fatalf("Expected 10 step events, got %d", len(rec.events))
	}
	for i, ev := range rec.events {
		if ev.Value != i+3 {
			t.Errorf("Expected step %d, got %d", i+3, ev.Value)
		}
	}
}

func TestLedger(t *testing.T) {
	l := NewLedger()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				l.Warn("bad input", errors.New("corrupt"))
			} else {
				l.Info("ok")
			}
		}(i)
	}
	wg.Wait()
	l.Error("fatal", nil)

	if got := len(l.Messages()); got != 21 {
		t.Errorf("Expected 21 messages, got %d", got)
	}
	if got := len(l.Filter(LevelWarn)); got != 10 {
		t.Errorf("Expected 10 warnings, got %d", got)
	}
	errs := l.Filter(LevelError)
	if len(errs) != 1 || errs[0].Text != "fatal" {
		t.Errorf("Expected one error message, got %v", errs)
	}

	var nilLedger *Ledger
	nilLedger.Warn("ignored", nil)
	if nilLedger.Messages() != nil {
		t.Error("Expected nil ledger to hold nothing")
	}
}

func TestMulti(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	m := Multi{a, nil, b}
	m.Emit(Event{Kind: KindLabel, Text: "x"})

	if len(a.events) != 1 || len(b.events) != 1 {
		t.Errorf("Expected both reporters to receive the event")
	}
}
