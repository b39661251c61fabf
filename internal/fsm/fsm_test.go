package fsm

import (
	"testing"

	"github.com/lorsi96/pdm/internal/mailbox"
)

// recorder implements Reporter and CadenceDriver and logs calls in order.
type recorder struct {
	sent    []uint8
	cadence []uint8
	calls   []string
}

func (r *recorder) Send(code uint8) {
	r.sent = append(r.sent, code)
	r.calls = append(r.calls, "send")
}

func (r *recorder) SetCadence(code uint8) {
	r.cadence = append(r.cadence, code)
	r.calls = append(r.calls, "cadence")
}

func newTestEngine(state State) (*Engine, *recorder) {
	rec := &recorder{}
	return NewEngine(rec, rec, WithInitialState(state)), rec
}

func netEvent(p uint32) mailbox.Event { return mailbox.Event{Source: mailbox.SourceNetwork, Payload: p} }
func btEvent(p uint32) mailbox.Event  { return mailbox.Event{Source: mailbox.SourcePeripheral, Payload: p} }

func TestInitialState(t *testing.T) {
	e := NewEngine(&recorder{}, &recorder{})
	if e.State() != BtDisabled {
		t.Errorf("State() = %v, want %v", e.State(), BtDisabled)
	}
}

func TestCanonicalTransitions(t *testing.T) {
	tests := []struct {
		name      string
		from      State
		ev        mailbox.Event
		wantState State
		wantSent  []uint8
	}{
		{"query cadence bt-disabled", BtDisabled, netEvent(0), BtDisabled, []uint8{2}},
		{"query cadence slow", SlowBlink, netEvent(0), SlowBlink, []uint8{0}},
		{"query cadence fast", FastBlink, netEvent(0), FastBlink, []uint8{1}},
		{"query bt bt-disabled", BtDisabled, netEvent(1), BtDisabled, []uint8{1}},
		{"query bt slow", SlowBlink, netEvent(1), SlowBlink, []uint8{0}},
		{"query bt fast", FastBlink, netEvent(1), FastBlink, []uint8{0}},
		{"toggle from bt-disabled", BtDisabled, netEvent(2), FastBlink, []uint8{0}},
		{"toggle from slow", SlowBlink, netEvent(2), BtDisabled, []uint8{1}},
		{"toggle from fast", FastBlink, netEvent(2), BtDisabled, []uint8{1}},
		{"peripheral fast", SlowBlink, btEvent(0), FastBlink, nil},
		{"peripheral slow", FastBlink, btEvent(1), SlowBlink, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, rec := newTestEngine(tt.from)
			res := e.Step(tt.ev)
			if !res.Matched {
				t.Fatalf("Step(%+v) did not match a rule", tt.ev)
			}
			if e.State() != tt.wantState {
				t.Errorf("State() = %v, want %v", e.State(), tt.wantState)
			}
			if !equalCodes(rec.sent, tt.wantSent) {
				t.Errorf("sent = %v, want %v", rec.sent, tt.wantSent)
			}
			if len(rec.cadence) != 1 || rec.cadence[0] != tt.wantState.Code() {
				t.Errorf("cadence pushes = %v, want [%d]", rec.cadence, tt.wantState.Code())
			}
		})
	}
}

func TestActionRunsBeforeCadencePush(t *testing.T) {
	e, rec := newTestEngine(SlowBlink)
	e.Step(netEvent(0))
	if len(rec.calls) != 2 || rec.calls[0] != "send" || rec.calls[1] != "cadence" {
		t.Errorf("call order = %v, want [send cadence]", rec.calls)
	}
}

func TestActionSeesPreTransitionState(t *testing.T) {
	// Toggle from fast reports "disabled" (1) computed from the fast state,
	// while the cadence pushed is bt-disabled's code.
	e, rec := newTestEngine(FastBlink)
	e.Step(netEvent(2))
	if len(rec.sent) != 1 || rec.sent[0] != 1 {
		t.Errorf("sent = %v, want [1]", rec.sent)
	}
	if rec.cadence[0] != BtDisabled.Code() {
		t.Errorf("cadence = %d, want %d", rec.cadence[0], BtDisabled.Code())
	}
}

func TestTotality(t *testing.T) {
	sources := []mailbox.Source{mailbox.SourceNone, mailbox.SourceNetwork, mailbox.SourcePeripheral}
	table := DefaultTable()
	for _, st := range States {
		for _, src := range sources {
			for p := uint32(0); p < 16; p++ {
				ev := mailbox.Event{Source: src, Payload: p}
				e, rec := newTestEngine(st)
				res := e.Step(ev)

				rule, listed := table.Lookup(st, ev)
				if res.Matched != listed {
					t.Fatalf("Step(%v, %+v).Matched = %v, want %v", st, ev, res.Matched, listed)
				}
				if !listed {
					if e.State() != st {
						t.Errorf("unmatched %+v moved %v to %v", ev, st, e.State())
					}
					if len(rec.sent) != 0 || len(rec.cadence) != 0 {
						t.Errorf("unmatched %+v in %v had side effects: sent=%v cadence=%v", ev, st, rec.sent, rec.cadence)
					}
					continue
				}
				if e.State() != rule.To {
					t.Errorf("Step(%v, %+v) state = %v, want %v", st, ev, e.State(), rule.To)
				}
			}
		}
	}
}

func TestSourceNoneNeverMatches(t *testing.T) {
	for _, st := range States {
		e, rec := newTestEngine(st)
		if res := e.Step(mailbox.Event{}); res.Matched {
			t.Errorf("zero event matched in %v", st)
		}
		if len(rec.calls) != 0 {
			t.Errorf("zero event had side effects in %v: %v", st, rec.calls)
		}
	}
}

func TestBluetoothGating(t *testing.T) {
	for p := uint32(0); p < 32; p++ {
		e, rec := newTestEngine(BtDisabled)
		e.Step(btEvent(p))
		if e.State() != BtDisabled {
			t.Errorf("peripheral payload %d moved bt-disabled to %v", p, e.State())
		}
		if len(rec.calls) != 0 {
			t.Errorf("peripheral payload %d had side effects: %v", p, rec.calls)
		}
	}
}

func TestToggleIsNotAnInvolution(t *testing.T) {
	e, _ := newTestEngine(SlowBlink)

	e.Step(netEvent(2))
	if e.State() != BtDisabled {
		t.Fatalf("after first toggle State() = %v, want %v", e.State(), BtDisabled)
	}
	e.Step(netEvent(2))
	if e.State() != FastBlink {
		t.Fatalf("after second toggle State() = %v, want %v", e.State(), FastBlink)
	}
	e.Step(netEvent(2))
	e.Step(netEvent(2))
	if e.State() != FastBlink {
		t.Errorf("after four toggles State() = %v, want %v (not %v)", e.State(), FastBlink, SlowBlink)
	}

	e2, _ := newTestEngine(BtDisabled)
	e2.Step(netEvent(2))
	e2.Step(netEvent(2))
	if e2.State() != BtDisabled {
		t.Errorf("two toggles from bt-disabled State() = %v, want %v", e2.State(), BtDisabled)
	}
}

func TestPeripheralScenario(t *testing.T) {
	e, rec := newTestEngine(SlowBlink)
	e.Step(btEvent(0))
	if e.State() != FastBlink {
		t.Errorf("State() = %v, want %v", e.State(), FastBlink)
	}
	if len(rec.cadence) != 1 || rec.cadence[0] != FastBlink.Code() {
		t.Errorf("cadence = %v, want [%d]", rec.cadence, FastBlink.Code())
	}
	if len(rec.sent) != 0 {
		t.Errorf("sent = %v, want none", rec.sent)
	}
}

func TestStateChangeCallback(t *testing.T) {
	var changes [][2]State
	rec := &recorder{}
	e := NewEngine(rec, rec, WithInitialState(SlowBlink), WithStateChangeCallback(func(from, to State) {
		changes = append(changes, [2]State{from, to})
	}))

	e.Step(netEvent(0)) // self-loop, no callback
	e.Step(btEvent(0))  // slow -> fast

	if len(changes) != 1 || changes[0] != [2]State{SlowBlink, FastBlink} {
		t.Errorf("changes = %v, want [[slow-blink fast-blink]]", changes)
	}
}

func TestWithTableFirstMatchWins(t *testing.T) {
	table := Table{
		{SlowBlink, mailbox.SourceNetwork, 5, FastBlink, ActionNone},
		{SlowBlink, mailbox.SourceNetwork, 5, BtDisabled, ActionReportCadence},
	}
	rec := &recorder{}
	e := NewEngine(rec, rec, WithTable(table), WithInitialState(SlowBlink))
	e.Step(netEvent(5))
	if e.State() != FastBlink {
		t.Errorf("State() = %v, want %v (first rule)", e.State(), FastBlink)
	}
	if len(rec.sent) != 0 {
		t.Errorf("sent = %v, want none", rec.sent)
	}
}

func TestDefaultTableIsFresh(t *testing.T) {
	a := DefaultTable()
	a[0].To = SlowBlink
	if DefaultTable()[0].To != BtDisabled {
		t.Error("mutating a DefaultTable result changed later results")
	}
}

func TestNewEnginePanicsOnNil(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("NewEngine(nil, nil) should panic")
		}
	}()
	NewEngine(nil, nil)
}

func equalCodes(a, b []uint8) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
