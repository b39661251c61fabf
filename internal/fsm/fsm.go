// Package fsm implements the table-driven state machine that decides the
// LED cadence and answers status queries from the remote controller.
package fsm

import (
	"fmt"
	"log/slog"

	"github.com/lorsi96/pdm/internal/mailbox"
)

// State is the operating mode of the device. Its numeric value doubles as
// the cadence code pushed to the blinker and reported to the network peer.
type State uint8

const (
	SlowBlink  State = 0
	FastBlink  State = 1
	BtDisabled State = 2
)

// InitialState is the state the engine starts in.
const InitialState = BtDisabled

// States lists every state in code order.
var States = []State{SlowBlink, FastBlink, BtDisabled}

func (s State) String() string {
	switch s {
	case SlowBlink:
		return "slow-blink"
	case FastBlink:
		return "fast-blink"
	case BtDisabled:
		return "bt-disabled"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Code returns the cadence/status code for s.
func (s State) Code() uint8 { return uint8(s) }

// BluetoothEnabled reports whether Bluetooth input is honored in s.
func (s State) BluetoothEnabled() bool { return s != BtDisabled }

// bluetoothFlag encodes the enabled flag the way the wire protocol does:
// 0 when enabled, 1 when disabled.
func bluetoothFlag(enabled bool) uint8 {
	if enabled {
		return 0
	}
	return 1
}

// Reporter sends a status code to the remote controller.
type Reporter interface {
	Send(code uint8)
}

// CadenceDriver receives the cadence code of the current state.
type CadenceDriver interface {
	SetCadence(code uint8)
}

// Engine runs the transition table against incoming events. It is not safe
// for concurrent use; the controller loop owns it.
type Engine struct {
	table    Table
	state    State
	reporter Reporter
	cadence  CadenceDriver

	onChange func(from, to State)
}

// Option configures an Engine.
type Option func(*Engine)

// WithTable replaces the canonical transition table.
func WithTable(t Table) Option {
	return func(e *Engine) {
		e.table = t
	}
}

// WithInitialState overrides InitialState.
func WithInitialState(s State) Option {
	return func(e *Engine) {
		e.state = s
	}
}

// WithStateChangeCallback sets a callback invoked after each fired rule
// whose target differs from its source.
func WithStateChangeCallback(fn func(from, to State)) Option {
	return func(e *Engine) {
		e.onChange = fn
	}
}

// NewEngine creates an engine in InitialState using DefaultTable.
// Panics if reporter or cadence is nil (programmer error).
func NewEngine(reporter Reporter, cadence CadenceDriver, opts ...Option) *Engine {
	if reporter == nil || cadence == nil {
		panic("fsm: NewEngine called with nil reporter or cadence driver")
	}
	e := &Engine{
		table:    DefaultTable(),
		state:    InitialState,
		reporter: reporter,
		cadence:  cadence,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State returns the current state.
func (e *Engine) State() State {
	return e.state
}

// Result describes what a single step did.
type Result struct {
	Matched bool
	Rule    Rule
	From    State
	To      State
}

// Step applies ev to the machine. The first rule matching the current state
// and the event fires: its action runs against the pre-transition state,
// then the state is updated, then the new cadence is pushed. An event that
// matches no rule leaves the machine untouched.
func (e *Engine) Step(ev mailbox.Event) Result {
	from := e.state
	rule, ok := e.table.Lookup(from, ev)
	if !ok {
		slog.Debug("[FSM] event absorbed", "state", from, "source", ev.Source, "payload", ev.Payload)
		return Result{From: from, To: from}
	}

	e.run(rule.Action)
	e.state = rule.To
	e.cadence.SetCadence(e.state.Code())

	slog.Debug("[FSM] rule fired", "from", from, "to", e.state, "source", ev.Source, "payload", ev.Payload, "action", rule.Action)
	if from != e.state && e.onChange != nil {
		e.onChange(from, e.state)
	}
	return Result{Matched: true, Rule: rule, From: from, To: e.state}
}

// run executes an action. It must be called before the state is updated.
func (e *Engine) run(a Action) {
	switch a {
	case ActionNone:
	case ActionReportCadence:
		e.reporter.Send(e.state.Code())
	case ActionReportBluetooth:
		e.reporter.Send(bluetoothFlag(e.state.BluetoothEnabled()))
	case ActionReportToggledBluetooth:
		e.reporter.Send(bluetoothFlag(!e.state.BluetoothEnabled()))
	default:
		slog.Warn("[FSM] unknown action", "action", a)
	}
}
