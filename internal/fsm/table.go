package fsm

import (
	"fmt"

	"github.com/lorsi96/pdm/internal/mailbox"
)

// Action is the side effect attached to a rule.
type Action uint8

const (
	ActionNone Action = iota
	// ActionReportCadence sends the current cadence code.
	ActionReportCadence
	// ActionReportBluetooth sends the Bluetooth flag (0=enabled, 1=disabled).
	ActionReportBluetooth
	// ActionReportToggledBluetooth sends the flag value after a toggle.
	ActionReportToggledBluetooth
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionReportCadence:
		return "report-cadence"
	case ActionReportBluetooth:
		return "report-bluetooth"
	case ActionReportToggledBluetooth:
		return "report-toggled-bluetooth"
	default:
		return fmt.Sprintf("action(%d)", uint8(a))
	}
}

// Rule maps (From, Source, Payload) to (To, Action).
type Rule struct {
	From    State
	Source  mailbox.Source
	Payload uint32
	To      State
	Action  Action
}

// Table is an ordered rule list. The first matching rule wins.
type Table []Rule

// Lookup returns the first rule matching state and ev. Events from
// SourceNone never match.
func (t Table) Lookup(state State, ev mailbox.Event) (Rule, bool) {
	if ev.Source == mailbox.SourceNone {
		return Rule{}, false
	}
	for _, r := range t {
		if r.From == state && r.Source == ev.Source && r.Payload == ev.Payload {
			return r, true
		}
	}
	return Rule{}, false
}

// Network command codes matched by the default table.
const (
	cmdQueryCadence   uint32 = 0
	cmdQueryBluetooth uint32 = 1
	cmdToggle         uint32 = 2
)

// Peripheral payloads matched by the default table.
const (
	btFast uint32 = 0
	btSlow uint32 = 1
)

// DefaultTable returns the canonical rule set. A fresh slice is returned on
// every call so callers cannot mutate a shared table.
func DefaultTable() Table {
	const (
		net = mailbox.SourceNetwork
		bt  = mailbox.SourcePeripheral
	)
	return Table{
		{BtDisabled, net, cmdQueryCadence, BtDisabled, ActionReportCadence},
		{SlowBlink, net, cmdQueryCadence, SlowBlink, ActionReportCadence},
		{FastBlink, net, cmdQueryCadence, FastBlink, ActionReportCadence},

		{BtDisabled, net, cmdQueryBluetooth, BtDisabled, ActionReportBluetooth},
		{SlowBlink, net, cmdQueryBluetooth, SlowBlink, ActionReportBluetooth},
		{FastBlink, net, cmdQueryBluetooth, FastBlink, ActionReportBluetooth},

		// Re-enabling Bluetooth always starts in fast blink.
		{BtDisabled, net, cmdToggle, FastBlink, ActionReportToggledBluetooth},
		{SlowBlink, net, cmdToggle, BtDisabled, ActionReportToggledBluetooth},
		{FastBlink, net, cmdToggle, BtDisabled, ActionReportToggledBluetooth},

		{SlowBlink, bt, btFast, FastBlink, ActionNone},
		{FastBlink, bt, btSlow, SlowBlink, ActionNone},
	}
}
