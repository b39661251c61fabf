// Package protocol implements the single-digit line protocol spoken between
// the device and its remote controller.
//
// Every message in either direction is one ASCII digit. The controller sends
// a command code; the device answers with a status code whose meaning depends
// on the command that triggered it.
package protocol

import (
	"errors"
	"fmt"
)

// Command is a request code sent by the remote controller.
type Command uint8

const (
	// CommandQueryCadence asks for the current blink cadence code.
	CommandQueryCadence Command = 0
	// CommandQueryBluetooth asks whether the Bluetooth service is enabled.
	CommandQueryBluetooth Command = 1
	// CommandToggleBluetooth toggles the Bluetooth service.
	CommandToggleBluetooth Command = 2
)

// Cadence reply codes.
const (
	CadenceSlow   uint8 = 0
	CadenceFast   uint8 = 1
	CadenceSolid  uint8 = 2
	BluetoothOn   uint8 = 0
	BluetoothOff  uint8 = 1
	maxDigitValue       = 9
)

// ErrNotDigit is returned when a wire byte is not an ASCII digit.
var ErrNotDigit = errors.New("protocol: byte is not an ASCII digit")

// Encode returns the wire byte for code. Codes above 9 cannot be represented
// as a single digit.
func Encode(code uint8) (byte, error) {
	if code > maxDigitValue {
		return 0, fmt.Errorf("protocol: code %d does not fit in one digit", code)
	}
	return '0' + code, nil
}

// Decode returns the integer carried by a wire byte.
func Decode(b byte) (uint32, error) {
	if b < '0' || b > '9' {
		return 0, fmt.Errorf("%w: 0x%02x", ErrNotDigit, b)
	}
	return uint32(b - '0'), nil
}

// DecodeLenient mirrors the device firmware: the first byte minus '0',
// without validation. Non-digit bytes yield values that no transition rule
// matches, so they are absorbed by the state machine.
func DecodeLenient(b byte) uint32 {
	return uint32(b - '0')
}

func (c Command) String() string {
	switch c {
	case CommandQueryCadence:
		return "query-cadence"
	case CommandQueryBluetooth:
		return "query-bluetooth"
	case CommandToggleBluetooth:
		return "toggle-bluetooth"
	default:
		return fmt.Sprintf("command(%d)", uint8(c))
	}
}

// Prompt is the message shown when a command is sent.
func (c Command) Prompt() string {
	switch c {
	case CommandQueryCadence:
		return "Asking device for its current blink speed..."
	case CommandQueryBluetooth:
		return "Asking device for its current BT server status..."
	case CommandToggleBluetooth:
		return "Asked device to toggle its BT service..."
	default:
		return fmt.Sprintf("Sending unknown command %d...", uint8(c))
	}
}

var replyText = map[Command]map[uint32]string{
	CommandQueryCadence: {
		uint32(CadenceSlow):  "Device is blinking slowly",
		uint32(CadenceFast):  "Device is blinking fast",
		uint32(CadenceSolid): "Device is not blinking",
	},
	CommandQueryBluetooth: {
		uint32(BluetoothOn):  "Device is listening to BT events",
		uint32(BluetoothOff): "Device is not listening to BT events",
	},
	CommandToggleBluetooth: {
		uint32(BluetoothOn):  "Device turned on its BT server",
		uint32(BluetoothOff): "Device turned off its BT server",
	},
}

// DescribeReply returns a human-readable description of reply, interpreted
// as the answer to cmd.
func DescribeReply(cmd Command, reply uint32) string {
	if text, ok := replyText[cmd][reply]; ok {
		return text
	}
	return fmt.Sprintf("Unexpected reply %d to %s", reply, cmd)
}
