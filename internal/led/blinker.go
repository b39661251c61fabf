// Package led drives the indicator LED. A Blinker receives a cadence code
// and toggles its pin from the controller's tick, so no timer goroutine is
// needed.
package led

import (
	"log/slog"
	"sync"
	"time"
)

// Cadence codes, matching the controller's state codes.
const (
	CadenceSlow  uint8 = 0
	CadenceFast  uint8 = 1
	CadenceSolid uint8 = 2 // always on
)

// Pin is a digital output.
type Pin interface {
	Out(high bool) error
	String() string
}

// Blinker toggles a Pin at the period selected by the current cadence.
type Blinker struct {
	pin  Pin
	slow time.Duration
	fast time.Duration
	now  func() time.Time

	mu         sync.Mutex
	cadence    uint8
	lastToggle time.Time
	on         bool
}

// NewBlinker creates a Blinker in the solid (always on) cadence and drives
// the pin high.
func NewBlinker(pin Pin, slow, fast time.Duration) *Blinker {
	b := &Blinker{
		pin:  pin,
		slow: slow,
		fast: fast,
		now:  time.Now,
	}
	b.SetCadence(CadenceSolid)
	return b
}

// SetCadence selects a new cadence. The toggle timer restarts; switching to
// CadenceSolid turns the LED on immediately.
func (b *Blinker) SetCadence(code uint8) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.cadence = code
	b.lastToggle = b.now()
	if code == CadenceSolid {
		b.set(true)
	}
}

// Cadence returns the current cadence code.
func (b *Blinker) Cadence() uint8 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cadence
}

// On reports the last level written to the pin.
func (b *Blinker) On() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.on
}

// Task toggles the pin if the current period has elapsed. Call it once per
// tick.
func (b *Blinker) Task() {
	b.mu.Lock()
	defer b.mu.Unlock()

	var period time.Duration
	switch b.cadence {
	case CadenceSlow:
		period = b.slow
	case CadenceFast:
		period = b.fast
	default:
		return
	}

	now := b.now()
	if now.Sub(b.lastToggle) > period {
		b.set(!b.on)
		b.lastToggle = now
	}
}

// set writes level to the pin (caller must hold mu).
func (b *Blinker) set(level bool) {
	b.on = level
	if err := b.pin.Out(level); err != nil {
		slog.Warn("[LED] pin write failed", "pin", b.pin.String(), "error", err)
	}
}
