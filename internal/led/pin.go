package led

import (
	"fmt"
	"log/slog"

	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/host"
)

// GPIOPin drives a host GPIO line through periph.
type GPIOPin struct {
	pin gpio.PinOut
}

// OpenGPIO initializes the periph host drivers and looks up the named pin
// (e.g. "GPIO2"). The pin is driven low until the first write.
func OpenGPIO(name string) (*GPIOPin, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("led: host init: %w", err)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("led: pin %q not found", name)
	}
	if err := p.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("led: configure %s as output: %w", name, err)
	}
	return &GPIOPin{pin: p}, nil
}

func (g *GPIOPin) Out(high bool) error {
	level := gpio.Low
	if high {
		level = gpio.High
	}
	return g.pin.Out(level)
}

func (g *GPIOPin) String() string {
	return g.pin.Name()
}

// LogPin stands in for a GPIO line on hosts without one; it only logs level
// changes.
type LogPin struct {
	name  string
	level bool
	set   bool
}

// NewLogPin creates a LogPin with the given display name.
func NewLogPin(name string) *LogPin {
	return &LogPin{name: name}
}

func (l *LogPin) Out(high bool) error {
	if l.set && l.level == high {
		return nil
	}
	l.level, l.set = high, true
	slog.Debug("[LED] level", "pin", l.name, "high", high)
	return nil
}

func (l *LogPin) String() string {
	return l.name
}
