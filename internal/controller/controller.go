// Package controller runs the device loop. Two producers feed one mailbox:
// the network transport, polled from the loop, and the peripheral, whose
// callback runs on its own goroutine. Each tick the loop drains at most one
// event into the FSM engine.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lorsi96/pdm/internal/fsm"
	"github.com/lorsi96/pdm/internal/mailbox"
)

// Network is the TCP producer and the engine's reporter.
// *network.Transport satisfies it.
type Network interface {
	fsm.Reporter
	ConnectRetry(ctx context.Context, interval time.Duration) error
	Poll(ctx context.Context) (uint32, bool)
	Close() error
}

// Cadence drives the indicator. *led.Blinker satisfies it.
type Cadence interface {
	fsm.CadenceDriver
	Task()
}

// Peripheral is a running peripheral session.
type Peripheral interface {
	Connect(ctx context.Context) error
	Close() error
}

// PeripheralFactory builds a peripheral that delivers payloads to handler.
type PeripheralFactory func(handler func(payload uint32)) (Peripheral, error)

// Options configures a Controller.
type Options struct {
	Network      Network           // nil disables the network producer
	Cadence      Cadence           // required
	Peripheral   PeripheralFactory // nil disables the peripheral producer
	ConnectRetry time.Duration     // spacing of initial connect attempts
}

// Controller owns the mailbox, the engine and both producers.
type Controller struct {
	net        Network
	cadence    Cadence
	newPeriph  PeripheralFactory
	retry      time.Duration
	mailbox    *mailbox.Mailbox
	engine     *fsm.Engine
	peripheral Peripheral
}

// New creates a controller in the engine's initial state.
func New(opts Options) (*Controller, error) {
	if opts.Cadence == nil {
		return nil, errors.New("controller: nil cadence driver")
	}
	if opts.ConnectRetry <= 0 {
		opts.ConnectRetry = 2 * time.Second
	}

	var reporter fsm.Reporter = discardReporter{}
	if opts.Network != nil {
		reporter = opts.Network
	}

	c := &Controller{
		net:       opts.Network,
		cadence:   opts.Cadence,
		newPeriph: opts.Peripheral,
		retry:     opts.ConnectRetry,
		mailbox:   &mailbox.Mailbox{},
	}
	c.engine = fsm.NewEngine(reporter, opts.Cadence, fsm.WithStateChangeCallback(func(from, to fsm.State) {
		slog.Info("[FSM] state changed", "from", from, "to", to)
	}))
	// Push the initial cadence so the driver matches the engine.
	opts.Cadence.SetCadence(c.engine.State().Code())
	return c, nil
}

// Init connects the network producer, retrying until it succeeds or ctx is
// done, then starts the peripheral with OnPeripheralData as its callback.
func (c *Controller) Init(ctx context.Context) error {
	if c.net != nil {
		if err := c.net.ConnectRetry(ctx, c.retry); err != nil {
			return fmt.Errorf("controller: network: %w", err)
		}
	} else {
		slog.Info("[CTL] network producer disabled")
	}

	if c.newPeriph == nil {
		slog.Info("[CTL] peripheral producer disabled")
		return nil
	}
	p, err := c.newPeriph(c.OnPeripheralData)
	if err != nil {
		return fmt.Errorf("controller: peripheral: %w", err)
	}
	if err := p.Connect(ctx); err != nil {
		return fmt.Errorf("controller: peripheral: %w", err)
	}
	c.peripheral = p
	return nil
}

// OnNetworkData publishes a command received from the network.
func (c *Controller) OnNetworkData(payload uint32) {
	c.publish(mailbox.SourceNetwork, payload)
}

// OnPeripheralData publishes a payload from the peripheral. It is safe to
// call from any goroutine and never blocks.
func (c *Controller) OnPeripheralData(payload uint32) {
	c.publish(mailbox.SourcePeripheral, payload)
}

func (c *Controller) publish(source mailbox.Source, payload uint32) {
	if !c.mailbox.Publish(source, payload) {
		slog.Debug("[CTL] mailbox busy, event dropped", "source", source, "payload", payload)
	}
}

// Tick runs one loop iteration: poll the network, advance the blinker, and
// feed at most one event to the engine.
func (c *Controller) Tick(ctx context.Context) {
	if c.net != nil {
		if payload, ok := c.net.Poll(ctx); ok {
			c.OnNetworkData(payload)
		}
	}

	c.cadence.Task()

	ev, ok := c.mailbox.Drain()
	if !ok {
		return
	}
	c.engine.Step(ev)
}

// Run calls Tick every interval until ctx is done.
func (c *Controller) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			st := c.mailbox.Stats()
			slog.Info("[CTL] loop stopped", "state", c.engine.State(), "accepted", st.Accepted, "dropped", st.Dropped)
			return nil
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}

// State returns the engine's current state.
func (c *Controller) State() fsm.State {
	return c.engine.State()
}

// Stats returns the mailbox counters.
func (c *Controller) Stats() mailbox.Stats {
	return c.mailbox.Stats()
}

// Close shuts down both producers.
func (c *Controller) Close() error {
	var errs []error
	if c.peripheral != nil {
		if err := c.peripheral.Close(); err != nil {
			errs = append(errs, fmt.Errorf("controller: close peripheral: %w", err))
		}
	}
	if c.net != nil {
		if err := c.net.Close(); err != nil {
			errs = append(errs, fmt.Errorf("controller: close network: %w", err))
		}
	}
	return errors.Join(errs...)
}

// discardReporter stands in for the network when it is disabled.
type discardReporter struct{}

func (discardReporter) Send(code uint8) {
	slog.Debug("[CTL] network disabled, reply discarded", "code", code)
}
