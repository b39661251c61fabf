// Package hotkey emulates the Bluetooth peripheral from the keyboard: each
// global key combination is bound to a payload, delivered to a handler when
// the combination is pressed. It lets the controller be exercised at a desk
// without a paired device.
package hotkey

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	hook "github.com/robotn/gohook"
)

// Binding maps a key combination to a payload.
type Binding struct {
	Keys    []string // lowercase key names, e.g. ["ctrl", "shift", "f"]
	Payload uint32
}

// DefaultBindings mirrors the two payloads the paired device sends.
func DefaultBindings() []Binding {
	return []Binding{
		{Keys: []string{"ctrl", "shift", "f"}, Payload: 0},
		{Keys: []string{"ctrl", "shift", "s"}, Payload: 1},
	}
}

// Listener registers global hotkeys and forwards their payloads.
type Listener struct {
	bindings []Binding
	handler  func(payload uint32)
	done     chan struct{}
	once     sync.Once
}

// NewListener creates a Listener. The handler runs on the hook goroutine
// and must not block.
func NewListener(bindings []Binding, handler func(payload uint32)) (*Listener, error) {
	if len(bindings) == 0 {
		return nil, errors.New("hotkey: no bindings")
	}
	if handler == nil {
		return nil, errors.New("hotkey: nil payload handler")
	}
	for i, b := range bindings {
		if len(b.Keys) == 0 {
			return nil, fmt.Errorf("hotkey: binding %d has no keys", i)
		}
	}
	return &Listener{
		bindings: bindings,
		handler:  handler,
		done:     make(chan struct{}),
	}, nil
}

// Start begins listening. It blocks until Stop is called; run it in a
// goroutine.
func (l *Listener) Start() {
	for _, b := range l.bindings {
		hook.Register(hook.KeyDown, b.Keys, func(hook.Event) {
			l.onPress(b)
		})
	}

	evChan := hook.Start()
	go func() {
		<-l.done
		hook.End()
	}()
	<-hook.Process(evChan)
}

// onPress delivers the payload bound to b.
func (l *Listener) onPress(b Binding) {
	slog.Debug("[HOTKEY] pressed", "keys", strings.Join(b.Keys, "+"), "payload", b.Payload)
	l.handler(b.Payload)
}

// Stop terminates the listener. It is safe to call multiple times.
func (l *Listener) Stop() {
	l.once.Do(func() {
		close(l.done)
	})
}

// Describe renders bindings as "ctrl+shift+f=0, ...".
func Describe(bindings []Binding) string {
	parts := make([]string, 0, len(bindings))
	for _, b := range bindings {
		parts = append(parts, strings.Join(b.Keys, "+")+"="+strconv.FormatUint(uint64(b.Payload), 10))
	}
	return strings.Join(parts, ", ")
}
