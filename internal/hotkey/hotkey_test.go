package hotkey

import "testing"

func TestNewListenerValidation(t *testing.T) {
	handler := func(uint32) {}
	if _, err := NewListener(nil, handler); err == nil {
		t.Error("NewListener(no bindings) should fail")
	}
	if _, err := NewListener(DefaultBindings(), nil); err == nil {
		t.Error("NewListener(nil handler) should fail")
	}
	if _, err := NewListener([]Binding{{Payload: 3}}, handler); err == nil {
		t.Error("NewListener(binding without keys) should fail")
	}
	if _, err := NewListener(DefaultBindings(), handler); err != nil {
		t.Errorf("NewListener(defaults) error = %v", err)
	}
}

func TestDefaultBindingsCoverPeripheralPayloads(t *testing.T) {
	seen := map[uint32]bool{}
	for _, b := range DefaultBindings() {
		seen[b.Payload] = true
	}
	if !seen[0] || !seen[1] {
		t.Errorf("DefaultBindings() payloads = %v, want 0 and 1", seen)
	}
}

func TestDescribe(t *testing.T) {
	got := Describe([]Binding{
		{Keys: []string{"ctrl", "f"}, Payload: 0},
		{Keys: []string{"alt", "s"}, Payload: 12},
	})
	want := "ctrl+f=0, alt+s=12"
	if got != want {
		t.Errorf("Describe() = %q, want %q", got, want)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	l, err := NewListener(DefaultBindings(), func(uint32) {})
	if err != nil {
		t.Fatalf("NewListener() error = %v", err)
	}
	l.Stop()
	l.Stop()
}

func TestOnPressDeliversBoundPayload(t *testing.T) {
	var got []uint32
	bindings := []Binding{
		{Keys: []string{"ctrl", "shift", "f"}, Payload: 0},
		{Keys: []string{"ctrl", "shift", "s"}, Payload: 1},
		{Keys: []string{"alt", "9"}, Payload: 42},
	}
	l, err := NewListener(bindings, func(p uint32) { got = append(got, p) })
	if err != nil {
		t.Fatalf("NewListener() error = %v", err)
	}

	for _, b := range l.bindings {
		l.onPress(b)
	}
	l.onPress(l.bindings[1])

	want := []uint32{0, 1, 42, 1}
	if len(got) != len(want) {
		t.Fatalf("payloads = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("payloads[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}
