package bluetooth

import (
	"context"
	"fmt"
	"sync"

	"tinygo.org/x/bluetooth"
)

// TinyGoAdapter wraps tinygo-org/bluetooth (BlueZ on Linux, CoreBluetooth
// on macOS). On macOS device addresses are CoreBluetooth UUIDs rather than
// MAC addresses; both are carried as strings.
type TinyGoAdapter struct {
	adapter *bluetooth.Adapter

	// mu protects the connections map.
	mu          sync.Mutex
	connections map[string]*tinyGoConnection // keyed by device address
}

// NewTinyGoAdapter creates an adapter backed by the default host adapter.
func NewTinyGoAdapter() *TinyGoAdapter {
	return &TinyGoAdapter{
		adapter:     bluetooth.DefaultAdapter,
		connections: make(map[string]*tinyGoConnection),
	}
}

func (a *TinyGoAdapter) Enable() error {
	if err := a.adapter.Enable(); err != nil {
		return err
	}

	// Route adapter-level disconnects to the matching connection.
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		id := device.Address.String()
		a.mu.Lock()
		conn, ok := a.connections[id]
		if ok {
			delete(a.connections, id)
		}
		a.mu.Unlock()
		if ok {
			conn.fireDisconnect()
		}
	})

	return nil
}

func (a *TinyGoAdapter) Scan(ctx context.Context, serviceUUID string) ([]Device, error) {
	uuid, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return nil, fmt.Errorf("bluetooth: parse service UUID: %w", err)
	}

	var mu sync.Mutex
	var devices []Device
	seen := make(map[string]bool)

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			a.adapter.StopScan()
		case <-done:
		}
	}()

	err = a.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		if !result.HasServiceUUID(uuid) {
			return
		}
		addr := result.Address.String()
		mu.Lock()
		defer mu.Unlock()
		if seen[addr] {
			return
		}
		seen[addr] = true
		devices = append(devices, Device{
			Name:    result.LocalName(),
			Address: addr,
			RSSI:    int(result.RSSI),
		})
	})
	close(done)

	if err != nil && ctx.Err() == nil {
		return nil, fmt.Errorf("bluetooth: scan: %w", err)
	}
	return devices, nil
}

func (a *TinyGoAdapter) Connect(ctx context.Context, address string) (Connection, error) {
	var addr bluetooth.Address
	addr.Set(address)

	// The library's Connect blocks with its own timeout; wrap it so ctx
	// cancellation returns early.
	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan connectResult, 1)
	go func() {
		device, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- connectResult{device, err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("bluetooth: connect to %s: %w", address, ctx.Err())
	case result := <-ch:
		if result.err != nil {
			return nil, fmt.Errorf("bluetooth: connect to %s: %w", address, result.err)
		}
		conn := &tinyGoConnection{device: &result.device}

		a.mu.Lock()
		a.connections[addr.String()] = conn
		a.mu.Unlock()

		return conn, nil
	}
}

// Compile-time check that TinyGoAdapter implements Adapter.
var _ Adapter = (*TinyGoAdapter)(nil)

type tinyGoConnection struct {
	device *bluetooth.Device

	mu           sync.Mutex
	disconnectCb func()
}

func (c *tinyGoConnection) DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error) {
	svcUUID, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return nil, err
	}
	charUUIDParsed, err := bluetooth.ParseUUID(charUUID)
	if err != nil {
		return nil, err
	}

	svcs, err := c.device.DiscoverServices([]bluetooth.UUID{svcUUID})
	if err != nil {
		return nil, fmt.Errorf("bluetooth: discover services: %w", err)
	}
	if len(svcs) == 0 {
		return nil, fmt.Errorf("bluetooth: service %s not found", serviceUUID)
	}

	chars, err := svcs[0].DiscoverCharacteristics([]bluetooth.UUID{charUUIDParsed})
	if err != nil {
		return nil, fmt.Errorf("bluetooth: discover characteristics: %w", err)
	}
	if len(chars) == 0 {
		return nil, fmt.Errorf("bluetooth: characteristic %s not found", charUUID)
	}

	return &tinyGoCharacteristic{char: &chars[0]}, nil
}

func (c *tinyGoConnection) Disconnect() error {
	return c.device.Disconnect()
}

func (c *tinyGoConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

func (c *tinyGoConnection) fireDisconnect() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

type tinyGoCharacteristic struct {
	char *bluetooth.DeviceCharacteristic
}

func (c *tinyGoCharacteristic) Subscribe(cb func([]byte)) error {
	return c.char.EnableNotifications(func(buf []byte) {
		// The library reuses buf between notifications.
		cp := make([]byte, len(buf))
		copy(cp, buf)
		cb(cp)
	})
}
