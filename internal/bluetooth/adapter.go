// Package bluetooth provides the peripheral link: a Bluetooth serial session
// with a paired device whose messages are small integer payloads. Payloads
// are delivered to a callback from the Bluetooth stack's goroutine.
package bluetooth

import "context"

// Default serial service (Nordic UART Service). The device notifies on the
// TX characteristic.
const (
	DefaultServiceUUID = "6e400001-b5a3-f393-e0a9-e50e24dcca9e"
	DefaultTXCharUUID  = "6e400003-b5a3-f393-e0a9-e50e24dcca9e"
)

// Characteristic represents a GATT characteristic.
type Characteristic interface {
	// Subscribe registers a callback for notifications on this characteristic.
	Subscribe(callback func(data []byte)) error
}

// Device represents a discovered peripheral.
type Device struct {
	Name    string
	Address string
	RSSI    int
}

// Connection represents an active connection to a peripheral.
type Connection interface {
	// DiscoverCharacteristic finds a characteristic by UUID within a service.
	DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error)
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the connection drops.
	OnDisconnect(callback func())
}

// Adapter abstracts the host Bluetooth adapter for testing.
type Adapter interface {
	// Enable powers on the adapter.
	Enable() error
	// Scan discovers peripherals advertising the given service UUID until
	// ctx is done.
	Scan(ctx context.Context, serviceUUID string) ([]Device, error)
	// Connect establishes a connection to the device at address.
	Connect(ctx context.Context, address string) (Connection, error)
}
