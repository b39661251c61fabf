package bluetooth

import (
	"context"
	"fmt"
	"time"
)

// ScanForDevices scans for peripherals advertising serviceUUID.
func ScanForDevices(adapter Adapter, serviceUUID string, timeout time.Duration) ([]Device, error) {
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("bluetooth: enable adapter: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	devices, err := adapter.Scan(ctx, serviceUUID)
	if err != nil {
		return nil, fmt.Errorf("bluetooth: scan: %w", err)
	}
	return devices, nil
}
