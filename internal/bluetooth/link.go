package bluetooth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// LinkOptions configures the peripheral link.
type LinkOptions struct {
	ServiceUUID  string
	CharUUID     string
	ReconnectMax int // max reconnect backoff in seconds
}

// DefaultLinkOptions returns sensible defaults.
func DefaultLinkOptions() LinkOptions {
	return LinkOptions{
		ServiceUUID:  DefaultServiceUUID,
		CharUUID:     DefaultTXCharUUID,
		ReconnectMax: 30,
	}
}

var errLinkClosed = errors.New("bluetooth: link closed")

// Link keeps a notification subscription open to one paired device and
// hands every decoded payload to its handler. The handler runs on the
// Bluetooth goroutine and must not block.
type Link struct {
	adapter Adapter
	address string
	handler func(payload uint32)
	opts    LinkOptions

	mu        sync.Mutex
	conn      Connection
	connected bool

	reconnecting atomic.Bool
	delivered    atomic.Uint64
	rejected     atomic.Uint64

	closeOnce sync.Once
	closed    chan struct{}
}

// NewLink creates a link to the device at address.
func NewLink(adapter Adapter, address string, handler func(payload uint32), opts LinkOptions) (*Link, error) {
	if adapter == nil {
		return nil, errors.New("bluetooth: nil adapter")
	}
	if address == "" {
		return nil, errors.New("bluetooth: device address must not be empty")
	}
	if handler == nil {
		return nil, errors.New("bluetooth: nil payload handler")
	}
	def := DefaultLinkOptions()
	if opts.ServiceUUID == "" {
		opts.ServiceUUID = def.ServiceUUID
	}
	if opts.CharUUID == "" {
		opts.CharUUID = def.CharUUID
	}
	if opts.ReconnectMax <= 0 {
		opts.ReconnectMax = def.ReconnectMax
	}
	return &Link{
		adapter: adapter,
		address: address,
		handler: handler,
		opts:    opts,
		closed:  make(chan struct{}),
	}, nil
}

// Connect enables the adapter, connects to the device and subscribes to its
// payload characteristic. Later disconnects are recovered in the background.
func (l *Link) Connect(ctx context.Context) error {
	if err := l.adapter.Enable(); err != nil {
		return fmt.Errorf("bluetooth: enable adapter: %w", err)
	}
	if err := l.dial(ctx); err != nil {
		return err
	}
	slog.Info("[BT] connected", "device", l.address)
	return nil
}

// dial connects and subscribes once.
func (l *Link) dial(ctx context.Context) error {
	conn, err := l.adapter.Connect(ctx, l.address)
	if err != nil {
		return fmt.Errorf("bluetooth: connect to %s: %w", l.address, err)
	}
	if err := l.setConnected(conn); err != nil {
		_ = conn.Disconnect()
		return err
	}
	conn.OnDisconnect(l.handleDisconnect)
	return nil
}

// setConnected subscribes to the payload characteristic and records conn.
func (l *Link) setConnected(conn Connection) error {
	char, err := conn.DiscoverCharacteristic(l.opts.ServiceUUID, l.opts.CharUUID)
	if err != nil {
		return fmt.Errorf("bluetooth: discover payload characteristic: %w", err)
	}
	if err := char.Subscribe(l.onNotify); err != nil {
		return fmt.Errorf("bluetooth: subscribe: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	select {
	case <-l.closed:
		return errLinkClosed
	default:
	}
	l.conn = conn
	l.connected = true
	return nil
}

// setDisconnected marks the link as disconnected.
func (l *Link) setDisconnected() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connected = false
	l.conn = nil
}

// Connected reports whether the link currently has a session.
func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

// Delivered returns the number of payloads handed to the handler.
func (l *Link) Delivered() uint64 {
	return l.delivered.Load()
}

// onNotify decodes a notification and forwards it.
func (l *Link) onNotify(data []byte) {
	select {
	case <-l.closed:
		return
	default:
	}
	payload, err := DecodePayload(data)
	if err != nil {
		l.rejected.Add(1)
		slog.Debug("[BT] ignoring notification", "error", err, "len", len(data))
		return
	}
	l.delivered.Add(1)
	l.handler(payload)
}

func (l *Link) handleDisconnect() {
	l.setDisconnected()
	select {
	case <-l.closed:
		return
	default:
	}
	if !l.reconnecting.CompareAndSwap(false, true) {
		return
	}
	slog.Warn("[BT] disconnected, reconnecting...", "device", l.address)
	go l.reconnectLoop()
}

// reconnectLoop attempts to reconnect with exponential backoff until it
// succeeds or the link is closed.
func (l *Link) reconnectLoop() {
	defer l.reconnecting.Store(false)

	for attempt := 0; ; attempt++ {
		// The first attempt is immediate.
		if attempt > 0 {
			delay := backoffDelay(attempt-1, l.opts.ReconnectMax)
			slog.Info("[BT] reconnect backoff", "attempt", attempt+1, "delay", delay)
			select {
			case <-l.closed:
				return
			case <-time.After(delay):
			}
		}

		select {
		case <-l.closed:
			return
		default:
		}

		if err := l.dial(context.Background()); err != nil {
			if errors.Is(err, errLinkClosed) {
				return
			}
			slog.Warn("[BT] reconnect failed", "error", err, "attempt", attempt+1)
			continue
		}
		slog.Info("[BT] reconnected", "device", l.address)
		return
	}
}

// backoffDelay returns the reconnection delay for attempt n, capped at maxSeconds.
func backoffDelay(attempt int, maxSeconds int) time.Duration {
	max := time.Duration(maxSeconds) * time.Second
	if attempt >= 30 {
		return max
	}
	delay := time.Duration(1<<uint(attempt)) * time.Second
	if delay > max {
		return max
	}
	return delay
}

// Close stops reconnection and disconnects.
func (l *Link) Close() error {
	l.closeOnce.Do(func() { close(l.closed) })

	l.mu.Lock()
	conn := l.conn
	l.conn = nil
	l.connected = false
	l.mu.Unlock()

	if conn != nil {
		return conn.Disconnect()
	}
	return nil
}
