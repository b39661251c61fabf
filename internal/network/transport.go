// Package network implements the device side of the TCP link to the remote
// controller: one connection to a fixed peer, a one-byte outbound slot, a
// bounded receive each tick, and a full reconnect whenever the socket fails.
package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lorsi96/pdm/internal/network/protocol"
)

// ErrNotConnected is returned by operations that need an open connection.
var ErrNotConnected = errors.New("network: not connected")

// Dialer opens stream connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Options configures the transport.
type Options struct {
	Address        string        // peer host:port
	DialTimeout    time.Duration // bound on a single connect attempt
	IOTimeout      time.Duration // bound on a single read or write
	RecvBufferSize int           // max bytes read per poll
	RetryInterval  time.Duration // min spacing of dials while disconnected
}

// DefaultOptions returns the firmware defaults.
func DefaultOptions() Options {
	return Options{
		Address:        "192.168.0.14:3333",
		DialTimeout:    3 * time.Second,
		IOTimeout:      20 * time.Millisecond,
		RecvBufferSize: 128,
		RetryInterval:  2 * time.Second,
	}
}

// Transport owns the connection to the remote controller. Connect, Poll and
// Close must be called from a single goroutine (the controller loop). Send
// is safe for concurrent use.
type Transport struct {
	opts   Options
	dialer Dialer

	// conn is owned by the polling goroutine; it is replaced, never reused,
	// on reconnect.
	conn     net.Conn
	rxBuf    []byte
	lastDial time.Time

	mu          sync.Mutex
	outbound    byte
	sendPending bool

	reconnects atomic.Uint64
}

// New creates a transport. If dialer is nil a *net.Dialer is used.
func New(opts Options, dialer Dialer) *Transport {
	def := DefaultOptions()
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = def.DialTimeout
	}
	if opts.IOTimeout <= 0 {
		opts.IOTimeout = def.IOTimeout
	}
	if opts.RecvBufferSize <= 0 {
		opts.RecvBufferSize = def.RecvBufferSize
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = def.RetryInterval
	}
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	return &Transport{
		opts:   opts,
		dialer: dialer,
		rxBuf:  make([]byte, opts.RecvBufferSize),
	}
}

// Connect dials the peer once. Failures are returned, not retried.
func (t *Transport) Connect(ctx context.Context) error {
	dctx, cancel := context.WithTimeout(ctx, t.opts.DialTimeout)
	defer cancel()

	slog.Info("[NET] connecting", "addr", t.opts.Address)
	t.lastDial = time.Now()
	conn, err := t.dialer.DialContext(dctx, "tcp", t.opts.Address)
	if err != nil {
		return fmt.Errorf("network: dial %s: %w", t.opts.Address, err)
	}
	t.conn = conn
	slog.Info("[NET] connected", "addr", t.opts.Address)
	return nil
}

// ConnectRetry calls Connect every interval until it succeeds or ctx is
// done.
func (t *Transport) ConnectRetry(ctx context.Context, interval time.Duration) error {
	for attempt := 1; ; attempt++ {
		err := t.Connect(ctx)
		if err == nil {
			return nil
		}
		slog.Warn("[NET] connect failed", "error", err, "attempt", attempt, "retry_in", interval)

		select {
		case <-ctx.Done():
			return fmt.Errorf("network: giving up after %d attempts: %w", attempt, ctx.Err())
		case <-time.After(interval):
		}
	}
}

// Connected reports whether a connection is currently open.
func (t *Transport) Connected() bool {
	return t.conn != nil
}

// Reconnects returns the number of teardown-and-reconnect cycles so far.
func (t *Transport) Reconnects() uint64 {
	return t.reconnects.Load()
}

// Send stores code for transmission on the next poll. Only one byte is held:
// a newer code replaces an unsent one.
func (t *Transport) Send(code uint8) {
	b, err := protocol.Encode(code)
	if err != nil {
		slog.Warn("[NET] dropping unencodable reply", "code", code, "error", err)
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.outbound = b
	t.sendPending = true
}

// SendPending reports whether a byte is waiting to be sent.
func (t *Transport) SendPending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sendPending
}

// takeOutbound claims the pending byte, if any. The byte is claimed before
// the write so a failed send is never repeated.
func (t *Transport) takeOutbound() (byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.sendPending {
		return 0, false
	}
	t.sendPending = false
	return t.outbound, true
}

// Poll runs one send/receive cycle. It flushes the pending byte, then reads
// whatever the peer has sent within the I/O timeout and returns the first
// byte decoded as a digit. Socket errors trigger a single reconnect attempt
// and are never returned. While disconnected, Poll dials at most once per
// RetryInterval.
func (t *Transport) Poll(ctx context.Context) (uint32, bool) {
	if t.conn == nil {
		if time.Since(t.lastDial) >= t.opts.RetryInterval {
			t.reconnect(ctx, ErrNotConnected)
		}
		return 0, false
	}

	if b, ok := t.takeOutbound(); ok {
		if err := t.write(b); err != nil {
			t.reconnect(ctx, err)
			if t.conn == nil {
				return 0, false
			}
		} else {
			slog.Debug("[NET] sent", "byte", string(b))
		}
	}

	n, err := t.read()
	if err != nil {
		t.reconnect(ctx, err)
		return 0, false
	}
	if n == 0 {
		return 0, false
	}
	slog.Info("[NET] received", "bytes", n, "addr", t.opts.Address)
	return protocol.DecodeLenient(t.rxBuf[0]), true
}

func (t *Transport) write(b byte) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.opts.IOTimeout)); err != nil {
		return fmt.Errorf("network: set write deadline: %w", err)
	}
	if _, err := t.conn.Write([]byte{b}); err != nil {
		return fmt.Errorf("network: send: %w", err)
	}
	return nil
}

// read returns the number of bytes received. A timeout means nothing was
// waiting and is not an error.
func (t *Transport) read() (int, error) {
	if err := t.conn.SetReadDeadline(time.Now().Add(t.opts.IOTimeout)); err != nil {
		return 0, fmt.Errorf("network: set read deadline: %w", err)
	}
	n, err := t.conn.Read(t.rxBuf)
	if n > 0 {
		return n, nil
	}
	switch {
	case err == nil:
		return 0, nil
	case isTimeout(err):
		return 0, nil
	case errors.Is(err, io.EOF):
		return 0, fmt.Errorf("network: peer closed connection: %w", err)
	default:
		return 0, fmt.Errorf("network: receive: %w", err)
	}
}

// reconnect closes the current socket, discards it, and dials once.
func (t *Transport) reconnect(ctx context.Context, cause error) {
	slog.Error("[NET] shutting down socket and restarting", "error", cause)
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
	t.reconnects.Add(1)
	if err := t.Connect(ctx); err != nil {
		slog.Warn("[NET] reconnect failed", "error", err)
	}
}

// Close shuts the connection down.
func (t *Transport) Close() error {
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
