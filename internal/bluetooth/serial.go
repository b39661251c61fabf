package bluetooth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tarm/serial"
)

// SerialOptions configures a SerialLink.
type SerialOptions struct {
	Port         string        // e.g. /dev/rfcomm0
	Baud         int           // ignored by rfcomm, used by UART bridges
	ReadTimeout  time.Duration // bound on a single read so Close is noticed
	ReconnectMax int           // max reopen backoff in seconds
}

// DefaultSerialOptions returns sensible defaults.
func DefaultSerialOptions() SerialOptions {
	return SerialOptions{
		Port:         "/dev/rfcomm0",
		Baud:         115200,
		ReadTimeout:  500 * time.Millisecond,
		ReconnectMax: 30,
	}
}

// SerialLink reads payloads from a Bluetooth serial port profile session
// bound to a tty (rfcomm) or from a UART Bluetooth module. Each read chunk is
// one payload. The handler runs on the link's read goroutine.
type SerialLink struct {
	opts    SerialOptions
	handler func(payload uint32)
	open    func() (io.ReadCloser, error)

	mu   sync.Mutex
	port io.ReadCloser

	delivered atomic.Uint64
	rejected  atomic.Uint64

	closeOnce sync.Once
	closed    chan struct{}
	started   atomic.Bool
	done      chan struct{} // closed when readLoop returns
}

// NewSerialLink creates a link on opts.Port.
func NewSerialLink(opts SerialOptions, handler func(payload uint32)) (*SerialLink, error) {
	if handler == nil {
		return nil, errors.New("bluetooth: nil payload handler")
	}
	def := DefaultSerialOptions()
	if opts.Port == "" {
		opts.Port = def.Port
	}
	if opts.Baud <= 0 {
		opts.Baud = def.Baud
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = def.ReadTimeout
	}
	if opts.ReconnectMax <= 0 {
		opts.ReconnectMax = def.ReconnectMax
	}
	s := &SerialLink{
		opts:    opts,
		handler: handler,
		closed:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	s.open = func() (io.ReadCloser, error) {
		p, err := serial.OpenPort(&serial.Config{
			Name:        s.opts.Port,
			Baud:        s.opts.Baud,
			ReadTimeout: s.opts.ReadTimeout,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	return s, nil
}

// Connect opens the port and starts reading. A port that later fails is
// reopened in the background.
func (s *SerialLink) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.isClosed() {
		return errLinkClosed
	}
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("bluetooth: serial link already connected")
	}
	port, err := s.open()
	if err != nil {
		s.started.Store(false)
		return fmt.Errorf("bluetooth: open %s: %w", s.opts.Port, err)
	}
	s.setPort(port)
	slog.Info("[BT] serial port open", "port", s.opts.Port, "baud", s.opts.Baud)
	go s.readLoop(port)
	return nil
}

func (s *SerialLink) setPort(p io.ReadCloser) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.port = p
}

// Delivered returns the number of payloads handed to the handler.
func (s *SerialLink) Delivered() uint64 {
	return s.delivered.Load()
}

func (s *SerialLink) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *SerialLink) readLoop(port io.ReadCloser) {
	defer close(s.done)

	buf := make([]byte, 64)
	for {
		n, err := port.Read(buf)
		if n > 0 {
			s.onData(buf[:n])
		}
		if s.isClosed() {
			return
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			// tarm/serial reports a read timeout as EOF.
		default:
			slog.Warn("[BT] serial read failed, reopening", "port", s.opts.Port, "error", err)
			_ = port.Close()
			if port = s.reopen(); port == nil {
				return
			}
		}
	}
}

// reopen tries to open the port with exponential backoff until it succeeds
// or the link is closed, in which case it returns nil.
func (s *SerialLink) reopen() io.ReadCloser {
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt-1, s.opts.ReconnectMax)
			select {
			case <-s.closed:
				return nil
			case <-time.After(delay):
			}
		}
		if s.isClosed() {
			return nil
		}
		port, err := s.open()
		if err != nil {
			slog.Warn("[BT] serial reopen failed", "port", s.opts.Port, "error", err, "attempt", attempt+1)
			continue
		}
		s.setPort(port)
		if s.isClosed() {
			_ = port.Close()
			return nil
		}
		slog.Info("[BT] serial port reopened", "port", s.opts.Port)
		return port
	}
}

func (s *SerialLink) onData(data []byte) {
	payload, err := DecodePayload(data)
	if err != nil {
		s.rejected.Add(1)
		slog.Debug("[BT] ignoring serial data", "error", err, "len", len(data))
		return
	}
	s.delivered.Add(1)
	s.handler(payload)
}

// Close stops the read loop and closes the port. Once the read loop has
// started, Close waits up to ReadTimeout plus a second for it to exit.
func (s *SerialLink) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })

	s.mu.Lock()
	port := s.port
	s.port = nil
	s.mu.Unlock()

	var err error
	if port != nil {
		err = port.Close()
	}
	if s.started.Load() {
		select {
		case <-s.done:
		case <-time.After(s.opts.ReadTimeout + time.Second):
			slog.Warn("[BT] serial read loop did not stop", "port", s.opts.Port)
		}
	}
	return err
}
