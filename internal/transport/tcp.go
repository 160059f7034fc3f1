package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// readBufferSize matches the largest packet a Source server sends in one frame.
const readBufferSize = 4096

// StreamConn adapts a net.Conn to the Conn interface. Any net.Conn works:
// a TCP socket from TCPDialer, a net.Pipe end in tests, a unix socket.
type StreamConn struct {
	conn   net.Conn
	logger zerolog.Logger

	mu       sync.Mutex
	handlers Handlers
	started  bool

	writeMu sync.Mutex
	closed  atomic.Bool

	connectedAt  time.Time
	lastActivity atomic.Int64
}

// Wrap turns conn into a Conn. The caller must not use conn afterwards.
func Wrap(conn net.Conn) *StreamConn {
	now := time.Now()
	c := &StreamConn{
		conn:        conn,
		connectedAt: now,
		logger: log.With().
			Str("component", "transport").
			Str("remote", conn.RemoteAddr().String()).
			Logger(),
	}
	c.lastActivity.Store(now.UnixNano())
	return c
}

// Start registers h and launches the reader goroutine.
func (c *StreamConn) Start(h Handlers) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.handlers = h
	c.mu.Unlock()

	go c.readLoop()
}

// readLoop forwards every chunk read from the stream to OnData until the
// stream fails. io.EOF and a closed socket are reported as OnClose, anything
// else as OnError.
func (c *StreamConn) readLoop() {
	buf := make([]byte, readBufferSize)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			c.lastActivity.Store(time.Now().UnixNano())
			data := make([]byte, n)
			copy(data, buf[:n])
			if h := c.active(); h != nil && h.OnData != nil {
				h.OnData(data)
			}
		}
		if err == nil {
			continue
		}

		h := c.active()
		if h == nil {
			return
		}
		if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
			c.logger.Debug().Msg("stream closed by peer")
			if h.OnClose != nil {
				h.OnClose()
			}
			return
		}

		c.logger.Warn().Err(err).Msg("stream read failed")
		if h.OnError != nil {
			h.OnError(err)
		}
		return
	}
}

// active returns the registered handlers, or nil once Close has been called.
func (c *StreamConn) active() *Handlers {
	if c.closed.Load() {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.handlers
	return &h
}

// Write sends data in a single call. Cancelling ctx or reaching its
// deadline interrupts a blocked write.
func (c *StreamConn) Write(ctx context.Context, data []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetWriteDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetWriteDeadline(time.Now())
	})
	defer func() {
		stop()
		c.conn.SetWriteDeadline(time.Time{})
	}()

	if _, err := c.conn.Write(data); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return context.DeadlineExceeded
		}
		if c.closed.Load() {
			return ErrClosed
		}
		return fmt.Errorf("failed to write %d bytes: %w", len(data), err)
	}

	c.lastActivity.Store(time.Now().UnixNano())
	return nil
}

// Close unregisters the handlers and closes the underlying stream.
func (c *StreamConn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.mu.Lock()
	c.handlers = Handlers{}
	c.mu.Unlock()

	c.logger.Debug().
		Dur("lifetime", time.Since(c.connectedAt)).
		Msg("connection closed")
	return c.conn.Close()
}

// IsClosed returns whether Close has been called.
func (c *StreamConn) IsClosed() bool {
	return c.closed.Load()
}

// LastActivity returns the time of the last successful read or write.
func (c *StreamConn) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// RemoteAddr returns the remote address of the stream.
func (c *StreamConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// TCPDialer dials plain TCP connections.
type TCPDialer struct {
	// KeepAlive is passed to net.Dialer. Zero uses the Go default.
	KeepAlive time.Duration
}

// Dial connects to host:port and disables Nagle's algorithm, since RCON
// traffic is small request/response frames.
func (d TCPDialer) Dial(ctx context.Context, host string, port int) (Conn, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	dialer := net.Dialer{KeepAlive: d.KeepAlive}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := tcpConn.SetNoDelay(true); err != nil {
			log.Debug().Err(err).Str("addr", addr).Msg("failed to disable nagle")
		}
	}

	log.Debug().Str("component", "transport").Str("addr", addr).Msg("tcp connection established")
	return Wrap(conn), nil
}
