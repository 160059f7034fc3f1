// Package rcon implements a Source RCON client: authentication, request/reply
// correlation over a single connection, per-request timeouts and connection
// statistics.
package rcon

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rconsole/internal/events"
	"github.com/energizer-project/rconsole/internal/protocol"
	"github.com/energizer-project/rconsole/internal/transport"
)

// Options describe how to reach and authenticate against a server.
type Options struct {
	Host     string
	Port     int
	Password string

	// Timeout bounds dialing, each write, and each wait for a reply.
	// Zero disables it; the caller's context still applies.
	Timeout time.Duration

	// LogAuthPackets includes the password in debug packet logs.
	LogAuthPackets bool
}

// merge copies the non-zero fields of o into dst.
func (o Options) merge(dst *Options) {
	if o.Host != "" {
		dst.Host = o.Host
	}
	if o.Port != 0 {
		dst.Port = o.Port
	}
	if o.Password != "" {
		dst.Password = o.Password
	}
	if o.Timeout != 0 {
		dst.Timeout = o.Timeout
	}
	if o.LogAuthPackets {
		dst.LogAuthPackets = true
	}
}

// validate checks that o can be used to connect.
func (o Options) validate() error {
	if o.Host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidOptions)
	}
	if o.Port < 1 || o.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidOptions, o.Port)
	}
	if o.Password == "" {
		return fmt.Errorf("%w: password is required", ErrInvalidPassword)
	}
	return nil
}

// Address returns host:port.
func (o Options) Address() string {
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

// Stats is a snapshot of connection health.
type Stats struct {
	IsConnected         bool
	LastResponseLatency time.Duration
	LastResponseAt      time.Time
}

// ClientOption customises a Client at construction.
type ClientOption func(*Client)

// WithDialer replaces the default TCP dialer.
func WithDialer(d transport.Dialer) ClientOption {
	return func(c *Client) { c.dialer = d }
}

// WithEventBus makes the client publish on a shared bus instead of its own.
// The client does not stop a bus it did not create.
func WithEventBus(bus *events.EventBus) ClientOption {
	return func(c *Client) {
		c.bus = bus
		c.ownsBus = false
	}
}

// pending is one in-flight request.
type pending struct {
	id          int32
	seq         uint64
	auth        bool
	requestedAt time.Time
	respondedAt time.Time
	result      chan result
}

type result struct {
	packet *protocol.Packet
	err    error
}

// Client is an RCON client. It connects lazily on the first Exec and is safe
// for concurrent use; concurrent requests share one connection and are told
// apart by packet id.
type Client struct {
	dialer  transport.Dialer
	bus     *events.EventBus
	ownsBus bool
	source  string
	logger  zerolog.Logger

	// connectMu serialises connection attempts.
	connectMu sync.Mutex

	mu   sync.Mutex
	opts Options
	// session holds the options the open connection was made with.
	session  Options
	state    events.ConnectionState
	conn     transport.Conn
	buffer   []byte
	nextID   int32
	requests map[int32]*pending
	stats    Stats
	closed   bool

	// seq orders requests across id wraps; newestSeq is the newest request
	// whose reply has been counted in stats.
	seq       uint64
	newestSeq uint64

	closeOnce   sync.Once
	observerSeq atomic.Int64
}

// New creates a disconnected client.
func New(opts Options, options ...ClientOption) *Client {
	c := &Client{
		dialer:   transport.TCPDialer{},
		bus:      events.NewEventBus(),
		ownsBus:  true,
		requests: make(map[int32]*pending),
	}
	opts.merge(&c.opts)
	for _, o := range options {
		o(c)
	}
	c.source = fmt.Sprintf("rcon@%p", c)
	c.logger = log.With().Str("component", "rcon").Logger()
	return c
}

// Configure merges the non-zero fields of opts into the stored options. An
// open connection keeps its settings until the next Disconnect.
func (c *Client) Configure(opts Options) {
	c.mu.Lock()
	defer c.mu.Unlock()
	opts.merge(&c.opts)
}

// Options returns the stored options.
func (c *Client) Options() Options {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts
}

// State returns the connection state.
func (c *Client) State() events.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// EventBus returns the bus the client publishes on.
func (c *Client) EventBus() *events.EventBus {
	return c.bus
}

// Connect opens and authenticates the connection. It is a no-op when the
// client is already connected. On failure nothing is left open.
func (c *Client) Connect(ctx context.Context, opts ...Options) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	for _, o := range opts {
		o.merge(&c.opts)
	}
	ready := c.state == events.StateReady
	c.mu.Unlock()
	if ready {
		return nil
	}

	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	if c.state == events.StateReady {
		c.mu.Unlock()
		return nil
	}
	cfg := c.opts
	c.mu.Unlock()

	if err := cfg.validate(); err != nil {
		return err
	}

	logger := c.logger.With().Str("addr", cfg.Address()).Logger()
	c.setState(events.StateConnecting)

	conn, err := c.dial(ctx, cfg)
	if err != nil {
		c.setState(events.StateDisconnected)
		logger.Warn().Err(err).Msg("failed to connect")
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.state = events.StateDisconnected
		c.mu.Unlock()
		conn.Close()
		return ErrClientClosed
	}
	c.conn = conn
	c.session = cfg
	c.buffer = nil
	c.state = events.StateAuthenticating
	c.mu.Unlock()

	conn.Start(transport.Handlers{
		OnData:  func(data []byte) { c.handleData(conn, data) },
		OnError: func(err error) { c.handleError(conn, err) },
		OnClose: func() { c.handleClose(conn) },
	})

	reply, err := c.send(ctx, protocol.TypeAuth, cfg.Password)
	if err == nil && reply.ID == protocol.AuthFailedID {
		err = ErrInvalidPassword
	}
	if err != nil {
		c.disconnect(conn, ErrTCPConnectionClosed)
		logger.Warn().Err(err).Msg("authentication failed")
		return err
	}

	c.mu.Lock()
	if c.conn != conn {
		// Disconnected while the handshake reply was being delivered.
		c.mu.Unlock()
		return ErrTCPConnectionClosed
	}
	c.state = events.StateReady
	c.stats.IsConnected = true
	snap := c.stats
	c.mu.Unlock()

	logger.Info().Msg("rcon connection established")
	c.emitStats(events.EventConnected, cfg.Address(), snap)
	return nil
}

// dial opens the transport, racing it against cfg.Timeout.
func (c *Client) dial(ctx context.Context, cfg Options) (transport.Conn, error) {
	dialCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	conn, err := c.dialer.Dial(dialCtx, cfg.Host, cfg.Port)
	if err != nil {
		if ctx.Err() == nil && errors.Is(dialCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: connecting to %s after %s", ErrTimeout, cfg.Address(), cfg.Timeout)
		}
		return nil, fmt.Errorf("%w: %w", ErrTCPConnectionOpen, err)
	}
	if dialCtx.Err() != nil {
		conn.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: connecting to %s after %s", ErrTimeout, cfg.Address(), cfg.Timeout)
	}
	return conn, nil
}

// Disconnect closes the connection and fails every outstanding request with
// ErrTCPConnectionClosed. It is safe to call at any time.
func (c *Client) Disconnect() {
	c.disconnect(nil, ErrTCPConnectionClosed)
}

// disconnect tears down the current connection. When only is non-nil the
// call is ignored unless only is still the current connection.
func (c *Client) disconnect(only transport.Conn, reason error) {
	c.mu.Lock()
	if only != nil && c.conn != only {
		c.mu.Unlock()
		return
	}

	conn := c.conn
	existed := conn != nil
	addr := c.session.Address()

	c.conn = nil
	c.session = Options{}
	c.rejectAllLocked(reason)
	c.buffer = nil
	c.nextID = 0
	c.seq = 0
	c.newestSeq = 0
	c.state = events.StateDisconnected
	c.stats.IsConnected = false
	snap := c.stats
	c.mu.Unlock()

	if !existed {
		return
	}

	conn.Close()
	c.logger.Info().Str("addr", addr).AnErr("reason", reason).Msg("rcon connection closed")
	c.emitStats(events.EventDisconnected, addr, snap)
}

// rejectAllLocked settles every outstanding request with err.
func (c *Client) rejectAllLocked(err error) {
	for key, p := range c.requests {
		delete(c.requests, key)
		if key == protocol.AuthFailedID && p.id != key {
			continue // alias of the auth request
		}
		p.result <- result{err: err}
	}
}

// Exec runs command and returns the server's reply body, connecting first
// if needed.
func (c *Client) Exec(ctx context.Context, command string) (string, error) {
	if err := c.Connect(ctx); err != nil {
		return "", err
	}

	c.mu.Lock()
	addr := c.session.Address()
	c.mu.Unlock()

	start := time.Now()
	reply, err := c.send(ctx, protocol.TypeExecCommand, command)

	payload := events.CommandPayload{
		Address:  addr,
		Command:  command,
		Duration: time.Since(start),
	}
	eventType := events.EventCommandExecuted
	if err != nil {
		payload.Error = err.Error()
		eventType = events.EventCommandFailed
	} else {
		payload.Response = reply.Body
	}
	c.bus.Emit(context.Background(), events.Event{Type: eventType, Source: c.source, Payload: payload})

	if err != nil {
		return "", err
	}
	return reply.Body, nil
}

// send writes one packet and waits for the reply carrying the same id.
func (c *Client) send(ctx context.Context, packetType int32, body string) (*protocol.Packet, error) {
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return nil, ErrTCPConnectionClosed
	}

	c.seq++
	p := &pending{
		id:          c.allocateIDLocked(),
		seq:         c.seq,
		auth:        packetType == protocol.TypeAuth,
		requestedAt: time.Now(),
		result:      make(chan result, 1),
	}
	c.requests[p.id] = p
	if p.auth {
		c.requests[protocol.AuthFailedID] = p
	}
	timeout := c.session.Timeout
	logAuth := c.session.LogAuthPackets
	c.mu.Unlock()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	packet := protocol.Packet{ID: p.id, Type: packetType, Body: body}
	c.logPacket("send", packet, logAuth)

	if err := conn.Write(ctx, protocol.Serialize(packet)); err != nil {
		if !c.remove(p) {
			// Settled by a disconnect while writing.
			r := <-p.result
			return r.packet, r.err
		}
		// A partial frame may be on the wire; the stream is no longer aligned.
		writeErr := fmt.Errorf("%w: %w", ErrTCPWrite, err)
		c.disconnect(conn, writeErr)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, c.contextError(ctxErr, timeout)
		}
		return nil, writeErr
	}

	select {
	case r := <-p.result:
		return r.packet, r.err
	case <-ctx.Done():
		if !c.remove(p) {
			r := <-p.result
			return r.packet, r.err
		}
		return nil, c.contextError(ctx.Err(), timeout)
	}
}

// contextError maps a context failure to the error returned to callers.
func (c *Client) contextError(err error, timeout time.Duration) error {
	if errors.Is(err, context.DeadlineExceeded) {
		if timeout > 0 {
			return fmt.Errorf("%w: no response within %s", ErrTimeout, timeout)
		}
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}

// allocateIDLocked returns the next free request id, wrapping to 0 after
// math.MaxInt32.
func (c *Client) allocateIDLocked() int32 {
	for {
		id := c.nextID
		if id == math.MaxInt32 {
			c.nextID = 0
		} else {
			c.nextID = id + 1
		}
		if _, busy := c.requests[id]; !busy {
			return id
		}
	}
}

// remove takes p out of the request table. It reports false when p was
// already settled by someone else.
func (c *Client) remove(p *pending) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.requests[p.id] != p {
		return false
	}
	delete(c.requests, p.id)
	if p.auth && c.requests[protocol.AuthFailedID] == p {
		delete(c.requests, protocol.AuthFailedID)
	}
	return true
}

// handleData appends data to the receive buffer and settles every request
// whose reply is now complete.
func (c *Client) handleData(conn transport.Conn, data []byte) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}

	c.buffer = append(c.buffer, data...)
	logAuth := c.session.LogAuthPackets
	statsChanged := false
	var packets []protocol.Packet

	for {
		packet, rest := protocol.Deserialize(c.buffer)
		if packet == nil {
			break
		}
		c.buffer = rest
		packets = append(packets, *packet)
		if c.resolveLocked(packet) {
			statsChanged = true
		}
	}
	corrupt := protocol.Corrupt(c.buffer)
	// The handshake reply is reported by EventConnected instead.
	statsChanged = statsChanged && c.state == events.StateReady
	snap := c.stats
	addr := c.session.Address()
	c.mu.Unlock()

	for _, p := range packets {
		c.logPacket("recv", p, logAuth)
	}

	if corrupt {
		c.logger.Error().Str("addr", addr).Msg("received malformed packet length, dropping connection")
		c.disconnect(conn, fmt.Errorf("%w: %w", ErrTCPConnection, protocol.ErrMalformedPacket))
		return
	}
	if statsChanged {
		c.emitStats(events.EventStats, addr, snap)
	}
}

// resolveLocked settles the request packet answers. It reports whether the
// connection stats changed.
func (c *Client) resolveLocked(packet *protocol.Packet) bool {
	p, ok := c.requests[packet.ID]
	if !ok {
		c.logger.Debug().Int32("id", packet.ID).Msg("dropping reply with no matching request")
		return false
	}

	// Servers answer an auth request with an empty RESPONSE_VALUE before the
	// AUTH_RESPONSE itself.
	if p.auth && packet.Type == protocol.TypeResponseValue {
		return false
	}

	delete(c.requests, p.id)
	if p.auth && c.requests[protocol.AuthFailedID] == p {
		delete(c.requests, protocol.AuthFailedID)
	}

	p.respondedAt = time.Now()
	p.result <- result{packet: packet}

	// The handshake is not a command round trip.
	if p.auth || p.seq <= c.newestSeq {
		return false
	}
	c.newestSeq = p.seq
	c.stats.LastResponseLatency = p.respondedAt.Sub(p.requestedAt)
	c.stats.LastResponseAt = p.respondedAt
	return true
}

func (c *Client) handleError(conn transport.Conn, err error) {
	c.disconnect(conn, fmt.Errorf("%w: %w", ErrTCPConnection, err))
}

func (c *Client) handleClose(conn transport.Conn) {
	c.disconnect(conn, ErrTCPConnectionClosed)
}

func (c *Client) setState(s events.ConnectionState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Client) logPacket(direction string, p protocol.Packet, logAuth bool) {
	e := c.logger.Debug()
	if !e.Enabled() {
		return
	}
	if logAuth && p.Type == protocol.TypeAuth {
		e = e.Str("body", p.Body)
	}
	e.Str("dir", direction).Stringer("packet", p).Msg("rcon packet")
}

// Stats returns a snapshot of the connection statistics.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// ObserveStats calls fn with a fresh snapshot on connect, on disconnect and
// whenever a reply to a newer request arrives. fn runs on the goroutine that
// caused the change and must not call back into the client. The returned
// function removes the observer.
func (c *Client) ObserveStats(fn func(Stats)) (unsubscribe func()) {
	// Names are per client so observers of clients sharing a bus never collide.
	name := fmt.Sprintf("%s/stats-observer-%d", c.source, c.observerSeq.Add(1))
	handler := func(_ context.Context, e events.Event) error {
		if e.Source != c.source {
			return nil
		}
		if p, ok := e.Payload.(events.StatsPayload); ok {
			fn(Stats{
				IsConnected:         p.IsConnected,
				LastResponseLatency: p.LastResponseLatency,
				LastResponseAt:      p.LastResponseAt,
			})
		}
		return nil
	}

	types := []events.EventType{events.EventConnected, events.EventDisconnected, events.EventStats}
	for _, t := range types {
		c.bus.Subscribe(t, name, handler)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			for _, t := range types {
				c.bus.Unsubscribe(t, name)
			}
		})
	}
}

func (c *Client) emitStats(t events.EventType, addr string, s Stats) {
	c.bus.EmitSync(context.Background(), events.Event{
		Type:   t,
		Source: c.source,
		Payload: events.StatsPayload{
			Address:             addr,
			IsConnected:         s.IsConnected,
			LastResponseLatency: s.LastResponseLatency,
			LastResponseAt:      s.LastResponseAt,
		},
	})
}

// Close disconnects and disposes of the client. Later calls to Connect and
// Exec fail with ErrClientClosed. Close is idempotent.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		c.Disconnect()
		if c.ownsBus {
			c.bus.Stop()
		}
	})
	return nil
}
