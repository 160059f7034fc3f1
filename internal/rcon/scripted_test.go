package rcon

import (
	"context"
	"sync"

	"github.com/energizer-project/rconsole/internal/protocol"
	"github.com/energizer-project/rconsole/internal/transport"
)

// scriptedConn is an in-memory transport.Conn. Every packet the client writes
// is handed to a responder, which answers through deliver, reply or fail.
type scriptedConn struct {
	dialer *scriptedDialer

	mu       sync.Mutex
	handlers transport.Handlers
	written  []protocol.Packet
	closed   bool
	writeErr error

	// deliverMu keeps events from overlapping, as a real reader goroutine would.
	deliverMu sync.Mutex
}

func (s *scriptedConn) Start(h transport.Handlers) {
	s.mu.Lock()
	s.handlers = h
	s.mu.Unlock()
}

func (s *scriptedConn) Write(_ context.Context, data []byte) error {
	p, _ := protocol.Deserialize(data)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return transport.ErrClosed
	}
	if s.writeErr != nil {
		s.mu.Unlock()
		return s.writeErr
	}
	s.written = append(s.written, *p)
	s.mu.Unlock()

	respond := s.dialer.respond
	if p.Type == protocol.TypeAuth {
		respond = s.dialer.auth
	}
	if respond != nil {
		go func() {
			s.deliverMu.Lock()
			defer s.deliverMu.Unlock()
			respond(s, *p)
		}()
	}
	return nil
}

func (s *scriptedConn) Close() error {
	s.mu.Lock()
	s.closed = true
	s.handlers = transport.Handlers{}
	s.mu.Unlock()
	return nil
}

func (s *scriptedConn) active() transport.Handlers {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handlers
}

func (s *scriptedConn) deliver(data []byte) {
	if h := s.active(); h.OnData != nil {
		h.OnData(data)
	}
}

func (s *scriptedConn) reply(id, packetType int32, body string) {
	s.deliver(protocol.Serialize(protocol.Packet{ID: id, Type: packetType, Body: body}))
}

func (s *scriptedConn) fail(err error) {
	if h := s.active(); h.OnError != nil {
		h.OnError(err)
	}
}

// breakWrites makes every later Write fail with err.
func (s *scriptedConn) breakWrites(err error) {
	s.mu.Lock()
	s.writeErr = err
	s.mu.Unlock()
}

func (s *scriptedConn) packets() []protocol.Packet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Packet(nil), s.written...)
}

func (s *scriptedConn) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// scriptedDialer hands out scriptedConns. auth answers Auth packets and
// defaults to accepting any password; respond answers everything else.
type scriptedDialer struct {
	auth    func(conn *scriptedConn, p protocol.Packet)
	respond func(conn *scriptedConn, p protocol.Packet)

	mu    sync.Mutex
	conns []*scriptedConn
}

func newScriptedDialer(respond func(conn *scriptedConn, p protocol.Packet)) *scriptedDialer {
	return &scriptedDialer{
		respond: respond,
		auth: func(conn *scriptedConn, p protocol.Packet) {
			conn.reply(p.ID, protocol.TypeAuthResponse, "")
		},
	}
}

func (d *scriptedDialer) Dial(context.Context, string, int) (transport.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	conn := &scriptedConn{dialer: d}
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *scriptedDialer) current() *scriptedConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[len(d.conns)-1]
}

func (d *scriptedDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}
