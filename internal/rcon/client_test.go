package rcon

import (
	"context"
	"errors"
	"math"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/rconsole/internal/events"
	"github.com/energizer-project/rconsole/internal/protocol"
	"github.com/energizer-project/rconsole/internal/transport"
)

const testPassword = "password"

// fakeServer speaks RCON over net.Pipe connections. Exec packets are passed to
// handle, which returns the replies to send back.
type fakeServer struct {
	password string
	handle   func(conn net.Conn, p protocol.Packet) []protocol.Packet

	dials    atomic.Int32
	lastHost string
	lastPort int
	mu       sync.Mutex
}

func newFakeServer(handle func(conn net.Conn, p protocol.Packet) []protocol.Packet) *fakeServer {
	return &fakeServer{password: testPassword, handle: handle}
}

func (s *fakeServer) Dial(ctx context.Context, host string, port int) (transport.Conn, error) {
	s.dials.Add(1)
	s.mu.Lock()
	s.lastHost, s.lastPort = host, port
	s.mu.Unlock()

	client, server := net.Pipe()
	go s.serve(server)
	return transport.Wrap(client), nil
}

func (s *fakeServer) serve(conn net.Conn) {
	defer conn.Close()
	for {
		p, err := protocol.ReadPacket(conn)
		if err != nil {
			return
		}

		var replies []protocol.Packet
		switch p.Type {
		case protocol.TypeAuth:
			id := p.ID
			if p.Body != s.password {
				id = protocol.AuthFailedID
			}
			replies = []protocol.Packet{
				{ID: p.ID, Type: protocol.TypeResponseValue},
				{ID: id, Type: protocol.TypeAuthResponse},
			}
		case protocol.TypeExecCommand:
			if s.handle != nil {
				replies = s.handle(conn, *p)
			}
		}

		for _, r := range replies {
			if err := protocol.WritePacket(conn, r); err != nil {
				return
			}
		}
	}
}

func echo(body string) func(net.Conn, protocol.Packet) []protocol.Packet {
	return func(_ net.Conn, p protocol.Packet) []protocol.Packet {
		return []protocol.Packet{{ID: p.ID, Type: protocol.TypeResponseValue, Body: body}}
	}
}

func testOptions() Options {
	return Options{Host: "localhost", Port: 25575, Password: testPassword, Timeout: 2 * time.Second}
}

func TestExecListScenario(t *testing.T) {
	srv := newFakeServer(func(_ net.Conn, p protocol.Packet) []protocol.Packet {
		if p.Body != "list" {
			return []protocol.Packet{{ID: p.ID, Type: protocol.TypeResponseValue, Body: "Unknown command"}}
		}
		return []protocol.Packet{{ID: p.ID, Type: protocol.TypeResponseValue, Body: "There are 0 of a max of 20 players online: "}}
	})
	c := New(testOptions(), WithDialer(srv))
	defer c.Close()

	got, err := c.Exec(context.Background(), "list")
	require.NoError(t, err)
	assert.Equal(t, "There are 0 of a max of 20 players online: ", got)
	assert.Equal(t, events.StateReady, c.State())
	assert.True(t, c.Stats().IsConnected)
	assert.Equal(t, int32(1), srv.dials.Load())

	// The second command reuses the connection.
	_, err = c.Exec(context.Background(), "list")
	require.NoError(t, err)
	assert.Equal(t, int32(1), srv.dials.Load())
}

func TestConnectInvalidPassword(t *testing.T) {
	srv := newFakeServer(nil)
	opts := testOptions()
	opts.Password = "wrong"
	c := New(opts, WithDialer(srv))
	defer c.Close()

	err := c.Connect(context.Background())
	assert.ErrorIs(t, err, ErrInvalidPassword)
	assert.Equal(t, events.StateDisconnected, c.State())
	assert.False(t, c.Stats().IsConnected)

	c.mu.Lock()
	assert.Empty(t, c.requests)
	assert.Nil(t, c.conn)
	c.mu.Unlock()
}

func TestConnectValidatesOptions(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want error
	}{
		{"missing host", Options{Port: 25575, Password: "x"}, ErrInvalidOptions},
		{"missing port", Options{Host: "localhost", Password: "x"}, ErrInvalidOptions},
		{"port too large", Options{Host: "localhost", Port: 70000, Password: "x"}, ErrInvalidOptions},
		{"missing password", Options{Host: "localhost", Port: 25575}, ErrInvalidPassword},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newFakeServer(nil)
			c := New(tt.opts, WithDialer(srv))
			defer c.Close()

			_, err := c.Exec(context.Background(), "list")
			assert.ErrorIs(t, err, tt.want)
			assert.Zero(t, srv.dials.Load())
		})
	}
}

func TestConfigureThenExec(t *testing.T) {
	srv := newFakeServer(echo("ok"))
	c := New(Options{}, WithDialer(srv))
	defer c.Close()

	c.Configure(Options{Host: "mc.example.com"})
	c.Configure(Options{Port: 25576, Password: testPassword})

	got, err := c.Exec(context.Background(), "say hi")
	require.NoError(t, err)
	assert.Equal(t, "ok", got)

	srv.mu.Lock()
	defer srv.mu.Unlock()
	assert.Equal(t, "mc.example.com", srv.lastHost)
	assert.Equal(t, 25576, srv.lastPort)
}

func TestConfigureDoesNotAffectOpenConnection(t *testing.T) {
	srv := newFakeServer(func(_ net.Conn, p protocol.Packet) []protocol.Packet {
		if p.Body == "slow" {
			time.Sleep(200 * time.Millisecond)
		}
		return []protocol.Packet{{ID: p.ID, Type: protocol.TypeResponseValue, Body: "ok"}}
	})
	c := New(testOptions(), WithDialer(srv))
	defer c.Close()

	executed := make(chan events.CommandPayload, 1)
	c.EventBus().Subscribe(events.EventCommandExecuted, "test", func(_ context.Context, e events.Event) error {
		executed <- e.Payload.(events.CommandPayload)
		return nil
	})

	require.NoError(t, c.Connect(context.Background()))
	c.Configure(Options{Host: "other.example.com", Password: "wrong", Timeout: 50 * time.Millisecond})

	// The open session keeps its 2s timeout and its address.
	got, err := c.Exec(context.Background(), "slow")
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, int32(1), srv.dials.Load())

	select {
	case payload := <-executed:
		assert.Equal(t, "localhost:25575", payload.Address)
	case <-time.After(time.Second):
		t.Fatal("command event not emitted")
	}

	// The new options apply from the next connection on.
	c.Disconnect()
	_, err = c.Exec(context.Background(), "list")
	assert.ErrorIs(t, err, ErrInvalidPassword)

	srv.mu.Lock()
	defer srv.mu.Unlock()
	assert.Equal(t, "other.example.com", srv.lastHost)
}

func TestExecTimeout(t *testing.T) {
	srv := newFakeServer(func(_ net.Conn, p protocol.Packet) []protocol.Packet {
		if p.Body == "hang" {
			return nil
		}
		return []protocol.Packet{{ID: p.ID, Type: protocol.TypeResponseValue, Body: "ok"}}
	})
	opts := testOptions()
	opts.Timeout = 50 * time.Millisecond
	c := New(opts, WithDialer(srv))
	defer c.Close()

	_, err := c.Exec(context.Background(), "hang")
	assert.ErrorIs(t, err, ErrTimeout)

	c.mu.Lock()
	assert.Empty(t, c.requests)
	c.mu.Unlock()

	// A timeout does not drop the connection.
	got, err := c.Exec(context.Background(), "list")
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, int32(1), srv.dials.Load())
}

func TestExecCallerCancellation(t *testing.T) {
	srv := newFakeServer(func(net.Conn, protocol.Packet) []protocol.Packet { return nil })
	c := New(testOptions(), WithDialer(srv))
	defer c.Close()
	require.NoError(t, c.Connect(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := c.Exec(ctx, "hang")
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestOutOfOrderReplies(t *testing.T) {
	firstSeen := make(chan struct{})
	var held protocol.Packet

	srv := newFakeServer(func(_ net.Conn, p protocol.Packet) []protocol.Packet {
		switch p.Body {
		case "first":
			held = p
			close(firstSeen)
			return nil
		case "second":
			return []protocol.Packet{
				{ID: p.ID, Type: protocol.TypeResponseValue, Body: "reply to second"},
				{ID: held.ID, Type: protocol.TypeResponseValue, Body: "reply to first"},
			}
		}
		return nil
	})
	c := New(testOptions(), WithDialer(srv))
	defer c.Close()
	require.NoError(t, c.Connect(context.Background()))

	type reply struct {
		body string
		err  error
	}
	firstDone := make(chan reply, 1)
	go func() {
		body, err := c.Exec(context.Background(), "first")
		firstDone <- reply{body, err}
	}()

	<-firstSeen
	second, err := c.Exec(context.Background(), "second")
	require.NoError(t, err)
	assert.Equal(t, "reply to second", second)

	first := <-firstDone
	require.NoError(t, first.err)
	assert.Equal(t, "reply to first", first.body)
}

func TestConcurrentExec(t *testing.T) {
	srv := newFakeServer(func(_ net.Conn, p protocol.Packet) []protocol.Packet {
		return []protocol.Packet{{ID: p.ID, Type: protocol.TypeResponseValue, Body: "echo " + p.Body}}
	})
	c := New(testOptions(), WithDialer(srv))
	defer c.Close()

	var wg sync.WaitGroup
	for _, cmd := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		cmd := cmd
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := c.Exec(context.Background(), cmd)
			assert.NoError(t, err)
			assert.Equal(t, "echo "+cmd, got)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), srv.dials.Load())
}

func TestServerCloseRejectsPending(t *testing.T) {
	srv := newFakeServer(func(conn net.Conn, p protocol.Packet) []protocol.Packet {
		if p.Body == "stop" {
			conn.Close()
		}
		return nil
	})
	c := New(testOptions(), WithDialer(srv))
	defer c.Close()

	var mu sync.Mutex
	var observed []Stats
	c.ObserveStats(func(s Stats) {
		mu.Lock()
		observed = append(observed, s)
		mu.Unlock()
	})

	_, err := c.Exec(context.Background(), "stop")
	assert.ErrorIs(t, err, ErrTCPConnectionClosed)

	require.Eventually(t, func() bool { return c.State() == events.StateDisconnected }, time.Second, 5*time.Millisecond)
	assert.False(t, c.Stats().IsConnected)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(observed) == 2
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.True(t, observed[0].IsConnected)
	assert.False(t, observed[1].IsConnected)
	mu.Unlock()
}

func TestDisconnectRejectsPendingAndResetsIDs(t *testing.T) {
	sc := newScriptedDialer(func(conn *scriptedConn, p protocol.Packet) {
		if p.Body == "hang" {
			return
		}
		conn.reply(p.ID, protocol.TypeResponseValue, "ok")
	})
	c := New(testOptions(), WithDialer(sc))
	defer c.Close()

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Exec(context.Background(), "hang")
		errCh <- err
	}()

	require.Eventually(t, func() bool { return len(sc.current().packets()) == 2 }, time.Second, 5*time.Millisecond)
	c.Disconnect()
	c.Disconnect()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrTCPConnectionClosed)
	case <-time.After(time.Second):
		t.Fatal("pending request was not rejected")
	}
	assert.True(t, sc.current().isClosed())

	_, err := c.Exec(context.Background(), "list")
	require.NoError(t, err)
	assert.Equal(t, 2, sc.count())

	ids := []int32{}
	for _, p := range sc.current().packets() {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []int32{0, 1}, ids)
}

func TestTransportErrorRejectsPending(t *testing.T) {
	reset := errors.New("connection reset by peer")
	sc := newScriptedDialer(func(conn *scriptedConn, p protocol.Packet) {
		conn.fail(reset)
	})
	c := New(testOptions(), WithDialer(sc))
	defer c.Close()

	_, err := c.Exec(context.Background(), "list")
	assert.ErrorIs(t, err, ErrTCPConnection)
	assert.ErrorIs(t, err, reset)
	assert.Equal(t, events.StateDisconnected, c.State())
	assert.True(t, sc.current().isClosed())
}

func TestFragmentedAndCoalescedReplies(t *testing.T) {
	sc := newScriptedDialer(func(conn *scriptedConn, p protocol.Packet) {
		switch p.Body {
		case "bytewise":
			frame := protocol.Serialize(protocol.Packet{ID: p.ID, Type: protocol.TypeResponseValue, Body: "slow reply"})
			for i := range frame {
				conn.deliver(frame[i : i+1])
			}
		case "double":
			// A stray reply for an unknown id followed by the real one in one chunk.
			stray := protocol.Serialize(protocol.Packet{ID: 999, Type: protocol.TypeResponseValue, Body: "stray"})
			real := protocol.Serialize(protocol.Packet{ID: p.ID, Type: protocol.TypeResponseValue, Body: "real"})
			conn.deliver(append(stray, real...))
		}
	})
	c := New(testOptions(), WithDialer(sc))
	defer c.Close()

	got, err := c.Exec(context.Background(), "bytewise")
	require.NoError(t, err)
	assert.Equal(t, "slow reply", got)

	got, err = c.Exec(context.Background(), "double")
	require.NoError(t, err)
	assert.Equal(t, "real", got)
}

func TestMalformedLengthDropsConnection(t *testing.T) {
	sc := newScriptedDialer(func(conn *scriptedConn, p protocol.Packet) {
		conn.deliver([]byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x00})
	})
	c := New(testOptions(), WithDialer(sc))
	defer c.Close()

	_, err := c.Exec(context.Background(), "list")
	assert.ErrorIs(t, err, ErrTCPConnection)
	assert.ErrorIs(t, err, protocol.ErrMalformedPacket)
	assert.Equal(t, events.StateDisconnected, c.State())
}

func TestAuthFailureByAliasID(t *testing.T) {
	sc := newScriptedDialer(nil)
	sc.auth = func(conn *scriptedConn, p protocol.Packet) {
		conn.reply(p.ID, protocol.TypeResponseValue, "")
		conn.reply(protocol.AuthFailedID, protocol.TypeAuthResponse, "")
	}
	c := New(testOptions(), WithDialer(sc))
	defer c.Close()

	err := c.Connect(context.Background())
	assert.ErrorIs(t, err, ErrInvalidPassword)
	assert.True(t, sc.current().isClosed())
}

func TestStatsOnlyAdvanceForNewerReplies(t *testing.T) {
	var held []protocol.Packet
	var mu sync.Mutex
	sc := newScriptedDialer(func(conn *scriptedConn, p protocol.Packet) {
		mu.Lock()
		held = append(held, p)
		ready := len(held) == 2
		mu.Unlock()
		if !ready {
			return
		}
		// Answer the newer request first.
		conn.reply(held[1].ID, protocol.TypeResponseValue, held[1].Body)
		time.Sleep(20 * time.Millisecond)
		conn.reply(held[0].ID, protocol.TypeResponseValue, held[0].Body)
	})
	c := New(testOptions(), WithDialer(sc))
	defer c.Close()
	require.NoError(t, c.Connect(context.Background()))

	var obsMu sync.Mutex
	var observed []Stats
	c.ObserveStats(func(s Stats) {
		obsMu.Lock()
		observed = append(observed, s)
		obsMu.Unlock()
	})

	var wg sync.WaitGroup
	for _, cmd := range []string{"older", "newer"} {
		cmd := cmd
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Exec(context.Background(), cmd)
			assert.NoError(t, err)
		}()
		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(held) >= 1
		}, time.Second, time.Millisecond)
	}
	wg.Wait()

	time.Sleep(20 * time.Millisecond)
	obsMu.Lock()
	defer obsMu.Unlock()
	require.Len(t, observed, 1)
	assert.Equal(t, observed[0].LastResponseAt, c.Stats().LastResponseAt)
}

func TestObserveStatsUnsubscribe(t *testing.T) {
	srv := newFakeServer(echo("ok"))
	c := New(testOptions(), WithDialer(srv))
	defer c.Close()

	calls := atomic.Int32{}
	unsubscribe := c.ObserveStats(func(Stats) { calls.Add(1) })
	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, int32(1), calls.Load())

	unsubscribe()
	unsubscribe()
	c.Disconnect()
	assert.Equal(t, int32(1), calls.Load())
}

func TestSharedBusKeepsObserversSeparate(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Stop()

	a := New(testOptions(), WithDialer(newFakeServer(echo("a"))), WithEventBus(bus))
	b := New(testOptions(), WithDialer(newFakeServer(echo("b"))), WithEventBus(bus))
	defer a.Close()
	defer b.Close()

	var aCalls, bCalls atomic.Int32
	a.ObserveStats(func(Stats) { aCalls.Add(1) })
	b.ObserveStats(func(Stats) { bCalls.Add(1) })

	require.NoError(t, a.Connect(context.Background()))
	assert.Equal(t, int32(1), aCalls.Load())
	assert.Zero(t, bCalls.Load())
}

func TestCloseDisposesOnce(t *testing.T) {
	srv := newFakeServer(echo("ok"))
	c := New(testOptions(), WithDialer(srv))

	disconnects := atomic.Int32{}
	c.ObserveStats(func(s Stats) {
		if !s.IsConnected {
			disconnects.Add(1)
		}
	})

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.Equal(t, int32(1), disconnects.Load())
	assert.Equal(t, events.StateDisconnected, c.State())

	_, err := c.Exec(context.Background(), "list")
	assert.ErrorIs(t, err, ErrClientClosed)
	assert.ErrorIs(t, c.Connect(context.Background()), ErrClientClosed)
	assert.Equal(t, int32(1), srv.dials.Load())
}

func TestDialFailure(t *testing.T) {
	refused := errors.New("connection refused")
	c := New(testOptions(), WithDialer(transport.DialerFunc(func(context.Context, string, int) (transport.Conn, error) {
		return nil, refused
	})))
	defer c.Close()

	err := c.Connect(context.Background())
	assert.ErrorIs(t, err, ErrTCPConnectionOpen)
	assert.ErrorIs(t, err, refused)
	assert.Equal(t, events.StateDisconnected, c.State())
}

func TestDialTimeout(t *testing.T) {
	opts := testOptions()
	opts.Timeout = 30 * time.Millisecond
	c := New(opts, WithDialer(transport.DialerFunc(func(ctx context.Context, _ string, _ int) (transport.Conn, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})))
	defer c.Close()

	err := c.Connect(context.Background())
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestAllocateIDWraps(t *testing.T) {
	c := New(testOptions())
	defer c.Close()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID = math.MaxInt32
	c.requests[0] = &pending{id: 0, result: make(chan result, 1)}

	assert.Equal(t, int32(math.MaxInt32), c.allocateIDLocked())
	assert.Equal(t, int32(1), c.allocateIDLocked())
	delete(c.requests, 0)
}

func TestStatsAdvanceAcrossIDWrap(t *testing.T) {
	sc := newScriptedDialer(func(conn *scriptedConn, p protocol.Packet) {
		conn.reply(p.ID, protocol.TypeResponseValue, "ok")
	})
	c := New(testOptions(), WithDialer(sc))
	defer c.Close()
	require.NoError(t, c.Connect(context.Background()))

	var calls atomic.Int32
	c.ObserveStats(func(Stats) { calls.Add(1) })

	c.mu.Lock()
	c.nextID = math.MaxInt32
	c.mu.Unlock()

	for i := 0; i < 3; i++ {
		_, err := c.Exec(context.Background(), "list")
		require.NoError(t, err)
	}
	// Observers run after the reply is handed to Exec.
	require.Eventually(t, func() bool { return calls.Load() == 3 }, time.Second, 5*time.Millisecond)

	var ids []int32
	for _, p := range sc.current().packets()[1:] {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []int32{math.MaxInt32, 0, 1}, ids)
}

func TestHandshakeDoesNotTouchStats(t *testing.T) {
	srv := newFakeServer(echo("ok"))
	c := New(testOptions(), WithDialer(srv))
	defer c.Close()

	require.NoError(t, c.Connect(context.Background()))
	stats := c.Stats()
	assert.True(t, stats.IsConnected)
	assert.True(t, stats.LastResponseAt.IsZero())
	assert.Zero(t, stats.LastResponseLatency)

	_, err := c.Exec(context.Background(), "list")
	require.NoError(t, err)
	assert.False(t, c.Stats().LastResponseAt.IsZero())
}

func TestWriteFailureDropsConnection(t *testing.T) {
	broken := errors.New("broken pipe")
	sc := newScriptedDialer(nil)
	c := New(testOptions(), WithDialer(sc))
	defer c.Close()
	require.NoError(t, c.Connect(context.Background()))

	pendingErr := make(chan error, 1)
	go func() {
		_, err := c.Exec(context.Background(), "hang")
		pendingErr <- err
	}()
	require.Eventually(t, func() bool { return len(sc.current().packets()) == 2 }, time.Second, 5*time.Millisecond)

	sc.current().breakWrites(broken)
	_, err := c.Exec(context.Background(), "list")
	assert.ErrorIs(t, err, ErrTCPWrite)
	assert.ErrorIs(t, err, broken)
	assert.Equal(t, events.StateDisconnected, c.State())
	assert.True(t, sc.current().isClosed())

	select {
	case err := <-pendingErr:
		assert.ErrorIs(t, err, ErrTCPWrite)
	case <-time.After(time.Second):
		t.Fatal("pending request was not rejected")
	}
}

func TestOptionsMerge(t *testing.T) {
	base := Options{Host: "a", Port: 1, Password: "p", Timeout: time.Second}
	Options{Port: 2}.merge(&base)
	assert.Equal(t, Options{Host: "a", Port: 2, Password: "p", Timeout: time.Second}, base)
	assert.Equal(t, "a:2", base.Address())
}
