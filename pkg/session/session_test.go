package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwillem/nfconsole/pkg/clock"
	"github.com/gwillem/nfconsole/pkg/monitoring"
	"github.com/gwillem/nfconsole/pkg/wire"
)

func init() {
	monitoring.SetLogger(nil)
}

type fakeConn struct {
	in       chan []byte
	closeErr chan error
	out      chan []byte
	closed   chan struct{}
	once     sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:       make(chan []byte, 8),
		closeErr: make(chan error, 1),
		out:      make(chan []byte, 64),
		closed:   make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case b := <-c.in:
		return b, nil
	case err := <-c.closeErr:
		return nil, err
	case <-c.closed:
		return nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	select {
	case c.out <- data:
		return nil
	case <-c.closed:
		return errors.New("closed")
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

type dialResult struct {
	conn *fakeConn
	err  error
}

type fakeTransport struct {
	mu      sync.Mutex
	results []dialResult
	urls    []string
}

func (t *fakeTransport) queue(r dialResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.results = append(t.results, r)
}

func (t *fakeTransport) Dial(_ context.Context, url string) (Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.urls = append(t.urls, url)
	if len(t.results) == 0 {
		return nil, errors.New("no route to host")
	}
	r := t.results[0]
	t.results = t.results[1:]
	if r.err != nil {
		return nil, r.err
	}
	return r.conn, nil
}

func (t *fakeTransport) dials() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.urls)
}

type recorder struct {
	online  []bool
	auth    []string
	states  []State
	pos     []*wire.PosEstimate
	popups  []string
	batches int
}

func (r *recorder) hooks() *Hooks {
	return &Hooks{
		Online:      func(v bool) { r.online = append(r.online, v) },
		AuthFailed:  func(reason string) { r.auth = append(r.auth, reason) },
		StateChange: func(s State) { r.states = append(r.states, s) },
		PosEstimate: func(p *wire.PosEstimate) { r.pos = append(r.pos, p) },
		Popup:       func(p *wire.Popup) { r.popups = append(r.popups, p.Message) },
		Batch:       func(*wire.TelemetryBatch) { r.batches++ },
	}
}

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func nextEvent(t *testing.T, s *Session) Event {
	t.Helper()
	select {
	case ev := <-s.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no session event")
		return Event{}
	}
}

func noEvent(t *testing.T, s *Session) {
	t.Helper()
	select {
	case ev := <-s.Events():
		t.Fatalf("unexpected event kind %d", ev.kind)
	case <-time.After(20 * time.Millisecond):
	}
}

func simTarget() Target { return Target{Mode: ModeSim, Host: "localhost:8080", RobotID: "sim"} }

func openSession(t *testing.T, target Target, r *recorder, clk clock.Clock) (*Session, *fakeTransport, *fakeConn) {
	t.Helper()
	tr := &fakeTransport{}
	conn := newFakeConn()
	tr.queue(dialResult{conn: conn})

	s := New(target, tr, r.hooks(), WithClock(clk))
	s.Connect(context.Background())
	require.Equal(t, Connecting, s.State())
	s.Process(nextEvent(t, s))
	require.Equal(t, Open, s.State())
	return s, tr, conn
}

func telemetry(updates ...wire.Update) []byte {
	batch := wire.TelemetryBatch{RobotID: "sim"}
	for _, u := range updates {
		batch.Updates = append(batch.Updates, wire.TelemetryItem{Update: u})
	}
	return wire.MarshalTelemetry(batch)
}

func TestSession_OpenGoesOnlineInSimMode(t *testing.T) {
	r := &recorder{}
	s, tr, _ := openSession(t, simTarget(), r, clock.NewMock(epoch))
	defer s.Close()

	assert.Equal(t, []bool{true}, r.online)
	assert.Equal(t, []State{Connecting, Open}, r.states)
	assert.Equal(t, []string{"ws://localhost:8080/sim"}, tr.urls)
}

func TestSession_CloudWaitsForUplinkStatus(t *testing.T) {
	r := &recorder{}
	target := Target{Mode: ModeCloud, Host: "relay.example", RobotID: "r1", Token: "t"}
	s, _, conn := openSession(t, target, r, clock.NewMock(epoch))
	defer s.Close()
	assert.Empty(t, r.online)

	conn.in <- telemetry(&wire.UplinkStatus{Online: true})
	s.Process(nextEvent(t, s))
	assert.Equal(t, []bool{true}, r.online)
}

func TestSession_DispatchesInOrder(t *testing.T) {
	r := &recorder{}
	s, _, conn := openSession(t, simTarget(), r, clock.NewMock(epoch))
	defer s.Close()

	conn.in <- telemetry(
		&wire.Popup{Message: "first"},
		&wire.PosEstimate{GantryPosition: wire.Vec3{X: 1, Y: 2, Z: 0.5}},
		nil,
		&wire.Popup{Message: "second"},
		&wire.GripperSensors{Range: 0.25},
	)
	s.Process(nextEvent(t, s))

	assert.Equal(t, []string{"first", "second"}, r.popups)
	require.Len(t, r.pos, 1)
	assert.Equal(t, wire.Vec3{X: 1, Y: 2, Z: 0.5}, r.pos[0].GantryPosition)
	assert.Equal(t, 1, r.batches)
}

func TestSession_MalformedBatchIsolated(t *testing.T) {
	r := &recorder{}
	s, _, conn := openSession(t, simTarget(), r, clock.NewMock(epoch))
	defer s.Close()

	conn.in <- []byte{0xff, 0xff, 0xff}
	conn.in <- telemetry(&wire.Popup{Message: "after"})
	s.Process(nextEvent(t, s))
	s.Process(nextEvent(t, s))

	assert.Equal(t, []string{"after"}, r.popups)
	assert.Equal(t, 1, r.batches)
	assert.Equal(t, Open, s.State())
}

func TestSession_AuthFailureIsTerminal(t *testing.T) {
	r := &recorder{}
	clk := clock.NewMock(epoch)
	s, tr, conn := openSession(t, simTarget(), r, clk)
	defer s.Close()

	conn.closeErr <- &CloseError{Code: ClosePolicyViolation, Reason: "bad token"}
	s.Process(nextEvent(t, s))

	assert.Equal(t, AuthFailed, s.State())
	assert.ErrorIs(t, s.Err(), ErrAuthFailed)
	assert.Equal(t, []string{"bad token"}, r.auth)
	assert.Equal(t, []bool{true, false}, r.online)
	assert.Zero(t, clk.PendingTimers())
	assert.True(t, conn.isClosed())

	clk.Advance(time.Minute)
	noEvent(t, s)
	assert.Equal(t, 1, tr.dials())
	assert.False(t, s.Send(wire.ControlBatch{}))
}

func TestSession_OtherCloseReconnectsOnce(t *testing.T) {
	r := &recorder{}
	clk := clock.NewMock(epoch)
	s, tr, conn := openSession(t, simTarget(), r, clk)
	defer s.Close()

	next := newFakeConn()
	tr.queue(dialResult{conn: next})

	conn.closeErr <- &CloseError{Code: 1001, Reason: "going away"}
	s.Process(nextEvent(t, s))
	assert.Equal(t, Closed, s.State())
	assert.Equal(t, []bool{true, false}, r.online)
	assert.Equal(t, 1, clk.PendingTimers())
	assert.Nil(t, s.Err())

	clk.Advance(time.Second)
	noEvent(t, s)

	clk.Advance(time.Second)
	s.Process(nextEvent(t, s)) // reconnect timer
	assert.Equal(t, Connecting, s.State())

	s.Process(nextEvent(t, s)) // open
	assert.Equal(t, Open, s.State())
	assert.Equal(t, 2, tr.dials())
	assert.Equal(t, tr.urls[0], tr.urls[1])
	assert.Zero(t, clk.PendingTimers())
}

func TestSession_DialFailureCountsAsClose(t *testing.T) {
	r := &recorder{}
	clk := clock.NewMock(epoch)
	tr := &fakeTransport{}
	s := New(simTarget(), tr, r.hooks(), WithClock(clk), WithReconnectDelay(5*time.Second))
	defer s.Close()

	s.Connect(context.Background())
	s.Process(nextEvent(t, s))
	assert.Equal(t, Closed, s.State())
	assert.Equal(t, 1, clk.PendingTimers())

	clk.Advance(5 * time.Second)
	s.Process(nextEvent(t, s))
	s.Process(nextEvent(t, s))
	assert.Equal(t, Closed, s.State())
	assert.Equal(t, 2, tr.dials())
}

func TestSession_DialRejectedIsAuthFailure(t *testing.T) {
	r := &recorder{}
	clk := clock.NewMock(epoch)
	tr := &fakeTransport{}
	tr.queue(dialResult{err: &CloseError{Code: ClosePolicyViolation, Reason: "403 Forbidden"}})
	s := New(simTarget(), tr, r.hooks(), WithClock(clk))
	defer s.Close()

	s.Connect(context.Background())
	s.Process(nextEvent(t, s))
	assert.Equal(t, AuthFailed, s.State())
	assert.Zero(t, clk.PendingTimers())
}

func TestSession_SendWritesBatch(t *testing.T) {
	r := &recorder{}
	tr := &fakeTransport{}
	s := New(simTarget(), tr, r.hooks(), WithClock(clock.NewMock(epoch)))
	defer s.Close()

	assert.False(t, s.Send(wire.ControlBatch{}), "idle")

	conn := newFakeConn()
	tr.queue(dialResult{conn: conn})
	s.Connect(context.Background())
	assert.False(t, s.Send(wire.ControlBatch{}), "connecting")
	s.Process(nextEvent(t, s))

	require.True(t, s.Send(wire.ControlBatch{Items: []wire.ControlItem{
		&wire.CommandItem{Name: wire.CommandStopAll},
	}}))

	select {
	case data := <-conn.out:
		got, err := wire.UnmarshalControl(data)
		require.NoError(t, err)
		assert.Equal(t, "sim", got.RobotID)
		require.Len(t, got.Items, 1)
		assert.Equal(t, &wire.CommandItem{Name: wire.CommandStopAll}, got.Items[0])
	case <-time.After(2 * time.Second):
		t.Fatal("nothing written")
	}
}

func TestSession_SendDropsWhenBufferFull(t *testing.T) {
	r := &recorder{}
	s, _, _ := openSession(t, simTarget(), r, clock.NewMock(epoch))
	defer s.Close()

	// swap in a link without a writer so the buffer cannot drain
	s.link.detach()
	s.link = &link{
		gen:  s.gen,
		conn: newFakeConn(),
		out:  make(chan []byte, OutboundBuffer),
		done: make(chan struct{}),
	}

	for range OutboundBuffer {
		require.True(t, s.Send(wire.ControlBatch{}))
	}
	assert.False(t, s.Send(wire.ControlBatch{}))
}

func TestSession_StaleLinkIgnored(t *testing.T) {
	r := &recorder{}
	tr := &fakeTransport{}
	first, second := newFakeConn(), newFakeConn()
	tr.queue(dialResult{conn: first})
	tr.queue(dialResult{conn: second})

	s := New(simTarget(), tr, r.hooks(), WithClock(clock.NewMock(epoch)))
	defer s.Close()

	s.Connect(context.Background())
	ev1 := nextEvent(t, s)
	s.Connect(context.Background())
	ev2 := nextEvent(t, s)

	s.Process(ev1)
	assert.Equal(t, Connecting, s.State())
	assert.True(t, ev1.conn.(*fakeConn).isClosed())

	s.Process(ev2)
	assert.Equal(t, Open, s.State())

	// a late close from a detached link changes nothing
	s.Process(Event{kind: evClose, gen: ev1.gen, code: CloseAbnormal})
	assert.Equal(t, Open, s.State())
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	r := &recorder{}
	clk := clock.NewMock(epoch)
	s, tr, conn := openSession(t, simTarget(), r, clk)

	conn.closeErr <- errors.New("reset by peer")
	s.Process(nextEvent(t, s))
	require.Equal(t, 1, clk.PendingTimers())

	s.Close()
	s.Close()
	assert.Equal(t, Closed, s.State())
	assert.Zero(t, clk.PendingTimers())

	clk.Advance(time.Minute)
	assert.Equal(t, 1, tr.dials())

	s.Connect(context.Background())
	assert.Equal(t, 1, tr.dials())
	assert.False(t, s.Send(wire.ControlBatch{}))
}

func TestTarget_URL(t *testing.T) {
	tests := []struct {
		name    string
		target  Target
		want    string
		wantErr bool
	}{
		{"local", Target{Mode: ModeLocal, Host: "192.168.1.5", RobotID: "nf-1"}, "ws://192.168.1.5:4245/telemetry/nf-1", false},
		{"sim", Target{Mode: ModeSim, Host: "localhost:8080"}, "ws://localhost:8080/sim", false},
		{"sim secure", Target{Mode: ModeSim, Host: "sim.example", Secure: true}, "wss://sim.example/sim", false},
		{"cloud", Target{Mode: ModeCloud, Host: "relay.example", RobotID: "nf-1", Token: "a b&c"}, "wss://relay.example/telemetry/nf-1?token=a+b%26c", false},
		{"no host", Target{Mode: ModeSim}, "", true},
		{"cloud without robot", Target{Mode: ModeCloud, Host: "relay.example"}, "", true},
		{"bad mode", Target{Mode: Mode(9), Host: "x"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.target.URL()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseMode(t *testing.T) {
	for _, m := range []Mode{ModeLocal, ModeSim, ModeCloud} {
		got, err := ParseMode(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	_, err := ParseMode("lan")
	assert.Error(t, err)
}

func TestCloseCode(t *testing.T) {
	code, _ := closeCode(&CloseError{Code: 1008})
	assert.Equal(t, ClosePolicyViolation, code)

	code, _ = closeCode(errors.New("eof"))
	assert.Equal(t, CloseAbnormal, code)
}
