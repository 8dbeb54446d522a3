// Package session maintains the telemetry link to the robot: it dials,
// decodes inbound batches into typed hooks, sends control batches and
// reconnects after non-auth closes.
//
// A Session is confined to one goroutine. Network goroutines only post
// Events; the owner feeds them back through Process.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gwillem/nfconsole/pkg/clock"
	"github.com/gwillem/nfconsole/pkg/monitoring"
	"github.com/gwillem/nfconsole/pkg/wire"
)

// DefaultReconnectDelay is the pause between a lost link and the next dial.
// OutboundBuffer bounds queued control batches; Send drops beyond it.
const (
	DefaultReconnectDelay = 2 * time.Second
	OutboundBuffer        = 32
	eventBuffer           = 64
)

// ErrAuthFailed is returned by Err once the robot rejected the credentials.
var ErrAuthFailed = errors.New("authentication failed")

// State is the link lifecycle.
type State int

// Link states, in lifecycle order.
const (
	Idle State = iota
	Connecting
	Open
	Closed
	AuthFailed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closed:
		return "closed"
	case AuthFailed:
		return "auth failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Hooks receive decoded telemetry. Each update is delivered to exactly one
// typed hook; nil hooks are skipped.
type Hooks struct {
	PosEstimate         func(*wire.PosEstimate)
	AnchorPoses         func(*wire.AnchorPoses)
	GantrySightings     func(*wire.GantrySightings)
	TargetList          func(*wire.TargetList)
	VideoReady          func(*wire.VideoReady)
	UplinkStatus        func(*wire.UplinkStatus)
	ComponentConnStatus func(*wire.ComponentConnStatus)
	Popup               func(*wire.Popup)
	Progress            func(*wire.Progress)
	GripperSensors      func(*wire.GripperSensors)
	GripperPredictions  func(*wire.GripperPredictions)
	NamedObjectPosition func(*wire.NamedObjectPosition)
	PositionFactors     func(*wire.PositionFactors)
	CommandedVelocity   func(*wire.CommandedVelocity)

	// Batch sees every decoded batch before its items are dispatched.
	Batch func(*wire.TelemetryBatch)

	Online      func(bool)
	AuthFailed  func(reason string)
	StateChange func(State)
}

type eventKind int

const (
	evOpen eventKind = iota
	evMessage
	evClose
	evReconnect
)

// Event is produced by the session's background goroutines. Pass it to
// Process on the owning goroutine.
type Event struct {
	kind   eventKind
	gen    uint64
	conn   Conn
	data   []byte
	code   int
	reason string
}

type link struct {
	gen  uint64
	conn Conn
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func (l *link) detach() {
	l.once.Do(func() {
		close(l.done)
		_ = l.conn.Close()
	})
}

type pendingReconnect struct {
	timer clock.Timer
	stop  chan struct{}
}

// Option configures a Session.
type Option func(*Session)

// WithClock replaces the wall clock, for tests.
func WithClock(c clock.Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithReconnectDelay sets the wait between a close and the next dial.
func WithReconnectDelay(d time.Duration) Option {
	return func(s *Session) { s.reconnectDelay = d }
}

// Session is a reconnecting telemetry link.
type Session struct {
	target         Target
	transport      Transport
	hooks          *Hooks
	clock          clock.Clock
	reconnectDelay time.Duration

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once

	ctx       context.Context
	state     State
	gen       uint64
	link      *link
	reconnect *pendingReconnect
	closed    bool
}

// New returns an idle session. Call Connect to dial.
func New(target Target, transport Transport, hooks *Hooks, opts ...Option) *Session {
	if hooks == nil {
		hooks = &Hooks{}
	}
	s := &Session{
		target:         target,
		transport:      transport,
		hooks:          hooks,
		clock:          clock.Real{},
		reconnectDelay: DefaultReconnectDelay,
		events:         make(chan Event, eventBuffer),
		done:           make(chan struct{}),
		ctx:            context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Events delivers link events for Process.
func (s *Session) Events() <-chan Event { return s.events }

// State returns the current lifecycle state.
func (s *Session) State() State { return s.state }

// Target returns the endpoint this session dials.
func (s *Session) Target() Target { return s.target }

// Err reports ErrAuthFailed after a policy-violation close.
func (s *Session) Err() error {
	if s.state == AuthFailed {
		return ErrAuthFailed
	}
	return nil
}

// Connect drops any current link and dials again in the background. Events
// of the old link are ignored from here on.
func (s *Session) Connect(ctx context.Context) {
	if s.closed {
		return
	}
	s.ctx = ctx
	s.detach()
	s.stopReconnect()

	s.gen++
	gen := s.gen
	s.setState(Connecting)

	go func() {
		url, err := s.target.URL()
		if err != nil {
			s.post(nil, Event{kind: evClose, gen: gen, code: CloseAbnormal, reason: err.Error()})
			return
		}
		conn, err := s.transport.Dial(ctx, url)
		if err != nil {
			code, reason := closeCode(err)
			s.post(nil, Event{kind: evClose, gen: gen, code: code, reason: reason})
			return
		}
		if !s.post(nil, Event{kind: evOpen, gen: gen, conn: conn}) {
			_ = conn.Close()
		}
	}()
}

// Process applies one event. It must run on the goroutine that owns the
// session.
func (s *Session) Process(ev Event) {
	if s.closed {
		if ev.kind == evOpen {
			_ = ev.conn.Close()
		}
		return
	}

	switch ev.kind {
	case evOpen:
		if ev.gen != s.gen || s.state != Connecting {
			_ = ev.conn.Close()
			return
		}
		s.link = s.startLink(ev.gen, ev.conn)
		s.setState(Open)
		if s.target.Mode != ModeCloud {
			s.online(true)
		}

	case evMessage:
		if s.link == nil || ev.gen != s.link.gen {
			return
		}
		s.dispatch(ev.data)

	case evClose:
		if ev.gen != s.gen || (s.state != Connecting && s.state != Open) {
			return
		}
		s.detach()
		if ev.code == ClosePolicyViolation {
			monitoring.Logf("[session] rejected: %s", ev.reason)
			s.setState(AuthFailed)
			s.online(false)
			if s.hooks.AuthFailed != nil {
				s.hooks.AuthFailed(ev.reason)
			}
			return
		}
		monitoring.Logf("[session] closed (%d %s), retrying in %v", ev.code, ev.reason, s.reconnectDelay)
		s.setState(Closed)
		s.online(false)
		s.scheduleReconnect()

	case evReconnect:
		if ev.gen != s.gen || s.state != Closed {
			return
		}
		s.reconnect = nil
		s.Connect(s.ctx)
	}
}

// Send queues a control batch. It reports false, without error, when the
// link is not open or its outbound buffer is full. An empty RobotID is
// filled from the target.
func (s *Session) Send(batch wire.ControlBatch) bool {
	if s.state != Open || s.link == nil {
		return false
	}
	if batch.RobotID == "" {
		batch.RobotID = s.target.RobotID
	}
	select {
	case s.link.out <- wire.MarshalControl(batch):
		return true
	default:
		return false
	}
}

// Close stops reconnecting and closes the link. It is safe to call more
// than once.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.stopReconnect()
	s.detach()
	s.closeOnce.Do(func() { close(s.done) })
	if s.state != AuthFailed {
		s.setState(Closed)
	}
}

func (s *Session) setState(st State) {
	if s.state == st {
		return
	}
	s.state = st
	if s.hooks.StateChange != nil {
		s.hooks.StateChange(st)
	}
}

func (s *Session) online(v bool) {
	if s.hooks.Online != nil {
		s.hooks.Online(v)
	}
}

func (s *Session) detach() {
	if s.link != nil {
		s.link.detach()
		s.link = nil
	}
}

func (s *Session) scheduleReconnect() {
	if s.reconnect != nil {
		return
	}
	r := &pendingReconnect{timer: s.clock.NewTimer(s.reconnectDelay), stop: make(chan struct{})}
	s.reconnect = r
	gen := s.gen
	go func() {
		select {
		case <-r.timer.C():
			s.post(nil, Event{kind: evReconnect, gen: gen})
		case <-r.stop:
		case <-s.done:
		}
	}()
}

func (s *Session) stopReconnect() {
	if s.reconnect == nil {
		return
	}
	s.reconnect.timer.Stop()
	close(s.reconnect.stop)
	s.reconnect = nil
}

// post delivers ev unless the session, or the link l if set, is gone.
func (s *Session) post(l *link, ev Event) bool {
	var linkDone <-chan struct{}
	if l != nil {
		linkDone = l.done
	}
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	case <-linkDone:
		return false
	}
}

func (s *Session) startLink(gen uint64, conn Conn) *link {
	l := &link{
		gen:  gen,
		conn: conn,
		out:  make(chan []byte, OutboundBuffer),
		done: make(chan struct{}),
	}
	go s.readLoop(l)
	go writeLoop(l)
	return l
}

func (s *Session) readLoop(l *link) {
	for {
		data, err := l.conn.ReadMessage()
		if err != nil {
			code, reason := closeCode(err)
			s.post(l, Event{kind: evClose, gen: l.gen, code: code, reason: reason})
			return
		}
		if !s.post(l, Event{kind: evMessage, gen: l.gen, data: data}) {
			return
		}
	}
}

func writeLoop(l *link) {
	for {
		select {
		case <-l.done:
			return
		case data := <-l.out:
			if err := l.conn.WriteMessage(data); err != nil {
				monitoring.Logf("[session] write: %v", err)
				// the reader sees the close and reports it
				_ = l.conn.Close()
				return
			}
		}
	}
}

func (s *Session) dispatch(data []byte) {
	batch, err := wire.UnmarshalTelemetry(data)
	if err != nil {
		monitoring.Logf("[session] dropping batch: %v", err)
		return
	}
	if s.hooks.Batch != nil {
		s.hooks.Batch(&batch)
	}
	h := s.hooks
	for _, it := range batch.Updates {
		switch u := it.Update.(type) {
		case *wire.PosEstimate:
			call(h.PosEstimate, u)
		case *wire.AnchorPoses:
			call(h.AnchorPoses, u)
		case *wire.GantrySightings:
			call(h.GantrySightings, u)
		case *wire.TargetList:
			call(h.TargetList, u)
		case *wire.VideoReady:
			call(h.VideoReady, u)
		case *wire.UplinkStatus:
			call(h.UplinkStatus, u)
			if s.target.Mode == ModeCloud {
				s.online(u.Online)
			}
		case *wire.ComponentConnStatus:
			call(h.ComponentConnStatus, u)
		case *wire.Popup:
			call(h.Popup, u)
		case *wire.Progress:
			call(h.Progress, u)
		case *wire.GripperSensors:
			call(h.GripperSensors, u)
		case *wire.GripperPredictions:
			call(h.GripperPredictions, u)
		case *wire.NamedObjectPosition:
			call(h.NamedObjectPosition, u)
		case *wire.PositionFactors:
			call(h.PositionFactors, u)
		case *wire.CommandedVelocity:
			call(h.CommandedVelocity, u)
		}
	}
}

func call[T any](fn func(T), v T) {
	if fn != nil {
		fn(v)
	}
}
