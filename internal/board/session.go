// Package board drives a balance board session: the connection handshake,
// calibration download and the receive loop that turns input reports into
// events.
package board

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/colspan/wiiboard-simple/internal/calibration"
	"github.com/colspan/wiiboard-simple/internal/metrics"
	"github.com/colspan/wiiboard-simple/internal/protocol"
	"github.com/colspan/wiiboard-simple/internal/transport"
)

var (
	// ErrConnection is returned when the transport cannot be opened or the
	// handshake cannot be sent.
	ErrConnection = errors.New("board: connection failed")
	// ErrNotConnected is returned by commands issued outside Connected.
	ErrNotConnected = errors.New("board: not connected")
	// ErrDisconnectTimeout is returned when the receive loop does not stop
	// within Options.DisconnectTimeout. The session is disconnected anyway.
	ErrDisconnectTimeout = errors.New("board: timed out waiting for receive loop")
	// ErrLoopRunning is returned by Connect while the receive loop of an
	// earlier connection, abandoned by a timed-out Disconnect, has not exited.
	ErrLoopRunning = errors.New("board: previous receive loop still running")
)

const warnInterval = 5 * time.Second

// Options configures a Session.
type Options struct {
	EventBuffer       int           // capacity of the Events channel
	DisconnectTimeout time.Duration // how long Disconnect waits for the receive loop
	ReceiveSize       int           // max bytes per Receive
	Metrics           *metrics.Metrics
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		EventBuffer:       64,
		DisconnectTimeout: 2 * time.Second,
		ReceiveSize:       transport.DefaultReceiveSize,
	}
}

// Session manages one board over a Transport.
type Session struct {
	transport transport.Transport
	opts      Options
	events    chan Event

	mu      sync.Mutex
	status  Status
	address string
	store   *calibration.Store
	buttons protocol.ButtonTracker
	last    MassEvent
	light   bool
	battery byte
	hasBatt bool
	stop    chan struct{}
	done    chan struct{}

	// per-frame warnings are logged at most once per interval; the metrics
	// still count every occurrence
	decodeWarn      rate.Sometimes
	calibrationWarn rate.Sometimes
}

// New creates a disconnected session.
func New(t transport.Transport, opts Options) *Session {
	def := DefaultOptions()
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = def.EventBuffer
	}
	if opts.DisconnectTimeout <= 0 {
		opts.DisconnectTimeout = def.DisconnectTimeout
	}
	if opts.ReceiveSize <= 0 {
		opts.ReceiveSize = def.ReceiveSize
	}
	return &Session{
		transport:       t,
		opts:            opts,
		events:          make(chan Event, opts.EventBuffer),
		store:           calibration.NewStore(),
		decodeWarn:      rate.Sometimes{Interval: warnInterval},
		calibrationWarn: rate.Sometimes{Interval: warnInterval},
	}
}

// Events returns the channel events are delivered on. It is never closed; a
// Disconnected event marks the end of a connection.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Connect opens the transport, starts the receive loop and runs the
// handshake: request calibration, enable the extension, enable continuous
// reporting.
func (s *Session) Connect(ctx context.Context, address string) error {
	s.mu.Lock()
	if s.status != Disconnected {
		status := s.status
		s.mu.Unlock()
		return fmt.Errorf("board: connect: session is %s", status)
	}
	if s.done != nil {
		select {
		case <-s.done:
		default:
			s.mu.Unlock()
			return ErrLoopRunning
		}
	}
	s.status = Connecting
	s.mu.Unlock()

	if err := s.transport.Connect(ctx, address); err != nil {
		s.setStatus(Disconnected)
		return fmt.Errorf("%w: %s: %w", ErrConnection, address, err)
	}

	store := calibration.NewStore()
	stop, done := make(chan struct{}), make(chan struct{})
	s.mu.Lock()
	s.status = Connected
	s.address = address
	s.store = store
	s.buttons = protocol.ButtonTracker{}
	s.last = MassEvent{}
	s.hasBatt = false
	s.stop, s.done = stop, done
	s.mu.Unlock()

	s.opts.Metrics.SetConnected(true)
	slog.Info("[BOARD] connected", "address", address)
	s.emit(Event{Type: EventConnected}, stop)

	store.BeginRequest()
	go s.receiveLoop(store, stop, done)

	for _, cmd := range []protocol.Command{
		protocol.ReadCalibration(),
		protocol.RegisterExtension(),
		protocol.EnableReporting(),
	} {
		if err := s.send(cmd); err != nil {
			_ = s.Disconnect()
			return fmt.Errorf("%w: handshake: %w", ErrConnection, err)
		}
	}
	return nil
}

// Disconnect stops the receive loop and closes the transport. It is a no-op
// unless the session is connected. After ErrDisconnectTimeout, Connect fails
// with ErrLoopRunning until the abandoned loop has returned.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	if s.status != Connected {
		s.mu.Unlock()
		return nil
	}
	s.status = Disconnecting
	stop, done := s.stop, s.done
	s.mu.Unlock()

	close(stop)
	closeErr := s.transport.Close()
	if closeErr != nil {
		slog.Warn("[BOARD] close transport", "error", closeErr)
	}

	var err error
	select {
	case <-done:
	case <-time.After(s.opts.DisconnectTimeout):
		slog.Warn("[BOARD] receive loop did not stop", "timeout", s.opts.DisconnectTimeout)
		err = ErrDisconnectTimeout
	}

	s.setStatus(Disconnected)
	s.opts.Metrics.SetConnected(false)
	slog.Info("[BOARD] disconnected")
	s.emitFinal(Event{Type: EventDisconnected})
	return errors.Join(err, closeErr)
}

// SetLight switches the power-button LED.
func (s *Session) SetLight(on bool) error {
	if err := s.send(protocol.SetLight(on)); err != nil {
		return err
	}
	s.mu.Lock()
	s.light = on
	s.mu.Unlock()
	return nil
}

// Light returns the last LED state set through SetLight.
func (s *Session) Light() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.light
}

// RequestStatus asks the board for a status report. The reply updates
// Battery and re-enables reporting.
func (s *Session) RequestStatus() error {
	return s.send(protocol.RequestStatus())
}

// Battery returns the raw battery level from the last status report.
func (s *Session) Battery() (byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.battery, s.hasBatt
}

// LastEvent returns the most recent mass report.
func (s *Session) LastEvent() MassEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Calibration returns the current calibration matrix and whether all of it
// has been received.
func (s *Session) Calibration() (calibration.Matrix, bool) {
	s.mu.Lock()
	store := s.store
	s.mu.Unlock()
	return store.Matrix(), store.Complete()
}

// CalibrationPending reports whether the calibration read is still
// outstanding. A read that ended without completing leaves both this and the
// complete flag of Calibration false.
func (s *Session) CalibrationPending() bool {
	s.mu.Lock()
	store := s.store
	s.mu.Unlock()
	return store.Pending()
}

// Status returns the connection state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// IsConnected reports whether the session is connected.
func (s *Session) IsConnected() bool {
	return s.Status() == Connected
}

func (s *Session) setStatus(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// send encodes cmd and writes it to the control channel.
func (s *Session) send(cmd protocol.Command) error {
	if !s.IsConnected() {
		return ErrNotConnected
	}
	buf, err := protocol.Encode(cmd)
	if err != nil {
		return err
	}
	if err := s.transport.Send(buf); err != nil {
		return fmt.Errorf("board: send: %w", err)
	}
	return nil
}

// emit delivers ev unless stop closes first, in which case ev is dropped.
func (s *Session) emit(ev Event, stop <-chan struct{}) {
	select {
	case s.events <- ev:
		return
	default:
	}
	select {
	case s.events <- ev:
	case <-stop:
		s.dropped(ev)
	}
}

// emitWithin waits up to timeout for the consumer to take ev.
func (s *Session) emitWithin(ev Event, timeout time.Duration) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case s.events <- ev:
	case <-t.C:
		s.dropped(ev)
	}
}

// emitFinal delivers ev only if the channel has room.
func (s *Session) emitFinal(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.dropped(ev)
	}
}

func (s *Session) dropped(ev Event) {
	s.opts.Metrics.IncEventsDropped()
	slog.Warn("[BOARD] event dropped, consumer not reading", "event", ev.Type)
}
