package board

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colspan/wiiboard-simple/internal/calibration"
	"github.com/colspan/wiiboard-simple/internal/metrics"
)

const testAddress = "00:26:59:7B:7F:5F"

func testOptions() Options {
	opts := DefaultOptions()
	opts.DisconnectTimeout = 500 * time.Millisecond
	return opts
}

// connectSession returns a connected session and consumes the Connected event.
func connectSession(t *testing.T, m *mockTransport, opts Options) *Session {
	t.Helper()
	s := New(m, opts)
	require.NoError(t, s.Connect(context.Background(), testAddress))
	ev := nextEvent(t, s)
	require.Equal(t, EventConnected, ev.Type)
	t.Cleanup(func() {
		_ = s.Disconnect()
		m.fail()
	})
	return s
}

func nextEvent(t *testing.T, s *Session) Event {
	t.Helper()
	select {
	case ev := <-s.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

// nextEventOf skips events of other types.
func nextEventOf(t *testing.T, s *Session, typ EventType) Event {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-s.Events():
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", typ)
			return Event{}
		}
	}
}

func assertNoEvent(t *testing.T, s *Session) {
	t.Helper()
	select {
	case ev := <-s.Events():
		t.Errorf("unexpected %s event", ev.Type)
	default:
	}
}

func TestConnectHandshake(t *testing.T) {
	m := newMockTransport()
	s := connectSession(t, m, testOptions())

	assert.True(t, s.IsConnected())
	assert.Equal(t, testAddress, m.connectAddr)

	sent := m.sentFrames()
	require.Len(t, sent, 3)
	assert.Equal(t, []byte{0x52, 0x17, 0x04, 0xa4, 0x00, 0x24, 0x00, 0x18}, sent[0], "calibration read")
	assert.Equal(t, []byte{0x52, 0x16, 0x04, 0xa4, 0x00, 0x40, 0x00}, sent[1], "extension register")
	assert.Equal(t, []byte{0x52, 0x12, 0x04, 0x32}, sent[2], "continuous reporting")
}

func TestConnectFailure(t *testing.T) {
	m := newMockTransport()
	m.connectErr = errors.New("host is down")
	s := New(m, testOptions())

	err := s.Connect(context.Background(), testAddress)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnection)
	assert.Equal(t, Disconnected, s.Status())
	assert.Empty(t, m.sentFrames())
	assertNoEvent(t, s)
}

func TestConnectWhileConnected(t *testing.T) {
	m := newMockTransport()
	s := connectSession(t, m, testOptions())

	err := s.Connect(context.Background(), testAddress)
	assert.Error(t, err)
	assert.True(t, s.IsConnected())
}

func TestHandshakeSendFailure(t *testing.T) {
	m := newMockTransport()
	m.sendErr = errors.New("broken pipe")
	s := New(m, testOptions())

	err := s.Connect(context.Background(), testAddress)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnection)
	assert.Equal(t, Disconnected, s.Status())
	assert.Equal(t, EventConnected, nextEvent(t, s).Type)
	assert.Equal(t, EventDisconnected, nextEvent(t, s).Type)
}

func TestMassReport(t *testing.T) {
	m := newMockTransport()
	s := connectSession(t, m, testOptions())

	// 0/17/34 kg at raw 0/1700/3400: one raw unit is 10 g
	first, second := calibrationFrames(0, 1700, 3400)
	m.push(first)
	m.push(second)
	m.push(massFrame(0, 1000, 500, 2000, 500))

	ev := nextEventOf(t, s, EventMass)
	assert.InDelta(t, 20.0, ev.Mass.TopLeft, 1e-9)
	assert.InDelta(t, 10.0, ev.Mass.TopRight, 1e-9)
	assert.InDelta(t, 5.0, ev.Mass.BottomLeft, 1e-9)
	assert.InDelta(t, 5.0, ev.Mass.BottomRight, 1e-9)
	assert.InDelta(t, 40.0, ev.Mass.Total, 1e-9)
	assert.False(t, ev.Mass.ButtonDown)
	assert.Equal(t, ev.Mass, s.LastEvent())

	matrix, complete := s.Calibration()
	assert.True(t, complete)
	assert.Equal(t, uint16(1700), matrix[1][calibration.TopLeft])
}

func TestUncalibratedMassClampsToZero(t *testing.T) {
	m := newMockTransport()
	s := connectSession(t, m, testOptions())

	m.push(massFrame(0, 500, 500, 500, 500))

	ev := nextEventOf(t, s, EventMass)
	assert.Zero(t, ev.Mass.Total)
	_, complete := s.Calibration()
	assert.False(t, complete)
}

func TestButtonEdges(t *testing.T) {
	m := newMockTransport()
	s := connectSession(t, m, testOptions())

	for _, b := range []uint16{0x08, 0x08, 0x08, 0x00, 0x00} {
		m.push(massFrame(b, 0, 0, 0, 0))
	}

	var types []EventType
	for len(types) < 7 {
		types = append(types, nextEvent(t, s).Type)
	}
	assert.Equal(t, []EventType{
		EventButtonPressed, EventMass,
		EventMass,
		EventMass,
		EventButtonReleased, EventMass,
		EventMass,
	}, types)
	assertNoEvent(t, s)
}

func TestStatusReenablesReporting(t *testing.T) {
	m := newMockTransport()
	s := connectSession(t, m, testOptions())

	_, ok := s.Battery()
	assert.False(t, ok)

	m.push(statusFrame(0xc0))

	require.Eventually(t, func() bool { return len(m.sentFrames()) == 4 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []byte{0x52, 0x12, 0x04, 0x32}, m.sentFrames()[3])

	battery, ok := s.Battery()
	assert.True(t, ok)
	assert.Equal(t, byte(0xc0), battery)
}

func TestRequestStatus(t *testing.T) {
	m := newMockTransport()
	s := connectSession(t, m, testOptions())

	require.NoError(t, s.RequestStatus())
	sent := m.sentFrames()
	assert.Equal(t, []byte{0x52, 0x15, 0x00}, sent[len(sent)-1])
}

func TestSetLight(t *testing.T) {
	m := newMockTransport()
	s := connectSession(t, m, testOptions())

	require.NoError(t, s.SetLight(true))
	assert.True(t, s.Light())
	sent := m.sentFrames()
	assert.Equal(t, []byte{0x52, 0x11, 0x10}, sent[len(sent)-1])

	require.NoError(t, s.SetLight(false))
	assert.False(t, s.Light())
}

func TestCommandsRejectedWhenDisconnected(t *testing.T) {
	m := newMockTransport()
	s := New(m, testOptions())

	assert.ErrorIs(t, s.SetLight(true), ErrNotConnected)
	assert.ErrorIs(t, s.RequestStatus(), ErrNotConnected)
	assert.False(t, s.Light())
	assert.Empty(t, m.sentFrames())
}

func TestDisconnect(t *testing.T) {
	m := newMockTransport()
	s := connectSession(t, m, testOptions())

	require.NoError(t, s.Disconnect())
	assert.Equal(t, Disconnected, s.Status())
	assert.Equal(t, 1, m.closes())
	assert.Equal(t, EventDisconnected, nextEventOf(t, s, EventDisconnected).Type)

	// second call is a no-op
	require.NoError(t, s.Disconnect())
	assert.Equal(t, 1, m.closes())
	assertNoEvent(t, s)

	assert.ErrorIs(t, s.SetLight(true), ErrNotConnected)
}

func TestDisconnectTimeout(t *testing.T) {
	m := newMockTransport()
	m.ignoreClose = true
	opts := testOptions()
	opts.DisconnectTimeout = 20 * time.Millisecond
	s := connectSession(t, m, opts)

	err := s.Disconnect()
	assert.ErrorIs(t, err, ErrDisconnectTimeout)
	assert.Equal(t, Disconnected, s.Status())
	assert.Equal(t, 1, m.closes())
	assert.Equal(t, EventDisconnected, nextEvent(t, s).Type)
}

func TestTransportFailureDisconnects(t *testing.T) {
	m := newMockTransport()
	s := connectSession(t, m, testOptions())

	m.fail()

	assert.Equal(t, EventDisconnected, nextEvent(t, s).Type)
	assert.Equal(t, Disconnected, s.Status())
	assert.Equal(t, 1, m.closes())
	require.NoError(t, s.Disconnect())
}

func TestDecodeErrorDoesNotStopLoop(t *testing.T) {
	reg := prometheus.NewRegistry()
	opts := testOptions()
	opts.Metrics = metrics.New(reg)
	m := newMockTransport()
	s := connectSession(t, m, opts)

	m.push([]byte{0xa1, 0x32, 0x00})
	m.push(massFrame(0, 0, 0, 0, 0))

	nextEventOf(t, s, EventMass)
	assert.True(t, s.IsConnected())
	assert.Equal(t, 1.0, testutil.ToFloat64(opts.Metrics.DecodeErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(opts.Metrics.Frames.WithLabelValues("extension")))
}

func TestCalibrationErrorLeavesOutFailingPad(t *testing.T) {
	reg := prometheus.NewRegistry()
	opts := testOptions()
	opts.Metrics = metrics.New(reg)
	m := newMockTransport()
	s := connectSession(t, m, opts)

	// columns in register order: top right, bottom right, top left, bottom left
	matrix := calibration.Matrix{
		{0, 0, 1000, 0},
		{1700, 1700, 1000, 1700},
		{3400, 3400, 3000, 3400},
	}
	first, second := matrixFrames(matrix)
	m.push(first)
	m.push(second)
	m.push(massFrame(0, 1000, 500, 2000, 500))

	ev := nextEventOf(t, s, EventMass)
	assert.Equal(t, []calibration.Pad{calibration.TopLeft}, ev.Mass.FailedPads)
	assert.Zero(t, ev.Mass.TopLeft)
	assert.InDelta(t, 10.0, ev.Mass.TopRight, 1e-9)
	assert.InDelta(t, 5.0, ev.Mass.BottomLeft, 1e-9)
	assert.InDelta(t, 5.0, ev.Mass.BottomRight, 1e-9)
	assert.InDelta(t, 20.0, ev.Mass.Total, 1e-9)
	assert.Equal(t, ev.Mass, s.LastEvent())

	assert.Equal(t, 1.0, testutil.ToFloat64(opts.Metrics.CalibrationErrors.WithLabelValues("top_left")))
	assert.Equal(t, 0.0, testutil.ToFloat64(opts.Metrics.CalibrationErrors.WithLabelValues("top_right")))
	assert.True(t, s.IsConnected())
}

func TestCalibrationReadErrorEndsRead(t *testing.T) {
	m := newMockTransport()
	s := connectSession(t, m, testOptions())
	require.True(t, s.CalibrationPending())

	first, _ := calibrationFrames(0, 1700, 3400)
	first[4] |= 0x08 // error code in the low nibble
	m.push(first)

	require.Eventually(t, func() bool { return !s.CalibrationPending() }, time.Second, 5*time.Millisecond)
	_, complete := s.Calibration()
	assert.False(t, complete)

	// readings carry on against the sentinel matrix
	m.push(massFrame(0, 500, 500, 500, 500))
	ev := nextEventOf(t, s, EventMass)
	assert.Zero(t, ev.Mass.Total)
	assert.Empty(t, ev.Mass.FailedPads)
}

func TestShortFinalCalibrationChunkEndsRead(t *testing.T) {
	reg := prometheus.NewRegistry()
	opts := testOptions()
	opts.Metrics = metrics.New(reg)
	m := newMockTransport()
	s := connectSession(t, m, opts)

	first, _ := calibrationFrames(0, 1700, 3400)
	m.push(first)
	m.push(readDataFrame(0x0034, []byte{0x0d, 0x48, 0x0d}))

	require.Eventually(t, func() bool { return !s.CalibrationPending() }, time.Second, 5*time.Millisecond)
	_, complete := s.Calibration()
	assert.False(t, complete)
	assert.Equal(t, 1.0, testutil.ToFloat64(opts.Metrics.DecodeErrors))
}

func TestTransportFailureWithFullBuffer(t *testing.T) {
	reg := prometheus.NewRegistry()
	opts := testOptions()
	opts.EventBuffer = 4
	opts.Metrics = metrics.New(reg)
	m := newMockTransport()
	s := connectSession(t, m, opts)

	for i := 0; i < 4; i++ {
		m.push(massFrame(0, 0, 0, 0, 0))
	}
	require.Eventually(t, func() bool { return len(s.Events()) == 4 }, time.Second, 5*time.Millisecond)

	m.fail()
	require.Eventually(t, func() bool { return s.Status() == Disconnected }, time.Second, 5*time.Millisecond)

	for i := 0; i < 4; i++ {
		assert.Equal(t, EventMass, nextEvent(t, s).Type)
	}
	assert.Equal(t, EventDisconnected, nextEvent(t, s).Type)
	assert.Equal(t, 0.0, testutil.ToFloat64(opts.Metrics.EventsDropped))
}

func TestConnectWaitsForAbandonedLoop(t *testing.T) {
	m := newMockTransport()
	m.ignoreClose = true
	opts := testOptions()
	opts.DisconnectTimeout = 20 * time.Millisecond
	s := connectSession(t, m, opts)

	require.ErrorIs(t, s.Disconnect(), ErrDisconnectTimeout)
	assert.Equal(t, EventDisconnected, nextEvent(t, s).Type)

	err := s.Connect(context.Background(), testAddress)
	assert.ErrorIs(t, err, ErrLoopRunning)
	assert.Equal(t, Disconnected, s.Status())

	// the old loop takes this frame, sees its stop signal and returns
	// without handling it
	m.push(statusFrame(0x80))
	require.Eventually(t, func() bool {
		return s.Connect(context.Background(), testAddress) == nil
	}, time.Second, 5*time.Millisecond)

	assert.True(t, s.IsConnected())
	_, ok := s.Battery()
	assert.False(t, ok)
	assert.True(t, s.CalibrationPending())
}

func TestUnsolicitedReadDataIgnored(t *testing.T) {
	m := newMockTransport()
	s := connectSession(t, m, testOptions())

	first, second := calibrationFrames(0, 1700, 3400)
	m.push(first)
	m.push(second)
	again, _ := calibrationFrames(9, 9, 9)
	m.push(again)
	m.push(statusFrame(0x80))

	require.Eventually(t, func() bool {
		_, ok := s.Battery()
		return ok
	}, time.Second, 5*time.Millisecond)

	matrix, complete := s.Calibration()
	assert.True(t, complete)
	assert.Equal(t, uint16(1700), matrix[1][calibration.BottomLeft])
}

func TestMassEventSides(t *testing.T) {
	ev := newMassEvent(20, 10, 5, 5)
	assert.Equal(t, 25.0, ev.Left())
	assert.Equal(t, 15.0, ev.Right())
	assert.Equal(t, 40.0, ev.Total)
}
