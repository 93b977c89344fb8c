package board

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/colspan/wiiboard-simple/internal/calibration"
	"github.com/colspan/wiiboard-simple/internal/protocol"
)

// receiveLoop reads and handles frames in arrival order until stop closes or
// the transport fails.
func (s *Session) receiveLoop(store *calibration.Store, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		raw, err := s.transport.Receive(s.opts.ReceiveSize)
		select {
		case <-stop:
			return
		default:
		}
		if err != nil {
			s.fail(err)
			return
		}
		s.handle(raw, store, stop)
	}
}

// fail ends the session after a transport error. Disconnect owns the
// transition if it has already started.
func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.status != Connected {
		s.mu.Unlock()
		return
	}
	s.status = Disconnected
	s.mu.Unlock()

	slog.Warn("[BOARD] receive failed, disconnecting", "error", err)
	if cerr := s.transport.Close(); cerr != nil {
		slog.Warn("[BOARD] close transport", "error", cerr)
	}
	s.opts.Metrics.SetConnected(false)
	// the loop exits after this, so it can wait for a slow consumer
	s.emitWithin(Event{Type: EventDisconnected}, s.opts.DisconnectTimeout)
}

func (s *Session) handle(raw []byte, store *calibration.Store, stop <-chan struct{}) {
	frame, err := protocol.Decode(raw)
	if err != nil {
		s.opts.Metrics.IncDecodeError()
		s.decodeWarn.Do(func() {
			slog.Warn("[BOARD] dropping frame", "error", err, "frame", fmt.Sprintf("% x", raw))
		})
		return
	}
	s.opts.Metrics.IncFrame(frame.Type().String())

	switch f := frame.(type) {
	case *protocol.MassFrame:
		s.handleMass(f, store, stop)

	case *protocol.StatusFrame:
		s.mu.Lock()
		s.battery, s.hasBatt = f.Battery, true
		s.mu.Unlock()
		slog.Debug("[BOARD] status report", "battery", f.Battery)
		// the board falls back to button-only reports after a status push
		if err := s.send(protocol.EnableReporting()); err != nil {
			slog.Warn("[BOARD] re-enable reporting", "error", err)
		}

	case *protocol.ReadDataFrame:
		if !store.Pending() {
			slog.Debug("[BOARD] unsolicited read data", "offset", f.Offset, "size", f.Size)
			return
		}
		if f.Err != 0 {
			store.Abort()
			slog.Warn("[BOARD] calibration read failed, readings stay uncalibrated", "code", f.Err, "offset", f.Offset)
			return
		}
		if err := store.Apply(f.Payload); err != nil {
			s.opts.Metrics.IncDecodeError()
			slog.Warn("[BOARD] bad calibration chunk, readings stay uncalibrated", "error", err)
			return
		}
		if f.Final() && store.Complete() {
			m := store.Matrix()
			slog.Info("[BOARD] calibration received", "fingerprint", m.Fingerprint())
		}

	case *protocol.AckFrame:
		slog.Debug("[BOARD] write acknowledged", "report", fmt.Sprintf("0x%02x", byte(f.Report)))
	}
}

func (s *Session) handleMass(f *protocol.MassFrame, store *calibration.Store, stop <-chan struct{}) {
	s.mu.Lock()
	pressed, released := s.buttons.Update(f.Buttons)
	s.mu.Unlock()
	if pressed {
		s.emit(Event{Type: EventButtonPressed}, stop)
	}
	if released {
		s.emit(Event{Type: EventButtonReleased}, stop)
	}

	ev, err := calcMassEvent(store.Matrix(), f)
	if err != nil {
		for _, pad := range ev.FailedPads {
			s.opts.Metrics.IncCalibrationError(pad.String())
		}
		s.calibrationWarn.Do(func() {
			slog.Warn("[BOARD] pads left out of mass report", "pads", ev.FailedPads, "error", err)
		})
	}

	s.mu.Lock()
	s.last = ev
	s.mu.Unlock()
	s.opts.Metrics.SetTotalWeight(ev.Total)
	s.emit(Event{Type: EventMass, Mass: ev}, stop)
}

// calcMassEvent converts every pad it can. Pads whose calibration is unusable
// read 0, are listed in FailedPads and have their errors joined.
func calcMassEvent(m calibration.Matrix, f *protocol.MassFrame) (MassEvent, error) {
	var (
		kg     [calibration.NumPads]float64
		failed []calibration.Pad
		errs   []error
	)
	for pad := calibration.Pad(0); pad < calibration.NumPads; pad++ {
		v, err := calibration.CalcMass(m, f.Raw[pad], pad)
		if err != nil {
			failed = append(failed, pad)
			errs = append(errs, err)
			continue
		}
		kg[pad] = v
	}
	ev := newMassEvent(
		kg[calibration.TopLeft],
		kg[calibration.TopRight],
		kg[calibration.BottomLeft],
		kg[calibration.BottomRight],
	)
	ev.FailedPads = failed
	ev.ButtonDown = f.Buttons.Down()
	ev.Time = time.Now()
	return ev, errors.Join(errs...)
}
