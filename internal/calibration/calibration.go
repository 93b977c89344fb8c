// Package calibration holds the board's factory calibration and converts raw
// load-cell readings to kilograms.
package calibration

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/blake2b"

	"github.com/colspan/wiiboard-simple/internal/protocol"
)

// Pad indexes a load cell. The order matches the calibration registers and the
// extension report, not the reading order of the names.
type Pad int

const (
	TopRight    Pad = protocol.SensorTopRight
	BottomRight Pad = protocol.SensorBottomRight
	TopLeft     Pad = protocol.SensorTopLeft
	BottomLeft  Pad = protocol.SensorBottomLeft
	NumPads         = protocol.NumSensors
)

func (p Pad) String() string {
	switch p {
	case TopRight:
		return "top_right"
	case BottomRight:
		return "bottom_right"
	case TopLeft:
		return "top_left"
	case BottomLeft:
		return "bottom_left"
	default:
		return fmt.Sprintf("pad(%d)", int(p))
	}
}

// Reference weights, in kg, for the three calibration rows.
var ReferenceKg = [3]float64{0, 17, 34}

// Sentinel fills every cell until calibration arrives, high enough that idle
// readings never register as mass.
const Sentinel = 10000

// Matrix is the calibration table: Matrix[row][pad] is the raw reading at
// ReferenceKg[row].
type Matrix [3][NumPads]uint16

// NewMatrix returns a matrix filled with Sentinel.
func NewMatrix() Matrix {
	var m Matrix
	for i := range m {
		for j := range m[i] {
			m[i][j] = Sentinel
		}
	}
	return m
}

var (
	// ErrCalibration is wrapped by *Error.
	ErrCalibration = errors.New("calibration: degenerate reference points")
	// ErrShortPayload reports a final calibration chunk with fewer than 8 bytes.
	ErrShortPayload = errors.New("calibration: short payload")
)

// Error describes a pad whose reference points do not strictly increase, which
// leaves its mass undefined.
type Error struct {
	Pad    Pad
	Points [3]uint16
}

func (e *Error) Error() string {
	return fmt.Sprintf("calibration: pad %s has non-increasing reference points %v", e.Pad, e.Points)
}

func (e *Error) Unwrap() error { return ErrCalibration }

// CalcMass interpolates raw linearly between the pad's reference points.
// Readings below the 0 kg point clamp to 0; readings above the 34 kg point
// extrapolate along the upper segment.
func CalcMass(m Matrix, raw uint16, pad Pad) (float64, error) {
	if pad < 0 || pad >= NumPads {
		return 0, fmt.Errorf("calibration: pad index %d out of range", int(pad))
	}
	c0, c1, c2 := m[0][pad], m[1][pad], m[2][pad]
	if raw < c0 {
		return 0, nil
	}
	if c1 <= c0 || c2 <= c1 {
		return 0, &Error{Pad: pad, Points: [3]uint16{c0, c1, c2}}
	}

	r := float64(raw)
	switch {
	case raw < c1:
		return ReferenceKg[1] * (r - float64(c0)) / float64(c1-c0), nil
	case raw == c1:
		return ReferenceKg[1], nil
	default:
		return ReferenceKg[1] + (ReferenceKg[2]-ReferenceKg[1])*(r-float64(c1))/float64(c2-c1), nil
	}
}

// Store assembles the matrix from read-data chunks. It is safe for concurrent
// use.
type Store struct {
	mu       sync.Mutex
	matrix   Matrix
	pending  bool
	complete bool
}

// NewStore returns a store holding a sentinel matrix.
func NewStore() *Store {
	return &Store{matrix: NewMatrix()}
}

// BeginRequest marks a calibration read as outstanding. The caller sends
// protocol.ReadCalibration.
func (s *Store) BeginRequest() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = true
}

// Pending reports whether a calibration read is outstanding.
func (s *Store) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Complete reports whether all three rows have been received.
func (s *Store) Complete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.complete
}

// Apply stores one chunk of a calibration read. A full 16-byte chunk holds
// rows 0 and 1; a shorter chunk holds row 2 and ends the read, even if it is
// too short to use. Chunks that arrive while no read is pending are ignored.
func (s *Store) Apply(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.pending {
		return nil
	}

	if len(payload) == protocol.MaxReadSize {
		for row := 0; row < 2; row++ {
			for pad := 0; pad < NumPads; pad++ {
				i := 2 * (row*NumPads + pad)
				s.matrix[row][pad] = binary.BigEndian.Uint16(payload[i:])
			}
		}
		return nil
	}

	// the final chunk ends the read even when it is unusable
	s.pending = false
	if len(payload) < 2*NumPads {
		return fmt.Errorf("%w: row 2 needs %d bytes, got %d", ErrShortPayload, 2*NumPads, len(payload))
	}
	for pad := 0; pad < NumPads; pad++ {
		s.matrix[2][pad] = binary.BigEndian.Uint16(payload[2*pad:])
	}
	s.complete = true
	return nil
}

// Abort ends an outstanding read without completing the matrix, for a read
// the board answered with an error code.
func (s *Store) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = false
}

// Matrix returns a copy of the current matrix.
func (s *Store) Matrix() Matrix {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.matrix
}

// Mass converts raw using the current matrix.
func (s *Store) Mass(raw uint16, pad Pad) (float64, error) {
	return CalcMass(s.Matrix(), raw, pad)
}

// Fingerprint returns a short digest of the matrix. Two boards almost never
// share one, so it identifies the board in logs.
func (m Matrix) Fingerprint() string {
	var buf [3 * NumPads * 2]byte
	for row := range m {
		for pad := range m[row] {
			binary.BigEndian.PutUint16(buf[2*(row*NumPads+pad):], m[row][pad])
		}
	}
	h, _ := blake2b.New(16, nil)
	h.Write(buf[:])
	return hex.EncodeToString(h.Sum(nil))
}
